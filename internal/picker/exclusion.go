package picker

import "github.com/gossipcore/gossip/internal/gossiptype"

// exclusionSeconds maps a RelayConnectionReason to the duration a relay
// that just failed under that reason is excluded from picking, per
// spec.md §4.5 "Reassignment on relay failure". Follow and DM windows
// are the longest; ReadThread's is shorter than the 60-second default.
var exclusionSeconds = map[gossiptype.RelayConnectionReason]int64{
	gossiptype.ReasonFollow:              300,
	gossiptype.ReasonFetchDirectMessages: 300,
	gossiptype.ReasonConfig:              60,
	gossiptype.ReasonDiscovery:           120,
	gossiptype.ReasonReadThread:          30,
}

const defaultExclusionSeconds = 60

// ExclusionWindowFor returns how long, starting now, a relay should be
// excluded from the next Pick after failing while serving reason.
func ExclusionWindowFor(reason gossiptype.RelayConnectionReason) int64 {
	if secs, ok := exclusionSeconds[reason]; ok {
		return secs
	}
	return defaultExclusionSeconds
}

// ExclusionSet tracks relays currently serving out a failure-exclusion
// window, as a deadline per relay url. It holds no authors: their `need`
// is restored by rerunning the picker without the excluded relay.
type ExclusionSet struct {
	until map[gossiptype.RelayUrl]int64
}

func NewExclusionSet() *ExclusionSet {
	return &ExclusionSet{until: make(map[gossiptype.RelayUrl]int64)}
}

// Exclude starts an exclusion window for url ending at now+window.
func (es *ExclusionSet) Exclude(url gossiptype.RelayUrl, now, window int64) {
	es.until[url] = now + window
}

// AsOf returns the set of relays still excluded at time now, suitable
// for Snapshot.Excluded.
func (es *ExclusionSet) AsOf(now int64) map[gossiptype.RelayUrl]bool {
	out := make(map[gossiptype.RelayUrl]bool)
	for url, until := range es.until {
		if now < until {
			out[url] = true
		} else {
			delete(es.until, url)
		}
	}
	return out
}
