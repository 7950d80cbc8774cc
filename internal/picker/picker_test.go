package picker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gossipcore/gossip/internal/gossiptype"
)

func relayMap(urls ...gossiptype.RelayUrl) map[gossiptype.RelayUrl]gossiptype.RelayRecord {
	m := make(map[gossiptype.RelayUrl]gossiptype.RelayRecord)
	for _, u := range urls {
		m[u] = gossiptype.RelayRecord{Url: u, Rank: 3}
	}
	return m
}

// S1 — picker covers two authors from one relay.
func TestPickCoversTwoAuthorsFromOneRelay(t *testing.T) {
	snap := Snapshot{
		Now:     1000,
		Authors: []gossiptype.PublicKey{"A", "B"},
		Assocs: []gossiptype.PersonRelayAssoc{
			{PubKey: "A", Url: "wss://r1", Write: true},
			{PubKey: "B", Url: "wss://r1", Write: true},
			{PubKey: "A", Url: "wss://r2", Write: true},
			{PubKey: "B", Url: "wss://r3", Write: true},
		},
		Relays:    relayMap("wss://r1", "wss://r2", "wss://r3"),
		Direction: DirectionWrite,
		Config:    Config{NumRelaysPerPerson: 1, MaxTotalRelays: 1, PerRelayAuthorCap: 10},
	}
	result := Pick(snap)
	require.Equal(t, []gossiptype.RelayUrl{"wss://r1"}, result.Chosen)
	require.Empty(t, result.Uncovered)
}

// S2 — tie-break by failure_count.
func TestPickTieBreaksByFailureCount(t *testing.T) {
	relays := relayMap("wss://r1", "wss://r2")
	r1 := relays["wss://r1"]
	r1.FailureCount = 5
	relays["wss://r1"] = r1
	r2 := relays["wss://r2"]
	r2.FailureCount = 1
	relays["wss://r2"] = r2

	snap := Snapshot{
		Now:     1000,
		Authors: []gossiptype.PublicKey{"A"},
		Assocs: []gossiptype.PersonRelayAssoc{
			{PubKey: "A", Url: "wss://r1", Write: true},
			{PubKey: "A", Url: "wss://r2", Write: true},
		},
		Relays:    relays,
		Direction: DirectionWrite,
		Config:    Config{NumRelaysPerPerson: 1, MaxTotalRelays: 1, PerRelayAuthorCap: 10},
	}
	result := Pick(snap)
	require.Contains(t, result.Chosen, gossiptype.RelayUrl("wss://r2"))
}

// Testable Property 4 — determinism: two invocations of the same
// snapshot produce equal (set-equal) output.
func TestPickIsDeterministic(t *testing.T) {
	snap := Snapshot{
		Now:     5000,
		Authors: []gossiptype.PublicKey{"A", "B", "C"},
		Assocs: []gossiptype.PersonRelayAssoc{
			{PubKey: "A", Url: "wss://r1", Write: true, LastFetched: 4000},
			{PubKey: "B", Url: "wss://r1", Write: true},
			{PubKey: "C", Url: "wss://r2", Write: true},
			{PubKey: "A", Url: "wss://r3", Write: true},
		},
		Relays:    relayMap("wss://r1", "wss://r2", "wss://r3"),
		Direction: DirectionWrite,
		Config:    Config{NumRelaysPerPerson: 1, MaxTotalRelays: 2, PerRelayAuthorCap: 10},
	}
	first := Pick(snap)
	second := Pick(snap)
	require.ElementsMatch(t, first.Chosen, second.Chosen)
	require.Equal(t, first.Uncovered, second.Uncovered)
}

// Testable Property 5 — soundness of termination: uncovered authors
// have no reachable relay with positive association_rank left outside
// the chosen set, because the only relay they can reach was excluded.
func TestPickReportsUncoveredWhenNoEligibleRelay(t *testing.T) {
	snap := Snapshot{
		Now:       1000,
		Authors:   []gossiptype.PublicKey{"A"},
		Assocs:    []gossiptype.PersonRelayAssoc{{PubKey: "A", Url: "wss://r1", Write: true}},
		Relays:    relayMap("wss://r1"),
		Excluded:  map[gossiptype.RelayUrl]bool{"wss://r1": true},
		Direction: DirectionWrite,
		Config:    Config{NumRelaysPerPerson: 1, MaxTotalRelays: 5, PerRelayAuthorCap: 10},
	}
	result := Pick(snap)
	require.Empty(t, result.Chosen)
	require.Equal(t, []gossiptype.PublicKey{"A"}, result.Uncovered)
}

func TestExclusionSetExpiresWindows(t *testing.T) {
	es := NewExclusionSet()
	es.Exclude("wss://r1", 1000, 60)
	require.True(t, es.AsOf(1030)["wss://r1"])
	require.False(t, es.AsOf(1070)["wss://r1"])
}
