package gossiptype

import (
	"fmt"
	"net/url"
	"strings"
)

// RelayUrl is a normalized wss/ws relay URL: case-folded host, path kept.
type RelayUrl string

// NormalizeRelayUrl implements spec.md §3's RelayUrl normalization: lower
// the scheme and host, keep the path, strip a trailing slash so
// "wss://Relay.Example/" and "wss://relay.example" compare equal.
func NormalizeRelayUrl(raw string) (RelayUrl, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUrlError, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "":
		return "", fmt.Errorf("%w: missing scheme in %q", ErrUrlError, raw)
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrUrlError, u.Scheme)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.Fragment = ""
	return RelayUrl(u.String()), nil
}

// UsageBit is one flag in RelayRecord.Usage, per spec.md §3.
type UsageBit uint32

const (
	UsageRead UsageBit = 1 << iota
	UsageWrite
	UsageInbox
	UsageOutbox
	UsageDiscover
	UsageSearch
	UsageSpamSafe
	UsageDM
	UsageGlobal
	UsageAdvertise
)

// RelayRecord is the persisted per-relay bookkeeping row.
type RelayRecord struct {
	Url               RelayUrl
	Usage             UsageBit
	Rank              int // 0-9
	SuccessCount      uint64
	FailureCount      uint64
	LastConnectedAt   int64
	LastGeneralEoseAt int64
	Hidden            bool
	Nip11Document     []byte // raw JSON, parsed lazily by callers
	LastAttemptNip11  int64
}

func (r RelayRecord) Has(bit UsageBit) bool { return r.Usage&bit != 0 }

func DefaultRelayRecord(url RelayUrl) RelayRecord {
	return RelayRecord{Url: url, Rank: 3}
}

// PersonRecord is the persisted per-pubkey bookkeeping row.
type PersonRecord struct {
	PubKey                PublicKey
	MetadataJSON          []byte
	MetadataCreatedAt     int64
	Nip05                 string
	Nip05Valid            bool
	Nip05LastChecked      int64
	RelayListCreatedAt    int64
	RelayListLastReceived int64
}

// PersonRelayAssoc is the cross-table that powers the Relay Picker
// (spec.md §3/§4.5).
type PersonRelayAssoc struct {
	PubKey        PublicKey
	Url           RelayUrl
	Read          bool
	Write         bool
	DM            bool
	LastFetched   int64
	LastSuggested int64
}

// Reserved PersonList identifiers, per spec.md §3.
const (
	ListMuted    = 0
	ListFollowed = 1
	ListPriority = 2
	// User-defined lists start at 10.
	ListUserDefinedStart = 10
)

// PersonListEntry is one membership row in a PersonList. Private entries
// are not advertised in the published kind-3/kind-30000 list event.
// Paused additionally excludes the entry from Picker coverage without
// removing the follow relationship — carried from gossip-lib's
// people/follow_list.rs concept of temporarily disabled follows.
type PersonListEntry struct {
	PubKey  PublicKey
	Private bool
	Paused  bool
}

// PersonListMetadata tracks edit-vs-publish divergence per spec.md §3:
// "the 'last published' time is stored separately so divergence can be
// detected."
type PersonListMetadata struct {
	List          int
	Title         string
	LastEditedAt  int64
	LastPublished int64
}

// DmChannel is a sorted, deduplicated set of participant pubkeys, mirroring
// original_source's src/dm_channel.rs. NewDmChannel keeps every key it is
// given, the gossip user's own included; leaving that key out is up to
// the caller.
type DmChannel struct {
	keys []PublicKey
}

func NewDmChannel(keys []PublicKey) DmChannel {
	set := map[PublicKey]struct{}{}
	for _, k := range keys {
		set[k] = struct{}{}
	}
	out := make([]PublicKey, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return DmChannel{keys: out}
}

func (c DmChannel) Keys() []PublicKey { return c.keys }

// UniqueId returns a stable identifier for the channel, used as a storage
// and subscription-handle key.
func (c DmChannel) UniqueId() string {
	var b strings.Builder
	for _, k := range c.keys {
		b.WriteString(string(k))
	}
	return b.String()
}

func (c DmChannel) Equal(o DmChannel) bool {
	if len(c.keys) != len(o.keys) {
		return false
	}
	for i := range c.keys {
		if c.keys[i] != o.keys[i] {
			return false
		}
	}
	return true
}
