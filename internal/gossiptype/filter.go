package gossiptype

import "github.com/nbd-wtf/go-nostr"

// Filter is an alias to go-nostr's wire filter type: the teacher already
// builds these directly against nostr.Filter (nostr.go's subscribeChannelCmd
// etc.), so the core reuses that type rather than inventing a parallel one.
type Filter = nostr.Filter

// RelayConnectionReason classifies why a subscription/connection exists,
// per spec.md §4.7. Persistent reasons keep a minion alive after EOSE;
// transient ones don't.
type RelayConnectionReason int

const (
	ReasonAdvertising RelayConnectionReason = iota
	ReasonConfig
	ReasonDiscovery
	ReasonFetchAugments
	ReasonFetchDirectMessages
	ReasonFetchContacts
	ReasonFetchEvent
	ReasonFetchMentions
	ReasonFetchMetadata
	ReasonFollow
	ReasonPostEvent
	ReasonPostContacts
	ReasonPostLike
	ReasonPostMetadata
	ReasonPostMuteList
	ReasonReadThread
)

// Persistent reports whether a minion should stay connected after EOSE
// solely because this reason still applies.
func (r RelayConnectionReason) Persistent() bool {
	switch r {
	case ReasonFollow, ReasonFetchDirectMessages, ReasonConfig, ReasonDiscovery, ReasonReadThread:
		return true
	default:
		return false
	}
}

func (r RelayConnectionReason) String() string {
	names := [...]string{
		"advertising", "config", "discovery", "fetch-augments",
		"fetch-direct-messages", "fetch-contacts", "fetch-event",
		"fetch-mentions", "fetch-metadata", "follow", "post-event",
		"post-contacts", "post-like", "post-metadata", "post-mute-list",
		"read-thread",
	}
	if int(r) < len(names) {
		return names[r]
	}
	return "unknown"
}

// Subscription is the per-handle bookkeeping row a Minion keeps, per
// spec.md §3/§4.6, mirroring gossip-lib's subscription_map.rs.
type Subscription struct {
	Handle  string
	WireId  string
	Filters []Filter
	JobId   uint64
	Reason  RelayConnectionReason
	Eose    bool
	OneShot bool
}
