package gossiptype

// KindClass classifies a nostr kind per NIP-01's numeric ranges. The Event
// Processor and Storage consult this to decide replace-vs-append semantics.
type KindClass int

const (
	KindRegular KindClass = iota
	KindReplaceable
	KindEphemeral
	KindParameterizedReplaceable
)

// ClassifyKind implements the NIP-01 kind-range rules plus the
// long-standing fixed exceptions (0, 3) that predate the ranges.
func ClassifyKind(kind int) KindClass {
	switch {
	case kind == 0 || kind == 3:
		return KindReplaceable
	case kind >= 10000 && kind < 20000:
		return KindReplaceable
	case kind >= 20000 && kind < 30000:
		return KindEphemeral
	case kind >= 30000 && kind < 40000:
		return KindParameterizedReplaceable
	default:
		return KindRegular
	}
}

// Well-known kinds referenced by the Event Processor's relationship
// extraction (spec.md §4.4).
const (
	KindMetadata       = 0
	KindTextNote       = 1
	KindFollowList     = 3
	KindDeletion       = 5
	KindRepost         = 6
	KindReaction       = 7
	KindRelayListMeta  = 10002
	KindMuteList       = 10000
	KindDMRelayList    = 10050
	KindGenericRepost  = 16
	KindLabel          = 1985
	KindZapRequest     = 9734
	KindZapReceipt     = 9735
	KindGiftWrap       = 1059
	KindSealedRumor    = 13
	KindDirectMessage  = 14
	KindPinList        = 10001
	KindBookmarkList   = 10003
	KindCurationSet    = 30004
	KindHandlerRec     = 31990
	KindCommunityPost  = 4550
	KindNIP46Request   = 24133
	KindLongFormContent = 30023
	KindBookmarkSet    = 30003
)
