package gossiptype

// RelationshipVariant enumerates the edge kinds of spec.md §3's
// RelationshipById / RelationshipByAddr tables.
type RelationshipVariant int

const (
	RelRepliesTo RelationshipVariant = iota
	RelReposts
	RelQuotes
	RelTimestamps
	RelDeletes
	RelReactsTo
	RelLabels
	RelMutes
	RelPins
	RelBookmarks
	RelCurates
	RelReports
	RelZaps
	RelSuppliesJobResult
	RelAnnotates
)

func (v RelationshipVariant) String() string {
	switch v {
	case RelRepliesTo:
		return "replies_to"
	case RelReposts:
		return "reposts"
	case RelQuotes:
		return "quotes"
	case RelTimestamps:
		return "timestamps"
	case RelDeletes:
		return "deletes"
	case RelReactsTo:
		return "reacts_to"
	case RelLabels:
		return "labels"
	case RelMutes:
		return "mutes"
	case RelPins:
		return "pins"
	case RelBookmarks:
		return "bookmarks"
	case RelCurates:
		return "curates"
	case RelReports:
		return "reports"
	case RelZaps:
		return "zaps"
	case RelSuppliesJobResult:
		return "supplies_job_result"
	case RelAnnotates:
		return "annotates"
	default:
		return "unknown"
	}
}

// RelationshipById is a directed edge Source -> Target, where Target is an
// EventId known (or expected) to already exist in storage.
type RelationshipById struct {
	Source  EventId
	Target  EventId
	Variant RelationshipVariant

	// Variant-specific payload. Only the field(s) relevant to Variant are set.
	DeletedBy PublicKey // RelDeletes
	Reason    string    // RelDeletes
	ReactBy   PublicKey // RelReactsTo
	Reaction  string    // RelReactsTo
	ZapBy     PublicKey // RelZaps
	ZapAmount int64     // RelZaps, millisatoshis
	Label     string    // RelLabels
	Namespace string    // RelLabels
}

// RelationshipByAddr is the address-pointer analogue of RelationshipById,
// used when the target is a parameterized-replaceable event referenced by
// (kind, author, d-tag) rather than by id.
type RelationshipByAddr struct {
	Source  EventId
	Target  AddressPointer
	Variant RelationshipVariant

	DeletedBy PublicKey
	Reason    string
	ReactBy   PublicKey
	Reaction  string
	ZapBy     PublicKey
	ZapAmount int64
	Label     string
	Namespace string
}
