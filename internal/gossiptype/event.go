package gossiptype

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Event wraps a go-nostr event with the accessors the rest of the core
// needs. It never carries its own copy of the signature-verification
// result: that is the Event Processor's job at ingestion time (spec.md
// §3, "stored events always have a verified signature at time of
// insertion").
type Event struct {
	nostr.Event
}

func WrapEvent(e nostr.Event) Event { return Event{Event: e} }

func (e Event) Id() EventId        { return EventId(e.Event.ID) }
func (e Event) Author() PublicKey  { return PublicKey(e.Event.PubKey) }
func (e Event) Class() KindClass   { return ClassifyKind(e.Event.Kind) }

// CanonicalHash recomputes the NIP-01 serialization hash independent of
// whatever ID the event claims to carry, so callers can check
// `id == hash(canonical(...))` per spec.md §3's core invariant. It
// delegates to go-nostr's own Serialize rather than re-marshaling the
// array by hand: encoding/json's default HTML-escaping of '<', '>', '&'
// and U+2028/U+2029 would otherwise diverge from the unescaped bytes the
// wire id was actually computed over.
func (e Event) CanonicalHash() (EventId, error) {
	sum := sha256.Sum256(e.Event.Serialize())
	return EventId(hex.EncodeToString(sum[:])), nil
}

// VerifyHashAndSig enforces Testable Property 1: the id matches the
// canonical hash and the signature verifies against the author.
func (e Event) VerifyHashAndSig() error {
	want, err := e.CanonicalHash()
	if err != nil {
		return err
	}
	if string(want) != e.Event.ID {
		return fmt.Errorf("%w: got %s want %s", ErrInvalidHash, e.Event.ID, want)
	}
	ok, err := e.Event.CheckSignature()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// ReplaceableKey identifies the slot a replaceable/parameterized-replaceable
// event occupies: (kind, author[, d-tag]).
type ReplaceableKey struct {
	Kind   int
	Author PublicKey
	DTag   string // empty unless kind is parameterized-replaceable
}

func (e Event) ReplaceableKey() ReplaceableKey {
	k := ReplaceableKey{Kind: e.Event.Kind, Author: e.Author()}
	if e.Class() == KindParameterizedReplaceable {
		k.DTag = FirstTagValue(e.Event.Tags, "d")
	}
	return k
}

// FirstTagValue returns the first value (tag[1]) of the first tag whose
// name (tag[0]) matches key, or "" if none. Mirrors gossip-lib's tags.rs
// accessor style rather than scattering slice-index checks everywhere.
func FirstTagValue(tags nostr.Tags, key string) string {
	for _, t := range tags {
		if len(t) >= 2 && t[0] == key {
			return t[1]
		}
	}
	return ""
}

// ETag is a parsed "e" tag reference: event id, optional relay hint, marker.
type ETag struct {
	EventId EventId
	Relay   string
	Marker  string // "reply", "root", "mention", or ""
}

// ETags extracts all "e" tags from an event in tag order.
func ETags(tags nostr.Tags) []ETag {
	var out []ETag
	for _, t := range tags {
		if len(t) < 2 || t[0] != "e" {
			continue
		}
		et := ETag{EventId: EventId(t[1])}
		if len(t) >= 3 {
			et.Relay = t[2]
		}
		if len(t) >= 4 {
			et.Marker = t[3]
		}
		out = append(out, et)
	}
	return out
}

// QTags extracts all "q" (NIP-18 quote) tag event ids.
func QTags(tags nostr.Tags) []EventId {
	var out []EventId
	for _, t := range tags {
		if len(t) >= 2 && t[0] == "q" {
			out = append(out, EventId(t[1]))
		}
	}
	return out
}

// PTags extracts all "p" tag pubkeys. Per spec.md §4.4, these participate
// in indexing only, never relationships.
func PTags(tags nostr.Tags) []PublicKey {
	var out []PublicKey
	for _, t := range tags {
		if len(t) >= 2 && t[0] == "p" {
			out = append(out, PublicKey(t[1]))
		}
	}
	return out
}

// ReplyTarget returns the event this note replies to, per NIP-10: prefer
// the "e" tag marked "reply"; fall back to the last unmarked "e" tag
// (legacy positional convention) when no markers are present.
func ReplyTarget(tags nostr.Tags) (EventId, bool) {
	ets := ETags(tags)
	for _, et := range ets {
		if et.Marker == "reply" {
			return et.EventId, true
		}
	}
	var last *ETag
	anyMarked := false
	for i := range ets {
		if ets[i].Marker != "" {
			anyMarked = true
		}
	}
	if anyMarked {
		return "", false
	}
	for i := range ets {
		last = &ets[i]
	}
	if last != nil {
		return last.EventId, true
	}
	return "", false
}

// RootTarget returns the root of the thread this note belongs to, per
// NIP-10: prefer the "e" tag marked "root"; fall back to the first
// unmarked "e" tag when no markers are present (legacy convention, where
// the first positional e-tag is the root and the last is the reply-to).
func RootTarget(tags nostr.Tags) (EventId, bool) {
	ets := ETags(tags)
	for _, et := range ets {
		if et.Marker == "root" {
			return et.EventId, true
		}
	}
	anyMarked := false
	for i := range ets {
		if ets[i].Marker != "" {
			anyMarked = true
		}
	}
	if anyMarked {
		return "", false
	}
	if len(ets) > 0 {
		return ets[0].EventId, true
	}
	return "", false
}

// AddressPointer identifies a (possibly not-yet-seen) parameterized
// replaceable event by (kind, author, d-tag), the address form of
// ReplaceableKey used for "a" tags.
type AddressPointer struct {
	Kind   int
	Author PublicKey
	DTag   string
}

func (a AddressPointer) String() string {
	return fmt.Sprintf("%d:%s:%s", a.Kind, a.Author, a.DTag)
}
