// Package gossiptype holds the shared domain vocabulary of the gossip core:
// identities, event ids, relay urls, kinds and tag helpers. Every other
// internal package builds on these instead of passing around bare strings.
package gossiptype

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// PublicKey is a 32-byte nostr identity, stored internally as lowercase hex
// the way go-nostr represents it everywhere else in the pack.
type PublicKey string

// EventId is a 32-byte event hash.
type EventId string

func (pk PublicKey) String() string { return string(pk) }
func (id EventId) String() string   { return string(id) }

// ParsePublicKey accepts hex or npub and normalizes to hex.
func ParsePublicKey(s string) (PublicKey, error) {
	if strings.HasPrefix(s, "npub") {
		prefix, val, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("decode npub: %w", err)
		}
		if prefix != "npub" {
			return "", fmt.Errorf("expected npub, got %s", prefix)
		}
		s = val.(string)
	}
	if !isHex32(s) {
		return "", fmt.Errorf("invalid public key %q", s)
	}
	return PublicKey(strings.ToLower(s)), nil
}

// ParseEventId accepts hex or note1/nevent1 and normalizes to hex.
func ParseEventId(s string) (EventId, error) {
	if strings.HasPrefix(s, "note") || strings.HasPrefix(s, "nevent") {
		prefix, val, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("decode %s: %w", prefix, err)
		}
		switch v := val.(type) {
		case string:
			s = v
		case nostr.EventPointer:
			s = v.ID
		default:
			return "", fmt.Errorf("unexpected pointer type for %s", s)
		}
	}
	if !isHex32(s) {
		return "", fmt.Errorf("invalid event id %q", s)
	}
	return EventId(strings.ToLower(s)), nil
}

func isHex32(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// NpubOf encodes a public key as a bech32 npub for display.
func NpubOf(pk PublicKey) string {
	npub, err := nip19.EncodePublicKey(string(pk))
	if err != nil {
		return string(pk)
	}
	return npub
}

// ShortOf returns the first 8 hex characters, for compact logging/display.
func ShortOf(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
