// Package signer implements the Signer component (spec.md §4.2): a
// polymorphic identity capability the rest of the core programs against
// without caring whether the key lives locally or behind a NIP-46 bunker.
// The tagged-variant shape mirrors the teacher's Keys/keyer split
// (main.go's keyer.NewPlainKeySigner) generalized to the full state
// machine spec.md describes.
package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/gossipcore/gossip/internal/gossiptype"
)

// State is the Signer's lifecycle state, per spec.md §4.2.
type State int

const (
	StateLocked State = iota
	StateUnlocked
	StateEmpty
)

// Signer is the capability set every variant must provide. Callers
// program against this interface, not against a concrete variant.
type Signer interface {
	State() State
	PublicKey() (gossiptype.PublicKey, bool)
	Sign(ctx context.Context, e *nostr.Event) error
	Encrypt(ctx context.Context, plaintext string, peer gossiptype.PublicKey, nip44 bool) (string, error)
	Decrypt(ctx context.Context, ciphertext string, peer gossiptype.PublicKey) (string, error)
	UnwrapGiftwrap(ctx context.Context, wrap gossiptype.Event) (nostr.Event, error)
}

// LocalSigner is the {Locked, LocalKey, Unlocked} portion of the variant
// set: a single local secret key, optionally passphrase-encrypted at
// rest. It is safe for concurrent use; each call locks internally.
type LocalSigner struct {
	mu            sync.Mutex
	state         State
	pubkey        gossiptype.PublicKey
	secretHex     string // only populated while Unlocked
	encryptedBlob []byte // passphrase-encrypted secret (see crypto.go); nil for a signer built from a raw secret
}

// NewLocalSignerFromSecret creates an Unlocked LocalSigner directly from
// a raw hex or nsec-encoded secret key, matching the teacher's
// loadKeys/NOSTR_PRIVATE_KEY bootstrap path.
func NewLocalSignerFromSecret(raw string) (*LocalSigner, error) {
	sk := raw
	if len(raw) > 4 && raw[:4] == "nsec" {
		prefix, val, err := nip19.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode nsec: %w", err)
		}
		if prefix != "nsec" {
			return nil, fmt.Errorf("expected nsec prefix, got %s", prefix)
		}
		sk = val.(string)
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	return &LocalSigner{state: StateUnlocked, pubkey: gossiptype.PublicKey(pk), secretHex: sk}, nil
}

// NewLockedSigner constructs a Locked signer around an already-encrypted
// secret, known public key.
func NewLockedSigner(pubkey gossiptype.PublicKey, encryptedBlob []byte) *LocalSigner {
	return &LocalSigner{state: StateLocked, pubkey: pubkey, encryptedBlob: encryptedBlob}
}

// NewEncryptedLocalSigner wraps a raw secret key in a passphrase and
// returns a Locked signer plus the blob the caller should persist (e.g.
// to internal/config's PrivateKeyFile). Unlock reverses this.
func NewEncryptedLocalSigner(raw, passphrase string) (*LocalSigner, error) {
	unlocked, err := NewLocalSignerFromSecret(raw)
	if err != nil {
		return nil, err
	}
	blob, err := encryptSecret(unlocked.secretHex, passphrase)
	if err != nil {
		return nil, fmt.Errorf("encrypt secret: %w", err)
	}
	return NewLockedSigner(unlocked.pubkey, blob), nil
}

func (s *LocalSigner) State() State { s.mu.Lock(); defer s.mu.Unlock(); return s.state }

func (s *LocalSigner) PublicKey() (gossiptype.PublicKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEmpty {
		return "", false
	}
	return s.pubkey, true
}

// Unlock transitions Locked -> Unlocked given the correct passphrase.
func (s *LocalSigner) Unlock(passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLocked {
		return nil
	}
	sk, err := decryptSecret(s.encryptedBlob, passphrase)
	if err != nil {
		return gossiptype.ErrWrongPassphrase
	}
	s.secretHex = sk
	s.state = StateUnlocked
	return nil
}

// Lock transitions Unlocked -> Locked, zeroizing the in-memory secret per
// spec.md §5's "secret key is zeroized on drop and on lock."
func (s *LocalSigner) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	zeroize(&s.secretHex)
	if s.state == StateUnlocked {
		s.state = StateLocked
	}
}

// Delete transitions to Empty; the signer becomes useless thereafter.
func (s *LocalSigner) Delete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	zeroize(&s.secretHex)
	s.encryptedBlob = nil
	s.state = StateEmpty
}

func zeroize(s *string) { *s = "" }

func (s *LocalSigner) withSecret(fn func(sk string) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnlocked {
		return gossiptype.ErrNoPrivateKey
	}
	return fn(s.secretHex)
}

func (s *LocalSigner) Sign(ctx context.Context, e *nostr.Event) error {
	return s.withSecret(func(sk string) error { return e.Sign(sk) })
}

func (s *LocalSigner) Encrypt(ctx context.Context, plaintext string, peer gossiptype.PublicKey, nip44 bool) (string, error) {
	var out string
	err := s.withSecret(func(sk string) error {
		var err error
		out, err = encryptFor(sk, string(peer), plaintext, nip44)
		return err
	})
	return out, err
}

func (s *LocalSigner) Decrypt(ctx context.Context, ciphertext string, peer gossiptype.PublicKey) (string, error) {
	var out string
	err := s.withSecret(func(sk string) error {
		var err error
		out, err = decryptFrom(sk, string(peer), ciphertext)
		if err != nil {
			return fmt.Errorf("%w: %v", gossiptype.ErrDecryptionFailed, err)
		}
		return nil
	})
	return out, err
}

// UnwrapGiftwrap implements the NIP-59 gift-wrap unwrap step of spec.md
// §4.4/§4.2: the wrap is kind 1059, content is a NIP-44 ciphertext
// addressed to this signer's key; decrypting it yields the seal (kind
// 13), whose content is itself a NIP-44 ciphertext that decrypts to the
// rumor (the unsigned inner event, e.g. kind 14). The rumor is
// materialized with the wrap's id per spec's rule that a gift-wrapped
// event is filed under the outer envelope's id, never the rumor's own.
func (s *LocalSigner) UnwrapGiftwrap(ctx context.Context, wrap gossiptype.Event) (nostr.Event, error) {
	var rumor nostr.Event
	err := s.withSecret(func(sk string) error {
		sealJSON, err := decryptFrom(sk, wrap.PubKey, wrap.Content)
		if err != nil {
			return fmt.Errorf("%w: unwrap seal: %v", gossiptype.ErrDecryptionFailed, err)
		}
		var seal nostr.Event
		if err := json.Unmarshal([]byte(sealJSON), &seal); err != nil {
			return fmt.Errorf("%w: parse seal: %v", gossiptype.ErrParseError, err)
		}
		rumorJSON, err := decryptFrom(sk, seal.PubKey, seal.Content)
		if err != nil {
			return fmt.Errorf("%w: unwrap rumor: %v", gossiptype.ErrDecryptionFailed, err)
		}
		if err := json.Unmarshal([]byte(rumorJSON), &rumor); err != nil {
			return fmt.Errorf("%w: parse rumor: %v", gossiptype.ErrParseError, err)
		}
		rumor.ID = wrap.ID
		return nil
	})
	return rumor, err
}
