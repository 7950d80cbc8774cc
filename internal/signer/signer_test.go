package signer

import (
	"context"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/gossipcore/gossip/internal/gossiptype"
)

var (
	testSkA = strings.Repeat("1", 63) + "1"
	testSkB = strings.Repeat("2", 63) + "2"
)

func TestLocalSignerLifecycle(t *testing.T) {
	s, err := NewLocalSignerFromSecret(testSkA)
	require.NoError(t, err)
	require.Equal(t, StateUnlocked, s.State())

	pk, ok := s.PublicKey()
	require.True(t, ok)
	require.NotEmpty(t, pk)

	s.Lock()
	require.Equal(t, StateLocked, s.State())
	err = s.Sign(context.Background(), &nostr.Event{})
	require.ErrorIs(t, err, gossiptype.ErrNoPrivateKey)

	s.Delete()
	require.Equal(t, StateEmpty, s.State())
	_, ok = s.PublicKey()
	require.False(t, ok)
}

func TestEncryptedLocalSignerRoundTrip(t *testing.T) {
	locked, err := NewEncryptedLocalSigner(testSkA, "correct horse")
	require.NoError(t, err)
	require.Equal(t, StateLocked, locked.State())

	err = locked.Unlock("wrong passphrase")
	require.ErrorIs(t, err, gossiptype.ErrWrongPassphrase)
	require.Equal(t, StateLocked, locked.State())

	err = locked.Unlock("correct horse")
	require.NoError(t, err)
	require.Equal(t, StateUnlocked, locked.State())
}

func TestSignProducesValidSignature(t *testing.T) {
	s, err := NewLocalSignerFromSecret(testSkA)
	require.NoError(t, err)

	ev := nostr.Event{Kind: 1, CreatedAt: 100, Content: "hello"}
	err = s.Sign(context.Background(), &ev)
	require.NoError(t, err)
	require.NotEmpty(t, ev.ID)
	require.NotEmpty(t, ev.Sig)

	ok, err := ev.CheckSignature()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEncryptDecryptRoundTripBothSchemes(t *testing.T) {
	a, err := NewLocalSignerFromSecret(testSkA)
	require.NoError(t, err)
	b, err := NewLocalSignerFromSecret(testSkB)
	require.NoError(t, err)
	bPub, _ := b.PublicKey()
	aPub, _ := a.PublicKey()

	for _, nip44 := range []bool{false, true} {
		ct, err := a.Encrypt(context.Background(), "hello bob", bPub, nip44)
		require.NoError(t, err)
		pt, err := b.Decrypt(context.Background(), ct, aPub)
		require.NoError(t, err)
		require.Equal(t, "hello bob", pt)
	}
}
