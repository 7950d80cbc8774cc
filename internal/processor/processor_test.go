package processor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/gossipcore/gossip/internal/gossiptype"
	"github.com/gossipcore/gossip/internal/signer"
	"github.com/gossipcore/gossip/internal/status"
	"github.com/gossipcore/gossip/internal/storage"
)

var (
	testSkA = strings.Repeat("1", 64)
	testSkB = strings.Repeat("2", 64)
)

func openTestStore(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func signedEvent(t *testing.T, sk string, kind int, content string, tags nostr.Tags) gossiptype.Event {
	t.Helper()
	ev := nostr.Event{Kind: kind, Content: content, Tags: tags}
	require.NoError(t, ev.Sign(sk))
	return gossiptype.WrapEvent(ev)
}

// S4 — deletion mismatch rejected: B cannot delete A's event.
func TestDeletionRejectedOnAuthorMismatch(t *testing.T) {
	store := openTestStore(t)
	p := New(store, nil, status.NewQueue(), Config{})

	e1 := signedEvent(t, testSkA, 1, "hello", nil)
	require.NoError(t, p.Process(context.Background(), e1, "wss://r1"))

	del := signedEvent(t, testSkB, 5, "not yours", nostr.Tags{{"e", e1.ID}})
	require.NoError(t, p.Process(context.Background(), del, "wss://r1"))

	deleted, _, err := store.DeletionFor(e1.Id())
	require.NoError(t, err)
	require.False(t, deleted, "B must not be able to delete A's event")
}

func TestDeletionAcceptedOnAuthorMatch(t *testing.T) {
	store := openTestStore(t)
	p := New(store, nil, status.NewQueue(), Config{})

	e1 := signedEvent(t, testSkA, 1, "hello", nil)
	require.NoError(t, p.Process(context.Background(), e1, "wss://r1"))

	del := signedEvent(t, testSkA, 5, "oops", nostr.Tags{{"e", e1.ID}})
	require.NoError(t, p.Process(context.Background(), del, "wss://r1"))

	deleted, reason, err := store.DeletionFor(e1.Id())
	require.NoError(t, err)
	require.True(t, deleted)
	require.Equal(t, "oops", reason)
}

// S5 — gift-wrap round trip: sender S wraps a kind-14 rumor to
// recipient R; R's signer unwraps it under the wrap's own id.
func TestGiftWrapRoundTrip(t *testing.T) {
	store := openTestStore(t)

	skS := nostr.GeneratePrivateKey()
	require.NotEmpty(t, skS)
	skR := nostr.GeneratePrivateKey()
	require.NotEmpty(t, skR)

	senderSigner, err := signer.NewLocalSignerFromSecret(skS)
	require.NoError(t, err)
	recipientSigner, err := signer.NewLocalSignerFromSecret(skR)
	require.NoError(t, err)

	senderPub, _ := senderSigner.PublicKey()
	recipientPub, _ := recipientSigner.PublicKey()

	rumor := nostr.Event{
		PubKey:  string(senderPub),
		Kind:    gossiptype.KindDirectMessage,
		Content: "hi",
	}
	rumorJSON, err := json.Marshal(rumor)
	require.NoError(t, err)

	seal := nostr.Event{Kind: gossiptype.KindSealedRumor, PubKey: string(senderPub)}
	sealContent, err := senderSigner.Encrypt(context.Background(), string(rumorJSON), recipientPub, true)
	require.NoError(t, err)
	seal.Content = sealContent
	require.NoError(t, seal.Sign(skS))
	sealJSON, err := json.Marshal(seal)
	require.NoError(t, err)

	ephemeralSk := nostr.GeneratePrivateKey()
	require.NotEmpty(t, ephemeralSk)
	ephemeralSigner, err := signer.NewLocalSignerFromSecret(ephemeralSk)
	require.NoError(t, err)
	ephemeralPub, _ := ephemeralSigner.PublicKey()

	wrapContent, err := ephemeralSigner.Encrypt(context.Background(), string(sealJSON), recipientPub, true)
	require.NoError(t, err)
	wrap := nostr.Event{PubKey: string(ephemeralPub), Kind: gossiptype.KindGiftWrap, Content: wrapContent}
	require.NoError(t, wrap.Sign(ephemeralSk))

	p := New(store, recipientSigner, status.NewQueue(), Config{})
	wrapEvent := gossiptype.WrapEvent(wrap)
	require.NoError(t, p.Process(context.Background(), wrapEvent, "wss://r1"))

	stored, err := store.GetEvent(wrapEvent.Id())
	require.NoError(t, err)
	require.Equal(t, wrap.ID, stored.ID, "the rumor must be filed under the envelope's id")
	require.Equal(t, "hi", stored.Content, "the stored row holds the decrypted rumor content")

	// Re-ingest is idempotent: same stored id, no error.
	require.NoError(t, p.Process(context.Background(), wrapEvent, "wss://r2"))
	seenOn, err := store.SeenOnRelays(wrapEvent.Id())
	require.NoError(t, err)
	require.Len(t, seenOn, 2)
}

