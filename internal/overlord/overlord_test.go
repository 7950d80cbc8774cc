package overlord

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gossipcore/gossip/internal/config"
	"github.com/gossipcore/gossip/internal/feed"
	"github.com/gossipcore/gossip/internal/gossiptype"
	"github.com/gossipcore/gossip/internal/pending"
	"github.com/gossipcore/gossip/internal/processor"
	"github.com/gossipcore/gossip/internal/signer"
	"github.com/gossipcore/gossip/internal/status"
	"github.com/gossipcore/gossip/internal/storage"
)

func newTestOverlord(t *testing.T) (*Overlord, context.Context, context.CancelFunc) {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sk := strings.Repeat("7", 64)
	sgn, err := signer.NewLocalSignerFromSecret(sk)
	require.NoError(t, err)

	statusQ := status.NewQueue()
	proc := processor.New(store, sgn, statusQ, processor.Config{})
	o := New(config.Default(), Deps{
		Store:  store,
		Proc:   proc,
		Signer: sgn,
		Pend:   pending.NewQueue(),
		Status: statusQ,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go o.Run(ctx)
	return o, ctx, cancel
}

// With no relays configured for write usage, Post must still store the
// event locally rather than failing outright.
func TestPostStoresLocallyWithNoWriteRelays(t *testing.T) {
	o, ctx, cancel := newTestOverlord(t)
	defer cancel()

	id, err := o.Post(ctx, "hello world", nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	stored, err := o.store.GetEvent(id)
	require.NoError(t, err)
	require.Equal(t, "hello world", stored.Content)
}

func TestFollowAddsToFollowedList(t *testing.T) {
	o, ctx, cancel := newTestOverlord(t)
	defer cancel()

	pk := gossiptype.PublicKey(strings.Repeat("a", 64))
	require.NoError(t, o.Follow(ctx, pk, false))

	entries, err := o.store.PersonListRead(gossiptype.ListFollowed)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, pk, entries[0].PubKey)
}

func TestDropRelayHidesRecord(t *testing.T) {
	o, ctx, cancel := newTestOverlord(t)
	defer cancel()

	url := gossiptype.RelayUrl("wss://example.invalid")
	require.NoError(t, o.AddRelay(ctx, url, gossiptype.UsageWrite))
	require.NoError(t, o.DropRelay(ctx, url))

	rec, err := o.store.ReadOrCreateRelay(url)
	require.NoError(t, err)
	require.True(t, rec.Hidden)
}

func TestReactRecordsRelationship(t *testing.T) {
	o, ctx, cancel := newTestOverlord(t)
	defer cancel()

	targetId, err := o.Post(ctx, "react to me", nil)
	require.NoError(t, err)

	require.NoError(t, o.React(ctx, targetId, "+"))

	refs, err := o.store.FindEventsReferencing(targetId)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, gossiptype.RelReactsTo, refs[0].Variant)
	require.Equal(t, "+", refs[0].Reaction)
}

func TestFeedListReflectsFollowedAuthor(t *testing.T) {
	o, ctx, cancel := newTestOverlord(t)
	defer cancel()

	pub, _ := o.sgn.PublicKey()
	require.NoError(t, o.Follow(ctx, pub, false))

	id, err := o.Post(ctx, "hello feed", nil)
	require.NoError(t, err)

	ids, err := o.Feed(feed.ListFeed(gossiptype.ListFollowed, false))
	require.NoError(t, err)
	require.Equal(t, []gossiptype.EventId{id}, ids)
}
