package feed

import (
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/gossipcore/gossip/internal/gossiptype"
	"github.com/gossipcore/gossip/internal/storage"
)

func openTest(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func makeEvent(id string, kind int, author string, createdAt int64, content string, tags nostr.Tags) gossiptype.Event {
	return gossiptype.WrapEvent(nostr.Event{
		ID:        id,
		PubKey:    author,
		Kind:      kind,
		CreatedAt: nostr.Timestamp(createdAt),
		Content:   content,
		Tags:      tags,
	})
}

func newComputer(s *storage.Storage) *Computer {
	cfg := Config{RecomputeInterval: time.Hour, Reactions: true, Reposts: true}
	return New(s, cfg, func() uint64 { return 1 }, nil)
}

func TestListFeedOrdersNewestFirstAndRespectsPause(t *testing.T) {
	s := openTest(t)
	_, err := s.InsertEvent(makeEvent("e1", 1, "alice", 100, "first", nil), "")
	require.NoError(t, err)
	_, err = s.InsertEvent(makeEvent("e2", 1, "alice", 200, "second", nil), "")
	require.NoError(t, err)
	_, err = s.InsertEvent(makeEvent("e3", 1, "bob", 300, "paused author", nil), "")
	require.NoError(t, err)

	require.NoError(t, s.PersonListAdd(gossiptype.ListFollowed, gossiptype.PersonListEntry{PubKey: "alice"}, 1))
	require.NoError(t, s.PersonListAdd(gossiptype.ListFollowed, gossiptype.PersonListEntry{PubKey: "bob", Paused: true}, 1))

	c := newComputer(s)
	ids, err := c.Compute(ListFeed(gossiptype.ListFollowed, false))
	require.NoError(t, err)
	require.Equal(t, []gossiptype.EventId{"e2", "e1"}, ids)
}

func TestListFeedExcludesMutedAndDeleted(t *testing.T) {
	s := openTest(t)
	_, err := s.InsertEvent(makeEvent("e1", 1, "alice", 100, "keep", nil), "")
	require.NoError(t, err)
	_, err = s.InsertEvent(makeEvent("e2", 1, "alice", 200, "deleted", nil), "")
	require.NoError(t, err)
	_, err = s.InsertEvent(makeEvent("e3", 1, "carol", 300, "muted author", nil), "")
	require.NoError(t, err)

	require.NoError(t, s.PersonListAdd(gossiptype.ListFollowed, gossiptype.PersonListEntry{PubKey: "alice"}, 1))
	require.NoError(t, s.PersonListAdd(gossiptype.ListFollowed, gossiptype.PersonListEntry{PubKey: "carol"}, 1))
	require.NoError(t, s.PersonListAdd(gossiptype.ListMuted, gossiptype.PersonListEntry{PubKey: "carol"}, 1))
	require.NoError(t, s.AddRelationshipById(gossiptype.RelationshipById{
		Source: "del1", Target: "e2", Variant: gossiptype.RelDeletes, DeletedBy: "alice",
	}))

	c := newComputer(s)
	ids, err := c.Compute(ListFeed(gossiptype.ListFollowed, false))
	require.NoError(t, err)
	require.Equal(t, []gossiptype.EventId{"e1"}, ids)
}

func TestThreadFeedWalksReplyChain(t *testing.T) {
	s := openTest(t)
	_, err := s.InsertEvent(makeEvent("root", 1, "alice", 100, "root post", nil), "")
	require.NoError(t, err)
	replyTags := nostr.Tags{{"e", "root", "", "reply"}}
	_, err = s.InsertEvent(makeEvent("reply1", 1, "bob", 200, "a reply", replyTags), "")
	require.NoError(t, err)
	require.NoError(t, s.AddRelationshipById(gossiptype.RelationshipById{
		Source: "reply1", Target: "root", Variant: gossiptype.RelRepliesTo,
	}))

	c := newComputer(s)
	ids, err := c.Compute(ThreadFeed("root", ""))
	require.NoError(t, err)
	require.ElementsMatch(t, []gossiptype.EventId{"root", "reply1"}, ids)
}

func TestRecomputeCachesUntilVersionBumps(t *testing.T) {
	s := openTest(t)
	_, err := s.InsertEvent(makeEvent("e1", 1, "alice", 100, "first", nil), "")
	require.NoError(t, err)
	require.NoError(t, s.PersonListAdd(gossiptype.ListFollowed, gossiptype.PersonListEntry{PubKey: "alice"}, 1))

	version := uint64(1)
	cfg := Config{RecomputeInterval: time.Hour}
	c := New(s, cfg, func() uint64 { return version }, nil)

	ids, err := c.Compute(ListFeed(gossiptype.ListFollowed, false))
	require.NoError(t, err)
	require.Len(t, ids, 1)

	_, err = s.InsertEvent(makeEvent("e2", 1, "alice", 200, "second", nil), "")
	require.NoError(t, err)

	ids, err = c.Compute(ListFeed(gossiptype.ListFollowed, false))
	require.NoError(t, err)
	require.Len(t, ids, 1, "cache must not reflect e2 until the version counter moves")

	version = 2
	ids, err = c.Compute(ListFeed(gossiptype.ListFollowed, false))
	require.NoError(t, err)
	require.Len(t, ids, 2)
}
