package storage

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/gossipcore/gossip/internal/gossiptype"
)

func openTest(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(t.TempDir())
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

func TestInsertEventIdempotent(t *testing.T) {
	s := openTest(t)
	e := makeEvent("id1", 1, "author1", 100, "hello", nil)

	inserted, err := s.InsertEvent(e, "wss://relay1")
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = s.InsertEvent(e, "wss://relay2")
	require.NoError(t, err)
	require.False(t, inserted, "re-inserting the same id must be a no-op")

	got, err := s.GetEvent("id1")
	require.NoError(t, err)
	require.Equal(t, "hello", got.Content)
}

// S3 — replaceable latest-wins.
func TestReplaceableLatestWins(t *testing.T) {
	s := openTest(t)
	rk := gossiptype.ReplaceableKey{Kind: 0, Author: "P"}

	_, err := s.InsertEvent(makeEvent("a", 0, "P", 100, "v1", nil), "")
	require.NoError(t, err)
	latest, err := s.LatestEvent(rk)
	require.NoError(t, err)
	require.Equal(t, "v1", latest.Content)

	_, err = s.InsertEvent(makeEvent("b", 0, "P", 200, "v2", nil), "")
	require.NoError(t, err)
	latest, err = s.LatestEvent(rk)
	require.NoError(t, err)
	require.Equal(t, "v2", latest.Content, "newer created_at must win")

	_, err = s.InsertEvent(makeEvent("c", 0, "P", 50, "v0", nil), "")
	require.NoError(t, err)
	latest, err = s.LatestEvent(rk)
	require.NoError(t, err)
	require.Equal(t, "v2", latest.Content, "older created_at must not displace the latest")
}

func TestReplaceableTieBreakByLexicalId(t *testing.T) {
	s := openTest(t)
	rk := gossiptype.ReplaceableKey{Kind: 0, Author: "P"}

	_, err := s.InsertEvent(makeEvent("zzz", 0, "P", 100, "z", nil), "")
	require.NoError(t, err)
	_, err = s.InsertEvent(makeEvent("aaa", 0, "P", 100, "a", nil), "")
	require.NoError(t, err)

	latest, err := s.LatestEvent(rk)
	require.NoError(t, err)
	require.Equal(t, "aaa", latest.ID, "equal created_at must be broken by lowest lexical id")
}

func TestParameterizedReplaceableUsesDTag(t *testing.T) {
	s := openTest(t)
	tags := nostr.Tags{{"d", "article-1"}}
	_, err := s.InsertEvent(makeEvent("p1", 30023, "P", 100, "draft", tags), "")
	require.NoError(t, err)
	_, err = s.InsertEvent(makeEvent("p2", 30023, "P", 200, "final", tags), "")
	require.NoError(t, err)

	rk := gossiptype.ReplaceableKey{Kind: 30023, Author: "P", DTag: "article-1"}
	latest, err := s.LatestEvent(rk)
	require.NoError(t, err)
	require.Equal(t, "final", latest.Content)

	// A different d-tag is a distinct slot.
	otherTags := nostr.Tags{{"d", "article-2"}}
	_, err = s.InsertEvent(makeEvent("p3", 30023, "P", 300, "other", otherTags), "")
	require.NoError(t, err)
	latest, err = s.LatestEvent(rk)
	require.NoError(t, err)
	require.Equal(t, "final", latest.Content, "a different d-tag must not affect this slot")
}

func TestMarkSeenOnTracksFirstAndLast(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.MarkSeenOn("id1", "wss://r1", 100))
	require.NoError(t, s.MarkSeenOn("id1", "wss://r1", 50))
	require.NoError(t, s.MarkSeenOn("id1", "wss://r1", 200))

	seen, err := s.SeenOnRelays("id1")
	require.NoError(t, err)
	require.Len(t, seen, 1)
	require.Equal(t, int64(50), seen[0].First)
	require.Equal(t, int64(200), seen[0].Last)
}

// S6 — reaction aggregation: at most one reaction per (author, event).
func TestReactionAggregationDedupPerAuthor(t *testing.T) {
	s := openTest(t)

	add := func(source string, by gossiptype.PublicKey, reaction string) {
		require.NoError(t, s.AddRelationshipById(gossiptype.RelationshipById{
			Source: gossiptype.EventId(source), Target: "E", Variant: gossiptype.RelReactsTo,
			ReactBy: by, Reaction: reaction,
		}))
	}
	add("r1", "X", "+")
	add("r2", "Y", "+")
	add("r3", "X", "🔥") // X's second reaction replaces X's first

	counts, err := s.GetReactions("E", "X")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"+": 1, "🔥": 1}, counts.Counts)
	require.True(t, counts.SelfAlreadyReacted)
	require.Equal(t, "🔥", counts.SelfReaction)
}

func TestRelayRecordCountersMonotonic(t *testing.T) {
	s := openTest(t)
	url := gossiptype.RelayUrl("wss://relay1")
	require.NoError(t, s.RecordFailure(url))
	require.NoError(t, s.RecordFailure(url))
	require.NoError(t, s.RecordSuccess(url, 1000))

	r, err := s.ReadOrCreateRelay(url)
	require.NoError(t, err)
	require.Equal(t, uint64(2), r.FailureCount)
	require.Equal(t, uint64(1), r.SuccessCount)
	require.Equal(t, int64(1000), r.LastConnectedAt)
}

func TestPersonListAddRemoveBumpsEditTime(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.PersonListAdd(gossiptype.ListFollowed, gossiptype.PersonListEntry{PubKey: "A"}, 100))
	meta, err := s.PersonListMetadata(gossiptype.ListFollowed)
	require.NoError(t, err)
	require.Equal(t, int64(100), meta.LastEditedAt)

	entries, err := s.PersonListRead(gossiptype.ListFollowed)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, s.PersonListRemove(gossiptype.ListFollowed, "A", 200))
	meta, err = s.PersonListMetadata(gossiptype.ListFollowed)
	require.NoError(t, err)
	require.Equal(t, int64(200), meta.LastEditedAt)

	entries, err = s.PersonListRead(gossiptype.ListFollowed)
	require.NoError(t, err)
	require.Len(t, entries, 0)
}
