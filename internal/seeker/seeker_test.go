package seeker

import (
	"sync"
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

type recorder struct {
	mu   sync.Mutex
	urls []gossiptype.RelayUrl
}

func (r *recorder) record(url gossiptype.RelayUrl) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
}

func (r *recorder) snapshot() []gossiptype.RelayUrl {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]gossiptype.RelayUrl, len(r.urls))
	copy(out, r.urls)
	return out
}

func TestSeekFindsEventAndStops(t *testing.T) {
	s := openTest(t)
	rec := &recorder{}
	sk := New(s, Config{
		SeekDeadline:     2 * time.Second,
		LingerAfterFound: 10 * time.Millisecond,
		PollInterval:     10 * time.Millisecond,
		StageInterval:    time.Second,
		NegativeCacheTTL: time.Second,
	}, Deps{
		Store: s,
		Subscribe: func(url gossiptype.RelayUrl, id gossiptype.EventId, jobId uint64) {
			rec.record(url)
		},
		ConnectedRelays: func() []gossiptype.RelayUrl { return []gossiptype.RelayUrl{"wss://relay.one"} },
	})

	sk.Seek("target", "")

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	_, err := s.InsertEvent(gossiptype.WrapEvent(nostr.Event{ID: "target", Kind: 1, Content: "found it"}), "wss://relay.one")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sk.mu.Lock()
		defer sk.mu.Unlock()
		_, busy := sk.active["target"]
		return !busy
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSeekGivesUpAndNegativeCaches(t *testing.T) {
	s := openTest(t)
	rec := &recorder{}
	sk := New(s, Config{
		SeekDeadline:     30 * time.Millisecond,
		LingerAfterFound: 10 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		StageInterval:    time.Second,
		NegativeCacheTTL: time.Hour,
	}, Deps{
		Store: s,
		Subscribe: func(url gossiptype.RelayUrl, id gossiptype.EventId, jobId uint64) {
			rec.record(url)
		},
		ConnectedRelays: func() []gossiptype.RelayUrl { return []gossiptype.RelayUrl{"wss://relay.one"} },
	})

	sk.Seek("missing", "")
	require.Eventually(t, func() bool {
		sk.mu.Lock()
		defer sk.mu.Unlock()
		_, cached := sk.giveUpAt["missing"]
		return cached
	}, time.Second, 5*time.Millisecond)

	before := len(rec.snapshot())
	sk.Seek("missing", "")
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, before, len(rec.snapshot()), "a negatively cached id must not re-subscribe")
}
