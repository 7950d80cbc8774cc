// Package seeker implements the Seeker (spec.md §4.9): progressive
// relay-set expansion to locate one event id, giving up after a
// deadline and remembering the failure so callers don't busy-loop.
//
// Grounded on internal/fetcher's bounded, coalescing, negatively-cached
// fetch model (per-host exclusion window on failure) generalized from
// "one HTTP GET" to "ask a widening set of relays, then wait for the
// Event Processor to report the id as stored" — the Seeker never reads
// relay wire traffic directly, it drives Minion subscriptions through a
// caller-supplied hook and polls Storage for the ingested result, since
// that's the same signal the rest of the core already trusts.
package seeker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gossipcore/gossip/internal/gossiptype"
	"github.com/gossipcore/gossip/internal/storage"
)

// SubscribeFunc asks whatever owns relay connections (the Overlord) to
// open a transient one-shot subscription for id on url. Implementations
// are expected to lazily connect url if no Minion is live for it yet.
type SubscribeFunc func(url gossiptype.RelayUrl, id gossiptype.EventId, jobId uint64)

// Deps wires the Seeker to the rest of the core without importing
// internal/overlord (which would cycle back through internal/feed).
type Deps struct {
	Store            *storage.Storage
	Subscribe        SubscribeFunc
	ConnectedRelays  func() []gossiptype.RelayUrl
	WriteRelaysFor   func(pk gossiptype.PublicKey) []gossiptype.RelayUrl
}

// Config mirrors the relevant internal/config.Config fields.
type Config struct {
	SeekDeadline    time.Duration
	LingerAfterFound time.Duration
	PollInterval    time.Duration
	StageInterval   time.Duration
	NegativeCacheTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		SeekDeadline:     15 * time.Second,
		LingerAfterFound: 2 * time.Second,
		PollInterval:     300 * time.Millisecond,
		StageInterval:    3 * time.Second,
		NegativeCacheTTL: 60 * time.Second,
	}
}

type job struct {
	id     gossiptype.EventId
	author gossiptype.PublicKey
	hints  []gossiptype.RelayUrl
}

// Seeker is safe for concurrent use.
type Seeker struct {
	store *storage.Storage
	cfg   Config
	deps  Deps
	jobId atomic.Uint64

	mu       sync.Mutex
	active   map[gossiptype.EventId]struct{}
	giveUpAt map[gossiptype.EventId]time.Time
}

func New(store *storage.Storage, cfg Config, deps Deps) *Seeker {
	return &Seeker{
		store:    store,
		cfg:      cfg,
		deps:     deps,
		active:   make(map[gossiptype.EventId]struct{}),
		giveUpAt: make(map[gossiptype.EventId]time.Time),
	}
}

// Seek implements internal/feed.Seeker. Duplicate concurrent seeks for
// the same id coalesce into the one already running; a recent failed
// seek is not retried until its negative-cache window expires.
func (s *Seeker) Seek(id gossiptype.EventId, author gossiptype.PublicKey) {
	s.seek(id, author, nil)
}

// SeekWithHints is Seek plus relay hints from a nevent/naddr reference,
// tried before the author's write relays or currently-connected ones.
func (s *Seeker) SeekWithHints(id gossiptype.EventId, author gossiptype.PublicKey, hints []gossiptype.RelayUrl) {
	s.seek(id, author, hints)
}

func (s *Seeker) seek(id gossiptype.EventId, author gossiptype.PublicKey, hints []gossiptype.RelayUrl) {
	if has, err := s.store.HasEvent(id); err == nil && has {
		return
	}
	s.mu.Lock()
	if _, busy := s.active[id]; busy {
		s.mu.Unlock()
		return
	}
	if until, cached := s.giveUpAt[id]; cached && time.Now().Before(until) {
		s.mu.Unlock()
		return
	}
	s.active[id] = struct{}{}
	s.mu.Unlock()

	go s.run(job{id: id, author: author, hints: hints})
}

func (s *Seeker) run(j job) {
	defer func() {
		s.mu.Lock()
		delete(s.active, j.id)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SeekDeadline)
	defer cancel()

	stages := s.buildStages(j)
	tried := map[gossiptype.RelayUrl]bool{}
	stageTicker := time.NewTicker(s.cfg.StageInterval)
	defer stageTicker.Stop()
	pollTicker := time.NewTicker(s.cfg.PollInterval)
	defer pollTicker.Stop()

	stageIdx := 0
	advance := func() {
		if stageIdx >= len(stages) {
			return
		}
		for _, url := range stages[stageIdx] {
			if tried[url] {
				continue
			}
			tried[url] = true
			s.deps.Subscribe(url, j.id, s.jobId.Add(1))
		}
		stageIdx++
	}
	advance()

	for {
		select {
		case <-pollTicker.C:
			if has, err := s.store.HasEvent(j.id); err == nil && has {
				time.Sleep(s.cfg.LingerAfterFound)
				return
			}
		case <-stageTicker.C:
			advance()
		case <-ctx.Done():
			s.mu.Lock()
			s.giveUpAt[j.id] = time.Now().Add(s.cfg.NegativeCacheTTL)
			s.mu.Unlock()
			return
		}
	}
}

// buildStages returns the progressively widening relay sets of
// spec.md §4.9: hints, then the author's known write relays, then
// whatever is currently connected.
func (s *Seeker) buildStages(j job) [][]gossiptype.RelayUrl {
	var stages [][]gossiptype.RelayUrl
	if len(j.hints) > 0 {
		stages = append(stages, j.hints)
	}
	if j.author != "" && s.deps.WriteRelaysFor != nil {
		if relays := s.deps.WriteRelaysFor(j.author); len(relays) > 0 {
			stages = append(stages, relays)
		}
	}
	if s.deps.ConnectedRelays != nil {
		if relays := s.deps.ConnectedRelays(); len(relays) > 0 {
			stages = append(stages, relays)
		}
	}
	return stages
}
