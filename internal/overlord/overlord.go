// Package overlord implements the Overlord (spec.md §4.7): the
// singleton supervisor holding one Minion per connected relay, a
// serialized command loop, the picker supervisor that reconciles
// minions against the Relay Picker's output, and the health watcher
// that reacts to minion failures. Grounded on the teacher's model.go
// `Update` loop — a single goroutine draining one command channel and
// dispatching by message type — generalized from bubbletea messages to
// the Overlord's own Command closures.
package overlord

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/gossipcore/gossip/internal/config"
	"github.com/gossipcore/gossip/internal/feed"
	"github.com/gossipcore/gossip/internal/fetcher"
	"github.com/gossipcore/gossip/internal/gossiptype"
	"github.com/gossipcore/gossip/internal/minion"
	"github.com/gossipcore/gossip/internal/pending"
	"github.com/gossipcore/gossip/internal/picker"
	"github.com/gossipcore/gossip/internal/processor"
	"github.com/gossipcore/gossip/internal/seeker"
	"github.com/gossipcore/gossip/internal/signer"
	"github.com/gossipcore/gossip/internal/status"
	"github.com/gossipcore/gossip/internal/storage"
)

// Command is one unit of serialized work in the Overlord's loop — every
// state-mutating operation (follow, post, drop relay...) is wrapped as
// one of these so the loop never needs its own lock.
type Command func(ctx context.Context, o *Overlord) error

// Overlord wires together every other component and owns the one
// goroutine that is allowed to mutate shared picker/minion state.
type Overlord struct {
	cfg    config.Config
	store  *storage.Storage
	proc   *processor.Processor
	fetch  *fetcher.Fetcher
	sgn    signer.Signer
	pend   *pending.Queue
	status *status.Queue

	minions   *xsync.MapOf[gossiptype.RelayUrl, *minion.Minion]
	exclusion *picker.ExclusionSet

	feed *feed.Computer
	seek *seeker.Seeker

	lastAssignment map[gossiptype.RelayUrl]string

	events   chan minion.InboundEvent
	failures chan minion.Failure
	cmds     chan Command

	jobCounter atomic.Uint64
	rootCtx    atomic.Value // context.Context, set once Run starts
}

// Deps bundles the already-constructed components the Overlord shares.
type Deps struct {
	Store  *storage.Storage
	Proc   *processor.Processor
	Fetch  *fetcher.Fetcher
	Signer signer.Signer
	Pend   *pending.Queue
	Status *status.Queue
}

func New(cfg config.Config, deps Deps) *Overlord {
	o := &Overlord{
		cfg:            cfg,
		store:          deps.Store,
		proc:           deps.Proc,
		fetch:          deps.Fetch,
		sgn:            deps.Signer,
		pend:           deps.Pend,
		status:         deps.Status,
		minions:        xsync.NewMapOf[gossiptype.RelayUrl, *minion.Minion](),
		exclusion:      picker.NewExclusionSet(),
		lastAssignment: make(map[gossiptype.RelayUrl]string),
		events:         make(chan minion.InboundEvent, 512),
		failures:       make(chan minion.Failure, 32),
		cmds:           make(chan Command, 64),
	}

	seekCfg := seeker.DefaultConfig()
	if cfg.SeekDeadlineSecs > 0 {
		seekCfg.SeekDeadline = time.Duration(cfg.SeekDeadlineSecs) * time.Second
	}
	o.seek = seeker.New(deps.Store, seekCfg, seeker.Deps{
		Store:           deps.Store,
		Subscribe:       o.seekSubscribe,
		ConnectedRelays: o.connectedRelayUrls,
		WriteRelaysFor:  o.writeRelaysFor,
	})

	feedCfg := feed.Config{
		RecomputeInterval:       time.Duration(cfg.FeedRecomputeIntervalMs) * time.Millisecond,
		NewestAtBottom:          cfg.FeedNewestAtBottom,
		ShowDeletedEvents:       cfg.ShowDeletedEvents,
		Reactions:               cfg.Reactions,
		Reposts:                 cfg.Reposts,
		ShowLongForm:            cfg.ShowLongForm,
		AvoidSpamOnUnsafeRelays: cfg.AvoidSpamOnUnsafeRelays,
	}
	o.feed = feed.New(deps.Store, feedCfg, deps.Proc.Version, o.seek)
	return o
}

// Feed computes q against the current storage snapshot, per spec.md
// §4.8. Safe to call from any goroutine; it never touches Overlord's
// serialized command loop.
func (o *Overlord) Feed(q feed.Query) ([]gossiptype.EventId, error) {
	return o.feed.Compute(q)
}

func (o *Overlord) connectedRelayUrls() []gossiptype.RelayUrl {
	var urls []gossiptype.RelayUrl
	o.minions.Range(func(url gossiptype.RelayUrl, _ *minion.Minion) bool {
		urls = append(urls, url)
		return true
	})
	return urls
}

func (o *Overlord) writeRelaysFor(pk gossiptype.PublicKey) []gossiptype.RelayUrl {
	assocs, err := o.store.PersonRelayAssocsFor(pk)
	if err != nil {
		return nil
	}
	var urls []gossiptype.RelayUrl
	for _, a := range assocs {
		if a.Write {
			urls = append(urls, a.Url)
		}
	}
	return urls
}

// seekSubscribe is the Seeker's hook into relay connections: a transient
// one-shot FetchEvent subscription for exactly one id. The Minion it
// dials is tied to the Overlord's own lifetime (rootCtx), not the
// Seeker's per-request deadline, so the connection survives this one
// lookup and can be reused by the next.
func (o *Overlord) seekSubscribe(url gossiptype.RelayUrl, id gossiptype.EventId, jobId uint64) {
	ctx, _ := o.rootCtx.Load().(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}
	m := o.ensureMinion(ctx, url)
	m.Subscribe(fmt.Sprintf("seek:%s:%s", id, url), []gossiptype.Filter{{IDs: []string{string(id)}}}, jobId, gossiptype.ReasonFetchEvent, true)
}

// SetSigner installs (or replaces) the signer used for posting and
// authentication, e.g. once a key is unlocked after startup.
func (o *Overlord) SetSigner(s signer.Signer) {
	_ = o.enqueue(context.Background(), func(_ context.Context, o *Overlord) error {
		o.sgn = s
		return nil
	})
}

// Run drives the command loop, the picker supervisor, event ingestion,
// and the health watcher until ctx is cancelled. Callers run this once,
// in its own goroutine, for the lifetime of the process.
func (o *Overlord) Run(ctx context.Context) {
	o.rootCtx.Store(ctx)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	o.runPicker(ctx)

	for {
		select {
		case <-ctx.Done():
			o.shutdownAll()
			return

		case cmd := <-o.cmds:
			if err := cmd(ctx, o); err != nil {
				o.status.Push(fmt.Sprintf("command failed: %v", err))
			}

		case ev := <-o.events:
			if err := o.proc.Process(ctx, ev.Event, ev.Source); err != nil {
				o.status.Push(fmt.Sprintf("process event from %s: %v", ev.Source, err))
			}

		case f := <-o.failures:
			o.handleFailure(f)

		case <-ticker.C:
			o.runPicker(ctx)
		}
	}
}

func (o *Overlord) shutdownAll() {
	o.minions.Range(func(_ gossiptype.RelayUrl, m *minion.Minion) bool {
		m.Shutdown()
		return true
	})
}

// enqueue submits cmd to the command loop and blocks for its result or
// ctx cancellation, whichever comes first.
func (o *Overlord) enqueue(ctx context.Context, cmd Command) error {
	errCh := make(chan error, 1)
	wrapped := func(ctx context.Context, o *Overlord) error {
		err := cmd(ctx, o)
		errCh <- err
		return err
	}
	select {
	case o.cmds <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Overlord) nextJobId() uint64 { return o.jobCounter.Add(1) }

// handleFailure applies the health watcher's reaction of spec.md §4.7:
// exclude the relay for a window, then rerun the picker so its authors'
// `need` gets restored and reassigned elsewhere.
func (o *Overlord) handleFailure(f minion.Failure) {
	o.minions.Delete(f.Url)
	window := int64(60)
	if f.ReconnectHint {
		window = picker.ExclusionWindowFor(gossiptype.ReasonFollow)
	}
	o.exclusion.Exclude(f.Url, time.Now().Unix(), window)
	delete(o.lastAssignment, f.Url)
	_ = o.store.RecordFailure(f.Url)
	ctx, _ := o.rootCtx.Load().(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}
	o.runPicker(ctx)
}

// ensureMinion returns the running Minion for url, dialing a new one if
// none exists yet.
func (o *Overlord) ensureMinion(ctx context.Context, url gossiptype.RelayUrl) *minion.Minion {
	if m, ok := o.minions.Load(url); ok {
		return m
	}
	mcfg := minion.DefaultConfig(url)
	mcfg.Events = o.events
	mcfg.Failures = o.failures
	mcfg.Status = o.status
	mcfg.RequestAuth = o.requestAuth
	mcfg.SignAuthEvent = func(ctx context.Context, challenge string) (nostr.Event, error) {
		return o.buildAuthEvent(ctx, url, challenge)
	}
	if !o.cfg.RelayAuthRequiresApproval {
		mcfg.AutoAuth = func(string) bool { return true }
	}
	if o.cfg.WebsocketPingFrequencySec > 0 {
		mcfg.PingInterval = time.Duration(o.cfg.WebsocketPingFrequencySec) * time.Second
	}
	if o.cfg.WebsocketConnectTimeoutSec > 0 {
		mcfg.ConnectTimeout = time.Duration(o.cfg.WebsocketConnectTimeoutSec) * time.Second
	}
	if o.cfg.MaxWebsocketMessageSizeKb > 0 {
		mcfg.MaxMessageBytes = int64(o.cfg.MaxWebsocketMessageSizeKb) * 1024
	}

	m := minion.New(mcfg)
	o.minions.Store(url, m)
	go func() {
		m.Run(ctx)
		o.minions.Delete(url)
	}()
	return m
}

func (o *Overlord) stopMinion(url gossiptype.RelayUrl) {
	if m, ok := o.minions.Load(url); ok {
		m.Shutdown()
	}
	delete(o.lastAssignment, url)
}

func (o *Overlord) requestAuth(req minion.AuthRequest) {
	o.pend.Add(pending.Item{
		Key:     "auth:" + string(req.Url),
		Kind:    pending.KindRelayAuthenticationRequest,
		Detail:  req.Challenge,
		Resolve: func(approve, _ bool) { req.Respond(approve) },
	})
}

func (o *Overlord) buildAuthEvent(ctx context.Context, url gossiptype.RelayUrl, challenge string) (nostr.Event, error) {
	if o.sgn == nil {
		return nostr.Event{}, gossiptype.ErrNoPrivateKey
	}
	pub, ok := o.sgn.PublicKey()
	if !ok {
		return nostr.Event{}, gossiptype.ErrNoPrivateKey
	}
	ev := nostr.Event{
		PubKey:    string(pub),
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      22242,
		Tags:      nostr.Tags{{"relay", string(url)}, {"challenge", challenge}},
	}
	if err := o.sgn.Sign(ctx, &ev); err != nil {
		return nostr.Event{}, err
	}
	return ev, nil
}
