package minion

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/nbd-wtf/go-nostr"

	"github.com/gossipcore/gossip/internal/gossiptype"
	"github.com/gossipcore/gossip/internal/status"
)

// ConnState is one state of the per-relay machine of spec.md §4.6:
// Connecting -> Open -> {Idle, Subscribing, Posting, Authenticating,
// Closing} -> Closed.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateIdle
	StateSubscribing
	StatePosting
	StateAuthenticating
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StatePosting:
		return "posting"
	case StateAuthenticating:
		return "authenticating"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// InboundEvent pairs a received event with the relay it arrived from,
// the shape the Event Processor's Process method wants.
type InboundEvent struct {
	Event  gossiptype.Event
	Source gossiptype.RelayUrl
}

// Failure is reported to the Overlord's health watcher on minion exit,
// per spec.md §4.6: "(url, reason, reconnect_hint)".
type Failure struct {
	Url           gossiptype.RelayUrl
	Reason        string
	ReconnectHint bool
}

// PostResult is delivered back to whoever queued a Post command.
type PostResult struct {
	Accepted bool
	Message  string
	Err      error
}

// AuthRequest is handed to the Pending queue when a relay challenges
// this connection and no cached consent covers it.
type AuthRequest struct {
	Url       gossiptype.RelayUrl
	Challenge string
	Respond   func(approve bool)
}

// Config bundles everything a Minion needs from its caller.
type Config struct {
	Url             gossiptype.RelayUrl
	ConnectTimeout  time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64

	Events        chan<- InboundEvent // bounded, lossy under backpressure (spec.md §4.6)
	Failures      chan<- Failure
	Status        *status.Queue
	AutoAuth      func(challenge string) bool // nil means always defer to Pending
	RequestAuth   func(req AuthRequest)
	SignAuthEvent func(ctx context.Context, challenge string) (nostr.Event, error)
}

func DefaultConfig(url gossiptype.RelayUrl) Config {
	return Config{
		Url:             url,
		ConnectTimeout:  10 * time.Second,
		PingInterval:    25 * time.Second,
		MaxMessageBytes: 2 << 20,
	}
}

// command is the Overlord->Minion instruction channel.
type command struct {
	addSub   *addSubCmd
	closeSub string // handle
	post     *postCmd
	shutdown bool
}

type addSubCmd struct {
	handle  string
	filters []gossiptype.Filter
	jobId   uint64
	reason  gossiptype.RelayConnectionReason
	oneShot bool
}

type postCmd struct {
	event  nostr.Event
	result chan PostResult
}

// Minion owns exactly one relay connection, run as a single goroutine
// selecting over its command channel and its own websocket read loop's
// channel, per spec.md §4.6. Grounded in shape on the teacher's
// per-room async receive loop in nostr.go, generalized from "one
// channel subscription" to the full multi-subscription wire protocol.
type Minion struct {
	cfg Config

	state  atomic.Int32
	cmdCh  chan command
	doneCh chan struct{}

	subs *SubscriptionMap

	mu           sync.Mutex
	pendingPosts map[string]chan PostResult // keyed by event id
	failureCount uint64
}

func New(cfg Config) *Minion {
	m := &Minion{
		cfg:          cfg,
		cmdCh:        make(chan command, 32),
		doneCh:       make(chan struct{}),
		subs:         NewSubscriptionMap(),
		pendingPosts: make(map[string]chan PostResult),
	}
	m.state.Store(int32(StateConnecting))
	return m
}

func (m *Minion) State() ConnState { return ConnState(m.state.Load()) }

func (m *Minion) Done() <-chan struct{} { return m.doneCh }

// Subscribe queues a new subscription; returns once the minion has
// registered it (not once EOSE arrives).
func (m *Minion) Subscribe(handle string, filters []gossiptype.Filter, jobId uint64, reason gossiptype.RelayConnectionReason, oneShot bool) {
	select {
	case m.cmdCh <- command{addSub: &addSubCmd{handle: handle, filters: filters, jobId: jobId, reason: reason, oneShot: oneShot}}:
	case <-m.doneCh:
	}
}

// HasSubscription reports whether handle is currently registered, for
// callers (the Overlord's picker supervisor) deciding whether a refresh
// is actually needed.
func (m *Minion) HasSubscription(handle string) bool {
	return m.subs.Has(handle)
}

// HasAnySubscription reports whether any subscription is currently
// registered, used by the Overlord's picker supervisor to decide
// whether a minion the picker no longer chose is still earning its
// keep via some other (non-picker) subscription.
func (m *Minion) HasAnySubscription() bool {
	return m.subs.Len() > 0
}

func (m *Minion) Unsubscribe(handle string) {
	select {
	case m.cmdCh <- command{closeSub: handle}:
	case <-m.doneCh:
	}
}

// Post queues e for publication and blocks for the relay's OK, or ctx
// cancellation, whichever comes first.
func (m *Minion) Post(ctx context.Context, e nostr.Event) PostResult {
	resultCh := make(chan PostResult, 1)
	select {
	case m.cmdCh <- command{post: &postCmd{event: e, result: resultCh}}:
	case <-m.doneCh:
		return PostResult{Err: fmt.Errorf("minion closed")}
	}
	select {
	case r := <-resultCh:
		return r
	case <-ctx.Done():
		return PostResult{Err: ctx.Err()}
	case <-m.doneCh:
		return PostResult{Err: fmt.Errorf("minion closed")}
	}
}

func (m *Minion) Shutdown() {
	select {
	case m.cmdCh <- command{shutdown: true}:
	case <-m.doneCh:
	}
}

// Run dials the relay and drives the state machine until ctx is
// cancelled, the relay closes the socket, or Shutdown is called.
// Callers run this in its own goroutine.
func (m *Minion) Run(ctx context.Context) {
	defer close(m.doneCh)

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	conn, _, err := websocket.Dial(dialCtx, string(m.cfg.Url), nil)
	cancel()
	if err != nil {
		m.reportFailure("dial: "+err.Error(), true)
		return
	}
	if m.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(m.cfg.MaxMessageBytes)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	m.state.Store(int32(StateIdle))
	m.pushStatus(fmt.Sprintf("connected to %s", m.cfg.Url))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	inbound := make(chan wireMessage, 64)
	readErr := make(chan error, 1)
	go m.readLoop(runCtx, conn, inbound, readErr)

	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	lastPong := time.Now()

	for {
		select {
		case <-runCtx.Done():
			m.drainClose(conn)
			return

		case err := <-readErr:
			m.reportFailure("read: "+err.Error(), true)
			return

		case wm := <-inbound:
			m.handleWireMessage(runCtx, conn, wm, &lastPong)

		case cmd := <-m.cmdCh:
			if !m.handleCommand(runCtx, conn, cmd) {
				m.drainClose(conn)
				return
			}

		case <-ticker.C:
			if time.Since(lastPong) > 2*m.cfg.PingInterval {
				m.reportFailure("ping timeout", true)
				return
			}
			if err := conn.Ping(runCtx); err != nil {
				m.reportFailure("ping: "+err.Error(), true)
				return
			}
			lastPong = time.Now()
		}
	}
}

func (m *Minion) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- wireMessage, errc chan<- error) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case errc <- err:
			case <-ctx.Done():
			}
			return
		}
		wm, err := decodeWireMessage(data)
		if err != nil {
			continue // malformed frame from relay: ignore, per spec's tolerant-reader stance
		}
		select {
		case out <- wm:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Minion) handleWireMessage(ctx context.Context, conn *websocket.Conn, wm wireMessage, lastPong *time.Time) {
	switch wm.Label {
	case "EVENT":
		if wm.Event == nil {
			return
		}
		sub, ok := m.subs.GetByWireId(wm.WireId)
		if !ok {
			return
		}
		ev := gossiptype.WrapEvent(*wm.Event)
		select {
		case m.cfg.Events <- InboundEvent{Event: ev, Source: m.cfg.Url}:
		default:
			// bounded lossy channel full: apply backpressure by blocking
			// briefly rather than dropping silently, per spec.md §4.6.
			select {
			case m.cfg.Events <- InboundEvent{Event: ev, Source: m.cfg.Url}:
			case <-time.After(2 * time.Second):
				m.pushStatus(fmt.Sprintf("dropped event from %s: processor backpressure", m.cfg.Url))
			}
		}
		_ = sub

	case "EOSE":
		sub, oneShot := m.subs.MarkEose(wm.WireId)
		if sub != nil && oneShot {
			m.subs.Remove(sub.Handle)
			if data, err := encodeClose(wm.WireId); err == nil {
				_ = conn.Write(ctx, websocket.MessageText, data)
			}
		}

	case "CLOSED":
		if sub, ok := m.subs.GetByWireId(wm.WireId); ok {
			m.subs.Remove(sub.Handle)
		}

	case "OK":
		m.mu.Lock()
		ch, ok := m.pendingPosts[wm.WireId]
		if ok {
			delete(m.pendingPosts, wm.WireId)
		}
		m.mu.Unlock()
		if ok {
			var err error
			if !wm.Ok {
				err = &gossiptype.RelayRejectedError{Msg: wm.Message}
			}
			ch <- PostResult{Accepted: wm.Ok, Message: wm.Message, Err: err}
		}

	case "NOTICE":
		m.pushStatus(fmt.Sprintf("%s: %s", m.cfg.Url, wm.Message))

	case "AUTH":
		m.state.Store(int32(StateAuthenticating))
		m.handleAuthChallenge(ctx, conn, wm.Challenge)
		m.state.Store(int32(StateIdle))
	}
	*lastPong = time.Now()
}

func (m *Minion) handleAuthChallenge(ctx context.Context, conn *websocket.Conn, challenge string) {
	approve := false
	if m.cfg.AutoAuth != nil {
		approve = m.cfg.AutoAuth(challenge)
	} else if m.cfg.RequestAuth != nil {
		done := make(chan struct{})
		m.cfg.RequestAuth(AuthRequest{
			Url:       m.cfg.Url,
			Challenge: challenge,
			Respond: func(a bool) {
				approve = a
				close(done)
			},
		})
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	if !approve || m.cfg.SignAuthEvent == nil {
		return
	}
	ev, err := m.cfg.SignAuthEvent(ctx, challenge)
	if err != nil {
		m.pushStatus(fmt.Sprintf("auth sign failed for %s: %v", m.cfg.Url, err))
		return
	}
	data, err := encodeAuth(ev)
	if err != nil {
		return
	}
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func (m *Minion) handleCommand(ctx context.Context, conn *websocket.Conn, cmd command) bool {
	switch {
	case cmd.addSub != nil:
		m.state.Store(int32(StateSubscribing))
		// Resubscribing under a handle already in use (e.g. the picker
		// supervisor refreshing an author set) replaces it: CLOSE the old
		// wire id before opening the new one so the relay never carries
		// two live REQs for the same logical subscription.
		if old, ok := m.subs.Get(cmd.addSub.handle); ok {
			if data, err := encodeClose(old.WireId); err == nil {
				_ = conn.Write(ctx, websocket.MessageText, data)
			}
			m.subs.Remove(cmd.addSub.handle)
		}
		sub := m.subs.Add(cmd.addSub.handle, cmd.addSub.filters, cmd.addSub.jobId, cmd.addSub.reason, cmd.addSub.oneShot)
		data, err := encodeReq(sub.WireId, sub.Filters)
		if err == nil {
			_ = conn.Write(ctx, websocket.MessageText, data)
		}
		m.state.Store(int32(StateIdle))

	case cmd.closeSub != "":
		if sub, ok := m.subs.Get(cmd.closeSub); ok {
			data, err := encodeClose(sub.WireId)
			if err == nil {
				_ = conn.Write(ctx, websocket.MessageText, data)
			}
			m.subs.Remove(cmd.closeSub)
		}

	case cmd.post != nil:
		m.state.Store(int32(StatePosting))
		m.mu.Lock()
		m.pendingPosts[cmd.post.event.ID] = cmd.post.result
		m.mu.Unlock()
		data, err := encodeEvent(cmd.post.event)
		if err != nil {
			m.mu.Lock()
			delete(m.pendingPosts, cmd.post.event.ID)
			m.mu.Unlock()
			cmd.post.result <- PostResult{Err: err}
		} else if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			m.mu.Lock()
			delete(m.pendingPosts, cmd.post.event.ID)
			m.mu.Unlock()
			cmd.post.result <- PostResult{Err: err}
		}
		m.state.Store(int32(StateIdle))

	case cmd.shutdown:
		return false
	}
	return true
}

// drainClose sends CLOSE for every live subscription and waits briefly
// for CLOSED acks before the caller closes the socket, per spec.md
// §4.6's graceful-shutdown rule.
func (m *Minion) drainClose(conn *websocket.Conn) {
	m.state.Store(int32(StateClosing))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, sub := range m.subs.All() {
		if data, err := encodeClose(sub.WireId); err == nil {
			_ = conn.Write(ctx, websocket.MessageText, data)
		}
	}
	time.Sleep(200 * time.Millisecond) // grace period for CLOSED acks
	m.state.Store(int32(StateClosed))
}

func (m *Minion) reportFailure(reason string, reconnectHint bool) {
	m.state.Store(int32(StateClosed))
	atomic.AddUint64(&m.failureCount, 1)
	if m.cfg.Failures != nil {
		select {
		case m.cfg.Failures <- Failure{Url: m.cfg.Url, Reason: reason, ReconnectHint: reconnectHint}:
		default:
		}
	}
	m.pushStatus(fmt.Sprintf("%s disconnected: %s", m.cfg.Url, reason))
}

func (m *Minion) pushStatus(msg string) {
	if m.cfg.Status != nil {
		m.cfg.Status.Push(msg)
	}
}
