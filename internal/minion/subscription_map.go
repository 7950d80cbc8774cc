// Package minion implements the per-relay connection state machine
// (spec.md §4.6): one goroutine per RelayUrl, multiplexing
// subscriptions, handling AUTH challenges, and forwarding inbound
// events to the Event Processor with backpressure. Grounded on the
// teacher's per-room goroutine pattern in `nostr.go` (each
// `subscribeChannelCmd` spins up a receive loop) generalized into the
// full state machine; the subscription bookkeeping itself is grounded
// directly on gossip-lib's `subscription_map.rs`.
package minion

import (
	"sync"

	"github.com/gossipcore/gossip/internal/gossiptype"
)

// Subscription is an alias to the gossiptype row shape so the map here
// and the wire-protocol code share one definition.
type Subscription = gossiptype.Subscription

// SubscriptionMap is keyed two ways at once — by caller handle and by
// wire id — exactly as gossip-lib's subscription_map.rs keeps both
// directions so a handle-based command and an id-based wire reply can
// each find the row in O(1).
type SubscriptionMap struct {
	mu          sync.Mutex
	byHandle    map[string]*Subscription
	byWireId    map[string]*Subscription
	nextWireId  uint64
}

func NewSubscriptionMap() *SubscriptionMap {
	return &SubscriptionMap{
		byHandle: make(map[string]*Subscription),
		byWireId: make(map[string]*Subscription),
	}
}

// Add registers a new subscription under handle, allocating a fresh
// wire id, and returns it.
func (m *SubscriptionMap) Add(handle string, filters []gossiptype.Filter, jobId uint64, reason gossiptype.RelayConnectionReason, oneShot bool) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextWireId++
	sub := &Subscription{
		Handle:  handle,
		WireId:  wireIdFor(m.nextWireId),
		Filters: filters,
		JobId:   jobId,
		Reason:  reason,
		OneShot: oneShot,
	}
	m.byHandle[handle] = sub
	m.byWireId[sub.WireId] = sub
	return sub
}

func wireIdFor(n uint64) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "0"
	}
	buf := make([]byte, 0, 8)
	for n > 0 {
		buf = append(buf, alphabet[n%uint64(len(alphabet))])
		n /= uint64(len(alphabet))
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

func (m *SubscriptionMap) Has(handle string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byHandle[handle]
	return ok
}

func (m *SubscriptionMap) Get(handle string) (*Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byHandle[handle]
	return s, ok
}

func (m *SubscriptionMap) GetByWireId(wireId string) (*Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byWireId[wireId]
	return s, ok
}

// GetAllHandlesMatching returns every handle whose reason matches pred.
func (m *SubscriptionMap) GetAllHandlesMatching(pred func(gossiptype.RelayConnectionReason) bool) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for handle, sub := range m.byHandle {
		if pred(sub.Reason) {
			out = append(out, handle)
		}
	}
	return out
}

// MarkEose flips the eose flag for the subscription owning wireId, and
// reports whether it was one-shot (the caller should then Remove it and
// send CLOSE).
func (m *SubscriptionMap) MarkEose(wireId string) (sub *Subscription, oneShot bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byWireId[wireId]
	if !ok {
		return nil, false
	}
	s.Eose = true
	return s, s.OneShot
}

func (m *SubscriptionMap) Remove(handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byHandle[handle]; ok {
		delete(m.byWireId, s.WireId)
		delete(m.byHandle, handle)
	}
}

func (m *SubscriptionMap) All() []*Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Subscription, 0, len(m.byHandle))
	for _, s := range m.byHandle {
		out = append(out, s)
	}
	return out
}

func (m *SubscriptionMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byHandle)
}
