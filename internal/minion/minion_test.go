package minion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/gossipcore/gossip/internal/gossiptype"
)

func TestSubscriptionMapAddGetRemove(t *testing.T) {
	m := NewSubscriptionMap()
	sub := m.Add("handle-1", []gossiptype.Filter{{Kinds: []int{1}}}, 7, gossiptype.ReasonFollow, false)
	require.True(t, m.Has("handle-1"))
	byWire, ok := m.GetByWireId(sub.WireId)
	require.True(t, ok)
	require.Equal(t, "handle-1", byWire.Handle)

	m.Remove("handle-1")
	require.False(t, m.Has("handle-1"))
	_, ok = m.GetByWireId(sub.WireId)
	require.False(t, ok)
}

func TestWireEncodeDecodeRoundTrip(t *testing.T) {
	sk := strings.Repeat("3", 64)
	ev := nostr.Event{Kind: 1, Content: "hi"}
	require.NoError(t, ev.Sign(sk))

	raw, err := json.Marshal([]interface{}{"EVENT", "sub-1", ev})
	require.NoError(t, err)

	wm, err := decodeWireMessage(raw)
	require.NoError(t, err)
	require.Equal(t, "EVENT", wm.Label)
	require.Equal(t, "sub-1", wm.WireId)
	require.Equal(t, ev.ID, wm.Event.ID)

	reqData, err := encodeReq("sub-1", []gossiptype.Filter{{Kinds: []int{1}}})
	require.NoError(t, err)
	require.Contains(t, string(reqData), `"REQ"`)
	require.Contains(t, string(reqData), `"sub-1"`)
}

// newEchoRelay runs a minimal relay that, on REQ, replies with one
// canned EVENT then EOSE, and on EVENT, replies OK=true.
func newEchoRelay(t *testing.T, canned nostr.Event) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var arr []json.RawMessage
			if err := json.Unmarshal(data, &arr); err != nil {
				continue
			}
			var label string
			_ = json.Unmarshal(arr[0], &label)
			switch label {
			case "REQ":
				var wireId string
				_ = json.Unmarshal(arr[1], &wireId)
				evFrame, _ := json.Marshal([]interface{}{"EVENT", wireId, canned})
				_ = conn.Write(ctx, websocket.MessageText, evFrame)
				eoseFrame, _ := json.Marshal([]interface{}{"EOSE", wireId})
				_ = conn.Write(ctx, websocket.MessageText, eoseFrame)
			case "EVENT":
				var ev nostr.Event
				_ = json.Unmarshal(arr[1], &ev)
				okFrame, _ := json.Marshal([]interface{}{"OK", ev.ID, true, ""})
				_ = conn.Write(ctx, websocket.MessageText, okFrame)
			}
		}
	}))
	return srv
}

func TestMinionDeliversEventAndMarksEose(t *testing.T) {
	sk := strings.Repeat("4", 64)
	canned := nostr.Event{Kind: 1, Content: "from relay"}
	require.NoError(t, canned.Sign(sk))

	srv := newEchoRelay(t, canned)
	defer srv.Close()
	wsUrl := "ws" + strings.TrimPrefix(srv.URL, "http")

	events := make(chan InboundEvent, 8)
	cfg := DefaultConfig(gossiptype.RelayUrl(wsUrl))
	cfg.Events = events
	cfg.PingInterval = time.Hour

	m := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool { return m.State() != StateConnecting }, 2*time.Second, 10*time.Millisecond)

	m.Subscribe("feed", []gossiptype.Filter{{Kinds: []int{1}}}, 1, gossiptype.ReasonFollow, true)

	select {
	case in := <-events:
		require.Equal(t, canned.ID, in.Event.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	require.Eventually(t, func() bool { return !m.HasSubscription("feed") }, 2*time.Second, 10*time.Millisecond,
		"one-shot subscription must self-close after EOSE")
}

func TestMinionPostReceivesOk(t *testing.T) {
	srv := newEchoRelay(t, nostr.Event{})
	defer srv.Close()
	wsUrl := "ws" + strings.TrimPrefix(srv.URL, "http")

	cfg := DefaultConfig(gossiptype.RelayUrl(wsUrl))
	cfg.Events = make(chan InboundEvent, 8)
	cfg.PingInterval = time.Hour
	m := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool { return m.State() != StateConnecting }, 2*time.Second, 10*time.Millisecond)

	sk := strings.Repeat("5", 64)
	ev := nostr.Event{Kind: 1, Content: "post me"}
	require.NoError(t, ev.Sign(sk))

	res := m.Post(ctx, ev)
	require.NoError(t, res.Err)
	require.True(t, res.Accepted)
}
