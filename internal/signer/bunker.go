package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/gossipcore/gossip/internal/gossiptype"
)

// RemoteBunker is the fourth Signer variant of spec.md §4.2: the secret
// key never enters this process. Every capability is a NIP-46 request
// sent over a relay to a remote signer and awaited on the response.
// Wire shape follows the same request/response/kind-24133 envelope the
// teacher's NIP-46-adjacent code (nip19/keyer) already assumes exists
// beneath go-nostr's Keyer abstraction, built out by hand here since the
// teacher never talks to a bunker itself.
type RemoteBunker struct {
	bunkerPubKey gossiptype.PublicKey
	clientPubKey gossiptype.PublicKey
	clientSecret string
	relays       []gossiptype.RelayUrl
	secret       string // optional connection secret from the bunker:// URI

	mu      sync.Mutex
	pending map[string]chan bunkerResponse

	send func(ctx context.Context, e nostr.Event) error
}

type bunkerRequest struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type bunkerResponse struct {
	ID     string `json:"id"`
	Result string `json:"result"`
	Error  string `json:"error"`
}

var bunkerReqCounter atomic.Uint64

func nextBunkerReqId() string {
	return fmt.Sprintf("req-%d", bunkerReqCounter.Add(1))
}

// NewRemoteBunker constructs a bunker signer. send is supplied by the
// caller: it must publish e to relays and return once accepted for
// delivery.
func NewRemoteBunker(bunkerPubKey, clientPubKey gossiptype.PublicKey, clientSecret string, relays []gossiptype.RelayUrl, connectionSecret string, send func(ctx context.Context, e nostr.Event) error) *RemoteBunker {
	return &RemoteBunker{
		bunkerPubKey: bunkerPubKey,
		clientPubKey: clientPubKey,
		clientSecret: clientSecret,
		relays:       relays,
		secret:       connectionSecret,
		pending:      make(map[string]chan bunkerResponse),
		send:         send,
	}
}

func (b *RemoteBunker) State() State { return StateUnlocked }

func (b *RemoteBunker) PublicKey() (gossiptype.PublicKey, bool) { return b.bunkerPubKey, true }

// HandleResponse feeds a kind-24133 response event back to the waiting
// caller. The caller passes the already NIP-44-decrypted content; this
// method does no decryption itself, and no Minion routes events here.
func (b *RemoteBunker) HandleResponse(id, resultJSON string) {
	b.mu.Lock()
	ch, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	var resp bunkerResponse
	_ = json.Unmarshal([]byte(resultJSON), &resp)
	resp.ID = id
	ch <- resp
}

func (b *RemoteBunker) request(ctx context.Context, method string, params ...string) (string, error) {
	id := nextBunkerReqId()
	req := bunkerRequest{ID: id, Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	ciphertext, err := encryptFor(b.clientSecret, string(b.bunkerPubKey), string(payload), true)
	if err != nil {
		return "", fmt.Errorf("encrypt bunker request: %w", err)
	}
	ev := nostr.Event{
		PubKey:    string(b.clientPubKey),
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      gossiptype.KindNIP46Request,
		Tags:      nostr.Tags{{"p", string(b.bunkerPubKey)}},
		Content:   ciphertext,
	}
	if err := ev.Sign(b.clientSecret); err != nil {
		return "", fmt.Errorf("sign bunker request: %w", err)
	}

	ch := make(chan bunkerResponse, 1)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()

	if err := b.send(ctx, ev); err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return "", fmt.Errorf("publish bunker request: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return "", &gossiptype.RelayRejectedError{Msg: resp.Error}
		}
		return resp.Result, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return "", ctx.Err()
	}
}

func (b *RemoteBunker) Sign(ctx context.Context, e *nostr.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	result, err := b.request(ctx, "sign_event", string(payload))
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(result), e)
}

func (b *RemoteBunker) Encrypt(ctx context.Context, plaintext string, peer gossiptype.PublicKey, nip44 bool) (string, error) {
	method := "nip44_encrypt"
	if !nip44 {
		method = "nip04_encrypt"
	}
	return b.request(ctx, method, string(peer), plaintext)
}

func (b *RemoteBunker) Decrypt(ctx context.Context, ciphertext string, peer gossiptype.PublicKey) (string, error) {
	method := "nip44_decrypt"
	if looksLikeNip04(ciphertext) {
		method = "nip04_decrypt"
	}
	return b.request(ctx, method, string(peer), ciphertext)
}

// UnwrapGiftwrap is not delegable to a bunker under NIP-46 as commonly
// deployed: unwrapping requires the seal's NIP-44 conversation key with
// the wrap's ephemeral author, which no bunker method exposes. Gossip
// therefore cannot receive NIP-17 DMs while running key-remote-only,
// matching spec.md §9's framing of gift-wrap as a LocalKey-era feature.
func (b *RemoteBunker) UnwrapGiftwrap(ctx context.Context, wrap gossiptype.Event) (nostr.Event, error) {
	return nostr.Event{}, fmt.Errorf("unwrap gift wrap: %w", gossiptype.ErrNoPrivateKey)
}

var _ Signer = (*RemoteBunker)(nil)
var _ Signer = (*LocalSigner)(nil)
