package overlord

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/gossipcore/gossip/internal/gossiptype"
)

// AddRelay records relay for usage (read/write/...) and lets the next
// picker tick pick it up if it now covers a followed author.
func (o *Overlord) AddRelay(ctx context.Context, url gossiptype.RelayUrl, usage gossiptype.UsageBit) error {
	return o.enqueue(ctx, func(_ context.Context, o *Overlord) error {
		rec, err := o.store.ReadOrCreateRelay(url)
		if err != nil {
			return err
		}
		rec.Usage |= usage
		return o.store.PutRelay(rec)
	})
}

// DropRelay stops any live minion for url and hides it from future
// picker consideration.
func (o *Overlord) DropRelay(ctx context.Context, url gossiptype.RelayUrl) error {
	return o.enqueue(ctx, func(_ context.Context, o *Overlord) error {
		rec, err := o.store.ReadOrCreateRelay(url)
		if err != nil {
			return err
		}
		rec.Hidden = true
		if err := o.store.PutRelay(rec); err != nil {
			return err
		}
		o.stopMinion(url)
		return nil
	})
}

func (o *Overlord) Follow(ctx context.Context, pk gossiptype.PublicKey, private bool) error {
	return o.enqueue(ctx, func(_ context.Context, o *Overlord) error {
		return o.store.PersonListAdd(gossiptype.ListFollowed, gossiptype.PersonListEntry{PubKey: pk, Private: private}, time.Now().Unix())
	})
}

func (o *Overlord) Unfollow(ctx context.Context, pk gossiptype.PublicKey) error {
	return o.enqueue(ctx, func(_ context.Context, o *Overlord) error {
		return o.store.PersonListRemove(gossiptype.ListFollowed, pk, time.Now().Unix())
	})
}

func (o *Overlord) UpdatePersonList(ctx context.Context, list int, add []gossiptype.PersonListEntry, remove []gossiptype.PublicKey) error {
	return o.enqueue(ctx, func(_ context.Context, o *Overlord) error {
		now := time.Now().Unix()
		for _, pk := range remove {
			if err := o.store.PersonListRemove(list, pk, now); err != nil {
				return err
			}
		}
		for _, entry := range add {
			if err := o.store.PersonListAdd(list, entry, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (o *Overlord) SetActivePerson(ctx context.Context, pk gossiptype.PublicKey) error {
	return o.enqueue(ctx, func(_ context.Context, o *Overlord) error {
		return o.store.SetGeneral("active_person", []byte(pk))
	})
}

// sign builds, signs, persists locally, and publishes an event to
// every relay currently marked for write usage. Returns the stored id.
func (o *Overlord) sign(ctx context.Context, kind int, content string, tags nostr.Tags) (gossiptype.EventId, error) {
	if o.sgn == nil {
		return "", fmt.Errorf("post: %w", gossiptype.ErrNoPrivateKey)
	}
	pub, ok := o.sgn.PublicKey()
	if !ok {
		return "", fmt.Errorf("post: %w", gossiptype.ErrNoPrivateKey)
	}
	ev := nostr.Event{
		PubKey:    string(pub),
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	if err := o.sgn.Sign(ctx, &ev); err != nil {
		return "", err
	}
	wrapped := gossiptype.WrapEvent(ev)
	// Route locally-authored events through the same Processor pipeline
	// as relay-received ones, so relationship extraction (deletes,
	// reactions, reposts...) happens exactly once regardless of origin.
	if err := o.proc.Process(ctx, wrapped, ""); err != nil {
		return "", err
	}
	o.publishToWriteRelays(ctx, ev)
	return wrapped.Id(), nil
}

func (o *Overlord) publishToWriteRelays(ctx context.Context, ev nostr.Event) {
	relays, err := o.store.FilterRelays(func(r gossiptype.RelayRecord) bool { return r.Has(gossiptype.UsageWrite) && !r.Hidden })
	if err != nil || len(relays) == 0 {
		o.status.Push("no write relays configured; event stored locally only")
		return
	}
	minionCtx, _ := o.rootCtx.Load().(context.Context)
	if minionCtx == nil {
		minionCtx = ctx
	}
	for _, r := range relays {
		m := o.ensureMinion(minionCtx, r.Url)
		go func(url gossiptype.RelayUrl, ev nostr.Event) {
			postCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			res := m.Post(postCtx, ev)
			if res.Err != nil {
				o.status.Push(fmt.Sprintf("publish to %s failed: %v", url, res.Err))
			}
		}(r.Url, ev)
	}
}

func (o *Overlord) Post(ctx context.Context, content string, tags nostr.Tags) (gossiptype.EventId, error) {
	var id gossiptype.EventId
	err := o.enqueue(ctx, func(ctx context.Context, o *Overlord) error {
		var err error
		id, err = o.sign(ctx, gossiptype.KindTextNote, content, tags)
		return err
	})
	return id, err
}

func (o *Overlord) DeletePost(ctx context.Context, target gossiptype.EventId, reason string) error {
	return o.enqueue(ctx, func(ctx context.Context, o *Overlord) error {
		_, err := o.sign(ctx, gossiptype.KindDeletion, reason, nostr.Tags{{"e", string(target)}})
		return err
	})
}

func (o *Overlord) React(ctx context.Context, target gossiptype.EventId, emoji string) error {
	return o.enqueue(ctx, func(ctx context.Context, o *Overlord) error {
		_, err := o.sign(ctx, gossiptype.KindReaction, emoji, nostr.Tags{{"e", string(target)}})
		return err
	})
}

// Repost embeds the original event JSON per NIP-18 when it is already
// in storage; a repost of an event this node has never seen still
// publishes the bare e-tag (the receiving relay/clients resolve it).
func (o *Overlord) Repost(ctx context.Context, target gossiptype.EventId) (gossiptype.EventId, error) {
	var id gossiptype.EventId
	err := o.enqueue(ctx, func(ctx context.Context, o *Overlord) error {
		content := ""
		if original, err := o.store.GetEvent(target); err == nil {
			if raw, err := json.Marshal(original.Event); err == nil {
				content = string(raw)
			}
		}
		rid, err := o.sign(ctx, gossiptype.KindRepost, content, nostr.Tags{{"e", string(target)}})
		id = rid
		return err
	})
	return id, err
}

// AdvertiseRelayList publishes a NIP-65 kind-10002 event listing every
// non-hidden relay that has read or write usage; a relay with only one
// of the two gets a read or write marker.
func (o *Overlord) AdvertiseRelayList(ctx context.Context) error {
	return o.enqueue(ctx, func(ctx context.Context, o *Overlord) error {
		relays, err := o.store.FilterRelays(func(r gossiptype.RelayRecord) bool { return !r.Hidden })
		if err != nil {
			return err
		}
		tags := make(nostr.Tags, 0, len(relays))
		for _, r := range relays {
			marker := ""
			switch {
			case r.Has(gossiptype.UsageRead) && r.Has(gossiptype.UsageWrite):
				marker = ""
			case r.Has(gossiptype.UsageRead):
				marker = "read"
			case r.Has(gossiptype.UsageWrite):
				marker = "write"
			default:
				continue
			}
			if marker == "" {
				tags = append(tags, nostr.Tag{"r", string(r.Url)})
			} else {
				tags = append(tags, nostr.Tag{"r", string(r.Url), marker})
			}
		}
		_, err = o.sign(ctx, gossiptype.KindRelayListMeta, "", tags)
		return err
	})
}

// ZapRequest builds and signs the NIP-57 kind-9734 zap request for
// target, to be handed to the recipient's LNURL-pay callback. The
// HTTP round trip to that callback is deliberately left to the caller
// (the UI layer) since it needs the recipient's lud16 metadata, which
// this package has no business resolving — see DESIGN.md.
func (o *Overlord) ZapRequest(ctx context.Context, target gossiptype.EventId, recipient gossiptype.PublicKey, amountMsats int64, comment string, relays []gossiptype.RelayUrl) (nostr.Event, error) {
	if o.sgn == nil {
		return nostr.Event{}, fmt.Errorf("zap: %w", gossiptype.ErrNoPrivateKey)
	}
	pub, ok := o.sgn.PublicKey()
	if !ok {
		return nostr.Event{}, fmt.Errorf("zap: %w", gossiptype.ErrNoPrivateKey)
	}
	relayStrs := make([]string, len(relays))
	for i, r := range relays {
		relayStrs[i] = string(r)
	}
	ev := nostr.Event{
		PubKey:    string(pub),
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      gossiptype.KindZapRequest,
		Content:   comment,
		Tags: nostr.Tags{
			{"p", string(recipient)},
			{"e", string(target)},
			{"amount", fmt.Sprintf("%d", amountMsats)},
			append(nostr.Tag{"relays"}, relayStrs...),
		},
	}
	if err := o.sgn.Sign(ctx, &ev); err != nil {
		return nostr.Event{}, err
	}
	return ev, nil
}
