// Package processor implements the Event Processor (spec.md §4.4): the
// eight-step pipeline that turns a raw (Event, source) pair into
// persisted state and a relationship graph. Grounded on the teacher's
// `nostr.go` ingestion callbacks (`subscribeChannelCmd`'s per-event
// handling) generalized from "append to a UI list" into the full
// verify/accept/decrypt/persist/link pipeline this core needs.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/gossipcore/gossip/internal/gossiptype"
	"github.com/gossipcore/gossip/internal/signer"
	"github.com/gossipcore/gossip/internal/status"
	"github.com/gossipcore/gossip/internal/storage"
)

// Config is the subset of internal/config.Config the processor consults.
type Config struct {
	FutureAllowanceSecs int64
	EnabledKinds        map[int]bool // nil means "all kinds enabled"
}

// Processor owns the version counter Feed Computer polls and the
// signer used to unwrap gift-wrapped DMs addressed to the local key.
type Processor struct {
	store   *storage.Storage
	signer  signer.Signer // may be nil: then every gift-wrap is stored wrapped, undecrypted
	status  *status.Queue
	cfg     Config
	version atomic.Uint64
}

func New(store *storage.Storage, sgn signer.Signer, st *status.Queue, cfg Config) *Processor {
	return &Processor{store: store, signer: sgn, status: st, cfg: cfg}
}

// Version returns the current watcher-notification counter (spec.md §4.4
// step 8). The Feed Computer compares this across polls to know whether
// a recompute is worthwhile.
func (p *Processor) Version() uint64 { return p.version.Load() }

func (p *Processor) bumpVersion() { p.version.Add(1) }

// Process runs the full pipeline for one event arriving from source (the
// empty RelayUrl meaning "locally authored, not yet published").
func (p *Processor) Process(ctx context.Context, e gossiptype.Event, source gossiptype.RelayUrl) error {
	now := time.Now().Unix()

	// Step 1: dedupe. Per the stated law ("ingesting the same event
	// twice is a no-op beyond updating seen_on") a duplicate only
	// touches seen_on; relationships were already extracted on first
	// ingest and re-extraction would be redundant, not incorrect, but
	// skipping it keeps the law's "no-op" literal.
	if has, err := p.store.HasEvent(e.Id()); err != nil {
		return fmt.Errorf("check existing event: %w", err)
	} else if has {
		if source != "" {
			if err := p.store.MarkSeenOn(e.Id(), source, now); err != nil {
				return fmt.Errorf("mark seen on duplicate: %w", err)
			}
		}
		return nil
	}

	// Step 2: verify hash + signature.
	if err := e.VerifyHashAndSig(); err != nil {
		p.pushStatus(fmt.Sprintf("dropped invalid event %s: %v", gossiptype.ShortOf(e.ID), err))
		return nil // per-event errors are non-fatal
	}

	// Step 3: accept-policy.
	allowance := p.cfg.FutureAllowanceSecs
	if allowance == 0 {
		allowance = 900
	}
	if int64(e.CreatedAt) > now+allowance {
		p.pushStatus(fmt.Sprintf("dropped future-dated event %s", gossiptype.ShortOf(e.ID)))
		return nil
	}
	if p.cfg.EnabledKinds != nil && !p.cfg.EnabledKinds[e.Kind] {
		return nil
	}
	if e.Class() == gossiptype.KindEphemeral {
		// Ephemerals are handled in-memory only; the processor's job
		// here ends at delivering them to live subscribers, which is
		// the Minion's concern, not Storage's.
		p.bumpVersion()
		return nil
	}

	// Step 4: decrypt if gift-wrapped.
	var rumor *nostr.Event
	if e.Kind == gossiptype.KindGiftWrap && p.signer != nil {
		if unwrapped, err := p.signer.UnwrapGiftwrap(ctx, e); err == nil {
			rumor = &unwrapped
		} else {
			p.pushStatus(fmt.Sprintf("gift wrap %s could not be unwrapped: %v", gossiptype.ShortOf(e.ID), err))
		}
	}

	// Step 5: persist. For gift-wraps the rumor is materialized with the
	// envelope's id — the stored row holds the decrypted rumor content
	// (so the DM channel has something to display) but keeps the wrap's
	// id, so addressability and deletion semantics attach to the
	// envelope rather than to an id the relay never saw.
	stored := e
	if rumor != nil {
		stored = gossiptype.WrapEvent(*rumor)
		stored.ID = e.ID
		stored.PubKey = rumor.PubKey
	}
	inserted, err := p.store.InsertEvent(stored, source)
	if err != nil {
		return fmt.Errorf("persist event %s: %w", e.ID, err)
	}
	if !inserted {
		return nil
	}

	// Step 6: extract relationships from whichever form was stored.
	if err := p.extractRelationships(stored); err != nil {
		return fmt.Errorf("extract relationships: %w", err)
	}

	// Step 7: update seen-on.
	if source != "" {
		if err := p.store.MarkSeenOn(e.Id(), source, now); err != nil {
			return fmt.Errorf("mark seen on: %w", err)
		}
	}

	// Step 8: notify watchers.
	p.bumpVersion()
	return nil
}

func (p *Processor) pushStatus(msg string) {
	if p.status != nil {
		p.status.Push(msg)
	}
}

// extractRelationships is spec.md §4.4 step 6, dispatched by kind. id is
// taken from e (which for gift-wrapped rumors is the envelope's id, not
// the rumor's original id — see the caller above).
func (p *Processor) extractRelationships(e gossiptype.Event) error {
	source := gossiptype.EventId(e.ID)

	switch e.Kind {
	case gossiptype.KindDeletion, gossiptype.KindRepost, gossiptype.KindGenericRepost,
		gossiptype.KindReaction, gossiptype.KindZapReceipt, gossiptype.KindLabel:
		// These kinds' e-tags name the target of their own edge below,
		// not a reply parent.
	default:
		if target, ok := gossiptype.ReplyTarget(e.Tags); ok {
			if err := p.store.AddRelationshipById(gossiptype.RelationshipById{
				Source: source, Target: target, Variant: gossiptype.RelRepliesTo,
			}); err != nil {
				return err
			}
		}
	}
	for _, q := range gossiptype.QTags(e.Tags) {
		if err := p.store.AddRelationshipById(gossiptype.RelationshipById{
			Source: source, Target: q, Variant: gossiptype.RelQuotes,
		}); err != nil {
			return err
		}
	}

	switch e.Kind {
	case gossiptype.KindDeletion:
		return p.extractDeletion(e)
	case gossiptype.KindRepost, gossiptype.KindGenericRepost:
		return p.extractRepost(e)
	case gossiptype.KindReaction:
		return p.extractReaction(e)
	case gossiptype.KindZapReceipt:
		return p.extractZap(e)
	case gossiptype.KindLabel:
		return p.extractLabel(e)
	}
	return nil
}

// extractDeletion implements Testable Property 6 and scenario S4: a
// deletion edge is only written when the deleter is the target's
// author.
func (p *Processor) extractDeletion(e gossiptype.Event) error {
	for _, et := range gossiptype.ETags(e.Tags) {
		target, err := p.store.GetEvent(et.EventId)
		if err == gossiptype.ErrNotFound {
			continue // target unseen: nothing to reconcile yet, per §8 invariant 2
		}
		if err != nil {
			return err
		}
		if target.PubKey != e.PubKey {
			continue // author mismatch: discard the edge, S4
		}
		if err := p.store.AddRelationshipById(gossiptype.RelationshipById{
			Source: gossiptype.EventId(e.ID), Target: et.EventId, Variant: gossiptype.RelDeletes,
			DeletedBy: gossiptype.PublicKey(e.PubKey), Reason: e.Content,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) extractRepost(e gossiptype.Event) error {
	for _, et := range gossiptype.ETags(e.Tags) {
		if err := p.store.AddRelationshipById(gossiptype.RelationshipById{
			Source: gossiptype.EventId(e.ID), Target: et.EventId, Variant: gossiptype.RelReposts,
		}); err != nil {
			return err
		}
	}
	// Embedded inner event in content, if present, is display-only per
	// the Open Question decision recorded in DESIGN.md — parsed here
	// only far enough to confirm it's well-formed JSON; never persisted
	// as its own row or relationship.
	if e.Content != "" {
		var embedded map[string]any
		_ = json.Unmarshal([]byte(e.Content), &embedded) // best-effort; display concern, not ours
	}
	return nil
}

func (p *Processor) extractReaction(e gossiptype.Event) error {
	for _, et := range gossiptype.ETags(e.Tags) {
		if err := p.store.AddRelationshipById(gossiptype.RelationshipById{
			Source: gossiptype.EventId(e.ID), Target: et.EventId, Variant: gossiptype.RelReactsTo,
			ReactBy: gossiptype.PublicKey(e.PubKey), Reaction: e.Content,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) extractZap(e gossiptype.Event) error {
	amount, sender, ok := parseZapReceipt(e)
	if !ok {
		return nil
	}
	for _, et := range gossiptype.ETags(e.Tags) {
		if err := p.store.AddRelationshipById(gossiptype.RelationshipById{
			Source: gossiptype.EventId(e.ID), Target: et.EventId, Variant: gossiptype.RelZaps,
			ZapBy: sender, ZapAmount: amount,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) extractLabel(e gossiptype.Event) error {
	ns := gossiptype.FirstTagValue(e.Tags, "L")
	for _, et := range gossiptype.ETags(e.Tags) {
		if err := p.store.AddRelationshipById(gossiptype.RelationshipById{
			Source: gossiptype.EventId(e.ID), Target: et.EventId, Variant: gossiptype.RelLabels,
			Label: e.Content, Namespace: ns,
		}); err != nil {
			return err
		}
	}
	return nil
}
