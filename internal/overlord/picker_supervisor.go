package overlord

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gossipcore/gossip/internal/gossiptype"
	"github.com/gossipcore/gossip/internal/minion"
	"github.com/gossipcore/gossip/internal/picker"
)

// runPicker reconciles live minions against the Relay Picker's output,
// per spec.md §4.7's "picker supervisor": spawn minions for newly-chosen
// relays, refresh their subscriptions when the author assignment
// changed, and stop minions no longer chosen unless a non-picker
// subscription (config, discovery, read-thread, DMs) still needs them.
func (o *Overlord) runPicker(ctx context.Context) {
	entries, err := o.store.PersonListRead(gossiptype.ListFollowed)
	if err != nil {
		o.status.Push(fmt.Sprintf("picker: read follow list: %v", err))
		return
	}
	authors := make([]gossiptype.PublicKey, 0, len(entries))
	for _, e := range entries {
		if !e.Paused {
			authors = append(authors, e.PubKey)
		}
	}

	var assocs []gossiptype.PersonRelayAssoc
	for _, a := range authors {
		as, err := o.store.PersonRelayAssocsFor(a)
		if err != nil {
			continue
		}
		assocs = append(assocs, as...)
	}

	relays, err := o.store.FilterRelays(func(r gossiptype.RelayRecord) bool { return !r.Hidden })
	if err != nil {
		o.status.Push(fmt.Sprintf("picker: read relays: %v", err))
		return
	}
	relayMap := make(map[gossiptype.RelayUrl]gossiptype.RelayRecord, len(relays))
	for _, r := range relays {
		relayMap[r.Url] = r
	}

	snap := picker.Snapshot{
		Now:       time.Now().Unix(),
		Authors:   authors,
		Assocs:    assocs,
		Relays:    relayMap,
		Excluded:  o.exclusion.AsOf(time.Now().Unix()),
		Direction: picker.DirectionWrite,
		Config: picker.Config{
			NumRelaysPerPerson: o.cfg.NumRelaysPerPerson,
			MaxTotalRelays:     o.cfg.MaxRelays,
			PerRelayAuthorCap:  0,
		},
	}
	result := picker.Pick(snap)
	if len(result.Uncovered) > 0 {
		o.status.Push(fmt.Sprintf("%d followed author(s) have no eligible relay", len(result.Uncovered)))
	}

	chosen := make(map[gossiptype.RelayUrl]bool, len(result.Chosen))
	for _, url := range result.Chosen {
		chosen[url] = true
		o.reconcileFollowSubscription(ctx, url, result.Assignment[url])
	}

	o.minions.Range(func(url gossiptype.RelayUrl, m *minion.Minion) bool {
		if chosen[url] {
			return true
		}
		if follow := "follow:" + string(url); m.HasSubscription(follow) {
			// Drop the picker's own subscription first; a later run stops
			// the minion once no other subscription holds it.
			m.Unsubscribe(follow)
			delete(o.lastAssignment, url)
			return true
		}
		if !m.HasAnySubscription() {
			o.stopMinion(url)
		}
		return true
	})
}

// reconcileFollowSubscription ensures url's minion carries a single
// "follow" handle subscribed to exactly authors, re-issuing the REQ
// only when the assigned set actually changed since the last tick.
func (o *Overlord) reconcileFollowSubscription(ctx context.Context, url gossiptype.RelayUrl, authors []gossiptype.PublicKey) {
	key := assignmentKey(authors)
	if o.lastAssignment[url] == key {
		return
	}
	o.lastAssignment[url] = key

	m := o.ensureMinion(ctx, url)
	pubkeys := make([]string, len(authors))
	for i, a := range authors {
		pubkeys[i] = string(a)
	}
	filter := gossiptype.Filter{
		Authors: pubkeys,
		Kinds:   []int{0, 1, 3, 5, 6, 7, 1059},
	}
	m.Subscribe("follow:"+string(url), []gossiptype.Filter{filter}, o.nextJobId(), gossiptype.ReasonFollow, false)
}

func assignmentKey(authors []gossiptype.PublicKey) string {
	keys := make([]string, len(authors))
	for i, a := range authors {
		keys[i] = string(a)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
