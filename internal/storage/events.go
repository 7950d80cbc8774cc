package storage

import (
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/gossipcore/gossip/internal/gossiptype"
)

// InsertEvent persists e, idempotent on its EventId. If e's kind is
// replaceable or parameterized-replaceable, it also updates the
// latest-per-key index, applying the spec.md §3 tie-break rule: highest
// created_at, ties broken by lowest lexical id.
//
// Per spec.md §4.1, this is one badger transaction: the event row, the
// seen-on entry for a non-empty source, every secondary index entry, and
// the latest-wins pointer land atomically.
func (s *Storage) InsertEvent(e gossiptype.Event, source gossiptype.RelayUrl) (inserted bool, err error) {
	id := []byte(e.Id())
	err = s.db.Update(func(txn *badger.Txn) error {
		key := append([]byte(prefixEvent), id...)
		if _, getErr := txn.Get(key); getErr == nil {
			inserted = false
			return nil // idempotent: already stored
		} else if getErr != badger.ErrKeyNotFound {
			return getErr
		}

		row := eventJSON{Event: e, Source: string(source)}
		if err := txn.Set(key, marshalJSON(row)); err != nil {
			return err
		}

		// Secondary indexes: author+kind+created_at and kind+created_at,
		// both newest-first via invUint64.
		akciKey := fmt.Sprintf("%s%s:%d:", prefixAKCI, e.Author(), e.Event.Kind)
		if err := txn.Set(append([]byte(akciKey), append(invUint64(uint64(e.Event.CreatedAt)), id...)...), nil); err != nil {
			return err
		}
		kciKey := fmt.Sprintf("%s%d:", prefixKCI, e.Event.Kind)
		if err := txn.Set(append([]byte(kciKey), append(invUint64(uint64(e.Event.CreatedAt)), id...)...), nil); err != nil {
			return err
		}
		for _, t := range e.Event.Tags {
			if len(t) < 2 || len(t[0]) != 1 {
				continue // only single-letter tags are indexed, per NIP-01
			}
			tagKey := fmt.Sprintf("%s%s:%s:", prefixTagIdx, t[0], t[1])
			if err := txn.Set(append([]byte(tagKey), append(invUint64(uint64(e.Event.CreatedAt)), id...)...), nil); err != nil {
				return err
			}
		}
		if source != "" {
			ts := beUint64(uint64(time.Now().Unix()))
			seenKey := fmt.Sprintf("%s%s:%s", prefixSeen, e.Id(), source)
			if err := txn.Set([]byte(seenKey), append(ts, ts...)); err != nil {
				return err
			}
		}

		if class := e.Class(); class == gossiptype.KindReplaceable || class == gossiptype.KindParameterizedReplaceable {
			if err := applyLatestWins(txn, e); err != nil {
				return err
			}
		}

		inserted = true
		return nil
	})
	return inserted, err
}

func latestKey(rk gossiptype.ReplaceableKey) []byte {
	if rk.DTag != "" {
		return []byte(fmt.Sprintf("%s%d:%s:%s", prefixLatest, rk.Kind, rk.Author, rk.DTag))
	}
	return []byte(fmt.Sprintf("%s%d:%s", prefixLatest, rk.Kind, rk.Author))
}

// applyLatestWins compares e against the current winner for its
// replaceable key and overwrites the pointer only if e wins the
// (created_at, -lexical_id) ordering from Testable Property 3.
func applyLatestWins(txn *badger.Txn, e gossiptype.Event) error {
	key := latestKey(e.ReplaceableKey())
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return txn.Set(key, []byte(e.Id()))
	}
	if err != nil {
		return err
	}
	var currentId gossiptype.EventId
	if err := item.Value(func(v []byte) error {
		currentId = gossiptype.EventId(v)
		return nil
	}); err != nil {
		return err
	}
	currentItem, err := txn.Get(append([]byte(prefixEvent), []byte(currentId)...))
	if err != nil {
		// Current pointer is stale (its event row vanished); e wins by default.
		return txn.Set(key, []byte(e.Id()))
	}
	var cur eventJSON
	if err := currentItem.Value(func(v []byte) error { return json.Unmarshal(v, &cur) }); err != nil {
		return err
	}
	if wins(e, cur.Event) {
		return txn.Set(key, []byte(e.Id()))
	}
	return nil
}

// wins reports whether candidate supersedes incumbent under
// "maximum (created_at, -lexical_id)": newer created_at wins; on a tie,
// the lexicographically smaller id wins.
func wins(candidate, incumbent gossiptype.Event) bool {
	if candidate.Event.CreatedAt != incumbent.Event.CreatedAt {
		return candidate.Event.CreatedAt > incumbent.Event.CreatedAt
	}
	return candidate.Event.ID < incumbent.Event.ID
}

// GetEvent returns the stored event, or ErrNotFound.
func (s *Storage) GetEvent(id gossiptype.EventId) (*gossiptype.Event, error) {
	var out eventJSON
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(append([]byte(prefixEvent), []byte(id)...))
		if err == badger.ErrKeyNotFound {
			return gossiptype.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &out) })
	})
	if err != nil {
		return nil, err
	}
	return &out.Event, nil
}

// HasEvent is a fast existence check used by the Event Processor's
// dedup step (spec.md §4.4 step 1), avoiding a full unmarshal.
func (s *Storage) HasEvent(id gossiptype.EventId) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(append([]byte(prefixEvent), []byte(id)...))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// LatestEvent returns the current winner for a replaceable key, per
// Testable Property 3.
func (s *Storage) LatestEvent(rk gossiptype.ReplaceableKey) (*gossiptype.Event, error) {
	var id gossiptype.EventId
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(latestKey(rk))
		if err == badger.ErrKeyNotFound {
			return gossiptype.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			id = gossiptype.EventId(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return s.GetEvent(id)
}

// FindEventsByFilter performs a best-effort scan against the kind+created_at
// or author+kind+created_at index (or every stored event when the filter
// names no kinds), honoring since/until/limit from the filter. Results
// from one index prefix come newest-first; results from several prefixes
// are concatenated prefix by prefix, and a full-event scan runs in id
// order.
func (s *Storage) FindEventsByFilter(f gossiptype.Filter) ([]gossiptype.Event, error) {
	var out []gossiptype.Event
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefixes := scanPrefixes(f)
		seen := map[string]bool{}
		for _, prefix := range prefixes {
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				k := it.Item().Key()
				// Index keys hold an 8-byte timestamp before the id;
				// event-row keys hold the id right after the prefix.
				idStart := len(prefix)
				if prefix != prefixEvent {
					idStart += 8
				}
				if len(k) <= idStart {
					continue
				}
				id := string(k[idStart:])
				if seen[id] {
					continue
				}
				seen[id] = true
				ev, err := s.GetEvent(gossiptype.EventId(id))
				if err != nil {
					if err == gossiptype.ErrNotFound {
						continue
					}
					return err
				}
				if !matchesFilter(*ev, f) {
					continue
				}
				out = append(out, *ev)
				if f.Limit > 0 && len(out) >= f.Limit*len(prefixes) {
					break
				}
			}
		}
		return nil
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, err
}

// scanPrefixes picks the narrowest available index prefix(es) for a
// filter: one AKCI prefix per (author, kind) pair when both authors and
// kinds are given, else one KCI prefix per kind, else a full event scan
// (which is also what a filter with authors but no kinds gets).
func scanPrefixes(f gossiptype.Filter) []string {
	var prefixes []string
	switch {
	case len(f.Authors) > 0 && len(f.Kinds) > 0:
		for _, a := range f.Authors {
			for _, k := range f.Kinds {
				prefixes = append(prefixes, fmt.Sprintf("%s%s:%d:", prefixAKCI, a, k))
			}
		}
	case len(f.Kinds) > 0:
		for _, k := range f.Kinds {
			prefixes = append(prefixes, fmt.Sprintf("%s%d:", prefixKCI, k))
		}
	default:
		prefixes = []string{prefixEvent}
	}
	return prefixes
}

func matchesFilter(e gossiptype.Event, f gossiptype.Filter) bool {
	if len(f.IDs) > 0 && !containsStr(f.IDs, e.Event.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsStr(f.Authors, e.Event.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, e.Event.Kind) {
		return false
	}
	if f.Since != nil && e.Event.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && e.Event.CreatedAt > *f.Until {
		return false
	}
	for key, values := range f.Tags {
		if len(key) != 1 {
			continue
		}
		if !eventHasAnyTag(e, key, values) {
			return false
		}
	}
	return true
}

func eventHasAnyTag(e gossiptype.Event, key string, values []string) bool {
	for _, t := range e.Event.Tags {
		if len(t) < 2 || t[0] != key {
			continue
		}
		for _, v := range values {
			if t[1] == v {
				return true
			}
		}
	}
	return false
}

func containsStr(hay []string, needle string) bool {
	for _, h := range hay {
		if h == needle {
			return true
		}
	}
	return false
}

func containsInt(hay []int, needle int) bool {
	for _, h := range hay {
		if h == needle {
			return true
		}
	}
	return false
}
