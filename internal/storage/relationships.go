package storage

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/gossipcore/gossip/internal/gossiptype"
)

const prefixReactAuthor = "reactauthor:"

func relIdKey(rel gossiptype.RelationshipById) []byte {
	return []byte(fmt.Sprintf("%s%s:%d:%s", prefixRelById, rel.Source, int(rel.Variant), rel.Target))
}

func relIdRevKey(rel gossiptype.RelationshipById) []byte {
	return []byte(fmt.Sprintf("%s%s:%d:%s", prefixRelByIdRev, rel.Target, int(rel.Variant), rel.Source))
}

// AddRelationshipById inserts a directed edge with set semantics:
// inserting an equivalent edge twice is a no-op (spec.md §4.1's
// "duplicates coalesced"), except for ReactsTo, where spec.md §8
// (scenario S6) requires at most one reaction per (author, target):
// a later reaction by the same author replaces the earlier edge rather
// than adding a second one.
func (s *Storage) AddRelationshipById(rel gossiptype.RelationshipById) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if rel.Variant == gossiptype.RelReactsTo {
			raKey := []byte(fmt.Sprintf("%s%s:%s", prefixReactAuthor, rel.Target, rel.ReactBy))
			if item, err := txn.Get(raKey); err == nil {
				var oldSource string
				if err := item.Value(func(v []byte) error { oldSource = string(v); return nil }); err != nil {
					return err
				}
				oldRel := gossiptype.RelationshipById{Source: gossiptype.EventId(oldSource), Target: rel.Target, Variant: rel.Variant}
				_ = txn.Delete(relIdKey(oldRel))
				_ = txn.Delete(relIdRevKey(oldRel))
			} else if err != badger.ErrKeyNotFound {
				return err
			}
			if err := txn.Set(raKey, []byte(rel.Source)); err != nil {
				return err
			}
		}

		if err := txn.Set(relIdKey(rel), marshalJSON(rel)); err != nil {
			return err
		}
		return txn.Set(relIdRevKey(rel), nil)
	})
}

func relAddrKey(rel gossiptype.RelationshipByAddr) []byte {
	return []byte(fmt.Sprintf("%s%s:%d:%s", prefixRelByAddr, rel.Source, int(rel.Variant), rel.Target))
}

func relAddrRevKey(rel gossiptype.RelationshipByAddr) []byte {
	return []byte(fmt.Sprintf("%s%s:%d:%s", prefixRelByAddrRev, rel.Target, int(rel.Variant), rel.Source))
}

// AddRelationshipByAddr is the address-pointer analogue of
// AddRelationshipById, same set semantics.
func (s *Storage) AddRelationshipByAddr(rel gossiptype.RelationshipByAddr) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(relAddrKey(rel), marshalJSON(rel)); err != nil {
			return err
		}
		return txn.Set(relAddrRevKey(rel), nil)
	})
}

// FindEventsReferencing returns every relationship edge whose target is id,
// across all variants — the reverse-index lookup the Feed Computer uses
// for thread backfill and augment resolution.
func (s *Storage) FindEventsReferencing(id gossiptype.EventId) ([]gossiptype.RelationshipById, error) {
	var out []gossiptype.RelationshipById
	prefix := []byte(fmt.Sprintf("%s%s:", prefixRelByIdRev, id))
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().Key()
			rest := string(k[len(prefix):])
			// rest is "<variant>:<source>"
			var variant int
			var source string
			if _, err := fmt.Sscanf(rest, "%d:%s", &variant, &source); err != nil {
				continue
			}
			fwd, err := s.getRelById(txn, gossiptype.EventId(source), gossiptype.RelationshipVariant(variant), id)
			if err != nil {
				continue
			}
			out = append(out, fwd)
		}
		return nil
	})
	return out, err
}

func (s *Storage) getRelById(txn *badger.Txn, source gossiptype.EventId, variant gossiptype.RelationshipVariant, target gossiptype.EventId) (gossiptype.RelationshipById, error) {
	rel := gossiptype.RelationshipById{Source: source, Target: target, Variant: variant}
	item, err := txn.Get(relIdKey(rel))
	if err != nil {
		return rel, err
	}
	var out gossiptype.RelationshipById
	err = item.Value(func(v []byte) error { return json.Unmarshal(v, &out) })
	return out, err
}

// FindZaps returns all Zaps edges targeting id.
func (s *Storage) FindZaps(id gossiptype.EventId) ([]gossiptype.RelationshipById, error) {
	all, err := s.FindEventsReferencing(id)
	if err != nil {
		return nil, err
	}
	var out []gossiptype.RelationshipById
	for _, r := range all {
		if r.Variant == gossiptype.RelZaps {
			out = append(out, r)
		}
	}
	return out, nil
}

// ReactionCounts is the result of GetReactions: per-reaction-string
// tallies plus whether selfPubKey has already reacted.
type ReactionCounts struct {
	Counts          map[string]int
	SelfAlreadyReacted bool
	SelfReaction    string
}

// GetReactions aggregates ReactsTo edges targeting id. Because
// AddRelationshipById already enforces at most one reaction per
// (author,target), this is a plain tally — see Testable Property / S6.
func (s *Storage) GetReactions(id gossiptype.EventId, selfPubKey gossiptype.PublicKey) (ReactionCounts, error) {
	all, err := s.FindEventsReferencing(id)
	if err != nil {
		return ReactionCounts{}, err
	}
	out := ReactionCounts{Counts: map[string]int{}}
	for _, r := range all {
		if r.Variant != gossiptype.RelReactsTo {
			continue
		}
		out.Counts[r.Reaction]++
		if selfPubKey != "" && r.ReactBy == selfPubKey {
			out.SelfAlreadyReacted = true
			out.SelfReaction = r.Reaction
		}
	}
	return out, nil
}

// DeletionFor reports whether id has an accepted Deletes edge and, if so,
// the reason string.
func (s *Storage) DeletionFor(id gossiptype.EventId) (deleted bool, reason string, err error) {
	all, err := s.FindEventsReferencing(id)
	if err != nil {
		return false, "", err
	}
	for _, r := range all {
		if r.Variant == gossiptype.RelDeletes {
			return true, r.Reason, nil
		}
	}
	return false, "", nil
}
