package storage

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/gossipcore/gossip/internal/gossiptype"
)

// ReadOrCreateRelay returns the existing record for url, or a fresh
// default-initialized one if none exists yet. It does not write the
// default — callers that mutate it must call PutRelay.
func (s *Storage) ReadOrCreateRelay(url gossiptype.RelayUrl) (gossiptype.RelayRecord, error) {
	key := []byte(fmt.Sprintf("%s%s", prefixRelay, url))
	var out gossiptype.RelayRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			out = gossiptype.DefaultRelayRecord(url)
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &out) })
	})
	return out, err
}

// PutRelay persists a (possibly updated) RelayRecord.
func (s *Storage) PutRelay(r gossiptype.RelayRecord) error {
	key := []byte(fmt.Sprintf("%s%s", prefixRelay, r.Url))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, marshalJSON(r))
	})
}

// RecordSuccess and RecordFailure enforce "RelayRecord.success_count and
// failure_count monotonically increase" (spec.md §3) inside a single
// read-modify-write transaction.
func (s *Storage) RecordSuccess(url gossiptype.RelayUrl, now int64) error {
	return s.bumpRelay(url, func(r *gossiptype.RelayRecord) {
		r.SuccessCount++
		r.LastConnectedAt = now
	})
}

func (s *Storage) RecordFailure(url gossiptype.RelayUrl) error {
	return s.bumpRelay(url, func(r *gossiptype.RelayRecord) {
		r.FailureCount++
	})
}

func (s *Storage) bumpRelay(url gossiptype.RelayUrl, mutate func(*gossiptype.RelayRecord)) error {
	key := []byte(fmt.Sprintf("%s%s", prefixRelay, url))
	return s.db.Update(func(txn *badger.Txn) error {
		var r gossiptype.RelayRecord
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			r = gossiptype.DefaultRelayRecord(url)
		} else if err != nil {
			return err
		} else if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &r) }); err != nil {
			return err
		}
		mutate(&r)
		return txn.Set(key, marshalJSON(r))
	})
}

// FilterRelays scans every RelayRecord and returns those matching pred.
func (s *Storage) FilterRelays(pred func(gossiptype.RelayRecord) bool) ([]gossiptype.RelayRecord, error) {
	var out []gossiptype.RelayRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixRelay)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r gossiptype.RelayRecord
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &r) }); err != nil {
				return err
			}
			if pred == nil || pred(r) {
				out = append(out, r)
			}
		}
		return nil
	})
	return out, err
}
