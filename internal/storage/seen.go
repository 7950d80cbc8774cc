package storage

import (
	"encoding/binary"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/gossipcore/gossip/internal/gossiptype"
)

// MarkSeenOn records that id was observed on url at ts, append-only per
// (id,url): the first and last sighting are both preserved, per
// spec.md §4.1.
func (s *Storage) MarkSeenOn(id gossiptype.EventId, url gossiptype.RelayUrl, ts int64) error {
	key := []byte(fmt.Sprintf("%s%s:%s", prefixSeen, id, url))
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			buf := make([]byte, 16)
			binary.BigEndian.PutUint64(buf[0:8], uint64(ts))
			binary.BigEndian.PutUint64(buf[8:16], uint64(ts))
			return txn.Set(key, buf)
		}
		if err != nil {
			return err
		}
		var buf [16]byte
		if err := item.Value(func(v []byte) error { copy(buf[:], v); return nil }); err != nil {
			return err
		}
		first := int64(binary.BigEndian.Uint64(buf[0:8]))
		last := int64(binary.BigEndian.Uint64(buf[8:16]))
		if ts < first {
			first = ts
		}
		if ts > last {
			last = ts
		}
		out := make([]byte, 16)
		binary.BigEndian.PutUint64(out[0:8], uint64(first))
		binary.BigEndian.PutUint64(out[8:16], uint64(last))
		return txn.Set(key, out)
	})
}

// SeenOn is a (first, last) sighting pair for one relay.
type SeenOn struct {
	Url   gossiptype.RelayUrl
	First int64
	Last  int64
}

// SeenOnRelays returns every relay id was reported seen on.
func (s *Storage) SeenOnRelays(id gossiptype.EventId) ([]SeenOn, error) {
	var out []SeenOn
	prefix := []byte(fmt.Sprintf("%s%s:", prefixSeen, id))
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := item.Key()
			url := string(k[len(prefix):])
			var buf [16]byte
			if err := item.Value(func(v []byte) error { copy(buf[:], v); return nil }); err != nil {
				return err
			}
			out = append(out, SeenOn{
				Url:   gossiptype.RelayUrl(url),
				First: int64(binary.BigEndian.Uint64(buf[0:8])),
				Last:  int64(binary.BigEndian.Uint64(buf[8:16])),
			})
		}
		return nil
	})
	return out, err
}
