package storage

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/gossipcore/gossip/internal/gossiptype"
)

// PersonListAdd inserts or updates one membership row and bumps the
// list's edit time, per spec.md §3: "PersonList membership changes bump
// a per-list edit-time."
func (s *Storage) PersonListAdd(list int, entry gossiptype.PersonListEntry, now int64) error {
	key := []byte(fmt.Sprintf("%s%d:%s", prefixPersonList, list, entry.PubKey))
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, marshalJSON(entry)); err != nil {
			return err
		}
		return bumpListEditTime(txn, list, now)
	})
}

func (s *Storage) PersonListRemove(list int, pk gossiptype.PublicKey, now int64) error {
	key := []byte(fmt.Sprintf("%s%d:%s", prefixPersonList, list, pk))
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(key); err != nil {
			return err
		}
		return bumpListEditTime(txn, list, now)
	})
}

func bumpListEditTime(txn *badger.Txn, list int, now int64) error {
	meta, err := readListMeta(txn, list)
	if err != nil {
		return err
	}
	meta.List = list
	meta.LastEditedAt = now
	return txn.Set(listMetaKey(list), marshalJSON(meta))
}

func listMetaKey(list int) []byte {
	return []byte(fmt.Sprintf("%s%d", prefixPersonListMeta, list))
}

func readListMeta(txn *badger.Txn, list int) (gossiptype.PersonListMetadata, error) {
	var meta gossiptype.PersonListMetadata
	item, err := txn.Get(listMetaKey(list))
	if err == badger.ErrKeyNotFound {
		meta.List = list
		return meta, nil
	}
	if err != nil {
		return meta, err
	}
	err = item.Value(func(v []byte) error { return json.Unmarshal(v, &meta) })
	return meta, err
}

// PersonListRead returns a coherent bulk read of every entry in list.
// "Coherent" here means a single badger.View snapshot.
func (s *Storage) PersonListRead(list int) ([]gossiptype.PersonListEntry, error) {
	var out []gossiptype.PersonListEntry
	prefix := []byte(fmt.Sprintf("%s%d:", prefixPersonList, list))
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e gossiptype.PersonListEntry
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &e) }); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *Storage) PersonListMetadata(list int) (gossiptype.PersonListMetadata, error) {
	var meta gossiptype.PersonListMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		meta, err = readListMeta(txn, list)
		return err
	})
	return meta, err
}

// MarkListPublished records that list was just published at now, so
// future reads can detect edit-vs-publish divergence (Pending Queue's
// PersonListOutOfSync / PersonListNotPublishedRecently).
func (s *Storage) MarkListPublished(list int, now int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		meta, err := readListMeta(txn, list)
		if err != nil {
			return err
		}
		meta.List = list
		meta.LastPublished = now
		return txn.Set(listMetaKey(list), marshalJSON(meta))
	})
}
