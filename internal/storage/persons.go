package storage

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/gossipcore/gossip/internal/gossiptype"
)

// UpsertPerson writes or updates a PersonRecord. Per spec.md §3,
// "PersonRecords are upserted on first sighting and updated when a newer
// kind-0 metadata event is accepted" — callers (the Event Processor) are
// responsible for only calling this with newer metadata.
func (s *Storage) UpsertPerson(p gossiptype.PersonRecord) error {
	key := []byte(fmt.Sprintf("%s%s", prefixPerson, p.PubKey))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, marshalJSON(p))
	})
}

func (s *Storage) GetPerson(pk gossiptype.PublicKey) (gossiptype.PersonRecord, error) {
	var out gossiptype.PersonRecord
	key := []byte(fmt.Sprintf("%s%s", prefixPerson, pk))
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			out = gossiptype.PersonRecord{PubKey: pk}
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &out) })
	})
	return out, err
}

// UpsertPersonRelayAssoc writes the (pubkey,url) association row the
// Relay Picker scores against.
func (s *Storage) UpsertPersonRelayAssoc(a gossiptype.PersonRelayAssoc) error {
	key := []byte(fmt.Sprintf("%s%s:%s", prefixPersonRelay, a.PubKey, a.Url))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, marshalJSON(a))
	})
}

// PersonRelayAssocsFor returns every relay association recorded for pubkey.
func (s *Storage) PersonRelayAssocsFor(pk gossiptype.PublicKey) ([]gossiptype.PersonRelayAssoc, error) {
	var out []gossiptype.PersonRelayAssoc
	prefix := []byte(fmt.Sprintf("%s%s:", prefixPersonRelay, pk))
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var a gossiptype.PersonRelayAssoc
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &a) }); err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	return out, err
}
