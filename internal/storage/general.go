package storage

import (
	badger "github.com/dgraph-io/badger/v4"
)

// SetGeneral and GetGeneral back the "general" table of spec.md §6:
// "holds scalar configuration and flags." The Overlord stores the active
// person here; the options of internal/config are not written to this
// table and are read only from the TOML file.
func (s *Storage) SetGeneral(key string, value []byte) error {
	k := append([]byte(prefixGeneral), []byte(key)...)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, value)
	})
}

func (s *Storage) GetGeneral(key string) ([]byte, bool, error) {
	k := append([]byte(prefixGeneral), []byte(key)...)
	var out []byte
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error {
			out = append([]byte(nil), v...)
			return nil
		})
	})
	return out, found, err
}
