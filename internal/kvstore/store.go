// Package kvstore implements C2: an ordered byte-keyed persistent map with
// atomic write-batches, prefix range scans and point reads, backed by
// badger (an embedded LSM store), matching the approach taken in the
// Charizard13-badger retrieval ("DBPrefixes"-style keyspace over badger).
package kvstore

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kvstore: not found")

// Config configures a Store.
type Config struct {
	Dir string
	// InMemory runs badger without touching disk; used by tests.
	InMemory bool
}

// Store wraps a badger database with the operations C2 requires.
type Store struct {
	db  *badger.DB
	log *logrus.Logger
}

// Open opens or creates the store at cfg.Dir.
func Open(cfg Config, log *logrus.Logger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	opts := badger.DefaultOptions(cfg.Dir)
	opts = opts.WithLogger(badgerLogAdapter{log})
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Has reports whether key is present.
func (s *Store) Has(key []byte) (bool, error) {
	_, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Put writes a single key/value pair outside of any batch.
func (s *Store) Put(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes key, a no-op if absent.
func (s *Store) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// GetMany performs a bulk read, returning a value (or nil if absent) for
// each requested key in order.
func (s *Store) GetMany(keys [][]byte) ([][]byte, error) {
	out := make([][]byte, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for i, k := range keys {
			item, err := txn.Get(k)
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			if err := item.Value(func(val []byte) error {
				out[i] = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// ScanPrefix calls fn for every key with the given prefix in ascending byte
// order, stopping early if fn returns false. Because multi-valued keys
// append a descending counter (§6.2), ascending order already yields
// newest-first for those keyspaces.
func (s *Store) ScanPrefix(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := append([]byte(nil), item.Key()...)
			var cont bool
			var ferr error
			verr := item.Value(func(val []byte) error {
				cont, ferr = fn(key, val)
				return nil
			})
			if verr != nil {
				return verr
			}
			if ferr != nil {
				return ferr
			}
			if !cont {
				break
			}
		}
		return nil
	})
}

// FirstWithPrefix returns the first key/value pair under prefix in
// ascending order (i.e. the newest entry for a §6.2 multi-valued key), or
// ErrNotFound if none exists.
func (s *Store) FirstWithPrefix(prefix []byte) (key, value []byte, err error) {
	err = ErrNotFound
	scanErr := s.ScanPrefix(prefix, func(k, v []byte) (bool, error) {
		key = append([]byte(nil), k...)
		value = append([]byte(nil), v...)
		err = nil
		return false, nil
	})
	if scanErr != nil {
		return nil, nil, scanErr
	}
	return key, value, err
}

// CountPrefix returns the number of keys under prefix.
func (s *Store) CountPrefix(prefix []byte) (int, error) {
	n := 0
	err := s.ScanPrefix(prefix, func(_, _ []byte) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

type badgerLogAdapter struct{ l *logrus.Logger }

func (a badgerLogAdapter) Errorf(f string, v ...interface{})   { a.l.Errorf(f, v...) }
func (a badgerLogAdapter) Warningf(f string, v ...interface{}) { a.l.Warnf(f, v...) }
func (a badgerLogAdapter) Infof(f string, v ...interface{})    { a.l.Infof(f, v...) }
func (a badgerLogAdapter) Debugf(f string, v ...interface{})   { a.l.Debugf(f, v...) }
