// Package hhstore is a supplemental durable mirror of heavy-hitter
// evictions: every time a Top-K heap (internal/heap) evicts a key to make
// room for a heavier one, its last value is written to an embedded Badger
// database so an operator can look up historical heavy-hitters without
// re-loading the whole sketch or heap state.
//
// This is additive — spec §6's flat-file sketch/Top-K persistence format is
// untouched and remains the source of truth for resuming training. hhstore
// only ever receives values that have already fallen out of the live
// Top-K, so losing it changes nothing about training correctness.
//
// Grounded on the teacher's examples/disk_eject/main.go: an EjectCallback
// closure writing through to a badger.DB opened with
// badger.DefaultOptions(dir).WithLogger(nil), generalised from the cache's
// capacity eviction to the heap's capacity eviction.
//
// © 2025 sketchtrain authors. MIT License.
package hhstore

import (
	"strconv"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/Voskan/sketchtrain/internal/heap"
)

// Store wraps an embedded Badger database dedicated to evicted heavy-hitter
// history.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger plugs an external zap.Logger for write failures; defaults to a
// no-op logger (matching the teacher's cache logging discipline of never
// failing the hot path over a logging sink).
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open opens (or creates) the Badger database rooted at dir.
func Open(dir string, opts ...Option) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// EvictCallback returns a heap.EvictCallback[string] bound to this store,
// suitable for heap.WithEvictCallback when constructing a Top-K heap whose
// evictions should be mirrored here.
func (s *Store) EvictCallback() heap.EvictCallback[string] {
	return func(key string, value float32) {
		encoded := strconv.FormatFloat(float64(value), 'g', -1, 32)
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(key), []byte(encoded))
		})
		if err != nil {
			s.logger.Sugar().Warnf("hhstore: write %q: %v", key, err)
		}
	}
}

// Lookup returns the value key had when it was last evicted and mirrored
// here, plus whether it was found at all. A key that is still tracked by a
// live heap and has never been evicted is not in the store.
func (s *Store) Lookup(key string) (value float32, found bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get([]byte(key))
		if getErr == badger.ErrKeyNotFound {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		found = true
		return item.Value(func(b []byte) error {
			parsed, parseErr := strconv.ParseFloat(string(b), 32)
			if parseErr != nil {
				return parseErr
			}
			value = float32(parsed)
			return nil
		})
	})
	return value, found, err
}

// Len returns the number of evicted keys currently mirrored, matching the
// teacher's /stats handler's badgerKeys iteration.
func (s *Store) Len() (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
