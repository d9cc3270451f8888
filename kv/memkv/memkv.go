// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package memkv provides an in-memory implementation of the kv.Database
// interface, analogous to storage/inmem's role for the OPA storage
// interface: a map-backed store used for tests and embedded use, with the
// same optimistic-concurrency commit semantics a disk-backed implementation
// must provide.
package memkv

import (
	"context"
	"sort"
	"sync"

	"github.com/opendirectorylayer/directory/kv"
)

// commit records the key and range footprint of a committed write
// transaction, so that later-starting transactions can be checked for
// conflicts against it.
type commit struct {
	version uint64
	keys    map[string]struct{}
	ranges  [][2]string
}

// Database is an in-memory kv.Database.
type Database struct {
	mu      sync.RWMutex
	data    map[string][]byte
	version uint64
	log     []commit
}

// New returns an empty in-memory database.
func New() *Database {
	return &Database{data: map[string][]byte{}}
}

// NewTransaction implements kv.Database.
func (db *Database) NewTransaction(_ context.Context, write bool) (kv.Transaction, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return &transaction{
		db:         db,
		write:      write,
		readVersion: db.version,
		writes:     map[string]*[]byte{},
		atomicAdds: map[string]uint64{},
		readKeys:   map[string]struct{}{},
	}, nil
}

// Commit implements kv.Database.
func (db *Database) Commit(_ context.Context, t kv.Transaction) error {
	txn, ok := t.(*transaction)
	if !ok {
		return kv.ErrConflict
	}
	if !txn.write {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if txn.conflicts(db) {
		return kv.ErrConflict
	}

	touched := map[string]struct{}{}
	for k, v := range txn.writes {
		if v == nil {
			delete(db.data, k)
		} else {
			db.data[k] = *v
		}
		touched[k] = struct{}{}
	}
	for k, delta := range txn.atomicAdds {
		cur := decodeCounter(db.data[k])
		db.data[k] = encodeCounter(cur + delta)
		touched[k] = struct{}{}
	}

	db.version++
	db.log = append(db.log, commit{
		version: db.version,
		keys:    touched,
		ranges:  txn.writeRanges,
	})
	return nil
}

// Abort implements kv.Database. In-memory transactions only buffer state
// locally, so aborting simply discards the transaction object.
func (db *Database) Abort(_ context.Context, _ kv.Transaction) {}

// Close implements kv.Database.
func (db *Database) Close() error { return nil }

type transaction struct {
	db          *Database
	write       bool
	readVersion uint64

	writes      map[string]*[]byte // nil => clear
	writeRanges [][2]string
	atomicAdds  map[string]uint64

	readKeys   map[string]struct{}
	readRanges [][2]string
}

func (txn *transaction) conflicts(db *Database) bool {
	for _, c := range db.log {
		if c.version <= txn.readVersion {
			continue
		}
		for k := range txn.readKeys {
			if _, ok := c.keys[k]; ok {
				return true
			}
		}
		for k := range txn.writes {
			if _, ok := c.keys[k]; ok {
				return true
			}
		}
		for k := range txn.atomicAdds {
			if _, ok := c.keys[k]; ok {
				return true
			}
		}
		for _, r := range txn.readRanges {
			for ck := range c.keys {
				if ck >= r[0] && ck < r[1] {
					return true
				}
			}
			for _, cr := range c.ranges {
				if rangesOverlap(r, cr) {
					return true
				}
			}
		}
	}
	return false
}

func rangesOverlap(a, b [2]string) bool {
	return a[0] < b[1] && b[0] < a[1]
}

func (txn *transaction) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	k := string(key)
	if v, ok := txn.writes[k]; ok {
		if v == nil {
			return nil, false, nil
		}
		return append([]byte{}, *v...), true, nil
	}
	txn.readKeys[k] = struct{}{}
	txn.db.mu.RLock()
	defer txn.db.mu.RUnlock()
	v, ok := txn.db.data[k]
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, v...), true, nil
}

func (txn *transaction) Set(_ context.Context, key, value []byte) error {
	k := string(key)
	v := append([]byte{}, value...)
	txn.writes[k] = &v
	return nil
}

func (txn *transaction) Clear(_ context.Context, key []byte) error {
	txn.writes[string(key)] = nil
	return nil
}

func (txn *transaction) ClearRange(_ context.Context, lo, hi []byte) error {
	txn.writeRanges = append(txn.writeRanges, [2]string{string(lo), string(hi)})

	txn.db.mu.RLock()
	for k := range txn.db.data {
		if k >= string(lo) && k < string(hi) {
			txn.writes[k] = nil
		}
	}
	txn.db.mu.RUnlock()
	for k, v := range txn.writes {
		if v != nil && k >= string(lo) && k < string(hi) {
			txn.writes[k] = nil
		}
	}
	return nil
}

func (txn *transaction) GetRange(_ context.Context, lo, hi []byte, limit int, reverse bool) ([]kv.Pair, error) {
	txn.readRanges = append(txn.readRanges, [2]string{string(lo), string(hi)})

	set := map[string][]byte{}
	txn.db.mu.RLock()
	for k, v := range txn.db.data {
		if k >= string(lo) && k < string(hi) {
			set[k] = v
		}
	}
	txn.db.mu.RUnlock()
	for k, v := range txn.writes {
		if k < string(lo) || k >= string(hi) {
			continue
		}
		if v == nil {
			delete(set, k)
		} else {
			set[k] = *v
		}
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]kv.Pair, len(keys))
	for i, k := range keys {
		out[i] = kv.Pair{Key: []byte(k), Value: append([]byte{}, set[k]...)}
	}
	return out, nil
}

func (txn *transaction) AtomicAdd(_ context.Context, key []byte, delta uint64) error {
	txn.atomicAdds[string(key)] += delta
	return nil
}

func (txn *transaction) AddReadConflict(key []byte) {
	txn.readKeys[string(key)] = struct{}{}
}

func (txn *transaction) AddWriteConflictRange(lo, hi []byte) {
	txn.writeRanges = append(txn.writeRanges, [2]string{string(lo), string(hi)})
}

func (txn *transaction) ReadVersion() (uint64, error) {
	return txn.readVersion, nil
}

func decodeCounter(b []byte) uint64 {
	var v uint64
	for i := 0; i < len(b) && i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}

func encodeCounter(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
	return b
}
