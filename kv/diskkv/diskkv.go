// Copyright 2021 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package diskkv provides a disk-based implementation of kv.Database backed
// by github.com/dgraph-io/badger/v4, analogous to storage/disk's role for
// the OPA storage interface. Unlike storage/disk (which disables badger's
// conflict detector because it only ever allows a single write transaction),
// diskkv leaves conflict detection enabled: the directory layer's prefix
// allocator and cache invalidation logic depend on optimistic-concurrency
// retries (spec §5, §7).
package diskkv

import (
	"context"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/opendirectorylayer/directory/kv"
	"github.com/opendirectorylayer/directory/log"
)

// Options configures the disk-backed store.
type Options struct {
	// Dir is the directory badger stores its data files in.
	Dir string

	// InMemory runs badger entirely in memory (still exercising the same
	// codepaths as the on-disk case); primarily useful for tests that want
	// diskkv's exact semantics without touching the filesystem.
	InMemory bool
}

// Database is a badger-backed kv.Database.
type Database struct {
	db      *badger.DB
	version uint64 // bumped on every commit; stamps read-version for ReadVersion
}

// Open opens (and if necessary creates) a disk-backed database at opts.Dir.
func Open(_ context.Context, opts Options) (*Database, error) {
	bopts := badger.DefaultOptions(opts.Dir).WithLogger(nil)
	if opts.InMemory {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	log.Global().WithField("dir", opts.Dir).Info("opened disk-backed directory store")
	return &Database{db: db}, nil
}

// Close implements kv.Database.
func (d *Database) Close() error {
	return d.db.Close()
}

// NewTransaction implements kv.Database.
func (d *Database) NewTransaction(_ context.Context, write bool) (kv.Transaction, error) {
	return &transaction{
		underlying:  d.db.NewTransaction(write),
		write:       write,
		readVersion: atomic.LoadUint64(&d.version),
	}, nil
}

// Commit implements kv.Database.
func (d *Database) Commit(_ context.Context, t kv.Transaction) error {
	txn, ok := t.(*transaction)
	if !ok {
		return kv.ErrConflict
	}
	if !txn.write {
		txn.underlying.Discard()
		return nil
	}
	if err := txn.underlying.Commit(); err != nil {
		if err == badger.ErrConflict {
			return kv.ErrConflict
		}
		return err
	}
	atomic.AddUint64(&d.version, 1)
	return nil
}

// Abort implements kv.Database.
func (d *Database) Abort(_ context.Context, t kv.Transaction) {
	if txn, ok := t.(*transaction); ok {
		txn.underlying.Discard()
	}
}

type transaction struct {
	underlying  *badger.Txn
	write       bool
	readVersion uint64
}

func (txn *transaction) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	item, err := txn.underlying.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (txn *transaction) Set(_ context.Context, key, value []byte) error {
	return txn.underlying.Set(append([]byte{}, key...), append([]byte{}, value...))
}

func (txn *transaction) Clear(_ context.Context, key []byte) error {
	return txn.underlying.Delete(key)
}

func (txn *transaction) ClearRange(ctx context.Context, lo, hi []byte) error {
	pairs, err := txn.GetRange(ctx, lo, hi, 0, false)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if err := txn.underlying.Delete(p.Key); err != nil {
			return err
		}
	}
	return nil
}

func (txn *transaction) GetRange(_ context.Context, lo, hi []byte, limit int, reverse bool) ([]kv.Pair, error) {
	opts := badger.DefaultIteratorOptions
	it := txn.underlying.NewIterator(opts)
	defer it.Close()

	var out []kv.Pair
	for it.Seek(lo); it.Valid(); it.Next() {
		key := it.Item().KeyCopy(nil)
		if !lessThan(key, hi) {
			break
		}
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		out = append(out, kv.Pair{Key: key, Value: val})
		if limit > 0 && !reverse && len(out) >= limit {
			break
		}
	}

	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
	}
	return out, nil
}

func lessThan(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func (txn *transaction) AtomicAdd(ctx context.Context, key []byte, delta uint64) error {
	cur, ok, err := txn.Get(ctx, key)
	if err != nil {
		return err
	}
	var v uint64
	if ok {
		v = decodeCounter(cur)
	}
	return txn.Set(ctx, key, encodeCounter(v+delta))
}

// AddReadConflict forces key into this transaction's read set so a
// concurrent writer of key causes a conflict at commit time, even if the
// caller never inspects the value.
func (txn *transaction) AddReadConflict(key []byte) {
	_, _ = txn.underlying.Get(key)
}

// AddWriteConflictRange is approximated against badger (which tracks
// conflicts per key, not per range) by touching every key currently in the
// range as a read, so that any later write to one of them is detected; keys
// added to the range after this call are not covered. This is documented as
// a known limitation of the disk backend in DESIGN.md.
func (txn *transaction) AddWriteConflictRange(lo, hi []byte) {
	it := txn.underlying.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(lo); it.Valid(); it.Next() {
		if !lessThan(it.Item().KeyCopy(nil), hi) {
			break
		}
		_, _ = it.Item().ValueCopy(nil)
	}
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
