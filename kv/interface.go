// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package kv defines the ordered, transactional key-value store interface
// consumed by the directory layer (spec §6). The directory layer's core is
// agnostic to the concrete backing store; packages kv/memkv and kv/diskkv
// provide two concrete implementations used for testing and production,
// respectively.
package kv

import "context"

// Pair is a single key-value result from a range read.
type Pair struct {
	Key   []byte
	Value []byte
}

// Transaction is a single, optimistic-concurrency transaction against the
// store. All methods are safe to call only until the transaction has been
// committed or aborted.
type Transaction interface {
	// Get fetches the value stored at key. ok is false if the key is absent.
	Get(ctx context.Context, key []byte) (value []byte, ok bool, err error)

	// Set stores value at key, visible to this transaction immediately and to
	// others after a successful commit.
	Set(ctx context.Context, key, value []byte) error

	// Clear removes the value stored at key, if any.
	Clear(ctx context.Context, key []byte) error

	// ClearRange removes every key in [lo, hi).
	ClearRange(ctx context.Context, lo, hi []byte) error

	// GetRange returns every key-value pair with lo <= key < hi, in ascending
	// order unless reverse is set, in which case it is returned in descending
	// order. A non-positive limit means no limit.
	GetRange(ctx context.Context, lo, hi []byte, limit int, reverse bool) ([]Pair, error)

	// AtomicAdd adds delta to the little-endian uint64 interpretation of the
	// value stored at key (treating an absent key as zero). In both memkv and
	// diskkv the key becomes part of the transaction's conflict set: a
	// concurrent commit that touches key makes this transaction conflict.
	AtomicAdd(ctx context.Context, key []byte, delta uint64) error

	// AddReadConflict records that this transaction's result depends on the
	// current value of key, so that a concurrent writer of key causes this
	// transaction to conflict at commit time.
	AddReadConflict(key []byte)

	// AddWriteConflictRange records [lo, hi) as written by this transaction
	// for conflict-detection purposes, without an accompanying value mutation.
	AddWriteConflictRange(lo, hi []byte)

	// ReadVersion returns a monotonic marker for the snapshot this
	// transaction is reading, suitable for cache-freshness comparisons.
	ReadVersion() (uint64, error)
}

// Database is a handle to the backing store capable of producing new
// transactions and driving them to completion.
type Database interface {
	// NewTransaction starts a new transaction. If write is false, the
	// transaction is read-only and Commit applies none of its mutations:
	// diskkv rejects mutating calls on it, while memkv accepts them and
	// discards them.
	NewTransaction(ctx context.Context, write bool) (Transaction, error)

	// Commit attempts to commit txn. On a conflict it returns ErrConflict.
	Commit(ctx context.Context, txn Transaction) error

	// Abort discards txn without committing any buffered mutations.
	Abort(ctx context.Context, txn Transaction)

	// Close releases resources held by the database.
	Close() error
}
