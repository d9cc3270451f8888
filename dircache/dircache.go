// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package dircache implements the directory layer's two-level resolution
// cache: a per-transaction cache that memoizes handles for the lifetime of
// a single transaction, and a process-wide, database-scoped cache guarded
// against concurrent readers and writers.
package dircache

import (
	"context"
	"sync"

	"github.com/opendirectorylayer/directory/kv"
	"github.com/opendirectorylayer/directory/metrics"
	"github.com/opendirectorylayer/directory/path"
)

// Entry is anything the cache can store: a resolved handle plus an
// IsValid check against the caller's transaction. Kept as an interface so
// dircache does not import the directory package; facade stores
// *directory.Handle values in it.
type Entry interface {
	IsValid(ctx context.Context, txn kv.Transaction) (bool, error)
}

// TxnCache memoizes resolved entries for the lifetime of a single
// transaction. It is not safe for concurrent use, matching a
// transaction's own single-threaded, cooperative scheduling model.
type TxnCache struct {
	entries map[string]Entry
}

// NewTxnCache returns an empty transaction-scoped cache.
func NewTxnCache() *TxnCache {
	return &TxnCache{entries: map[string]Entry{}}
}

// Get returns the cached entry for p, if any.
func (c *TxnCache) Get(p path.Path) (Entry, bool) {
	e, ok := c.entries[p.HashKey()]
	return e, ok
}

// Put stores e for p, overwriting any previous entry.
func (c *TxnCache) Put(p path.Path, e Entry) {
	c.entries[p.HashKey()] = e
}

// Invalidate removes the cached entry for p, if any. Used when the same
// transaction mutates a path it had previously resolved.
func (c *TxnCache) Invalidate(p path.Path) {
	delete(c.entries, p.HashKey())
}

// DBCache is a process-wide cache of resolved entries, shared across
// transactions. Readers either see a fully installed entry or a miss; a
// miss is always safe and simply causes the caller to re-resolve.
type DBCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	m       metrics.Metrics
}

// NewDBCache returns an empty database-scoped cache.
func NewDBCache(m metrics.Metrics) *DBCache {
	if m == nil {
		m = metrics.New()
	}
	return &DBCache{entries: map[string]Entry{}, m: m}
}

// Get returns a cached entry for p if one exists and is still valid
// against txn. A stale or absent entry is removed and reported as a miss.
func (c *DBCache) Get(ctx context.Context, txn kv.Transaction, p path.Path) (Entry, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[p.HashKey()]
	c.mu.RUnlock()
	if !ok {
		c.m.Counter(metrics.CacheMiss).Incr()
		return nil, false, nil
	}

	valid, err := e.IsValid(ctx, txn)
	if err != nil {
		return nil, false, err
	}
	if !valid {
		c.Invalidate(p)
		c.m.Counter(metrics.CacheMiss).Incr()
		return nil, false, nil
	}
	c.m.Counter(metrics.CacheHit).Incr()
	return e, true, nil
}

// Put installs e for p, replacing any existing entry.
func (c *DBCache) Put(p path.Path, e Entry) {
	c.mu.Lock()
	c.entries[p.HashKey()] = e
	c.mu.Unlock()
}

// Invalidate removes the cached entry for p, if any. Writers call this
// eagerly for every path they affect, rather than waiting for a reader to
// discover the stamp mismatch.
func (c *DBCache) Invalidate(p path.Path) {
	c.mu.Lock()
	delete(c.entries, p.HashKey())
	c.mu.Unlock()
}

// InvalidateSubtree removes every cached entry at or below p. Used by
// remove and move, which can affect an unbounded number of descendant
// paths whose individual cache keys are not otherwise known.
func (c *DBCache) InvalidateSubtree(p path.Path) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		parsed, ok := path.Parse(k)
		if ok && parsed.IsDescendantOf(p) {
			delete(c.entries, k)
		}
	}
}
