// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package facade provides the thin retry glue that executes directory
// layer operations against a retryable KV database: it opens a
// transaction, runs the operation, and on a transient KV conflict retries
// with backoff, except for the error kinds the spec calls out as
// terminal (PartitionBoundary/InvalidPath, InvalidLayer, NotFound for
// non-try_* calls, and Exists).
package facade

import (
	"context"
	"time"

	"github.com/opendirectorylayer/directory/dircache"
	"github.com/opendirectorylayer/directory/directory"
	"github.com/opendirectorylayer/directory/kv"
	"github.com/opendirectorylayer/directory/metrics"
	"github.com/opendirectorylayer/directory/path"
	"github.com/opendirectorylayer/directory/util"
)

// MaxRetries bounds how many times Facade retries an operation after a
// transient kv.ErrConflict before giving up and surfacing it.
const MaxRetries = 10

// Facade wraps a kv.Database and a directory.Partition root with
// retry glue and a database-scoped resolution cache.
type Facade struct {
	db      kv.Database
	root    *directory.Partition
	cache   *dircache.DBCache
	metrics metrics.Metrics
}

// New returns a Facade operating against db and rooted at root.
func New(db kv.Database, root *directory.Partition, m metrics.Metrics) *Facade {
	if m == nil {
		m = metrics.New()
	}
	return &Facade{db: db, root: root, cache: dircache.NewDBCache(m), metrics: m}
}

// run executes fn inside a fresh transaction, retrying on kv.ErrConflict
// up to MaxRetries times with exponential backoff, and committing (for
// write transactions) on success. It does not retry directory.Error
// values, since those are never resolved by re-running the same
// operation against fresh state (per spec §4.8).
func (f *Facade) run(ctx context.Context, write bool, fn func(kv.Transaction) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		txn, err := f.db.NewTransaction(ctx, write)
		if err != nil {
			return err
		}

		opErr := fn(txn)
		if opErr != nil {
			f.db.Abort(ctx, txn)
			if opErr == kv.ErrConflict && attempt < MaxRetries {
				f.metrics.Counter(metrics.FacadeRetry).Incr()
				backoff(ctx, attempt)
				continue
			}
			return opErr
		}

		if err := f.db.Commit(ctx, txn); err != nil {
			if err == kv.ErrConflict && attempt < MaxRetries {
				f.metrics.Counter(metrics.FacadeRetry).Incr()
				backoff(ctx, attempt)
				continue
			}
			return err
		}
		return nil
	}
}

func backoff(ctx context.Context, attempt int) {
	d := util.DefaultBackoff(float64(1e6), float64(100e6), attempt)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// CreateOrOpen runs directory.Partition.CreateOrOpen under a retrying
// write transaction.
func (f *Facade) CreateOrOpen(ctx context.Context, p path.Path, layer string, explicitPrefix []byte, allowCreate, allowOpen bool) (*directory.Handle, error) {
	var h *directory.Handle
	err := f.run(ctx, true, func(txn kv.Transaction) error {
		var err error
		h, err = f.root.CreateOrOpen(ctx, txn, p, layer, explicitPrefix, allowCreate, allowOpen)
		return err
	})
	if err != nil {
		return nil, err
	}
	f.cache.Put(p, h)
	return h, nil
}

// Open runs directory.Partition.Open, consulting the database-scoped
// cache before falling back to a fresh resolution.
func (f *Facade) Open(ctx context.Context, p path.Path, layer string) (*directory.Handle, error) {
	var h *directory.Handle
	err := f.run(ctx, false, func(txn kv.Transaction) error {
		if e, ok, err := f.cache.Get(ctx, txn, p); err != nil {
			return err
		} else if ok {
			if cached, ok := e.(*directory.Handle); ok && (layer == "" || cached.LayerID == layer) {
				h = cached
				return nil
			}
		}
		var err error
		h, err = f.root.Open(ctx, txn, p, layer)
		return err
	})
	if err != nil {
		return nil, err
	}
	f.cache.Put(p, h)
	return h, nil
}

// TryOpen is like Open but returns (nil, nil) instead of a NotFoundErr.
func (f *Facade) TryOpen(ctx context.Context, p path.Path, layer string) (*directory.Handle, error) {
	h, err := f.Open(ctx, p, layer)
	if directory.IsNotFound(err) {
		return nil, nil
	}
	return h, err
}

// Create runs directory.Partition.Create under a retrying write
// transaction.
func (f *Facade) Create(ctx context.Context, p path.Path, layer string, explicitPrefix []byte) (*directory.Handle, error) {
	return f.CreateOrOpen(ctx, p, layer, explicitPrefix, true, false)
}

// TryCreate is like Create but returns (nil, nil) instead of an ExistsErr.
func (f *Facade) TryCreate(ctx context.Context, p path.Path, layer string, explicitPrefix []byte) (*directory.Handle, error) {
	h, err := f.Create(ctx, p, layer, explicitPrefix)
	if directory.IsExists(err) {
		return nil, nil
	}
	return h, err
}

// Exists runs directory.Partition.Exists under a retrying read
// transaction.
func (f *Facade) Exists(ctx context.Context, p path.Path) (bool, error) {
	var exists bool
	err := f.run(ctx, false, func(txn kv.Transaction) error {
		var err error
		exists, err = f.root.Exists(ctx, txn, p)
		return err
	})
	return exists, err
}

// List runs directory.Partition.List under a retrying read transaction.
func (f *Facade) List(ctx context.Context, p path.Path) ([]string, error) {
	var names []string
	err := f.run(ctx, false, func(txn kv.Transaction) error {
		var err error
		names, err = f.root.List(ctx, txn, p)
		return err
	})
	return names, err
}

// TryList is like List but returns (nil, nil) instead of a NotFoundErr.
func (f *Facade) TryList(ctx context.Context, p path.Path) ([]string, error) {
	names, err := f.List(ctx, p)
	if directory.IsNotFound(err) {
		return nil, nil
	}
	return names, err
}

// Move runs directory.Partition.Move under a retrying write transaction,
// invalidating both affected subtrees in the database-scoped cache.
func (f *Facade) Move(ctx context.Context, oldPath, newPath path.Path) (*directory.Handle, error) {
	var h *directory.Handle
	err := f.run(ctx, true, func(txn kv.Transaction) error {
		var err error
		h, err = f.root.Move(ctx, txn, oldPath, newPath)
		return err
	})
	if err != nil {
		return nil, err
	}
	f.cache.InvalidateSubtree(oldPath)
	f.cache.InvalidateSubtree(newPath)
	f.cache.Put(newPath, h)
	return h, nil
}

// Remove runs directory.Partition.Remove under a retrying write
// transaction, invalidating the removed subtree in the database-scoped
// cache.
func (f *Facade) Remove(ctx context.Context, p path.Path) error {
	err := f.run(ctx, true, func(txn kv.Transaction) error {
		return f.root.Remove(ctx, txn, p)
	})
	if err != nil {
		return err
	}
	f.cache.InvalidateSubtree(p)
	return nil
}

// ChangeLayer runs directory.Partition.ChangeLayer under a retrying write
// transaction.
func (f *Facade) ChangeLayer(ctx context.Context, p path.Path, newLayer string) (*directory.Handle, error) {
	var h *directory.Handle
	err := f.run(ctx, true, func(txn kv.Transaction) error {
		var err error
		h, err = f.root.ChangeLayer(ctx, txn, p, newLayer)
		return err
	})
	if err != nil {
		return nil, err
	}
	f.cache.Invalidate(p)
	f.cache.Put(p, h)
	return h, nil
}
