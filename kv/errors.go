// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package kv

import "errors"

// ErrConflict is returned by Database.Commit when a concurrent transaction
// invalidated this transaction's read set. Callers are expected to retry the
// whole operation (spec §5, §7: "Transient Conflict from the KV store").
var ErrConflict = errors.New("kv: transaction conflict")

// ErrClosed reports an operation attempted against a transaction whose
// database has already been closed. Neither memkv nor diskkv returns it.
var ErrClosed = errors.New("kv: database closed")
