// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package memkv

import (
	"context"
	"testing"

	"github.com/opendirectorylayer/directory/kv"
)

func TestSetGet(t *testing.T) {
	ctx := context.Background()
	db := New()

	txn, err := db.NewTransaction(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.Set(ctx, []byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if v, ok, err := txn.Get(ctx, []byte("a")); err != nil || !ok || string(v) != "1" {
		t.Fatalf("got %s, %v, %v", v, ok, err)
	}
	if err := db.Commit(ctx, txn); err != nil {
		t.Fatal(err)
	}

	txn2, _ := db.NewTransaction(ctx, false)
	if v, ok, err := txn2.Get(ctx, []byte("a")); err != nil || !ok || string(v) != "1" {
		t.Fatalf("got %s, %v, %v", v, ok, err)
	}
}

func TestGetRangeOrder(t *testing.T) {
	ctx := context.Background()
	db := New()
	txn, _ := db.NewTransaction(ctx, true)
	for _, k := range []string{"b", "a", "c"} {
		_ = txn.Set(ctx, []byte(k), []byte(k))
	}
	if err := db.Commit(ctx, txn); err != nil {
		t.Fatal(err)
	}

	read, _ := db.NewTransaction(ctx, false)
	pairs, err := read.GetRange(ctx, []byte("a"), []byte("z"), 0, false)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c"}
	if len(pairs) != len(want) {
		t.Fatalf("got %d pairs", len(pairs))
	}
	for i, p := range pairs {
		if string(p.Key) != want[i] {
			t.Errorf("pair %d: got %s want %s", i, p.Key, want[i])
		}
	}
}

func TestConflictingWritesRetry(t *testing.T) {
	ctx := context.Background()
	db := New()

	t1, _ := db.NewTransaction(ctx, true)
	t2, _ := db.NewTransaction(ctx, true)

	if _, _, err := t1.Get(ctx, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := t2.Get(ctx, []byte("x")); err != nil {
		t.Fatal(err)
	}

	if err := t1.Set(ctx, []byte("x"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := db.Commit(ctx, t1); err != nil {
		t.Fatal(err)
	}

	if err := t2.Set(ctx, []byte("x"), []byte("2")); err != nil {
		t.Fatal(err)
	}
	if err := db.Commit(ctx, t2); err != kv.ErrConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestAtomicAdd(t *testing.T) {
	ctx := context.Background()
	db := New()

	txn, _ := db.NewTransaction(ctx, true)
	if err := txn.AtomicAdd(ctx, []byte("counter"), 5); err != nil {
		t.Fatal(err)
	}
	if err := db.Commit(ctx, txn); err != nil {
		t.Fatal(err)
	}

	txn2, _ := db.NewTransaction(ctx, true)
	if err := txn2.AtomicAdd(ctx, []byte("counter"), 3); err != nil {
		t.Fatal(err)
	}
	if err := db.Commit(ctx, txn2); err != nil {
		t.Fatal(err)
	}

	read, _ := db.NewTransaction(ctx, false)
	v, ok, err := read.Get(ctx, []byte("counter"))
	if err != nil || !ok {
		t.Fatalf("got %v %v %v", v, ok, err)
	}
	if decodeCounter(v) != 8 {
		t.Fatalf("got %d want 8", decodeCounter(v))
	}
}
