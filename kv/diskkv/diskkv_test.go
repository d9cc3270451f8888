// Copyright 2021 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package diskkv

import (
	"context"
	"testing"
)

func openTest(t *testing.T) *Database {
	t.Helper()
	db, err := Open(context.Background(), Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSetGetDisk(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

	txn, err := db.NewTransaction(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.Set(ctx, []byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := db.Commit(ctx, txn); err != nil {
		t.Fatal(err)
	}

	read, _ := db.NewTransaction(ctx, false)
	v, ok, err := read.Get(ctx, []byte("a"))
	if err != nil || !ok || string(v) != "1" {
		t.Fatalf("got %s %v %v", v, ok, err)
	}
	db.Abort(ctx, read)
}

func TestGetRangeDisk(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

	txn, _ := db.NewTransaction(ctx, true)
	for _, k := range []string{"a", "b", "c"} {
		if err := txn.Set(ctx, []byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.Commit(ctx, txn); err != nil {
		t.Fatal(err)
	}

	read, _ := db.NewTransaction(ctx, false)
	pairs, err := read.GetRange(ctx, []byte("a"), []byte("z"), 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 3 {
		t.Fatalf("got %d pairs", len(pairs))
	}
	db.Abort(ctx, read)
}

func TestConflictDetection(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

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
	if err := db.Commit(ctx, t2); err == nil {
		t.Fatal("expected conflict")
	}
}
