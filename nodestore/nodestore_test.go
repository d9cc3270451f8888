// Copyright 2022 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package nodestore

import (
	"context"
	"testing"

	"github.com/opendirectorylayer/directory/allocator"
	"github.com/opendirectorylayer/directory/kv"
	"github.com/opendirectorylayer/directory/kv/memkv"
)

func newTestStore() (*Store, kv.Database) {
	db := memkv.New()
	a := allocator.New([]byte{0xfe, 0x01}, []byte{0x15}, nil, nil)
	return New([]byte{0xfe}, a, nil), db
}

func TestAllocateAndFind(t *testing.T) {
	ctx := context.Background()
	s, db := newTestStore()

	txn, _ := db.NewTransaction(ctx, true)
	node, err := s.Allocate(ctx, txn, []byte{}, "acme", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Commit(ctx, txn); err != nil {
		t.Fatal(err)
	}

	read, _ := db.NewTransaction(ctx, false)
	found, ok, err := s.Find(ctx, read, []byte{}, "acme")
	if err != nil || !ok {
		t.Fatalf("got %v, %v, %v", found, ok, err)
	}
	if string(found.Prefix) != string(node.Prefix) {
		t.Fatalf("prefix mismatch: %x vs %x", found.Prefix, node.Prefix)
	}
}

func TestAllocateDuplicateNameFails(t *testing.T) {
	ctx := context.Background()
	s, db := newTestStore()

	txn, _ := db.NewTransaction(ctx, true)
	if _, err := s.Allocate(ctx, txn, []byte{}, "acme", "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Allocate(ctx, txn, []byte{}, "acme", "", nil); err != ErrExists {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestChildrenOrderedByName(t *testing.T) {
	ctx := context.Background()
	s, db := newTestStore()

	txn, _ := db.NewTransaction(ctx, true)
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		if _, err := s.Allocate(ctx, txn, []byte{}, name, "", nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.Commit(ctx, txn); err != nil {
		t.Fatal(err)
	}

	read, _ := db.NewTransaction(ctx, false)
	children, err := s.Children(ctx, read, []byte{})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"alpha", "bravo", "charlie"}
	if len(children) != len(want) {
		t.Fatalf("got %d children", len(children))
	}
	for i, c := range children {
		if c.Name != want[i] {
			t.Errorf("child %d: got %s want %s", i, c.Name, want[i])
		}
	}
}

func TestRemoveSubtree(t *testing.T) {
	ctx := context.Background()
	s, db := newTestStore()

	txn, _ := db.NewTransaction(ctx, true)
	parent, err := s.Allocate(ctx, txn, []byte{}, "tenants", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Allocate(ctx, txn, parent.Prefix, "acme", "", nil); err != nil {
		t.Fatal(err)
	}
	if err := db.Commit(ctx, txn); err != nil {
		t.Fatal(err)
	}

	txn2, _ := db.NewTransaction(ctx, true)
	existed, err := s.Remove(ctx, txn2, []byte{}, "tenants")
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Fatal("expected tenants to have existed")
	}
	if err := db.Commit(ctx, txn2); err != nil {
		t.Fatal(err)
	}

	read, _ := db.NewTransaction(ctx, false)
	if _, ok, _ := s.Find(ctx, read, []byte{}, "tenants"); ok {
		t.Fatal("expected tenants to be gone")
	}
}

func TestSetLayerBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s, db := newTestStore()

	txn, _ := db.NewTransaction(ctx, true)
	node, err := s.Allocate(ctx, txn, []byte{}, "docs", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	v0, _ := s.Version(ctx, txn)
	if err := s.SetLayer(ctx, txn, node.Prefix, "docs-layer"); err != nil {
		t.Fatal(err)
	}
	v1, _ := s.Version(ctx, txn)
	if v1 <= v0 {
		t.Fatalf("expected version to strictly increase: %d -> %d", v0, v1)
	}
}

func TestRegisterExplicitPrefixClash(t *testing.T) {
	ctx := context.Background()
	s, db := newTestStore()

	txn, _ := db.NewTransaction(ctx, true)
	node, err := s.Allocate(ctx, txn, []byte{}, "a", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Allocate(ctx, txn, []byte{}, "b", "", node.Prefix); err != ErrPrefixClash {
		t.Fatalf("expected ErrPrefixClash, got %v", err)
	}
}
