// Copyright 2022 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package allocator

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/opendirectorylayer/directory/kv"
	"github.com/opendirectorylayer/directory/kv/memkv"
)

func TestAllocateDisjoint(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	a := New([]byte{0xfe}, []byte{}, nil, nil)

	seen := map[string]bool{}
	var mu sync.Mutex

	isFree := func(_ context.Context, _ kv.Transaction, candidate []byte) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		free := !seen[string(candidate)]
		if free {
			seen[string(candidate)] = true
		}
		return free, nil
	}

	for i := 0; i < 20; i++ {
		txn, err := db.NewTransaction(ctx, true)
		if err != nil {
			t.Fatal(err)
		}
		prefix, err := a.Allocate(ctx, txn, isFree, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := db.Commit(ctx, txn); err != nil {
			t.Fatal(err)
		}
		if len(prefix) == 0 {
			t.Fatal("expected non-empty prefix")
		}
	}

	if len(seen) != 20 {
		t.Fatalf("expected 20 distinct prefixes, got %d", len(seen))
	}
}

func TestAllocateRespectsContentPrefix(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	content := []byte{0x15}
	a := New([]byte{0xfe}, content, nil, nil)

	txn, _ := db.NewTransaction(ctx, true)
	prefix, err := a.Allocate(ctx, txn, func(_ context.Context, _ kv.Transaction, _ []byte) (bool, error) {
		return true, nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(prefix, content) {
		t.Fatalf("expected prefix %x to start with content prefix %x", prefix, content)
	}
}

func TestAllocateWindowAdvanceOnContention(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	a := New([]byte{0xfe}, []byte{}, func(uint64) uint64 { return 4 }, nil)

	txn, _ := db.NewTransaction(ctx, true)
	calls := 0
	_, err := a.Allocate(ctx, txn, func(_ context.Context, _ kv.Transaction, _ []byte) (bool, error) {
		calls++
		return calls > 10, nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
}

func TestAllocateWindowAdvanceSkipsCeiling(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	a := New([]byte{0xfe}, []byte{}, func(uint64) uint64 { return 4 }, nil)

	txn, _ := db.NewTransaction(ctx, true)
	calls := 0
	ceiling := func(context.Context, kv.Transaction) (uint64, bool, error) {
		return 999, true, nil
	}
	prefix, err := a.Allocate(ctx, txn, func(_ context.Context, _ kv.Transaction, _ []byte) (bool, error) {
		calls++
		return calls > 4, nil
	}, ceiling)
	if err != nil {
		t.Fatal(err)
	}
	value := binary.BigEndian.Uint64(prefix)
	if value <= 999 {
		t.Fatalf("expected allocation to land past the reported ceiling, got %d", value)
	}
}
