// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package facade

import (
	"context"
	"testing"

	"github.com/opendirectorylayer/directory/config"
	"github.com/opendirectorylayer/directory/directory"
	"github.com/opendirectorylayer/directory/kv/memkv"
	"github.com/opendirectorylayer/directory/path"
)

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	cfg, err := config.ParseConfig([]byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	db := memkv.New()
	root := directory.NewRoot(*cfg, nil)
	return New(db, root, nil)
}

func TestFacadeCreateOrOpenAndOpen(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t)

	h, err := f.CreateOrOpen(ctx, path.New("tenants", "acme"), "", nil, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if h.Path.String() != "/tenants/acme" {
		t.Fatalf("got %s", h.Path.String())
	}

	opened, err := f.Open(ctx, path.New("tenants", "acme"), "")
	if err != nil {
		t.Fatal(err)
	}
	if string(opened.Prefix) != string(h.Prefix) {
		t.Fatalf("prefix mismatch: %x vs %x", opened.Prefix, h.Prefix)
	}
}

func TestFacadeTryOpenMissing(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t)

	h, err := f.TryOpen(ctx, path.New("nope"), "")
	if err != nil {
		t.Fatal(err)
	}
	if h != nil {
		t.Fatalf("expected nil handle, got %v", h)
	}
}

func TestFacadeExistsAndList(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t)

	if _, err := f.Create(ctx, path.New("a", "b"), "", nil); err != nil {
		t.Fatal(err)
	}
	exists, err := f.Exists(ctx, path.New("a"))
	if err != nil || !exists {
		t.Fatalf("expected /a to exist: %v %v", exists, err)
	}
	names, err := f.List(ctx, path.New("a"))
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "b" {
		t.Fatalf("got %v", names)
	}
}

func TestFacadeRemoveInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t)

	if _, err := f.Create(ctx, path.New("a"), "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Open(ctx, path.New("a"), ""); err != nil {
		t.Fatal(err)
	}
	if err := f.Remove(ctx, path.New("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Open(ctx, path.New("a"), ""); !directory.IsNotFound(err) {
		t.Fatalf("expected NotFoundErr after remove, got %v", err)
	}
}
