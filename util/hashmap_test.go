// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package util

import "testing"

func strEq(a, b any) bool { return a == b }

func strHash(a any) int {
	s := a.(string)
	h := 0
	for _, c := range s {
		h = h*31 + int(c)
	}
	return h
}

func TestHashMapPutGetDelete(t *testing.T) {
	m := NewHashMap[string, int](strEq, strHash)
	m.Put("a", 1)
	m.Put("b", 2)

	if v, ok := m.Get("a"); !ok || v != 1 {
		t.Fatalf("got %v, %v", v, ok)
	}
	if m.Len() != 2 {
		t.Fatalf("expected len 2, got %d", m.Len())
	}

	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Fatal("expected a to be deleted")
	}
	if m.Len() != 1 {
		t.Fatalf("expected len 1, got %d", m.Len())
	}
}

func TestHashMapCopyAndEqual(t *testing.T) {
	m := NewHashMap[string, int](strEq, strHash)
	m.Put("x", 10)
	cpy := m.Copy()
	if !m.Equal(cpy) {
		t.Fatal("expected copy to equal original")
	}
	cpy.Put("y", 20)
	if m.Equal(cpy) {
		t.Fatal("expected modified copy to differ")
	}
}

func TestHashMapUpdate(t *testing.T) {
	a := NewHashMap[string, int](strEq, strHash)
	a.Put("x", 1)
	b := NewHashMap[string, int](strEq, strHash)
	b.Put("x", 2)
	b.Put("y", 3)

	updated := a.Update(b)
	if v, _ := updated.Get("x"); v != 2 {
		t.Fatalf("expected updated x to be 2, got %d", v)
	}
	if v, _ := updated.Get("y"); v != 3 {
		t.Fatalf("expected y to be 3, got %d", v)
	}
}
