// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package metrics

import (
	"testing"
	"time"
)

func TestMetricsTimer(t *testing.T) {
	m := New()
	m.Timer("foo").Start()
	time.Sleep(time.Millisecond)
	m.Timer("foo").Stop()
	if m.All()["timer_foo"] == int64(0) {
		t.Fatalf("expected foo timer to be non-zero: %v", m.All())
	}
	m.Clear()

	if len(m.All()) > 0 {
		t.Fatalf("expected metrics to be cleared, but found %v", m.All())
	}
}

func TestMetricsCounter(t *testing.T) {
	m := New()
	m.Counter(CacheHit).Incr()
	m.Counter(CacheHit).Add(2)
	if v := m.All()["counter_"+CacheHit]; v != uint64(3) {
		t.Fatalf("expected counter to be 3, got %v", v)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := New()
	h := m.Histogram(NodeStoreRead)
	for _, v := range []int64{10, 20, 30, 40, 50} {
		h.Update(v)
	}
	stats, ok := m.All()["histogram_"+NodeStoreRead].(map[string]int64)
	if !ok {
		t.Fatalf("expected histogram snapshot, got %v", m.All())
	}
	if stats["count"] != 5 || stats["min"] != 10 || stats["max"] != 50 {
		t.Fatalf("unexpected histogram stats: %+v", stats)
	}
}

func TestMetricsMarshalJSON(t *testing.T) {
	m := New()
	m.Counter(FacadeRetry).Incr()
	b, err := m.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) == 0 {
		t.Fatal("expected non-empty JSON")
	}
}
