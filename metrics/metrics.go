// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package metrics contains helpers for performance metric management inside
// the directory layer: timers, counters and histograms for allocator window
// advances, node store reads/writes and cache hit rates.
package metrics

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Well-known metric names used across the directory, allocator, nodestore
// and dircache packages.
const (
	AllocatorWindowAdvance = "directory_allocator_window_advance"
	AllocatorCandidateScan = "directory_allocator_candidate_scan"
	NodeStoreRead          = "directory_nodestore_read"
	NodeStoreWrite         = "directory_nodestore_write"
	CacheHit               = "directory_cache_hit"
	CacheMiss              = "directory_cache_miss"
	FacadeRetry            = "directory_facade_retry"
)

// Info describes the underlying metrics provider.
type Info struct {
	Name string
}

// Timer is a restartable timer that accumulates elapsed time across
// multiple start/stop cycles.
type Timer interface {
	Start()
	Stop() int64
	Value() interface{}
	Int64() int64
}

// Counter is a monotonically increasing counter.
type Counter interface {
	Incr()
	Add(n uint64)
	Value() interface{}
}

// Histogram records a hardcoded set of percentiles over observed values.
type Histogram interface {
	Value() interface{}
	Update(v int64)
}

// Metrics is a named collection of timers, counters and histograms.
type Metrics interface {
	Info() Info
	Timer(name string) Timer
	Counter(name string) Counter
	Histogram(name string) Histogram
	All() map[string]interface{}
	Clear()
	MarshalJSON() ([]byte, error)
}

// New returns a new, empty Metrics collection.
func New() Metrics {
	return &metrics{
		info:       Info{Name: "directory"},
		timers:     map[string]*timer{},
		counters:   map[string]*counter{},
		histograms: map[string]*histogram{},
	}
}

type metrics struct {
	mu         sync.Mutex
	info       Info
	timers     map[string]*timer
	counters   map[string]*counter
	histograms map[string]*histogram
}

func (m *metrics) Info() Info { return m.info }

func (m *metrics) Timer(name string) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[name]
	if !ok {
		t = &timer{}
		m.timers[name] = t
	}
	return t
}

func (m *metrics) Counter(name string) Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[name]
	if !ok {
		c = &counter{}
		m.counters[name] = c
	}
	return c
}

func (m *metrics) Histogram(name string) Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.histograms[name]
	if !ok {
		h = newHistogram()
		m.histograms[name] = h
	}
	return h
}

func (m *metrics) All() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]interface{}{}
	for k, v := range m.timers {
		out["timer_"+k] = v.Value()
	}
	for k, v := range m.counters {
		out["counter_"+k] = v.Value()
	}
	for k, v := range m.histograms {
		out["histogram_"+k] = v.Value()
	}
	return out
}

func (m *metrics) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers = map[string]*timer{}
	m.counters = map[string]*counter{}
	m.histograms = map[string]*histogram{}
}

func (m *metrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.All())
}

type timer struct {
	mu      sync.Mutex
	start   time.Time
	running bool
	elapsed int64
}

func (t *timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start = now()
	t.running = true
}

func (t *timer) Stop() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return t.elapsed
	}
	t.elapsed += now().Sub(t.start).Nanoseconds()
	t.running = false
	return t.elapsed
}

func (t *timer) Int64() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed
}

func (t *timer) Value() interface{} {
	return t.Int64()
}

type counter struct {
	mu    sync.Mutex
	value uint64
}

func (c *counter) Incr() { c.Add(1) }

func (c *counter) Add(n uint64) {
	c.mu.Lock()
	c.value += n
	c.mu.Unlock()
}

func (c *counter) Value() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// histogram keeps every observed sample and computes percentiles on demand.
// Directory layer histograms are low-volume (per allocator window advance,
// per transaction) so this is cheap relative to a decaying sketch.
type histogram struct {
	mu      sync.Mutex
	samples []int64
}

func newHistogram() *histogram {
	return &histogram{}
}

func (h *histogram) Update(v int64) {
	h.mu.Lock()
	h.samples = append(h.samples, v)
	h.mu.Unlock()
}

func (h *histogram) Value() interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) == 0 {
		return map[string]int64{"count": 0}
	}
	sorted := append([]int64{}, h.samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	pct := func(p float64) int64 {
		idx := int(p * float64(len(sorted)-1))
		return sorted[idx]
	}
	return map[string]int64{
		"count": int64(len(sorted)),
		"min":   sorted[0],
		"max":   sorted[len(sorted)-1],
		"p50":   pct(0.50),
		"p90":   pct(0.90),
		"p99":   pct(0.99),
	}
}

func now() time.Time { return time.Now() }
