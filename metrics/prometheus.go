// Copyright 2022 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// GlobalMetricsRegistry is the Prometheus metrics registry singleton for any
// embedding process that wants to expose directory layer metrics on a
// /metrics endpoint.
var GlobalMetricsRegistry *prometheus.Registry

func init() {
	ResetGlobalMetricsRegistry()
}

// ResetGlobalMetricsRegistry resets GlobalMetricsRegistry to its default
// value. Needed by tests that construct many stores and would otherwise try
// to register duplicate collectors.
func ResetGlobalMetricsRegistry() {
	GlobalMetricsRegistry = prometheus.NewRegistry()
	GlobalMetricsRegistry.MustRegister(prometheus.NewGoCollector())
}

var (
	allocatorWindowAdvanceHist = newHist("allocator_window_advance_latency", "How many nanoseconds an allocator window advance took")
	candidateScanHist          = newHist("allocator_candidate_scan_attempts", "How many candidate prefixes were scanned before one was claimed")
	nodeStoreReadHist          = newHist("nodestore_read_latency", "How many nanoseconds a node store read took")
	nodeStoreWriteHist         = newHist("nodestore_write_latency", "How many nanoseconds a node store write took")
	cacheHitCounter            = prometheus.NewCounter(prometheus.CounterOpts{Name: "directory_cache_hit_total", Help: "Number of directory cache hits"})
	cacheMissCounter           = prometheus.NewCounter(prometheus.CounterOpts{Name: "directory_cache_miss_total", Help: "Number of directory cache misses"})
	facadeRetryCounter         = prometheus.NewCounter(prometheus.CounterOpts{Name: "directory_facade_retry_total", Help: "Number of facade-level retries due to transient KV conflicts"})
)

// RegisterPrometheus registers the directory layer's collectors against reg.
// Call once per process; pass metrics.GlobalMetricsRegistry for the default
// registry.
func RegisterPrometheus(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		allocatorWindowAdvanceHist,
		candidateScanHist,
		nodeStoreReadHist,
		nodeStoreWriteHist,
		cacheHitCounter,
		cacheMissCounter,
		facadeRetryCounter,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func newHist(name, desc string) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    name,
		Help:    desc,
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	})
}

// ForwardToPrometheus copies the well-known timer, counter and histogram
// values out of an in-process metrics.Metrics snapshot (as returned by
// Metrics.All) into the Prometheus collectors registered above.
func ForwardToPrometheus(m map[string]interface{}) {
	forwardTimer(m, "timer_"+AllocatorWindowAdvance, allocatorWindowAdvanceHist)
	forwardHist(m, "histogram_"+AllocatorCandidateScan, candidateScanHist)
	forwardTimer(m, "timer_"+NodeStoreRead, nodeStoreReadHist)
	forwardTimer(m, "timer_"+NodeStoreWrite, nodeStoreWriteHist)
	forwardCounter(m, "counter_"+CacheHit, cacheHitCounter)
	forwardCounter(m, "counter_"+CacheMiss, cacheMissCounter)
	forwardCounter(m, "counter_"+FacadeRetry, facadeRetryCounter)
}

func forwardHist(m map[string]interface{}, key string, hist prometheus.Histogram) {
	v, ok := m[key]
	if !ok {
		return
	}
	stats, ok := v.(map[string]int64)
	if !ok {
		return
	}
	if count, ok := stats["count"]; ok && count > 0 {
		hist.Observe(float64(stats["p50"]))
	}
}

func forwardTimer(m map[string]interface{}, key string, hist prometheus.Histogram) {
	if v, ok := m[key]; ok {
		if ns, ok := v.(int64); ok && ns > 0 {
			hist.Observe(float64(ns))
		}
	}
}

func forwardCounter(m map[string]interface{}, key string, c prometheus.Counter) {
	if v, ok := m[key]; ok {
		if n, ok := v.(uint64); ok {
			c.Add(float64(n))
		}
	}
}
