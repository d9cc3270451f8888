// Copyright 2022 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package allocator implements the high-contention-tolerant windowed prefix
// allocator: a counter persisted in the metadata space that hands out
// unique, never-reused binary prefixes inside a configured content space.
package allocator

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/opendirectorylayer/directory/kv"
	"github.com/opendirectorylayer/directory/log"
	"github.com/opendirectorylayer/directory/metrics"
	"github.com/opendirectorylayer/directory/tuple"
)

// ErrPrefixClash is raised by Allocate after exhausting the bounded number
// of candidate retries without finding a free slot.
var ErrPrefixClash = fmt.Errorf("allocator: prefix clash")

// maxCandidateAttempts bounds how many candidates one Allocate call tries
// before ErrPrefixClash is surfaced to the caller. The count spans window
// advances: Allocate moves to a fresh window whenever the current one fills
// up during the scan. The node store does not retry on ErrPrefixClash.
const maxCandidateAttempts = 100

// WindowSchedule returns the window size for window_start, growing with the
// size of the allocated space as described by the default schedule
// {64, 1024, 8192}. It is used when New is given a nil windowSize;
// directory.NewRoot instead derives the size from a loaded config.Config's
// AllocatorWindowSchedule.
func WindowSchedule(windowStart uint64) uint64 {
	switch {
	case windowStart < 255:
		return 64
	case windowStart < 65535:
		return 1024
	default:
		return 8192
	}
}

// Allocator allocates prefixes inside contentPrefix, persisting its window
// state under hcaPrefix in the KV store. One Allocator exists per partition
// (including the root), each with disjoint hcaPrefix/contentPrefix pairs.
type Allocator struct {
	hcaPrefix     []byte
	contentPrefix []byte
	windowSize    func(uint64) uint64
	metrics       metrics.Metrics
}

// ContentPrefix returns the byte-prefix this allocator mints candidates
// under, for callers building their own Ceiling implementations.
func (a *Allocator) ContentPrefix() []byte {
	return a.contentPrefix
}

// New returns an Allocator whose state lives under hcaPrefix and which
// allocates byte-prefixes rooted at contentPrefix.
func New(hcaPrefix, contentPrefix []byte, windowSize func(uint64) uint64, m metrics.Metrics) *Allocator {
	if windowSize == nil {
		windowSize = WindowSchedule
	}
	if m == nil {
		m = metrics.New()
	}
	return &Allocator{hcaPrefix: hcaPrefix, contentPrefix: contentPrefix, windowSize: windowSize, metrics: m}
}

// Ceiling reports the largest already-occupied candidate value anywhere in
// the allocator's content space (ok is false if the space is empty). It is
// consulted on every window advance so that a window pre-occupied by an
// explicitly-registered prefix, or by a prior allocator instance's
// higher-numbered window, is skipped rather than re-collided with.
type Ceiling func(ctx context.Context, txn kv.Transaction) (value uint64, ok bool, err error)

// Allocate returns a new prefix, disjoint from every other live prefix in
// this allocator's content space, reserving it inside txn. The caller's
// transaction must still be committed for the allocation to take effect;
// on abort, no durable state is changed. ceiling may be nil, in which case
// window advance falls back to pure arithmetic.
func (a *Allocator) Allocate(ctx context.Context, txn kv.Transaction, isFree func(ctx context.Context, txn kv.Transaction, candidate []byte) (bool, error), ceiling Ceiling) ([]byte, error) {
	timer := a.metrics.Timer(metrics.AllocatorWindowAdvance)
	timer.Start()
	defer timer.Stop()

	windowStart, count, err := a.readState(ctx, txn)
	if err != nil {
		return nil, err
	}

	windowSize := a.windowSize(windowStart)
	if count >= windowSize {
		windowStart, err = a.advanceWindow(ctx, txn, windowStart, ceiling)
		if err != nil {
			return nil, err
		}
		count = 0
		windowSize = a.windowSize(windowStart)
	}

	scanHist := a.metrics.Histogram(metrics.AllocatorCandidateScan)
	for attempt := 0; attempt < maxCandidateAttempts; attempt++ {
		offset, err := randUint64(windowSize)
		if err != nil {
			return nil, err
		}
		candidateValue := windowStart + offset
		candidate := encodeCandidate(a.contentPrefix, candidateValue)

		free, err := isFree(ctx, txn, candidate)
		if err != nil {
			return nil, err
		}
		if free {
			if err := a.reserve(ctx, txn, windowStart, count+1); err != nil {
				return nil, err
			}
			scanHist.Update(int64(attempt + 1))
			traceWindowAdvance(windowStart, candidateValue)
			return candidate, nil
		}
		count++
		if count >= windowSize {
			windowStart, err = a.advanceWindow(ctx, txn, windowStart, ceiling)
			if err != nil {
				return nil, err
			}
			count = 0
			windowSize = a.windowSize(windowStart)
		}
	}
	scanHist.Update(maxCandidateAttempts)
	return nil, ErrPrefixClash
}

func (a *Allocator) readState(ctx context.Context, txn kv.Transaction) (windowStart, count uint64, err error) {
	key := a.stateKey()
	txn.AddReadConflict(key)
	v, ok, err := txn.Get(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, nil
	}
	return decodeState(v)
}

// advanceWindow moves the window past windowStart's own span, then past
// whatever ceiling reports as the highest occupied value in the content
// space, so a window already claimed by a prior register or a higher-valued
// window from a concurrent allocator is never re-entered (spec §4.2 step
// 2's "past the largest seen key in the allocation space").
func (a *Allocator) advanceWindow(ctx context.Context, txn kv.Transaction, windowStart uint64, ceiling Ceiling) (uint64, error) {
	next := windowStart + a.windowSize(windowStart)
	if ceiling != nil {
		hi, ok, err := ceiling(ctx, txn)
		if err != nil {
			return 0, err
		}
		if ok && hi+1 > next {
			next = hi + 1
		}
	}
	if err := txn.Set(ctx, a.stateKey(), encodeState(next, 0)); err != nil {
		return 0, err
	}
	txn.AddWriteConflictRange(a.stateKey(), append(append([]byte{}, a.stateKey()...), 0xff))
	return next, nil
}

func (a *Allocator) reserve(ctx context.Context, txn kv.Transaction, windowStart, count uint64) error {
	return txn.Set(ctx, a.stateKey(), encodeState(windowStart, count))
}

func (a *Allocator) stateKey() []byte {
	return append(append([]byte{}, a.hcaPrefix...), tuple.Encode("hca")...)
}

func encodeCandidate(contentPrefix []byte, value uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], value)
	out := make([]byte, 0, len(contentPrefix)+8)
	out = append(out, contentPrefix...)
	out = append(out, buf[:]...)
	return out
}

func encodeState(windowStart, count uint64) []byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], windowStart)
	binary.BigEndian.PutUint64(buf[8:16], count)
	return buf[:]
}

func decodeState(b []byte) (windowStart, count uint64, err error) {
	if len(b) != 16 {
		return 0, 0, fmt.Errorf("allocator: corrupt state (len %d)", len(b))
	}
	return binary.BigEndian.Uint64(b[0:8]), binary.BigEndian.Uint64(b[8:16]), nil
}

func randUint64(bound uint64) (uint64, error) {
	if bound == 0 {
		return 0, nil
	}
	n, err := rand.Int(rand.Reader, new(big.Int).SetUint64(bound))
	if err != nil {
		return 0, fmt.Errorf("allocator: %w", err)
	}
	return n.Uint64(), nil
}

// traceWindowAdvance logs each claimed candidate, with the window it was
// drawn from, tagged with a fresh UUID for log correlation across the
// allocator's suspension points.
func traceWindowAdvance(windowStart, candidate uint64) {
	log.Global().WithFields(log.Fields{
		"trace_id":     uuid.New().String(),
		"window_start": windowStart,
		"candidate":    candidate,
	}).Debug("allocator: claimed candidate prefix")
}
