// Copyright 2018 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package util

import (
	"math"
	"math/rand"
	"time"
)

// DefaultBackoff returns a delay with an exponential backoff based on the
// number of retries, with no jitter. Used by the facade's retry loop between
// attempts following a transient KV conflict.
func DefaultBackoff(base, maxNS float64, retries int) time.Duration {
	return Backoff(base, maxNS, 0, 2, retries)
}

// Backoff returns a delay with an exponential backoff based on the number of
// retries. Same algorithm used in gRPC: delay = min(maxNS, base*factor^retries),
// optionally randomized by +/- jitter.
func Backoff(base, maxNS, jitter, factor float64, retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}
	backoff, max := base, maxNS
	for backoff < max && retries > 0 {
		backoff *= factor
		retries--
	}
	if backoff > max {
		backoff = max
	}
	if jitter > 0 {
		backoff *= 1 + jitter*(rand.Float64()*2-1)
	}
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(math.Round(backoff))
}
