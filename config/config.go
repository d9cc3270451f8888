// Copyright 2018 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package config implements directory layer configuration file parsing and
// validation: the root layer's node metadata prefix, content prefix and
// allocator window-growth schedule.
package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the configuration a root DirectoryLayer is opened with.
type Config struct {
	// NodeMetadataPrefix is the key prefix under which the node store keeps
	// path->prefix mappings and metadata version counters.
	NodeMetadataPrefix []byte `json:"node_metadata_prefix"`

	// ContentPrefix is the key prefix new directory content prefixes are
	// allocated from.
	ContentPrefix []byte `json:"content_prefix"`

	// AllocatorWindowSchedule is the sequence of window sizes the
	// high-contention allocator grows through as its window start advances,
	// e.g. [64, 1024, 8192]. The final value is reused once exhausted.
	AllocatorWindowSchedule []uint64 `json:"allocator_window_schedule"`
}

// Default window-growth schedule, matching the reference FoundationDB
// directory layer's allocator.
var defaultWindowSchedule = []uint64{64, 1024, 8192}

// ParseConfig returns a valid Config with defaults injected for any field
// the caller left unset.
func ParseConfig(raw []byte) (*Config, error) {
	var result Config
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	result.injectDefaults()
	return &result, result.Validate()
}

func (c *Config) injectDefaults() {
	if c.NodeMetadataPrefix == nil {
		c.NodeMetadataPrefix = []byte{0xfe}
	}
	if c.ContentPrefix == nil {
		c.ContentPrefix = []byte{}
	}
	if len(c.AllocatorWindowSchedule) == 0 {
		c.AllocatorWindowSchedule = append([]uint64{}, defaultWindowSchedule...)
	}
}

// Validate checks structural invariants: the content prefix must not fall
// inside the reserved node metadata subspace (an empty content prefix is
// valid and expected — it spans the rest of the keyspace), and the window
// schedule must be strictly increasing.
func (c Config) Validate() error {
	if len(c.NodeMetadataPrefix) == 0 {
		return fmt.Errorf("config: node_metadata_prefix must be non-empty")
	}
	if hasPrefix(c.ContentPrefix, c.NodeMetadataPrefix) {
		return fmt.Errorf("config: content_prefix must not fall under node_metadata_prefix")
	}
	for i := 1; i < len(c.AllocatorWindowSchedule); i++ {
		if c.AllocatorWindowSchedule[i] <= c.AllocatorWindowSchedule[i-1] {
			return fmt.Errorf("config: allocator_window_schedule must be strictly increasing")
		}
	}
	return nil
}

// WindowSizeForStage returns the window size for the given contention
// stage, reusing the final scheduled size once stage exceeds the schedule's
// length.
func (c Config) WindowSizeForStage(stage int) uint64 {
	if stage < 0 {
		stage = 0
	}
	if stage >= len(c.AllocatorWindowSchedule) {
		stage = len(c.AllocatorWindowSchedule) - 1
	}
	return c.AllocatorWindowSchedule[stage]
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
