// Copyright 2022 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package nodestore implements the directory tree's metadata primitives:
// find, children, allocate, set_layer, remove and bump_version, keyed under
// a partition's metadata prefix as described by the on-disk layout.
package nodestore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/tchap/go-patricia/v2/patricia"

	"github.com/opendirectorylayer/directory/allocator"
	"github.com/opendirectorylayer/directory/kv"
	"github.com/opendirectorylayer/directory/metrics"
	"github.com/opendirectorylayer/directory/tuple"
)

// errOverlapFound is returned by the patricia visitor used in anyOverlap to
// short-circuit the trie walk as soon as one colliding prefix is seen; it
// never escapes anyOverlap itself.
var errOverlapFound = fmt.Errorf("nodestore: overlap found")

// Sentinel errors surfaced by nodestore primitives; see spec §7.
var (
	ErrExists           = fmt.Errorf("nodestore: node already exists")
	ErrPrefixClash      = fmt.Errorf("nodestore: prefix clash")
	ErrInvalidPartition = fmt.Errorf("nodestore: invalid partition")
	ErrNotFound         = fmt.Errorf("nodestore: node not found")
)

// PartitionLayer is the well-known layer id marking a partition root.
const PartitionLayer = "partition"

// Node is the metadata record for a directory: its content prefix and
// layer id. The metadata version ("stamp") is tracked separately at the
// partition level, not per node, per spec §3 ("stamp: a monotonically
// changing metadata-version value, readable cheaply" is the partition's
// shared register).
type Node struct {
	Prefix  []byte
	LayerID string
}

// Child is one entry in a node's children index.
type Child struct {
	Name    string
	Prefix  []byte
	LayerID string
}

// Store is a node store rooted at a single partition: metaPrefix scopes all
// of its metadata keys, and alloc allocates prefixes within this
// partition's own content space.
type Store struct {
	metaPrefix []byte
	alloc      *allocator.Allocator
	metrics    metrics.Metrics
}

// New returns a Store whose metadata lives under metaPrefix and whose
// prefixes are allocated by alloc.
func New(metaPrefix []byte, alloc *allocator.Allocator, m metrics.Metrics) *Store {
	if m == nil {
		m = metrics.New()
	}
	return &Store{metaPrefix: metaPrefix, alloc: alloc, metrics: m}
}

func (s *Store) layerKey(nodePrefix []byte) []byte {
	return append(append([]byte{}, s.metaPrefix...), tuple.Encode(nodePrefix, "layer")...)
}

func (s *Store) childKey(parentPrefix []byte, childName string) []byte {
	return append(append([]byte{}, s.metaPrefix...), tuple.Encode(parentPrefix, "child", childName)...)
}

func (s *Store) childRange(parentPrefix []byte) (lo, hi []byte) {
	prefix := append(append([]byte{}, s.metaPrefix...), tuple.Encode(parentPrefix, "child")...)
	lo = append(prefix, 0x00)
	hi = append(append([]byte{}, prefix...), 0xff)
	return lo, hi
}

func (s *Store) versionKey() []byte {
	return append(append([]byte{}, s.metaPrefix...), tuple.Encode("version")...)
}

// Root returns the well-known node record for this partition's own root,
// whose prefix is the empty suffix within its content space (i.e. the
// partition's content prefix itself). The root node's layer is read from
// the store the same way as any other node's.
func (s *Store) Root(ctx context.Context, txn kv.Transaction, rootPrefix []byte) (Node, error) {
	v, ok, err := s.getLayer(ctx, txn, rootPrefix)
	if err != nil {
		return Node{}, err
	}
	if !ok {
		return Node{Prefix: rootPrefix, LayerID: ""}, nil
	}
	return Node{Prefix: rootPrefix, LayerID: v}, nil
}

func (s *Store) getLayer(ctx context.Context, txn kv.Transaction, nodePrefix []byte) (string, bool, error) {
	timer := s.metrics.Timer(metrics.NodeStoreRead)
	timer.Start()
	defer timer.Stop()

	key := s.layerKey(nodePrefix)
	txn.AddReadConflict(key)
	v, ok, err := txn.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return string(v), true, nil
}

// Find looks up the child named name under parentPrefix, returning its
// node record or ok=false if absent.
func (s *Store) Find(ctx context.Context, txn kv.Transaction, parentPrefix []byte, name string) (Node, bool, error) {
	key := s.childKey(parentPrefix, name)
	txn.AddReadConflict(key)
	v, ok, err := txn.Get(ctx, key)
	if err != nil {
		return Node{}, false, err
	}
	if !ok {
		return Node{}, false, nil
	}
	layer, _, err := s.getLayer(ctx, txn, v)
	if err != nil {
		return Node{}, false, err
	}
	return Node{Prefix: v, LayerID: layer}, true, nil
}

// Children returns the ordered list of children of the node at
// parentPrefix, ascending by name.
func (s *Store) Children(ctx context.Context, txn kv.Transaction, parentPrefix []byte) ([]Child, error) {
	timer := s.metrics.Timer(metrics.NodeStoreRead)
	timer.Start()
	defer timer.Stop()

	lo, hi := s.childRange(parentPrefix)
	txn.AddReadConflict(lo)
	pairs, err := txn.GetRange(ctx, lo, hi, 0, false)
	if err != nil {
		return nil, err
	}

	out := make([]Child, 0, len(pairs))
	for _, p := range pairs {
		name, err := childNameFromKey(s.metaPrefix, parentPrefix, p.Key)
		if err != nil {
			return nil, err
		}
		layer, _, err := s.getLayer(ctx, txn, p.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, Child{Name: name, Prefix: p.Value, LayerID: layer})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func childNameFromKey(metaPrefix, parentPrefix, key []byte) (string, error) {
	suffixPrefix := append(append([]byte{}, metaPrefix...), tuple.Encode(parentPrefix, "child")...)
	if !bytes.HasPrefix(key, suffixPrefix) {
		return "", fmt.Errorf("nodestore: malformed child key")
	}
	elems, err := tuple.Decode(key[len(metaPrefix):])
	if err != nil {
		return "", fmt.Errorf("nodestore: malformed child key: %w", err)
	}
	if len(elems) != 3 {
		return "", fmt.Errorf("nodestore: malformed child key: want 3 elements, got %d", len(elems))
	}
	name, ok := elems[2].(string)
	if !ok {
		return "", fmt.Errorf("nodestore: malformed child key: name element is not a string")
	}
	return name, nil
}

// Allocate creates a new child node named name under parentPrefix with the
// given layer id. If explicitPrefix is non-nil it is used verbatim (after
// verifying it does not overlap any live prefix); otherwise a fresh prefix
// is obtained from the allocator.
func (s *Store) Allocate(ctx context.Context, txn kv.Transaction, parentPrefix []byte, name, layer string, explicitPrefix []byte) (Node, error) {
	timer := s.metrics.Timer(metrics.NodeStoreWrite)
	timer.Start()
	defer timer.Stop()

	if _, exists, err := s.Find(ctx, txn, parentPrefix, name); err != nil {
		return Node{}, err
	} else if exists {
		return Node{}, ErrExists
	}

	var prefix []byte
	if explicitPrefix != nil {
		overlap, err := s.anyOverlap(ctx, txn, explicitPrefix)
		if err != nil {
			return Node{}, err
		}
		if overlap {
			return Node{}, ErrPrefixClash
		}
		prefix = explicitPrefix
	} else {
		if s.alloc == nil {
			return Node{}, ErrInvalidPartition
		}
		p, err := s.alloc.Allocate(ctx, txn, func(ctx context.Context, txn kv.Transaction, candidate []byte) (bool, error) {
			overlap, err := s.anyOverlap(ctx, txn, candidate)
			return !overlap, err
		}, s.allocationCeiling)
		if err != nil {
			return Node{}, err
		}
		prefix = p
	}

	if err := txn.Set(ctx, s.layerKey(prefix), []byte(layer)); err != nil {
		return Node{}, err
	}
	if err := txn.Set(ctx, s.childKey(parentPrefix, name), prefix); err != nil {
		return Node{}, err
	}
	if err := s.BumpVersion(ctx, txn); err != nil {
		return Node{}, err
	}
	return Node{Prefix: prefix, LayerID: layer}, nil
}

// anyOverlap reports whether candidate coincides with, contains, or is
// contained by any live node's layer key prefix (spec invariant 1 & 5:
// prefix disjointness, and the allocator never returning a clashing
// prefix). This is a best-effort check scoped to the keys this
// transaction can see; true global disjointness is enforced by the
// allocator's reservation write plus commit-time conflict detection.
//
// The live prefixes this transaction can see are always re-read in full
// (a cached trie shared across transactions could not honor read-your-own
// writes without duplicating the KV layer's own conflict tracking), but the
// actual containment test — does any live prefix contain, or is contained
// by, candidate — is delegated to a patricia.Trie built over the scanned
// set, rather than a manual O(n) pairwise bytes.HasPrefix scan.
func (s *Store) anyOverlap(ctx context.Context, txn kv.Transaction, candidate []byte) (bool, error) {
	lo := append([]byte{}, s.metaPrefix...)
	hi := append(append([]byte{}, s.metaPrefix...), 0xff)
	pairs, err := txn.GetRange(ctx, lo, hi, 0, false)
	if err != nil {
		return false, err
	}

	trie := patricia.NewTrie()
	for _, p := range pairs {
		elems, err := tuple.Decode(p.Key[len(s.metaPrefix):])
		if err != nil || len(elems) < 2 {
			continue
		}
		nodePrefix, ok := elems[0].([]byte)
		if !ok {
			continue
		}
		tag, ok := elems[1].(string)
		if !ok || tag != "layer" {
			continue
		}
		trie.Insert(patricia.Prefix(nodePrefix), true)
	}

	stopOnMatch := func(patricia.Prefix, patricia.Item) error { return errOverlapFound }

	// Does any live prefix extend candidate (candidate contains it)?
	if err := trie.VisitSubtree(patricia.Prefix(candidate), stopOnMatch); err != nil {
		if err == errOverlapFound {
			return true, nil
		}
		return false, err
	}
	// Does any live prefix contain candidate (candidate extends it)?
	if err := trie.VisitPrefixes(patricia.Prefix(candidate), stopOnMatch); err != nil {
		if err == errOverlapFound {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// allocationCeiling implements allocator.Ceiling for this store's content
// space: it reports the highest candidateValue already claimed by any live
// node whose prefix has the shape contentPrefix+8-byte-value (i.e. was
// itself minted by the allocator, as opposed to an explicitly-registered
// prefix of some other shape), so window advance can jump past it.
func (s *Store) allocationCeiling(ctx context.Context, txn kv.Transaction) (uint64, bool, error) {
	contentPrefix := s.alloc.ContentPrefix()
	lo := append([]byte{}, s.metaPrefix...)
	hi := append(append([]byte{}, s.metaPrefix...), 0xff)
	pairs, err := txn.GetRange(ctx, lo, hi, 0, false)
	if err != nil {
		return 0, false, err
	}

	var maxVal uint64
	found := false
	for _, p := range pairs {
		elems, err := tuple.Decode(p.Key[len(s.metaPrefix):])
		if err != nil || len(elems) < 2 {
			continue
		}
		nodePrefix, ok := elems[0].([]byte)
		if !ok {
			continue
		}
		tag, ok := elems[1].(string)
		if !ok || tag != "layer" {
			continue
		}
		if len(nodePrefix) != len(contentPrefix)+8 || !bytes.HasPrefix(nodePrefix, contentPrefix) {
			continue
		}
		v := binary.BigEndian.Uint64(nodePrefix[len(contentPrefix):])
		if !found || v > maxVal {
			maxVal = v
			found = true
		}
	}
	return maxVal, found, nil
}

// SetLayer updates the layer id of the node at nodePrefix.
func (s *Store) SetLayer(ctx context.Context, txn kv.Transaction, nodePrefix []byte, newLayer string) error {
	if err := txn.Set(ctx, s.layerKey(nodePrefix), []byte(newLayer)); err != nil {
		return err
	}
	return s.BumpVersion(ctx, txn)
}

// Remove deletes the child entry named name under parentPrefix, along with
// the child node's own metadata and children index (depth-first). It
// returns whether the child existed.
func (s *Store) Remove(ctx context.Context, txn kv.Transaction, parentPrefix []byte, name string) (bool, error) {
	node, exists, err := s.Find(ctx, txn, parentPrefix, name)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	if err := s.removeSubtree(ctx, txn, node.Prefix); err != nil {
		return false, err
	}
	if err := txn.Clear(ctx, s.childKey(parentPrefix, name)); err != nil {
		return false, err
	}
	if err := s.BumpVersion(ctx, txn); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) removeSubtree(ctx context.Context, txn kv.Transaction, nodePrefix []byte) error {
	children, err := s.Children(ctx, txn, nodePrefix)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := s.removeSubtree(ctx, txn, c.Prefix); err != nil {
			return err
		}
		if err := txn.Clear(ctx, s.childKey(nodePrefix, c.Name)); err != nil {
			return err
		}
	}
	if err := txn.Clear(ctx, s.layerKey(nodePrefix)); err != nil {
		return err
	}
	contentLo := append([]byte{}, nodePrefix...)
	contentHi := append(append([]byte{}, nodePrefix...), 0xff)
	return txn.ClearRange(ctx, contentLo, contentHi)
}

// MoveChild relocates the child named oldName under oldParentPrefix to be
// named newName under newParentPrefix, preserving its node prefix (and
// thus all user data already stored under it) unchanged.
func (s *Store) MoveChild(ctx context.Context, txn kv.Transaction, oldParentPrefix []byte, oldName string, newParentPrefix []byte, newName string) error {
	node, ok, err := s.Find(ctx, txn, oldParentPrefix, oldName)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if err := txn.Clear(ctx, s.childKey(oldParentPrefix, oldName)); err != nil {
		return err
	}
	if err := txn.Set(ctx, s.childKey(newParentPrefix, newName), node.Prefix); err != nil {
		return err
	}
	return s.BumpVersion(ctx, txn)
}

// BumpVersion atomically advances the partition's metadata version
// register, ensuring cache users observe a strict order (spec invariant 6).
func (s *Store) BumpVersion(ctx context.Context, txn kv.Transaction) error {
	return txn.AtomicAdd(ctx, s.versionKey(), 1)
}

// Version reads the current metadata version register.
func (s *Store) Version(ctx context.Context, txn kv.Transaction) (uint64, error) {
	v, ok, err := txn.Get(ctx, s.versionKey())
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return decodeVersion(v), nil
}

func decodeVersion(b []byte) uint64 {
	var v uint64
	for i := 0; i < len(b) && i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}
