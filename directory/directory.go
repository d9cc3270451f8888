// Copyright 2022 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package directory implements the directory tree operations layered on
// top of nodestore: create_or_open, open, create, register, move, remove,
// exists, list and change_layer, plus the partition concept (a directory
// whose layer id is "partition" roots a nested, independent directory
// layer) and the handle ("subspace") returned to callers.
package directory

import (
	"bytes"
	"context"

	"github.com/opendirectorylayer/directory/allocator"
	"github.com/opendirectorylayer/directory/config"
	"github.com/opendirectorylayer/directory/kv"
	"github.com/opendirectorylayer/directory/metrics"
	"github.com/opendirectorylayer/directory/nodestore"
	"github.com/opendirectorylayer/directory/path"
)

// partitionMetaSuffix separates a partition's own metadata keys from its
// content keys: a partition's node prefix doubles as both metadata and
// content root (spec §6), so metadata is nested one byte deeper under the
// well-known 0xFE marker, mirroring the root layer's own convention.
var partitionMetaSuffix = []byte{0xfe}

// Partition is an independent directory layer rooted either at the
// database (the top-level root) or at a node whose layer id is
// "partition". Partitions nest to arbitrary depth, each with its own node
// store and allocator.
type Partition struct {
	path    path.Path
	prefix  []byte
	meta    []byte
	store   *nodestore.Store
	parent  *Partition
	metrics metrics.Metrics
}

// NewRoot returns the top-level Partition for a database configured with
// cfg. Every operation on the directory layer starts here.
func NewRoot(cfg config.Config, m metrics.Metrics) *Partition {
	if m == nil {
		m = metrics.New()
	}
	alloc := allocator.New(cfg.NodeMetadataPrefix, cfg.ContentPrefix, windowSizeFromSchedule(cfg.AllocatorWindowSchedule), m)
	store := nodestore.New(cfg.NodeMetadataPrefix, alloc, m)
	return &Partition{
		path:    path.Root(),
		prefix:  cfg.ContentPrefix,
		meta:    cfg.NodeMetadataPrefix,
		store:   store,
		metrics: m,
	}
}

func newNestedPartition(parent *Partition, nodePath path.Path, nodePrefix []byte, m metrics.Metrics) *Partition {
	meta := append(append([]byte{}, nodePrefix...), partitionMetaSuffix...)
	alloc := allocator.New(meta, nodePrefix, nil, m)
	store := nodestore.New(meta, alloc, m)
	return &Partition{
		path:    nodePath,
		prefix:  nodePrefix,
		meta:    meta,
		store:   store,
		parent:  parent,
		metrics: m,
	}
}

// dbRoot walks up the parent chain to the top-level, database-rooted
// Partition. Every absolute path is resolved starting there, regardless of
// which partition's handle a caller started from.
func (p *Partition) dbRoot() *Partition {
	cur := p
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

func windowSizeFromSchedule(schedule []uint64) func(uint64) uint64 {
	if len(schedule) == 0 {
		return allocator.WindowSchedule
	}
	return func(windowStart uint64) uint64 {
		for i := 0; i < len(schedule)-1; i++ {
			if windowStart < schedule[i]*4 {
				return schedule[i]
			}
		}
		return schedule[len(schedule)-1]
	}
}

// versionSnapshot is one link of a handle's validation chain: the
// metadata version of a partition crossed during resolution, captured at
// the moment it was consulted.
type versionSnapshot struct {
	partition *Partition
	version   uint64
}

// Handle is the immutable value object returned by every resolution and
// mutation: it carries the absolute path, resolved prefix, layer id, and a
// validation chain used to detect staleness.
type Handle struct {
	Path        path.Path
	Prefix      []byte
	LayerID     string
	IsPartition bool

	owner *Partition
	chain []versionSnapshot
}

// IsValid reports whether every partition in the handle's validation
// chain still has the metadata version it had at resolution time. A
// mismatch means some ancestor's tree changed and the handle must be
// re-resolved.
func (h *Handle) IsValid(ctx context.Context, txn kv.Transaction) (bool, error) {
	for _, snap := range h.chain {
		v, err := snap.partition.store.Version(ctx, txn)
		if err != nil {
			return false, err
		}
		if v != snap.version {
			return false, nil
		}
	}
	return true, nil
}

// Open appends rel to the path this handle already names and re-resolves
// the full path from the database root; the walk down from there crosses
// into whichever nested partition owns each segment, so a handle inside a
// nested partition reaches the same owning partition.
func (h *Handle) Open(ctx context.Context, txn kv.Transaction, rel path.Path, layer string) (*Handle, error) {
	full, err := h.Path.AppendPath(rel)
	if err != nil {
		return nil, invalidPathError("open", rel.String())
	}
	return h.owner.dbRoot().Open(ctx, txn, full, layer)
}

// CreateOrOpen is Open's create_or_open counterpart: rel is appended to this
// handle's path and the result is created and/or opened by resolving it from
// the database root, like Open.
func (h *Handle) CreateOrOpen(ctx context.Context, txn kv.Transaction, rel path.Path, layer string, explicitPrefix []byte, allowCreate, allowOpen bool) (*Handle, error) {
	full, err := h.Path.AppendPath(rel)
	if err != nil {
		return nil, invalidPathError("create_or_open", rel.String())
	}
	return h.owner.dbRoot().CreateOrOpen(ctx, txn, full, layer, explicitPrefix, allowCreate, allowOpen)
}

// walkResult is the outcome of walking a path from a partition root.
type walkResult struct {
	owner       *Partition // the partition whose node store holds node as a child entry of its parent
	parentOwner *Partition // the partition whose node store holds the final segment's parent
	node        nodestore.Node
	found       bool
	missingAt   int // index of the first missing segment, valid only if !found
	chain       []versionSnapshot

	// container is the partition whose node store and prefix must be used
	// to treat node as a container of children: owner itself when node is
	// an ordinary entry, or the nested partition rooted at node when
	// node's layer id is nodestore.PartitionLayer, since a partition's
	// children live in a distinct meta space keyed off node.Prefix
	// (+partitionMetaSuffix), not in owner's own meta space.
	container *Partition
}

// walk resolves p.Segments[0:] starting from root's own content root,
// descending into nested partitions as they're crossed. It never creates
// anything.
func (root *Partition) walk(ctx context.Context, txn kv.Transaction, p path.Path) (*walkResult, error) {
	cur := root
	parentPrefix := root.prefix
	v0, err := root.store.Version(ctx, txn)
	if err != nil {
		return nil, err
	}
	chain := []versionSnapshot{{root, v0}}

	if p.Len() == 0 {
		rootNode := nodestore.Node{Prefix: root.prefix, LayerID: nodestore.PartitionLayer}
		return &walkResult{owner: root, parentOwner: root, node: rootNode, found: true, chain: chain, container: root}, nil
	}

	var parentOwner *Partition
	var node nodestore.Node
	for i, seg := range p.Segments {
		parentOwner = cur
		n, ok, err := cur.store.Find(ctx, txn, parentPrefix, seg.Name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &walkResult{parentOwner: parentOwner, found: false, missingAt: i, chain: chain}, nil
		}
		node = n
		last := i == p.Len()-1
		if n.LayerID == nodestore.PartitionLayer && !last {
			nested := newNestedPartition(cur, p.Sub(0, i+1), n.Prefix, cur.metrics)
			nv, err := nested.store.Version(ctx, txn)
			if err != nil {
				return nil, err
			}
			chain = append(chain, versionSnapshot{nested, nv})
			cur = nested
			parentPrefix = nested.prefix
			continue
		}
		parentPrefix = n.Prefix
	}

	container := cur
	if node.LayerID == nodestore.PartitionLayer {
		container = newNestedPartition(cur, p, node.Prefix, cur.metrics)
	}
	return &walkResult{owner: cur, parentOwner: parentOwner, node: node, found: true, chain: chain, container: container}, nil
}

func (r *walkResult) handle(p path.Path) *Handle {
	return &Handle{
		Path:        p,
		Prefix:      r.node.Prefix,
		LayerID:     r.node.LayerID,
		IsPartition: r.node.LayerID == nodestore.PartitionLayer,
		owner:       r.owner,
		chain:       r.chain,
	}
}

// CreateOrOpen resolves p, creating any missing ancestor (with empty layer
// id) and the final segment (with layer and, if non-nil, explicitPrefix)
// as needed, subject to allowCreate/allowOpen.
func (root *Partition) CreateOrOpen(ctx context.Context, txn kv.Transaction, p path.Path, layer string, explicitPrefix []byte, allowCreate, allowOpen bool) (*Handle, error) {
	const op = "create_or_open"
	if err := p.Validate(); err != nil || !p.Absolute {
		return nil, invalidPathError(op, p.String())
	}

	cur := root
	parentPrefix := root.prefix
	v0, err := root.store.Version(ctx, txn)
	if err != nil {
		return nil, err
	}
	chain := []versionSnapshot{{root, v0}}

	if p.Len() == 0 {
		return &Handle{Path: p, Prefix: root.prefix, LayerID: nodestore.PartitionLayer, IsPartition: true, owner: root, chain: chain}, nil
	}

	for i, seg := range p.Segments {
		last := i == p.Len()-1
		node, ok, err := cur.store.Find(ctx, txn, parentPrefix, seg.Name)
		if err != nil {
			return nil, err
		}

		if !ok {
			if last {
				if !allowCreate {
					return nil, notFoundError(op, p.String())
				}
				var prefix []byte
				if explicitPrefix != nil {
					prefix = explicitPrefix
				}
				node, err = cur.store.Allocate(ctx, txn, parentPrefix, seg.Name, layer, prefix)
				if err != nil {
					return nil, translateNodestoreErr(op, p.String(), err)
				}
			} else {
				if !allowCreate {
					return nil, notFoundError(op, p.String())
				}
				node, err = cur.store.Allocate(ctx, txn, parentPrefix, seg.Name, "", nil)
				if err != nil {
					return nil, translateNodestoreErr(op, p.String(), err)
				}
			}
		} else if last {
			if !allowOpen {
				return nil, existsError(op, p.String())
			}
			if layer != "" && node.LayerID != layer {
				return nil, invalidLayerError(op, p.String(), layer, node.LayerID)
			}
		}

		if node.LayerID == nodestore.PartitionLayer && !last {
			nested := newNestedPartition(cur, p.Sub(0, i+1), node.Prefix, cur.metrics)
			nv, err := nested.store.Version(ctx, txn)
			if err != nil {
				return nil, err
			}
			chain = append(chain, versionSnapshot{nested, nv})
			cur = nested
			parentPrefix = nested.prefix
			continue
		}
		parentPrefix = node.Prefix

		if last {
			return &Handle{
				Path:        p,
				Prefix:      node.Prefix,
				LayerID:     node.LayerID,
				IsPartition: node.LayerID == nodestore.PartitionLayer,
				owner:       cur,
				chain:       chain,
			}, nil
		}
	}
	return nil, notFoundError(op, p.String())
}

// Open resolves an existing directory at p, requiring its layer id to
// match layer (unless layer is empty).
func (root *Partition) Open(ctx context.Context, txn kv.Transaction, p path.Path, layer string) (*Handle, error) {
	return root.CreateOrOpen(ctx, txn, p, layer, nil, false, true)
}

// TryOpen is like Open but returns (nil, nil) instead of a NotFoundErr.
func (root *Partition) TryOpen(ctx context.Context, txn kv.Transaction, p path.Path, layer string) (*Handle, error) {
	h, err := root.Open(ctx, txn, p, layer)
	if IsNotFound(err) {
		return nil, nil
	}
	return h, err
}

// Create creates a new directory at p, failing with ExistsErr if one
// already exists.
func (root *Partition) Create(ctx context.Context, txn kv.Transaction, p path.Path, layer string, explicitPrefix []byte) (*Handle, error) {
	return root.CreateOrOpen(ctx, txn, p, layer, explicitPrefix, true, false)
}

// TryCreate is like Create but returns (nil, nil) instead of an ExistsErr.
func (root *Partition) TryCreate(ctx context.Context, txn kv.Transaction, p path.Path, layer string, explicitPrefix []byte) (*Handle, error) {
	h, err := root.Create(ctx, txn, p, layer, explicitPrefix)
	if IsExists(err) {
		return nil, nil
	}
	return h, err
}

// Register creates a directory at p using an externally supplied prefix,
// failing with PrefixClashErr if it overlaps any live prefix.
func (root *Partition) Register(ctx context.Context, txn kv.Transaction, p path.Path, layer string, prefix []byte) (*Handle, error) {
	if len(prefix) == 0 {
		return nil, invalidPathError("register", p.String())
	}
	return root.Create(ctx, txn, p, layer, prefix)
}

// Exists reports whether a directory exists at p.
func (root *Partition) Exists(ctx context.Context, txn kv.Transaction, p path.Path) (bool, error) {
	r, err := root.walk(ctx, txn, p)
	if err != nil {
		return false, err
	}
	return r.found, nil
}

// List returns the ordered child names of the directory at p.
func (root *Partition) List(ctx context.Context, txn kv.Transaction, p path.Path) ([]string, error) {
	r, err := root.walk(ctx, txn, p)
	if err != nil {
		return nil, err
	}
	if !r.found {
		return nil, notFoundError("list", p.String())
	}
	children, err := r.container.store.Children(ctx, txn, r.node.Prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(children))
	for i, c := range children {
		names[i] = c.Name
	}
	return names, nil
}

// TryList is like List but returns (nil, nil) instead of a NotFoundErr.
func (root *Partition) TryList(ctx context.Context, txn kv.Transaction, p path.Path) ([]string, error) {
	names, err := root.List(ctx, txn, p)
	if IsNotFound(err) {
		return nil, nil
	}
	return names, err
}

// Remove deletes the directory at p and everything beneath it.
func (root *Partition) Remove(ctx context.Context, txn kv.Transaction, p path.Path) error {
	const op = "remove"
	if p.Len() == 0 {
		return invalidPathError(op, p.String())
	}
	r, err := root.walk(ctx, txn, p.Parent())
	if err != nil {
		return err
	}
	if !r.found {
		return notFoundError(op, p.String())
	}
	last := p.Segments[p.Len()-1]
	existed, err := r.container.store.Remove(ctx, txn, r.node.Prefix, last.Name)
	if err != nil {
		return err
	}
	if !existed {
		return notFoundError(op, p.String())
	}
	return nil
}

// Move relocates the directory at oldPath to newPath, within the same
// partition. The physical content prefix is unchanged.
func (root *Partition) Move(ctx context.Context, txn kv.Transaction, oldPath, newPath path.Path) (*Handle, error) {
	const op = "move"
	if oldPath.Equal(newPath) {
		return root.Open(ctx, txn, oldPath, "")
	}
	if newPath.IsDescendantOf(oldPath) {
		return nil, invalidPathError(op, newPath.String())
	}

	oldR, err := root.walk(ctx, txn, oldPath.Parent())
	if err != nil {
		return nil, err
	}
	if !oldR.found {
		return nil, notFoundError(op, oldPath.String())
	}
	oldName := oldPath.Segments[oldPath.Len()-1]
	if _, ok, err := oldR.container.store.Find(ctx, txn, oldR.node.Prefix, oldName.Name); err != nil {
		return nil, err
	} else if !ok {
		return nil, notFoundError(op, oldPath.String())
	}

	newParentR, err := root.walk(ctx, txn, newPath.Parent())
	if err != nil {
		return nil, err
	}
	if !newParentR.found {
		return nil, notFoundError(op, newPath.String())
	}
	if !bytes.Equal(oldR.container.prefix, newParentR.container.prefix) {
		return nil, invalidPathError(op, "cross-partition move")
	}
	newName := newPath.Segments[newPath.Len()-1]
	if _, ok, err := newParentR.container.store.Find(ctx, txn, newParentR.node.Prefix, newName.Name); err != nil {
		return nil, err
	} else if ok {
		return nil, existsError(op, newPath.String())
	}

	if err := oldR.container.store.MoveChild(ctx, txn, oldR.node.Prefix, oldName.Name, newParentR.node.Prefix, newName.Name); err != nil {
		return nil, err
	}

	return root.Open(ctx, txn, newPath, "")
}

// ChangeLayer updates the layer id of the directory at p. Forbidden on a
// partition root, and forbidden when newLayer is "partition" (a regular
// directory cannot be converted into a partition in place).
func (root *Partition) ChangeLayer(ctx context.Context, txn kv.Transaction, p path.Path, newLayer string) (*Handle, error) {
	const op = "change_layer"
	if newLayer == nodestore.PartitionLayer {
		return nil, invalidLayerError(op, p.String(), "", newLayer)
	}
	r, err := root.walk(ctx, txn, p)
	if err != nil {
		return nil, err
	}
	if !r.found {
		return nil, notFoundError(op, p.String())
	}
	if r.node.LayerID == nodestore.PartitionLayer {
		return nil, invalidLayerError(op, p.String(), r.node.LayerID, newLayer)
	}
	if err := r.owner.store.SetLayer(ctx, txn, r.node.Prefix, newLayer); err != nil {
		return nil, err
	}
	return root.Open(ctx, txn, p, newLayer)
}

func translateNodestoreErr(op, p string, err error) error {
	switch err {
	case nodestore.ErrExists:
		return existsError(op, p)
	case nodestore.ErrPrefixClash, allocator.ErrPrefixClash:
		return prefixClashError(op, p)
	case nodestore.ErrInvalidPartition:
		return invalidPathError(op, p)
	default:
		return err
	}
}
