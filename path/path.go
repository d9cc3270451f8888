// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package path implements the directory layer's path model: an ordered
// sequence of named, optionally layer-tagged segments identifying a
// directory in the namespace.
package path

import (
	"fmt"
	"strings"
)

// Segment is a single element of a Path. Name identifies the segment in its
// parent's children index. LayerID is metadata attached at creation time; it
// is not part of segment identity for comparison purposes.
type Segment struct {
	Name    string
	LayerID string
}

// Path is an ordered sequence of segments. Absolute paths are rooted at the
// top-level partition; relative paths are meaningful only once appended to
// another path.
type Path struct {
	Segments []Segment
	Absolute bool
}

// Root is the empty absolute path.
func Root() Path {
	return Path{Absolute: true}
}

// New builds an absolute path from plain segment names (no layer ids).
func New(names ...string) Path {
	p := Path{Absolute: true, Segments: make([]Segment, len(names))}
	for i, n := range names {
		p.Segments[i] = Segment{Name: n}
	}
	return p
}

// NewRelative builds a relative path from plain segment names.
func NewRelative(names ...string) Path {
	p := Path{Absolute: false, Segments: make([]Segment, len(names))}
	for i, n := range names {
		p.Segments[i] = Segment{Name: n}
	}
	return p
}

// Validate checks the structural invariants from the data model: no empty
// segment names.
func (p Path) Validate() error {
	for i, s := range p.Segments {
		if s.Name == "" {
			return fmt.Errorf("path: empty segment at index %d", i)
		}
	}
	return nil
}

// Len returns the number of segments.
func (p Path) Len() int {
	return len(p.Segments)
}

// Names returns the plain segment names, discarding layer ids.
func (p Path) Names() []string {
	names := make([]string, len(p.Segments))
	for i, s := range p.Segments {
		names[i] = s.Name
	}
	return names
}

// Append returns a new path with seg appended. The absolute flag is
// inherited from p.
func (p Path) Append(seg Segment) Path {
	segs := make([]Segment, len(p.Segments)+1)
	copy(segs, p.Segments)
	segs[len(p.Segments)] = seg
	return Path{Absolute: p.Absolute, Segments: segs}
}

// AppendName is a convenience wrapper around Append for a plain name.
func (p Path) AppendName(name string) Path {
	return p.Append(Segment{Name: name})
}

// AppendPath concatenates p with other. Concatenating two absolute paths is
// forbidden per the data model.
func (p Path) AppendPath(other Path) (Path, error) {
	if p.Absolute && other.Absolute {
		return Path{}, fmt.Errorf("path: cannot concatenate two absolute paths")
	}
	segs := make([]Segment, 0, len(p.Segments)+len(other.Segments))
	segs = append(segs, p.Segments...)
	segs = append(segs, other.Segments...)
	return Path{Absolute: p.Absolute, Segments: segs}, nil
}

// Parent returns the path without its last segment. Calling Parent on the
// root path returns the root path unchanged.
func (p Path) Parent() Path {
	if len(p.Segments) == 0 {
		return p
	}
	return Path{Absolute: p.Absolute, Segments: p.Segments[:len(p.Segments)-1]}
}

// Sub returns the segment range [i:j) as a path with the same Absolute flag
// as p only when i == 0; otherwise the result is relative, since it no
// longer starts at the root.
func (p Path) Sub(i, j int) Path {
	abs := p.Absolute && i == 0
	return Path{Absolute: abs, Segments: append([]Segment{}, p.Segments[i:j]...)}
}

// HasPrefix reports whether p starts with other, comparing names only (layer
// ids are not part of identity for this comparison).
func (p Path) HasPrefix(other Path) bool {
	if len(other.Segments) > len(p.Segments) {
		return false
	}
	for i := range other.Segments {
		if p.Segments[i].Name != other.Segments[i].Name {
			return false
		}
	}
	return true
}

// HasSuffix reports whether p ends with other, comparing names only.
func (p Path) HasSuffix(other Path) bool {
	if len(other.Segments) > len(p.Segments) {
		return false
	}
	off := len(p.Segments) - len(other.Segments)
	for i := range other.Segments {
		if p.Segments[off+i].Name != other.Segments[i].Name {
			return false
		}
	}
	return true
}

// IsChildOf reports whether p is an immediate child of other.
func (p Path) IsChildOf(other Path) bool {
	return len(p.Segments) == len(other.Segments)+1 && p.HasPrefix(other)
}

// IsParentOf reports whether p is the immediate parent of other.
func (p Path) IsParentOf(other Path) bool {
	return other.IsChildOf(p)
}

// IsDescendantOf reports whether p is a (possibly indirect) descendant of
// other, including p == other.
func (p Path) IsDescendantOf(other Path) bool {
	return p.HasPrefix(other)
}

// RelativeTo returns the suffix of p after removing the parent prefix. It
// fails if p does not have parent as a prefix.
func (p Path) RelativeTo(parent Path) (Path, error) {
	if !p.HasPrefix(parent) {
		return Path{}, fmt.Errorf("path: %v is not a descendant of %v", p, parent)
	}
	return Path{Absolute: false, Segments: append([]Segment{}, p.Segments[len(parent.Segments):]...)}, nil
}

// Equal requires identical Absolute flags and identical segments, including
// layer ids.
func (p Path) Equal(other Path) bool {
	if p.Absolute != other.Absolute || len(p.Segments) != len(other.Segments) {
		return false
	}
	for i := range p.Segments {
		if p.Segments[i] != other.Segments[i] {
			return false
		}
	}
	return true
}

// Compare returns -1, 0 or 1 comparing p and other lexicographically by
// segment name, then by length, matching storage.Path's ordering.
func (p Path) Compare(other Path) int {
	n := len(p.Segments)
	if len(other.Segments) < n {
		n = len(other.Segments)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(p.Segments[i].Name, other.Segments[i].Name); c != 0 {
			return c
		}
	}
	switch {
	case len(p.Segments) < len(other.Segments):
		return -1
	case len(p.Segments) > len(other.Segments):
		return 1
	default:
		return 0
	}
}

// HashKey returns a representation suitable for use as a map key, stable
// across backing stores since it only depends on segment names, layer ids
// and the absolute flag.
func (p Path) HashKey() string {
	return p.String()
}

const (
	escapeChars = `/\[]`
)

func escapeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(escapeChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// String renders the path using '/' as a separator, '\' escaping '/', '\',
// '[' and ']', and a layer id (if any) rendered as '[...]' after the name.
func (p Path) String() string {
	if !p.Absolute && len(p.Segments) == 0 {
		return ""
	}
	var b strings.Builder
	if p.Absolute {
		if len(p.Segments) == 0 {
			return "/"
		}
	}
	for _, s := range p.Segments {
		if p.Absolute || b.Len() > 0 {
			b.WriteByte('/')
		}
		b.WriteString(escapeSegment(s.Name))
		if s.LayerID != "" {
			b.WriteByte('[')
			b.WriteString(escapeSegment(s.LayerID))
			b.WriteByte(']')
		}
	}
	return b.String()
}

// Parse parses the escaped string form of an absolute path, as produced by
// String. It returns ok=false if the string is not well-formed (e.g. does
// not start with '/').
func Parse(s string) (Path, bool) {
	if s == "" || s[0] != '/' {
		return Path{}, false
	}
	if s == "/" {
		return Path{Absolute: true}, true
	}

	var segs []Segment
	var name strings.Builder
	var layer strings.Builder
	inLayer := false
	escaped := false

	flush := func() {
		segs = append(segs, Segment{Name: name.String(), LayerID: layer.String()})
		name.Reset()
		layer.Reset()
		inLayer = false
	}

	// Skip the leading '/'.
	runes := []rune(s[1:])
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if escaped {
			if inLayer {
				layer.WriteRune(r)
			} else {
				name.WriteRune(r)
			}
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '/':
			flush()
		case '[':
			inLayer = true
		case ']':
			inLayer = false
		default:
			if inLayer {
				layer.WriteRune(r)
			} else {
				name.WriteRune(r)
			}
		}
	}
	if escaped {
		return Path{}, false
	}
	flush()

	p := Path{Absolute: true, Segments: segs}
	if p.Validate() != nil {
		return Path{}, false
	}
	return p, true
}

// MustParse is like Parse but panics on failure. Intended for tests and
// static initialization.
func MustParse(s string) Path {
	p, ok := Parse(s)
	if !ok {
		panic(fmt.Sprintf("path: invalid path string %q", s))
	}
	return p
}
