// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package directory

import "fmt"

// ErrCode represents the collection of errors that may be returned by the
// directory layer.
type ErrCode int

const (
	// InternalErr indicates an unknown, internal error has occurred.
	InternalErr ErrCode = iota

	// NotFoundErr indicates the directory at the given path does not exist.
	NotFoundErr

	// ExistsErr indicates a directory already exists where create was
	// requested.
	ExistsErr

	// InvalidLayerErr indicates an open or change_layer call used a layer id
	// that conflicts with the stored one, or an otherwise forbidden layer
	// transition.
	InvalidLayerErr

	// InvalidPathErr indicates an empty segment, mixing absolute and
	// relative paths, or a move crossing a partition boundary.
	InvalidPathErr

	// PrefixClashErr indicates an explicit prefix overlapped a live prefix,
	// or the allocator exhausted its bounded retries within a window.
	PrefixClashErr

	// StaleHandleErr indicates a handle's validation chain no longer
	// matches the current metadata stamps.
	StaleHandleErr

	// CancelledErr indicates the caller's cancellation signal fired.
	CancelledErr
)

// Error is the error type returned by the directory layer. It carries the
// path and operation name for every error, and the expected/actual layer
// ids for InvalidLayerErr.
type Error struct {
	Code          ErrCode
	Path          string
	Op            string
	ExpectedLayer string
	ActualLayer   string
}

func (e *Error) Error() string {
	switch e.Code {
	case InvalidLayerErr:
		return fmt.Sprintf("directory: %s %q: invalid layer (expected %q, got %q)", e.Op, e.Path, e.ExpectedLayer, e.ActualLayer)
	default:
		return fmt.Sprintf("directory: %s %q: %s", e.Op, e.Path, codeMessage(e.Code))
	}
}

func codeMessage(c ErrCode) string {
	switch c {
	case NotFoundErr:
		return "not found"
	case ExistsErr:
		return "already exists"
	case InvalidPathErr:
		return "invalid path"
	case PrefixClashErr:
		return "prefix clash"
	case StaleHandleErr:
		return "stale handle"
	case CancelledErr:
		return "cancelled"
	default:
		return "internal error"
	}
}

// IsNotFound returns true if err is a NotFoundErr.
func IsNotFound(err error) bool { return hasCode(err, NotFoundErr) }

// IsExists returns true if err is an ExistsErr.
func IsExists(err error) bool { return hasCode(err, ExistsErr) }

// IsInvalidLayer returns true if err is an InvalidLayerErr.
func IsInvalidLayer(err error) bool { return hasCode(err, InvalidLayerErr) }

// IsInvalidPath returns true if err is an InvalidPathErr.
func IsInvalidPath(err error) bool { return hasCode(err, InvalidPathErr) }

// IsPrefixClash returns true if err is a PrefixClashErr.
func IsPrefixClash(err error) bool { return hasCode(err, PrefixClashErr) }

// IsStaleHandle returns true if err is a StaleHandleErr.
func IsStaleHandle(err error) bool { return hasCode(err, StaleHandleErr) }

func hasCode(err error, code ErrCode) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}

func notFoundError(op, path string) *Error {
	return &Error{Code: NotFoundErr, Op: op, Path: path}
}

func existsError(op, path string) *Error {
	return &Error{Code: ExistsErr, Op: op, Path: path}
}

func invalidLayerError(op, path, expected, actual string) *Error {
	return &Error{Code: InvalidLayerErr, Op: op, Path: path, ExpectedLayer: expected, ActualLayer: actual}
}

func invalidPathError(op, path string) *Error {
	return &Error{Code: InvalidPathErr, Op: op, Path: path}
}

func prefixClashError(op, path string) *Error {
	return &Error{Code: PrefixClashErr, Op: op, Path: path}
}

func staleHandleError(op, path string) *Error {
	return &Error{Code: StaleHandleErr, Op: op, Path: path}
}
