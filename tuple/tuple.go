// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package tuple implements the order-preserving, self-delimiting key codec
// consumed by the node store (spec §6: "Tuple/key codec interface
// consumed"). It encodes a heterogeneous list of strings, byte strings and
// unsigned integers into a single byte string such that the lexicographic
// order of the encoded bytes matches the element-wise order of the decoded
// tuples, and such that encode/decode round-trip exactly.
package tuple

import (
	"encoding/binary"
	"fmt"
)

const (
	typeBytes  = 0x01
	typeString = 0x02
	typeUint   = 0x0c
)

// Element is any value encodable in a tuple: string, []byte or uint64.
type Element interface{}

// Encode serializes elems into an order-preserving byte string.
func Encode(elems ...Element) []byte {
	var out []byte
	for _, e := range elems {
		out = append(out, encodeOne(e)...)
	}
	return out
}

func encodeOne(e Element) []byte {
	switch v := e.(type) {
	case string:
		return append([]byte{typeString}, escapeAndTerminate([]byte(v))...)
	case []byte:
		return append([]byte{typeBytes}, escapeAndTerminate(v)...)
	case uint64:
		buf := make([]byte, 9)
		buf[0] = typeUint
		binary.BigEndian.PutUint64(buf[1:], v)
		return buf
	case int:
		if v < 0 {
			panic("tuple: negative int not supported")
		}
		return encodeOne(uint64(v))
	default:
		panic(fmt.Sprintf("tuple: unsupported element type %T", e))
	}
}

// escapeAndTerminate escapes any 0x00 byte in b as 0x00 0xFF, and appends a
// 0x00 0x00 terminator, so that the encoded segment is both order-preserving
// and self-delimiting.
func escapeAndTerminate(b []byte) []byte {
	out := make([]byte, 0, len(b)+2)
	for _, c := range b {
		if c == 0x00 {
			out = append(out, 0x00, 0xFF)
		} else {
			out = append(out, c)
		}
	}
	out = append(out, 0x00, 0x00)
	return out
}

// Decode parses a byte string produced by Encode back into its elements.
func Decode(data []byte) ([]Element, error) {
	var elems []Element
	for len(data) > 0 {
		tag := data[0]
		rest := data[1:]
		switch tag {
		case typeString, typeBytes:
			raw, n, err := readEscaped(rest)
			if err != nil {
				return nil, err
			}
			if tag == typeString {
				elems = append(elems, string(raw))
			} else {
				elems = append(elems, raw)
			}
			data = rest[n:]
		case typeUint:
			if len(rest) < 8 {
				return nil, fmt.Errorf("tuple: truncated uint element")
			}
			elems = append(elems, binary.BigEndian.Uint64(rest[:8]))
			data = rest[8:]
		default:
			return nil, fmt.Errorf("tuple: unknown type tag 0x%02x", tag)
		}
	}
	return elems, nil
}

// readEscaped reads an escaped-and-terminated segment from the front of b,
// returning the unescaped bytes and the number of input bytes consumed
// (including the terminator).
func readEscaped(b []byte) ([]byte, int, error) {
	var out []byte
	i := 0
	for i < len(b) {
		if b[i] == 0x00 {
			if i+1 >= len(b) {
				return nil, 0, fmt.Errorf("tuple: truncated escape sequence")
			}
			switch b[i+1] {
			case 0x00:
				return out, i + 2, nil
			case 0xFF:
				out = append(out, 0x00)
				i += 2
				continue
			default:
				return nil, 0, fmt.Errorf("tuple: invalid escape sequence")
			}
		}
		out = append(out, b[i])
		i++
	}
	return nil, 0, fmt.Errorf("tuple: missing terminator")
}

// Range returns the [lo, hi) byte range covering every tuple that begins
// with the encoding of elems, for use as a key-value range scan.
func Range(elems ...Element) (lo, hi []byte) {
	lo = Encode(elems...)
	hi = append(append([]byte{}, lo...), 0xFF)
	return lo, hi
}
