// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package codec

import (
	"io"
	"math"

	"github.com/sinterfs/sinter/wire"
)

// readLE assembles up to 8 little-endian bytes into a uint64.
func readLE(b []byte) uint64 {
	var u uint64
	for i, x := range b {
		u |= uint64(x) << (8 * uint(i))
	}
	return u
}

// writeLE writes the low n bytes of bits, little-endian, into buf.
func writeLE(buf io.Writer, bits uint64, n int) {
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[i] = byte(bits >> (8 * uint(i)))
	}
	buf.Write(b)
}

// signExtend sign-extends the low `bits`-wide two's complement value held
// in u to a full int64.
func signExtend(u uint64, bits int) int64 {
	if bits >= 64 {
		return int64(u)
	}
	shift := uint(64 - bits)
	return int64(u<<shift) >> shift
}

// fieldBits converts a handler-supplied numeric value into the raw bit
// pattern to place on the wire for a `bits`-wide, `signed` integer field,
// checking for overflow.
func fieldBits(field string, v any, bits int, signed bool) (uint64, error) {
	asInt, isInt, asUint, isUint := normalizeInt(v)
	if !isInt && !isUint {
		return 0, &wire.BadFieldTypeError{Field: field, Want: "integer", Got: v}
	}

	if signed {
		var s int64
		if isUint {
			if asUint > uint64(math.MaxInt64) {
				return 0, &wire.FieldOverflowError{Field: field, Value: math.MaxInt64, Bits: bits}
			}
			s = int64(asUint)
		} else {
			s = asInt
		}
		if bits < 64 {
			max := int64(1)<<(uint(bits)-1) - 1
			min := -(int64(1) << (uint(bits) - 1))
			if s > max || s < min {
				return 0, &wire.FieldOverflowError{Field: field, Value: s, Bits: bits}
			}
		}
		return uint64(s), nil
	}

	var u uint64
	if isUint {
		u = asUint
	} else {
		if asInt < 0 {
			return 0, &wire.FieldOverflowError{Field: field, Value: asInt, Bits: bits}
		}
		u = uint64(asInt)
	}
	if bits < 64 {
		max := uint64(1)<<uint(bits) - 1
		if u > max {
			return 0, &wire.FieldOverflowError{Field: field, Value: int64(u), Bits: bits}
		}
	}
	return u, nil
}

func normalizeInt(v any) (asInt int64, isInt bool, asUint uint64, isUint bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true, 0, false
	case int8:
		return int64(x), true, 0, false
	case int16:
		return int64(x), true, 0, false
	case int32:
		return int64(x), true, 0, false
	case int64:
		return x, true, 0, false
	case uint:
		return 0, false, uint64(x), true
	case uint8:
		return 0, false, uint64(x), true
	case uint16:
		return 0, false, uint64(x), true
	case uint32:
		return 0, false, uint64(x), true
	case uint64:
		return 0, false, x, true
	default:
		return 0, false, 0, false
	}
}

// asBytes returns v as a byte slice, accepting []byte or string.
func asBytes(v any) ([]byte, bool) {
	switch x := v.(type) {
	case []byte:
		return x, true
	case string:
		return []byte(x), true
	default:
		return nil, false
	}
}

// asFieldMap returns v as a FieldMap, accepting FieldMap or map[string]any.
func asFieldMap(v any) (FieldMap, bool) {
	switch x := v.(type) {
	case FieldMap:
		return x, true
	case map[string]any:
		return FieldMap(x), true
	default:
		return nil, false
	}
}

// asFieldMapSlice returns v as a slice of FieldMaps, accepting
// []FieldMap, []map[string]any, or []any of either.
func asFieldMapSlice(v any) ([]FieldMap, bool) {
	switch x := v.(type) {
	case []FieldMap:
		return x, true
	case []map[string]any:
		out := make([]FieldMap, len(x))
		for i, m := range x {
			out[i] = FieldMap(m)
		}
		return out, true
	case []any:
		out := make([]FieldMap, 0, len(x))
		for _, item := range x {
			m, ok := asFieldMap(item)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	default:
		return nil, false
	}
}
