// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package codec

import (
	"bytes"

	"github.com/sinterfs/sinter/schema"
	"github.com/sinterfs/sinter/wire"
)

// Parse walks fs's flattened field list in wire order and decodes body into
// a FieldMap. The cursor must land exactly on len(body) when the top-level
// struct is done, or parsing fails with IncompleteParseError.
func Parse(fs *schema.FlatStruct, body []byte) (FieldMap, error) {
	pos, fm, err := parseStruct(fs, body, 0)
	if err != nil {
		return nil, err
	}
	if pos != len(body) {
		return nil, &wire.IncompleteParseError{Struct: fs.Name, Consumed: pos, Total: len(body)}
	}
	return fm, nil
}

func parseStruct(fs *schema.FlatStruct, body []byte, pos int) (int, FieldMap, error) {
	fm := FieldMap{}
	for _, f := range fs.Fields {
		switch f.Kind {
		case schema.KindInt:
			n := f.Size / 8
			if pos+n > len(body) {
				return 0, nil, &wire.ShortBodyError{Field: f.Name, Want: n, Have: len(body) - pos}
			}
			u := readLE(body[pos : pos+n])
			if f.Signed {
				fm[f.Name] = signExtend(u, f.Size)
			} else {
				fm[f.Name] = u
			}
			pos += n
		case schema.KindBlob:
			n := f.Size / 8
			if pos+n > len(body) {
				return 0, nil, &wire.ShortBodyError{Field: f.Name, Want: n, Have: len(body) - pos}
			}
			b := make([]byte, n)
			copy(b, body[pos:pos+n])
			fm[f.Name] = b
			pos += n
		case schema.KindCString:
			idx := bytes.IndexByte(body[pos:], 0)
			if idx == -1 {
				return 0, nil, &wire.BadCStringError{Field: f.Name}
			}
			b := make([]byte, idx)
			copy(b, body[pos:pos+idx])
			fm[f.Name] = b
			pos += idx + 1
		case schema.KindTrailing:
			b := make([]byte, len(body)-pos)
			copy(b, body[pos:])
			fm[f.Name] = b
			pos = len(body)
		case schema.KindStructSingle:
			newPos, sub, err := parseStruct(f.Sub, body, pos)
			if err != nil {
				return 0, nil, err
			}
			fm[f.Name] = sub
			pos = newPos
		case schema.KindStructRepeated:
			var list []FieldMap
			for pos < len(body) {
				newPos, sub, err := parseStruct(f.Sub, body, pos)
				if err != nil {
					return 0, nil, err
				}
				if newPos <= pos {
					break
				}
				list = append(list, sub)
				pos = newPos
			}
			fm[f.Name] = list
		}
	}
	if fs.PadTo > 0 {
		padBytes := fs.PadTo / 8
		if rem := pos % padBytes; rem != 0 {
			pos += padBytes - rem
		}
	}
	return pos, fm, nil
}

// Format walks fs's flattened field list in wire order and encodes fields
// into bytes. Absent keys default to zero/empty of the declared kind,
// letting handlers populate only the fields they care about.
func Format(fs *schema.FlatStruct, fields FieldMap) ([]byte, error) {
	var buf bytes.Buffer
	if fields == nil {
		fields = FieldMap{}
	}
	if err := formatStruct(&buf, fs, fields); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatStruct(buf *bytes.Buffer, fs *schema.FlatStruct, fields FieldMap) error {
	start := buf.Len()
	for _, f := range fs.Fields {
		v, present := fields[f.Name]
		if present && v == nil {
			present = false
		}
		switch f.Kind {
		case schema.KindInt:
			n := f.Size / 8
			if !present {
				buf.Write(make([]byte, n))
				continue
			}
			if b, ok := asBytes(v); ok {
				if len(b) != n {
					return &wire.FieldSizeMismatchError{Field: f.Name, Want: n, Have: len(b)}
				}
				buf.Write(b)
				continue
			}
			bits, err := fieldBits(f.Name, v, f.Size, f.Signed)
			if err != nil {
				return err
			}
			writeLE(buf, bits, n)
		case schema.KindBlob:
			n := f.Size / 8
			if !present {
				buf.Write(make([]byte, n))
				continue
			}
			b, ok := asBytes(v)
			if !ok {
				return &wire.BadFieldTypeError{Field: f.Name, Want: "[]byte", Got: v}
			}
			if len(b) != n {
				return &wire.FieldSizeMismatchError{Field: f.Name, Want: n, Have: len(b)}
			}
			buf.Write(b)
		case schema.KindCString:
			var raw []byte
			if present {
				b, ok := asBytes(v)
				if !ok {
					return &wire.BadFieldTypeError{Field: f.Name, Want: "[]byte or string", Got: v}
				}
				raw = b
			}
			if err := writeCString(buf, f.Name, raw); err != nil {
				return err
			}
		case schema.KindTrailing:
			if !present {
				continue
			}
			b, ok := asBytes(v)
			if !ok {
				return &wire.BadFieldTypeError{Field: f.Name, Want: "[]byte or string", Got: v}
			}
			buf.Write(b)
		case schema.KindStructSingle:
			sub := FieldMap{}
			if present {
				m, ok := asFieldMap(v)
				if !ok {
					return &wire.BadFieldTypeError{Field: f.Name, Want: "map", Got: v}
				}
				sub = m
			}
			if err := formatStruct(buf, f.Sub, sub); err != nil {
				return err
			}
		case schema.KindStructRepeated:
			if !present {
				continue
			}
			list, ok := asFieldMapSlice(v)
			if !ok {
				return &wire.BadFieldTypeError{Field: f.Name, Want: "[]map", Got: v}
			}
			for _, item := range list {
				if err := formatStruct(buf, f.Sub, item); err != nil {
					return err
				}
			}
		}
	}
	if fs.PadTo > 0 {
		padBytes := fs.PadTo / 8
		written := buf.Len() - start
		if rem := written % padBytes; rem != 0 {
			buf.Write(make([]byte, padBytes-rem))
		}
	}
	return nil
}

// writeCString emits raw followed by exactly one zero byte, unless raw
// already ends in a lone trailing zero (no other null byte), in which case
// it's emitted verbatim.
func writeCString(buf *bytes.Buffer, field string, raw []byte) error {
	if n := len(raw); n > 0 && raw[n-1] == 0 && !bytes.Contains(raw[:n-1], []byte{0}) {
		buf.Write(raw)
		return nil
	}
	if bytes.IndexByte(raw, 0) != -1 {
		return &wire.BadFieldTypeError{Field: field, Want: "null-free byte sequence", Got: raw}
	}
	buf.Write(raw)
	buf.WriteByte(0)
	return nil
}
