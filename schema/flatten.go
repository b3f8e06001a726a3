// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package schema

import (
	"fmt"
	"sort"

	"github.com/sinterfs/sinter/wire"
)

// FieldKind classifies how a flattened field is parsed/formatted.
type FieldKind int

const (
	KindInt FieldKind = iota
	KindBlob
	KindCString
	KindTrailing
	KindStructSingle
	KindStructRepeated
)

func (k FieldKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindBlob:
		return "blob"
	case KindCString:
		return "cstring"
	case KindTrailing:
		return "trailing"
	case KindStructSingle:
		return "struct"
	case KindStructRepeated:
		return "struct[]"
	default:
		return "unknown"
	}
}

// infinity is the sort key used for offsets/cstring positions that are
// absent, so absent-offset (variable-length) fields always sort after
// every field with a real bit offset.
const infinity = int(^uint(0) >> 1)

// FlatField is one field of a flattened struct, sorted into wire order at
// its own nesting level.
type FlatField struct {
	Name            string
	Kind            FieldKind
	Offset          int // bits; infinity if absent
	Size            int // bits; 0 if variable
	Signed          bool
	CStringPosition int         // infinity if absent
	Sub             *FlatStruct // set for KindStructSingle and KindStructRepeated
}

// FlatStruct is a struct's fields, sorted into wire order at this nesting
// level, produced by Schema.Flatten. A struct-typed field's own fields are
// not merged into the parent's list: Parse/Format recurse into Sub and
// store the result as a nested field-map value. Field names only need to
// be unique within a struct's own level plus across the struct-typed
// projections nested under it (see checkNameCollisions), not merged into
// one global flat namespace.
type FlatStruct struct {
	Name   string
	PadTo  int // bits
	Fields []FlatField
}

type rawField struct {
	offset     int
	cstringpos int
	field      FlatField
}

// Flatten returns the flattened, wire-ordered field list for the named
// struct, caching the result on the Schema. It validates, at this struct's
// own nesting level, that there are no gaps in the fixed-length prefix,
// that variable-length fields come last, and that at most one trailing/
// zero-or-more field exists and it is last; separately it validates that
// no field name collides with another reachable through nested-struct
// projections.
func (s *Schema) Flatten(name string) (*FlatStruct, error) {
	if s.flatCache == nil {
		s.flatCache = make(map[string]*FlatStruct)
	}
	if fs, ok := s.flatCache[name]; ok {
		return fs, nil
	}
	def, ok := s.Structs[name]
	if !ok {
		return nil, fmt.Errorf("schema: unknown struct %q", name)
	}
	// Reserve the slot before recursing so a self-referential struct
	// (expressible in JSON even though nothing should produce one) fails
	// predictably instead of recursing forever.
	s.flatCache[name] = &FlatStruct{Name: name}

	var raws []rawField
	for fname, fd := range def.Fields {
		rf, err := s.buildField(name, fname, fd)
		if err != nil {
			return nil, err
		}
		raws = append(raws, rf)
	}
	sort.SliceStable(raws, func(i, j int) bool {
		if raws[i].offset != raws[j].offset {
			return raws[i].offset < raws[j].offset
		}
		return raws[i].cstringpos < raws[j].cstringpos
	})
	fields := make([]FlatField, len(raws))
	for i, r := range raws {
		fields[i] = r.field
	}
	fs := &FlatStruct{Name: name, PadTo: def.PadTo, Fields: fields}
	if err := validateFlat(fs); err != nil {
		return nil, err
	}
	if err := checkNameCollisions(fs, map[string]bool{}); err != nil {
		return nil, err
	}
	s.flatCache[name] = fs
	return fs, nil
}

func (s *Schema) buildField(structName, fname string, fd *FieldDef) (rawField, error) {
	offset := infinity
	if fd.Offset != nil {
		offset = *fd.Offset
	}

	if fd.Struct != "" {
		sub, err := s.Flatten(fd.Struct)
		if err != nil {
			return rawField{}, err
		}
		if sub.Name == structName && len(sub.Fields) == 0 {
			return rawField{}, &wire.SchemaError{Struct: structName, Field: fname, Reason: fmt.Sprintf("struct %q is recursively self-referential", fd.Struct)}
		}
		kind := KindStructSingle
		if fd.ZeroOrMore {
			kind = KindStructRepeated
		}
		return rawField{
			offset:     offset,
			cstringpos: infinity,
			field:      FlatField{Name: fname, Kind: kind, Offset: offset, Sub: sub},
		}, nil
	}

	cstrpos := infinity
	if fd.CStringPosition != nil {
		cstrpos = *fd.CStringPosition
	}
	var kind FieldKind
	var size int
	if fd.Size == nil {
		if fd.CStringPosition != nil {
			kind = KindCString
		} else {
			kind = KindTrailing
		}
	} else if *fd.Size <= 64 {
		kind = KindInt
		size = *fd.Size
	} else {
		kind = KindBlob
		size = *fd.Size
	}

	return rawField{
		offset:     offset,
		cstringpos: cstrpos,
		field: FlatField{
			Name:            fname,
			Kind:            kind,
			Offset:          offset,
			Size:            size,
			Signed:          fd.Signed,
			CStringPosition: cstrpos,
		},
	}, nil
}

// validateFlat enforces, on one struct's flattened, sorted field list: no
// gaps in the fixed-length prefix, all
// variable fields after all fixed fields, and at most one "consume rest of
// message" field (a trailing blob or a zero-or-more struct), which must be
// last.
func validateFlat(fs *FlatStruct) error {
	sawVariable := false
	running := 0
	for i, f := range fs.Fields {
		switch f.Kind {
		case KindInt, KindBlob:
			if sawVariable {
				return &wire.SchemaError{Struct: fs.Name, Field: f.Name, Reason: "fixed-size field follows a variable-length field"}
			}
			if f.Offset != infinity && f.Offset != running {
				return &wire.SchemaError{Struct: fs.Name, Field: f.Name, Reason: fmt.Sprintf("non-contiguous offset: want bit %d, got %d", running, f.Offset)}
			}
			running += f.Size
		case KindStructSingle:
			if sawVariable {
				return &wire.SchemaError{Struct: fs.Name, Field: f.Name, Reason: "fixed-size struct field follows a variable-length field"}
			}
			if f.Offset != infinity && f.Offset != running {
				return &wire.SchemaError{Struct: fs.Name, Field: f.Name, Reason: fmt.Sprintf("non-contiguous offset: want bit %d, got %d", running, f.Offset)}
			}
			running += structBitSize(f.Sub)
		case KindCString:
			sawVariable = true
		case KindTrailing, KindStructRepeated:
			sawVariable = true
			if i != len(fs.Fields)-1 {
				return &wire.SchemaError{Struct: fs.Name, Field: f.Name, Reason: "a trailing or zero-or-more field must be the last field in its struct"}
			}
		}
	}
	return nil
}

// structBitSize returns the minimum fixed size of a nested struct's own
// fixed-length prefix, used only to keep the parent's contiguity check
// meaningful when a fixed-size nested struct sits before other fixed
// fields. Variable-tailed nested structs can't contribute a fixed size;
// callers only reach this path for structs with an all-fixed layout.
func structBitSize(fs *FlatStruct) int {
	total := 0
	for _, f := range fs.Fields {
		switch f.Kind {
		case KindInt, KindBlob:
			total += f.Size
		case KindStructSingle:
			total += structBitSize(f.Sub)
		}
	}
	if fs.PadTo > 0 {
		if rem := total % fs.PadTo; rem != 0 {
			total += fs.PadTo - rem
		}
	}
	return total
}

// checkNameCollisions enforces that a field name is unique not just within
// its own struct but across every nested-struct projection reachable from
// it.
func checkNameCollisions(fs *FlatStruct, seen map[string]bool) error {
	for _, f := range fs.Fields {
		if seen[f.Name] {
			return &wire.SchemaError{Struct: fs.Name, Field: f.Name, Reason: "field name collides across nested struct projections"}
		}
		seen[f.Name] = true
		if f.Sub != nil {
			if err := checkNameCollisions(f.Sub, seen); err != nil {
				return err
			}
		}
	}
	return nil
}
