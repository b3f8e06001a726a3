// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package schema is the in-memory representation of the FUSE protocol
// schema: opcodes, structs, and per-opcode request/response definitions. It
// is loaded once at startup (schema.Load) and is immutable afterwards; the
// dispatcher and codec consult it but never mutate it.
//
// Struct fields carry an offset/size/signedness/nested-struct-reference
// layout; flattening recursively substitutes nested structs and sorts
// fields by (offset, cstring position) to recover wire order.
package schema

import "fmt"

// FieldDef describes one field of a struct: name, optional bit offset,
// optional bit size, signedness, optional nested-struct marker, optional
// repeated-struct marker, optional cstring position, optional padding
// flag.
type FieldDef struct {
	Name            string
	Offset          *int // bits; nil means absent (variable-length trailing field)
	Size            *int // bits; nil means variable-length
	Signed          bool
	Struct          string // name of a nested struct in Schema.Structs, or ""
	ZeroOrMore      bool
	CStringPosition *int // nil means not a cstring field
	Padding         bool
}

// StructDef is an ordered set of fields (order is recovered by sorting on
// load/flatten, not by document order) plus an optional end-of-struct
// padding target.
type StructDef struct {
	Name   string
	Fields map[string]*FieldDef
	PadTo  int // bits; 0 means no padding
}

// Direction distinguishes an operation's request side from its response
// side, used only in error messages.
type Direction string

const (
	DirRequest  Direction = "request"
	DirResponse Direction = "response"
)

// OperationSide is one of: absent (no message body on this side; the
// dispatcher still sends a header-only reply for an absent response unless
// the handler returns dispatch.NoReply), not-implemented (schema marks the
// direction unsupported), or a named struct.
type OperationSide struct {
	Absent         bool
	NotImplemented bool
	Struct         string // name of a struct in Schema.Structs, when neither of the above
}

// OperationDef pairs an opcode's request and response sides.
type OperationDef struct {
	Request  OperationSide
	Response OperationSide
}

// Schema is the immutable, loaded protocol schema for one FUSE protocol
// version.
type Schema struct {
	Version    string
	Opcodes    map[string]uint32
	Structs    map[string]*StructDef
	Operations map[string]OperationDef

	flatCache map[string]*FlatStruct
}

// OpcodeName returns the symbolic name for a numeric opcode, and whether it
// exists in this schema.
func (s *Schema) OpcodeName(code uint32) (string, bool) {
	for name, v := range s.Opcodes {
		if v == code {
			return name, true
		}
	}
	return "", false
}

func (s *Schema) String() string {
	return fmt.Sprintf("schema.Schema{version=%s, opcodes=%d, structs=%d}", s.Version, len(s.Opcodes), len(s.Structs))
}
