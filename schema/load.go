// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sinterfs/sinter/wire"
)

type jsonField struct {
	Offset          *int   `json:"offset"`
	Size            *int   `json:"size"`
	Signed          bool   `json:"signed"`
	Struct          string `json:"struct"`
	ZeroOrMore      bool   `json:"zero_or_more"`
	CStringPosition *int   `json:"cstringposition"`
	Padding         bool   `json:"padding"`
}

type jsonStruct struct {
	PadTo  int                  `json:"pad_to"`
	Fields map[string]jsonField `json:"fields"`
}

type jsonOperationSide struct {
	Struct         string `json:"struct"`
	NotImplemented bool   `json:"not_implemented"`
}

type jsonOperation struct {
	Request  *jsonOperationSide `json:"request"`
	Response *jsonOperationSide `json:"response"`
}

type jsonSchema struct {
	Opcodes    map[string]uint32        `json:"opcodes"`
	Structs    map[string]jsonStruct    `json:"structs"`
	Operations map[string]jsonOperation `json:"operations"`
}

// Load decodes a schema document from r and returns the named protocol
// version, rejecting the document if it violates a structural invariant
// (contiguous fixed-length prefixes, at most one trailing variable field,
// no field-name collisions across nested-struct projections). The
// document is a mapping from version tag (e.g. "v7.31") to the
// opcodes/structs/operations triple; version selects which entry to load.
func Load(r io.Reader, version string) (*Schema, error) {
	var doc map[string]jsonSchema
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("schema: decode: %w", err)
	}
	js, ok := doc[version]
	if !ok {
		return nil, fmt.Errorf("schema: version %q not present in document", version)
	}

	s := &Schema{
		Version:    version,
		Opcodes:    js.Opcodes,
		Structs:    make(map[string]*StructDef, len(js.Structs)),
		Operations: make(map[string]OperationDef, len(js.Operations)),
	}

	seenCodes := make(map[uint32]string, len(js.Opcodes))
	for name, code := range js.Opcodes {
		if other, dup := seenCodes[code]; dup {
			return nil, &wire.SchemaError{Reason: fmt.Sprintf("opcode %d claimed by both %q and %q", code, other, name)}
		}
		seenCodes[code] = name
	}

	for name, js := range js.Structs {
		def := &StructDef{Name: name, PadTo: js.PadTo, Fields: make(map[string]*FieldDef, len(js.Fields))}
		if js.PadTo%8 != 0 {
			return nil, &wire.SchemaError{Struct: name, Reason: fmt.Sprintf("pad_to %d is not a multiple of 8", js.PadTo)}
		}
		for fname, jf := range js.Fields {
			fd := &FieldDef{
				Name:            fname,
				Offset:          jf.Offset,
				Size:            jf.Size,
				Signed:          jf.Signed,
				Struct:          jf.Struct,
				ZeroOrMore:      jf.ZeroOrMore,
				CStringPosition: jf.CStringPosition,
				Padding:         jf.Padding,
			}
			if err := validateField(name, fd); err != nil {
				return nil, err
			}
			def.Fields[fname] = fd
		}
		s.Structs[name] = def
	}

	for name, jop := range js.Operations {
		if _, ok := s.Opcodes[name]; !ok {
			return nil, &wire.SchemaError{Reason: fmt.Sprintf("operation %q has no opcode entry", name)}
		}
		op := OperationDef{
			Request:  toOperationSide(jop.Request),
			Response: toOperationSide(jop.Response),
		}
		if op.Request.Struct != "" {
			if _, ok := s.Structs[op.Request.Struct]; !ok {
				return nil, &wire.SchemaError{Struct: op.Request.Struct, Reason: fmt.Sprintf("operation %q request references unknown struct", name)}
			}
		}
		if op.Response.Struct != "" {
			if _, ok := s.Structs[op.Response.Struct]; !ok {
				return nil, &wire.SchemaError{Struct: op.Response.Struct, Reason: fmt.Sprintf("operation %q response references unknown struct", name)}
			}
		}
		s.Operations[name] = op
	}

	// Validate every operation's request/response eagerly, so structural
	// mistakes (gaps, misplaced trailing fields) surface at load time
	// rather than on the first request that exercises them.
	for name, op := range s.Operations {
		if op.Request.Struct != "" {
			if _, err := s.Flatten(op.Request.Struct); err != nil {
				return nil, fmt.Errorf("schema: operation %q request: %w", name, err)
			}
		}
		if op.Response.Struct != "" {
			if _, err := s.Flatten(op.Response.Struct); err != nil {
				return nil, fmt.Errorf("schema: operation %q response: %w", name, err)
			}
		}
	}

	return s, nil
}

// LoadBytes is Load for an already-in-memory document, e.g. one pulled in
// with go:embed.
func LoadBytes(b []byte, version string) (*Schema, error) {
	return Load(bytes.NewReader(b), version)
}

func toOperationSide(js *jsonOperationSide) OperationSide {
	if js == nil {
		return OperationSide{Absent: true}
	}
	if js.NotImplemented {
		return OperationSide{NotImplemented: true}
	}
	return OperationSide{Struct: js.Struct}
}

func validateField(structName string, fd *FieldDef) error {
	if fd.Offset != nil && *fd.Offset%8 != 0 {
		return &wire.SchemaError{Struct: structName, Field: fd.Name, Reason: fmt.Sprintf("offset %d is not byte-aligned", *fd.Offset)}
	}
	if fd.Struct == "" && fd.Size != nil {
		if *fd.Size%8 != 0 {
			return &wire.SchemaError{Struct: structName, Field: fd.Name, Reason: fmt.Sprintf("size %d is not a multiple of 8 bits", *fd.Size)}
		}
		if *fd.Size <= 64 && *fd.Size == 0 {
			return &wire.SchemaError{Struct: structName, Field: fd.Name, Reason: "integer field has zero size"}
		}
	}
	if fd.CStringPosition != nil && *fd.CStringPosition < 0 {
		return &wire.SchemaError{Struct: structName, Field: fd.Name, Reason: "cstringposition must be non-negative"}
	}
	if fd.ZeroOrMore && fd.Struct == "" {
		return &wire.SchemaError{Struct: structName, Field: fd.Name, Reason: "zero_or_more set without struct"}
	}
	return nil
}
