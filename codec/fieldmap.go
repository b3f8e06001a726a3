// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package codec turns wire bytes into nested field maps and back, driven by
// a schema.FlatStruct. Parse and Format are pure, stateless functions of
// the schema, walking its flattened field list field by field.
package codec

// FieldMap is the parsed or to-be-formatted representation of one message
// or nested struct: keys are field names, values are one of int64/uint64
// (fixed integers), []byte (blobs, C strings, trailing data), FieldMap
// (nested struct fields), or []FieldMap (repeated struct instances).
type FieldMap map[string]any
