// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package protocol embeds a reference FUSE protocol schema document, so
// the codec and dispatcher tests and the example binaries have a real
// schema to load without requiring an external file on disk.
package protocol

import (
	_ "embed"

	"github.com/sinterfs/sinter/schema"
)

//go:embed v7_31.json
var v731 []byte

// Version is the protocol version tag the embedded document declares.
const Version = "v7.31"

// Load parses and validates the embedded reference schema.
func Load() (*schema.Schema, error) {
	return schema.LoadBytes(v731, Version)
}
