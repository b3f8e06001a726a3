// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Sinter is a schema-driven FUSE kernel transport: a wire codec whose
// struct layouts are loaded from a JSON document at startup instead of
// being generated at build time, paired with a goroutine-per-request
// dispatcher and a vectored-I/O transport.
//
// See package schema for the document format, package codec for the
// parse/format layer built on it, package dispatch for request routing,
// and package transport for the device I/O loop. Command sinterd under
// cmd/ wires them together against an already-open FUSE device
// descriptor.
package sinter
