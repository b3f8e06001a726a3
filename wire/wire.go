// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wire holds the types shared by the transport, schema, codec and
// dispatch packages: the request/response header, the errno wire type, and
// the byte-order helpers the FUSE wire format demands.
package wire

import (
	"encoding/binary"
	"fmt"
	"syscall"
)

const (
	// HeaderSizeRequest is the fixed size, in bytes, of a kernel request
	// header (total_length, opcode, unique, nodeid, uid, gid, pid, padding).
	HeaderSizeRequest = 40

	// HeaderSizeResponse is the fixed size, in bytes, of a response header
	// (total_length, errno, unique).
	HeaderSizeResponse = 16

	// MinRecvBufSize is the minimum receive buffer size a Transport will
	// accept; it matches the kernel's own minimum framing requirement.
	MinRecvBufSize = 8192

	// RootNodeID is the node id of the mount root.
	RootNodeID = 1
)

// ByteOrder is the wire byte order for every multi-byte integer field,
// independent of host endianness.
var ByteOrder = binary.LittleEndian

// Unique is the kernel-issued 8-byte opaque tag that pairs a request with
// its reply.
type Unique [8]byte

// Header is the parsed form of a kernel request header. It is created once
// by the transport on receive, handed immutably through the pipeline, and
// dropped after the response is sent.
type Header struct {
	Opcode uint32
	Unique Unique
	NodeID uint64
	UID    uint32
	GID    uint32
	PID    uint32
}

// ParseHeader decodes a request header from the first HeaderSizeRequest
// bytes of buf. buf must be at least HeaderSizeRequest bytes long.
func ParseHeader(buf []byte) Header {
	var h Header
	h.Opcode = ByteOrder.Uint32(buf[4:8])
	copy(h.Unique[:], buf[8:16])
	h.NodeID = ByteOrder.Uint64(buf[16:24])
	h.UID = ByteOrder.Uint32(buf[24:28])
	h.GID = ByteOrder.Uint32(buf[28:32])
	h.PID = ByteOrder.Uint32(buf[32:36])
	// bytes 36:40 are kernel padding.
	return h
}

// TotalLength reads the 4-byte little-endian frame length prefix.
func TotalLength(buf []byte) uint32 {
	return ByteOrder.Uint32(buf[0:4])
}

// Errno is a signed POSIX errno as carried on the wire: 0 for success, a
// negated positive errno for failure.
type Errno int32

// OK is the zero errno, success.
const OK Errno = 0

func (e Errno) String() string {
	if e == OK {
		return "OK"
	}
	return fmt.Sprintf("-%d=%v", int32(e), syscall.Errno(e))
}

// Ok reports whether e represents success.
func (e Errno) Ok() bool {
	return e == OK
}

// Negated returns the value to place on the wire: -e for a failure, 0 for
// success.
func (e Errno) Negated() int32 {
	if e == OK {
		return 0
	}
	if e > 0 {
		return -int32(e)
	}
	return int32(e)
}

// ToErrno converts a Go error into an Errno, defaulting to EIO when the
// error doesn't carry a recognizable errno. Mirrors fuse.ToStatus.
func ToErrno(err error) Errno {
	if err == nil {
		return OK
	}
	var errno syscall.Errno
	if e, ok := err.(syscall.Errno); ok {
		errno = e
	} else if u, ok := err.(interface{ Unwrap() error }); ok {
		return ToErrno(u.Unwrap())
	} else {
		return Errno(syscall.EIO)
	}
	return Errno(errno)
}
