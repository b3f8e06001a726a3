// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fallocate preallocates file space for the FALLOCATE operation.
package fallocate

import "golang.org/x/sys/unix"

// Fallocate reserves n bytes starting at off in the file behind fd,
// honoring mode's FALLOC_FL_* bits (e.g. keep-size, punch-hole).
func Fallocate(fd int, mode uint32, off int64, n int64) error {
	return unix.Fallocate(fd, mode, off, n)
}
