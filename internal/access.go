// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package internal holds HasAccess, the permission check shared by the
// example servers. Symlink-safe opens, timestamp filling and preallocation
// live in the subpackages openat, utimens and fallocate.
package internal

import (
	"os/user"
	"strconv"
)

// HasAccess reports whether a caller identified by callerUid/callerGid may
// access an object owned by fileUid/fileGid, given the object's full mode
// bits in perm and the requested access in mask (same bit layout as the
// owner/group/other triad, e.g. 04/02/01 for read/write/execute). Root
// always passes, and a zero mask is trivially satisfied (existence checks).
func HasAccess(callerUid, callerGid, fileUid, fileGid, perm, mask uint32) bool {
	if mask == 0 || callerUid == 0 {
		return true
	}
	var bits uint32
	switch {
	case callerUid == fileUid:
		bits = (perm >> 6) & 7
	case callerGid == fileGid, inSupplementaryGroup(callerUid, fileGid):
		bits = (perm >> 3) & 7
	default:
		bits = perm & 7
	}
	return bits&mask == mask
}

// inSupplementaryGroup reports whether uid belongs to gid through a
// supplementary group membership, not just its primary group.
func inSupplementaryGroup(uid, gid uint32) bool {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return false
	}
	gids, err := u.GroupIds()
	if err != nil {
		return false
	}
	target := strconv.FormatUint(uint64(gid), 10)
	for _, g := range gids {
		if g == target {
			return true
		}
	}
	return false
}
