// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package utimens fills in a SETATTR request's missing atime/mtime half
// from the file's current attributes, and packs both into the Timespec
// pair unix.UtimesNanoAt expects.
package utimens

import (
	"time"

	"golang.org/x/sys/unix"
)

// Fill returns a two-element Timespec slice for UtimesNanoAt, using a and m
// where given and curAtime/curMtime (the file's attributes before this
// request) otherwise.
func Fill(a, m *time.Time, curAtime, curMtime time.Time) []unix.Timespec {
	if a == nil {
		a = &curAtime
	}
	if m == nil {
		m = &curMtime
	}
	return []unix.Timespec{unix.NsecToTimespec(a.UnixNano()), unix.NsecToTimespec(m.UnixNano())}
}
