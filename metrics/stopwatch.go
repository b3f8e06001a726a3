// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metrics

import "time"

type stopwatch struct {
	start time.Time
}

func newStopwatch() stopwatch {
	return stopwatch{start: time.Now()}
}

func (s stopwatch) elapsedSeconds() float64 {
	return time.Since(s.start).Seconds()
}
