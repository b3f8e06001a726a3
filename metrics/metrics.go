// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics records per-opcode request latency and counts, taking
// over the role fuse/latencymap.go's hand-rolled LatencyMap plays in the
// teacher library. Where LatencyMap keeps its own mutex-guarded map of
// running sums, Recorder delegates that bookkeeping to
// github.com/prometheus/client_golang, giving the same per-opcode
// breakdown a scrape-able /metrics endpoint for free.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder is safe to use with a nil receiver: every method is a no-op in
// that case, so a Dispatcher built without metrics wiring doesn't need to
// branch on whether rec is set.
type Recorder struct {
	latency     *prometheus.HistogramVec
	requests    *prometheus.CounterVec
	unsupported *prometheus.CounterVec
}

// NewRecorder builds a Recorder and registers its collectors with reg. Pass
// prometheus.DefaultRegisterer to expose metrics process-wide, or a fresh
// prometheus.NewRegistry() in tests.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sinter",
			Subsystem: "dispatch",
			Name:      "handler_duration_seconds",
			Help:      "Time spent inside a request handler, by opcode.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"opcode"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sinter",
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Requests handled, by opcode.",
		}, []string{"opcode"}),
		unsupported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sinter",
			Subsystem: "dispatch",
			Name:      "unsupported_opcode_total",
			Help:      "Requests for opcodes with no registered handler.",
		}, []string{"opcode"}),
	}
	reg.MustRegister(r.latency, r.requests, r.unsupported)
	return r
}

// Timer starts timing one handler invocation for the named opcode and
// returns a function that records the observation when the handler
// returns.
func (r *Recorder) Timer(opcode string) func() {
	if r == nil {
		return func() {}
	}
	start := newStopwatch()
	return func() {
		r.latency.WithLabelValues(opcode).Observe(start.elapsedSeconds())
		r.requests.WithLabelValues(opcode).Inc()
	}
}

// ObserveUnsupported records one request for an opcode with no handler.
func (r *Recorder) ObserveUnsupported(opcode string) {
	if r == nil {
		return
	}
	r.unsupported.WithLabelValues(opcode).Inc()
}
