// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sinterd wires the transport, dispatcher and an example handler
// set together against an already-open FUSE device descriptor. Mounting
// and obtaining that descriptor is left to an external tool (or a wrapper
// shell script); sinterd never calls mount(2) itself. A Go mirror of
// example/hello/main.go's flag-parse-then-serve shape, but using pflag
// and logrus in place of the stdlib flag and log packages.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/sinterfs/sinter/dispatch"
	"github.com/sinterfs/sinter/examples/hello"
	"github.com/sinterfs/sinter/examples/passthrough"
	"github.com/sinterfs/sinter/internal/protocol"
	"github.com/sinterfs/sinter/metrics"
	"github.com/sinterfs/sinter/transport"
)

func main() {
	var (
		fdFlag        = flag.Int("fd", -1, "already-open FUSE device file descriptor")
		fdEnv         = flag.String("fd-env", "", "environment variable holding the FUSE device fd")
		fsName        = flag.String("fs", "hello", "example filesystem to serve: hello or passthrough")
		root          = flag.String("root", "", "host directory to mirror (passthrough only)")
		debug         = flag.Bool("debug", false, "trace every request/reply")
		metricsAddr   = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
		recvQueueSize = flag.Int("queue-size", 64, "inbound/outbound channel depth")
	)
	flag.Parse()

	log := logrus.New()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := logrus.NewEntry(log)

	fd, err := resolveFD(*fdFlag, *fdEnv)
	if err != nil {
		entry.WithError(err).Fatal("sinterd: no device descriptor")
	}

	sch, err := protocol.Load()
	if err != nil {
		entry.WithError(err).Fatal("sinterd: loading embedded schema")
	}

	var handlers map[string]dispatch.Handler
	switch *fsName {
	case "hello":
		handlers = hello.Handlers()
	case "passthrough":
		if *root == "" {
			entry.Fatal("sinterd: -root is required for -fs=passthrough")
		}
		pt, err := passthrough.New(*root)
		if err != nil {
			entry.WithError(err).Fatal("sinterd: passthrough init")
		}
		handlers = pt.Handlers()
	default:
		entry.Fatalf("sinterd: unknown -fs %q", *fsName)
	}

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				entry.WithError(err).Error("sinterd: metrics server stopped")
			}
		}()
	}

	t := transport.New(fd, transport.Options{QueueSize: *recvQueueSize, Debug: *debug}, entry)
	d, err := dispatch.New(sch, handlers, t.Inbound(), t.Outbound(), rec, entry, dispatch.Options{Debug: *debug})
	if err != nil {
		entry.WithError(err).Fatal("sinterd: building dispatcher")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.RecvLoop(gctx) })
	g.Go(func() error { return t.SendLoop(gctx) })
	g.Go(func() error { return d.Run(gctx) })

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		entry.WithError(err).Error("sinterd: serve loop exited")
		os.Exit(1)
	}
}

func resolveFD(flagFD int, envName string) (int, error) {
	if flagFD >= 0 {
		return flagFD, nil
	}
	if envName != "" {
		v := os.Getenv(envName)
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, err
		}
		return n, nil
	}
	return 0, errNoFD
}

var errNoFD = errFDSource("sinterd: neither -fd nor -fd-env was given a valid descriptor")

type errFDSource string

func (e errFDSource) Error() string { return string(e) }
