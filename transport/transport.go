// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport owns the single open file descriptor to the FUSE
// character device: one goroutine reads frames off it into wire.Requests,
// another drains wire.Replies and writes them back, vectored. Frame
// boundaries come from the 4-byte length prefix of the fixed-layout request
// header, and bytes that a read returns past the end of one frame are held
// back and prefixed onto the following frame.
package transport

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/sinterfs/sinter/wire"
)

// Options configures a Transport.
type Options struct {
	// RecvBufSize is the buffer size used for each read(2) call. It is
	// raised to wire.MinRecvBufSize if smaller.
	RecvBufSize int

	// QueueSize bounds the inbound/outbound channel depth between the
	// transport and the dispatcher. 0 or less selects a depth of 64.
	QueueSize int

	Debug bool
}

// Transport reads and writes framed messages on one FUSE device fd.
type Transport struct {
	fd       int
	bufSize  int
	inbound  chan wire.Request
	outbound chan wire.Reply
	log      *logrus.Entry
	debug    bool

	// remainder holds bytes read past the end of one frame that belong to
	// the next one.
	remainder []byte
}

// New builds a Transport around fd, an already-open FUSE device descriptor
// (as returned by mounting; mounting itself is out of this package's
// scope).
func New(fd int, opts Options, log *logrus.Entry) *Transport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	bufSize := opts.RecvBufSize
	if bufSize < wire.MinRecvBufSize {
		bufSize = wire.MinRecvBufSize
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Transport{
		fd:       fd,
		bufSize:  bufSize,
		inbound:  make(chan wire.Request, queueSize),
		outbound: make(chan wire.Reply, queueSize),
		log:      log,
		debug:    opts.Debug,
	}
}

// Inbound is the channel the dispatcher reads requests from.
func (t *Transport) Inbound() <-chan wire.Request { return t.inbound }

// Outbound is the channel the dispatcher writes replies to.
func (t *Transport) Outbound() chan<- wire.Reply { return t.outbound }

// RecvLoop reads frames off the device until ctx is cancelled or the device
// read fails. An ENODEV failure is reported as wire.ErrUnmount; any other
// failure is wrapped in a *wire.TransportError. The inbound channel is
// closed before returning, in either case, so the dispatcher's Run loop
// always observes a clean shutdown signal.
func (t *Transport) RecvLoop(ctx context.Context) error {
	defer close(t.inbound)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		header, body, err := t.recv()
		if err != nil {
			return err
		}
		if t.debug {
			t.log.WithFields(logrus.Fields{"opcode": header.Opcode, "unique": header.Unique, "bytes": len(body)}).Debug("transport: recv")
		}
		select {
		case t.inbound <- wire.Request{Header: header, Body: body}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// recv reads and frames exactly one request, backfilling any bytes of the
// next frame that a single read(2) happened to also return.
func (t *Transport) recv() (wire.Header, []byte, error) {
	buf := make([]byte, t.bufSize)
	n := copy(buf, t.remainder)
	t.remainder = nil

	for n < wire.HeaderSizeRequest {
		got, err := t.read(buf[n:])
		if err != nil {
			return wire.Header{}, nil, err
		}
		n += got
	}

	total := int(wire.TotalLength(buf[:n]))
	for n < total {
		if total > len(buf) {
			grown := make([]byte, total)
			copy(grown, buf[:n])
			buf = grown
		}
		got, err := t.read(buf[n:total])
		if err != nil {
			return wire.Header{}, nil, err
		}
		n += got
	}

	if n > total {
		t.remainder = append([]byte(nil), buf[total:n]...)
	}

	header := wire.ParseHeader(buf[:total])
	body := append([]byte(nil), buf[wire.HeaderSizeRequest:total]...)
	return header, body, nil
}

func (t *Transport) read(p []byte) (int, error) {
	for {
		n, err := unix.Read(t.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ENODEV {
			return 0, wire.ErrUnmount
		}
		if err != nil {
			return 0, &wire.TransportError{Op: "read", Err: err}
		}
		if n == 0 {
			return 0, wire.ErrUnmount
		}
		return n, nil
	}
}

// SendLoop drains the outbound channel and writes each reply to the device,
// vectored (header + body in one writev(2) call), until the channel is
// closed by the dispatcher or a write fails. Cancelling ctx does not stop
// it, so replies queued while the dispatcher drains are still written.
// Writes for NoReply replies are skipped entirely.
func (t *Transport) SendLoop(ctx context.Context) error {
	for {
		select {
		case r, ok := <-t.outbound:
			if !ok {
				return nil
			}
			if r.NoReply {
				continue
			}
			if err := t.send(r); err != nil {
				return err
			}
			if t.debug {
				t.log.WithFields(logrus.Fields{"unique": r.Header.Unique, "errno": r.Errno}).Debug("transport: send")
			}
		}
	}
}

func (t *Transport) send(r wire.Reply) error {
	total := wire.HeaderSizeResponse + len(r.Body)
	header := make([]byte, wire.HeaderSizeResponse)
	wire.ByteOrder.PutUint32(header[0:4], uint32(total))
	wire.ByteOrder.PutUint32(header[4:8], uint32(r.Errno.Negated()))
	copy(header[8:16], r.Header.Unique[:])

	iovs := [][]byte{header}
	if len(r.Body) > 0 {
		iovs = append(iovs, r.Body)
	}
	for {
		_, err := unix.Writev(t.fd, iovs)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ENODEV {
			return wire.ErrUnmount
		}
		if err != nil {
			return &wire.TransportError{Op: "write", Err: err}
		}
		return nil
	}
}
