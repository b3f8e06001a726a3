// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dispatch runs one goroutine per inbound request, routes it to a
// registered Handler by opcode, and turns the handler's result into a wire
// reply.
package dispatch

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sinterfs/sinter/codec"
	"github.com/sinterfs/sinter/metrics"
	"github.com/sinterfs/sinter/schema"
	"github.com/sinterfs/sinter/wire"
)

// Handler processes one parsed request and produces a response.
//
// response must be one of: a codec.FieldMap (or map[string]any) to format
// against the operation's response struct, a raw []byte to send verbatim
// (for operations whose response the schema marks as a plain blob), or the
// NoReply sentinel to suppress any reply at all (for opcodes with no
// response message at all, e.g. FORGET). If err is a *wire.FUSEError, its
// Errno is sent whatever errno says. Any other non-nil err is logged, and
// when errno is left as wire.OK it is replaced by wire.ToErrno(err) (EIO
// unless err wraps a syscall.Errno). A panicking handler is recovered and
// answered with EIO.
type Handler func(ctx context.Context, h wire.Header, fields codec.FieldMap) (errno wire.Errno, response any, err error)

// noReply is the concrete type behind NoReply; handlers compare against
// the exported value, never construct their own.
type noReply struct{}

// NoReply tells the dispatcher to write nothing back for this request. Use
// it for opcodes the schema defines as request-only (FORGET, BATCH_FORGET).
var NoReply any = noReply{}

// state is the dispatcher's lifecycle: Running while
// accepting new requests, Draining once Run's context is cancelled or the
// inbound channel is closed and in-flight handlers are still finishing,
// Terminated once every handler has returned.
type state int32

const (
	stateRunning state = iota
	stateDraining
	stateTerminated
)

func (s state) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateDraining:
		return "draining"
	case stateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Options configures a Dispatcher.
type Options struct {
	// Debug logs every request and reply at debug level, fields included.
	Debug bool
}

// Dispatcher routes parsed requests to handlers and produces replies.
// It owns no I/O; a Transport (or a test) supplies the inbound channel and
// consumes the outbound one.
type Dispatcher struct {
	sch      *schema.Schema
	handlers map[uint32]Handler
	inbound  <-chan wire.Request
	outbound chan<- wire.Reply
	log      *logrus.Entry
	rec      *metrics.Recorder
	opts     Options

	reqFlat  map[uint32]*schema.FlatStruct
	respFlat map[uint32]*schema.FlatStruct
	respKind map[uint32]schema.OperationSide

	st    atomic.Int32
	group errgroup.Group
}

// New builds a Dispatcher. handlers maps opcode names (as they appear in
// the schema's "opcodes" table, e.g. "LOOKUP") to Handlers; opcodes with no
// entry are replied to with -ENOSYS. A handler registered under a name the
// schema's opcodes table does not contain is an error.
func New(sch *schema.Schema, handlers map[string]Handler, inbound <-chan wire.Request, outbound chan<- wire.Reply, rec *metrics.Recorder, log *logrus.Entry, opts Options) (*Dispatcher, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	d := &Dispatcher{
		sch:      sch,
		handlers: make(map[uint32]Handler, len(handlers)),
		inbound:  inbound,
		outbound: outbound,
		log:      log,
		rec:      rec,
		opts:     opts,
		reqFlat:  map[uint32]*schema.FlatStruct{},
		respFlat: map[uint32]*schema.FlatStruct{},
		respKind: map[uint32]schema.OperationSide{},
	}
	for name, h := range handlers {
		code, ok := sch.Opcodes[name]
		if !ok {
			return nil, fmt.Errorf("dispatch: handler registered for %q, which is not an opcode in the schema", name)
		}
		d.handlers[code] = h
	}
	for name, code := range sch.Opcodes {
		op, ok := sch.Operations[name]
		if !ok {
			continue
		}
		if op.Request.Struct != "" {
			fs, err := sch.Flatten(op.Request.Struct)
			if err != nil {
				return nil, err
			}
			d.reqFlat[code] = fs
		}
		if op.Response.Struct != "" {
			fs, err := sch.Flatten(op.Response.Struct)
			if err != nil {
				return nil, err
			}
			d.respFlat[code] = fs
		}
		d.respKind[code] = op.Response
	}
	return d, nil
}

// Run reads requests from the inbound channel, spawning one goroutine per
// request, until the channel closes or ctx is cancelled. It then enters the
// draining state and blocks until every in-flight handler has returned,
// closing the outbound channel before returning. Follows the
// Running -> Draining -> Terminated sequence; the drain barrier is an
// errgroup.Group used purely as a WaitGroup substitute, since a handler's
// own errors are already turned into replies and never need to cancel
// siblings.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.st.Store(int32(stateRunning))
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case req, ok := <-d.inbound:
			if !ok {
				break loop
			}
			d.group.Go(func() error {
				d.complete(ctx, req)
				return nil
			})
		}
	}
	d.st.Store(int32(stateDraining))
	err := d.group.Wait()
	d.st.Store(int32(stateTerminated))
	close(d.outbound)
	return err
}

// State reports the dispatcher's current lifecycle state.
func (d *Dispatcher) State() string {
	return state(d.st.Load()).String()
}

func (d *Dispatcher) complete(ctx context.Context, req wire.Request) {
	name, _ := d.sch.OpcodeName(req.Header.Opcode)
	if d.opts.Debug {
		d.log.WithFields(logrus.Fields{
			"opcode": req.Header.Opcode, "name": name, "unique": req.Header.Unique,
			"raw": hex.EncodeToString(req.Body),
		}).Debug("dispatch: request")
	}

	h, ok := d.handlers[req.Header.Opcode]
	if !ok {
		d.reply(req.Header, wire.Errno(syscall.ENOSYS), nil, false)
		d.rec.ObserveUnsupported(name)
		return
	}

	var fields codec.FieldMap
	if fs, need := d.reqFlat[req.Header.Opcode]; need {
		fm, err := codec.Parse(fs, req.Body)
		if err != nil {
			d.log.WithError(err).WithField("opcode", name).Warn("dispatch: request parse failed")
			d.reply(req.Header, wire.Errno(syscall.EIO), nil, false)
			return
		}
		fields = fm
		if d.opts.Debug {
			d.log.WithFields(logrus.Fields{"opcode": name, "fields": fmt.Sprintf("%+v", fm)}).Debug("dispatch: parsed request")
		}
	}

	stop := d.rec.Timer(name)
	errno, resp, err := func() (errno wire.Errno, resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				errno, resp, err = wire.Errno(syscall.EIO), nil, fmt.Errorf("dispatch: handler panic: %v", p)
			}
		}()
		return h(ctx, req.Header, fields)
	}()
	stop()

	if err != nil {
		lf := logrus.Fields{"opcode": name, "unique": req.Header.Unique}
		if fe, ok := err.(*wire.FUSEError); ok {
			errno = fe.Errno
			d.log.WithError(err).WithFields(lf).Debug("dispatch: handler error")
		} else {
			if errno.Ok() {
				errno = wire.ToErrno(err)
			}
			d.log.WithError(err).WithFields(lf).Error("dispatch: handler failed")
		}
	}

	if resp == NoReply {
		d.reply(req.Header, errno, nil, true)
		return
	}

	if !errno.Ok() {
		d.reply(req.Header, errno, nil, false)
		return
	}

	body, err := d.formatResponse(req.Header.Opcode, resp)
	if err != nil {
		d.log.WithError(err).WithField("opcode", name).Warn("dispatch: response format failed")
		d.reply(req.Header, wire.Errno(syscall.EIO), nil, false)
		return
	}
	if d.opts.Debug {
		d.log.WithFields(logrus.Fields{"opcode": name, "raw": hex.EncodeToString(body)}).Debug("dispatch: reply")
	}
	d.reply(req.Header, wire.OK, body, false)
}

func (d *Dispatcher) formatResponse(opcode uint32, resp any) ([]byte, error) {
	if resp == nil {
		return nil, nil
	}
	if b, ok := resp.([]byte); ok {
		return b, nil
	}
	fs, ok := d.respFlat[opcode]
	if !ok {
		side := d.respKind[opcode]
		if side.Absent || side.NotImplemented {
			return nil, nil
		}
		return nil, &wire.UnsupportedDirectionError{Opcode: "", Direction: "response"}
	}
	var fm codec.FieldMap
	switch v := resp.(type) {
	case codec.FieldMap:
		fm = v
	case map[string]any:
		fm = codec.FieldMap(v)
	default:
		return nil, &wire.BadFieldTypeError{Field: fs.Name, Want: "FieldMap", Got: resp}
	}
	return codec.Format(fs, fm)
}

func (d *Dispatcher) reply(h wire.Header, errno wire.Errno, body []byte, noReply bool) {
	d.outbound <- wire.Reply{Header: h, Errno: errno, Body: body, NoReply: noReply}
}
