// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/sinterfs/sinter/codec"
	"github.com/sinterfs/sinter/schema"
	"github.com/sinterfs/sinter/wire"
)

const testDoc = `{
  "v1": {
    "opcodes": {"PING": 1, "FORGET": 2, "NOOP": 3, "UNHANDLED": 4},
    "structs": {
      "PingIn": {"fields": {"n": {"offset": 0, "size": 32}}},
      "PingOut": {"fields": {"n": {"offset": 0, "size": 32}}},
      "ForgetIn": {"fields": {"nlookup": {"offset": 0, "size": 64}}}
    },
    "operations": {
      "PING": {"request": {"struct": "PingIn"}, "response": {"struct": "PingOut"}},
      "FORGET": {"request": {"struct": "ForgetIn"}},
      "NOOP": {},
      "UNHANDLED": {}
    }
  }
}`

func mustSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.LoadBytes([]byte(testDoc), "v1")
	if err != nil {
		t.Fatalf("schema.LoadBytes: %v", err)
	}
	return s
}

func reqBody(t *testing.T, s *schema.Schema, structName string, fm codec.FieldMap) []byte {
	t.Helper()
	fs, err := s.Flatten(structName)
	if err != nil {
		t.Fatalf("Flatten(%q): %v", structName, err)
	}
	b, err := codec.Format(fs, fm)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	return b
}

func send(t *testing.T, in chan wire.Request, opcode uint32, body []byte) {
	t.Helper()
	h := wire.Header{Opcode: opcode, NodeID: wire.RootNodeID}
	select {
	case in <- wire.Request{Header: h, Body: body}:
	case <-time.After(time.Second):
		t.Fatal("send: dispatcher did not accept request in time")
	}
}

func recv(t *testing.T, out chan wire.Reply) wire.Reply {
	t.Helper()
	select {
	case r := <-out:
		return r
	case <-time.After(time.Second):
		t.Fatal("recv: no reply in time")
	}
	panic("unreachable")
}

func TestDispatcherEchoesPing(t *testing.T) {
	s := mustSchema(t)
	in := make(chan wire.Request)
	out := make(chan wire.Reply)
	handlers := map[string]Handler{
		"PING": func(ctx context.Context, h wire.Header, f codec.FieldMap) (wire.Errno, any, error) {
			n, _ := f["n"].(uint64)
			return wire.OK, codec.FieldMap{"n": n + 1}, nil
		},
	}
	d, err := New(s, handlers, in, out, nil, nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	send(t, in, 1, reqBody(t, s, "PingIn", codec.FieldMap{"n": uint64(41)}))
	reply := recv(t, out)
	if !reply.Errno.Ok() {
		t.Fatalf("Errno = %v, want OK", reply.Errno)
	}
	fs, _ := s.Flatten("PingOut")
	fm, err := codec.Parse(fs, reply.Body)
	if err != nil {
		t.Fatalf("Parse reply: %v", err)
	}
	if fm["n"].(uint64) != 42 {
		t.Fatalf("n = %v, want 42", fm["n"])
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDispatcherUnhandledOpcodeReturnsENOSYS(t *testing.T) {
	s := mustSchema(t)
	in := make(chan wire.Request)
	out := make(chan wire.Reply)
	d, err := New(s, map[string]Handler{}, in, out, nil, nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	send(t, in, 4, nil)
	reply := recv(t, out)
	if reply.Errno != wire.Errno(syscall.ENOSYS) {
		t.Fatalf("Errno = %v, want ENOSYS", reply.Errno)
	}
}

func TestDispatcherForgetSuppressesReply(t *testing.T) {
	s := mustSchema(t)
	in := make(chan wire.Request)
	out := make(chan wire.Reply)
	forgotten := make(chan uint64, 1)
	handlers := map[string]Handler{
		"FORGET": func(ctx context.Context, h wire.Header, f codec.FieldMap) (wire.Errno, any, error) {
			n, _ := f["nlookup"].(uint64)
			forgotten <- n
			return wire.OK, NoReply, nil
		},
	}
	d, err := New(s, handlers, in, out, nil, nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	send(t, in, 2, reqBody(t, s, "ForgetIn", codec.FieldMap{"nlookup": uint64(7)}))

	select {
	case n := <-forgotten:
		if n != 7 {
			t.Fatalf("nlookup = %d, want 7", n)
		}
	case <-time.After(time.Second):
		t.Fatal("FORGET handler never ran")
	}

	reply := recv(t, out)
	if !reply.NoReply {
		t.Fatalf("Reply.NoReply = false, want true for FORGET")
	}
}

func TestDispatcherAbsentResponseStillReplies(t *testing.T) {
	s := mustSchema(t)
	in := make(chan wire.Request)
	out := make(chan wire.Reply)
	handlers := map[string]Handler{
		"NOOP": func(ctx context.Context, h wire.Header, f codec.FieldMap) (wire.Errno, any, error) {
			return wire.OK, nil, nil
		},
	}
	d, err := New(s, handlers, in, out, nil, nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	send(t, in, 3, nil)
	reply := recv(t, out)
	if reply.NoReply {
		t.Fatal("Reply.NoReply = true, want a real empty-body reply for an absent response schema side")
	}
	if !reply.Errno.Ok() {
		t.Fatalf("Errno = %v, want OK", reply.Errno)
	}
	if len(reply.Body) != 0 {
		t.Fatalf("Body = %v, want empty", reply.Body)
	}
}

func TestDispatcherRunDrainsOnInboundClose(t *testing.T) {
	s := mustSchema(t)
	in := make(chan wire.Request)
	out := make(chan wire.Reply)
	d, err := New(s, map[string]Handler{}, in, out, nil, nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	close(in)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after inbound closed")
	}
	if d.State() != "terminated" {
		t.Fatalf("State() = %q, want terminated", d.State())
	}
	if _, ok := <-out; ok {
		t.Fatal("outbound channel not closed")
	}
}
