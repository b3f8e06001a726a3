// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

// Request is one inbound (header, body) tuple as read off the device by
// the transport's receive loop and handed to the dispatcher.
type Request struct {
	Header Header
	Body   []byte
}

// Reply is one outbound (header, errno, body) tuple produced by the
// dispatcher and drained onto the device by the transport's send loop.
// NoReply marks the distinguished "no reply" case: when set, the
// transport must write nothing for this request.
type Reply struct {
	Header  Header
	Errno   Errno
	Body    []byte
	NoReply bool
}
