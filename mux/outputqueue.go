// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package mux

import (
	"context"
	"io"
	"sync"
)

type flusher interface {
	Flush() error
}

type queueElem struct {
	buf []byte
	cb  func(error)
}

// OutputQueue serializes writes to w: at most one write (and, for a
// buffering writer, one flush) is ever outstanding at a time. Pushes
// append to the tail; an idle queue starts draining itself as soon as
// something is pushed, and keeps draining until empty.
//
// A multi-part frame (client id, size, payload) is pushed as one call so
// its parts are never separated by another goroutine's push landing
// between them.
type OutputQueue struct {
	ctx context.Context
	w   io.Writer

	mu      sync.Mutex
	writing bool
	queue   []queueElem
}

// NewOutputQueue returns a queue that writes to w until ctx is canceled.
func NewOutputQueue(ctx context.Context, w io.Writer) *OutputQueue {
	return &OutputQueue{ctx: ctx, w: w}
}

// Push enqueues bufs as a contiguous run of writes, invoking cb (if
// non-nil) with the first error encountered, or nil, once the last of
// them has been written (and flushed, if w supports it).
func (q *OutputQueue) Push(cb func(error), bufs ...[]byte) {
	if len(bufs) == 0 {
		if cb != nil {
			cb(nil)
		}
		return
	}
	q.mu.Lock()
	// drain runs the elements of one run in order on a single goroutine,
	// so firstErr needs no lock of its own.
	var firstErr error
	for i, b := range bufs {
		last := i == len(bufs)-1
		elemCb := func(err error) {
			if firstErr == nil {
				firstErr = err
			}
			if last && cb != nil {
				cb(firstErr)
			}
		}
		q.queue = append(q.queue, queueElem{buf: b, cb: elemCb})
	}
	idle := !q.writing
	if idle {
		q.writing = true
	}
	q.mu.Unlock()

	if idle {
		go q.drain()
	}
}

func (q *OutputQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.writing = false
			q.mu.Unlock()
			return
		}
		e := q.queue[0]
		q.queue = q.queue[1:]
		q.mu.Unlock()

		err := q.ctx.Err()
		if err == nil {
			err = writeAll(q.w, e.buf)
		}
		if err == nil {
			if f, ok := q.w.(flusher); ok {
				err = f.Flush()
			}
		}
		if e.cb != nil {
			e.cb(err)
		}
	}
}

func writeAll(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
