// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package mux

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/fenthope/reco"
)

// Relay is the guest-side multiplexer: it accepts local TCP connections
// and relays their bytes to and from a single bidirectional transport,
// tagging each frame with the id of the local connection it belongs to.
// This is the role spice-webdavd plays: one process, one transport, many
// local clients.
type Relay struct {
	Listener  net.Listener
	Transport io.ReadWriter
	Logger    *reco.Logger

	registry *Registry
	out      *OutputQueue
}

// NewRelay returns a Relay that has not yet started accepting or
// reading. Call Run to start it.
func NewRelay(listener net.Listener, transport io.ReadWriter) *Relay {
	return &Relay{Listener: listener, Transport: transport}
}

func (r *Relay) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Debugf(format, args...)
	}
}

// Run accepts connections and relays frames until ctx is canceled or the
// transport fails. A transport read error or short read is fatal and is
// returned to the caller, which per the multiplexer's design should
// terminate the process; a local client's read/write error only removes
// that one client.
func (r *Relay) Run(ctx context.Context) error {
	r.registry = NewRegistry()
	r.out = NewOutputQueue(ctx, r.Transport)

	go func() {
		<-ctx.Done()
		r.Listener.Close()
		r.registry.CloseAll()
	}()

	go r.acceptLoop(ctx)

	err := r.demuxLoop(ctx)
	r.registry.CloseAll()
	return err
}

func (r *Relay) acceptLoop(ctx context.Context) {
	for {
		conn, err := r.Listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logf("mux: accept: %v", err)
			return
		}
		c := r.registry.Add(ctx, conn)
		go r.clientReadLoop(ctx, c)
	}
}

func (r *Relay) clientReadLoop(ctx context.Context, c *Client) {
	muxClientReadLoop(ctx, r.out, r.registry, c)
}

// muxClientReadLoop reads from one local client and forwards each read as
// a three-part frame (id, size, payload) pushed onto the shared transport
// queue, not issuing the next read until all three parts have drained:
// the read buffer is reused across iterations, so it must not be
// overwritten while a write of its previous contents is still in flight.
// Shared between the guest-side relay and the host-side demultiplexer,
// since both forward a local connection's bytes to the transport the
// same way.
func muxClientReadLoop(ctx context.Context, out *OutputQueue, registry *Registry, c *Client) {
	buf := make([]byte, MaxPayload)
	for {
		n, readErr := c.Conn.Read(buf)
		if n > 0 {
			done := make(chan error, 1)
			out.Push(func(err error) { done <- err }, idBytes(c.ID), sizeBytes(uint16(n)), buf[:n])
			select {
			case err := <-done:
				if err != nil {
					registry.Remove(c.ID)
					return
				}
			case <-ctx.Done():
				return
			}
		}
		if readErr != nil {
			sendHalfClose(out, c.ID)
			registry.Remove(c.ID)
			return
		}
	}
}

func sendHalfClose(out *OutputQueue, id uint64) {
	done := make(chan error, 1)
	out.Push(func(err error) { done <- err }, idBytes(id), sizeBytes(0))
	<-done
}

// demuxLoop strictly serializes transport reads: it never starts the next
// header read until the current payload has been copied and handed off
// to its destination client's output queue.
func (r *Relay) demuxLoop(ctx context.Context) error {
	payload := make([]byte, MaxPayload)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		hdr, err := readFrameHeader(r.Transport)
		if err != nil {
			return fmt.Errorf("mux: transport read (header): %w", err)
		}

		if hdr.Size > 0 {
			if _, err := io.ReadFull(r.Transport, payload[:hdr.Size]); err != nil {
				return fmt.Errorf("mux: transport read (payload): %w", err)
			}
		}

		client, ok := r.registry.Get(hdr.ClientID)
		if !ok {
			continue
		}
		if hdr.Size == 0 {
			r.registry.Remove(hdr.ClientID)
			continue
		}
		out := make([]byte, hdr.Size)
		copy(out, payload[:hdr.Size])
		client.outq.Push(nil, out)
	}
}
