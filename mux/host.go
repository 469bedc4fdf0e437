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

// Dialer opens a new local connection for a client id this Host has not
// seen before, typically a loopback dial to a local WebDAV server.
type Dialer func(ctx context.Context) (net.Conn, error)

// Host is the host-side demultiplexer: it has no local listener of its
// own. Instead, the first frame for each client id triggers a fresh
// Dial, after which bytes for that id are bridged to and from the dialed
// connection exactly as the guest-side Relay bridges its own local
// connections. This exists for completeness and for testing the full
// round trip of the wire protocol; the bundled CLI surface only ships
// the guest-side relay.
type Host struct {
	Transport io.ReadWriter
	Dial      Dialer
	Logger    *reco.Logger

	registry *Registry
	out      *OutputQueue
}

// NewHost returns a Host that dials dial for each newly seen client id.
func NewHost(transport io.ReadWriter, dial Dialer) *Host {
	return &Host{Transport: transport, Dial: dial}
}

func (h *Host) logf(format string, args ...any) {
	if h.Logger != nil {
		h.Logger.Debugf(format, args...)
	}
}

// Run demultiplexes frames from the transport, dialing a new local
// connection for each client id on first sight, until ctx is canceled or
// the transport fails. A transport read error or short read is returned
// to the caller; a dialed connection's own read/write error only removes
// that one client.
func (h *Host) Run(ctx context.Context) error {
	h.registry = NewRegistry()
	h.out = NewOutputQueue(ctx, h.Transport)

	go func() {
		<-ctx.Done()
		h.registry.CloseAll()
	}()

	payload := make([]byte, MaxPayload)

	for {
		if ctx.Err() != nil {
			h.registry.CloseAll()
			return ctx.Err()
		}
		hdr, err := readFrameHeader(h.Transport)
		if err != nil {
			h.registry.CloseAll()
			return fmt.Errorf("mux: transport read (header): %w", err)
		}

		if hdr.Size > 0 {
			if _, err := io.ReadFull(h.Transport, payload[:hdr.Size]); err != nil {
				h.registry.CloseAll()
				return fmt.Errorf("mux: transport read (payload): %w", err)
			}
		}

		client, ok := h.registry.Get(hdr.ClientID)
		if !ok {
			if hdr.Size == 0 {
				continue
			}
			conn, err := h.Dial(ctx)
			if err != nil {
				h.logf("mux: dial for client %d: %v", hdr.ClientID, err)
				sendHalfClose(h.out, hdr.ClientID)
				continue
			}
			client = h.registry.AddWithID(ctx, hdr.ClientID, conn)
			go muxClientReadLoop(ctx, h.out, h.registry, client)
		}
		if hdr.Size == 0 {
			h.registry.Remove(hdr.ClientID)
			continue
		}
		out := make([]byte, hdr.Size)
		copy(out, payload[:hdr.Size])
		client.outq.Push(nil, out)
	}
}
