// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package mux

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
)

// Client is one local TCP connection multiplexed over the transport. Its
// id is stable for the connection's lifetime and is assigned by an
// explicit counter: the reference implementation derived this id from
// the connection's pointer bit pattern, which risks collisions once an
// address is reused after a free, so this server hands out ids from a
// monotonic counter instead.
type Client struct {
	ID   uint64
	Conn net.Conn

	// outq serializes writes toward Conn (the demux direction: frames
	// arriving from the transport for this client).
	outq *OutputQueue

	closeOnce sync.Once
}

func newClient(id uint64, conn net.Conn, ctx context.Context) *Client {
	return &Client{
		ID:   id,
		Conn: conn,
		outq: NewOutputQueue(ctx, conn),
	}
}

// Close closes the client's local connection exactly once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.Conn.Close()
	})
}

// idCounter assigns client ids, monotonically and without reuse, so two
// clients active at different times never collide even if the
// underlying registry has pruned the earlier one.
type idCounter struct {
	n atomic.Uint64
}

func (c *idCounter) next() uint64 {
	return c.n.Add(1)
}

// Registry tracks the clients currently known to a multiplexer endpoint,
// keyed by id, guarded by a single mutex since lookups and removals race
// between the transport-reading goroutine and each client's own
// reader/writer goroutines.
type Registry struct {
	mu      sync.Mutex
	clients map[uint64]*Client
	ids     idCounter
}

// NewRegistry returns an empty client registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[uint64]*Client)}
}

// Add registers conn under a freshly assigned id and returns its Client.
func (r *Registry) Add(ctx context.Context, conn net.Conn) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.ids.next()
	c := newClient(id, conn, ctx)
	r.clients[id] = c
	return c
}

// AddWithID registers conn under an id handed to this endpoint by the
// other side of the transport, used by the host-side demultiplexer where
// client ids originate with the peer's own Registry rather than locally.
func (r *Registry) AddWithID(ctx context.Context, id uint64, conn net.Conn) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := newClient(id, conn, ctx)
	r.clients[id] = c
	return c
}

// Get looks up a client by id, returning (nil, false) if it is unknown
// (already removed, or never existed).
func (r *Registry) Get(id uint64) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	return c, ok
}

// Remove drops id from the registry and closes its connection. Safe to
// call more than once for the same id.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	c, ok := r.clients[id]
	delete(r.clients, id)
	r.mu.Unlock()
	if ok {
		c.Close()
	}
}

// CloseAll closes every registered client, used on multiplexer shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[uint64]*Client)
	r.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
