// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package mux

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

func TestOutputQueueOrdering(t *testing.T) {
	var buf bytes.Buffer
	q := NewOutputQueue(context.Background(), &buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		n := i
		q.Push(func(err error) {
			if err != nil {
				t.Errorf("push %d: %v", n, err)
			}
			wg.Done()
		}, []byte{byte(n)})
	}
	wg.Wait()

	if buf.Len() != 20 {
		t.Fatalf("expected 20 bytes written, got %d", buf.Len())
	}
	for i, b := range buf.Bytes() {
		if int(b) != i {
			t.Fatalf("byte %d out of order: got %d", i, b)
		}
	}
}

func TestOutputQueueMultiPartAtomicity(t *testing.T) {
	var buf bytes.Buffer
	q := NewOutputQueue(context.Background(), &buf)

	var wg sync.WaitGroup
	for c := 0; c < 10; c++ {
		wg.Add(1)
		id := byte(c)
		go func() {
			defer wg.Done()
			done := make(chan error, 1)
			q.Push(func(err error) { done <- err }, idBytes(uint64(id)), sizeBytes(3), []byte{id, id, id})
			<-done
		}()
	}
	wg.Wait()

	b := buf.Bytes()
	if len(b)%(headerSize+3) != 0 {
		t.Fatalf("output not a whole number of frames: %d bytes", len(b))
	}
	for off := 0; off < len(b); off += headerSize + 3 {
		hdr := unmarshalHeader(b[off : off+headerSize])
		payload := b[off+headerSize : off+headerSize+3]
		for _, p := range payload {
			if uint64(p) != hdr.ClientID {
				t.Fatalf("frame payload %v does not match its own header id %d: a write was split across a push boundary", payload, hdr.ClientID)
			}
		}
	}
}

func newRelayWithLoopback(t *testing.T) (*Relay, net.Listener, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	transportServer, transportClient := net.Pipe()
	t.Cleanup(func() { transportServer.Close() })

	relay := NewRelay(ln, transportClient)
	return relay, ln, transportServer
}

func TestRelayFramesLocalWrites(t *testing.T) {
	relay, ln, transport := newRelayWithLoopback(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go relay.Run(ctx)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	hdr, err := readFrameHeader(transport)
	if err != nil {
		t.Fatalf("reading frame header: %v", err)
	}
	payload := make([]byte, hdr.Size)
	if _, err := io.ReadFull(transport, payload); err != nil {
		t.Fatalf("reading payload: %v", err)
	}
	if string(payload) != "hello" {
		t.Fatalf("got payload %q, want %q", payload, "hello")
	}

	// Send a reply frame for this client id and check it reaches the
	// local socket.
	replyDone := make(chan struct{})
	go func() {
		defer close(replyDone)
		transport.Write(idBytes(hdr.ClientID))
		transport.Write(sizeBytes(5))
		transport.Write([]byte("world"))
	}()
	reply := make([]byte, 5)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatalf("reading reply on local conn: %v", err)
	}
	if string(reply) != "world" {
		t.Fatalf("got reply %q, want %q", reply, "world")
	}
	<-replyDone

	conn.Close()
	closeHdr, err := readFrameHeader(transport)
	if err != nil {
		t.Fatalf("reading half-close header: %v", err)
	}
	if closeHdr.ClientID != hdr.ClientID || closeHdr.Size != 0 {
		t.Fatalf("expected half-close frame for client %d, got %+v", hdr.ClientID, closeHdr)
	}
}

func TestRelaySplitsOversizedWrites(t *testing.T) {
	relay, ln, transport := newRelayWithLoopback(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go relay.Run(ctx)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	total := MaxPayload + 1000
	go func() {
		written := 0
		buf := bytes.Repeat([]byte{0xAB}, total)
		for written < total {
			n, err := conn.Write(buf[written:])
			if err != nil {
				return
			}
			written += n
		}
	}()

	received := 0
	for received < total {
		hdr, err := readFrameHeader(transport)
		if err != nil {
			t.Fatalf("reading frame header: %v", err)
		}
		if hdr.Size > MaxPayload {
			t.Fatalf("frame size %d exceeds MaxPayload", hdr.Size)
		}
		payload := make([]byte, hdr.Size)
		if _, err := io.ReadFull(transport, payload); err != nil {
			t.Fatalf("reading payload: %v", err)
		}
		received += len(payload)
	}
	if received != total {
		t.Fatalf("got %d bytes across frames, want %d", received, total)
	}
}

func TestRegistryIDsAreMonotonicAndUnique(t *testing.T) {
	r := NewRegistry()
	c1, c2 := &net.TCPConn{}, &net.TCPConn{}
	ctx := context.Background()
	client1 := r.Add(ctx, c1)
	r.Remove(client1.ID)
	client2 := r.Add(ctx, c2)
	if client2.ID <= client1.ID {
		t.Fatalf("expected id %d > %d after removal, ids must never be reused", client2.ID, client1.ID)
	}
}

func TestHostDialsOnFirstSight(t *testing.T) {
	backendLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer backendLn.Close()

	backendConns := make(chan net.Conn, 1)
	go func() {
		c, err := backendLn.Accept()
		if err == nil {
			backendConns <- c
		}
	}()

	transportHost, transportPeer := net.Pipe()
	defer transportPeer.Close()

	host := NewHost(transportHost, func(ctx context.Context) (net.Conn, error) {
		return net.Dial("tcp", backendLn.Addr().String())
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go host.Run(ctx)

	const clientID = uint64(42)
	transportPeer.Write(idBytes(clientID))
	transportPeer.Write(sizeBytes(4))
	transportPeer.Write([]byte("ping"))

	var backendConn net.Conn
	select {
	case backendConn = <-backendConns:
	case <-time.After(2 * time.Second):
		t.Fatal("host never dialed the backend")
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(backendConn, buf); err != nil {
		t.Fatalf("reading dialed connection: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("got %q, want %q", buf, "ping")
	}

	backendConn.Write([]byte("pong!"))
	hdr, err := readFrameHeader(transportPeer)
	if err != nil {
		t.Fatalf("reading frame header: %v", err)
	}
	if hdr.ClientID != clientID {
		t.Fatalf("got client id %d, want %d", hdr.ClientID, clientID)
	}
	payload := make([]byte, hdr.Size)
	io.ReadFull(transportPeer, payload)
	if string(payload) != "pong!" {
		t.Fatalf("got %q, want %q", payload, "pong!")
	}
}
