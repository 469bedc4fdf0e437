// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.

// Package mux implements a byte-stream multiplexer for tunneling many
// concurrent TCP connections over a single bidirectional transport (a
// virtio serial port between a VM guest and its host), along with the
// demultiplexer that unpacks them again on the other end.
package mux

import (
	"encoding/binary"
	"io"
)

// MaxPayload is the largest payload a single frame can carry: the frame
// header's size field is 16 bits, so 65535 bytes is the hard ceiling. A
// client write larger than this is split across multiple frames.
const MaxPayload = 1<<16 - 1

// headerSize is the on-wire size of a frame header: an 8-byte client id
// followed by a 2-byte payload length, both little-endian.
const headerSize = 10

// header is the little-endian, unaligned frame header described by the
// wire format: client_id (u64) | size (u16), immediately followed by
// size bytes of payload. A frame with size 0 is a half-close notification
// for its client id, not an empty write.
type header struct {
	ClientID uint64
	Size     uint16
}

// idBytes and sizeBytes encode the two header fields separately: a mux
// write pushes client id, size, and payload as three distinct queue
// entries rather than one combined header buffer, matching the cadence
// the transport's reader expects them in.
func idBytes(id uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, id)
	return b
}

func sizeBytes(n uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, n)
	return b
}

func unmarshalHeader(b []byte) header {
	return header{
		ClientID: binary.LittleEndian.Uint64(b[0:8]),
		Size:     binary.LittleEndian.Uint16(b[8:10]),
	}
}

// readFrameHeader reads the 10-byte id+size header from r. Both the
// relay and the host demultiplexer read headers this way, since each
// strictly serializes its transport reads one header-then-payload at a
// time regardless of which direction it demultiplexes into.
func readFrameHeader(r io.Reader) (header, error) {
	b := make([]byte, headerSize)
	if _, err := io.ReadFull(r, b); err != nil {
		return header{}, err
	}
	return unmarshalHeader(b), nil
}
