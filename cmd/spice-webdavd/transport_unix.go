// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.

//go:build !windows

package main

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// openTransport opens the virtio serial port character device the host
// exposes the WebDAV channel on.
func openTransport() (io.ReadWriteCloser, error) {
	fd, err := unix.Open(virtioPortPath(), unix.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), virtioPortPath()), nil
}
