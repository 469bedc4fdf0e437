// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.

//go:build windows

package main

import (
	"io"
	"os"
)

// openTransport opens the virtio serial port device the host exposes the
// WebDAV channel on, named as a Windows global device.
func openTransport() (io.ReadWriteCloser, error) {
	return os.OpenFile(virtioPortPath(), os.O_RDWR, 0)
}
