// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.

// Command spice-webdavd relays local WebDAV TCP connections over a
// virtio serial port to a host that demultiplexes them back into a
// real WebDAV session. It is the guest-side half of the split.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fenthope/reco"
	"github.com/infinite-iroha/toukadav"

	"github.com/infinite-iroha/toukadav/mux"
)

func virtioPortPath() string {
	if runtime.GOOS == "windows" {
		return `\\.\Global\org.spice-space.webdav.0`
	}
	return "/dev/virtio-ports/org.spice-space.webdav.0"
}

func main() {
	port := flag.Int("port", 9843, "local port to listen on for WebDAV clients")
	noService := flag.Bool("no-service", false, "run in the foreground instead of as a background service")
	flag.Parse()
	_ = noService // service-manager integration is host OS specific and out of scope here

	logger := touka.NewLogger(reco.Config{
		Level:      reco.LevelInfo,
		Mode:       reco.ModeText,
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Async:      true,
	})

	transport, err := openTransport()
	if err != nil {
		logger.Errorf("spice-webdavd: opening transport: %v", err)
		os.Exit(1)
	}
	defer transport.Close()

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", *port))
	if err != nil {
		logger.Errorf("spice-webdavd: listen: %v", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	relay := mux.NewRelay(listener, transport)
	relay.Logger = logger

	logger.Infof("spice-webdavd relaying %s on port %d via %s", virtioPortPath(), *port, virtioPortPath())
	if err := relay.Run(ctx); err != nil {
		if ctx.Err() != nil {
			os.Exit(0)
		}
		logger.Errorf("spice-webdavd: fatal transport error: %v", err)
		os.Exit(1)
	}
	os.Exit(0)
}
