// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"context"
	"time"

	"github.com/fenthope/reco"
	"github.com/infinite-iroha/toukadav"
)

// Config configures a WebDAV mount point.
type Config struct {
	FileSystem FileSystem
	// ReadOnly rejects every mutating request with 403.
	ReadOnly bool
	// Logger receives structured diagnostics; nil disables logging.
	Logger *reco.Logger
	// LockSweepInterval controls how often expired locks are reaped. Zero
	// selects a one-minute default.
	LockSweepInterval time.Duration
}

// Register mounts a WebDAV handler for cfg.FileSystem at prefix on engine,
// starting a lock manager with a background expiry sweeper that runs on
// context.Background() and is never stopped (the sweeper goroutine is
// leaked on process exit, same as every other background goroutine this
// server starts, since the process itself is the unit of shutdown).
func Register(engine *touka.Engine, prefix string, cfg *Config) *Handler {
	onExpire := func(path string, l *Lock) {
		cleanupLockNull(cfg.FileSystem, path, l)
	}
	locks := NewLockManager(onExpire)

	interval := cfg.LockSweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	locks.StartSweeper(context.Background(), interval)

	h := &Handler{
		Prefix:     prefix,
		FileSystem: cfg.FileSystem,
		Locks:      locks,
		ReadOnly:   cfg.ReadOnly,
		Logger:     cfg.Logger,
	}
	engine.HandleFunc(webdavMethods, prefix+"/*path", h.ServeTouka)
	return h
}

// cleanupLockNull removes the resource a lock-null LOCK created if it is
// still empty (never PUT to) when its lock expires or is explicitly
// unlocked, mirroring the reference implementation's lock-null cleanup.
func cleanupLockNull(fs FileSystem, path string, l *Lock) {
	if !l.lockNull {
		return
	}
	ctx := context.Background()
	info, err := fs.Stat(ctx, path)
	if err != nil {
		return
	}
	if !info.IsDir() && info.Size() == 0 {
		fs.RemoveAll(ctx, path)
	}
}

// Serve is a one-line convenience for serving a local directory tree via
// WebDAV, used by chezdav to mount a bare directory with no further
// configuration.
func Serve(engine *touka.Engine, prefix string, rootDir string) (*Handler, error) {
	fs, err := NewOSFS(rootDir)
	if err != nil {
		return nil, err
	}
	return Register(engine, prefix, &Config{FileSystem: fs}), nil
}
