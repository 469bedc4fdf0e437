// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"context"
	"net/http"
	"net/url"
	"os"
	gopath "path"

	"github.com/WJQSERVER-STUDIO/go-utils/iox"
	"github.com/infinite-iroha/toukadav"
	"golang.org/x/sync/errgroup"
)

// copyWorkerLimit bounds how many files a single recursive COPY copies
// concurrently, so a collection with thousands of children doesn't spawn
// thousands of goroutines each holding open file descriptors at once.
const copyWorkerLimit = 8

// destination resolves the Destination: header into a request-relative
// path, rejecting a destination on a different host: this server has no
// way to proxy a cross-host MOVE/COPY, so it refuses rather than silently
// rewriting the host.
func (h *Handler) destination(c *touka.Context) (string, error) {
	raw := c.GetReqHeader("Destination")
	if raw == "" {
		return "", ErrBadRequest
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrBadRequest.WithCause(err)
	}
	if u.Host != "" && u.Host != c.Request.Host {
		return "", ErrBadGateway
	}
	return normalizePath(h.stripPrefix(u.Path)), nil
}

func overwriteAllowed(c *touka.Context) bool {
	switch c.GetReqHeader("Overwrite") {
	case "F":
		return false
	default:
		return true
	}
}

// parseDepthHeader validates the Depth: header for MOVE/COPY, which only
// ever permit "0" or "infinity" (never "1").
func parseDepthHeader(c *touka.Context, defaultInfinity bool) (int, error) {
	v := c.GetReqHeader("Depth")
	switch v {
	case "":
		if defaultInfinity {
			return DepthInfinity, nil
		}
		return 0, nil
	case "0":
		return 0, nil
	case "infinity":
		return DepthInfinity, nil
	default:
		return 0, ErrBadRequest
	}
}

func (h *Handler) handleMove(c *touka.Context, srcPath string) {
	h.copyOrMove(c, srcPath, true)
}

func (h *Handler) handleCopy(c *touka.Context, srcPath string) {
	h.copyOrMove(c, srcPath, false)
}

func (h *Handler) copyOrMove(c *touka.Context, srcPath string, move bool) {
	if isVirtual(h.FileSystem, srcPath) {
		c.Status(http.StatusForbidden)
		return
	}
	destPath, err := h.destination(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if isVirtual(h.FileSystem, destPath) {
		c.Status(http.StatusForbidden)
		return
	}
	if destPath == srcPath {
		c.Status(http.StatusForbidden)
		return
	}

	depth, err := parseDepthHeader(c, true)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if move && depth != DepthInfinity {
		c.Status(http.StatusBadRequest)
		return
	}

	// MOVE must honor a lock on the source; COPY does not need the
	// source unlocked, since the source resource is left untouched.
	if move {
		if err := h.requireUnlocked(c, srcPath); err != nil {
			h.writeError(c, err)
			return
		}
	}
	if err := h.requireUnlocked(c, destPath); err != nil {
		h.writeError(c, err)
		return
	}

	srcInfo, err := h.FileSystem.Stat(c.Context(), srcPath)
	if err != nil {
		h.writeError(c, statError(err))
		return
	}

	destInfo, destErr := h.FileSystem.Stat(c.Context(), destPath)
	destExisted := destErr == nil
	overwrite := overwriteAllowed(c)

	if destExisted {
		if !overwrite {
			c.Status(http.StatusPreconditionFailed)
			return
		}
		if destInfo.IsDir() && !srcInfo.IsDir() {
			// WOULD_MERGE: replacing a collection with a non-collection
			// via overwrite is never allowed.
			c.Status(http.StatusConflict)
			return
		}
		if err := h.FileSystem.RemoveAll(c.Context(), destPath); err != nil {
			h.writeError(c, ErrInternal.WithCause(err))
			return
		}
	} else {
		parent := gopath.Dir(destPath)
		if pInfo, err := h.FileSystem.Stat(c.Context(), parent); err != nil || !pInfo.IsDir() {
			c.Status(http.StatusConflict)
			return
		}
	}

	if move {
		if err := h.FileSystem.Rename(c.Context(), srcPath, destPath); err != nil {
			h.writeError(c, ErrInternal.WithCause(err))
			return
		}
		if h.Locks != nil {
			h.Locks.Rename(srcPath, destPath)
		}
	} else {
		if err := h.copySubtree(c.Context(), srcPath, destPath, depth); err != nil {
			h.writeError(c, err)
			return
		}
	}

	if destExisted {
		c.Status(http.StatusNoContent)
	} else {
		c.Status(http.StatusCreated)
	}
}

// copySubtree copies src to dest, recursing into collections up to depth
// (0 copies only the resource itself, along with an empty collection if
// src is one; DepthInfinity copies everything beneath it). A collection's
// children are copied concurrently on a bounded worker pool rather than
// one at a time, since each child is an independent file copy.
func (h *Handler) copySubtree(ctx context.Context, src, dest string, depth int) error {
	info, err := h.FileSystem.Stat(ctx, src)
	if err != nil {
		return statError(err)
	}

	if info.IsDir() {
		if err := h.FileSystem.Mkdir(ctx, dest, info.Mode()); err != nil {
			return ErrInternal.WithCause(err)
		}
		if depth == 0 {
			return nil
		}
		dir, err := h.FileSystem.OpenFile(ctx, src, os.O_RDONLY, 0)
		if err != nil {
			return ErrInternal.WithCause(err)
		}
		children, err := dir.Readdir(0)
		dir.Close()
		if err != nil {
			return ErrInternal.WithCause(err)
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(copyWorkerLimit)
		for _, ch := range children {
			ch := ch
			childDepth := depth
			if childDepth != DepthInfinity {
				childDepth = 0
			}
			g.Go(func() error {
				return h.copySubtree(gctx, gopath.Join(src, ch.Name()), gopath.Join(dest, ch.Name()), childDepth)
			})
		}
		return g.Wait()
	}

	srcFile, err := h.FileSystem.OpenFile(ctx, src, os.O_RDONLY, 0)
	if err != nil {
		return ErrInternal.WithCause(err)
	}
	defer srcFile.Close()

	destFile, err := h.FileSystem.OpenFile(ctx, dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return ErrInternal.WithCause(err)
	}
	defer destFile.Close()

	if _, err := iox.Copy(destFile, srcFile); err != nil {
		return ErrInternal.WithCause(err)
	}
	return nil
}
