// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"context"
	"net/http"
	"os"
	gopath "path"
	"time"

	"github.com/infinite-iroha/toukadav"
)

// handlePropfind answers PROPFIND. Depth: infinity is refused with 403:
// an unbounded recursive property walk over an arbitrarily large tree is
// exactly the kind of request this server declines rather than serve, the
// same restriction most production WebDAV servers apply.
func (h *Handler) handlePropfind(c *touka.Context, reqPath string) {
	depthHdr := c.GetReqHeader("Depth")
	var depth int
	switch depthHdr {
	case "", "infinity":
		c.Status(http.StatusForbidden)
		return
	case "0":
		depth = 0
	case "1":
		depth = 1
	default:
		c.Status(http.StatusBadRequest)
		return
	}

	rootInfo, err := h.FileSystem.Stat(c.Context(), reqPath)
	if err != nil {
		h.writeError(c, statError(err))
		return
	}

	var req PropfindRequest
	if c.Request.ContentLength != 0 {
		req, err = ParsePropfind(c.Request.Body)
		if err != nil {
			h.writeError(c, err)
			return
		}
	} else {
		req = PropfindRequest{AllProp: true}
	}

	ms := &multistatusWriter{}
	h.addPropfindResponse(c.Context(), ms, reqPath, rootInfo, req)

	if depth == 1 && rootInfo.IsDir() {
		dir, err := h.FileSystem.OpenFile(c.Context(), reqPath, os.O_RDONLY, 0)
		if err != nil {
			h.writeError(c, ErrInternal.WithCause(err))
			return
		}
		children, err := dir.Readdir(0)
		dir.Close()
		if err != nil {
			h.writeError(c, ErrInternal.WithCause(err))
			return
		}
		for _, ch := range children {
			childPath := gopath.Join(reqPath, ch.Name())
			childInfo, err := h.FileSystem.Stat(c.Context(), childPath)
			if err != nil {
				h.logf(c, "warn", "PROPFIND: stat %s: %v", childPath, err)
				continue
			}
			h.addPropfindResponse(c.Context(), ms, childPath, childInfo, req)
		}
	}

	writeMultistatus(c.Writer, ms)
}

func (h *Handler) addPropfindResponse(ctx context.Context, ms *multistatusWriter, p string, info ObjectInfo, req PropfindRequest) {
	href := h.href(p)
	if info.IsDir() && p != "/" {
		href += "/"
	}
	b := newResponseBuilder(href)

	names := req.Names
	if req.AllProp || req.PropNameOnly {
		names = append(append([]PropName{}, names...), allLiveNames(h.FileSystem, info.IsDir())...)
		if src, ok := h.FileSystem.(DeadPropertySource); ok {
			if dead, err := src.ListDeadProps(ctx, p); err == nil {
				names = append(names, dead...)
			}
		}
	}

	seen := map[PropName]bool{}
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		h.addOneProperty(ctx, b, p, info, n, req.PropNameOnly)
	}
}

func (h *Handler) addOneProperty(ctx context.Context, b *responseBuilder, p string, info ObjectInfo, name PropName, nameOnly bool) {
	if name.Local == "lockdiscovery" && (name.Space == "" || name.Space == "DAV:") {
		b.addProperty(http.StatusOK, renderedProperty{Name: name, Inner: h.lockDiscoveryXML(p), NameOnly: nameOnly})
		return
	}
	if inner, ok := liveProperty(ctx, h.FileSystem, p, info, name); ok {
		b.addProperty(http.StatusOK, renderedProperty{Name: name, Inner: inner, NameOnly: nameOnly})
		return
	}
	if src, ok := h.FileSystem.(DeadPropertySource); ok {
		if val, found, err := src.GetDeadProp(ctx, p, name); err == nil && found {
			b.addProperty(http.StatusOK, renderedProperty{Name: name, Inner: val, NameOnly: nameOnly})
			return
		}
	}
	b.addProperty(http.StatusNotFound, renderedProperty{Name: name, NameOnly: true})
}

// lockDiscoveryXML renders the DAV:lockdiscovery value for p: zero or one
// activelock element, for the lock PathLock reports as covering it. When
// several shared locks cover p, only that first one is listed.
func (h *Handler) lockDiscoveryXML(p string) string {
	if h.Locks == nil {
		return ""
	}
	l := h.Locks.PathLock(p)
	if l == nil {
		return ""
	}
	return activeLockXML(l, l.RemainingSeconds(time.Now()))
}
