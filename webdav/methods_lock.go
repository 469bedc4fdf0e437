// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/infinite-iroha/toukadav"
)

// handleLock answers LOCK: a body-less request with an If: header refreshes
// an existing lock, anything else creates a new one (including, when the
// target doesn't exist yet, a lock-null resource).
func (h *Handler) handleLock(c *touka.Context, reqPath string) {
	if h.Locks == nil {
		c.Status(http.StatusMethodNotAllowed)
		return
	}
	if isVirtual(h.FileSystem, reqPath) {
		c.Status(http.StatusForbidden)
		return
	}

	timeout := parseTimeoutHeader(c.GetReqHeader("Timeout"))

	if c.Request.ContentLength == 0 {
		h.refreshLock(c, reqPath, timeout)
		return
	}

	body, err := ParseLockBody(c.Request.Body)
	if err != nil {
		h.writeError(c, ErrBadRequest.WithCause(err))
		return
	}

	info, statErr := h.FileSystem.Stat(c.Context(), reqPath)
	lockNull := statErr != nil

	depth := 0
	switch c.GetReqHeader("Depth") {
	case "", "infinity":
		depth = DepthInfinity
	case "0":
		depth = 0
	default:
		c.Status(http.StatusBadRequest)
		return
	}
	if !lockNull && !info.IsDir() {
		depth = 0
	}

	l, err := h.Locks.CreateLock(c.Context(), reqPath, body.Scope, depth, body.Owner, timeout, lockNull)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if lockNull {
		file, err := h.FileSystem.OpenFile(c.Context(), reqPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			h.Locks.Unlock(l.Token())
			h.writeError(c, ErrInternal.WithCause(err))
			return
		}
		file.Close()
	}

	c.SetHeader("Lock-Token", "<"+l.Token()+">")
	c.SetHeader("Content-Type", "application/xml; charset=utf-8")
	if lockNull {
		c.Status(http.StatusCreated)
	} else {
		c.Status(http.StatusOK)
	}
	io.WriteString(c.Writer, lockDiscoveryDocument(l))
}

func (h *Handler) refreshLock(c *touka.Context, reqPath string, timeout time.Duration) {
	raw := c.GetReqHeader("If")
	token := extractSingleToken(raw)
	if token == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	l, err := h.Locks.RefreshLock(c.Context(), token, timeout)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.SetHeader("Lock-Token", "<"+l.Token()+">")
	c.SetHeader("Content-Type", "application/xml; charset=utf-8")
	c.Status(http.StatusOK)
	io.WriteString(c.Writer, lockDiscoveryDocument(l))
}

// extractSingleToken pulls the first urn:uuid:... coded-URL token out of a
// refresh LOCK's If: header, which RFC 4918 §9.10.2 restricts to exactly
// one untagged list containing exactly one token.
func extractSingleToken(raw string) string {
	const marker = "<urn:uuid:"
	start := strings.Index(raw, marker)
	if start < 0 {
		return ""
	}
	start++ // drop the leading '<'
	end := strings.Index(raw[start:], ">")
	if end < 0 {
		return ""
	}
	return raw[start : start+end]
}

// handleUnlock answers UNLOCK: the Lock-Token header (angle brackets
// included) must name a lock this request is entitled to remove.
func (h *Handler) handleUnlock(c *touka.Context, reqPath string) {
	if h.Locks == nil {
		c.Status(http.StatusMethodNotAllowed)
		return
	}
	raw := c.GetReqHeader("Lock-Token")
	if raw == "" {
		c.Status(http.StatusConflict)
		return
	}
	token := strings.TrimSuffix(strings.TrimPrefix(raw, "<"), ">")
	if token == raw {
		c.Status(http.StatusBadRequest)
		return
	}

	l := h.Locks.Find(token)
	if l == nil || l.Path() != reqPath {
		c.Status(http.StatusConflict)
		return
	}
	if err := h.Locks.Unlock(token); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// parseTimeoutHeader reads the first "Second-<n>" entry from a Timeout:
// header, returning 0 (infinite) for "Infinite" or an unparsable header.
func parseTimeoutHeader(raw string) time.Duration {
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, "Second-") {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimPrefix(part, "Second-"), 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		return time.Duration(n) * time.Second
	}
	return 0
}

// activeLockXML renders a single DAV:activelock element for l.
func activeLockXML(l *Lock, remaining int64) string {
	scope := "<D:exclusive/>"
	if l.Scope() == ScopeShared {
		scope = "<D:shared/>"
	}
	depth := "0"
	if l.Depth() == DepthInfinity {
		depth = "infinity"
	}
	timeout := "Infinite"
	if remaining > 0 {
		timeout = fmt.Sprintf("Second-%d", remaining)
	}
	owner := l.Owner()
	if owner != "" {
		owner = "<D:owner>" + owner + "</D:owner>"
	}
	return "<D:activelock>" +
		"<D:lockscope>" + scope + "</D:lockscope>" +
		"<D:locktype><D:write/></D:locktype>" +
		"<D:depth>" + depth + "</D:depth>" +
		owner +
		"<D:timeout>" + timeout + "</D:timeout>" +
		"<D:locktoken><D:href>" + l.Token() + "</D:href></D:locktoken>" +
		"</D:activelock>"
}

// lockDiscoveryDocument wraps a single activelock in the full
// DAV:prop/DAV:lockdiscovery response LOCK returns on success.
func lockDiscoveryDocument(l *Lock) string {
	return `<?xml version="1.0" encoding="utf-8"?>` +
		`<D:prop xmlns:D="DAV:"><D:lockdiscovery>` +
		activeLockXML(l, l.RemainingSeconds(time.Now())) +
		`</D:lockdiscovery></D:prop>`
}
