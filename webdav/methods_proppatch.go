// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"net/http"

	"github.com/infinite-iroha/toukadav"
)

// handleProppatch applies a PROPPATCH set/remove batch, persisting dead
// properties through the filesystem's DeadPropertySource if it has one.
// Live properties (resourcetype, getcontentlength, ...) can never be set
// this way and always fail with 403, matching RFC 4918 §9.2.1.
func (h *Handler) handleProppatch(c *touka.Context, reqPath string) {
	if err := h.requireUnlocked(c, reqPath); err != nil {
		h.writeError(c, err)
		return
	}
	info, err := h.FileSystem.Stat(c.Context(), reqPath)
	if err != nil {
		h.writeError(c, statError(err))
		return
	}

	updates, err := ParseProppatch(c.Request.Body)
	if err != nil {
		h.writeError(c, ErrBadRequest.WithCause(err))
		return
	}

	src, ok := h.FileSystem.(DeadPropertySource)
	b := newResponseBuilder(h.href(reqPath))

	for _, u := range updates {
		if isLiveName(u.Name, info.IsDir()) {
			b.addProperty(http.StatusForbidden, renderedProperty{Name: u.Name, NameOnly: true})
			continue
		}
		if !ok {
			b.addProperty(http.StatusForbidden, renderedProperty{Name: u.Name, NameOnly: true})
			continue
		}
		var opErr error
		if u.Remove {
			opErr = src.RemoveDeadProp(c.Context(), reqPath, u.Name)
		} else {
			opErr = src.SetDeadProp(c.Context(), reqPath, u.Name, u.Value)
		}
		if opErr != nil {
			b.addProperty(http.StatusInternalServerError, renderedProperty{Name: u.Name, NameOnly: true})
			continue
		}
		b.addProperty(http.StatusOK, renderedProperty{Name: u.Name, NameOnly: true})
	}

	ms := &multistatusWriter{}
	ms.add(b)
	writeMultistatus(c.Writer, ms)
}

// isLiveName reports whether name names one of the live properties this
// handler computes itself, which PROPPATCH may never override.
func isLiveName(name PropName, isDir bool) bool {
	if name.Space == executableNS {
		return name.Local == "executable"
	}
	if name.Space != "" && name.Space != "DAV:" {
		return false
	}
	switch name.Local {
	case "resourcetype", "getcontentlength", "getlastmodified", "creationdate",
		"getcontenttype", "getetag", "supportedlock", "lockdiscovery", "displayname":
		return true
	case "executable":
		return true
	case "quota-available-bytes", "quota-used-bytes":
		return true
	default:
		return false
	}
}
