// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"net/http"
	"os"
	gopath "path"

	"github.com/infinite-iroha/toukadav"
)

// handleMkcol creates a new collection. RFC 4918 §9.3 requires a 415 when
// the request carries a body MKCOL doesn't understand, a 409 when the
// parent collection doesn't exist, and a 405 when the target already
// exists.
func (h *Handler) handleMkcol(c *touka.Context, reqPath string) {
	if c.Request.ContentLength > 0 {
		c.Status(http.StatusUnsupportedMediaType)
		return
	}
	if err := h.requireUnlocked(c, reqPath); err != nil {
		h.writeError(c, err)
		return
	}

	parent := gopath.Dir(reqPath)
	if parentInfo, err := h.FileSystem.Stat(c.Context(), parent); err != nil || !parentInfo.IsDir() {
		c.Status(http.StatusConflict)
		return
	}

	err := h.FileSystem.Mkdir(c.Context(), reqPath, 0755)
	switch {
	case err == nil:
		c.Status(http.StatusCreated)
	case os.IsExist(err):
		c.Status(http.StatusMethodNotAllowed)
	case asError(err).Kind == KindForbidden:
		c.Status(http.StatusForbidden)
	case os.IsNotExist(err):
		c.Status(http.StatusConflict)
	default:
		h.writeError(c, ErrForbidden.WithCause(err))
	}
}
