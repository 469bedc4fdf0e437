// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"io"
	"net/http"
	"os"

	"github.com/WJQSERVER-STUDIO/go-utils/iox"
	"github.com/infinite-iroha/toukadav"
)

// handlePut streams the request body into reqPath, so this handler never
// buffers the whole body. The target is opened with O_TRUNC and written in
// place by every backend (OSFS and MemFS alike); the replacement is not
// atomic, and a failed copy leaves a truncated or partial file behind.
func (h *Handler) handlePut(c *touka.Context, reqPath string) {
	if isVirtual(h.FileSystem, reqPath) {
		c.Status(http.StatusForbidden)
		return
	}
	if err := h.requireUnlocked(c, reqPath); err != nil {
		h.writeError(c, err)
		return
	}

	_, statErr := h.FileSystem.Stat(c.Context(), reqPath)
	existed := statErr == nil

	file, err := h.FileSystem.OpenFile(c.Context(), reqPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		h.writeError(c, statError(err))
		return
	}

	_, copyErr := iox.Copy(file, c.Request.Body)
	closeErr := file.Close()
	if copyErr != nil && copyErr != io.EOF {
		h.writeError(c, ErrInternal.WithCause(copyErr))
		return
	}
	if closeErr != nil {
		h.writeError(c, ErrInternal.WithCause(closeErr))
		return
	}

	if info, err := h.FileSystem.Stat(c.Context(), reqPath); err == nil && h.Locks != nil {
		// A lock-null resource stops being a lock-null resource as soon
		// as it is actually written to; clear the marker so its lock's
		// expiry no longer deletes it.
		h.Locks.ClearLockNull(reqPath, info.Size())
	}

	if existed {
		c.Status(http.StatusOK)
	} else {
		c.Status(http.StatusCreated)
	}
}
