// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"context"

	"github.com/infinite-iroha/toukadav"
)

// handlerIfEnv adapts a Handler into the evaluation environment an
// IfHeader needs: ETag lookups go through the FileSystem, lock-token
// checks go through the lock manager.
type handlerIfEnv struct {
	ctx context.Context
	h   *Handler
}

func (e handlerIfEnv) etag(resource string) string {
	info, err := e.h.FileSystem.Stat(e.ctx, resource)
	if err != nil || info.IsDir() {
		return ""
	}
	return etagFor(info)
}

func (e handlerIfEnv) locked(resource, token string) bool {
	if e.h.Locks == nil {
		return false
	}
	l := e.h.Locks.PathLock(resource)
	return l != nil && l.Token() == token
}

// evalIfHeader parses and evaluates the request's If: header (if any)
// against defaultResource, returning (true, nil) when there is no header
// at all (an absent If: header never blocks a request), and propagating
// a parse failure as ErrBadRequest.
func (h *Handler) evalIfHeader(c *touka.Context, defaultResource string) (*IfHeader, bool, error) {
	raw := c.GetReqHeader("If")
	if raw == "" {
		return nil, true, nil
	}
	hdr, err := ParseIfHeader(raw)
	if err != nil {
		return nil, false, ErrBadRequest.WithCause(err)
	}
	env := handlerIfEnv{ctx: c.Context(), h: h}
	return hdr, hdr.Eval(env, defaultResource), nil
}

// requireUnlocked enforces that either path carries no lock, or the
// request's If: header proves ownership of every lock covering it. It is
// the shared gate PUT/DELETE/MKCOL/PROPPATCH/MOVE/COPY all pass through
// before mutating a resource.
func (h *Handler) requireUnlocked(c *touka.Context, path string) error {
	if h.Locks == nil {
		return nil
	}
	l := h.Locks.PathLock(path)
	if l == nil {
		return nil
	}
	hdr, ok, err := h.evalIfHeader(c, h.href(path))
	if err != nil {
		return err
	}
	if !ok {
		// An If: header was present but failed to evaluate true: that is
		// a precondition failure, distinct from the no-header case below
		// where the lock itself is what blocks the request.
		return ErrPreconditionFail
	}
	submitted := map[string]bool{}
	for _, t := range hdr.SubmittedTokens() {
		submitted[t] = true
	}
	if h.Locks.PathHasOtherLocks(path, submitted) {
		return ErrLocked
	}
	return nil
}
