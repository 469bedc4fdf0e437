// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"net/http"
	"os"
	gopath "path"
	"sync"

	"github.com/infinite-iroha/toukadav"
	"golang.org/x/sync/errgroup"
)

// deleteWorkerLimit bounds how many children of a collection are deleted
// concurrently during a recursive DELETE.
const deleteWorkerLimit = 8

// handleDelete removes reqPath, recursing into collections. A failure
// partway through a recursive delete is reported as a 207 Multi-Status
// naming every resource that could not be removed (and why); a clean
// delete answers 204 with no body, per RFC 4918 §9.6.2.
func (h *Handler) handleDelete(c *touka.Context, reqPath string) {
	if _, err := h.FileSystem.Stat(c.Context(), reqPath); err != nil {
		h.writeError(c, statError(err))
		return
	}

	var mu sync.Mutex
	var failures []*responseBuilder
	h.deleteTree(c, reqPath, &mu, &failures)

	if len(failures) == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	ms := &multistatusWriter{}
	for _, f := range failures {
		ms.add(f)
	}
	writeMultistatus(c.Writer, ms)
}

// deleteTree visits reqPath pre-order: it checks for a blocking lock (and
// aborts that whole subtree, recording one failure) before descending, so
// a lock anywhere in a collection stops deletion of everything beneath
// it rather than leaving a half-deleted tree with no record of why. A
// collection's children are removed concurrently on a bounded worker
// pool; failures accumulate under mu since goroutines share the slice.
func (h *Handler) deleteTree(c *touka.Context, p string, mu *sync.Mutex, failures *[]*responseBuilder) {
	fail := func(code int) {
		mu.Lock()
		b := newResponseBuilder(h.href(p))
		b.resourceErr = code
		*failures = append(*failures, b)
		mu.Unlock()
	}

	if err := h.requireUnlocked(c, p); err != nil {
		fail(asError(err).HTTPCode())
		return
	}

	info, err := h.FileSystem.Stat(c.Context(), p)
	if err != nil {
		fail(asError(statError(err)).HTTPCode())
		return
	}

	if info.IsDir() {
		dir, err := h.FileSystem.OpenFile(c.Context(), p, os.O_RDONLY, 0)
		if err != nil {
			fail(asError(statError(err)).HTTPCode())
			return
		}
		children, err := dir.Readdir(0)
		dir.Close()
		if err != nil {
			fail(http.StatusInternalServerError)
			return
		}
		var g errgroup.Group
		g.SetLimit(deleteWorkerLimit)
		for _, ch := range children {
			ch := ch
			g.Go(func() error {
				h.deleteTree(c, gopath.Join(p, ch.Name()), mu, failures)
				return nil
			})
		}
		g.Wait()
	}

	// If any descendant failed, leave this collection in place: removing
	// it would silently discard the record of what survived underneath.
	if info.IsDir() {
		mu.Lock()
		blocked := false
		for _, f := range *failures {
			fp := h.stripPrefix(f.href)
			if _, ok := isAncestor(p, fp, DepthInfinity); ok {
				blocked = true
				break
			}
		}
		mu.Unlock()
		if blocked {
			return
		}
	}

	if err := h.FileSystem.RemoveAll(c.Context(), p); err != nil {
		fail(asError(statError(err)).HTTPCode())
	}
}
