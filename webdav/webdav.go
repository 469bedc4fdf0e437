// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.

// Package webdav implements an RFC 4918 WebDAV server: method handlers,
// a lock manager, a property engine covering both live and dead
// properties, an If: header evaluator, and a virtual directory tree that
// can graft real filesystem subtrees in at arbitrary points in the served
// URL space.
package webdav

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fenthope/reco"
	"github.com/infinite-iroha/toukadav"
)

// FileSystem is the storage backend a Handler serves. Implementations are
// expected to be safe for concurrent use; OSFS (a real directory subtree),
// VirtualTreeFS (a graft tree of other FileSystems) and MemFS (an
// in-memory tree) are the ones this package provides.
type FileSystem interface {
	Mkdir(ctx context.Context, name string, perm os.FileMode) error
	OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (File, error)
	RemoveAll(ctx context.Context, name string) error
	Rename(ctx context.Context, oldName, newName string) error
	Stat(ctx context.Context, name string) (ObjectInfo, error)
}

// File is a file-like object in a FileSystem: readable, writable, and
// seekable, since PUT requires streamed writes and GET requires
// range-capable reads via http.ServeContent.
type File interface {
	io.Closer
	io.Reader
	io.Seeker
	io.Writer
	Readdir(count int) ([]ObjectInfo, error)
	Stat() (ObjectInfo, error)
}

// ObjectInfo describes a file or directory's metadata, deliberately
// compatible with os.FileInfo so a FileSystem can return os.FileInfo
// values directly.
type ObjectInfo interface {
	Name() string
	Size() int64
	Mode() os.FileMode
	ModTime() time.Time
	IsDir() bool
	Sys() interface{}
}

// Handler serves WebDAV requests for a FileSystem under a URL prefix.
type Handler struct {
	// Prefix is the URL path prefix this handler is mounted under; it is
	// stripped from incoming request paths and re-added to hrefs in
	// responses.
	Prefix string
	// FileSystem is the storage backing this handler.
	FileSystem FileSystem
	// Locks is the lock manager. A nil Locks disables LOCK/UNLOCK
	// entirely (OPTIONS reports DAV: 1 only, and LOCK/UNLOCK answer 405).
	Locks *LockManager
	// ReadOnly rejects every state-changing method with 403, used by
	// chezdav's --readonly flag.
	ReadOnly bool
	// Logger receives structured diagnostics; nil disables logging.
	Logger *reco.Logger
}

// webdavMethods lists every HTTP method this handler answers, used both
// for registering routes on a touka.Engine and for the Allow header.
var webdavMethods = []string{
	"OPTIONS", "GET", "HEAD", "PUT", "DELETE", "MKCOL",
	"COPY", "MOVE", "PROPFIND", "PROPPATCH", "LOCK", "UNLOCK",
}

// NewHandler returns a Handler serving fs under prefix, with locking
// backed by locks (nil disables locking).
func NewHandler(prefix string, fs FileSystem, locks *LockManager) *Handler {
	return &Handler{Prefix: prefix, FileSystem: fs, Locks: locks}
}

func (h *Handler) logf(c *touka.Context, level string, format string, args ...any) {
	if h.Logger == nil {
		return
	}
	switch level {
	case "warn":
		h.Logger.Warnf(format, args...)
	case "error":
		h.Logger.Errorf(format, args...)
	default:
		h.Logger.Infof(format, args...)
	}
}

func (h *Handler) stripPrefix(p string) string {
	if h.Prefix == "" || h.Prefix == "/" {
		return p
	}
	trimmed := strings.TrimPrefix(p, h.Prefix)
	if trimmed == p {
		return p
	}
	if trimmed == "" {
		return "/"
	}
	return trimmed
}

func (h *Handler) href(p string) string {
	if h.Prefix == "" || h.Prefix == "/" {
		return p
	}
	if p == "/" {
		return h.Prefix + "/"
	}
	return h.Prefix + p
}

// ServeTouka dispatches a request to the appropriate method handler. It
// implements the dispatcher contract from the design this server follows:
// paths must be rooted and fragment-free, unknown methods answer 501, and
// every handler receives an already-prefix-stripped, normalized path.
func (h *Handler) ServeTouka(c *touka.Context) {
	raw := c.Request.URL.Path
	if !strings.HasPrefix(raw, "/") {
		c.Status(http.StatusBadRequest)
		return
	}
	if c.Request.URL.Fragment != "" {
		c.Status(http.StatusBadRequest)
		return
	}

	reqPath := normalizePath(h.stripPrefix(raw))
	c.Set("webdav_path", reqPath)

	if h.ReadOnly && isMutatingMethod(c.Request.Method) {
		c.Status(http.StatusForbidden)
		return
	}

	switch c.Request.Method {
	case "OPTIONS":
		h.handleOptions(c)
	case "GET", "HEAD":
		h.handleGetHead(c, reqPath)
	case "PUT":
		h.handlePut(c, reqPath)
	case "DELETE":
		h.handleDelete(c, reqPath)
	case "MKCOL":
		h.handleMkcol(c, reqPath)
	case "COPY":
		h.handleCopy(c, reqPath)
	case "MOVE":
		h.handleMove(c, reqPath)
	case "PROPFIND":
		h.handlePropfind(c, reqPath)
	case "PROPPATCH":
		h.handleProppatch(c, reqPath)
	case "LOCK":
		h.handleLock(c, reqPath)
	case "UNLOCK":
		h.handleUnlock(c, reqPath)
	default:
		c.Status(http.StatusNotImplemented)
	}
}

func isMutatingMethod(m string) bool {
	switch m {
	case "PUT", "DELETE", "MKCOL", "COPY", "MOVE", "PROPPATCH", "LOCK", "UNLOCK":
		return true
	}
	return false
}

func (h *Handler) handleOptions(c *touka.Context) {
	allow := strings.Join(webdavMethods, ", ")
	dav := "1"
	if h.Locks != nil {
		dav += ", 2"
	}
	c.SetHeader("Allow", allow)
	c.SetHeader("DAV", dav)
	c.SetHeader("MS-Author-Via", "DAV")
	c.Status(http.StatusOK)
}

// writeError maps a webdav Error to its HTTP status and logs its cause.
func (h *Handler) writeError(c *touka.Context, err error) {
	e := asError(err)
	if e.Cause() != nil {
		h.logf(c, "error", "webdav %s %s: %s", c.Request.Method, c.Request.URL.Path, e.Cause())
	}
	c.Status(e.HTTPCode())
}

func isVirtual(fs FileSystem, p string) bool {
	vt, ok := fs.(*VirtualTreeFS)
	return ok && vt.IsVirtual(p)
}
