// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"bytes"
	"fmt"
	"html"
	"net/http"
	"os"
	"path"
	"sort"

	"github.com/infinite-iroha/toukadav"
)

// handleGetHead serves GET and HEAD. A directory request renders an HTML
// listing of its children sorted byte-wise by name; a regular file is
// streamed through http.ServeContent so Range requests and conditional
// GETs (If-Modified-Since, If-None-Match) are handled for free.
func (h *Handler) handleGetHead(c *touka.Context, reqPath string) {
	info, err := h.FileSystem.Stat(c.Context(), reqPath)
	if err != nil {
		h.writeError(c, statError(err))
		return
	}

	if info.IsDir() {
		h.serveDirectoryListing(c, reqPath)
		return
	}

	file, err := h.FileSystem.OpenFile(c.Context(), reqPath, os.O_RDONLY, 0)
	if err != nil {
		h.writeError(c, statError(err))
		return
	}
	defer file.Close()

	c.Writer.Header().Set("ETag", etagFor(info))
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), file)
}

func (h *Handler) serveDirectoryListing(c *touka.Context, reqPath string) {
	dir, err := h.FileSystem.OpenFile(c.Context(), reqPath, os.O_RDONLY, 0)
	if err != nil {
		h.writeError(c, statError(err))
		return
	}
	defer dir.Close()

	children, err := dir.Readdir(0)
	if err != nil {
		h.writeError(c, ErrInternal.WithCause(err))
		return
	}
	names := make([]string, len(children))
	isDir := make(map[string]bool, len(children))
	for i, ch := range children {
		names[i] = ch.Name()
		isDir[ch.Name()] = ch.IsDir()
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html><head><title>Index of ")
	buf.WriteString(html.EscapeString(reqPath))
	buf.WriteString("</title></head><body>\n<h1>Index of ")
	buf.WriteString(html.EscapeString(reqPath))
	buf.WriteString("</h1>\n<ul>\n")
	if reqPath != "/" {
		buf.WriteString(`<li><a href="../">../</a></li>` + "\n")
	}
	for _, n := range names {
		href := n
		if isDir[n] {
			href += "/"
		}
		fmt.Fprintf(&buf, `<li><a href="%s">%s</a></li>`+"\n", html.EscapeString(path.Join(".", href)), html.EscapeString(href))
	}
	buf.WriteString("</ul>\n</body></html>\n")

	c.Writer.Header().Set("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	c.Writer.Write(buf.Bytes())
}

// statError maps a filesystem-layer error (typically os.* sentinel
// errors, or a webdav.Error already) to the taxonomy in errors.go.
func statError(err error) error {
	if e, ok := err.(Error); ok {
		return e
	}
	if os.IsNotExist(err) {
		return ErrNotFound.WithCause(err)
	}
	if os.IsPermission(err) {
		return ErrForbidden.WithCause(err)
	}
	return ErrInternal.WithCause(err)
}
