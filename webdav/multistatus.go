// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"sort"
)

// renderedProperty is a property ready to be written into a propstat
// block: its name, and either its literal inner XML (a live property's
// computed value, or a dead property's stored verbatim XML) or, for a
// PROPFIND with propname-only semantics, no value at all.
type renderedProperty struct {
	Name     PropName
	Inner    string
	NameOnly bool
}

func (p renderedProperty) marshal() string {
	local := p.Name.Local
	if p.Name.Space == "" || p.Name.Space == "DAV:" {
		if p.NameOnly {
			return fmt.Sprintf("<D:%s/>", local)
		}
		return fmt.Sprintf("<D:%s>%s</D:%s>", local, p.Inner, local)
	}
	// Non-DAV namespaces are declared inline on the element itself so the
	// document never depends on a globally stable prefix assignment.
	if p.NameOnly {
		return fmt.Sprintf(`<ns:%s xmlns:ns=%q/>`, local, p.Name.Space)
	}
	return fmt.Sprintf(`<ns:%s xmlns:ns=%q>%s</ns:%s>`, local, p.Name.Space, p.Inner, local)
}

// responseBuilder accumulates one <response> element: a resource href,
// its properties grouped by HTTP status, and/or a whole-resource status
// used when the request failed for that resource entirely (e.g. one
// entry inside a recursive DELETE's multistatus).
type responseBuilder struct {
	href       string
	byStatus   map[int][]renderedProperty
	resourceErr int // 0 if this response is a normal per-property report
}

func newResponseBuilder(href string) *responseBuilder {
	return &responseBuilder{href: href, byStatus: make(map[int][]renderedProperty)}
}

func (b *responseBuilder) addProperty(status int, p renderedProperty) {
	b.byStatus[status] = append(b.byStatus[status], p)
}

func (b *responseBuilder) render() string {
	var out string
	out += "<D:response>\n<D:href>" + xmlEscape(b.href) + "</D:href>\n"
	if b.resourceErr != 0 {
		out += fmt.Sprintf("<D:status>%s</D:status>\n", statusLine(b.resourceErr))
		out += "</D:response>\n"
		return out
	}
	statuses := make([]int, 0, len(b.byStatus))
	for s := range b.byStatus {
		statuses = append(statuses, s)
	}
	sort.Ints(statuses)
	for _, s := range statuses {
		out += "<D:propstat>\n<D:prop>\n"
		for _, p := range b.byStatus[s] {
			out += p.marshal() + "\n"
		}
		out += fmt.Sprintf("</D:prop>\n<D:status>%s</D:status>\n</D:propstat>\n", statusLine(s))
	}
	out += "</D:response>\n"
	return out
}

func statusLine(code int) string {
	text := http.StatusText(code)
	if t, ok := extStatusText[code]; ok {
		text = t
	}
	return fmt.Sprintf("HTTP/1.1 %d %s", code, text)
}

func xmlEscape(s string) string {
	var b []byte
	xb := xmlEscapeBuf(&b, s)
	return string(xb)
}

func xmlEscapeBuf(buf *[]byte, s string) []byte {
	w := xmlEscapeWriter{buf: buf}
	xml.EscapeText(&w, []byte(s))
	return *buf
}

type xmlEscapeWriter struct{ buf *[]byte }

func (w *xmlEscapeWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

// multistatusWriter assembles a complete 207 Multi-Status document body
// from per-resource responseBuilders.
type multistatusWriter struct {
	responses []*responseBuilder
}

func (m *multistatusWriter) add(b *responseBuilder) { m.responses = append(m.responses, b) }

func (m *multistatusWriter) bytes() []byte {
	out := xml.Header
	out += `<D:multistatus xmlns:D="DAV:">` + "\n"
	for _, r := range m.responses {
		out += r.render()
	}
	out += "</D:multistatus>\n"
	return []byte(out)
}

// writeMultistatus writes a 207 response with the accumulated document.
func writeMultistatus(w http.ResponseWriter, m *multistatusWriter) {
	body := m.bytes()
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(StatusMulti)
	w.Write(body)
}
