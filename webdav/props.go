// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strconv"
	"time"
)

// executableNS is the namespace Apache's mod_dav (and phodav, which this
// server's behavior is modeled on) uses for the non-standard "executable"
// live property.
const executableNS = "http://apache.org/dav/props/"

// DeadPropertySource is implemented by filesystem backends that can
// persist client-set properties outside the DAV: live-property set,
// typically as extended attributes. A backend without this capability
// (e.g. a purely virtual directory) simply has no dead properties.
type DeadPropertySource interface {
	ListDeadProps(ctx context.Context, name string) ([]PropName, error)
	GetDeadProp(ctx context.Context, name string, p PropName) (value string, ok bool, err error)
	SetDeadProp(ctx context.Context, name string, p PropName, value string) error
	RemoveDeadProp(ctx context.Context, name string, p PropName) error
}

// QuotaSource is implemented by filesystem backends that can report free
// and used space for the quota-available-bytes / quota-used-bytes
// properties. Reporting is read-only: nothing in this server enforces a
// quota, it only surfaces what the backend measures.
type QuotaSource interface {
	Quota(ctx context.Context, name string) (available, used uint64, err error)
}

// etagFor derives a quoted ETag from an ObjectInfo. It uses size and
// modification time, which is stable across requests and changes exactly
// when the resource's observable content does, matching the behavior
// every handler in this package assumes when comparing If: header etags.
func etagFor(info ObjectInfo) string {
	return fmt.Sprintf(`"%x-%x"`, info.ModTime().UnixNano(), info.Size())
}

// liveProperty computes the literal inner-XML value of a single DAV:
// (or executable-namespace) live property for a resource, reporting
// false if name isn't a live property this server knows about.
func liveProperty(ctx context.Context, fs FileSystem, path string, info ObjectInfo, name PropName) (string, bool) {
	if name.Space == executableNS {
		if name.Local != "executable" {
			return "", false
		}
		return executableValue(info), true
	}
	if name.Space != "" && name.Space != "DAV:" {
		return "", false
	}
	switch name.Local {
	case "resourcetype":
		if info.IsDir() {
			return "<D:collection/>", true
		}
		return "", true
	case "getcontentlength":
		if info.IsDir() {
			return "", false
		}
		return strconv.FormatInt(info.Size(), 10), true
	case "getlastmodified":
		// ISO 8601 UTC, not the RFC1123 form getlastmodified conventionally
		// uses elsewhere in the DAV ecosystem; this server's wire format
		// follows the behavior it was modeled on rather than the more
		// common httpdate rendering.
		return info.ModTime().UTC().Format(time.RFC3339), true
	case "creationdate":
		return info.ModTime().UTC().Format(http_TimeFormatRFC1123), true
	case "getcontenttype":
		if info.IsDir() {
			return "httpd/unix-directory", true
		}
		ct := mime.TypeByExtension(filepath.Ext(info.Name()))
		if ct == "" {
			ct = "application/octet-stream"
		}
		return ct, true
	case "getetag":
		if info.IsDir() {
			return "", false
		}
		return etagFor(info), true
	case "displayname":
		return info.Name(), true
	case "supportedlock":
		return `<D:lockentry><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockentry>` +
			`<D:lockentry><D:lockscope><D:shared/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockentry>`, true
	case "lockdiscovery":
		return "", true // filled in by the caller, which has lock-manager access
	case "quota-available-bytes", "quota-used-bytes":
		if qs, ok := fs.(QuotaSource); ok {
			avail, used, err := qs.Quota(ctx, path)
			if err == nil {
				if name.Local == "quota-available-bytes" {
					return strconv.FormatUint(avail, 10), true
				}
				return strconv.FormatUint(used, 10), true
			}
		}
		return "", false
	}
	return "", false
}

// executableValue reports whether info's owner-execute bit is set.
// Directories always report "F": this is deliberate, matching the
// reference implementation's mod_dav-derived behavior rather than an
// oversight, since a directory's execute bit controls traversal, not
// the "is this runnable" question the property exists to answer.
func executableValue(info ObjectInfo) string {
	if info.IsDir() {
		return "F"
	}
	if info.Mode()&0100 != 0 {
		return "T"
	}
	return "F"
}

const http_TimeFormatRFC1123 = "Mon, 02 Jan 2006 15:04:05 GMT"

// allLiveNames lists every live property name this server ever reports
// for allprop / propname enumeration. quota-* are included only when the
// backing FileSystem implements QuotaSource.
func allLiveNames(fs FileSystem, isDir bool) []PropName {
	names := []PropName{
		davProp("resourcetype"),
		davProp("getlastmodified"),
		davProp("creationdate"),
		davProp("getcontenttype"),
		davProp("displayname"),
		davProp("supportedlock"),
		davProp("lockdiscovery"),
		{Space: executableNS, Local: "executable"},
	}
	if !isDir {
		names = append(names, davProp("getcontentlength"), davProp("getetag"))
	}
	if _, ok := fs.(QuotaSource); ok {
		names = append(names, davProp("quota-available-bytes"), davProp("quota-used-bytes"))
	}
	return names
}
