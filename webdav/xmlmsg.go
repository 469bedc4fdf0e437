// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

var (
	errMissingLockType    = errors.New("lockinfo: missing locktype/write")
	errAmbiguousLockScope = errors.New("lockinfo: must specify exactly one of lockscope/exclusive or lockscope/shared")
)

// PropName identifies a WebDAV property by namespace URI and local name.
// DAV: live properties and arbitrary client-set dead properties are both
// addressed this way.
type PropName struct {
	Space string
	Local string
}

func (p PropName) xmlName() xml.Name { return xml.Name{Space: p.Space, Local: p.Local} }

// davProp builds the DAV: namespace's well-known property names.
func davProp(local string) PropName { return PropName{Space: "DAV:", Local: local} }

// xattrKey renders a PropName as the string form used for xattr encoding:
// "xattr::<ns>#<local>" for a namespace other than DAV:, else
// "xattr::<local>" (DAV: and empty namespaces share the bare form).
func (p PropName) xattrKey() string {
	if p.Space == "" || p.Space == "DAV:" {
		return "xattr::" + p.Local
	}
	return "xattr::" + p.Space + "#" + p.Local
}

// parsePropName reverses xattrKey.
func parsePropName(key string) (PropName, bool) {
	const prefix = "xattr::"
	if !strings.HasPrefix(key, prefix) {
		return PropName{}, false
	}
	rest := key[len(prefix):]
	if i := strings.LastIndex(rest, "#"); i >= 0 {
		return PropName{Space: rest[:i], Local: rest[i+1:]}, true
	}
	return PropName{Local: rest}, true
}

// rawElement is a single arbitrary property element, decoded with its
// inner XML preserved verbatim so dead property values round-trip
// byte-for-byte and live properties can be built up programmatically.
type rawElement struct {
	XMLName xml.Name
	Attr    []xml.Attr `xml:",any,attr"`
	Inner   string     `xml:",innerxml"`
}

type rawProp struct {
	XMLName xml.Name     `xml:"DAV: prop"`
	Items   []rawElement `xml:",any"`
}

type rawPropfind struct {
	XMLName  xml.Name  `xml:"DAV: propfind"`
	AllProp  *struct{} `xml:"DAV: allprop"`
	PropName *struct{} `xml:"DAV: propname"`
	Prop     *rawProp  `xml:"DAV: prop"`
}

// PropfindRequest is the parsed form of a PROPFIND body: exactly one of
// AllProp, PropNameOnly, or a non-empty Names is meaningful, following the
// precedence given in RFC 4918 §9.1 (an empty or missing body means
// allprop).
type PropfindRequest struct {
	AllProp      bool
	PropNameOnly bool
	Names        []PropName
}

// ParsePropfind parses a PROPFIND request body. An empty body (or one that
// fails to decode because the client sent none at all) is treated as
// requesting all properties, matching RFC 4918's default behavior.
func ParsePropfind(r io.Reader) (PropfindRequest, error) {
	var pf rawPropfind
	if err := xml.NewDecoder(r).Decode(&pf); err != nil {
		if err == io.EOF {
			return PropfindRequest{AllProp: true}, nil
		}
		return PropfindRequest{}, ErrBadRequest.WithCause(err)
	}
	req := PropfindRequest{
		AllProp:      pf.AllProp != nil,
		PropNameOnly: pf.PropName != nil,
	}
	if pf.Prop != nil {
		for _, it := range pf.Prop.Items {
			req.Names = append(req.Names, PropName{Space: it.XMLName.Space, Local: it.XMLName.Local})
		}
	}
	if !req.AllProp && !req.PropNameOnly && len(req.Names) == 0 {
		req.AllProp = true
	}
	return req, nil
}

// PropertyUpdate is a single set-or-remove instruction from a PROPPATCH
// request body, in request order (order matters: a later instruction for
// the same property in the same body overrides an earlier one).
type PropertyUpdate struct {
	Name   PropName
	Remove bool
	Value  string // raw inner XML; empty and irrelevant when Remove is true
}

// ParseProppatch parses a PROPPATCH request body, preserving instruction
// order the way the body was written, since later set/remove directives
// for the same name must win over earlier ones.
func ParseProppatch(r io.Reader) ([]PropertyUpdate, error) {
	dec := xml.NewDecoder(r)
	if _, err := findElement(dec, "propertyupdate", ""); err != nil {
		return nil, ErrBadRequest.WithCause(err)
	}

	var updates []PropertyUpdate
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, ErrBadRequest.WithCause(err)
		}
		if ee, ok := tok.(xml.EndElement); ok {
			if ee.Name.Local == "propertyupdate" {
				break
			}
			continue
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Local != "set" && se.Name.Local != "remove" {
			dec.Skip()
			continue
		}
		remove := se.Name.Local == "remove"

		propTok, err := findElement(dec, "prop", se.Name.Local)
		if err != nil {
			return nil, ErrBadRequest.WithCause(err)
		}
		if propTok == nil {
			continue
		}
		var p rawProp
		if err := dec.DecodeElement(&p, propTok); err != nil {
			return nil, ErrBadRequest.WithCause(err)
		}
		for _, it := range p.Items {
			updates = append(updates, PropertyUpdate{
				Name:   PropName{Space: it.XMLName.Space, Local: it.XMLName.Local},
				Remove: remove,
				Value:  it.Inner,
			})
		}
	}
	return updates, nil
}

// findElement scans forward in dec until it finds a start element named
// name, returns (nil, nil) if it instead hits an end element named halt,
// or propagates any decode error (including io.EOF).
func findElement(dec *xml.Decoder, name, halt string) (*xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			if se.Name.Local == name {
				return &se, nil
			}
			dec.Skip()
			continue
		}
		if ee, ok := tok.(xml.EndElement); ok && halt != "" && ee.Name.Local == halt {
			return nil, nil
		}
	}
}

// rawLockInfo mirrors the lockinfo request body for LOCK.
type rawLockInfo struct {
	XMLName   xml.Name  `xml:"DAV: lockinfo"`
	Exclusive *struct{} `xml:"DAV: lockscope>exclusive"`
	Shared    *struct{} `xml:"DAV: lockscope>shared"`
	Write     *struct{} `xml:"DAV: locktype>write"`
	Owner     *rawElement `xml:"DAV: owner"`
}

// LockRequest is the parsed form of a LOCK request body.
type LockRequest struct {
	Scope LockScope
	Owner string
}

// ParseLockBody parses a lockinfo XML body. An empty body is a refresh
// request, signalled by io.EOF.
func ParseLockBody(r io.Reader) (LockRequest, error) {
	var li rawLockInfo
	if err := xml.NewDecoder(r).Decode(&li); err != nil {
		return LockRequest{}, err
	}
	if li.Write == nil {
		return LockRequest{}, ErrBadRequest.WithCause(errMissingLockType)
	}
	req := LockRequest{}
	if li.Owner != nil {
		req.Owner = li.Owner.Inner
	}
	switch {
	case li.Exclusive != nil && li.Shared == nil:
		req.Scope = ScopeExclusive
	case li.Shared != nil && li.Exclusive == nil:
		req.Scope = ScopeShared
	default:
		return LockRequest{}, ErrBadRequest.WithCause(errAmbiguousLockScope)
	}
	return req, nil
}
