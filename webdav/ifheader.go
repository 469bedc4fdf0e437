// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"fmt"
	"strings"
	"unicode"
)

// ifEnv is the evaluation environment a Condition needs: the current ETag
// of a resource, and whether a given lock token currently locks it.
type ifEnv interface {
	etag(resource string) string
	locked(resource, token string) bool
}

// ifCondition is a single (Not)? (state-token | quoted-etag) term.
type ifCondition struct {
	not   bool
	state string
	etag  string
}

func (c ifCondition) eval(e ifEnv, resource string) bool {
	var res bool
	if c.state != "" {
		res = e.locked(resource, c.state)
	} else {
		res = e.etag(resource) == c.etag
	}
	if c.not {
		res = !res
	}
	return res
}

// ifList is a parenthesized AND of conditions, optionally tagged with a
// resource URI (a "tagged-list" production in RFC 4918's If grammar).
type ifList struct {
	resource   string
	conditions []ifCondition
}

func (l ifList) eval(e ifEnv, defaultResource string) bool {
	r := defaultResource
	if l.resource != "" {
		r = l.resource
	}
	for _, c := range l.conditions {
		if !c.eval(e, r) {
			return false
		}
	}
	return true
}

// IfHeader is a parsed If: header: an OR of ifLists, each itself an AND of
// conditions, per RFC 4918 §10.4's grammar.
type IfHeader struct {
	lists []ifList
}

// Eval reports whether the header is satisfied for defaultResource.
func (h *IfHeader) Eval(e ifEnv, defaultResource string) bool {
	if h == nil || len(h.lists) == 0 {
		return true
	}
	for _, l := range h.lists {
		if l.eval(e, defaultResource) {
			return true
		}
	}
	return false
}

// SubmittedTokens returns every state-token mentioned anywhere in the
// header, whether or not the list it appears in ultimately evaluated true.
//
// Decision: a client presenting several alternative lists (e.g. "I hold
// either token A or token B") is asserting ownership of every token it
// names, not only the one whose list happens to match the current ETag.
// The "does the requester hold some other lock on this path" check used by
// PUT/DELETE/MOVE therefore must not penalize a client for a token that
// appears only in a list that failed for an unrelated reason (a stale
// ETag condition ANDed alongside it). All tokens across all lists are
// accumulated for that check.
func (h *IfHeader) SubmittedTokens() []string {
	if h == nil {
		return nil
	}
	var out []string
	for _, l := range h.lists {
		for _, c := range l.conditions {
			if c.state != "" {
				out = append(out, c.state)
			}
		}
	}
	return out
}

const ifNotToken = -2
const ifEOF = -1

type ifLexer struct {
	input []rune
	pos   int
	last  rune
}

func newIfLexer(s string) *ifLexer {
	return &ifLexer{input: []rune(s), pos: -1}
}

func (l *ifLexer) at(offset int) rune {
	p := l.pos + offset
	if p < 0 || p >= len(l.input) {
		return ifEOF
	}
	return l.input[p]
}

func (l *ifLexer) skipSpace() {
	for unicode.IsSpace(l.at(1)) {
		l.pos++
	}
}

func (l *ifLexer) peek() rune {
	l.skipSpace()
	p := l.at(1)
	if p == 'N' && l.at(2) == 'o' && l.at(3) == 't' {
		p = ifNotToken
	}
	l.last = p
	return p
}

func (l *ifLexer) consume() {
	switch {
	case l.last == ifNotToken:
		l.pos += 3
	case l.last != ifEOF:
		l.pos++
	}
}

func (l *ifLexer) text(r rune) string {
	if r == ifNotToken {
		return "Not"
	}
	return string(r)
}

func (l *ifLexer) consumeWhile(accept func(rune) bool) (string, error) {
	var b strings.Builder
	for {
		v := l.at(1)
		if v == ifEOF {
			return b.String(), fmt.Errorf("unexpected end of If header")
		}
		if !accept(v) {
			return b.String(), nil
		}
		l.consume()
		b.WriteString(l.text(v))
	}
}

func (l *ifLexer) consumeUntil(stop rune) (string, error) {
	s, err := l.consumeWhile(func(r rune) bool { return r != stop })
	if err != nil {
		return s, err
	}
	l.consume() // eat stop
	return s, nil
}

func parseIfCondition(l *ifLexer) (ifCondition, error) {
	var c ifCondition
	tok := l.peek()
	if tok == ifNotToken {
		c.not = true
		l.consume()
		tok = l.peek()
	}
	if tok == '[' {
		l.consume()
		etag, err := l.consumeUntil(']')
		c.etag = strings.Trim(etag, `"`)
		if etag == "" {
			return c, fmt.Errorf("empty etag in If header")
		}
		return c, err
	}
	tok2, err := l.consumeWhile(func(r rune) bool { return r != ')' && r != ' ' })
	if len(tok2) >= 2 && tok2[0] == '<' {
		tok2 = tok2[1 : len(tok2)-1]
	}
	c.state = tok2
	if tok2 == "" {
		return c, fmt.Errorf("empty condition in If header")
	}
	return c, err
}

func parseIfList(l *ifLexer) (ifList, error) {
	var res ifList
	tok := l.peek()
	if tok == '<' {
		l.consume()
		r, err := l.consumeUntil('>')
		res.resource = r
		if err != nil || r == "" {
			return res, fmt.Errorf("bad resource tag in If header: %w", err)
		}
		tok = l.peek()
	}
	if tok != '(' {
		return res, fmt.Errorf("expected '(' in If header, got %q", tok)
	}
	l.consume()
	tok = l.peek()
	for tok != ')' && tok != ifEOF {
		c, err := parseIfCondition(l)
		res.conditions = append(res.conditions, c)
		if err != nil {
			return res, fmt.Errorf("bad condition in If header: %w", err)
		}
		tok = l.peek()
	}
	if tok != ')' {
		return res, fmt.Errorf("unterminated list in If header")
	}
	l.consume()
	return res, nil
}

// ParseIfHeader parses the value of an If: header per RFC 4918 §10.4.
func ParseIfHeader(s string) (*IfHeader, error) {
	h := &IfHeader{}
	l := newIfLexer(s)
	for {
		if l.peek() == ifEOF {
			break
		}
		list, err := parseIfList(l)
		h.lists = append(h.lists, list)
		if err != nil {
			return h, err
		}
	}
	return h, nil
}
