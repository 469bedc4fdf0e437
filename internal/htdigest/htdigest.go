// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.

// Package htdigest implements RFC 2617 HTTP Digest authentication against
// an Apache htdigest file: lines of "user:realm:HA1", where HA1 is the
// precomputed MD5 of "user:realm:password". No third-party library in the
// reference pack covers htdigest parsing or RFC 2617 digests, so this is
// built directly on crypto/md5, which is what the scheme itself mandates.
package htdigest

import (
	"bufio"
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
)

// File holds the user -> HA1 map for a single realm, as produced by the
// apache htdigest tool.
type File struct {
	Realm string
	ha1   map[string]string
}

// Parse reads an htdigest file. Entries for a realm other than realm are
// ignored, matching a server that only ever announces one realm.
func Parse(r io.Reader, realm string) (*File, error) {
	f := &File{Realm: realm, ha1: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		user, lineRealm, ha1 := parts[0], parts[1], parts[2]
		if lineRealm != realm {
			continue
		}
		f.ha1[user] = ha1
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("htdigest: %w", err)
	}
	return f, nil
}

func (f *File) lookup(user string) (string, bool) {
	ha1, ok := f.ha1[user]
	return ha1, ok
}

// nonceTracker rejects replayed nonce/nc pairs. A production-grade server
// would also expire nonces by age; here a nonce simply lives as long as
// the process, which is enough for the single-operator use this CLI is
// built for.
type nonceTracker struct {
	mu   sync.Mutex
	seen map[string]uint64 // nonce -> highest nc observed
}

func newNonceTracker() *nonceTracker {
	return &nonceTracker{seen: make(map[string]uint64)}
}

func (t *nonceTracker) issue() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	nonce := hex.EncodeToString(b)
	t.mu.Lock()
	t.seen[nonce] = 0
	t.mu.Unlock()
	return nonce
}

func (t *nonceTracker) accept(nonce string, nc uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.seen[nonce]
	if !ok || nc <= last {
		return false
	}
	t.seen[nonce] = nc
	return true
}

// Validator checks Authorization: Digest headers against a File.
type Validator struct {
	file   *File
	nonces *nonceTracker
}

// NewValidator returns a Validator for the given htdigest file.
func NewValidator(file *File) *Validator {
	return &Validator{file: file, nonces: newNonceTracker()}
}

// Challenge returns the value of a WWW-Authenticate: Digest header
// offering a fresh nonce.
func (v *Validator) Challenge() string {
	nonce := v.nonces.issue()
	return fmt.Sprintf(`Digest realm="%s", qop="auth", nonce="%s", algorithm=MD5`, v.file.Realm, nonce)
}

// digestParams holds the parsed fields of an Authorization: Digest header.
type digestParams struct {
	username, realm, nonce, uri, response, qop, nc, cnonce string
}

func parseAuthorization(header string) (digestParams, bool) {
	const prefix = "Digest "
	if !strings.HasPrefix(header, prefix) {
		return digestParams{}, false
	}
	fields := make(map[string]string)
	for _, part := range splitDigestFields(header[len(prefix):]) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		fields[key] = val
	}
	return digestParams{
		username: fields["username"],
		realm:    fields["realm"],
		nonce:    fields["nonce"],
		uri:      fields["uri"],
		response: fields["response"],
		qop:      fields["qop"],
		nc:       fields["nc"],
		cnonce:   fields["cnonce"],
	}, fields["username"] != "" && fields["response"] != ""
}

// splitDigestFields splits a comma-separated Digest field list without
// breaking on commas embedded inside quoted values.
func splitDigestFields(s string) []string {
	var parts []string
	var inQuotes bool
	start := 0
	for i, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	parts = append(parts, strings.TrimSpace(s[start:]))
	return parts
}

// Verify checks an Authorization header against method and the configured
// file, returning whether the response digest matches.
func (v *Validator) Verify(authorization, method string) bool {
	p, ok := parseAuthorization(authorization)
	if !ok || p.realm != v.file.Realm {
		return false
	}
	ha1, ok := v.file.lookup(p.username)
	if !ok {
		return false
	}
	var nc uint64
	if p.qop != "" {
		if _, err := fmt.Sscanf(p.nc, "%x", &nc); err != nil {
			return false
		}
		if !v.nonces.accept(p.nonce, nc) {
			return false
		}
	}

	ha2 := md5Hex(method + ":" + p.uri)
	var expected string
	if p.qop == "auth" {
		expected = md5Hex(strings.Join([]string{ha1, p.nonce, p.nc, p.cnonce, p.qop, ha2}, ":"))
	} else {
		expected = md5Hex(strings.Join([]string{ha1, p.nonce, ha2}, ":"))
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(p.response)) == 1
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
