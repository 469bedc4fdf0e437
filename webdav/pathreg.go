// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	gopath "path"
	"strings"
)

// normalizePath cleans a request path into the canonical form PathState
// keys are stored under: always rooted, no trailing slash except for "/"
// itself, and "." segments collapsed.
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = gopath.Clean(p)
	return p
}

// isAncestor reports whether anc is anc itself or a directory containing
// desc, honoring the WebDAV Depth semantics: depth<0 means infinity.
func isAncestor(anc, desc string, depth int) (string, bool) {
	anc = normalizePath(anc)
	desc = normalizePath(desc)
	if anc == desc {
		return "", true
	}
	prefix := anc
	if prefix != "/" {
		prefix += "/"
	}
	if !strings.HasPrefix(desc, prefix) {
		return "", false
	}
	rel := strings.TrimPrefix(desc, prefix)
	if depth >= 0 {
		segs := strings.Count(rel, "/") + 1
		if segs > depth {
			return "", false
		}
	}
	return rel, true
}

// ancestors returns p and every ancestor directory of p, ordered root-first.
// PathState lookups that need to walk toward the root (checking for locks
// that cover a path via a collection lock above it) use this ordering so
// the outermost lock is always evaluated before a more specific one.
func ancestors(p string) []string {
	p = normalizePath(p)
	if p == "/" {
		return []string{"/"}
	}
	segs := strings.Split(strings.TrimPrefix(p, "/"), "/")
	out := make([]string, 0, len(segs)+1)
	out = append(out, "/")
	cur := ""
	for _, s := range segs {
		cur += "/" + s
		out = append(out, cur)
	}
	return out
}

// PathState tracks per-path bookkeeping shared by the lock manager: the
// ordered set of locks rooted at this exact path, and a reference count
// that keeps the entry alive while a request holds it. Entries with a zero
// refcount and no locks are pruned lazily the next time the registry walks
// past them.
type PathState struct {
	path     string
	locks    []*Lock
	refcount int
}

// PathRegistry owns the PathState entries for every path that currently
// has locks or an active reference. It never stores entries for paths
// without either, so its size tracks lock-manager activity, not the size
// of the served tree.
type PathRegistry struct {
	states map[string]*PathState
}

func newPathRegistry() *PathRegistry {
	return &PathRegistry{states: make(map[string]*PathState)}
}

// get returns the PathState for p, creating and ref-counting it if
// createRef is true. Callers that only need to read lock state without
// keeping the slot alive past the call should pass false.
func (r *PathRegistry) get(p string, createRef bool) *PathState {
	p = normalizePath(p)
	st, ok := r.states[p]
	if !ok {
		if !createRef {
			return nil
		}
		st = &PathState{path: p}
		r.states[p] = st
	}
	if createRef {
		st.refcount++
	}
	return st
}

// release drops a reference obtained via get(p, true), pruning the entry
// once both its refcount and lock list are empty.
func (r *PathRegistry) release(p string) {
	p = normalizePath(p)
	st, ok := r.states[p]
	if !ok {
		return
	}
	if st.refcount > 0 {
		st.refcount--
	}
	r.prune(st)
}

func (r *PathRegistry) prune(st *PathState) {
	if st.refcount == 0 && len(st.locks) == 0 {
		delete(r.states, st.path)
	}
}

// rename moves a PathState (and its locks) from oldPath to newPath. Used by
// MOVE so an in-flight lock follows its resource across the rename instead
// of being silently orphaned on the old path.
func (r *PathRegistry) rename(oldPath, newPath string) {
	oldPath = normalizePath(oldPath)
	newPath = normalizePath(newPath)
	st, ok := r.states[oldPath]
	if !ok {
		return
	}
	delete(r.states, oldPath)
	st.path = newPath
	for _, l := range st.locks {
		l.path = newPath
	}
	if existing, ok := r.states[newPath]; ok {
		existing.locks = append(existing.locks, st.locks...)
		existing.refcount += st.refcount
		r.states[newPath] = existing
		return
	}
	r.states[newPath] = st
}
