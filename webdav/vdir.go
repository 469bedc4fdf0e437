// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"context"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// VirtualDir is a node in the tree of URL-space directories that exist
// purely to let a real filesystem subtree be grafted in at an arbitrary
// position, independent of that filesystem's own layout. A request for
// "/share/docs/readme.txt" might resolve through two purely virtual
// directories ("share", "docs" themselves unmapped) before reaching a
// grafted real root.
//
// The original C implementation this tree is modeled on keeps a weak
// reference from child to parent so the parent->child strong references
// can form a tree without creating a reference cycle that the manual
// refcounting GObject runtime could never collect. Go's garbage collector
// reclaims cycles natively, so parent is an ordinary pointer here; nothing
// about the tree's shape depends on the reference being weak.
type VirtualDir struct {
	mu       sync.RWMutex
	name     string
	parent   *VirtualDir
	children map[string]*VirtualDir

	// realRoot and realFS are set when this node is the graft point for a
	// real filesystem subtree. A nil realFS means this node is purely
	// virtual: it exists only to hold children.
	realRoot string
	realFS   FileSystem

	// dummy is true for a node that was created implicitly to hold a
	// grafted descendant (e.g. grafting "/a/b/c" creates dummy nodes for
	// "a" and "a/b" if they don't already exist). A dummy node that loses
	// its last child is pruned; a node explicitly grafted keeps existing
	// even with no children.
	dummy bool
}

// NewVirtualRoot returns the root of a fresh virtual directory tree.
func NewVirtualRoot() *VirtualDir {
	return &VirtualDir{name: "/", children: make(map[string]*VirtualDir)}
}

func splitSegments(p string) []string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}

// Graft attaches fs, rooted at realRoot, at urlPath in the virtual tree,
// creating any missing intermediate directories as dummy nodes. Grafting
// over an existing graft point replaces it.
func (v *VirtualDir) Graft(urlPath, realRoot string, fs FileSystem) {
	v.mu.Lock()
	defer v.mu.Unlock()

	node := v.ensurePathLocked(splitSegments(urlPath))
	node.realRoot = realRoot
	node.realFS = fs
	node.dummy = false
}

// Ungraft removes the real-filesystem mapping at urlPath, leaving it as a
// purely virtual (dummy) node if it still has children, or pruning it
// entirely up to the nearest ancestor that has other children or its own
// graft.
func (v *VirtualDir) Ungraft(urlPath string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	node := v.lookupLocked(splitSegments(urlPath))
	if node == nil || node == v {
		return
	}
	node.realFS = nil
	node.realRoot = ""
	node.dummy = true
	node.pruneUpward()
}

func (v *VirtualDir) ensurePathLocked(segs []string) *VirtualDir {
	cur := v
	for _, s := range segs {
		if cur.children == nil {
			cur.children = make(map[string]*VirtualDir)
		}
		child, ok := cur.children[s]
		if !ok {
			child = &VirtualDir{name: s, parent: cur, dummy: true}
			cur.children[s] = child
		}
		cur = child
	}
	return cur
}

func (v *VirtualDir) lookupLocked(segs []string) *VirtualDir {
	cur := v
	for _, s := range segs {
		if cur.children == nil {
			return nil
		}
		child, ok := cur.children[s]
		if !ok {
			return nil
		}
		cur = child
	}
	return cur
}

// pruneUpward removes a dummy node with no real mapping and no children,
// then repeats for its parent, stopping at the first node that should
// survive (has children, or is itself a graft point, or is the root).
func (v *VirtualDir) pruneUpward() {
	cur := v
	for cur != nil && cur.parent != nil {
		if !cur.dummy || cur.realFS != nil || len(cur.children) > 0 {
			return
		}
		parent := cur.parent
		delete(parent.children, cur.name)
		cur = parent
	}
}

// resolution describes where a lookup landed. node is set whenever the
// exact path is represented by a node in the virtual tree (even if that
// node is also a graft point); fs is set whenever the path resolves into
// a grafted real filesystem, with subPath relative to that filesystem's
// root. Both can be set at once: a node that is itself a graft point and
// also has virtual children (most commonly the root) needs both halves
// merged at enumeration time.
type resolution struct {
	node    *VirtualDir
	fs      FileSystem
	subPath string // path within fs, valid only when fs != nil
}

// merges reports whether enumerating this resolution must combine the
// virtual node's own children with its graft's real entries, rather than
// just one or the other.
func (r resolution) merges() bool {
	return r.node != nil && r.fs != nil && r.node.hasChildren()
}

// resolve walks from v to urlPath through the virtual tree only as far as
// it is explicitly represented there. If the whole path is known to the
// virtual tree, the landing node wins outright: a plain virtual node (no
// graft of its own) is never shadowed by an ancestor's real-root mapping,
// since the virtual tree structurally declares that subtree's shape (this
// is what makes "/virtual" resolve to a synthetic directory rather than
// falling through to the root graft that knows nothing about it). Only
// once the walk runs past the end of what the virtual tree knows about a
// path does the deepest graft point reached so far (if any) take over for
// the remainder — so a graft nested inside another graft still shadows
// the outer one for paths beneath it, and an ungrafted leaf of the real
// root still resolves through the root's own mapping.
func (v *VirtualDir) resolve(urlPath string) resolution {
	v.mu.RLock()
	defer v.mu.RUnlock()

	segs := splitSegments(urlPath)
	cur := v
	consumed := 0
	for _, s := range segs {
		if cur.children == nil {
			break
		}
		child, ok := cur.children[s]
		if !ok {
			break
		}
		cur = child
		consumed++
	}

	if consumed == len(segs) {
		if cur.realFS != nil {
			return resolution{node: cur, fs: cur.realFS, subPath: "/"}
		}
		return resolution{node: cur}
	}

	if cur.realFS != nil {
		sub := "/" + strings.Join(segs[consumed:], "/")
		return resolution{fs: cur.realFS, subPath: sub}
	}
	return resolution{}
}

// hasChildren reports whether v has any virtual children, used to decide
// whether a graft point also needs its enumeration merged with virtual
// entries.
func (v *VirtualDir) hasChildren() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.children) > 0
}

// childInfos returns v's virtual children as ObjectInfo, sorted by name.
func (v *VirtualDir) childInfos() []ObjectInfo {
	v.mu.RLock()
	defer v.mu.RUnlock()

	names := make([]string, 0, len(v.children))
	for n := range v.children {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]ObjectInfo, 0, len(names))
	for _, n := range names {
		out = append(out, vdirInfo{name: n})
	}
	return out
}

// vdirInfo adapts a virtual directory node to ObjectInfo: it is always a
// directory with zero size, and reports a zero mod time (no creation time
// is recorded for virtual nodes).
type vdirInfo struct {
	name    string
	modTime time.Time
}

func (i vdirInfo) Name() string       { return i.name }
func (i vdirInfo) Size() int64        { return 0 }
func (i vdirInfo) Mode() os.FileMode  { return os.ModeDir | 0755 }
func (i vdirInfo) ModTime() time.Time { return i.modTime }
func (i vdirInfo) IsDir() bool        { return true }
func (i vdirInfo) Sys() interface{}   { return nil }

// VirtualTreeFS is a FileSystem that serves a tree of grafted real
// filesystems stitched together by purely virtual directories. Every
// operation resolves through the tree first: if the path lands inside a
// graft, the call is delegated verbatim to that graft's FileSystem with
// the path rewritten relative to its root; otherwise it is answered (or
// rejected) directly against the virtual tree, since virtual directories
// have no backing store of their own beyond their existence.
type VirtualTreeFS struct {
	root *VirtualDir
}

// NewVirtualTreeFS wraps root as a servable FileSystem.
func NewVirtualTreeFS(root *VirtualDir) *VirtualTreeFS {
	return &VirtualTreeFS{root: root}
}

func (v *VirtualTreeFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	r := v.root.resolve(name)
	if r.fs != nil {
		return r.fs.Mkdir(ctx, r.subPath, perm)
	}
	// MKCOL under a purely virtual path can never succeed: virtual
	// directories are synthetic and read-only with respect to structural
	// change, only grafting changes their shape.
	return ErrForbidden
}

func (v *VirtualTreeFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (File, error) {
	r := v.root.resolve(name)
	if r.fs != nil {
		f, err := r.fs.OpenFile(ctx, r.subPath, flag, perm)
		if err != nil {
			return nil, err
		}
		if r.merges() {
			return &mergedDirFile{real: f, node: r.node}, nil
		}
		return f, nil
	}
	if r.node == nil {
		return nil, ErrNotFound
	}
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return nil, ErrForbidden
	}
	return &virtualDirFile{node: r.node}, nil
}

func (v *VirtualTreeFS) RemoveAll(ctx context.Context, name string) error {
	r := v.root.resolve(name)
	if r.fs != nil {
		return r.fs.RemoveAll(ctx, r.subPath)
	}
	return ErrForbidden
}

func (v *VirtualTreeFS) Rename(ctx context.Context, oldName, newName string) error {
	ro := v.root.resolve(oldName)
	rn := v.root.resolve(newName)
	if ro.fs == nil || rn.fs == nil || ro.fs != rn.fs {
		return ErrForbidden
	}
	return ro.fs.Rename(ctx, ro.subPath, rn.subPath)
}

func (v *VirtualTreeFS) Stat(ctx context.Context, name string) (ObjectInfo, error) {
	r := v.root.resolve(name)
	if r.fs != nil {
		return r.fs.Stat(ctx, r.subPath)
	}
	if r.node == nil {
		return nil, ErrNotFound
	}
	nm := r.node.name
	if nm == "" {
		nm = "/"
	}
	return vdirInfo{name: nm}, nil
}

// IsVirtual reports whether name resolves to a purely virtual directory
// rather than into a grafted real filesystem. Method handlers use this to
// reject MOVE/COPY/LOCK sources or destinations that land on synthetic
// structure, per the server's design: virtual directories are never
// themselves a movable or lockable resource.
func (v *VirtualTreeFS) IsVirtual(name string) bool {
	r := v.root.resolve(name)
	return r.fs == nil
}

// virtualDirFile is a read-only directory handle over a VirtualDir node,
// enumerating its children (virtual subdirectories only; a grafted
// descendant's own contents are listed by delegating Readdir to its own
// FileSystem, not through this type).
type virtualDirFile struct {
	node *VirtualDir
}

func (f *virtualDirFile) Close() error { return nil }
func (f *virtualDirFile) Read([]byte) (int, error)          { return 0, ErrForbidden }
func (f *virtualDirFile) Write([]byte) (int, error)         { return 0, ErrForbidden }
func (f *virtualDirFile) Seek(int64, int) (int64, error)    { return 0, ErrForbidden }
func (f *virtualDirFile) Stat() (ObjectInfo, error) {
	nm := f.node.name
	if nm == "" {
		nm = "/"
	}
	return vdirInfo{name: nm}, nil
}

func (f *virtualDirFile) Readdir(count int) ([]ObjectInfo, error) {
	out := f.node.childInfos()
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}

// mergedDirFile wraps the File opened from a node that is both a graft
// point and a virtual parent of other nodes (the root is the common
// case): every operation but Readdir passes straight through to the real
// file, while Readdir lists the virtual children first, then the real
// directory's own entries.
type mergedDirFile struct {
	real File
	node *VirtualDir
}

func (f *mergedDirFile) Close() error                                 { return f.real.Close() }
func (f *mergedDirFile) Read(p []byte) (int, error)                   { return f.real.Read(p) }
func (f *mergedDirFile) Write(p []byte) (int, error)                  { return f.real.Write(p) }
func (f *mergedDirFile) Seek(offset int64, whence int) (int64, error) { return f.real.Seek(offset, whence) }
func (f *mergedDirFile) Stat() (ObjectInfo, error)                    { return f.real.Stat() }

func (f *mergedDirFile) Readdir(count int) ([]ObjectInfo, error) {
	out := f.node.childInfos()
	real, err := f.real.Readdir(0)
	if err != nil {
		return nil, err
	}
	out = append(out, real...)
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}
