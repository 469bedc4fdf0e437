// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// OSFS is a WebDAV FileSystem backed by a subtree of the local filesystem.
// Dead properties are persisted as extended attributes under the "user."
// namespace, and quota-available-bytes/quota-used-bytes are answered from
// the underlying volume's statfs, so OSFS also implements DeadPropertySource
// and QuotaSource.
type OSFS struct {
	RootDir string
}

// NewOSFS creates a new OSFS rooted at rootDir.
func NewOSFS(rootDir string) (*OSFS, error) {
	rootDir, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, err
	}
	return &OSFS{RootDir: rootDir}, nil
}

// resolve maps a request path to an absolute local path, refusing to
// escape RootDir via an absolute input, a ".." segment, or a symlink that
// resolves outside the root.
func (fs *OSFS) resolve(name string) (string, error) {
	if filepath.IsAbs(name) || strings.Contains(name, "..") {
		return "", os.ErrPermission
	}

	path := filepath.Join(fs.RootDir, name)

	if _, err := os.Lstat(path); err == nil {
		path, err = filepath.EvalSymlinks(path)
		if err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	} else {
		// The target doesn't exist yet (PUT, MKCOL): resolve only the
		// parent, since the full path can't be symlink-evaluated.
		parentDir := filepath.Dir(path)
		if _, err := os.Stat(parentDir); err == nil {
			parentDir, err = filepath.EvalSymlinks(parentDir)
			if err != nil {
				return "", err
			}
			path = filepath.Join(parentDir, filepath.Base(path))
		}
	}

	if !strings.HasPrefix(path, fs.RootDir) {
		return "", os.ErrPermission
	}

	return path, nil
}

func (fs *OSFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	path, err := fs.resolve(name)
	if err != nil {
		return err
	}
	return os.Mkdir(path, perm)
}

// osFile wraps os.File to satisfy the File interface's ObjectInfo-returning
// Stat and Readdir.
type osFile struct {
	*os.File
}

func (f *osFile) Stat() (ObjectInfo, error) {
	fi, err := f.File.Stat()
	if err != nil {
		return nil, err
	}
	return fi, nil
}

func (f *osFile) Readdir(count int) ([]ObjectInfo, error) {
	fi, err := f.File.Readdir(count)
	if err != nil {
		return nil, err
	}
	oi := make([]ObjectInfo, len(fi))
	for i := range fi {
		oi[i] = fi[i]
	}
	return oi, nil
}

func (fs *OSFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (File, error) {
	path, err := fs.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}
	return &osFile{f}, nil
}

func (fs *OSFS) RemoveAll(ctx context.Context, name string) error {
	path, err := fs.resolve(name)
	if err != nil {
		return err
	}
	return os.RemoveAll(path)
}

func (fs *OSFS) Rename(ctx context.Context, oldName, newName string) error {
	oldPath, err := fs.resolve(oldName)
	if err != nil {
		return err
	}
	newPath, err := fs.resolve(newName)
	if err != nil {
		return err
	}
	return os.Rename(oldPath, newPath)
}

func (fs *OSFS) Stat(ctx context.Context, name string) (ObjectInfo, error) {
	path, err := fs.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(path)
}

// xattrPrefix is the namespace every dead property is stored under. Linux
// reserves bare "user." attributes for this exact purpose: arbitrary
// attributes a cooperating application attaches to a file.
const xattrPrefix = "user."

// ListDeadProps lists every property this OSFS has previously persisted
// for name, by scanning its xattr names for the xattr:: encoding and
// decoding those that parse.
func (fs *OSFS) ListDeadProps(ctx context.Context, name string) ([]PropName, error) {
	path, err := fs.resolve(name)
	if err != nil {
		return nil, err
	}
	size, err := unix.Listxattr(path, nil)
	if err != nil {
		if err == unix.EOPNOTSUPP {
			return nil, nil
		}
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	n, err := unix.Listxattr(path, buf)
	if err != nil {
		return nil, err
	}
	var names []PropName
	for _, raw := range strings.Split(string(buf[:n]), "\x00") {
		if !strings.HasPrefix(raw, xattrPrefix) {
			continue
		}
		if pn, ok := parsePropName(strings.TrimPrefix(raw, xattrPrefix)); ok {
			names = append(names, pn)
		}
	}
	return names, nil
}

// GetDeadProp reads a single dead property, reporting ok=false (not an
// error) when the attribute was never set.
func (fs *OSFS) GetDeadProp(ctx context.Context, name string, p PropName) (string, bool, error) {
	path, err := fs.resolve(name)
	if err != nil {
		return "", false, err
	}
	attr := xattrPrefix + p.xattrKey()
	size, err := unix.Getxattr(path, attr, nil)
	if err != nil {
		if err == unix.ENODATA {
			return "", false, nil
		}
		return "", false, err
	}
	buf := make([]byte, size)
	n, err := unix.Getxattr(path, attr, buf)
	if err != nil {
		return "", false, err
	}
	return string(buf[:n]), true, nil
}

func (fs *OSFS) SetDeadProp(ctx context.Context, name string, p PropName, value string) error {
	path, err := fs.resolve(name)
	if err != nil {
		return err
	}
	return unix.Setxattr(path, xattrPrefix+p.xattrKey(), []byte(value), 0)
}

func (fs *OSFS) RemoveDeadProp(ctx context.Context, name string, p PropName) error {
	path, err := fs.resolve(name)
	if err != nil {
		return err
	}
	err = unix.Removexattr(path, xattrPrefix+p.xattrKey())
	if err == unix.ENODATA {
		return nil
	}
	return err
}

// Quota reports free and used bytes on the volume backing name, by
// statfs-ing its resolved path.
func (fs *OSFS) Quota(ctx context.Context, name string) (available, used uint64, err error) {
	path, err := fs.resolve(name)
	if err != nil {
		return 0, 0, err
	}
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	total := st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize)
	return free, total - free, nil
}
