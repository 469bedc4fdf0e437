// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

// newGraftedTestHandler builds a VirtualTreeFS with:
//   - the root grafted to a real filesystem (rootFS), so it both has its
//     own entries and is a graft point;
//   - a purely virtual child "/virtual" with no graft of its own;
//   - a nested graft at "/virtual/real", pointing at a second real
//     filesystem (innerFS).
//
// This is the shape that used to make resolve() shadow the virtual
// "/virtual" node with the root's own real-root mapping.
func newGraftedTestHandler() (*Handler, *MemFS, *MemFS) {
	rootFS := NewMemFS()
	innerFS := NewMemFS()

	root := NewVirtualRoot()
	root.Graft("/", "/root", rootFS)
	root.Graft("/virtual/real", "/inner", innerFS)

	fs := NewVirtualTreeFS(root)
	return NewHandler("/", fs, NewLockManager(nil)), rootFS, innerFS
}

func TestVirtualDirGetOnVirtualOnlyChild(t *testing.T) {
	handler, _, _ := newGraftedTestHandler()
	r := setupTestServer(handler)

	req, _ := http.NewRequest("GET", "/virtual", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /virtual: expected %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
}

func TestVirtualDirRootMergesVirtualAndRealEntries(t *testing.T) {
	handler, rootFS, _ := newGraftedTestHandler()
	r := setupTestServer(handler)

	rootFS.Mkdir(nil, "/docs", 0755)

	req, _ := http.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /: expected %d, got %d", http.StatusOK, w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "virtual") {
		t.Errorf("expected root listing to include the virtual child \"virtual\": %s", body)
	}
	if !strings.Contains(body, "docs") {
		t.Errorf("expected root listing to include the real child \"docs\": %s", body)
	}

	propfindBody := `<?xml version="1.0" encoding="UTF-8"?>
<D:propfind xmlns:D="DAV:">
  <D:allprop/>
</D:propfind>`
	pfReq, _ := http.NewRequest("PROPFIND", "/", bytes.NewBufferString(propfindBody))
	pfReq.Header.Set("Depth", "1")
	pfRec := httptest.NewRecorder()
	r.ServeHTTP(pfRec, pfReq)

	if pfRec.Code != http.StatusMultiStatus {
		t.Fatalf("PROPFIND Depth:1 /: expected %d, got %d", http.StatusMultiStatus, pfRec.Code)
	}
	pfBodyStr := pfRec.Body.String()
	if !strings.Contains(pfBodyStr, "<D:href>/virtual</D:href>") {
		t.Errorf("PROPFIND Depth:1 / should enumerate the virtual child /virtual: %s", pfBodyStr)
	}
	if !strings.Contains(pfBodyStr, "<D:href>/docs</D:href>") {
		t.Errorf("PROPFIND Depth:1 / should still enumerate the real child /docs: %s", pfBodyStr)
	}
}

func TestVirtualDirMkcolRejectedUnderPureVirtualPath(t *testing.T) {
	handler, _, _ := newGraftedTestHandler()
	r := setupTestServer(handler)

	req, _ := http.NewRequest("MKCOL", "/virtual/B", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("MKCOL /virtual/B: expected %d, got %d", http.StatusForbidden, w.Code)
	}
}

func TestVirtualDirMkcolAllowedUnderNestedGraft(t *testing.T) {
	handler, _, innerFS := newGraftedTestHandler()
	r := setupTestServer(handler)

	req, _ := http.NewRequest("MKCOL", "/virtual/real/B", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("MKCOL /virtual/real/B: expected %d, got %d", http.StatusCreated, w.Code)
	}
	info, err := innerFS.Stat(nil, "/B")
	if err != nil {
		t.Fatalf("innerFS.Stat(/B) failed: %v", err)
	}
	if !info.IsDir() {
		t.Errorf("expected /virtual/real/B to land as a directory in the nested graft's own filesystem")
	}
}

func TestVirtualDirCopyIntoNestedGraft(t *testing.T) {
	handler, rootFS, innerFS := newGraftedTestHandler()
	r := setupTestServer(handler)

	f, err := rootFS.OpenFile(nil, "/source.txt", os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("rootFS.OpenFile: %v", err)
	}
	f.Write([]byte("payload"))
	f.Close()

	req, _ := http.NewRequest("COPY", "/source.txt", nil)
	req.Header.Set("Destination", "/virtual/real/dest.txt")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("COPY /source.txt -> /virtual/real/dest.txt: expected %d, got %d", http.StatusCreated, w.Code)
	}

	info, err := innerFS.Stat(nil, "/dest.txt")
	if err != nil {
		t.Fatalf("innerFS.Stat(/dest.txt) failed: %v", err)
	}
	if info.Size() != int64(len("payload")) {
		t.Errorf("expected copied file size %d, got %d", len("payload"), info.Size())
	}
}
