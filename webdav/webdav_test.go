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

	"github.com/infinite-iroha/toukadav"
)

func setupTestServer(handler *Handler) *touka.Engine {
	r := touka.New()
	r.HandleFunc(webdavMethods, "/*path", handler.ServeTouka)
	return r
}

func newTestHandler() (*Handler, *MemFS) {
	fs := NewMemFS()
	return NewHandler("/", fs, NewLockManager(nil)), fs
}

func TestHandleOptions(t *testing.T) {
	handler, _ := newTestHandler()
	r := setupTestServer(handler)

	req, _ := http.NewRequest("OPTIONS", "/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d; got %d", http.StatusOK, w.Code)
	}
	if w.Header().Get("DAV") != "1, 2" {
		t.Errorf("Expected DAV header '1, 2'; got '%s'", w.Header().Get("DAV"))
	}
	expectedAllow := "OPTIONS, GET, HEAD, PUT, DELETE, MKCOL, COPY, MOVE, PROPFIND, PROPPATCH, LOCK, UNLOCK"
	if w.Header().Get("Allow") != expectedAllow {
		t.Errorf("Expected Allow header '%s'; got '%s'", expectedAllow, w.Header().Get("Allow"))
	}
}

func TestHandleMkcol(t *testing.T) {
	handler, fs := newTestHandler()
	r := setupTestServer(handler)

	req, _ := http.NewRequest("MKCOL", "/testdir", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status %d; got %d", http.StatusCreated, w.Code)
	}

	info, err := fs.Stat(nil, "/testdir")
	if err != nil {
		t.Fatalf("fs.Stat failed: %v", err)
	}
	if !info.IsDir() {
		t.Errorf("Expected '/testdir' to be a directory")
	}
}

func TestHandlePropfind(t *testing.T) {
	handler, fs := newTestHandler()
	r := setupTestServer(handler)

	fs.Mkdir(nil, "/testdir", 0755)
	file, _ := fs.OpenFile(nil, "/testdir/testfile", os.O_CREATE|os.O_WRONLY, 0644)
	file.Write([]byte("test content"))
	file.Close()

	propfindBody := `<?xml version="1.0" encoding="UTF-8"?>
<D:propfind xmlns:D="DAV:">
  <D:allprop/>
</D:propfind>`
	req, _ := http.NewRequest("PROPFIND", "/testdir", bytes.NewBufferString(propfindBody))
	req.Header.Set("Depth", "1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusMultiStatus {
		t.Fatalf("Expected status %d; got %d", http.StatusMultiStatus, w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, "<D:href>/testdir</D:href>") {
		t.Error("expected a response for the directory itself")
	}
	if !strings.Contains(body, "<D:href>/testdir/testfile</D:href>") {
		t.Error("expected a response for the contained file")
	}
	if !strings.Contains(body, "<D:collection/>") {
		t.Error("expected the directory's resourcetype to report D:collection")
	}
	if !strings.Contains(body, "<D:getcontentlength>12</D:getcontentlength>") {
		t.Error("expected the file's content length to be 12")
	}
}

func TestHandlePropfindDepthInfinityRejected(t *testing.T) {
	handler, fs := newTestHandler()
	r := setupTestServer(handler)
	fs.Mkdir(nil, "/testdir", 0755)

	req, _ := http.NewRequest("PROPFIND", "/testdir", nil)
	req.Header.Set("Depth", "infinity")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected Depth: infinity to be refused with 403; got %d", w.Code)
	}
}

func TestHandlePutGetDelete(t *testing.T) {
	handler, fs := newTestHandler()
	r := setupTestServer(handler)

	putReq, _ := http.NewRequest("PUT", "/test.txt", bytes.NewBufferString("hello"))
	putRec := httptest.NewRecorder()
	r.ServeHTTP(putRec, putReq)
	if putRec.Code != http.StatusCreated {
		t.Errorf("PUT: expected status %d, got %d", http.StatusCreated, putRec.Code)
	}

	getReq, _ := http.NewRequest("GET", "/test.txt", nil)
	getRec := httptest.NewRecorder()
	r.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Errorf("GET: expected status %d, got %d", http.StatusOK, getRec.Code)
	}
	if getRec.Body.String() != "hello" {
		t.Errorf("GET: expected body 'hello', got '%s'", getRec.Body.String())
	}

	delReq, _ := http.NewRequest("DELETE", "/test.txt", nil)
	delRec := httptest.NewRecorder()
	r.ServeHTTP(delRec, delReq)
	if delRec.Code != http.StatusNoContent {
		t.Errorf("DELETE: expected status %d, got %d", http.StatusNoContent, delRec.Code)
	}

	_, err := fs.Stat(nil, "/test.txt")
	if !os.IsNotExist(err) {
		t.Errorf("File should have been deleted, but stat returned: %v", err)
	}
}

func TestHandleCopyMove(t *testing.T) {
	handler, fs := newTestHandler()
	r := setupTestServer(handler)

	putReq, _ := http.NewRequest("PUT", "/src.txt", bytes.NewBufferString("copy me"))
	putRec := httptest.NewRecorder()
	r.ServeHTTP(putRec, putReq)

	copyReq, _ := http.NewRequest("COPY", "/src.txt", nil)
	copyReq.Header.Set("Destination", "/dest.txt")
	copyRec := httptest.NewRecorder()
	r.ServeHTTP(copyRec, copyReq)
	if copyRec.Code != http.StatusCreated {
		t.Errorf("COPY: expected status %d, got %d", http.StatusCreated, copyRec.Code)
	}

	info, err := fs.Stat(nil, "/dest.txt")
	if err != nil {
		t.Fatalf("Stat on copied file failed: %v", err)
	}
	if info.Size() != int64(len("copy me")) {
		t.Errorf("Copied file has wrong size")
	}

	moveReq, _ := http.NewRequest("MOVE", "/dest.txt", nil)
	moveReq.Header.Set("Destination", "/moved.txt")
	moveRec := httptest.NewRecorder()
	r.ServeHTTP(moveRec, moveReq)
	if moveRec.Code != http.StatusCreated {
		t.Errorf("MOVE: expected status %d, got %d", http.StatusCreated, moveRec.Code)
	}

	if _, err := fs.Stat(nil, "/dest.txt"); !os.IsNotExist(err) {
		t.Error("Original file should have been removed after move")
	}
	if _, err := fs.Stat(nil, "/moved.txt"); err != nil {
		t.Error("Moved file not found")
	}
}

func TestHandleLockUnlock(t *testing.T) {
	handler, fs := newTestHandler()
	r := setupTestServer(handler)

	fs.OpenFile(nil, "/locked.txt", os.O_CREATE|os.O_WRONLY, 0644)

	lockBody := `<?xml version="1.0" encoding="UTF-8"?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner>test-owner</D:owner>
</D:lockinfo>`
	lockReq, _ := http.NewRequest("LOCK", "/locked.txt", bytes.NewBufferString(lockBody))
	lockRec := httptest.NewRecorder()
	r.ServeHTTP(lockRec, lockReq)
	if lockRec.Code != http.StatusOK {
		t.Fatalf("LOCK: expected status %d, got %d", http.StatusOK, lockRec.Code)
	}
	token := strings.Trim(lockRec.Header().Get("Lock-Token"), "<>")
	if !strings.HasPrefix(token, "urn:uuid:") {
		t.Fatalf("expected a urn:uuid: lock token, got %q", token)
	}

	putReq, _ := http.NewRequest("PUT", "/locked.txt", bytes.NewBufferString("nope"))
	putRec := httptest.NewRecorder()
	r.ServeHTTP(putRec, putReq)
	if putRec.Code != http.StatusLocked {
		t.Errorf("PUT without the lock token: expected %d, got %d", http.StatusLocked, putRec.Code)
	}

	putReq2, _ := http.NewRequest("PUT", "/locked.txt", bytes.NewBufferString("yes"))
	putReq2.Header.Set("If", "(<"+token+">)")
	putRec2 := httptest.NewRecorder()
	r.ServeHTTP(putRec2, putReq2)
	if putRec2.Code != http.StatusOK {
		t.Errorf("PUT with the lock token: expected %d, got %d", http.StatusOK, putRec2.Code)
	}

	unlockReq, _ := http.NewRequest("UNLOCK", "/locked.txt", nil)
	unlockReq.Header.Set("Lock-Token", "<"+token+">")
	unlockRec := httptest.NewRecorder()
	r.ServeHTTP(unlockRec, unlockReq)
	if unlockRec.Code != http.StatusNoContent {
		t.Errorf("UNLOCK: expected %d, got %d", http.StatusNoContent, unlockRec.Code)
	}
}
