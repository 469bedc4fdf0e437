// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"fmt"
	"net/http"
)

// Extension status codes defined by RFC 4918 that net/http does not know about.
const (
	StatusMulti               = 207
	StatusUnprocessableEntity = 422
	StatusLocked              = 423
	StatusFailedDependency    = 424
	StatusInsufficientStorage = 507
)

var extStatusText = map[int]string{
	StatusMulti:               "Multi-Status",
	StatusUnprocessableEntity: "Unprocessable Entity",
	StatusLocked:              "Locked",
	StatusFailedDependency:    "Failed Dependency",
	StatusInsufficientStorage: "Insufficient Storage",
}

// Kind classifies a webdav Error independent of the HTTP status it maps to,
// so callers that need to branch on cause (e.g. the multistatus builder)
// don't need to compare raw integers.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindConflict
	KindPreconditionFailed
	KindLocked
	KindForbidden
	KindMethodNotAllowed
	KindUnsupportedMediaType
	KindBadRequest
	KindInternal
	KindNotImplemented
)

// Error is the common error type returned by every webdav operation. It
// carries the HTTP status the dispatcher should answer with, independent of
// any textual message, and an optional underlying cause kept out of the
// response body.
type Error struct {
	Kind  Kind
	code  int
	text  string
	cause error
}

var (
	ErrNotFound          = Error{Kind: KindNotFound, code: http.StatusNotFound, text: "NotFound"}
	ErrConflict          = Error{Kind: KindConflict, code: http.StatusConflict, text: "Conflict"}
	ErrPreconditionFail  = Error{Kind: KindPreconditionFailed, code: http.StatusPreconditionFailed, text: "PreconditionFailed"}
	ErrLocked            = Error{Kind: KindLocked, code: StatusLocked, text: "Locked"}
	ErrForbidden         = Error{Kind: KindForbidden, code: http.StatusForbidden, text: "Forbidden"}
	ErrMethodNotAllowed  = Error{Kind: KindMethodNotAllowed, code: http.StatusMethodNotAllowed, text: "MethodNotAllowed"}
	ErrUnsupportedMedia  = Error{Kind: KindUnsupportedMediaType, code: http.StatusUnsupportedMediaType, text: "UnsupportedMediaType"}
	ErrBadRequest        = Error{Kind: KindBadRequest, code: http.StatusBadRequest, text: "BadRequest"}
	ErrInternal          = Error{Kind: KindInternal, code: http.StatusInternalServerError, text: "InternalError"}
	ErrNotImplemented    = Error{Kind: KindNotImplemented, code: http.StatusNotImplemented, text: "NotImplemented"}
	ErrBadGateway        = Error{Kind: KindForbidden, code: http.StatusBadGateway, text: "BadHost"}
)

// WithCause attaches an underlying cause to an error, for logging only.
func (e Error) WithCause(cause error) Error {
	e.cause = cause
	return e
}

// HTTPCode returns the status code a dispatcher should answer with.
func (e Error) HTTPCode() int { return e.code }

// HTTPStatus returns the reason phrase for e's status code.
func (e Error) HTTPStatus() string {
	if t, ok := extStatusText[e.code]; ok {
		return t
	}
	return http.StatusText(e.code)
}

// Cause returns the underlying error, if any. It is never sent to clients.
func (e Error) Cause() error { return e.cause }

func (e Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%d %s: %s (%s)", e.code, e.HTTPStatus(), e.text, e.cause)
	}
	return fmt.Sprintf("%d %s: %s", e.code, e.HTTPStatus(), e.text)
}

// asError unwraps err into a webdav Error, mapping anything else to ErrInternal.
func asError(err error) Error {
	if err == nil {
		return Error{}
	}
	if e, ok := err.(Error); ok {
		return e
	}
	return ErrInternal.WithCause(err)
}
