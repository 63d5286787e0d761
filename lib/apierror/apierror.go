// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package apierror defines the typed error kinds the gateway's auth
// core can return, and their HTTP status mapping. Handlers build a
// chain with fmt.Errorf's %w the same way the rest of this module
// does; apierror only adds the "what HTTP status does this deserve"
// classification on top.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a coarse category of request failure, mapped to an HTTP
// status by Status.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindConflict
	KindNotFound
	KindPreconditionFailed
)

func (k Kind) Status() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not found"
	case KindPreconditionFailed:
		return "precondition failed"
	default:
		return "internal server error"
	}
}

// Error wraps an underlying cause with a Kind. The full chain is
// meant for the server log; the HTTP surface exposes only the status
// code with an empty body.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind.String(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Error of the given kind wrapping err. err may be nil,
// in which case the kind's default message stands alone.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf is a convenience wrapper building the error text with
// fmt.Errorf before attaching the kind.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// BadRequest, Unauthorized, Forbidden, Conflict, NotFound,
// PreconditionFailed, and Internal are shorthand constructors for each
// Kind.
func BadRequest(err error) *Error          { return New(KindBadRequest, err) }
func Unauthorized(err error) *Error        { return New(KindUnauthorized, err) }
func Forbidden(err error) *Error           { return New(KindForbidden, err) }
func Conflict(err error) *Error            { return New(KindConflict, err) }
func NotFound(err error) *Error            { return New(KindNotFound, err) }
func PreconditionFailed(err error) *Error  { return New(KindPreconditionFailed, err) }
func Internal(err error) *Error            { return New(KindInternal, err) }

// Status returns the HTTP status an error deserves: the Kind's
// status if err is (or wraps) an *Error, otherwise 500.
func Status(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.Status()
	}
	return http.StatusInternalServerError
}

// WriteResponse writes the status code for err with an empty body.
// Callers should separately log the full error chain.
func WriteResponse(w http.ResponseWriter, err error) {
	w.WriteHeader(Status(err))
}
