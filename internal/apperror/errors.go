/*
Copyright 2025 Altaira Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package apperror classifies every error the chat core can produce into a
// small taxonomy so gateway and HTTP boundaries can map it to a transport
// response without inspecting error strings.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of transport-boundary mapping.
type Kind string

const (
	KindUnauthenticated     Kind = "unauthenticated"
	KindAuthorizationDenied Kind = "authorization_denied"
	KindNotFound            Kind = "not_found"
	KindValidation          Kind = "validation"
	KindConflict            Kind = "conflict"
	KindStateInvariant      Kind = "state_invariant"
	KindStorageFailure      Kind = "storage_failure"
	KindTransportFailure    Kind = "transport_failure"
)

// Error is the result type every core operation returns instead of raising
// an exception. Message is safe to surface to a client; Err, when present,
// is the wrapped cause kept for logs only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, apperror.NotFound("")) style checks; a bare Kind
// value is not an error and cannot be the target.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func new(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Unauthenticated(format string, args ...any) *Error {
	return new(KindUnauthenticated, format, args...)
}

func AuthorizationDenied(format string, args ...any) *Error {
	return new(KindAuthorizationDenied, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return new(KindNotFound, format, args...)
}

func Validation(format string, args ...any) *Error {
	return new(KindValidation, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return new(KindConflict, format, args...)
}

func StateInvariant(format string, args ...any) *Error {
	return new(KindStateInvariant, format, args...)
}

func StorageFailure(err error, format string, args ...any) *Error {
	return wrap(KindStorageFailure, err, format, args...)
}

func TransportFailure(err error, format string, args ...any) *Error {
	return wrap(KindTransportFailure, err, format, args...)
}

// KindOf extracts the Kind of err, defaulting to KindStorageFailure for any
// error that did not originate from this package (an unclassified failure
// is treated as an opaque backend failure rather than surfaced raw).
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindStorageFailure
}

// Message extracts a client-safe message for err, falling back to a generic
// string for unclassified errors so internals never leak to a client.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}
