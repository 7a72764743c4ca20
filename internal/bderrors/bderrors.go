// Package bderrors implements the §7 error taxonomy as typed, wrappable
// errors with an HTTP status mapping. Every external call site in the
// core distinguishes a user-visible failure (one of these) from pure
// telemetry (logged and swallowed) by returning or not returning one of
// these types.
package bderrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a taxonomy member.
type Kind string

const (
	KindBadRequest       Kind = "BadRequest"
	KindAuthFailed       Kind = "AuthFailed"
	KindNotFound         Kind = "NotFound"
	KindQueryFailed      Kind = "QueryFailed"
	KindStorageFailed    Kind = "StorageFailed"
	KindUnsafeIdentifier Kind = "UnsafeIdentifier"
	KindRehydrationFailed Kind = "RehydrationFailed"
)

// Error is the core's single user-visible error type. Use the
// constructors below rather than building one directly.
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

// HTTPStatus maps a taxonomy member to the status code the JSON adapter
// must emit. Kinds with no fixed externally-visible status (UnsafeIdentifier,
// RehydrationFailed) are folded into BadRequest/StorageFailed respectively
// by the adapter; see HTTPStatusFor.
func (e *Error) HTTPStatus() int { return HTTPStatusFor(e.Kind) }

// HTTPStatusFor returns the status code for a given taxonomy member.
func HTTPStatusFor(k Kind) int {
	switch k {
	case KindBadRequest, KindUnsafeIdentifier:
		return http.StatusBadRequest
	case KindAuthFailed:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindQueryFailed:
		return http.StatusBadRequest
	case KindStorageFailed, KindRehydrationFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func BadRequest(message string) *Error { return New(KindBadRequest, message) }

func AuthFailed() *Error {
	// Never reveal which field failed, per §7.
	return New(KindAuthFailed, "authentication failed")
}

func NotFound(message string) *Error { return New(KindNotFound, message) }

func QueryFailed(err error) *Error {
	return Wrap(KindQueryFailed, "query execution failed", err)
}

func StorageFailed(message string, err error) *Error {
	return Wrap(KindStorageFailed, message, err)
}

func UnsafeIdentifier(identifier string) *Error {
	return New(KindUnsafeIdentifier, fmt.Sprintf("unsafe identifier: %q", identifier))
}

func RehydrationFailed(err error) *Error {
	return Wrap(KindRehydrationFailed, "rehydration failed", err)
}

// As is a small convenience wrapper around errors.As for callers that
// only need to branch on Kind.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and
// KindStorageFailed otherwise — the taxonomy's safe default for an
// unclassified failure reaching the adapter boundary.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindStorageFailed
}
