// Package apperror defines the error taxonomy shared by the service layer and the
// HTTP boundary. Every failure that leaves a service is an *Error carrying one of
// the Kind values below, so handlers can pick a status code and callers can tell
// "the daemon is down" apart from "your request was invalid".
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindForbidden
	KindUnauthenticated
	KindConflict
	KindInvalidState
	KindUnavailable
	KindInvalidInput
)

// String returns the kind name used in logs
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindConflict:
		return "conflict"
	case KindInvalidState:
		return "invalid_state"
	case KindUnavailable:
		return "unavailable"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "internal"
	}
}

// HTTPStatus maps the kind to a response status code
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindConflict, KindInvalidState:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure
type Error struct {
	Kind        Kind
	Msg         string
	Detail      string
	RedirectURL string
	Err         error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Msg, e.Detail, e.Err)
	case e.Detail != "":
		return e.Msg + ": " + e.Detail
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == ""
}

// Sentinels for errors.Is checks. They carry no message, which is what Is keys on.
var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrUnavailable     = &Error{Kind: KindUnavailable}
	ErrInvalidInput    = &Error{Kind: KindInvalidInput}
	ErrInternal        = &Error{Kind: KindInternal}
)

// New creates a classified error
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies an underlying error
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// NotFound reports an unknown id
func NotFound(msg string) *Error { return New(KindNotFound, msg) }

// Forbidden reports an authenticated caller lacking rights on the resource
func Forbidden(msg string) *Error { return New(KindForbidden, msg) }

// Unauthenticated reports a missing or invalid identity. redirectURL may be empty.
func Unauthenticated(msg, redirectURL string) *Error {
	return &Error{Kind: KindUnauthenticated, Msg: msg, RedirectURL: redirectURL}
}

// Conflict reports a duplicate or a clashing state
func Conflict(msg string) *Error { return New(KindConflict, msg) }

// InvalidState reports a state transition that is not allowed from the current state
func InvalidState(msg string) *Error { return New(KindInvalidState, msg) }

// Unavailable reports an unreachable or timed-out collaborator
func Unavailable(msg string, err error) *Error { return Wrap(KindUnavailable, msg, err) }

// InvalidInput reports malformed request fields
func InvalidInput(msg, detail string) *Error {
	return &Error{Kind: KindInvalidInput, Msg: msg, Detail: detail}
}

// Internal wraps an unexpected failure
func Internal(msg string, err error) *Error { return Wrap(KindInternal, msg, err) }

// KindOf returns the kind of err, or KindInternal when err is not classified
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Body is the JSON shape surfaced to the admin front end
type Body struct {
	Msg         string `json:"msg"`
	Detail      string `json:"detail,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// ToBody converts err into its response body and status code. Internal errors
// never expose the wrapped cause.
func ToBody(err error) (int, Body) {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, Body{Msg: "internal error"}
	}
	body := Body{Msg: e.Msg, Detail: e.Detail, RedirectURL: e.RedirectURL}
	if body.Msg == "" {
		body.Msg = e.Kind.String()
	}
	if e.Kind == KindUnavailable && body.Detail == "" && e.Err != nil {
		body.Detail = e.Err.Error()
	}
	return e.Kind.HTTPStatus(), body
}
