package esi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an upstream failure. Every error leaving this package is an
// *Error carrying exactly one Kind; callers branch on the Kind and never on
// raw status codes.
type Kind int

const (
	// KindUnexpected covers anything the other kinds do not.
	KindUnexpected Kind = iota

	// KindCredentialNotFound means the character has no stored credential.
	KindCredentialNotFound

	// KindAuthFailure means the credential is unusable: the refresh token was
	// rejected, or the upstream refused the access token twice in a row.
	KindAuthFailure

	// KindScopeMissing means the stored credential lacks a required scope.
	KindScopeMissing

	// KindForbidden means the token is valid but not allowed to see the
	// resource.
	KindForbidden

	// KindNotFound means the resource does not exist upstream.
	KindNotFound

	// KindUnavailable means the upstream is down or unreachable. Retry later.
	KindUnavailable

	// KindPayload means the upstream answered but the body was not what we
	// expect.
	KindPayload
)

func (k Kind) String() string {
	switch k {
	case KindCredentialNotFound:
		return "credential not found"
	case KindAuthFailure:
		return "auth failure"
	case KindScopeMissing:
		return "scope missing"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not found"
	case KindUnavailable:
		return "unavailable"
	case KindPayload:
		return "bad payload"
	default:
		return "unexpected"
	}
}

// Error is the only error type produced by this package.
type Error struct {
	Kind       Kind
	Operation  string
	StatusCode int

	// Missing lists the absent scopes when Kind is KindScopeMissing.
	Missing []string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Operation != "" {
		fmt.Fprintf(&b, ": %s", e.Operation)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing scopes %s", strings.Join(e.Missing, " "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Status maps the Kind to the status code our own handlers should answer
// with. This lets httpx surface an *Error directly.
func (e *Error) Status() int {
	switch e.Kind {
	case KindCredentialNotFound, KindAuthFailure:
		return http.StatusUnauthorized
	case KindScopeMissing, KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable, KindPayload:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the Kind of err, or KindUnexpected for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}
