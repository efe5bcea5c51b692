// Package apperr is the closed error taxonomy shared by every layer of the
// server. Components return *Error values tagged with a Kind; only the HTTP
// boundary turns them into OAuth wire errors.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindGrant
	KindRateLimit
	KindForbidden
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindGrant:
		return "grant"
	case KindRateLimit:
		return "rate_limit"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// OAuth 2.1 and server specific wire codes.
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidScope            = "invalid_scope"
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeUnauthorizedClient      = "unauthorized_client"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeAccessDenied            = "access_denied"
	CodeInvalidCredentials      = "invalid_credentials"
	CodeInvalidToken            = "invalid_token"
	CodeTooManyRequests         = "too_many_requests"
	CodeForbidden               = "forbidden"
	CodeNotFound                = "not_found"
	CodeConflict                = "conflict"
	CodeServerError             = "server_error"
)

// Error is the tagged error value. Description is safe to show to clients;
// Reason is for logs only.
type Error struct {
	Kind        Kind
	Code        string
	Description string
	Reason      string
	RetryAfter  time.Duration
	Err         error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind and Code so callers can compare against the package
// sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// WithReason returns a copy carrying an internal-only reason.
func (e *Error) WithReason(reason string) *Error {
	cp := *e
	cp.Reason = reason
	return &cp
}

// WithDescription returns a copy with a client-facing description.
func (e *Error) WithDescription(desc string) *Error {
	cp := *e
	cp.Description = desc
	return &cp
}

// Wrap returns a copy wrapping cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

func Validation(code, description string) *Error {
	return &Error{Kind: KindValidation, Code: code, Description: description}
}

func Authentication(code, description string) *Error {
	return &Error{Kind: KindAuthentication, Code: code, Description: description}
}

func Grant(reason string) *Error {
	return &Error{Kind: KindGrant, Code: CodeInvalidGrant, Description: "the provided grant is invalid", Reason: reason}
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Code: CodeTooManyRequests, Description: "too many requests", RetryAfter: retryAfter}
}

// Internal wraps an unexpected failure. The cause never reaches the client.
func Internal(cause error, reason string) *Error {
	return &Error{Kind: KindInternal, Code: CodeServerError, Reason: reason, Err: cause}
}

func Internalf(cause error, format string, args ...any) *Error {
	return Internal(cause, fmt.Sprintf(format, args...))
}

var (
	ErrInvalidRequest     = Validation(CodeInvalidRequest, "the request is missing a required parameter or is malformed")
	ErrInvalidScope       = Validation(CodeInvalidScope, "the requested scope is invalid")
	ErrUnsupportedGrant   = Validation(CodeUnsupportedGrantType, "the grant type is not supported")
	ErrUnsupportedResType = Validation(CodeUnsupportedResponseType, "the response type is not supported")
	ErrInvalidClient      = Authentication(CodeInvalidClient, "client authentication failed")
	ErrInvalidCredentials = Authentication(CodeInvalidCredentials, "invalid username or password")
	ErrInvalidToken       = Authentication(CodeInvalidToken, "the access token is invalid")
	ErrUnauthorizedClient = &Error{Kind: KindGrant, Code: CodeUnauthorizedClient, Description: "the client is not authorized to use this grant"}
	ErrAccessDenied       = &Error{Kind: KindGrant, Code: CodeAccessDenied, Description: "the resource owner denied the request"}
	ErrInvalidGrant       = Grant("")
	ErrForbidden          = &Error{Kind: KindForbidden, Code: CodeForbidden, Description: "permission denied"}
	ErrNotFound           = &Error{Kind: KindNotFound, Code: CodeNotFound, Description: "resource not found"}
	ErrConflict           = &Error{Kind: KindConflict, Code: CodeConflict, Description: "resource already exists"}
)

// As extracts the *Error from err, converting anything unknown into an
// internal error.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err, "unclassified error")
}

func KindOf(err error) Kind {
	return As(err).Kind
}

// HTTPStatus maps an error to its response status.
func HTTPStatus(err error) int {
	e := As(err)
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindGrant:
		return http.StatusBadRequest
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WireError is the RFC 6749 section 5.2 error body.
type WireError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Public renders the client-safe form of err. Internal errors carry no
// detail.
func Public(err error) WireError {
	e := As(err)
	if e.Kind == KindInternal {
		return WireError{Error: CodeServerError, ErrorDescription: "internal server error"}
	}
	return WireError{Error: e.Code, ErrorDescription: e.Description}
}
