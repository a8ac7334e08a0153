// Package apperr holds the closed set of failure kinds surfaced by the member
// service and the single place where they are rendered onto the wire.
package apperr

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Kind identifies a failure. Its string value is the errorType sent to clients.
type Kind string

const (
	TokenMissing        Kind = "TOKEN_NOT_FOUND"
	TokenExpired        Kind = "TOKEN_EXPIRED"
	TokenInvalid        Kind = "TOKEN_INVALID"
	MemberNotFound      Kind = "MEMBER_NOT_FOUND"
	AccountBlocked      Kind = "ACCOUNT_BLOCKED"
	InvalidCredentials  Kind = "INVALID_CREDENTIALS"
	NotAuthenticated    Kind = "MEMBER_NOT_AUTHENTICATED"
	ConflictEmailExists Kind = "EMAIL_ALREADY_REGISTERED"
	ConflictPhoneExists Kind = "USER_ALREADY_EXISTS"
	InvalidPhoneNumber  Kind = "PHONE_NUMBER_INVALID"
	NotAuthorized       Kind = "MEMBER_NOT_AUTHORISED"
	ValidationFailed    Kind = "REQUEST_VALIDATION_FAILED"
	NotFound            Kind = "NOT_FOUND"
	MethodNotAllowed    Kind = "METHOD_NOT_ALLOWED"
	TooManyRequests     Kind = "TOO_MANY_REQUESTS"
	Unknown             Kind = "UNKNOWN"
)

// GenericMessage replaces the message of every Unknown failure.
const GenericMessage = "Unable to process the request. Please try again later."

var statusByKind = map[Kind]int{
	TokenMissing:        http.StatusUnauthorized,
	TokenExpired:        http.StatusUnauthorized,
	TokenInvalid:        http.StatusUnauthorized,
	MemberNotFound:      http.StatusUnauthorized,
	AccountBlocked:      http.StatusUnauthorized,
	InvalidCredentials:  http.StatusUnauthorized,
	NotAuthenticated:    http.StatusUnauthorized,
	ConflictEmailExists: http.StatusConflict,
	ConflictPhoneExists: http.StatusConflict,
	InvalidPhoneNumber:  http.StatusBadRequest,
	NotAuthorized:       http.StatusForbidden,
	ValidationFailed:    http.StatusBadRequest,
	NotFound:            http.StatusNotFound,
	MethodNotAllowed:    http.StatusMethodNotAllowed,
	TooManyRequests:     http.StatusTooManyRequests,
	Unknown:             http.StatusInternalServerError,
}

// Status returns the HTTP status mapped to k, 500 for kinds outside the table.
func (k Kind) Status() int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// IsAuthentication reports whether k is an authentication failure (401).
func (k Kind) IsAuthentication() bool {
	return k.Status() == http.StatusUnauthorized
}

// Error is the one error type carried across the service.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status is shorthand for e.Kind.Status().
func (e *Error) Status() int { return e.Kind.Status() }

// New builds an *Error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error keeping err as the cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf resolves err to its kind; errors without an *Error in the chain are Unknown.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Body is the stable error payload.
type Body struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	ErrorType Kind      `json:"errorType"`
	Status    int       `json:"status"`
}

// BodyFor converts err into the wire payload. Unknown failures never expose
// their message.
func BodyFor(err error) Body {
	kind := KindOf(err)
	msg := GenericMessage
	if e, ok := As(err); ok && kind != Unknown && e.Message != "" {
		msg = e.Message
	}
	return Body{
		Timestamp: time.Now().UTC(),
		Message:   msg,
		ErrorType: kind,
		Status:    kind.Status(),
	}
}

// Write renders err as a JSON error response.
func Write(w http.ResponseWriter, err error) {
	WriteBody(w, BodyFor(err))
}

// WriteBody renders an already built payload.
func WriteBody(w http.ResponseWriter, body Body) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(body.Status)
	_ = json.NewEncoder(w).Encode(body)
}
