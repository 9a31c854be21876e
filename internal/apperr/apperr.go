// Package apperr defines the error kinds the services return and the HTTP
// status each kind maps to.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInternal         Kind = "internal"
	KindNotFound         Kind = "not_found"
	KindForbidden        Kind = "forbidden"
	KindValidationFailed Kind = "validation_failed"
	KindUploadFailed     Kind = "upload_failed"
	KindExternalProvider Kind = "external_provider_error"
)

// Error is a classified application error. Message is safe to show to
// clients; the wrapped error is for logs only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(message string) *Error         { return New(KindNotFound, message) }
func Forbidden(message string) *Error        { return New(KindForbidden, message) }
func ValidationFailed(message string) *Error { return New(KindValidationFailed, message) }

func UploadFailed(err error) *Error {
	return Wrap(KindUploadFailed, "file upload failed", err)
}

func ExternalProvider(message string, err error) *Error {
	return Wrap(KindExternalProvider, message, err)
}

func Internal(message string, err error) *Error {
	return Wrap(KindInternal, message, err)
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error to the status the API layer responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindValidationFailed:
		return http.StatusBadRequest
	case KindUploadFailed:
		return http.StatusBadGateway
	case KindExternalProvider:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the client-facing message for err. Unclassified
// errors never leak their text.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindInternal {
		return appErr.Message
	}
	return "internal server error"
}
