// Package apperr defines the error taxonomy shared by adapters and services.
//
// Errors are classified by Kind rather than concrete type. Adapters wrap their
// backend failures into one of the kinds below; the HTTP layer maps kinds to
// status codes and the ingestion pipeline uses them to decide between retrying
// and marking a document failed.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error per the service taxonomy.
type Kind int

const (
	// KindInternal is an invariant violation. Logged, 500 externally, never retried.
	KindInternal Kind = iota
	// KindValidation is a malformed request or argument.
	KindValidation
	// KindNotFound is an unknown workspace, document, or session.
	KindNotFound
	// KindConflict is a unique-constraint violation (workspace name).
	KindConflict
	// KindUnsupportedMedia is a MIME type with no registered extractor.
	KindUnsupportedMedia
	// KindPayloadTooLarge is an upload exceeding the configured limit.
	KindPayloadTooLarge
	// KindTransient is a timeout, reset, or throttle from a backend. Retried
	// with capped exponential backoff before being surfaced.
	KindTransient
	// KindPermanent is a config/schema mismatch or corrupt input. Not retried.
	KindPermanent
	// KindUnavailable is a backend that is down after retry exhaustion.
	KindUnavailable
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnsupportedMedia:
		return "unsupported_media"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error carries a kind, a short operator-readable message, and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with the given kind and message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
// Returns nil when err is nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from err, walking the wrap chain.
// Plain errors classify as KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return IsKind(err, KindTransient)
}

// HTTPStatus maps a kind to the externally visible status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindTransient, KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
