package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation  Kind = "VALIDATION_ERROR"
	KindNotFound    Kind = "NOT_FOUND"
	KindPersistence Kind = "PERSISTENCE_ERROR"
	KindGeneration  Kind = "GENERATION_ERROR"
	KindInternal    Kind = "INTERNAL_ERROR"
)

// Error is the error type services hand back to handlers. Reason is safe to
// show to a client, Err is the underlying cause and is only logged.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func Validation(reason string) *Error {
	return &Error{Kind: KindValidation, Reason: reason}
}

func NotFound(reason string) *Error {
	return &Error{Kind: KindNotFound, Reason: reason}
}

func Persistence(reason string, err error) *Error {
	return &Error{Kind: KindPersistence, Reason: reason, Err: err}
}

func Generation(reason string, err error) *Error {
	return &Error{Kind: KindGeneration, Reason: reason, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Reason returns the client facing message for err.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return "Failed to process request"
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
