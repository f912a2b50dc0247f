package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the HTTP layer and for callers that need to
// branch on the failure category.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNoModelLoaded Kind = "no_model_loaded"
	KindModelLoad     Kind = "model_load"
	KindTranscription Kind = "transcription"
	KindCanceled      Kind = "canceled"
	KindInternal      Kind = "internal"
)

// StatusClientClosedRequest is used when the client went away before the
// response was ready.
const StatusClientClosedRequest = 499

// Error is the application error carried through the service layers.
type Error struct {
	Kind    Kind   `json:"error"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
	Code    int    `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind so that sentinel values such as
// ErrNoModelLoaded work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Cause == nil
}

func New(kind Kind, cause error, code int, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   cause,
		Code:    code,
	}
}

func Newf(kind Kind, cause error, code int, format string, args ...any) *Error {
	return New(kind, cause, code, fmt.Sprintf(format, args...))
}

// Wrap attaches a message and code to err. An *Error cause keeps its kind.
func Wrap(err error, message string, code int) *Error {
	if err == nil {
		return nil
	}
	kind := KindInternal
	var appErr *Error
	if errors.As(err, &appErr) {
		kind = appErr.Kind
	}
	return New(kind, err, code, message)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Kind == kind
}

// GetCode returns the HTTP status for err.
func GetCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Code != 0 {
		return appErr.Code
	}
	return http.StatusInternalServerError
}

// RootCause walks the Unwrap chain to the innermost error.
func RootCause(err error) error {
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
