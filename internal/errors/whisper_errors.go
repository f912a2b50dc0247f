package errors

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrNoModelLoaded = New(KindNoModelLoaded, nil, http.StatusServiceUnavailable, "no model loaded")
	ErrEmptyAudio    = New(KindValidation, nil, http.StatusBadRequest, "audio file is empty")
	ErrMissingAudio  = New(KindValidation, nil, http.StatusBadRequest, "audio file is required")
)

func InvalidArg(arg string) *Error {
	return Newf(KindValidation, nil, http.StatusBadRequest, "invalid argument: %s", arg)
}

// Validation reports a malformed, out-of-range or unknown request option.
func Validation(field string, format string, args ...any) *Error {
	e := Newf(KindValidation, nil, http.StatusBadRequest, format, args...)
	if field != "" {
		e.Message = field + ": " + e.Message
	}
	return e
}

func NoModelLoaded() *Error {
	return New(KindNoModelLoaded, nil, http.StatusServiceUnavailable, "no model loaded; call /load_model first")
}

func ModelLoad(model string, cause error) *Error {
	return Newf(KindModelLoad, cause, http.StatusInternalServerError, "load model %s failed", model)
}

// Transcription wraps an audio decode or inference failure. Context
// cancellation is reported as KindCanceled so it is not mistaken for a model
// fault.
func Transcription(cause error) *Error {
	if errors.Is(cause, context.Canceled) {
		return New(KindCanceled, cause, StatusClientClosedRequest, "request canceled")
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return New(KindCanceled, cause, http.StatusGatewayTimeout, "request timed out")
	}
	var appErr *Error
	if errors.As(cause, &appErr) {
		return appErr
	}
	return New(KindTranscription, cause, http.StatusInternalServerError, "transcription failed")
}
