package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies errors reaching the terminal error handler.
type ErrorKind string

const (
	KindNotFound   ErrorKind = "NotFound"
	KindBadRequest ErrorKind = "BadRequest"
	KindForbidden  ErrorKind = "Forbidden"
	KindTooLarge   ErrorKind = "PayloadTooLarge"
	KindInternal   ErrorKind = "Internal"
)

// HTTPError is the single error object a request may produce. Message is
// safe to show in production; Err and Stack are detail for development.
type HTTPError struct {
	Status  int
	Kind    ErrorKind
	Message string
	Err     error
	Stack   []byte
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error { return e.Err }

// Detail is the verbose description rendered outside production.
func (e *HTTPError) Detail() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d): %s", e.Kind, e.StatusCode(), e.Message)
	for err := e.Err; err != nil; err = errors.Unwrap(err) {
		fmt.Fprintf(&b, "\n  caused by: %v", err)
	}
	if len(e.Stack) > 0 {
		b.WriteString("\n\n")
		b.Write(e.Stack)
	}
	return b.String()
}

// StatusCode defaults to 500 when no status was set.
func (e *HTTPError) StatusCode() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// NotFound is produced when no route matches the request.
func NotFound(method, path string) *HTTPError {
	return &HTTPError{
		Status:  http.StatusNotFound,
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s %s route not found", method, path),
	}
}

func BadRequest(format string, args ...any) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(message string) *HTTPError {
	return &HTTPError{Status: http.StatusForbidden, Kind: KindForbidden, Message: message}
}

// PayloadTooLarge is returned when a request body exceeds limit bytes.
func PayloadTooLarge(limit int64) *HTTPError {
	return &HTTPError{
		Status:  http.StatusRequestEntityTooLarge,
		Kind:    KindTooLarge,
		Message: fmt.Sprintf("request body exceeds %d bytes", limit),
	}
}

// Internal wraps an unexpected failure; the message never leaks err.
func Internal(err error) *HTTPError {
	return &HTTPError{Status: http.StatusInternalServerError, Kind: KindInternal, Message: "internal server error", Err: err}
}

// AsHTTPError returns err as *HTTPError, wrapping anything else as Internal.
func AsHTTPError(err error) *HTTPError {
	var he *HTTPError
	if errors.As(err, &he) {
		return he
	}
	return Internal(err)
}
