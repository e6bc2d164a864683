package auth

import (
	"errors"
	"fmt"
)

// ValidationError reports input rejected locally, before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// TransportError reports an exchange that produced no HTTP response.
type TransportError struct {
	Op  string // e.g. "POST /auth/login"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FieldMessage is a single field-level message from the server's
// validation layer.
type FieldMessage struct {
	Msg   string `json:"msg"`
	Path  string `json:"path,omitempty"`
	Param string `json:"param,omitempty"`
}

// APIError is a non-2xx response. Message holds the server-supplied message
// verbatim.
type APIError struct {
	Status  int
	Message string
	Errors  []FieldMessage
	Body    []byte
}

func (e *APIError) Error() string {
	if msg := e.UserMessage(); msg != "" {
		return fmt.Sprintf("status %d: %s", e.Status, msg)
	}
	return fmt.Sprintf("status %d", e.Status)
}

// UserMessage returns the server message, falling back to the first
// field-level message.
func (e *APIError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if len(e.Errors) > 0 {
		return e.Errors[0].Msg
	}
	return ""
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// MessageOf returns the message suitable for display carried by err, or "".
// Transport failures and unexpected errors yield "" so callers substitute
// their own non-technical message.
func MessageOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.UserMessage()
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Message
	}
	return ""
}
