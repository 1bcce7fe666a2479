package message

import (
	"context"
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	CodeBadRequest     Code = "BAD_REQUEST"      // Envelope failed validation
	CodeMethodNotFound Code = "METHOD_NOT_FOUND" // No handler registered under the method name
	CodeTimeout        Code = "TIMEOUT"          // Wait budget exceeded
	CodeInternal       Code = "INTERNAL"         // Unclassified handler or server failure
	CodeUnauthorized   Code = "UNAUTHORIZED"     // Reserved for auth layers built on top
	CodeServerBusy     Code = "SERVER_BUSY"      // Reserved for load shedding
)

// Known reports whether c is part of the fixed taxonomy.
func (c Code) Known() bool {
	switch c {
	case CodeBadRequest, CodeMethodNotFound, CodeTimeout, CodeInternal, CodeUnauthorized, CodeServerBusy:
		return true
	}
	return false
}

// Error is the error body of a failed Response. It implements error, so handlers
// can return one to control the code the caller sees.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

// NewError builds an Error. A nil details map is kept as nil and encoded as {}.
func NewError(code Code, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// Errorf builds an Error with a formatted message and no details.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches another *Error with the same code, so errors.Is(err, &Error{Code: CodeTimeout})
// works for any timeout regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// WithDetail returns a copy of e with key set in Details.
func (e *Error) WithDetail(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Code: e.Code, Message: e.Message, Details: details}
}

// AsError converts any error into an *Error. An *Error anywhere in the chain is
// passed through unchanged, context deadlines become TIMEOUT, and everything else
// becomes INTERNAL carrying err's text.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(CodeTimeout, err.Error(), nil)
	}
	return NewError(CodeInternal, err.Error(), nil)
}

// CodeOf returns the code AsError would assign to err, or "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return AsError(err).Code
}
