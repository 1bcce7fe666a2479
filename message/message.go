// Package message defines the RPC envelopes exchanged between client and server.
//
// Request and Response are the "envelopes" for every RPC call. They get serialized
// by the codec layer and wrapped in a protocol frame for transmission over TCP.
// Nothing in this package knows about the wire encoding.
package message

import "time"

// Envelope type discriminators. Encoders always write them; decoders accept
// envelopes without one.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
)

// Meta carries per-request hints.
//
//   - TimeoutMS: client-side wait budget in milliseconds (0 = none). Servers also
//     expose it to handlers as a context deadline.
//   - Idempotent: retry-safety hint consumed by a caller's retry policy.
type Meta struct {
	TimeoutMS  int64
	Idempotent bool
}

// Timeout returns TimeoutMS as a duration.
func (m Meta) Timeout() time.Duration {
	if m.TimeoutMS <= 0 {
		return 0
	}
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

// Request is one call: {id, method, params?, meta?}.
type Request struct {
	ID     ID
	Method string // Name of a registered handler, e.g. "add" or "Arith.Add"
	Params Params
	Meta   Meta
}

// Response answers exactly one Request.
//
//   - OK == true:  Result holds the handler's return value (possibly nil), Error is nil.
//   - OK == false: Error is non-nil, Result is nil.
type Response struct {
	ID     ID
	OK     bool
	Result any
	Error  *Error
}

// NewResult builds a successful response for id.
func NewResult(id ID, result any) *Response {
	return &Response{ID: id, OK: true, Result: result}
}

// NewFailure builds an error response for id.
func NewFailure(id ID, err *Error) *Response {
	if err == nil {
		err = NewError(CodeInternal, "unknown error", nil)
	}
	return &Response{ID: id, OK: false, Error: err}
}

// Valid reports whether the ok/result/error exclusivity invariant holds.
func (r *Response) Valid() bool {
	if r.OK {
		return r.Error == nil
	}
	return r.Error != nil && r.Result == nil
}
