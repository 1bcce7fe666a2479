package codec

import (
	"errors"
	"fmt"

	"lucid-rpc/message"
)

// ErrUnexpectedType is returned when an envelope carries a "type" discriminator
// that does not match what the decoder expects (e.g. a request on the response
// stream). Receivers skip such frames.
var ErrUnexpectedType = errors.New("codec: unexpected envelope type")

// DecodeError is a validation failure. ID is set when enough of the envelope was
// parsed to recover it, so the receiver can still correlate a reply.
type DecodeError struct {
	ID  message.ID
	Err *message.Error
}

func (e *DecodeError) Error() string {
	if e.ID.IsZero() {
		return "codec: " + e.Err.Error()
	}
	return fmt.Sprintf("codec: id %s: %s", e.ID, e.Err.Error())
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// HasID reports whether the failing envelope's id is known.
func (e *DecodeError) HasID() bool {
	return !e.ID.IsZero()
}

// Envelope converts between typed envelopes and frame payloads using a Codec.
type Envelope struct {
	codec Codec
}

// NewEnvelope returns an Envelope backed by c (JSON when c is nil).
func NewEnvelope(c Codec) *Envelope {
	if c == nil {
		c = &JSONCodec{}
	}
	return &Envelope{codec: c}
}

// Codec returns the underlying value codec.
func (e *Envelope) Codec() Codec {
	return e.codec
}

// EncodeRequest lays out req as {type, id, method, params?, meta}.
func (e *Envelope) EncodeRequest(req *message.Request) ([]byte, error) {
	if req.ID.IsZero() {
		return nil, errors.New("codec: request id is required")
	}
	if req.Method == "" {
		return nil, errors.New("codec: request method is required")
	}

	meta := map[string]any{}
	if req.Meta.TimeoutMS > 0 {
		meta["timeout_ms"] = req.Meta.TimeoutMS
	}
	if req.Meta.Idempotent {
		meta["idempotent"] = true
	}

	wire := map[string]any{
		"type":   message.TypeRequest,
		"id":     req.ID.Value(),
		"method": req.Method,
		"meta":   meta,
	}
	if !req.Params.IsZero() {
		wire["params"] = req.Params.Value()
	}
	return e.codec.Encode(wire)
}

// EncodeResponse lays out resp as {type, id, ok, result, error}. Exactly one of
// result and error is meaningful; the other is written as null.
func (e *Envelope) EncodeResponse(resp *message.Response) ([]byte, error) {
	if !resp.Valid() {
		return nil, errors.New("codec: response violates ok/result/error exclusivity")
	}

	wire := map[string]any{
		"type":   message.TypeResponse,
		"id":     resp.ID.Value(),
		"ok":     resp.OK,
		"result": nil,
		"error":  nil,
	}
	if resp.OK {
		wire["result"] = resp.Result
	} else {
		details := resp.Error.Details
		if details == nil {
			details = map[string]any{}
		}
		wire["error"] = map[string]any{
			"code":    string(resp.Error.Code),
			"message": resp.Error.Message,
			"details": details,
		}
	}
	return e.codec.Encode(wire)
}

// DecodeRequest parses and validates a request payload. Failures are
// *DecodeError values carrying a BAD_REQUEST error.
func (e *Envelope) DecodeRequest(data []byte) (*message.Request, error) {
	fields, err := e.decodeMap(data)
	if err != nil {
		return nil, badRequest(message.ID{}, err.Error(), nil)
	}
	if err := checkType(fields, message.TypeRequest); err != nil {
		return nil, err
	}

	rawID, ok := fields["id"]
	if !ok {
		return nil, badRequest(message.ID{}, "Field 'id' is required", map[string]any{"field": "id"})
	}
	id, err := message.ParseID(rawID)
	if err != nil {
		return nil, badRequest(message.ID{}, "Field 'id' is invalid: "+err.Error(), map[string]any{"field": "id"})
	}

	method, ok := fields["method"].(string)
	if !ok || method == "" {
		return nil, badRequest(id, "Field 'method' is required and must be a string", map[string]any{"field": "method"})
	}

	meta, err := decodeMeta(fields["meta"])
	if err != nil {
		return nil, badRequest(id, err.Error(), map[string]any{"field": "meta"})
	}

	return &message.Request{
		ID:     id,
		Method: method,
		Params: message.NewParams(fields["params"]),
		Meta:   meta,
	}, nil
}

// DecodeResponse parses and validates a response payload. A payload that breaks
// the ok/result/error invariant fails with an INTERNAL *DecodeError.
func (e *Envelope) DecodeResponse(data []byte) (*message.Response, error) {
	fields, err := e.decodeMap(data)
	if err != nil {
		return nil, internal(message.ID{}, err.Error())
	}
	if err := checkType(fields, message.TypeResponse); err != nil {
		return nil, err
	}

	id, err := message.ParseID(fields["id"])
	if err != nil {
		return nil, internal(message.ID{}, "malformed response: id "+err.Error())
	}

	ok, isBool := fields["ok"].(bool)
	if !isBool {
		return nil, internal(id, "malformed response: field 'ok' is required and must be a boolean")
	}

	if ok {
		if fields["error"] != nil {
			return nil, internal(id, "malformed response: ok=true with a non-null error")
		}
		return message.NewResult(id, fields["result"]), nil
	}

	if fields["result"] != nil {
		return nil, internal(id, "malformed response: ok=false with a non-null result")
	}
	body, isMap := fields["error"].(map[string]any)
	if !isMap {
		return nil, internal(id, "malformed response: ok=false requires an error object")
	}
	code, codeOK := body["code"].(string)
	msg, msgOK := body["message"].(string)
	if !codeOK || !msgOK {
		return nil, internal(id, "malformed response: error requires string code and message")
	}
	var details map[string]any
	switch d := body["details"].(type) {
	case nil:
	case map[string]any:
		details = d
	default:
		return nil, internal(id, "malformed response: error details must be an object")
	}

	return message.NewFailure(id, message.NewError(message.Code(code), msg, details)), nil
}

func (e *Envelope) decodeMap(data []byte) (map[string]any, error) {
	var raw any
	if err := e.codec.Decode(data, &raw); err != nil {
		return nil, fmt.Errorf("Payload is not a well-formed %s value: %v", e.codec.Type(), err)
	}
	fields, ok := message.Normalize(raw).(map[string]any)
	if !ok {
		return nil, errors.New("Payload must be an object")
	}
	return fields, nil
}

func decodeMeta(raw any) (message.Meta, error) {
	var meta message.Meta
	if raw == nil {
		return meta, nil
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return meta, errors.New("Field 'meta' must be an object when provided")
	}

	if v, present := fields["timeout_ms"]; present && v != nil {
		n, ok := v.(int64)
		if !ok || n <= 0 {
			return meta, errors.New("Field 'meta.timeout_ms' must be a positive integer")
		}
		meta.TimeoutMS = n
	}
	if v, present := fields["idempotent"]; present && v != nil {
		b, ok := v.(bool)
		if !ok {
			return meta, errors.New("Field 'meta.idempotent' must be a boolean")
		}
		meta.Idempotent = b
	}
	return meta, nil
}

func checkType(fields map[string]any, want string) error {
	t, present := fields["type"]
	if !present || t == nil {
		return nil
	}
	if s, ok := t.(string); ok && s == want {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnexpectedType, t)
}

func badRequest(id message.ID, msg string, details map[string]any) *DecodeError {
	return &DecodeError{ID: id, Err: message.NewError(message.CodeBadRequest, msg, details)}
}

func internal(id message.ID, msg string) *DecodeError {
	return &DecodeError{ID: id, Err: message.NewError(message.CodeInternal, msg, nil)}
}
