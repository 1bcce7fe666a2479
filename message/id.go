package message

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

type idKind uint8

const (
	idNone idKind = iota
	idInt
	idFloat
	idString
)

// ID identifies a request among the outstanding requests on one connection.
// It is opaque to the transport: a number or a string, compared for equality only.
// IDs are comparable and can be used as map keys.
type ID struct {
	kind idKind
	i    int64
	f    float64
	s    string
}

// IntID returns a numeric ID.
func IntID(n int64) ID { return ID{kind: idInt, i: n} }

// StringID returns a string ID.
func StringID(s string) ID { return ID{kind: idString, s: s} }

// FloatID returns a numeric ID with a fractional part. Whole values collapse to IntID
// so that 3 and 3.0 are the same id.
func FloatID(f float64) ID {
	if f == math.Trunc(f) && f >= math.MinInt64 && f <= math.MaxInt64 {
		return IntID(int64(f))
	}
	return ID{kind: idFloat, f: f}
}

// IsZero reports whether id is unset.
func (id ID) IsZero() bool { return id.kind == idNone }

// IsString reports whether id is a string ID.
func (id ID) IsString() bool { return id.kind == idString }

// Value returns the Go value to encode: int64, float64, string, or nil.
func (id ID) Value() any {
	switch id.kind {
	case idInt:
		return id.i
	case idFloat:
		return id.f
	case idString:
		return id.s
	default:
		return nil
	}
}

func (id ID) String() string {
	switch id.kind {
	case idInt:
		return strconv.FormatInt(id.i, 10)
	case idFloat:
		return strconv.FormatFloat(id.f, 'g', -1, 64)
	case idString:
		return strconv.Quote(id.s)
	default:
		return "<none>"
	}
}

// ParseID converts a decoded scalar into an ID. It accepts the normalized forms
// produced by Normalize (int64, float64, string) plus the other Go integer types.
func ParseID(v any) (ID, error) {
	switch x := v.(type) {
	case string:
		return StringID(x), nil
	case int64:
		return IntID(x), nil
	case int:
		return IntID(int64(x)), nil
	case int32:
		return IntID(int64(x)), nil
	case uint32:
		return IntID(int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return FloatID(float64(x)), nil
		}
		return IntID(int64(x)), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return ID{}, fmt.Errorf("id must be finite, got %v", x)
		}
		return FloatID(x), nil
	case json.Number:
		return ParseID(Normalize(x))
	case nil:
		return ID{}, fmt.Errorf("id is required")
	default:
		return ID{}, fmt.Errorf("id must be a number or a string, got %T", v)
	}
}

// MarshalJSON encodes the id as its JSON number or string.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Value())
}

// UnmarshalJSON decodes a JSON number or string.
func (id *ID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a number or a string: %w", err)
	}
	parsed, err := ParseID(n)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
