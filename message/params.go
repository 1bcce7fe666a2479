package message

import (
	"fmt"
	"reflect"
)

// ParamsKind classifies the shape of a request's params.
type ParamsKind uint8

const (
	ParamsNone       ParamsKind = iota // no arguments
	ParamsPositional                   // ordered sequence of values
	ParamsNamed                        // mapping from name to value
	ParamsScalar                       // single scalar
)

func (k ParamsKind) String() string {
	switch k {
	case ParamsNone:
		return "none"
	case ParamsPositional:
		return "positional"
	case ParamsNamed:
		return "named"
	default:
		return "scalar"
	}
}

// Params holds a request's arguments as a structured value.
// The zero value means "no arguments".
type Params struct {
	value any
}

// NewParams wraps v. A nil v yields empty Params. Any value the codec can
// encode is accepted: slices become positional params, maps and structs named
// params, everything else a scalar.
func NewParams(v any) Params {
	if p, ok := v.(Params); ok {
		return p
	}
	return Params{value: v}
}

// Positional is shorthand for NewParams([]any{args...}).
func Positional(args ...any) Params {
	return Params{value: args}
}

// Value returns the wrapped value (nil when absent).
func (p Params) Value() any { return p.value }

// IsZero reports whether no params were given.
func (p Params) IsZero() bool { return p.value == nil }

// Kind classifies the params.
func (p Params) Kind() ParamsKind {
	if p.value == nil {
		return ParamsNone
	}
	rv := reflect.ValueOf(p.value)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return ParamsScalar
		}
		return ParamsPositional
	case reflect.Array:
		return ParamsPositional
	case reflect.Map, reflect.Struct:
		return ParamsNamed
	case reflect.Pointer:
		if rv.IsNil() {
			return ParamsNone
		}
		return NewParams(rv.Elem().Interface()).Kind()
	default:
		return ParamsScalar
	}
}

// Len returns the number of positional or named arguments, 1 for a scalar and
// 0 when absent.
func (p Params) Len() int {
	switch p.Kind() {
	case ParamsNone:
		return 0
	case ParamsScalar:
		return 1
	case ParamsPositional:
		return reflect.Indirect(reflect.ValueOf(p.value)).Len()
	default:
		rv := reflect.Indirect(reflect.ValueOf(p.value))
		if rv.Kind() == reflect.Map {
			return rv.Len()
		}
		return rv.NumField()
	}
}

// Bind decodes the params into v, which must be a non-nil pointer.
//
//   - named params and scalars are decoded as a whole;
//   - positional params are assigned to the exported fields of a struct target in
//     declaration order, or decoded as a whole into a slice or array target;
//   - absent params leave v untouched.
func (p Params) Bind(v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("params: bind target must be a non-nil pointer, got %T", v)
	}

	switch p.Kind() {
	case ParamsNone:
		return nil
	case ParamsPositional:
		target := rv.Elem()
		if target.Kind() == reflect.Struct {
			return p.bindFields(target)
		}
	}
	return Convert(p.value, v)
}

// Arg decodes the i-th positional argument into v.
func (p Params) Arg(i int, v any) error {
	if p.Kind() != ParamsPositional {
		return fmt.Errorf("params: expected positional params, got %s", p.Kind())
	}
	args := reflect.Indirect(reflect.ValueOf(p.value))
	if i < 0 || i >= args.Len() {
		return fmt.Errorf("params: argument %d out of range (have %d)", i, args.Len())
	}
	return Convert(args.Index(i).Interface(), v)
}

func (p Params) bindFields(target reflect.Value) error {
	args := reflect.Indirect(reflect.ValueOf(p.value))
	typ := target.Type()

	var fields []int
	for i := 0; i < typ.NumField(); i++ {
		if typ.Field(i).IsExported() {
			fields = append(fields, i)
		}
	}
	if args.Len() > len(fields) {
		return fmt.Errorf("params: got %d positional arguments, %s accepts %d", args.Len(), typ, len(fields))
	}

	for i := 0; i < args.Len(); i++ {
		field := target.Field(fields[i])
		if err := Convert(args.Index(i).Interface(), field.Addr().Interface()); err != nil {
			return fmt.Errorf("params: argument %d (%s): %w", i, typ.Field(fields[i]).Name, err)
		}
	}
	return nil
}
