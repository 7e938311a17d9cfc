package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Argument errors
var (
	ErrMissingArgument = errors.New("missing argument")
	ErrArgumentType    = errors.New("argument has wrong type")
)

// Input is the resolved argument set handed to a job body. Markers have
// already been replaced by their values.
type Input struct {
	Args   []any
	Kwargs map[string]any
}

// Arg returns the positional argument at i, or nil when out of range
func (in Input) Arg(i int) any {
	if i < 0 || i >= len(in.Args) {
		return nil
	}
	return in.Args[i]
}

// Kwarg returns the named argument, or nil when absent
func (in Input) Kwarg(name string) any {
	return in.Kwargs[name]
}

// Lookup finds an argument by name first, then by position. A negative pos
// skips the positional lookup.
func (in Input) Lookup(pos int, name string) (any, bool) {
	if name != "" {
		if v, ok := in.Kwargs[name]; ok {
			return v, true
		}
	}
	if pos >= 0 && pos < len(in.Args) {
		return in.Args[pos], true
	}
	return nil, false
}

// Value looks up an argument like Lookup and converts it to T. Numbers
// decoded from JSON are converted to the requested numeric type when the
// conversion is lossless.
func Value[T any](in Input, pos int, name string) (T, error) {
	var zero T
	v, ok := in.Lookup(pos, name)
	if !ok {
		return zero, fmt.Errorf("%w: position %d, name %q", ErrMissingArgument, pos, name)
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	if converted, ok := convertNumber(v, zero); ok {
		return converted.(T), nil
	}
	return zero, fmt.Errorf("%w: %q is %T, want %T", ErrArgumentType, name, v, zero)
}

func convertNumber(v any, target any) (any, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil, false
		}
		f = parsed
	default:
		return nil, false
	}

	switch target.(type) {
	case int:
		if f != math.Trunc(f) {
			return nil, false
		}
		return int(f), true
	case int64:
		if f != math.Trunc(f) {
			return nil, false
		}
		return int64(f), true
	case float64:
		return f, true
	}
	return nil, false
}
