// internal/rules/coercion.go
package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/solatis/rulebook/internal/types"
)

/*
 * Type coercion for rule comparison values.
 *
 * Implements a 4-class scalar system (NUMERIC, TEXT, BOOLEAN, TIME) plus
 * DYNAMIC for interface-typed properties. Literals are coerced to the class
 * of the resolved property once, at compile time; coercion failure is a
 * compile error (ErrMalformedComparisonValue), never an evaluation error.
 *
 * Class modes:
 *   - NUMERIC: Strict - numbers and numeric strings, booleans rejected
 *   - TEXT: Lenient - numbers and booleans are formatted as strings
 *   - BOOLEAN: Strict - boolean only (avoids "true" vs 1 ambiguity)
 *   - TIME: time.Time or RFC3339 strings
 *
 * Runtime values are normalised by normalize(): signed integers become
 * int64, unsigned integers become int64 when they fit and uint64 otherwise,
 * floats become float64, and named string/bool types lose their name.
 * Comparators only ever see int64, uint64, float64, string, bool or
 * time.Time. Integers are never routed through float64, so values above
 * 2^53 compare exactly.
 *
 * Literals compared against float32 properties are rounded to float32
 * precision at compile time (narrowLiteral), matching what the property
 * can hold.
 */

type scalarClass int

const (
	classNone scalarClass = iota
	classNumeric
	classText
	classBool
	classTime
	classDynamic
)

func (c scalarClass) String() string {
	switch c {
	case classNumeric:
		return "numeric"
	case classText:
		return "text"
	case classBool:
		return "boolean"
	case classTime:
		return "time"
	case classDynamic:
		return "dynamic"
	default:
		return "none"
	}
}

// scalarClassOf classifies a static type. Interface types are dynamic.
func scalarClassOf(t reflect.Type) scalarClass {
	if t == nil {
		return classDynamic
	}
	if t == timeType {
		return classTime
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return classNumeric
	case reflect.String:
		return classText
	case reflect.Bool:
		return classBool
	case reflect.Interface:
		return classDynamic
	default:
		return classNone
	}
}

// classOfValue classifies a normalised runtime value.
func classOfValue(v any) scalarClass {
	switch v.(type) {
	case int64, uint64, float64:
		return classNumeric
	case string:
		return classText
	case bool:
		return classBool
	case time.Time:
		return classTime
	default:
		return classNone
	}
}

// coerce converts value to the given class.
// Returns ErrMalformedComparisonValue for impossible coercions.
func coerce(value any, class scalarClass) (any, error) {
	n, ok := normalize(value)
	if !ok {
		return nil, fmt.Errorf("%w: %v (%T) is not a scalar", types.ErrMalformedComparisonValue, value, value)
	}

	switch class {
	case classNumeric:
		return coerceNumeric(n)
	case classText:
		return coerceText(n)
	case classBool:
		return coerceBoolean(n)
	case classTime:
		return coerceTime(n)
	case classDynamic:
		return n, nil
	default:
		return nil, fmt.Errorf("%w: no scalar class for %v", types.ErrMalformedComparisonValue, value)
	}
}

// coerceNumeric accepts numbers and numeric strings. Rejects booleans per strict mode.
// Whitespace-only strings are not valid numbers.
func coerceNumeric(v any) (any, error) {
	switch x := v.(type) {
	case int64, uint64, float64:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, fmt.Errorf("%w: empty numeric string", types.ErrMalformedComparisonValue)
		}
		n, ok := parseNumber(s)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not numeric", types.ErrMalformedComparisonValue, x)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%w: %v is not numeric", types.ErrMalformedComparisonValue, v)
	}
}

// coerceText converts all scalars to their string representation.
func coerceText(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	default:
		return nil, fmt.Errorf("%w: %v is not text", types.ErrMalformedComparisonValue, v)
	}
}

// coerceBoolean validates value is a boolean.
func coerceBoolean(v any) (any, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return nil, fmt.Errorf("%w: %v is not a boolean", types.ErrMalformedComparisonValue, v)
}

// coerceTime accepts time.Time and RFC3339 strings.
func coerceTime(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(x))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an RFC3339 time", types.ErrMalformedComparisonValue, x)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: %v is not a time", types.ErrMalformedComparisonValue, v)
	}
}

// normalize maps a runtime scalar to int64, uint64, float64, string, bool
// or time.Time.
func normalize(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case float64:
		return x, true
	case string:
		return x, true
	case bool:
		return x, true
	case int:
		return int64(x), true
	case int64:
		return x, true
	case time.Time:
		return x, true
	case json.Number:
		return parseNumber(string(x))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return fromUint(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.String:
		return rv.String(), true
	case reflect.Bool:
		return rv.Bool(), true
	case reflect.Struct:
		if rv.Type().ConvertibleTo(timeType) {
			return rv.Convert(timeType).Interface(), true
		}
	}
	return nil, false
}

// fromUint keeps unsigned values in int64 when they fit, so a number has
// one representation per magnitude.
func fromUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}

// parseNumber parses integers exactly before falling back to float64.
func parseNumber(s string) (any, bool) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return fromUint(u), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	return f, true
}

// narrowLiteral rounds a numeric literal to float32 precision when the
// property it is compared against is a float32.
func narrowLiteral(v any, t reflect.Type) any {
	if t == nil || t.Kind() != reflect.Float32 {
		return v
	}
	switch x := v.(type) {
	case int64:
		return float64(float32(x))
	case uint64:
		return float64(float32(x))
	case float64:
		return float64(float32(x))
	default:
		return v
	}
}

// coerceLiteral coerces a rule literal for a property of the given shape.
func coerceLiteral(value any, shape Shape) (any, error) {
	c, err := coerce(value, subjectClass(shape))
	if err != nil {
		return nil, err
	}
	return narrowLiteral(c, shape.Elem), nil
}

// coerceSequence turns a literal slice/array into coerced scalars.
// Enforces MaxSequenceValues.
func coerceSequence(value any, class scalarClass) ([]any, error) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || !isSequence(rv.Kind()) {
		return nil, fmt.Errorf("%w: %v is not a sequence", types.ErrMalformedComparisonValue, value)
	}
	if rv.Len() > types.MaxSequenceValues {
		return nil, types.ErrTooManySequenceValues
	}

	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		c, err := coerce(rv.Index(i).Interface(), class)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// isLiteralSequence reports whether a rule value is a literal sequence.
// Strings and byte slices are scalars.
func isLiteralSequence(value any) bool {
	if value == nil {
		return false
	}
	rv := reflect.ValueOf(value)
	if !isSequence(rv.Kind()) {
		return false
	}
	return rv.Type().Elem().Kind() != reflect.Uint8
}
