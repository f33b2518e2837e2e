// internal/rules/operators.go
package rules

import (
	"cmp"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/solatis/rulebook/internal/types"
)

/*
 * Operator comparison logic.
 *
 * Comparators operate on normalised scalars (int64, uint64, float64,
 * string, bool, time.Time). Literal operands are coerced at compile time, so on statically
 * typed properties both sides already share a class. Dynamic properties and
 * property references are aligned at evaluation (see align), and a failed
 * coercion means "not satisfied".
 *
 * Operators:
 *   - Equal/NotEqual: class-aware equality (times compare by instant)
 *   - numbers compare exactly across int64, uint64 and float64 (compareNumbers)
 *   - LessThan..GreaterThanOrEqual: numbers, strings (ordinal) and times
 *   - EqualIgnoreCase: Unicode case folding
 *   - StartsWith/EndsWith/Contains/NotContains: ordinal, case-sensitive
 *   - In/NotIn/ContainsAll/ContainsAny: set semantics over scalar keys
 *
 * Booleans only support equality; ordering on mixed classes is false.
 */

// compareScalar applies a scalar operator. subject and operand are normalised.
func compareScalar(op types.Operator, subject, operand any) bool {
	subject, operand, ok := align(subject, operand)
	if !ok {
		return false
	}

	switch op {
	case types.OpEqual:
		return equalScalars(subject, operand)
	case types.OpNotEqual:
		return !equalScalars(subject, operand)
	case types.OpLessThan:
		c, ok := compareOrdered(subject, operand)
		return ok && c < 0
	case types.OpLessThanOrEqual:
		c, ok := compareOrdered(subject, operand)
		return ok && c <= 0
	case types.OpGreaterThan:
		c, ok := compareOrdered(subject, operand)
		return ok && c > 0
	case types.OpGreaterThanOrEqual:
		c, ok := compareOrdered(subject, operand)
		return ok && c >= 0
	case types.OpEqualIgnoreCase:
		return withStrings(subject, operand, strings.EqualFold)
	case types.OpStartsWith:
		return withStrings(subject, operand, strings.HasPrefix)
	case types.OpEndsWith:
		return withStrings(subject, operand, strings.HasSuffix)
	case types.OpContains:
		return withStrings(subject, operand, strings.Contains)
	case types.OpNotContains:
		return withStrings(subject, operand, func(s, sub string) bool { return !strings.Contains(s, sub) })
	default:
		return false
	}
}

// align brings two normalised scalars to one class. Numeric wins over
// time, time wins over text; otherwise the subject's class is used.
func align(subject, operand any) (any, any, bool) {
	sc, oc := classOfValue(subject), classOfValue(operand)
	if sc == classNone || oc == classNone {
		return nil, nil, false
	}
	if sc == oc {
		return subject, operand, true
	}

	target := sc
	switch {
	case sc == classNumeric || oc == classNumeric:
		target = classNumeric
	case sc == classTime || oc == classTime:
		target = classTime
	}

	s, err := coerce(subject, target)
	if err != nil {
		return nil, nil, false
	}
	o, err := coerce(operand, target)
	if err != nil {
		return nil, nil, false
	}
	return s, o, true
}

// equalScalars compares two normalised scalars of the same class.
func equalScalars(a, b any) bool {
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case int64, uint64, float64:
		c, ok := compareNumbers(a, b)
		return ok && c == 0
	case string, bool:
		return a == b
	default:
		return false
	}
}

// compareOrdered performs three-way comparison (-1/0/1).
// Returns false for booleans and mismatched classes.
func compareOrdered(a, b any) (int, bool) {
	switch x := a.(type) {
	case int64, uint64, float64:
		return compareNumbers(a, b)
	case string:
		y, ok := b.(string)
		return strings.Compare(x, y), ok
	case time.Time:
		y, ok := b.(time.Time)
		return x.Compare(y), ok
	default:
		return 0, false
	}
}

// Bounds of the integer ranges as floats; all three are exact powers of two.
const (
	minInt64Float  = -1 << 63
	maxInt64Float  = 1 << 63
	maxUint64Float = 1 << 64
)

// compareNumbers orders two normalised numbers without rounding either side.
// ok is false when either side is NaN or not a number.
func compareNumbers(a, b any) (int, bool) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, y), true
		case uint64:
			return compareIntUint(x, y), true
		case float64:
			c, ok := compareFloatInt(y, x)
			return -c, ok
		}
	case uint64:
		switch y := b.(type) {
		case int64:
			return -compareIntUint(y, x), true
		case uint64:
			return cmp.Compare(x, y), true
		case float64:
			c, ok := compareFloatUint(y, x)
			return -c, ok
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return compareFloatInt(x, y)
		case uint64:
			return compareFloatUint(x, y)
		case float64:
			if math.IsNaN(x) || math.IsNaN(y) {
				return 0, false
			}
			return cmp.Compare(x, y), true
		}
	}
	return 0, false
}

func compareIntUint(i int64, u uint64) int {
	if i < 0 {
		return -1
	}
	return cmp.Compare(uint64(i), u)
}

// compareFloatInt compares the integral parts as int64 and then the
// fractional remainder, so no int64 is ever converted to float64.
func compareFloatInt(f float64, i int64) (int, bool) {
	switch {
	case math.IsNaN(f):
		return 0, false
	case f < minInt64Float:
		return -1, true
	case f >= maxInt64Float:
		return 1, true
	}
	t := math.Trunc(f)
	if c := cmp.Compare(int64(t), i); c != 0 {
		return c, true
	}
	return cmp.Compare(f, t), true
}

func compareFloatUint(f float64, u uint64) (int, bool) {
	switch {
	case math.IsNaN(f):
		return 0, false
	case f < 0:
		return -1, true
	case f >= maxUint64Float:
		return 1, true
	}
	t := math.Trunc(f)
	if c := cmp.Compare(uint64(t), u); c != 0 {
		return c, true
	}
	return cmp.Compare(f, t), true
}

func withStrings(a, b any, fn func(string, string) bool) bool {
	as, ok1 := a.(string)
	bs, ok2 := b.(string)
	if !ok1 || !ok2 {
		return false
	}
	return fn(as, bs)
}

// timeKey keys times by instant so zones do not split equal values.
type timeKey int64

// scalarKey maps a normalised scalar to a comparable map key. Integral
// floats key as the integer they equal, so 5 and 5.0 share a key.
func scalarKey(v any) any {
	switch x := v.(type) {
	case time.Time:
		return timeKey(x.UnixNano())
	case float64:
		if x != math.Trunc(x) {
			return x
		}
		if x >= minInt64Float && x < maxInt64Float {
			return int64(x)
		}
		if x >= 0 && x < maxUint64Float {
			return uint64(x)
		}
	}
	return v
}

// scalarSet is a membership index over normalised scalars.
type scalarSet map[any]struct{}

func newScalarSet(values []any) scalarSet {
	set := make(scalarSet, len(values))
	for _, v := range values {
		set[scalarKey(v)] = struct{}{}
	}
	return set
}

func (s scalarSet) has(v any) bool {
	_, ok := s[scalarKey(v)]
	return ok
}

// contains reports membership, aligning v to the class of the set's values
// when a direct lookup misses. class is classNone for sets built at runtime.
func (s scalarSet) contains(v any, class scalarClass) bool {
	if s.has(v) {
		return true
	}
	if class == classNone || class == classDynamic || classOfValue(v) == class {
		return false
	}
	coerced, err := coerce(v, class)
	return err == nil && s.has(coerced)
}

// scalarElems normalises the scalar elements of a sequence value.
// Absent and non-scalar elements are skipped. ok is false when v is not a
// sequence.
func scalarElems(v any) ([]any, bool) {
	if vs, ok := v.([]any); ok {
		out := make([]any, 0, len(vs))
		for _, e := range vs {
			if n, ok := normalize(e); ok {
				out = append(out, n)
			}
		}
		return out, true
	}

	rv, ok := indirect(reflect.ValueOf(v))
	if !ok || !isSequence(rv.Kind()) {
		return nil, false
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		e, ok := indirectLeaf(rv.Index(i))
		if !ok {
			continue
		}
		if n, ok := normalize(e.Interface()); ok {
			out = append(out, n)
		}
	}
	return out, true
}

// containsScalar reports whether any element equals target after alignment.
func containsScalar(elems []any, target any) bool {
	for _, e := range elems {
		if a, b, ok := align(e, target); ok && equalScalars(a, b) {
			return true
		}
	}
	return false
}

// subsetMatch implements ContainsAll (every want is present) and
// ContainsAny (at least one want is present).
func subsetMatch(op types.Operator, have, want []any) bool {
	switch op {
	case types.OpContainsAll:
		for _, w := range want {
			if !containsScalar(have, w) {
				return false
			}
		}
		return true
	case types.OpContainsAny:
		for _, w := range want {
			if containsScalar(have, w) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// elementsOf yields the elements nested rule sets are evaluated against.
// Maps yield {Key, Value} entries.
func elementsOf(v any) ([]reflect.Value, bool) {
	rv, ok := indirect(reflect.ValueOf(v))
	if !ok {
		return nil, false
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]reflect.Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, rv.Index(i))
		}
		return out, true

	case reflect.Map:
		if rv.IsNil() {
			return nil, false
		}
		et := entryType(rv.Type())
		out := make([]reflect.Value, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			entry := reflect.New(et).Elem()
			entry.Field(0).Set(iter.Key())
			entry.Field(1).Set(iter.Value())
			out = append(out, entry)
		}
		return out, true

	default:
		return nil, false
	}
}
