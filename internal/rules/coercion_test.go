package rules

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/rulebook/internal/types"
)

type level int

type label string

func TestCoerce(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		value   any
		class   scalarClass
		want    any
		wantErr error
	}{
		// NUMERIC (strict)
		{name: "numeric: float64 passthrough", value: 42.5, class: classNumeric, want: 42.5},
		{name: "numeric: int to int64", value: 100, class: classNumeric, want: int64(100)},
		{name: "numeric: uint8 to int64", value: uint8(7), class: classNumeric, want: int64(7)},
		{name: "numeric: named int", value: level(3), class: classNumeric, want: int64(3)},
		{name: "numeric: max uint64 stays unsigned", value: uint64(math.MaxUint64), class: classNumeric, want: uint64(math.MaxUint64)},
		{name: "numeric: string to int64", value: "25", class: classNumeric, want: int64(25)},
		{name: "numeric: string past 2^53", value: "9007199254740993", class: classNumeric, want: int64(9007199254740993)},
		{name: "numeric: string past MaxInt64", value: "18446744073709551615", class: classNumeric, want: uint64(math.MaxUint64)},
		{name: "numeric: fractional string", value: "2.5", class: classNumeric, want: 2.5},
		{name: "numeric: json.Number integer", value: json.Number("9007199254740993"), class: classNumeric, want: int64(9007199254740993)},
		{name: "numeric: string with whitespace", value: "  42  ", class: classNumeric, want: int64(42)},
		{name: "numeric: scientific notation", value: "1e3", class: classNumeric, want: 1000.0},
		{name: "numeric: bool rejected", value: true, class: classNumeric, wantErr: types.ErrMalformedComparisonValue},
		{name: "numeric: invalid string", value: "abc", class: classNumeric, wantErr: types.ErrMalformedComparisonValue},
		{name: "numeric: whitespace only", value: "   ", class: classNumeric, wantErr: types.ErrMalformedComparisonValue},

		// TEXT (lenient)
		{name: "text: passthrough", value: "hello", class: classText, want: "hello"},
		{name: "text: named string", value: label("vip"), class: classText, want: "vip"},
		{name: "text: integer", value: 5, class: classText, want: "5"},
		{name: "text: max uint64", value: uint64(math.MaxUint64), class: classText, want: "18446744073709551615"},
		{name: "text: float", value: 2.5, class: classText, want: "2.5"},
		{name: "text: bool", value: false, class: classText, want: "false"},
		{name: "text: time", value: ts, class: classText, want: "2024-05-01T12:00:00Z"},

		// BOOLEAN (strict)
		{name: "bool: true", value: true, class: classBool, want: true},
		{name: "bool: string rejected", value: "true", class: classBool, wantErr: types.ErrMalformedComparisonValue},
		{name: "bool: number rejected", value: 1, class: classBool, wantErr: types.ErrMalformedComparisonValue},

		// TIME
		{name: "time: passthrough", value: ts, class: classTime, want: ts},
		{name: "time: RFC3339", value: "2024-05-01T12:00:00Z", class: classTime, want: ts},
		{name: "time: invalid", value: "yesterday", class: classTime, wantErr: types.ErrMalformedComparisonValue},
		{name: "time: number rejected", value: 1714564800, class: classTime, wantErr: types.ErrMalformedComparisonValue},

		// DYNAMIC
		{name: "dynamic: normalises", value: int32(9), class: classDynamic, want: int64(9)},

		// Not scalars
		{name: "nil", value: nil, class: classText, wantErr: types.ErrMalformedComparisonValue},
		{name: "struct", value: address{}, class: classText, wantErr: types.ErrMalformedComparisonValue},
		{name: "no class", value: "x", class: classNone, wantErr: types.ErrMalformedComparisonValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerce(tt.value, tt.class)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("coerce() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if gt, ok := got.(time.Time); ok {
				if !gt.Equal(tt.want.(time.Time)) {
					t.Errorf("coerce() = %v, want %v", got, tt.want)
				}
				return
			}
			if got != tt.want {
				t.Errorf("coerce() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestScalarClassOf(t *testing.T) {
	tests := []struct {
		typ  reflect.Type
		want scalarClass
	}{
		{reflect.TypeFor[int32](), classNumeric},
		{reflect.TypeFor[float32](), classNumeric},
		{reflect.TypeFor[level](), classNumeric},
		{reflect.TypeFor[string](), classText},
		{reflect.TypeFor[label](), classText},
		{reflect.TypeFor[bool](), classBool},
		{reflect.TypeFor[time.Time](), classTime},
		{anyType, classDynamic},
		{reflect.TypeFor[[]string](), classNone},
		{reflect.TypeFor[address](), classNone},
		{reflect.TypeFor[complex64](), classNone},
	}

	for _, tt := range tests {
		if got := scalarClassOf(tt.typ); got != tt.want {
			t.Errorf("scalarClassOf(%s) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestCoerceSequence(t *testing.T) {
	got, err := coerceSequence([]any{"1", 2, 3.5}, classNumeric)
	if err != nil {
		t.Fatalf("coerceSequence() error = %v", err)
	}
	want := []any{int64(1), int64(2), 3.5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("coerceSequence() = %v, want %v", got, want)
	}

	if _, err := coerceSequence([]any{"1", "x"}, classNumeric); !errors.Is(err, types.ErrMalformedComparisonValue) {
		t.Errorf("coerceSequence() error = %v, want ErrMalformedComparisonValue", err)
	}

	tooMany := make([]int, types.MaxSequenceValues+1)
	if _, err := coerceSequence(tooMany, classNumeric); !errors.Is(err, types.ErrTooManySequenceValues) {
		t.Errorf("coerceSequence() error = %v, want ErrTooManySequenceValues", err)
	}
}

func TestIsLiteralSequence(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{[]any{1}, true},
		{[]string{"a"}, true},
		{[2]int{1, 2}, true},
		{"abc", false},
		{[]byte("abc"), false},
		{nil, false},
		{42, false},
	}

	for _, tt := range tests {
		if got := isLiteralSequence(tt.value); got != tt.want {
			t.Errorf("isLiteralSequence(%#v) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

// Property-based test: any integer coerces to the same number regardless of width
func TestCoerce_PropertyIntegerWidths(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("integer widths coerce identically", prop.ForAll(
		func(n int32) bool {
			a, err1 := coerce(n, classNumeric)
			b, err2 := coerce(int64(n), classNumeric)
			c, err3 := coerce(float64(n), classNumeric)
			if err1 != nil || err2 != nil || err3 != nil || a != b {
				return false
			}
			cmp, ok := compareNumbers(b, c)
			return ok && cmp == 0
		},
		gen.Int32(),
	))

	properties.Property("numeric strings round-trip", prop.ForAll(
		func(f float64) bool {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return true
			}
			text, err := coerce(f, classText)
			if err != nil {
				return false
			}
			back, err := coerce(text, classNumeric)
			if err != nil {
				return false
			}
			cmp, ok := compareNumbers(back, f)
			return ok && cmp == 0
		},
		gen.Float64(),
	))

	properties.TestingRun(t)
}

func TestCompareNumbers(t *testing.T) {
	tests := []struct {
		name   string
		a, b   any
		want   int
		wantOK bool
	}{
		{name: "int64 past 2^53", a: int64(9007199254740993), b: int64(9007199254740992), want: 1, wantOK: true},
		{name: "int64 vs float64 past 2^53", a: int64(9007199254740993), b: float64(9007199254740992), want: 1, wantOK: true},
		{name: "float64 vs int64 equal", a: float64(1 << 60), b: int64(1 << 60), want: 0, wantOK: true},
		{name: "float64 fraction above int64", a: 2.5, b: int64(2), want: 1, wantOK: true},
		{name: "negative fraction below int64", a: -2.5, b: int64(-2), want: -1, wantOK: true},
		{name: "uint64 neighbours", a: uint64(math.MaxUint64 - 1), b: uint64(math.MaxUint64), want: -1, wantOK: true},
		{name: "negative int64 vs uint64", a: int64(-1), b: uint64(math.MaxUint64), want: -1, wantOK: true},
		{name: "uint64 vs float64 2^64", a: uint64(math.MaxUint64), b: float64(1 << 64), want: -1, wantOK: true},
		{name: "float64 above int64 range", a: 1e19, b: int64(math.MaxInt64), want: 1, wantOK: true},
		{name: "float64 below int64 range", a: -1e19, b: int64(math.MinInt64), want: -1, wantOK: true},
		{name: "infinity", a: math.Inf(1), b: uint64(math.MaxUint64), want: 1, wantOK: true},
		{name: "NaN", a: math.NaN(), b: int64(0), wantOK: false},
		{name: "not a number", a: "1", b: int64(1), wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := compareNumbers(tt.a, tt.b)
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("compareNumbers(%v, %v) = %d, %v, want %d, %v", tt.a, tt.b, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNarrowLiteral(t *testing.T) {
	f32 := reflect.TypeFor[float32]()

	if got := narrowLiteral(0.1, f32); got != float64(float32(0.1)) {
		t.Errorf("narrowLiteral(0.1, float32) = %v, want %v", got, float64(float32(0.1)))
	}
	if got := narrowLiteral(int64(3), f32); got != 3.0 {
		t.Errorf("narrowLiteral(3, float32) = %v (%T), want 3.0", got, got)
	}
	if got := narrowLiteral(0.1, reflect.TypeFor[float64]()); got != 0.1 {
		t.Errorf("narrowLiteral(0.1, float64) = %v, want 0.1", got)
	}
	if got := narrowLiteral("x", f32); got != "x" {
		t.Errorf("narrowLiteral(x, float32) = %v, want x", got)
	}
}

func TestScalarKey_IntegralFloats(t *testing.T) {
	set := newScalarSet([]any{int64(5), uint64(math.MaxUint64)})

	if !set.has(5.0) {
		t.Error("5.0 should share the key of int64(5)")
	}
	if set.has(5.5) {
		t.Error("5.5 should not match int64(5)")
	}
	if set.has(int64(9007199254740993)) {
		t.Error("unrelated large integer should not match")
	}
}
