package rules

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/rulebook/internal/types"
)

func TestCompileRule_Categories(t *testing.T) {
	tests := []struct {
		name string
		rule types.Rule
		want OperatorCategory
	}{
		{
			name: "scalar comparison",
			rule: types.Rule{Property: "Age", Operator: types.OpGreaterThan, Value: 18},
			want: CategoryDirect,
		},
		{
			name: "property reference",
			rule: types.Rule{Property: "Home", Operator: types.OpEqual, Value: types.Ref("Address.City")},
			want: CategoryInternalDirect,
		},
		{
			name: "element membership",
			rule: types.Rule{Property: "Tags", Operator: types.OpContains, Value: "vip"},
			want: CategoryEnumerable,
		},
		{
			name: "literal set",
			rule: types.Rule{Property: "Country", Operator: types.OpIn, Value: []any{"IT", "FR"}},
			want: CategoryExternalEnumerable,
		},
		{
			name: "nested set",
			rule: types.Rule{Property: "Orders", Operator: types.OpAny, Value: &types.RulesSet{Rules: []types.Rule{
				{Property: "Total", Operator: types.OpGreaterThan, Value: 100},
			}}},
			want: CategoryKeyValue,
		},
		{
			name: "reference membership",
			rule: types.Rule{Property: "Country", Operator: types.OpIn, Value: types.Ref("Allowed")},
			want: CategoryInternalEnumerable,
		},
		{
			name: "reference subset",
			rule: types.Rule{Property: "Tags", Operator: types.OpContainsAny, Value: types.Ref("Allowed")},
			want: CategoryInternalCrossEnumerable,
		},
		{
			name: "null check",
			rule: types.Rule{Property: "Address", Operator: types.OpIsNull},
			want: CategoryDirect,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := CompileRule[person](tt.rule)
			if err != nil {
				t.Fatalf("CompileRule() error = %v, want nil", err)
			}
			if compiled.Category() != tt.want {
				t.Errorf("Category() = %v, want %v", compiled.Category(), tt.want)
			}
			if compiled.Rule().Property != tt.rule.Property {
				t.Errorf("Rule().Property = %v, want %v", compiled.Rule().Property, tt.rule.Property)
			}
		})
	}
}

func TestCompileRule_Failures(t *testing.T) {
	deep := &types.RulesSet{Rules: []types.Rule{{Property: "x", Operator: types.OpIsNotNull}}}
	for i := 0; i < types.MaxNestingDepth; i++ {
		deep = &types.RulesSet{Rules: []types.Rule{{Property: "items", Operator: types.OpAny, Value: deep}}}
	}

	tests := []struct {
		name    string
		rule    types.Rule
		wantErr error
	}{
		{
			name:    "empty path",
			rule:    types.Rule{Property: "", Operator: types.OpEqual, Value: 1},
			wantErr: types.ErrEmptyPath,
		},
		{
			name:    "unknown property",
			rule:    types.Rule{Property: "Salary", Operator: types.OpGreaterThan, Value: 1},
			wantErr: types.ErrPropertyNotFound,
		},
		{
			name:    "invalid operator",
			rule:    types.Rule{Property: "Age", Operator: types.Operator(42), Value: 1},
			wantErr: types.ErrInvalidOperator,
		},
		{
			name:    "unspecified operator",
			rule:    types.Rule{Property: "Age", Value: 1},
			wantErr: types.ErrInvalidOperator,
		},
		{
			name:    "unsupported leaf type",
			rule:    types.Rule{Property: "Callback", Operator: types.OpIsNull},
			wantErr: types.ErrUnsupportedPropertyType,
		},
		{
			name:    "ordering on bool",
			rule:    types.Rule{Property: "Active", Operator: types.OpGreaterThan, Value: true},
			wantErr: types.ErrUnsupportedOperatorForShape,
		},
		{
			name:    "string operator on number",
			rule:    types.Rule{Property: "Age", Operator: types.OpStartsWith, Value: "1"},
			wantErr: types.ErrUnsupportedOperatorForShape,
		},
		{
			name:    "equal on object",
			rule:    types.Rule{Property: "Address", Operator: types.OpEqual, Value: "Rome"},
			wantErr: types.ErrUnsupportedOperatorForShape,
		},
		{
			name:    "in with scalar",
			rule:    types.Rule{Property: "Country", Operator: types.OpIn, Value: "IT"},
			wantErr: types.ErrUnsupportedOperatorForShape,
		},
		{
			name:    "missing value",
			rule:    types.Rule{Property: "Age", Operator: types.OpEqual},
			wantErr: types.ErrUnsupportedOperatorForShape,
		},
		{
			name:    "non-numeric literal",
			rule:    types.Rule{Property: "Age", Operator: types.OpGreaterThan, Value: "eighteen"},
			wantErr: types.ErrMalformedComparisonValue,
		},
		{
			name:    "bool literal for number",
			rule:    types.Rule{Property: "Age", Operator: types.OpEqual, Value: true},
			wantErr: types.ErrMalformedComparisonValue,
		},
		{
			name:    "struct literal",
			rule:    types.Rule{Property: "Name", Operator: types.OpEqual, Value: address{}},
			wantErr: types.ErrMalformedComparisonValue,
		},
		{
			name:    "invalid regex",
			rule:    types.Rule{Property: "Name", Operator: types.OpMatches, Value: "(unclosed"},
			wantErr: types.ErrMalformedComparisonValue,
		},
		{
			name:    "invalid glob",
			rule:    types.Rule{Property: "Name", Operator: types.OpLike, Value: "[a"},
			wantErr: types.ErrMalformedComparisonValue,
		},
		{
			name:    "pattern too long",
			rule:    types.Rule{Property: "Name", Operator: types.OpMatches, Value: strings.Repeat("a", types.MaxPatternLength+1)},
			wantErr: types.ErrMalformedComparisonValue,
		},
		{
			name:    "too many literal values",
			rule:    types.Rule{Property: "Country", Operator: types.OpIn, Value: make([]string, types.MaxSequenceValues+1)},
			wantErr: types.ErrTooManySequenceValues,
		},
		{
			name:    "unknown reference",
			rule:    types.Rule{Property: "Home", Operator: types.OpEqual, Value: types.Ref("Address.Zip")},
			wantErr: types.ErrPropertyNotFound,
		},
		{
			name: "nested rule on element type",
			rule: types.Rule{Property: "Orders", Operator: types.OpAny, Value: &types.RulesSet{Rules: []types.Rule{
				{Property: "Country", Operator: types.OpEqual, Value: "IT"},
			}}},
			wantErr: types.ErrPropertyNotFound,
		},
		{
			name:    "nesting too deep",
			rule:    types.Rule{Property: "Extra", Operator: types.OpAny, Value: deep},
			wantErr: types.ErrNestingTooDeep,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := CompileRule[person](tt.rule)
			if compiled != nil {
				t.Errorf("CompileRule() = %v, want nil", compiled)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CompileRule() error = %v, want %v", err, tt.wantErr)
			}
			var ce *CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("CompileRule() error %T is not *CompileError", err)
			}
			if ce.Property != tt.rule.Property {
				t.Errorf("CompileError.Property = %q, want %q", ce.Property, tt.rule.Property)
			}
		})
	}
}

func TestCompileRulesSet_MalformedRuleFailsSet(t *testing.T) {
	set := types.RulesSet{
		Name: "adults",
		Rules: []types.Rule{
			{Property: "Age", Operator: types.OpGreaterThan, Value: 18},
			{Property: "Salary", Operator: types.OpGreaterThan, Value: 1000},
			{Property: "Country", Operator: types.OpEqual, Value: "IT"},
		},
	}

	compiled, err := CompileRulesSet[person](set)
	if compiled != nil {
		t.Fatalf("CompileRulesSet() = %v, want nil", compiled)
	}
	if !errors.Is(err, types.ErrPropertyNotFound) {
		t.Fatalf("CompileRulesSet() error = %v, want ErrPropertyNotFound", err)
	}
	var ce *CompileError
	if !errors.As(err, &ce) || ce.Property != "Salary" {
		t.Errorf("CompileRulesSet() error = %v, want CompileError for Salary", err)
	}
	if !strings.Contains(err.Error(), `"adults"`) || !strings.Contains(err.Error(), "rule 1") {
		t.Errorf("CompileRulesSet() error = %q, want set name and rule index", err)
	}
}

func TestCompileCatalog_MalformedSetSkipped(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	catalog := types.RulesCatalog{
		Name: "eligibility",
		Sets: []types.RulesSet{
			{Name: "broken", Rules: []types.Rule{{Property: "Salary", Operator: types.OpGreaterThan, Value: 1}}},
			{Name: "seniors", Rules: []types.Rule{{Property: "Age", Operator: types.OpGreaterThan, Value: 65}}},
		},
	}

	compiled := CompileCatalog[person](catalog, WithLogger(logger))

	if len(compiled.Sets()) != 1 {
		t.Fatalf("len(Sets()) = %d, want 1", len(compiled.Sets()))
	}
	if compiled.Sets()[0].Name() != "seniors" {
		t.Errorf("Sets()[0].Name() = %q, want seniors", compiled.Sets()[0].Name())
	}
	skipped := compiled.Skipped()
	if len(skipped) != 1 || skipped[0].Index != 0 || skipped[0].Name != "broken" {
		t.Fatalf("Skipped() = %+v, want set 0 (broken)", skipped)
	}
	if !errors.Is(skipped[0], types.ErrPropertyNotFound) {
		t.Errorf("Skipped()[0] = %v, want ErrPropertyNotFound", skipped[0])
	}
	if !compiled.Matches(person{Age: intPtr(70)}) {
		t.Error("Matches() = false, want true via remaining set")
	}
	if !strings.Contains(logs.String(), "rules set skipped") {
		t.Errorf("log output %q, want skipped-set warning", logs.String())
	}
}

func TestCompileCatalog_AllSetsFail(t *testing.T) {
	catalog := types.RulesCatalog{Sets: []types.RulesSet{
		{Rules: []types.Rule{{Property: "Nope", Operator: types.OpIsNull}}},
	}}

	compiled := CompileCatalog[person](catalog)
	if len(compiled.Sets()) != 0 {
		t.Errorf("len(Sets()) = %d, want 0", len(compiled.Sets()))
	}
	if compiled.Matches(samplePerson()) {
		t.Error("Matches() = true, want false when every set failed")
	}
}

func TestCompileRule_DoesNotMutateSource(t *testing.T) {
	values := []any{"IT", "FR"}
	rule := types.Rule{Property: "Country", Operator: types.OpIn, Value: values}

	if _, err := CompileRule[person](rule); err != nil {
		t.Fatalf("CompileRule() error = %v", err)
	}
	if values[0] != "IT" || values[1] != "FR" || rule.Value.([]any)[0] != "IT" {
		t.Errorf("source values mutated: %v", values)
	}
}

func TestCompileRule_FailureMessage(t *testing.T) {
	tests := []struct {
		rule types.Rule
		want string
	}{
		{types.Rule{Property: "Age", Operator: types.OpGreaterThan, Value: 18}, "Age must be greater than 18"},
		{types.Rule{Property: "Country", Operator: types.OpEqual, Value: "IT"}, `Country must equal "IT"`},
		{types.Rule{Property: "Country", Operator: types.OpIn, Value: []any{"IT", "FR"}}, `Country must be one of ["IT", "FR"]`},
		{types.Rule{Property: "Home", Operator: types.OpEqual, Value: types.Ref("Address.City")}, "Home must equal Address.City"},
		{types.Rule{Property: "Address", Operator: types.OpIsNotNull}, "Address must not be null"},
		{types.Rule{Property: "Age", Operator: types.OpGreaterThan, Value: 18, Description: "must be an adult"}, "must be an adult"},
		{
			types.Rule{Property: "Orders", Operator: types.OpAny, Value: &types.RulesSet{Rules: []types.Rule{
				{Property: "Total", Operator: types.OpGreaterThan, Value: 100},
			}}},
			"Orders must have an element matching (Total must be greater than 100)",
		},
	}

	for _, tt := range tests {
		compiled, err := CompileRule[person](tt.rule)
		if err != nil {
			t.Fatalf("CompileRule(%s) error = %v", tt.rule.Property, err)
		}
		if compiled.Message() != tt.want {
			t.Errorf("Message() = %q, want %q", compiled.Message(), tt.want)
		}
	}
}

// Property-based test: compilation never panics and either yields a rule or an error
func TestCompile_PropertyTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	paths := []string{"Name", "Age", "Tags", "Orders", "Orders.Total", "Labels", "Meta.plan", "Address", "Joined", "Active", "Extra", "Nope", ""}
	values := []any{nil, 18, "vip", true, []any{"a", 1}, types.Ref("Country"), types.Ref("Allowed"),
		&types.RulesSet{Rules: []types.Rule{{Property: "Total", Operator: types.OpGreaterThan, Value: 1}}}}

	properties.Property("compile yields exactly one of rule or error", prop.ForAll(
		func(p, op, v int, empty bool) (ok bool) {
			defer func() {
				if r := recover(); r != nil {
					ok = false
				}
			}()

			rule := types.Rule{
				Property: paths[p],
				Operator: types.Operator(op),
				Value:    values[v],
			}
			compiled, err := CompileRule[person](rule)
			if (compiled == nil) == (err == nil) {
				return false
			}
			if compiled != nil {
				item := samplePerson()
				if empty {
					item = person{}
				}
				first := compiled.Matches(item)
				return compiled.Matches(item) == first
			}
			return true
		},
		gen.IntRange(0, len(paths)-1),
		gen.IntRange(0, int(types.OpIsNotNull)+1),
		gen.IntRange(0, len(values)-1),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
