// internal/rules/compile.go
package rules

import (
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/solatis/rulebook/internal/types"
)

/*
 * Rule compilation.
 *
 * Compiles types.Rule, types.RulesSet and types.RulesCatalog into immutable
 * predicate programs over a fixed item type T. All property resolution,
 * classification, literal coercion, pattern compilation and nested-set
 * compilation happen here, once; evaluation only walks precomputed
 * accessors and calls comparators.
 *
 * Compilation workflow (per rule):
 *   1. Resolve the property path against T (fieldpath.go)
 *   2. Describe the operand: none, scalar, sequence, reference, nested set
 *   3. Classify (operator, shape, operand) into an OperatorCategory
 *   4. Build the category's test, coercing literals to the property class
 *   5. Wrap the test with the absent guard
 *
 * Failure policy:
 *   - A rule that fails to compile yields a nil *CompiledRule and a
 *     *CompileError wrapping a sentinel from internal/types.
 *   - A set is all-or-nothing: one failing rule fails the set.
 *   - A catalog is best-effort: failing sets are skipped and reported via
 *     Skipped() and the configured logger. A catalog always compiles.
 *
 * Absent guard: when the property (or a referenced property) is absent the
 * rule is not satisfied. IsNull is the only operator satisfied by absence.
 *
 * Nested sets (Any/All) are compiled against the element type of the
 * resolved sequence, so the recursion always narrows; MaxNestingDepth bounds
 * it for dynamic items where the element type is not narrower.
 */

// CompileError describes why a rule did not compile.
type CompileError struct {
	Property string
	Operator types.Operator
	Err      error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("rule %q %s: %v", e.Property, e.Operator, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// SetError records a rules set skipped during catalog compilation.
type SetError struct {
	Index int
	Name  string
	Err   error
}

func (e SetError) Error() string {
	return fmt.Sprintf("rules set %d (%q): %v", e.Index, e.Name, e.Err)
}

func (e SetError) Unwrap() error {
	return e.Err
}

// CompileOption configures compilation.
type CompileOption func(*compileConfig)

type compileConfig struct {
	logger   *slog.Logger
	resolver *Resolver
	methods  bool
}

// WithLogger sets the logger used to report skipped rules sets.
func WithLogger(logger *slog.Logger) CompileOption {
	return func(c *compileConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithResolver sets the accessor cache. Defaults to a package-level cache.
func WithResolver(r *Resolver) CompileOption {
	return func(c *compileConfig) {
		if r != nil {
			c.resolver = r
		}
	}
}

// WithMethods lets property paths name exported niladic methods with one
// result. The method is called on every evaluation; only enable it for
// item types whose methods are pure accessors.
func WithMethods() CompileOption {
	return func(c *compileConfig) {
		c.methods = true
	}
}

func newConfig(opts []CompileOption) *compileConfig {
	cfg := &compileConfig{
		logger:   slog.New(slog.DiscardHandler),
		resolver: defaultResolver,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// predicate tests a root value of the compiled type.
type predicate func(root reflect.Value) bool

// ruleProgram is the type-erased compiled form of one rule.
type ruleProgram struct {
	rule     types.Rule
	category OperatorCategory
	message  string
	test     predicate
}

// setProgram is the type-erased compiled form of one rules set.
type setProgram struct {
	name  string
	rules []*ruleProgram
}

func (s *setProgram) match(root reflect.Value) bool {
	for _, r := range s.rules {
		if !r.test(root) {
			return false
		}
	}
	return true
}

func compileSet(t reflect.Type, set types.RulesSet, cfg *compileConfig, depth int) (*setProgram, error) {
	prog := &setProgram{
		name:  set.Name,
		rules: make([]*ruleProgram, 0, len(set.Rules)),
	}
	for i, rule := range set.Rules {
		rp, err := compileRule(t, rule, cfg, depth)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		prog.rules = append(prog.rules, rp)
	}
	return prog, nil
}

func compileRule(t reflect.Type, rule types.Rule, cfg *compileConfig, depth int) (*ruleProgram, error) {
	fail := func(err error) (*ruleProgram, error) {
		return nil, &CompileError{Property: rule.Property, Operator: rule.Operator, Err: err}
	}

	if strings.TrimSpace(rule.Property) == "" {
		return fail(types.ErrEmptyPath)
	}
	if !rule.Operator.Valid() {
		return fail(fmt.Errorf("%w: %s", types.ErrInvalidOperator, rule.Operator))
	}

	acc, err := cfg.resolver.resolve(t, rule.Property, cfg.methods)
	if err != nil {
		return fail(err)
	}

	operand, ref, err := describeOperand(t, rule, cfg)
	if err != nil {
		return fail(err)
	}

	category := Classify(rule.Operator, acc.Shape, operand)
	if category == CategoryNone {
		return fail(fmt.Errorf("%w: %s on %s with %s operand",
			types.ErrUnsupportedOperatorForShape, rule.Operator, acc.Shape.Kind, operandName(operand.Kind)))
	}

	test, err := buildTest(category, rule, acc, ref, cfg, depth)
	if err != nil {
		return fail(err)
	}

	return &ruleProgram{
		rule:     rule,
		category: category,
		message:  failureMessage(rule),
		test:     guard(rule.Operator, acc, test),
	}, nil
}

// valueTest receives the resolved subject and the root for reference lookups.
type valueTest func(subject any, root reflect.Value) bool

// guard resolves the subject and applies the absent policy.
func guard(op types.Operator, acc *Accessor, test valueTest) predicate {
	switch op {
	case types.OpIsNull:
		return func(root reflect.Value) bool {
			_, ok := acc.Get(root)
			return !ok
		}
	case types.OpIsNotNull:
		return func(root reflect.Value) bool {
			_, ok := acc.Get(root)
			return ok
		}
	}
	return func(root reflect.Value) bool {
		v, ok := acc.Get(root)
		if !ok {
			return false
		}
		return test(v, root)
	}
}

func describeOperand(t reflect.Type, rule types.Rule, cfg *compileConfig) (Operand, *Accessor, error) {
	if rule.Operator == types.OpIsNull || rule.Operator == types.OpIsNotNull {
		return Operand{Kind: OperandNone}, nil, nil
	}

	switch v := rule.Value.(type) {
	case nil:
		return Operand{Kind: OperandNone}, nil, nil
	case types.PropertyRef:
		return describeRef(t, v.Path, cfg)
	case *types.PropertyRef:
		if v == nil {
			return Operand{}, nil, fmt.Errorf("%w: nil property reference", types.ErrMalformedComparisonValue)
		}
		return describeRef(t, v.Path, cfg)
	case types.RulesSet, *types.RulesSet:
		return Operand{Kind: OperandRules}, nil, nil
	}

	if isLiteralSequence(rule.Value) {
		return Operand{Kind: OperandSequence}, nil, nil
	}
	if _, ok := normalize(rule.Value); !ok {
		return Operand{}, nil, fmt.Errorf("%w: unsupported value %v (%T)", types.ErrMalformedComparisonValue, rule.Value, rule.Value)
	}
	return Operand{Kind: OperandScalar}, nil, nil
}

func describeRef(t reflect.Type, path string, cfg *compileConfig) (Operand, *Accessor, error) {
	ref, err := cfg.resolver.resolve(t, path, cfg.methods)
	if err != nil {
		return Operand{}, nil, fmt.Errorf("reference %q: %w", path, err)
	}
	return Operand{Kind: OperandRef, Ref: ref.Shape}, ref, nil
}

func operandName(k OperandKind) string {
	switch k {
	case OperandScalar:
		return "scalar"
	case OperandSequence:
		return "sequence"
	case OperandRef:
		return "reference"
	case OperandRules:
		return "rules set"
	default:
		return "no"
	}
}

// buildTest constructs the comparison for a classified rule.
func buildTest(category OperatorCategory, rule types.Rule, acc, ref *Accessor, cfg *compileConfig, depth int) (valueTest, error) {
	switch category {
	case CategoryDirect:
		if rule.Operator == types.OpIsNull || rule.Operator == types.OpIsNotNull {
			return nil, nil
		}
		return buildDirect(rule, acc.Shape)
	case CategoryInternalDirect:
		return buildInternalDirect(rule.Operator, ref), nil
	case CategoryEnumerable:
		return buildEnumerable(rule, acc.Shape)
	case CategoryExternalEnumerable:
		return buildExternalEnumerable(rule, acc.Shape)
	case CategoryKeyValue:
		return buildKeyValue(rule, acc.Shape, cfg, depth)
	case CategoryInternalEnumerable:
		return buildInternalEnumerable(rule.Operator, ref), nil
	case CategoryInternalCrossEnumerable:
		return buildInternalCross(rule.Operator, ref), nil
	default:
		return nil, types.ErrUnsupportedOperatorForShape
	}
}

// subjectClass is the scalar class literals are coerced to.
func subjectClass(shape Shape) scalarClass {
	if shape.Kind == ShapeDynamic {
		return classDynamic
	}
	return scalarClassOf(shape.Elem)
}

func buildDirect(rule types.Rule, shape Shape) (valueTest, error) {
	switch rule.Operator {
	case types.OpMatches, types.OpLike:
		return buildPattern(rule)
	}

	literal, err := coerceLiteral(rule.Value, shape)
	if err != nil {
		return nil, err
	}

	op := rule.Operator
	if subjectClass(shape) != classDynamic {
		return func(subject any, _ reflect.Value) bool {
			s, ok := normalize(subject)
			return ok && compareScalar(op, s, literal)
		}, nil
	}

	// Dynamic subjects may turn out to be sequences at evaluation.
	return func(subject any, _ reflect.Value) bool {
		if s, ok := normalize(subject); ok {
			return compareScalar(op, s, literal)
		}
		elems, ok := scalarElems(subject)
		if !ok {
			return false
		}
		switch op {
		case types.OpContains:
			return containsScalar(elems, literal)
		case types.OpNotContains:
			return !containsScalar(elems, literal)
		default:
			return false
		}
	}, nil
}

// buildPattern compiles Matches (RE2) and Like (glob) patterns once.
func buildPattern(rule types.Rule) (valueTest, error) {
	p, err := coerce(rule.Value, classText)
	if err != nil {
		return nil, err
	}
	pattern := p.(string)
	if len(pattern) > types.MaxPatternLength {
		return nil, fmt.Errorf("%w: pattern exceeds %d bytes", types.ErrMalformedComparisonValue, types.MaxPatternLength)
	}

	var match func(string) bool
	if rule.Operator == types.OpMatches {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedComparisonValue, err)
		}
		match = re.MatchString
	} else {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedComparisonValue, err)
		}
		match = g.Match
	}

	return func(subject any, _ reflect.Value) bool {
		s, ok := normalize(subject)
		if !ok {
			return false
		}
		text, err := coerceText(s)
		if err != nil {
			return false
		}
		return match(text.(string))
	}, nil
}

func buildInternalDirect(op types.Operator, ref *Accessor) valueTest {
	return func(subject any, root reflect.Value) bool {
		other, ok := ref.Get(root)
		if !ok {
			return false
		}
		s, ok1 := normalize(subject)
		o, ok2 := normalize(other)
		return ok1 && ok2 && compareScalar(op, s, o)
	}
}

func buildEnumerable(rule types.Rule, shape Shape) (valueTest, error) {
	literal, err := coerceLiteral(rule.Value, shape)
	if err != nil {
		return nil, err
	}
	negate := rule.Operator == types.OpNotContains

	return func(subject any, _ reflect.Value) bool {
		elems, ok := scalarElems(subject)
		if !ok {
			return false
		}
		return containsScalar(elems, literal) != negate
	}, nil
}

func buildExternalEnumerable(rule types.Rule, shape Shape) (valueTest, error) {
	class := subjectClass(shape)
	values, err := coerceSequence(rule.Value, class)
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		values[i] = narrowLiteral(v, shape.Elem)
	}

	op := rule.Operator
	switch op {
	case types.OpIn, types.OpNotIn:
		set := newScalarSet(values)
		setClass := classOfSet(values, class)
		negate := op == types.OpNotIn
		return func(subject any, _ reflect.Value) bool {
			s, ok := normalize(subject)
			if !ok {
				return false
			}
			return set.contains(s, setClass) != negate
		}, nil

	default:
		return func(subject any, _ reflect.Value) bool {
			elems, ok := scalarElems(subject)
			if !ok {
				return false
			}
			return subsetMatch(op, elems, values)
		}, nil
	}
}

// classOfSet is the class dynamic subjects are aligned to for set lookups.
func classOfSet(values []any, class scalarClass) scalarClass {
	if class != classDynamic || len(values) == 0 {
		return class
	}
	first := classOfValue(values[0])
	for _, v := range values[1:] {
		if classOfValue(v) != first {
			return classNone
		}
	}
	return first
}

func buildKeyValue(rule types.Rule, shape Shape, cfg *compileConfig, depth int) (valueTest, error) {
	var nested types.RulesSet
	switch v := rule.Value.(type) {
	case types.RulesSet:
		nested = v
	case *types.RulesSet:
		if v == nil {
			return nil, fmt.Errorf("%w: nil nested rules set", types.ErrMalformedComparisonValue)
		}
		nested = *v
	}

	if depth+1 > types.MaxNestingDepth {
		return nil, types.ErrNestingTooDeep
	}

	elem := shape.Elem
	if elem == nil {
		elem = anyType
	}
	prog, err := compileSet(elem, nested, cfg, depth+1)
	if err != nil {
		return nil, fmt.Errorf("nested rules set: %w", err)
	}

	all := rule.Operator == types.OpAll
	return func(subject any, _ reflect.Value) bool {
		elems, ok := elementsOf(subject)
		if !ok {
			return false
		}
		for _, e := range elems {
			if prog.match(e) != all {
				return !all
			}
		}
		return all
	}, nil
}

func buildInternalEnumerable(op types.Operator, ref *Accessor) valueTest {
	negate := op == types.OpNotContains || op == types.OpNotIn

	if op == types.OpContains || op == types.OpNotContains {
		return func(subject any, root reflect.Value) bool {
			other, ok := ref.Get(root)
			if !ok {
				return false
			}
			target, ok := normalize(other)
			if !ok {
				return false
			}
			elems, ok := scalarElems(subject)
			if !ok {
				return false
			}
			return containsScalar(elems, target) != negate
		}
	}

	return func(subject any, root reflect.Value) bool {
		other, ok := ref.Get(root)
		if !ok {
			return false
		}
		s, ok := normalize(subject)
		if !ok {
			return false
		}
		elems, ok := scalarElems(other)
		if !ok {
			return false
		}
		return containsScalar(elems, s) != negate
	}
}

func buildInternalCross(op types.Operator, ref *Accessor) valueTest {
	return func(subject any, root reflect.Value) bool {
		other, ok := ref.Get(root)
		if !ok {
			return false
		}
		have, ok1 := scalarElems(subject)
		want, ok2 := scalarElems(other)
		return ok1 && ok2 && subsetMatch(op, have, want)
	}
}

// CompiledRule is the executable form of a Rule for items of type T.
// Immutable; safe for concurrent use.
type CompiledRule[T any] struct {
	prog *ruleProgram
}

// CompileRule compiles one rule for items of type T.
// Returns a nil rule and a *CompileError when the rule cannot compile.
func CompileRule[T any](rule types.Rule, opts ...CompileOption) (*CompiledRule[T], error) {
	cfg := newConfig(opts)
	prog, err := compileRule(reflect.TypeFor[T](), rule, cfg, 0)
	if err != nil {
		return nil, err
	}
	return &CompiledRule[T]{prog: prog}, nil
}

// Rule returns the source rule.
func (c *CompiledRule[T]) Rule() types.Rule { return c.prog.rule }

// Category returns the comparison strategy selected at compile time.
func (c *CompiledRule[T]) Category() OperatorCategory { return c.prog.category }

// Message returns the failure message reported by Explain.
func (c *CompiledRule[T]) Message() string { return c.prog.message }

// CompiledRulesSet is the executable conjunction of a RulesSet.
type CompiledRulesSet[T any] struct {
	prog *setProgram
}

// CompileRulesSet compiles every rule of set for items of type T.
// Any failing rule fails the whole set.
func CompileRulesSet[T any](set types.RulesSet, opts ...CompileOption) (*CompiledRulesSet[T], error) {
	cfg := newConfig(opts)
	prog, err := compileSet(reflect.TypeFor[T](), set, cfg, 0)
	if err != nil {
		if set.Name != "" {
			err = fmt.Errorf("rules set %q: %w", set.Name, err)
		}
		return nil, err
	}
	return &CompiledRulesSet[T]{prog: prog}, nil
}

// Name returns the source set name.
func (s *CompiledRulesSet[T]) Name() string { return s.prog.name }

// Len returns the number of compiled rules.
func (s *CompiledRulesSet[T]) Len() int { return len(s.prog.rules) }

// Rules returns the compiled rules in source order.
func (s *CompiledRulesSet[T]) Rules() []*CompiledRule[T] {
	out := make([]*CompiledRule[T], len(s.prog.rules))
	for i, r := range s.prog.rules {
		out[i] = &CompiledRule[T]{prog: r}
	}
	return out
}

// CompiledCatalog is the executable disjunction of a RulesCatalog.
type CompiledCatalog[T any] struct {
	name    string
	sets    []*CompiledRulesSet[T]
	skipped []SetError
}

// CompileCatalog compiles every set of catalog for items of type T.
// Sets that fail to compile are omitted and reported through Skipped and
// the configured logger; the remaining alternatives stay active.
func CompileCatalog[T any](catalog types.RulesCatalog, opts ...CompileOption) *CompiledCatalog[T] {
	cfg := newConfig(opts)
	t := reflect.TypeFor[T]()

	compiled := &CompiledCatalog[T]{
		name: catalog.Name,
		sets: make([]*CompiledRulesSet[T], 0, len(catalog.Sets)),
	}

	for i, set := range catalog.Sets {
		prog, err := compileSet(t, set, cfg, 0)
		if err != nil {
			compiled.skipped = append(compiled.skipped, SetError{Index: i, Name: set.Name, Err: err})
			cfg.logger.Warn("rules set skipped",
				"catalog", catalog.Name,
				"set_index", i,
				"set_name", set.Name,
				"error", err)
			continue
		}
		compiled.sets = append(compiled.sets, &CompiledRulesSet[T]{prog: prog})
	}

	cfg.logger.Debug("catalog compiled",
		"catalog", catalog.Name,
		"sets", len(compiled.sets),
		"skipped", len(compiled.skipped))

	return compiled
}

// Name returns the source catalog name.
func (c *CompiledCatalog[T]) Name() string { return c.name }

// Sets returns the compiled sets in source order.
func (c *CompiledCatalog[T]) Sets() []*CompiledRulesSet[T] { return c.sets }

// Skipped returns the sets omitted during compilation.
func (c *CompiledCatalog[T]) Skipped() []SetError { return c.skipped }
