// internal/rules/evaluate.go
package rules

import (
	"fmt"
	"iter"
	"reflect"
	"strings"

	"github.com/solatis/rulebook/internal/types"
)

/*
 * Evaluation of compiled artifacts.
 *
 * Matches is the boolean path: a set is AND with left-to-right
 * short-circuit, a catalog is OR with left-to-right short-circuit. Explain
 * is the diagnostic path: every rule of a set is evaluated and reported.
 *
 * Explain results:
 *   - Satisfied: Failures is nil
 *   - Rule/set not satisfied: one entry per rule, nil for rules that held
 *   - Catalog not satisfied: one entry per compiled set, messages joined
 *
 * Evaluation is total. Absent intermediates resolve to "not satisfied" and
 * no input makes a compiled predicate panic or return an error.
 */

// Failure is a human-readable reason a rule (or set) was not satisfied.
type Failure struct {
	Code     string `json:"code,omitempty"`
	Property string `json:"property,omitempty"`
	Message  string `json:"message"`
}

func (f *Failure) String() string {
	if f.Code != "" {
		return f.Code + ": " + f.Message
	}
	return f.Message
}

// Explanation is the result of the explain path.
type Explanation struct {
	Satisfied bool
	Failures  []*Failure
}

// Messages returns the non-nil failure messages in order.
func (e Explanation) Messages() []string {
	var out []string
	for _, f := range e.Failures {
		if f != nil {
			out = append(out, f.Message)
		}
	}
	return out
}

func rootOf[T any](item *T) reflect.Value {
	return reflect.ValueOf(item).Elem()
}

func (r *ruleProgram) failure() *Failure {
	return &Failure{
		Code:     r.rule.Code,
		Property: r.rule.Property,
		Message:  r.message,
	}
}

// explain evaluates every rule, returning nil when all hold.
func (s *setProgram) explain(root reflect.Value) []*Failure {
	failures := make([]*Failure, len(s.rules))
	failed := false
	for i, r := range s.rules {
		if !r.test(root) {
			failures[i] = r.failure()
			failed = true
		}
	}
	if !failed {
		return nil
	}
	return failures
}

// Matches reports whether item satisfies the rule.
func (c *CompiledRule[T]) Matches(item T) bool {
	return c.prog.test(rootOf(&item))
}

// Explain reports the rule's failure message when item does not satisfy it.
func (c *CompiledRule[T]) Explain(item T) Explanation {
	if c.prog.test(rootOf(&item)) {
		return Explanation{Satisfied: true}
	}
	return Explanation{Failures: []*Failure{c.prog.failure()}}
}

// Matches reports whether item satisfies every rule. Stops at the first
// rule that does not hold.
func (s *CompiledRulesSet[T]) Matches(item T) bool {
	return s.prog.match(rootOf(&item))
}

// Explain evaluates every rule and reports one entry per rule.
func (s *CompiledRulesSet[T]) Explain(item T) Explanation {
	failures := s.prog.explain(rootOf(&item))
	if failures == nil {
		return Explanation{Satisfied: true}
	}
	return Explanation{Failures: failures}
}

// Matches reports whether item satisfies any set. Stops at the first
// satisfied set. An empty catalog matches nothing.
func (c *CompiledCatalog[T]) Matches(item T) bool {
	root := rootOf(&item)
	for _, s := range c.sets {
		if s.prog.match(root) {
			return true
		}
	}
	return false
}

// Explain reports one entry per compiled set when no set is satisfied.
func (c *CompiledCatalog[T]) Explain(item T) Explanation {
	root := rootOf(&item)
	failures := make([]*Failure, 0, len(c.sets))
	for _, s := range c.sets {
		setFailures := s.prog.explain(root)
		if setFailures == nil {
			return Explanation{Satisfied: true}
		}

		var messages []string
		for _, f := range setFailures {
			if f != nil {
				messages = append(messages, f.Message)
			}
		}
		failures = append(failures, &Failure{
			Code:    s.prog.name,
			Message: strings.Join(messages, "; "),
		})
	}
	return Explanation{Failures: failures}
}

// Matcher is implemented by every compiled artifact.
type Matcher[T any] interface {
	Matches(item T) bool
}

// Filter lazily yields the items m matches. The result is restartable:
// ranging over it again re-reads items.
func Filter[T any](m Matcher[T], items iter.Seq[T]) iter.Seq[T] {
	return func(yield func(T) bool) {
		for item := range items {
			if m.Matches(item) && !yield(item) {
				return
			}
		}
	}
}

// First returns the first item m matches.
func First[T any](m Matcher[T], items iter.Seq[T]) (T, bool) {
	for item := range items {
		if m.Matches(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Filter yields the items satisfying the rule.
func (c *CompiledRule[T]) Filter(items iter.Seq[T]) iter.Seq[T] { return Filter[T](c, items) }

// First returns the first item satisfying the rule.
func (c *CompiledRule[T]) First(items iter.Seq[T]) (T, bool) { return First[T](c, items) }

// Filter yields the items satisfying the set.
func (s *CompiledRulesSet[T]) Filter(items iter.Seq[T]) iter.Seq[T] { return Filter[T](s, items) }

// First returns the first item satisfying the set.
func (s *CompiledRulesSet[T]) First(items iter.Seq[T]) (T, bool) { return First[T](s, items) }

// Filter yields the items satisfying the catalog.
func (c *CompiledCatalog[T]) Filter(items iter.Seq[T]) iter.Seq[T] { return Filter[T](c, items) }

// First returns the first item satisfying the catalog.
func (c *CompiledCatalog[T]) First(items iter.Seq[T]) (T, bool) { return First[T](c, items) }

var operatorPhrases = map[types.Operator]string{
	types.OpEqual:              "must equal",
	types.OpNotEqual:           "must not equal",
	types.OpLessThan:           "must be less than",
	types.OpLessThanOrEqual:    "must be at most",
	types.OpGreaterThan:        "must be greater than",
	types.OpGreaterThanOrEqual: "must be at least",
	types.OpEqualIgnoreCase:    "must equal (ignoring case)",
	types.OpStartsWith:         "must start with",
	types.OpEndsWith:           "must end with",
	types.OpContains:           "must contain",
	types.OpNotContains:        "must not contain",
	types.OpMatches:            "must match",
	types.OpLike:               "must be like",
	types.OpIn:                 "must be one of",
	types.OpNotIn:              "must not be one of",
	types.OpContainsAll:        "must contain all of",
	types.OpContainsAny:        "must contain any of",
	types.OpAny:                "must have an element matching",
	types.OpAll:                "must have every element matching",
	types.OpIsNull:             "must be null",
	types.OpIsNotNull:          "must not be null",
}

// failureMessage is the rule description, else "<property> <phrase> <value>".
func failureMessage(rule types.Rule) string {
	if rule.Description != "" {
		return rule.Description
	}
	msg := rule.Property + " " + operatorPhrases[rule.Operator]
	if rule.Operator == types.OpIsNull || rule.Operator == types.OpIsNotNull || rule.Value == nil {
		return msg
	}
	return msg + " " + formatValue(rule.Value)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case types.PropertyRef:
		return x.Path
	case *types.PropertyRef:
		return x.Path
	case types.RulesSet:
		return formatNested(&x)
	case *types.RulesSet:
		return formatNested(x)
	case string:
		return fmt.Sprintf("%q", x)
	}
	if isLiteralSequence(v) {
		rv := reflect.ValueOf(v)
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = formatValue(rv.Index(i).Interface())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprint(v)
}

func formatNested(set *types.RulesSet) string {
	if set == nil {
		return "()"
	}
	parts := make([]string, len(set.Rules))
	for i, r := range set.Rules {
		parts[i] = failureMessage(types.Rule{Property: r.Property, Operator: r.Operator, Value: r.Value})
	}
	return "(" + strings.Join(parts, " and ") + ")"
}
