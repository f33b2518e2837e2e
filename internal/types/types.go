// Package types provides the rule records shared across Rulebook components.
//
// Rule, RulesSet and RulesCatalog are plain data: they are built by callers
// or decoded from the canonical JSON/YAML form, handed to internal/rules for
// compilation, and never mutated afterwards. Compiled artifacts live in
// internal/rules and are never serialized.
//
// ids.go (uuid) and codec.go (yaml) hold the only third-party imports; the
// records themselves only need encoding/json.
package types

// Resource limits enforced by the rule compiler. All limits are checked at
// compile time so evaluation cost stays bounded by
// rule count * path depth * sequence length.
const (
	// MaxPathDepth prevents unbounded accessor chains.
	// 16 segments handles deeply nested records (a.b.c...) comfortably.
	MaxPathDepth = 16

	// MaxProjections limits sequence traversals in a single path.
	// 2 projections allow Orders.Items.Sku without quadratic fan-out.
	MaxProjections = 2

	// MaxSequenceValues limits literal sequences for In/ContainsAll/ContainsAny.
	// 64 values supports enum-style checks without O(n^2) comparison cost.
	MaxSequenceValues = 64

	// MaxNestingDepth limits rule sets nested inside Any/All rules.
	MaxNestingDepth = 4

	// MaxPatternLength caps Matches/Like patterns.
	MaxPatternLength = 512
)
