// internal/types/rules.go
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

/*
 * Domain records for rule compilation.
 *
 * Provides Rule, RulesSet, RulesCatalog and PropertyRef used by
 * internal/rules for compilation and evaluation. Records are immutable once
 * constructed; the compiler only reads them.
 *
 * Key types:
 *   - Rule: one atomic condition (property path, operator, value)
 *   - RulesSet: conjunction of rules
 *   - RulesCatalog: disjunction of rule sets
 *   - PropertyRef: comparison operand resolved from the item itself
 *
 * Canonical JSON: {"property","operator","value","description","code"}.
 * Value is polymorphic: {"ref": "Path"} decodes to PropertyRef,
 * {"rules": [...]} decodes to a nested *RulesSet, arrays to []any, and
 * everything else is a scalar. Integral numbers decode to int64 (uint64
 * past MaxInt64), others to float64.
 */

// PropertyRef names a second property of the same item to compare against.
type PropertyRef struct {
	Path string `json:"ref"`
}

// Ref builds a PropertyRef operand.
func Ref(path string) PropertyRef {
	return PropertyRef{Path: path}
}

// Rule is one atomic condition.
type Rule struct {
	Property    string   `json:"property"`
	Operator    Operator `json:"operator"`
	Value       any      `json:"value,omitempty"`
	Description string   `json:"description,omitempty"`
	Code        string   `json:"code,omitempty"`
}

// RulesSet is a conjunction of rules. An empty set is always satisfied.
type RulesSet struct {
	Name  string `json:"name,omitempty"`
	Rules []Rule `json:"rules"`
}

// RulesCatalog is a disjunction of rule sets. An empty catalog is never satisfied.
type RulesCatalog struct {
	Name string     `json:"name,omitempty"`
	Sets []RulesSet `json:"sets"`
}

// UnmarshalJSON decodes the canonical rule form, resolving the polymorphic value.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var aux struct {
		Property    string          `json:"property"`
		Operator    Operator        `json:"operator"`
		Value       json.RawMessage `json:"value"`
		Description string          `json:"description"`
		Code        string          `json:"code"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	value, err := decodeValue(aux.Value)
	if err != nil {
		return fmt.Errorf("rule %q: %w", aux.Property, err)
	}
	*r = Rule{
		Property:    aux.Property,
		Operator:    aux.Operator,
		Value:       value,
		Description: aux.Description,
		Code:        aux.Code,
	}
	return nil
}

// decodeValue maps raw JSON to scalar, []any, PropertyRef or *RulesSet.
func decodeValue(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, err
		}
		out := make([]any, 0, len(elems))
		for _, elem := range elems {
			v, err := decodeScalar(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		if _, ok := fields["ref"]; ok {
			var ref PropertyRef
			if err := json.Unmarshal(raw, &ref); err != nil {
				return nil, err
			}
			return ref, nil
		}
		if _, ok := fields["rules"]; ok {
			var set RulesSet
			if err := json.Unmarshal(raw, &set); err != nil {
				return nil, err
			}
			return &set, nil
		}
		return nil, fmt.Errorf("%w: object value must carry \"ref\" or \"rules\"", ErrMalformedComparisonValue)

	default:
		return decodeScalar(raw)
	}
}

// decodeScalar decodes one JSON value without routing integers through float64.
func decodeScalar(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	n, ok := v.(json.Number)
	if !ok {
		return v, nil
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		return i, nil
	}
	if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		return u, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedComparisonValue, n)
	}
	return f, nil
}
