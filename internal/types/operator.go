package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Operator is the closed set of comparison operators a Rule may use.
// Integer values are part of the canonical serialization; append only.
type Operator int

const (
	OpUnspecified Operator = iota
	OpEqual
	OpNotEqual
	OpLessThan
	OpLessThanOrEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpEqualIgnoreCase
	OpStartsWith
	OpEndsWith
	OpContains
	OpNotContains
	OpMatches
	OpLike
	OpIn
	OpNotIn
	OpContainsAll
	OpContainsAny
	OpAny
	OpAll
	OpIsNull
	OpIsNotNull
)

var operatorNames = [...]string{
	OpUnspecified:        "Unspecified",
	OpEqual:              "Equal",
	OpNotEqual:           "NotEqual",
	OpLessThan:           "LessThan",
	OpLessThanOrEqual:    "LessThanOrEqual",
	OpGreaterThan:        "GreaterThan",
	OpGreaterThanOrEqual: "GreaterThanOrEqual",
	OpEqualIgnoreCase:    "EqualIgnoreCase",
	OpStartsWith:         "StartsWith",
	OpEndsWith:           "EndsWith",
	OpContains:           "Contains",
	OpNotContains:        "NotContains",
	OpMatches:            "Matches",
	OpLike:               "Like",
	OpIn:                 "In",
	OpNotIn:              "NotIn",
	OpContainsAll:        "ContainsAll",
	OpContainsAny:        "ContainsAny",
	OpAny:                "Any",
	OpAll:                "All",
	OpIsNull:             "IsNull",
	OpIsNotNull:          "IsNotNull",
}

// Valid reports whether op is a member of the closed operator set.
func (op Operator) Valid() bool {
	return op > OpUnspecified && int(op) < len(operatorNames)
}

func (op Operator) String() string {
	if op >= 0 && int(op) < len(operatorNames) {
		return operatorNames[op]
	}
	return "Operator(" + strconv.Itoa(int(op)) + ")"
}

// ParseOperator accepts a canonical name (case-insensitive) or an integer.
func ParseOperator(s string) (Operator, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		op := Operator(n)
		if !op.Valid() {
			return OpUnspecified, fmt.Errorf("%w: %d", ErrInvalidOperator, n)
		}
		return op, nil
	}
	for i, name := range operatorNames {
		if Operator(i) != OpUnspecified && strings.EqualFold(name, s) {
			return Operator(i), nil
		}
	}
	return OpUnspecified, fmt.Errorf("%w: %q", ErrInvalidOperator, s)
}

// MarshalJSON writes the operator by name.
func (op Operator) MarshalJSON() ([]byte, error) {
	return json.Marshal(op.String())
}

// UnmarshalJSON accepts either the integer value or the name.
func (op *Operator) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*op = Operator(n)
		if !op.Valid() {
			return fmt.Errorf("%w: %d", ErrInvalidOperator, n)
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("operator must be a string or integer: %w", err)
	}
	parsed, err := ParseOperator(s)
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}
