package types

import "errors"

// Sentinel errors for Rulebook operations.
var (
	// ErrEmptyPath indicates a rule without a property path.
	ErrEmptyPath = errors.New("property path is empty")

	// ErrPropertyNotFound indicates a path segment does not exist on the resolved type.
	ErrPropertyNotFound = errors.New("property not found")

	// ErrUnsupportedPropertyType indicates a leaf type no operator can compare.
	ErrUnsupportedPropertyType = errors.New("unsupported property type")

	// ErrUnsupportedOperatorForShape indicates the operator cannot apply to the
	// resolved property shape and comparison value.
	ErrUnsupportedOperatorForShape = errors.New("operator not supported for property shape")

	// ErrMalformedComparisonValue indicates the rule value cannot be coerced to
	// the type the operator requires.
	ErrMalformedComparisonValue = errors.New("malformed comparison value")

	// ErrInvalidOperator indicates an operator outside the closed set.
	ErrInvalidOperator = errors.New("invalid operator")

	// ErrPathTooDeep indicates a property path exceeds MaxPathDepth.
	ErrPathTooDeep = errors.New("property path exceeds maximum depth")

	// ErrTooManyProjections indicates a path traverses more than MaxProjections sequences.
	ErrTooManyProjections = errors.New("property path has too many sequence projections")

	// ErrTooManySequenceValues indicates a literal sequence exceeds MaxSequenceValues.
	ErrTooManySequenceValues = errors.New("comparison sequence has too many values")

	// ErrNestingTooDeep indicates nested rule sets exceed MaxNestingDepth.
	ErrNestingTooDeep = errors.New("nested rule sets exceed maximum depth")

	// ErrCatalogNotFound indicates a named catalog is not installed or stored.
	ErrCatalogNotFound = errors.New("catalog not found")

	// ErrCatalogNameRequired indicates a catalog without a name was installed or saved.
	ErrCatalogNameRequired = errors.New("catalog name is required")
)
