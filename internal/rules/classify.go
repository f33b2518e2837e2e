// internal/rules/classify.go
package rules

import (
	"reflect"

	"github.com/solatis/rulebook/internal/types"
)

/*
 * Operator classification.
 *
 * Maps (operator, resolved property shape, operand kind) to the
 * OperatorCategory that selects a comparison strategy in compile.go.
 * Classification is pure and total: every combination yields exactly one
 * category, and None marks the combination as uncompilable.
 *
 * The decision table is ordered. Dynamic subjects and references
 * (interface-typed members) match any shape in a row, so the first row
 * whose operator and operand kind fit wins; the comparators then decide
 * by the runtime value.
 */

// ShapeKind is the static form of a resolved property.
type ShapeKind int

const (
	ShapeScalar    ShapeKind = iota + 1 // string, bool, numeric, time.Time
	ShapeScalarSeq                      // sequence of scalars (or of interface values)
	ShapeObjectSeq                      // sequence of structs or maps
	ShapeKeyValue                       // map; elements are {Key, Value} entries
	ShapeObject                         // struct leaf; only null checks apply
	ShapeDynamic                        // interface leaf; decided at evaluation
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeScalar:
		return "scalar"
	case ShapeScalarSeq:
		return "scalar-sequence"
	case ShapeObjectSeq:
		return "object-sequence"
	case ShapeKeyValue:
		return "key-value"
	case ShapeObject:
		return "object"
	case ShapeDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// Shape describes a resolved property: its kind plus the scalar type for
// ShapeScalar, the element type for sequences, or the entry type for
// ShapeKeyValue. Elem is nil for ShapeDynamic.
type Shape struct {
	Kind ShapeKind
	Elem reflect.Type
}

func (s Shape) dynamicElems() bool {
	return s.Elem == nil || s.Elem.Kind() == reflect.Interface
}

// OperatorCategory selects the comparison strategy for a rule.
type OperatorCategory int

const (
	CategoryNone OperatorCategory = iota
	CategoryInternalDirect
	CategoryDirect
	CategoryEnumerable
	CategoryKeyValue
	CategoryInternalEnumerable
	CategoryInternalCrossEnumerable
	CategoryExternalEnumerable
)

func (c OperatorCategory) String() string {
	switch c {
	case CategoryInternalDirect:
		return "InternalDirect"
	case CategoryDirect:
		return "Direct"
	case CategoryEnumerable:
		return "Enumerable"
	case CategoryKeyValue:
		return "KeyValue"
	case CategoryInternalEnumerable:
		return "InternalEnumerable"
	case CategoryInternalCrossEnumerable:
		return "InternalCrossEnumerable"
	case CategoryExternalEnumerable:
		return "ExternalEnumerable"
	default:
		return "None"
	}
}

// OperandKind is the shape of a rule's comparison value.
type OperandKind int

const (
	OperandNone     OperandKind = iota // no value (null checks)
	OperandScalar                      // literal scalar
	OperandSequence                    // literal sequence
	OperandRef                         // types.PropertyRef
	OperandRules                       // nested types.RulesSet
)

// Operand describes the comparison value. Ref is the referenced property's
// shape when Kind is OperandRef.
type Operand struct {
	Kind OperandKind
	Ref  Shape
}

type subjectMatch func(Shape) bool

type classifyRow struct {
	ops      []types.Operator
	subject  subjectMatch
	operand  OperandKind
	ref      subjectMatch // only for OperandRef
	category OperatorCategory
}

var (
	orderingOps = []types.Operator{
		types.OpLessThan, types.OpLessThanOrEqual, types.OpGreaterThan, types.OpGreaterThanOrEqual,
	}
	textOps = []types.Operator{
		types.OpEqualIgnoreCase, types.OpStartsWith, types.OpEndsWith,
	}
	patternOps = []types.Operator{types.OpMatches, types.OpLike}
	membership = []types.Operator{types.OpContains, types.OpNotContains}
	inOps      = []types.Operator{types.OpIn, types.OpNotIn}
	subsetOps  = []types.Operator{types.OpContainsAll, types.OpContainsAny}
	nestedOps  = []types.Operator{types.OpAny, types.OpAll}
	nullOps    = []types.Operator{types.OpIsNull, types.OpIsNotNull}
	equality   = []types.Operator{types.OpEqual, types.OpNotEqual}
)

func concat(groups ...[]types.Operator) []types.Operator {
	var out []types.Operator
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func isKind(k ShapeKind) subjectMatch {
	return func(s Shape) bool { return s.Kind == k || s.Kind == ShapeDynamic }
}

func anyShape(Shape) bool { return true }

func nestedSubject(s Shape) bool {
	switch s.Kind {
	case ShapeObjectSeq, ShapeKeyValue, ShapeDynamic:
		return true
	case ShapeScalarSeq:
		return s.dynamicElems()
	}
	return false
}

// orderable and textual refine scalar rows by the static scalar type.
func orderable(s Shape) bool {
	if s.Kind == ShapeDynamic {
		return true
	}
	return s.Kind == ShapeScalar && scalarClassOf(s.Elem) != classBool
}

func textual(s Shape) bool {
	if s.Kind == ShapeDynamic {
		return true
	}
	return s.Kind == ShapeScalar && scalarClassOf(s.Elem) == classText
}

var classifyTable = []classifyRow{
	{ops: nullOps, subject: anyShape, operand: OperandNone, category: CategoryDirect},

	{ops: equality, subject: isKind(ShapeScalar), operand: OperandScalar, category: CategoryDirect},
	{ops: orderingOps, subject: orderable, operand: OperandScalar, category: CategoryDirect},
	{ops: concat(textOps, patternOps, membership), subject: textual, operand: OperandScalar, category: CategoryDirect},

	{ops: equality, subject: isKind(ShapeScalar), operand: OperandRef, ref: isKind(ShapeScalar), category: CategoryInternalDirect},
	{ops: orderingOps, subject: orderable, operand: OperandRef, ref: isKind(ShapeScalar), category: CategoryInternalDirect},
	{ops: concat(textOps, membership), subject: textual, operand: OperandRef, ref: isKind(ShapeScalar), category: CategoryInternalDirect},

	{ops: membership, subject: isKind(ShapeScalarSeq), operand: OperandScalar, category: CategoryEnumerable},

	{ops: inOps, subject: isKind(ShapeScalar), operand: OperandSequence, category: CategoryExternalEnumerable},
	{ops: subsetOps, subject: isKind(ShapeScalarSeq), operand: OperandSequence, category: CategoryExternalEnumerable},

	{ops: nestedOps, subject: nestedSubject, operand: OperandRules, category: CategoryKeyValue},

	{ops: membership, subject: isKind(ShapeScalarSeq), operand: OperandRef, ref: isKind(ShapeScalar), category: CategoryInternalEnumerable},
	{ops: inOps, subject: isKind(ShapeScalar), operand: OperandRef, ref: isKind(ShapeScalarSeq), category: CategoryInternalEnumerable},

	{ops: subsetOps, subject: isKind(ShapeScalarSeq), operand: OperandRef, ref: isKind(ShapeScalarSeq), category: CategoryInternalCrossEnumerable},
}

// Classify returns the comparison category for op applied to a property of
// the given shape with the given operand. CategoryNone means uncompilable.
func Classify(op types.Operator, subject Shape, operand Operand) OperatorCategory {
	if !op.Valid() {
		return CategoryNone
	}
	for _, row := range classifyTable {
		if row.operand != operand.Kind || !containsOp(row.ops, op) || !row.subject(subject) {
			continue
		}
		if row.operand == OperandRef && !row.ref(operand.Ref) {
			continue
		}
		return row.category
	}
	return CategoryNone
}

func containsOp(ops []types.Operator, op types.Operator) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

// shapeOf derives the shape of a statically typed leaf.
// projected leaves were reached through at least one sequence traversal.
func shapeOf(t reflect.Type, projected bool) (Shape, error) {
	t = derefType(t)

	if projected {
		if isSequence(t.Kind()) {
			t = derefType(t.Elem())
		}
		switch {
		case isScalarType(t), t.Kind() == reflect.Interface:
			return Shape{Kind: ShapeScalarSeq, Elem: t}, nil
		case t.Kind() == reflect.Struct, t.Kind() == reflect.Map:
			return Shape{Kind: ShapeObjectSeq, Elem: t}, nil
		default:
			return Shape{}, types.ErrUnsupportedPropertyType
		}
	}

	switch {
	case t.Kind() == reflect.Interface:
		return Shape{Kind: ShapeDynamic}, nil
	case isScalarType(t):
		return Shape{Kind: ShapeScalar, Elem: t}, nil
	case isSequence(t.Kind()):
		elem := derefType(t.Elem())
		switch {
		case isScalarType(elem), elem.Kind() == reflect.Interface:
			return Shape{Kind: ShapeScalarSeq, Elem: elem}, nil
		case elem.Kind() == reflect.Struct, elem.Kind() == reflect.Map:
			return Shape{Kind: ShapeObjectSeq, Elem: elem}, nil
		default:
			return Shape{}, types.ErrUnsupportedPropertyType
		}
	case t.Kind() == reflect.Map:
		return Shape{Kind: ShapeKeyValue, Elem: entryType(t)}, nil
	case t.Kind() == reflect.Struct:
		return Shape{Kind: ShapeObject, Elem: t}, nil
	default:
		return Shape{}, types.ErrUnsupportedPropertyType
	}
}

// entryType is the {Key, Value} element type nested rules see for a map.
func entryType(m reflect.Type) reflect.Type {
	return reflect.StructOf([]reflect.StructField{
		{Name: "Key", Type: m.Key(), Tag: `json:"key"`},
		{Name: "Value", Type: m.Elem(), Tag: `json:"value"`},
	})
}

func isScalarType(t reflect.Type) bool {
	return scalarClassOf(t) != classNone
}
