// internal/rules/fieldpath.go
package rules

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/solatis/rulebook/internal/types"
)

/*
 * Property path resolution for typed items.
 *
 * Resolves a dotted/indexed property path against a reflect.Type once, at
 * compile time, producing an Accessor: a chain of field indices, map keys,
 * element indices and projections captured for evaluation. No member name
 * lookup happens per evaluation for statically typed members.
 *
 * Path grammar:
 *   Address.City         nested struct members
 *   Orders[0].Total      element index
 *   Orders[*].Total      explicit projection over a sequence
 *   Orders.Total         implicit projection (sequence member, not terminal)
 *   Labels.env           map lookup by string key
 *
 * Member lookup order: Go field name, json tag name, case-insensitive field
 * name. Exported niladic methods with one result are only considered, last,
 * when method resolution is enabled (WithMethods); such a method is called
 * on every evaluation, so it must be free of side effects.
 *
 * Projection semantics: every element is visited; absent elements are
 * skipped and nested sequences of scalars are flattened. The accessor then
 * yields []any and the shape becomes a sequence shape.
 *
 * Interface-typed members (including map[string]any JSON documents) switch
 * the rest of the path to dynamic resolution at evaluation time; the shape
 * is Dynamic and operators decide by the runtime value.
 *
 * Absent intermediates (nil pointer, nil interface, missing map key, index
 * out of range) never fail evaluation: Get reports ok=false.
 */

// PathSegment represents one component of a property path.
type PathSegment struct {
	Key      string // member name (mutually exclusive with Index/Wildcard)
	Index    int    // element index (mutually exclusive with Key/Wildcard)
	IsIndex  bool   // disambiguates Index=0 from unset
	Wildcard bool   // true = explicit [*] projection
}

func (s PathSegment) String() string {
	switch {
	case s.Wildcard:
		return "[*]"
	case s.IsIndex:
		return "[" + strconv.Itoa(s.Index) + "]"
	default:
		return s.Key
	}
}

// ParsePath splits a property path into segments.
// Returns ErrEmptyPath for blank paths and ErrPathTooDeep past MaxPathDepth.
func ParsePath(path string) ([]PathSegment, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, types.ErrEmptyPath
	}

	var segments []PathSegment
	for _, part := range strings.Split(path, ".") {
		name := part
		rest := ""
		if i := strings.IndexByte(part, '['); i >= 0 {
			name, rest = part[:i], part[i:]
		}
		if name == "" && rest == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", types.ErrPropertyNotFound, path)
		}
		if name != "" {
			segments = append(segments, PathSegment{Key: name})
		}

		for rest != "" {
			end := strings.IndexByte(rest, ']')
			if rest[0] != '[' || end < 0 {
				return nil, fmt.Errorf("%w: malformed index in %q", types.ErrPropertyNotFound, path)
			}
			idx := strings.TrimSpace(rest[1:end])
			rest = rest[end+1:]

			if idx == "*" {
				segments = append(segments, PathSegment{Wildcard: true})
				continue
			}
			n, err := strconv.Atoi(idx)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: invalid index %q in %q", types.ErrPropertyNotFound, idx, path)
			}
			segments = append(segments, PathSegment{Index: n, IsIndex: true})
		}
	}

	if len(segments) > types.MaxPathDepth {
		return nil, types.ErrPathTooDeep
	}
	return segments, nil
}

type opKind int

const (
	opField   opKind = iota // struct field by index
	opMethod                // niladic method by index
	opMapKey                // map lookup with precomputed key
	opIndex                 // sequence element
	opProject               // visit every element
	opName                  // dynamic member lookup
)

type accessOp struct {
	kind    opKind
	index   []int
	key     reflect.Value
	n       int
	name    string
	methods bool // opName may resolve to a method
}

// Accessor reads one property path from values of a fixed root type.
// Immutable after construction; safe for concurrent use.
type Accessor struct {
	Path  string
	Root  reflect.Type
	Shape Shape
	ops   []accessOp
}

// Get resolves the path against root.
// Projected paths return []any (possibly empty). ok is false when the value
// or any intermediate is absent.
func (a *Accessor) Get(root reflect.Value) (any, bool) {
	var c collector
	if !walk(a.ops, root, &c, 0) {
		return nil, false
	}
	if c.projected {
		if c.values == nil {
			return []any{}, true
		}
		return c.values, true
	}
	return c.values[0], true
}

type collector struct {
	projected bool
	values    []any
}

// walk follows ops from v, appending leaf values to c.
// depth counts projections so dynamic paths stay within MaxProjections.
func walk(ops []accessOp, v reflect.Value, c *collector, depth int) bool {
	for i, o := range ops {
		var ok bool
		if v, ok = indirect(v); !ok {
			return false
		}

		switch o.kind {
		case opProject:
			return project(ops[i+1:], v, c, depth)

		case opField:
			if v.Kind() != reflect.Struct {
				return false
			}
			f, err := v.FieldByIndexErr(o.index)
			if err != nil {
				return false
			}
			v = f

		case opMethod:
			if v, ok = callMethod(v, o.index[0]); !ok {
				return false
			}

		case opMapKey:
			if v.Kind() != reflect.Map {
				return false
			}
			v = v.MapIndex(o.key)
			if !v.IsValid() {
				return false
			}

		case opIndex:
			if !isSequence(v.Kind()) || o.n >= v.Len() {
				return false
			}
			v = v.Index(o.n)

		case opName:
			switch v.Kind() {
			case reflect.Map:
				kt := v.Type().Key()
				if kt.Kind() != reflect.String {
					return false
				}
				v = v.MapIndex(reflect.ValueOf(o.name).Convert(kt))
				if !v.IsValid() {
					return false
				}
			case reflect.Struct:
				m, found := lookupMember(v.Type(), o.name, o.methods)
				if !found {
					return false
				}
				if m.method {
					if v, ok = callMethod(v, m.index[0]); !ok {
						return false
					}
				} else {
					f, err := v.FieldByIndexErr(m.index)
					if err != nil {
						return false
					}
					v = f
				}
			case reflect.Slice, reflect.Array:
				// Implicit projection: the same op applies to every element.
				return project(ops[i:], v, c, depth)
			default:
				return false
			}
		}
	}

	leaf, ok := indirectLeaf(v)
	if !ok {
		return false
	}
	if c.projected && isSequence(leaf.Kind()) {
		for j := 0; j < leaf.Len(); j++ {
			if e, ok := indirectLeaf(leaf.Index(j)); ok {
				c.values = append(c.values, e.Interface())
			}
		}
		return true
	}
	c.values = append(c.values, leaf.Interface())
	return true
}

// project visits every element of v with the remaining ops.
func project(ops []accessOp, v reflect.Value, c *collector, depth int) bool {
	if !isSequence(v.Kind()) || depth >= types.MaxProjections {
		return false
	}
	if v.Kind() == reflect.Slice && v.IsNil() {
		return false
	}
	c.projected = true
	for j := 0; j < v.Len(); j++ {
		walk(ops, v.Index(j), c, depth+1)
	}
	return true
}

// callMethod invokes a niladic method, treating a panic as an absent value.
func callMethod(v reflect.Value, index int) (out reflect.Value, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			out, ok = reflect.Value{}, false
		}
	}()
	results := v.Method(index).Call(nil)
	return results[0], true
}

// indirect unwraps pointers and interfaces. Returns false on nil.
func indirect(v reflect.Value) (reflect.Value, bool) {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, v.IsValid()
}

// indirectLeaf is indirect plus nil slices/maps count as absent.
func indirectLeaf(v reflect.Value) (reflect.Value, bool) {
	v, ok := indirect(v)
	if !ok {
		return v, false
	}
	if (v.Kind() == reflect.Slice || v.Kind() == reflect.Map) && v.IsNil() {
		return reflect.Value{}, false
	}
	if !v.CanInterface() {
		return reflect.Value{}, false
	}
	return v, true
}

func isSequence(k reflect.Kind) bool {
	return k == reflect.Slice || k == reflect.Array
}

// Resolver builds accessors and caches them per (type, path).
type Resolver struct {
	cache sync.Map // resolverKey -> *Accessor
}

type resolverKey struct {
	t       reflect.Type
	path    string
	methods bool
}

// NewResolver creates an empty resolver cache.
func NewResolver() *Resolver {
	return &Resolver{}
}

var defaultResolver = NewResolver()

// Resolve returns the accessor for path on values of type t. Only fields,
// map keys and elements are resolved; methods are not.
// Returns ErrPropertyNotFound for unknown members, ErrPathTooDeep,
// ErrTooManyProjections, and ErrUnsupportedPropertyType for leaf types no
// operator can compare.
func (r *Resolver) Resolve(t reflect.Type, path string) (*Accessor, error) {
	return r.resolve(t, path, false)
}

// ResolveWithMethods is Resolve with niladic methods accepted as members.
func (r *Resolver) ResolveWithMethods(t reflect.Type, path string) (*Accessor, error) {
	return r.resolve(t, path, true)
}

func (r *Resolver) resolve(t reflect.Type, path string, methods bool) (*Accessor, error) {
	key := resolverKey{t: t, path: path, methods: methods}
	if cached, ok := r.cache.Load(key); ok {
		return cached.(*Accessor), nil
	}

	acc, err := buildAccessor(t, path, methods)
	if err != nil {
		return nil, err
	}
	actual, _ := r.cache.LoadOrStore(key, acc)
	return actual.(*Accessor), nil
}

// Resolve uses the package-level resolver cache.
func Resolve(t reflect.Type, path string) (*Accessor, error) {
	return defaultResolver.Resolve(t, path)
}

func buildAccessor(root reflect.Type, path string, methods bool) (*Accessor, error) {
	segments, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	acc := &Accessor{Path: path, Root: root}
	t := root
	projections := 0
	dynamic := false

	for i := 0; i < len(segments); i++ {
		seg := segments[i]
		t = derefType(t)

		if t.Kind() == reflect.Interface {
			// Remaining segments resolve against the runtime value.
			for _, rest := range segments[i:] {
				acc.ops = append(acc.ops, dynamicOp(rest, methods))
			}
			dynamic = true
			break
		}

		switch {
		case seg.Wildcard:
			if !isSequence(t.Kind()) {
				return nil, fmt.Errorf("%w: %q is not a sequence in %q", types.ErrPropertyNotFound, t, path)
			}
			projections++
			acc.ops = append(acc.ops, accessOp{kind: opProject})
			t = t.Elem()

		case seg.IsIndex:
			if !isSequence(t.Kind()) {
				return nil, fmt.Errorf("%w: %q is not a sequence in %q", types.ErrPropertyNotFound, t, path)
			}
			acc.ops = append(acc.ops, accessOp{kind: opIndex, n: seg.Index})
			t = t.Elem()

		case isSequence(t.Kind()):
			// Implicit projection; revisit the same segment on the element type.
			projections++
			acc.ops = append(acc.ops, accessOp{kind: opProject})
			t = t.Elem()
			i--

		case t.Kind() == reflect.Map:
			if t.Key().Kind() != reflect.String {
				return nil, fmt.Errorf("%w: map key %q is not a string in %q", types.ErrPropertyNotFound, t.Key(), path)
			}
			acc.ops = append(acc.ops, accessOp{
				kind: opMapKey,
				key:  reflect.ValueOf(seg.Key).Convert(t.Key()),
			})
			t = t.Elem()

		case t.Kind() == reflect.Struct:
			m, ok := lookupMember(t, seg.Key, methods)
			if !ok {
				return nil, fmt.Errorf("%w: %s has no member %q", types.ErrPropertyNotFound, t, seg.Key)
			}
			if m.method {
				acc.ops = append(acc.ops, accessOp{kind: opMethod, index: m.index})
			} else {
				acc.ops = append(acc.ops, accessOp{kind: opField, index: m.index})
			}
			t = m.typ

		default:
			return nil, fmt.Errorf("%w: cannot resolve %q on %s", types.ErrPropertyNotFound, seg.Key, t)
		}

		if projections > types.MaxProjections {
			return nil, types.ErrTooManyProjections
		}
	}

	projected := projections > 0
	if dynamic {
		if projected {
			acc.Shape = Shape{Kind: ShapeScalarSeq, Elem: anyType}
		} else {
			acc.Shape = Shape{Kind: ShapeDynamic}
		}
		return acc, nil
	}

	shape, err := shapeOf(t, projected)
	if err != nil {
		return nil, fmt.Errorf("%w: %s at %q", err, t, path)
	}
	acc.Shape = shape
	return acc, nil
}

func dynamicOp(seg PathSegment, methods bool) accessOp {
	switch {
	case seg.Wildcard:
		return accessOp{kind: opProject}
	case seg.IsIndex:
		return accessOp{kind: opIndex, n: seg.Index}
	default:
		return accessOp{kind: opName, name: seg.Key, methods: methods}
	}
}

type member struct {
	index  []int
	typ    reflect.Type
	method bool
}

var memberCache sync.Map // resolverKey -> member

// lookupMember finds an exported field by name, or a niladic method when
// methods is set.
func lookupMember(t reflect.Type, name string, methods bool) (member, bool) {
	key := resolverKey{t: t, path: name, methods: methods}
	if cached, ok := memberCache.Load(key); ok {
		return cached.(member), true
	}

	m, ok := findMember(t, name, methods)
	if ok {
		memberCache.Store(key, m)
	}
	return m, ok
}

func findMember(t reflect.Type, name string, methods bool) (member, bool) {
	if t.Kind() == reflect.Struct {
		if f, ok := t.FieldByName(name); ok && f.IsExported() {
			return member{index: f.Index, typ: f.Type}, true
		}

		fields := reflect.VisibleFields(t)
		for _, f := range fields {
			if !f.IsExported() {
				continue
			}
			tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if tag == name {
				return member{index: f.Index, typ: f.Type}, true
			}
		}
		for _, f := range fields {
			if f.IsExported() && strings.EqualFold(f.Name, name) {
				return member{index: f.Index, typ: f.Type}, true
			}
		}
	}

	if !methods {
		return member{}, false
	}
	if m, ok := t.MethodByName(name); ok && m.Type.NumIn() == 1 && m.Type.NumOut() == 1 {
		return member{index: []int{m.Index}, typ: m.Type.Out(0), method: true}, true
	}
	return member{}, false
}

var (
	timeType = reflect.TypeFor[time.Time]()
	anyType  = reflect.TypeFor[any]()
)

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
