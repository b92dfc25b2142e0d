// Package value provides the tagged scalar/array union used for experiment
// parameters and results, and the kind lattice that schema inference and
// promotion are built on.
package value

import (
	"errors"
	"fmt"
)

// Kind identifies the runtime type carried by a Value. Kinds form a small
// lattice: Int < Float < Complex within the numeric branch, Bool and Text
// sit outside it, and every scalar kind has an Array-of-that-kind counterpart.
type Kind int

const (
	// KindInt is a 64-bit signed integer.
	KindInt Kind = iota
	// KindFloat is a 64-bit floating point number.
	KindFloat
	// KindComplex is a 128-bit complex number.
	KindComplex
	// KindBool is a boolean.
	KindBool
	// KindText is a UTF-8 string. Strings are always scalar, never iterable.
	KindText
	// KindArrayInt is a one-dimensional array of KindInt.
	KindArrayInt
	// KindArrayFloat is a one-dimensional array of KindFloat.
	KindArrayFloat
	// KindArrayComplex is a one-dimensional array of KindComplex.
	KindArrayComplex
	// KindArrayBool is a one-dimensional array of KindBool.
	KindArrayBool
	// KindArrayText is a one-dimensional array of KindText.
	KindArrayText
)

// String renders the kind's canonical name, used in schema dumps and error
// messages.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindComplex:
		return "complex"
	case KindBool:
		return "bool"
	case KindText:
		return "text"
	case KindArrayInt:
		return "array<int>"
	case KindArrayFloat:
		return "array<float>"
	case KindArrayComplex:
		return "array<complex>"
	case KindArrayBool:
		return "array<bool>"
	case KindArrayText:
		return "array<text>"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsArray reports whether the kind is an array-of-scalar kind.
func (k Kind) IsArray() bool {
	return k >= KindArrayInt && k <= KindArrayText
}

// IsNumeric reports whether the kind participates in the int < float <
// complex widening lattice (scalar only; arrays never widen element-wise —
// an array field is coerced to text on any kind conflict, see Promote).
func (k Kind) IsNumeric() bool {
	return k == KindInt || k == KindFloat || k == KindComplex
}

// ErrKindMismatch is returned by accessors when a Value does not hold the
// requested kind.
var ErrKindMismatch = errors.New("value: kind mismatch")

// Value is a tagged union over the safe scalar kinds (int64, float64,
// complex128, bool, string) and one-dimensional arrays of each. It is the
// sole representation of entries in Parameters and Results maps (spec
// §3, §9).
type Value struct {
	kind Kind

	i    int64
	f    float64
	c    complex128
	b    bool
	s    string
	ai   []int64
	af   []float64
	ac   []complex128
	ab   []bool
	as_  []string
}

// Kind returns the Value's runtime kind.
func (v Value) Kind() Kind { return v.kind }

// Int constructs an integer Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float constructs a floating-point Value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Complex constructs a complex Value.
func Complex(c complex128) Value { return Value{kind: KindComplex, c: c} }

// Bool constructs a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Text constructs a string Value.
func Text(s string) Value { return Value{kind: KindText, s: s} }

// ArrayInt constructs a one-dimensional integer-array Value.
func ArrayInt(a []int64) Value { return Value{kind: KindArrayInt, ai: append([]int64(nil), a...)} }

// ArrayFloat constructs a one-dimensional float-array Value.
func ArrayFloat(a []float64) Value {
	return Value{kind: KindArrayFloat, af: append([]float64(nil), a...)}
}

// ArrayComplex constructs a one-dimensional complex-array Value.
func ArrayComplex(a []complex128) Value {
	return Value{kind: KindArrayComplex, ac: append([]complex128(nil), a...)}
}

// ArrayBool constructs a one-dimensional bool-array Value.
func ArrayBool(a []bool) Value { return Value{kind: KindArrayBool, ab: append([]bool(nil), a...)} }

// ArrayText constructs a one-dimensional string-array Value.
func ArrayText(a []string) Value {
	return Value{kind: KindArrayText, as_: append([]string(nil), a...)}
}

// Int returns the underlying int64, or an error if the Value is not KindInt.
func (v Value) Int() (int64, error) {
	if v.kind != KindInt {
		return 0, fmt.Errorf("%w: want int, got %s", ErrKindMismatch, v.kind)
	}

	return v.i, nil
}

// Float returns the underlying float64, or an error if the Value is not
// KindFloat.
func (v Value) Float() (float64, error) {
	if v.kind != KindFloat {
		return 0, fmt.Errorf("%w: want float, got %s", ErrKindMismatch, v.kind)
	}

	return v.f, nil
}

// Complex returns the underlying complex128, or an error if the Value is not
// KindComplex.
func (v Value) Complex() (complex128, error) {
	if v.kind != KindComplex {
		return 0, fmt.Errorf("%w: want complex, got %s", ErrKindMismatch, v.kind)
	}

	return v.c, nil
}

// Bool returns the underlying bool, or an error if the Value is not KindBool.
func (v Value) Bool() (bool, error) {
	if v.kind != KindBool {
		return false, fmt.Errorf("%w: want bool, got %s", ErrKindMismatch, v.kind)
	}

	return v.b, nil
}

// Text returns the underlying string, or an error if the Value is not
// KindText.
func (v Value) Text() (string, error) {
	if v.kind != KindText {
		return "", fmt.Errorf("%w: want text, got %s", ErrKindMismatch, v.kind)
	}

	return v.s, nil
}

// ArrayInt returns the underlying []int64, or an error if the Value is not
// KindArrayInt.
func (v Value) ArrayInt() ([]int64, error) {
	if v.kind != KindArrayInt {
		return nil, fmt.Errorf("%w: want array<int>, got %s", ErrKindMismatch, v.kind)
	}

	return v.ai, nil
}

// ArrayFloat returns the underlying []float64, or an error if the Value is
// not KindArrayFloat.
func (v Value) ArrayFloat() ([]float64, error) {
	if v.kind != KindArrayFloat {
		return nil, fmt.Errorf("%w: want array<float>, got %s", ErrKindMismatch, v.kind)
	}

	return v.af, nil
}

// ArrayComplex returns the underlying []complex128, or an error if the Value
// is not KindArrayComplex.
func (v Value) ArrayComplex() ([]complex128, error) {
	if v.kind != KindArrayComplex {
		return nil, fmt.Errorf("%w: want array<complex>, got %s", ErrKindMismatch, v.kind)
	}

	return v.ac, nil
}

// ArrayBool returns the underlying []bool, or an error if the Value is not
// KindArrayBool.
func (v Value) ArrayBool() ([]bool, error) {
	if v.kind != KindArrayBool {
		return nil, fmt.Errorf("%w: want array<bool>, got %s", ErrKindMismatch, v.kind)
	}

	return v.ab, nil
}

// ArrayText returns the underlying []string, or an error if the Value is not
// KindArrayText.
func (v Value) ArrayText() ([]string, error) {
	if v.kind != KindArrayText {
		return nil, fmt.Errorf("%w: want array<text>, got %s", ErrKindMismatch, v.kind)
	}

	return v.as_, nil
}

// Zero returns the zero value for a kind, used to backfill records that
// predate a field being added to a result set's schema (spec §4.2 rule 3).
func Zero(k Kind) Value {
	switch k {
	case KindInt:
		return Int(0)
	case KindFloat:
		return Float(0)
	case KindComplex:
		return Complex(0)
	case KindBool:
		return Bool(false)
	case KindText:
		return Text("")
	case KindArrayInt:
		return ArrayInt(nil)
	case KindArrayFloat:
		return ArrayFloat(nil)
	case KindArrayComplex:
		return ArrayComplex(nil)
	case KindArrayBool:
		return ArrayBool(nil)
	case KindArrayText:
		return ArrayText(nil)
	default:
		return Value{}
	}
}

// AsText coerces any Value to its text rendering, used when Promote widens a
// field to KindText (the weakest kind that accepts every other kind).
func (v Value) AsText() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindComplex:
		return fmt.Sprintf("%v", v.c)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindText:
		return v.s
	case KindArrayInt:
		return fmt.Sprintf("%v", v.ai)
	case KindArrayFloat:
		return fmt.Sprintf("%v", v.af)
	case KindArrayComplex:
		return fmt.Sprintf("%v", v.ac)
	case KindArrayBool:
		return fmt.Sprintf("%v", v.ab)
	case KindArrayText:
		return fmt.Sprintf("%v", v.as_)
	default:
		return ""
	}
}

// AsFloat widens a numeric Value to float64, used when Promote widens a
// field within the int < float < complex lattice. Only valid for KindInt and
// KindFloat.
func (v Value) AsFloat() (float64, error) {
	switch v.kind {
	case KindInt:
		return float64(v.i), nil
	case KindFloat:
		return v.f, nil
	default:
		return 0, fmt.Errorf("%w: want numeric, got %s", ErrKindMismatch, v.kind)
	}
}

// AsComplex widens a numeric Value to complex128, used when Promote widens a
// field to KindComplex.
func (v Value) AsComplex() (complex128, error) {
	switch v.kind {
	case KindInt:
		return complex(float64(v.i), 0), nil
	case KindFloat:
		return complex(v.f, 0), nil
	case KindComplex:
		return v.c, nil
	default:
		return 0, fmt.Errorf("%w: want numeric, got %s", ErrKindMismatch, v.kind)
	}
}

// Equal reports whether two Values carry the same kind and content. Used by
// parameterCombinations / recordsFor matching.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}

	switch v.kind {
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindComplex:
		return v.c == other.c
	case KindBool:
		return v.b == other.b
	case KindText:
		return v.s == other.s
	case KindArrayInt:
		return equalSlice(v.ai, other.ai)
	case KindArrayFloat:
		return equalSlice(v.af, other.af)
	case KindArrayComplex:
		return equalSlice(v.ac, other.ac)
	case KindArrayBool:
		return equalSlice(v.ab, other.ab)
	case KindArrayText:
		return equalSlice(v.as_, other.as_)
	default:
		return false
	}
}

func equalSlice[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
