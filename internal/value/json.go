package value

import (
	"encoding/json"
	"fmt"
)

// wireValue is Value's JSON wire representation (spec §6.1: records cross
// process and host boundaries, so every Value must round-trip through
// JSON without losing its kind — a generic interface{} decode would turn
// every integer into a float64). Exactly one field is populated, chosen by
// Kind.
type wireValue struct {
	Kind string `json:"kind"`

	Int   *int64   `json:"int,omitempty"`
	Float *float64 `json:"float,omitempty"`
	Bool  *bool    `json:"bool,omitempty"`
	Text  *string  `json:"text,omitempty"`

	// ComplexReal/ComplexImag together encode a complex128, since JSON has
	// no native complex type.
	ComplexReal *float64 `json:"complex_real,omitempty"`
	ComplexImag *float64 `json:"complex_imag,omitempty"`

	ArrayInt         []int64   `json:"array_int,omitempty"`
	ArrayFloat       []float64 `json:"array_float,omitempty"`
	ArrayBool        []bool    `json:"array_bool,omitempty"`
	ArrayText        []string  `json:"array_text,omitempty"`
	ArrayComplexReal []float64 `json:"array_complex_real,omitempty"`
	ArrayComplexImag []float64 `json:"array_complex_imag,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Kind: v.kind.String()}

	switch v.kind {
	case KindInt:
		w.Int = &v.i
	case KindFloat:
		w.Float = &v.f
	case KindBool:
		w.Bool = &v.b
	case KindText:
		w.Text = &v.s
	case KindComplex:
		re, im := real(v.c), imag(v.c)
		w.ComplexReal = &re
		w.ComplexImag = &im
	case KindArrayInt:
		w.ArrayInt = v.ai
	case KindArrayFloat:
		w.ArrayFloat = v.af
	case KindArrayBool:
		w.ArrayBool = v.ab
	case KindArrayText:
		w.ArrayText = v.as_
	case KindArrayComplex:
		re := make([]float64, len(v.ac))
		im := make([]float64, len(v.ac))

		for i, c := range v.ac {
			re[i] = real(c)
			im[i] = imag(c)
		}

		w.ArrayComplexReal = re
		w.ArrayComplexImag = im
	default:
		return nil, fmt.Errorf("value: cannot marshal kind %s", v.kind)
	}

	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("value: unmarshal: %w", err)
	}

	switch w.Kind {
	case "int":
		if w.Int == nil {
			return fmt.Errorf("value: kind int missing int field")
		}

		*v = Int(*w.Int)
	case "float":
		if w.Float == nil {
			return fmt.Errorf("value: kind float missing float field")
		}

		*v = Float(*w.Float)
	case "bool":
		if w.Bool == nil {
			return fmt.Errorf("value: kind bool missing bool field")
		}

		*v = Bool(*w.Bool)
	case "text":
		if w.Text == nil {
			return fmt.Errorf("value: kind text missing text field")
		}

		*v = Text(*w.Text)
	case "complex":
		if w.ComplexReal == nil || w.ComplexImag == nil {
			return fmt.Errorf("value: kind complex missing real/imag field")
		}

		*v = Complex(complex(*w.ComplexReal, *w.ComplexImag))
	case "array<int>":
		*v = ArrayInt(w.ArrayInt)
	case "array<float>":
		*v = ArrayFloat(w.ArrayFloat)
	case "array<bool>":
		*v = ArrayBool(w.ArrayBool)
	case "array<text>":
		*v = ArrayText(w.ArrayText)
	case "array<complex>":
		cs := make([]complex128, len(w.ArrayComplexReal))
		for i := range cs {
			cs[i] = complex(w.ArrayComplexReal[i], w.ArrayComplexImag[i])
		}

		*v = ArrayComplex(cs)
	default:
		return fmt.Errorf("value: unknown kind %q", w.Kind)
	}

	return nil
}
