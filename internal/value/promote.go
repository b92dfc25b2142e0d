package value

// Promote computes the kind that results from widening existing to accept a
// value newly observed to be of kind incoming. It implements the lattice
// from spec §4.2 rule 2: int < float < complex widen within the numeric
// branch; any other conflict (bool vs text, scalar vs array, array-of-X vs
// array-of-Y) coerces to KindText, the weakest kind that accepts both.
//
// Promote is commutative: Promote(a, b) == Promote(b, a).
func Promote(existing, incoming Kind) Kind {
	if existing == incoming {
		return existing
	}

	if existing.IsNumeric() && incoming.IsNumeric() {
		return widestNumeric(existing, incoming)
	}

	return KindText
}

// widestNumeric returns the wider of two numeric (non-array) kinds under
// int < float < complex.
func widestNumeric(a, b Kind) Kind {
	rank := func(k Kind) int {
		switch k {
		case KindInt:
			return 0
		case KindFloat:
			return 1
		case KindComplex:
			return 2
		default:
			return -1
		}
	}

	if rank(a) >= rank(b) {
		return a
	}

	return b
}

// Widen converts v to the given kind, following the same lattice as
// Promote. The result set does not call it: stored records keep the kinds
// they were appended with when the schema widens a field. Widening to KindText always
// succeeds; widening within the numeric branch requires v to already be
// numeric.
func Widen(v Value, to Kind) (Value, error) {
	if v.Kind() == to {
		return v, nil
	}

	switch to {
	case KindText:
		return Text(v.AsText()), nil
	case KindFloat:
		f, err := v.AsFloat()
		if err != nil {
			return Value{}, err
		}

		return Float(f), nil
	case KindComplex:
		c, err := v.AsComplex()
		if err != nil {
			return Value{}, err
		}

		return Complex(c), nil
	default:
		return Value{}, ErrKindMismatch
	}
}
