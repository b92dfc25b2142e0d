// Package schema implements the explicit, ordered (name, kind) schema
// vectors that a result set infers from its first record and widens
// thereafter (spec §3, §4.2, §9).
package schema

import "github.com/labframe/labframe/internal/value"

// Field names a single schema column and its inferred kind.
type Field struct {
	Name string
	Kind value.Kind
}

// Schema is an ordered vector of Fields. Field order is append order: the
// first time a field name is seen, it is appended; thereafter its Kind may
// widen in place but its position never changes. This makes columnar
// persistence (which writes one column per field, in schema order)
// deterministic across commits.
type Schema struct {
	fields []Field
	index  map[string]int
}

// New returns an empty Schema.
func New() *Schema {
	return &Schema{index: make(map[string]int)}
}

// Fields returns the schema's fields in column order. The returned slice
// must not be mutated by the caller.
func (s *Schema) Fields() []Field {
	return s.fields
}

// Has reports whether name is already part of the schema.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]

	return ok
}

// Kind returns the current inferred kind for name and whether it exists.
func (s *Schema) Kind(name string) (value.Kind, bool) {
	i, ok := s.index[name]
	if !ok {
		return 0, false
	}

	return s.fields[i].Kind, true
}

// Observe folds one observed (name, kind) pair into the schema: a new field
// is appended at its current kind; an existing field is widened via
// value.Promote. It reports whether the field's kind changed as a result
// (including first-time addition), so callers — notably ResultSet — can
// flag a "type-changed" event for persistence to observe (spec §4.2 rule 2).
func (s *Schema) Observe(name string, k value.Kind) (changed bool) {
	i, ok := s.index[name]
	if !ok {
		s.index[name] = len(s.fields)
		s.fields = append(s.fields, Field{Name: name, Kind: k})

		return true
	}

	widened := value.Promote(s.fields[i].Kind, k)
	if widened == s.fields[i].Kind {
		return false
	}

	s.fields[i].Kind = widened

	return true
}

// Clone returns a deep, independent copy of the schema.
func (s *Schema) Clone() *Schema {
	out := &Schema{
		fields: append([]Field(nil), s.fields...),
		index:  make(map[string]int, len(s.index)),
	}

	for k, v := range s.index {
		out.index[k] = v
	}

	return out
}

// Backfill returns the zero value.Value for name under the schema's current
// kind. Used to logically pad earlier records that predate a field being
// added (spec §4.2 rule 3) — result sets never rewrite stored records in
// place, they backfill at retrieval time.
func (s *Schema) Backfill(name string) value.Value {
	k, ok := s.Kind(name)
	if !ok {
		return value.Value{}
	}

	return value.Zero(k)
}
