// Package columnar implements the HDF5-backed notebook container (spec
// §6.2): one file, one group per tag, one dataset per schema field. It
// trades the JSON backend's portability for typed, large-data-friendly
// storage — every numeric column is written at a fixed width instead of
// riding along as a JSON number.
//
// HDF5 doesn't make a single dataset holding mixed-type columns pleasant
// to drive from Go (it wants either a homogeneous array or a compound
// datatype built field-by-field through cgo), so each schema field gets
// its own dataset inside a per-tag "results" group, named after the
// field. A scalar field is a 1-D dataset of length len(records); an
// int, float or bool array field is a 2-D dataset, one row per record,
// flattened row-major; complex and text fields, scalar or array, are
// 1-D text datasets of each value's text rendering. The tag group's attributes record field order, kind, and
// bucket (parameter/result/metadata) so Load can reassemble records
// without re-inferring anything from the data itself.
package columnar

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gonum.org/v1/hdf5"

	"github.com/labframe/labframe/internal/notebook"
	"github.com/labframe/labframe/internal/record"
	"github.com/labframe/labframe/internal/resultset"
	"github.com/labframe/labframe/internal/schema"
	"github.com/labframe/labframe/internal/value"
)

// ErrResultsStructure is returned when a record's array-valued field
// doesn't share the same length as every other record's value for that
// field — columnar array columns require one fixed width per field
// (spec §6.2).
var ErrResultsStructure = errors.New("columnar: inconsistent array length for field")

const (
	resultsGroup = "results"
	pendingGroup = "pending"
	jobIDColumn  = "job_id"
)

const listSep = ","

// Writer implements notebook.Persister against an HDF5 file at path.
type Writer struct {
	path   string
	widths WidthOverrides
	logger *slog.Logger
}

// NewWriter binds a Writer to a file path. widths may be nil, meaning no
// per-field width overrides.
func NewWriter(path string, widths WidthOverrides, logger *slog.Logger) *Writer {
	if widths == nil {
		widths = WidthOverrides{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{path: path, widths: widths, logger: logger}
}

// Save implements notebook.Persister, rewriting the whole file from the
// notebook's current state.
func (w *Writer) Save(n *notebook.Notebook) error {
	f, err := hdf5.CreateFile(w.path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return fmt.Errorf("columnar: create file: %w", err)
	}
	defer f.Close()

	if err := writeAttr(f, "version", int32(1)); err != nil {
		return err
	}

	if err := writeAttr(f, "description", n.Description()); err != nil {
		return err
	}

	currentTag := ""
	if tag, _, ok := n.Current(); ok {
		currentTag = tag
	}

	if err := writeAttr(f, "current_tag", currentTag); err != nil {
		return err
	}

	for name, val := range n.Attributes() {
		if err := writeAttr(f, "attr_"+name, val); err != nil {
			return err
		}
	}

	for _, tag := range n.Tags() {
		rs, ok := n.ResultSet(tag)
		if !ok {
			continue
		}

		if err := w.saveTag(f, tag, rs); err != nil {
			return fmt.Errorf("columnar: save tag %q: %w", tag, err)
		}
	}

	w.logger.Info("columnar: saved notebook", slog.String("path", w.path), slog.Int("tags", len(n.Tags())))

	return nil
}

func (w *Writer) saveTag(f *hdf5.File, tag string, rs *resultset.ResultSet) error {
	g, err := f.CreateGroup(tag)
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	defer g.Close()

	if err := writeAttr(g, "description", rs.Description()); err != nil {
		return err
	}

	if err := writeAttr(g, "locked", rs.Locked()); err != nil {
		return err
	}

	for name, val := range rs.Attributes() {
		if err := writeAttr(g, "attr_"+name, val); err != nil {
			return err
		}
	}

	records := rs.Records()
	fields := rs.SchemaReal().Fields()

	names, kinds, buckets, err := classifyFields(fields, records)
	if err != nil {
		return err
	}

	if err := writeAttr(g, "field_names", strings.Join(names, listSep)); err != nil {
		return err
	}

	if err := writeAttr(g, "field_kinds", strings.Join(kinds, listSep)); err != nil {
		return err
	}

	if err := writeFieldNameList(g, "parameter_names", buckets, bucketParameter); err != nil {
		return err
	}

	if err := writeFieldNameList(g, "result_names", buckets, bucketResult); err != nil {
		return err
	}

	if err := writeFieldNameList(g, "metadata_names", buckets, bucketMetadata); err != nil {
		return err
	}

	resultsG, err := g.CreateGroup(resultsGroup)
	if err != nil {
		return fmt.Errorf("create %s group: %w", resultsGroup, err)
	}
	defer resultsG.Close()

	for _, fld := range fields {
		if err := w.writeColumn(resultsG, fld, records); err != nil {
			return fmt.Errorf("field %q: %w", fld.Name, err)
		}
	}

	pending := rs.PendingRecords()
	if len(pending) == 0 {
		return nil
	}

	pendingG, err := g.CreateGroup(pendingGroup)
	if err != nil {
		return fmt.Errorf("create %s group: %w", pendingGroup, err)
	}
	defer pendingG.Close()

	jobIDs := make([]string, len(pending))
	pendingRecords := make([]record.Record, len(pending))

	for i, p := range pending {
		jobIDs[i] = p.JobID
		pendingRecords[i] = record.Record{Parameters: p.Parameters}
	}

	if err := writeTextColumn(pendingG, jobIDColumn, jobIDs); err != nil {
		return fmt.Errorf("%s column: %w", jobIDColumn, err)
	}

	for _, fld := range rs.SchemaPending().Fields() {
		if err := w.writeColumn(pendingG, fld, pendingRecords); err != nil {
			return fmt.Errorf("pending field %q: %w", fld.Name, err)
		}
	}

	return nil
}

// writeColumn writes one dataset for fld, scalar (1-D) or array (2-D)
// depending on its kind, resolving numeric width per spec §9.
func (w *Writer) writeColumn(g *hdf5.Group, fld schema.Field, records []record.Record) error {
	switch fld.Kind {
	case value.KindInt:
		width := resolveIntWidth(fld.Name, records, w.widths)

		vals := make([]int64, len(records))
		for i, rec := range records {
			v, _ := fieldValue(rec, fld.Name)
			vals[i], _ = v.Int()
		}

		if width == width32 {
			narrow := make([]int32, len(vals))
			for i, v := range vals {
				narrow[i] = int32(v)
			}

			return writeDataset(g, fld.Name, narrow)
		}

		return writeDataset(g, fld.Name, vals)

	case value.KindFloat:
		width := resolveFloatWidth(fld.Name, records, w.widths)

		vals := make([]float64, len(records))
		for i, rec := range records {
			v, _ := fieldValue(rec, fld.Name)
			vals[i], _ = v.Float()
		}

		if width == width32 {
			narrow := make([]float32, len(vals))
			for i, v := range vals {
				narrow[i] = float32(v)
			}

			return writeDataset(g, fld.Name, narrow)
		}

		return writeDataset(g, fld.Name, vals)

	case value.KindBool:
		vals := make([]bool, len(records))
		for i, rec := range records {
			v, _ := fieldValue(rec, fld.Name)
			vals[i], _ = v.Bool()
		}

		return writeDataset(g, fld.Name, vals)

	case value.KindText, value.KindComplex:
		vals := make([]string, len(records))
		for i, rec := range records {
			v, _ := fieldValue(rec, fld.Name)
			vals[i] = v.AsText()
		}

		return writeTextColumn(g, fld.Name, vals)

	case value.KindArrayInt:
		rows, cols, err := arrayRows(records, fld.Name, func(v value.Value) ([]int64, error) { return v.ArrayInt() })
		if err != nil {
			return err
		}

		return writeArrayColumn(g, fld.Name, rows, cols)

	case value.KindArrayFloat:
		rows, cols, err := arrayRows(records, fld.Name, func(v value.Value) ([]float64, error) { return v.ArrayFloat() })
		if err != nil {
			return err
		}

		return writeArrayColumn(g, fld.Name, rows, cols)

	case value.KindArrayBool:
		rows, cols, err := arrayRows(records, fld.Name, func(v value.Value) ([]bool, error) { return v.ArrayBool() })
		if err != nil {
			return err
		}

		return writeArrayColumn(g, fld.Name, rows, cols)

	case value.KindArrayText, value.KindArrayComplex:
		vals := make([]string, len(records))
		for i, rec := range records {
			v, _ := fieldValue(rec, fld.Name)
			vals[i] = v.AsText()
		}

		return writeTextColumn(g, fld.Name, vals)

	default:
		return fmt.Errorf("unsupported kind %s", fld.Kind)
	}
}

// arrayRows flattens every record's array value for name into one
// row-major slice, checking every row shares the first observed length
// (spec §6.2: array columns are fixed-width, one length per field).
func arrayRows[T any](records []record.Record, name string, extract func(value.Value) ([]T, error)) ([]T, int, error) {
	cols := -1
	flat := make([]T, 0, len(records))

	for _, rec := range records {
		v, ok := fieldValue(rec, name)
		if !ok {
			continue
		}

		row, err := extract(v)
		if err != nil {
			continue
		}

		if cols == -1 {
			cols = len(row)
		} else if len(row) != cols {
			return nil, 0, fmt.Errorf("%w: field %q has rows of length %d and %d", ErrResultsStructure, name, cols, len(row))
		}

		flat = append(flat, row...)
	}

	if cols == -1 {
		cols = 0
	}

	return flat, cols, nil
}

func writeArrayColumn[T any](g *hdf5.Group, name string, flat []T, cols int) error {
	rows := 0
	if cols > 0 {
		rows = len(flat) / cols
	}

	dims := []uint{uint(rows), uint(cols)}

	dtype, err := hdf5.NewDatatypeFromValue(flat)
	if err != nil {
		return fmt.Errorf("datatype for %q: %w", name, err)
	}
	defer dtype.Close()

	space, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return fmt.Errorf("dataspace for %q: %w", name, err)
	}
	defer space.Close()

	ds, err := g.CreateDataset(name, dtype, space)
	if err != nil {
		return fmt.Errorf("create dataset %q: %w", name, err)
	}
	defer ds.Close()

	if err := ds.Write(&flat); err != nil {
		return fmt.Errorf("write dataset %q: %w", name, err)
	}

	return nil
}

func writeDataset[T any](g *hdf5.Group, name string, vals []T) error {
	dtype, err := hdf5.NewDatatypeFromValue(vals)
	if err != nil {
		return fmt.Errorf("datatype for %q: %w", name, err)
	}
	defer dtype.Close()

	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(vals))}, nil)
	if err != nil {
		return fmt.Errorf("dataspace for %q: %w", name, err)
	}
	defer space.Close()

	ds, err := g.CreateDataset(name, dtype, space)
	if err != nil {
		return fmt.Errorf("create dataset %q: %w", name, err)
	}
	defer ds.Close()

	if err := ds.Write(&vals); err != nil {
		return fmt.Errorf("write dataset %q: %w", name, err)
	}

	return nil
}

func writeTextColumn(g *hdf5.Group, name string, vals []string) error {
	return writeDataset(g, name, vals)
}

type attributable interface {
	CreateAttribute(name string, dtype *hdf5.Datatype, dspace *hdf5.Dataspace) (*hdf5.Attribute, error)
}

func writeAttr(loc attributable, name string, v any) error {
	dtype, err := hdf5.NewDatatypeFromValue(v)
	if err != nil {
		return fmt.Errorf("columnar: attribute datatype %q: %w", name, err)
	}
	defer dtype.Close()

	space, err := hdf5.CreateDataspace(hdf5.S_SCALAR)
	if err != nil {
		return fmt.Errorf("columnar: attribute dataspace %q: %w", name, err)
	}
	defer space.Close()

	attr, err := loc.CreateAttribute(name, dtype, space)
	if err != nil {
		return fmt.Errorf("columnar: create attribute %q: %w", name, err)
	}
	defer attr.Close()

	if err := attr.Write(v); err != nil {
		return fmt.Errorf("columnar: write attribute %q: %w", name, err)
	}

	return nil
}

// bucket names which namespace a field's value came from, used to
// rebuild Parameters/Results/Metadata on load.
type bucket int

const (
	bucketParameter bucket = iota
	bucketResult
	bucketMetadata
)

// classifyFields derives, for each schema field, its kind string and
// which of P/R/M it belongs to, by checking the first record where it
// is present.
func classifyFields(fields []schema.Field, records []record.Record) (names, kinds []string, buckets map[string]bucket, err error) {
	buckets = make(map[string]bucket, len(fields))

	for _, fld := range fields {
		names = append(names, fld.Name)
		kinds = append(kinds, fld.Kind.String())
		buckets[fld.Name] = classifyOne(fld.Name, records)
	}

	return names, kinds, buckets, nil
}

func classifyOne(name string, records []record.Record) bucket {
	for _, rec := range records {
		if _, ok := rec.Parameters[name]; ok {
			return bucketParameter
		}

		if _, ok := rec.Results[name]; ok {
			return bucketResult
		}
	}

	return bucketMetadata
}

func writeFieldNameList(g *hdf5.Group, attrName string, buckets map[string]bucket, want bucket) error {
	var names []string

	for name, b := range buckets {
		if b == want {
			names = append(names, name)
		}
	}

	return writeAttr(g, attrName, strings.Join(names, listSep))
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}

	return strings.Split(s, listSep)
}

func parseKind(s string) (value.Kind, error) {
	switch s {
	case "int":
		return value.KindInt, nil
	case "float":
		return value.KindFloat, nil
	case "complex":
		return value.KindComplex, nil
	case "bool":
		return value.KindBool, nil
	case "text":
		return value.KindText, nil
	case "array<int>":
		return value.KindArrayInt, nil
	case "array<float>":
		return value.KindArrayFloat, nil
	case "array<complex>":
		return value.KindArrayComplex, nil
	case "array<bool>":
		return value.KindArrayBool, nil
	case "array<text>":
		return value.KindArrayText, nil
	default:
		return 0, fmt.Errorf("columnar: unrecognised kind %q", s)
	}
}
