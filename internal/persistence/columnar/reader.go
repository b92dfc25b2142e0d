package columnar

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/hdf5"

	"github.com/labframe/labframe/internal/notebook"
	"github.com/labframe/labframe/internal/record"
	"github.com/labframe/labframe/internal/value"
)

// Reader implements loading an HDF5 notebook file built by Writer.
type Reader struct {
	path   string
	logger *slog.Logger
}

// NewReader binds a Reader to a file path.
func NewReader(path string, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reader{path: path, logger: logger}
}

// Load reconstructs a notebook from path. The returned notebook's
// persister defaults to a Writer bound to the same path with no width
// overrides; a WithPersister among opts (for example a Writer built by
// NewWriter with widths of its own) replaces that default.
func (r *Reader) Load(opts ...notebook.Option) (*notebook.Notebook, error) {
	f, err := hdf5.OpenFile(r.path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("columnar: open file: %w", err)
	}
	defer f.Close()

	description, err := readStringAttr(f, "description")
	if err != nil {
		return nil, fmt.Errorf("columnar: read description: %w", err)
	}

	currentTag, err := readStringAttr(f, "current_tag")
	if err != nil {
		return nil, fmt.Errorf("columnar: read current_tag: %w", err)
	}

	n := notebook.New(description, append([]notebook.Option{notebook.WithPersister(NewWriter(r.path, nil, r.logger))}, opts...)...)

	tags, err := groupChildNames(f)
	if err != nil {
		return nil, fmt.Errorf("columnar: list tags: %w", err)
	}

	for _, tag := range tags {
		if err := r.loadTag(f, n, tag); err != nil {
			return nil, fmt.Errorf("columnar: load tag %q: %w", tag, err)
		}
	}

	if currentTag != "" {
		if err := n.Select(currentTag); err != nil {
			return nil, fmt.Errorf("columnar: select current tag %q: %w", currentTag, err)
		}
	}

	if err := n.Commit(); err != nil {
		return nil, fmt.Errorf("columnar: clear dirty after load: %w", err)
	}

	r.logger.Info("columnar: loaded notebook", slog.String("path", r.path), slog.Int("tags", len(tags)))

	return n, nil
}

func (r *Reader) loadTag(f *hdf5.File, n *notebook.Notebook, tag string) error {
	g, err := f.OpenGroup(tag)
	if err != nil {
		return fmt.Errorf("open group: %w", err)
	}
	defer g.Close()

	description, err := readStringAttr(g, "description")
	if err != nil {
		return fmt.Errorf("read description: %w", err)
	}

	locked, err := readBoolAttr(g, "locked")
	if err != nil {
		return fmt.Errorf("read locked: %w", err)
	}

	rs, err := n.AddResultSet(tag, description)
	if err != nil {
		return fmt.Errorf("add result set: %w", err)
	}

	names, err := readStringAttr(g, "field_names")
	if err != nil {
		return fmt.Errorf("read field_names: %w", err)
	}

	kindStrs, err := readStringAttr(g, "field_kinds")
	if err != nil {
		return fmt.Errorf("read field_kinds: %w", err)
	}

	parameterNames, err := readStringAttr(g, "parameter_names")
	if err != nil {
		return fmt.Errorf("read parameter_names: %w", err)
	}

	resultNames, err := readStringAttr(g, "result_names")
	if err != nil {
		return fmt.Errorf("read result_names: %w", err)
	}

	buckets := bucketsFrom(splitList(parameterNames), splitList(resultNames))

	fieldNames := splitList(names)
	fieldKindStrs := splitList(kindStrs)

	if len(fieldNames) != len(fieldKindStrs) {
		return fmt.Errorf("field_names/field_kinds length mismatch: %d vs %d", len(fieldNames), len(fieldKindStrs))
	}

	records, err := readColumns(g, resultsGroup, fieldNames, fieldKindStrs, buckets)
	if err != nil {
		return fmt.Errorf("read results: %w", err)
	}

	if err := rs.AddRecords(records); err != nil {
		return fmt.Errorf("restore records: %w", err)
	}

	if hasGroup(g, pendingGroup) {
		if err := r.loadPending(g, n, tag); err != nil {
			return fmt.Errorf("read pending: %w", err)
		}
	}

	if locked {
		if err := rs.Finish(time.Now); err != nil {
			return fmt.Errorf("restore lock: %w", err)
		}
	}

	return nil
}

func (r *Reader) loadPending(g *hdf5.Group, n *notebook.Notebook, tag string) error {
	pg, err := g.OpenGroup(pendingGroup)
	if err != nil {
		return fmt.Errorf("open pending group: %w", err)
	}
	defer pg.Close()

	jobIDs, err := readTextColumn(pg, jobIDColumn)
	if err != nil {
		return fmt.Errorf("read job_id column: %w", err)
	}

	fieldNames, err := fieldNamesInGroup(pg)
	if err != nil {
		return fmt.Errorf("list pending fields: %w", err)
	}

	records := make([]record.Record, len(jobIDs))
	for i := range records {
		records[i] = record.Record{Parameters: value.Dict{}}
	}

	for _, name := range fieldNames {
		if name == jobIDColumn {
			continue
		}

		col, _, err := readColumnAuto(pg, name)
		if err != nil {
			return fmt.Errorf("read pending field %q: %w", name, err)
		}

		for i, v := range col {
			if i >= len(records) {
				break
			}

			records[i].Parameters[name] = v
		}
	}

	for i, jobID := range jobIDs {
		if err := n.RestorePending(tag, jobID, records[i].Parameters); err != nil {
			return fmt.Errorf("restore pending %q: %w", jobID, err)
		}
	}

	return nil
}

func bucketsFrom(parameterNames, resultNames []string) map[string]bucket {
	out := make(map[string]bucket, len(parameterNames)+len(resultNames))

	for _, name := range parameterNames {
		out[name] = bucketParameter
	}

	for _, name := range resultNames {
		out[name] = bucketResult
	}

	return out
}

// readColumns reads every named dataset in subgroup and assembles one
// record.Record per row, routing each field into Parameters, Results,
// or Metadata according to buckets (defaulting to metadata extras).
func readColumns(g *hdf5.Group, subgroup string, fieldNames, kindStrs []string, buckets map[string]bucket) ([]record.Record, error) {
	sg, err := g.OpenGroup(subgroup)
	if err != nil {
		return nil, fmt.Errorf("open %s group: %w", subgroup, err)
	}
	defer sg.Close()

	n := -1
	columns := make(map[string][]value.Value, len(fieldNames))

	for i, name := range fieldNames {
		kind, err := parseKind(kindStrs[i])
		if err != nil {
			return nil, err
		}

		vals, err := readColumn(sg, name, kind)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}

		if n == -1 {
			n = len(vals)
		}

		columns[name] = vals
	}

	if n == -1 {
		n = 0
	}

	records := make([]record.Record, n)

	for i := range records {
		records[i] = record.Record{Parameters: value.Dict{}, Results: value.Dict{}}
	}

	for _, name := range fieldNames {
		vals := columns[name]

		for i := 0; i < n && i < len(vals); i++ {
			routeField(&records[i], name, vals[i], buckets[name])
		}
	}

	return records, nil
}

func routeField(rec *record.Record, name string, v value.Value, b bucket) {
	switch b {
	case bucketParameter:
		rec.Parameters[name] = v
	case bucketResult:
		rec.Results[name] = v
	default:
		if setFixedMetadata(&rec.Metadata, name, v) {
			return
		}

		if rec.Metadata.Extra == nil {
			rec.Metadata.Extra = value.Dict{}
		}

		rec.Metadata.Extra[name] = v
	}
}

// setFixedMetadata attempts to assign v to one of record.Metadata's
// fixed fields, reversing record.Metadata.Get's text/float encoding.
// Reports false when name isn't a fixed key, so callers fall back to
// Extra.
func setFixedMetadata(m *record.Metadata, name string, v value.Value) bool {
	switch name {
	case "status":
		b, err := v.Bool()
		if err != nil {
			return false
		}

		m.Status = b
	case "exception":
		s, _ := v.Text()
		m.Exception = s
	case "traceback":
		s, _ := v.Text()
		m.Traceback = s
	case "start_time":
		s, _ := v.Text()
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			m.StartTime = t
		}
	case "end_time":
		s, _ := v.Text()
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			m.EndTime = t
		}
	case "setup_time":
		f, err := v.Float()
		if err != nil {
			return false
		}

		m.SetupTime = time.Duration(f * float64(time.Second))
	case "experiment_time":
		f, err := v.Float()
		if err != nil {
			return false
		}

		m.ExperimentTime = time.Duration(f * float64(time.Second))
	case "teardown_time":
		f, err := v.Float()
		if err != nil {
			return false
		}

		m.TeardownTime = time.Duration(f * float64(time.Second))
	case "experiment_class":
		s, _ := v.Text()
		m.ExperimentClass = s
	default:
		return false
	}

	return true
}

// readColumn reads dataset name under g, typed according to kind, and
// returns one value.Value per row.
func readColumn(g *hdf5.Group, name string, kind value.Kind) ([]value.Value, error) {
	switch kind {
	case value.KindInt:
		return readIntColumn(g, name)
	case value.KindFloat:
		return readFloatColumn(g, name)
	case value.KindBool:
		vals, err := readBoolSlice(g, name)
		if err != nil {
			return nil, err
		}

		out := make([]value.Value, len(vals))
		for i, b := range vals {
			out[i] = value.Bool(b)
		}

		return out, nil
	case value.KindText, value.KindArrayText:
		vals, err := readTextColumn(g, name)
		if err != nil {
			return nil, err
		}

		out := make([]value.Value, len(vals))
		for i, s := range vals {
			out[i] = value.Text(s)
		}

		return out, nil
	case value.KindComplex:
		vals, err := readTextColumn(g, name)
		if err != nil {
			return nil, err
		}

		out := make([]value.Value, len(vals))
		for i, s := range vals {
			c, err := strconv.ParseComplex(s, 128)
			if err != nil {
				return nil, fmt.Errorf("columnar: parse complex column %q: %w", name, err)
			}

			out[i] = value.Complex(c)
		}

		return out, nil
	case value.KindArrayComplex:
		vals, err := readTextColumn(g, name)
		if err != nil {
			return nil, err
		}

		out := make([]value.Value, len(vals))
		for i, s := range vals {
			arr, err := parseComplexArrayText(s)
			if err != nil {
				return nil, fmt.Errorf("columnar: parse complex array column %q: %w", name, err)
			}

			out[i] = value.ArrayComplex(arr)
		}

		return out, nil
	case value.KindArrayInt:
		rows, err := readIntArrayColumn(g, name)
		if err != nil {
			return nil, err
		}

		out := make([]value.Value, len(rows))
		for i, row := range rows {
			out[i] = value.ArrayInt(row)
		}

		return out, nil
	case value.KindArrayFloat:
		rows, err := readFloatArrayColumn(g, name)
		if err != nil {
			return nil, err
		}

		out := make([]value.Value, len(rows))
		for i, row := range rows {
			out[i] = value.ArrayFloat(row)
		}

		return out, nil
	case value.KindArrayBool:
		rows, err := readBoolArrayColumn(g, name)
		if err != nil {
			return nil, err
		}

		out := make([]value.Value, len(rows))
		for i, row := range rows {
			out[i] = value.ArrayBool(row)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("unsupported kind %s", kind)
	}
}

// readColumnAuto reads a pending-group column whose kind isn't known in
// advance from an attribute, trying int64, float64, text and then bool
// reads in turn and keeping the first that succeeds.
func readColumnAuto(g *hdf5.Group, name string) ([]value.Value, value.Kind, error) {
	ds, err := g.OpenDataset(name)
	if err != nil {
		return nil, 0, fmt.Errorf("open dataset %q: %w", name, err)
	}
	defer ds.Close()

	var asInt64 []int64
	if err := ds.Read(&asInt64); err == nil {
		out := make([]value.Value, len(asInt64))
		for i, v := range asInt64 {
			out[i] = value.Int(v)
		}

		return out, value.KindInt, nil
	}

	var asFloat64 []float64
	if err := ds.Read(&asFloat64); err == nil {
		out := make([]value.Value, len(asFloat64))
		for i, v := range asFloat64 {
			out[i] = value.Float(v)
		}

		return out, value.KindFloat, nil
	}

	var asString []string
	if err := ds.Read(&asString); err == nil {
		out := make([]value.Value, len(asString))
		for i, v := range asString {
			out[i] = value.Text(v)
		}

		return out, value.KindText, nil
	}

	var asBool []bool
	if err := ds.Read(&asBool); err == nil {
		out := make([]value.Value, len(asBool))
		for i, v := range asBool {
			out[i] = value.Bool(v)
		}

		return out, value.KindBool, nil
	}

	return nil, 0, fmt.Errorf("columnar: could not infer type for dataset %q", name)
}

func readIntColumn(g *hdf5.Group, name string) ([]value.Value, error) {
	ds, err := g.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("open dataset %q: %w", name, err)
	}
	defer ds.Close()

	var narrow []int32
	if err := ds.Read(&narrow); err == nil {
		out := make([]value.Value, len(narrow))
		for i, v := range narrow {
			out[i] = value.Int(int64(v))
		}

		return out, nil
	}

	var wide []int64
	if err := ds.Read(&wide); err != nil {
		return nil, fmt.Errorf("read dataset %q: %w", name, err)
	}

	out := make([]value.Value, len(wide))
	for i, v := range wide {
		out[i] = value.Int(v)
	}

	return out, nil
}

func readFloatColumn(g *hdf5.Group, name string) ([]value.Value, error) {
	ds, err := g.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("open dataset %q: %w", name, err)
	}
	defer ds.Close()

	var narrow []float32
	if err := ds.Read(&narrow); err == nil {
		out := make([]value.Value, len(narrow))
		for i, v := range narrow {
			out[i] = value.Float(float64(v))
		}

		return out, nil
	}

	var wide []float64
	if err := ds.Read(&wide); err != nil {
		return nil, fmt.Errorf("read dataset %q: %w", name, err)
	}

	out := make([]value.Value, len(wide))
	for i, v := range wide {
		out[i] = value.Float(v)
	}

	return out, nil
}

func readBoolSlice(g *hdf5.Group, name string) ([]bool, error) {
	ds, err := g.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("open dataset %q: %w", name, err)
	}
	defer ds.Close()

	var vals []bool
	if err := ds.Read(&vals); err != nil {
		return nil, fmt.Errorf("read dataset %q: %w", name, err)
	}

	return vals, nil
}

func readTextColumn(g *hdf5.Group, name string) ([]string, error) {
	ds, err := g.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("open dataset %q: %w", name, err)
	}
	defer ds.Close()

	var vals []string
	if err := ds.Read(&vals); err != nil {
		return nil, fmt.Errorf("read dataset %q: %w", name, err)
	}

	return vals, nil
}

// parseComplexArrayText reverses value.Value.AsText()'s rendering of a
// KindArrayComplex ("[(1+2i) (3-4i)]", Go's %v format for []complex128)
// back into the underlying slice.
func parseComplexArrayText(s string) ([]complex128, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")

	if s == "" {
		return nil, nil
	}

	fields := strings.Fields(s)
	out := make([]complex128, len(fields))

	for i, f := range fields {
		c, err := strconv.ParseComplex(f, 128)
		if err != nil {
			return nil, err
		}

		out[i] = c
	}

	return out, nil
}

func readIntArrayColumn(g *hdf5.Group, name string) ([][]int64, error) {
	flat, rows, cols, err := readFlatArray[int64](g, name)
	if err != nil {
		return nil, err
	}

	return unflatten(flat, rows, cols), nil
}

func readFloatArrayColumn(g *hdf5.Group, name string) ([][]float64, error) {
	flat, rows, cols, err := readFlatArray[float64](g, name)
	if err != nil {
		return nil, err
	}

	return unflatten(flat, rows, cols), nil
}

func readBoolArrayColumn(g *hdf5.Group, name string) ([][]bool, error) {
	flat, rows, cols, err := readFlatArray[bool](g, name)
	if err != nil {
		return nil, err
	}

	return unflatten(flat, rows, cols), nil
}

func readFlatArray[T any](g *hdf5.Group, name string) (flat []T, rows, cols int, err error) {
	ds, err := g.OpenDataset(name)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open dataset %q: %w", name, err)
	}
	defer ds.Close()

	space := ds.Space()
	defer space.Close()

	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("dims for %q: %w", name, err)
	}

	if len(dims) != 2 {
		return nil, 0, 0, fmt.Errorf("columnar: expected 2-D dataset for %q, got %d dims", name, len(dims))
	}

	rows, cols = int(dims[0]), int(dims[1])

	flat = make([]T, rows*cols)
	if err := ds.Read(&flat); err != nil {
		return nil, 0, 0, fmt.Errorf("read dataset %q: %w", name, err)
	}

	return flat, rows, cols, nil
}

func unflatten[T any](flat []T, rows, cols int) [][]T {
	out := make([][]T, rows)

	for i := 0; i < rows; i++ {
		out[i] = append([]T(nil), flat[i*cols:(i+1)*cols]...)
	}

	return out
}

type readableAttr interface {
	OpenAttribute(name string) (*hdf5.Attribute, error)
}

func readStringAttr(loc readableAttr, name string) (string, error) {
	attr, err := loc.OpenAttribute(name)
	if err != nil {
		return "", nil //nolint:nilerr // absent attribute means "not set", not an error
	}
	defer attr.Close()

	var s string
	if err := attr.Read(&s); err != nil {
		return "", fmt.Errorf("read attribute %q: %w", name, err)
	}

	return s, nil
}

func readBoolAttr(loc readableAttr, name string) (bool, error) {
	attr, err := loc.OpenAttribute(name)
	if err != nil {
		return false, nil //nolint:nilerr // absent attribute means "not set", not an error
	}
	defer attr.Close()

	var b bool
	if err := attr.Read(&b); err != nil {
		return false, fmt.Errorf("read attribute %q: %w", name, err)
	}

	return b, nil
}

type groupLister interface {
	NumObjects() (uint, error)
	ObjectNameByIndex(idx uint) (string, error)
}

func groupChildNames(g groupLister) ([]string, error) {
	n, err := g.NumObjects()
	if err != nil {
		return nil, fmt.Errorf("num objects: %w", err)
	}

	names := make([]string, 0, n)

	for i := uint(0); i < n; i++ {
		name, err := g.ObjectNameByIndex(i)
		if err != nil {
			return nil, fmt.Errorf("object name at %d: %w", i, err)
		}

		names = append(names, name)
	}

	return names, nil
}

func fieldNamesInGroup(g *hdf5.Group) ([]string, error) {
	return groupChildNames(g)
}

func hasGroup(g *hdf5.Group, name string) bool {
	names, err := groupChildNames(g)
	if err != nil {
		return false
	}

	for _, n := range names {
		if n == name {
			return true
		}
	}

	return false
}
