// Package jsonnotebook implements the portable JSON notebook backend (spec
// §6.2): one file, a version-2 tag-grouped object on write, accepting a
// legacy version-1 flat form on read and migrating it into a default tag.
package jsonnotebook

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/labframe/labframe/internal/notebook"
	"github.com/labframe/labframe/internal/record"
	"github.com/labframe/labframe/internal/value"
)

// ErrNotebookVersion is returned when a file is neither the legacy
// version-1 flat form nor a recognised version-2 object (spec §7).
var ErrNotebookVersion = errors.New("jsonnotebook: unsupported notebook version")

// currentVersion is always written; version 1 is only ever read.
const currentVersion = 2

const defaultTag = "default"

type wireMetadata struct {
	Status          bool       `json:"status"`
	Exception       string     `json:"exception,omitempty"`
	Traceback       string     `json:"traceback,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	SetupTime       float64    `json:"setup_time"`
	ExperimentTime  float64    `json:"experiment_time"`
	TeardownTime    float64    `json:"teardown_time"`
	ExperimentClass string     `json:"experiment_class,omitempty"`
	Extra           value.Dict `json:"extra,omitempty"`
}

func toWireMetadata(m record.Metadata) wireMetadata {
	return wireMetadata{
		Status:          m.Status,
		Exception:       m.Exception,
		Traceback:       m.Traceback,
		StartTime:       m.StartTime.UTC(),
		EndTime:         m.EndTime.UTC(),
		SetupTime:       m.SetupTime.Seconds(),
		ExperimentTime:  m.ExperimentTime.Seconds(),
		TeardownTime:    m.TeardownTime.Seconds(),
		ExperimentClass: m.ExperimentClass,
		Extra:           m.Extra,
	}
}

func (w wireMetadata) toMetadata() record.Metadata {
	return record.Metadata{
		Status:          w.Status,
		Exception:       w.Exception,
		Traceback:       w.Traceback,
		StartTime:       w.StartTime,
		EndTime:         w.EndTime,
		SetupTime:       time.Duration(w.SetupTime * float64(time.Second)),
		ExperimentTime:  time.Duration(w.ExperimentTime * float64(time.Second)),
		TeardownTime:    time.Duration(w.TeardownTime * float64(time.Second)),
		ExperimentClass: w.ExperimentClass,
		Extra:           w.Extra,
	}
}

type wireRecord struct {
	Parameters value.Dict   `json:"parameters"`
	Results    value.Dict   `json:"results"`
	Metadata   wireMetadata `json:"metadata"`
}

func toWireRecord(r record.Record) wireRecord {
	return wireRecord{Parameters: r.Parameters, Results: r.Results, Metadata: toWireMetadata(r.Metadata)}
}

func (w wireRecord) toRecord() record.Record {
	return record.Record{Parameters: w.Parameters, Results: w.Results, Metadata: w.Metadata.toMetadata()}
}

type wireResultSet struct {
	Description string               `json:"description"`
	Locked      bool                 `json:"locked"`
	Attributes  map[string]string    `json:"attributes,omitempty"`
	Results     []wireRecord         `json:"results"`
	Pending     map[string]value.Dict `json:"pending,omitempty"`
}

type wireNotebookV2 struct {
	Version     int                      `json:"version"`
	Description string                   `json:"description"`
	CurrentTag  string                   `json:"current_tag,omitempty"`
	Attributes  map[string]string        `json:"attributes,omitempty"`
	ResultSets  map[string]wireResultSet `json:"result_sets"`
}

// wireNotebookV1 is the legacy flat form: a single unnamed results list,
// no result-set grouping (spec §6.2).
type wireNotebookV1 struct {
	Description string       `json:"description"`
	Results     []wireRecord `json:"results"`
}

// Persister implements notebook.Persister by writing the whole notebook to
// one JSON file at path on every commit.
type Persister struct {
	path string
}

// NewPersister binds a Persister to a file path.
func NewPersister(path string) *Persister {
	return &Persister{path: path}
}

// Save implements notebook.Persister. It always writes the version-2 form,
// regardless of what version the file held on load (spec §6.2 "always
// writes version 2"), and writes via a temp-file-then-rename so a crash
// mid-write never corrupts the existing file.
func (p *Persister) Save(n *notebook.Notebook) error {
	wire := wireNotebookV2{
		Version:     currentVersion,
		Description: n.Description(),
		Attributes:  n.Attributes(),
		ResultSets:  make(map[string]wireResultSet),
	}

	if tag, _, ok := n.Current(); ok {
		wire.CurrentTag = tag
	}

	for _, tag := range n.Tags() {
		rs, ok := n.ResultSet(tag)
		if !ok {
			continue
		}

		records := rs.Records()
		wireRecords := make([]wireRecord, len(records))

		for i, rec := range records {
			wireRecords[i] = toWireRecord(rec)
		}

		pending := rs.PendingRecords()

		var wirePending map[string]value.Dict
		if len(pending) > 0 {
			wirePending = make(map[string]value.Dict, len(pending))
			for _, pr := range pending {
				wirePending[pr.JobID] = pr.Parameters
			}
		}

		wire.ResultSets[tag] = wireResultSet{
			Description: rs.Description(),
			Locked:      rs.Locked(),
			Attributes:  rs.Attributes(),
			Results:     wireRecords,
			Pending:     wirePending,
		}
	}

	payload, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonnotebook: encode: %w", err)
	}

	tmp := p.path + ".tmp"

	if err := os.WriteFile(tmp, payload, 0o644); err != nil { //nolint:gosec // notebook files are not secrets
		return fmt.Errorf("jsonnotebook: write temp file: %w", err)
	}

	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("jsonnotebook: rename into place: %w", err)
	}

	return nil
}

// Load reads a notebook from path, accepting either a version-2
// tag-grouped file or a legacy version-1 flat file (migrated into a
// "default" tag). The returned notebook has p as its persister, so a
// subsequent Commit() writes back in version-2 form.
func (p *Persister) Load(opts ...notebook.Option) (*notebook.Notebook, error) {
	raw, err := os.ReadFile(p.path) //nolint:gosec // path is operator-supplied, not user input
	if err != nil {
		return nil, fmt.Errorf("jsonnotebook: read: %w", err)
	}

	var probe struct {
		ResultSets map[string]wireResultSet `json:"result_sets"`
		Results    []wireRecord              `json:"results"`
	}

	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("jsonnotebook: decode: %w", err)
	}

	switch {
	case probe.ResultSets != nil:
		return p.loadV2(raw, opts)
	case probe.Results != nil:
		return p.loadV1(raw, opts)
	default:
		return nil, fmt.Errorf("%w: neither result_sets nor results present", ErrNotebookVersion)
	}
}

func (p *Persister) loadV2(raw []byte, opts []notebook.Option) (*notebook.Notebook, error) {
	var wire wireNotebookV2
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("jsonnotebook: decode v2: %w", err)
	}

	if wire.Version != 0 && wire.Version != currentVersion {
		return nil, fmt.Errorf("%w: %d", ErrNotebookVersion, wire.Version)
	}

	n := notebook.New(wire.Description, append(opts, notebook.WithPersister(p))...)

	for name, val := range wire.Attributes {
		if err := n.SetAttribute(name, val); err != nil {
			return nil, fmt.Errorf("jsonnotebook: set attribute %q: %w", name, err)
		}
	}

	for tag, wrs := range wire.ResultSets {
		if err := restoreResultSet(n, tag, wrs); err != nil {
			return nil, err
		}
	}

	if wire.CurrentTag != "" {
		if err := n.Select(wire.CurrentTag); err != nil {
			return nil, fmt.Errorf("jsonnotebook: select current tag %q: %w", wire.CurrentTag, err)
		}
	}

	if err := n.Commit(); err != nil {
		return nil, fmt.Errorf("jsonnotebook: clear dirty after load: %w", err)
	}

	return n, nil
}

func (p *Persister) loadV1(raw []byte, opts []notebook.Option) (*notebook.Notebook, error) {
	var wire wireNotebookV1
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("jsonnotebook: decode v1: %w", err)
	}

	wrs := wireResultSet{Description: wire.Description, Results: wire.Results}

	n := notebook.New(wire.Description, append(opts, notebook.WithPersister(p))...)

	if err := restoreResultSet(n, defaultTag, wrs); err != nil {
		return nil, err
	}

	if err := n.Select(defaultTag); err != nil {
		return nil, fmt.Errorf("jsonnotebook: select default tag: %w", err)
	}

	if err := n.Commit(); err != nil {
		return nil, fmt.Errorf("jsonnotebook: clear dirty after v1 migration: %w", err)
	}

	return n, nil
}

func restoreResultSet(n *notebook.Notebook, tag string, wrs wireResultSet) error {
	rs, err := n.AddResultSet(tag, wrs.Description)
	if err != nil {
		return fmt.Errorf("jsonnotebook: add result set %q: %w", tag, err)
	}

	for name, val := range wrs.Attributes {
		if err := rs.SetAttribute(name, val); err != nil {
			return fmt.Errorf("jsonnotebook: set attribute on %q: %w", tag, err)
		}
	}

	records := make([]record.Record, len(wrs.Results))
	for i, wr := range wrs.Results {
		records[i] = wr.toRecord()
	}

	if err := rs.AddRecords(records); err != nil {
		return fmt.Errorf("jsonnotebook: restore records for %q: %w", tag, err)
	}

	for jobID, p := range wrs.Pending {
		if err := n.RestorePending(tag, jobID, p); err != nil {
			return fmt.Errorf("jsonnotebook: restore pending for %q: %w", tag, err)
		}
	}

	if wrs.Locked {
		if err := rs.Finish(time.Now); err != nil {
			return fmt.Errorf("jsonnotebook: restore lock for %q: %w", tag, err)
		}
	}

	return nil
}
