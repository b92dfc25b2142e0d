// Package record defines the Result record and Pending record data model
// shared by the experiment engine, the result-set store, and persistence
// (spec §3, §6.1).
package record

import (
	"time"

	"github.com/labframe/labframe/internal/value"
)

// Metadata carries the fixed per-run bookkeeping fields from spec §3, plus
// whatever additional keys are added beside them (e.g. the "job_id" that
// ResultSet.CancelPending records). Repeat's "repetitions"/
// "repetition_index" and Summarise's "underlying_results" are not kept
// here: those combinators report them in Results.
type Metadata struct {
	// Status is true when the run completed without error.
	Status bool
	// Exception holds the error message when Status is false; empty
	// otherwise.
	Exception string
	// Traceback holds the rendered stack trace as text — never a live
	// stack object, since records cross process/host boundaries (spec §9).
	Traceback string
	// StartTime and EndTime bracket the whole Run() call.
	StartTime time.Time
	EndTime   time.Time
	// SetupTime, ExperimentTime, TeardownTime are the per-phase durations.
	// Unmeasured phases (e.g. TearDown never reached because Do failed)
	// are recorded as zero, never omitted.
	SetupTime      time.Duration
	ExperimentTime time.Duration
	TeardownTime   time.Duration
	// ExperimentClass identifies the kind of experiment that produced this
	// record (its Go type name, by convention).
	ExperimentClass string
	// Extra holds additional metadata keys beyond the fixed set above —
	// e.g. "job_id".
	Extra value.Dict
}

// Get reads a fixed or extra metadata field by name, mirroring how
// Parameters/Results fields are read, so persistence code can treat
// metadata uniformly with P and R when flattening a record to columns.
func (m Metadata) Get(name string) (value.Value, bool) {
	switch name {
	case "status":
		return value.Bool(m.Status), true
	case "exception":
		return value.Text(m.Exception), true
	case "traceback":
		return value.Text(m.Traceback), true
	case "start_time":
		return value.Text(m.StartTime.UTC().Format(time.RFC3339Nano)), true
	case "end_time":
		return value.Text(m.EndTime.UTC().Format(time.RFC3339Nano)), true
	case "setup_time":
		return value.Float(m.SetupTime.Seconds()), true
	case "experiment_time":
		return value.Float(m.ExperimentTime.Seconds()), true
	case "teardown_time":
		return value.Float(m.TeardownTime.Seconds()), true
	case "experiment_class":
		return value.Text(m.ExperimentClass), true
	default:
		v, ok := m.Extra[name]

		return v, ok
	}
}

// FixedKeys are the metadata keys guaranteed to exist on every record,
// listed in the order spec §3 introduces them.
var FixedKeys = []string{
	"status", "exception", "traceback",
	"start_time", "end_time",
	"setup_time", "experiment_time", "teardown_time",
	"experiment_class",
}

// Record is the (P, R, M) triple produced by one experiment invocation
// (spec §3, §6.1).
type Record struct {
	Parameters value.Dict
	Results    value.Dict
	Metadata   Metadata
}

// Clone returns a deep, independent copy of r.
func (r Record) Clone() Record {
	return Record{
		Parameters: r.Parameters.Clone(),
		Results:    r.Results.Clone(),
		Metadata: Metadata{
			Status:          r.Metadata.Status,
			Exception:       r.Metadata.Exception,
			Traceback:       r.Metadata.Traceback,
			StartTime:       r.Metadata.StartTime,
			EndTime:         r.Metadata.EndTime,
			SetupTime:       r.Metadata.SetupTime,
			ExperimentTime:  r.Metadata.ExperimentTime,
			TeardownTime:    r.Metadata.TeardownTime,
			ExperimentClass: r.Metadata.ExperimentClass,
			Extra:           r.Metadata.Extra.Clone(),
		},
	}
}

// Pending is a (P, job_id) pair awaiting async resolution (spec §3).
type Pending struct {
	Parameters value.Dict
	JobID      string
}
