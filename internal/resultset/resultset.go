// Package resultset implements the typed, append-only result-set store
// from spec §4.2: real records, pending records, schema inference with
// promotion, and the locking invariant.
package resultset

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/labframe/labframe/internal/record"
	"github.com/labframe/labframe/internal/schema"
	"github.com/labframe/labframe/internal/value"
)

// Sentinel errors, checked with errors.Is by callers across process/package
// boundaries (spec §7).
var (
	// ErrResultSetLocked is returned by any write operation on a locked
	// result set.
	ErrResultSetLocked = errors.New("resultset: locked")
	// ErrPendingResult is returned when an operation references an
	// unknown job ID.
	ErrPendingResult = errors.New("resultset: unknown pending job id")
)

// ResultSet is a typed, append-only collection of result records plus
// pending records for one homogeneous experiment family (spec §3, §4.2).
type ResultSet struct {
	mu sync.RWMutex

	description string
	locked      bool
	attributes  map[string]string

	records []record.Record
	pending []record.Pending

	schemaReal    *schema.Schema
	schemaPending *schema.Schema

	dirty bool

	logger *slog.Logger
}

// New creates an empty, unlocked ResultSet with the given description.
func New(description string, logger *slog.Logger) *ResultSet {
	if logger == nil {
		logger = slog.Default()
	}

	return &ResultSet{
		description:   description,
		attributes:    make(map[string]string),
		schemaReal:    schema.New(),
		schemaPending: schema.New(),
		logger:        logger,
	}
}

// Description returns the result set's free-form description text.
func (rs *ResultSet) Description() string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	return rs.description
}

// Locked reports whether the result set has been finished and is now
// immutable.
func (rs *ResultSet) Locked() bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	return rs.locked
}

// Dirty reports whether the result set has unsaved changes. Persistence
// backends consult this flag and clear it via ClearDirty after a
// successful flush (spec §4.2 "Dirtiness").
func (rs *ResultSet) Dirty() bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	return rs.dirty
}

// ClearDirty resets the dirty flag. Called by persistence after a
// successful commit.
func (rs *ResultSet) ClearDirty() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.dirty = false
}

// SchemaReal returns a snapshot of the inferred schema over P∪R∪M fields.
func (rs *ResultSet) SchemaReal() *schema.Schema {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	return rs.schemaReal.Clone()
}

// SchemaPending returns a snapshot of the inferred schema over pending
// records' P fields.
func (rs *ResultSet) SchemaPending() *schema.Schema {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	return rs.schemaPending.Clone()
}

// Attribute returns a free-form attribute by name.
func (rs *ResultSet) Attribute(name string) (string, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	v, ok := rs.attributes[name]

	return v, ok
}

// Attributes returns a copy of all free-form attributes.
func (rs *ResultSet) Attributes() map[string]string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make(map[string]string, len(rs.attributes))
	for k, v := range rs.attributes {
		out[k] = v
	}

	return out
}

// SetAttribute writes a free-form attribute. Refused once the set is
// locked.
func (rs *ResultSet) SetAttribute(name, val string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.locked {
		return ErrResultSetLocked
	}

	rs.attributes[name] = val
	rs.dirty = true

	return nil
}

// AddRecord appends one record to the result set's real records, inferring
// and promoting the schema as needed (spec §4.2). If the record's metadata
// carries a "job_id" extra field matching an outstanding pending record,
// that pending entry is removed (rule 4).
func (rs *ResultSet) AddRecord(rec record.Record) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	return rs.appendRealLocked(rec)
}

// AddRecords appends an ordered list of records as a single logical append
// — the list form of spec §3's "an experiment may produce either one
// record or an ordered list of records".
func (rs *ResultSet) AddRecords(recs []record.Record) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for _, rec := range recs {
		if err := rs.appendRealLocked(rec); err != nil {
			return err
		}
	}

	return nil
}

// appendRealLocked performs the append path of spec §4.2 under rs.mu held.
func (rs *ResultSet) appendRealLocked(rec record.Record) error {
	if rs.locked {
		return ErrResultSetLocked
	}

	rs.observeSchema(rec)
	rs.records = append(rs.records, rec.Clone())
	rs.dirty = true

	if jobID, ok := rec.Metadata.Extra["job_id"]; ok {
		if id, err := jobID.Text(); err == nil {
			rs.removePendingLocked(id)
		}
	}

	rs.logger.Debug("resultset: appended record",
		slog.String("description", rs.description),
		slog.Bool("status", rec.Metadata.Status),
		slog.Int("real_count", len(rs.records)),
		slog.Int("pending_count", len(rs.pending)),
	)

	return nil
}

// observeSchema folds one record's P, R, and M fields into schemaReal.
func (rs *ResultSet) observeSchema(rec record.Record) {
	changed := false

	for name, v := range rec.Parameters {
		if rs.schemaReal.Observe(name, v.Kind()) {
			changed = true
		}
	}

	for name, v := range rec.Results {
		if rs.schemaReal.Observe(name, v.Kind()) {
			changed = true
		}
	}

	for _, name := range record.FixedKeys {
		v, ok := rec.Metadata.Get(name)
		if !ok {
			continue
		}

		if rs.schemaReal.Observe(name, v.Kind()) {
			changed = true
		}
	}

	for name, v := range rec.Metadata.Extra {
		if rs.schemaReal.Observe(name, v.Kind()) {
			changed = true
		}
	}

	if changed {
		rs.logger.Debug("resultset: schema changed", slog.String("description", rs.description))
	}
}

// AddPending registers a pending record under jobID, which must already be
// unique across the owning notebook (job ID assignment is the notebook's
// responsibility, spec §4.6).
func (rs *ResultSet) AddPending(jobID string, p value.Dict) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.locked {
		return ErrResultSetLocked
	}

	for name, v := range p {
		rs.schemaPending.Observe(name, v.Kind())
	}

	rs.pending = append(rs.pending, record.Pending{Parameters: p.Clone(), JobID: jobID})
	rs.dirty = true

	return nil
}

// ResolvePending converts a pending record into a real one, atomically from
// the caller's perspective: the job ID is either still pending or already
// resolved, never both (spec §5). A rec with no Parameters of its own takes
// the pending record's.
func (rs *ResultSet) ResolvePending(jobID string, rec record.Record) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.locked {
		return ErrResultSetLocked
	}

	idx := rs.pendingIndexLocked(jobID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrPendingResult, jobID)
	}

	if len(rec.Parameters) == 0 {
		rec.Parameters = rs.pending[idx].Parameters
	}

	rs.removePendingLocked(jobID)

	return rs.appendRealLocked(rec)
}

// CancelPending cancels a pending record, producing a synthetic failed
// record carrying status=false and a cancellation exception, preserving
// the audit trail (spec §3, §4.2). It is idempotent: cancelling an unknown
// or already-resolved job ID is a no-op that returns false.
func (rs *ResultSet) CancelPending(jobID string, now func() time.Time) (bool, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	idx := rs.pendingIndexLocked(jobID)
	if idx < 0 {
		return false, nil
	}

	if rs.locked {
		return false, ErrResultSetLocked
	}

	p := rs.pending[idx]
	rs.pending = append(rs.pending[:idx], rs.pending[idx+1:]...)

	ts := now()
	rec := record.Record{
		Parameters: p.Parameters,
		Results:    value.Dict{},
		Metadata: record.Metadata{
			Status:    false,
			Exception: fmt.Sprintf("cancelled: job %s", jobID),
			StartTime: ts,
			EndTime:   ts,
			Extra:     value.Dict{"job_id": value.Text(jobID)},
		},
	}

	if err := rs.appendRealLocked(rec); err != nil {
		return false, err
	}

	return true, nil
}

func (rs *ResultSet) pendingIndexLocked(jobID string) int {
	for i, p := range rs.pending {
		if p.JobID == jobID {
			return i
		}
	}

	return -1
}

// removePendingLocked removes a pending entry by job ID and reports
// whether one was found. Caller must hold rs.mu.
func (rs *ResultSet) removePendingLocked(jobID string) bool {
	idx := rs.pendingIndexLocked(jobID)
	if idx < 0 {
		return false
	}

	rs.pending = append(rs.pending[:idx], rs.pending[idx+1:]...)
	rs.dirty = true

	return true
}

// Finish cancels every outstanding pending record (turning each into a
// failed real record) and locks the set. Locking is persistent: once
// locked, no append, pending add, attribute write, or schema change is
// permitted again (spec §4.2 "Locking").
func (rs *ResultSet) Finish(now func() time.Time) error {
	rs.mu.Lock()
	jobIDs := make([]string, 0, len(rs.pending))
	for _, p := range rs.pending {
		jobIDs = append(jobIDs, p.JobID)
	}
	rs.mu.Unlock()

	for _, jobID := range jobIDs {
		if _, err := rs.CancelPending(jobID, now); err != nil {
			return err
		}
	}

	rs.mu.Lock()
	rs.locked = true
	rs.dirty = true
	rs.mu.Unlock()

	rs.logger.Info("resultset: finished", slog.String("description", rs.description))

	return nil
}

// Ready reports whether no pending records remain.
func (rs *ResultSet) Ready() bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	return len(rs.pending) == 0
}

// ReadyFraction returns |real| / (|real| + |pending|), or 1 when both are
// zero (spec §4.2).
func (rs *ResultSet) ReadyFraction() float64 {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	total := len(rs.records) + len(rs.pending)
	if total == 0 {
		return 1
	}

	return float64(len(rs.records)) / float64(total)
}

// Records returns every real record, with missing fields backfilled to
// the schema's current zero value (spec §4.2 rule 3).
func (rs *ResultSet) Records() []record.Record {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make([]record.Record, len(rs.records))
	for i, rec := range rs.records {
		out[i] = rs.backfilledLocked(rec)
	}

	return out
}

// PendingRecords returns a copy of every outstanding pending record.
func (rs *ResultSet) PendingRecords() []record.Pending {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make([]record.Pending, len(rs.pending))
	for i, p := range rs.pending {
		out[i] = record.Pending{Parameters: p.Parameters.Clone(), JobID: p.JobID}
	}

	return out
}

// backfilledLocked returns rec with any field present in schemaReal but
// absent from rec's P/R/M filled with the schema's zero value, placed in P
// or R when another record carries the field there and in the metadata
// extras otherwise. Caller must hold rs.mu for reading.
func (rs *ResultSet) backfilledLocked(rec record.Record) record.Record {
	out := rec.Clone()

	for _, f := range rs.schemaReal.Fields() {
		if _, ok := out.Parameters[f.Name]; ok {
			continue
		}

		if _, ok := out.Results[f.Name]; ok {
			continue
		}

		if _, ok := out.Metadata.Get(f.Name); ok {
			continue
		}

		target := &out.Metadata.Extra
		for _, other := range rs.records {
			if _, ok := other.Parameters[f.Name]; ok {
				target = &out.Parameters

				break
			}

			if _, ok := other.Results[f.Name]; ok {
				target = &out.Results

				break
			}
		}

		if *target == nil {
			*target = value.Dict{}
		}

		(*target)[f.Name] = rs.schemaReal.Backfill(f.Name)
	}

	return out
}

// RecordsFor returns every real record whose Parameters match the given
// partial subset (spec §4.2).
func (rs *ResultSet) RecordsFor(partial value.Dict) []record.Record {
	all := rs.Records()

	out := make([]record.Record, 0, len(all))

	for _, rec := range all {
		if rec.Parameters.Matches(partial) {
			out = append(out, rec)
		}
	}

	return out
}

// ParameterRange returns the distinct observed values for name across real
// records, in first-observed order.
func (rs *ResultSet) ParameterRange(name string) []value.Value {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var out []value.Value

	for _, rec := range rs.records {
		v, ok := rec.Parameters[name]
		if !ok {
			continue
		}

		found := false

		for _, existing := range out {
			if existing.Equal(v) {
				found = true

				break
			}
		}

		if !found {
			out = append(out, v)
		}
	}

	return out
}

// ParameterCombinations returns the distinct observed P-tuples across real
// records, in first-observed order.
func (rs *ResultSet) ParameterCombinations() []value.Dict {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var out []value.Dict

	for _, rec := range rs.records {
		found := false

		for _, existing := range out {
			if existing.Equal(rec.Parameters) {
				found = true

				break
			}
		}

		if !found {
			out = append(out, rec.Parameters.Clone())
		}
	}

	return out
}

// Len returns the number of real records.
func (rs *ResultSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	return len(rs.records)
}

// PendingLen returns the number of outstanding pending records.
func (rs *ResultSet) PendingLen() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	return len(rs.pending)
}
