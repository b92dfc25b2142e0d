// Package notebook implements the tag-indexed result-set collection from
// spec §4.6: a notebook holds many named result sets, tracks one current
// tag, and assigns globally unique job IDs for pending records across
// every set it holds.
package notebook

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/labframe/labframe/internal/record"
	"github.com/labframe/labframe/internal/resultset"
	"github.com/labframe/labframe/internal/value"
)

// ErrNotebookLocked is returned by any write operation once the notebook
// has been finished (spec §7).
var ErrNotebookLocked = errors.New("notebook: locked")

// errTagExists and errUnknownTag are notebook-internal conditions folded
// into descriptive errors at the call site; they are not part of the
// public error-kind surface in spec §7.
var (
	errTagExists  = errors.New("notebook: tag already exists")
	errUnknownTag = errors.New("notebook: unknown tag")
)

// Persister is the subset of a persistence backend a notebook needs for
// commit() (spec §6.2). jsonnotebook and persistence/columnar both
// implement it.
type Persister interface {
	Save(n *Notebook) error
}

// Notebook is a tag-indexed collection of result sets plus the
// cross-set pending-job-id index (spec §4.6).
type Notebook struct {
	mu sync.Mutex

	description string
	attributes  map[string]string
	locked      bool
	dirty       bool

	order      []string
	sets       map[string]*resultset.ResultSet
	currentTag string

	// jobOwner maps a globally unique job_id to the tag that owns its
	// pending entry, so resolvePending/cancelPending can be addressed by
	// job_id alone (spec §4.6).
	jobOwner map[string]string

	persister Persister
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Notebook at construction.
type Option func(*Notebook)

// WithPersister attaches the backend commit() flushes to.
func WithPersister(p Persister) Option {
	return func(n *Notebook) { n.persister = p }
}

// WithClock overrides the notebook's time source, used by tests and by
// Finish/cancelPending's cancellation timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Notebook) { n.now = now }
}

// WithLogger overrides the notebook's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notebook) { n.logger = logger }
}

// New creates an empty notebook with the given description.
func New(description string, opts ...Option) *Notebook {
	n := &Notebook{
		description: description,
		attributes:  make(map[string]string),
		sets:        make(map[string]*resultset.ResultSet),
		jobOwner:    make(map[string]string),
		now:         time.Now,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// Description returns the notebook's free-form description.
func (n *Notebook) Description() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.description
}

// Locked reports whether Finish has been called.
func (n *Notebook) Locked() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.locked
}

// Dirty reports whether the notebook (or any of its sets) has unsaved
// changes.
func (n *Notebook) Dirty() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.dirty {
		return true
	}

	for _, rs := range n.sets {
		if rs.Dirty() {
			return true
		}
	}

	return false
}

// Attribute returns a notebook-level free-form attribute.
func (n *Notebook) Attribute(name string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	v, ok := n.attributes[name]

	return v, ok
}

// SetAttribute writes a notebook-level free-form attribute.
func (n *Notebook) SetAttribute(name, val string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.locked {
		return ErrNotebookLocked
	}

	n.attributes[name] = val
	n.dirty = true

	return nil
}

// Attributes returns a copy of all notebook-level attributes.
func (n *Notebook) Attributes() map[string]string {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make(map[string]string, len(n.attributes))
	for k, v := range n.attributes {
		out[k] = v
	}

	return out
}

// Tags returns every tag currently held, in insertion order.
func (n *Notebook) Tags() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]string, len(n.order))
	copy(out, n.order)

	return out
}

// ResultSet returns the result set for tag, if any.
func (n *Notebook) ResultSet(tag string) (*resultset.ResultSet, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	rs, ok := n.sets[tag]

	return rs, ok
}

// AddResultSet creates and selects a new result set under tag. It errors
// if tag already exists (spec §4.6).
func (n *Notebook) AddResultSet(tag, description string) (*resultset.ResultSet, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.locked {
		return nil, ErrNotebookLocked
	}

	if _, exists := n.sets[tag]; exists {
		return nil, fmt.Errorf("%w: %s", errTagExists, tag)
	}

	rs := resultset.New(description, n.logger)
	n.sets[tag] = rs
	n.order = append(n.order, tag)
	n.currentTag = tag
	n.dirty = true

	n.logger.Info("notebook: added result set", slog.String("tag", tag))

	return rs, nil
}

// Select changes the current tag to an existing one.
func (n *Notebook) Select(tag string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.sets[tag]; !ok {
		return fmt.Errorf("%w: %s", errUnknownTag, tag)
	}

	n.currentTag = tag

	return nil
}

// Current returns the currently selected tag and its result set.
func (n *Notebook) Current() (string, *resultset.ResultSet, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.currentTag == "" {
		return "", nil, false
	}

	return n.currentTag, n.sets[n.currentTag], true
}

// Already creates-or-selects tag, returning whether it already existed
// (spec §4.6 "already").
func (n *Notebook) Already(tag, description string) (bool, error) {
	n.mu.Lock()

	if _, exists := n.sets[tag]; exists {
		n.currentTag = tag
		n.mu.Unlock()

		return true, nil
	}

	n.mu.Unlock()

	_, err := n.AddResultSet(tag, description)
	if err != nil {
		return false, err
	}

	return false, nil
}

// DeleteResultSet removes tag. Refused if the notebook is locked. If tag
// is the current selection, another tag must be pre-selected by the
// caller first — DeleteResultSet returns an error rather than guessing
// (spec §4.6 leaves the replacement tag unspecified).
func (n *Notebook) DeleteResultSet(tag string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.locked {
		return ErrNotebookLocked
	}

	if _, ok := n.sets[tag]; !ok {
		return fmt.Errorf("%w: %s", errUnknownTag, tag)
	}

	if tag == n.currentTag {
		return fmt.Errorf("notebook: cannot delete the current tag %q; select another first", tag)
	}

	delete(n.sets, tag)

	for i, t := range n.order {
		if t == tag {
			n.order = append(n.order[:i], n.order[i+1:]...)

			break
		}
	}

	for jobID, owner := range n.jobOwner {
		if owner == tag {
			delete(n.jobOwner, jobID)
		}
	}

	n.dirty = true

	return nil
}

// DiscardResultSet removes tag unconditionally, including when it is the
// current selection — unlike DeleteResultSet, which refuses that case. It
// exists for CreateWith's rollback of a set whose constructor failed
// partway through, where "select another tag first" is not the caller's
// job. If tag was current, the notebook is left with no current tag.
func (n *Notebook) DiscardResultSet(tag string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.locked {
		return ErrNotebookLocked
	}

	if _, ok := n.sets[tag]; !ok {
		return fmt.Errorf("%w: %s", errUnknownTag, tag)
	}

	delete(n.sets, tag)

	for i, t := range n.order {
		if t == tag {
			n.order = append(n.order[:i], n.order[i+1:]...)

			break
		}
	}

	for jobID, owner := range n.jobOwner {
		if owner == tag {
			delete(n.jobOwner, jobID)
		}
	}

	if n.currentTag == tag {
		n.currentTag = ""
	}

	n.dirty = true

	return nil
}

// AddResult appends a record to the current set, marking the notebook
// dirty.
func (n *Notebook) AddResult(rec record.Record) error {
	n.mu.Lock()

	if n.locked {
		n.mu.Unlock()

		return ErrNotebookLocked
	}

	rs, ok := n.currentSetLocked()
	if !ok {
		n.mu.Unlock()

		return errors.New("notebook: no current result set")
	}

	n.dirty = true
	n.mu.Unlock()

	return rs.AddRecord(rec)
}

// AddPending registers a pending record under the current tag and returns
// a globally unique job_id (spec §4.6).
func (n *Notebook) AddPending(p value.Dict) (string, error) {
	n.mu.Lock()

	if n.locked {
		n.mu.Unlock()

		return "", ErrNotebookLocked
	}

	tag, rs, ok := n.currentTagAndSetLocked()
	if !ok {
		n.mu.Unlock()

		return "", errors.New("notebook: no current result set")
	}

	jobID := uuid.NewString()
	n.jobOwner[jobID] = tag
	n.dirty = true
	n.mu.Unlock()

	if err := rs.AddPending(jobID, p); err != nil {
		n.mu.Lock()
		delete(n.jobOwner, jobID)
		n.mu.Unlock()

		return "", err
	}

	return jobID, nil
}

// RestorePending re-registers a pending record under tag with a caller-
// supplied job_id, for persistence backends reconstructing a notebook from
// disk: the stored job_id must keep addressing the same tag it did before
// the notebook was saved, which AddPending cannot do since it always mints
// a fresh id.
func (n *Notebook) RestorePending(tag, jobID string, p value.Dict) error {
	n.mu.Lock()

	if n.locked {
		n.mu.Unlock()

		return ErrNotebookLocked
	}

	rs, ok := n.sets[tag]
	if !ok {
		n.mu.Unlock()

		return fmt.Errorf("%w: %s", errUnknownTag, tag)
	}

	n.jobOwner[jobID] = tag
	n.dirty = true
	n.mu.Unlock()

	if err := rs.AddPending(jobID, p); err != nil {
		n.mu.Lock()
		delete(n.jobOwner, jobID)
		n.mu.Unlock()

		return err
	}

	return nil
}

// ResolvePending resolves a pending record by job_id, writing it into its
// submit-time tag's set regardless of which tag is currently selected —
// the ordering guarantee spec §4.5.3 requires for disconnected operation.
func (n *Notebook) ResolvePending(jobID string, rec record.Record) error {
	rs, err := n.setForJobLocked(jobID)
	if err != nil {
		return err
	}

	if err := rs.ResolvePending(jobID, rec); err != nil {
		return err
	}

	n.mu.Lock()
	delete(n.jobOwner, jobID)
	n.dirty = true
	n.mu.Unlock()

	return nil
}

// CancelPending cancels a pending record by job_id, idempotently (spec
// §5): a second call on an already-resolved job returns false, nil.
func (n *Notebook) CancelPending(jobID string) (bool, error) {
	rs, err := n.setForJobLocked(jobID)
	if err != nil {
		return false, nil //nolint:nilerr // unknown job_id is a no-op per spec §5, not an error
	}

	cancelled, err := rs.CancelPending(jobID, n.now)
	if err != nil {
		return false, err
	}

	if cancelled {
		n.mu.Lock()
		delete(n.jobOwner, jobID)
		n.dirty = true
		n.mu.Unlock()
	}

	return cancelled, nil
}

func (n *Notebook) setForJobLocked(jobID string) (*resultset.ResultSet, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	tag, ok := n.jobOwner[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", resultset.ErrPendingResult, jobID)
	}

	rs, ok := n.sets[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", resultset.ErrPendingResult, jobID)
	}

	return rs, nil
}

func (n *Notebook) currentSetLocked() (*resultset.ResultSet, bool) {
	if n.currentTag == "" {
		return nil, false
	}

	rs, ok := n.sets[n.currentTag]

	return rs, ok
}

func (n *Notebook) currentTagAndSetLocked() (string, *resultset.ResultSet, bool) {
	rs, ok := n.currentSetLocked()

	return n.currentTag, rs, ok
}

// Commit flushes dirty state to persistence. It is a no-op when no
// persister is attached (in-memory notebooks, spec §4.6).
func (n *Notebook) Commit() error {
	n.mu.Lock()
	persister := n.persister
	n.mu.Unlock()

	if persister == nil {
		n.clearDirty()

		return nil
	}

	if err := persister.Save(n); err != nil {
		return fmt.Errorf("notebook: commit: %w", err)
	}

	n.clearDirty()

	return nil
}

func (n *Notebook) clearDirty() {
	n.mu.Lock()
	n.dirty = false
	sets := make([]*resultset.ResultSet, 0, len(n.sets))

	for _, rs := range n.sets {
		sets = append(sets, rs)
	}
	n.mu.Unlock()

	for _, rs := range sets {
		rs.ClearDirty()
	}
}

// Finish cancels every outstanding pending record across every set, locks
// every set, and locks the notebook itself (spec §4.6).
func (n *Notebook) Finish() error {
	n.mu.Lock()
	sets := make([]*resultset.ResultSet, 0, len(n.sets))

	for _, rs := range n.sets {
		sets = append(sets, rs)
	}
	n.mu.Unlock()

	for _, rs := range sets {
		if err := rs.Finish(n.now); err != nil {
			return fmt.Errorf("notebook: finish: %w", err)
		}
	}

	n.mu.Lock()
	n.locked = true
	n.dirty = true
	n.jobOwner = make(map[string]string)
	n.mu.Unlock()

	n.logger.Info("notebook: finished")

	return nil
}

// Open runs fn against the notebook and guarantees Commit() is called on
// every exit path, including a panic propagating out of fn (spec §4.6
// "scoped acquisition").
func Open(n *Notebook, fn func(*Notebook) error) (err error) {
	defer func() {
		if commitErr := n.Commit(); commitErr != nil && err == nil {
			err = commitErr
		}
	}()

	return fn(n)
}
