// Package farm implements the abstract worker-farm contract the cluster
// lab dispatches against (spec §6.3): engine_count, submit, pull_ready,
// cancel, imports.
package farm

import (
	"context"
	"errors"

	"github.com/labframe/labframe/internal/value"
)

// ErrDispatch is returned when a submission cannot be serialised, or when
// a transient farm error persists past the reconnection budget (spec §7).
var ErrDispatch = errors.New("farm: dispatch failed")

// Status is the terminal state of a submitted job, as reported by
// PullReady.
type Status int

const (
	// StatusCompleted means the job produced results normally.
	StatusCompleted Status = iota
	// StatusFailed means the job's payload raised an error on the engine.
	StatusFailed
	// StatusCancelled means the job was cancelled before or during
	// execution.
	StatusCancelled
)

// String renders the status name used in log fields and synthetic
// exception text.
func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Submission is the unit of work shipped to an engine. Go has no portable
// way to serialise an arbitrary closure across hosts (spec §9), so a
// submission names a registered experiment constructor instead — the same
// registry idiom internal/workerproc uses for the local worker pool — and
// carries the parameters to invoke it with.
//
// JobID is optional: callers that already mint their own job identifiers
// (the cluster lab mints one per pending record via the notebook) supply
// it here so the farm's job_id and the notebook's pending job_id are the
// same string; callers with no existing ID leave it empty and Submit
// generates one.
type Submission struct {
	JobID          string
	ExperimentName string
	Parameters     value.Dict
}

// Update is one drained (job_id, status, R_or_error, M) tuple (spec §6.3).
type Update struct {
	JobID     string
	Status    Status
	Results   value.Dict
	Exception string
}

// Farm is the abstract worker-farm contract. Implementations: kafkafarm
// (production, Kafka-backed) and Fake (in-process, for lab/notebook
// tests).
type Farm interface {
	// EngineCount reports how many engines are currently registered with
	// the farm.
	EngineCount(ctx context.Context) (int, error)
	// Submit ships sub to some engine and returns a job_id the caller can
	// later poll for via PullReady or cancel via Cancel. Submit fails with
	// ErrDispatch if sub cannot be serialised or dispatched within the
	// farm's retry budget.
	Submit(ctx context.Context, sub Submission) (jobID string, err error)
	// PullReady drains every job that has reached a terminal state since
	// the last call and returns one Update per job.
	PullReady(ctx context.Context) ([]Update, error)
	// Cancel best-effort cancels a pending job. It returns false if the
	// job was already terminal or unknown to the farm.
	Cancel(ctx context.Context, jobID string) (bool, error)
	// Imports ensures every engine has the named modules importable
	// before submissions referencing them are sent.
	Imports(ctx context.Context, moduleNames []string) error
}

// WaitOptions configures an exponential backoff schedule, shared by the
// farm's reconnection policy and the cluster lab's wait() (spec §5, §9 —
// "tunable, default on the order of one second").
type WaitOptions struct {
	Initial    float64 // seconds
	Max        float64 // seconds
	Multiplier float64
}

// DefaultWaitOptions matches spec §5's "default on the order of one
// second" guidance.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{Initial: 1.0, Max: 30.0, Multiplier: 2.0}
}
