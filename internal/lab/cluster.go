package lab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/labframe/labframe/internal/design"
	"github.com/labframe/labframe/internal/experiment"
	"github.com/labframe/labframe/internal/farm"
	"github.com/labframe/labframe/internal/notebook"
	"github.com/labframe/labframe/internal/record"
)

// ErrWaitTimeout is returned by Wait when the deadline elapses before every
// submitted job reaches a terminal state.
var ErrWaitTimeout = errors.New("cluster lab: wait: timed out")

type jobInfo struct {
	className   string
	submittedAt time.Time
}

// ClusterLab dispatches the design's points to a remote farm.Farm
// asynchronously (spec §4.5.3): points are submitted as pending records,
// then the lab polls the farm for completions and resolves them into the
// notebook — potentially across process restarts, since pending records
// always resolve into their submit-time tag regardless of what is
// currently selected.
type ClusterLab struct {
	*Lab

	farm     farm.Farm
	waitOpts farm.WaitOptions

	mu   sync.Mutex
	jobs map[string]jobInfo
}

// NewClusterLab constructs a ClusterLab over nb using design d
// (design.Factorial{} if nil), dispatching against f with the given
// reconnection/backoff policy (farm.DefaultWaitOptions() if the zero
// value).
func NewClusterLab(nb *notebook.Notebook, d design.Design, f farm.Farm, waitOpts farm.WaitOptions, logger *slog.Logger) *ClusterLab {
	if waitOpts == (farm.WaitOptions{}) {
		waitOpts = farm.DefaultWaitOptions()
	}

	l := &ClusterLab{
		Lab:      newLab(nb, d, logger),
		farm:     f,
		waitOpts: waitOpts,
		jobs:     make(map[string]jobInfo),
	}
	l.Lab.runExperiment = l.run

	return l
}

// run is ClusterLab's runExperiment strategy: it submits one task per
// P-point and returns immediately, never blocking on completion (spec
// §4.5.3, §5 "runExperiment is non-blocking after submission"). Callers
// that want to block until every submitted job resolves call Wait
// explicitly.
func (l *ClusterLab) run(e *experiment.Experiment) error {
	return l.Submit(context.Background(), e)
}

// Submit enumerates the design's points, registers each as a pending
// record under the notebook's current tag, and submits it to the farm.
// The notebook's job_id is reused as the farm's Submission.JobID, so a
// single id addresses both sides (spec §6.3).
func (l *ClusterLab) Submit(ctx context.Context, e *experiment.Experiment) error {
	points, err := l.Experiments()
	if err != nil {
		return err
	}

	className := e.ClassName()

	for _, p := range points {
		jobID, err := l.notebook.AddPending(p)
		if err != nil {
			return fmt.Errorf("cluster lab: add pending: %w", err)
		}

		sub := farm.Submission{JobID: jobID, ExperimentName: className, Parameters: p}

		if _, err := l.farm.Submit(ctx, sub); err != nil {
			if _, cancelErr := l.notebook.CancelPending(jobID); cancelErr != nil {
				l.logger.Warn("cluster lab: failed to roll back pending after dispatch failure",
					slog.String("job_id", jobID), slog.Any("error", cancelErr))
			}

			return fmt.Errorf("%w: %w", farm.ErrDispatch, err)
		}

		l.mu.Lock()
		l.jobs[jobID] = jobInfo{className: className, submittedAt: time.Now()}
		l.mu.Unlock()
	}

	return nil
}

// UpdateResults drains every terminal job the farm reports and resolves it
// into the notebook, returning how many jobs it resolved.
func (l *ClusterLab) UpdateResults(ctx context.Context) (int, error) {
	updates, err := l.farm.PullReady(ctx)
	if err != nil {
		return 0, fmt.Errorf("cluster lab: update results: %w", err)
	}

	resolved := 0

	for _, u := range updates {
		l.mu.Lock()
		_, known := l.jobs[u.JobID]
		l.mu.Unlock()

		if !known {
			continue
		}

		switch u.Status {
		case farm.StatusCancelled:
			if _, err := l.notebook.CancelPending(u.JobID); err != nil {
				return resolved, fmt.Errorf("cluster lab: cancel pending %s: %w", u.JobID, err)
			}
		case farm.StatusCompleted, farm.StatusFailed:
			rec := l.recordFor(u)

			if err := l.notebook.ResolvePending(u.JobID, rec); err != nil {
				return resolved, fmt.Errorf("cluster lab: resolve pending %s: %w", u.JobID, err)
			}
		}

		l.mu.Lock()
		delete(l.jobs, u.JobID)
		l.mu.Unlock()

		resolved++
	}

	return resolved, nil
}

func (l *ClusterLab) recordFor(u farm.Update) record.Record {
	now := time.Now()

	l.mu.Lock()
	info := l.jobs[u.JobID]
	l.mu.Unlock()

	m := record.Metadata{
		Status:          u.Status == farm.StatusCompleted,
		Exception:       u.Exception,
		StartTime:       info.submittedAt,
		EndTime:         now,
		ExperimentClass: info.className,
	}

	return record.Record{Results: u.Results, Metadata: m}
}

// ReadyFraction reports the fraction of jobs submitted by this ClusterLab
// instance that have resolved, in [0, 1]. A lab with no outstanding
// submissions reports 1.
func (l *ClusterLab) ReadyFraction(total int) float64 {
	if total <= 0 {
		return 1
	}

	l.mu.Lock()
	outstanding := len(l.jobs)
	l.mu.Unlock()

	done := total - outstanding
	if done < 0 {
		done = 0
	}

	return math.Min(1, float64(done)/float64(total))
}

// Ready reports whether every job submitted by this ClusterLab has
// resolved.
func (l *ClusterLab) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.jobs) == 0
}

// Wait polls UpdateResults on the backoff schedule in waitOpts until every
// outstanding job resolves, or until timeout elapses (timeout <= 0 means
// no deadline). It returns ErrWaitTimeout if the deadline elapses first.
func (l *ClusterLab) Wait(ctx context.Context, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	interval := l.waitOpts.Initial

	for !l.Ready() {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return ErrWaitTimeout
		}

		if _, err := l.UpdateResults(ctx); err != nil {
			return err
		}

		if l.Ready() {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("cluster lab: wait: %w", ctx.Err())
		case <-time.After(time.Duration(interval * float64(time.Second))):
		}

		interval *= l.waitOpts.Multiplier
		if interval > l.waitOpts.Max {
			interval = l.waitOpts.Max
		}
	}

	return nil
}

// CancelPending cancels every job this ClusterLab instance is still
// waiting on, both on the farm and in the notebook.
func (l *ClusterLab) CancelPending(ctx context.Context) error {
	l.mu.Lock()
	ids := make([]string, 0, len(l.jobs))
	for id := range l.jobs {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	for _, id := range ids {
		if _, err := l.farm.Cancel(ctx, id); err != nil {
			return fmt.Errorf("cluster lab: cancel %s: %w", id, err)
		}

		if _, err := l.notebook.CancelPending(id); err != nil {
			return fmt.Errorf("cluster lab: cancel pending %s: %w", id, err)
		}

		l.mu.Lock()
		delete(l.jobs, id)
		l.mu.Unlock()
	}

	return nil
}
