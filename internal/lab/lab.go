// Package lab implements the three lab dispatchers from spec §4.5: the
// common range/design/notebook contract in this file, SequentialLab in
// sequential.go, ParallelLab in parallel.go, and ClusterLab in cluster.go.
package lab

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/labframe/labframe/internal/design"
	"github.com/labframe/labframe/internal/experiment"
	"github.com/labframe/labframe/internal/notebook"
	"github.com/labframe/labframe/internal/value"
)

// Lab holds the contract common to every dispatcher: a range mapping, a
// chosen design, and a handle to one notebook (spec §4.5). Concrete
// dispatchers (SequentialLab, ParallelLab, ClusterLab) embed *Lab and set
// runExperiment to their own dispatch strategy.
type Lab struct {
	mu sync.Mutex

	ranges   design.Ranges
	chosen   design.Design
	notebook *notebook.Notebook
	logger   *slog.Logger

	runExperiment func(e *experiment.Experiment) error
}

func newLab(nb *notebook.Notebook, d design.Design, logger *slog.Logger) *Lab {
	if d == nil {
		d = design.Factorial{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Lab{
		ranges:   make(design.Ranges),
		chosen:   d,
		notebook: nb,
		logger:   logger,
	}
}

// Notebook returns the lab's notebook handle.
func (l *Lab) Notebook() *notebook.Notebook { return l.notebook }

// Set inserts or updates the range for a parameter name.
func (l *Lab) Set(name string, r design.Range) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ranges[name] = r
}

// Del removes a parameter's range.
func (l *Lab) Del(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.ranges, name)
}

// Clear removes every parameter range.
func (l *Lab) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ranges = make(design.Ranges)
}

// Ranges returns a copy of the current range mapping.
func (l *Lab) Ranges() design.Ranges {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(design.Ranges, len(l.ranges))
	for k, v := range l.ranges {
		out[k] = v
	}

	return out
}

// Experiments applies the chosen design to the current ranges, producing
// the ordered list of P-points (spec §4.5).
func (l *Lab) Experiments() ([]value.Dict, error) {
	l.mu.Lock()
	ranges := l.ranges
	d := l.chosen
	l.mu.Unlock()

	points, err := d.Enumerate(ranges)
	if err != nil {
		return nil, fmt.Errorf("lab: experiments: %w", err)
	}

	return points, nil
}

// RunExperiment dispatches e at every point produced by Experiments(),
// using the concrete lab's dispatch strategy.
func (l *Lab) RunExperiment(e *experiment.Experiment) error {
	return l.runExperiment(e)
}

// CreateWith is the idempotent "compute-or-reuse" guarantee (spec §4.5):
// if the notebook already holds tag, select it and return; otherwise
// create it, select it, optionally clear the ranges, and invoke ctor(l).
// On failure the partially-filled set is deleted and the error is
// propagated; on success, lockAfter optionally finishes (locks) the set.
func (l *Lab) CreateWith(tag string, ctor func(*Lab) error, description string, lockAfter, resetBefore bool) error {
	nb := l.notebook

	if rs, ok := nb.ResultSet(tag); ok {
		if err := nb.Select(tag); err != nil {
			return fmt.Errorf("lab: createWith: select existing tag %q: %w", tag, err)
		}

		l.logger.Debug("lab: createWith reused existing tag", slog.String("tag", tag), slog.Int("records", rs.Len()))

		return nil
	}

	if _, err := nb.AddResultSet(tag, description); err != nil {
		return fmt.Errorf("lab: createWith: add result set %q: %w", tag, err)
	}

	if resetBefore {
		l.Clear()
	}

	if err := ctor(l); err != nil {
		if delErr := nb.DiscardResultSet(tag); delErr != nil {
			l.logger.Warn("lab: createWith: failed to roll back partially-filled set",
				slog.String("tag", tag), slog.Any("error", delErr))
		}

		return fmt.Errorf("lab: createWith: constructor for tag %q: %w", tag, err)
	}

	if lockAfter {
		if rs, ok := nb.ResultSet(tag); ok {
			if err := rs.Finish(time.Now); err != nil {
				return fmt.Errorf("lab: createWith: finish tag %q: %w", tag, err)
			}
		}
	}

	return nil
}
