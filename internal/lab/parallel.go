package lab

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/labframe/labframe/internal/design"
	"github.com/labframe/labframe/internal/experiment"
	"github.com/labframe/labframe/internal/notebook"
	"github.com/labframe/labframe/internal/record"
	"github.com/labframe/labframe/internal/value"
)

// WorkerPool is the subset of workerproc.Pool that ParallelLab depends on,
// kept as an interface so the dispatcher can be tested without spawning
// real subprocesses.
type WorkerPool interface {
	Run(ctx context.Context, experimentName string, points []value.Dict) ([]record.Record, error)
}

// ParallelLab runs every point in the design through a local pool of
// worker processes (spec §4.5.2). Records come back in completion order;
// ParallelLab makes no attempt to restore design order before appending
// them to the notebook, since the result set does not depend on it.
type ParallelLab struct {
	*Lab

	pool WorkerPool
}

// NewParallelLab constructs a ParallelLab over nb using design d
// (design.Factorial{} if nil) and pool to dispatch work.
func NewParallelLab(nb *notebook.Notebook, d design.Design, pool WorkerPool, logger *slog.Logger) *ParallelLab {
	l := &ParallelLab{Lab: newLab(nb, d, logger), pool: pool}
	l.Lab.runExperiment = l.run

	return l
}

// DefaultWorkerCount returns spec §4.5.2's K = max(1, cores-1), capped at
// runtime.NumCPU() so it never over-subscribes the host.
func DefaultWorkerCount() int {
	cores := runtime.NumCPU()

	k := cores - 1
	if k < 1 {
		k = 1
	}

	if k > cores {
		k = cores
	}

	return k
}

func (l *ParallelLab) run(e *experiment.Experiment) error {
	points, err := l.Experiments()
	if err != nil {
		return err
	}

	className := e.ClassName()

	recs, err := l.pool.Run(context.Background(), className, points)
	if err != nil {
		return fmt.Errorf("parallel lab: pool run: %w", err)
	}

	for _, rec := range recs {
		if err := l.notebook.AddResult(rec); err != nil {
			return fmt.Errorf("parallel lab: add result: %w", err)
		}
	}

	return nil
}
