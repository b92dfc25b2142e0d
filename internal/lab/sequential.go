package lab

import (
	"fmt"
	"log/slog"

	"github.com/labframe/labframe/internal/design"
	"github.com/labframe/labframe/internal/experiment"
	"github.com/labframe/labframe/internal/notebook"
)

// SequentialLab is the synchronous, single-threaded dispatcher (spec
// §4.5.1). It iterates the design order, runs e.Set(P); e.Run() at each
// point, and appends the returned records to the notebook's current set —
// preserving design order end-to-end (spec §5).
type SequentialLab struct {
	*Lab
}

// NewSequentialLab constructs a SequentialLab over nb using design d
// (design.Factorial{} if nil).
func NewSequentialLab(nb *notebook.Notebook, d design.Design, logger *slog.Logger) *SequentialLab {
	l := &SequentialLab{Lab: newLab(nb, d, logger)}
	l.Lab.runExperiment = l.run

	return l
}

func (l *SequentialLab) run(e *experiment.Experiment) error {
	points, err := l.Experiments()
	if err != nil {
		return err
	}

	for _, p := range points {
		if err := e.Set(p); err != nil {
			return fmt.Errorf("sequential lab: set parameters: %w", err)
		}

		for _, rec := range e.Run() {
			if err := l.notebook.AddResult(rec); err != nil {
				return fmt.Errorf("sequential lab: add result: %w", err)
			}
		}
	}

	return nil
}
