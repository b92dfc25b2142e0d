package farm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/labframe/labframe/internal/value"
)

// ExperimentFunc is the registered payload a Fake job runs: a pure
// function from Parameters to Results or an error.
type ExperimentFunc func(p value.Dict) (value.Dict, error)

// Fake is an in-process Farm used by cluster-lab and notebook tests. Jobs
// do not complete on Submit; call RunPending to advance every currently
// submitted job to a terminal state, then PullReady to drain it — this
// mirrors the real farm's asynchrony without a network hop.
type Fake struct {
	mu       sync.Mutex
	registry map[string]ExperimentFunc
	engines  int
	pending  map[string]Submission
	ready    []Update
	nextID   int
}

// NewFake constructs a Fake reporting engineCount engines.
func NewFake(engineCount int) *Fake {
	return &Fake{
		registry: make(map[string]ExperimentFunc),
		engines:  engineCount,
		pending:  make(map[string]Submission),
	}
}

// Register makes name resolvable by Submit, mirroring the engine-side
// registry a real farm's workers hold (spec §9, internal/workerproc).
func (f *Fake) Register(name string, fn ExperimentFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.registry[name] = fn
}

// EngineCount implements Farm.
func (f *Fake) EngineCount(_ context.Context) (int, error) {
	return f.engines, nil
}

// Imports implements Farm. Fake has no engines to provision, so every
// import request trivially succeeds.
func (f *Fake) Imports(_ context.Context, _ []string) error {
	return nil
}

// Submit implements Farm.
func (f *Fake) Submit(_ context.Context, sub Submission) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.registry[sub.ExperimentName]; !ok {
		return "", fmt.Errorf("%w: experiment %q not registered with fake farm", ErrDispatch, sub.ExperimentName)
	}

	id := sub.JobID
	if id == "" {
		f.nextID++
		id = fmt.Sprintf("fake-%d", f.nextID)
	}

	f.pending[id] = sub

	return id, nil
}

// Cancel implements Farm.
func (f *Fake) Cancel(_ context.Context, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.pending[jobID]; !ok {
		return false, nil
	}

	delete(f.pending, jobID)
	f.ready = append(f.ready, Update{JobID: jobID, Status: StatusCancelled})

	return true, nil
}

// RunPending executes every currently pending job's registered function,
// in job-id order, and moves each to the ready queue.
func (f *Fake) RunPending() {
	f.mu.Lock()
	ids := make([]string, 0, len(f.pending))
	jobs := make(map[string]Submission, len(f.pending))

	for id, sub := range f.pending {
		ids = append(ids, id)
		jobs[id] = sub
	}

	sort.Strings(ids)
	f.mu.Unlock()

	for _, id := range ids {
		sub := jobs[id]

		fn, ok := f.registry[sub.ExperimentName]

		var update Update
		update.JobID = id

		if !ok {
			update.Status = StatusFailed
			update.Exception = fmt.Sprintf("experiment %q not registered", sub.ExperimentName)
		} else {
			r, err := fn(sub.Parameters)
			if err != nil {
				update.Status = StatusFailed
				update.Exception = err.Error()
			} else {
				update.Status = StatusCompleted
				update.Results = r
			}
		}

		f.mu.Lock()
		delete(f.pending, id)
		f.ready = append(f.ready, update)
		f.mu.Unlock()
	}
}

// PullReady implements Farm.
func (f *Fake) PullReady(_ context.Context) ([]Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.ready
	f.ready = nil

	return out, nil
}
