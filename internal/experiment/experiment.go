// Package experiment implements the experiment lifecycle from spec §4.1:
// a capability interface with default no-op phases, a Run driver that
// times each phase and captures failures as records instead of errors,
// and the combinators in combinators.go.
package experiment

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/labframe/labframe/internal/record"
	"github.com/labframe/labframe/internal/value"
)

// Configurer performs expensive, per-parameter-change setup (spec §4.1
// "configure/deconfigure brackets parameter-change boundaries").
type Configurer interface {
	Configure(p value.Dict) error
}

// Deconfigurer tears down whatever Configure set up, invoked before the
// next Configure when parameters change.
type Deconfigurer interface {
	Deconfigure() error
}

// SetUpper performs cheap, per-invocation setup (spec §4.1 "setUp/tearDown
// brackets each individual run").
type SetUpper interface {
	SetUp(p value.Dict) error
}

// TearDowner performs per-invocation cleanup.
type TearDowner interface {
	TearDown() error
}

// Doer is the usual required capability: it performs the experiment itself
// and returns one Results dict. Bodies that return an ordered list of them
// (a repetition bundle) satisfy MultiDoer instead.
type Doer interface {
	Do(p value.Dict) (value.Dict, error)
}

// MultiDoer is an alternative to Doer for experiments whose Do naturally
// produces more than one Results dict at once (e.g. Repeat). Experiments
// normally satisfy Doer; combinators satisfy MultiDoer instead.
type MultiDoer interface {
	DoMany(p value.Dict) ([]value.Dict, error)
}

// Experiment is the polymorphic lifecycle object run at one parameter
// point (spec §4.1). A concrete experiment type satisfies whichever of
// Configurer/Deconfigurer/SetUpper/TearDowner it needs and exactly one of
// Doer or MultiDoer.
type Experiment struct {
	body   Body
	logger *slog.Logger

	params    value.Dict
	hasParams bool

	last record.Record
}

// WithLogger sets the logger Run uses for phase-transition debug logging.
// Without it, Run falls back to slog.Default().
func (e *Experiment) WithLogger(logger *slog.Logger) *Experiment {
	e.logger = logger

	return e
}

func (e *Experiment) log() *slog.Logger {
	if e.logger != nil {
		return e.logger
	}

	return slog.Default()
}

// Body is the user-supplied payload code (out of scope per spec §1,
// modeled here as the minimal interface Run needs to drive it).
type Body interface{}

// ClassNamer lets a Body choose the experiment class label recorded in
// produced metadata. Without it the label is the Go type name of the Body;
// callers that want a different label can wrap Body in a type implementing
// ClassNamer.
type ClassNamer interface {
	ExperimentClass() string
}

// New wraps body — which must implement at least Doer or MultiDoer — in
// an Experiment lifecycle driver.
func New(body Body) *Experiment {
	return &Experiment{body: body}
}

// Set replaces the experiment's parameters. If parameters were previously
// set, Deconfigure is invoked first; then Configure(p) runs. Repeated Set
// calls with different P each trigger a fresh configure/deconfigure cycle;
// Run() calls with the same P never do (spec §4.1 "Lifecycle phasing").
func (e *Experiment) Set(p value.Dict) error {
	if e.hasParams {
		if d, ok := e.body.(Deconfigurer); ok {
			if err := d.Deconfigure(); err != nil {
				return fmt.Errorf("deconfigure: %w", err)
			}
		}
	}

	if c, ok := e.body.(Configurer); ok {
		if err := c.Configure(p); err != nil {
			return fmt.Errorf("configure: %w", err)
		}
	}

	e.params = p.Clone()
	e.hasParams = true

	return nil
}

// Parameters returns the parameters the experiment was last Set with.
func (e *Experiment) Parameters() value.Dict { return e.params.Clone() }

// Run executes setUp(P); R = do(P); tearDown() with timing around each
// phase, and packages (P, R, M) as one or more records. Any failure in
// setUp, do, or tearDown is caught and yields a failed record rather than
// an error return from Run (spec §4.1 "Failure semantics") — Run itself
// never returns an error for experiment-payload failures.
func (e *Experiment) Run() []record.Record {
	// Spec §9 Open Question: parameter mutations inside SetUp/Do are
	// visible only within the record they produce. Each Run starts from a
	// fresh copy of the Set parameters, never the previous Run's mutated
	// copy.
	p := e.params.Clone()

	start := time.Now()

	var (
		setupTime, experimentTime, teardownTime time.Duration
		results                                 []value.Dict
		failErr                                 error
		traceback                               string
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				failErr = fmt.Errorf("panic: %v", r)
				traceback = string(debug.Stack())
			}
		}()

		setupStart := time.Now()

		if su, ok := e.body.(SetUpper); ok {
			if err := su.SetUp(p); err != nil {
				failErr = fmt.Errorf("setUp: %w", err)
				traceback = string(debug.Stack())
				setupTime = time.Since(setupStart)

				return
			}
		}

		setupTime = time.Since(setupStart)

		doStart := time.Now()
		results, failErr = e.invokeDo(p)
		experimentTime = time.Since(doStart)

		if failErr != nil {
			traceback = string(debug.Stack())

			return
		}

		teardownStart := time.Now()

		if td, ok := e.body.(TearDowner); ok {
			if err := td.TearDown(); err != nil {
				failErr = fmt.Errorf("tearDown: %w", err)
				traceback = string(debug.Stack())
				teardownTime = time.Since(teardownStart)

				return
			}
		}

		teardownTime = time.Since(teardownStart)
	}()

	end := time.Now()

	class := e.className()

	e.log().Debug("experiment run",
		slog.String("class", class),
		slog.Bool("status", failErr == nil),
		slog.Duration("setup_time", setupTime),
		slog.Duration("experiment_time", experimentTime),
		slog.Duration("teardown_time", teardownTime))

	if failErr != nil {
		rec := record.Record{
			Parameters: p,
			Results:    value.Dict{},
			Metadata: record.Metadata{
				Status:          false,
				Exception:       failErr.Error(),
				Traceback:       traceback,
				StartTime:       start,
				EndTime:         end,
				SetupTime:       setupTime,
				ExperimentTime:  experimentTime,
				TeardownTime:    teardownTime,
				ExperimentClass: class,
			},
		}
		e.last = rec

		return []record.Record{rec}
	}

	out := make([]record.Record, len(results))

	for i, r := range results {
		out[i] = record.Record{
			Parameters: p,
			Results:    r,
			Metadata: record.Metadata{
				Status:          true,
				StartTime:       start,
				EndTime:         end,
				SetupTime:       setupTime,
				ExperimentTime:  experimentTime,
				TeardownTime:    teardownTime,
				ExperimentClass: class,
			},
		}
	}

	if len(out) > 0 {
		e.last = out[len(out)-1]
	}

	return out
}

func (e *Experiment) invokeDo(p value.Dict) ([]value.Dict, error) {
	if md, ok := e.body.(MultiDoer); ok {
		return md.DoMany(p)
	}

	if d, ok := e.body.(Doer); ok {
		r, err := d.Do(p)
		if err != nil {
			return nil, err
		}

		return []value.Dict{r}, nil
	}

	return nil, fmt.Errorf("experiment: body implements neither Doer nor MultiDoer")
}

// ClassName reports the experiment's class label, as recorded in every
// produced record's Metadata.ExperimentClass.
func (e *Experiment) ClassName() string { return e.className() }

func (e *Experiment) className() string {
	if cn, ok := e.body.(ClassNamer); ok {
		return cn.ExperimentClass()
	}

	return fmt.Sprintf("%T", e.body)
}

// Last returns the most recent record produced by Run.
func (e *Experiment) Last() record.Record { return e.last }

// LastParameters returns the P of the most recent record.
func (e *Experiment) LastParameters() value.Dict { return e.last.Parameters.Clone() }

// LastResults returns the R of the most recent record.
func (e *Experiment) LastResults() value.Dict { return e.last.Results.Clone() }

// LastMetadata returns the M of the most recent record.
func (e *Experiment) LastMetadata() record.Metadata { return e.last.Metadata }
