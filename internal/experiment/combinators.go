package experiment

import (
	"fmt"
	"math"
	"sort"

	"github.com/labframe/labframe/internal/record"
	"github.com/labframe/labframe/internal/value"
)

// Repeat runs Inner N times per Do call and returns the ordered list of N
// records as one repetition bundle (spec §4.3). Repeat delegates
// Configure/Deconfigure to Inner and satisfies MultiDoer, not Doer, so
// wrapping it in New produces an Experiment whose Run() yields N records
// for a single call.
type Repeat struct {
	Inner *Experiment
	N     int
}

// NewRepeat wraps inner in a Repeat combinator run N times per invocation.
func NewRepeat(inner *Experiment, n int) *Experiment {
	return New(&Repeat{Inner: inner, N: n})
}

// Configure delegates to Inner, satisfying Configurer so New(repeat)'s
// configure/deconfigure brackets still reach the wrapped experiment.
func (r *Repeat) Configure(p value.Dict) error {
	if c, ok := r.Inner.body.(Configurer); ok {
		return c.Configure(p)
	}

	return nil
}

// Deconfigure delegates to Inner.
func (r *Repeat) Deconfigure() error {
	if d, ok := r.Inner.body.(Deconfigurer); ok {
		return d.Deconfigure()
	}

	return nil
}

// ExperimentClass reports Inner's class name, not Repeat's own type, so
// produced records still identify the underlying experiment.
func (r *Repeat) ExperimentClass() string { return r.Inner.className() }

// DoMany runs Inner N times at p and flattens every record Inner.Run()
// produces across all N calls into one bundle, each carrying a
// repetition_index running over the full flattened space. When Inner
// itself only ever returns one record per Run (the common case), the
// bundle has exactly N records; when Inner is itself a MultiDoer
// returning M records per call (e.g. a nested Repeat), the bundle has
// M*N records, index in [0, M*N) (spec §4.3, §8). DoMany calls
// Inner.Set(p) once before the N runs, so Inner always runs at the
// parameters the wrapping Experiment was run with.
func (r *Repeat) DoMany(p value.Dict) ([]value.Dict, error) {
	if r.N <= 0 {
		return nil, fmt.Errorf("experiment: Repeat.N must be positive, got %d", r.N)
	}

	if err := r.Inner.Set(p); err != nil {
		return nil, fmt.Errorf("repeat: set inner parameters: %w", err)
	}

	var recs []record.Record

	for i := 0; i < r.N; i++ {
		recs = append(recs, r.Inner.Run()...)
	}

	results := make([]value.Dict, len(recs))
	for i, rec := range recs {
		results[i] = repeatWrap(rec, i, len(recs))
	}

	return results, nil
}

// repeatWrap packages one sub-run's full record (not just its Results) into
// the Results dict Repeat's Do returns, so Summarise can see sub-record
// status when filtering failures. The packaged dict carries status under
// "status" and exception text under "exception", then the original
// result fields at top level (a nested bundle's own "status" and
// "exception" take precedence), and finally "repetitions" and
// "repetition_index", which always describe this Repeat's flattened bundle.
func repeatWrap(rec record.Record, index, n int) value.Dict {
	out := value.Dict{
		"status":    value.Bool(rec.Metadata.Status),
		"exception": value.Text(rec.Metadata.Exception),
	}

	for k, v := range rec.Results {
		out[k] = v
	}

	out["repetitions"] = value.Int(int64(n))
	out["repetition_index"] = value.Int(int64(index))

	return out
}

// Summarise runs Inner (typically a Repeat) and reduces its repetition
// bundle to summary statistics over named fields (spec §4.3).
type Summarise struct {
	Inner         *Experiment
	Fields        []string
	KeepOnFailure bool
}

// NewSummarise wraps inner, summarising the named result fields across
// whatever repetition bundle inner's Do produces.
func NewSummarise(inner *Experiment, fields []string, keepOnFailure bool) *Experiment {
	return New(&Summarise{Inner: inner, Fields: fields, KeepOnFailure: keepOnFailure})
}

// Configure delegates to Inner.
func (s *Summarise) Configure(p value.Dict) error {
	if c, ok := s.Inner.body.(Configurer); ok {
		return c.Configure(p)
	}

	return nil
}

// Deconfigure delegates to Inner.
func (s *Summarise) Deconfigure() error {
	if d, ok := s.Inner.body.(Deconfigurer); ok {
		return d.Deconfigure()
	}

	return nil
}

// ExperimentClass reports Inner's class name.
func (s *Summarise) ExperimentClass() string { return s.Inner.className() }

// Do runs Inner once, producing a bundle of sub-results, filters out failed
// sub-records unless KeepOnFailure, then computes mean/median/variance/
// min/max for every named field plus the two underlying-result counts
// (spec §4.3).
func (s *Summarise) Do(p value.Dict) (value.Dict, error) {
	if err := s.Inner.Set(p); err != nil {
		return nil, fmt.Errorf("summarise: set inner parameters: %w", err)
	}

	recs := s.Inner.Run()

	bundle, err := flattenBundle(recs)
	if err != nil {
		return nil, err
	}

	total := len(bundle)

	successful := bundle
	if !s.KeepOnFailure {
		successful = filterSuccessful(bundle)
	}

	out := value.Dict{
		"underlying_results":            value.Int(int64(total)),
		"underlying_successful_results": value.Int(int64(len(filterSuccessful(bundle)))),
	}

	for _, field := range s.Fields {
		values := make([]float64, 0, len(successful))

		for _, sub := range successful {
			v, ok := sub[field]
			if !ok {
				continue
			}

			f, err := v.AsFloat()
			if err != nil {
				continue
			}

			values = append(values, f)
		}

		if len(values) == 0 {
			continue
		}

		mean, median, variance, min, max := summariseStats(values)

		out[field+"_mean"] = value.Float(mean)
		out[field+"_median"] = value.Float(median)
		out[field+"_variance"] = value.Float(variance)
		out[field+"_min"] = value.Float(min)
		out[field+"_max"] = value.Float(max)
	}

	return out, nil
}

// flattenBundle extracts the per-sub-run Results dicts from recs, one per
// record. When Inner is a Repeat, its Run() already yields one record per
// repetition, so the bundle is simply each record's Results in order.
func flattenBundle(recs []record.Record) ([]value.Dict, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("experiment: Summarise: inner produced no records")
	}

	bundle := make([]value.Dict, 0, len(recs))

	for _, rec := range recs {
		bundle = append(bundle, rec.Results)
	}

	return bundle, nil
}

func filterSuccessful(bundle []value.Dict) []value.Dict {
	out := make([]value.Dict, 0, len(bundle))

	for _, sub := range bundle {
		status, ok := sub["status"]
		if !ok {
			out = append(out, sub)

			continue
		}

		b, err := status.Bool()
		if err == nil && !b {
			continue
		}

		out = append(out, sub)
	}

	return out
}

func summariseStats(values []float64) (mean, median, variance, min, max float64) {
	n := float64(len(values))

	sum := 0.0
	min = values[0]
	max = values[0]

	for _, v := range values {
		sum += v

		if v < min {
			min = v
		}

		if v > max {
			max = v
		}
	}

	mean = sum / n

	sqDiffSum := 0.0
	for _, v := range values {
		d := v - mean
		sqDiffSum += d * d
	}

	variance = sqDiffSum / n

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		median = sorted[mid]
	}

	if math.IsNaN(variance) {
		variance = 0
	}

	return mean, median, variance, min, max
}
