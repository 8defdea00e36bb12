// Package metrics turns recorded observations into per-model accuracy,
// calibration (Brier score), and latency figures.
//
// The Brier score used here is the binary form: each observation contributes
// (p - outcome)^2 where p is the confidence the model reported for its own
// prediction and outcome is 1 when the prediction matched the expected label.
// It is not the multi-class Brier score; models report a single confidence,
// not a distribution.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/codalotl/intentbench/internal/suite"
	"github.com/codalotl/intentbench/internal/types"
)

// ErrMixedModels is returned by Compute when observations belong to more than one model.
var ErrMixedModels = errors.New("observations belong to more than one model")

type DiagnosticKind string

const (
	ConfidenceOutOfRange DiagnosticKind = "confidence_out_of_range"
	UnknownLabel         DiagnosticKind = "unknown_label"
)

// Diagnostic flags a data-quality defect that was repaired before scoring.
type Diagnostic struct {
	Model  string
	Query  string
	Kind   DiagnosticKind
	Detail string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: model=%s query=%q %s", d.Kind, d.Model, d.Query, d.Detail)
}

type Result struct {
	Metrics     types.ModelMetrics
	Diagnostics []Diagnostic
}

type tally struct {
	correct   int
	incorrect int
	brierSum  float64
	durSum    float64
}

func (t *tally) add(correct bool, confidence, duration float64) {
	outcome := 0.0
	if correct {
		outcome = 1
		t.correct++
	} else {
		t.incorrect++
	}
	d := confidence - outcome
	t.brierSum += d * d
	t.durSum += duration
}

func (t tally) count() int {
	return t.correct + t.incorrect
}

func (t tally) accuracy() float64 {
	if t.count() == 0 {
		return 0
	}
	return float64(t.correct) / float64(t.count())
}

// brier is 0 for an empty tally; callers tell the cases apart through count().
func (t tally) brier() float64 {
	if t.count() == 0 {
		return 0
	}
	return t.brierSum / float64(t.count())
}

func (t tally) avgDuration() float64 {
	if t.count() == 0 {
		return 0
	}
	return t.durSum / float64(t.count())
}

// Compute derives the metrics of a single model. Every observation must carry
// the given model identifier. An empty slice yields zero-valued metrics with
// no scored observations.
func Compute(model string, obs []types.Observation, labels suite.LabelSet) (Result, error) {
	res := Result{Metrics: types.ModelMetrics{Model: model}}

	var overall tally
	byCategory := map[string]*tally{}

	for _, o := range obs {
		if o.Model != model {
			return Result{}, fmt.Errorf("%w: expected %q, got %q", ErrMixedModels, model, o.Model)
		}
		if !o.Scored() {
			res.Metrics.Skipped++
			continue
		}

		confidence, ok := clamp(o.Confidence)
		if !ok {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Model:  model,
				Query:  o.Query,
				Kind:   ConfidenceOutOfRange,
				Detail: fmt.Sprintf("confidence %v clamped to %v", o.Confidence, confidence),
			})
		}

		predicted := o.PredictedLabel
		if labels != nil && !labels.Contains(predicted) {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Model:  model,
				Query:  o.Query,
				Kind:   UnknownLabel,
				Detail: fmt.Sprintf("predicted label %q normalized to %q", predicted, types.UnknownLabel),
			})
			predicted = types.UnknownLabel
		}

		correct := predicted == o.ExpectedLabel
		overall.add(correct, confidence, o.DurationSeconds)

		cat := byCategory[o.ExpectedLabel]
		if cat == nil {
			cat = &tally{}
			byCategory[o.ExpectedLabel] = cat
		}
		cat.add(correct, confidence, o.DurationSeconds)
	}

	res.Metrics.Correct = overall.correct
	res.Metrics.Incorrect = overall.incorrect
	res.Metrics.Accuracy = overall.accuracy()
	res.Metrics.BrierScore = overall.brier()
	res.Metrics.AvgDurationSec = overall.avgDuration()

	if len(byCategory) > 0 {
		res.Metrics.ByCategory = make(map[string]types.CategoryMetrics, len(byCategory))
		for label, t := range byCategory {
			res.Metrics.ByCategory[label] = types.CategoryMetrics{
				Correct:        t.correct,
				Incorrect:      t.incorrect,
				Accuracy:       t.accuracy(),
				BrierScore:     t.brier(),
				AvgDurationSec: t.avgDuration(),
			}
		}
	}
	return res, nil
}

// clamp bounds a confidence to [0,1]. NaN maps to 0. The boolean is false when
// the value had to change.
func clamp(p float64) (float64, bool) {
	switch {
	case math.IsNaN(p):
		return 0, false
	case p < 0:
		return 0, false
	case p > 1:
		return 1, false
	default:
		return p, true
	}
}

// ComputeAll groups observations by model and computes each model
// concurrently. Results follow order; models present in obs but missing from
// order are appended in first-appearance order.
func ComputeAll(ctx context.Context, order []string, obs []types.Observation, labels suite.LabelSet) ([]Result, error) {
	grouped := map[string][]types.Observation{}
	models := make([]string, 0, len(order))
	seen := map[string]bool{}
	for _, m := range order {
		if seen[m] {
			continue
		}
		seen[m] = true
		models = append(models, m)
		grouped[m] = nil
	}
	for _, o := range obs {
		if !seen[o.Model] {
			seen[o.Model] = true
			models = append(models, o.Model)
		}
		grouped[o.Model] = append(grouped[o.Model], o)
	}

	results := make([]Result, len(models))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, m := range models {
		i, m := i, m
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := Compute(m, grouped[m], labels)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Diagnostics flattens the diagnostics of every result.
func Diagnostics(results []Result) []Diagnostic {
	var out []Diagnostic
	for _, r := range results {
		out = append(out, r.Diagnostics...)
	}
	return out
}
