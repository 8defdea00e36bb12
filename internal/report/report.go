package report

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/codalotl/intentbench/internal/metrics"
	"github.com/codalotl/intentbench/internal/obslog"
	"github.com/codalotl/intentbench/internal/suite"
	"github.com/codalotl/intentbench/internal/types"
)

// ErrEmptyResultSet means no model produced a single scored observation.
var ErrEmptyResultSet = errors.New("empty result set: no model produced any observations")

type Options struct {
	LogPath string
	Labels  suite.LabelSet
	// Order is the model discovery order. Models found only in the log follow it.
	Order  []string
	Models []string
	After  *time.Time
	Now    func() time.Time
}

type Report struct {
	Summary     types.Summary
	Ranked      []types.ModelMetrics
	Diagnostics []metrics.Diagnostic
	Truncated   bool
}

// Run reads an observation log and builds the report for it.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if strings.TrimSpace(opts.LogPath) == "" {
		return nil, errors.New("LogPath is required")
	}
	log, err := obslog.ReadFile(opts.LogPath)
	if err != nil {
		return nil, err
	}

	modelSet := sliceToSet(opts.Models)
	filtered := make([]types.Observation, 0, len(log.Observations))
	for _, o := range log.Observations {
		if modelSet != nil && !modelSet[strings.TrimSpace(o.Model)] {
			continue
		}
		if opts.After != nil && o.RecordedAt != nil && o.RecordedAt.Before(*opts.After) {
			continue
		}
		filtered = append(filtered, o)
	}

	order := opts.Order
	if len(order) == 0 {
		order = log.Models()
	}
	if modelSet != nil {
		discovered := order
		order = nil
		for _, m := range discovered {
			if modelSet[m] {
				order = append(order, m)
			}
		}
	}

	results, err := metrics.ComputeAll(ctx, order, filtered, opts.Labels)
	if err != nil {
		return nil, err
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	rep, err := Build(results, now())
	if err != nil {
		return nil, err
	}
	rep.Truncated = log.Truncated
	rep.Summary.SourceLog = opts.LogPath
	rep.Summary.RunID = log.RunID()
	return rep, nil
}

// Build ranks per-model results, picks the winner, and assembles the summary.
// results must be in discovery order.
func Build(results []metrics.Result, at time.Time) (*Report, error) {
	all := make([]types.ModelMetrics, 0, len(results))
	for _, r := range results {
		all = append(all, r.Metrics)
	}
	ranked := Rank(all)
	winner, err := SelectWinner(ranked)
	if err != nil {
		return nil, err
	}
	diags := metrics.Diagnostics(results)

	summary := ToStructured(ranked, winner, at)
	summary.PerCategory = categoryWinners(all)
	summary.DiagnosticsCount = len(diags)

	return &Report{
		Summary:     summary,
		Ranked:      ranked,
		Diagnostics: diags,
	}, nil
}

// Rank orders models by ascending Brier score. The sort is stable, so models
// with equal scores keep their discovery order. Models without any scored
// observation rank after every scored model. The input is not modified.
func Rank(all []types.ModelMetrics) []types.ModelMetrics {
	ranked := make([]types.ModelMetrics, len(all))
	copy(ranked, all)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := ranked[i].Scored() > 0, ranked[j].Scored() > 0
		if si != sj {
			return si
		}
		return ranked[i].BrierScore < ranked[j].BrierScore
	})
	return ranked
}

// SelectWinner returns the first ranked model.
func SelectWinner(ranked []types.ModelMetrics) (string, error) {
	if len(ranked) == 0 || ranked[0].Scored() == 0 {
		return "", ErrEmptyResultSet
	}
	return ranked[0].Model, nil
}

// categoryWinners picks, per expected label, the model with the lowest Brier
// score on that label. Earlier models win ties.
func categoryWinners(all []types.ModelMetrics) map[string]types.CategoryWinner {
	out := map[string]types.CategoryWinner{}
	best := map[string]float64{}
	for _, m := range all {
		for label, c := range m.ByCategory {
			if c.Correct+c.Incorrect == 0 {
				continue
			}
			if prev, ok := best[label]; ok && c.BrierScore >= prev {
				continue
			}
			best[label] = c.BrierScore
			out[label] = types.CategoryWinner{
				Model:          m.Model,
				Accuracy:       round(c.Accuracy, 4),
				BrierScore:     round(c.BrierScore, 4),
				AvgDurationSec: round(c.AvgDurationSec, 2),
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Labels returns the union of category labels, sorted.
func Labels(ranked []types.ModelMetrics) []string {
	set := map[string]bool{}
	for _, m := range ranked {
		for label := range m.ByCategory {
			set[label] = true
		}
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func sliceToSet(items []string) map[string]bool {
	var out map[string]bool
	for _, s := range items {
		val := strings.TrimSpace(s)
		if val == "" {
			continue
		}
		if out == nil {
			out = map[string]bool{}
		}
		out[val] = true
	}
	return out
}
