// Package bench drives a benchmark run: every model answers every query of a
// suite, and each outcome is appended to the observation log.
package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codalotl/intentbench/internal/ollama"
	"github.com/codalotl/intentbench/internal/output"
	"github.com/codalotl/intentbench/internal/suite"
	"github.com/codalotl/intentbench/internal/types"
)

//go:generate mockgen -destination=mock_bench_test.go -package=bench . Classifier,ModelSource

// Classifier answers a single classification query.
type Classifier interface {
	Classify(ctx context.Context, model, systemPrompt, query string) (ollama.Classification, error)
}

// Recorder persists observations. *obslog.Writer satisfies it.
type Recorder interface {
	Write(o types.Observation) error
}

type Runner struct {
	Classifier Classifier
	Recorder   Recorder
	Suite      *suite.Suite
	Printer    *output.Printer
	// RunID tags every observation. NewRunID is used when empty.
	RunID string
	Now   func() time.Time
}

type Stats struct {
	RunID        string
	Models       int
	Observations int
	Failures     int
	Unparsed     int
}

func NewRunID() string {
	return uuid.NewString()
}

// Run queries models in order, one query at a time. A failed invocation is
// recorded as an error observation and the run continues. Cancelling ctx stops
// the run and returns ctx.Err() with the stats gathered so far.
func (r *Runner) Run(ctx context.Context, models []string) (Stats, error) {
	if r.Classifier == nil || r.Recorder == nil || r.Suite == nil {
		return Stats{}, errors.New("runner requires a classifier, a recorder, and a suite")
	}
	if len(models) == 0 {
		return Stats{}, errors.New("no models to benchmark")
	}
	printer := r.Printer
	if printer == nil {
		printer = output.NewPrinter(io.Discard)
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	runID := r.RunID
	if runID == "" {
		runID = NewRunID()
	}

	stats := Stats{RunID: runID}
	prompt := r.Suite.SystemPrompt()
	items := r.Suite.Items()

	for _, model := range models {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Models++
		_ = printer.Appf("Testing model: %s", model)

		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return stats, err
			}

			at := now().UTC()
			obs := types.Observation{
				RunID:         runID,
				Model:         model,
				Query:         item.Query,
				ExpectedLabel: item.Label,
				RecordedAt:    &at,
			}

			cls, err := r.Classifier.Classify(ctx, model, prompt, item.Query)
			if err != nil {
				if ctx.Err() != nil {
					return stats, ctx.Err()
				}
				obs.Status = types.StatusError
				obs.Error = err.Error()
				stats.Failures++
				output.Logger.Warn("classification failed", "model", model, "query", item.Query, "err", err)
				_ = printer.Warnf("  Failed: '%s': %v", item.Query, err)
			} else {
				obs.Status = types.StatusOK
				obs.PredictedLabel = cls.Label
				obs.Confidence = cls.Confidence
				obs.DurationSeconds = cls.Duration.Seconds()
				if cls.Unparsed {
					stats.Unparsed++
					output.Logger.Warn("unparseable reply", "model", model, "query", item.Query, "reply", cls.Raw)
					_ = printer.Warnf("  Failed to parse JSON for '%s': %s", item.Query, truncate(cls.Raw, 80))
				} else {
					_ = printer.Appf("  '%s' -> %s (%.2f) in %.2fs", item.Query, cls.Label, cls.Confidence, cls.Duration.Seconds())
				}
			}

			if err := r.Recorder.Write(obs); err != nil {
				return stats, fmt.Errorf("record observation: %w", err)
			}
			stats.Observations++
		}
	}
	return stats, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ModelSource lists and installs models. *ollama.Client satisfies it.
type ModelSource interface {
	ListModels(ctx context.Context) ([]string, error)
	Pull(ctx context.Context, model string) error
}

type ResolveOptions struct {
	// Models, when non-empty, is used as-is instead of discovery.
	Models       []string
	Exclude      []string
	DefaultModel string
}

// ResolveModels returns the models to benchmark, in discovery order. When the
// server has no models installed, DefaultModel is pulled and discovery is
// retried once.
func ResolveModels(ctx context.Context, src ModelSource, opts ResolveOptions) ([]string, error) {
	if len(opts.Models) > 0 {
		return dedup(opts.Models), nil
	}

	models, err := src.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 && strings.TrimSpace(opts.DefaultModel) != "" {
		output.Logger.Info("no models installed, pulling default", "model", opts.DefaultModel)
		if err := src.Pull(ctx, opts.DefaultModel); err != nil {
			return nil, err
		}
		models, err = src.ListModels(ctx)
		if err != nil {
			return nil, err
		}
	}
	if len(models) == 0 {
		return nil, errors.New("no models available")
	}

	var out []string
	for _, m := range dedup(models) {
		if Excluded(m, opts.Exclude) {
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("all %d discovered models were excluded", len(models))
	}
	return out, nil
}

// Excluded reports whether model contains any non-blank pattern.
func Excluded(model string, patterns []string) bool {
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p != "" && strings.Contains(model, p) {
			return true
		}
	}
	return false
}

func dedup(items []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
