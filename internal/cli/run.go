package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/codalotl/intentbench/internal/bench"
	"github.com/codalotl/intentbench/internal/obslog"
	"github.com/codalotl/intentbench/internal/output"
	"github.com/codalotl/intentbench/internal/workspace"
)

type runOptions struct {
	models    []string
	noAnalyze bool
	analyze   analyzeOptions
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	var (
		modelsArg  string
		excludeArg string
		noAnalyze  bool
		noCharts   bool
		noHistory  bool
		noNotify   bool
	)
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "run",
		Short: "Query every model with the suite, log observations, and analyze them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			if excl := splitCommaList(excludeArg); len(excl) > 0 {
				a.cfg.Exclude = append(a.cfg.Exclude, excl...)
			}
			_, err = a.runBenchmark(cmd.Context(), runOptions{
				models:    splitCommaList(modelsArg),
				noAnalyze: noAnalyze,
				analyze: analyzeOptions{
					noCharts:  noCharts,
					noHistory: noHistory,
					noNotify:  noNotify,
				},
			})
			return err
		},
	})
	cmd.Flags().StringVar(&modelsArg, "models", "", "comma-separated models to benchmark (default: every installed model)")
	cmd.Flags().StringVar(&excludeArg, "exclude", "", "comma-separated substrings; matching models are skipped")
	cmd.Flags().BoolVar(&noAnalyze, "no-analyze", false, "only write the observation log")
	cmd.Flags().BoolVar(&noCharts, "no-charts", false, "skip PNG chart rendering")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record the summary in the history database")
	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "do not post the summary to Slack")
	return cmd
}

// runBenchmark performs one full run and returns the path of the observation
// log it wrote.
func (a *app) runBenchmark(ctx context.Context, opts runOptions) (string, error) {
	client := a.client()
	if err := client.Ping(ctx); err != nil {
		return "", err
	}

	explicit := opts.models
	if len(explicit) == 0 {
		explicit = a.cfg.Models
	}
	models, err := bench.ResolveModels(ctx, client, bench.ResolveOptions{
		Models:       explicit,
		Exclude:      a.cfg.Exclude,
		DefaultModel: a.cfg.DefaultModel,
	})
	if err != nil {
		return "", err
	}
	_ = a.printer.Appf("Benchmarking %d model(s) on %d queries", len(models), len(a.suite.Items()))

	if err := workspace.EnsureDir(a.cfg.ResultsDir); err != nil {
		return "", err
	}
	logPath := workspace.LogPath(a.cfg.ResultsDir, a.now())
	w, err := obslog.Open(logPath)
	if err != nil {
		return "", err
	}

	runner := &bench.Runner{
		Classifier: client,
		Recorder:   w,
		Suite:      a.suite,
		Printer:    a.printer,
		Now:        a.now,
	}
	stats, runErr := runner.Run(ctx, models)
	if err := w.Close(); err != nil && runErr == nil {
		runErr = err
	}
	output.Logger.Info("run finished",
		"run_id", stats.RunID,
		"models", stats.Models,
		"observations", stats.Observations,
		"failures", stats.Failures,
		"unparsed", stats.Unparsed,
		"log", w.Path(),
	)
	if runErr != nil {
		return logPath, runErr
	}
	_ = a.printer.Appf("Wrote %d observations to %s (%d failed)", w.Count(), w.Path(), stats.Failures)

	if a.cfg.GzipLogs {
		gz, err := obslog.Compress(logPath)
		if err != nil {
			_ = a.printer.Warnf("Warning: could not compress log: %v", err)
		} else {
			output.Logger.Debug("compressed log", "path", gz)
		}
	}

	if opts.noAnalyze {
		return logPath, nil
	}
	aopts := opts.analyze
	aopts.order = models
	if _, err := a.analyzeLog(ctx, logPath, aopts); err != nil {
		return logPath, err
	}
	return logPath, nil
}
