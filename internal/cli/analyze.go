package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/codalotl/intentbench/internal/chart"
	"github.com/codalotl/intentbench/internal/history"
	"github.com/codalotl/intentbench/internal/notify"
	"github.com/codalotl/intentbench/internal/output"
	"github.com/codalotl/intentbench/internal/report"
	"github.com/codalotl/intentbench/internal/workspace"
)

const watchDebounce = 250 * time.Millisecond

type analyzeOptions struct {
	models    []string
	order     []string
	after     *time.Time
	noCharts  bool
	noHistory bool
	noNotify  bool
}

func newAnalyzeCmd(opts *globalOptions) *cobra.Command {
	var (
		modelsArg string
		afterArg  string
		noCharts  bool
		noHistory bool
		noNotify  bool
		watch     bool
	)
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "analyze [log]",
		Short: "Score an observation log and write the summary artifacts",
		Long:  "Score an observation log and write the summary artifacts. Without an argument the newest log in the results directory is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			after, err := parseAfter(afterArg)
			if err != nil {
				return err
			}
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			logPath := ""
			if len(args) == 1 {
				logPath = args[0]
			} else {
				logPath, err = workspace.LatestLog(a.cfg.ResultsDir)
				if err != nil {
					return err
				}
			}
			aopts := analyzeOptions{
				models:    splitCommaList(modelsArg),
				after:     after,
				noCharts:  noCharts,
				noHistory: noHistory,
				noNotify:  noNotify,
			}
			if !watch {
				_, err := a.analyzeLog(cmd.Context(), logPath, aopts)
				return err
			}
			return a.watchLog(cmd.Context(), logPath, aopts)
		},
	})
	cmd.Flags().StringVar(&modelsArg, "models", "", "comma-separated models to include (default: all in the log)")
	cmd.Flags().StringVar(&afterArg, "after", "", "only include observations recorded on or after this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&noCharts, "no-charts", false, "skip PNG chart rendering")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record the summary in the history database")
	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "do not post the summary to Slack")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-analyze whenever the log changes")
	return cmd
}

func parseAfter(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", value, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid --after %q (want YYYY-MM-DD): %w", value, err)
	}
	return &t, nil
}

// analyzeLog scores logPath, writes every artifact next to it, and prints the
// winner and the ranked table. Nothing is written when no model was scored.
func (a *app) analyzeLog(ctx context.Context, logPath string, opts analyzeOptions) (*report.Report, error) {
	rep, err := report.Run(ctx, report.Options{
		LogPath: logPath,
		Labels:  a.suite.LabelSet(),
		Order:   opts.order,
		Models:  opts.models,
		After:   opts.after,
		Now:     a.now,
	})
	if err != nil {
		if errors.Is(err, report.ErrEmptyResultSet) {
			return nil, fmt.Errorf("analyze %s: %w", logPath, err)
		}
		return nil, err
	}
	if rep.Truncated {
		_ = a.printer.Warnf("Warning: %s ends with a truncated record; it was skipped.", logPath)
	}
	for _, d := range rep.Diagnostics {
		output.Logger.Warn("repaired record", "kind", string(d.Kind), "model", d.Model, "query", d.Query, "detail", d.Detail)
	}

	dir := workspace.AnalysisDir(logPath)
	paths, err := rep.WriteArtifacts(dir)
	if err != nil {
		return rep, err
	}
	if a.cfg.Charts && !opts.noCharts {
		charts, err := chart.Render(dir, rep.Summary)
		if err != nil {
			return rep, err
		}
		paths = append(paths, charts...)
	}
	for _, p := range paths {
		output.Logger.Debug("wrote artifact", "path", p)
	}

	if err := a.printer.Appf("Winner (lowest Brier score): %s", rep.Summary.Winner); err != nil {
		return rep, err
	}
	if err := a.printer.Plain(report.RenderTable(rep.Ranked)); err != nil {
		return rep, err
	}
	if n := len(rep.Diagnostics); n > 0 {
		_ = a.printer.Warnf("%d record(s) had invalid confidence or label values and were repaired before scoring.", n)
	}
	if err := a.printer.Appf("Analysis written to %s", dir); err != nil {
		return rep, err
	}

	if !opts.noHistory {
		if err := a.saveHistory(ctx, rep); err != nil {
			_ = a.printer.Warnf("Warning: could not record history: %v", err)
		}
	}
	if !opts.noNotify {
		if err := notify.Slack(ctx, a.cfg.SlackWebhookURL, rep.Summary); err != nil {
			_ = a.printer.Warnf("Warning: %v", err)
		}
	}
	return rep, nil
}

func (a *app) saveHistory(ctx context.Context, rep *report.Report) error {
	if strings.TrimSpace(a.cfg.HistoryDB) == "" {
		return nil
	}
	store, err := history.Open(a.cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()
	id, err := store.Save(ctx, rep.Summary)
	if err != nil {
		return err
	}
	output.Logger.Debug("saved summary to history", "id", id, "db", a.cfg.HistoryDB)
	return nil
}

// watchLog analyzes logPath once, then again after each burst of writes to it,
// until ctx is cancelled. Analysis errors are reported and watching continues.
func (a *app) watchLog(ctx context.Context, logPath string, opts analyzeOptions) error {
	run := func(ctx context.Context) {
		if _, err := a.analyzeLog(ctx, logPath, opts); err != nil && ctx.Err() == nil {
			_ = a.printer.Warnf("Warning: %v", err)
		}
	}
	run(ctx)
	_ = a.printer.Appf("Watching %s for changes (Ctrl-C to stop)", logPath)
	err := watchFile(ctx, logPath, watchDebounce, run)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchFile calls onChange once per debounced burst of write, create, or
// rename events on path. It watches the parent directory so a log that is
// replaced (e.g. rewritten or compressed) is still noticed.
func watchFile(ctx context.Context, path string, debounce time.Duration, onChange func(context.Context)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || name != target {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			output.Logger.Warn("watch error", "err", err)
		case <-fire:
			fire = nil
			onChange(ctx)
		}
	}
}
