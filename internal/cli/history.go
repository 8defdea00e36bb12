package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/codalotl/intentbench/internal/history"
)

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var (
		limit  int
		model  string
		asJSON bool
	)
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "history",
		Short: "Show past winners, or one model's results over time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			if strings.TrimSpace(a.cfg.HistoryDB) == "" {
				return fmt.Errorf("history_db is not configured")
			}
			store, err := history.Open(a.cfg.HistoryDB)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if model = strings.TrimSpace(model); model != "" {
				points, err := store.ModelHistory(cmd.Context(), model, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, points)
				}
				return writeModelHistory(out, model, points)
			}
			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, runs)
			}
			return writeRunHistory(out, runs)
		},
	})
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of entries")
	cmd.Flags().StringVar(&model, "model", "", "show results for a single model")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeRunHistory(w io.Writer, runs []history.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	width := len("Winner")
	for _, r := range runs {
		width = max(width, runewidth.StringWidth(r.Winner))
	}
	if _, err := fmt.Fprintf(w, "%-19s  %s  %6s  %s\n", "Generated", runewidth.FillRight("Winner", width), "Models", "Log"); err != nil {
		return err
	}
	for _, r := range runs {
		_, err := fmt.Fprintf(w, "%-19s  %s  %6d  %s\n",
			r.GeneratedAt.Local().Format(time.DateTime), runewidth.FillRight(r.Winner, width), len(r.Models), r.SourceLog)
		if err != nil {
			return err
		}
	}
	return nil
}

func writeModelHistory(w io.Writer, model string, points []history.ModelPoint) error {
	if len(points) == 0 {
		_, err := fmt.Fprintf(w, "No results recorded for %s.\n", model)
		return err
	}
	if _, err := fmt.Fprintf(w, "%-19s  %4s  %8s  %11s  %8s\n", "Generated", "Rank", "Accuracy", "Brier Score", "Avg Time"); err != nil {
		return err
	}
	for _, p := range points {
		_, err := fmt.Fprintf(w, "%-19s  %4d  %8.4f  %11.4f  %8.2f\n",
			p.GeneratedAt.Local().Format(time.DateTime), p.Rank, p.Metrics.Accuracy, p.Metrics.BrierScore, p.Metrics.AvgDurationSec)
		if err != nil {
			return err
		}
	}
	return nil
}
