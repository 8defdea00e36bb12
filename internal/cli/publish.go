package cli

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codalotl/intentbench/internal/report"
	"github.com/codalotl/intentbench/internal/workspace"
)

const (
	beginResultsMarker = "<!-- BEGIN_RESULTS -->"
	endResultsMarker   = "<!-- END_RESULTS -->"

	defaultSummariesDir = "result_summaries"
)

func newPublishCmd(opts *globalOptions) *cobra.Command {
	var (
		rootDir      string
		summariesDir string
		modelsArg    string
		afterArg  string
	)
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "publish [log]",
		Short: "Write a dated result summary and update the README results table",
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
			} else if logPath, err = workspace.LatestLog(a.cfg.ResultsDir); err != nil {
				return err
			}
			rep, err := report.Run(cmd.Context(), report.Options{
				LogPath: logPath,
				Labels:  a.suite.LabelSet(),
				Models:  splitCommaList(modelsArg),
				After:   after,
				Now:     a.now,
			})
			if err != nil {
				return err
			}
			summaryRel, err := publishReport(rootDir, summariesDir, rep, formatCommandForPublish(os.Args), a.now())
			if err != nil {
				return err
			}
			return a.printer.Appf("Published %s (winner: %s)", summaryRel, rep.Summary.Winner)
		},
	})
	cmd.Flags().StringVar(&rootDir, "root", ".", "repository root containing README.md")
	cmd.Flags().StringVar(&summariesDir, "summaries-dir", defaultSummariesDir, "directory under --root that receives dated summaries")
	cmd.Flags().StringVar(&modelsArg, "models", "", "comma-separated models to include (default: all in the log)")
	cmd.Flags().StringVar(&afterArg, "after", "", "only include observations recorded on or after this date (YYYY-MM-DD)")
	return cmd
}

// publishReport writes summary.csv, summary.json, and the invoking command
// into a dated directory under summariesDir, then replaces the README results
// section. summariesDir is relative to rootDir and may not leave it.
func publishReport(rootDir, summariesDir string, rep *report.Report, command string, at time.Time) (string, error) {
	if strings.TrimSpace(rootDir) == "" {
		return "", errors.New("rootDir is required")
	}
	if rep == nil {
		return "", errors.New("report is nil")
	}

	stamp := at.In(time.Local).Format("2006-01-02_15-04-05")
	if strings.TrimSpace(summariesDir) == "" {
		summariesDir = defaultSummariesDir
	}
	summaryRel := filepath.Join(summariesDir, "summary_"+stamp)
	summaryDir, err := workspace.SafeJoin(rootDir, summaryRel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(summaryDir, 0o755); err != nil {
		return "", err
	}

	var csvBuf bytes.Buffer
	if err := rep.WriteCSV(&csvBuf); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(summaryDir, report.SummaryCSVFile), csvBuf.Bytes(), 0o644); err != nil {
		return "", err
	}
	var jsonBuf bytes.Buffer
	if err := rep.WriteJSON(&jsonBuf); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(summaryDir, report.SummaryJSONFile), jsonBuf.Bytes(), 0o644); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(summaryDir, "command"), []byte(strings.TrimSpace(command)+"\n"), 0o644); err != nil {
		return "", err
	}

	summaryLink := filepath.ToSlash(summaryRel)
	dateOnly := at.In(time.Local).Format("2006-01-02")
	winnerLine := fmt.Sprintf("Winner (lowest Brier score): **%s**", rep.Summary.Winner)
	resultsLine := fmt.Sprintf("Results as of %s. See [%s](%s).", dateOnly, summaryLink, summaryLink)
	replacement := winnerLine + "\n\n" + strings.TrimRight(readmeTable(rep), "\n") + "\n\n" + resultsLine + "\n"
	if err := updateReadmeResults(rootDir, replacement); err != nil {
		return "", err
	}

	return summaryRel, nil
}

// readmeTable is the compact README variant of the summary table.
func readmeTable(rep *report.Report) string {
	var b strings.Builder
	b.WriteString("| Model | Accuracy | Brier Score | Avg Time |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, m := range rep.Ranked {
		accPct := int(math.Round(m.Accuracy * 100))
		brier := fmt.Sprintf("%.4f", m.BrierScore)
		if m.Scored() == 0 {
			brier = "n/a"
		}
		b.WriteString(fmt.Sprintf("| %s | %d%% | %s | %s |\n", m.Model, accPct, brier, formatDurationSeconds(m.AvgDurationSec)))
	}
	return b.String()
}

func formatDurationSeconds(seconds float64) string {
	if seconds <= 0 {
		return "0s"
	}
	if seconds < 10 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	total := int64(math.Round(seconds))
	h := total / 3600
	total %= 3600
	m := total / 60
	s := total % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func updateReadmeResults(rootDir string, replacement string) error {
	readmePath := filepath.Join(rootDir, "README.md")
	data, err := os.ReadFile(readmePath)
	if err != nil {
		return err
	}
	updated, err := replaceBetweenMarkers(string(data), beginResultsMarker, endResultsMarker, replacement)
	if err != nil {
		return err
	}
	return os.WriteFile(readmePath, []byte(updated), 0o644)
}

func replaceBetweenMarkers(doc, beginMarker, endMarker, replacement string) (string, error) {
	beginIdx := strings.Index(doc, beginMarker)
	if beginIdx < 0 {
		return "", fmt.Errorf("missing marker %q", beginMarker)
	}
	beginLineEnd := strings.Index(doc[beginIdx:], "\n")
	if beginLineEnd < 0 {
		return "", errors.New("begin marker line missing newline")
	}
	insertStart := beginIdx + beginLineEnd + 1

	endIdx := strings.Index(doc, endMarker)
	if endIdx < 0 {
		return "", fmt.Errorf("missing marker %q", endMarker)
	}
	if endIdx < insertStart {
		return "", errors.New("end marker precedes begin marker")
	}

	return doc[:insertStart] + replacement + doc[endIdx:], nil
}

func formatCommandForPublish(args []string) string {
	parts := []string{"intentbench"}
	if len(args) > 1 {
		for _, arg := range args[1:] {
			parts = append(parts, shellQuote(arg))
		}
	}
	return strings.Join(parts, " ")
}

func shellQuote(arg string) string {
	if arg == "" {
		return "''"
	}
	safe := true
	for _, r := range arg {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.' || r == '/' || r == ':' || r == ',' || r == '=':
		default:
			safe = false
		}
		if !safe {
			break
		}
	}
	if safe {
		return arg
	}
	// POSIX shell single-quote escaping: close, escape, reopen.
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}
