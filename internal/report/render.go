package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/codalotl/intentbench/internal/types"
)

const summaryTitle = "LLM Intent Classification Performance Summary"

var tableHeaders = []string{"Model", "Correct", "Incorrect", "Accuracy", "Brier Score", "Avg. Duration (s)"}

func tableRow(m types.ModelMetrics) []string {
	return []string{
		m.Model,
		strconv.Itoa(m.Correct),
		strconv.Itoa(m.Incorrect),
		strconv.FormatFloat(round(m.Accuracy, 4), 'f', 4, 64),
		strconv.FormatFloat(round(m.BrierScore, 4), 'f', 4, 64),
		strconv.FormatFloat(round(m.AvgDurationSec, 2), 'f', 2, 64),
	}
}

// RenderTable renders ranked metrics as a bordered grid: one header row and one
// row per model, in the given order. The model column is left aligned and the
// numeric columns right aligned.
func RenderTable(ranked []types.ModelMetrics) string {
	rows := make([][]string, 0, len(ranked))
	for _, m := range ranked {
		rows = append(rows, tableRow(m))
	}

	widths := make([]int, len(tableHeaders))
	for i, h := range tableHeaders {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	border := func(fill string) string {
		var b strings.Builder
		b.WriteString("+")
		for _, w := range widths {
			b.WriteString(strings.Repeat(fill, w+2))
			b.WriteString("+")
		}
		return b.String()
	}
	line := func(cells []string, header bool) string {
		var b strings.Builder
		b.WriteString("|")
		for i, cell := range cells {
			b.WriteString(" ")
			if i == 0 || header {
				b.WriteString(runewidth.FillRight(cell, widths[i]))
			} else {
				b.WriteString(runewidth.FillLeft(cell, widths[i]))
			}
			b.WriteString(" |")
		}
		return b.String()
	}

	var b strings.Builder
	b.WriteString(border("-"))
	b.WriteString("\n")
	b.WriteString(line(tableHeaders, true))
	b.WriteString("\n")
	b.WriteString(border("="))
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString(line(row, false))
		b.WriteString("\n")
		b.WriteString(border("-"))
		b.WriteString("\n")
	}
	return b.String()
}

// WriteText writes the human-readable summary. The winner line precedes the table.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder
	b.WriteString(summaryTitle + "\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")
	fmt.Fprintf(&b, "Overall Winner (by lowest Brier Score): %s\n\n", r.Summary.Winner)
	b.WriteString(RenderTable(r.Ranked))

	if labels := Labels(r.Ranked); len(labels) > 0 && len(r.Summary.PerCategory) > 0 {
		b.WriteString("\nPer-category winners:\n")
		for _, label := range labels {
			cw, ok := r.Summary.PerCategory[label]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "  %s: %s (brier %s, accuracy %s)\n", label, cw.Model,
				strconv.FormatFloat(cw.BrierScore, 'f', 4, 64),
				strconv.FormatFloat(cw.Accuracy, 'f', 4, 64))
		}
	}
	if r.Summary.DiagnosticsCount > 0 {
		fmt.Fprintf(&b, "\nDiagnostics: %d record(s) repaired before scoring\n", r.Summary.DiagnosticsCount)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"rank", "model", "correct", "incorrect", "skipped", "accuracy", "brier_score", "avg_duration_sec"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, m := range r.Ranked {
		record := []string{
			strconv.Itoa(i + 1),
			m.Model,
			strconv.Itoa(m.Correct),
			strconv.Itoa(m.Incorrect),
			strconv.Itoa(m.Skipped),
			formatFloat(m.Accuracy, 4),
			formatFloat(m.BrierScore, 4),
			formatFloat(m.AvgDurationSec, 2),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarkdownTable renders ranked metrics as a GitHub-flavored markdown table.
func (r *Report) MarkdownTable() string {
	var b strings.Builder
	b.WriteString("| Rank | Model | Correct | Incorrect | Accuracy | Brier Score | Avg. Duration (s) |\n")
	b.WriteString("| ---: | --- | ---: | ---: | ---: | ---: | ---: |\n")
	for i, m := range r.Ranked {
		row := tableRow(m)
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s | %s |\n",
			i+1, escapeMarkdownCell(row[0]), row[1], row[2], row[3], row[4], row[5])
	}
	return b.String()
}

// Markdown is the full summary document: winner, table, and per-category winners.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", summaryTitle)
	fmt.Fprintf(&b, "**Overall winner (lowest Brier score):** %s\n\n", escapeMarkdownCell(r.Summary.Winner))
	b.WriteString(r.MarkdownTable())
	if len(r.Summary.PerCategory) > 0 {
		b.WriteString("\n## Per-category winners\n\n")
		b.WriteString("| Category | Model | Accuracy | Brier Score |\n")
		b.WriteString("| --- | --- | ---: | ---: |\n")
		for _, label := range Labels(r.Ranked) {
			cw, ok := r.Summary.PerCategory[label]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", label, escapeMarkdownCell(cw.Model),
				strconv.FormatFloat(cw.Accuracy, 'f', 4, 64),
				strconv.FormatFloat(cw.BrierScore, 'f', 4, 64))
		}
	}
	return b.String()
}

// WriteHTML renders the markdown summary to a standalone HTML page.
func (r *Report) WriteHTML(w io.Writer) error {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert([]byte(r.Markdown()), &body); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	_, err := fmt.Fprintf(w, "<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>%s</title></head>\n<body>\n%s</body>\n</html>\n",
		summaryTitle, body.String())
	return err
}

func escapeMarkdownCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	// Compensate for binary representation so 1.005 rounds up at 2 places.
	return math.Round((v+math.Copysign(1e-9, v))*scale) / scale
}

func formatFloat(v float64, places int) string {
	rounded := round(v, places)
	if rounded == 0 {
		return "0"
	}
	s := strconv.FormatFloat(rounded, 'f', places, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}
