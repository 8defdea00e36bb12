// Package chart renders per-model bar charts for a summary as PNG files.
package chart

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/wcharczuk/go-chart/v2"

	"github.com/codalotl/intentbench/internal/types"
)

const (
	AccuracyFile      = "accuracy_comparison.png"
	BrierDurationFile = "brier_duration_comparison.png"
)

type series struct {
	title  string
	value  func(types.ModelMetrics) float64
	maxCap float64
}

var accuracySeries = series{title: "Model Accuracy Comparison", value: func(m types.ModelMetrics) float64 { return m.Accuracy }, maxCap: 1}

// Render writes the accuracy bar chart and the combined Brier/duration chart
// into dir and returns the paths. A summary without models produces no charts.
func Render(dir string, summary types.Summary) ([]string, error) {
	if len(summary.Models) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	renders := []struct {
		file   string
		render func([]types.ModelMetrics) ([]byte, error)
	}{
		{AccuracyFile, func(ms []types.ModelMetrics) ([]byte, error) { return renderBars(accuracySeries, ms) }},
		{BrierDurationFile, renderBrierDuration},
	}

	var paths []string
	for _, r := range renders {
		data, err := r.render(summary.Models)
		if err != nil {
			return paths, fmt.Errorf("render %s: %w", r.file, err)
		}
		path := filepath.Join(dir, r.file)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func renderBars(s series, models []types.ModelMetrics) ([]byte, error) {
	bars := make([]chart.Value, 0, len(models))
	maxVal := 0.0
	for _, m := range models {
		v := s.value(m)
		if v > maxVal {
			maxVal = v
		}
		bars = append(bars, chart.Value{Label: m.Model, Value: v})
	}

	top := axisTop(maxVal, s.maxCap)
	width := chartWidth(len(bars))
	graph := chart.BarChart{
		Title:      s.title,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 10, Right: 10, Bottom: 10}},
		Width:      width,
		Height:     480,
		BarWidth:   60,
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: top},
		},
		Bars: bars,
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// renderBrierDuration plots Brier score against the primary axis and average
// duration against the secondary axis, one x position per model.
func renderBrierDuration(models []types.ModelMetrics) ([]byte, error) {
	xs := make([]float64, 0, len(models))
	brier := make([]float64, 0, len(models))
	durations := make([]float64, 0, len(models))
	ticks := make([]chart.Tick, 0, len(models))
	maxBrier, maxDuration := 0.0, 0.0
	for i, m := range models {
		xs = append(xs, float64(i))
		brier = append(brier, m.BrierScore)
		durations = append(durations, m.AvgDurationSec)
		ticks = append(ticks, chart.Tick{Value: float64(i), Label: m.Model})
		maxBrier = math.Max(maxBrier, m.BrierScore)
		maxDuration = math.Max(maxDuration, m.AvgDurationSec)
	}

	graph := chart.Chart{
		Title:      "Brier Score and Average Duration",
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 10, Right: 10, Bottom: 10}},
		Width:      chartWidth(len(models)),
		Height:     480,
		XAxis: chart.XAxis{
			Range: &chart.ContinuousRange{Min: -0.5, Max: float64(len(models)) - 0.5},
			Ticks: ticks,
		},
		YAxis: chart.YAxis{
			Name:  "Brier Score (lower is better)",
			Range: &chart.ContinuousRange{Min: 0, Max: axisTop(maxBrier, 1)},
		},
		YAxisSecondary: chart.YAxis{
			Name:  "Avg Duration (s)",
			Range: &chart.ContinuousRange{Min: 0, Max: axisTop(maxDuration, 0)},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Brier Score",
				Style:   chart.Style{StrokeColor: chart.GetDefaultColor(0), StrokeWidth: 2, DotColor: chart.GetDefaultColor(0), DotWidth: 5},
				XValues: xs,
				YValues: brier,
			},
			chart.ContinuousSeries{
				Name:    "Avg Duration (s)",
				YAxis:   chart.YAxisSecondary,
				Style:   chart.Style{StrokeColor: chart.GetDefaultColor(1), StrokeWidth: 2, DotColor: chart.GetDefaultColor(1), DotWidth: 5},
				XValues: xs,
				YValues: durations,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func axisTop(maxVal, maxCap float64) float64 {
	top := maxVal * 1.1
	if maxCap > 0 && (top > maxCap || maxVal == 0) {
		top = maxCap
	}
	if top == 0 {
		top = 1
	}
	return top
}

func chartWidth(n int) int {
	return max(160*n, 640)
}
