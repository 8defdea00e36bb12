package types

import "time"

// UnknownLabel is the sentinel predicted label for replies outside the label set.
const UnknownLabel = "unknown"

type ObservationStatus string

const (
	StatusOK    ObservationStatus = "ok"
	StatusError ObservationStatus = "error"
)

// Observation is one (model, query) outcome. Records with StatusError carry no
// prediction and are never scored.
type Observation struct {
	RunID           string            `json:"run_id,omitempty"`
	Model           string            `json:"model"`
	Query           string            `json:"query"`
	ExpectedLabel   string            `json:"expected_label"`
	PredictedLabel  string            `json:"predicted_label"`
	Confidence      float64           `json:"confidence"`
	DurationSeconds float64           `json:"duration_seconds"`
	Status          ObservationStatus `json:"status,omitempty"`
	Error           string            `json:"error,omitempty"`
	RecordedAt      *time.Time        `json:"recorded_at,omitempty"`
}

// Scored reports whether the observation takes part in accuracy and Brier.
func (o Observation) Scored() bool {
	return o.Status != StatusError
}

type CategoryMetrics struct {
	Correct        int     `json:"correct"`
	Incorrect      int     `json:"incorrect"`
	Accuracy       float64 `json:"accuracy"`
	BrierScore     float64 `json:"brier_score"`
	AvgDurationSec float64 `json:"avg_duration_sec"`
}

type ModelMetrics struct {
	Model          string                     `json:"model"`
	Correct        int                        `json:"correct"`
	Incorrect      int                        `json:"incorrect"`
	Skipped        int                        `json:"skipped"`
	Accuracy       float64                    `json:"accuracy"`
	BrierScore     float64                    `json:"brier_score"`
	AvgDurationSec float64                    `json:"avg_duration_sec"`
	ByCategory     map[string]CategoryMetrics `json:"by_category,omitempty"`
}

// Scored is the number of observations that contributed to accuracy and Brier.
func (m ModelMetrics) Scored() int {
	return m.Correct + m.Incorrect
}

type CategoryWinner struct {
	Model          string  `json:"model"`
	Accuracy       float64 `json:"accuracy"`
	BrierScore     float64 `json:"brier_score"`
	AvgDurationSec float64 `json:"avg_duration_sec"`
}

type Summary struct {
	Winner           string                    `json:"winner"`
	Models           []ModelMetrics            `json:"models"`
	PerCategory      map[string]CategoryWinner `json:"per_category,omitempty"`
	GeneratedAt      time.Time                 `json:"generated_at"`
	RunID            string                    `json:"run_id,omitempty"`
	SourceLog        string                    `json:"source_log,omitempty"`
	DiagnosticsCount int                       `json:"diagnostics_count"`
}
