// Package obslog persists observations as JSON Lines: one self-contained
// object per line, append-only.
package obslog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/klauspost/compress/gzip"

	"github.com/codalotl/intentbench/internal/types"
)

// Writer appends observations to a log file. It is safe for concurrent use.
type Writer struct {
	path    string
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
	count   int
}

// Open opens path for appending, creating it if needed. Existing records are
// never rewritten.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{
		path:    path,
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// Write appends a single observation as one line.
func (w *Writer) Write(o types.Observation) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if o.Status == "" {
		o.Status = types.StatusOK
	}
	if err := w.encoder.Encode(o); err != nil {
		return fmt.Errorf("append observation to %s: %w", w.path, err)
	}
	w.count++
	return nil
}

// Count returns the number of records written through this writer.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) Close() error {
	return w.file.Close()
}

// Log is the parsed content of an observation log.
type Log struct {
	Observations []types.Observation
	// Truncated is set when the final line could not be parsed and was dropped,
	// typically after an interrupted write.
	Truncated bool
}

// Models returns model identifiers in order of first appearance.
func (l *Log) Models() []string {
	seen := map[string]bool{}
	var out []string
	for _, o := range l.Observations {
		if seen[o.Model] {
			continue
		}
		seen[o.Model] = true
		out = append(out, o.Model)
	}
	return out
}

// RunID returns the run id of the first record that carries one.
func (l *Log) RunID() string {
	for _, o := range l.Observations {
		if o.RunID != "" {
			return o.RunID
		}
	}
	return ""
}

// record also accepts the legacy field names category, intent and duration.
type record struct {
	RunID           string     `mapstructure:"run_id"`
	Model           string     `mapstructure:"model"`
	Query           string     `mapstructure:"query"`
	ExpectedLabel   string     `mapstructure:"expected_label"`
	PredictedLabel  string     `mapstructure:"predicted_label"`
	Confidence      float64    `mapstructure:"confidence"`
	DurationSeconds float64    `mapstructure:"duration_seconds"`
	Status          string     `mapstructure:"status"`
	Error           string     `mapstructure:"error"`
	RecordedAt      *time.Time `mapstructure:"recorded_at"`

	Category *string  `mapstructure:"category"`
	Intent   *string  `mapstructure:"intent"`
	Duration *float64 `mapstructure:"duration"`
}

// labelFields are stringified before decoding so a wrongly typed label is
// scored (as unknown) instead of failing the whole log.
var labelFields = []string{"expected_label", "predicted_label", "category", "intent"}

func (r record) observation() types.Observation {
	o := types.Observation{
		RunID:           r.RunID,
		Model:           r.Model,
		Query:           r.Query,
		ExpectedLabel:   r.ExpectedLabel,
		PredictedLabel:  r.PredictedLabel,
		Confidence:      r.Confidence,
		DurationSeconds: r.DurationSeconds,
		Status:          types.ObservationStatus(r.Status),
		Error:           r.Error,
		RecordedAt:      r.RecordedAt,
	}
	if o.ExpectedLabel == "" && r.Category != nil {
		o.ExpectedLabel = *r.Category
	}
	if o.PredictedLabel == "" && r.Intent != nil {
		o.PredictedLabel = *r.Intent
	}
	if o.DurationSeconds == 0 && r.Duration != nil {
		o.DurationSeconds = *r.Duration
	}
	if o.Status == "" {
		o.Status = types.StatusOK
	}
	if o.Status == types.StatusOK && o.PredictedLabel == "" {
		o.PredictedLabel = types.UnknownLabel
	}
	return o
}

func parseLine(line []byte) (types.Observation, error) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return types.Observation{}, err
	}
	if raw == nil {
		return types.Observation{}, errors.New("record is not an object")
	}
	for _, key := range labelFields {
		if v, ok := raw[key]; ok && v != nil {
			if _, isString := v.(string); !isString {
				raw[key] = fmt.Sprint(v)
			}
		}
	}

	var r record
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		Result:           &r,
	})
	if err != nil {
		return types.Observation{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return types.Observation{}, err
	}

	o := r.observation()
	if strings.TrimSpace(o.Model) == "" {
		return types.Observation{}, errors.New("model is required")
	}
	if strings.TrimSpace(o.ExpectedLabel) == "" {
		return types.Observation{}, errors.New("expected_label is required")
	}
	if o.Status != types.StatusOK && o.Status != types.StatusError {
		return types.Observation{}, fmt.Errorf("unknown status %q", o.Status)
	}
	if o.DurationSeconds < 0 {
		return types.Observation{}, fmt.Errorf("negative duration %v", o.DurationSeconds)
	}
	return o, nil
}

// Read parses a log stream. A malformed final line is dropped and reported via
// Log.Truncated; a malformed line anywhere else is an error.
func Read(r io.Reader) (*Log, error) {
	br := bufio.NewReader(r)
	out := &Log{}

	var pendingErr error
	pendingLine := 0
	lineNo := 0
	for {
		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			trimmed := bytes.TrimSpace(line)
			if len(trimmed) > 0 {
				if pendingErr != nil {
					return nil, fmt.Errorf("line %d: %w", pendingLine, pendingErr)
				}
				o, err := parseLine(trimmed)
				if err != nil {
					pendingErr = err
					pendingLine = lineNo
				} else {
					out.Observations = append(out.Observations, o)
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, readErr
		}
	}
	if pendingErr != nil {
		out.Truncated = true
	}
	return out, nil
}

// ReadFile reads a log from disk. Paths ending in .gz are decompressed.
func ReadFile(path string) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}
	log, err := Read(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return log, nil
}

// Compress writes a gzip copy of path next to it and returns the new path.
// The uncompressed file is left in place.
func Compress(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	dst := path + ".gz"
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		out.Close()
		return "", err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return "", err
	}
	return dst, out.Close()
}
