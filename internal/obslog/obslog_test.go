package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codalotl/intentbench/internal/types"
)

func TestWriterAppendsAndReadRoundTrips(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "log.jsonl")
	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(types.Observation{
		RunID:           "r1",
		Model:           "gemma:2b",
		Query:           "What's 2+2?",
		ExpectedLabel:   "math",
		PredictedLabel:  "math",
		Confidence:      0.9,
		DurationSeconds: 1.25,
	}))
	require.NoError(t, w.Write(types.Observation{
		Model:         "gemma:2b",
		Query:         "What time is it in Berlin?",
		ExpectedLabel: "time",
		Status:        types.StatusError,
		Error:         "context deadline exceeded",
	}))
	require.Equal(t, 2, w.Count())
	require.NoError(t, w.Close())

	// Reopening appends instead of truncating.
	w, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(types.Observation{Model: "llama3", Query: "q", ExpectedLabel: "math", PredictedLabel: "date"}))
	require.NoError(t, w.Close())

	log, err := ReadFile(path)
	require.NoError(t, err)
	require.False(t, log.Truncated)
	require.Len(t, log.Observations, 3)
	require.Equal(t, types.StatusOK, log.Observations[0].Status)
	require.Equal(t, types.StatusError, log.Observations[1].Status)
	require.Equal(t, "context deadline exceeded", log.Observations[1].Error)
	require.Equal(t, []string{"gemma:2b", "llama3"}, log.Models())
	require.Equal(t, "r1", log.RunID())
}

func TestWriterConcurrentWritesStayLineAligned(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "log.jsonl")
	w, err := Open(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Write(types.Observation{Model: "m", Query: "q", ExpectedLabel: "math", PredictedLabel: "math", Confidence: 1})
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())

	log, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, log.Observations, 20)
}

func TestReadSkipsTruncatedFinalLine(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		`{"model":"m","query":"a","expected_label":"math","predicted_label":"math","confidence":1,"duration_seconds":0.5}`,
		`{"model":"m","query":"b","expected_label":"ti`,
	}, "\n")

	log, err := Read(strings.NewReader(input))
	require.NoError(t, err)
	require.True(t, log.Truncated)
	require.Len(t, log.Observations, 1)
}

func TestReadRejectsMalformedInteriorLine(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		`{"model":"m","query":"a","expected_label":"math","predicted_label":"math","confidence":1}`,
		`not json`,
		`{"model":"m","query":"b","expected_label":"math","predicted_label":"math","confidence":1}`,
	}, "\n")

	_, err := Read(strings.NewReader(input))
	require.Error(t, err)
	require.ErrorContains(t, err, "line 2")
}

func TestReadRejectsMissingModel(t *testing.T) {
	t.Parallel()

	input := `{"query":"a","expected_label":"math","predicted_label":"math","confidence":1}` + "\n" +
		`{"model":"m","query":"b","expected_label":"math","predicted_label":"math","confidence":1}` + "\n"

	_, err := Read(strings.NewReader(input))
	require.ErrorContains(t, err, "model is required")
}

func TestReadAcceptsLegacyFieldNames(t *testing.T) {
	t.Parallel()

	input := `{"model": "gemma:2b", "category": "weather", "query": "Will it rain?", "intent": "weather", "confidence": 0.8, "duration": 1.5}` + "\n" +
		`{"model": "gemma:2b", "category": "math", "query": "2+2", "intent": "error", "confidence": 0.0, "duration": 0.4}` + "\n"

	log, err := Read(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, log.Observations, 2)

	first := log.Observations[0]
	require.Equal(t, "weather", first.ExpectedLabel)
	require.Equal(t, "weather", first.PredictedLabel)
	require.InDelta(t, 1.5, first.DurationSeconds, 1e-9)
	require.Equal(t, types.StatusOK, first.Status)
	require.Equal(t, "error", log.Observations[1].PredictedLabel)
}

func TestReadStringifiesNonStringLabels(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		`{"model":"m","category":"math","query":"2+2","intent":"math","confidence":0.9,"duration":1}`,
		`{"model":"m","category":"math","query":"3+3","intent":5,"confidence":0.7,"duration":1}`,
		`{"model":"m","query":"now?","expected_label":"time","predicted_label":12.5,"confidence":"0.6","duration_seconds":2,"recorded_at":"2026-03-14T09:30:00Z"}`,
		`{"model":"m","query":"rain?","expected_label":"weather","predicted_label":true,"confidence":0.4}`,
	}, "\n") + "\n"

	log, err := Read(strings.NewReader(input))
	require.NoError(t, err)
	require.False(t, log.Truncated)
	require.Len(t, log.Observations, 4)

	require.Equal(t, "5", log.Observations[1].PredictedLabel)
	require.Equal(t, "math", log.Observations[1].ExpectedLabel)

	third := log.Observations[2]
	require.Equal(t, "12.5", third.PredictedLabel)
	require.InDelta(t, 0.6, third.Confidence, 1e-9)
	require.NotNil(t, third.RecordedAt)
	require.True(t, third.RecordedAt.Equal(time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)))

	require.Equal(t, "true", log.Observations[3].PredictedLabel)
}

func TestReadRejectsNonObjectLine(t *testing.T) {
	t.Parallel()

	input := `[1,2]` + "\n" + `{"model":"m","query":"b","expected_label":"math","predicted_label":"math","confidence":1}` + "\n"

	_, err := Read(strings.NewReader(input))
	require.ErrorContains(t, err, "line 1")
}

func TestCompressAndReadGzip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "log.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"model":"m","query":"a","expected_label":"math","predicted_label":"math","confidence":1}`+"\n",
	), 0o644))

	gz, err := Compress(path)
	require.NoError(t, err)
	require.Equal(t, path+".gz", gz)

	log, err := ReadFile(gz)
	require.NoError(t, err)
	require.Len(t, log.Observations, 1)
	require.Equal(t, "m", log.Observations[0].Model)
}
