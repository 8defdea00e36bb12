package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codalotl/intentbench/internal/history"
	"github.com/codalotl/intentbench/internal/obslog"
	"github.com/codalotl/intentbench/internal/report"
	"github.com/codalotl/intentbench/internal/types"
	"github.com/codalotl/intentbench/internal/workspace"
)

const testSuite = `
name: small
labels:
  - name: weather
    description: Weather questions.
    queries: ["Will it rain?"]
  - name: math
    description: Arithmetic.
    queries: ["What's 2+2?", "Multiply 23 by 7."]
`

// testEnv is a temp results dir with a config and suite pointing into it.
type testEnv struct {
	dir        string
	configPath string
	resultsDir string
	historyDB  string
}

func newTestEnv(t *testing.T, extraConfig string) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "intentbench.yml"),
		resultsDir: filepath.Join(dir, "results"),
		historyDB:  filepath.Join(dir, "results", "history.db"),
	}
	suitePath := filepath.Join(dir, "suite.yml")
	require.NoError(t, os.WriteFile(suitePath, []byte(testSuite), 0o644))
	cfg := fmt.Sprintf("suite: %s\nresults_dir: %s\nhistory_db: %s\ncharts: false\nlog_level: error\n%s",
		suitePath, env.resultsDir, env.historyDB, extraConfig)
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o644))
	return env
}

func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTestLog(t *testing.T, path string, obs ...types.Observation) {
	t.Helper()
	w, err := obslog.Open(path)
	require.NoError(t, err)
	for _, o := range obs {
		require.NoError(t, w.Write(o))
	}
	require.NoError(t, w.Close())
}

func okObs(model, expected, predicted string, conf, dur float64) types.Observation {
	return types.Observation{
		Model:           model,
		Query:           "q",
		ExpectedLabel:   expected,
		PredictedLabel:  predicted,
		Confidence:      conf,
		DurationSeconds: dur,
		Status:          types.StatusOK,
	}
}

func TestAnalyzeWritesArtifactsAndHistory(t *testing.T) {
	env := newTestEnv(t, "")
	logPath := workspace.LogPath(env.resultsDir, time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC))
	require.NoError(t, os.MkdirAll(env.resultsDir, 0o755))
	writeTestLog(t, logPath,
		okObs("gemma", "weather", "weather", 0.6, 1),
		okObs("gemma", "math", "weather", 0.3, 1),
		okObs("llama3", "weather", "weather", 0.9, 2),
		okObs("llama3", "math", "math", 0.8, 2),
		okObs("llama3", "math", "bogus", 0.1, 2),
	)

	out, err := executeCLI(t, "--config", env.configPath, "analyze", "--no-notify")
	require.NoError(t, err)
	require.Contains(t, out, "Winner (lowest Brier score): llama3")
	require.Contains(t, out, "| llama3")
	require.Contains(t, out, "1 record(s) had invalid confidence or label values")

	dir := workspace.AnalysisDir(logPath)
	for _, name := range []string{report.SummaryJSONFile, report.SummaryTextFile, report.SummaryCSVFile, report.SummaryMarkdownFile, report.SummaryHTMLFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}
	data, err := os.ReadFile(filepath.Join(dir, report.SummaryJSONFile))
	require.NoError(t, err)
	require.Empty(t, report.ValidateSummary(data))

	store, err := history.Open(env.historyDB)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "llama3", runs[0].Winner)
	require.Equal(t, logPath, runs[0].SourceLog)
}

func TestAnalyzeEmptyResultSetWritesNothing(t *testing.T) {
	env := newTestEnv(t, "")
	logPath := filepath.Join(env.dir, "only_errors.jsonl")
	writeTestLog(t, logPath, types.Observation{Model: "a", Query: "q", ExpectedLabel: "math", Status: types.StatusError, Error: "boom"})

	_, err := executeCLI(t, "--config", env.configPath, "analyze", logPath, "--no-history", "--no-notify")
	require.ErrorIs(t, err, report.ErrEmptyResultSet)
	_, statErr := os.Stat(workspace.AnalysisDir(logPath))
	require.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestAnalyzeRejectsBadAfter(t *testing.T) {
	_, err := executeCLI(t, "analyze", "x.jsonl", "--after", "03/01/2026")
	require.ErrorContains(t, err, "YYYY-MM-DD")
}

// fakeOllama answers weather queries correctly for every model except
// "broken", which always fails with a server error.
func fakeOllama(t *testing.T, models ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var generates atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			var payload struct {
				Models []map[string]string `json:"models"`
			}
			for _, m := range models {
				payload.Models = append(payload.Models, map[string]string{"name": m})
			}
			assert.NoError(t, json.NewEncoder(w).Encode(payload))
		case "/api/generate":
			generates.Add(1)
			var req struct {
				Model  string `json:"model"`
				Prompt string `json:"prompt"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.Model == "broken" {
				http.Error(w, "model crashed", http.StatusInternalServerError)
				return
			}
			reply := `{"intent": "math", "confidence": 0.8}`
			if strings.HasSuffix(req.Prompt, "User: Will it rain?") {
				reply = `{"intent": "weather", "confidence": "0.9"}`
			}
			assert.NoError(t, json.NewEncoder(w).Encode(map[string]any{"response": reply, "done": true}))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &generates
}

func TestRunBenchmarksDiscoveredModelsAndAnalyzes(t *testing.T) {
	srv, generates := fakeOllama(t, "llama3", "nomic-embed-text", "broken")
	env := newTestEnv(t, "max_retries: 1\nretry_delay: 1ms\nexclude: [embed]\ngzip_logs: true\n")

	out, err := executeCLI(t, "--config", env.configPath, "--ollama-url", srv.URL, "run", "--no-notify")
	require.NoError(t, err)
	require.Contains(t, out, "Testing model: llama3")
	require.Contains(t, out, "Testing model: broken")
	require.NotContains(t, out, "nomic-embed-text")
	require.Contains(t, out, "Winner (lowest Brier score): llama3")
	require.EqualValues(t, 6, generates.Load())

	logPath, err := workspace.LatestLog(env.resultsDir)
	require.NoError(t, err)
	require.Contains(t, out, "Wrote 6 observations to "+logPath)
	log, err := obslog.ReadFile(logPath)
	require.NoError(t, err)
	require.Len(t, log.Observations, 6)
	require.Equal(t, []string{"llama3", "broken"}, log.Models())
	require.NotEmpty(t, log.RunID())
	for _, o := range log.Observations {
		if o.Model == "broken" {
			require.Equal(t, types.StatusError, o.Status)
		}
	}
	_, err = os.Stat(logPath + ".gz")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(workspace.AnalysisDir(logPath), report.SummaryJSONFile))
	require.NoError(t, err)
	var summary types.Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	require.Equal(t, "llama3", summary.Winner)
	require.Equal(t, []string{"llama3", "broken"}, []string{summary.Models[0].Model, summary.Models[1].Model})
	require.Equal(t, 1.0, summary.Models[0].Accuracy)
}

func TestRunFailsWhenOllamaIsDown(t *testing.T) {
	srv, _ := fakeOllama(t)
	url := srv.URL
	srv.Close()
	env := newTestEnv(t, "")

	_, err := executeCLI(t, "--config", env.configPath, "--ollama-url", url, "run")
	require.ErrorContains(t, err, "could not reach Ollama")
}

func TestListModelsMarksExcluded(t *testing.T) {
	srv, _ := fakeOllama(t, "llama3", "nomic-embed-text")
	env := newTestEnv(t, "exclude: [embed]\n")

	out, err := executeCLI(t, "--config", env.configPath, "--ollama-url", srv.URL, "list-models")
	require.NoError(t, err)
	require.Equal(t, "llama3\nnomic-embed-text (excluded)\n", out)
}

func TestValidateSuite(t *testing.T) {
	out, err := executeCLI(t, "validate-suite")
	require.NoError(t, err)
	require.Contains(t, out, "valid: ")

	bad := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("name: empty\nlabels: []\n"), 0o644))
	_, err = executeCLI(t, "validate-suite", bad)
	require.Error(t, err)
}

func TestHistoryCommand(t *testing.T) {
	env := newTestEnv(t, "")
	store, err := history.Open(env.historyDB)
	require.NoError(t, err)
	_, err = store.Save(context.Background(), types.Summary{
		Winner:      "llama3",
		GeneratedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		SourceLog:   "results/run.jsonl",
		Models: []types.ModelMetrics{
			{Model: "llama3", Correct: 2, Accuracy: 1, BrierScore: 0.02, AvgDurationSec: 1.5},
			{Model: "gemma", Correct: 1, Incorrect: 1, Accuracy: 0.5, BrierScore: 0.2, AvgDurationSec: 0.5},
		},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err := executeCLI(t, "--config", env.configPath, "history")
	require.NoError(t, err)
	require.Contains(t, out, "llama3")
	require.Contains(t, out, "results/run.jsonl")

	out, err = executeCLI(t, "--config", env.configPath, "history", "--model", "gemma")
	require.NoError(t, err)
	require.Contains(t, out, "0.2000")

	out, err = executeCLI(t, "--config", env.configPath, "history", "--json")
	require.NoError(t, err)
	var runs []history.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
}

func TestScheduleRejectsBadCron(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := executeCLI(t, "--config", env.configPath, "schedule", "--cron", "every day")
	require.ErrorContains(t, err, "invalid schedule")
}

func TestWatchFileDebouncesWrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "log.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := make(chan struct{}, 10)
	done := make(chan error, 1)
	go func() {
		done <- watchFile(ctx, path, 50*time.Millisecond, func(context.Context) { calls <- struct{}{} })
	}()

	// Keep writing until the watcher is up and reports a change.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
wait:
	for {
		select {
		case <-calls:
			break wait
		case <-tick.C:
			_, err := f.WriteString("{}\n")
			require.NoError(t, err)
		case <-deadline:
			t.Fatal("no change reported")
		}
	}

	// Writes to other files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.txt"), []byte("x"), 0o644))
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestShouldShowUsage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want bool
	}{
		{errors.New(`unknown command "frob" for "intentbench"`), true},
		{errors.New("unknown flag: --nope"), true},
		{errors.New("accepts at most 1 arg(s), received 2"), true},
		{errors.New("flag needs an argument: --models"), true},
		{context.Canceled, false},
		{report.ErrEmptyResultSet, false},
		{errors.New("could not reach Ollama"), false},
	}
	for _, tc := range cases {
		tc := tc
		require.Equal(t, tc.want, shouldShowUsage(tc.err), tc.err.Error())
	}
}

func TestSplitCommaList(t *testing.T) {
	t.Parallel()

	require.Nil(t, splitCommaList(""))
	require.Nil(t, splitCommaList(" , ,"))
	require.Equal(t, []string{"llama3", "gemma:2b"}, splitCommaList(" llama3, ,gemma:2b "))
}

func TestParseAfter(t *testing.T) {
	t.Parallel()

	got, err := parseAfter("")
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = parseAfter("2026-03-01")
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local), *got)
}
