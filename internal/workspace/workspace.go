package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"
)

const (
	LogPrefix         = "llm_intent_results_"
	LogExt            = ".jsonl"
	AnalysisDirPrefix = "analysis_for_"
	stampLayout       = "20060102_150405"
)

// LogName is the observation log file name for a run started at t.
func LogName(t time.Time) string {
	return LogPrefix + t.Format(stampLayout) + LogExt
}

func LogPath(resultsDir string, t time.Time) string {
	return filepath.Join(resultsDir, LogName(t))
}

// LogBase strips the directory and the .jsonl (or .jsonl.gz) extension.
func LogBase(logPath string) string {
	base := filepath.Base(logPath)
	base = strings.TrimSuffix(base, ".gz")
	return strings.TrimSuffix(base, LogExt)
}

// AnalysisDir is where the artifacts for logPath go: a sibling directory
// named analysis_for_<log base>.
func AnalysisDir(logPath string) string {
	return filepath.Join(filepath.Dir(logPath), AnalysisDirPrefix+LogBase(logPath))
}

// LatestLog returns the most recent observation log in dir. Log names embed
// their start time, so lexical order is chronological.
func LatestLog(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, LogPrefix) && (strings.HasSuffix(name, LogExt) || strings.HasSuffix(name, LogExt+".gz")) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no %s*%s files in %s", LogPrefix, LogExt, dir)
	}
	sort.Strings(names)
	latest := names[len(names)-1]
	// Prefer the plain log when a compressed copy sits next to it.
	if plain := strings.TrimSuffix(latest, ".gz"); plain != latest && slices.Contains(names, plain) {
		latest = plain
	}
	return filepath.Join(dir, latest), nil
}

// SafeJoin ensures the resulting path stays within base.
func SafeJoin(base, rel string) (string, error) {
	if rel == "" {
		return "", errors.New("path is required")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %q must be relative", rel)
	}
	target := filepath.Join(base, filepath.Clean(rel))
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	if absTarget != absBase && !strings.HasPrefix(absTarget, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes base directory", rel)
	}
	return target, nil
}

// EnsureDir makes sure dir exists.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
