package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codalotl/intentbench/internal/ollama"
)

// DefaultFiles are searched, in order, when no config path is given.
var DefaultFiles = []string{"intentbench.yml", "intentbench.yaml"}

const EnvPrefix = "INTENTBENCH_"

type Config struct {
	OllamaURL    string        `yaml:"ollama_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	PullCommand  string        `yaml:"pull_command"`
	DefaultModel string        `yaml:"default_model"`
	// Models, when set, replaces discovery. Exclude drops discovered models
	// whose name contains any of the substrings.
	Models  []string `yaml:"models"`
	Exclude []string `yaml:"exclude"`

	Suite      string `yaml:"suite"`
	ResultsDir string `yaml:"results_dir"`
	Charts     bool   `yaml:"charts"`
	GzipLogs   bool   `yaml:"gzip_logs"`

	HistoryDB       string `yaml:"history_db"`
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	Schedule        string `yaml:"schedule"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Path is the file the config was read from; empty when only defaults apply.
	Path string `yaml:"-"`
}

func Default() *Config {
	return &Config{
		OllamaURL:    ollama.DefaultBaseURL,
		Timeout:      ollama.DefaultTimeout,
		MaxRetries:   2,
		RetryDelay:   2 * time.Second,
		PullCommand:  ollama.DefaultPullCommand,
		DefaultModel: "gemma:2b",
		ResultsDir:   "results",
		Charts:       true,
		HistoryDB:    "results/history.db",
		LogLevel:     "warn",
		LogFormat:    "text",
	}
}

// Load reads path, or the first of DefaultFiles that exists when path is
// empty, on top of Default. Environment overrides are applied last; getenv is
// usually os.Getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	var data []byte
	var err error
	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	} else {
		for _, name := range DefaultFiles {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name
				break
			}
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	if path != "" && data != nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		cfg.Path = path
	}

	if getenv != nil {
		if err := cfg.applyEnv(getenv); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	env := envReader{getenv: getenv}
	env.strVar(&c.OllamaURL, "OLLAMA_URL")
	env.durationVar(&c.Timeout, "TIMEOUT")
	env.intVar(&c.MaxRetries, "MAX_RETRIES")
	env.durationVar(&c.RetryDelay, "RETRY_DELAY")
	env.strVar(&c.PullCommand, "PULL_COMMAND")
	env.strVar(&c.DefaultModel, "DEFAULT_MODEL")
	env.listVar(&c.Models, "MODELS")
	env.listVar(&c.Exclude, "EXCLUDE")
	env.strVar(&c.Suite, "SUITE")
	env.strVar(&c.ResultsDir, "RESULTS_DIR")
	env.boolVar(&c.Charts, "CHARTS")
	env.boolVar(&c.GzipLogs, "GZIP_LOGS")
	env.strVar(&c.HistoryDB, "HISTORY_DB")
	env.strVar(&c.SlackWebhookURL, "SLACK_WEBHOOK_URL")
	env.strVar(&c.Schedule, "SCHEDULE")
	env.strVar(&c.LogLevel, "LOG_LEVEL")
	env.strVar(&c.LogFormat, "LOG_FORMAT")
	return env.err
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.OllamaURL) == "" {
		return errors.New("ollama_url is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must not be negative, got %s", c.RetryDelay)
	}
	if strings.TrimSpace(c.ResultsDir) == "" {
		return errors.New("results_dir is required")
	}
	return nil
}

// envReader applies INTENTBENCH_* overrides and keeps the first parse error.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) lookup(key string) (string, bool) {
	val := strings.TrimSpace(e.getenv(EnvPrefix + key))
	return val, val != ""
}

func (e *envReader) fail(key, val string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, key, val, err)
	}
}

func (e *envReader) strVar(field *string, key string) {
	if val, ok := e.lookup(key); ok {
		*field = val
	}
}

func (e *envReader) intVar(field *int, key string) {
	if val, ok := e.lookup(key); ok {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			e.fail(key, val, err)
			return
		}
		*field = parsed
	}
}

func (e *envReader) boolVar(field *bool, key string) {
	if val, ok := e.lookup(key); ok {
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			e.fail(key, val, err)
			return
		}
		*field = parsed
	}
}

func (e *envReader) durationVar(field *time.Duration, key string) {
	if val, ok := e.lookup(key); ok {
		parsed, err := time.ParseDuration(val)
		if err != nil {
			e.fail(key, val, err)
			return
		}
		*field = parsed
	}
}

func (e *envReader) listVar(field *[]string, key string) {
	if val, ok := e.lookup(key); ok {
		*field = nil
		for _, item := range strings.Split(val, ",") {
			item = strings.TrimSpace(item)
			if item != "" {
				*field = append(*field, item)
			}
		}
	}
}
