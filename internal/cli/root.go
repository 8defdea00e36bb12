package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codalotl/intentbench/internal/bench"
	"github.com/codalotl/intentbench/internal/config"
	"github.com/codalotl/intentbench/internal/ollama"
	"github.com/codalotl/intentbench/internal/output"
	"github.com/codalotl/intentbench/internal/suite"
)

type globalOptions struct {
	configPath string
	suitePath  string
	ollamaURL  string
	logLevel   string
	logFormat  string
}

// app carries what every command needs once flags and config are resolved.
type app struct {
	cfg     *config.Config
	suite   *suite.Suite
	printer *output.Printer
	out     io.Writer
	now     func() time.Time
}

func (a *app) client() *ollama.Client {
	return ollama.New(ollama.Options{
		BaseURL:     a.cfg.OllamaURL,
		Timeout:     a.cfg.Timeout,
		MaxRetries:  a.cfg.MaxRetries,
		RetryDelay:  a.cfg.RetryDelay,
		PullCommand: a.cfg.PullCommand,
		Printer:     a.printer,
	})
}

// Execute runs the CLI.
func Execute(ctx context.Context) error {
	root := newRootCmd()
	executed, err := root.ExecuteContextC(ctx)
	if err != nil {
		maybePrintUsage(executed, root, err)
	}
	return err
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := silenceUsageAndErrors(&cobra.Command{
		Use:   "intentbench",
		Short: "Benchmark local LLMs on intent classification and rank them by calibration.",
	})
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default: ./intentbench.yml if present)")
	flags.StringVar(&opts.suitePath, "suite", "", "query suite YAML (default: built-in suite)")
	flags.StringVar(&opts.ollamaURL, "ollama-url", "", "Ollama base URL")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newAnalyzeCmd(opts))
	root.AddCommand(newListModelsCmd(opts))
	root.AddCommand(newValidateSuiteCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newScheduleCmd(opts))
	root.AddCommand(newPublishCmd(opts))
	return root
}

// loadApp resolves config (file, then env, then flags), installs the logger,
// and loads the query suite.
func loadApp(cmd *cobra.Command, opts *globalOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath, os.Getenv)
	if err != nil {
		return nil, err
	}
	if opts.ollamaURL != "" {
		cfg.OllamaURL = opts.ollamaURL
	}
	if opts.suitePath != "" {
		cfg.Suite = opts.suitePath
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.LogFormat = opts.logFormat
	}

	logger, err := output.NewLogger(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	output.SetLogger(logger)

	s, err := loadSuite(cfg.Suite)
	if err != nil {
		return nil, err
	}
	if cfg.Path != "" {
		output.Logger.Debug("loaded config", "path", cfg.Path)
	}

	return &app{
		cfg:     cfg,
		suite:   s,
		printer: output.NewPrinter(cmd.OutOrStdout()),
		out:     cmd.OutOrStdout(),
		now:     time.Now,
	}, nil
}

func loadSuite(path string) (*suite.Suite, error) {
	if strings.TrimSpace(path) == "" {
		return suite.Default(), nil
	}
	return suite.Load(path)
}

func newListModelsCmd(opts *globalOptions) *cobra.Command {
	return silenceUsageAndErrors(&cobra.Command{
		Use:   "list-models",
		Short: "List models installed on the Ollama server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			models, err := a.client().ListModels(cmd.Context())
			if err != nil {
				return err
			}
			if len(models) == 0 {
				return a.printer.App("No models installed.")
			}
			for _, m := range models {
				marker := ""
				if bench.Excluded(m, a.cfg.Exclude) {
					marker = " (excluded)"
				}
				if _, err := fmt.Fprintf(a.out, "%s%s\n", m, marker); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

func newValidateSuiteCmd(opts *globalOptions) *cobra.Command {
	return silenceUsageAndErrors(&cobra.Command{
		Use:   "validate-suite [file]",
		Short: "Validate a query suite and print its system prompt",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.suitePath
			if len(args) == 1 {
				path = args[0]
			}
			s, err := loadSuite(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(out, "%s\n\n", s.SystemPrompt()); err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "valid: %d labels, %d queries\n", len(s.Labels), len(s.Items()))
			return err
		},
	})
}

func silenceUsageAndErrors(cmd *cobra.Command) *cobra.Command {
	silenceErrors(cmd)
	cmd.SilenceUsage = true
	return cmd
}

func silenceErrors(cmd *cobra.Command) *cobra.Command {
	cmd.SilenceErrors = true
	return cmd
}

func maybePrintUsage(cmd, root *cobra.Command, err error) {
	if err == nil {
		return
	}
	target := cmd
	if target == nil {
		target = root
	}
	if target == nil {
		return
	}
	if shouldShowUsage(err) {
		_ = target.Usage()
	}
}

func shouldShowUsage(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.HasPrefix(msg, "unknown command") {
		return true
	}
	if strings.HasPrefix(msg, "unknown flag") || strings.HasPrefix(msg, "unknown shorthand flag") {
		return true
	}
	if strings.Contains(msg, "accepts") && strings.Contains(msg, "arg") {
		return true
	}
	if strings.Contains(msg, "requires at least") && strings.Contains(msg, "arg") {
		return true
	}
	if strings.Contains(msg, "requires at most") && strings.Contains(msg, "arg") {
		return true
	}
	if strings.Contains(msg, "required flag") {
		return true
	}
	if strings.Contains(msg, "flag needs an argument") {
		return true
	}
	if strings.HasPrefix(msg, "invalid argument") {
		return true
	}
	return false
}

func splitCommaList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
