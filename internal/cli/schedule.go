package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codalotl/intentbench/internal/schedule"
)

func newScheduleCmd(opts *globalOptions) *cobra.Command {
	var (
		cronArg   string
		modelsArg string
	)
	cmd := silenceUsageAndErrors(&cobra.Command{
		Use:   "schedule",
		Short: "Run the benchmark repeatedly on a cron schedule",
		Long:  "Run the benchmark repeatedly on a cron schedule (minute hour day-of-month month day-of-week). A failed run is logged and the next one still happens.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			spec := strings.TrimSpace(cronArg)
			if spec == "" {
				spec = a.cfg.Schedule
			}
			if _, err := schedule.Parse(spec); err != nil {
				return err
			}
			_ = a.printer.Appf("Scheduling benchmark runs: %s", spec)

			ropts := runOptions{models: splitCommaList(modelsArg)}
			err = schedule.Run(cmd.Context(), spec, func(ctx context.Context) error {
				_, err := a.runBenchmark(ctx, ropts)
				return err
			}, schedule.Options{})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	})
	cmd.Flags().StringVar(&cronArg, "cron", "", "cron expression (default: schedule from config)")
	cmd.Flags().StringVar(&modelsArg, "models", "", "comma-separated models to benchmark (default: every installed model)")
	return cmd
}
