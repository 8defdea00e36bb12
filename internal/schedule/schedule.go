// Package schedule runs a job on a standard 5-field cron expression
// (minute hour day-of-month month day-of-week).
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/codalotl/intentbench/internal/output"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse validates a cron expression.
func Parse(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("schedule is empty")
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Options are test hooks; the zero value uses the wall clock.
type Options struct {
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
	// OnNext is called with each computed activation time.
	OnNext func(time.Time)
}

// Run calls job at every activation of spec until ctx is cancelled. Job
// errors are logged and do not stop the loop. Run returns ctx.Err().
func Run(ctx context.Context, spec string, job func(context.Context) error, opts Options) error {
	sched, err := Parse(spec)
	if err != nil {
		return err
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	after := time.After
	if opts.After != nil {
		after = opts.After
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next := sched.Next(now())
		if opts.OnNext != nil {
			opts.OnNext(next)
		}
		wait := next.Sub(now())
		if wait < 0 {
			wait = 0
		}
		output.Logger.Info("next scheduled run", "at", next.Format(time.RFC3339), "in", wait.Round(time.Second))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-after(wait):
		}

		if err := job(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			output.Logger.Error("scheduled run failed", "err", err)
		}
	}
}
