package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	sched, err := Parse("30 2 * * *")
	require.NoError(t, err)
	from := time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 6, 2, 2, 30, 0, 0, time.UTC), sched.Next(from))

	_, err = Parse("")
	require.Error(t, err)
	_, err = Parse("* * * * * *")
	require.Error(t, err)
	_, err = Parse("61 * * * *")
	require.Error(t, err)
}

func TestRunFiresJobsAndSurvivesErrors(t *testing.T) {
	t.Parallel()

	clock := time.Date(2026, 6, 1, 0, 0, 30, 0, time.UTC)
	var fired []time.Time
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	err := Run(ctx, "* * * * *", func(ctx context.Context) error {
		calls++
		if calls == 3 {
			cancel()
		}
		return errors.New("ollama unreachable")
	}, Options{
		Now: func() time.Time { return clock },
		After: func(d time.Duration) <-chan time.Time {
			clock = clock.Add(d)
			ch := make(chan time.Time, 1)
			ch <- clock
			return ch
		},
		OnNext: func(next time.Time) { fired = append(fired, next) },
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Time{
		time.Date(2026, 6, 1, 0, 1, 0, 0, time.UTC),
		time.Date(2026, 6, 1, 0, 2, 0, 0, time.UTC),
		time.Date(2026, 6, 1, 0, 3, 0, 0, time.UTC),
	}, fired)
}

func TestRunStopsWhileWaiting(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, "0 0 1 1 *", func(context.Context) error {
		t.Fatal("job must not run")
		return nil
	}, Options{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunRejectsBadSpec(t *testing.T) {
	t.Parallel()

	err := Run(context.Background(), "nope", func(context.Context) error { return nil }, Options{})
	require.Error(t, err)
}
