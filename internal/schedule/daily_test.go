package schedule

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shortWait = time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNextRun(t *testing.T) {
	t.Parallel()

	day := func(d, h, m int) time.Time {
		return time.Date(2024, 1, d, h, m, 0, 0, time.UTC)
	}

	tests := []struct {
		name string
		now  time.Time
		hour int
		want time.Time
	}{
		{"later today", day(1, 0, 0), 2, day(1, 2, 0)},
		{"already passed", day(1, 3, 0), 2, day(2, 2, 0)},
		{"exactly at hour", day(1, 2, 0), 2, day(2, 2, 0)},
		{"one minute before", day(1, 1, 59), 2, day(1, 2, 0)},
		{"midnight", day(1, 12, 0), 0, day(2, 0, 0)},
		{"month rollover", time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC), 2, time.Date(2024, 2, 1, 2, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NextRun(tt.now, tt.hour))
		})
	}
}

func TestNextRun_KeepsLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+5", 5*3600)
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, loc)

	next := NextRun(now, 2)
	assert.Equal(t, loc, next.Location())
	assert.Equal(t, 2, next.Hour())
	assert.Equal(t, 2, next.Day())
}

func TestDaily_RejectsInvalidHour(t *testing.T) {
	t.Parallel()

	d := &Daily{Hour: 24, Clock: testclock.NewClock(time.Now()), Logger: discardLogger()}
	err := d.Run(context.Background(), func(context.Context) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 0 and 23")
}

func TestDaily_RunsAtHour(t *testing.T) {
	t.Parallel()

	clk := testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	d := &Daily{Hour: 2, Clock: clk, Logger: discardLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := make(chan time.Time, 4)
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Run(ctx, func(context.Context) { ticks <- clk.Now() })
	}()

	// Nothing fires before the hour.
	require.NoError(t, clk.WaitAdvance(time.Hour, shortWait, 1))
	select {
	case <-ticks:
		t.Fatal("job ran before its hour")
	default:
	}

	require.NoError(t, clk.WaitAdvance(time.Hour, shortWait, 1))
	select {
	case at := <-ticks:
		assert.Equal(t, time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC), at)
	case <-time.After(shortWait):
		t.Fatal("job did not run at its hour")
	}

	// The following tick is a day later.
	require.NoError(t, clk.WaitAdvance(24*time.Hour, shortWait, 1))
	select {
	case at := <-ticks:
		assert.Equal(t, time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC), at)
	case <-time.After(shortWait):
		t.Fatal("job did not run on the second day")
	}

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(shortWait):
		t.Fatal("scheduler did not stop")
	}
}

func TestDaily_StopsWhenCancelled(t *testing.T) {
	t.Parallel()

	clk := testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	d := &Daily{Hour: 2, Clock: clk, Logger: discardLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := d.Run(ctx, func(context.Context) { called = true })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
