package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"
)

// Daily invokes a job once a day at Hour:00 in the clock's location.
type Daily struct {
	Hour   int
	Clock  clock.Clock
	Logger *slog.Logger
}

// Run blocks until ctx is cancelled. fn is called synchronously, so a slow
// job delays the next tick instead of overlapping with it.
func (d *Daily) Run(ctx context.Context, fn func(context.Context)) error {
	if d.Hour < 0 || d.Hour > 23 {
		return fmt.Errorf("hour must be between 0 and 23, got %d", d.Hour)
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for {
		now := clk.Now()
		next := NextRun(now, d.Hour)
		logger.Info("Waiting for next run", "at", next.Format(time.RFC3339), "in", next.Sub(now).Round(time.Second))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(next.Sub(now)):
		}

		fn(ctx)
	}
}

// NextRun returns the first hour:00 strictly after now, in now's location.
func NextRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, 0, 0, 0, now.Location())
	}
	return next
}
