// Package wait has the interruptible delay shared by blocking moves and sequence playback
package wait

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Sleep blocks for d on clk or until ctx is done. It returns ctx.Err() when interrupted
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	timer := clk.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Seconds converts fractional seconds to a Duration
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
