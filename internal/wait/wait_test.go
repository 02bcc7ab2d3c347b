package wait

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestSleep(t *testing.T) {
	t.Run("Elapses", func(t *testing.T) {
		start := time.Now()
		err := Sleep(context.Background(), clock.New(), 10*time.Millisecond)
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	})

	t.Run("ZeroDuration", func(t *testing.T) {
		assert.NoError(t, Sleep(context.Background(), clock.NewMock(), 0))
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		// the mock clock never advances, so only the context can end this
		err := Sleep(ctx, clock.NewMock(), time.Hour)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("CancelledWhileWaiting", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		err := Sleep(ctx, clock.NewMock(), time.Hour)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, Seconds(0.5))
	assert.Equal(t, time.Duration(0), Seconds(0))
}
