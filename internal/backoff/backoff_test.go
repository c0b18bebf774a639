package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 6 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{6, 10 * time.Second},
		{50, 10 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Delay(tt.attempt), "Delay(%d)", tt.attempt)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	assert.ErrorIs(t, Sleep(ctx, time.Minute), context.Canceled)
	assert.True(t, time.Since(start) < time.Second, "Sleep returns promptly after cancellation")
}

func TestSleepShort(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}

func TestRecorder(t *testing.T) {
	var r Recorder
	var sleep SleepFunc = r.Sleep

	_ = sleep(context.Background(), Delay(1))
	_ = sleep(context.Background(), Delay(2))

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, r.Delays)
}
