package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialMinutes(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, time.Minute},
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{40, (1 << 20) * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExponentialMinutes(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicy_Next(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	policy := DefaultRetryPolicy()

	tests := []struct {
		name      string
		attempts  int
		itemMax   int
		wantRetry bool
		wantAt    time.Time
	}{
		{"first failure", 1, 3, true, now.Add(2 * time.Minute)},
		{"second failure", 2, 3, true, now.Add(4 * time.Minute)},
		{"exhausted", 3, 3, false, time.Time{}},
		{"item limit overrides policy", 3, 5, true, now.Add(8 * time.Minute)},
		{"policy limit when item has none", 3, 0, false, time.Time{}},
		{"single attempt", 1, 1, false, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retry, at := policy.Next(tt.attempts, tt.itemMax, now)
			assert.Equal(t, tt.wantRetry, retry)
			assert.Equal(t, tt.wantAt, at)
		})
	}
}

func TestRetryPolicy_CustomBackoff(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	policy := RetryPolicy{
		MaxAttempts: 4,
		Backoff:     func(int) time.Duration { return time.Second },
	}

	retry, at := policy.Next(2, 0, now)
	assert.True(t, retry)
	assert.Equal(t, now.Add(time.Second), at)
}
