package dispatch

import "time"

// RetryPolicy decides how often and when a failed send is retried.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// DefaultRetryPolicy returns three attempts with exponential minute backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     ExponentialMinutes,
	}
}

// ExponentialMinutes returns 2^attempt minutes.
func ExponentialMinutes(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 20 {
		attempt = 20
	}
	return time.Duration(1<<attempt) * time.Minute
}

// maxAttemptsFor returns the item limit, or the policy limit when the item carries none.
func (p RetryPolicy) maxAttemptsFor(itemMax int) int {
	if itemMax > 0 {
		return itemMax
	}
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 1
}

// Next reports whether an item that has now failed `attempts` times may be
// retried, and when.
func (p RetryPolicy) Next(attempts, itemMax int, now time.Time) (bool, time.Time) {
	if attempts >= p.maxAttemptsFor(itemMax) {
		return false, time.Time{}
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = ExponentialMinutes
	}
	return true, now.Add(backoff(attempts))
}
