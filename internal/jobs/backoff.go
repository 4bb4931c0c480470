package jobs

import "time"

// Backoff returns the delay before the given retry attempt (1-based),
// doubling from the base each attempt.
func Backoff(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// NextRetryAt schedules the next retry after a failure. retryCount is
// the number of failures before this one. Returns nil once retries are
// exhausted, which leaves the job terminally failed.
func NextRetryAt(retryCount, maxRetries int, base time.Duration, now time.Time) *time.Time {
	if retryCount >= maxRetries {
		return nil
	}
	t := now.Add(Backoff(retryCount+1, base))
	return &t
}
