package replication

import "time"

// Policy bounds how hard a single peer delivery is retried.
type Policy struct {
	// Backoff returns the pause after the given failed attempt (1-based).
	Backoff     func(attempt int) time.Duration
	MaxAttempts int
}

// Linear waits attempt*unit after each failure: attempt 2 starts at least
// one unit after attempt 1, attempt 3 at least two units after attempt 2.
func Linear(unit time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * unit
	}
}

// DefaultPolicy is three attempts with a one second linear backoff.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Backoff: Linear(time.Second)}
}

// Run calls fn until it succeeds or the attempt budget is spent. It
// returns the number of attempts made and the last error. There is no
// pause after the final attempt.
func (p Policy) Run(fn func(attempt int) error) (int, error) {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		if err = fn(attempt); err == nil {
			return attempt, nil
		}
		if attempt < max && p.Backoff != nil {
			time.Sleep(p.Backoff(attempt))
		}
	}
	return max, err
}
