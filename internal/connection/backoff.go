package connection

import "time"

// Backoff computes reconnect delays: Delay(n) = min(Base * 2^(n-1), Cap)
// for the n-th attempt of a failure streak. Attempt numbering starts at
// 1 on the first retry after a drop; the controller resets it to zero
// only on a successful open.
type Backoff struct {
	Base        time.Duration // Delay before the first retry
	Cap         time.Duration // Upper bound on any delay
	MaxAttempts int           // Attempts beyond this are exhausted
}

// DefaultBackoff returns the standard policy: 1s base, 30s cap,
// 5 attempts.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        time.Second,
		Cap:         30 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Shift would overflow for large attempt counts.
	if attempt-1 >= 32 {
		return b.Cap
	}
	d := b.Base << (attempt - 1)
	if d <= 0 || d > b.Cap {
		return b.Cap
	}
	return d
}

// Exhausted reports whether attempt n exceeds the retry budget.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt > b.MaxAttempts
}
