package connection

import "time"

// Backoff computes capped exponential reconnect delays.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before reconnect attempt n (1-based):
// min(Base * 2^(n-1), Max).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	if b.Max > 0 && d >= b.Max {
		return b.Max
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
		if d <= 0 {
			// Overflowed without a cap.
			return b.Max
		}
	}
	return d
}
