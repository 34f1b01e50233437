// SPDX-License-Identifier: LGPL-3.0-or-later

package transfer

import (
	"context"
	"sync"
	"time"
)

// Shaper is a token-bucket outbound bandwidth limiter, one per peer
// session, defaulting to an 8 MiB/s cap. Inbound traffic is
// intentionally unshaped; only the outbound side constructs a Shaper.
type Shaper struct {
	mu       sync.Mutex
	rate     float64 // bytes/sec
	capacity float64 // max burst, bytes
	tokens   float64
	last     time.Time
}

// NewShaper returns a Shaper capped at bytesPerSec, with a one-second
// burst capacity.
func NewShaper(bytesPerSec int64) *Shaper {
	rate := float64(bytesPerSec)
	return &Shaper{rate: rate, capacity: rate, tokens: rate, last: time.Now()}
}

// Wait blocks until n bytes worth of send budget is available, consuming
// it, or returns ctx.Err() if canceled first.
func (s *Shaper) Wait(ctx context.Context, n int) error {
	for {
		s.mu.Lock()
		s.refillLocked()
		if s.tokens >= float64(n) {
			s.tokens -= float64(n)
			s.mu.Unlock()
			return nil
		}
		deficit := float64(n) - s.tokens
		wait := time.Duration(deficit / s.rate * float64(time.Second))
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (s *Shaper) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(s.last).Seconds()
	s.last = now
	s.tokens += elapsed * s.rate
	if s.tokens > s.capacity {
		s.tokens = s.capacity
	}
}
