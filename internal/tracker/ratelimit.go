package tracker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bugloop/bugloop/pkg/logger"
	"golang.org/x/time/rate"
)

// quotaFloor is the remaining-quota level below which outbound calls
// pause until the tracker's window resets, instead of burning the last
// requests and tripping secondary rate limits.
const quotaFloor = 10

// Limiter throttles outbound tracker calls. It combines a steady-state
// token bucket with the quota metadata the tracker reports on every
// response, so the worker slows down before the API starts rejecting.
type Limiter struct {
	bucket *rate.Limiter

	mu        sync.Mutex
	remaining int
	resetAt   time.Time
}

// NewLimiter creates a Limiter allowing rps requests per second with
// the given burst.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		bucket:    rate.NewLimiter(rate.Limit(rps), burst),
		remaining: -1, // unknown until the first response
	}
}

// Wait blocks until a request may be sent. When the reported quota is
// nearly exhausted it sleeps until the reset time.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	remaining := l.remaining
	resetAt := l.resetAt
	l.mu.Unlock()

	if remaining >= 0 && remaining < quotaFloor && time.Now().Before(resetAt) {
		wait := time.Until(resetAt)
		logger.Warnf("[Tracker] Rate limit quota low (%d left), pausing %s until reset", remaining, wait.Round(time.Second))
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return l.bucket.Wait(ctx)
}

// Update records the quota metadata from a tracker response.
// GitHub reports X-RateLimit-Remaining and X-RateLimit-Reset (unix).
func (l *Limiter) Update(remaining, reset string) {
	if remaining == "" {
		return
	}
	rem, err := strconv.Atoi(remaining)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.remaining = rem
	if unix, err := strconv.ParseInt(reset, 10, 64); err == nil {
		l.resetAt = time.Unix(unix, 0)
	}
}

// Remaining returns the last reported quota, -1 when unknown.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining
}
