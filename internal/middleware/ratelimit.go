package middleware

import (
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter keyed by client IP. The hold
// endpoints use it so one client cannot lock up inventory with a burst of
// reservations.
type RateLimiter struct {
	attempts    map[string][]time.Time
	mutex       sync.Mutex
	maxAttempts int
	window      time.Duration
	now         func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a limiter allowing maxAttempts per window
func NewRateLimiter(maxAttempts int, window time.Duration) *RateLimiter {
	return newRateLimiter(maxAttempts, window, time.Now)
}

func newRateLimiter(maxAttempts int, window time.Duration, now func() time.Time) *RateLimiter {
	rl := &RateLimiter{
		attempts:    make(map[string][]time.Time),
		maxAttempts: maxAttempts,
		window:      window,
		now:         now,
		stop:        make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow records an attempt for key and reports whether it is within the limit.
// When it is not, the returned duration is how long until the next slot frees.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	valid := rl.pruneLocked(key, now)

	if len(valid) >= rl.maxAttempts {
		return false, valid[0].Add(rl.window).Sub(now)
	}

	rl.attempts[key] = append(valid, now)
	return true, 0
}

func (rl *RateLimiter) pruneLocked(key string, now time.Time) []time.Time {
	cutoff := now.Add(-rl.window)
	var valid []time.Time
	for _, attempt := range rl.attempts[key] {
		if attempt.After(cutoff) {
			valid = append(valid, attempt)
		}
	}
	if len(valid) == 0 {
		delete(rl.attempts, key)
	} else {
		rl.attempts[key] = valid
	}
	return valid
}

// cleanup removes old entries periodically
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mutex.Lock()
			now := rl.now()
			for key := range rl.attempts {
				rl.pruneLocked(key, now)
			}
			rl.mutex.Unlock()
		case <-rl.stop:
			return
		}
	}
}

// Close stops the cleanup goroutine
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// RateLimit limits POST requests per client IP. A nil resolver trusts no
// proxies, so forwarding headers cannot move a client into a fresh bucket.
func RateLimit(rateLimiter *RateLimiter, resolver *ClientIPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			if ok, retryAfter := rateLimiter.Allow(resolver.ClientIP(r)); !ok {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(retryAfter.Seconds()))))
				WriteError(w, r, http.StatusTooManyRequests, ErrorBody{
					Code:    "rate_limited",
					Message: "Too many requests. Please try again in " + retryAfter.Round(time.Second).String() + ".",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
