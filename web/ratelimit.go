package web

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// loginRateLimiter tracks failed logins per normalised email and enforces
// exponential backoff before the request reaches the remote API.
type loginRateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord
	now      func() time.Time
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

const (
	// maxFailures is the number of consecutive failures before lockout begins.
	maxFailures = 5
	baseLockout = 30 * time.Second
	maxLockout  = 15 * time.Minute
	// attemptExpiry is how long after the last failure a record is dropped.
	attemptExpiry = time.Hour
	// sweepThreshold bounds the map before stale records are collected.
	sweepThreshold = 1024
)

func newLoginRateLimiter() *loginRateLimiter {
	return &loginRateLimiter{
		attempts: make(map[string]*attemptRecord),
		now:      time.Now,
	}
}

// check reports whether email is locked out and for how long.
func (rl *loginRateLimiter) check(email string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[email]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if now.Sub(rec.lastFailure) > attemptExpiry {
		delete(rl.attempts, email)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *loginRateLimiter) recordFailure(email string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if len(rl.attempts) >= sweepThreshold {
		rl.sweepLocked()
	}
	rec, ok := rl.attempts[email]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[email] = rec
	}
	rec.failures++
	rec.lastFailure = rl.now()

	if rec.failures >= maxFailures {
		// baseLockout * 2^(failures - maxFailures), capped.
		lockout := baseLockout
		for i := 0; i < rec.failures-maxFailures; i++ {
			lockout *= 2
			if lockout > maxLockout {
				lockout = maxLockout
				break
			}
		}
		rec.lockedUntil = rec.lastFailure.Add(lockout)
	}
}

func (rl *loginRateLimiter) recordSuccess(email string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, email)
}

func (rl *loginRateLimiter) sweepLocked() {
	now := rl.now()
	for k, rec := range rl.attempts {
		if now.Sub(rec.lastFailure) > attemptExpiry {
			delete(rl.attempts, k)
		}
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, "too many failed login attempts; try again later")
}
