package admin

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// triggerLimiter allows one manual trigger per key per interval. Keys name
// the operation, and the record for forced timestamps.
type triggerLimiter struct {
	mu       sync.Mutex
	last     map[string]time.Time
	interval time.Duration
}

func newTriggerLimiter(interval time.Duration) *triggerLimiter {
	if interval <= 0 {
		return nil
	}
	return &triggerLimiter{last: make(map[string]time.Time), interval: interval}
}

// allow reports whether key may run now, or how long to wait.
func (l *triggerLimiter) allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	return l.allowAt(key, time.Now())
}

func (l *triggerLimiter) allowAt(key string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.last[key]; ok {
		if next := last.Add(l.interval); now.Before(next) {
			return false, next.Sub(now)
		}
	}
	l.last[key] = now

	// Record keys accumulate; drop the expired ones now and then.
	if len(l.last) > 1024 {
		for k, t := range l.last {
			if !now.Before(t.Add(l.interval)) {
				delete(l.last, k)
			}
		}
	}
	return true, 0
}

// limited writes 429 and returns true when key is rate limited.
func (s *Server) limited(w http.ResponseWriter, key string) bool {
	ok, retryAfter := s.limiter.allow(key)
	if ok {
		return false
	}
	seconds := int(math.Ceil(retryAfter.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, http.StatusTooManyRequests, "rate_limited", fmt.Sprintf("rate limited, retry after %d seconds", seconds))
	return true
}
