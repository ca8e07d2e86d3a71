package alert

import (
	"sync"
	"time"
)

// slidingWindowLimiter is a per-minute counter that sleeps the caller when
// the limit is exceeded. Each channel adapter owns its own limiter, so one
// noisy channel never starves another.
type slidingWindowLimiter struct {
	mu          sync.Mutex
	limit       int
	windowStart time.Time
	count       int
}

func newSlidingWindowLimiter(perMinute int) *slidingWindowLimiter {
	if perMinute <= 0 {
		perMinute = 20
	}
	return &slidingWindowLimiter{limit: perMinute, windowStart: time.Now()}
}

// wait blocks until the current minute window has capacity.
func (l *slidingWindowLimiter) wait() {
	for {
		l.mu.Lock()
		now := time.Now()
		if now.Sub(l.windowStart) >= time.Minute {
			l.windowStart = now
			l.count = 0
		}
		if l.count < l.limit {
			l.count++
			l.mu.Unlock()
			return
		}
		sleepFor := time.Minute - now.Sub(l.windowStart)
		l.mu.Unlock()
		time.Sleep(sleepFor)
	}
}
