package signal

import (
	"sync"
	"time"

	"github.com/dkeye/Pairing/internal/clock"
)

// JoinRateLimiter caps join attempts per client token in a sliding window.
type JoinRateLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	clock    clock.Clock
}

func NewJoinRateLimiter(limit int, interval time.Duration, c clock.Clock) *JoinRateLimiter {
	if c == nil {
		c = clock.Real{}
	}
	return &JoinRateLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		clock:    c,
	}
}

func (rl *JoinRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[key]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[key] = fresh
		return false
	}

	rl.history[key] = append(fresh, now)
	return true
}

// Sweep forgets keys with no attempt inside the window.
func (rl *JoinRateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	windowStart := rl.clock.Now().Add(-rl.interval)
	n := 0
	for key, attempts := range rl.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(windowStart) {
			delete(rl.history, key)
			n++
		}
	}
	return n
}
