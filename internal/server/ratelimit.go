package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter applies a per-IP token bucket to inbound frames: credits
// per 10 second window, spent one per frame. Out-of-credit frames are
// silently dropped by the caller.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipEntry
	rate     rate.Limit
	burst    int
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(creditsPer10s int) *ipLimiter {
	return &ipLimiter{
		limiters: make(map[string]*ipEntry),
		rate:     rate.Limit(float64(creditsPer10s) / 10.0),
		burst:    creditsPer10s,
	}
}

// Allow spends one credit for the IP.
func (rl *ipLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &ipEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Purge drops entries unseen for the given duration. Hooked to the
// backend's mlat heartbeat rather than a timer of its own.
func (rl *ipLimiter) Purge(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)
	rl.mu.Lock()
	for ip, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, ip)
		}
	}
	rl.mu.Unlock()
}

// Size reports the tracked IP count.
func (rl *ipLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
