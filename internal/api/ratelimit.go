package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter hands out a token bucket per (route, client ip) pair. Entries
// idle past the TTL are evicted lazily so the map stays bounded.
type ipLimiter struct {
	mu      sync.Mutex
	entries map[string]*ipEntry

	limit      rate.Limit
	burst      int
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		entries:    make(map[string]*ipEntry),
		limit:      limit,
		burst:      burst,
		ttl:        10 * time.Minute,
		maxEntries: 10000,
		now:        time.Now,
	}
}

// allow reports whether the keyed client may proceed.
func (l *ipLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= l.maxEntries {
			l.evictStale(now)
		}
		e = &ipEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

// evictStale drops idle entries; if everything is busy it drops the oldest
// few so inserts never fail.
func (l *ipLimiter) evictStale(now time.Time) {
	for key, e := range l.entries {
		if now.Sub(e.lastSeen) > l.ttl {
			delete(l.entries, key)
		}
	}
	for key := range l.entries {
		if len(l.entries) < l.maxEntries {
			break
		}
		delete(l.entries, key)
	}
}
