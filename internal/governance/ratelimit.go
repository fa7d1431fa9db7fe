package governance

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRate     = 100
	defaultIdleTTL  = 10 * time.Minute
	minSweepBetween = time.Second
)

// LimiterConfig defines a token bucket applied independently to every key.
type LimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL drops buckets that have not been touched for this long.
	IdleTTL time.Duration
}

// KeyedLimiter implements token bucket rate limiting per key.
type KeyedLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedLimiter creates a limiter. A non-positive rate defaults to 100
// requests per second and a non-positive burst defaults to the rate.
func NewKeyedLimiter(cfg LimiterConfig) *KeyedLimiter {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRate
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = defaultIdleTTL
	}
	return &KeyedLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		ttl:     ttl,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow consumes one token from the key's bucket.
func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	l.sweep(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// sweep drops idle buckets; callers hold l.mu.
func (l *KeyedLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < minSweepBetween {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, key)
		}
	}
}

// Len reports how many keys currently hold a bucket.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stats exposes the current state of one key's bucket.
type Stats struct {
	Limit     float64 `json:"limit"`
	BurstSize int     `json:"burstSize"`
	Available float64 `json:"available"`
}

// Stats returns the bucket state for key. Unknown keys report a full bucket.
func (l *KeyedLimiter) Stats(key string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := Stats{Limit: float64(l.limit), BurstSize: l.burst, Available: float64(l.burst)}
	if b, ok := l.buckets[key]; ok {
		st.Available = b.limiter.TokensAt(l.now())
	}
	return st
}
