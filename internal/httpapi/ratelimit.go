package httpapi

import (
	"sync"
	"time"
)

// tokenBucket is a simple refilling token bucket.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	lastRefill time.Time
	refillRate time.Duration
}

func newTokenBucket(maxTokens int, refillRate time.Duration) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		lastRefill: time.Now(),
		refillRate: refillRate,
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed >= b.refillRate {
		add := int(elapsed / b.refillRate)
		b.tokens = min(b.maxTokens, b.tokens+add)
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// platformLimiter rate-limits ingest traffic per target_platform, so one
// noisy caller cannot monopolize a single provider's throughput.
type platformLimiter struct {
	mu         sync.RWMutex
	buckets    map[string]*tokenBucket
	maxTokens  int
	refillRate time.Duration
}

func newPlatformLimiter(maxTokens int, refillRate time.Duration) *platformLimiter {
	return &platformLimiter{
		buckets:    make(map[string]*tokenBucket),
		maxTokens:  maxTokens,
		refillRate: refillRate,
	}
}

func (l *platformLimiter) allow(platform string) bool {
	l.mu.RLock()
	b, ok := l.buckets[platform]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		if b, ok = l.buckets[platform]; !ok {
			b = newTokenBucket(l.maxTokens, l.refillRate)
			l.buckets[platform] = b
		}
		l.mu.Unlock()
	}
	return b.allow()
}
