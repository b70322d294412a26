// Package limiter paces model calls against a tokens-per-minute budget.
package limiter

import (
	"sync"
	"time"

	"github.com/Adnuntius/ASgard/internal/commons"
)

const (
	window = time.Minute
	// wakeBuffer is added to each computed sleep so the oldest record has
	// definitely left the window when the caller wakes.
	wakeBuffer = 100 * time.Millisecond

	defaultTokensPerMinute  = 200_000
	defaultMaxContextTokens = 250_000
)

type usage struct {
	at     time.Time
	tokens int64
}

// TokenRateLimiter blocks callers until an estimated request fits the
// remaining per-minute token budget. One limiter is shared by all
// classification calls of a run; the lock is held across the wait so usage
// accounting stays consistent.
type TokenRateLimiter struct {
	mu               sync.Mutex
	records          []usage
	tokensPerMinute  int64
	maxContextTokens int64

	now   func() time.Time
	sleep func(time.Duration)
}

// New returns a limiter with the given budgets, substituting defaults for
// non-positive values.
func New(tokensPerMinute, maxContextTokens int64) *TokenRateLimiter {
	if tokensPerMinute <= 0 {
		tokensPerMinute = defaultTokensPerMinute
	}
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &TokenRateLimiter{
		tokensPerMinute:  tokensPerMinute,
		maxContextTokens: maxContextTokens,
		now:              time.Now,
		sleep:            time.Sleep,
	}
}

// TokensPerMinute returns the per-minute budget.
func (l *TokenRateLimiter) TokensPerMinute() int64 { return l.tokensPerMinute }

// MaxContextTokens returns the largest request the model accepts.
func (l *TokenRateLimiter) MaxContextTokens() int64 { return l.maxContextTokens }

// WindowTokens returns the usage recorded within the trailing window.
func (l *TokenRateLimiter) WindowTokens() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	var sum int64
	for _, record := range l.records {
		sum += record.tokens
	}
	return sum
}

// WaitForCapacity blocks until estimatedTokens fit within the budget for the
// trailing window. The asn parameter only labels the wait log line.
func (l *TokenRateLimiter) WaitForCapacity(estimatedTokens int64, asn int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		now := l.now()
		l.prune(now)
		var windowSum int64
		for _, record := range l.records {
			windowSum += record.tokens
		}
		needed := estimatedTokens - (l.tokensPerMinute - windowSum)
		if needed <= 0 {
			return
		}
		// An empty window cannot free anything by waiting; admit the
		// oversized request rather than spin.
		if len(l.records) == 0 {
			return
		}
		wait := l.waitUntilFreed(now, needed)
		commons.Logger.Warnf("Token budget exhausted for AS%d, waiting %s for %d tokens to free up",
			asn, wait.Round(time.Millisecond), needed)
		l.sleep(wait)
	}
}

// waitUntilFreed walks the window oldest first and returns how long until
// enough recorded usage has expired to free the needed tokens. When even the
// full window is not enough the newest record's expiry bounds the wait.
func (l *TokenRateLimiter) waitUntilFreed(now time.Time, needed int64) time.Duration {
	var freed int64
	for _, record := range l.records {
		freed += record.tokens
		if freed >= needed {
			return record.at.Add(window).Sub(now) + wakeBuffer
		}
	}
	newest := l.records[len(l.records)-1]
	return newest.at.Add(window).Sub(now) + wakeBuffer
}

func (l *TokenRateLimiter) prune(now time.Time) {
	cutoff := now.Add(-window)
	kept := l.records[:0]
	for _, record := range l.records {
		if record.at.After(cutoff) {
			kept = append(kept, record)
		}
	}
	l.records = kept
}

// RecordTokens accounts actual usage after a completed request.
func (l *TokenRateLimiter) RecordTokens(tokens int64) {
	if tokens <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, usage{at: l.now(), tokens: tokens})
}
