package limiter

import (
	"testing"
	"time"
)

func newTestLimiter(tpm, maxContext int64) (*TokenRateLimiter, *time.Time, *[]time.Duration) {
	l := New(tpm, maxContext)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var sleeps []time.Duration
	l.now = func() time.Time { return now }
	l.sleep = func(d time.Duration) {
		sleeps = append(sleeps, d)
		now = now.Add(d)
	}
	return l, &now, &sleeps
}

func TestNewAppliesDefaults(t *testing.T) {
	l := New(0, 0)
	if l.TokensPerMinute() != 200_000 {
		t.Errorf("tokens per minute = %d", l.TokensPerMinute())
	}
	if l.MaxContextTokens() != 250_000 {
		t.Errorf("max context tokens = %d", l.MaxContextTokens())
	}
}

func TestWaitForCapacityImmediateWhenBudgetFree(t *testing.T) {
	l, _, sleeps := newTestLimiter(1000, 2000)
	l.RecordTokens(400)
	l.WaitForCapacity(600, 65000)
	if len(*sleeps) != 0 {
		t.Errorf("expected no wait, slept %v", *sleeps)
	}
}

func TestWaitForCapacityBlocksUntilWindowFrees(t *testing.T) {
	l, now, sleeps := newTestLimiter(1000, 2000)
	l.RecordTokens(700)
	*now = now.Add(10 * time.Second)
	l.RecordTokens(300)

	// Needs 200 tokens freed; the oldest record (700 tokens) expires 50s
	// from now, plus the wake buffer.
	l.WaitForCapacity(500, 65000)
	if len(*sleeps) != 1 {
		t.Fatalf("expected one wait, got %v", *sleeps)
	}
	if got, want := (*sleeps)[0], 50*time.Second+100*time.Millisecond; got != want {
		t.Errorf("wait = %v, want %v", got, want)
	}
}

func TestWaitForCapacityFallsBackToNewestExpiry(t *testing.T) {
	l, now, sleeps := newTestLimiter(1000, 2000)
	l.RecordTokens(600)
	*now = now.Add(30 * time.Second)
	l.RecordTokens(400)

	// Freeing 950 tokens requires both records to expire, so the wait runs
	// to the newest record's expiry.
	l.WaitForCapacity(950, 65000)
	if len(*sleeps) == 0 {
		t.Fatal("expected a wait")
	}
	total := time.Duration(0)
	for _, d := range *sleeps {
		total += d
	}
	if total < 60*time.Second {
		t.Errorf("total wait = %v, want at least the newest record expiry", total)
	}
}

func TestWaitForCapacityOversizedRequestDoesNotSpin(t *testing.T) {
	l, _, sleeps := newTestLimiter(1000, 2000)
	l.WaitForCapacity(1500, 65000)
	if len(*sleeps) != 0 {
		t.Errorf("empty window should admit immediately, slept %v", *sleeps)
	}
}

func TestRecordTokensIgnoresNonPositive(t *testing.T) {
	l, _, _ := newTestLimiter(1000, 2000)
	l.RecordTokens(0)
	l.RecordTokens(-5)
	if len(l.records) != 0 {
		t.Errorf("records = %v", l.records)
	}
}

func TestWindowTokensPrunesExpiredUsage(t *testing.T) {
	l, now, _ := newTestLimiter(1000, 2000)
	l.RecordTokens(300)
	*now = now.Add(30 * time.Second)
	l.RecordTokens(200)
	if got := l.WindowTokens(); got != 500 {
		t.Errorf("window tokens = %d", got)
	}
	*now = now.Add(31 * time.Second)
	if got := l.WindowTokens(); got != 200 {
		t.Errorf("window tokens after expiry = %d", got)
	}
}
