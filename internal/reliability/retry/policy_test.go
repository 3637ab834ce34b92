package retry

import (
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MaxAttempts:      5,
		BaseDelay:        100 * time.Millisecond,
		CapDelay:         1 * time.Second,
		MaxTotalDuration: 0,
		JitterFraction:   0,
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{JitterFraction: 3}.WithDefaults()
	if cfg.MaxAttempts != DefaultConfig.MaxAttempts {
		t.Errorf("expected default max attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.BaseDelay != DefaultConfig.BaseDelay || cfg.CapDelay != DefaultConfig.CapDelay {
		t.Errorf("expected default delays, got %v/%v", cfg.BaseDelay, cfg.CapDelay)
	}
	if cfg.JitterFraction != 1 {
		t.Errorf("expected jitter clamped to 1, got %v", cfg.JitterFraction)
	}

	cfg = Config{BaseDelay: 2 * time.Second, CapDelay: time.Second}.WithDefaults()
	if cfg.CapDelay != 2*time.Second {
		t.Errorf("expected cap raised to base delay, got %v", cfg.CapDelay)
	}
}

func TestPolicy_PermanentGivesUpImmediately(t *testing.T) {
	p := NewPolicy(testConfig())
	d := p.Decide(Permanent(errors.New("access denied")), 1, 0)
	if d.Retry {
		t.Fatal("permanent error must not be retried")
	}
	if d.Class != ClassPermanent {
		t.Errorf("expected permanent class, got %v", d.Class)
	}
	if d.Err == nil {
		t.Error("expected terminal error on give up")
	}
}

func TestPolicy_TransientRetriesUntilMaxAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 3
	p := NewPolicy(cfg)
	err := Transient(errors.New("throttled"))

	if d := p.Decide(err, 1, 0); !d.Retry || d.Delay != 100*time.Millisecond {
		t.Errorf("attempt 1: expected retry after 100ms, got %+v", d)
	}
	if d := p.Decide(err, 2, 0); !d.Retry || d.Delay != 200*time.Millisecond {
		t.Errorf("attempt 2: expected retry after 200ms, got %+v", d)
	}
	if d := p.Decide(err, 3, 0); d.Retry {
		t.Error("attempt 3: expected give up at max attempts")
	}
}

func TestPolicy_TotalDurationBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTotalDuration = time.Second
	p := NewPolicy(cfg)
	err := Transient(errors.New("timeout"))

	if d := p.Decide(err, 1, 500*time.Millisecond); !d.Retry {
		t.Error("expected retry within budget")
	}
	// 950ms elapsed + 200ms delay exceeds 1s
	if d := p.Decide(err, 2, 950*time.Millisecond); d.Retry {
		t.Error("expected give up when the next delay would exceed the budget")
	}
}

func TestPolicy_BackoffNonDecreasingUpToCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 20
	p := NewPolicy(cfg)

	prev := time.Duration(0)
	for attempt := 1; attempt <= 15; attempt++ {
		d := p.Backoff(attempt)
		if d < prev {
			t.Fatalf("attempt %d: delay %v decreased from %v", attempt, d, prev)
		}
		if d > cfg.CapDelay {
			t.Fatalf("attempt %d: delay %v exceeds cap %v", attempt, d, cfg.CapDelay)
		}
		prev = d
	}
	if prev != cfg.CapDelay {
		t.Errorf("expected delay to reach the cap, got %v", prev)
	}
}

func TestPolicy_JitteredBackoffWithinBounds(t *testing.T) {
	cfg := testConfig()
	cfg.JitterFraction = 1

	for _, r := range []float64{0, 0.25, 0.5, 0.75, 0.999999} {
		p := NewPolicy(cfg, WithRand(func() float64 { return r }))
		for attempt := 1; attempt <= 10; attempt++ {
			d := p.Backoff(attempt)
			if d < 0 || d > cfg.CapDelay {
				t.Fatalf("rand=%v attempt=%d: delay %v outside [0, %v]", r, attempt, d, cfg.CapDelay)
			}
		}
	}
}

func TestPolicy_JitterSpread(t *testing.T) {
	cfg := testConfig()
	cfg.JitterFraction = 0.5

	low := NewPolicy(cfg, WithRand(func() float64 { return 0 })).Backoff(1)
	high := NewPolicy(cfg, WithRand(func() float64 { return 0.999999 })).Backoff(1)

	if low != 50*time.Millisecond {
		t.Errorf("expected lowest delay 50ms, got %v", low)
	}
	if high <= 140*time.Millisecond || high > 150*time.Millisecond {
		t.Errorf("expected highest delay close to 150ms, got %v", high)
	}
}
