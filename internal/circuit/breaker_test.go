package circuit

import (
	"testing"
	"time"
)

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{MaxConsecutiveFailures: 3, CooldownDuration: time.Minute, MaxFailuresPerMinute: 100})

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if b.Status() != StateClosed {
			t.Fatalf("breaker tripped early after %d failures", i+1)
		}
	}
	b.RecordFailure()
	if b.Status() != StateOpen {
		t.Error("expected breaker to trip open after MaxConsecutiveFailures")
	}
}

func TestBreakerRejectsWhileOpenBeforeCooldown(t *testing.T) {
	b := New(Config{MaxConsecutiveFailures: 1, CooldownDuration: time.Hour, MaxFailuresPerMinute: 100})
	b.RecordFailure()

	allowed, reason := b.Allow()
	if allowed {
		t.Error("expected Allow to reject while open and within cooldown")
	}
	if reason == "" {
		t.Error("expected a non-empty rejection reason")
	}
}

func TestBreakerHalfOpensAfterCooldown(t *testing.T) {
	b := New(Config{MaxConsecutiveFailures: 1, CooldownDuration: 10 * time.Millisecond, MaxFailuresPerMinute: 100})
	b.RecordFailure()

	time.Sleep(20 * time.Millisecond)

	allowed, _ := b.Allow()
	if !allowed {
		t.Fatal("expected a single probe to be allowed after cooldown elapses")
	}
	if b.Status() != StateHalfOpen {
		t.Errorf("expected state half_open after the probe is let through, got %s", b.Status())
	}
}

func TestBreakerClosesOnProbeSuccess(t *testing.T) {
	b := New(Config{MaxConsecutiveFailures: 1, CooldownDuration: 10 * time.Millisecond, MaxFailuresPerMinute: 100})
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	b.Allow()

	b.RecordSuccess()
	if b.Status() != StateClosed {
		t.Errorf("expected breaker to close after a successful probe, got %s", b.Status())
	}
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	b := New(Config{MaxConsecutiveFailures: 1, CooldownDuration: 10 * time.Millisecond, MaxFailuresPerMinute: 100})
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	b.Allow()

	b.RecordFailure()
	if b.Status() != StateOpen {
		t.Errorf("expected a failed probe to reopen the breaker, got %s", b.Status())
	}
}

func TestBreakerForceResetClosesImmediately(t *testing.T) {
	b := New(Config{MaxConsecutiveFailures: 1, CooldownDuration: time.Hour, MaxFailuresPerMinute: 100})
	b.RecordFailure()
	if b.Status() != StateOpen {
		t.Fatal("setup: expected breaker to be open")
	}
	b.ForceReset()
	if b.Status() != StateClosed {
		t.Error("expected ForceReset to close the breaker regardless of cooldown")
	}
}
