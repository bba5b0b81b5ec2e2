package aead

import (
	"errors"
	"testing"
	"time"

	"github.com/n0remac/p2pcall/internal/failure"
)

func TestCooldownTripsAfterMaxFailuresWithinWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCooldownWithClock(func() time.Time { return now })

	for i := 0; i < MaxFailures-1; i++ {
		if err := c.Check(); err != nil {
			t.Fatalf("Check before trip: %v", err)
		}
		c.RecordFailure()
		now = now.Add(time.Second)
	}
	if err := c.Check(); err != nil {
		t.Fatalf("Check one failure short of trip: %v", err)
	}

	c.RecordFailure()
	if err := c.Check(); !errors.Is(err, failure.ErrSecurityCooldown) {
		t.Fatalf("Check after %d failures = %v, want ErrSecurityCooldown", MaxFailures, err)
	}
}

func TestCooldownExpiresAfterCooldownDuration(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCooldownWithClock(func() time.Time { return now })

	for i := 0; i < MaxFailures; i++ {
		c.RecordFailure()
	}
	if err := c.Check(); !errors.Is(err, failure.ErrSecurityCooldown) {
		t.Fatalf("Check immediately after trip = %v, want ErrSecurityCooldown", err)
	}

	now = now.Add(CooldownDuration)
	if err := c.Check(); err != nil {
		t.Fatalf("Check after cooldown elapsed: %v", err)
	}
}

func TestCooldownFailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCooldownWithClock(func() time.Time { return now })

	for i := 0; i < MaxFailures-1; i++ {
		c.RecordFailure()
	}
	now = now.Add(FailureWindow + time.Second)
	c.RecordFailure()

	if err := c.Check(); err != nil {
		t.Fatalf("Check after stale failures aged out = %v, want nil", err)
	}
}

func TestCooldownSuccessResetsFailureCount(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCooldownWithClock(func() time.Time { return now })

	for i := 0; i < MaxFailures-1; i++ {
		c.RecordFailure()
	}
	c.RecordSuccess()
	c.RecordFailure()

	if err := c.Check(); err != nil {
		t.Fatalf("Check after reset = %v, want nil (only one failure since reset)", err)
	}
}
