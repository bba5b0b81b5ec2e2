package aead

import (
	"sync"
	"time"

	"github.com/n0remac/p2pcall/internal/failure"
)

// FailureWindow is the rolling window brute-force failures are counted over.
const FailureWindow = 60 * time.Second

// MaxFailures is the failure count within FailureWindow that trips the
// cooldown (spec §7).
const MaxFailures = 5

// CooldownDuration is how long further attempts are rejected locally once
// tripped.
const CooldownDuration = 60 * time.Second

// Cooldown implements the local offline-mode brute-force defense: five
// decrypt failures within a 60-second rolling window trigger a 60-second
// cooldown during which Check rejects further attempts with
// failure.ErrSecurityCooldown. A successful decrypt resets the counter.
//
// Cooldown is owned by a single decrypting caller (cmd/packetgen keeps one
// per decrypt role) and is not meant to be shared across unrelated
// passphrase contexts; its mutex makes Check/RecordFailure/RecordSuccess
// safe to call from more than one goroutine.
type Cooldown struct {
	mu          sync.Mutex
	failures    []time.Time
	cooldownTil time.Time
	now         func() time.Time
}

// NewCooldown constructs a Cooldown using wall-clock time.
func NewCooldown() *Cooldown {
	return &Cooldown{now: time.Now}
}

// NewCooldownWithClock constructs a Cooldown using a custom clock, for
// deterministic tests.
func NewCooldownWithClock(now func() time.Time) *Cooldown {
	return &Cooldown{now: now}
}

// Check returns failure.ErrSecurityCooldown if a cooldown is currently
// active; otherwise it returns nil and the caller may proceed to attempt
// decryption.
func (c *Cooldown) Check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now().Before(c.cooldownTil) {
		return failure.ErrSecurityCooldown
	}
	return nil
}

// RecordFailure records one failed decrypt attempt and trips the cooldown
// if MaxFailures have occurred within FailureWindow.
func (c *Cooldown) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	cutoff := now.Add(-FailureWindow)
	kept := c.failures[:0]
	for _, t := range c.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	c.failures = kept
	if len(c.failures) >= MaxFailures {
		c.cooldownTil = now.Add(CooldownDuration)
		c.failures = nil
	}
}

// RecordSuccess resets the failure counter (spec §7: "any successful
// decrypt resets the counter").
func (c *Cooldown) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = nil
}
