package quality

import "testing"

func TestDegradeStepsDownOneRungAtATime(t *testing.T) {
	c := New()
	bad := Sample{PacketLossPct: 8, RTTMs: 260, JitterMs: 35}

	next, changed := c.Feed(bad)
	if !changed || next != HD720 {
		t.Fatalf("first bad sample: got %v changed=%v, want HD720/true", next, changed)
	}

	next, changed = c.Feed(bad)
	if !changed || next != SD480 {
		t.Fatalf("second bad sample: got %v changed=%v, want SD480/true", next, changed)
	}

	// Already at the floor: no further step, no-op per spec §4.4.
	next, changed = c.Feed(bad)
	if changed || next != SD480 {
		t.Fatalf("third bad sample: got %v changed=%v, want SD480/false", next, changed)
	}
}

func TestRecoveryRequiresEightConsecutiveGoodSamples(t *testing.T) {
	c := New()
	c.ForceState(SD480)
	good := Sample{PacketLossPct: 0.8, RTTMs: 70, JitterMs: 5}

	for i := 0; i < 7; i++ {
		_, changed := c.Feed(good)
		if changed {
			t.Fatalf("sample %d unexpectedly changed state", i+1)
		}
	}

	next, changed := c.Feed(good)
	if !changed || next != Recovering {
		t.Fatalf("8th good sample: got %v changed=%v, want RECOVERING/true", next, changed)
	}
}

func TestNeitherGoodNorBadResetsCounterWithoutChange(t *testing.T) {
	c := New()
	c.ForceState(SD480)
	good := Sample{PacketLossPct: 0.8, RTTMs: 70, JitterMs: 5}
	neutral := Sample{PacketLossPct: 3, RTTMs: 180, JitterMs: 20}

	for i := 0; i < 5; i++ {
		c.Feed(good)
	}
	if _, changed := c.Feed(neutral); changed {
		t.Fatal("neutral sample must never report a change")
	}
	// Counter was reset, so 8 more good samples (not 3) are needed: 7 that
	// change nothing, then the 8th that reports RECOVERING.
	for i := 0; i < 7; i++ {
		if _, changed := c.Feed(good); changed {
			t.Fatalf("sample %d after reset changed early", i+1)
		}
	}
	if next, changed := c.Feed(good); !changed || next != Recovering {
		t.Fatalf("final good sample: got %v changed=%v, want RECOVERING/true", next, changed)
	}
}

func TestAlreadyAtTopNeverReportsRecovering(t *testing.T) {
	c := New() // starts at HD1080
	good := Sample{PacketLossPct: 0.8, RTTMs: 70, JitterMs: 5}
	for i := 0; i < 10; i++ {
		if _, changed := c.Feed(good); changed {
			t.Fatalf("sample %d at HD1080 unexpectedly changed", i+1)
		}
	}
	if c.Active() != HD1080 {
		t.Fatalf("active = %v, want HD1080", c.Active())
	}
}

func TestCompleteRecoveryResolvesToHD1080(t *testing.T) {
	c := New()
	c.ForceState(Recovering)
	c.CompleteRecovery()
	if c.Active() != HD1080 {
		t.Fatalf("active = %v, want HD1080", c.Active())
	}
}

func TestStepUpOrder(t *testing.T) {
	if StepUp(SD480) != HD720 {
		t.Fatal("SD480 should step up to HD720")
	}
	if StepUp(HD720) != HD1080 {
		t.Fatal("HD720 should step up to HD1080")
	}
	if StepUp(HD1080) != HD1080 {
		t.Fatal("HD1080 should stay at HD1080")
	}
}
