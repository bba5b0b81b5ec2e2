// Package quality implements the adaptive video-quality ladder (spec §4.4):
// a hysteresis state machine that steps down immediately on a bad sample and
// requires 8 consecutive good samples before signaling a step up.
package quality

// State is one rung of the quality ladder, plus the transient recovery
// sentinel. States are ordered best-to-worst for HD_1080..SD_480 except
// Recovering, which is never a resting state (spec §9).
type State int

const (
	HD1080 State = iota
	HD720
	SD480
	Recovering
)

func (s State) String() string {
	switch s {
	case HD1080:
		return "HD_1080"
	case HD720:
		return "HD_720"
	case SD480:
		return "SD_480"
	case Recovering:
		return "RECOVERING"
	default:
		return "UNKNOWN"
	}
}

// Profile carries the concrete encoding parameters for an active ladder
// rung (spec §3). Recovering has no profile of its own — callers must
// resolve it to HD1080's profile one rung at a time (spec §4.3).
type Profile struct {
	Width       int
	Height      int
	MaxBitrate  int // bits per second
}

var profiles = map[State]Profile{
	HD1080: {Width: 1920, Height: 1080, MaxBitrate: 3_500_000},
	HD720:  {Width: 1280, Height: 720, MaxBitrate: 2_000_000},
	SD480:  {Width: 854, Height: 480, MaxBitrate: 900_000},
}

// ProfileFor returns the encoding profile for an active (non-Recovering)
// state.
func ProfileFor(s State) (Profile, bool) {
	p, ok := profiles[s]
	return p, ok
}

// stepUp returns the rung one step better than s, or s itself at the top.
func stepUp(s State) State {
	switch s {
	case SD480:
		return HD720
	case HD720:
		return HD1080
	default:
		return HD1080
	}
}

// stepDown returns the rung one step worse than s, or s itself at the
// bottom (spec §4.4: "no-op at SD_480").
func stepDown(s State) State {
	switch s {
	case HD1080:
		return HD720
	case HD720:
		return SD480
	default:
		return SD480
	}
}

// Sample is one telemetry projection fed to the controller (spec §4.3/§4.4).
type Sample struct {
	PacketLossPct float64
	RTTMs         float64
	JitterMs      float64
}

// GoodSamplesForRecovery is the number of consecutive good samples required
// before the controller reports a step up (spec §4.4, §8).
const GoodSamplesForRecovery = 8

// isBad reports whether a sample crosses the degrade thresholds.
func isBad(s Sample) bool {
	return s.PacketLossPct >= 5 || s.RTTMs >= 220 || s.JitterMs >= 30
}

// isGood reports whether a sample crosses the recovery thresholds.
func isGood(s Sample) bool {
	return s.PacketLossPct <= 2 && s.RTTMs <= 130 && s.JitterMs <= 16
}

// Controller holds the ladder's current active state and the run of
// consecutive good samples observed since the last reset.
//
// Controller is exclusively owned and mutated by its call controller, on
// that controller's single event-loop goroutine (spec §5) — it carries no
// internal locking.
type Controller struct {
	active            State
	stableSampleCount int
}

// New constructs a Controller starting at HD1080, the top of the ladder.
func New() *Controller {
	return &Controller{active: HD1080}
}

// Active returns the controller's current resting state. It is never
// Recovering (spec §9).
func (c *Controller) Active() State {
	return c.active
}

// Feed applies one telemetry sample and returns the new state plus whether
// it changed from the prior call. A transition to Recovering is reported
// exactly once and is never itself the resting state afterward — the
// caller (internal/callctl) must immediately resolve it by stepping the
// active rung up and re-pinning (spec §4.3, §4.4).
func (c *Controller) Feed(s Sample) (next State, changed bool) {
	switch {
	case isBad(s):
		c.stableSampleCount = 0
		down := stepDown(c.active)
		changed = down != c.active
		c.active = down
		return c.active, changed

	case isGood(s):
		c.stableSampleCount++
		if c.stableSampleCount >= GoodSamplesForRecovery {
			c.stableSampleCount = 0
			if c.active == HD1080 {
				return c.active, false
			}
			return Recovering, true
		}
		return c.active, false

	default:
		c.stableSampleCount = 0
		return c.active, false
	}
}

// ForceState overrides the current state and resets the stable-sample
// counter, e.g. when the caller pins a rung after resolving Recovering.
func (c *Controller) ForceState(s State) {
	c.active = s
	c.stableSampleCount = 0
}

// CompleteRecovery transitions from Recovering to HD1080. Calling it when
// not in Recovering is a no-op beyond resetting the counter, matching the
// spec's treatment of Recovering as an in-band signal rather than state.
func (c *Controller) CompleteRecovery() {
	if c.active == Recovering {
		c.active = HD1080
	}
	c.stableSampleCount = 0
}

// StepUp returns the rung one step better than s — exported so
// internal/callctl can implement "step one rung up, toward HD_1080" when it
// observes a Recovering report (spec §4.3).
func StepUp(s State) State {
	return stepUp(s)
}
