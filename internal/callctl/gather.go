package callctl

import (
	"sync"
	"time"
)

// idleSettle and hardCap implement the ICE-gathering settle rule (spec
// §4.3, §5): gathering is complete when the transport reports complete, a
// null candidate is observed, 250ms pass with no new candidate, or 1500ms
// elapse total. The 1500ms cap is absolute; the 250ms idle timer resets on
// every observed candidate.
const (
	gatherIdleSettle = 250 * time.Millisecond
	gatherHardCap    = 1500 * time.Millisecond
)

// gatherSession tracks one candidate-gathering wait. It is created fresh
// per offer/answer creation and discarded once settled.
type gatherSession struct {
	mu        sync.Mutex
	done      chan struct{}
	closed    bool
	idleTimer Timer
	hardTimer Timer
}

func newGatherSession(clock Clock) *gatherSession {
	s := &gatherSession{done: make(chan struct{})}
	s.idleTimer = clock.AfterFunc(gatherIdleSettle, s.complete)
	s.hardTimer = clock.AfterFunc(gatherHardCap, s.complete)
	return s
}

func (s *gatherSession) complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// onCandidate resets the idle settle timer; a late reset against an already
// -settled session is a no-op.
func (s *gatherSession) onCandidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.idleTimer.Reset(gatherIdleSettle)
}

func (s *gatherSession) wait() {
	<-s.done
}

func (s *gatherSession) stop() {
	s.idleTimer.Stop()
	s.hardTimer.Stop()
}
