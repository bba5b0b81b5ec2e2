package broker

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// fixedWindowStore is the spec's literal "fixed-window counters keyed by
// IP" admission model (spec §4.6, §6). One store is kept per protected
// surface (REST, WS upgrade) so window/cap can differ between them.
type fixedWindowStore struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
	windowMs int64
	max      int
	now      func() time.Time
}

type windowCounter struct {
	start time.Time
	count int
}

func newFixedWindowStore(windowMs int64, max int, now func() time.Time) *fixedWindowStore {
	return &fixedWindowStore{counters: make(map[string]*windowCounter), windowMs: windowMs, max: max, now: now}
}

// Allow reports whether key may proceed under its current window, bumping
// the counter either way so repeated rejected attempts still count.
func (s *fixedWindowStore) Allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || now.Sub(c.start) >= time.Duration(s.windowMs)*time.Millisecond {
		c = &windowCounter{start: now, count: 0}
		s.counters[key] = c
	}
	c.count++
	return c.count <= s.max
}

// Prune removes windows older than 2*windowMs (spec §4.6).
func (s *fixedWindowStore) Prune(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Duration(2*s.windowMs) * time.Millisecond
	for key, c := range s.counters {
		if now.Sub(c.start) >= cutoff {
			delete(s.counters, key)
		}
	}
}

// limiterStore hands out a per-key token-bucket limiter, grounded on
// other_examples' Adityaadpandey-sfu-go sfu.go getClientRateLimiter/
// removeClientRateLimiter pair: a lazily-created rate.Limiter per client,
// used here for smooth per-IP admission alongside the fixed-window
// counters the spec names literally (see DESIGN.md's Open Question
// decision on this).
type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	r        rate.Limit
	burst    int
	now      func() time.Time
}

func newLimiterStore(perSecond float64, burst int, now func() time.Time) *limiterStore {
	return &limiterStore{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		r:        rate.Limit(perSecond),
		burst:    burst,
		now:      now,
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen[key] = s.now()
	if l, ok := s.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(s.r, s.burst)
	s.limiters[key] = l
	return l
}

func (s *limiterStore) Allow(key string) bool {
	return s.get(key).Allow()
}

func (s *limiterStore) remove(key string) {
	s.mu.Lock()
	delete(s.limiters, key)
	delete(s.lastSeen, key)
	s.mu.Unlock()
}

// Prune drops every per-key limiter idle for at least maxIdle, mirroring
// fixedWindowStore.Prune so both stores shed memory for IPs that stop
// making requests instead of growing unbounded.
func (s *limiterStore) Prune(now time.Time, maxIdle time.Duration) {
	s.mu.Lock()
	var stale []string
	for key, seen := range s.lastSeen {
		if now.Sub(seen) >= maxIdle {
			stale = append(stale, key)
		}
	}
	s.mu.Unlock()

	for _, key := range stale {
		s.remove(key)
	}
}
