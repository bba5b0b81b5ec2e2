package broker

import (
	"sync"
	"time"

	"github.com/n0remac/p2pcall/internal/logging"
)

// restTokenBucketMaxIdle is how long a per-IP token-bucket limiter may sit
// unused before the cleanup ticker reclaims it. It is fixed at 2 minutes,
// which equals the 2*window cutoff fixedWindowStore.Prune uses only under
// the default 60s REST window.
const restTokenBucketMaxIdle = 2 * time.Minute

// Broker wires the room registry, the message-session hub, rate limiting
// and TURN credential minting into the rendezvous surface spec §4.6
// describes. The HTTP handlers (one goroutine per request) and the cleanup
// ticker are the only mutators of registry/hub state, both of which carry
// their own internal locking for that reason.
type Broker struct {
	cfg      Config
	registry *Registry
	hub      *Hub
	now      func() time.Time

	restLimiter     *fixedWindowStore
	restTokenBucket *limiterStore
	wsLimiter       *fixedWindowStore

	cleanupStop chan struct{}
	cleanupDone chan struct{}
	started     bool
	stopOnce    sync.Once
}

// New constructs a Broker using wall-clock time.
func New(cfg Config) *Broker {
	return NewWithClock(cfg, time.Now)
}

// NewWithClock constructs a Broker using a custom clock, for deterministic
// expiry/rate-limit tests.
func NewWithClock(cfg Config, now func() time.Time) *Broker {
	return &Broker{
		cfg:             cfg,
		registry:        NewRegistryWithClock(cfg.RoomTTL, now),
		hub:             newHub(),
		now:             now,
		restLimiter:     newFixedWindowStore(cfg.RESTRateLimitWindowMs, cfg.RESTRateLimitMax, now),
		restTokenBucket: newLimiterStore(float64(cfg.RESTRateLimitMax)/(float64(cfg.RESTRateLimitWindowMs)/1000), cfg.RESTRateLimitMax, now),
		wsLimiter:       newFixedWindowStore(cfg.WSRateLimitWindowMs, cfg.WSRateLimitMax, now),
		cleanupStop:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}
}

// Registry exposes the broker's room registry, e.g. for health/metrics
// reporting by cmd/broker.
func (b *Broker) Registry() *Registry { return b.registry }

// Start launches the cleanup ticker goroutine (spec §4.6 "Lifecycle"):
// evict expired rooms, close their live sessions with a terminal error,
// and prune both rate-limit stores, on cfg.CleanupInterval.
func (b *Broker) Start() {
	b.started = true
	go b.cleanupLoop()
}

func (b *Broker) cleanupLoop() {
	defer close(b.cleanupDone)
	ticker := time.NewTicker(b.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.cleanupStop:
			return
		case <-ticker.C:
			b.runCleanup()
		}
	}
}

func (b *Broker) runCleanup() {
	now := b.now()
	evicted := b.registry.CleanupExpired(now)
	for _, roomID := range evicted {
		b.hub.closeRoom(roomID, "room expired")
	}
	if len(evicted) > 0 {
		logging.Info("broker: cleanup evicted rooms", logging.Fields{"count": len(evicted)})
	}
	b.restLimiter.Prune(now)
	b.wsLimiter.Prune(now)
	b.restTokenBucket.Prune(now, restTokenBucketMaxIdle)
}

// Close stops the cleanup ticker and closes every live session (spec §4.6
// "Lifecycle"). The registry is not cleared: its rooms stay in memory until
// the Broker itself is released.
func (b *Broker) Close() error {
	b.stopOnce.Do(func() {
		if b.started {
			close(b.cleanupStop)
			<-b.cleanupDone
		}
		b.hub.closeAll()
	})
	return nil
}
