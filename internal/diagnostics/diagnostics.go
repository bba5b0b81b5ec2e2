// Package diagnostics implements the bounded chronological merge log of
// local + remote telemetry events (spec §4.5). Two append-only sequences
// are tail-pruned on every insert and can be merged into one stably-sorted
// view.
package diagnostics

import (
	"sort"
	"time"
)

// Retention is how long an event is kept before it is pruned from the tail
// on the next insert (spec §3).
const Retention = 15 * time.Minute

// MaxMessageChars is the longest Event.Message accepted (spec §3).
const MaxMessageChars = 512

// Event is one diagnostics sample or lifecycle note (spec §3).
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	PeerID        string    `json:"peerId"`
	RTTMs         float64   `json:"rttMs"`
	JitterMs      float64   `json:"jitterMs"`
	PacketLossPct float64   `json:"packetLossPct"`
	BitrateKbps   float64   `json:"bitrateKbps"`
	FrameWidth    int       `json:"frameWidth"`
	FrameHeight   int       `json:"frameHeight"`
	FPS           float64   `json:"fps"`
	AudioLevel    float64   `json:"audioLevel"`
	EventType     string    `json:"eventType"`
	Message       string    `json:"message,omitempty"` // remote events over MaxMessageChars are dropped by callctl before insert
}

// Log holds the local and remote event sequences for one call controller.
// It is exclusively owned by that controller and mutated only from its
// single event-loop goroutine (spec §3, §5).
type Log struct {
	local  []Event
	remote []Event
	now    func() time.Time
}

// New constructs an empty Log using wall-clock time.
func New() *Log {
	return &Log{now: time.Now}
}

// NewWithClock constructs a Log using a custom clock, for deterministic
// retention tests.
func NewWithClock(now func() time.Time) *Log {
	return &Log{now: now}
}

// AppendLocal inserts a locally-observed event and prunes both sequences'
// tails of anything older than Retention.
func (l *Log) AppendLocal(e Event) {
	l.local = append(l.local, e)
	l.prune()
}

// AppendRemote inserts a peer-observed event (received over the diag data
// channel) and prunes both sequences.
func (l *Log) AppendRemote(e Event) {
	l.remote = append(l.remote, e)
	l.prune()
}

func (l *Log) prune() {
	cutoff := l.now().Add(-Retention)
	l.local = pruneBefore(l.local, cutoff)
	l.remote = pruneBefore(l.remote, cutoff)
}

func pruneBefore(events []Event, cutoff time.Time) []Event {
	i := 0
	for i < len(events) && events[i].Timestamp.Before(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0:0], events[i:]...)
}

// GetMergedEvents returns both sequences merged into one stable,
// timestamp-ordered slice (spec §4.5, §5: "getMergedEvents imposes a
// stable global order by timestamp").
func (l *Log) GetMergedEvents() []Event {
	merged := make([]Event, 0, len(l.local)+len(l.remote))
	merged = append(merged, l.local...)
	merged = append(merged, l.remote...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

// Export is the shape returned by ExportMergedJSON (spec §4.5).
type Export struct {
	ExportedAt time.Time `json:"exportedAt"`
	LocalCount int       `json:"localCount"`
	RemoteCount int      `json:"remoteCount"`
	Events     []Event   `json:"events"`
}

// ExportMergedJSON builds the exportable snapshot of the merged log.
func (l *Log) ExportMergedJSON() Export {
	return Export{
		ExportedAt:  l.now(),
		LocalCount:  len(l.local),
		RemoteCount: len(l.remote),
		Events:      l.GetMergedEvents(),
	}
}
