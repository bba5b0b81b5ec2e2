package diagnostics

import (
	"testing"
	"time"
)

func TestMergedEventsOrderedByTimestamp(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	l := NewWithClock(func() time.Time { return clock })

	l.AppendLocal(Event{Timestamp: base.Add(20 * time.Second), PeerID: "local"})
	l.AppendRemote(Event{Timestamp: base.Add(10 * time.Second), PeerID: "remote"})

	merged := l.GetMergedEvents()
	if len(merged) != 2 {
		t.Fatalf("len = %d, want 2", len(merged))
	}
	if merged[0].PeerID != "remote" || merged[1].PeerID != "local" {
		t.Fatalf("order = [%s, %s], want [remote, local]", merged[0].PeerID, merged[1].PeerID)
	}
}

func TestRetentionPrunesOldEntriesOnInsert(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	l := NewWithClock(func() time.Time { return clock })

	l.AppendLocal(Event{Timestamp: base, PeerID: "stale"})
	clock = base.Add(Retention + time.Minute)
	l.AppendLocal(Event{Timestamp: clock, PeerID: "fresh"})

	merged := l.GetMergedEvents()
	if len(merged) != 1 || merged[0].PeerID != "fresh" {
		t.Fatalf("merged = %+v, want only the fresh event", merged)
	}
}

func TestExportMergedJSONCounts(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewWithClock(func() time.Time { return base })
	l.AppendLocal(Event{Timestamp: base})
	l.AppendLocal(Event{Timestamp: base})
	l.AppendRemote(Event{Timestamp: base})

	export := l.ExportMergedJSON()
	if export.LocalCount != 2 || export.RemoteCount != 1 {
		t.Fatalf("export = %+v, want LocalCount=2 RemoteCount=1", export)
	}
	if len(export.Events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(export.Events))
	}
}
