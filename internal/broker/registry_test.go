package broker

import (
	"strings"
	"testing"
	"time"
)

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRegistryAdmissionScenario(t *testing.T) {
	// spec §8 scenario 7, literally.
	base := time.Unix(1_700_000_000, 0)
	reg := NewRegistryWithClock(DefaultTTL, clockAt(base))

	room, err := reg.CreateRoom()
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	if _, code := reg.ValidateJoin(room.RoomID, "host-1", RoleHost); code != JoinOK {
		t.Fatalf("first host join: got %s, want ok", code)
	}
	if err := reg.AddParticipant(room.RoomID, "host-1", RoleHost); err != nil {
		t.Fatalf("AddParticipant host-1: %v", err)
	}

	if _, code := reg.ValidateJoin(room.RoomID, "host-2", RoleHost); code != JoinRoleTaken {
		t.Fatalf("second distinct host: got %s, want ROLE_TAKEN", code)
	}

	if _, code := reg.ValidateJoin(room.RoomID, "guest-1", RoleGuest); code != JoinOK {
		t.Fatalf("first guest join: got %s, want ok", code)
	}
	if err := reg.AddParticipant(room.RoomID, "guest-1", RoleGuest); err != nil {
		t.Fatalf("AddParticipant guest-1: %v", err)
	}

	if _, code := reg.ValidateJoin(room.RoomID, "third-1", RoleGuest); code != JoinRoomFull {
		t.Fatalf("third distinct peer: got %s, want ROOM_FULL", code)
	}
	if _, code := reg.ValidateJoin(room.RoomID, "third-1", RoleHost); code != JoinRoomFull {
		t.Fatalf("third distinct peer (other role): got %s, want ROOM_FULL", code)
	}

	reg.RemoveParticipant(room.RoomID, "guest-1")
	if _, code := reg.ValidateJoin(room.RoomID, "third-1", RoleGuest); code != JoinOK {
		t.Fatalf("third peer after guest left: got %s, want ok", code)
	}
}

func TestRegistryGetActiveRoomEvictsExpired(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	now := base
	reg := NewRegistryWithClock(time.Minute, func() time.Time { return now })

	room, err := reg.CreateRoom()
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	now = base.Add(2 * time.Minute)
	if _, ok := reg.GetActiveRoom(room.RoomID); ok {
		t.Fatal("expected expired room to be inactive")
	}
	if reg.Count() != 0 {
		t.Fatalf("expected eviction on miss, got %d rooms remaining", reg.Count())
	}
}

func TestRegistryValidateJoinInvalidRole(t *testing.T) {
	reg := NewRegistry(DefaultTTL)
	room, err := reg.CreateRoom()
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, code := reg.ValidateJoin(room.RoomID, "p1", Role("spectator")); code != JoinInvalidRole {
		t.Fatalf("got %s, want INVALID_ROLE", code)
	}
}

func TestRegistryValidateJoinRoomNotFound(t *testing.T) {
	reg := NewRegistry(DefaultTTL)
	if _, code := reg.ValidateJoin("meet-doesnotexist01", "p1", RoleHost); code != JoinRoomNotFound {
		t.Fatalf("got %s, want ROOM_NOT_FOUND", code)
	}
}

func TestRoomIDMatchesPattern(t *testing.T) {
	reg := NewRegistry(DefaultTTL)
	room, err := reg.CreateRoom()
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if len(room.RoomID) != len(RoomIDPrefix)+roomIDRandomChars {
		t.Fatalf("unexpected room id length: %q", room.RoomID)
	}
	for _, r := range room.RoomID[len(RoomIDPrefix):] {
		if !strings.ContainsRune(roomIDAlphabet, r) {
			t.Fatalf("room id %q contains a character outside the alphabet", room.RoomID)
		}
	}
}

func TestCleanupExpiredEvictsOnlyStaleRooms(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	now := base
	reg := NewRegistryWithClock(time.Minute, func() time.Time { return now })

	stale, err := reg.CreateRoom()
	if err != nil {
		t.Fatalf("CreateRoom stale: %v", err)
	}

	now = base.Add(90 * time.Second)
	fresh, err := reg.CreateRoom()
	if err != nil {
		t.Fatalf("CreateRoom fresh: %v", err)
	}

	evicted := reg.CleanupExpired(base.Add(100 * time.Second))
	if len(evicted) != 1 || evicted[0] != stale.RoomID {
		t.Fatalf("expected only the stale room evicted, got %v", evicted)
	}
	if reg.Count() != 1 {
		t.Fatalf("expected one room remaining, got %d", reg.Count())
	}
	if _, ok := reg.GetActiveRoom(fresh.RoomID); !ok {
		t.Fatal("expected fresh room to still be active")
	}
}
