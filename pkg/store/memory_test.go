package store

import (
	"context"
	"errors"
	"testing"
)

func TestCreateDefaults(t *testing.T) {
	m := NewMemory()
	room := Room{HostId: "host"}
	if err := m.Create(context.Background(), &room); err != nil {
		t.Fatalf("create fail: %v", err)
	}
	if room.RoomId == "" || len(room.RoomId) != 8 {
		t.Errorf("expected a generated 8-char token, got %q", room.RoomId)
	}
	saved, err := m.Room(context.Background(), room.RoomId)
	if err != nil {
		t.Fatalf("lookup fail: %v", err)
	}
	if saved.State.Status != StatusWaiting {
		t.Errorf("expected %v, got %v", StatusWaiting, saved.State.Status)
	}
	if saved.MaxPlayers != 4 {
		t.Errorf("expected default capacity 4, got %v", saved.MaxPlayers)
	}
	if saved.Player("host") == nil {
		t.Errorf("expected the host on the roster")
	}
}

func TestAddPlayer(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	room := Room{RoomId: "abc12345", HostId: "p1", MaxPlayers: 2}
	_ = m.Create(ctx, &room)

	if _, err := m.AddPlayer(ctx, "abc12345", "p1"); !errors.Is(err, ErrAlreadyJoined) {
		t.Errorf("expected %v, got %v", ErrAlreadyJoined, err)
	}
	if _, err := m.AddPlayer(ctx, "abc12345", "p2"); err != nil {
		t.Errorf("add fail: %v", err)
	}
	if _, err := m.AddPlayer(ctx, "abc12345", "p3"); !errors.Is(err, ErrRoomFull) {
		t.Errorf("expected %v, got %v", ErrRoomFull, err)
	}
	if _, err := m.AddPlayer(ctx, "nothere0", "p4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected %v, got %v", ErrNotFound, err)
	}
}

func TestConnectionBookkeeping(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	room := Room{RoomId: "abc12345", HostId: "p1"}
	_ = m.Create(ctx, &room)
	_, _ = m.AddPlayer(ctx, "abc12345", "p2")

	if err := m.SetPlayerConnection(ctx, "abc12345", "p1", "conn-1", true); err != nil {
		t.Fatalf("bind fail: %v", err)
	}
	if err := m.SetPlayerConnection(ctx, "abc12345", "ghost", "conn-9", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected %v, got %v", ErrNotFound, err)
	}

	saved, _ := m.Room(ctx, "abc12345")
	p := saved.Player("p1")
	if p.ConnId != "conn-1" || !p.Connected {
		t.Errorf("expected p1 bound to conn-1, got %+v", p)
	}

	// room-less teardown clears every membership holding the connection
	if err := m.DisconnectByConn(ctx, "conn-1"); err != nil {
		t.Fatalf("disconnect fail: %v", err)
	}
	saved, _ = m.Room(ctx, "abc12345")
	if saved.Player("p1").Connected {
		t.Errorf("expected p1 disconnected")
	}
	if saved.Player("p2").Connected {
		t.Errorf("expected p2 untouched and disconnected")
	}
}

func TestStatusTimes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	room := Room{RoomId: "abc12345"}
	_ = m.Create(ctx, &room)

	if err := m.SetStatus(ctx, "abc12345", StatusStarting); err != nil {
		t.Fatalf("status fail: %v", err)
	}
	saved, _ := m.Room(ctx, "abc12345")
	if saved.State.Status != StatusStarting || saved.State.StartTime == nil {
		t.Errorf("expected a start time with %v, got %+v", StatusStarting, saved.State)
	}
	_ = m.SetStatus(ctx, "abc12345", StatusFinished)
	saved, _ = m.Room(ctx, "abc12345")
	if saved.State.EndTime == nil {
		t.Errorf("expected an end time with %v", StatusFinished)
	}
	if err := m.SetStatus(ctx, "nothere0", StatusPlaying); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected %v, got %v", ErrNotFound, err)
	}
}

func TestRoomCopyIsolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Create(ctx, &Room{RoomId: "abc12345", HostId: "p1"})

	got, _ := m.Room(ctx, "abc12345")
	got.Players[0].Score = 9000
	again, _ := m.Room(ctx, "abc12345")
	if again.Players[0].Score != 0 {
		t.Errorf("store leaked its internal state")
	}
}
