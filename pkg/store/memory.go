package store

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local room store used in tests and store-less runs.
type Memory struct {
	rooms map[string]*Room
	mu    sync.Mutex
}

func NewMemory() *Memory { return &Memory{rooms: make(map[string]*Room)} }

func (m *Memory) Room(_ context.Context, roomId string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomId]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *room
	cp.Players = append([]Player(nil), room.Players...)
	return &cp, nil
}

func (m *Memory) Create(_ context.Context, room *Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room.RoomId == "" {
		room.RoomId = NewRoomId()
	}
	now := time.Now()
	room.CreatedAt, room.UpdatedAt = now, now
	if room.State.Status == "" {
		room.State.Status = StatusWaiting
	}
	if room.MaxPlayers == 0 {
		room.MaxPlayers = 4
	}
	if room.HostId != "" && room.Player(room.HostId) == nil {
		room.Players = append(room.Players, Player{UserId: room.HostId, Status: StatusWaiting, JoinedAt: now})
	}
	cp := *room
	cp.Players = append([]Player(nil), room.Players...)
	m.rooms[room.RoomId] = &cp
	return nil
}

func (m *Memory) AddPlayer(_ context.Context, roomId, userId string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomId]
	if !ok {
		return nil, ErrNotFound
	}
	if room.Player(userId) != nil {
		return nil, ErrAlreadyJoined
	}
	if len(room.Players) >= room.MaxPlayers {
		return nil, ErrRoomFull
	}
	room.Players = append(room.Players, Player{UserId: userId, Status: StatusWaiting, JoinedAt: time.Now()})
	room.UpdatedAt = time.Now()
	cp := *room
	cp.Players = append([]Player(nil), room.Players...)
	return &cp, nil
}

func (m *Memory) SetPlayerConnection(_ context.Context, roomId, userId, connId string, connected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomId]
	if !ok {
		return ErrNotFound
	}
	p := room.Player(userId)
	if p == nil {
		return ErrNotFound
	}
	p.ConnId, p.Connected = connId, connected
	room.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) DisconnectByConn(_ context.Context, connId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, room := range m.rooms {
		for i := range room.Players {
			if room.Players[i].ConnId == connId {
				room.Players[i].Connected = false
			}
		}
	}
	return nil
}

func (m *Memory) SetStatus(_ context.Context, roomId, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomId]
	if !ok {
		return ErrNotFound
	}
	room.State.Status = status
	now := time.Now()
	switch status {
	case StatusStarting:
		room.State.StartTime = &now
	case StatusFinished:
		room.State.EndTime = &now
	}
	room.UpdatedAt = now
	return nil
}

func (m *Memory) Close(context.Context) error { return nil }
