package relay

import (
	"context"
	"errors"
	"time"

	"github.com/playmesh/playmesh/pkg/api"
	"github.com/playmesh/playmesh/pkg/com"
	"github.com/playmesh/playmesh/pkg/store"
)

const storeTimeout = 5 * time.Second

// HandleJoinRoom admits the connection into a room: the persisted room
// is looked up first, the runtime group and the registry are updated,
// others get a player-joined notice, and the joiner gets the roster.
// Persisted connection bookkeeping runs in the background and is never
// awaited by any broadcast.
func (u *User) HandleJoinRoom(rq api.JoinRoomRequest) {
	u.mu.Lock()
	if u.gone {
		u.mu.Unlock()
		return
	}
	if u.room != nil {
		u.mu.Unlock()
		u.SendError("already in a room")
		return
	}
	u.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	rec, err := u.hub.store.Room(ctx, rq.RoomId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			u.SendError("Room not found")
		} else {
			u.log.Error().Err(err).Str("room", rq.RoomId).Msg("room lookup fail")
			u.SendError("Room not found")
		}
		return
	}

	// membership, registry and the gone flag flip in one critical
	// section, so a teardown racing the lookup never leaves a ghost
	u.mu.Lock()
	if u.gone {
		u.mu.Unlock()
		return
	}
	u.PlayerId, u.Name = rq.PlayerId, rq.DisplayName
	var room *Room
	var count int
	for {
		room = u.hub.roomFor(rec)
		var ok bool
		if count, ok = room.Add(u); ok {
			break
		}
		// lost the race against a teardown of the emptied aggregate
	}
	u.room = room
	u.hub.users.Add(u)
	u.mu.Unlock()
	u.hub.metrics.onJoin()

	// membership bookkeeping is best-effort: a player that is not on
	// the persisted roster still joins the broadcast group
	if rec.Player(rq.PlayerId) == nil {
		u.log.Warn().Str("room", rq.RoomId).Str("player", rq.PlayerId).Msg("no persisted membership")
	} else {
		go u.hub.persistConnection(rq.RoomId, rq.PlayerId, u.Id().String(), true)
	}

	room.Broadcast(u.Id(), api.PlayerJoined, api.PlayerJoinedNotice{
		PlayerId:       rq.PlayerId,
		ConnId:         u.Id().String(),
		DisplayName:    rq.DisplayName,
		ConnectedCount: count,
	})

	u.SendRoomJoined(api.RoomJoinedResponse{
		RoomId:  rq.RoomId,
		Members: u.hub.roster(rec, room, u),
		Status:  room.Status(),
		Scores:  room.Scores(),
	})
	u.log.Info().Str("room", rq.RoomId).Str("player", rq.PlayerId).Msg("Joined")
}

// HandleMove relays a movement update to the rest of the room and
// remembers the transform for late joiners.
func (u *User) HandleMove(rq api.MoveRequest) {
	room := u.Room()
	if room == nil {
		return
	}
	room.Move(u.Id(), rq.Position, rq.Rotation)
	u.hub.metrics.onRelay(api.PlayerMoved)
	room.Broadcast(u.Id(), api.PlayerMoved, api.MoveNotice{
		ConnId:    u.Id().String(),
		Position:  rq.Position,
		Rotation:  rq.Rotation,
		Velocity:  rq.Velocity,
		Timestamp: now(),
	})
}

// HandleGameAction relays an opaque game action. A score-update action
// is additionally mirrored into the room scratchpad.
func (u *User) HandleGameAction(rq api.GameActionRequest) {
	room := u.Room()
	if room == nil {
		return
	}
	if rq.Action == api.ScoreUpdate {
		room.Score(u.Id(), rq.Payload)
	}
	u.hub.metrics.onRelay(api.GameAction)
	room.Broadcast(u.Id(), api.GameAction, api.GameActionNotice{
		ConnId:    u.Id().String(),
		Action:    rq.Action,
		Payload:   rq.Payload,
		Timestamp: now(),
	})
}

func (u *User) HandleChat(rq api.ChatRequest) {
	room := u.Room()
	if room == nil {
		return
	}
	u.hub.metrics.onRelay(api.ChatMessage)
	room.Broadcast(u.Id(), api.ChatMessage, api.ChatNotice{
		Message:     rq.Message,
		DisplayName: rq.DisplayName,
		ConnId:      u.Id().String(),
		Timestamp:   now(),
	})
}

// HandleGameStart flips the room to starting and notifies the others.
// Any member may start; the persisted status update is best-effort.
func (u *User) HandleGameStart(rq api.GameStartRequest) {
	room := u.Room()
	if room == nil {
		return
	}
	room.SetStatus(store.StatusStarting)
	go u.hub.persistStatus(room.Id(), store.StatusStarting)
	room.Broadcast(u.Id(), api.GameStarted, api.GameStartedNotice{
		ConnId:    u.Id().String(),
		Timestamp: now(),
	})
}

// HandleSignal routes a p2p handshake message: to the named target
// connection, or to the rest of the room when no target is set.
// An unknown target is reported back to the sender; the payload is
// never interpreted.
func (u *User) HandleSignal(t api.PT, rq api.SignalRequest) {
	room := u.Room()
	if room == nil {
		return
	}
	notice := api.SignalNotice{From: u.Id().String(), Payload: rq.Payload}
	u.hub.metrics.onRelay(t)
	if rq.TargetId != "" {
		if !room.To(com.UidFrom(rq.TargetId), t, notice) {
			u.SendError("target not found")
		}
		return
	}
	room.Broadcast(u.Id(), t, notice)
}

// HandleDisconnect reconciles the runtime and persisted state after the
// transport drops, gracefully or not. A connection that joined no room
// is a no-op beyond the registry. Runs at most once; a join losing the
// race against it backs off on the gone flag.
func (u *User) HandleDisconnect() {
	u.mu.Lock()
	if u.gone {
		u.mu.Unlock()
		return
	}
	u.gone = true
	room := u.room
	u.room = nil
	u.mu.Unlock()

	u.hub.users.Remove(u)
	if room == nil {
		return
	}
	count := room.Remove(u)
	u.hub.metrics.onLeave()
	room.Broadcast(u.Id(), api.PlayerLeft, api.PlayerLeftNotice{
		ConnId:         u.Id().String(),
		ConnectedCount: count,
	})
	if room.IsEmpty() {
		u.hub.dropRoom(room.Id())
	}
	go u.hub.persistDisconnect(u.Id().String())
	u.log.Info().Str("room", room.Id()).Msg("Left")
}
