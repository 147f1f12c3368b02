package relay

import (
	"context"
	"net/http"

	"github.com/playmesh/playmesh/pkg/api"
	"github.com/playmesh/playmesh/pkg/com"
	"github.com/playmesh/playmesh/pkg/config"
	"github.com/playmesh/playmesh/pkg/logger"
	"github.com/playmesh/playmesh/pkg/store"
)

// Hub owns the relay runtime state of one process: the connection
// registry and the arena of active rooms. Runtime state is never shared
// across processes; the store is the only shared collaborator.
type Hub struct {
	conf      config.RelayConfig
	connector *com.Connector
	users     com.NetMap[com.Uid, *User] // connection registry
	rooms     com.Map[string, *Room]     // room arena
	store     store.RoomStore
	bridge    *Bridge
	metrics   *metrics
	log       *logger.Logger
}

func NewHub(conf config.RelayConfig, st store.RoomStore, log *logger.Logger) *Hub {
	return &Hub{
		conf:      conf,
		connector: com.NewConnector(com.WithOrigin(conf.Relay.Origin)),
		users:     com.NewNetMap[com.Uid, *User](),
		rooms:     com.NewMap[string, *Room](),
		store:     st,
		metrics:   newMetrics(),
		log:       log,
	}
}

// handleUserConnection upgrades one websocket connection and pumps its
// packets until the transport drops, gracefully or not.
func (h *Hub) handleUserConnection() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.log.Error().Msgf("recovered user connection panic, %v", err)
			}
		}()

		conn, err := h.connector.NewServer(w, r, h.log)
		if err != nil {
			h.log.Error().Err(err).Msg("couldn't init user connection")
			return
		}
		usr := NewUser(conn, h)
		defer usr.HandleDisconnect()
		usr.HandleRequests()
		usr.Listen()
		<-usr.Wait()
	}
}

// roomFor returns the runtime aggregate for a persisted room, making
// one on first join. The arena lookup and the insert are one atomic
// step, so concurrent first joins share a single aggregate.
func (h *Hub) roomFor(rec *store.Room) *Room {
	room, created := h.rooms.GetOrPut(rec.RoomId, func() *Room {
		return NewRoom(rec.RoomId, rec.State.Status)
	})
	if created {
		h.metrics.onRoom(1)
		if h.bridge != nil {
			h.bridge.Watch(room)
		}
	}
	return room
}

// dropRoom discards the runtime tracking of an emptied room.
// The persisted record is untouched. The aggregate is sealed before
// removal, so a joiner racing the teardown is refused and retries on
// a fresh aggregate instead of landing in a discarded one.
func (h *Hub) dropRoom(id string) {
	room, err := h.rooms.Find(id)
	if err != nil || !room.seal() {
		return
	}
	h.rooms.RemoveByKey(id)
	h.metrics.onRoom(-1)
	if h.bridge != nil {
		h.bridge.Unwatch(id)
	}
}

// roster lists the connected persisted memberships, with the joining
// user overlaid since their own bookkeeping write may still be in flight.
// Last known transforms of live members are attached for the late joiner.
func (h *Hub) roster(rec *store.Room, room *Room, joiner *User) []api.Member {
	members := make([]api.Member, 0, len(rec.Players))
	for _, p := range rec.Players {
		m := api.Member{PlayerId: p.UserId, ConnId: p.ConnId, Score: p.Score, Status: p.Status}
		if p.UserId == joiner.PlayerId {
			m.ConnId = joiner.Id().String()
			m.DisplayName = joiner.Name
		} else if !p.Connected {
			continue
		}
		if pos, rot, ok := room.Transform(com.UidFrom(m.ConnId)); ok {
			m.Position, m.Rotation = &pos, rot
		}
		members = append(members, m)
	}
	return members
}

// FindUser returns the registry entry of a live connection.
func (h *Hub) FindUser(id com.Uid) *User {
	usr, err := h.users.Find(id)
	if err != nil {
		return nil
	}
	return usr
}

func (h *Hub) persistConnection(roomId, userId, connId string, connected bool) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.store.SetPlayerConnection(ctx, roomId, userId, connId, connected); err != nil {
		h.log.Error().Err(err).Str("room", roomId).Msg("connection bookkeeping fail")
	}
}

// persistDisconnect clears the connected flag on any membership holding
// the connection. Failures are logged and swallowed: connected state is
// advisory and may go stale.
func (h *Hub) persistDisconnect(connId string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.store.DisconnectByConn(ctx, connId); err != nil {
		h.log.Error().Err(err).Str("cid", connId).Msg("disconnect bookkeeping fail")
	}
}

func (h *Hub) persistStatus(roomId, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.store.SetStatus(ctx, roomId, status); err != nil {
		h.log.Error().Err(err).Str("room", roomId).Msg("status bookkeeping fail")
	}
}
