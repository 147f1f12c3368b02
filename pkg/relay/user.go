package relay

import (
	"sync"

	"github.com/playmesh/playmesh/pkg/api"
	"github.com/playmesh/playmesh/pkg/com"
	"github.com/playmesh/playmesh/pkg/logger"
)

// User is one live connection to the relay. It may belong to at most
// one room; the zero room means the connection has not joined yet.
//
// Packet handling runs on the reader goroutine, but the teardown can
// fire from the connection goroutine while a join is still in flight,
// so membership state is guarded by its own mutex.
type User struct {
	*com.SocketClient

	PlayerId string
	Name     string

	mu   sync.Mutex
	room *Room
	gone bool

	hub *Hub
	log *logger.Logger
}

func NewUser(conn *com.SocketClient, hub *Hub) *User {
	return &User{SocketClient: conn, hub: hub, log: conn.Log()}
}

// Room returns the joined room or nil.
func (u *User) Room() *Room { u.mu.Lock(); defer u.mu.Unlock(); return u.room }

// HandleRequests routes all incoming packets of the connection.
// Malformed payloads are dropped with a log line and never
// terminate the connection.
func (u *User) HandleRequests() {
	u.OnPacket(func(p api.In) {
		switch p.T {
		case api.JoinRoom:
			rq := api.Unwrap[api.JoinRoomRequest](p.Payload)
			if rq == nil {
				u.log.Error().Msgf("malformed %v", p.T)
				return
			}
			u.HandleJoinRoom(*rq)
		case api.PlayerMove:
			rq := api.Unwrap[api.MoveRequest](p.Payload)
			if rq == nil {
				u.log.Error().Msgf("malformed %v", p.T)
				return
			}
			u.HandleMove(*rq)
		case api.GameAction:
			rq := api.Unwrap[api.GameActionRequest](p.Payload)
			if rq == nil {
				u.log.Error().Msgf("malformed %v", p.T)
				return
			}
			u.HandleGameAction(*rq)
		case api.ChatMessage:
			rq := api.Unwrap[api.ChatRequest](p.Payload)
			if rq == nil {
				u.log.Error().Msgf("malformed %v", p.T)
				return
			}
			u.HandleChat(*rq)
		case api.GameStart:
			rq := api.Unwrap[api.GameStartRequest](p.Payload)
			if rq == nil {
				u.log.Error().Msgf("malformed %v", p.T)
				return
			}
			u.HandleGameStart(*rq)
		case api.Offer, api.Answer, api.IceCandidate:
			rq := api.Unwrap[api.SignalRequest](p.Payload)
			if rq == nil {
				u.log.Error().Msgf("malformed %v", p.T)
				return
			}
			u.HandleSignal(p.T, *rq)
		default:
			u.log.Warn().Msgf("unknown packet %v", p.T)
		}
	})
}

// SendError reports a failure to this connection only.
func (u *User) SendError(message string) {
	u.Notify(api.Error, api.ErrorResponse{Message: message})
}

func (u *User) SendRoomJoined(rs api.RoomJoinedResponse) { u.Notify(api.RoomJoined, rs) }
