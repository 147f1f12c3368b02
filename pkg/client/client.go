// Package client speaks the relay room protocol from the player side.
package client

import (
	"net/url"

	"github.com/goccy/go-json"
	"github.com/playmesh/playmesh/pkg/api"
	"github.com/playmesh/playmesh/pkg/com"
	"github.com/playmesh/playmesh/pkg/logger"
)

// Client is one connection to the relay. Callbacks fire on the reader
// goroutine of the connection; set them before Listen.
type Client struct {
	conn *com.SocketClient
	log  *logger.Logger

	// ConnId is the server-assigned connection identifier, learned
	// from the roster when the join is confirmed.
	ConnId string

	OnRoomJoined   func(api.RoomJoinedResponse)
	OnPlayerJoined func(api.PlayerJoinedNotice)
	OnPlayerLeft   func(api.PlayerLeftNotice)
	OnMoved        func(api.MoveNotice)
	OnAction       func(api.GameActionNotice)
	OnChat         func(api.ChatNotice)
	OnStarted      func(api.GameStartedNotice)
	OnSignal       func(t api.PT, sig api.SignalNotice)
	OnError        func(api.ErrorResponse)

	playerId string
}

func Connect(address url.URL, log *logger.Logger) (*Client, error) {
	conn, err := com.NewConnector(com.WithTag("client")).NewClient(address, log)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn, log: conn.Log()}
	conn.OnPacket(c.route)
	return c, nil
}

// Listen starts the connection pumps.
func (c *Client) Listen() { c.conn.Listen() }

func (c *Client) Wait() chan struct{} { return c.conn.Wait() }

func (c *Client) Close() { c.conn.Disconnect() }

func (c *Client) route(p api.In) {
	switch p.T {
	case api.RoomJoined:
		if rs := api.Unwrap[api.RoomJoinedResponse](p.Payload); rs != nil {
			for _, m := range rs.Members {
				if m.PlayerId == c.playerId {
					c.ConnId = m.ConnId
				}
			}
			if c.OnRoomJoined != nil {
				c.OnRoomJoined(*rs)
			}
		}
	case api.PlayerJoined:
		relay(p.Payload, c.OnPlayerJoined)
	case api.PlayerLeft:
		relay(p.Payload, c.OnPlayerLeft)
	case api.PlayerMoved:
		relay(p.Payload, c.OnMoved)
	case api.GameAction:
		relay(p.Payload, c.OnAction)
	case api.ChatMessage:
		relay(p.Payload, c.OnChat)
	case api.GameStarted:
		relay(p.Payload, c.OnStarted)
	case api.Offer, api.Answer, api.IceCandidate:
		if c.OnSignal != nil {
			if sig := api.Unwrap[api.SignalNotice](p.Payload); sig != nil {
				c.OnSignal(p.T, *sig)
			}
		}
	case api.Error:
		relay(p.Payload, c.OnError)
	default:
		c.log.Warn().Msgf("unknown packet %v", p.T)
	}
}

func relay[T any](payload []byte, fn func(T)) {
	if fn == nil {
		return
	}
	if v := api.Unwrap[T](payload); v != nil {
		fn(*v)
	}
}

// Join announces the intent to join a room; the result arrives as
// either a RoomJoined or an Error packet.
func (c *Client) Join(roomId, playerId, name string) {
	c.playerId = playerId
	c.conn.Notify(api.JoinRoom, api.JoinRoomRequest{RoomId: roomId, PlayerId: playerId, DisplayName: name})
}

func (c *Client) Move(roomId string, pos api.Vec, rot, vel *api.Vec) {
	c.conn.Notify(api.PlayerMove, api.MoveRequest{RoomId: roomId, Position: pos, Rotation: rot, Velocity: vel})
}

func (c *Client) Action(roomId, action string, payload json.RawMessage) {
	c.conn.Notify(api.GameAction, api.GameActionRequest{RoomId: roomId, Action: action, Payload: payload})
}

func (c *Client) Chat(roomId, message, name string) {
	c.conn.Notify(api.ChatMessage, api.ChatRequest{RoomId: roomId, Message: message, DisplayName: name})
}

func (c *Client) Start(roomId string) {
	c.conn.Notify(api.GameStart, api.GameStartRequest{RoomId: roomId})
}

// Signal routes a p2p handshake message through the relay, to one
// target connection or the whole room when targetId is empty.
func (c *Client) Signal(t api.PT, roomId, targetId string, payload json.RawMessage) {
	c.conn.Notify(t, api.SignalRequest{RoomId: roomId, TargetId: targetId, Payload: payload})
}
