// Package api defines the realtime room protocol shared by the relay server and its clients.
//
// Each message is a JSON-encoded "packet" of the following structure:
//
//	t - (required) one of the predefined unique packet types;
//	p - (optional) packet payload with arbitrary data.
//
// Packets differentiate by their predefined types with which it is possible
// to unwrap the payload into distinct request/response data structures.
//
// Example:
//
//	{"t":1,"p":{"room_id":"abc12345","player_id":"u1","name":"Alice"}}
package api

import (
	"errors"

	"github.com/goccy/go-json"
)

type PT uint8

type In struct {
	T       PT              `json:"t"`
	Payload json.RawMessage `json:"p,omitempty"` // should be json.RawMessage for 2-pass unmarshal
}

type Out struct {
	T       PT  `json:"t"`
	Payload any `json:"p,omitempty"`
}

// Packet codes:
//
//	x - room lifecycle codes
//	1xx - in-game relay codes
//	2xx - p2p signaling codes
const (
	JoinRoom     PT = 1
	RoomJoined   PT = 2
	PlayerJoined PT = 3
	PlayerLeft   PT = 4
	GameStart    PT = 5
	GameStarted  PT = 6
	Error        PT = 7
	PlayerMove   PT = 100
	PlayerMoved  PT = 101
	GameAction   PT = 102
	ChatMessage  PT = 103
	Offer        PT = 201
	Answer       PT = 202
	IceCandidate PT = 203
)

func (p PT) String() string {
	switch p {
	case JoinRoom:
		return "JoinRoom"
	case RoomJoined:
		return "RoomJoined"
	case PlayerJoined:
		return "PlayerJoined"
	case PlayerLeft:
		return "PlayerLeft"
	case GameStart:
		return "GameStart"
	case GameStarted:
		return "GameStarted"
	case Error:
		return "Error"
	case PlayerMove:
		return "PlayerMove"
	case PlayerMoved:
		return "PlayerMoved"
	case GameAction:
		return "GameAction"
	case ChatMessage:
		return "ChatMessage"
	case Offer:
		return "Offer"
	case Answer:
		return "Answer"
	case IceCandidate:
		return "IceCandidate"
	default:
		return "Unknown"
	}
}

// IsSignal reports whether the packet bootstraps a p2p handshake.
func (p PT) IsSignal() bool { return p == Offer || p == Answer || p == IceCandidate }

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrTargetNotFound = errors.New("target not found")
	ErrMalformed      = errors.New("malformed")
)

func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}
