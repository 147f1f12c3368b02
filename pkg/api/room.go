package api

import "github.com/goccy/go-json"

// Vec is a position/rotation/velocity triple in game space.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// ScoreUpdate is the only game action mirrored into the room scratchpad.
const ScoreUpdate = "score-update"

type JoinRoomRequest struct {
	RoomId      string `json:"room_id"`
	PlayerId    string `json:"player_id"`
	DisplayName string `json:"name"`
}

// Member is one connected room membership as seen by a joining client.
// Position and Rotation carry the member's last known transform, when any.
type Member struct {
	PlayerId    string `json:"player_id"`
	ConnId      string `json:"cid"`
	DisplayName string `json:"name,omitempty"`
	Score       int    `json:"score"`
	Status      string `json:"status"`
	Position    *Vec   `json:"pos,omitempty"`
	Rotation    *Vec   `json:"rot,omitempty"`
}

type RoomJoinedResponse struct {
	RoomId  string                     `json:"room_id"`
	Members []Member                   `json:"members"`
	Status  string                     `json:"status"`
	Scores  map[string]json.RawMessage `json:"scores,omitempty"`
}

type PlayerJoinedNotice struct {
	PlayerId       string `json:"player_id"`
	ConnId         string `json:"cid"`
	DisplayName    string `json:"name"`
	ConnectedCount int    `json:"count"`
}

type PlayerLeftNotice struct {
	ConnId         string `json:"cid"`
	ConnectedCount int    `json:"count"`
}

type MoveRequest struct {
	RoomId   string `json:"room_id"`
	Position Vec    `json:"pos"`
	Rotation *Vec   `json:"rot,omitempty"`
	Velocity *Vec   `json:"vel,omitempty"`
}

type MoveNotice struct {
	ConnId    string `json:"cid"`
	Position  Vec    `json:"pos"`
	Rotation  *Vec   `json:"rot,omitempty"`
	Velocity  *Vec   `json:"vel,omitempty"`
	Timestamp int64  `json:"ts"`
}

type GameActionRequest struct {
	RoomId  string          `json:"room_id"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type GameActionNotice struct {
	ConnId    string          `json:"cid"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts"`
}

type ChatRequest struct {
	RoomId      string `json:"room_id"`
	Message     string `json:"message"`
	DisplayName string `json:"name"`
}

type ChatNotice struct {
	Message     string `json:"message"`
	DisplayName string `json:"name"`
	ConnId      string `json:"cid"`
	Timestamp   int64  `json:"ts"`
}

type GameStartRequest struct {
	RoomId string `json:"room_id"`
}

type GameStartedNotice struct {
	ConnId    string `json:"cid"`
	Timestamp int64  `json:"ts"`
}

// SignalRequest routes a p2p handshake message either to one named
// target connection or, when TargetId is empty, to the rest of the room.
// The payload is opaque to the relay.
type SignalRequest struct {
	RoomId   string          `json:"room_id"`
	TargetId string          `json:"target_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

type SignalNotice struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}
