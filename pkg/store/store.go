// Package store holds the persisted room records the relay reconciles
// its runtime state with. The relay only reads rooms and flips per-player
// connection bookkeeping; rosters are managed by the REST collaborator
// through Create/AddPlayer.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid"
)

const (
	StatusWaiting  = "waiting"
	StatusStarting = "starting"
	StatusPlaying  = "playing"
	StatusFinished = "finished"
)

var (
	ErrNotFound      = errors.New("room not found")
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyJoined = errors.New("already in room")
)

type Vec struct {
	X float64 `bson:"x" json:"x"`
	Y float64 `bson:"y" json:"y"`
	Z float64 `bson:"z,omitempty" json:"z,omitempty"`
}

// Player is one membership record embedded in a room.
// ConnId and Connected are transient per-session bookkeeping,
// Position/Rotation is a best-effort last known transform.
type Player struct {
	UserId    string    `bson:"user_id" json:"user_id"`
	ConnId    string    `bson:"conn_id,omitempty" json:"conn_id,omitempty"`
	Connected bool      `bson:"connected" json:"connected"`
	Position  *Vec      `bson:"position,omitempty" json:"position,omitempty"`
	Rotation  *Vec      `bson:"rotation,omitempty" json:"rotation,omitempty"`
	Score     int       `bson:"score" json:"score"`
	Status    string    `bson:"status" json:"status"`
	JoinedAt  time.Time `bson:"joined_at" json:"joined_at"`
}

type GameState struct {
	Status       string     `bson:"status" json:"status"`
	StartTime    *time.Time `bson:"start_time,omitempty" json:"start_time,omitempty"`
	EndTime      *time.Time `bson:"end_time,omitempty" json:"end_time,omitempty"`
	CurrentRound int        `bson:"current_round" json:"current_round"`
	MaxRounds    int        `bson:"max_rounds" json:"max_rounds"`
}

type Room struct {
	RoomId     string    `bson:"room_id" json:"room_id"`
	GameId     string    `bson:"game_id" json:"game_id"`
	HostId     string    `bson:"host" json:"host"`
	Players    []Player  `bson:"players" json:"players"`
	State      GameState `bson:"state" json:"state"`
	MaxPlayers int       `bson:"max_players" json:"max_players"`
	Private    bool      `bson:"private" json:"private"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}

// Player finds a membership by the player's durable identity.
func (r *Room) Player(userId string) *Player {
	for i := range r.Players {
		if r.Players[i].UserId == userId {
			return &r.Players[i]
		}
	}
	return nil
}

// RoomStore is the persisted record of rooms shared with the REST collaborator.
//
// The relay treats every write after the initial lookup as best-effort:
// broadcasts to room members never wait for the store.
type RoomStore interface {
	// Room returns the room by its public token or ErrNotFound.
	Room(ctx context.Context, roomId string) (*Room, error)
	// Create persists a new room, generating its token when empty.
	// The host becomes the first membership.
	Create(ctx context.Context, room *Room) error
	// AddPlayer appends a membership, guarding capacity and uniqueness.
	AddPlayer(ctx context.Context, roomId, userId string) (*Room, error)
	// SetPlayerConnection binds or unbinds a transient connection
	// to the membership matched by the player identity.
	SetPlayerConnection(ctx context.Context, roomId, userId, connId string, connected bool) error
	// DisconnectByConn clears the connected flag on every membership
	// referencing the connection, for when the room is not otherwise known.
	DisconnectByConn(ctx context.Context, connId string) error
	// SetStatus moves the room lifecycle status.
	SetStatus(ctx context.Context, roomId, status string) error
	Close(ctx context.Context) error
}

// NewRoomId makes a short opaque room token.
func NewRoomId() string {
	id := uuid.Must(uuid.NewV4()).String()
	return strings.ReplaceAll(id, "-", "")[:8]
}
