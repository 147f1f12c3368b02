package store

import (
	"context"
	"errors"
	"time"

	"github.com/playmesh/playmesh/pkg/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const roomsCollection = "rooms"

// Mongo is the shared room store of a multi-instance deployment.
type Mongo struct {
	cli   *mongo.Client
	rooms *mongo.Collection
}

func NewMongo(ctx context.Context, conf config.Mongo) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(conf.Url))
	if err != nil {
		return nil, err
	}
	if err = cli.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}
	db := cli.Database(conf.Db)
	return &Mongo{cli: cli, rooms: db.Collection(roomsCollection)}, nil
}

func (m *Mongo) Room(ctx context.Context, roomId string) (*Room, error) {
	var room Room
	err := m.rooms.FindOne(ctx, bson.M{"room_id": roomId}).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (m *Mongo) Create(ctx context.Context, room *Room) error {
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
	_, err := m.rooms.InsertOne(ctx, room)
	return err
}

// AddPlayer pushes a membership with capacity and uniqueness guarded
// by the update filter, so concurrent joins cannot overfill the room.
func (m *Mongo) AddPlayer(ctx context.Context, roomId, userId string) (*Room, error) {
	filter := bson.M{
		"room_id":         roomId,
		"players.user_id": bson.M{"$ne": userId},
		"$expr":           bson.M{"$lt": bson.A{bson.M{"$size": "$players"}, "$max_players"}},
	}
	update := bson.M{
		"$push": bson.M{"players": Player{UserId: userId, Status: StatusWaiting, JoinedAt: time.Now()}},
		"$set":  bson.M{"updated_at": time.Now()},
	}
	res, err := m.rooms.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		room, err := m.Room(ctx, roomId)
		if err != nil {
			return nil, err
		}
		if room.Player(userId) != nil {
			return nil, ErrAlreadyJoined
		}
		return nil, ErrRoomFull
	}
	return m.Room(ctx, roomId)
}

func (m *Mongo) SetPlayerConnection(ctx context.Context, roomId, userId, connId string, connected bool) error {
	res, err := m.rooms.UpdateOne(ctx,
		bson.M{"room_id": roomId, "players.user_id": userId},
		bson.M{"$set": bson.M{
			"players.$.conn_id":   connId,
			"players.$.connected": connected,
			"updated_at":          time.Now(),
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) DisconnectByConn(ctx context.Context, connId string) error {
	_, err := m.rooms.UpdateMany(ctx,
		bson.M{"players.conn_id": connId},
		bson.M{"$set": bson.M{"players.$.connected": false}})
	return err
}

func (m *Mongo) SetStatus(ctx context.Context, roomId, status string) error {
	set := bson.M{"state.status": status, "updated_at": time.Now()}
	switch status {
	case StatusStarting:
		set["state.start_time"] = time.Now()
	case StatusFinished:
		set["state.end_time"] = time.Now()
	}
	res, err := m.rooms.UpdateOne(ctx, bson.M{"room_id": roomId}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error { return m.cli.Disconnect(ctx) }
