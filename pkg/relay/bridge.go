package relay

import (
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/playmesh/playmesh/pkg/api"
	"github.com/playmesh/playmesh/pkg/com"
	"github.com/playmesh/playmesh/pkg/config"
	"github.com/playmesh/playmesh/pkg/logger"
)

// Bridge mirrors room broadcasts over NATS so several relay instances
// can serve one room. It is the opt-in seam past the single-process
// registry; with no NATS url configured the relay stays process-local.
type Bridge struct {
	conn    *nats.Conn
	subject string
	origin  com.Uid
	subs    com.Map[string, *nats.Subscription]
	log     *logger.Logger
}

// envelope is one mirrored broadcast; origin tags the publishing
// instance so it can skip its own messages.
type envelope struct {
	Origin  string          `json:"o"`
	Except  string          `json:"x,omitempty"`
	T       api.PT          `json:"t"`
	Payload json.RawMessage `json:"p,omitempty"`
}

func NewBridge(conf config.Nats, log *logger.Logger) (*Bridge, error) {
	conn, err := nats.Connect(conf.Url)
	if err != nil {
		return nil, err
	}
	subject := conf.Subject
	if subject == "" {
		subject = "playmesh.rooms"
	}
	b := &Bridge{
		conn:    conn,
		subject: subject,
		origin:  com.NewUid(),
		subs:    com.NewMap[string, *nats.Subscription](),
		log:     log,
	}
	log.Info().Str("url", conf.Url).Str("subject", subject).Msg("Broadcast bridge is active")
	return b, nil
}

// Watch re-broadcasts messages of other instances into the local room.
func (b *Bridge) Watch(room *Room) {
	sub, err := b.conn.Subscribe(b.subject+"."+room.Id(), func(m *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			b.log.Error().Err(err).Msg("broken bridge envelope")
			return
		}
		if env.Origin == b.origin.String() {
			return
		}
		room.broadcast(com.UidFrom(env.Except), env.T, json.RawMessage(env.Payload))
	})
	if err != nil {
		b.log.Error().Err(err).Str("room", room.Id()).Msg("bridge sub fail")
		return
	}
	b.subs.Put(room.Id(), sub)
	room.setMirror(func(except com.Uid, t api.PT, payload any) { b.publish(room.Id(), except, t, payload) })
}

func (b *Bridge) Unwatch(roomId string) {
	if sub, err := b.subs.Find(roomId); err == nil {
		_ = sub.Unsubscribe()
		b.subs.RemoveByKey(roomId)
	}
}

func (b *Bridge) publish(roomId string, except com.Uid, t api.PT, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.log.Error().Err(err).Send()
		return
	}
	env, err := json.Marshal(envelope{Origin: b.origin.String(), Except: except.String(), T: t, Payload: raw})
	if err != nil {
		b.log.Error().Err(err).Send()
		return
	}
	if err = b.conn.Publish(b.subject+"."+roomId, env); err != nil {
		b.log.Error().Err(err).Str("room", roomId).Msg("bridge pub fail")
	}
}

func (b *Bridge) Close() { b.conn.Close() }
