package relay

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/playmesh/playmesh/pkg/api"
	"github.com/playmesh/playmesh/pkg/com"
)

// Room is the runtime aggregate of one multiplayer session: the member
// index, the broadcast group, and the transient in-game scratchpad.
// It exists only while at least one connection is in the room; the
// persisted record lives in the store.
type Room struct {
	id string

	mu      sync.Mutex
	members map[com.Uid]*User
	// last known transforms, handed to late joiners, never authoritative
	transforms map[com.Uid]transform
	// score-update mirror keyed by sender connection, advisory only
	scores map[string]json.RawMessage
	status string
	// set when the emptied aggregate is discarded from the arena;
	// a sealed room accepts no members, late joiners get a fresh one
	sealed bool

	// set by the bridge to fan broadcasts out to other instances
	mirror func(except com.Uid, t api.PT, payload any)
}

type transform struct {
	pos api.Vec
	rot *api.Vec
}

func NewRoom(id, status string) *Room {
	return &Room{
		id:         id,
		members:    make(map[com.Uid]*User, 4),
		transforms: make(map[com.Uid]transform, 4),
		scores:     make(map[string]json.RawMessage, 4),
		status:     status,
	}
}

func (r *Room) Id() string { return r.id }

// Add puts the user into the broadcast group and returns the new
// connected member count. A sealed aggregate refuses the add and the
// caller has to fetch a fresh one from the arena.
func (r *Room) Add(u *User) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return 0, false
	}
	r.members[u.Id()] = u
	return len(r.members), true
}

// seal marks an emptied aggregate closed for joins, once. The check
// and the flip are one critical section, so a concurrent Add either
// lands before the seal or is refused.
func (r *Room) seal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) > 0 || r.sealed {
		return false
	}
	r.sealed = true
	return true
}

// Remove drops the user from the broadcast group and returns the
// remaining member count.
func (r *Room) Remove(u *User) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, u.Id())
	delete(r.transforms, u.Id())
	delete(r.scores, u.Id().String())
	return len(r.members)
}

func (r *Room) Has(id com.Uid) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[id]
	return ok
}

func (r *Room) IsEmpty() bool { r.mu.Lock(); defer r.mu.Unlock(); return len(r.members) == 0 }

func (r *Room) Count() int { r.mu.Lock(); defer r.mu.Unlock(); return len(r.members) }

func (r *Room) Status() string { r.mu.Lock(); defer r.mu.Unlock(); return r.status }

func (r *Room) SetStatus(status string) { r.mu.Lock(); r.status = status; r.mu.Unlock() }

// Broadcast fans a message out to every member except one,
// fire-and-forget, at-most-once per listener.
func (r *Room) Broadcast(except com.Uid, t api.PT, payload any) {
	r.broadcast(except, t, payload)
	r.mu.Lock()
	mirror := r.mirror
	r.mu.Unlock()
	if mirror != nil {
		mirror(except, t, payload)
	}
}

func (r *Room) setMirror(fn func(except com.Uid, t api.PT, payload any)) {
	r.mu.Lock()
	r.mirror = fn
	r.mu.Unlock()
}

func (r *Room) broadcast(except com.Uid, t api.PT, payload any) {
	r.mu.Lock()
	targets := make([]*User, 0, len(r.members))
	for id, u := range r.members {
		if id != except {
			targets = append(targets, u)
		}
	}
	r.mu.Unlock()
	for _, u := range targets {
		u.Notify(t, payload)
	}
}

// To delivers a message to the single member with the given connection id.
func (r *Room) To(target com.Uid, t api.PT, payload any) bool {
	r.mu.Lock()
	u, ok := r.members[target]
	r.mu.Unlock()
	if !ok {
		return false
	}
	u.Notify(t, payload)
	return true
}

// Move remembers the sender's last known transform for late joiners.
func (r *Room) Move(id com.Uid, pos api.Vec, rot *api.Vec) {
	r.mu.Lock()
	r.transforms[id] = transform{pos: pos, rot: rot}
	r.mu.Unlock()
}

// Transform returns the last known transform of a member connection.
func (r *Room) Transform(id com.Uid) (api.Vec, *api.Vec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tr, ok := r.transforms[id]
	return tr.pos, tr.rot, ok
}

// Score mirrors a score-update action payload into the scratchpad.
func (r *Room) Score(id com.Uid, payload json.RawMessage) {
	r.mu.Lock()
	r.scores[id.String()] = payload
	r.mu.Unlock()
}

// Scores snapshots the scratchpad.
func (r *Room) Scores() map[string]json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.scores) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(r.scores))
	for k, v := range r.scores {
		out[k] = v
	}
	return out
}

func now() int64 { return time.Now().UnixMilli() }
