package relay

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/playmesh/playmesh/pkg/api"
	"github.com/playmesh/playmesh/pkg/client"
	"github.com/playmesh/playmesh/pkg/com"
	"github.com/playmesh/playmesh/pkg/config"
	"github.com/playmesh/playmesh/pkg/logger"
	"github.com/playmesh/playmesh/pkg/store"
)

const room1 = "abc12345"

type testEnv struct {
	hub    *Hub
	store  *store.Memory
	server *httptest.Server
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	conf := config.RelayConfig{}
	conf.Relay.Origin = "*"
	st := store.NewMemory()
	hub := NewHub(conf, st, logger.New(false))
	server := httptest.NewServer(hub.handleUserConnection())
	t.Cleanup(server.Close)
	return &testEnv{hub: hub, store: st, server: server}
}

func (e *testEnv) makeRoom(t *testing.T, roomId, host string, others ...string) {
	t.Helper()
	ctx := context.Background()
	if err := e.store.Create(ctx, &store.Room{RoomId: roomId, HostId: host}); err != nil {
		t.Fatalf("room create fail: %v", err)
	}
	for _, userId := range others {
		if _, err := e.store.AddPlayer(ctx, roomId, userId); err != nil {
			t.Fatalf("membership fail: %v", err)
		}
	}
}

// testUser is one connected client with its packets drained into channels.
type testUser struct {
	*client.Client
	joined  chan api.RoomJoinedResponse
	arrived chan api.PlayerJoinedNotice
	left    chan api.PlayerLeftNotice
	moved   chan api.MoveNotice
	acted   chan api.GameActionNotice
	chatted chan api.ChatNotice
	started chan api.GameStartedNotice
	signals chan api.SignalNotice
	errors  chan api.ErrorResponse
}

func (e *testEnv) connect(t *testing.T) *testUser {
	t.Helper()
	addr, err := url.Parse(e.server.URL)
	if err != nil {
		t.Fatalf("bad test server url: %v", err)
	}
	c, err := client.Connect(url.URL{Scheme: "ws", Host: addr.Host}, logger.New(false))
	if err != nil {
		t.Fatalf("connect fail: %v", err)
	}
	u := &testUser{
		Client:  c,
		joined:  make(chan api.RoomJoinedResponse, 4),
		arrived: make(chan api.PlayerJoinedNotice, 4),
		left:    make(chan api.PlayerLeftNotice, 4),
		moved:   make(chan api.MoveNotice, 4),
		acted:   make(chan api.GameActionNotice, 4),
		chatted: make(chan api.ChatNotice, 4),
		started: make(chan api.GameStartedNotice, 4),
		signals: make(chan api.SignalNotice, 4),
		errors:  make(chan api.ErrorResponse, 4),
	}
	c.OnRoomJoined = func(rs api.RoomJoinedResponse) { u.joined <- rs }
	c.OnPlayerJoined = func(n api.PlayerJoinedNotice) { u.arrived <- n }
	c.OnPlayerLeft = func(n api.PlayerLeftNotice) { u.left <- n }
	c.OnMoved = func(n api.MoveNotice) { u.moved <- n }
	c.OnAction = func(n api.GameActionNotice) { u.acted <- n }
	c.OnChat = func(n api.ChatNotice) { u.chatted <- n }
	c.OnStarted = func(n api.GameStartedNotice) { u.started <- n }
	c.OnSignal = func(_ api.PT, sig api.SignalNotice) { u.signals <- sig }
	c.OnError = func(e api.ErrorResponse) { u.errors <- e }
	c.Listen()
	t.Cleanup(c.Close)
	return u
}

func (e *testEnv) join(t *testing.T, u *testUser, roomId, playerId string) api.RoomJoinedResponse {
	t.Helper()
	u.Join(roomId, playerId, strings.ToUpper(playerId))
	return recv(t, u.joined, "room joined for "+playerId)
}

func recv[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %v", what)
	}
	panic("unreachable")
}

func silent[T any](t *testing.T, ch chan T, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %v: %+v", what, v)
	case <-time.After(100 * time.Millisecond):
	}
}

// eventually polls async store bookkeeping which broadcasts never wait for.
func eventually(t *testing.T, what string, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%v never happened", what)
}

func TestJoinUnknownRoom(t *testing.T) {
	env := newEnv(t)
	u := env.connect(t)
	u.Join("nothere0", "p1", "P1")
	if e := recv(t, u.errors, "error reply"); e.Message != "Room not found" {
		t.Errorf("expected a not-found error, got %q", e.Message)
	}
	silent(t, u.joined, "room joined")
}

func TestJoinRoster(t *testing.T) {
	env := newEnv(t)
	env.makeRoom(t, room1, "p1", "p2")

	a := env.connect(t)
	rs := env.join(t, a, room1, "p1")
	if rs.RoomId != room1 || rs.Status != store.StatusWaiting {
		t.Errorf("wrong join reply: %+v", rs)
	}
	// p2 is on the persisted roster but not connected yet
	if len(rs.Members) != 1 || rs.Members[0].PlayerId != "p1" {
		t.Errorf("expected only the joiner on the roster, got %+v", rs.Members)
	}
	if a.ConnId == "" {
		t.Errorf("joiner never learned its connection id")
	}

	// the first joiner shows up on later rosters once its async
	// connection bookkeeping lands
	eventually(t, "connection bookkeeping", func() bool {
		rec, err := env.store.Room(context.Background(), room1)
		return err == nil && rec.Player("p1").Connected
	})
	b := env.connect(t)
	rs = env.join(t, b, room1, "p2")
	if len(rs.Members) != 2 {
		t.Errorf("expected both players on the roster, got %+v", rs.Members)
	}

	n := recv(t, a.arrived, "player joined notice")
	if n.PlayerId != "p2" || n.ConnId != b.ConnId || n.ConnectedCount != 2 {
		t.Errorf("wrong notice: %+v", n)
	}
	// the joiner itself gets no such notice
	silent(t, b.arrived, "self player joined notice")
}

func TestJoinTwice(t *testing.T) {
	env := newEnv(t)
	env.makeRoom(t, room1, "p1")
	a := env.connect(t)
	env.join(t, a, room1, "p1")
	a.Join(room1, "p1", "P1")
	if e := recv(t, a.errors, "error reply"); e.Message != "already in a room" {
		t.Errorf("expected a rejoin error, got %q", e.Message)
	}
}

func TestMoveRelay(t *testing.T) {
	env := newEnv(t)
	env.makeRoom(t, room1, "p1", "p2", "p3")
	a, b := env.connect(t), env.connect(t)
	env.join(t, a, room1, "p1")
	env.join(t, b, room1, "p2")
	recv(t, a.arrived, "player joined notice")

	b.Move(room1, api.Vec{X: 1, Y: 2}, &api.Vec{Y: 90}, nil)
	n := recv(t, a.moved, "move notice")
	if n.ConnId != b.ConnId || n.Position.X != 1 || n.Position.Y != 2 {
		t.Errorf("wrong move: %+v", n)
	}
	if n.Rotation == nil || n.Rotation.Y != 90 {
		t.Errorf("lost rotation: %+v", n.Rotation)
	}
	if n.Timestamp == 0 {
		t.Errorf("expected a server timestamp")
	}
	// the sender is excluded from its own relay
	silent(t, b.moved, "echoed move")

	// late joiners get the last known transforms on the roster,
	// once the mover's connection bookkeeping has landed
	eventually(t, "connection bookkeeping", func() bool {
		rec, err := env.store.Room(context.Background(), room1)
		return err == nil && rec.Player("p2").Connected
	})
	c := env.connect(t)
	rs := env.join(t, c, room1, "p3")
	for _, m := range rs.Members {
		if m.ConnId == b.ConnId {
			if m.Position == nil || m.Position.X != 1 {
				t.Errorf("lost the transform snapshot: %+v", m)
			}
			return
		}
	}
	t.Errorf("mover missing from the roster: %+v", rs.Members)
}

func TestChatRelay(t *testing.T) {
	env := newEnv(t)
	env.makeRoom(t, room1, "p1", "p2")
	a, b := env.connect(t), env.connect(t)
	env.join(t, a, room1, "p1")
	env.join(t, b, room1, "p2")

	a.Chat(room1, "hello", "P1")
	n := recv(t, b.chatted, "chat notice")
	if n.Message != "hello" || n.DisplayName != "P1" || n.ConnId != a.ConnId {
		t.Errorf("wrong chat: %+v", n)
	}
	silent(t, a.chatted, "echoed chat")
}

func TestGameStart(t *testing.T) {
	env := newEnv(t)
	env.makeRoom(t, room1, "p1", "p2")
	a, b := env.connect(t), env.connect(t)
	env.join(t, a, room1, "p1")
	env.join(t, b, room1, "p2")

	b.Start(room1)
	n := recv(t, a.started, "game started notice")
	if n.ConnId != b.ConnId {
		t.Errorf("wrong starter: %+v", n)
	}
	eventually(t, "persisted status flip", func() bool {
		rec, err := env.store.Room(context.Background(), room1)
		return err == nil && rec.State.Status == store.StatusStarting
	})
}

func TestTargetedSignal(t *testing.T) {
	env := newEnv(t)
	env.makeRoom(t, room1, "p1", "p2", "p3")
	a, b, c := env.connect(t), env.connect(t), env.connect(t)
	env.join(t, a, room1, "p1")
	env.join(t, b, room1, "p2")
	env.join(t, c, room1, "p3")

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	a.Signal(api.Offer, room1, b.ConnId, offer)
	sig := recv(t, b.signals, "targeted offer")
	if sig.From != a.ConnId || string(sig.Payload) != string(offer) {
		t.Errorf("wrong signal: %+v", sig)
	}
	// only the target hears a targeted signal
	silent(t, c.signals, "leaked signal")
	silent(t, a.signals, "reflected signal")
}

func TestSignalUnknownTarget(t *testing.T) {
	env := newEnv(t)
	env.makeRoom(t, room1, "p1", "p2")
	a, b := env.connect(t), env.connect(t)
	env.join(t, a, room1, "p1")
	env.join(t, b, room1, "p2")

	a.Signal(api.Answer, room1, "cmlk1nonexistent", json.RawMessage(`{}`))
	if e := recv(t, a.errors, "error reply"); e.Message != "target not found" {
		t.Errorf("expected a target error, got %q", e.Message)
	}
	silent(t, b.signals, "misrouted signal")
}

func TestBroadcastSignal(t *testing.T) {
	env := newEnv(t)
	env.makeRoom(t, room1, "p1", "p2", "p3")
	a, b, c := env.connect(t), env.connect(t), env.connect(t)
	env.join(t, a, room1, "p1")
	env.join(t, b, room1, "p2")
	env.join(t, c, room1, "p3")

	candidate := json.RawMessage(`{"candidate":"candidate:1 1 udp 1 127.0.0.1 3478 typ host"}`)
	a.Signal(api.IceCandidate, room1, "", candidate)
	for _, other := range []*testUser{b, c} {
		sig := recv(t, other.signals, "broadcast candidate")
		if sig.From != a.ConnId {
			t.Errorf("wrong sender: %+v", sig)
		}
	}
	silent(t, a.signals, "reflected signal")
}

func TestScoreScratchpad(t *testing.T) {
	env := newEnv(t)
	env.makeRoom(t, room1, "p1", "p2")
	a := env.connect(t)
	env.join(t, a, room1, "p1")

	a.Action(room1, api.ScoreUpdate, json.RawMessage(`{"score":42}`))

	// late joiners see the accumulated scores in their join reply
	b := env.connect(t)
	rs := env.join(t, b, room1, "p2")
	if string(rs.Scores[a.ConnId]) != `{"score":42}` {
		t.Errorf("expected the score snapshot, got %+v", rs.Scores)
	}

	a.Action(room1, api.ScoreUpdate, json.RawMessage(`{"score":50}`))
	n := recv(t, b.acted, "action notice")
	if n.Action != api.ScoreUpdate || n.ConnId != a.ConnId {
		t.Errorf("wrong action: %+v", n)
	}
	silent(t, a.acted, "echoed action")
}

func TestDisconnect(t *testing.T) {
	env := newEnv(t)
	env.makeRoom(t, room1, "p1", "p2")
	a, b := env.connect(t), env.connect(t)
	env.join(t, a, room1, "p1")
	env.join(t, b, room1, "p2")
	recv(t, a.arrived, "player joined notice")

	b.Close()
	n := recv(t, a.left, "player left notice")
	if n.ConnId != b.ConnId || n.ConnectedCount != 1 {
		t.Errorf("wrong notice: %+v", n)
	}
	eventually(t, "connection bookkeeping", func() bool {
		rec, err := env.store.Room(context.Background(), room1)
		return err == nil && !rec.Player("p2").Connected
	})
	if !env.hub.rooms.Has(room1) {
		t.Errorf("room dropped while still occupied")
	}

	a.Close()
	eventually(t, "room teardown", func() bool { return !env.hub.rooms.Has(room1) })
}

func TestDisconnectWithoutRoom(t *testing.T) {
	env := newEnv(t)
	env.makeRoom(t, room1, "p1")
	u := env.connect(t)
	u.Close()

	// the hub survives a room-less teardown
	a := env.connect(t)
	env.join(t, a, room1, "p1")
}

// rawUser wraps a live connection in a User directly, bypassing the
// packet loop, so handler interleavings can be driven by hand.
func (e *testEnv) rawUser(t *testing.T) *User {
	t.Helper()
	addr, err := url.Parse(e.server.URL)
	if err != nil {
		t.Fatalf("bad test server url: %v", err)
	}
	sock, err := com.NewConnector().NewClient(url.URL{Scheme: "ws", Host: addr.Host}, logger.New(false))
	if err != nil {
		t.Fatalf("connect fail: %v", err)
	}
	t.Cleanup(sock.Disconnect)
	return NewUser(sock, e.hub)
}

func TestConcurrentFirstJoinSharesAggregate(t *testing.T) {
	env := newEnv(t)
	rec := &store.Room{RoomId: room1}

	rooms := make([]*Room, 8)
	var wg sync.WaitGroup
	for i := range rooms {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rooms[i] = env.hub.roomFor(rec)
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(rooms); i++ {
		if rooms[i] != rooms[0] {
			t.Fatalf("expected a single aggregate, got two")
		}
	}
	if n := env.hub.rooms.Len(); n != 1 {
		t.Errorf("expected 1 tracked room, got %v", n)
	}
}

func TestJoinRacingTeardownGetsFreshAggregate(t *testing.T) {
	env := newEnv(t)
	rec := &store.Room{RoomId: room1}

	old := env.hub.roomFor(rec)
	env.hub.dropRoom(room1)

	// the discarded aggregate refuses members
	if _, ok := old.Add(env.rawUser(t)); ok {
		t.Errorf("expected the discarded aggregate to refuse members")
	}
	fresh := env.hub.roomFor(rec)
	if fresh == old {
		t.Fatalf("expected a fresh aggregate after the teardown")
	}
	if _, ok := fresh.Add(env.rawUser(t)); !ok {
		t.Errorf("expected the fresh aggregate to admit members")
	}
	// an occupied room never seals
	env.hub.dropRoom(room1)
	if !env.hub.rooms.Has(room1) {
		t.Errorf("occupied room dropped")
	}
}

func TestJoinAfterTeardownLeavesNoGhost(t *testing.T) {
	env := newEnv(t)
	env.makeRoom(t, room1, "p1")
	u := env.rawUser(t)

	// the transport dropped while the join was still in flight
	u.HandleDisconnect()
	u.HandleJoinRoom(api.JoinRoomRequest{RoomId: room1, PlayerId: "p1"})

	if u.Room() != nil {
		t.Errorf("expected no membership on a torn-down connection")
	}
	if env.hub.FindUser(u.Id()) != nil {
		t.Errorf("expected no registry entry for a torn-down connection")
	}
	if env.hub.rooms.Has(room1) {
		t.Errorf("expected no aggregate for a refused join")
	}
	// repeated teardowns stay a no-op
	u.HandleDisconnect()
}
