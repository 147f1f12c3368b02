package websocket

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/playmesh/playmesh/pkg/logger"
)

const (
	maxMessageSize = 10 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	readWait       = 120 * time.Second
	writeWait      = 10 * time.Second
)

type Upgrader struct {
	websocket.Upgrader
}

var DefaultUpgrader = Upgrader{
	Upgrader: websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		WriteBufferPool: &sync.Pool{},
	},
}

// NewUpgrader makes an upgrader with the single allowed origin
// or no origin check at all when the param is *.
func NewUpgrader(origin string) *Upgrader {
	u := DefaultUpgrader
	if origin == "*" {
		u.CheckOrigin = func(r *http.Request) bool { return true }
	} else if origin != "" {
		u.CheckOrigin = func(r *http.Request) bool { return r.Header.Get("Origin") == origin }
	}
	return &u
}

// WS is a simple WebSocket connection wrapper with
// a separate reader and writer pump for the underlying connection.
type WS struct {
	conn deadlinedConn
	send chan []byte

	OnMessage WSMessageHandler

	server bool
	once   sync.Once
	done   chan struct{}
	Done   chan struct{}

	log *logger.Logger
}

type WSMessageHandler func(message []byte, err error)

func NewServer(w http.ResponseWriter, r *http.Request, log *logger.Logger) (*WS, error) {
	return DefaultUpgrader.NewServer(w, r, log)
}

func (u *Upgrader) NewServer(w http.ResponseWriter, r *http.Request, log *logger.Logger) (*WS, error) {
	conn, err := u.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, true, log), nil
}

func NewClient(address url.URL, log *logger.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address.String(), nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, false, log), nil
}

func newSocket(conn *websocket.Conn, server bool, log *logger.Logger) *WS {
	safeConn := deadlinedConn{sock: conn, wt: writeWait}
	if !server {
		safeConn.rt = readWait
	}
	return &WS{
		conn:   safeConn,
		send:   make(chan []byte, 16),
		server: server,
		done:   make(chan struct{}),
		Done:   make(chan struct{}, 1),
		log:    log,
	}
}

func (ws *WS) IsServer() bool { return ws.server }

// Listen starts the reader and writer pumps of the connection.
// The OnMessage handler should be set beforehand.
func (ws *WS) Listen() {
	go ws.writer()
	go ws.reader()
}

// reader pumps messages from the websocket connection to the OnMessage callback.
// Blocking, must be called as goroutine. Serializes all websocket reads.
func (ws *WS) reader() {
	defer ws.shutdown()
	ws.conn.setup(func(conn *websocket.Conn) {
		conn.SetReadLimit(maxMessageSize)
		if ws.server {
			_ = conn.SetReadDeadline(time.Now().Add(pongTime))
			conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(pongTime)); return nil })
		}
	})
	for {
		message, err := ws.conn.read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				ws.log.Debug().Err(err).Msg("ws read fail")
			}
			return
		}
		if ws.OnMessage != nil {
			ws.OnMessage(message, nil)
		}
	}
}

// writer pumps messages from the send channel to the websocket connection.
// Blocking, must be called as goroutine. Serializes all websocket writes.
func (ws *WS) writer() {
	var ping <-chan time.Time
	if ws.server {
		ticker := time.NewTicker(pingTime)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer ws.shutdown()
	for {
		select {
		case message := <-ws.send:
			if err := ws.conn.write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ping:
			if err := ws.conn.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ws.done:
			return
		}
	}
}

// Write queues a message for the writer pump.
// Messages to an already closed connection are dropped.
func (ws *WS) Write(data []byte) {
	select {
	case ws.send <- data:
	case <-ws.done:
	}
}

func (ws *WS) Close() {
	_ = ws.conn.write(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	ws.shutdown()
}

func (ws *WS) shutdown() {
	ws.once.Do(func() {
		close(ws.done)
		_ = ws.conn.close()
		ws.Done <- struct{}{}
	})
}
