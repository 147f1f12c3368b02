package com

import (
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/playmesh/playmesh/pkg/api"
	"github.com/playmesh/playmesh/pkg/logger"
	"github.com/playmesh/playmesh/pkg/network/websocket"
)

type (
	// Connector makes protocol sockets out of raw websocket connections.
	Connector struct {
		tag string
		wu  *websocket.Upgrader
	}
	// SocketClient is one protocol connection, either side.
	SocketClient struct {
		id       Uid
		conn     *websocket.WS
		onPacket func(api.In)
		log      *logger.Logger
	}
	Option = func(c *Connector)
)

func WithOrigin(url string) Option { return func(c *Connector) { c.wu = websocket.NewUpgrader(url) } }
func WithTag(tag string) Option    { return func(c *Connector) { c.tag = tag } }

func NewConnector(opts ...Option) *Connector {
	c := &Connector{}
	for _, opt := range opts {
		opt(c)
	}
	if c.wu == nil {
		c.wu = &websocket.DefaultUpgrader
	}
	return c
}

func (co *Connector) NewServer(w http.ResponseWriter, r *http.Request, log *logger.Logger) (*SocketClient, error) {
	conn, err := co.wu.NewServer(w, r, log)
	if err != nil {
		return nil, err
	}
	return newSocketClient(conn, NewUid(), co.tag, log), nil
}

func (co *Connector) NewClient(address url.URL, log *logger.Logger) (*SocketClient, error) {
	conn, err := websocket.NewClient(address, log)
	if err != nil {
		return nil, err
	}
	return newSocketClient(conn, NewUid(), co.tag, log), nil
}

func newSocketClient(conn *websocket.WS, id Uid, tag string, log *logger.Logger) *SocketClient {
	dir := "→"
	if conn.IsServer() {
		dir = "←"
	}
	clLog := log.Wrap(log.With().
		Str("cid", id.Short()).
		Str(logger.DirectionField, dir))
	if tag != "" {
		clLog = clLog.Wrap(clLog.With().Str("s", tag))
	}
	clLog.Debug().Msg("Connect")
	c := &SocketClient{id: id, conn: conn, log: clLog}
	conn.OnMessage = c.handleMessage
	return c
}

func (c *SocketClient) OnPacket(fn func(in api.In)) { c.onPacket = fn }

// Listen starts the connection pumps. OnPacket should be set beforehand.
func (c *SocketClient) Listen() { c.conn.Listen() }

func (c *SocketClient) handleMessage(message []byte, err error) {
	if err != nil {
		c.log.Error().Err(err).Send()
		return
	}
	var in api.In
	if err = json.Unmarshal(message, &in); err != nil {
		c.log.Error().Err(err).Msg("broken packet")
		return
	}
	c.log.Debug().Msgf("%v", in.T)
	if c.onPacket != nil {
		c.onPacket(in)
	}
}

// Notify just sends a message and goes further.
func (c *SocketClient) Notify(t api.PT, data any) {
	c.log.Debug().Str(logger.DirectionField, "→").Msgf("%v", t)
	r, err := json.Marshal(api.Out{T: t, Payload: data})
	if err != nil {
		c.log.Error().Err(err).Send()
		return
	}
	c.conn.Write(r)
}

func (c *SocketClient) Disconnect() {
	c.conn.Close()
	c.log.Debug().Str(logger.DirectionField, "x").Msg("Close")
}

func (c *SocketClient) Id() Uid               { return c.id }
func (c *SocketClient) Wait() chan struct{}   { return c.conn.Done }
func (c *SocketClient) String() string        { return c.Id().String() }
func (c *SocketClient) Log() *logger.Logger   { return c.log }
