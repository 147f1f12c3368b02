// Package relay implements the real-time multiplayer room
// synchronization server: room admission, event fan-out, and p2p
// signaling pass-through between the members of a room.
package relay

import (
	"context"
	"net/http"

	"github.com/playmesh/playmesh/pkg/config"
	"github.com/playmesh/playmesh/pkg/logger"
	"github.com/playmesh/playmesh/pkg/monitoring"
	"github.com/playmesh/playmesh/pkg/network/httpx"
	"github.com/playmesh/playmesh/pkg/service"
	"github.com/playmesh/playmesh/pkg/store"
)

type Relay struct {
	conf     config.RelayConfig
	hub      *Hub
	store    store.RoomStore
	services service.Group
	log      *logger.Logger
}

func New(conf config.RelayConfig, log *logger.Logger) (*Relay, error) {
	var st store.RoomStore
	if conf.Store.Mongo.Url != "" {
		mongo, err := store.NewMongo(context.Background(), conf.Store.Mongo)
		if err != nil {
			return nil, err
		}
		st = mongo
		log.Info().Str("db", conf.Store.Mongo.Db).Msg("Mongo room store")
	} else {
		st = store.NewMemory()
		log.Warn().Msg("No store url, using the process-local room store")
	}

	hub := NewHub(conf, st, log)

	if conf.Bridge.Nats.Url != "" {
		bridge, err := NewBridge(conf.Bridge.Nats, log)
		if err != nil {
			return nil, err
		}
		hub.bridge = bridge
	}

	r := &Relay{conf: conf, hub: hub, store: st, log: log}

	address := conf.Relay.Server.GetAddr()
	httpSrv, err := httpx.NewServer(
		address,
		func(*httpx.Server) http.Handler {
			h := http.NewServeMux()
			h.HandleFunc("/ws", hub.handleUserConnection())
			return h
		},
		httpx.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	r.services.Add(httpSrv)
	if conf.Relay.Monitoring.IsEnabled() {
		r.services.Add(monitoring.New(conf.Relay.Monitoring, "relay", hub.metrics.registry, log))
	}
	return r, nil
}

func (r *Relay) Start() { r.services.Start() }

func (r *Relay) Shutdown(ctx context.Context) error {
	err := r.services.Shutdown(ctx)
	if r.hub.bridge != nil {
		r.hub.bridge.Close()
	}
	if serr := r.store.Close(ctx); serr != nil && err == nil {
		err = serr
	}
	return err
}
