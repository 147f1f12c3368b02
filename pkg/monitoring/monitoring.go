package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/playmesh/playmesh/pkg/config"
	"github.com/playmesh/playmesh/pkg/logger"
	"github.com/playmesh/playmesh/pkg/network/httpx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Monitoring struct {
	conf   config.Monitoring
	tag    string
	server *httpx.Server
	log    *logger.Logger
}

// New creates a new monitoring service exposing the prometheus metrics
// of the gatherer and, optionally, the pprof profiles.
// The tag param specifies an owner label for logs.
func New(conf config.Monitoring, tag string, gatherer prometheus.Gatherer, log *logger.Logger) *Monitoring {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	serv, err := httpx.NewServer(
		fmt.Sprintf(":%d", conf.Port),
		func(serv *httpx.Server) http.Handler {
			h := http.NewServeMux()

			if conf.ProfilingEnabled {
				prefix := conf.URLPrefix + "/debug/pprof"
				log.Info().Msgf("[%v] profiling at %v%v", tag, serv.Addr, prefix)
				h.HandleFunc(prefix+"/", pprof.Index)
				h.HandleFunc(prefix+"/cmdline", pprof.Cmdline)
				h.HandleFunc(prefix+"/profile", pprof.Profile)
				h.HandleFunc(prefix+"/symbol", pprof.Symbol)
				h.HandleFunc(prefix+"/trace", pprof.Trace)
				h.Handle(prefix+"/allocs", pprof.Handler("allocs"))
				h.Handle(prefix+"/block", pprof.Handler("block"))
				h.Handle(prefix+"/goroutine", pprof.Handler("goroutine"))
				h.Handle(prefix+"/heap", pprof.Handler("heap"))
				h.Handle(prefix+"/mutex", pprof.Handler("mutex"))
				h.Handle(prefix+"/threadcreate", pprof.Handler("threadcreate"))
			}

			if conf.MetricEnabled {
				metricPath := conf.URLPrefix + "/metrics"
				log.Info().Msgf("[%v] metrics at %v%v", tag, serv.Addr, metricPath)
				h.Handle(metricPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
			}

			return h
		},
		httpx.WithPortRoll(true),
		httpx.WithLogger(log),
	)
	if err != nil {
		log.Error().Err(err).Msgf("[%v] monitoring server fail", tag)
		return nil
	}
	return &Monitoring{conf: conf, tag: tag, server: serv, log: log}
}

func (m *Monitoring) Run() {
	m.log.Info().Msgf("[%v] starting monitoring server at %v", m.tag, m.server.Addr)
	m.server.Run()
}

func (m *Monitoring) Shutdown(ctx context.Context) error {
	m.log.Info().Msgf("[%v] shutting down monitoring server", m.tag)
	return m.server.Shutdown(ctx)
}

func (m *Monitoring) String() string {
	return fmt.Sprintf("monitoring::%s:%d", m.conf.URLPrefix, m.conf.Port)
}
