package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/playmesh/playmesh/pkg/logger"
	"golang.org/x/crypto/acme/autocert"
)

type Server struct {
	http.Server

	autoCert *autocert.Manager
	opts     Options

	listener *Listener
	log      *logger.Logger
}

func NewServer(address string, handler func(*Server) http.Handler, options ...Option) (*Server, error) {
	opts := &Options{
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	opts.override(options...)
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}

	server := &Server{
		Server: http.Server{
			Addr:         address,
			IdleTimeout:  opts.IdleTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
		opts: *opts,
		log:  opts.Logger,
	}
	server.Handler = handler(server)

	if opts.Https && opts.IsAutoHttpsCert() {
		server.autoCert = newTLSConfig(opts.HttpsDomain)
		server.TLSConfig = server.autoCert.TLSConfig()
	}

	listener, err := NewListener(server.Addr, opts.PortRoll)
	if err != nil {
		return nil, err
	}
	server.listener = listener
	server.Addr = listener.Addr().String()

	return server, nil
}

func newTLSConfig(host string) *autocert.Manager {
	manager := autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache("assets/cache"),
	}
	if host != "" {
		manager.HostPolicy = autocert.HostWhitelist(host)
	}
	return &manager
}

func (s *Server) Run() {
	protocol := s.GetProtocol()
	s.log.Info().Msgf("Starting %s server on %s", protocol, s.Addr)

	var err error
	if s.opts.Https {
		err = s.ServeTLS(s.listener, s.opts.HttpsCert, s.opts.HttpsKey)
	} else {
		err = s.Serve(s.listener)
	}
	if err != http.ErrServerClosed {
		s.log.Error().Err(err).Msgf("%s server fail", protocol)
	}
}

func (s *Server) Shutdown(ctx context.Context) error { return s.Server.Shutdown(ctx) }

func (s *Server) String() string { return s.GetProtocol() + "::" + s.Addr }

func (s *Server) GetProtocol() string {
	if s.opts.Https {
		return "https"
	}
	return "http"
}
