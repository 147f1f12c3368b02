package config

import "flag"

type RelayConfig struct {
	Relay   Relay
	Store   Store
	Bridge  Bridge
	Webrtc  Webrtc
	Version Version
}

type Relay struct {
	Debug      bool
	Monitoring Monitoring
	Origin     string
	Server     Server
}

// Store configures the persisted room store.
// With an empty Mongo URL the relay falls back to a process-local store.
type Store struct {
	Mongo Mongo
}

type Mongo struct {
	Url string
	Db  string
}

// Bridge configures the optional cross-instance broadcast backbone.
// An empty NATS URL keeps the relay single-process.
type Bridge struct {
	Nats Nats
}

type Nats struct {
	Url     string
	Subject string
}

// allows custom config path
var relayConfigPath string

func NewRelayConfig() (conf RelayConfig) {
	if err := LoadConfig(&conf, relayConfigPath); err != nil {
		panic(err)
	}
	return
}

func (c *RelayConfig) ParseFlags() {
	c.Relay.Server.WithFlags()
	flag.IntVar(&c.Relay.Monitoring.Port, "monitoring.port", c.Relay.Monitoring.Port, "Monitoring server port")
	flag.StringVar(&relayConfigPath, "conf", relayConfigPath, "Set custom configuration file path")
	flag.Parse()
}
