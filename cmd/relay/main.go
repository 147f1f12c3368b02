package main

import (
	"context"
	goflag "flag"

	"github.com/playmesh/playmesh/pkg/config"
	"github.com/playmesh/playmesh/pkg/logger"
	"github.com/playmesh/playmesh/pkg/os"
	"github.com/playmesh/playmesh/pkg/relay"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf := config.NewRelayConfig()
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	conf.ParseFlags()

	log := logger.NewConsole(conf.Relay.Debug, "r", false)

	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	r, err := relay.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("relay init fail")
	}
	r.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		if err := r.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("service shutdown errors")
		}
	}()
	<-os.ExpectTermination()
	cancel()
}
