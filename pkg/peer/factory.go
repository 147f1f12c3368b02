package peer

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/playmesh/playmesh/pkg/config"
	"github.com/playmesh/playmesh/pkg/logger"
)

// Factory builds peer connections with one shared pion API config.
type Factory struct {
	api  *webrtc.API
	conf webrtc.Configuration
}

func NewFactory(conf config.Webrtc, log *logger.Logger) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if !conf.DisableDefaultInterceptors {
		if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
			return nil, err
		}
	}
	s := webrtc.SettingEngine{LoggerFactory: logger.NewPionLogger(log, conf.LogLevel)}
	if conf.HasPortRange() {
		if err := s.SetEphemeralUDPPortRange(conf.IcePorts.Min, conf.IcePorts.Max); err != nil {
			return nil, err
		}
	}

	c := webrtc.Configuration{ICEServers: []webrtc.ICEServer{}}
	for _, server := range conf.IceServers {
		c.ICEServers = append(c.ICEServers, webrtc.ICEServer{
			URLs:       []string{server.Urls},
			Username:   server.Username,
			Credential: server.Credential,
		})
	}

	return &Factory{
		api:  webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s)),
		conf: c,
	}, nil
}

func (f *Factory) NewPeer() (*webrtc.PeerConnection, error) {
	return f.api.NewPeerConnection(f.conf)
}
