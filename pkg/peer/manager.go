// Package peer keeps one WebRTC connection per remote room member and
// drives their offer/answer handshakes over an external signaling channel.
package peer

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/playmesh/playmesh/pkg/com"
	"github.com/playmesh/playmesh/pkg/config"
	"github.com/playmesh/playmesh/pkg/logger"
)

// Manager owns the p2p sessions of one local participant.
type Manager struct {
	factory  *Factory
	sessions com.Map[string, *Session]
	log      *logger.Logger

	mu     sync.Mutex
	tracks []webrtc.TrackLocal

	// OnIceCandidate fires for every locally gathered candidate,
	// to be relayed to the session's peer.
	OnIceCandidate func(peerId string, candidate webrtc.ICECandidateInit)
	// OnRenegotiate fires with a fresh offer when local media changed
	// on an established session.
	OnRenegotiate func(peerId string, offer webrtc.SessionDescription)
	OnTrack       func(peerId string, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	OnMessage     func(peerId string, data []byte)
	OnState       func(peerId string, state State)
}

func NewManager(conf config.Webrtc, log *logger.Logger) (*Manager, error) {
	factory, err := NewFactory(conf, log)
	if err != nil {
		return nil, err
	}
	return &Manager{factory: factory, sessions: com.NewMap[string, *Session](), log: log}, nil
}

func (m *Manager) Session(peerId string) (*Session, bool) {
	s, err := m.sessions.Find(peerId)
	return s, err == nil
}

func (m *Manager) Len() int { return m.sessions.Len() }

// Dial starts a handshake with a new peer and returns the offer to relay.
func (m *Manager) Dial(peerId string) (*webrtc.SessionDescription, error) {
	session, err := m.newSession(peerId)
	if err != nil {
		return nil, err
	}
	dc, err := session.conn.CreateDataChannel("data", nil)
	if err != nil {
		m.Drop(peerId)
		return nil, err
	}
	m.bindChannel(peerId, dc)
	offer, err := session.CreateOffer()
	if err != nil {
		m.Drop(peerId)
		return nil, err
	}
	return offer, nil
}

// HandleOffer answers an incoming handshake and returns the answer to relay.
func (m *Manager) HandleOffer(peerId string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	session, ok := m.Session(peerId)
	if !ok {
		var err error
		if session, err = m.newSession(peerId); err != nil {
			return nil, err
		}
		session.conn.OnDataChannel(func(dc *webrtc.DataChannel) { m.bindChannel(peerId, dc) })
	}
	answer, err := session.HandleOffer(offer)
	if err != nil {
		m.Drop(peerId)
		return nil, err
	}
	return answer, nil
}

func (m *Manager) HandleAnswer(peerId string, answer webrtc.SessionDescription) error {
	session, ok := m.Session(peerId)
	if !ok {
		return fmt.Errorf("no session for peer %v", peerId)
	}
	if err := session.HandleAnswer(answer); err != nil {
		return err
	}
	session.setState(Established)
	if session.takeRenegotiate() {
		m.renegotiate(session)
	}
	return nil
}

func (m *Manager) HandleCandidate(peerId string, candidate webrtc.ICECandidateInit) error {
	session, ok := m.Session(peerId)
	if !ok {
		return fmt.Errorf("no session for peer %v", peerId)
	}
	return session.AddCandidate(candidate)
}

// SetTracks swaps the local media set and renegotiates every live session
// so remote peers pick up the change.
func (m *Manager) SetTracks(tracks []webrtc.TrackLocal) {
	m.mu.Lock()
	m.tracks = tracks
	m.mu.Unlock()
	m.sessions.ForEach(func(s *Session) {
		if s.State() == Closed {
			return
		}
		if err := s.setTracks(tracks); err != nil {
			s.log.Error().Err(err).Msg("track attach fail")
			return
		}
		if !s.markRenegotiate() {
			// answer still in flight, the offer goes out from HandleAnswer
			return
		}
		m.renegotiate(s)
	})
}

func (m *Manager) renegotiate(s *Session) {
	offer, err := s.CreateOffer()
	if err != nil {
		s.log.Error().Err(err).Msg("renegotiation fail")
		return
	}
	if m.OnRenegotiate != nil {
		m.OnRenegotiate(s.peerId, *offer)
	}
}

// Drop tears down one session, Close tears down all of them.
func (m *Manager) Drop(peerId string) {
	if session, ok := m.Session(peerId); ok {
		m.sessions.RemoveByKey(peerId)
		session.Close()
	}
}

func (m *Manager) Close() {
	m.sessions.ForEach(func(s *Session) { s.Close() })
	m.sessions = com.NewMap[string, *Session]()
}

func (m *Manager) newSession(peerId string) (*Session, error) {
	if old, ok := m.Session(peerId); ok {
		m.sessions.RemoveByKey(peerId)
		old.Close()
	}
	conn, err := m.factory.NewPeer()
	if err != nil {
		return nil, err
	}
	session := newSession(peerId, conn, m.log)
	session.onState = func(state State) {
		if m.OnState != nil {
			m.OnState(peerId, state)
		}
	}
	conn.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if m.OnIceCandidate != nil {
			m.OnIceCandidate(peerId, c.ToJSON())
		}
	})
	conn.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if m.OnTrack != nil {
			m.OnTrack(peerId, track, receiver)
		}
	})
	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		session.log.Debug().Msgf("ice: %v", state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			session.setState(Established)
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			session.setState(Closed)
		}
	})
	m.mu.Lock()
	tracks := m.tracks
	m.mu.Unlock()
	if err = session.setTracks(tracks); err != nil {
		session.Close()
		return nil, err
	}
	m.sessions.Put(peerId, session)
	return session, nil
}

func (m *Manager) bindChannel(peerId string, dc *webrtc.DataChannel) {
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if m.OnMessage != nil {
			m.OnMessage(peerId, msg.Data)
		}
	})
}
