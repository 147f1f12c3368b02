package peer

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/playmesh/playmesh/pkg/logger"
)

// State tracks one p2p handshake from the first description
// to an established direct channel.
type State uint8

const (
	Idle State = iota
	OfferSent
	OfferReceived
	AnswerCreated
	Established
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case OfferSent:
		return "offer-sent"
	case OfferReceived:
		return "offer-received"
	case AnswerCreated:
		return "answer-created"
	case Established:
		return "established"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// candidates arriving before the remote description are buffered
// up to this many and flushed in arrival order
const maxPendingCandidates = 32

var errClosed = errors.New("session closed")

// Session is the handshake state machine for one remote participant.
type Session struct {
	peerId string
	conn   *webrtc.PeerConnection
	log    *logger.Logger

	mu      sync.Mutex
	state   State
	pending []webrtc.ICECandidateInit
	// senders of the currently attached local tracks
	senders []*webrtc.RTPSender
	// set when a track change lands mid-handshake; the renegotiation
	// offer goes out once the signaling state is stable again
	renegotiate bool

	onState func(State)
}

func newSession(peerId string, conn *webrtc.PeerConnection, log *logger.Logger) *Session {
	return &Session{
		peerId: peerId,
		conn:   conn,
		log:    log.Wrap(log.With().Str("peer", peerId)),
	}
}

func (s *Session) PeerId() string { return s.peerId }

func (s *Session) State() State { s.mu.Lock(); defer s.mu.Unlock(); return s.state }

func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state == Closed && state != Closed {
		s.mu.Unlock()
		return
	}
	s.state = state
	cb := s.onState
	s.mu.Unlock()
	s.log.Debug().Msgf("state %v", state)
	if cb != nil {
		cb(state)
	}
}

// CreateOffer makes this side the initiator of the handshake.
func (s *Session) CreateOffer() (*webrtc.SessionDescription, error) {
	if s.State() == Closed {
		return nil, errClosed
	}
	offer, err := s.conn.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err = s.conn.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	s.setState(OfferSent)
	return &offer, nil
}

// HandleOffer makes this side the answerer: the remote description is
// applied, buffered candidates are flushed, and an answer is produced.
func (s *Session) HandleOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if s.State() == Closed {
		return nil, errClosed
	}
	if err := s.conn.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	s.setState(OfferReceived)
	s.flushCandidates()
	answer, err := s.conn.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err = s.conn.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	s.setState(AnswerCreated)
	return &answer, nil
}

// HandleAnswer completes the initiator's description exchange.
func (s *Session) HandleAnswer(answer webrtc.SessionDescription) error {
	if s.State() == Closed {
		return errClosed
	}
	if err := s.conn.SetRemoteDescription(answer); err != nil {
		return err
	}
	s.flushCandidates()
	return nil
}

// AddCandidate applies a remote ICE candidate, buffering it when the
// remote description is not in place yet.
func (s *Session) AddCandidate(candidate webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return errClosed
	}
	if s.conn.RemoteDescription() == nil {
		if len(s.pending) < maxPendingCandidates {
			s.pending = append(s.pending, candidate)
		} else {
			s.log.Warn().Msg("pending candidate overflow, dropped")
		}
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.conn.AddICECandidate(candidate)
}

// setTracks swaps the attached local tracks, removing the senders of
// the previous set first so a re-set does not stack duplicates.
func (s *Session) setTracks(tracks []webrtc.TrackLocal) error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return errClosed
	}
	old := s.senders
	s.senders = nil
	s.mu.Unlock()
	for _, sender := range old {
		if err := s.conn.RemoveTrack(sender); err != nil {
			s.log.Error().Err(err).Msg("stale sender removal fail")
		}
	}
	var senders []*webrtc.RTPSender
	for _, track := range tracks {
		sender, err := s.conn.AddTrack(track)
		if err != nil {
			return err
		}
		senders = append(senders, sender)
	}
	s.mu.Lock()
	s.senders = senders
	s.mu.Unlock()
	return nil
}

// markRenegotiate reports whether a renegotiation offer can go out now.
// Mid-exchange the offer is held until the pending answer lands.
func (s *Session) markRenegotiate() bool {
	if s.conn.SignalingState() != webrtc.SignalingStateStable {
		s.mu.Lock()
		s.renegotiate = true
		s.mu.Unlock()
		return false
	}
	return true
}

func (s *Session) takeRenegotiate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.renegotiate
	s.renegotiate = false
	return held
}

func (s *Session) flushCandidates() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, c := range pending {
		if err := s.conn.AddICECandidate(c); err != nil {
			s.log.Error().Err(err).Msg("buffered candidate fail")
		}
	}
}

func (s *Session) Close() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Closed
	s.mu.Unlock()
	if s.conn.ConnectionState() < webrtc.PeerConnectionStateDisconnected {
		// ignore this due to DTLS fatal: conn is closed
		_ = s.conn.Close()
	}
	s.log.Debug().Msg("p2p stop")
}
