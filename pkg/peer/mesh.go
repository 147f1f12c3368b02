package peer

import (
	json "github.com/goccy/go-json"
	"github.com/pion/webrtc/v3"
	"github.com/playmesh/playmesh/pkg/api"
	"github.com/playmesh/playmesh/pkg/client"
	"github.com/playmesh/playmesh/pkg/logger"
)

// Mesh drives a full p2p mesh for one room: every member who joins
// after us gets dialed, and every incoming offer gets answered.
// The room's signaling channel carries the handshake both ways.
type Mesh struct {
	client  *client.Client
	manager *Manager
	roomId  string
	log     *logger.Logger
}

func NewMesh(c *client.Client, m *Manager, roomId string, log *logger.Logger) *Mesh {
	mesh := &Mesh{client: c, manager: m, roomId: roomId, log: log}

	m.OnIceCandidate = func(peerId string, candidate webrtc.ICECandidateInit) {
		mesh.send(api.IceCandidate, peerId, candidate)
	}
	m.OnRenegotiate = func(peerId string, offer webrtc.SessionDescription) {
		mesh.send(api.Offer, peerId, offer)
	}

	c.OnPlayerJoined = func(n api.PlayerJoinedNotice) { mesh.dial(n.ConnId) }
	c.OnPlayerLeft = func(n api.PlayerLeftNotice) { m.Drop(n.ConnId) }
	c.OnSignal = mesh.handleSignal

	return mesh
}

func (m *Mesh) Manager() *Manager { return m.manager }

// dial starts the handshake towards a newly joined member.
// The new side always answers, so established pairs never glare.
func (m *Mesh) dial(peerId string) {
	offer, err := m.manager.Dial(peerId)
	if err != nil {
		m.log.Error().Err(err).Str("peer", peerId).Msg("dial fail")
		return
	}
	m.send(api.Offer, peerId, offer)
}

func (m *Mesh) handleSignal(t api.PT, sig api.SignalNotice) {
	switch t {
	case api.Offer:
		var offer webrtc.SessionDescription
		if err := json.Unmarshal(sig.Payload, &offer); err != nil {
			m.log.Error().Err(err).Msg("bad offer")
			return
		}
		answer, err := m.manager.HandleOffer(sig.From, offer)
		if err != nil {
			m.log.Error().Err(err).Str("peer", sig.From).Msg("offer fail")
			return
		}
		m.send(api.Answer, sig.From, answer)
	case api.Answer:
		var answer webrtc.SessionDescription
		if err := json.Unmarshal(sig.Payload, &answer); err != nil {
			m.log.Error().Err(err).Msg("bad answer")
			return
		}
		if err := m.manager.HandleAnswer(sig.From, answer); err != nil {
			m.log.Error().Err(err).Str("peer", sig.From).Msg("answer fail")
		}
	case api.IceCandidate:
		var candidate webrtc.ICECandidateInit
		if err := json.Unmarshal(sig.Payload, &candidate); err != nil {
			m.log.Error().Err(err).Msg("bad candidate")
			return
		}
		if err := m.manager.HandleCandidate(sig.From, candidate); err != nil {
			m.log.Error().Err(err).Str("peer", sig.From).Msg("candidate fail")
		}
	}
}

func (m *Mesh) send(t api.PT, peerId string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		m.log.Error().Err(err).Msg("signal marshal fail")
		return
	}
	m.client.Signal(t, m.roomId, peerId, data)
}

func (m *Mesh) Close() { m.manager.Close() }
