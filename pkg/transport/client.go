// Package transport is the Connection Manager (spec §4.3): it owns every
// per-peer WebRTC PeerConnection and DataChannel, implements the
// politeness tie-break for who creates the offer, buffers ICE candidates
// until a remote description exists, and exposes a single send/close API
// to the rest of the core. It never touches engine state directly — every
// callback here only enqueues an event, per the single-threaded
// cooperative model in §5.
package transport

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/frostmesh/node/pkg/signaling"
	"github.com/frostmesh/node/pkg/types"
)

// dataChannelLabel is the only label the Connection Manager accepts;
// channels with any other label are rejected per §4.3.
const dataChannelLabel = "frost-dkg"

// RetryConfig is an alias of signaling.RetryConfig, kept from the teacher's
// transport.RetryConfig (this package used to be the teacher's HTTP retry
// client). Nothing in this package uses it; no ICE restart is attempted.
type RetryConfig = signaling.RetryConfig

// OnOpen/OnClose/OnMessage are invoked from pion's own goroutines; callers
// MUST only enqueue an event onto the core's inbox, never mutate engine
// state directly.
type (
	OnOpen    func(peer types.DeviceId)
	OnClose   func(peer types.DeviceId)
	OnMessage func(peer types.DeviceId, data []byte)
)

type peerConn struct {
	pc        *webrtc.PeerConnection
	dc        *webrtc.DataChannel
	candidates []webrtc.ICECandidateInit
	remoteSet bool
	mu        sync.Mutex
}

// Manager owns all peer connections for one local device within one
// session's mesh.
type Manager struct {
	self     types.DeviceId
	iceServers []string
	gateway  *signaling.Gateway
	logger   *zap.SugaredLogger

	mu    sync.Mutex
	peers map[types.DeviceId]*peerConn

	openMu sync.Mutex
	opened map[types.DeviceId]bool

	OnOpen    OnOpen
	OnClose   OnClose
	OnMessage OnMessage
}

// NewManager constructs a Connection Manager that signals through gateway.
func NewManager(self types.DeviceId, iceServers []string, gateway *signaling.Gateway, logger *zap.Logger) *Manager {
	return &Manager{
		self:       self,
		iceServers: iceServers,
		gateway:    gateway,
		logger:     logger.Sugar(),
		peers:      make(map[types.DeviceId]*peerConn),
		opened:     make(map[types.DeviceId]bool),
	}
}

// politeness: the lexicographically smaller DeviceId initiates, so the
// larger one is polite and waits for the incoming offer.
func (m *Manager) isPolite(peer types.DeviceId) bool {
	return m.self > peer
}

func (m *Manager) webrtcConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: m.iceServers}},
	}
}

// Initiate begins a connection to peer. If the local device is the polite
// (lexicographically larger) side, it does nothing and waits for an
// incoming offer instead, per §4.3's tie-break.
func (m *Manager) Initiate(peer types.DeviceId) error {
	if m.isPolite(peer) {
		m.logger.Debugw("waiting for incoming offer", "peer", peer)
		return nil
	}
	pc, err := m.getOrCreatePeer(peer)
	if err != nil {
		return err
	}

	dc, err := pc.pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return fmt.Errorf("create data channel to %s: %w", peer, err)
	}
	m.wireDataChannel(peer, dc)

	offer, err := pc.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer for %s: %w", peer, err)
	}
	if err := pc.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description for %s: %w", peer, err)
	}
	return m.gateway.Send(peer, signaling.Envelope{Kind: signaling.EnvelopeOffer, SDP: offer.SDP})
}

func (m *Manager) getOrCreatePeer(peer types.DeviceId) (*peerConn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[peer]; ok {
		return p, nil
	}
	pc, err := webrtc.NewPeerConnection(m.webrtcConfig())
	if err != nil {
		return nil, fmt.Errorf("new peer connection to %s: %w", peer, err)
	}
	p := &peerConn{pc: pc}
	m.peers[peer] = p

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		mline := init.SDPMLineIndex
		_ = m.gateway.Send(peer, signaling.Envelope{
			Kind:      signaling.EnvelopeCandidate,
			Candidate: init.Candidate,
			SDPMid:    derefStr(init.SDPMid),
			SDPMLine:  mline,
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.logger.Debugw("peer connection state changed", "peer", peer, "state", state.String())
		if state == webrtc.PeerConnectionStateConnected {
			m.fireOpen(peer)
		}
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed || state == webrtc.PeerConnectionStateDisconnected {
			m.fireClose(peer)
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != dataChannelLabel {
			m.logger.Warnw("rejecting data channel with unexpected label", "peer", peer, "label", dc.Label())
			_ = dc.Close()
			return
		}
		m.wireDataChannel(peer, dc)
	})

	return p, nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (m *Manager) wireDataChannel(peer types.DeviceId, dc *webrtc.DataChannel) {
	m.mu.Lock()
	if p, ok := m.peers[peer]; ok {
		p.dc = dc
	}
	m.mu.Unlock()

	dc.OnOpen(func() { m.fireOpen(peer) })
	dc.OnClose(func() { m.fireClose(peer) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if m.OnMessage != nil {
			m.OnMessage(peer, msg.Data)
		}
	})
}

// fireOpen is idempotent: connection-state and data-channel callbacks can
// both fire "ready", and readiness is an OR per §4.3 — the consumer only
// ever sees one open event per peer per connection attempt.
func (m *Manager) fireOpen(peer types.DeviceId) {
	m.openMu.Lock()
	already := m.opened[peer]
	m.opened[peer] = true
	m.openMu.Unlock()
	if already {
		return
	}
	if m.OnOpen != nil {
		m.OnOpen(peer)
	}
}

func (m *Manager) fireClose(peer types.DeviceId) {
	m.openMu.Lock()
	delete(m.opened, peer)
	m.openMu.Unlock()
	if m.OnClose != nil {
		m.OnClose(peer)
	}
}

// OnSignal handles an inbound signaling envelope from peer, per the
// politeness and ICE-buffering rules in §4.3.
func (m *Manager) OnSignal(peer types.DeviceId, env signaling.Envelope) error {
	switch env.Kind {
	case signaling.EnvelopeOffer:
		return m.onOffer(peer, env.SDP)
	case signaling.EnvelopeAnswer:
		return m.onAnswer(peer, env.SDP)
	case signaling.EnvelopeCandidate:
		return m.onCandidate(peer, env)
	default:
		return fmt.Errorf("%w: unknown envelope kind %q", types.ErrSignalingMalformed, env.Kind)
	}
}

func (m *Manager) onOffer(peer types.DeviceId, sdp string) error {
	// Only the lexicographically smaller id creates the channel and offer
	// (see Initiate). An offer arriving at the smaller side is a crossing
	// offer from the larger one; it is dropped and the local offer kept.
	if !m.isPolite(peer) {
		m.logger.Warnw("ignoring crossing offer from larger peer", "peer", peer)
		return nil
	}
	p, err := m.getOrCreatePeer(peer)
	if err != nil {
		return err
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote offer from %s: %w", peer, err)
	}
	m.flushCandidates(p)

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer for %s: %w", peer, err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer for %s: %w", peer, err)
	}
	return m.gateway.Send(peer, signaling.Envelope{Kind: signaling.EnvelopeAnswer, SDP: answer.SDP})
}

func (m *Manager) onAnswer(peer types.DeviceId, sdp string) error {
	m.mu.Lock()
	p, ok := m.peers[peer]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: answer from %s with no pending offer", types.ErrUnknownDevice, peer)
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote answer from %s: %w", peer, err)
	}
	m.flushCandidates(p)
	return nil
}

func (m *Manager) onCandidate(peer types.DeviceId, env signaling.Envelope) error {
	p, err := m.getOrCreatePeer(peer)
	if err != nil {
		return err
	}
	init := webrtc.ICECandidateInit{Candidate: env.Candidate}
	if env.SDPMid != "" {
		mid := env.SDPMid
		init.SDPMid = &mid
	}
	if env.SDPMLine != nil {
		init.SDPMLineIndex = env.SDPMLine
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.remoteSet {
		p.candidates = append(p.candidates, init)
		return nil
	}
	return p.pc.AddICECandidate(init)
}

func (m *Manager) flushCandidates(p *peerConn) {
	p.mu.Lock()
	p.remoteSet = true
	pending := p.candidates
	p.candidates = nil
	p.mu.Unlock()
	for _, c := range pending {
		_ = p.pc.AddICECandidate(c)
	}
}

// IsConnected reports whether messages can flow to peer: either the peer
// connection is `connected` or the data channel is `open` — the OR is
// deliberate per §4.3.
func (m *Manager) IsConnected(peer types.DeviceId) bool {
	m.mu.Lock()
	p, ok := m.peers[peer]
	m.mu.Unlock()
	if !ok {
		return false
	}
	if p.pc.ConnectionState() == webrtc.PeerConnectionStateConnected {
		return true
	}
	return p.dc != nil && p.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Send tags v with its webrtc_msg_type and writes the flattened JSON on
// peer's data channel, per the wire shape pkg/router expects.
func (m *Manager) Send(peer types.DeviceId, v interface{}) error {
	m.mu.Lock()
	p, ok := m.peers[peer]
	m.mu.Unlock()
	if !ok || p.dc == nil || p.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("%w: to %s", types.ErrSendToClosedChannel, peer)
	}
	payload, err := types.MarshalTagged(v)
	if err != nil {
		return fmt.Errorf("marshal message to %s: %w", peer, err)
	}
	return p.dc.Send(payload)
}

// Close tears down the connection to peer.
func (m *Manager) Close(peer types.DeviceId) error {
	m.mu.Lock()
	p, ok := m.peers[peer]
	delete(m.peers, peer)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if p.dc != nil {
		_ = p.dc.Close()
	}
	return p.pc.Close()
}
