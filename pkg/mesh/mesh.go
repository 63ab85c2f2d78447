// Package mesh is the Mesh Supervisor (spec §4.5): the barrier that gates
// DKG start. It tracks which peers have usable data channels and which
// participants have accepted the session, and emits MeshReady exactly once
// per session once both conditions hold for every participant.
package mesh

import (
	"go.uber.org/zap"

	"github.com/frostmesh/node/pkg/types"
)

// Broadcast sends msg to every other participant. Supplied by pkg/core,
// backed by the Connection Manager.
type Broadcast func(msg types.MeshReadyMsg) error

// Supervisor owns the local device's view of mesh readiness for the
// current session.
type Supervisor struct {
	self      types.DeviceId
	logger    *zap.SugaredLogger
	broadcast Broadcast

	session      *types.Session
	connected    map[types.DeviceId]bool
	ready        map[types.DeviceId]bool
	ownReadySent bool

	// OnReady fires once the barrier first opens locally — the signal
	// pkg/core uses to call dkg.Engine.Initialize.
	OnReady func()
}

// NewSupervisor constructs a Supervisor for the local device.
func NewSupervisor(self types.DeviceId, broadcast Broadcast, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		self:      self,
		logger:    logger.Sugar(),
		broadcast: broadcast,
		connected: make(map[types.DeviceId]bool),
		ready:     make(map[types.DeviceId]bool),
	}
}

// Reset clears all state, including the own-ready-sent flag, per §4.5 ("The
// 'own-ready-sent' flag is reset only on explicit session reset").
func (s *Supervisor) Reset() {
	s.session = nil
	s.connected = make(map[types.DeviceId]bool)
	s.ready = make(map[types.DeviceId]bool)
	s.ownReadySent = false
}

// SetSession attaches the active session and re-evaluates readiness — a
// session can reach all-accepted after SetSession if acceptances were
// already tracked elsewhere.
func (s *Supervisor) SetSession(session *types.Session) {
	s.session = session
	s.maybeEmitReady()
}

// OnSessionUpdated re-evaluates readiness after the session's
// AcceptedDevices set changes.
func (s *Supervisor) OnSessionUpdated() {
	s.maybeEmitReady()
}

// OnPeerConnected marks peer as channel-ready and re-evaluates.
func (s *Supervisor) OnPeerConnected(peer types.DeviceId) {
	s.connected[peer] = true
	s.maybeEmitReady()
}

// OnPeerDisconnected drops peer from both connected and ready sets. Per
// §4.5, any disconnection drops the mesh from Ready to PartiallyReady; a
// reconnect requires a fresh MeshReady exchange, so the own-ready-sent flag
// intentionally does NOT reset here.
func (s *Supervisor) OnPeerDisconnected(peer types.DeviceId) {
	delete(s.connected, peer)
	delete(s.ready, peer)
}

// OnMeshReady records an inbound MeshReady from a peer. Idempotent:
// duplicate delivery does not change the ready set's size.
func (s *Supervisor) OnMeshReady(from types.DeviceId) {
	s.ready[from] = true
}

func (s *Supervisor) allChannelsOpen() bool {
	if s.session == nil {
		return false
	}
	for _, p := range s.session.Participants {
		if p == s.self {
			continue
		}
		if !s.connected[p] {
			return false
		}
	}
	return true
}

// maybeEmitReady implements §4.5's barrier: emit MeshReady at most once,
// when every other participant's channel is usable AND every participant
// has accepted the session.
func (s *Supervisor) maybeEmitReady() {
	if s.ownReadySent || s.session == nil {
		return
	}
	if !s.allChannelsOpen() || !s.session.AllAccepted() {
		return
	}
	s.ownReadySent = true
	s.ready[s.self] = true
	if s.broadcast != nil {
		if err := s.broadcast(types.MeshReadyMsg{SessionID: s.session.SessionID, DeviceID: s.self}); err != nil {
			s.logger.Warnw("failed to broadcast mesh-ready", "error", err)
		}
	}
	if s.OnReady != nil {
		s.OnReady()
	}
}

// Status reports the current MeshStatus.
func (s *Supervisor) Status() types.MeshStatus {
	if s.session == nil || len(s.ready) == 0 {
		return types.MeshStatus{Kind: types.MeshIncomplete}
	}
	total := s.session.Total
	if len(s.ready) >= total {
		allPresent := true
		for _, p := range s.session.Participants {
			if !s.ready[p] {
				allPresent = false
				break
			}
		}
		if allPresent {
			return types.MeshStatus{Kind: types.MeshReady, Ready: copySet(s.ready), Total: total}
		}
	}
	return types.MeshStatus{Kind: types.MeshPartiallyReady, Ready: copySet(s.ready), Total: total}
}

func copySet(in map[types.DeviceId]bool) map[types.DeviceId]bool {
	out := make(map[types.DeviceId]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
