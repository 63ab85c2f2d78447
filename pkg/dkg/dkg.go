// Package dkg is the DKG Engine (spec §4.6): it drives the three-round
// FROST distributed key generation, buffers out-of-order packages, and
// requests resends for packages it never received. It is single-owner —
// only one DKG session runs at a time per process — and runs entirely on
// the core's single logical task (§5); every method here is synchronous
// and must only be called from that task.
package dkg

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/frostmesh/node/pkg/frost"
	"github.com/frostmesh/node/pkg/types"
)

// SendTo delivers msg to a single peer; Broadcast delivers it to every
// other participant of the active session. Both are backed by the
// Connection Manager via pkg/core.
type (
	SendTo    func(peer types.DeviceId, msg interface{}) error
	Broadcast func(msg interface{}) error
)

// Engine drives the DKG state machine for one node.
type Engine struct {
	self               types.DeviceId
	sendTo             SendTo
	broadcast          Broadcast
	logger             *zap.SugaredLogger
	autoTriggerEnabled bool

	state   types.DkgState
	session *types.Session

	participantIndex int
	dkgSession       frost.DkgSession

	buffer           *types.DkgPackageBuffer
	round1Senders    map[types.DeviceId]bool
	round2Senders    map[types.DeviceId]bool
	missingRequested map[types.DeviceId]bool

	ownRound1Raw  json.RawMessage
	ownRound2Raw  map[types.DeviceId]json.RawMessage
	keyMaterial   *types.KeyMaterial
	failureReason error

	// OnStateChange fires on every state transition.
	OnStateChange func(types.DkgState)
	// OnComplete fires once, with the derived key material.
	OnComplete func(*types.KeyMaterial)
	// OnFailed fires once, with the reason the session failed.
	OnFailed func(error)
}

// NewEngine constructs an idle DKG Engine. autoTriggerEnabled gates the
// eager auto-initialize condition from §4.6 point 3 — see DESIGN.md for
// why this ships behind a flag rather than always-on.
func NewEngine(self types.DeviceId, sendTo SendTo, broadcast Broadcast, autoTriggerEnabled bool, logger *zap.Logger) *Engine {
	return &Engine{
		self:               self,
		sendTo:             sendTo,
		broadcast:          broadcast,
		logger:             logger.Sugar(),
		autoTriggerEnabled: autoTriggerEnabled,
		state:              types.DkgIdle,
		buffer:             types.NewDkgPackageBuffer(),
		round1Senders:      make(map[types.DeviceId]bool),
		round2Senders:      make(map[types.DeviceId]bool),
		missingRequested:   make(map[types.DeviceId]bool),
		ownRound2Raw:       make(map[types.DeviceId]json.RawMessage),
	}
}

// State returns the engine's current state.
func (e *Engine) State() types.DkgState { return e.state }

// KeyMaterial returns the produced key material, or nil before Complete.
func (e *Engine) KeyMaterial() *types.KeyMaterial { return e.keyMaterial }

// AttachSession makes session the one this engine will (or already does)
// drive. pkg/core calls it on every session snapshot; Initialize is started
// separately, once the mesh barrier fires.
func (e *Engine) AttachSession(session *types.Session) {
	e.session = session
	e.tryAutoTrigger()
}

// Initialize transitions Idle → Initializing → Round1InProgress: it
// generates and broadcasts the local round-1 package, then drains any
// round-1 packages buffered while the engine was not yet ready for them.
func (e *Engine) Initialize() error {
	if e.state != types.DkgIdle {
		return fmt.Errorf("%w: dkg engine is %s, not idle", types.ErrConcurrentDkg, e.state)
	}
	if e.session == nil {
		return fmt.Errorf("dkg: no active session to initialize against")
	}

	e.participantIndex = e.session.ParticipantIndex(e.self)
	if e.participantIndex == 0 {
		return fmt.Errorf("dkg: local device %s is not a participant", e.self)
	}

	suite, err := frost.ForCurve(e.session.Curve)
	if err != nil {
		return e.fail(err)
	}
	e.dkgSession = suite.NewDkgSession(e.participantIndex, e.session.Threshold, e.session.Total)
	e.setState(types.DkgInitializing)

	pkg, err := e.dkgSession.GenerateRound1()
	if err != nil {
		return e.fail(fmt.Errorf("%w: generate round1: %v", types.ErrCryptoRejected, err))
	}
	e.round1Senders[e.self] = true

	raw, err := json.Marshal(pkg)
	if err != nil {
		return e.fail(err)
	}
	e.ownRound1Raw = raw
	if err := e.broadcast(types.DkgRound1PackageMsg{Package: raw}); err != nil {
		e.logger.Warnw("failed to broadcast round1 package", "error", err)
	}

	e.setState(types.DkgRound1InProgress)
	e.replayRound1()
	e.maybeStartRound2()
	return nil
}

// HandleRound1Package ingests an inbound round-1 package, buffering it if
// the engine is not yet ready to accept it.
func (e *Engine) HandleRound1Package(from types.DeviceId, msg types.DkgRound1PackageMsg) error {
	if from == e.self || e.round1Senders[from] {
		return nil
	}
	if e.state != types.DkgRound1InProgress {
		e.buffer.Put(from, 1, msg.Package)
		e.tryAutoTrigger()
		return nil
	}
	return e.addRound1(from, msg.Package)
}

func (e *Engine) addRound1(from types.DeviceId, raw json.RawMessage) error {
	pkg, err := decodeRound1Package(raw)
	if err != nil {
		e.logger.Warnw("dropping malformed round1 package", "from", from, "error", err)
		return nil
	}
	if err := e.dkgSession.AddRound1Package(pkg); err != nil {
		return e.fail(fmt.Errorf("%w: round1 from %s: %v", types.ErrCryptoRejected, from, err))
	}
	e.round1Senders[from] = true
	e.maybeStartRound2()
	return nil
}

func (e *Engine) replayRound1() {
	for _, entry := range e.buffer.Drain(1) {
		if entry.FromDevice == e.self {
			continue
		}
		if err := e.addRound1(entry.FromDevice, entry.RawPackage); err != nil {
			return
		}
	}
}

func (e *Engine) maybeStartRound2() {
	if e.state != types.DkgRound1InProgress {
		return
	}
	if len(e.round1Senders) != e.session.Total || !e.dkgSession.CanStartRound2() {
		return
	}
	e.transitionToRound2()
}

func (e *Engine) transitionToRound2() {
	e.setState(types.DkgRound2InProgress)
	pkgs, err := e.dkgSession.GenerateRound2()
	if err != nil {
		e.fail(fmt.Errorf("%w: generate round2: %v", types.ErrCryptoRejected, err))
		return
	}
	for recipientIdx, pkg := range pkgs {
		peer := e.session.Participants[recipientIdx-1]
		raw, merr := json.Marshal(pkg)
		if merr != nil {
			e.logger.Warnw("failed to marshal round2 package", "recipient", peer, "error", merr)
			continue
		}
		e.ownRound2Raw[peer] = raw
		if err := e.sendTo(peer, types.DkgRound2PackageMsg{Package: raw}); err != nil {
			e.logger.Warnw("failed to send round2 package", "recipient", peer, "error", err)
		}
	}
	e.replayRound2()
	e.maybeFinalize()
}

// HandleRound2Package ingests an inbound round-2 package. If it arrives
// while round-1 is still pending some senders, it also triggers a
// missing-package request to the sender, per §4.6 point 4 — a round-2
// package from a peer implies that peer has already left round 1, so its
// round-1 package is the one most likely still missing locally.
func (e *Engine) HandleRound2Package(from types.DeviceId, msg types.DkgRound2PackageMsg) error {
	if from == e.self || e.round2Senders[from] {
		return nil
	}
	if e.state == types.DkgRound1InProgress {
		e.buffer.Put(from, 2, msg.Package)
		e.requestMissingRound1(from)
		return nil
	}
	if e.state != types.DkgRound2InProgress {
		e.buffer.Put(from, 2, msg.Package)
		return nil
	}
	return e.addRound2(from, msg.Package)
}

func (e *Engine) requestMissingRound1(from types.DeviceId) {
	if e.round1Senders[from] || e.missingRequested[from] {
		return
	}
	e.missingRequested[from] = true
	if err := e.sendTo(from, types.DkgPackageRequest{Round: 1, Requester: e.self}); err != nil {
		e.logger.Warnw("failed to request missing round1 package", "from", from, "error", err)
	}
}

func (e *Engine) addRound2(from types.DeviceId, raw json.RawMessage) error {
	pkg, err := decodeRound2Package(raw)
	if err != nil {
		e.logger.Warnw("dropping malformed round2 package", "from", from, "error", err)
		return nil
	}
	if err := e.dkgSession.AddRound2Package(pkg); err != nil {
		return e.fail(fmt.Errorf("%w: round2 from %s: %v", types.ErrCryptoRejected, from, err))
	}
	e.round2Senders[from] = true
	e.maybeFinalize()
	return nil
}

func (e *Engine) replayRound2() {
	for _, entry := range e.buffer.Drain(2) {
		if entry.FromDevice == e.self {
			continue
		}
		if err := e.addRound2(entry.FromDevice, entry.RawPackage); err != nil {
			return
		}
	}
}

func (e *Engine) maybeFinalize() {
	if e.state != types.DkgRound2InProgress {
		return
	}
	if len(e.round2Senders) != e.session.Total-1 || !e.dkgSession.CanFinalize() {
		return
	}
	e.setState(types.DkgFinalizing)
	res, err := e.dkgSession.Finalize()
	if err != nil {
		e.fail(fmt.Errorf("%w: finalize: %v", types.ErrCryptoRejected, err))
		return
	}
	e.keyMaterial = &types.KeyMaterial{
		GroupPublicKey: res.GroupPublicKey,
		PrivateShare:   res.PrivateShare,
		Participants:   e.session.Participants,
		Threshold:      e.session.Threshold,
		Curve:          e.session.Curve,
		Address:        res.Address,
	}
	e.setState(types.DkgComplete)
	if e.OnComplete != nil {
		e.OnComplete(e.keyMaterial)
	}
}

// HandlePackageRequest answers a peer's request to resend a package this
// device already sent it. Every request is answered; repeated identical
// requests re-send the same stored package each time.
func (e *Engine) HandlePackageRequest(from types.DeviceId, req types.DkgPackageRequest) error {
	switch req.Round {
	case 1:
		if e.ownRound1Raw == nil {
			return nil
		}
		return e.sendTo(from, types.DkgPackageResend{Round: 1, Package: e.ownRound1Raw})
	case 2:
		raw, ok := e.ownRound2Raw[from]
		if !ok {
			return nil
		}
		return e.sendTo(from, types.DkgPackageResend{Round: 2, Package: raw})
	default:
		return fmt.Errorf("dkg: unsupported package request round %d", req.Round)
	}
}

// HandlePackageResend re-ingests a resent package through the normal
// ingest path.
func (e *Engine) HandlePackageResend(from types.DeviceId, resend types.DkgPackageResend) error {
	switch resend.Round {
	case 1:
		return e.HandleRound1Package(from, types.DkgRound1PackageMsg{Package: resend.Package})
	case 2:
		return e.HandleRound2Package(from, types.DkgRound2PackageMsg{Package: resend.Package})
	default:
		return fmt.Errorf("dkg: unsupported resend round %d", resend.Round)
	}
}

// OnPeerDisconnected fails the in-progress round if peer is a participant
// of the active session, per §8 scenario 6 ("Peer disconnect mid-DKG...
// DKG engine reports Failed; key material is NOT created"). A disconnect
// before Initialize or after the round has already concluded is a no-op.
func (e *Engine) OnPeerDisconnected(peer types.DeviceId) {
	if e.session == nil || peer == e.self {
		return
	}
	switch e.state {
	case types.DkgIdle, types.DkgComplete, types.DkgFailed:
		return
	}
	isParticipant := false
	for _, p := range e.session.Participants {
		if p == peer {
			isParticipant = true
			break
		}
	}
	if !isParticipant {
		return
	}
	e.fail(fmt.Errorf("%w: %s", types.ErrPeerDisconnected, peer))
}

// tryAutoTrigger implements §4.6 point 3 and the Open Question in §9: if
// still Idle but a session is active and every other participant's
// round-1 package is already buffered, eagerly initialize. Gated behind
// autoTriggerEnabled since the source's interaction with slow joiners is
// unresolved — see DESIGN.md.
func (e *Engine) tryAutoTrigger() {
	if !e.autoTriggerEnabled || e.state != types.DkgIdle || e.session == nil {
		return
	}
	senders := e.buffer.SendersFor(1)
	for _, p := range e.session.Participants {
		if p == e.self {
			continue
		}
		if !senders[p] {
			return
		}
	}
	_ = e.Initialize()
}

// Reset returns the engine to Idle for a fresh session with a new
// session_id, per §4.6's failure-recovery model.
func (e *Engine) Reset() {
	e.state = types.DkgIdle
	e.session = nil
	e.dkgSession = nil
	e.buffer = types.NewDkgPackageBuffer()
	e.round1Senders = make(map[types.DeviceId]bool)
	e.round2Senders = make(map[types.DeviceId]bool)
	e.missingRequested = make(map[types.DeviceId]bool)
	e.ownRound1Raw = nil
	e.ownRound2Raw = make(map[types.DeviceId]json.RawMessage)
	e.keyMaterial = nil
	e.failureReason = nil
}

func (e *Engine) setState(s types.DkgState) {
	e.state = s
	if e.OnStateChange != nil {
		e.OnStateChange(s)
	}
}

func (e *Engine) fail(reason error) error {
	e.failureReason = reason
	e.setState(types.DkgFailed)
	if e.OnFailed != nil {
		e.OnFailed(reason)
	}
	return reason
}

// decodeRound1Package accepts the structured framing directly, or the
// historical {sender_index, data: hex} framing, per §4.6's wire-format
// note.
func decodeRound1Package(raw json.RawMessage) (frost.Round1Package, error) {
	var pkg frost.Round1Package
	if err := json.Unmarshal(raw, &pkg); err == nil && len(pkg.Commitments) > 0 {
		return pkg, nil
	}
	var historical struct {
		SenderIndex int    `json:"sender_index"`
		Data        string `json:"data"`
	}
	if err := json.Unmarshal(raw, &historical); err != nil {
		return frost.Round1Package{}, fmt.Errorf("unrecognized round1 package framing: %w", err)
	}
	decoded, err := hex.DecodeString(historical.Data)
	if err != nil {
		return frost.Round1Package{}, fmt.Errorf("decode hex round1 package: %w", err)
	}
	if err := json.Unmarshal(decoded, &pkg); err != nil {
		return frost.Round1Package{}, fmt.Errorf("decode inner round1 package: %w", err)
	}
	pkg.SenderIndex = historical.SenderIndex
	return pkg, nil
}

func decodeRound2Package(raw json.RawMessage) (frost.Round2Package, error) {
	var pkg frost.Round2Package
	if err := json.Unmarshal(raw, &pkg); err == nil && len(pkg.Share) > 0 {
		return pkg, nil
	}
	var historical struct {
		SenderIndex int    `json:"sender_index"`
		Data        string `json:"data"`
	}
	if err := json.Unmarshal(raw, &historical); err != nil {
		return frost.Round2Package{}, fmt.Errorf("unrecognized round2 package framing: %w", err)
	}
	decoded, err := hex.DecodeString(historical.Data)
	if err != nil {
		return frost.Round2Package{}, fmt.Errorf("decode hex round2 package: %w", err)
	}
	if err := json.Unmarshal(decoded, &pkg); err != nil {
		return frost.Round2Package{}, fmt.Errorf("decode inner round2 package: %w", err)
	}
	pkg.SenderIndex = historical.SenderIndex
	return pkg, nil
}
