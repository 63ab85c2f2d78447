// Package signing is the Signing Engine (spec §4.7): it collects
// acceptances for a proposed signature, deterministically selects the
// signer subset, and drives the two-round FROST commit/share exchange to
// a locally-verified aggregate signature. At most one signing session runs
// at a time per node.
package signing

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/frostmesh/node/pkg/frost"
	"github.com/frostmesh/node/pkg/types"
)

type (
	SendTo    func(peer types.DeviceId, msg interface{}) error
	Broadcast func(msg interface{}) error
)

// AcceptanceTimeout is the recommended bound from §4.7/§8 scenario 5: a
// signing session that has not collected enough acceptances within this
// window fails rather than waiting forever.
const AcceptanceTimeout = 30 * time.Second

// Engine drives the signing state machine for one node.
type Engine struct {
	self      types.DeviceId
	sendTo    SendTo
	broadcast Broadcast
	logger    *zap.SugaredLogger

	keyMaterial *types.KeyMaterial
	suite       frost.Suite

	state            types.SigningState
	session          *types.SigningSession
	createdAt        time.Time
	participantIndex int
	signingSession    frost.SigningSession
	failureReason    error

	// OnStateChange fires on every state transition.
	OnStateChange func(types.SigningState)
	// OnComplete fires once, with the final aggregated signature.
	OnComplete func(signingID string, signature []byte)
	// OnFailed fires once, with the reason the session failed.
	OnFailed func(error)
}

// NewEngine constructs an idle Signing Engine.
func NewEngine(self types.DeviceId, sendTo SendTo, broadcast Broadcast, logger *zap.Logger) *Engine {
	return &Engine{self: self, sendTo: sendTo, broadcast: broadcast, logger: logger.Sugar(), state: types.SigningIdle}
}

// State returns the engine's current state.
func (e *Engine) State() types.SigningState { return e.state }

// Session returns the active signing session, or nil.
func (e *Engine) Session() *types.SigningSession { return e.session }

// SetKeyMaterial attaches the wallet this engine signs with. Called once by
// pkg/core after DKG completion or wallet load.
func (e *Engine) SetKeyMaterial(km *types.KeyMaterial) error {
	suite, err := frost.ForCurve(km.Curve)
	if err != nil {
		return err
	}
	e.keyMaterial = km
	e.suite = suite
	return nil
}

// Propose starts a new signing session as initiator, broadcasting
// SigningRequest to every other participant, per §4.7 phase 1.
func (e *Engine) Propose(signingID string, txBytes []byte, requiredSigners int) error {
	if e.state != types.SigningIdle {
		return fmt.Errorf("%w: signing engine is %s, not idle", types.ErrConcurrentSigning, e.state)
	}
	if e.keyMaterial == nil {
		return fmt.Errorf("signing: no wallet loaded")
	}
	threshold := requiredSigners
	if threshold <= 0 {
		threshold = e.keyMaterial.Threshold
	}
	e.session = types.NewSigningSession(signingID, txBytes, threshold, e.keyMaterial.Participants, e.self)
	e.createdAt = time.Now()
	e.setState(types.SigningAwaitingAcceptances)
	return e.broadcast(types.SigningRequest{
		SigningID:       signingID,
		TransactionData: hex.EncodeToString(txBytes),
		RequiredSigners: threshold,
	})
}

// HandleRequest answers an inbound SigningRequest. Declines if this engine
// is already busy with another session, enforcing the at-most-one-active
// invariant on the responder's side too.
func (e *Engine) HandleRequest(from types.DeviceId, req types.SigningRequest) error {
	if e.state != types.SigningIdle || e.keyMaterial == nil {
		return e.sendTo(from, types.SigningAcceptance{SigningID: req.SigningID, Accepted: false})
	}
	txBytes, err := hex.DecodeString(req.TransactionData)
	if err != nil {
		return fmt.Errorf("signing request from %s: %w", from, err)
	}
	e.session = types.NewSigningSession(req.SigningID, txBytes, req.RequiredSigners, e.keyMaterial.Participants, from)
	e.createdAt = time.Now()
	e.setState(types.SigningAwaitingAcceptances)
	return e.sendTo(from, types.SigningAcceptance{SigningID: req.SigningID, Accepted: true})
}

// HandleAcceptance tallies an inbound SigningAcceptance. Only meaningful at
// the initiator. Per §4.7 point 6, any decline fails the whole session
// outright rather than merely not counting toward the threshold.
func (e *Engine) HandleAcceptance(from types.DeviceId, resp types.SigningAcceptance) error {
	if e.session == nil || e.session.SigningID != resp.SigningID || e.session.Initiator != e.self {
		return nil
	}
	if !resp.Accepted {
		return e.fail(fmt.Errorf("%w: %s declined signing %s", types.ErrSigningDeclined, from, resp.SigningID))
	}
	e.session.Acceptances[from] = true
	e.maybeSelectSigners()
	return nil
}

// CheckTimeout fails the session if it is still waiting on acceptances
// after AcceptanceTimeout has elapsed since the request was made, per §8
// scenario 5. Callers (pkg/core) poll this via their own timer primitive;
// it is a no-op until the deadline has actually elapsed.
func (e *Engine) CheckTimeout() {
	if e.state != types.SigningAwaitingAcceptances {
		return
	}
	if time.Since(e.createdAt) < AcceptanceTimeout {
		return
	}
	e.fail(fmt.Errorf("%w: signing %s", types.ErrSigningTimeout, e.session.SigningID))
}

// maybeSelectSigners implements §4.7 phase 2/3: once at least Threshold
// participants (in participant-list order) have accepted, the first
// Threshold of them are selected and SignerSelection is broadcast.
func (e *Engine) maybeSelectSigners() {
	if e.state != types.SigningAwaitingAcceptances || e.session.AcceptedCount() < e.session.Threshold {
		return
	}
	selected := make([]types.DeviceId, 0, e.session.Threshold)
	for _, p := range e.session.Participants {
		if e.session.Acceptances[p] {
			selected = append(selected, p)
			if len(selected) == e.session.Threshold {
				break
			}
		}
	}
	e.session.SelectedSigners = selected
	e.setState(types.SigningCommitmentPhase)
	if err := e.broadcast(types.SignerSelection{SigningID: e.session.SigningID, SelectedSigners: selected}); err != nil {
		e.logger.Warnw("failed to broadcast signer selection", "error", err)
	}
	e.enterCommitmentPhaseIfSelected()
}

// HandleSignerSelection handles an inbound SignerSelection at a
// non-initiator.
func (e *Engine) HandleSignerSelection(from types.DeviceId, sel types.SignerSelection) error {
	if e.session == nil || e.session.SigningID != sel.SigningID {
		return fmt.Errorf("%w: signer selection for unknown session %s", types.ErrUnknownSender, sel.SigningID)
	}
	e.session.SelectedSigners = sel.SelectedSigners
	e.setState(types.SigningCommitmentPhase)
	e.enterCommitmentPhaseIfSelected()
	return nil
}

func (e *Engine) enterCommitmentPhaseIfSelected() {
	selfSelected := false
	for _, p := range e.session.SelectedSigners {
		if p == e.self {
			selfSelected = true
			break
		}
	}
	if !selfSelected {
		return
	}

	indices := make([]int, 0, len(e.session.SelectedSigners))
	for _, p := range e.session.SelectedSigners {
		indices = append(indices, participantIndex(e.keyMaterial, p))
	}
	e.participantIndex = participantIndex(e.keyMaterial, e.self)

	ss, err := e.suite.NewSigningSession(e.participantIndex, indices, e.keyMaterial)
	if err != nil {
		e.fail(fmt.Errorf("%w: new signing session: %v", types.ErrCryptoRejected, err))
		return
	}
	e.signingSession = ss

	commit, err := ss.Commit()
	if err != nil {
		e.fail(fmt.Errorf("%w: commit: %v", types.ErrCryptoRejected, err))
		return
	}
	raw, err := json.Marshal(commit)
	if err != nil {
		e.fail(err)
		return
	}
	e.session.Commitments[e.self] = raw
	e.broadcastToSelected(types.SigningCommitment{SigningID: e.session.SigningID, SenderIdentifier: string(e.self), Commitment: raw})
}

// HandleCommitment ingests an inbound SigningCommitment. Bystanders (not
// selected) and duplicate senders are ignored, matching the
// duplicate-first-wins dedup rule from §4.7.
func (e *Engine) HandleCommitment(from types.DeviceId, msg types.SigningCommitment) error {
	if e.session == nil || e.session.SigningID != msg.SigningID || e.signingSession == nil {
		return nil
	}
	if _, exists := e.session.Commitments[from]; exists {
		return nil
	}
	var c frost.Commitment
	if err := json.Unmarshal(msg.Commitment, &c); err != nil {
		e.logger.Warnw("dropping malformed signing commitment", "from", from, "error", err)
		return nil
	}
	if err := e.signingSession.AddCommitment(c); err != nil {
		return e.fail(fmt.Errorf("%w: commitment from %s: %v", types.ErrCryptoRejected, from, err))
	}
	e.session.Commitments[from] = msg.Commitment
	e.maybeEnterSharePhase()
	return nil
}

func (e *Engine) maybeEnterSharePhase() {
	if e.state != types.SigningCommitmentPhase || len(e.session.Commitments) != len(e.session.SelectedSigners) {
		return
	}
	e.setState(types.SigningSharePhase)
	share, err := e.signingSession.Sign(e.session.TransactionBytes)
	if err != nil {
		e.fail(fmt.Errorf("%w: sign: %v", types.ErrCryptoRejected, err))
		return
	}
	raw, err := json.Marshal(share)
	if err != nil {
		e.fail(err)
		return
	}
	e.session.Shares[e.self] = raw
	e.broadcastToSelected(types.SignatureShare{SigningID: e.session.SigningID, SenderIdentifier: string(e.self), Share: raw})
}

// HandleShare ingests an inbound SignatureShare.
func (e *Engine) HandleShare(from types.DeviceId, msg types.SignatureShare) error {
	if e.session == nil || e.session.SigningID != msg.SigningID || e.signingSession == nil {
		return nil
	}
	if _, exists := e.session.Shares[from]; exists {
		return nil
	}
	var s frost.Share
	if err := json.Unmarshal(msg.Share, &s); err != nil {
		e.logger.Warnw("dropping malformed signature share", "from", from, "error", err)
		return nil
	}
	if err := e.signingSession.AddShare(s); err != nil {
		return e.fail(fmt.Errorf("%w: share from %s: %v", types.ErrCryptoRejected, from, err))
	}
	e.session.Shares[from] = msg.Share
	e.maybeAggregate()
	return nil
}

func (e *Engine) maybeAggregate() {
	if e.state != types.SigningSharePhase || len(e.session.Shares) != len(e.session.SelectedSigners) {
		return
	}
	sig, err := e.signingSession.Aggregate(e.session.TransactionBytes)
	if err != nil {
		e.fail(fmt.Errorf("%w: aggregate: %v", types.ErrSignatureVerifyFailed, err))
		return
	}
	e.session.FinalSignature = sig
	e.setState(types.SigningComplete)
	if err := e.broadcast(types.AggregatedSignatureMsg{SigningID: e.session.SigningID, Signature: sig}); err != nil {
		e.logger.Warnw("failed to broadcast aggregated signature", "error", err)
	}
	if e.OnComplete != nil {
		e.OnComplete(e.session.SigningID, sig)
	}
}

// HandleAggregatedSignature lets a bystander (not among the selected
// signers) learn the final result without having run the FROST rounds
// itself.
func (e *Engine) HandleAggregatedSignature(from types.DeviceId, msg types.AggregatedSignatureMsg) error {
	if e.session == nil || e.session.SigningID != msg.SigningID || e.state == types.SigningComplete {
		return nil
	}
	e.session.FinalSignature = msg.Signature
	e.setState(types.SigningComplete)
	if e.OnComplete != nil {
		e.OnComplete(e.session.SigningID, msg.Signature)
	}
	return nil
}

// OnPeerDisconnected fails the in-progress signing round if peer is a
// participant of the active session, mirroring the DKG engine's handling
// of a mid-round disconnect (§8 scenario 6). A disconnect before a session
// exists, or after it has already concluded, is a no-op.
func (e *Engine) OnPeerDisconnected(peer types.DeviceId) {
	if e.session == nil || peer == e.self {
		return
	}
	switch e.state {
	case types.SigningIdle, types.SigningComplete, types.SigningFailed:
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

// Reset returns the engine to Idle for a fresh signing request.
func (e *Engine) Reset() {
	e.state = types.SigningIdle
	e.session = nil
	e.signingSession = nil
	e.failureReason = nil
}

func (e *Engine) broadcastToSelected(msg interface{}) {
	for _, p := range e.session.SelectedSigners {
		if p == e.self {
			continue
		}
		if err := e.sendTo(p, msg); err != nil {
			e.logger.Warnw("failed to send to selected signer", "peer", p, "error", err)
		}
	}
}

func (e *Engine) setState(s types.SigningState) {
	e.state = s
	if e.OnStateChange != nil {
		e.OnStateChange(s)
	}
}

func (e *Engine) fail(reason error) error {
	e.failureReason = reason
	e.setState(types.SigningFailed)
	if e.OnFailed != nil {
		e.OnFailed(reason)
	}
	return reason
}

func participantIndex(km *types.KeyMaterial, id types.DeviceId) int {
	for i, p := range km.Participants {
		if p == id {
			return i + 1
		}
	}
	return 0
}
