// Package core is the single-threaded cooperative event loop (spec §5)
// that owns every engine for one node: the Signal Gateway, the Connection
// Manager, the Session Coordinator, the Mesh Supervisor, the DKG Engine,
// the Signing Engine, and the Package Router. Every other package's
// callbacks run on someone else's goroutine (pion, gorilla/websocket, a
// ticker) and are required to do nothing but enqueue an event here —
// Node.Run is the only place that ever calls into an engine, so no engine
// needs its own locking.
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/frostmesh/node/pkg/config"
	"github.com/frostmesh/node/pkg/dkg"
	"github.com/frostmesh/node/pkg/mesh"
	"github.com/frostmesh/node/pkg/persistence"
	"github.com/frostmesh/node/pkg/router"
	"github.com/frostmesh/node/pkg/session"
	"github.com/frostmesh/node/pkg/signaling"
	"github.com/frostmesh/node/pkg/signing"
	"github.com/frostmesh/node/pkg/transport"
	"github.com/frostmesh/node/pkg/types"
)

// eventKind tags the union carried on Node's inbox.
type eventKind int

const (
	eventSignal eventKind = iota
	eventDevices
	eventPeerOpen
	eventPeerClose
	eventMessage
	eventMeshReady
	eventDkgState
	eventDkgComplete
	eventDkgFailed
	eventSigningState
	eventSigningComplete
	eventSigningFailed
	eventSessionSnapshot
	eventSessionFailed
	eventAcceptanceTick
	eventProposeSession
	eventProposeSigning
)

// event is the single type flowing through Node's inbox. Only the field
// matching Kind is populated; the rest are zero.
type event struct {
	kind eventKind

	peer types.DeviceId
	data []byte

	signalEnv signaling.Envelope
	devices   []types.DeviceId

	dkgState    types.DkgState
	signingState types.SigningState
	keyMaterial *types.KeyMaterial
	signingID   string
	signature   []byte
	err         error

	sessionSnapshot *types.Session

	proposeParticipants []types.DeviceId
	proposeThreshold    int
	proposePurpose      types.Purpose
	proposeSessionID    string

	signingTxBytes []byte
	signingRequired int
}

// Node owns one device's full protocol stack and is the sole writer of
// every engine's state.
type Node struct {
	self   types.DeviceId
	cfg    config.NodeConfig
	logger *zap.SugaredLogger

	store persistence.WalletStore

	gateway   *signaling.Gateway
	transport *transport.Manager
	sessionC  *session.Coordinator
	meshS     *mesh.Supervisor
	dkgE      *dkg.Engine
	signingE  *signing.Engine
	routerR   *router.Router

	inbox chan event

	// activeCurve is fixed for the process lifetime and is the curve this
	// node proposes sessions on; a session accepted from a peer runs on the
	// curve its proposal names.
	activeCurve config.CurveType

	// send delivers one message to one peer. It defaults to
	// transport.Manager.Send; tests swap it for an in-memory fake so a
	// multi-Node scenario can run without real WebRTC/WebSocket.
	send func(peer types.DeviceId, v interface{}) error

	// initiate begins a peer connection. It defaults to
	// transport.Manager.Initiate; tests swap it the same way as send.
	initiate func(peer types.DeviceId) error
}

// NewNode wires every engine together via callbacks that only ever push
// onto the returned Node's inbox, per the single-threaded model in §5.
func NewNode(cfg config.NodeConfig, curve config.CurveType, store persistence.WalletStore, logger *zap.Logger) (*Node, error) {
	if cfg.DeviceId == "" {
		return nil, fmt.Errorf("node config must have a non-empty DeviceId")
	}

	self := types.DeviceId(cfg.DeviceId)
	n := &Node{
		self:        self,
		cfg:         cfg,
		logger:      logger.Sugar(),
		store:       store,
		inbox:       make(chan event, 256),
		activeCurve: curve,
	}

	n.gateway = signaling.NewGateway(cfg.SignalURL, self, logger)
	n.gateway.OnSignal = func(from types.DeviceId, env signaling.Envelope) {
		n.inbox <- event{kind: eventSignal, peer: from, signalEnv: env}
	}
	n.gateway.OnDevices = func(devices []types.DeviceId) {
		n.inbox <- event{kind: eventDevices, devices: devices}
	}

	n.transport = transport.NewManager(self, cfg.IceServers, n.gateway, logger)
	n.transport.OnOpen = func(peer types.DeviceId) {
		n.inbox <- event{kind: eventPeerOpen, peer: peer}
	}
	n.transport.OnClose = func(peer types.DeviceId) {
		n.inbox <- event{kind: eventPeerClose, peer: peer}
	}
	n.transport.OnMessage = func(peer types.DeviceId, data []byte) {
		n.inbox <- event{kind: eventMessage, peer: peer, data: data}
	}

	n.send = n.transport.Send
	n.initiate = n.transport.Initiate
	sendTo := func(peer types.DeviceId, v interface{}) error { return n.send(peer, v) }
	broadcast := n.broadcastExceptSelf

	n.sessionC = session.NewCoordinator(self, sendTo, logger)
	n.sessionC.OnSnapshot = func(s *types.Session) {
		n.inbox <- event{kind: eventSessionSnapshot, sessionSnapshot: s}
	}
	n.sessionC.OnFailed = func(err error) {
		n.inbox <- event{kind: eventSessionFailed, err: err}
	}

	n.meshS = mesh.NewSupervisor(self, func(msg types.MeshReadyMsg) error { return broadcast(msg) }, logger)
	n.meshS.OnReady = func() {
		n.inbox <- event{kind: eventMeshReady}
	}

	n.dkgE = dkg.NewEngine(self, sendTo, broadcast, cfg.EnableEagerDkgAutoTrigger, logger)
	n.dkgE.OnStateChange = func(s types.DkgState) {
		n.inbox <- event{kind: eventDkgState, dkgState: s}
	}
	n.dkgE.OnComplete = func(km *types.KeyMaterial) {
		n.inbox <- event{kind: eventDkgComplete, keyMaterial: km}
	}
	n.dkgE.OnFailed = func(err error) {
		n.inbox <- event{kind: eventDkgFailed, err: err}
	}

	n.signingE = signing.NewEngine(self, sendTo, broadcast, logger)
	n.signingE.OnStateChange = func(s types.SigningState) {
		n.inbox <- event{kind: eventSigningState, signingState: s}
	}
	n.signingE.OnComplete = func(signingID string, sig []byte) {
		n.inbox <- event{kind: eventSigningComplete, signingID: signingID, signature: sig}
	}
	n.signingE.OnFailed = func(err error) {
		n.inbox <- event{kind: eventSigningFailed, err: err}
	}

	n.routerR = router.New(n.sessionC, n.meshS, n.dkgE, n.signingE, logger)

	return n, nil
}

// broadcastExceptSelf fans v out to every other participant concurrently,
// mirroring the pack's pivaldi-twoway-messaging-demo Broadcast helper. Each
// send is independent: one peer's failure is logged and does not stop
// delivery to the rest, matching the sequential loop this replaced.
func (n *Node) broadcastExceptSelf(v interface{}) error {
	session := n.sessionC.Session()
	if session == nil {
		return fmt.Errorf("cannot broadcast: no active session")
	}
	var g errgroup.Group
	var firstErr error
	var mu sync.Mutex
	for _, p := range session.Participants {
		if p == n.self {
			continue
		}
		p := p
		g.Go(func() error {
			if err := n.send(p, v); err != nil {
				n.logger.Warnw("broadcast to peer failed", "peer", p, "error", err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return firstErr
}

// ProposeSession enqueues a request to start a new session as proposer.
// Safe to call from any goroutine.
func (n *Node) ProposeSession(sessionID string, participants []types.DeviceId, threshold int, purpose types.Purpose) {
	n.inbox <- event{
		kind:                eventProposeSession,
		proposeSessionID:    sessionID,
		proposeParticipants: participants,
		proposeThreshold:    threshold,
		proposePurpose:      purpose,
	}
}

// ProposeSigning enqueues a request to start a signing session within the
// current completed wallet's mesh. Safe to call from any goroutine.
func (n *Node) ProposeSigning(signingID string, txBytes []byte, requiredSigners int) {
	n.inbox <- event{
		kind:            eventProposeSigning,
		signingID:       signingID,
		signingTxBytes:  txBytes,
		signingRequired: requiredSigners,
	}
}

// Run drains the inbox until ctx is cancelled. It is the sole caller into
// every engine and therefore the only goroutine in the process that ever
// mutates protocol state.
func (n *Node) Run(ctx context.Context) error {
	gatewayErrs := make(chan error, 1)
	go func() { gatewayErrs <- n.gateway.Run(ctx) }()

	n.restoreFromPersistence()

	acceptanceTicker := time.NewTicker(5 * time.Second)
	defer acceptanceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-gatewayErrs:
			if err != nil {
				n.logger.Errorw("signal gateway stopped", "error", err)
			}
			return err

		case <-acceptanceTicker.C:
			n.sessionC.CheckTimeout()
			n.signingE.CheckTimeout()

		case ev := <-n.inbox:
			n.dispatch(ev)
		}
	}
}

func (n *Node) dispatch(ev event) {
	switch ev.kind {
	case eventSignal:
		if err := n.transport.OnSignal(ev.peer, ev.signalEnv); err != nil {
			n.logger.Warnw("signal handling failed", "peer", ev.peer, "error", err)
		}

	case eventDevices:
		n.logger.Debugw("device roster updated", "devices", ev.devices)

	case eventPeerOpen:
		n.meshS.OnPeerConnected(ev.peer)

	case eventPeerClose:
		n.meshS.OnPeerDisconnected(ev.peer)
		n.dkgE.OnPeerDisconnected(ev.peer)
		n.signingE.OnPeerDisconnected(ev.peer)

	case eventMessage:
		if err := n.routerR.Route(ev.peer, ev.data); err != nil {
			n.logger.Warnw("message routing failed", "peer", ev.peer, "error", err)
		}

	case eventMeshReady:
		n.onMeshReady()

	case eventDkgState:
		n.writeDkgCheckpoint(ev.dkgState)

	case eventDkgComplete:
		n.onDkgComplete(ev.keyMaterial)

	case eventDkgFailed:
		n.logger.Errorw("dkg failed", "error", ev.err)
		n.clearDkgCheckpoint()

	case eventSigningState:
		n.writeSigningCheckpoint(ev.signingState)

	case eventSigningComplete:
		n.logger.Infow("signing complete", "signingId", ev.signingID)
		n.clearSigningCheckpoint(ev.signingID)

	case eventSigningFailed:
		n.logger.Errorw("signing failed", "error", ev.err)

	case eventSessionSnapshot:
		if ev.sessionSnapshot != nil {
			n.meshS.SetSession(ev.sessionSnapshot)
			n.dkgE.AttachSession(ev.sessionSnapshot)
			for _, p := range ev.sessionSnapshot.Participants {
				if p == n.self {
					continue
				}
				if err := n.initiate(p); err != nil {
					n.logger.Warnw("failed to initiate peer connection", "peer", p, "error", err)
				}
			}
		}
		n.meshS.OnSessionUpdated()

	case eventSessionFailed:
		n.logger.Warnw("session failed", "error", ev.err)
		n.meshS.Reset()

	case eventProposeSession:
		if err := n.sessionC.Propose(ev.proposeSessionID, ev.proposeParticipants, ev.proposeThreshold, n.activeCurve, ev.proposePurpose); err != nil {
			n.logger.Warnw("session proposal failed", "error", err)
		}

	case eventProposeSigning:
		if err := n.signingE.Propose(ev.signingID, ev.signingTxBytes, ev.signingRequired); err != nil {
			n.logger.Warnw("signing proposal failed", "error", err)
		}
	}
}

// onMeshReady is the barrier crossing into DKG start, §4.5 → §4.6.
func (n *Node) onMeshReady() {
	session := n.sessionC.Session()
	if session == nil {
		return
	}
	if session.Purpose.Kind == types.PurposeUseExistingWallet {
		record, err := n.store.LoadWallet(session.Purpose.WalletID)
		if err != nil {
			n.logger.Errorw("failed to load wallet for existing-wallet session", "walletId", session.Purpose.WalletID, "error", err)
			return
		}
		if record == nil {
			n.logger.Errorw("wallet not found for existing-wallet session", "walletId", session.Purpose.WalletID)
			return
		}
		if err := n.signingE.SetKeyMaterial(record.KeyMaterial()); err != nil {
			n.logger.Errorw("failed to attach key material to signing engine", "error", err)
		}
		return
	}

	if err := n.dkgE.Initialize(); err != nil {
		n.logger.Errorw("dkg initialize failed", "error", err)
	}
}

func (n *Node) onDkgComplete(km *types.KeyMaterial) {
	if km == nil {
		return
	}
	walletID := km.Address
	record := &persistence.WalletRecord{
		WalletID:  walletID,
		Key:       *km,
		CreatedAt: nowUnix(),
	}
	if err := n.store.SaveWallet(record); err != nil {
		n.logger.Errorw("failed to persist completed wallet", "walletId", walletID, "error", err)
	}
	if err := n.signingE.SetKeyMaterial(km); err != nil {
		n.logger.Errorw("failed to attach fresh key material to signing engine", "error", err)
	}
	n.clearDkgCheckpoint()
	n.logger.Infow("dkg complete, wallet persisted", "walletId", walletID)
}

func (n *Node) writeDkgCheckpoint(state types.DkgState) {
	session := n.sessionC.Session()
	if session == nil {
		return
	}
	if state == types.DkgComplete || state == types.DkgFailed || state == types.DkgIdle {
		n.clearDkgCheckpoint()
		return
	}
	participants := make([]string, 0, len(session.Participants))
	for _, p := range session.Participants {
		participants = append(participants, string(p))
	}
	checkpoint := &persistence.ProtocolCheckpoint{
		SessionID:    session.SessionID,
		Kind:         persistence.CheckpointKindDkg,
		State:        string(state),
		Participants: participants,
		StartedAt:    nowUnix(),
	}
	if err := n.store.SaveCheckpoint(checkpoint); err != nil {
		n.logger.Warnw("failed to write dkg checkpoint", "error", err)
	}
}

func (n *Node) writeSigningCheckpoint(state types.SigningState) {
	sess := n.signingE.Session()
	if sess == nil {
		return
	}
	if state == types.SigningIdle {
		n.clearSigningCheckpoint(sess.SigningID)
		return
	}
	checkpoint := &persistence.ProtocolCheckpoint{
		SessionID: sess.SigningID,
		Kind:      persistence.CheckpointKindSigning,
		State:     string(state),
		StartedAt: nowUnix(),
	}
	if err := n.store.SaveCheckpoint(checkpoint); err != nil {
		n.logger.Warnw("failed to write signing checkpoint", "error", err)
	}
}

func (n *Node) clearDkgCheckpoint() {
	session := n.sessionC.Session()
	if session == nil {
		return
	}
	if err := n.store.DeleteCheckpoint(session.SessionID); err != nil {
		n.logger.Warnw("failed to clear dkg checkpoint", "error", err)
	}
}

func (n *Node) clearSigningCheckpoint(signingID string) {
	if signingID == "" {
		return
	}
	if err := n.store.DeleteCheckpoint(signingID); err != nil {
		n.logger.Warnw("failed to clear signing checkpoint", "error", err)
	}
}

// staleCheckpointTimeout bounds how long an in-flight DKG/signing
// checkpoint is trusted after a restart before it is discarded rather
// than resumed; this node does not currently implement mid-protocol
// resume, so a stale checkpoint is simply swept.
const staleCheckpointTimeout = 10 * time.Minute

// restoreFromPersistence runs once at startup: it sweeps stale
// checkpoints left behind by a crash (§5 "Cancellation and timeouts"
// extends naturally to a restart) since this node does not resume a
// protocol mid-round after a crash — only completed wallets survive.
func (n *Node) restoreFromPersistence() {
	checkpoints, err := n.store.ListCheckpoints()
	if err != nil {
		n.logger.Warnw("failed to list checkpoints at startup", "error", err)
		return
	}
	now := nowUnix()
	for _, c := range checkpoints {
		if c.IsStale(now, int64(staleCheckpointTimeout.Seconds())) {
			if err := n.store.DeleteCheckpoint(c.SessionID); err != nil {
				n.logger.Warnw("failed to sweep stale checkpoint", "sessionId", c.SessionID, "error", err)
				continue
			}
			n.logger.Infow("swept stale checkpoint", "sessionId", c.SessionID, "kind", c.Kind)
		}
	}
}

func nowUnix() int64 { return time.Now().Unix() }
