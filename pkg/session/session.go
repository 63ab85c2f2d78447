// Package session is the Session Coordinator (spec §4.4): it proposes and
// accepts sessions, tracks acceptances, and publishes a snapshot on every
// change. It owns the current Session only: no set of pending invites is
// kept, and a proposal received while a session is active replaces it.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/frostmesh/node/pkg/config"
	"github.com/frostmesh/node/pkg/types"
)

// SendTo delivers msg to a single peer.
type SendTo func(peer types.DeviceId, msg interface{}) error

// AcceptanceTimeout is the recommended bound from §5 ("Cancellation and
// timeouts"): 60s for session acceptance.
const AcceptanceTimeout = 60 * time.Second

// Coordinator owns the current Session for one node.
type Coordinator struct {
	self   types.DeviceId
	sendTo SendTo
	logger *zap.SugaredLogger

	session   *types.Session
	createdAt time.Time

	// OnSnapshot is invoked on every Session state change.
	OnSnapshot func(*types.Session)
	// OnFailed is invoked when the session fails (decline or timeout).
	OnFailed func(reason error)
}

// NewCoordinator constructs a Coordinator for the local device.
func NewCoordinator(self types.DeviceId, sendTo SendTo, logger *zap.Logger) *Coordinator {
	return &Coordinator{self: self, sendTo: sendTo, logger: logger.Sugar()}
}

// Session returns the currently active session, or nil.
func (c *Coordinator) Session() *types.Session { return c.session }

// Propose starts a new session as proposer, broadcasting SessionProposal to
// every other participant, per §4.4. An empty sessionID is replaced with a
// freshly generated UUID.
func (c *Coordinator) Propose(sessionID string, participants []types.DeviceId, threshold int, curve config.CurveType, purpose types.Purpose) error {
	if c.session != nil {
		return fmt.Errorf("session %s already active", c.session.SessionID)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	c.session = types.NewSession(sessionID, c.self, participants, threshold, curve, purpose)
	c.createdAt = time.Now()
	c.notify()

	proposal := types.SessionProposal{
		SessionID:    sessionID,
		Total:        len(participants),
		Threshold:    threshold,
		Participants: participants,
		Curve:        curve.String(),
		Purpose:      purpose,
	}
	var g errgroup.Group
	for _, p := range participants {
		if p == c.self {
			continue
		}
		p := p
		g.Go(func() error {
			if err := c.sendTo(p, proposal); err != nil {
				c.logger.Warnw("failed to send session proposal", "peer", p, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

// OnProposal handles an inbound SessionProposal: the local device accepts
// by default and sends its SessionResponse to every other participant, per
// §4.4 ("Accept (on receipt)"), so each device learns every acceptance the
// mesh barrier waits for. It returns the first send error.
func (c *Coordinator) OnProposal(from types.DeviceId, p types.SessionProposal) error {
	curve, err := config.ParseCurveType(p.Curve)
	if err != nil {
		return fmt.Errorf("session proposal from %s: %w", from, err)
	}
	c.session = types.NewSession(p.SessionID, from, p.Participants, p.Threshold, curve, p.Purpose)
	c.session.AcceptedDevices[c.self] = true
	c.createdAt = time.Now()
	c.notify()

	resp := types.SessionResponse{SessionID: p.SessionID, Accepted: true}
	var firstErr error
	for _, peer := range p.Participants {
		if peer == c.self {
			continue
		}
		if err := c.sendTo(peer, resp); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OnResponse handles an inbound SessionResponse. A decline fails the
// session immediately; an accept grows AcceptedDevices monotonically.
func (c *Coordinator) OnResponse(from types.DeviceId, resp types.SessionResponse) error {
	if c.session == nil || c.session.SessionID != resp.SessionID {
		return fmt.Errorf("%w: response for unknown session %s", types.ErrUnknownSender, resp.SessionID)
	}
	if !resp.Accepted {
		c.fail(fmt.Errorf("%w: %s declined session %s", types.ErrSessionDeclined, from, resp.SessionID))
		return nil
	}
	c.session.AcceptedDevices[from] = true
	c.notify()
	return nil
}

// CheckTimeout fails the session if not every participant has accepted
// within AcceptanceTimeout of its creation. Callers (pkg/core) poll this via
// their own timer primitive; it is a no-op until the deadline has actually
// elapsed.
func (c *Coordinator) CheckTimeout() {
	if c.session == nil || c.session.AllAccepted() {
		return
	}
	if time.Since(c.createdAt) < AcceptanceTimeout {
		return
	}
	c.fail(fmt.Errorf("%w: session %s", types.ErrSessionTimeout, c.session.SessionID))
}

// Reset discards the current session, e.g. after DKG completion or an
// explicit reset request.
func (c *Coordinator) Reset() {
	c.session = nil
}

func (c *Coordinator) fail(err error) {
	c.session = nil
	if c.OnFailed != nil {
		c.OnFailed(err)
	}
}

func (c *Coordinator) notify() {
	if c.OnSnapshot != nil {
		c.OnSnapshot(c.session)
	}
}
