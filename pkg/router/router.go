// Package router is the Package Router (spec §4.8): the single entry point
// that turns a raw data-channel message into a dispatch to the right
// engine by its webrtc_msg_type tag. Every application message is a flat
// JSON object carrying its own tag alongside its fields (see
// pkg/types.Envelope), so routing is two unmarshals: once for the tag,
// once into the concrete payload type.
package router

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/frostmesh/node/pkg/dkg"
	"github.com/frostmesh/node/pkg/mesh"
	"github.com/frostmesh/node/pkg/session"
	"github.com/frostmesh/node/pkg/signing"
	"github.com/frostmesh/node/pkg/types"
)

// Router dispatches inbound data-channel messages to the Session
// Coordinator, Mesh Supervisor, DKG Engine, and Signing Engine.
type Router struct {
	logger  *zap.SugaredLogger
	session *session.Coordinator
	mesh    *mesh.Supervisor
	dkg     *dkg.Engine
	signing *signing.Engine
}

// New constructs a Router wired to the given engines.
func New(sessionCoord *session.Coordinator, meshSup *mesh.Supervisor, dkgEngine *dkg.Engine, signingEngine *signing.Engine, logger *zap.Logger) *Router {
	return &Router{
		logger:  logger.Sugar(),
		session: sessionCoord,
		mesh:    meshSup,
		dkg:     dkgEngine,
		signing: signingEngine,
	}
}

// Route decodes raw and dispatches it by its webrtc_msg_type tag. An
// unrecognized tag is logged and dropped rather than returned as an error,
// per §4.8 — one malformed or forward-incompatible message must not take
// down the event loop.
func (r *Router) Route(from types.DeviceId, raw []byte) error {
	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSignalingMalformed, err)
	}

	switch env.WebRTCMsgType {
	case types.MsgSessionProposal:
		var p types.SessionProposal
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		return r.session.OnProposal(from, p)

	case types.MsgSessionResponse:
		var resp types.SessionResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return err
		}
		return r.session.OnResponse(from, resp)

	case types.MsgMeshReady:
		var m types.MeshReadyMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		r.mesh.OnMeshReady(from)
		return nil

	case types.MsgDkgRound1Package:
		var m types.DkgRound1PackageMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		return r.dkg.HandleRound1Package(from, m)

	case types.MsgDkgRound2Package:
		var m types.DkgRound2PackageMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		return r.dkg.HandleRound2Package(from, m)

	case types.MsgDkgPackageRequest:
		var m types.DkgPackageRequest
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		return r.dkg.HandlePackageRequest(from, m)

	case types.MsgDkgPackageResend:
		var m types.DkgPackageResend
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		return r.dkg.HandlePackageResend(from, m)

	case types.MsgSigningRequest:
		var m types.SigningRequest
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		return r.signing.HandleRequest(from, m)

	case types.MsgSigningAcceptance:
		var m types.SigningAcceptance
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		return r.signing.HandleAcceptance(from, m)

	case types.MsgSignerSelection:
		var m types.SignerSelection
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		return r.signing.HandleSignerSelection(from, m)

	case types.MsgSigningCommitment:
		var m types.SigningCommitment
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		return r.signing.HandleCommitment(from, m)

	case types.MsgSignatureShare:
		var m types.SignatureShare
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		return r.signing.HandleShare(from, m)

	case types.MsgAggregatedSignature:
		var m types.AggregatedSignatureMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		return r.signing.HandleAggregatedSignature(from, m)

	case types.MsgSimpleMessage:
		var m types.SimpleMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		r.logger.Infow("simple message", "from", from, "text", m.Text)
		return nil

	default:
		r.logger.Warnw("dropping message with unrecognized tag", "from", from, "tag", env.WebRTCMsgType)
		return nil
	}
}
