package types

import (
	"encoding/json"
	"fmt"
)

// WebRTCMsgType tags every application message carried over a data channel,
// §6 "Application messages over data channels".
type WebRTCMsgType string

const (
	MsgSessionProposal     WebRTCMsgType = "SessionProposal"
	MsgSessionResponse     WebRTCMsgType = "SessionResponse"
	MsgMeshReady           WebRTCMsgType = "MeshReady"
	MsgDkgRound1Package    WebRTCMsgType = "DkgRound1Package"
	MsgDkgRound2Package    WebRTCMsgType = "DkgRound2Package"
	MsgDkgPackageRequest   WebRTCMsgType = "DkgPackageRequest"
	MsgDkgPackageResend    WebRTCMsgType = "DkgPackageResend"
	MsgSigningRequest      WebRTCMsgType = "SigningRequest"
	MsgSigningAcceptance   WebRTCMsgType = "SigningAcceptance"
	MsgSignerSelection     WebRTCMsgType = "SignerSelection"
	MsgSigningCommitment   WebRTCMsgType = "SigningCommitment"
	MsgSignatureShare      WebRTCMsgType = "SignatureShare"
	MsgAggregatedSignature WebRTCMsgType = "AggregatedSignature"
	MsgSimpleMessage       WebRTCMsgType = "SimpleMessage"
)

// Envelope is the outer shape of every data-channel message: a tag plus a
// raw payload, decoded fully once the tag is known (pkg/router).
type Envelope struct {
	WebRTCMsgType WebRTCMsgType   `json:"webrtc_msg_type"`
	Payload       json.RawMessage `json:"-"`
}

// SessionProposal is broadcast by the proposer to every non-self participant.
type SessionProposal struct {
	SessionID    string        `json:"session_id"`
	Total        int           `json:"total"`
	Threshold    int           `json:"threshold"`
	Participants []DeviceId    `json:"participants"`
	Curve        string        `json:"curve"`
	Purpose      Purpose       `json:"purpose"`
}

// SessionResponse answers a SessionProposal.
type SessionResponse struct {
	SessionID string `json:"session_id"`
	Accepted  bool   `json:"accepted"`
}

// MeshReadyMsg is emitted at most once per session per device, §4.5.
type MeshReadyMsg struct {
	SessionID string   `json:"session_id"`
	DeviceID  DeviceId `json:"device_id"`
}

// DkgRound1PackageMsg carries the curve-library's opaque round-1 package.
type DkgRound1PackageMsg struct {
	Package json.RawMessage `json:"package"`
}

// DkgRound2PackageMsg carries one sender's round-2 package addressed to a
// single recipient: pkg/dkg sends each peer only its own package. No
// recipient-keyed map is sent or decoded, so neither identifier keying of
// such a map is handled.
type DkgRound2PackageMsg struct {
	Package json.RawMessage `json:"package"`
}

// DkgPackageRequest asks a peer already past round k to resend its package.
type DkgPackageRequest struct {
	Round     int      `json:"round"`
	Requester DeviceId `json:"requester"`
}

// DkgPackageResend answers a DkgPackageRequest.
type DkgPackageResend struct {
	Round   int             `json:"round"`
	Package json.RawMessage `json:"package"`
}

// SigningRequest proposes a signing session, §4.7 phase 1.
type SigningRequest struct {
	SigningID       string `json:"signing_id"`
	TransactionData string `json:"transaction_data"`
	RequiredSigners int    `json:"required_signers"`
}

// SigningAcceptance answers a SigningRequest.
type SigningAcceptance struct {
	SigningID string `json:"signing_id"`
	Accepted  bool   `json:"accepted"`
}

// SignerSelection is broadcast by the initiator once enough acceptances
// have arrived, §4.7 phase 3.
type SignerSelection struct {
	SigningID       string     `json:"signing_id"`
	SelectedSigners []DeviceId `json:"selected_signers"`
}

// SigningCommitment carries one selected signer's round-1 FROST commitment.
type SigningCommitment struct {
	SigningID        string `json:"signing_id"`
	SenderIdentifier string `json:"sender_identifier"`
	Commitment       []byte `json:"commitment"`
}

// SignatureShare carries one selected signer's round-2 FROST share.
type SignatureShare struct {
	SigningID        string `json:"signing_id"`
	SenderIdentifier string `json:"sender_identifier"`
	Share            []byte `json:"share"`
}

// AggregatedSignatureMsg carries the final signature, broadcast by each
// selected signer once it has aggregated and locally verified it.
type AggregatedSignatureMsg struct {
	SigningID string `json:"signing_id"`
	Signature []byte `json:"signature"`
}

// SimpleMessage is a free-text diagnostic payload.
type SimpleMessage struct {
	Text string `json:"text"`
}

// tagFor maps a concrete payload value to the tag pkg/router dispatches
// on. Every type the Package Router recognizes must have an entry here.
func tagFor(msg interface{}) (WebRTCMsgType, bool) {
	switch msg.(type) {
	case SessionProposal:
		return MsgSessionProposal, true
	case SessionResponse:
		return MsgSessionResponse, true
	case MeshReadyMsg:
		return MsgMeshReady, true
	case DkgRound1PackageMsg:
		return MsgDkgRound1Package, true
	case DkgRound2PackageMsg:
		return MsgDkgRound2Package, true
	case DkgPackageRequest:
		return MsgDkgPackageRequest, true
	case DkgPackageResend:
		return MsgDkgPackageResend, true
	case SigningRequest:
		return MsgSigningRequest, true
	case SigningAcceptance:
		return MsgSigningAcceptance, true
	case SignerSelection:
		return MsgSignerSelection, true
	case SigningCommitment:
		return MsgSigningCommitment, true
	case SignatureShare:
		return MsgSignatureShare, true
	case AggregatedSignatureMsg:
		return MsgAggregatedSignature, true
	case SimpleMessage:
		return MsgSimpleMessage, true
	default:
		return "", false
	}
}

// MarshalTagged encodes msg as a single flat JSON object carrying its own
// webrtc_msg_type tag alongside its fields — the wire shape pkg/router's
// Route expects, since it decodes the tag and the payload from the same
// bytes. pkg/transport calls this instead of encoding/json directly so
// that every application message crossing a data channel is self-tagged.
func MarshalTagged(msg interface{}) ([]byte, error) {
	tag, ok := tagFor(msg)
	if !ok {
		return nil, fmt.Errorf("no webrtc_msg_type registered for %T", msg)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", msg, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("flatten %T: %w", msg, err)
	}

	tagBytes, err := json.Marshal(tag)
	if err != nil {
		return nil, err
	}
	fields["webrtc_msg_type"] = tagBytes

	return json.Marshal(fields)
}