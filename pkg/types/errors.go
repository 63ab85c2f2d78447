package types

import "errors"

// Sentinel errors surfaced by the core and its engines, checked with
// errors.Is per the error-kind table in spec §7.
var (
	// Transport
	ErrSendToClosedChannel = errors.New("send to closed channel")
	ErrSignalingMalformed  = errors.New("malformed signaling envelope")
	ErrUnknownDevice       = errors.New("unknown device")
	ErrRelayUnavailable    = errors.New("signaling relay unavailable")

	// Protocol / routing
	ErrUnknownSender  = errors.New("message from unrecognized sender")
	ErrUnknownMsgType = errors.New("unrecognized webrtc_msg_type")

	// Cryptographic
	ErrCryptoRejected         = errors.New("cryptographic primitive rejected package")
	ErrSignatureVerifyFailed  = errors.New("aggregated signature failed verification")

	// Session
	ErrSessionParamsMismatch = errors.New("session parameters mismatch existing wallet")
	ErrSessionDeclined       = errors.New("session declined by a participant")
	ErrSessionTimeout        = errors.New("session acceptance timed out")
	ErrPeerDisconnected      = errors.New("participant disconnected mid-round")

	// Signing
	ErrSigningDeclined = errors.New("signing declined by a participant")
	ErrSigningTimeout  = errors.New("signing acceptance timed out")

	// Concurrency
	ErrConcurrentSigning = errors.New("a signing session is already active")
	ErrConcurrentDkg     = errors.New("a dkg session is already active")

	// DKG / signing state machine
	ErrDkgNotRunning     = errors.New("no dkg session is running")
	ErrDkgAlreadyFailed  = errors.New("dkg session already failed")
	ErrSigningNotRunning = errors.New("no signing session is running")
	ErrWalletNotFound    = errors.New("wallet not found")
)
