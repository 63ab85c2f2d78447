// Package frost implements the curve-specific FROST primitives that spec §1
// treats as an opaque external library: init_dkg, generate_round1/2,
// add_round1/2_package, finalize_dkg, signing_commit, sign,
// add_signing_commitment, add_signature_share, aggregate_signature, and
// address derivation. pkg/dkg and pkg/signing depend only on the Suite
// interface below, never on the concrete curve packages, so this adapter
// can be swapped for an audited implementation without touching the
// protocol state machines.
package frost

import (
	"fmt"

	"github.com/frostmesh/node/pkg/config"
	"github.com/frostmesh/node/pkg/types"
)

// Round1Package is the opaque package broadcast by a participant at the
// start of DKG: polynomial commitments plus a proof of knowledge of the
// constant term.
type Round1Package struct {
	SenderIndex int      `json:"sender_index"`
	Commitments [][]byte `json:"commitments"`
	ProofR      []byte   `json:"proof_r"`
	ProofZ      []byte   `json:"proof_z"`
}

// Round2Package is one sender's share for one specific recipient.
type Round2Package struct {
	SenderIndex    int    `json:"sender_index"`
	RecipientIndex int    `json:"recipient_index"`
	Share          []byte `json:"share"`
}

// Commitment is a selected signer's round-1 signing commitment (nonce
// public pair), produced by SigningSession.Commit.
type Commitment struct {
	SenderIndex int    `json:"sender_index"`
	D           []byte `json:"d"`
	E           []byte `json:"e"`
}

// Share is a selected signer's round-2 signature share.
type Share struct {
	SenderIndex int    `json:"sender_index"`
	Z           []byte `json:"z"`
}

// FrostKeyResult is what a curve implementation can compute on its own:
// the group public key, this participant's share of it, and the derived
// address. pkg/dkg wraps this into a types.KeyMaterial, filling in the
// participant/threshold/curve bookkeeping the curve package has no need to
// track itself.
type FrostKeyResult struct {
	GroupPublicKey []byte
	PrivateShare   []byte
	Address        string
}

// DkgSession drives one participant's side of a single DKG run. Calls
// outside the documented ordering (e.g. GenerateRound2 before
// CanStartRound2 is true) return an error rather than panicking.
type DkgSession interface {
	GenerateRound1() (Round1Package, error)
	AddRound1Package(pkg Round1Package) error
	CanStartRound2() bool
	GenerateRound2() (map[int]Round2Package, error)
	AddRound2Package(pkg Round2Package) error
	CanFinalize() bool
	Finalize() (*FrostKeyResult, error)
}

// SigningSession drives one selected signer's side of a single signing
// round over a fixed, already-known set of participants.
type SigningSession interface {
	Commit() (Commitment, error)
	AddCommitment(c Commitment) error
	Sign(message []byte) (Share, error)
	AddShare(s Share) error
	// Aggregate combines all collected shares into a final signature and
	// verifies it locally under the group public key before returning it.
	// Only meaningful once every selected signer's share has been added.
	Aggregate(message []byte) ([]byte, error)
}

// Suite is the per-curve factory for DKG and signing sessions.
type Suite interface {
	CurveType() config.CurveType
	NewDkgSession(participantIndex, threshold, total int) DkgSession
	NewSigningSession(participantIndex int, selected []int, km *types.KeyMaterial) (SigningSession, error)
	// Address derives the curve-appropriate address from a group public key.
	Address(groupPublicKey []byte) (string, error)
}

// ForCurve returns the concrete Suite for curve.
func ForCurve(curve config.CurveType) (Suite, error) {
	switch curve {
	case config.CurveTypeEd25519:
		return NewEd25519Suite(), nil
	case config.CurveTypeSecp256k1:
		return NewSecp256k1Suite(), nil
	default:
		return nil, fmt.Errorf("frost: unsupported curve %q", curve)
	}
}
