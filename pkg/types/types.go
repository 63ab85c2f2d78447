// Package types holds the data model shared by every engine in this
// repository: device identity, session state, the DKG/signing state
// machines, and the key material a completed DKG produces.
package types

import (
	"sort"

	"github.com/frostmesh/node/pkg/config"
)

// DeviceId is an opaque, self-chosen, UTF-8 identifier for a peer. It is
// globally unique within a session and, via its 1-based position in the
// session's Participants slice, doubles as the FROST participant index.
type DeviceId string

// PurposeKind distinguishes a brand-new wallet from joining an existing one.
type PurposeKind string

const (
	PurposeNewWallet         PurposeKind = "new_wallet"
	PurposeUseExistingWallet PurposeKind = "use_existing_wallet"
)

// Purpose is a session's stated goal. WalletID is only meaningful when Kind
// is PurposeUseExistingWallet.
type Purpose struct {
	Kind     PurposeKind `json:"kind"`
	WalletID string      `json:"walletId,omitempty"`
}

// Session is immutable after proposal except for AcceptedDevices, which
// grows monotonically as SessionResponse messages arrive.
type Session struct {
	SessionID        string            `json:"sessionId"`
	ProposerID       DeviceId          `json:"proposerId"`
	Participants     []DeviceId        `json:"participants"`
	Total            int               `json:"total"`
	Threshold        int               `json:"threshold"`
	AcceptedDevices  map[DeviceId]bool `json:"acceptedDevices"`
	Curve            config.CurveType  `json:"curve"`
	Purpose          Purpose           `json:"purpose"`
}

// NewSession builds a Session with the proposer already marked accepted,
// satisfying the invariant that the proposer is a participant and has
// accepted from creation.
func NewSession(sessionID string, proposer DeviceId, participants []DeviceId, threshold int, curve config.CurveType, purpose Purpose) *Session {
	accepted := map[DeviceId]bool{proposer: true}
	return &Session{
		SessionID:       sessionID,
		ProposerID:      proposer,
		Participants:    participants,
		Total:           len(participants),
		Threshold:       threshold,
		AcceptedDevices: accepted,
		Curve:           curve,
		Purpose:         purpose,
	}
}

// ParticipantIndex returns the 1-based FROST participant index of id, or 0
// if id is not a participant.
func (s *Session) ParticipantIndex(id DeviceId) int {
	for i, p := range s.Participants {
		if p == id {
			return i + 1
		}
	}
	return 0
}

// AllAccepted reports whether every participant has accepted the session.
func (s *Session) AllAccepted() bool {
	for _, p := range s.Participants {
		if !s.AcceptedDevices[p] {
			return false
		}
	}
	return true
}

// MeshStatusKind is the tag of a MeshStatus variant.
type MeshStatusKind string

const (
	MeshIncomplete     MeshStatusKind = "incomplete"
	MeshPartiallyReady MeshStatusKind = "partially_ready"
	MeshReady          MeshStatusKind = "ready"
)

// MeshStatus is the Mesh Supervisor's current view of channel readiness.
// Ready is only ever populated for MeshPartiallyReady and MeshReady.
type MeshStatus struct {
	Kind  MeshStatusKind
	Ready map[DeviceId]bool
	Total int
}

// DkgState is the DKG Engine's state machine position, §4.6.
type DkgState string

const (
	DkgIdle             DkgState = "idle"
	DkgInitializing     DkgState = "initializing"
	DkgRound1InProgress DkgState = "round1_in_progress"
	DkgRound2InProgress DkgState = "round2_in_progress"
	DkgFinalizing       DkgState = "finalizing"
	DkgComplete         DkgState = "complete"
	DkgFailed           DkgState = "failed"
)

// SigningState is the Signing Engine's state machine position, §4.7.
type SigningState string

const (
	SigningIdle                SigningState = "idle"
	SigningAwaitingAcceptances SigningState = "awaiting_acceptances"
	SigningCommitmentPhase     SigningState = "commitment_phase"
	SigningSharePhase          SigningState = "share_phase"
	SigningComplete            SigningState = "complete"
	SigningFailed              SigningState = "failed"
)

// KeyMaterial is produced by a successful DKG. It is owned exclusively by
// the DKG Engine; the Signing Engine only ever borrows it read-only.
// PrivateShare is zeroizable and must never be logged or copied outside
// this module except to derive a public address.
type KeyMaterial struct {
	GroupPublicKey []byte
	PrivateShare   []byte
	Participants   []DeviceId
	Threshold      int
	Curve          config.CurveType
	Address        string
}

// Zeroize overwrites the private share in place. Call once the key material
// is no longer needed (wallet reset, process exit).
func (k *KeyMaterial) Zeroize() {
	for i := range k.PrivateShare {
		k.PrivateShare[i] = 0
	}
}

// DkgPackageEntry is one buffered out-of-order DKG package, keyed on
// (FromDevice, Round) with last-write-wins semantics.
type DkgPackageEntry struct {
	FromDevice DeviceId
	Round      int
	RawPackage []byte
}

// DkgPackageBuffer holds packages that arrived before the engine was ready
// for them, deduplicated on (from_device, round).
type DkgPackageBuffer struct {
	entries map[DeviceId]map[int]DkgPackageEntry
	order   map[DeviceId]map[int]int
	seq     int
}

// NewDkgPackageBuffer constructs an empty buffer.
func NewDkgPackageBuffer() *DkgPackageBuffer {
	return &DkgPackageBuffer{
		entries: make(map[DeviceId]map[int]DkgPackageEntry),
		order:   make(map[DeviceId]map[int]int),
	}
}

// Put stores or overwrites the buffered package for (from, round).
func (b *DkgPackageBuffer) Put(from DeviceId, round int, raw []byte) {
	if b.entries[from] == nil {
		b.entries[from] = make(map[int]DkgPackageEntry)
		b.order[from] = make(map[int]int)
	}
	b.entries[from][round] = DkgPackageEntry{FromDevice: from, Round: round, RawPackage: raw}
	b.order[from][round] = b.seq
	b.seq++
}

// Drain returns every buffered entry for round in original arrival order
// and clears them from the buffer. Per §9's concurrent-mutation note, the
// caller receives a snapshot; further Put calls during replay do not affect
// the slice already returned.
func (b *DkgPackageBuffer) Drain(round int) []DkgPackageEntry {
	var out []DkgPackageEntry
	seqs := make(map[DeviceId]int)
	for from, rounds := range b.entries {
		if entry, ok := rounds[round]; ok {
			out = append(out, entry)
			seqs[from] = b.order[from][round]
			delete(rounds, round)
			delete(b.order[from], round)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return seqs[out[i].FromDevice] < seqs[out[j].FromDevice]
	})
	return out
}

// SendersFor returns the set of devices with a buffered package for round.
func (b *DkgPackageBuffer) SendersFor(round int) map[DeviceId]bool {
	out := make(map[DeviceId]bool)
	for from, rounds := range b.entries {
		if _, ok := rounds[round]; ok {
			out[from] = true
		}
	}
	return out
}

// SigningSession tracks one in-flight signing instance, §3/§4.7.
type SigningSession struct {
	SigningID       string
	TransactionBytes []byte
	Threshold        int
	Participants     []DeviceId
	Acceptances      map[DeviceId]bool
	SelectedSigners  []DeviceId
	Commitments      map[DeviceId][]byte
	Shares           map[DeviceId][]byte
	Initiator        DeviceId
	FinalSignature   []byte
}

// NewSigningSession builds an empty SigningSession with the initiator
// auto-accepted, per §4.7 phase 1.
func NewSigningSession(signingID string, txBytes []byte, threshold int, participants []DeviceId, initiator DeviceId) *SigningSession {
	return &SigningSession{
		SigningID:        signingID,
		TransactionBytes: txBytes,
		Threshold:        threshold,
		Participants:     participants,
		Acceptances:      map[DeviceId]bool{initiator: true},
		Commitments:      make(map[DeviceId][]byte),
		Shares:           make(map[DeviceId][]byte),
		Initiator:        initiator,
	}
}

// AcceptedCount returns the number of participants with Acceptances[id] == true.
func (s *SigningSession) AcceptedCount() int {
	n := 0
	for _, ok := range s.Acceptances {
		if ok {
			n++
		}
	}
	return n
}
