package persistence

import "github.com/frostmesh/node/pkg/types"

// WalletRecord is the durable record of a completed DKG: the key material a
// wallet signs with, plus enough metadata to list and identify it without
// touching the private share.
type WalletRecord struct {
	// WalletID is the primary key. By convention it is the derived on-chain
	// address (types.KeyMaterial.Address), but callers may assign any
	// unique id.
	WalletID string `json:"walletId"`

	// Key is the DKG output this wallet signs with.
	Key types.KeyMaterial `json:"key"`

	// CreatedAt is the Unix timestamp the wallet was saved.
	CreatedAt int64 `json:"createdAt"`
}

// ProtocolCheckpoint captures enough of an in-flight DKG or signing session
// to detect, on restart, that it never finished. Checkpoints are advisory:
// a node that finds one on startup abandons the session rather than trying
// to resume it mid-protocol, since the in-memory FROST session state itself
// is not persisted.
type ProtocolCheckpoint struct {
	// SessionID is the primary key: a DKG session id or a signing id.
	SessionID string `json:"sessionId"`

	// Kind distinguishes a DKG checkpoint from a signing checkpoint.
	Kind string `json:"kind"`

	// State is the engine state string at the time of the last checkpoint
	// write (e.g. "round1_in_progress", "commitment_phase").
	State string `json:"state"`

	// Participants is the device id list the session was run with.
	Participants []string `json:"participants"`

	// StartedAt is the Unix timestamp stored with the checkpoint; pkg/core
	// stamps every checkpoint write with the current time.
	StartedAt int64 `json:"startedAt"`
}

// IsStale reports whether a checkpoint has outlived the given timeout and
// should be discarded on startup rather than surfaced as a crash to recover.
func (c *ProtocolCheckpoint) IsStale(nowUnix, timeoutSeconds int64) bool {
	if c == nil {
		return true
	}
	return nowUnix-c.StartedAt > timeoutSeconds
}

const (
	CheckpointKindDkg     = "dkg"
	CheckpointKindSigning = "signing"
)
