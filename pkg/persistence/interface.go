// Package persistence is the pluggable WalletStore (spec §4.9): wallets
// (completed DKG key material) and in-flight protocol checkpoints survive
// a node restart behind one of three backends — memory, Badger, or Redis.
package persistence

import "github.com/frostmesh/node/pkg/types"

// WalletStore persists wallets and protocol checkpoints across restarts.
// All implementations must be safe for concurrent use, since pkg/core may
// read a wallet while another goroutine is still writing a checkpoint for
// an unrelated session.
type WalletStore interface {
	// Wallet management

	// SaveWallet persists a wallet, indexed by its WalletID. Overwrites any
	// existing record with the same id (idempotent).
	SaveWallet(record *WalletRecord) error

	// LoadWallet retrieves a wallet by id. Returns nil, nil if not found.
	LoadWallet(walletID string) (*WalletRecord, error)

	// ListWallets returns every persisted wallet, sorted by CreatedAt
	// ascending.
	ListWallets() ([]*WalletRecord, error)

	// DeleteWallet removes a wallet. Idempotent.
	DeleteWallet(walletID string) error

	// Protocol checkpoints

	// SaveCheckpoint persists in-flight DKG/signing state for crash
	// recovery, indexed by SessionID. Overwrites any existing checkpoint
	// with the same id.
	SaveCheckpoint(checkpoint *ProtocolCheckpoint) error

	// LoadCheckpoint retrieves a checkpoint by session id. Returns nil, nil
	// if not found.
	LoadCheckpoint(sessionID string) (*ProtocolCheckpoint, error)

	// DeleteCheckpoint removes a completed/failed checkpoint. Idempotent.
	DeleteCheckpoint(sessionID string) error

	// ListCheckpoints returns every persisted checkpoint. Used on startup
	// to detect and clean up sessions that were in flight at crash time.
	ListCheckpoints() ([]*ProtocolCheckpoint, error)

	// Lifecycle

	// Close cleanly shuts down the store. Idempotent.
	Close() error

	// HealthCheck verifies the store is open and reachable; it performs no
	// write.
	HealthCheck() error
}

// KeyMaterial narrows a WalletRecord back to the types.KeyMaterial shape
// pkg/core and pkg/signing expect.
func (r *WalletRecord) KeyMaterial() *types.KeyMaterial {
	if r == nil {
		return nil
	}
	return &r.Key
}
