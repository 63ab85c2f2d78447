// Package memory implements an in-memory persistence.WalletStore. It is
// the default for local development and tests; everything is lost on
// process exit, which is the whole point — no data directory to clean up.
package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/frostmesh/node/pkg/persistence"
	"github.com/frostmesh/node/pkg/types"
)

// MemoryPersistence is a process-local, lock-guarded WalletStore. Safe for
// concurrent use.
type MemoryPersistence struct {
	mu          sync.RWMutex
	wallets     map[string]*persistence.WalletRecord
	checkpoints map[string]*persistence.ProtocolCheckpoint
	closed      bool
}

// NewMemoryPersistence constructs an empty in-memory store.
func NewMemoryPersistence() *MemoryPersistence {
	fmt.Println("⚠️  WARNING: Using in-memory persistence. Wallets and checkpoints will not survive a restart.")
	fmt.Println("⚠️  This backend is intended for local development and tests only.")
	return &MemoryPersistence{
		wallets:     make(map[string]*persistence.WalletRecord),
		checkpoints: make(map[string]*persistence.ProtocolCheckpoint),
	}
}

func (m *MemoryPersistence) SaveWallet(record *persistence.WalletRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil WalletRecord")
	}
	if record.WalletID == "" {
		return fmt.Errorf("WalletRecord must have a non-empty WalletID")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("persistence store is closed")
	}
	m.wallets[record.WalletID] = deepCopyWalletRecord(record)
	return nil
}

func (m *MemoryPersistence) LoadWallet(walletID string) (*persistence.WalletRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("persistence store is closed")
	}
	record, ok := m.wallets[walletID]
	if !ok {
		return nil, nil
	}
	return deepCopyWalletRecord(record), nil
}

func (m *MemoryPersistence) ListWallets() ([]*persistence.WalletRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("persistence store is closed")
	}
	out := make([]*persistence.WalletRecord, 0, len(m.wallets))
	for _, record := range m.wallets {
		out = append(out, deepCopyWalletRecord(record))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (m *MemoryPersistence) DeleteWallet(walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("persistence store is closed")
	}
	delete(m.wallets, walletID)
	return nil
}

func (m *MemoryPersistence) SaveCheckpoint(checkpoint *persistence.ProtocolCheckpoint) error {
	if checkpoint == nil {
		return fmt.Errorf("cannot save nil ProtocolCheckpoint")
	}
	if checkpoint.SessionID == "" {
		return fmt.Errorf("ProtocolCheckpoint must have a non-empty SessionID")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("persistence store is closed")
	}
	m.checkpoints[checkpoint.SessionID] = deepCopyCheckpoint(checkpoint)
	return nil
}

func (m *MemoryPersistence) LoadCheckpoint(sessionID string) (*persistence.ProtocolCheckpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("persistence store is closed")
	}
	checkpoint, ok := m.checkpoints[sessionID]
	if !ok {
		return nil, nil
	}
	return deepCopyCheckpoint(checkpoint), nil
}

func (m *MemoryPersistence) DeleteCheckpoint(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("persistence store is closed")
	}
	delete(m.checkpoints, sessionID)
	return nil
}

func (m *MemoryPersistence) ListCheckpoints() ([]*persistence.ProtocolCheckpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("persistence store is closed")
	}
	out := make([]*persistence.ProtocolCheckpoint, 0, len(m.checkpoints))
	for _, c := range m.checkpoints {
		out = append(out, deepCopyCheckpoint(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt < out[j].StartedAt })
	return out, nil
}

func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("persistence store is closed")
	}
	return nil
}

// deepCopyWalletRecord prevents callers from mutating state held by the
// store through a pointer (or byte slice) they were handed back.
func deepCopyWalletRecord(record *persistence.WalletRecord) *persistence.WalletRecord {
	if record == nil {
		return nil
	}
	cp := *record
	cp.Key.GroupPublicKey = append([]byte(nil), record.Key.GroupPublicKey...)
	cp.Key.PrivateShare = append([]byte(nil), record.Key.PrivateShare...)
	cp.Key.Participants = append([]types.DeviceId(nil), record.Key.Participants...)
	return &cp
}

func deepCopyCheckpoint(c *persistence.ProtocolCheckpoint) *persistence.ProtocolCheckpoint {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	return &cp
}
