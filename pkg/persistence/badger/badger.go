package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/frostmesh/node/pkg/persistence"
)

// Key prefixes for namespacing.
const (
	keyPrefixWallet     = "wallet:"
	keyPrefixCheckpoint = "checkpoint:"
	keySchemaVersion    = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// BadgerPersistence is a disk-backed persistence.WalletStore with ACID
// guarantees, suitable for a single-process production node.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerPersistence opens (or creates) a Badger database at dataPath.
// SyncWrites is enabled for durability, and a background goroutine runs
// value-log garbage collection every five minutes.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{db: db, logger: logger}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("badger persistence initialized", "path", absPath)

	return bp, nil
}

func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		if err := item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		}); err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}
		return nil
	})
}

func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.db.RunValueLogGC(0.5); err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *BadgerPersistence) SaveWallet(record *persistence.WalletRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil WalletRecord")
	}
	if record.WalletID == "" {
		return fmt.Errorf("WalletRecord must have a non-empty WalletID")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalWalletRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal WalletRecord: %w", err)
	}

	key := keyPrefixWallet + record.WalletID
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (b *BadgerPersistence) LoadWallet(walletID string) (*persistence.WalletRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	data, err := b.get(keyPrefixWallet + walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to load WalletRecord: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	record, err := persistence.UnmarshalWalletRecord(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal WalletRecord: %w", err)
	}
	return record, nil
}

func (b *BadgerPersistence) ListWallets() ([]*persistence.WalletRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	var records []*persistence.WalletRecord
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixWallet)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var data []byte
			if err := item.Value(func(val []byte) error {
				data = append([]byte{}, val...)
				return nil
			}); err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			record, err := persistence.UnmarshalWalletRecord(data)
			if err != nil {
				b.logger.Sugar().Warnw("failed to unmarshal WalletRecord, skipping", "key", string(item.Key()), "error", err)
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list WalletRecords: %w", err)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt < records[j].CreatedAt })
	return records, nil
}

func (b *BadgerPersistence) DeleteWallet(walletID string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(keyPrefixWallet + walletID))
	})
}

func (b *BadgerPersistence) SaveCheckpoint(checkpoint *persistence.ProtocolCheckpoint) error {
	if checkpoint == nil {
		return fmt.Errorf("cannot save nil ProtocolCheckpoint")
	}
	if checkpoint.SessionID == "" {
		return fmt.Errorf("ProtocolCheckpoint must have a non-empty SessionID")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalProtocolCheckpoint(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal ProtocolCheckpoint: %w", err)
	}

	key := keyPrefixCheckpoint + checkpoint.SessionID
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (b *BadgerPersistence) LoadCheckpoint(sessionID string) (*persistence.ProtocolCheckpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	data, err := b.get(keyPrefixCheckpoint + sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ProtocolCheckpoint: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	checkpoint, err := persistence.UnmarshalProtocolCheckpoint(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal ProtocolCheckpoint: %w", err)
	}
	return checkpoint, nil
}

func (b *BadgerPersistence) DeleteCheckpoint(sessionID string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(keyPrefixCheckpoint + sessionID))
	})
}

func (b *BadgerPersistence) ListCheckpoints() ([]*persistence.ProtocolCheckpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	var checkpoints []*persistence.ProtocolCheckpoint
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixCheckpoint)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var data []byte
			if err := item.Value(func(val []byte) error {
				data = append([]byte{}, val...)
				return nil
			}); err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			checkpoint, err := persistence.UnmarshalProtocolCheckpoint(data)
			if err != nil {
				b.logger.Sugar().Warnw("failed to unmarshal ProtocolCheckpoint, skipping", "key", string(item.Key()), "error", err)
				continue
			}
			checkpoints = append(checkpoints, checkpoint)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list ProtocolCheckpoints: %w", err)
	}
	return checkpoints, nil
}

func (b *BadgerPersistence) get(key string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	return data, err
}

func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("badger persistence closed")
	return nil
}

func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
