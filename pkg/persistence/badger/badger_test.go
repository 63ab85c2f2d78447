package badger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostmesh/node/pkg/config"
	"github.com/frostmesh/node/pkg/logger"
	"github.com/frostmesh/node/pkg/persistence"
	"github.com/frostmesh/node/pkg/types"
)

func sampleWallet(id string, createdAt int64) *persistence.WalletRecord {
	return &persistence.WalletRecord{
		WalletID: id,
		Key: types.KeyMaterial{
			GroupPublicKey: []byte{1, 2, 3, 4},
			PrivateShare:   []byte{5, 6, 7, 8},
			Participants:   []types.DeviceId{"a", "b", "c"},
			Threshold:      2,
			Curve:          config.CurveTypeEd25519,
			Address:        id,
		},
		CreatedAt: createdAt,
	}
}

func TestBadgerPersistence_SaveAndLoadWallet(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	w := sampleWallet("wallet1", 1000)
	require.NoError(t, bp.SaveWallet(w))

	loaded, err := bp.LoadWallet("wallet1")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, w.WalletID, loaded.WalletID)
	assert.Equal(t, w.Key.Address, loaded.Key.Address)
	assert.Equal(t, w.Key.GroupPublicKey, loaded.Key.GroupPublicKey)
	assert.Equal(t, w.Key.PrivateShare, loaded.Key.PrivateShare)
}

func TestBadgerPersistence_LoadWallet_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	loaded, err := bp.LoadWallet("nonexistent")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBadgerPersistence_SaveWallet_Nil(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	err = bp.SaveWallet(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil WalletRecord")
}

func TestBadgerPersistence_DeleteWallet(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	w := sampleWallet("wallet1", 1000)
	require.NoError(t, bp.SaveWallet(w))

	loaded, err := bp.LoadWallet("wallet1")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	require.NoError(t, bp.DeleteWallet("wallet1"))

	loaded, err = bp.LoadWallet("wallet1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBadgerPersistence_DeleteWallet_Idempotent(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	require.NoError(t, bp.DeleteWallet("nonexistent"))
}

func TestBadgerPersistence_ListWallets(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	for i := 0; i < 5; i++ {
		w := sampleWallet(string(rune('a'+i)), int64(i*100))
		require.NoError(t, bp.SaveWallet(w))
	}

	listed, err := bp.ListWallets()
	require.NoError(t, err)
	require.Len(t, listed, 5)

	for i := 0; i < len(listed)-1; i++ {
		assert.LessOrEqual(t, listed[i].CreatedAt, listed[i+1].CreatedAt)
	}
}

func TestBadgerPersistence_ListWallets_Empty(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	listed, err := bp.ListWallets()
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestBadgerPersistence_Checkpoints(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	checkpoint := &persistence.ProtocolCheckpoint{
		SessionID:    "s1",
		Kind:         persistence.CheckpointKindDkg,
		State:        "round1_in_progress",
		Participants: []string{"a", "b", "c"},
		StartedAt:    1000,
	}
	require.NoError(t, bp.SaveCheckpoint(checkpoint))

	loaded, err := bp.LoadCheckpoint("s1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, checkpoint.SessionID, loaded.SessionID)
	assert.Equal(t, checkpoint.Kind, loaded.Kind)
	assert.Equal(t, checkpoint.State, loaded.State)
}

func TestBadgerPersistence_LoadCheckpoint_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	loaded, err := bp.LoadCheckpoint("nonexistent")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBadgerPersistence_SaveCheckpoint_Nil(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	err = bp.SaveCheckpoint(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil ProtocolCheckpoint")
}

func TestBadgerPersistence_DeleteCheckpoint(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	checkpoint := &persistence.ProtocolCheckpoint{SessionID: "111", Kind: persistence.CheckpointKindSigning, StartedAt: 100}
	require.NoError(t, bp.SaveCheckpoint(checkpoint))
	require.NoError(t, bp.DeleteCheckpoint("111"))

	loaded, err := bp.LoadCheckpoint("111")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBadgerPersistence_ListCheckpoints(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	for i := 0; i < 3; i++ {
		c := &persistence.ProtocolCheckpoint{SessionID: string(rune('a' + i)), Kind: persistence.CheckpointKindDkg, StartedAt: int64(i * 100)}
		require.NoError(t, bp.SaveCheckpoint(c))
	}

	listed, err := bp.ListCheckpoints()
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestBadgerPersistence_ListCheckpoints_Empty(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	listed, err := bp.ListCheckpoints()
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestBadgerPersistence_Close(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)

	require.NoError(t, bp.Close())

	err = bp.SaveWallet(sampleWallet("w", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")

	_, err = bp.LoadWallet("w")
	require.Error(t, err)
}

func TestBadgerPersistence_Close_Idempotent(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)

	require.NoError(t, bp.Close())
	require.NoError(t, bp.Close())
}

func TestBadgerPersistence_HealthCheck(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	require.NoError(t, bp.HealthCheck())

	require.NoError(t, bp.Close())
	err = bp.HealthCheck()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestBadgerPersistence_ThreadSafety(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	var wg sync.WaitGroup
	numGoroutines := 10
	numOperations := 50

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				w := sampleWallet(string(rune('a'+id))+string(rune('0'+j%10)), int64(id*1000+j))
				assert.NoError(t, bp.SaveWallet(w))
			}
		}(i)
	}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				_, err := bp.ListWallets()
				assert.NoError(t, err)
			}
		}()
	}

	wg.Wait()
}

func TestBadgerPersistence_PersistenceAcrossRestarts(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp1, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)

	w := sampleWallet("wallet1", 99999)
	require.NoError(t, bp1.SaveWallet(w))

	checkpoint := &persistence.ProtocolCheckpoint{SessionID: "s1", Kind: persistence.CheckpointKindDkg, StartedAt: 1234567890}
	require.NoError(t, bp1.SaveCheckpoint(checkpoint))

	require.NoError(t, bp1.Close())

	bp2, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp2.Close() }()

	loadedWallet, err := bp2.LoadWallet("wallet1")
	require.NoError(t, err)
	require.NotNil(t, loadedWallet)
	assert.Equal(t, w.Key.Address, loadedWallet.Key.Address)

	loadedCheckpoint, err := bp2.LoadCheckpoint("s1")
	require.NoError(t, err)
	require.NotNil(t, loadedCheckpoint)
	assert.Equal(t, checkpoint.Kind, loadedCheckpoint.Kind)
}
