package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostmesh/node/pkg/config"
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

func TestMemoryPersistence_SaveAndLoadWallet(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	w := sampleWallet("wallet1", 1000)
	require.NoError(t, mp.SaveWallet(w))

	loaded, err := mp.LoadWallet("wallet1")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, w.WalletID, loaded.WalletID)
	assert.Equal(t, w.Key.Address, loaded.Key.Address)
	assert.Equal(t, w.Key.GroupPublicKey, loaded.Key.GroupPublicKey)
	assert.Equal(t, w.Key.PrivateShare, loaded.Key.PrivateShare)
	assert.Equal(t, w.Key.Participants, loaded.Key.Participants)
}

func TestMemoryPersistence_LoadWallet_NotFound(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	loaded, err := mp.LoadWallet("nonexistent")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestMemoryPersistence_SaveWallet_Nil(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	err := mp.SaveWallet(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil WalletRecord")
}

func TestMemoryPersistence_SaveWallet_EmptyID(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	err := mp.SaveWallet(&persistence.WalletRecord{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WalletID")
}

func TestMemoryPersistence_DeleteWallet(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	w := sampleWallet("wallet1", 1000)
	require.NoError(t, mp.SaveWallet(w))

	loaded, err := mp.LoadWallet("wallet1")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	require.NoError(t, mp.DeleteWallet("wallet1"))

	loaded, err = mp.LoadWallet("wallet1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestMemoryPersistence_DeleteWallet_Idempotent(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	require.NoError(t, mp.DeleteWallet("nonexistent"))
}

func TestMemoryPersistence_ListWallets(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	for i := 0; i < 5; i++ {
		w := sampleWallet(string(rune('a'+i)), int64(i*100))
		require.NoError(t, mp.SaveWallet(w))
	}

	listed, err := mp.ListWallets()
	require.NoError(t, err)
	require.Len(t, listed, 5)

	for i := 0; i < len(listed)-1; i++ {
		assert.LessOrEqual(t, listed[i].CreatedAt, listed[i+1].CreatedAt)
	}
}

func TestMemoryPersistence_ListWallets_Empty(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	listed, err := mp.ListWallets()
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestMemoryPersistence_Checkpoints(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	checkpoint := &persistence.ProtocolCheckpoint{
		SessionID:    "s1",
		Kind:         persistence.CheckpointKindDkg,
		State:        "round1_in_progress",
		Participants: []string{"a", "b", "c"},
		StartedAt:    1000,
	}
	require.NoError(t, mp.SaveCheckpoint(checkpoint))

	loaded, err := mp.LoadCheckpoint("s1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, checkpoint.SessionID, loaded.SessionID)
	assert.Equal(t, checkpoint.Kind, loaded.Kind)
	assert.Equal(t, checkpoint.State, loaded.State)
	assert.Equal(t, checkpoint.Participants, loaded.Participants)
}

func TestMemoryPersistence_LoadCheckpoint_NotFound(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	loaded, err := mp.LoadCheckpoint("nonexistent")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestMemoryPersistence_SaveCheckpoint_Nil(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	err := mp.SaveCheckpoint(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil ProtocolCheckpoint")
}

func TestMemoryPersistence_DeleteCheckpoint(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	checkpoint := &persistence.ProtocolCheckpoint{SessionID: "s1", Kind: persistence.CheckpointKindSigning, StartedAt: 100}
	require.NoError(t, mp.SaveCheckpoint(checkpoint))
	require.NoError(t, mp.DeleteCheckpoint("s1"))

	loaded, err := mp.LoadCheckpoint("s1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestMemoryPersistence_ListCheckpoints(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	for i := 0; i < 3; i++ {
		c := &persistence.ProtocolCheckpoint{
			SessionID: string(rune('a' + i)),
			Kind:      persistence.CheckpointKindDkg,
			StartedAt: int64(i * 100),
		}
		require.NoError(t, mp.SaveCheckpoint(c))
	}

	listed, err := mp.ListCheckpoints()
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestMemoryPersistence_ListCheckpoints_Empty(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	listed, err := mp.ListCheckpoints()
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestMemoryPersistence_Close(t *testing.T) {
	mp := NewMemoryPersistence()
	require.NoError(t, mp.Close())

	err := mp.SaveWallet(sampleWallet("w", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")

	_, err = mp.LoadWallet("w")
	require.Error(t, err)
}

func TestMemoryPersistence_Close_Idempotent(t *testing.T) {
	mp := NewMemoryPersistence()
	require.NoError(t, mp.Close())
	require.NoError(t, mp.Close())
}

func TestMemoryPersistence_HealthCheck(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	require.NoError(t, mp.HealthCheck())

	require.NoError(t, mp.Close())
	err := mp.HealthCheck()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestMemoryPersistence_ThreadSafety(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	var wg sync.WaitGroup
	numGoroutines := 10
	numOperations := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				w := sampleWallet(string(rune('a'+id))+string(rune('0'+j%10)), int64(id*1000+j))
				assert.NoError(t, mp.SaveWallet(w))
			}
		}(i)
	}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				_, err := mp.ListWallets()
				assert.NoError(t, err)
			}
		}()
	}

	wg.Wait()
}

func TestMemoryPersistence_DeepCopy_Mutation(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	w := sampleWallet("wallet1", 1000)
	require.NoError(t, mp.SaveWallet(w))

	loaded, err := mp.LoadWallet("wallet1")
	require.NoError(t, err)
	loaded.Key.PrivateShare[0] = 255
	loaded.Key.Participants[0] = "tampered"

	loaded2, err := mp.LoadWallet("wallet1")
	require.NoError(t, err)
	assert.Equal(t, byte(5), loaded2.Key.PrivateShare[0])
	assert.Equal(t, types.DeviceId("a"), loaded2.Key.Participants[0])
}
