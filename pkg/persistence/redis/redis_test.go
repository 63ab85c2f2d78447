package redis

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostmesh/node/pkg/config"
	"github.com/frostmesh/node/pkg/logger"
	"github.com/frostmesh/node/pkg/persistence"
	"github.com/frostmesh/node/pkg/types"
)

// getTestRedisAddress returns the Redis address for testing. Uses
// REDIS_TEST_ADDRESS env var if set, otherwise defaults to localhost:6379.
func getTestRedisAddress() string {
	if addr := os.Getenv("REDIS_TEST_ADDRESS"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// requireRedis fails the test if Redis is not available.
func requireRedis(t *testing.T) *RedisPersistence {
	t.Helper()

	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	cfg := &RedisConfig{
		Address: getTestRedisAddress(),
		DB:      15, // dedicated to tests, to avoid clobbering real data
	}

	rp, err := NewRedisPersistence(cfg, testLogger)
	if err != nil {
		t.Fatalf("Redis not available at %s: %v", cfg.Address, err)
		return nil
	}
	return rp
}

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

func TestRedisPersistence_SaveAndLoadWallet(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	w := sampleWallet("wallet1", 1000)
	require.NoError(t, rp.SaveWallet(w))
	defer func() { _ = rp.DeleteWallet("wallet1") }()

	loaded, err := rp.LoadWallet("wallet1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, w.WalletID, loaded.WalletID)
	assert.Equal(t, w.Key.Address, loaded.Key.Address)
	assert.Equal(t, w.Key.GroupPublicKey, loaded.Key.GroupPublicKey)
}

func TestRedisPersistence_LoadWallet_NotFound(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	loaded, err := rp.LoadWallet("nonexistent-wallet-xyz")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRedisPersistence_SaveWallet_Nil(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	err := rp.SaveWallet(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil WalletRecord")
}

func TestRedisPersistence_DeleteWallet(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	w := sampleWallet("wallet-delete-me", 1000)
	require.NoError(t, rp.SaveWallet(w))
	require.NoError(t, rp.DeleteWallet("wallet-delete-me"))

	loaded, err := rp.LoadWallet("wallet-delete-me")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRedisPersistence_DeleteWallet_Idempotent(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	require.NoError(t, rp.DeleteWallet("never-existed"))
}

func TestRedisPersistence_ListWallets(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	var ids []string
	for i := 0; i < 5; i++ {
		id := "list-test-wallet-" + string(rune('a'+i))
		ids = append(ids, id)
		require.NoError(t, rp.SaveWallet(sampleWallet(id, int64(i*100))))
	}
	defer func() {
		for _, id := range ids {
			_ = rp.DeleteWallet(id)
		}
	}()

	listed, err := rp.ListWallets()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(listed), 5)
}

func TestRedisPersistence_Checkpoints(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	checkpoint := &persistence.ProtocolCheckpoint{
		SessionID:    "checkpoint-test-s1",
		Kind:         persistence.CheckpointKindDkg,
		State:        "round1_in_progress",
		Participants: []string{"a", "b", "c"},
		StartedAt:    1000,
	}
	require.NoError(t, rp.SaveCheckpoint(checkpoint))
	defer func() { _ = rp.DeleteCheckpoint("checkpoint-test-s1") }()

	loaded, err := rp.LoadCheckpoint("checkpoint-test-s1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, checkpoint.Kind, loaded.Kind)
	assert.Equal(t, checkpoint.State, loaded.State)
}

func TestRedisPersistence_LoadCheckpoint_NotFound(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	loaded, err := rp.LoadCheckpoint("nonexistent-checkpoint-xyz")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRedisPersistence_SaveCheckpoint_Nil(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	err := rp.SaveCheckpoint(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil ProtocolCheckpoint")
}

func TestRedisPersistence_DeleteCheckpoint(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	checkpoint := &persistence.ProtocolCheckpoint{SessionID: "checkpoint-delete-me", Kind: persistence.CheckpointKindSigning, StartedAt: 100}
	require.NoError(t, rp.SaveCheckpoint(checkpoint))
	require.NoError(t, rp.DeleteCheckpoint("checkpoint-delete-me"))

	loaded, err := rp.LoadCheckpoint("checkpoint-delete-me")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRedisPersistence_Close(t *testing.T) {
	rp := requireRedis(t)
	require.NoError(t, rp.Close())

	err := rp.SaveWallet(sampleWallet("w", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestRedisPersistence_Close_Idempotent(t *testing.T) {
	rp := requireRedis(t)
	require.NoError(t, rp.Close())
	require.NoError(t, rp.Close())
}

func TestRedisPersistence_HealthCheck(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	require.NoError(t, rp.HealthCheck())

	require.NoError(t, rp.Close())
	err := rp.HealthCheck()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestRedisPersistence_ThreadSafety(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	var wg sync.WaitGroup
	numGoroutines := 5
	numOperations := 20

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				wid := "thread-safety-" + string(rune('a'+id)) + string(rune('0'+j%10))
				assert.NoError(t, rp.SaveWallet(sampleWallet(wid, int64(id*1000+j))))
				_ = rp.DeleteWallet(wid)
			}
		}(i)
	}

	wg.Wait()
}

func TestRedisPersistence_NilConfig(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	_, err := NewRedisPersistence(nil, testLogger)
	require.Error(t, err)
}

func TestRedisPersistence_EmptyAddress(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	_, err := NewRedisPersistence(&RedisConfig{}, testLogger)
	require.Error(t, err)
}
