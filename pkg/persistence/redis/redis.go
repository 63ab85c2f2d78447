// Package redis implements a persistence.WalletStore backed by Redis,
// suitable for a cluster of node processes sharing one cloud-native store.
package redis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/frostmesh/node/pkg/persistence"
)

// Key prefixes for namespacing in Redis. Sets index each namespace since
// Redis has no native prefix iteration.
const (
	keyPrefixWallet      = "frost:wallet:"
	keyPrefixCheckpoint  = "frost:checkpoint:"
	keySchemaVersion     = "frost:metadata:schema_version"
	currentSchemaVersion = "v1"

	keySetWallets     = "frost:wallets:index"
	keySetCheckpoints = "frost:checkpoints:index"
)

// RedisPersistence is a cluster-friendly persistence.WalletStore.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis.
type RedisConfig struct {
	// Address is the Redis server address (host:port).
	Address string
	// Password is the optional Redis password.
	Password string
	// DB is the Redis database number (0-15).
	DB int
	// KeyPrefix is an optional custom prefix for all keys, for multi-tenant
	// deployments sharing one Redis instance.
	KeyPrefix string
}

// NewRedisPersistence connects to Redis and verifies the schema version.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)

	return rp, nil
}

func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}
	return nil
}

func (r *RedisPersistence) SaveWallet(record *persistence.WalletRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil WalletRecord")
	}
	if record.WalletID == "" {
		return fmt.Errorf("WalletRecord must have a non-empty WalletID")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	data, err := persistence.MarshalWalletRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal WalletRecord: %w", err)
	}

	key := r.prefixKey(keyPrefixWallet + record.WalletID)
	indexKey := r.prefixKey(keySetWallets)
	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, indexKey, record.WalletID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save WalletRecord: %w", err)
	}
	return nil
}

func (r *RedisPersistence) LoadWallet(walletID string) (*persistence.WalletRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	data, err := r.client.Get(ctx, r.prefixKey(keyPrefixWallet+walletID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load WalletRecord: %w", err)
	}

	record, err := persistence.UnmarshalWalletRecord(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal WalletRecord: %w", err)
	}
	return record, nil
}

func (r *RedisPersistence) ListWallets() ([]*persistence.WalletRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	indexKey := r.prefixKey(keySetWallets)

	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet ids: %w", err)
	}
	if len(ids) == 0 {
		return []*persistence.WalletRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.prefixKey(keyPrefixWallet + id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch WalletRecords: %w", err)
	}

	var records []*persistence.WalletRecord
	for i, val := range values {
		if val == nil {
			r.client.SRem(ctx, indexKey, ids[i])
			continue
		}
		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("unexpected value type for WalletRecord", "key", keys[i])
			continue
		}
		record, err := persistence.UnmarshalWalletRecord([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("failed to unmarshal WalletRecord, skipping", "key", keys[i], "error", err)
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt < records[j].CreatedAt })
	return records, nil
}

func (r *RedisPersistence) DeleteWallet(walletID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.prefixKey(keyPrefixWallet+walletID))
	pipe.SRem(ctx, r.prefixKey(keySetWallets), walletID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisPersistence) SaveCheckpoint(checkpoint *persistence.ProtocolCheckpoint) error {
	if checkpoint == nil {
		return fmt.Errorf("cannot save nil ProtocolCheckpoint")
	}
	if checkpoint.SessionID == "" {
		return fmt.Errorf("ProtocolCheckpoint must have a non-empty SessionID")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	data, err := persistence.MarshalProtocolCheckpoint(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal ProtocolCheckpoint: %w", err)
	}

	key := r.prefixKey(keyPrefixCheckpoint + checkpoint.SessionID)
	indexKey := r.prefixKey(keySetCheckpoints)
	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, indexKey, checkpoint.SessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save ProtocolCheckpoint: %w", err)
	}
	return nil
}

func (r *RedisPersistence) LoadCheckpoint(sessionID string) (*persistence.ProtocolCheckpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	data, err := r.client.Get(ctx, r.prefixKey(keyPrefixCheckpoint+sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ProtocolCheckpoint: %w", err)
	}

	checkpoint, err := persistence.UnmarshalProtocolCheckpoint(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal ProtocolCheckpoint: %w", err)
	}
	return checkpoint, nil
}

func (r *RedisPersistence) DeleteCheckpoint(sessionID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.prefixKey(keyPrefixCheckpoint+sessionID))
	pipe.SRem(ctx, r.prefixKey(keySetCheckpoints), sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisPersistence) ListCheckpoints() ([]*persistence.ProtocolCheckpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	indexKey := r.prefixKey(keySetCheckpoints)

	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoint ids: %w", err)
	}
	if len(ids) == 0 {
		return []*persistence.ProtocolCheckpoint{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.prefixKey(keyPrefixCheckpoint + id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ProtocolCheckpoints: %w", err)
	}

	var checkpoints []*persistence.ProtocolCheckpoint
	for i, val := range values {
		if val == nil {
			r.client.SRem(ctx, indexKey, ids[i])
			continue
		}
		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("unexpected value type for ProtocolCheckpoint", "key", keys[i])
			continue
		}
		checkpoint, err := persistence.UnmarshalProtocolCheckpoint([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("failed to unmarshal ProtocolCheckpoint, skipping", "key", keys[i], "error", err)
			continue
		}
		checkpoints = append(checkpoints, checkpoint)
	}

	return checkpoints, nil
}

func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("redis persistence closed")
	return nil
}

func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	schemaKey := r.prefixKey(keySchemaVersion)
	_, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}
	return nil
}
