package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/frostmesh/node/pkg/config"
	"github.com/frostmesh/node/pkg/core"
	"github.com/frostmesh/node/pkg/logger"
	"github.com/frostmesh/node/pkg/persistence"
	"github.com/frostmesh/node/pkg/persistence/badger"
	"github.com/frostmesh/node/pkg/persistence/memory"
	"github.com/frostmesh/node/pkg/persistence/redis"
)

func main() {
	app := &cli.App{
		Name:  "frost-node",
		Usage: "FROST threshold-signing peer-to-peer node",
		Description: `A peer-to-peer node that participates in FROST threshold Distributed
Key Generation and signing over WebRTC data channels, coordinated through
a WebSocket signaling relay.

This node implements:
- Distributed Key Generation for Ed25519 (Solana) and secp256k1 (Ethereum)
- Threshold signing once a wallet's key material exists
- WebRTC mesh formation with politeness-based connection tie-breaking
- Pluggable wallet/checkpoint persistence (memory, Badger, Redis)`,
		Version: "0.1.0",
		Commands: []*cli.Command{
			runCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("frost-node: %v", err)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "start the node and join the signaling mesh",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "device-id",
				Usage:    "this node's globally-unique device identifier",
				EnvVars:  []string{"FROST_DEVICE_ID"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "signal-url",
				Usage:    "WebSocket URL of the signaling relay",
				EnvVars:  []string{"FROST_SIGNAL_URL"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "curve",
				Usage:   "curve this node runs: ed25519 or secp256k1",
				EnvVars: []string{"FROST_CURVE"},
				Value:   "ed25519",
			},
			&cli.StringSliceFlag{
				Name:    "ice-server",
				Usage:   "STUN/TURN server URL (repeatable)",
				EnvVars: []string{"FROST_ICE_SERVERS"},
				Value:   cli.NewStringSlice("stun:stun.l.google.com:19302"),
			},
			&cli.StringFlag{
				Name:    "persistence",
				Usage:   "wallet/checkpoint backend: memory, badger, or redis",
				EnvVars: []string{"FROST_PERSISTENCE"},
				Value:   "memory",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "on-disk data directory (badger backend only)",
				EnvVars: []string{"FROST_DATA_DIR"},
				Value:   "./data",
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "redis server address (redis backend only)",
				EnvVars: []string{"FROST_REDIS_ADDRESS"},
				Value:   "localhost:6379",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "enable debug-level logging",
				EnvVars: []string{"FROST_VERBOSE"},
			},
		},
		Action: runNode,
	}
}

func runNode(c *cli.Context) error {
	curve, err := config.ParseCurveType(c.String("curve"))
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	persistenceKind, err := config.ParsePersistenceKind(c.String("persistence"))
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	cfg := config.NodeConfig{
		DeviceId:    c.String("device-id"),
		SignalURL:   c.String("signal-url"),
		IceServers:  c.StringSlice("ice-server"),
		Persistence: persistenceKind,
		DataDir:     c.String("data-dir"),
		Verbose:     c.Bool("verbose"),
	}

	log, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Verbose})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	store, err := openStore(cfg, c.String("redis-address"), log)
	if err != nil {
		return fmt.Errorf("failed to open persistence backend: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Sugar().Warnw("error closing persistence backend", "error", err)
		}
	}()

	node, err := core.NewNode(cfg, curve, store, log)
	if err != nil {
		return fmt.Errorf("failed to construct node: %w", err)
	}

	log.Sugar().Infow("starting frost-node",
		"deviceId", cfg.DeviceId,
		"signalUrl", cfg.SignalURL,
		"curve", curve,
		"persistence", persistenceKind,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := node.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("node stopped: %w", err)
	}
	return nil
}

func openStore(cfg config.NodeConfig, redisAddress string, log *zap.Logger) (persistence.WalletStore, error) {
	switch cfg.Persistence {
	case config.PersistenceBadger:
		return badger.NewBadgerPersistence(cfg.DataDir, log)
	case config.PersistenceRedis:
		return redis.NewRedisPersistence(&redis.RedisConfig{Address: redisAddress}, log)
	case config.PersistenceMemory, "":
		return memory.NewMemoryPersistence(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence backend: %s", cfg.Persistence)
	}
}
