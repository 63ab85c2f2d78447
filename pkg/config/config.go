// Package config holds the small enums shared across the rest of the
// repository: which curve a session runs on, and which persistence backend
// a node runs with.
package config

import "fmt"

// CurveType selects the elliptic curve (and therefore the signature scheme
// and address format) a DKG/signing session uses.
type CurveType string

const (
	CurveTypeUnknown   CurveType = "unknown"
	CurveTypeEd25519   CurveType = "ed25519"
	CurveTypeSecp256k1 CurveType = "secp256k1"
)

func (c CurveType) String() string {
	return string(c)
}

// Valid reports whether c is one of the supported curves.
func (c CurveType) Valid() bool {
	switch c {
	case CurveTypeEd25519, CurveTypeSecp256k1:
		return true
	default:
		return false
	}
}

// ParseCurveType validates a wire/CLI string into a CurveType.
func ParseCurveType(s string) (CurveType, error) {
	c := CurveType(s)
	if !c.Valid() {
		return CurveTypeUnknown, fmt.Errorf("unsupported curve type: %s", s)
	}
	return c, nil
}

// PersistenceKind selects the WalletStore backend.
type PersistenceKind string

const (
	PersistenceMemory PersistenceKind = "memory"
	PersistenceBadger PersistenceKind = "badger"
	PersistenceRedis  PersistenceKind = "redis"
)

func (p PersistenceKind) String() string {
	return string(p)
}

// ParsePersistenceKind validates a CLI flag value.
func ParsePersistenceKind(s string) (PersistenceKind, error) {
	switch PersistenceKind(s) {
	case PersistenceMemory, PersistenceBadger, PersistenceRedis:
		return PersistenceKind(s), nil
	default:
		return "", fmt.Errorf("unsupported persistence backend: %s", s)
	}
}

// NodeConfig holds the dependency-injection configuration for a single
// node process, populated by cmd/frost-node from CLI flags/env vars.
type NodeConfig struct {
	DeviceId   string
	SignalURL  string
	IceServers []string
	Persistence PersistenceKind
	DataDir     string
	Verbose     bool

	// EnableEagerDkgAutoTrigger gates the Open Question condition from §9:
	// auto-initialize DKG once every other participant's round-1 package
	// is already buffered, even before local mesh-ready fires.
	EnableEagerDkgAutoTrigger bool
}
