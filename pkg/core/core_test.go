package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/frostmesh/node/pkg/config"
	"github.com/frostmesh/node/pkg/persistence"
	"github.com/frostmesh/node/pkg/persistence/memory"
	"github.com/frostmesh/node/pkg/types"
)

func testLogger(t *testing.T) *zap.Logger {
	t.Helper()
	l, err := zap.NewDevelopment()
	require.NoError(t, err)
	return l
}

func newTestNode(t *testing.T, deviceID string) (*Node, persistence.WalletStore) {
	t.Helper()
	store := memory.NewMemoryPersistence()
	cfg := config.NodeConfig{
		DeviceId:  deviceID,
		SignalURL: "ws://localhost:0",
	}
	n, err := NewNode(cfg, config.CurveTypeEd25519, store, testLogger(t))
	require.NoError(t, err)
	return n, store
}

func TestNewNode_EmptyDeviceId(t *testing.T) {
	store := memory.NewMemoryPersistence()
	_, err := NewNode(config.NodeConfig{}, config.CurveTypeEd25519, store, testLogger(t))
	require.Error(t, err)
}

func TestNode_ProposeSessionWiresMeshAndDkg(t *testing.T) {
	n, _ := newTestNode(t, "alice")

	n.ProposeSession("s1", []types.DeviceId{"alice", "bob", "carol"}, 2, types.Purpose{Kind: types.PurposeNewWallet})
	ev := <-n.inbox
	require.Equal(t, eventProposeSession, ev.kind)
	n.dispatch(ev)

	snap := <-n.inbox
	require.Equal(t, eventSessionSnapshot, snap.kind)
	n.dispatch(snap)

	require.NotNil(t, n.sessionC.Session())
	assert.Equal(t, "s1", n.sessionC.Session().SessionID)
}

func TestNode_DkgCheckpointLifecycle(t *testing.T) {
	n, store := newTestNode(t, "alice")

	require.NoError(t, n.sessionC.Propose("s1", []types.DeviceId{"alice", "bob"}, 2, config.CurveTypeEd25519, types.Purpose{Kind: types.PurposeNewWallet}))

	n.writeDkgCheckpoint(types.DkgRound1InProgress)
	cp, err := store.LoadCheckpoint("s1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, persistence.CheckpointKindDkg, cp.Kind)
	assert.Equal(t, string(types.DkgRound1InProgress), cp.State)

	n.writeDkgCheckpoint(types.DkgComplete)
	cp, err = store.LoadCheckpoint("s1")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestNode_OnDkgCompletePersistsWallet(t *testing.T) {
	n, store := newTestNode(t, "alice")
	require.NoError(t, n.sessionC.Propose("s1", []types.DeviceId{"alice", "bob"}, 2, config.CurveTypeEd25519, types.Purpose{Kind: types.PurposeNewWallet}))

	km := &types.KeyMaterial{
		GroupPublicKey: []byte{1, 2, 3},
		PrivateShare:   []byte{4, 5, 6},
		Participants:   []types.DeviceId{"alice", "bob"},
		Threshold:      2,
		Curve:          config.CurveTypeEd25519,
		Address:        "wallet-xyz",
	}
	n.onDkgComplete(km)

	record, err := store.LoadWallet("wallet-xyz")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "wallet-xyz", record.WalletID)
	assert.Equal(t, km.GroupPublicKey, record.Key.GroupPublicKey)

	assert.Equal(t, types.SigningIdle, n.signingE.State())
}

func TestNode_RestoreFromPersistenceSweepsStaleCheckpoints(t *testing.T) {
	n, store := newTestNode(t, "alice")

	stale := &persistence.ProtocolCheckpoint{
		SessionID: "stale-session",
		Kind:      persistence.CheckpointKindDkg,
		State:     string(types.DkgRound1InProgress),
		StartedAt: time.Now().Add(-1 * time.Hour).Unix(),
	}
	fresh := &persistence.ProtocolCheckpoint{
		SessionID: "fresh-session",
		Kind:      persistence.CheckpointKindDkg,
		State:     string(types.DkgRound1InProgress),
		StartedAt: time.Now().Unix(),
	}
	require.NoError(t, store.SaveCheckpoint(stale))
	require.NoError(t, store.SaveCheckpoint(fresh))

	n.restoreFromPersistence()

	cp, err := store.LoadCheckpoint("stale-session")
	require.NoError(t, err)
	assert.Nil(t, cp)

	cp, err = store.LoadCheckpoint("fresh-session")
	require.NoError(t, err)
	assert.NotNil(t, cp)
}

func TestNode_SessionFailedResetsMesh(t *testing.T) {
	n, _ := newTestNode(t, "alice")
	require.NoError(t, n.sessionC.Propose("s1", []types.DeviceId{"alice", "bob"}, 2, config.CurveTypeEd25519, types.Purpose{Kind: types.PurposeNewWallet}))

	n.dispatch(event{kind: eventSessionFailed, err: types.ErrSessionTimeout})

	assert.Equal(t, types.MeshIncomplete, n.meshS.Status().Kind)
}
