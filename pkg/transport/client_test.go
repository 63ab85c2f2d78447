package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/frostmesh/node/pkg/types"
)

// TestPoliteness verifies the lexicographic tie-break: for any ordered
// pair, exactly one side is polite (waits for the incoming offer instead of
// initiating), per spec §4.3. The smaller DeviceId is the initiator.
func TestPoliteness(t *testing.T) {
	a := NewManager(types.DeviceId("a"), nil, nil, testLogger())
	b := NewManager(types.DeviceId("b"), nil, nil, testLogger())

	require.False(t, a.isPolite(types.DeviceId("b")), "a is lexicographically smaller and should initiate")
	require.True(t, b.isPolite(types.DeviceId("a")), "b is lexicographically larger and should wait")
}

func TestPolitenessIsSymmetricAcrossManyPeers(t *testing.T) {
	ids := []types.DeviceId{"alice", "bob", "carol", "dave"}
	for _, x := range ids {
		for _, y := range ids {
			if x == y {
				continue
			}
			mx := NewManager(x, nil, nil, testLogger())
			my := NewManager(y, nil, nil, testLogger())
			// Exactly one of the ordered pair is polite.
			require.NotEqual(t, mx.isPolite(y), my.isPolite(x))
		}
	}
}

func TestIsConnectedUnknownPeer(t *testing.T) {
	m := NewManager(types.DeviceId("a"), nil, nil, testLogger())
	require.False(t, m.IsConnected(types.DeviceId("ghost")))
}

func TestSendToUnknownPeerFails(t *testing.T) {
	m := NewManager(types.DeviceId("a"), nil, nil, testLogger())
	err := m.Send(types.DeviceId("ghost"), map[string]string{"hello": "world"})
	require.ErrorIs(t, err, types.ErrSendToClosedChannel)
}
