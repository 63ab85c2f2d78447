package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/frostmesh/node/pkg/config"
	"github.com/frostmesh/node/pkg/types"
)

func TestProposeMarksProposerAccepted(t *testing.T) {
	var mu sync.Mutex
	var sent []types.DeviceId
	c := NewCoordinator("a", func(peer types.DeviceId, msg interface{}) error {
		mu.Lock()
		sent = append(sent, peer)
		mu.Unlock()
		return nil
	}, zap.NewNop())

	err := c.Propose("s1", []types.DeviceId{"a", "b", "c"}, 2, config.CurveTypeEd25519, types.Purpose{Kind: types.PurposeNewWallet})
	require.NoError(t, err)
	require.True(t, c.Session().AcceptedDevices["a"])
	require.ElementsMatch(t, []types.DeviceId{"b", "c"}, sent)
}

func TestOnProposalAutoAccepts(t *testing.T) {
	var responded types.SessionResponse
	c := NewCoordinator("b", func(peer types.DeviceId, msg interface{}) error {
		responded = msg.(types.SessionResponse)
		return nil
	}, zap.NewNop())

	err := c.OnProposal("a", types.SessionProposal{
		SessionID:    "s1",
		Total:        3,
		Threshold:    2,
		Participants: []types.DeviceId{"a", "b", "c"},
		Curve:        "ed25519",
	})
	require.NoError(t, err)
	require.True(t, responded.Accepted)
	require.True(t, c.Session().AcceptedDevices["b"])
}

func TestDeclineFailsSession(t *testing.T) {
	c := NewCoordinator("a", func(types.DeviceId, interface{}) error { return nil }, zap.NewNop())
	var failErr error
	c.OnFailed = func(err error) { failErr = err }

	require.NoError(t, c.Propose("s1", []types.DeviceId{"a", "b"}, 2, config.CurveTypeEd25519, types.Purpose{}))
	require.NoError(t, c.OnResponse("b", types.SessionResponse{SessionID: "s1", Accepted: false}))
	require.ErrorIs(t, failErr, types.ErrSessionDeclined)
	require.Nil(t, c.Session())
}

func TestCheckTimeoutIsNoopBeforeDeadline(t *testing.T) {
	c := NewCoordinator("a", func(types.DeviceId, interface{}) error { return nil }, zap.NewNop())
	var failErr error
	c.OnFailed = func(err error) { failErr = err }

	require.NoError(t, c.Propose("s1", []types.DeviceId{"a", "b"}, 2, config.CurveTypeEd25519, types.Purpose{}))
	c.CheckTimeout()
	require.NoError(t, failErr)
	require.NotNil(t, c.Session(), "a session short of AcceptanceTimeout must not be failed yet")
}

func TestTimeoutFailsIncompleteSessionAfterDeadline(t *testing.T) {
	c := NewCoordinator("a", func(types.DeviceId, interface{}) error { return nil }, zap.NewNop())
	var failErr error
	c.OnFailed = func(err error) { failErr = err }

	require.NoError(t, c.Propose("s1", []types.DeviceId{"a", "b"}, 2, config.CurveTypeEd25519, types.Purpose{}))
	c.createdAt = time.Now().Add(-(AcceptanceTimeout + time.Second))
	c.CheckTimeout()
	require.ErrorIs(t, failErr, types.ErrSessionTimeout)
}
