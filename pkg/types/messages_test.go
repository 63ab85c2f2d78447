package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalTaggedFlattensTagAndFields(t *testing.T) {
	raw, err := MarshalTagged(SessionResponse{SessionID: "s1", Accepted: true})
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, string(MsgSessionResponse), fields["webrtc_msg_type"])
	assert.Equal(t, "s1", fields["session_id"])
	assert.Equal(t, true, fields["accepted"])
}

func TestMarshalTaggedRoundTripsThroughEnvelopeDecode(t *testing.T) {
	raw, err := MarshalTagged(MeshReadyMsg{SessionID: "s1", DeviceID: "b"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, MsgMeshReady, env.WebRTCMsgType)

	var m MeshReadyMsg
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "s1", m.SessionID)
	assert.Equal(t, DeviceId("b"), m.DeviceID)
}

func TestMarshalTaggedUnknownTypeErrors(t *testing.T) {
	_, err := MarshalTagged(struct{ X int }{X: 1})
	require.Error(t, err)
}
