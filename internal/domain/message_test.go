package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageWireFormat(t *testing.T) {
	raw := `{"type":"offer","roomId":"ab12cd","offer":{"type":"offer","sdp":"v=0"}}`
	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	assert.Equal(t, TypeOffer, m.Type)
	assert.Equal(t, RoomCode("ab12cd"), m.RoomID)
	require.NotNil(t, m.Offer)
	assert.Equal(t, webrtc.SDPTypeOffer, m.Offer.Type)

	m.Sender = "m1"
	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"offer","roomId":"ab12cd","sender":"m1","offer":{"type":"offer","sdp":"v=0"}}`, string(out))
}

func TestCandidateKeepsBrowserFields(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	m := Candidate("ab12cd", "v1", webrtc.ICECandidateInit{Candidate: "candidate:1", SDPMid: &mid, SDPMLineIndex: &idx})
	out, err := json.Marshal(m)
	require.NoError(t, err)
	var wire struct {
		Type      string         `json:"type"`
		To        string         `json:"to"`
		Candidate map[string]any `json:"candidate"`
	}
	require.NoError(t, json.Unmarshal(out, &wire))
	assert.Equal(t, "ice-candidate", wire.Type)
	assert.Equal(t, "v1", wire.To)
	assert.Equal(t, "candidate:1", wire.Candidate["candidate"])
	assert.Equal(t, "0", wire.Candidate["sdpMid"])
	assert.EqualValues(t, 0, wire.Candidate["sdpMLineIndex"])
}

func TestRelayed(t *testing.T) {
	for _, typ := range []MessageType{TypeOffer, TypeAnswer, TypeICECandidate} {
		assert.True(t, typ.Relayed(), typ)
	}
	for _, typ := range []MessageType{TypeJoinRoom, TypeUserJoined, TypeWelcome, TypePing} {
		assert.False(t, typ.Relayed(), typ)
	}
}

func TestSessionErrorUnwraps(t *testing.T) {
	err := NewSessionError("apply answer", "v1", ErrNegotiationFailed)
	assert.True(t, errors.Is(err, ErrNegotiationFailed))
	assert.Equal(t, "apply answer v1: negotiation failed", err.Error())

	var se *SessionError
	require.ErrorAs(t, error(err), &se)
	assert.Equal(t, MemberID("v1"), se.Peer)
}
