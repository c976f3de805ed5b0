package rtc

import (
	"testing"

	"github.com/dkeye/Beam/internal/config"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.WebRTCConfig{
		STUNServers:    []string{"stun:stun.l.google.com:19302"},
		TURNServers:    []string{"turn:openrelay.metered.ca:80"},
		TURNUsername:   "openrelayproject",
		TURNCredential: "openrelayproject",
		ForceRelay:     true,
	})
	require.Len(t, cfg.ICEServers, 2)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers[0].URLs)
	assert.Equal(t, "openrelayproject", cfg.ICEServers[1].Username)
	assert.Equal(t, webrtc.ICETransportPolicyRelay, cfg.ICETransportPolicy)

	assert.Equal(t, DefaultWebRTCConfig(), ConfigFrom(config.WebRTCConfig{}))
}

func TestOfferAnswerRoundTrip(t *testing.T) {
	api, err := NewAPI()
	require.NoError(t, err)
	factory := NewFactory(api, webrtc.Configuration{})

	host, err := factory("viewer")
	require.NoError(t, err)
	defer host.Close()
	viewer, err := factory("host")
	require.NoError(t, err)
	defer viewer.Close()

	video, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "beam")
	require.NoError(t, err)
	audio, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "beam")
	require.NoError(t, err)
	require.NoError(t, host.AddLocalTrack(video))
	require.NoError(t, host.AddLocalTrack(audio))

	offer, err := host.CreateAndSetOffer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=video")
	assert.Contains(t, offer.SDP, "m=audio")

	answer, err := viewer.ApplyOfferAndCreateAnswer(*offer)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)

	require.NoError(t, host.ApplyAnswer(*answer))
}

func TestApplyAnswerWithoutOfferFails(t *testing.T) {
	api, err := NewAPI()
	require.NoError(t, err)
	c, err := NewWebRTCConnection(api, webrtc.Configuration{}, "peer")
	require.NoError(t, err)
	defer c.Close()

	err = c.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "garbage"})
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	api, err := NewAPI()
	require.NoError(t, err)
	c, err := NewWebRTCConnection(api, webrtc.Configuration{}, "peer")
	require.NoError(t, err)

	called := false
	c.OnStateChange(func(webrtc.PeerConnectionState) { called = true })
	c.Close()
	c.Close()
	assert.False(t, called)
}
