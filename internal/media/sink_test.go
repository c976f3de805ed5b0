package media

import (
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrack struct {
	kind webrtc.RTPCodecType
	pkts []*rtp.Packet
}

func (f *fakeTrack) Kind() webrtc.RTPCodecType { return f.kind }

func (f *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if len(f.pkts) == 0 {
		return nil, nil, io.EOF
	}
	p := f.pkts[0]
	f.pkts = f.pkts[1:]
	return p, nil, nil
}

func TestUDPSinkForward(t *testing.T) {
	player, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer player.Close()

	sink, err := NewUDPSink(player.LocalAddr().String())
	require.NoError(t, err)
	defer sink.Close()

	sink.Forward(&fakeTrack{
		kind: webrtc.RTPCodecTypeVideo,
		pkts: []*rtp.Packet{{Header: rtp.Header{Version: 2, SequenceNumber: 7, SSRC: 1}, Payload: []byte("frame")}},
	})
	sink.Wait()

	require.NoError(t, player.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1500)
	n, _, err := player.ReadFrom(buf)
	require.NoError(t, err)

	var got rtp.Packet
	require.NoError(t, got.Unmarshal(buf[:n]))
	assert.Equal(t, uint16(7), got.SequenceNumber)
	assert.Equal(t, []byte("frame"), got.Payload)
}

func TestUDPSinkAudioPortAndSDP(t *testing.T) {
	sink, err := NewUDPSink("127.0.0.1:5004")
	require.NoError(t, err)
	defer sink.Close()

	assert.Equal(t, 5006, sink.dst(webrtc.RTPCodecTypeAudio).Port)
	assert.Equal(t, 5004, sink.dst(webrtc.RTPCodecTypeVideo).Port)

	sdp := sink.SDPFor(96, 111)
	assert.True(t, strings.Contains(sdp, "m=video 5004 RTP/AVP 96"))
	assert.True(t, strings.Contains(sdp, "m=audio 5006 RTP/AVP 111"))
	assert.NoError(t, sink.Close())
}
