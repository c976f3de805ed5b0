package media

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// RTPReader is the read side of a remote track. *webrtc.TrackRemote
// satisfies it.
type RTPReader interface {
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// UDPSink forwards received tracks as plain RTP to a local player. Video
// goes to addr, audio to addr's port + 2.
type UDPSink struct {
	conn  net.PacketConn
	video *net.UDPAddr
	audio *net.UDPAddr

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewUDPSink(addr string) (*UDPSink, error) {
	video, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("media: sink address %q: %w", addr, err)
	}
	audio := &net.UDPAddr{IP: video.IP, Port: video.Port + 2, Zone: video.Zone}
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("media: sink socket: %w", err)
	}
	log.Info().Str("module", "media").Str("video", video.String()).Str("audio", audio.String()).Msg("udp sink ready")
	return &UDPSink{conn: conn, video: video, audio: audio}, nil
}

func (s *UDPSink) dst(kind webrtc.RTPCodecType) *net.UDPAddr {
	if kind == webrtc.RTPCodecTypeAudio {
		return s.audio
	}
	return s.video
}

// Forward copies packets from r until it ends. It runs in its own goroutine.
func (s *UDPSink) Forward(r RTPReader) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		dst := s.dst(r.Kind())
		logger := log.With().Str("module", "media").Str("kind", r.Kind().String()).Logger()
		for {
			pkt, _, err := r.ReadRTP()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Debug().Err(err).Msg("remote track ended")
				}
				return
			}
			raw, err := pkt.Marshal()
			if err != nil {
				continue
			}
			if _, err := s.conn.WriteTo(raw, dst); err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logger.Warn().Err(err).Msg("sink write failed")
			}
		}
	}()
}

// Close stops writing. Forward loops exit when their track ends.
func (s *UDPSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// Wait blocks until every Forward loop has returned.
func (s *UDPSink) Wait() { s.wg.Wait() }

// SDPFor returns a minimal SDP describing the sink outputs, suitable for
// `ffplay -protocol_whitelist file,udp,rtp sink.sdp`.
func (s *UDPSink) SDPFor(videoPT, audioPT uint8) string {
	host := s.video.IP.String()
	if s.video.IP == nil || s.video.IP.IsUnspecified() {
		host = "127.0.0.1"
	}
	return "v=0\r\n" +
		"o=- 0 0 IN IP4 " + host + "\r\n" +
		"s=beam\r\n" +
		"c=IN IP4 " + host + "\r\n" +
		"t=0 0\r\n" +
		"m=video " + strconv.Itoa(s.video.Port) + " RTP/AVP " + strconv.Itoa(int(videoPT)) + "\r\n" +
		"a=rtpmap:" + strconv.Itoa(int(videoPT)) + " VP8/90000\r\n" +
		"m=audio " + strconv.Itoa(s.audio.Port) + " RTP/AVP " + strconv.Itoa(int(audioPT)) + "\r\n" +
		"a=rtpmap:" + strconv.Itoa(int(audioPT)) + " opus/48000/2\r\n"
}
