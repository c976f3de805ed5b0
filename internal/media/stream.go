package media

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Beam/internal/config"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Stream is the local capture shared by every viewer session.
type Stream interface {
	Tracks() []webrtc.TrackLocal
	Stop()
}

var ErrNoTracks = errors.New("media: no video or audio source enabled")

const mtu = 1500

var (
	VP8Codec  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	OpusCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
)

// source is one local track, optionally fed from an RTP/UDP listener.
type source struct {
	kind    webrtc.RTPCodecType
	track   *webrtc.TrackLocalStaticRTP
	conn    net.PacketConn
	packets atomic.Uint64
}

// RTPStream publishes VP8 video and Opus audio tracks. Packets arriving on
// the configured UDP addresses (ffmpeg/gstreamer rtp output) are written to
// the tracks, and pion fans them out to every bound peer connection.
type RTPStream struct {
	sources  []*source
	wg       sync.WaitGroup
	stopOnce sync.Once
	logger   zerolog.Logger
}

// NewRTPStream creates the tracks enabled in cfg and starts ingest for the
// ones with an RTP address. streamID groups the tracks in SDP.
func NewRTPStream(cfg config.MediaConfig, streamID string) (*RTPStream, error) {
	s := &RTPStream{
		logger: log.With().Str("module", "media").Str("stream", streamID).Logger(),
	}
	if cfg.Video {
		if err := s.add(webrtc.RTPCodecTypeVideo, VP8Codec, "video", streamID, cfg.VideoRTP); err != nil {
			s.Stop()
			return nil, err
		}
	}
	if cfg.Audio {
		if err := s.add(webrtc.RTPCodecTypeAudio, OpusCodec, "audio", streamID, cfg.AudioRTP); err != nil {
			s.Stop()
			return nil, err
		}
	}
	if len(s.sources) == 0 {
		return nil, ErrNoTracks
	}
	for _, src := range s.sources {
		if src.conn == nil {
			continue
		}
		s.wg.Add(1)
		go s.ingest(src)
	}
	s.logger.Info().Int("tracks", len(s.sources)).Msg("stream ready")
	return s, nil
}

func (s *RTPStream) add(kind webrtc.RTPCodecType, codec webrtc.RTPCodecCapability, id, streamID, addr string) error {
	track, err := webrtc.NewTrackLocalStaticRTP(codec, id, streamID)
	if err != nil {
		return fmt.Errorf("media: %s track: %w", id, err)
	}
	src := &source{kind: kind, track: track}
	if addr != "" {
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return fmt.Errorf("media: listen %s rtp on %s: %w", id, addr, err)
		}
		src.conn = conn
		s.logger.Info().Str("kind", kind.String()).Str("addr", conn.LocalAddr().String()).Msg("rtp ingest listening")
	}
	s.sources = append(s.sources, src)
	return nil
}

// ingest reads RTP packets from the UDP listener and writes them to the
// local track until the listener is closed.
func (s *RTPStream) ingest(src *source) {
	defer s.wg.Done()
	buf := make([]byte, mtu)
	for {
		n, _, err := src.conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error().Err(err).Str("kind", src.kind.String()).Msg("rtp ingest read error, stopping")
			}
			return
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.logger.Debug().Err(err).Msg("dropping malformed rtp packet")
			continue
		}
		if err := src.track.WriteRTP(&pkt); err != nil {
			s.logger.Warn().Err(err).Str("kind", src.kind.String()).Msg("track write failed")
			continue
		}
		src.packets.Add(1)
	}
}

func (s *RTPStream) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src.track)
	}
	return out
}

// Addr returns the ingest address for kind, or nil when it has none.
func (s *RTPStream) Addr(kind webrtc.RTPCodecType) net.Addr {
	for _, src := range s.sources {
		if src.kind == kind && src.conn != nil {
			return src.conn.LocalAddr()
		}
	}
	return nil
}

// Packets returns how many packets were written to the track of kind.
func (s *RTPStream) Packets(kind webrtc.RTPCodecType) uint64 {
	for _, src := range s.sources {
		if src.kind == kind {
			return src.packets.Load()
		}
	}
	return 0
}

// Stop closes every listener and waits for the ingest loops to exit.
func (s *RTPStream) Stop() {
	s.stopOnce.Do(func() {
		for _, src := range s.sources {
			if src.conn != nil {
				_ = src.conn.Close()
			}
		}
		s.wg.Wait()
		s.logger.Info().Msg("stream stopped")
	})
}
