package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Beam/internal/adapters/rtc"
	"github.com/dkeye/Beam/internal/discovery"
	"github.com/dkeye/Beam/internal/domain"
	"github.com/dkeye/Beam/internal/media"
	"github.com/dkeye/Beam/internal/registry"
	"github.com/dkeye/Beam/internal/ui"
	"github.com/dkeye/Beam/internal/viewer"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newJoinCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "join <room-code>",
		Aliases: []string{"j"},
		Short:   "Watch a host's broadcast",
		Long: `Join a room and receive the host's stream. With --sink the tracks are
forwarded as RTP to a local player:

  beam join ab12cd --sink 127.0.0.1:5004
  ffplay -protocol_whitelist file,udp,rtp beam.sdp`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := domain.ParseRoomCode(args[0])
			if err != nil {
				return err
			}
			return runJoin(cmd.Context(), e, code)
		},
	}
	fs := cmd.Flags()
	fs.String("sink", "", "forward received RTP to this UDP address")
	e.bind(fs, map[string]string{"sink": "media.sink_addr"})
	return cmd
}

func runJoin(ctx context.Context, e *env, code domain.RoomCode) error {
	cfg := e.cfg

	var lookup viewer.Lookuper
	if reg := registry.New(cfg.Registry); reg.Enabled() {
		lookup = reg
	}

	sp := ui.NewConnectionSpinner(fmt.Sprintf("Looking for room %s...", code))
	sp.Start()
	client, ep, err := viewer.Connect(ctx, code, lookup, cfg.Registry.Scheme, discovery.New(cfg.Discovery))
	if err != nil {
		sp.Error("Could not reach the relay")
		return err
	}
	sp.Success(fmt.Sprintf("Connected to %s (%s)", ep.URL, ep.Method))

	var sink *media.UDPSink
	if cfg.Media.SinkAddr != "" {
		sink, err = media.NewUDPSink(cfg.Media.SinkAddr)
		if err != nil {
			_ = client.Close()
			return err
		}
		defer sink.Close()
		ui.PrintInfof("Forwarding media to %s", cfg.Media.SinkAddr)
	}

	api, err := rtc.NewAPI()
	if err != nil {
		_ = client.Close()
		return err
	}

	v, err := viewer.New(viewer.Options{
		Room:    code,
		Signal:  client,
		NewConn: rtc.NewFactory(api, rtc.ConfigFrom(cfg.WebRTC)),
		OnTrack: func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			ui.PrintInfof("Receiving %s (%s)", track.Kind(), track.Codec().MimeType)
			if sink != nil {
				sink.Forward(track)
				return
			}
			go drain(track)
		},
		OnStateChange: func(st viewer.State, _ error) {
			switch st {
			case viewer.StateAnswerSent:
				ui.PrintInfof("Negotiating with host...")
			case viewer.StateConnected:
				ui.PrintSuccessf("Watching room %s", code)
			}
		},
	})
	if err != nil {
		_ = client.Close()
		return err
	}
	defer v.Stop()

	err = v.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, domain.ErrHostUnreachable):
		return domain.ErrHostUnreachable
	}
	return err
}

// drain keeps reading a track nobody renders so RTCP feedback keeps flowing.
func drain(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			log.Debug().Str("module", "cli").Str("kind", track.Kind().String()).Err(err).Msg("track ended")
			return
		}
	}
}
