package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Beam/internal/adapters/rtc"
	"github.com/dkeye/Beam/internal/core"
	"github.com/dkeye/Beam/internal/discovery"
	"github.com/dkeye/Beam/internal/domain"
	"github.com/dkeye/Beam/internal/host"
	"github.com/dkeye/Beam/internal/media"
	"github.com/dkeye/Beam/internal/registry"
	"github.com/dkeye/Beam/internal/ui"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newHostCmd(e *env) *cobra.Command {
	var room string
	cmd := &cobra.Command{
		Use:     "host",
		Aliases: []string{"h"},
		Short:   "Start broadcasting to a new room",
		Long: `Start broadcasting. Capture is read as RTP from the configured UDP
ports, for example:

  ffmpeg -f x11grab -i :0 -c:v libvpx -f rtp rtp://127.0.0.1:5004
  beam host --video-rtp 127.0.0.1:5004 --audio=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := roomFor(room)
			if err != nil {
				return err
			}
			return runHost(cmd.Context(), e, code)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&room, "room", "", "room code to use instead of a random one")
	fs.Bool("video", true, "publish a video track")
	fs.Bool("audio", true, "publish an audio track")
	fs.String("video-rtp", "", "UDP address receiving VP8 RTP")
	fs.String("audio-rtp", "", "UDP address receiving Opus RTP")
	e.bind(fs, map[string]string{
		"video":     "media.video",
		"audio":     "media.audio",
		"video-rtp": "media.video_rtp",
		"audio-rtp": "media.audio_rtp",
	})
	return cmd
}

func roomFor(flag string) (domain.RoomCode, error) {
	if flag != "" {
		return domain.ParseRoomCode(flag)
	}
	return domain.NewRoomCode()
}

func runHost(ctx context.Context, e *env, code domain.RoomCode) error {
	cfg := e.cfg
	stream, err := media.NewRTPStream(cfg.Media, "beam-"+string(code))
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}

	stop := ui.RunConnectionSpinner("Connecting to relay...")
	disc := discovery.New(cfg.Discovery)
	client, ep, err := discovery.ConnectRelay(ctx, disc)
	stop()
	if err != nil {
		stream.Stop()
		return err
	}

	api, err := rtc.NewAPI()
	if err != nil {
		stream.Stop()
		_ = client.Close()
		return err
	}

	var h *host.Host
	h, err = host.New(host.Options{
		Room:    code,
		Signal:  client,
		Stream:  stream,
		NewConn: rtc.NewFactory(api, rtc.ConfigFrom(cfg.WebRTC)),
		Redial: func(ctx context.Context) (core.SignalChannel, error) {
			ui.PrintWarningf("Relay connection lost, connected viewers keep streaming. Reconnecting...")
			c, ep, err := discovery.ConnectRelay(ctx, disc)
			if err != nil {
				ui.PrintWarningf("Relay unreachable, no new viewers can join: %v", err)
				return nil, err
			}
			ui.PrintInfof("Reconnected to relay at %s", ep.URL)
			return c, nil
		},
		OnStateChange: func(v domain.MemberID, st host.State, err error) {
			switch st {
			case host.StateConnected:
				ui.PrintSuccessf("%s Viewer %s connected", ui.IconViewer, v)
			case host.StateFailed:
				ui.PrintWarningf("Viewer %s failed: %v", v, err)
			case host.StateClosed:
				ui.PrintInfof("Viewer %s left", v)
			default:
				return
			}
			fmt.Fprintln(ui.Out, ui.ViewerTable(h.Snapshot(), time.Now()))
		},
	})
	if err != nil {
		stream.Stop()
		_ = client.Close()
		return err
	}
	defer h.Stop()

	fmt.Fprintln(ui.Out, ui.RoomBox(string(code), ep.URL))

	reg := registry.New(cfg.Registry)
	if reg.Enabled() {
		go func() {
			rec, err := reg.RegisterHost(ctx, code, ep)
			if err != nil {
				log.Warn().Str("module", "cli").Err(err).Msg("room registration failed, viewers must use local discovery")
				ui.PrintWarningf("Room registration failed: %v", err)
				return
			}
			ui.PrintInfof("Registered %s at %s:%s", code, rec.IP, rec.Port)
		}()
	}

	err = h.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
