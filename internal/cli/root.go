package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkeye/Beam/internal/config"
	"github.com/dkeye/Beam/internal/logging"
	"github.com/dkeye/Beam/internal/ui"
	"github.com/dkeye/Beam/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// env carries the configuration shared by every subcommand.
type env struct {
	v   *viper.Viper
	cfg *config.Config
}

// bind maps flag names to config keys so flags override file and env values.
func (e *env) bind(fs *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		if err := e.v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func NewRootCmd() *cobra.Command {
	e := &env{v: config.New()}

	root := &cobra.Command{
		Use:   "beam",
		Short: "Broadcast your screen and audio to viewers over WebRTC",
		Long: `Beam streams a live capture from one host to any number of viewers.
The host and its viewers meet through a small relay that only forwards
signaling messages, after that media flows peer to peer.`,
		Version:       version.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFrom(e.v)
			if err != nil {
				return err
			}
			e.cfg = cfg
			logging.Init(cfg.Log.Level, cfg.Log.JSON)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.String("server", "", "relay URL, tried before any other discovery method")
	pf.String("registry", "", "room registry URL")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.Bool("json-logs", false, "log JSON lines instead of console output")
	pf.Bool("relay-only", false, "force media through the configured TURN servers")
	e.bind(pf, map[string]string{
		"server":     "discovery.tunnel_url",
		"registry":   "registry.url",
		"log-level":  "log.level",
		"json-logs":  "log.json",
		"relay-only": "webrtc.force_relay",
	})

	root.AddCommand(newHostCmd(e), newJoinCmd(e), newConfigCmd(e))
	return root
}

func newConfigCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(e.cfg)
		},
	}
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		cancel()
		os.Exit(1)
	}
}
