package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "BEAM"

type Config struct {
	Mode      string          `mapstructure:"mode"`
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	WebRTC    WebRTCConfig    `mapstructure:"webrtc"`
	Media     MediaConfig     `mapstructure:"media"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	PortScan       int           `mapstructure:"port_scan"`
	PortFile       string        `mapstructure:"port_file"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	RoomIdleTTL    time.Duration `mapstructure:"room_idle_ttl"`
	JoinRateLimit  int           `mapstructure:"join_rate_limit"`
	JoinRateWindow time.Duration `mapstructure:"join_rate_window"`
}

// DiscoveryConfig lists the candidate relay locations in priority order:
// tunnel, dynamic port, static default.
type DiscoveryConfig struct {
	TunnelURL    string        `mapstructure:"tunnel_url"`
	TunnelFile   string        `mapstructure:"tunnel_file"`
	PortFile     string        `mapstructure:"port_file"`
	PortHost     string        `mapstructure:"port_host"`
	DefaultURL   string        `mapstructure:"default_url"`
	Attempts     int           `mapstructure:"attempts"`
	Backoff      time.Duration `mapstructure:"backoff"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	Probe        bool          `mapstructure:"probe"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

type RegistryConfig struct {
	URL         string        `mapstructure:"url"`
	Scheme      string        `mapstructure:"scheme"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PublicIPURL string        `mapstructure:"public_ip_url"`
	Serve       bool          `mapstructure:"serve"`
	RecordTTL   time.Duration `mapstructure:"record_ttl"`
}

type WebRTCConfig struct {
	STUNServers    []string `mapstructure:"stun_servers"`
	TURNServers    []string `mapstructure:"turn_servers"`
	TURNUsername   string   `mapstructure:"turn_username"`
	TURNCredential string   `mapstructure:"turn_credential"`
	ForceRelay     bool     `mapstructure:"force_relay"`
}

type MediaConfig struct {
	Video    bool   `mapstructure:"video"`
	Audio    bool   `mapstructure:"audio"`
	VideoRTP string `mapstructure:"video_rtp"`
	AudioRTP string `mapstructure:"audio_rtp"`
	SinkAddr string `mapstructure:"sink_addr"`
}

// New returns a viper instance with every default set and environment
// overrides enabled (BEAM_SERVER_PORT, BEAM_REGISTRY_URL, ...).
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("server.port", 3001)
	v.SetDefault("server.port_scan", 20)
	v.SetDefault("server.port_file", "")
	v.SetDefault("server.read_limit", 64*1024)
	v.SetDefault("server.ping_period", "54s")
	v.SetDefault("server.pong_wait", "60s")
	v.SetDefault("server.write_wait", "10s")
	v.SetDefault("server.send_buffer", 64)
	v.SetDefault("server.room_idle_ttl", "30s")
	v.SetDefault("server.join_rate_limit", 10)
	v.SetDefault("server.join_rate_window", "10s")

	v.SetDefault("discovery.tunnel_url", "")
	v.SetDefault("discovery.tunnel_file", "")
	v.SetDefault("discovery.port_file", "")
	v.SetDefault("discovery.port_host", "localhost")
	v.SetDefault("discovery.default_url", "http://localhost:3001")
	v.SetDefault("discovery.attempts", 3)
	v.SetDefault("discovery.backoff", "2s")
	v.SetDefault("discovery.dial_timeout", "10s")
	v.SetDefault("discovery.probe", false)
	v.SetDefault("discovery.probe_timeout", "5s")

	v.SetDefault("registry.url", "")
	v.SetDefault("registry.scheme", "https")
	v.SetDefault("registry.timeout", "5s")
	v.SetDefault("registry.public_ip_url", "https://api.ipify.org?format=json")
	v.SetDefault("registry.serve", false)
	v.SetDefault("registry.record_ttl", "6h")

	v.SetDefault("webrtc.stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("webrtc.turn_servers", []string{})
	v.SetDefault("webrtc.turn_username", "")
	v.SetDefault("webrtc.turn_credential", "")
	v.SetDefault("webrtc.force_relay", false)

	v.SetDefault("media.video", true)
	v.SetDefault("media.audio", true)
	v.SetDefault("media.video_rtp", "")
	v.SetDefault("media.audio_rtp", "")
	v.SetDefault("media.sink_addr", "")
	return v
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of the defaults.
func Load() (*Config, error) {
	return LoadFrom(New())
}

// LoadFrom reads the config file into v and decodes the result. Callers bind
// command line flags to v before calling it.
func LoadFrom(v *viper.Viper) (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Debug().Str("module", "config").Str("file", fileName).Err(err).Msg("config file not loaded, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Debug().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Server.Port).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.PortScan < 0 {
		errs = append(errs, fmt.Errorf("server.port_scan must not be negative: %d", c.Server.PortScan))
	}
	if c.Server.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("server.send_buffer must be positive: %d", c.Server.SendBuffer))
	}
	if c.Server.PingPeriod >= c.Server.PongWait {
		errs = append(errs, fmt.Errorf("server.ping_period (%s) must be shorter than server.pong_wait (%s)", c.Server.PingPeriod, c.Server.PongWait))
	}
	if c.Discovery.Attempts <= 0 {
		errs = append(errs, fmt.Errorf("discovery.attempts must be positive: %d", c.Discovery.Attempts))
	}
	if c.Registry.Scheme != "http" && c.Registry.Scheme != "https" {
		errs = append(errs, fmt.Errorf("registry.scheme must be http or https: %q", c.Registry.Scheme))
	}
	if c.WebRTC.ForceRelay && len(c.WebRTC.TURNServers) == 0 {
		errs = append(errs, errors.New("webrtc.force_relay needs at least one TURN server"))
	}
	return errors.Join(errs...)
}
