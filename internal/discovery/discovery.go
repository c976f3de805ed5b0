package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/Beam/internal/config"
	"github.com/dkeye/Beam/internal/domain"
	"github.com/dkeye/Beam/internal/signalclient"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAttempts    = 3
	DefaultBackoff     = 2 * time.Second
	DefaultDialTimeout = 10 * time.Second
)

var ErrNoEndpoint = errors.New("no relay endpoint available")

// ProbeFunc checks that an endpoint is alive before it is dialed.
type ProbeFunc func(ctx context.Context, ep Endpoint) error

// Discoverer resolves the relay endpoint from an ordered list of strategies
// and connects with a bounded number of attempts.
type Discoverer struct {
	Strategies   []Strategy
	Attempts     int
	Backoff      time.Duration
	DialTimeout  time.Duration
	Probe        ProbeFunc
	ProbeTimeout time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// New builds the default chain: tunnel, dynamic port, static default.
func New(cfg config.DiscoveryConfig) *Discoverer {
	d := &Discoverer{
		Strategies: []Strategy{
			Tunnel{URL: cfg.TunnelURL, File: cfg.TunnelFile},
			DynamicPort{File: cfg.PortFile, Host: cfg.PortHost},
			Static{URL: cfg.DefaultURL},
		},
		Attempts:     cfg.Attempts,
		Backoff:      cfg.Backoff,
		DialTimeout:  cfg.DialTimeout,
		ProbeTimeout: cfg.ProbeTimeout,
	}
	if cfg.Probe {
		d.Probe = HealthProbe(http.DefaultClient)
	}
	return d
}

// WithStrategies returns a copy of d that resolves from strategies instead.
func (d *Discoverer) WithStrategies(strategies ...Strategy) *Discoverer {
	cp := *d
	cp.Strategies = strategies
	return &cp
}

// Resolve evaluates the strategies in order and returns the first usable
// endpoint. Strategies are re-read on every call.
func (d *Discoverer) Resolve(ctx context.Context) (Endpoint, error) {
	var errs []error
	for _, s := range d.Strategies {
		raw, err := s.Resolve(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Method(), err))
			continue
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !ValidURL(raw) {
			errs = append(errs, fmt.Errorf("%s: invalid url %q", s.Method(), raw))
			continue
		}
		ep := Endpoint{URL: strings.TrimSuffix(raw, "/"), Method: s.Method()}
		if d.Probe != nil {
			if err := d.probe(ctx, ep); err != nil {
				log.Debug().Str("module", "discovery").Str("url", ep.URL).Err(err).Msg("probe failed")
				errs = append(errs, fmt.Errorf("%s: %w", s.Method(), err))
				continue
			}
		}
		return ep, nil
	}
	errs = append([]error{ErrNoEndpoint}, errs...)
	return Endpoint{}, errors.Join(errs...)
}

func (d *Discoverer) probe(ctx context.Context, ep Endpoint) error {
	timeout := d.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Probe(ctx, ep)
}

func (d *Discoverer) attempts() int {
	if d.Attempts <= 0 {
		return DefaultAttempts
	}
	return d.Attempts
}

func (d *Discoverer) dialTimeout() time.Duration {
	if d.DialTimeout <= 0 {
		return DefaultDialTimeout
	}
	return d.DialTimeout
}

func (d *Discoverer) wait(ctx context.Context, dur time.Duration) error {
	if d.sleep != nil {
		return d.sleep(ctx, dur)
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Connect resolves an endpoint and dials it, retrying with a fresh resolution
// after every failure. The dialer must not leave anything open when it fails.
func Connect[C any](ctx context.Context, d *Discoverer, dial func(context.Context, Endpoint) (C, error)) (C, Endpoint, error) {
	var (
		zero    C
		last    Endpoint
		lastErr error
	)
	attempts := d.attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		ep, err := d.Resolve(ctx)
		if err == nil {
			last = ep
			dctx, cancel := context.WithTimeout(ctx, d.dialTimeout())
			var c C
			c, err = dial(dctx, ep)
			cancel()
			if err == nil {
				log.Info().Str("module", "discovery").Str("url", ep.URL).Str("method", string(ep.Method)).Int("attempt", attempt).Msg("connected")
				return c, ep, nil
			}
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, last, ctx.Err()
		}
		log.Warn().Str("module", "discovery").Err(err).Int("attempt", attempt).Int("of", attempts).Msg("connection attempt failed")
		if attempt < attempts {
			if err := d.wait(ctx, d.Backoff); err != nil {
				return zero, last, err
			}
		}
	}
	target := last.URL
	if target == "" {
		target = "relay"
	}
	return zero, last, fmt.Errorf("%w: failed to connect to %s after %d attempts. Last error: %w", domain.ErrDiscoveryExhausted, target, attempts, lastErr)
}

// ConnectRelay runs Connect with the relay signaling client as the dialer.
func ConnectRelay(ctx context.Context, d *Discoverer) (*signalclient.Client, Endpoint, error) {
	return Connect(ctx, d, func(ctx context.Context, ep Endpoint) (*signalclient.Client, error) {
		return signalclient.Dial(ctx, ep.URL)
	})
}

// HealthProbe checks GET <base>/health for a 200.
func HealthProbe(client *http.Client) ProbeFunc {
	return func(ctx context.Context, ep Endpoint) error {
		base := strings.Replace(strings.Replace(ep.URL, "wss://", "https://", 1), "ws://", "http://", 1)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("health: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("health: status %d", resp.StatusCode)
		}
		return nil
	}
}
