package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/Beam/internal/config"
	"github.com/dkeye/Beam/internal/domain"
	"github.com/rs/zerolog/log"
)

// Client talks to the room registry: POST /register and GET /lookup.
type Client struct {
	BaseURL     string
	PublicIPURL string
	HTTP        *http.Client
}

func New(cfg config.RegistryConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL:     strings.TrimSuffix(cfg.URL, "/"),
		PublicIPURL: cfg.PublicIPURL,
		HTTP:        &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a registry is configured at all.
func (c *Client) Enabled() bool {
	return c != nil && c.BaseURL != ""
}

// Register publishes rec. Failures wrap domain.ErrRegistrationFailed.
func (c *Client) Register(ctx context.Context, rec domain.Registration) error {
	if !c.Enabled() {
		return fmt.Errorf("%w: no registry configured", domain.ErrRegistrationFailed)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRegistrationFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/register", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRegistrationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRegistrationFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: status %d: %s", domain.ErrRegistrationFailed, resp.StatusCode, readSnippet(resp.Body))
	}
	log.Info().Str("module", "registry").Str("room", string(rec.RoomCode)).Str("ip", rec.IP).Str("port", rec.Port).Msg("room registered")
	return nil
}

// Lookup fetches the registration for code. A 404 wraps
// domain.ErrRoomNotFound, everything else domain.ErrLookupFailed.
func (c *Client) Lookup(ctx context.Context, code domain.RoomCode) (domain.Registration, error) {
	if !c.Enabled() {
		return domain.Registration{}, fmt.Errorf("%w: no registry configured", domain.ErrLookupFailed)
	}
	u := c.BaseURL + "/lookup?" + url.Values{"roomCode": {string(code)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Registration{}, fmt.Errorf("%w: %w", domain.ErrLookupFailed, err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return domain.Registration{}, fmt.Errorf("%w: %w", domain.ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.Registration{}, fmt.Errorf("%w: %w: %s", domain.ErrLookupFailed, domain.ErrRoomNotFound, code)
	case resp.StatusCode/100 != 2:
		return domain.Registration{}, fmt.Errorf("%w: status %d: %s", domain.ErrLookupFailed, resp.StatusCode, readSnippet(resp.Body))
	}

	var rec domain.Registration
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return domain.Registration{}, fmt.Errorf("%w: decode: %w", domain.ErrLookupFailed, err)
	}
	if rec.IP == "" {
		return domain.Registration{}, fmt.Errorf("%w: empty address for %s", domain.ErrLookupFailed, code)
	}
	if rec.RoomCode == "" {
		rec.RoomCode = code
	}
	return rec, nil
}

// PublicIP asks an external echo service for this machine's public address.
// Both {"ip": "..."} JSON and plain text bodies are accepted.
func (c *Client) PublicIP(ctx context.Context) (string, error) {
	if c.PublicIPURL == "" {
		return "", fmt.Errorf("public ip: no service configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PublicIPURL, nil)
	if err != nil {
		return "", fmt.Errorf("public ip: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("public ip: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("public ip: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", fmt.Errorf("public ip: %w", err)
	}
	var body struct {
		IP string `json:"ip"`
	}
	ip := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.IP != "" {
		ip = body.IP
	}
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("public ip: unexpected answer %q", ip)
	}
	return ip, nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}
