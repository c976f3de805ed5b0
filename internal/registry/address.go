package registry

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/dkeye/Beam/internal/discovery"
	"github.com/dkeye/Beam/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultPort = "3001"

var tunnelSuffixes = []string{".loca.lt", ".ngrok.io", ".ngrok-free.app", ".ngrok.app", ".tunnelmole.net"}

// IsTunnel reports whether ep is a public tunnel rather than a direct address.
func IsTunnel(ep discovery.Endpoint) bool {
	if ep.Method == discovery.MethodTunnel {
		return true
	}
	u, err := url.Parse(ep.URL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	for _, s := range tunnelSuffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}

// Advertise derives the address published for a host reached through ep.
// Tunnels advertise their own hostname and port (443/80 by scheme when none
// is given). Direct endpoints advertise publicIP, or the endpoint host when
// publicIP is empty, with the endpoint port or DefaultPort.
func Advertise(ep discovery.Endpoint, publicIP string) (ip, port string, err error) {
	u, err := url.Parse(ep.URL)
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("advertise %q: invalid endpoint", ep.URL)
	}
	if IsTunnel(ep) {
		port = u.Port()
		if port == "" {
			port = defaultPortFor(u.Scheme)
		}
		return u.Hostname(), port, nil
	}
	ip = publicIP
	if ip == "" {
		ip = u.Hostname()
	}
	port = u.Port()
	if port == "" {
		port = DefaultPort
	}
	return ip, port, nil
}

// RegisterHost builds and publishes the registration for code. The public
// address lookup is only done for direct endpoints.
func (c *Client) RegisterHost(ctx context.Context, code domain.RoomCode, ep discovery.Endpoint) (domain.Registration, error) {
	var publicIP string
	if !IsTunnel(ep) {
		ip, err := c.PublicIP(ctx)
		if err != nil {
			log.Warn().Str("module", "registry").Err(err).Msg("public ip lookup failed, advertising endpoint host")
		}
		publicIP = ip
	}
	ip, port, err := Advertise(ep, publicIP)
	if err != nil {
		return domain.Registration{}, fmt.Errorf("%w: %w", domain.ErrRegistrationFailed, err)
	}
	rec := domain.Registration{RoomCode: code, IP: ip, Port: port}
	return rec, c.Register(ctx, rec)
}

// EndpointFromRecord turns a registration into a relay endpoint. scheme is
// prefixed unless the address carries one; the port is appended unless it is
// the scheme default or the address already has a port.
func EndpointFromRecord(rec domain.Registration, scheme string) (discovery.Endpoint, error) {
	if scheme == "" {
		scheme = "https"
	}
	addr := strings.TrimSuffix(strings.TrimSpace(rec.IP), "/")
	if addr == "" {
		return discovery.Endpoint{}, fmt.Errorf("%w: empty address", domain.ErrLookupFailed)
	}
	if ip := net.ParseIP(addr); ip != nil && strings.Contains(addr, ":") {
		addr = "[" + addr + "]"
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = scheme + "://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		return discovery.Endpoint{}, fmt.Errorf("%w: invalid address %q", domain.ErrLookupFailed, rec.IP)
	}
	if u.Port() == "" && rec.Port != "" && rec.Port != defaultPortFor(u.Scheme) {
		u.Host = net.JoinHostPort(u.Hostname(), rec.Port)
	}
	return discovery.Endpoint{URL: u.String(), Method: discovery.MethodRegistry}, nil
}

func defaultPortFor(scheme string) string {
	if scheme == "http" || scheme == "ws" {
		return "80"
	}
	return "443"
}
