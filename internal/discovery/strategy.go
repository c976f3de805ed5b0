package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
)

type Method string

const (
	MethodTunnel      Method = "tunnel"
	MethodDynamicPort Method = "dynamic-port"
	MethodStatic      Method = "static"
	MethodRegistry    Method = "registry"
)

// Endpoint is a resolved relay base URL and how it was found.
type Endpoint struct {
	URL    string
	Method Method
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s (%s)", e.URL, e.Method)
}

// Strategy yields a candidate relay URL. An empty URL with a nil error means
// the strategy has nothing to offer right now.
type Strategy interface {
	Method() Method
	Resolve(ctx context.Context) (string, error)
}

// Tunnel returns the public tunnel URL, either given directly or read from a
// file some tunnel helper keeps up to date.
type Tunnel struct {
	URL  string
	File string
}

func (Tunnel) Method() Method { return MethodTunnel }

func (t Tunnel) Resolve(context.Context) (string, error) {
	if t.URL != "" {
		return t.URL, nil
	}
	if t.File == "" {
		return "", nil
	}
	return readTrimmed(t.File)
}

// DynamicPort points at a relay on Host whose port was chosen at startup and
// written to File.
type DynamicPort struct {
	File string
	Host string
}

func (DynamicPort) Method() Method { return MethodDynamicPort }

func (d DynamicPort) Resolve(context.Context) (string, error) {
	if d.File == "" {
		return "", nil
	}
	raw, err := readTrimmed(d.File)
	if err != nil || raw == "" {
		return "", err
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		return "", fmt.Errorf("port file %s: invalid port %q", d.File, raw)
	}
	host := d.Host
	if host == "" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)), nil
}

type Static struct {
	URL string
	M   Method
}

func (s Static) Method() Method {
	if s.M == "" {
		return MethodStatic
	}
	return s.M
}

func (s Static) Resolve(context.Context) (string, error) { return s.URL, nil }

// FromEndpoint pins discovery to an already known endpoint.
func FromEndpoint(ep Endpoint) Strategy {
	return Static{URL: ep.URL, M: ep.Method}
}

func readTrimmed(path string) (string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// ValidURL reports whether raw is an absolute http(s) or ws(s) URL with a host.
func ValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		return true
	}
	return false
}
