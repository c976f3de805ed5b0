package http

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/rs/zerolog/log"
)

// Listen binds the first free TCP port in [port, port+scan]. Only
// address-in-use errors move the scan forward.
func Listen(host string, port, scan int) (net.Listener, int, error) {
	var lastErr error
	for p := port; p <= port+scan && p <= 65535; p++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err == nil {
			if p != port {
				log.Warn().Str("module", "adapters.http").Int("wanted", port).Int("port", p).Msg("port in use, using next free port")
			}
			return ln, p, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, 0, fmt.Errorf("listen on %d: %w", p, err)
		}
		lastErr = err
	}
	return nil, 0, fmt.Errorf("no free port in %d-%d: %w", port, port+scan, lastErr)
}

// WritePortFile records the bound port for the dynamic-port discovery
// strategy of local clients.
func WritePortFile(path string, port int) error {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("port file dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(port)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write port file: %w", err)
	}
	return os.Rename(tmp, path)
}
