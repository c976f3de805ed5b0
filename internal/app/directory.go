package app

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Beam/internal/domain"
	"github.com/rs/zerolog/log"
)

// Directory is the in-memory room registry served next to the relay.
// Records expire after ttl; a host re-registering refreshes its record.
type Directory struct {
	mu      sync.RWMutex
	records map[domain.RoomCode]domain.Registration
	ttl     time.Duration
	now     func() time.Time
}

func NewDirectory(ttl time.Duration) *Directory {
	return &Directory{
		records: make(map[domain.RoomCode]domain.Registration),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (d *Directory) Register(rec domain.Registration) error {
	if err := ValidateRegistration(rec); err != nil {
		return err
	}
	rec.UpdatedAt = d.now()
	d.mu.Lock()
	d.records[rec.RoomCode] = rec
	d.mu.Unlock()
	log.Info().Str("module", "app.directory").Str("room", string(rec.RoomCode)).Str("ip", rec.IP).Str("port", rec.Port).Msg("room registered")
	return nil
}

func (d *Directory) Lookup(code domain.RoomCode) (domain.Registration, error) {
	d.mu.RLock()
	rec, ok := d.records[code]
	d.mu.RUnlock()
	if !ok || d.expired(rec) {
		return domain.Registration{}, fmt.Errorf("lookup %q: %w", code, domain.ErrRoomNotFound)
	}
	return rec, nil
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

func (d *Directory) expired(rec domain.Registration) bool {
	return d.ttl > 0 && d.now().Sub(rec.UpdatedAt) >= d.ttl
}

func (d *Directory) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for code, rec := range d.records {
		if d.expired(rec) {
			delete(d.records, code)
			removed++
		}
	}
	return removed
}

func (d *Directory) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.Sweep(); n > 0 {
				log.Info().Str("module", "app.directory").Int("removed", n).Msg("expired registrations removed")
			}
		}
	}
}

// ValidateRegistration checks the fields a viewer needs to build an address.
// ip may be a hostname, optionally with a scheme, for tunnel registrations.
func ValidateRegistration(rec domain.Registration) error {
	if !rec.RoomCode.Valid() {
		return fmt.Errorf("invalid room code %q", rec.RoomCode)
	}
	if rec.IP == "" || len(rec.IP) > 253 {
		return fmt.Errorf("invalid ip %q", rec.IP)
	}
	host := strings.TrimPrefix(strings.TrimPrefix(rec.IP, "https://"), "http://")
	if net.ParseIP(host) == nil && !validHostname(host) {
		return fmt.Errorf("invalid ip %q", rec.IP)
	}
	if rec.Port != "" {
		p, err := strconv.Atoi(rec.Port)
		if err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("invalid port %q", rec.Port)
		}
	}
	return nil
}

func validHostname(h string) bool {
	for _, r := range h {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}
