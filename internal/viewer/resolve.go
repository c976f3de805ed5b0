package viewer

import (
	"context"
	"slices"

	"github.com/dkeye/Beam/internal/discovery"
	"github.com/dkeye/Beam/internal/domain"
	"github.com/dkeye/Beam/internal/registry"
	"github.com/dkeye/Beam/internal/signalclient"
	"github.com/rs/zerolog/log"
)

// Lookuper finds a host's registration by room code.
type Lookuper interface {
	Lookup(ctx context.Context, code domain.RoomCode) (domain.Registration, error)
}

// Locate puts the host address registered for code in front of the
// discovery chain. When the lookup fails d is returned unchanged, so the
// viewer falls back to local discovery.
func Locate(ctx context.Context, code domain.RoomCode, reg Lookuper, scheme string, d *discovery.Discoverer) *discovery.Discoverer {
	if reg == nil {
		return d
	}
	logger := log.With().Str("module", "viewer").Str("room", string(code)).Logger()
	rec, err := reg.Lookup(ctx, code)
	if err != nil {
		logger.Warn().Err(err).Msg("registry lookup failed, falling back to discovery")
		return d
	}
	ep, err := registry.EndpointFromRecord(rec, scheme)
	if err != nil {
		logger.Warn().Err(err).Msg("registry record unusable, falling back to discovery")
		return d
	}
	logger.Info().Str("url", ep.URL).Msg("host found in registry")
	return d.WithStrategies(slices.Concat([]discovery.Strategy{discovery.FromEndpoint(ep)}, d.Strategies)...)
}

// Connect locates the relay for code and dials it with the discovery retry
// budget.
func Connect(ctx context.Context, code domain.RoomCode, reg Lookuper, scheme string, d *discovery.Discoverer) (*signalclient.Client, discovery.Endpoint, error) {
	return discovery.ConnectRelay(ctx, Locate(ctx, code, reg, scheme, d))
}
