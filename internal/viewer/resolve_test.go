package viewer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/Beam/internal/config"
	"github.com/dkeye/Beam/internal/discovery"
	"github.com/dkeye/Beam/internal/domain"
	"github.com/dkeye/Beam/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLookup struct {
	rec domain.Registration
	err error
}

func (s stubLookup) Lookup(context.Context, domain.RoomCode) (domain.Registration, error) {
	return s.rec, s.err
}

func localDiscoverer() *discovery.Discoverer {
	return discovery.New(config.DiscoveryConfig{DefaultURL: "http://localhost:3001", Attempts: 1})
}

func TestLocateFallsBackWhenLookupFails(t *testing.T) {
	d := localDiscoverer()
	got := Locate(context.Background(), "ab12cd", stubLookup{err: domain.ErrRoomNotFound}, "https", d)
	assert.Same(t, d, got)

	ep, err := got.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, discovery.MethodStatic, ep.Method)
}

func TestLocateFallsBackOnEmptyRecord(t *testing.T) {
	d := localDiscoverer()
	got := Locate(context.Background(), "ab12cd", stubLookup{}, "https", d)
	assert.Same(t, d, got)
}

func TestLocatePrefersRegisteredHost(t *testing.T) {
	d := localDiscoverer()
	got := Locate(context.Background(), "ab12cd", stubLookup{rec: domain.Registration{IP: "203.0.113.7", Port: "3001"}}, "https", d)

	ep, err := got.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://203.0.113.7:3001", ep.URL)
	assert.Equal(t, discovery.MethodRegistry, ep.Method)
	assert.Len(t, got.Strategies, len(d.Strategies)+1)
}

func TestLocateRegistryTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	reg := registry.New(config.RegistryConfig{URL: srv.URL, Timeout: 50 * time.Millisecond})
	d := localDiscoverer()
	got := Locate(context.Background(), "ab12cd", reg, "https", d)
	assert.Same(t, d, got)
}

func TestConnectExhausted(t *testing.T) {
	d := discovery.New(config.DiscoveryConfig{DefaultURL: "http://127.0.0.1:1", Attempts: 1, DialTimeout: time.Second})
	_, _, err := Connect(context.Background(), "ab12cd", stubLookup{err: errors.New("down")}, "https", d)
	assert.ErrorIs(t, err, domain.ErrDiscoveryExhausted)
}
