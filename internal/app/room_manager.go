package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Beam/internal/core"
	"github.com/dkeye/Beam/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomManagerImpl holds the room table. Its lock guards the map only and is
// never held while a room delivers frames.
type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomCode]core.RoomService
}

func NewRoomManager() *RoomManagerImpl {
	return &RoomManagerImpl{rooms: make(map[domain.RoomCode]core.RoomService)}
}

func (f *RoomManagerImpl) GetOrCreate(code domain.RoomCode) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[code]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[code]; ok {
		return room
	}
	room = core.NewRoomService(domain.NewRoom(code))
	f.rooms[code] = room
	log.Info().Str("module", "app.rooms").Str("room", string(code)).Msg("room created")
	return room
}

func (f *RoomManagerImpl) Get(code domain.RoomCode) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[code]
	return room, ok
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for code, r := range f.rooms {
		out = append(out, core.RoomInfo{Code: code, MemberCount: r.MemberCount(), CreatedAt: r.Room().CreatedAt})
	}
	return out
}

func (f *RoomManagerImpl) StopRoom(code domain.RoomCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, code)
}

// Sweep removes rooms that have been empty for at least ttl and returns how
// many were removed.
func (f *RoomManagerImpl) Sweep(now time.Time, ttl time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := 0
	for code, r := range f.rooms {
		since, empty := r.EmptySince()
		if !empty || now.Sub(since) < ttl {
			continue
		}
		delete(f.rooms, code)
		removed++
		log.Debug().Str("module", "app.rooms").Str("room", string(code)).Msg("idle room removed")
	}
	return removed
}

// RunJanitor sweeps idle rooms every interval until ctx is done.
func (f *RoomManagerImpl) RunJanitor(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := f.Sweep(now, ttl); n > 0 {
				log.Info().Str("module", "app.rooms").Int("removed", n).Msg("janitor sweep")
			}
		}
	}
}
