package core

import (
	"sync"
	"time"

	"github.com/dkeye/Beam/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
//
// Fan-out enqueues into each member's send queue while holding the read
// lock, so frames from one sender keep their order for every recipient.
type roomImpl struct {
	room       *domain.Room
	mu         sync.RWMutex
	bySID      map[SessionID]MemberSession
	emptySince time.Time
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:       room,
		bySID:      make(map[SessionID]MemberSession),
		emptySince: room.CreatedAt,
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) HasMember(sid SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bySID[sid]
	return ok
}

func (r *roomImpl) EmptySince() (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.bySID) > 0 {
		return time.Time{}, false
	}
	return r.emptySince, true
}

// AddMember reports false when sid was already a member.
func (r *roomImpl) AddMember(sid SessionID, ms MemberSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[sid]; ok {
		return false
	}
	r.bySID[sid] = ms
	log.Info().Str("module", "core.room").Str("room", string(r.room.Code)).Str("sid", string(sid)).Int("members", len(r.bySID)).Msg("member added")
	return true
}

func (r *roomImpl) RemoveMember(sid SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[sid]; !ok {
		return false
	}
	delete(r.bySID, sid)
	if len(r.bySID) == 0 {
		r.emptySince = time.Now()
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.Code)).Str("sid", string(sid)).Int("members", len(r.bySID)).Msg("member removed")
	return true
}

func (r *roomImpl) Broadcast(from SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range r.bySID {
		if sid == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// SendTo delivers to a single member of this room. Targets outside the room
// and the sender itself are ignored.
func (r *roomImpl) SendTo(from, to SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	m, ok := r.bySID[to]
	if !ok || to == from {
		log.Debug().Str("module", "core.room").Str("from", string(from)).Str("to", string(to)).Msg("target not in room")
		return res
	}
	if err := m.Signal().TrySend(data); err != nil {
		res.Dropped = append(res.Dropped, to)
		return res
	}
	res.SendTo = 1
	return res
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.bySID))
	for _, ms := range r.bySID {
		m := ms.Meta()
		out = append(out, MemberDTO{ID: m.ID, ConnectedAt: m.ConnectedAt})
	}
	return out
}
