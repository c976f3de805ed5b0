package core

import (
	"time"

	"github.com/dkeye/Beam/internal/domain"
)

// Frame is an encoded signaling message ready for the wire.
type Frame []byte

// SessionID identifies one relay connection. It is the member id peers see.
type SessionID = domain.MemberID

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID          domain.MemberID `json:"id"`
	ConnectedAt time.Time       `json:"connectedAt"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO
	HasMember(sid SessionID) bool
	// EmptySince returns when the room last became empty, false while occupied.
	EmptySince() (time.Time, bool)

	AddMember(sid SessionID, ms MemberSession) bool
	RemoveMember(sid SessionID) bool
	Broadcast(from SessionID, data Frame) PublishResult
	SendTo(from, to SessionID, data Frame) PublishResult
}

type RoomInfo struct {
	Code        domain.RoomCode `json:"code"`
	MemberCount int             `json:"client_count"`
	CreatedAt   time.Time       `json:"created_at"`
}

type RoomFactory interface {
	GetOrCreate(code domain.RoomCode) RoomService
	Get(code domain.RoomCode) (RoomService, bool)
	List() []RoomInfo
	StopRoom(code domain.RoomCode)
}
