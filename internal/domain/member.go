package domain

import "time"

// MemberID is the relay-assigned identifier of one signaling connection.
type MemberID string

func (id MemberID) String() string { return string(id) }

// Member represents one connection's participation in a room.
// No transport or lifecycle logic here.
type Member struct {
	ID          MemberID
	ConnectedAt time.Time
}

func NewMember(id MemberID) *Member {
	return &Member{ID: id, ConnectedAt: time.Now()}
}
