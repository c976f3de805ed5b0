package core

import (
	"sync"
	"testing"

	"github.com/dkeye/Beam/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []Frame
	full   bool
}

func (c *fakeConn) TrySend(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return domain.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, string(f))
	}
	return out
}

func member(id SessionID) (MemberSession, *fakeConn) {
	c := &fakeConn{}
	return NewMemberSession(domain.NewMember(id), c), c
}

func TestBroadcastSkipsSender(t *testing.T) {
	room := NewRoomService(domain.NewRoom("ab12cd"))
	a, ca := member("a")
	b, cb := member("b")
	c, cc := member("c")
	require.True(t, room.AddMember("a", a))
	require.True(t, room.AddMember("b", b))
	require.True(t, room.AddMember("c", c))

	res := room.Broadcast("a", Frame("hello"))
	assert.Equal(t, 2, res.SendTo)
	assert.Empty(t, ca.got())
	assert.Equal(t, []string{"hello"}, cb.got())
	assert.Equal(t, []string{"hello"}, cc.got())
}

func TestAddMemberTwiceIsNoop(t *testing.T) {
	room := NewRoomService(domain.NewRoom("r"))
	a, _ := member("a")
	assert.True(t, room.AddMember("a", a))
	assert.False(t, room.AddMember("a", a))
	assert.Equal(t, 1, room.MemberCount())
}

func TestSendToStaysInRoom(t *testing.T) {
	room := NewRoomService(domain.NewRoom("r"))
	a, _ := member("a")
	b, cb := member("b")
	room.AddMember("a", a)
	room.AddMember("b", b)

	res := room.SendTo("a", "b", Frame("x"))
	assert.Equal(t, 1, res.SendTo)
	assert.Equal(t, []string{"x"}, cb.got())

	res = room.SendTo("a", "outsider", Frame("y"))
	assert.Zero(t, res.SendTo)
	assert.Empty(t, res.Dropped)

	res = room.SendTo("a", "a", Frame("z"))
	assert.Zero(t, res.SendTo)
}

func TestBroadcastReportsDropped(t *testing.T) {
	room := NewRoomService(domain.NewRoom("r"))
	a, _ := member("a")
	b, cb := member("b")
	cb.full = true
	room.AddMember("a", a)
	room.AddMember("b", b)

	res := room.Broadcast("a", Frame("x"))
	assert.Zero(t, res.SendTo)
	assert.Equal(t, []SessionID{"b"}, res.Dropped)
}

func TestEmptySince(t *testing.T) {
	room := NewRoomService(domain.NewRoom("r"))
	_, empty := room.EmptySince()
	assert.True(t, empty)

	a, _ := member("a")
	room.AddMember("a", a)
	_, empty = room.EmptySince()
	assert.False(t, empty)

	assert.True(t, room.RemoveMember("a"))
	assert.False(t, room.RemoveMember("a"))
	since, empty := room.EmptySince()
	assert.True(t, empty)
	assert.False(t, since.IsZero())
}

func TestBroadcastPreservesSenderOrder(t *testing.T) {
	room := NewRoomService(domain.NewRoom("r"))
	a, _ := member("a")
	b, cb := member("b")
	room.AddMember("a", a)
	room.AddMember("b", b)

	want := make([]string, 0, 50)
	for i := range 50 {
		f := string(rune('A' + i%26))
		want = append(want, f)
		room.Broadcast("a", Frame(f))
	}
	assert.Equal(t, want, cb.got())
}
