package app

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Beam/internal/core"
	"github.com/dkeye/Beam/internal/domain"
	"github.com/rs/zerolog/log"
)

// Orchestrator implements the relay: room membership plus fan-out of
// signaling messages to the other members of the sender's room.
type Orchestrator struct {
	Registry *Registry
	Rooms    *RoomManagerImpl
	Policy   Policy
}

func NewOrchestrator(reg *Registry, rooms *RoomManagerImpl, policy Policy) *Orchestrator {
	return &Orchestrator{Registry: reg, Rooms: rooms, Policy: policy}
}

// Join binds sid to code and tells the other members about it. Joining the
// current room again changes nothing; joining another room leaves the old one
// first.
func (o *Orchestrator) Join(sid core.SessionID, code domain.RoomCode) error {
	session, ok := o.Registry.GetSession(sid)
	if !ok {
		return fmt.Errorf("join %s: %w", sid, domain.ErrClosed)
	}
	if current, _, ok := o.Registry.RoomOf(sid); ok {
		if current == code {
			return nil
		}
		o.KickBySID(sid)
		log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("from_room", string(current)).Msg("left room")
	}

	room, added := o.attach(sid, code, session)
	o.Registry.UpdateRoom(sid, code)
	if !added {
		return nil
	}
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("room", string(code)).Msg("joined room")

	frame, err := encode(domain.UserJoined(code, sid))
	if err != nil {
		return err
	}
	o.handleDropped(room, room.Broadcast(sid, frame))
	return nil
}

// attach adds sid to the live room for code. A room swept between lookup and
// insert is detected and the insert retried on the fresh room.
func (o *Orchestrator) attach(sid core.SessionID, code domain.RoomCode, session core.MemberSession) (core.RoomService, bool) {
	for {
		room := o.Rooms.GetOrCreate(code)
		added := room.AddMember(sid, session)
		if cur, ok := o.Rooms.Get(code); ok && cur == room {
			return room, added
		}
		room.RemoveMember(sid)
	}
}

// Relay forwards an offer, answer or candidate from sid to the other members
// of msg.RoomID, or to msg.To only when set. The sender must be a member of
// that room.
func (o *Orchestrator) Relay(sid core.SessionID, msg domain.Message) (core.PublishResult, error) {
	if !msg.Type.Relayed() {
		return core.PublishResult{}, fmt.Errorf("relay %q: not a relayed message type", msg.Type)
	}
	code, _, ok := o.Registry.RoomOf(sid)
	if !ok || code != msg.RoomID {
		return core.PublishResult{}, fmt.Errorf("relay %s to %q: %w", msg.Type, msg.RoomID, domain.ErrNotInRoom)
	}
	room, ok := o.Rooms.Get(code)
	if !ok {
		return core.PublishResult{}, fmt.Errorf("relay %s to %q: %w", msg.Type, code, domain.ErrNotInRoom)
	}

	msg.Sender = sid
	frame, err := encode(msg)
	if err != nil {
		return core.PublishResult{}, err
	}

	var res core.PublishResult
	if msg.To != "" {
		res = room.SendTo(sid, msg.To, frame)
	} else {
		res = room.Broadcast(sid, frame)
	}
	o.handleDropped(room, res)
	return res, nil
}

func (o *Orchestrator) handleDropped(room core.RoomService, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		action := o.Policy.OnBackPressure(room, slow)
		log.Warn().Str("module", "app.orch").Str("sid", string(slow)).Str("room", string(room.Room().Code)).Stringer("action", action).Msg("backpressure")
		switch action {
		case KickMember:
			o.KickBySID(slow)
			o.Registry.Cancel(slow)
		case DropFrame, NoAction:
		}
	}
}

func (o *Orchestrator) KickBySID(sid core.SessionID) {
	code, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	if room, ok := o.Rooms.Get(code); ok {
		room.RemoveMember(sid)
	}
	o.Registry.RemoveRoom(sid)
}

// OnDisconnect is the implicit leave on transport close. Nobody is notified.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	o.KickBySID(sid)
	o.Registry.Unbind(sid)
}

type Stats struct {
	Rooms   int `json:"rooms"`
	Members int `json:"members"`
}

func (o *Orchestrator) Stats() Stats {
	return Stats{Rooms: len(o.Rooms.List()), Members: o.Registry.Count()}
}

func encode(msg domain.Message) (core.Frame, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return b, nil
}
