package domain

import "github.com/pion/webrtc/v4"

type MessageType string

const (
	TypeWelcome      MessageType = "welcome"
	TypeJoinRoom     MessageType = "join-room"
	TypeUserJoined   MessageType = "user-joined"
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"
	TypeError        MessageType = "error"
	TypePing         MessageType = "ping"
	TypePong         MessageType = "pong"
)

// Relayed reports whether the relay fans the message out to room members.
func (t MessageType) Relayed() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

// Message is the single envelope used on the signaling channel.
// Sender is always overwritten by the relay on delivery.
type Message struct {
	Type      MessageType                `json:"type"`
	RoomID    RoomCode                   `json:"roomId,omitempty"`
	Sender    MemberID                   `json:"sender,omitempty"`
	To        MemberID                   `json:"to,omitempty"`
	MemberID  MemberID                   `json:"memberId,omitempty"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

func JoinRoom(room RoomCode) Message {
	return Message{Type: TypeJoinRoom, RoomID: room}
}

func UserJoined(room RoomCode, id MemberID) Message {
	return Message{Type: TypeUserJoined, RoomID: room, MemberID: id}
}

func Offer(room RoomCode, to MemberID, sdp webrtc.SessionDescription) Message {
	return Message{Type: TypeOffer, RoomID: room, To: to, Offer: &sdp}
}

func Answer(room RoomCode, to MemberID, sdp webrtc.SessionDescription) Message {
	return Message{Type: TypeAnswer, RoomID: room, To: to, Answer: &sdp}
}

func Candidate(room RoomCode, to MemberID, c webrtc.ICECandidateInit) Message {
	return Message{Type: TypeICECandidate, RoomID: room, To: to, Candidate: &c}
}

func ErrorMessage(reason string) Message {
	return Message{Type: TypeError, Error: reason}
}
