package host

import (
	"time"

	"github.com/dkeye/Beam/internal/core"
	"github.com/dkeye/Beam/internal/domain"
	"github.com/pion/webrtc/v4"
)

type State int

const (
	StateNew State = iota
	StateOfferSent
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOfferSent:
		return "offer-sent"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// PeerSession is the host side of one viewer negotiation. Only the host
// loop reads or writes it.
type PeerSession struct {
	ID    domain.MemberID
	State State
	Since time.Time

	// Keyframes counts keyframe requests (PLI/FIR) from the viewer.
	Keyframes int

	conn      core.MediaConnection
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

// SessionInfo is a read-only view of a PeerSession.
type SessionInfo struct {
	ID        domain.MemberID `json:"id"`
	State     State           `json:"state"`
	Since     time.Time       `json:"since"`
	Keyframes int             `json:"keyframes"`
}

func (s *PeerSession) info() SessionInfo {
	return SessionInfo{ID: s.ID, State: s.State, Since: s.Since, Keyframes: s.Keyframes}
}

// event is everything the host loop consumes besides relay messages.
type event interface{ isEvent() }

type userJoined struct{ viewer domain.MemberID }

type answerReceived struct {
	viewer domain.MemberID
	sdp    webrtc.SessionDescription
}

type candidateReceived struct {
	viewer domain.MemberID
	cand   webrtc.ICECandidateInit
}

type localCandidate struct {
	viewer domain.MemberID
	conn   core.MediaConnection
	cand   webrtc.ICECandidateInit
}

type connectionState struct {
	viewer domain.MemberID
	conn   core.MediaConnection
	state  webrtc.PeerConnectionState
}

type keyframeRequested struct {
	viewer domain.MemberID
	conn   core.MediaConnection
}

func (userJoined) isEvent()        {}
func (answerReceived) isEvent()    {}
func (candidateReceived) isEvent() {}
func (localCandidate) isEvent()    {}
func (connectionState) isEvent()   {}
func (keyframeRequested) isEvent() {}

// redialResult is the outcome of one relay reconnect.
type redialResult struct {
	signal core.SignalChannel
	err    error
}
