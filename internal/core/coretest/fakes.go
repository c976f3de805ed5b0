// Package coretest provides in-memory fakes of the core transport
// interfaces for session tests.
package coretest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Beam/internal/core"
	"github.com/dkeye/Beam/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Media is a scripted core.MediaConnection.
type Media struct {
	Peer core.SessionID

	mu         sync.Mutex
	tracks     []webrtc.TrackLocal
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     bool
	onICE      func(webrtc.ICECandidateInit)
	onState    func(webrtc.PeerConnectionState)
	onTrack    func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onKeyframe func()

	// Fail makes the named operation return an error.
	Fail map[string]error
}

var _ core.MediaConnection = (*Media)(nil)

var ErrScripted = errors.New("scripted failure")

func NewMedia(peer core.SessionID) *Media {
	return &Media{Peer: peer, Fail: map[string]error{}}
}

func (m *Media) failure(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Fail[op]
}

func (m *Media) AddLocalTrack(t webrtc.TrackLocal) error {
	if err := m.failure("add-track"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = append(m.tracks, t)
	return nil
}

func (m *Media) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	if err := m.failure("offer"); err != nil {
		return nil, err
	}
	sdp := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-for-%s", m.Peer)}
	m.mu.Lock()
	m.local = sdp
	m.mu.Unlock()
	return sdp, nil
}

func (m *Media) ApplyAnswer(sdp webrtc.SessionDescription) error {
	if err := m.failure("answer"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remote = &sdp
	return nil
}

func (m *Media) ApplyOfferAndCreateAnswer(sdp webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := m.failure("offer-answer"); err != nil {
		return nil, err
	}
	ans := &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-to-" + sdp.SDP}
	m.mu.Lock()
	m.remote = &sdp
	m.local = ans
	m.mu.Unlock()
	return ans, nil
}

func (m *Media) AddICECandidate(c webrtc.ICECandidateInit) error {
	if err := m.failure("candidate"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.remote == nil {
		return errors.New("remote description not set")
	}
	m.candidates = append(m.candidates, c)
	return nil
}

func (m *Media) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	m.mu.Lock()
	m.onICE = fn
	m.mu.Unlock()
}

func (m *Media) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

func (m *Media) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	m.mu.Lock()
	m.onTrack = fn
	m.mu.Unlock()
}

func (m *Media) OnKeyframeRequest(fn func()) {
	m.mu.Lock()
	m.onKeyframe = fn
	m.mu.Unlock()
}

// Close detaches callbacks, like the real transport.
func (m *Media) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.onICE, m.onState, m.onTrack, m.onKeyframe = nil, nil, nil, nil
}

// EmitState fires the state callback as the transport would.
func (m *Media) EmitState(s webrtc.PeerConnectionState) {
	m.mu.Lock()
	fn := m.onState
	m.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// EmitCandidate fires the local candidate callback.
func (m *Media) EmitCandidate(c webrtc.ICECandidateInit) {
	m.mu.Lock()
	fn := m.onICE
	m.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// EmitKeyframeRequest fires as if the remote peer sent a PLI.
func (m *Media) EmitKeyframeRequest() {
	m.mu.Lock()
	fn := m.onKeyframe
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (m *Media) Tracks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracks)
}

func (m *Media) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Media) Remote() *webrtc.SessionDescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remote
}

func (m *Media) Candidates() []webrtc.ICECandidateInit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), m.candidates...)
}

// Factory hands out Media fakes and remembers them by peer.
type Factory struct {
	mu    sync.Mutex
	conns map[core.SessionID][]*Media
	// Prepare, when set, configures each new fake before it is returned.
	Prepare func(*Media)
	Err     error
}

func NewFactory() *Factory {
	return &Factory{conns: map[core.SessionID][]*Media{}}
}

func (f *Factory) New(peer core.SessionID) (core.MediaConnection, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	m := NewMedia(peer)
	if f.Prepare != nil {
		f.Prepare(m)
	}
	f.mu.Lock()
	f.conns[peer] = append(f.conns[peer], m)
	f.mu.Unlock()
	return m, nil
}

// Last returns the most recent fake created for peer.
func (f *Factory) Last(peer core.SessionID) *Media {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.conns[peer]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// Count returns how many transports were created for peer.
func (f *Factory) Count(peer core.SessionID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns[peer])
}

// Signal is an in-memory core.SignalChannel. Deliver feeds Incoming,
// Sent records what was sent.
type Signal struct {
	in chan domain.Message

	mu       sync.Mutex
	sent     []domain.Message
	closed   bool
	inClosed bool
	SendErr  error
}

var _ core.SignalChannel = (*Signal)(nil)

func NewSignal() *Signal {
	return &Signal{in: make(chan domain.Message, 64)}
}

func (s *Signal) Send(msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *Signal) Incoming() <-chan domain.Message { return s.in }

func (s *Signal) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Deliver queues msg as if it came from the relay.
func (s *Signal) Deliver(msg domain.Message) { s.in <- msg }

// Drop closes Incoming, as a lost relay connection does.
func (s *Signal) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inClosed {
		s.inClosed = true
		close(s.in)
	}
}

func (s *Signal) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Sent returns the messages of type t sent so far.
func (s *Signal) Sent(t domain.MessageType) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}
