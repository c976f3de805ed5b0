package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Beam/internal/core"
	"github.com/dkeye/Beam/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Room    domain.RoomCode
	Signal  core.SignalChannel
	NewConn core.MediaFactory
	// OnTrack receives every remote track of the current session.
	OnTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	// OnStateChange is called from the viewer loop. It must not call Stop.
	OnStateChange func(State, error)
}

// Session is the single transport to the host.
type Session struct {
	Host domain.MemberID
	conn core.MediaConnection
}

type offerReceived struct {
	from domain.MemberID
	sdp  webrtc.SessionDescription
}

type localCandidate struct {
	conn core.MediaConnection
	cand webrtc.ICECandidateInit
}

type connectionState struct {
	conn  core.MediaConnection
	state webrtc.PeerConnectionState
}

// Viewer joins a room and answers the host's offer.
type Viewer struct {
	room    domain.RoomCode
	signal  core.SignalChannel
	newConn core.MediaFactory
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onState func(State, error)

	session *Session
	pending map[domain.MemberID][]webrtc.ICECandidateInit
	events  chan any
	// result ends Run once the session reaches a terminal state.
	result error
	done   bool

	mu       sync.RWMutex
	state    State
	started  bool
	quit     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once

	logger zerolog.Logger
}

func New(opts Options) (*Viewer, error) {
	if !opts.Room.Valid() || opts.Signal == nil || opts.NewConn == nil {
		return nil, errors.New("viewer: room, signal and media factory are required")
	}
	return &Viewer{
		room:    opts.Room,
		signal:  opts.Signal,
		newConn: opts.NewConn,
		onTrack: opts.OnTrack,
		onState: opts.OnStateChange,
		pending: make(map[domain.MemberID][]webrtc.ICECandidateInit),
		events:  make(chan any, 64),
		quit:    make(chan struct{}),
		exited:  make(chan struct{}),
		logger:  log.With().Str("module", "viewer").Str("room", string(opts.Room)).Logger(),
	}, nil
}

func (v *Viewer) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Run sends join-room and negotiates with whichever host offers. It returns
// nil after Stop, ctx.Err() on cancellation and a wrapped
// domain.ErrHostUnreachable or domain.ErrNegotiationFailed when the session
// fails. Losing the relay ends Run with domain.ErrConnectivityLost only while
// still negotiating; a connected session keeps playing until it ends.
func (v *Viewer) Run(ctx context.Context) error {
	v.mu.Lock()
	select {
	case <-v.quit:
		v.mu.Unlock()
		return domain.ErrClosed
	default:
	}
	if v.started {
		v.mu.Unlock()
		return errors.New("viewer: already running")
	}
	v.started = true
	v.mu.Unlock()

	defer close(v.exited)
	defer v.shutdown()

	if err := v.signal.Send(domain.JoinRoom(v.room)); err != nil {
		return fmt.Errorf("join room %s: %w", v.room, err)
	}
	v.setState(StateJoinSent, nil)
	v.logger.Info().Msg("join sent, waiting for host offer")

	incoming := v.signal.Incoming()
	for !v.done {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-v.quit:
			return nil
		case ev := <-v.events:
			v.handle(ev)
		case msg, ok := <-incoming:
			if !ok {
				select {
				case <-v.quit:
					return nil
				default:
				}
				if v.State() != StateConnected {
					v.logger.Warn().Msg("relay connection lost")
					return domain.ErrConnectivityLost
				}
				v.logger.Warn().Msg("relay connection lost, staying on the direct connection")
				incoming = nil
				continue
			}
			v.dispatch(msg)
		}
	}
	return v.result
}

// Stop closes the session and the relay connection. Safe to call twice.
func (v *Viewer) Stop() {
	v.stopOnce.Do(func() { close(v.quit) })
	v.mu.RLock()
	started := v.started
	v.mu.RUnlock()
	if started {
		<-v.exited
		return
	}
	v.shutdown()
}

func (v *Viewer) shutdown() {
	if v.session != nil {
		v.session.conn.Close()
		v.session = nil
		if !v.State().Terminal() {
			v.setState(StateClosed, nil)
		}
	}
	if err := v.signal.Close(); err != nil {
		v.logger.Debug().Err(err).Msg("relay close")
	}
}

func (v *Viewer) post(ev any) {
	select {
	case v.events <- ev:
	case <-v.quit:
	}
}

func (v *Viewer) dispatch(msg domain.Message) {
	switch msg.Type {
	case domain.TypeOffer:
		if msg.Offer == nil || msg.Sender == "" {
			return
		}
		v.onOffer(msg.Sender, *msg.Offer)
	case domain.TypeICECandidate:
		if msg.Candidate == nil || msg.Sender == "" {
			return
		}
		v.onRemoteCandidate(msg.Sender, *msg.Candidate)
	case domain.TypeError:
		v.logger.Warn().Str("error", msg.Error).Msg("relay error")
	default:
		v.logger.Debug().Str("type", string(msg.Type)).Msg("ignoring message")
	}
}

func (v *Viewer) handle(ev any) {
	switch e := ev.(type) {
	case localCandidate:
		if v.session == nil || v.session.conn != e.conn {
			return
		}
		if err := v.signal.Send(domain.Candidate(v.room, v.session.Host, e.cand)); err != nil {
			v.logger.Warn().Err(err).Msg("send candidate failed")
		}
	case connectionState:
		if v.session == nil || v.session.conn != e.conn {
			return
		}
		v.onConnectionState(e.state)
	}
}

func (v *Viewer) onOffer(h domain.MemberID, sdp webrtc.SessionDescription) {
	if v.session != nil {
		v.logger.Info().Str("host", string(h)).Msg("new offer, replacing session")
		v.session.conn.Close()
		v.session = nil
	}
	v.setState(StateOfferReceived, nil)

	conn, err := v.newConn(h)
	if err != nil {
		v.failNegotiation(h, "create transport", err)
		return
	}
	v.session = &Session{Host: h, conn: conn}

	conn.OnTrack(func(track *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			if kf, ok := conn.(interface{ RequestKeyframe(webrtc.SSRC) error }); ok {
				_ = kf.RequestKeyframe(track.SSRC())
			}
		}
		if v.onTrack != nil {
			v.onTrack(track, recv)
		}
	})
	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		v.post(localCandidate{conn: conn, cand: c})
	})
	conn.OnStateChange(func(s webrtc.PeerConnectionState) {
		v.post(connectionState{conn: conn, state: s})
	})

	answer, err := conn.ApplyOfferAndCreateAnswer(sdp)
	if err != nil {
		v.failNegotiation(h, "apply offer", err)
		return
	}
	for _, c := range v.pending[h] {
		if err := conn.AddICECandidate(c); err != nil {
			v.logger.Warn().Err(err).Msg("buffered candidate rejected")
		}
	}
	clear(v.pending)

	if err := v.signal.Send(domain.Answer(v.room, h, *answer)); err != nil {
		v.failNegotiation(h, "send answer", err)
		return
	}
	v.setState(StateAnswerSent, nil)
	v.logger.Info().Str("host", string(h)).Msg("answer sent")
}

func (v *Viewer) onRemoteCandidate(from domain.MemberID, c webrtc.ICECandidateInit) {
	if v.session == nil || v.session.Host != from {
		v.pending[from] = append(v.pending[from], c)
		return
	}
	if err := v.session.conn.AddICECandidate(c); err != nil {
		v.logger.Warn().Err(err).Msg("candidate rejected")
	}
}

func (v *Viewer) onConnectionState(s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if v.State() != StateConnected {
			v.setState(StateConnected, nil)
			v.logger.Info().Str("host", string(v.session.Host)).Msg("connected to host")
		}
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		err := domain.NewSessionError("connect", v.session.Host, domain.ErrHostUnreachable)
		v.logger.Error().Err(err).Msg("host unreachable")
		v.finish(StateFailed, err)
	case webrtc.PeerConnectionStateClosed:
		v.finish(StateClosed, nil)
	}
}

func (v *Viewer) failNegotiation(h domain.MemberID, op string, err error) {
	serr := domain.NewSessionError(op, h, fmt.Errorf("%w: %w", domain.ErrNegotiationFailed, err))
	v.logger.Error().Err(serr).Msg("negotiation failed")
	v.finish(StateFailed, serr)
}

// finish releases the session and ends Run with err.
func (v *Viewer) finish(st State, err error) {
	if v.session != nil {
		v.session.conn.Close()
		v.session = nil
	}
	v.setState(st, err)
	v.result = err
	v.done = true
}

func (v *Viewer) setState(st State, err error) {
	v.mu.Lock()
	v.state = st
	v.mu.Unlock()
	if v.onState != nil {
		v.onState(st, err)
	}
}
