package host

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Beam/internal/core"
	"github.com/dkeye/Beam/internal/domain"
	"github.com/dkeye/Beam/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const eventBuffer = 256

type Options struct {
	Room    domain.RoomCode
	Signal  core.SignalChannel
	Stream  media.Stream
	NewConn core.MediaFactory
	// OnStateChange is called from the host loop. It must not call Stop.
	OnStateChange func(viewer domain.MemberID, state State, err error)
	// Redial opens a fresh relay connection after the current one is lost.
	// Without it the host keeps serving connected viewers but admits no new
	// ones.
	Redial func(ctx context.Context) (core.SignalChannel, error)
}

// Host runs one negotiation per viewer of a room over a shared local stream.
type Host struct {
	room    domain.RoomCode
	signal  core.SignalChannel
	stream  media.Stream
	newConn core.MediaFactory
	onState func(domain.MemberID, State, error)
	redial  func(context.Context) (core.SignalChannel, error)
	now     func() time.Time

	sessions map[domain.MemberID]*PeerSession
	events   chan event

	snapMu   sync.RWMutex
	snapshot []SessionInfo

	mu           sync.Mutex
	started      bool
	quit         chan struct{}
	exited       chan struct{}
	stopOnce     sync.Once
	shutdownOnce sync.Once

	logger zerolog.Logger
}

func New(opts Options) (*Host, error) {
	var missing []string
	if !opts.Room.Valid() {
		missing = append(missing, "room")
	}
	if opts.Signal == nil {
		missing = append(missing, "signal")
	}
	if opts.Stream == nil {
		missing = append(missing, "stream")
	}
	if opts.NewConn == nil {
		missing = append(missing, "media factory")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("host: missing %s", strings.Join(missing, ", "))
	}
	return &Host{
		room:     opts.Room,
		signal:   opts.Signal,
		stream:   opts.Stream,
		newConn:  opts.NewConn,
		onState:  opts.OnStateChange,
		redial:   opts.Redial,
		now:      time.Now,
		sessions: make(map[domain.MemberID]*PeerSession),
		events:   make(chan event, eventBuffer),
		quit:     make(chan struct{}),
		exited:   make(chan struct{}),
		logger:   log.With().Str("module", "host").Str("room", string(opts.Room)).Logger(),
	}, nil
}

func (h *Host) Room() domain.RoomCode { return h.room }

// Run joins the room and processes relay messages and transport events until
// ctx is done or Stop is called. Losing the relay leaves connected viewers
// streaming; Run gives up with ErrConnectivityLost only once the relay is
// gone for good and no viewer is left.
func (h *Host) Run(ctx context.Context) error {
	h.mu.Lock()
	select {
	case <-h.quit:
		h.mu.Unlock()
		return domain.ErrClosed
	default:
	}
	if h.started {
		h.mu.Unlock()
		return errors.New("host: already running")
	}
	h.started = true
	h.mu.Unlock()

	defer close(h.exited)
	defer h.shutdown()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := h.signal.Send(domain.JoinRoom(h.room)); err != nil {
		return fmt.Errorf("join room %s: %w", h.room, err)
	}
	h.logger.Info().Int("tracks", len(h.stream.Tracks())).Msg("joined room, waiting for viewers")

	incoming := h.signal.Incoming()
	var redialed <-chan redialResult
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.quit:
			return nil
		case ev := <-h.events:
			h.handle(ev)
		case r := <-redialed:
			redialed = nil
			if r.err != nil {
				h.logger.Warn().Err(r.err).Msg("relay reconnect failed")
				h.abandonNegotiations()
				break
			}
			incoming = h.rejoin(r.signal)
		case msg, ok := <-incoming:
			if !ok {
				select {
				case <-h.quit:
					return nil
				default:
				}
				incoming = nil
				h.logger.Warn().Int("viewers", len(h.sessions)).Msg("relay connection lost, keeping viewer sessions")
				if h.redial != nil {
					redialed = h.reconnect(ctx)
				} else {
					h.abandonNegotiations()
				}
				break
			}
			h.dispatch(msg)
		}
		if incoming == nil && redialed == nil && len(h.sessions) == 0 {
			h.logger.Warn().Msg("relay lost and no viewers left")
			return domain.ErrConnectivityLost
		}
	}
}

// reconnect runs Redial off the loop. A connection that arrives after Run
// has returned is closed.
func (h *Host) reconnect(ctx context.Context) <-chan redialResult {
	out := make(chan redialResult)
	go func() {
		sig, err := h.redial(ctx)
		if err == nil && sig == nil {
			err = errors.New("redial returned no connection")
		}
		select {
		case out <- redialResult{signal: sig, err: err}:
		case <-ctx.Done():
			if sig != nil {
				_ = sig.Close()
			}
		}
	}()
	return out
}

// rejoin swaps in a fresh relay connection and announces the host again.
func (h *Host) rejoin(sig core.SignalChannel) <-chan domain.Message {
	if err := h.signal.Close(); err != nil {
		h.logger.Debug().Err(err).Msg("close lost relay")
	}
	h.signal = sig
	if err := h.signal.Send(domain.JoinRoom(h.room)); err != nil {
		h.logger.Warn().Err(err).Msg("rejoin room failed")
	} else {
		h.logger.Info().Msg("relay reconnected, room rejoined")
	}
	return h.signal.Incoming()
}

// abandonNegotiations fails sessions that still need the relay to finish
// negotiating. Connected sessions are kept.
func (h *Host) abandonNegotiations() {
	for _, s := range h.sortedSessions() {
		if s.State == StateConnected {
			continue
		}
		h.teardown(s, StateFailed, domain.NewSessionError("negotiate", s.ID, domain.ErrConnectivityLost))
	}
}

// Stop stops the local stream, then closes every viewer session and the
// relay connection. It is safe to call more than once.
func (h *Host) Stop() {
	h.stopOnce.Do(func() {
		h.stream.Stop()
		h.logger.Info().Msg("capture stopped")
		close(h.quit)
	})
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()
	if started {
		<-h.exited
		return
	}
	h.shutdown()
}

func (h *Host) shutdown() {
	h.shutdownOnce.Do(func() {
		for _, s := range h.sortedSessions() {
			h.teardown(s, StateClosed, nil)
		}
		if err := h.signal.Close(); err != nil {
			h.logger.Debug().Err(err).Msg("relay close")
		}
		h.logger.Info().Msg("host stopped")
	})
}

// Snapshot returns the current viewer sessions ordered by ID.
func (h *Host) Snapshot() []SessionInfo {
	h.snapMu.RLock()
	defer h.snapMu.RUnlock()
	return slices.Clone(h.snapshot)
}

// post hands an event to the loop. Events after Stop are dropped.
func (h *Host) post(ev event) {
	select {
	case h.events <- ev:
	case <-h.quit:
	}
}

func (h *Host) dispatch(msg domain.Message) {
	switch msg.Type {
	case domain.TypeUserJoined:
		if msg.MemberID == "" {
			return
		}
		h.handle(userJoined{viewer: msg.MemberID})
	case domain.TypeAnswer:
		if msg.Answer == nil || msg.Sender == "" {
			h.logger.Debug().Msg("answer without payload or sender")
			return
		}
		h.handle(answerReceived{viewer: msg.Sender, sdp: *msg.Answer})
	case domain.TypeICECandidate:
		if msg.Candidate == nil || msg.Sender == "" {
			return
		}
		h.handle(candidateReceived{viewer: msg.Sender, cand: *msg.Candidate})
	case domain.TypeError:
		h.logger.Warn().Str("error", msg.Error).Msg("relay error")
	default:
		h.logger.Debug().Str("type", string(msg.Type)).Msg("ignoring message")
	}
}

func (h *Host) handle(ev event) {
	switch e := ev.(type) {
	case userJoined:
		h.onUserJoined(e.viewer)
	case answerReceived:
		h.onAnswer(e.viewer, e.sdp)
	case candidateReceived:
		h.onRemoteCandidate(e.viewer, e.cand)
	case localCandidate:
		s, ok := h.current(e.viewer, e.conn)
		if !ok {
			return
		}
		if err := h.signal.Send(domain.Candidate(h.room, s.ID, e.cand)); err != nil {
			h.logger.Warn().Err(err).Str("viewer", string(s.ID)).Msg("send candidate failed")
		}
	case connectionState:
		h.onConnectionState(e)
	case keyframeRequested:
		if s, ok := h.current(e.viewer, e.conn); ok {
			s.Keyframes++
			h.publish()
		}
	}
}

func (h *Host) onUserJoined(v domain.MemberID) {
	if s, ok := h.sessions[v]; ok && !s.State.Terminal() {
		h.logger.Debug().Str("viewer", string(v)).Msg("duplicate user-joined ignored")
		return
	}
	logger := h.logger.With().Str("viewer", string(v)).Logger()

	conn, err := h.newConn(v)
	if err != nil {
		logger.Error().Err(err).Msg("create transport failed")
		h.notify(v, StateFailed, domain.NewSessionError("create transport", v, fmt.Errorf("%w: %w", domain.ErrNegotiationFailed, err)))
		return
	}
	s := &PeerSession{ID: v, State: StateNew, Since: h.now(), conn: conn}
	h.sessions[v] = s

	for _, track := range h.stream.Tracks() {
		if err := conn.AddLocalTrack(track); err != nil {
			h.fail(s, "add track", err)
			return
		}
	}
	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		h.post(localCandidate{viewer: v, conn: conn, cand: c})
	})
	conn.OnStateChange(func(st webrtc.PeerConnectionState) {
		h.post(connectionState{viewer: v, conn: conn, state: st})
	})
	if kf, ok := conn.(interface{ OnKeyframeRequest(func()) }); ok {
		kf.OnKeyframeRequest(func() {
			h.post(keyframeRequested{viewer: v, conn: conn})
		})
	}

	offer, err := conn.CreateAndSetOffer()
	if err != nil {
		h.fail(s, "create offer", err)
		return
	}
	if err := h.signal.Send(domain.Offer(h.room, v, *offer)); err != nil {
		h.fail(s, "send offer", err)
		return
	}
	h.setState(s, StateOfferSent, nil)
	logger.Info().Msg("offer sent")
}

func (h *Host) onAnswer(v domain.MemberID, sdp webrtc.SessionDescription) {
	s, ok := h.sessions[v]
	if !ok || s.State != StateOfferSent || s.remoteSet {
		h.logger.Debug().Str("viewer", string(v)).Msg("unexpected answer discarded")
		return
	}
	if err := s.conn.ApplyAnswer(sdp); err != nil {
		h.fail(s, "apply answer", err)
		return
	}
	s.remoteSet = true
	for _, c := range s.pending {
		if err := s.conn.AddICECandidate(c); err != nil {
			h.logger.Warn().Err(err).Str("viewer", string(v)).Msg("buffered candidate rejected")
		}
	}
	s.pending = nil
	h.logger.Info().Str("viewer", string(v)).Msg("answer applied")
}

func (h *Host) onRemoteCandidate(v domain.MemberID, c webrtc.ICECandidateInit) {
	s, ok := h.sessions[v]
	if !ok || s.State.Terminal() {
		return
	}
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		return
	}
	if err := s.conn.AddICECandidate(c); err != nil {
		h.logger.Warn().Err(err).Str("viewer", string(v)).Msg("candidate rejected")
	}
}

func (h *Host) onConnectionState(e connectionState) {
	s, ok := h.current(e.viewer, e.conn)
	if !ok {
		return
	}
	switch e.state {
	case webrtc.PeerConnectionStateConnected:
		if s.State != StateConnected {
			h.setState(s, StateConnected, nil)
		}
	case webrtc.PeerConnectionStateFailed:
		h.teardown(s, StateFailed, domain.NewSessionError("connect", s.ID, domain.ErrConnectivityLost))
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
		h.teardown(s, StateClosed, nil)
	}
}

// current returns the live session for v if conn is still its transport.
func (h *Host) current(v domain.MemberID, conn core.MediaConnection) (*PeerSession, bool) {
	s, ok := h.sessions[v]
	if !ok || s.conn != conn || s.State.Terminal() {
		return nil, false
	}
	return s, true
}

func (h *Host) fail(s *PeerSession, op string, err error) {
	serr := domain.NewSessionError(op, s.ID, fmt.Errorf("%w: %w", domain.ErrNegotiationFailed, err))
	h.logger.Error().Err(serr).Msg("negotiation failed")
	h.teardown(s, StateFailed, serr)
}

// teardown releases the transport of s and forgets it. Other sessions and
// the local stream are untouched.
func (h *Host) teardown(s *PeerSession, final State, err error) {
	delete(h.sessions, s.ID)
	s.conn.Close()
	s.pending = nil
	h.setState(s, final, err)
}

func (h *Host) setState(s *PeerSession, st State, err error) {
	s.State = st
	s.Since = h.now()
	h.logger.Debug().Str("viewer", string(s.ID)).Str("state", st.String()).Msg("session state")
	h.publish()
	h.notify(s.ID, st, err)
}

func (h *Host) notify(v domain.MemberID, st State, err error) {
	if h.onState != nil {
		h.onState(v, st, err)
	}
}

func (h *Host) publish() {
	snap := make([]SessionInfo, 0, len(h.sessions))
	for _, s := range h.sortedSessions() {
		snap = append(snap, s.info())
	}
	h.snapMu.Lock()
	h.snapshot = snap
	h.snapMu.Unlock()
}

func (h *Host) sortedSessions() []*PeerSession {
	out := make([]*PeerSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *PeerSession) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return out
}
