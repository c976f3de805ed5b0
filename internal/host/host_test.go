package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Beam/internal/core"
	"github.com/dkeye/Beam/internal/core/coretest"
	"github.com/dkeye/Beam/internal/domain"
	"github.com/dkeye/Beam/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	tracks  []webrtc.TrackLocal
	stopped atomic.Int32
	onStop  func()
}

func newFakeStream(t *testing.T) *fakeStream {
	t.Helper()
	video, err := webrtc.NewTrackLocalStaticRTP(media.VP8Codec, "video", "beam")
	require.NoError(t, err)
	audio, err := webrtc.NewTrackLocalStaticRTP(media.OpusCodec, "audio", "beam")
	require.NoError(t, err)
	return &fakeStream{tracks: []webrtc.TrackLocal{video, audio}}
}

func (s *fakeStream) Tracks() []webrtc.TrackLocal { return s.tracks }

func (s *fakeStream) Stop() {
	s.stopped.Add(1)
	if s.onStop != nil {
		s.onStop()
	}
}

type stateLog struct {
	mu      sync.Mutex
	entries []string
	errs    map[domain.MemberID]error
}

func (l *stateLog) record(v domain.MemberID, st State, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, string(v)+":"+st.String())
	if err != nil {
		if l.errs == nil {
			l.errs = map[domain.MemberID]error{}
		}
		l.errs[v] = err
	}
}

func (l *stateLog) err(v domain.MemberID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errs[v]
}

type fixture struct {
	host    *Host
	signal  *coretest.Signal
	factory *coretest.Factory
	stream  *fakeStream
	states  *stateLog
	runErr  chan error
	cancel  context.CancelFunc
}

func start(t *testing.T, room domain.RoomCode, with ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		signal:  coretest.NewSignal(),
		factory: coretest.NewFactory(),
		stream:  newFakeStream(t),
		states:  &stateLog{},
		runErr:  make(chan error, 1),
	}
	opts := Options{
		Room:          room,
		Signal:        f.signal,
		Stream:        f.stream,
		NewConn:       f.factory.New,
		OnStateChange: f.states.record,
	}
	for _, fn := range with {
		fn(&opts)
	}
	h, err := New(opts)
	require.NoError(t, err)
	f.host = h

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.runErr <- h.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		h.Stop()
	})

	require.Eventually(t, func() bool {
		return len(f.signal.Sent(domain.TypeJoinRoom)) == 1
	}, time.Second, 5*time.Millisecond)
	return f
}

func (f *fixture) join(ids ...domain.MemberID) {
	for _, id := range ids {
		f.signal.Deliver(domain.UserJoined(f.host.Room(), id))
	}
}

func (f *fixture) answer(from domain.MemberID) {
	msg := domain.Answer(f.host.Room(), "", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-from-" + string(from)})
	msg.Sender = from
	f.signal.Deliver(msg)
}

func (f *fixture) candidate(from domain.MemberID, c string) {
	msg := domain.Candidate(f.host.Room(), "", webrtc.ICECandidateInit{Candidate: c})
	msg.Sender = from
	f.signal.Deliver(msg)
}

func (f *fixture) stateOf(t *testing.T, v domain.MemberID) (State, bool) {
	t.Helper()
	for _, s := range f.host.Snapshot() {
		if s.ID == v {
			return s.State, true
		}
	}
	return 0, false
}

func (f *fixture) waitState(t *testing.T, v domain.MemberID, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, ok := f.stateOf(t, v)
		return ok && st == want
	}, time.Second, 5*time.Millisecond, "viewer %s never reached %s", v, want)
}

func (f *fixture) waitGone(t *testing.T, v domain.MemberID) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := f.stateOf(t, v)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{Room: "ab12cd"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signal")
	assert.Contains(t, err.Error(), "stream")
}

func TestEveryViewerGetsOwnSessionWithAllTracks(t *testing.T) {
	f := start(t, "ab12cd")
	viewers := []domain.MemberID{"v1", "v2", "v3"}
	f.join(viewers...)

	for _, v := range viewers {
		f.waitState(t, v, StateOfferSent)
	}
	assert.Len(t, f.host.Snapshot(), 3)

	offers := f.signal.Sent(domain.TypeOffer)
	require.Len(t, offers, 3)
	for i, v := range viewers {
		assert.Equal(t, v, offers[i].To)
		assert.Equal(t, domain.RoomCode("ab12cd"), offers[i].RoomID)
		require.NotNil(t, offers[i].Offer)
		assert.Equal(t, "offer-for-"+string(v), offers[i].Offer.SDP)
		assert.Equal(t, len(f.stream.tracks), f.factory.Last(v).Tracks())
	}
}

func TestClosingOneSessionLeavesOthers(t *testing.T) {
	f := start(t, "ab12cd")
	f.join("v1", "v2", "v3")
	for _, v := range []domain.MemberID{"v1", "v2", "v3"} {
		f.waitState(t, v, StateOfferSent)
	}

	f.factory.Last("v2").EmitState(webrtc.PeerConnectionStateFailed)
	f.waitGone(t, "v2")

	assert.True(t, f.factory.Last("v2").Closed())
	assert.False(t, f.factory.Last("v1").Closed())
	assert.False(t, f.factory.Last("v3").Closed())
	st, _ := f.stateOf(t, "v1")
	assert.Equal(t, StateOfferSent, st)
	st, _ = f.stateOf(t, "v3")
	assert.Equal(t, StateOfferSent, st)
	assert.Zero(t, f.stream.stopped.Load())
	assert.ErrorIs(t, f.states.err("v2"), domain.ErrConnectivityLost)

	f.factory.Last("v3").EmitState(webrtc.PeerConnectionStateDisconnected)
	f.waitGone(t, "v3")
	assert.Len(t, f.host.Snapshot(), 1)
}

func TestTwoViewerScenario(t *testing.T) {
	f := start(t, "ab12cd")
	f.join("A", "B")
	f.waitState(t, "A", StateOfferSent)
	f.waitState(t, "B", StateOfferSent)

	// B trickles before its answer, so the candidate is held back.
	f.candidate("B", "candidate:b1")
	f.answer("A")
	f.candidate("A", "candidate:a1")

	a := f.factory.Last("A")
	b := f.factory.Last("B")
	require.Eventually(t, func() bool { return len(a.Candidates()) == 1 }, time.Second, 5*time.Millisecond)
	require.NotNil(t, a.Remote())
	assert.Equal(t, "answer-from-A", a.Remote().SDP)
	assert.Empty(t, b.Candidates())

	// Answer alone does not mean connected.
	st, _ := f.stateOf(t, "A")
	assert.Equal(t, StateOfferSent, st)

	a.EmitState(webrtc.PeerConnectionStateConnected)
	f.waitState(t, "A", StateConnected)

	f.answer("B")
	require.Eventually(t, func() bool { return len(b.Candidates()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "candidate:b1", b.Candidates()[0].Candidate)
	b.EmitState(webrtc.PeerConnectionStateConnected)
	f.waitState(t, "B", StateConnected)

	a.EmitCandidate(webrtc.ICECandidateInit{Candidate: "candidate:host-a"})
	require.Eventually(t, func() bool { return len(f.signal.Sent(domain.TypeICECandidate)) == 1 }, time.Second, 5*time.Millisecond)
	sent := f.signal.Sent(domain.TypeICECandidate)[0]
	assert.Equal(t, domain.MemberID("A"), sent.To)
	assert.Equal(t, domain.RoomCode("ab12cd"), sent.RoomID)
}

func TestUnknownViewerMessagesDiscarded(t *testing.T) {
	f := start(t, "ab12cd")
	f.answer("ghost")
	f.candidate("ghost", "candidate:x")
	f.join("v1")
	f.waitState(t, "v1", StateOfferSent)

	assert.Len(t, f.host.Snapshot(), 1)
	assert.Zero(t, f.factory.Count("ghost"))
}

func TestDuplicateJoinKeepsOneSession(t *testing.T) {
	f := start(t, "ab12cd")
	f.join("v1", "v1")
	f.join("v2")
	f.waitState(t, "v2", StateOfferSent)

	assert.Equal(t, 1, f.factory.Count("v1"))
	assert.Len(t, f.signal.Sent(domain.TypeOffer), 2)
}

func TestNegotiationFailureIsolated(t *testing.T) {
	f := start(t, "ab12cd")
	f.factory.Prepare = func(m *coretest.Media) {
		if m.Peer == "bad" {
			m.Fail["offer"] = coretest.ErrScripted
		}
	}
	f.join("bad", "good")
	f.waitState(t, "good", StateOfferSent)

	_, ok := f.stateOf(t, "bad")
	assert.False(t, ok)
	assert.True(t, f.factory.Last("bad").Closed())
	err := f.states.err("bad")
	assert.ErrorIs(t, err, domain.ErrNegotiationFailed)
	assert.ErrorIs(t, err, coretest.ErrScripted)

	var serr *domain.SessionError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, domain.MemberID("bad"), serr.Peer)
}

func TestBadAnswerFailsOnlyThatViewer(t *testing.T) {
	f := start(t, "ab12cd")
	f.factory.Prepare = func(m *coretest.Media) {
		if m.Peer == "v1" {
			m.Fail["answer"] = coretest.ErrScripted
		}
	}
	f.join("v1", "v2")
	f.waitState(t, "v2", StateOfferSent)
	f.waitState(t, "v1", StateOfferSent)

	f.answer("v1")
	f.waitGone(t, "v1")
	st, _ := f.stateOf(t, "v2")
	assert.Equal(t, StateOfferSent, st)
}

func TestStopIsSynchronousAndIdempotent(t *testing.T) {
	f := start(t, "ab12cd")
	f.join("v1", "v2")
	f.waitState(t, "v1", StateOfferSent)
	f.waitState(t, "v2", StateOfferSent)

	var closedAtStop bool
	f.stream.onStop = func() { closedAtStop = f.factory.Last("v1").Closed() }

	f.host.Stop()
	f.host.Stop()

	assert.EqualValues(t, 1, f.stream.stopped.Load())
	assert.False(t, closedAtStop, "capture must stop before sessions close")
	assert.True(t, f.factory.Last("v1").Closed())
	assert.True(t, f.factory.Last("v2").Closed())
	assert.True(t, f.signal.Closed())
	assert.Empty(t, f.host.Snapshot())

	select {
	case err := <-f.runErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.ErrorIs(t, f.host.Run(context.Background()), domain.ErrClosed)
}

func (f *fixture) connect(t *testing.T, v domain.MemberID) *coretest.Media {
	t.Helper()
	f.join(v)
	f.waitState(t, v, StateOfferSent)
	f.answer(v)
	m := f.factory.Last(v)
	require.Eventually(t, func() bool { return m.Remote() != nil }, time.Second, 5*time.Millisecond)
	m.EmitState(webrtc.PeerConnectionStateConnected)
	f.waitState(t, v, StateConnected)
	return m
}

func (f *fixture) assertRunning(t *testing.T) {
	t.Helper()
	select {
	case err := <-f.runErr:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIdleHostEndsOnRelayLoss(t *testing.T) {
	f := start(t, "ab12cd")
	f.signal.Drop()

	select {
	case err := <-f.runErr:
		assert.ErrorIs(t, err, domain.ErrConnectivityLost)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestConnectedViewerSurvivesRelayLoss(t *testing.T) {
	f := start(t, "ab12cd")
	v1 := f.connect(t, "v1")
	f.join("v2")
	f.waitState(t, "v2", StateOfferSent)

	f.signal.Drop()

	// v2 can no longer receive its answer, v1 already has a direct path.
	f.waitGone(t, "v2")
	assert.ErrorIs(t, f.states.err("v2"), domain.ErrConnectivityLost)
	f.assertRunning(t)
	assert.False(t, v1.Closed())
	st, ok := f.stateOf(t, "v1")
	require.True(t, ok)
	assert.Equal(t, StateConnected, st)
	assert.Zero(t, f.stream.stopped.Load())

	// Its own transport still decides when it ends.
	v1.EmitState(webrtc.PeerConnectionStateFailed)
	f.waitGone(t, "v1")
	assert.True(t, v1.Closed())

	select {
	case err := <-f.runErr:
		assert.ErrorIs(t, err, domain.ErrConnectivityLost)
	case <-time.After(time.Second):
		t.Fatal("Run did not return once the last viewer left")
	}
}

func TestStopAfterRelayLoss(t *testing.T) {
	f := start(t, "ab12cd")
	v1 := f.connect(t, "v1")
	f.signal.Drop()
	f.assertRunning(t)

	f.host.Stop()
	assert.True(t, v1.Closed())
	assert.EqualValues(t, 1, f.stream.stopped.Load())
	select {
	case err := <-f.runErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRedialRejoinsRoom(t *testing.T) {
	next := coretest.NewSignal()
	var redials atomic.Int32
	f := start(t, "ab12cd", func(o *Options) {
		o.Redial = func(context.Context) (core.SignalChannel, error) {
			redials.Add(1)
			return next, nil
		}
	})
	v1 := f.connect(t, "v1")

	f.signal.Drop()
	require.Eventually(t, func() bool {
		return len(next.Sent(domain.TypeJoinRoom)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, redials.Load())
	assert.True(t, f.signal.Closed())
	assert.False(t, v1.Closed())

	// New viewers arrive over the fresh connection.
	next.Deliver(domain.UserJoined("ab12cd", "v2"))
	f.waitState(t, "v2", StateOfferSent)
	require.Len(t, next.Sent(domain.TypeOffer), 1)
	assert.Equal(t, domain.MemberID("v2"), next.Sent(domain.TypeOffer)[0].To)

	v1.EmitCandidate(webrtc.ICECandidateInit{Candidate: "candidate:late"})
	require.Eventually(t, func() bool {
		return len(next.Sent(domain.TypeICECandidate)) == 1
	}, time.Second, 5*time.Millisecond)

	f.host.Stop()
	assert.True(t, next.Closed())
}

func TestFailedRedialKeepsConnectedViewers(t *testing.T) {
	f := start(t, "ab12cd", func(o *Options) {
		o.Redial = func(context.Context) (core.SignalChannel, error) {
			return nil, domain.ErrDiscoveryExhausted
		}
	})
	v1 := f.connect(t, "v1")
	f.join("v2")
	f.waitState(t, "v2", StateOfferSent)

	f.signal.Drop()
	f.waitGone(t, "v2")
	f.assertRunning(t)
	assert.False(t, v1.Closed())

	v1.EmitState(webrtc.PeerConnectionStateClosed)
	select {
	case err := <-f.runErr:
		assert.ErrorIs(t, err, domain.ErrConnectivityLost)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestKeyframeRequestsCounted(t *testing.T) {
	f := start(t, "ab12cd")
	v1 := f.connect(t, "v1")
	f.join("v2")
	f.waitState(t, "v2", StateOfferSent)

	v1.EmitKeyframeRequest()
	v1.EmitKeyframeRequest()

	keyframes := func(v domain.MemberID) int {
		for _, s := range f.host.Snapshot() {
			if s.ID == v {
				return s.Keyframes
			}
		}
		return -1
	}
	require.Eventually(t, func() bool { return keyframes("v1") == 2 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, keyframes("v2"))
	st, _ := f.stateOf(t, "v1")
	assert.Equal(t, StateConnected, st)
}

func TestStopWithoutRun(t *testing.T) {
	sig := coretest.NewSignal()
	stream := newFakeStream(t)
	h, err := New(Options{Room: "ab12cd", Signal: sig, Stream: stream, NewConn: coretest.NewFactory().New})
	require.NoError(t, err)

	h.Stop()
	assert.EqualValues(t, 1, stream.stopped.Load())
	assert.True(t, sig.Closed())
}
