package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/rendezvous/internal/app"
	"github.com/dkeye/rendezvous/internal/app/session"
	"github.com/dkeye/rendezvous/internal/app/slots"
	"github.com/dkeye/rendezvous/internal/core"
	"github.com/dkeye/rendezvous/internal/domain"
	"github.com/dkeye/rendezvous/internal/metrics"
)

type sink struct {
	mu     sync.Mutex
	frames []string
}

func (s *sink) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, string(f))
	return nil
}

func (s *sink) Close() {}

func (s *sink) Frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

func (s *sink) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return ""
	}
	return s.frames[len(s.frames)-1]
}

func (s *sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}

// stubRegistry records requests and answers every one of them with err.
type stubRegistry struct {
	mu         sync.Mutex
	calls      []string
	connectErr error
	err        error
}

func (r *stubRegistry) record(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
	return r.err
}

func (r *stubRegistry) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *stubRegistry) Connect(context.Context, core.SignalConnection, domain.RoomID) (domain.SessionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "connect")
	if r.connectErr != nil {
		return 0, r.connectErr
	}
	return 42, nil
}

func (r *stubRegistry) Disconnect(context.Context, domain.SessionID, domain.RoomID) error {
	return r.record("disconnect")
}

func (r *stubRegistry) ClientMessage(context.Context, domain.SessionID, domain.RoomID, string) error {
	return r.record("message")
}

func (r *stubRegistry) ListRooms(context.Context) ([]domain.RoomID, error) {
	return nil, r.record("list")
}

func (r *stubRegistry) Members(context.Context, domain.RoomID) ([]domain.SessionID, error) {
	return nil, r.record("members")
}

func (r *stubRegistry) Room(context.Context, domain.RoomID) (domain.RoomKey, bool, error) {
	return 0, false, r.record("room")
}

func (r *stubRegistry) Invite(context.Context, domain.SessionID, domain.RoomID, domain.RoomID) error {
	return r.record("invite")
}

func (r *stubRegistry) SendRoomKey(context.Context, domain.RoomID, domain.RoomID, domain.SessionID) error {
	return r.record("send")
}

func (r *stubRegistry) Join(_ context.Context, _ domain.SessionID, _, target domain.RoomID, _ domain.RoomKey) (domain.RoomID, error) {
	if err := r.record("join"); err != nil {
		return 0, err
	}
	return target, nil
}

func (r *stubRegistry) Direct(context.Context, domain.RoomID, domain.SessionID, domain.SessionID, string) error {
	return r.record("direct")
}

func startRegistry(t *testing.T, capacity int) (*app.Registry, *slots.Allocator) {
	t.Helper()
	alloc := slots.New(capacity)
	reg := app.NewRegistry(alloc)
	ctx, cancel := context.WithCancel(context.Background())
	go reg.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-reg.Done()
	})
	return reg, alloc
}

type peer struct {
	sess *session.Session
	out  *sink
}

func open(t *testing.T, reg session.Registry, alloc *slots.Allocator, opts session.Options) *peer {
	t.Helper()
	room, ok := alloc.Reserve()
	require.True(t, ok)
	out := &sink{}
	s := session.New(reg, out, room, opts)
	require.NoError(t, s.Start(context.Background()))
	return &peer{sess: s, out: out}
}

func (p *peer) say(t *testing.T, text string) string {
	t.Helper()
	p.out.Reset()
	require.NoError(t, p.sess.HandleText(context.Background(), text))
	return p.out.Last()
}

func TestSession_StartActivates(t *testing.T) {
	reg, alloc := startRegistry(t, 4)
	p := open(t, reg, alloc, session.Options{})

	assert.Equal(t, session.Active, p.sess.State())
	assert.NotZero(t, p.sess.ID())
	assert.Equal(t, fmt.Sprintf("/id %d", p.sess.ID()), p.say(t, "/id"))
}

func TestSession_StartFailureClosesOnce(t *testing.T) {
	reg := &stubRegistry{connectErr: errors.New("registry unreachable")}
	s := session.New(reg, &sink{}, 3, session.Options{})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, session.Closed, s.State())

	s.Close(context.Background())
	assert.Equal(t, []string{"connect", "disconnect"}, reg.Calls())
	assert.ErrorIs(t, s.HandleText(context.Background(), "/id"), session.ErrNotActive)
}

func TestSession_CloseDisconnectsOnce(t *testing.T) {
	reg := &stubRegistry{}
	s := session.New(reg, &sink{}, 3, session.Options{})
	require.NoError(t, s.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"connect", "disconnect"}, reg.Calls())
	assert.Equal(t, session.Closed, s.State())
}

func TestSession_Queries(t *testing.T) {
	reg, alloc := startRegistry(t, 4)
	a := open(t, reg, alloc, session.Options{})
	b := open(t, reg, alloc, session.Options{})

	assert.Equal(t, fmt.Sprintf("/list %d %d", a.sess.Room(), b.sess.Room()), a.say(t, "/list"))
	assert.Equal(t, fmt.Sprintf("/members %d", a.sess.ID()), a.say(t, "/members"))

	key, ok, err := reg.Room(context.Background(), a.sess.Room())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fmt.Sprintf("/room %d %d", a.sess.Room(), key), a.say(t, "/room"))
}

func TestSession_SyntaxErrors(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"/id 5", "!!! syntax error"},
		{"/room now", "!!! syntax error"},
		{"/members all", "!!! syntax error"},
		{"/invite", "!!! syntax error"},
		{"/invite seven", "!!! room id must be integer"},
		{"/invite -1", "!!! room id must be integer"},
		{"/send", "!!! room id and user id are required"},
		{"/send x 1", "!!! room id must be integer"},
		{"/send 1", "!!! user id must be integer"},
		{"/send 1 y", "!!! user id must be integer"},
		{"/join", "!!! room id and key are required"},
		{"/join x 1", "!!! room id must be integer"},
		{"/join 1", "!!! room key must be integer"},
		{"/join 1 k", "!!! room key must be integer"},
		{"/direct_message", "!!! syntax error"},
		{"/direct_message bob hi", "!!! user id must be integer"},
		{"/direct_message 5", "!!! message text required"},
		{"/direct_message 5    ", "!!! message text required"},
		{"/nope", "!!! unknown command: /nope"},
		{"/nope with args", "!!! unknown command: /nope"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			reg := &stubRegistry{}
			out := &sink{}
			s := session.New(reg, out, 0, session.Options{})
			require.NoError(t, s.Start(context.Background()))

			require.NoError(t, s.HandleText(context.Background(), tt.line))
			assert.Equal(t, []string{tt.want}, out.Frames())
			assert.Equal(t, []string{"connect"}, reg.Calls(), "no registry request on a syntax error")
		})
	}
}

func TestSession_PlainTextBroadcasts(t *testing.T) {
	reg, alloc := startRegistry(t, 4)
	a := open(t, reg, alloc, session.Options{})
	b := open(t, reg, alloc, session.Options{})
	require.Equal(t, "/send", a.say(t, fmt.Sprintf("/send %d %d", b.sess.Room(), b.sess.ID())))
	key := b.out.Last()
	var room, k uint64
	_, err := fmt.Sscanf(key, "/send %d %d", &room, &k)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("/joined %d", room), b.say(t, fmt.Sprintf("/join %d %d", room, k)))

	a.out.Reset()
	b.out.Reset()
	require.NoError(t, b.sess.HandleText(context.Background(), "  hello there  "))

	assert.Equal(t, []string{fmt.Sprintf("/message %d hello there", b.sess.ID())}, a.out.Frames())
	assert.Empty(t, b.out.Frames())
}

func TestSession_EmptyTextIgnored(t *testing.T) {
	reg := &stubRegistry{}
	out := &sink{}
	s := session.New(reg, out, 0, session.Options{})
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.HandleText(context.Background(), "   \t "))
	assert.Empty(t, out.Frames())
	assert.Equal(t, []string{"connect"}, reg.Calls())
}

func TestSession_KeyHandoffAndJoin(t *testing.T) {
	reg, alloc := startRegistry(t, 16)
	x := open(t, reg, alloc, session.Options{})
	y := open(t, reg, alloc, session.Options{})
	xRoom, yRoom := x.sess.Room(), y.sess.Room()

	key, ok, err := reg.Room(context.Background(), xRoom)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "/send", x.say(t, fmt.Sprintf("/send %d %d", yRoom, y.sess.ID())))
	assert.Equal(t, fmt.Sprintf("/send %d %d", xRoom, key), y.out.Last())

	x.out.Reset()
	assert.Equal(t, fmt.Sprintf("/joined %d", xRoom), y.say(t, fmt.Sprintf("/join %d %d", xRoom, key)))
	assert.Equal(t, xRoom, y.sess.Room())
	assert.False(t, alloc.Issued(yRoom), "emptied room slot returns to the pool")

	ids := []domain.SessionID{x.sess.ID(), y.sess.ID()}
	if ids[0] > ids[1] {
		ids[0], ids[1] = ids[1], ids[0]
	}
	want := fmt.Sprintf("/members %d %d", ids[0], ids[1])
	assert.Contains(t, x.out.Frames(), want)
	assert.Contains(t, y.out.Frames(), want)
}

func TestSession_FailedJoinKeepsRoom(t *testing.T) {
	reg, alloc := startRegistry(t, 8)
	x := open(t, reg, alloc, session.Options{})
	y := open(t, reg, alloc, session.Options{})
	before := y.sess.Room()

	key, _, err := reg.Room(context.Background(), x.sess.Room())
	require.NoError(t, err)

	assert.Equal(t, "!!! bad key", y.say(t, fmt.Sprintf("/join %d %d", x.sess.Room(), key+1)))
	assert.Equal(t, before, y.sess.Room())

	assert.Equal(t, "!!! room does not exist", y.say(t, "/join 7 1"))
	assert.Equal(t, before, y.sess.Room())

	// Still answers for its own room.
	assert.Contains(t, y.say(t, "/room"), fmt.Sprintf("/room %d ", before))
}

func TestSession_FullRoom(t *testing.T) {
	reg, alloc := startRegistry(t, 32)
	host := open(t, reg, alloc, session.Options{})
	key, _, err := reg.Room(context.Background(), host.sess.Room())
	require.NoError(t, err)
	join := fmt.Sprintf("/join %d %d", host.sess.Room(), key)

	for i := 1; i < domain.DefaultMaxMembers; i++ {
		p := open(t, reg, alloc, session.Options{})
		require.Equal(t, fmt.Sprintf("/joined %d", host.sess.Room()), p.say(t, join))
	}
	late := open(t, reg, alloc, session.Options{})
	assert.Equal(t, "!!! room is full", late.say(t, join))
}

func TestSession_InviteAndDirect(t *testing.T) {
	reg, alloc := startRegistry(t, 8)
	x := open(t, reg, alloc, session.Options{})
	y := open(t, reg, alloc, session.Options{})

	assert.Equal(t, "/asked", x.say(t, fmt.Sprintf("/invite %d", y.sess.Room())))
	assert.Equal(t, fmt.Sprintf("/invite %d %d", x.sess.Room(), x.sess.ID()), y.out.Last())
	assert.Equal(t, "!!! room does not exist", x.say(t, "/invite 6"))

	assert.Equal(t, "!!! id not found", x.say(t, fmt.Sprintf("/direct_message %d hi", y.sess.ID())))

	key, _, err := reg.Room(context.Background(), x.sess.Room())
	require.NoError(t, err)
	y.say(t, fmt.Sprintf("/join %d %d", x.sess.Room(), key))

	y.out.Reset()
	assert.Equal(t, "/send", x.say(t, fmt.Sprintf("/direct_message %d offer with spaces", y.sess.ID())))
	assert.Equal(t, []string{fmt.Sprintf("/direct_message %d offer with spaces", x.sess.ID())}, y.out.Frames())
}

func TestSession_Ice(t *testing.T) {
	reg := &stubRegistry{}
	out := &sink{}
	s := session.New(reg, out, 0, session.Options{ICE: []byte(`[{"urls":["stun:stun.example.org:3478"]}]`)})
	require.NoError(t, s.Start(context.Background()))

	before := testutil.ToFloat64(metrics.Commands.WithLabelValues("ice"))
	require.NoError(t, s.HandleText(context.Background(), "/ice"))
	assert.Equal(t, []string{`/ice [{"urls":["stun:stun.example.org:3478"]}]`}, out.Frames())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.Commands.WithLabelValues("ice")))

	bare := &sink{}
	s = session.New(reg, bare, 0, session.Options{})
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.HandleText(context.Background(), "/ice"))
	assert.Equal(t, []string{"/ice []"}, bare.Frames())
}

func TestSession_RegistryFailureIsFatal(t *testing.T) {
	for _, line := range []string{"hello", "/list", "/members", "/room", "/invite 1", "/send 1 2", "/join 1 2", "/direct_message 2 hi"} {
		t.Run(line, func(t *testing.T) {
			reg := &stubRegistry{}
			out := &sink{}
			s := session.New(reg, out, 0, session.Options{})
			require.NoError(t, s.Start(context.Background()))
			reg.err = app.ErrRegistryClosed

			err := s.HandleText(context.Background(), line)
			assert.ErrorIs(t, err, app.ErrRegistryClosed)
			assert.Empty(t, out.Frames())
		})
	}
}

func TestSession_Heartbeat(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	reg := &stubRegistry{}
	s := session.New(reg, &sink{}, 0, session.Options{Timeout: 10 * time.Second, Now: clock})
	require.NoError(t, s.Start(context.Background()))

	assert.False(t, s.Expired(now.Add(10*time.Second)))
	assert.True(t, s.Expired(now.Add(10*time.Second+time.Millisecond)))

	now = now.Add(8 * time.Second)
	s.Touch()
	assert.False(t, s.Expired(now.Add(9*time.Second)))
	assert.True(t, s.Expired(now.Add(11*time.Second)))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", session.Connecting.String())
	assert.Equal(t, "active", session.Active.String())
	assert.Equal(t, "closing", session.Closing.String())
	assert.Equal(t, "closed", session.Closed.String())
}
