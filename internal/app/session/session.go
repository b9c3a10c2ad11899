// Package session runs the per-connection state machine: it turns inbound
// text lines into registry requests and renders the outcomes as reply lines.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/rendezvous/internal/core"
	"github.com/dkeye/rendezvous/internal/domain"
	"github.com/dkeye/rendezvous/internal/metrics"
)

type State int32

const (
	Connecting State = iota
	Active
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// DefaultTimeout is how long a peer may stay silent before it is considered dead.
const DefaultTimeout = 10 * time.Second

var ErrNotActive = errors.New("session not active")

// Registry is what a session needs from the room registry.
type Registry interface {
	Connect(ctx context.Context, sink core.SignalConnection, room domain.RoomID) (domain.SessionID, error)
	Disconnect(ctx context.Context, sid domain.SessionID, room domain.RoomID) error
	ClientMessage(ctx context.Context, sid domain.SessionID, room domain.RoomID, text string) error
	ListRooms(ctx context.Context) ([]domain.RoomID, error)
	Members(ctx context.Context, room domain.RoomID) ([]domain.SessionID, error)
	Room(ctx context.Context, id domain.RoomID) (domain.RoomKey, bool, error)
	Invite(ctx context.Context, sid domain.SessionID, fromRoom, target domain.RoomID) error
	SendRoomKey(ctx context.Context, fromRoom, target domain.RoomID, to domain.SessionID) error
	Join(ctx context.Context, sid domain.SessionID, from, target domain.RoomID, key domain.RoomKey) (domain.RoomID, error)
	Direct(ctx context.Context, room domain.RoomID, from, to domain.SessionID, text string) error
}

type Options struct {
	// Timeout is the liveness window; DefaultTimeout when zero.
	Timeout time.Duration
	// ICE is the JSON array returned by /ice.
	ICE []byte
	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// Session is one connection's view of the registry. HandleText must be called
// from a single goroutine; Touch, Expired and Close are safe from any.
type Session struct {
	reg  Registry
	out  core.SignalConnection
	opts Options

	state    atomic.Int32
	lastSeen atomic.Int64

	mu   sync.Mutex
	sid  domain.SessionID
	room domain.RoomID

	closeOnce sync.Once
}

// New prepares a session for a connection whose slot room was already
// reserved. Nothing is registered until Start.
func New(reg Registry, out core.SignalConnection, room domain.RoomID, opts Options) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Session{reg: reg, out: out, opts: opts, room: room}
	s.state.Store(int32(Connecting))
	return s
}

// Start registers the session. On failure the session is closed and the
// error returned; the caller still owns the reserved slot.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()

	sid, err := s.reg.Connect(ctx, s.out, room)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Stringer("room", room).Msg("connect failed")
		s.state.Store(int32(Closing))
		s.Close(context.WithoutCancel(ctx))
		return fmt.Errorf("connect: %w", err)
	}

	s.mu.Lock()
	s.sid = sid
	s.mu.Unlock()
	s.Touch()
	s.state.Store(int32(Active))
	log.Info().Str("module", "session").Stringer("sid", sid).Stringer("room", room).Msg("session active")
	return nil
}

func (s *Session) State() State { return State(s.state.Load()) }

// ID returns the registry-issued id; zero before Start succeeds.
func (s *Session) ID() domain.SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sid
}

// Room returns the room the session currently sits in.
func (s *Session) Room() domain.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Touch records a sign of life from the peer.
func (s *Session) Touch() {
	s.lastSeen.Store(s.opts.Now().UnixNano())
}

// Expired reports whether the peer has been silent for longer than the timeout.
func (s *Session) Expired(now time.Time) bool {
	last := time.Unix(0, s.lastSeen.Load())
	return now.Sub(last) > s.opts.Timeout
}

// Close notifies the registry exactly once, whichever exit path gets here first.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(Closing))
		s.mu.Lock()
		sid, room := s.sid, s.room
		s.mu.Unlock()

		if err := s.reg.Disconnect(ctx, sid, room); err != nil {
			log.Warn().Err(err).Str("module", "session").Stringer("sid", sid).Msg("disconnect not delivered")
		}
		s.state.Store(int32(Closed))
		log.Info().Str("module", "session").Stringer("sid", sid).Stringer("room", room).Msg("session closed")
	})
}

// reply queues a line for the peer. A full queue loses the line.
func (s *Session) reply(f core.Frame) {
	if err := s.out.TrySend(f); err != nil {
		log.Debug().Err(err).Str("module", "session").Stringer("sid", s.ID()).Msg("reply dropped")
	}
}

func (s *Session) replyErr(msg string) {
	s.reply(core.Frame("!!! " + msg))
}

func (s *Session) count(command string) {
	metrics.Commands.WithLabelValues(command).Inc()
}
