package app

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	mrand "math/rand/v2"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/rendezvous/internal/core"
	"github.com/dkeye/rendezvous/internal/domain"
	"github.com/dkeye/rendezvous/internal/metrics"
)

var ErrRegistryClosed = errors.New("registry closed")

// maxSessionID keeps ids within the range a JavaScript number holds exactly.
const maxSessionID = 1<<53 - 1

// SlotPool is the part of the slot allocator the registry needs: it refunds
// ids of rooms that empty out.
type SlotPool interface {
	Refund(id domain.RoomID) error
	Capacity() int
	Available() int
}

type sessionEntry struct {
	room domain.RoomID
	sink core.SignalConnection
}

type op struct {
	fn   func()
	done chan struct{}
}

// Registry is the single owner of sessions, rooms and room keys.
// All state lives in the goroutine started by Run; every public method
// submits a closure to it and waits for it to finish, so no two operations
// interleave their effects.
type Registry struct {
	ops     chan op
	stopped chan struct{}

	slots      SlotPool
	policy     Policy
	maxMembers int
	newSID     func() domain.SessionID

	sessions map[domain.SessionID]*sessionEntry
	rooms    *roomTable
}

type Option func(*Registry)

// WithMaxMembers caps room membership. Values below 1 are ignored.
func WithMaxMembers(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxMembers = n
		}
	}
}

func WithPolicy(p Policy) Option {
	return func(r *Registry) {
		if p != nil {
			r.policy = p
		}
	}
}

func NewRegistry(slots SlotPool, opts ...Option) *Registry {
	r := &Registry{
		ops:        make(chan op),
		stopped:    make(chan struct{}),
		slots:      slots,
		policy:     DropPolicy{},
		maxMembers: domain.DefaultMaxMembers,
		newSID:     randomSessionID,
		sessions:   make(map[domain.SessionID]*sessionEntry),
		rooms:      newRoomTable(randomKey),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run serves registry operations until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	log.Info().Str("module", "app.registry").Int("max_members", r.maxMembers).Msg("registry started")
	defer func() {
		close(r.stopped)
		log.Info().Str("module", "app.registry").Msg("registry stopped")
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-r.ops:
			o.fn()
			close(o.done)
		}
	}
}

// Done is closed once Run has returned.
func (r *Registry) Done() <-chan struct{} { return r.stopped }

// exec runs fn on the registry goroutine. Once fn has been accepted it always
// runs to completion, so an error means fn had no effect.
func (r *Registry) exec(ctx context.Context, fn func()) error {
	o := op{fn: fn, done: make(chan struct{})}
	select {
	case r.ops <- o:
	case <-r.stopped:
		return ErrRegistryClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-o.done
	return nil
}

func randomKey() domain.RoomKey {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return domain.RoomKey(binary.BigEndian.Uint64(b[:]))
}

func randomSessionID() domain.SessionID {
	return domain.SessionID(mrand.Uint64N(maxSessionID) + 1)
}

// issueSessionID draws ids until one is unused.
func (r *Registry) issueSessionID() domain.SessionID {
	for {
		sid := r.newSID()
		if _, taken := r.sessions[sid]; !taken && sid != 0 {
			return sid
		}
	}
}

// deliver hands f to one session's sink without waiting. Delivery is
// best-effort: frames for unknown or congested sessions are dropped.
func (r *Registry) deliver(sid domain.SessionID, f core.Frame) bool {
	e, ok := r.sessions[sid]
	if !ok {
		metrics.DeliveriesDropped.Inc()
		return false
	}
	err := e.sink.TrySend(f)
	if err == nil {
		return true
	}
	metrics.DeliveriesDropped.Inc()
	if errors.Is(err, core.ErrBackpressure) && r.policy.OnBackPressure(e.room, sid) == KickMember {
		log.Warn().Str("module", "app.registry").Stringer("sid", sid).Stringer("room", e.room).Msg("kicking slow member")
		e.sink.Close()
	}
	return false
}

// broadcast delivers f to every member of rm except skip.
func (r *Registry) broadcast(rm *room, f core.Frame, skip domain.SessionID) core.PublishResult {
	res := core.PublishResult{}
	for sid := range rm.members {
		if sid == skip {
			continue
		}
		if !r.deliver(sid, f) {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "app.registry").Stringer("room", rm.id).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func membersLine(rm *room) core.Frame {
	return core.Line("/members", core.Strings(rm.memberIDs())...)
}

// leave removes sid from room id. An emptied room is deleted, its key
// discarded and its slot refunded; otherwise the rest of the room learns the
// new membership.
func (r *Registry) leave(sid domain.SessionID, id domain.RoomID) {
	rm, ok := r.rooms.get(id)
	if !ok {
		return
	}
	rm.remove(sid)
	if rm.len() > 0 {
		r.broadcast(rm, membersLine(rm), 0)
		return
	}
	r.rooms.remove(id)
	if err := r.slots.Refund(id); err != nil {
		log.Debug().Err(err).Str("module", "app.registry").Stringer("room", id).Msg("room id was not allocator-issued")
	}
	log.Info().Str("module", "app.registry").Stringer("room", id).Msg("room removed")
}

func (r *Registry) observe() {
	metrics.Rooms.Set(float64(r.rooms.len()))
	metrics.Sessions.Set(float64(len(r.sessions)))
}
