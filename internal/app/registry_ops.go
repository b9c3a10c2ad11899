package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/rendezvous/internal/core"
	"github.com/dkeye/rendezvous/internal/domain"
)

// Connect registers a new session in room, creating the room and its key if
// the room does not exist yet.
func (r *Registry) Connect(ctx context.Context, sink core.SignalConnection, room domain.RoomID) (domain.SessionID, error) {
	var sid domain.SessionID
	err := r.exec(ctx, func() {
		sid = r.issueSessionID()
		r.sessions[sid] = &sessionEntry{room: room, sink: sink}
		rm, created := r.rooms.getOrCreate(room)
		rm.add(sid)
		r.observe()
		log.Info().Str("module", "app.registry").Stringer("sid", sid).Stringer("room", room).Bool("new_room", created).Msg("session connected")
	})
	return sid, err
}

// Disconnect drops the session. room is the caller's view; the registry's own
// record of the session's room wins, so a disconnect racing a join cannot
// leave a ghost member behind. Unknown sessions are ignored.
func (r *Registry) Disconnect(ctx context.Context, sid domain.SessionID, room domain.RoomID) error {
	return r.exec(ctx, func() {
		e, ok := r.sessions[sid]
		if !ok {
			return
		}
		delete(r.sessions, sid)
		if e.room != room {
			log.Debug().Str("module", "app.registry").Stringer("sid", sid).Stringer("room", e.room).Stringer("caller_room", room).Msg("disconnect room differs from record")
		}
		r.leave(sid, e.room)
		r.observe()
		log.Info().Str("module", "app.registry").Stringer("sid", sid).Stringer("room", e.room).Msg("session disconnected")
	})
}

// ClientMessage broadcasts text to every other member of room. Senders that
// are not members of room are ignored.
func (r *Registry) ClientMessage(ctx context.Context, sid domain.SessionID, room domain.RoomID, text string) error {
	return r.exec(ctx, func() {
		rm, ok := r.rooms.get(room)
		if !ok || !rm.has(sid) {
			return
		}
		r.broadcast(rm, core.Line("/message", sid.String(), text), sid)
	})
}

// ListRooms returns every live room id in ascending order.
func (r *Registry) ListRooms(ctx context.Context) ([]domain.RoomID, error) {
	var ids []domain.RoomID
	err := r.exec(ctx, func() { ids = r.rooms.ids() })
	return ids, err
}

// Members returns the members of room in ascending order; empty if the room
// does not exist.
func (r *Registry) Members(ctx context.Context, room domain.RoomID) ([]domain.SessionID, error) {
	ids := []domain.SessionID{}
	err := r.exec(ctx, func() {
		if rm, ok := r.rooms.get(room); ok {
			ids = rm.memberIDs()
		}
	})
	return ids, err
}

// Room returns the key of room id. ok is false if the room is unknown.
func (r *Registry) Room(ctx context.Context, id domain.RoomID) (key domain.RoomKey, ok bool, err error) {
	err = r.exec(ctx, func() {
		var rm *room
		if rm, ok = r.rooms.get(id); ok {
			key = rm.key
		}
	})
	return key, ok, err
}

// Invite tells every member of target that sid, sitting in fromRoom, wants
// them over. Fails with domain.ErrRoomNotFound if target does not exist.
func (r *Registry) Invite(ctx context.Context, sid domain.SessionID, fromRoom, target domain.RoomID) error {
	var result error
	err := r.exec(ctx, func() {
		rm, ok := r.rooms.get(target)
		if !ok {
			result = domain.ErrRoomNotFound
			return
		}
		r.broadcast(rm, core.Line("/invite", fromRoom.String(), sid.String()), 0)
	})
	if err != nil {
		return err
	}
	return result
}

// SendRoomKey hands the key of fromRoom to session to, provided it is a
// member of target. Fails with domain.ErrRoomNotFound unless both rooms exist.
func (r *Registry) SendRoomKey(ctx context.Context, fromRoom, target domain.RoomID, to domain.SessionID) error {
	var result error
	err := r.exec(ctx, func() {
		src, ok := r.rooms.get(fromRoom)
		if !ok {
			result = domain.ErrRoomNotFound
			return
		}
		dst, ok := r.rooms.get(target)
		if !ok {
			result = domain.ErrRoomNotFound
			return
		}
		if dst.has(to) {
			r.deliver(to, core.Line("/send", fromRoom.String(), src.key.String()))
		}
	})
	if err != nil {
		return err
	}
	return result
}

// Join moves sid into target if key matches target's key. The session leaves
// the room the registry has on record for it; from is the caller's view.
// Both rooms receive the new membership. Outcomes: domain.ErrSessionNotFound,
// domain.ErrRoomNotFound, domain.ErrBadKey, domain.ErrRoomFull.
func (r *Registry) Join(ctx context.Context, sid domain.SessionID, from, target domain.RoomID, key domain.RoomKey) (domain.RoomID, error) {
	var result error
	err := r.exec(ctx, func() {
		e, ok := r.sessions[sid]
		if !ok {
			result = domain.ErrSessionNotFound
			return
		}
		dst, ok := r.rooms.get(target)
		if !ok {
			result = domain.ErrRoomNotFound
			return
		}
		if dst.key != key {
			result = domain.ErrBadKey
			return
		}
		if e.room == target {
			return
		}
		if dst.len() >= r.maxMembers {
			result = domain.ErrRoomFull
			return
		}

		old := e.room
		if old != from {
			log.Debug().Str("module", "app.registry").Stringer("sid", sid).Stringer("room", old).Stringer("caller_room", from).Msg("join origin differs from record")
		}
		r.leave(sid, old)
		dst.add(sid)
		e.room = target
		r.broadcast(dst, membersLine(dst), 0)
		r.observe()
		log.Info().Str("module", "app.registry").Stringer("sid", sid).Stringer("from_room", old).Stringer("room", target).Msg("joined room")
	})
	if err != nil {
		return 0, err
	}
	if result != nil {
		return 0, result
	}
	return target, nil
}

// Direct delivers text to session to, if it is a member of room.
// Fails with domain.ErrSessionNotFound otherwise.
func (r *Registry) Direct(ctx context.Context, room domain.RoomID, from, to domain.SessionID, text string) error {
	var result error
	err := r.exec(ctx, func() {
		rm, ok := r.rooms.get(room)
		if !ok || !rm.has(to) {
			result = domain.ErrSessionNotFound
			return
		}
		r.deliver(to, core.Line("/direct_message", from.String(), text))
	})
	if err != nil {
		return err
	}
	return result
}

// Rooms lists live rooms with their member counts.
func (r *Registry) Rooms(ctx context.Context) ([]core.RoomInfo, error) {
	var out []core.RoomInfo
	err := r.exec(ctx, func() { out = r.rooms.list() })
	return out, err
}

func (r *Registry) Stats(ctx context.Context) (core.Stats, error) {
	var s core.Stats
	err := r.exec(ctx, func() {
		s = core.Stats{
			Rooms:     r.rooms.len(),
			Sessions:  len(r.sessions),
			Capacity:  r.slots.Capacity(),
			Available: r.slots.Available(),
		}
	})
	return s, err
}
