package app

import (
	"slices"

	"github.com/dkeye/rendezvous/internal/domain"
)

// room is the registry's record of one live room.
// Only the registry goroutine touches it, so there is no lock.
type room struct {
	id      domain.RoomID
	key     domain.RoomKey
	members map[domain.SessionID]struct{}
}

func newRoom(id domain.RoomID, key domain.RoomKey) *room {
	return &room{
		id:      id,
		key:     key,
		members: make(map[domain.SessionID]struct{}),
	}
}

func (r *room) add(sid domain.SessionID)    { r.members[sid] = struct{}{} }
func (r *room) remove(sid domain.SessionID) { delete(r.members, sid) }
func (r *room) len() int                    { return len(r.members) }

func (r *room) has(sid domain.SessionID) bool {
	_, ok := r.members[sid]
	return ok
}

// memberIDs returns the members in ascending order.
func (r *room) memberIDs() []domain.SessionID {
	out := make([]domain.SessionID, 0, len(r.members))
	for sid := range r.members {
		out = append(out, sid)
	}
	slices.Sort(out)
	return out
}
