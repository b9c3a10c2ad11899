package app

import (
	"slices"

	"github.com/dkeye/rendezvous/internal/core"
	"github.com/dkeye/rendezvous/internal/domain"
)

// roomTable indexes live rooms by id. Owned by the registry goroutine.
type roomTable struct {
	rooms  map[domain.RoomID]*room
	newKey func() domain.RoomKey
}

func newRoomTable(newKey func() domain.RoomKey) *roomTable {
	return &roomTable{
		rooms:  make(map[domain.RoomID]*room),
		newKey: newKey,
	}
}

// getOrCreate returns the room, creating it with a fresh key if absent.
func (t *roomTable) getOrCreate(id domain.RoomID) (*room, bool) {
	if rm, ok := t.rooms[id]; ok {
		return rm, false
	}
	rm := newRoom(id, t.newKey())
	t.rooms[id] = rm
	return rm, true
}

func (t *roomTable) get(id domain.RoomID) (*room, bool) {
	rm, ok := t.rooms[id]
	return rm, ok
}

func (t *roomTable) remove(id domain.RoomID) { delete(t.rooms, id) }
func (t *roomTable) len() int                { return len(t.rooms) }

// ids returns the live room ids in ascending order.
func (t *roomTable) ids() []domain.RoomID {
	out := make([]domain.RoomID, 0, len(t.rooms))
	for id := range t.rooms {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (t *roomTable) list() []core.RoomInfo {
	out := make([]core.RoomInfo, 0, len(t.rooms))
	for _, id := range t.ids() {
		out = append(out, core.RoomInfo{ID: id, MemberCount: t.rooms[id].len()})
	}
	return out
}
