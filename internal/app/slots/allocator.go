// Package slots hands out room identifiers from a fixed pool.
package slots

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/rendezvous/internal/domain"
)

var (
	ErrNotIssued  = errors.New("slot is not issued")
	ErrOutOfRange = errors.New("slot out of range")
)

// Allocator is a bounded pool of room ids [0, capacity).
// Freed ids are reused last-freed-first. Safe for concurrent use: the
// admission path reserves and the registry refunds.
type Allocator struct {
	mu       sync.Mutex
	capacity int
	free     []domain.RoomID // stack, top at the end
	issued   map[domain.RoomID]struct{}
}

func New(capacity int) *Allocator {
	if capacity < 0 {
		capacity = 0
	}
	free := make([]domain.RoomID, capacity)
	for i := range free {
		free[i] = domain.RoomID(capacity - 1 - i)
	}
	return &Allocator{
		capacity: capacity,
		free:     free,
		issued:   make(map[domain.RoomID]struct{}, capacity),
	}
}

// Reserve returns the next available id. ok is false when every id is issued;
// that is a capacity rejection, not a fault.
func (a *Allocator) Reserve() (id domain.RoomID, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.free)
	if n == 0 {
		return 0, false
	}
	id = a.free[n-1]
	a.free = a.free[:n-1]
	a.issued[id] = struct{}{}
	return id, true
}

// Refund returns an issued id to the pool. Any issued id may be refunded in
// any order; refunding an id twice or one that was never issued is rejected.
func (a *Allocator) Refund(id domain.RoomID) error {
	if uint64(id) >= uint64(a.capacity) {
		return fmt.Errorf("refund %d: %w", id, ErrOutOfRange)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.issued[id]; !ok {
		return fmt.Errorf("refund %d: %w", id, ErrNotIssued)
	}
	delete(a.issued, id)
	a.free = append(a.free, id)
	return nil
}

// Issued reports whether id is currently held by a live room.
func (a *Allocator) Issued(id domain.RoomID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.issued[id]
	return ok
}

func (a *Allocator) Capacity() int { return a.capacity }

// Available is the number of ids that Reserve can still hand out.
func (a *Allocator) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}
