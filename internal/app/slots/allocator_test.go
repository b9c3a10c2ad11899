package slots

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/rendezvous/internal/domain"
)

func TestAllocator_ReserveInOrder(t *testing.T) {
	a := New(3)
	for want := 0; want < 3; want++ {
		id, ok := a.Reserve()
		require.True(t, ok)
		assert.Equal(t, domain.RoomID(want), id)
	}
	assert.Equal(t, 0, a.Available())
}

func TestAllocator_Exhaustion(t *testing.T) {
	a := New(2)
	_, ok := a.Reserve()
	require.True(t, ok)
	second, ok := a.Reserve()
	require.True(t, ok)

	_, ok = a.Reserve()
	assert.False(t, ok, "pool of 2 must be exhausted after 2 reserves")
	assert.Equal(t, 0, a.Available())

	require.NoError(t, a.Refund(second))
	id, ok := a.Reserve()
	require.True(t, ok)
	assert.Equal(t, second, id, "refunded id must be handed out next")
}

func TestAllocator_LastFreedFirst(t *testing.T) {
	a := New(5)
	for i := 0; i < 5; i++ {
		_, ok := a.Reserve()
		require.True(t, ok)
	}
	require.NoError(t, a.Refund(1))
	require.NoError(t, a.Refund(3))

	id, ok := a.Reserve()
	require.True(t, ok)
	assert.Equal(t, domain.RoomID(3), id)
	id, ok = a.Reserve()
	require.True(t, ok)
	assert.Equal(t, domain.RoomID(1), id)
}

func TestAllocator_RefundErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(a *Allocator)
		refund  domain.RoomID
		wantErr error
	}{
		{
			name:    "never issued",
			setup:   func(a *Allocator) {},
			refund:  2,
			wantErr: ErrNotIssued,
		},
		{
			name: "double refund",
			setup: func(a *Allocator) {
				id, _ := a.Reserve()
				_ = a.Refund(id)
			},
			refund:  0,
			wantErr: ErrNotIssued,
		},
		{
			name:    "out of range",
			setup:   func(a *Allocator) {},
			refund:  4,
			wantErr: ErrOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(4)
			tt.setup(a)
			before := a.Available()
			err := a.Refund(tt.refund)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, a.Available(), "rejected refund must not touch the pool")
		})
	}
}

func TestAllocator_OutOfOrderRefundKeepsPoolConsistent(t *testing.T) {
	a := New(4)
	ids := make([]domain.RoomID, 0, 4)
	for i := 0; i < 4; i++ {
		id, ok := a.Reserve()
		require.True(t, ok)
		ids = append(ids, id)
	}
	// Refund in FIFO order, which a cursor-only pool would corrupt.
	for _, id := range ids {
		require.NoError(t, a.Refund(id))
	}

	seen := make(map[domain.RoomID]bool)
	for i := 0; i < 4; i++ {
		id, ok := a.Reserve()
		require.True(t, ok)
		assert.False(t, seen[id], "id %d issued twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, 4)
}

func TestAllocator_ConcurrentReserveRefund(t *testing.T) {
	const capacity = 64
	a := New(capacity)

	var (
		mu   sync.Mutex
		live = make(map[domain.RoomID]bool)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id, ok := a.Reserve()
				if !ok {
					continue
				}
				mu.Lock()
				assert.False(t, live[id], "id %d issued twice", id)
				live[id] = true
				assert.LessOrEqual(t, len(live), capacity)
				mu.Unlock()

				mu.Lock()
				delete(live, id)
				mu.Unlock()
				assert.NoError(t, a.Refund(id))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, capacity, a.Available())
}
