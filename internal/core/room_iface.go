package core

import "github.com/dkeye/rendezvous/internal/domain"

// PublishResult reports delivery stats/backpressure to the registry.
type PublishResult struct {
	SendTo  int
	Dropped []domain.SessionID
}

// RoomInfo is a read-only view for APIs (no key, no transport fields).
type RoomInfo struct {
	ID          domain.RoomID `json:"room"`
	MemberCount int           `json:"members"`
}

// Stats is a point-in-time snapshot of registry and allocator occupancy.
type Stats struct {
	Rooms     int `json:"rooms"`
	Sessions  int `json:"sessions"`
	Capacity  int `json:"capacity"`
	Available int `json:"available"`
}
