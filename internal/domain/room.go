// Package domain contains entity types without logic, just meta-data
package domain

import (
	"errors"
	"strconv"
)

// DefaultMaxMembers caps room membership when no limit is configured.
const DefaultMaxMembers = 10

var (
	ErrRoomNotFound    = errors.New("room does not exist")
	ErrBadKey          = errors.New("bad key")
	ErrRoomFull        = errors.New("room is full")
	ErrSessionNotFound = errors.New("id not found")
)

type (
	// RoomID is a slot handed out by the allocator.
	RoomID uint64
	// RoomKey gates joins into a room. Generated once when the room is created.
	RoomKey uint64
)

func (id RoomID) String() string { return strconv.FormatUint(uint64(id), 10) }
func (k RoomKey) String() string { return strconv.FormatUint(uint64(k), 10) }
