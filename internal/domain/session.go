package domain

import "strconv"

// SessionID identifies one live connection inside the registry.
// Zero is never issued.
type SessionID uint64

func (id SessionID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseRoomID parses a decimal, non-negative room id.
func ParseRoomID(s string) (RoomID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	return RoomID(v), err
}

// ParseSessionID parses a decimal, non-negative session id.
func ParseSessionID(s string) (SessionID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	return SessionID(v), err
}

// ParseRoomKey parses a decimal, non-negative room key.
func ParseRoomKey(s string) (RoomKey, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	return RoomKey(v), err
}
