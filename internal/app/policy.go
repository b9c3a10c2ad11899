package app

import (
	"fmt"

	"github.com/dkeye/rendezvous/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a recipient whose outbound queue is full.
type Policy interface {
	OnBackPressure(room domain.RoomID, member domain.SessionID) BackpressureAction
}

// DropPolicy keeps delivery best-effort: the frame is lost, the member stays.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.RoomID, domain.SessionID) BackpressureAction {
	return DropFrame
}

// KickPolicy closes the slow member's connection, which then disconnects it.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(domain.RoomID, domain.SessionID) BackpressureAction {
	return KickMember
}

// PolicyByName maps the config value to a Policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "drop":
		return DropPolicy{}, nil
	case "kick":
		return KickPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}
