package core

import "errors"

var (
	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")
)

// Frame is one outbound text payload.
type Frame []byte

// SignalConnection is the outbound sink of one connection.
// Owned by the adapter; the adapter must Close() it.
//
// TrySend never blocks: delivery is best-effort and unacknowledged. A full
// queue yields ErrBackpressure, a closed sink ErrConnectionClosed, and the
// frame is dropped in both cases.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
