package core

import "github.com/dkeye/Parley/internal/domain"

// Frame is a raw encoded payload ready for the wire.
type Frame []byte

// SignalConnection abstracts the messaging transport of one member.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	ID() domain.ConnID
	// TrySend never blocks; it fails on backpressure or a closed connection.
	TrySend(Frame) error
	Close()
}
