package core

import "errors"

// Frame is a raw binary payload.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// ClientTokenCookie carries the participant id of a signaling client.
const ClientTokenCookie = "ct"
