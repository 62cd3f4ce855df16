package pulse

import (
	"context"
	"errors"
)

var (
	// ErrEndOfStream is returned by a Source that has no more pulses.
	ErrEndOfStream = errors.New("end of pulse stream")

	// ErrTimeout is returned by a Source when no pulse arrived within its
	// read timeout. The stream may still deliver pulses later.
	ErrTimeout = errors.New("pulse read timed out")

	// ErrResetUnsupported is returned by sources that cannot rewind.
	ErrResetUnsupported = errors.New("source cannot be reset")
)

// Source delivers pulses in arrival order. Next may block. Pulses returned by
// Next have no clients; the caller either retains them or recycles them.
type Source interface {
	Next(ctx context.Context) (*Pulse, error)

	// Reset rewinds the source to its first pulse.
	Reset() error

	// OpsInfo returns the operating information in effect for the pulse
	// most recently returned by Next.
	OpsInfo() OpsInfo
}
