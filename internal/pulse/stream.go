package pulse

import (
	"context"
	"sync"
	"time"
)

// DefaultReadTimeout is how long StreamSource.Next waits for a pulse.
const DefaultReadTimeout = time.Second

// WithReadTimeout sets the time Next waits before reporting ErrTimeout.
func WithReadTimeout(d time.Duration) func(*StreamSource) {
	return func(s *StreamSource) {
		s.timeout = d
	}
}

// WithOpsInfo sets the initial operating information.
func WithOpsInfo(info OpsInfo) func(*StreamSource) {
	return func(s *StreamSource) {
		s.info = info
	}
}

// StreamSource is a Source fed through a channel by a receiver goroutine.
// Closing the channel ends the stream.
type StreamSource struct {
	pulses  <-chan *Pulse
	timeout time.Duration

	mu   sync.RWMutex
	info OpsInfo
}

// NewStreamSource creates a source reading from pulses.
func NewStreamSource(pulses <-chan *Pulse, options ...func(*StreamSource)) *StreamSource {
	s := StreamSource{
		pulses:  pulses,
		timeout: DefaultReadTimeout,
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Next waits for the next pulse, the read timeout or ctx cancellation.
func (s *StreamSource) Next(ctx context.Context) (*Pulse, error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case p, ok := <-s.pulses:
		if !ok {
			return nil, ErrEndOfStream
		}
		return p, nil

	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Reset is not supported on a live stream.
func (s *StreamSource) Reset() error {
	return ErrResetUnsupported
}

// SetOpsInfo publishes new operating information, typically when the
// receiver decodes a metadata packet.
func (s *StreamSource) SetOpsInfo(info OpsInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
}

func (s *StreamSource) OpsInfo() OpsInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}
