package client

import "sync"

// CancelSignal is a one-shot edge-triggered cancellation flag. The dispatcher
// owns one per chat; the composite orchestrator derives per-stage signals and
// cascades the caller's into whichever upstream is active.
type CancelSignal struct {
	once sync.Once
	ch   chan struct{}
}

// NewCancelSignal returns an unset signal.
func NewCancelSignal() *CancelSignal {
	return &CancelSignal{ch: make(chan struct{})}
}

// Set fires the signal. Safe to call more than once and from any goroutine.
func (s *CancelSignal) Set() {
	s.once.Do(func() { close(s.ch) })
}

// IsSet reports whether the signal has fired.
func (s *CancelSignal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the signal fires.
func (s *CancelSignal) Done() <-chan struct{} {
	return s.ch
}
