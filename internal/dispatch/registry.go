package dispatch

import (
	"sync"

	"github.com/DreamFate/DeepClaude/internal/client"
)

// CancelRegistry maps in-flight chat ids to their cancellation signals.
// Entries are added at dispatch and removed when the request finishes, on
// every exit path, so the map never grows unbounded.
type CancelRegistry struct {
	mutex   sync.Mutex
	signals map[string]*client.CancelSignal
}

// NewCancelRegistry returns an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{signals: make(map[string]*client.CancelSignal)}
}

// Register adds a signal under chatID. It reports false when the id is
// already taken, letting the caller pick another.
func (r *CancelRegistry) Register(chatID string, signal *client.CancelSignal) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, exists := r.signals[chatID]; exists {
		return false
	}
	r.signals[chatID] = signal
	return true
}

// Cancel fires the signal registered under chatID, reporting whether one
// existed.
func (r *CancelRegistry) Cancel(chatID string) bool {
	r.mutex.Lock()
	signal, exists := r.signals[chatID]
	r.mutex.Unlock()
	if !exists {
		return false
	}
	signal.Set()
	return true
}

// Remove drops the registration for chatID.
func (r *CancelRegistry) Remove(chatID string) {
	r.mutex.Lock()
	delete(r.signals, chatID)
	r.mutex.Unlock()
}

// Len reports the number of in-flight registrations.
func (r *CancelRegistry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.signals)
}
