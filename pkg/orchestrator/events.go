package orchestrator

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// EventKind identifies which Line transition an Event reports.
type EventKind int

const (
	EventLineStarted EventKind = iota
	EventLineUpdated
	EventLineTextChanged
	EventLineCompleted
	EventError
)

// Event is the sum-type payload delivered to registered listeners.
type Event struct {
	Kind     EventKind
	StreamID int32
	Line     Line
	Err      error
}

// Listener receives Events. Listeners run on the goroutine that produced the
// event (inside TranscribeStream/TranscribeWithoutStreaming); a listener
// that blocks delays that call's return to its caller.
type Listener func(Event)

// listenerRegistry dispatches Events to registered Listeners under a token
// the caller can later use to unregister. A panicking listener is
// recovered and logged rather than propagated, mirroring the reference
// engine's shutdown-hook dispatch.
type listenerRegistry struct {
	mu        sync.RWMutex
	listeners map[uuid.UUID]Listener
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{listeners: make(map[uuid.UUID]Listener)}
}

// Register adds a listener and returns a token for Unregister.
func (r *listenerRegistry) Register(l Listener) uuid.UUID {
	token := uuid.New()
	r.mu.Lock()
	r.listeners[token] = l
	r.mu.Unlock()
	return token
}

// Unregister removes a listener by token. A no-op if token is unknown.
func (r *listenerRegistry) Unregister(token uuid.UUID) {
	r.mu.Lock()
	delete(r.listeners, token)
	r.mu.Unlock()
}

func (r *listenerRegistry) dispatch(ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.listeners {
		func(l Listener) {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("orchestrator: listener panicked", slog.Any("panic", rec))
				}
			}()
			l(ev)
		}(l)
	}
}
