package identity

import (
	"sync"

	"github.com/starford/galleria/internal/models"
)

// Listener receives published authentication states.
type Listener func(models.AuthState)

// Emitter fans published states out to listeners. Delivery order between
// listeners is unspecified, and late subscribers get no replay.
// The zero value is ready to use.
type Emitter struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]Listener
}

// Subscribe registers fn and returns a function that removes it. The returned
// function is safe to call more than once.
func (e *Emitter) Subscribe(fn Listener) (unsubscribe func()) {
	e.mu.Lock()
	if e.listeners == nil {
		e.listeners = make(map[uint64]Listener)
	}
	e.nextID++
	id := e.nextID
	e.listeners[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

// Notify delivers state to a snapshot of the current listeners. Listeners may
// subscribe or unsubscribe from inside their callback.
func (e *Emitter) Notify(state models.AuthState) {
	e.mu.Lock()
	snapshot := make([]Listener, 0, len(e.listeners))
	for _, fn := range e.listeners {
		snapshot = append(snapshot, fn)
	}
	e.mu.Unlock()

	for _, fn := range snapshot {
		fn(state)
	}
}

// Len returns the number of registered listeners.
func (e *Emitter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}
