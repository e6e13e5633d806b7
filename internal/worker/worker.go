package worker

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/aerofleet/swarmctl/internal/storage"
)

// ErrUnexpectedPayload is returned when an event carries the wrong payload type.
var ErrUnexpectedPayload = fmt.Errorf("unexpected event payload")

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Logger *slog.Logger
}

// Manager forwards dispatched vehicle events to a storage backend.
type Manager struct {
	deps    Dependencies
	backend storage.Backend

	mu       sync.Mutex
	recorded map[string]int
	failed   map[string]int
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies, backend storage.Backend) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		deps:     deps,
		backend:  backend,
		recorded: make(map[string]int),
		failed:   make(map[string]int),
	}
}

// Stats returns how many events of each kind were recorded and how many
// the backend rejected.
func (m *Manager) Stats() (recorded, failed map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recorded = make(map[string]int, len(m.recorded))
	for k, v := range m.recorded {
		recorded[k] = v
	}
	failed = make(map[string]int, len(m.failed))
	for k, v := range m.failed {
		failed[k] = v
	}
	return recorded, failed
}

func (m *Manager) count(kind string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failed[kind]++
		return
	}
	m.recorded[kind]++
}
