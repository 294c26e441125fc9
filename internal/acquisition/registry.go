package acquisition

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"trade-setup-assistant/internal/ai/llm"
	"trade-setup-assistant/internal/strategy"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("session limit reached")
)

// Registry holds machines by session ID
type Registry struct {
	model       llm.Model
	catalog     *strategy.Catalog
	opts        Options
	maxSessions int

	mu       sync.RWMutex
	machines map[string]*Machine
}

func NewRegistry(model llm.Model, catalog *strategy.Catalog, opts Options, maxSessions int) *Registry {
	return &Registry{
		model:       model,
		catalog:     catalog,
		opts:        opts,
		maxSessions: maxSessions,
		machines:    make(map[string]*Machine),
	}
}

// Create registers a new idle machine
func (r *Registry) Create() (*Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxSessions > 0 && len(r.machines) >= r.maxSessions {
		return nil, ErrTooManySessions
	}
	m := NewMachine(uuid.NewString(), r.model, r.catalog, r.opts)
	r.machines[m.ID()] = m
	return m, nil
}

func (r *Registry) Get(id string) (*Machine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return m, nil
}

// Delete resets and removes a machine. A machine that is analyzing is
// removed without a reset; its in-flight call finishes unobserved.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	m, ok := r.machines[id]
	delete(r.machines, id)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	_ = m.Reset()
	return nil
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.machines)
}
