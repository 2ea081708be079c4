package engine

import (
	"fmt"
	"sync"
)

// Registry tracks the connected engines, keyed by service name. A gateway
// usually serves a single "default" service but can front several databases
// at once.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*SQLEngine
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*SQLEngine)}
}

// Connect opens an engine for the service and registers it. An existing
// engine under the same name is closed first.
func (r *Registry) Connect(serviceName string, cfg ConnectionConfig) error {
	eng, err := Open(cfg)
	if err != nil {
		return fmt.Errorf("connect service %q: %w", serviceName, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.active[serviceName]; ok {
		existing.Close()
	}
	r.active[serviceName] = eng
	return nil
}

// Get returns the engine for a service.
func (r *Registry) Get(serviceName string) (*SQLEngine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	eng, ok := r.active[serviceName]
	if !ok {
		return nil, fmt.Errorf("service %q not found (available: %v)", serviceName, r.serviceNames())
	}
	return eng, nil
}

// Disconnect closes and removes a service's engine.
func (r *Registry) Disconnect(serviceName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	eng, ok := r.active[serviceName]
	if !ok {
		return fmt.Errorf("service %q not found", serviceName)
	}
	err := eng.Close()
	delete(r.active, serviceName)
	return err
}

// Services returns the names of all connected services.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.serviceNames()
}

// CloseAll disconnects every service. Used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, eng := range r.active {
		eng.Close()
		delete(r.active, name)
	}
}

func (r *Registry) serviceNames() []string {
	names := make([]string, 0, len(r.active))
	for name := range r.active {
		names = append(names, name)
	}
	return names
}
