package component

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/jmrinaldi/atlas/errors"
)

// Factory creates a component instance from configuration.
// The factory function receives raw JSON configuration and dependencies,
// parses its own config, and returns a properly initialized component.
// All I/O operations belong in the component's Start() method, not the factory.
type Factory func(rawConfig json.RawMessage, deps Dependencies) (Discoverable, error)

// Registration holds factory and metadata for a component type
type Registration struct {
	Name        string       `json:"name"`        // Factory name (e.g., "evaluator")
	Type        string       `json:"type"`        // Component type (input/processor/output)
	Description string       `json:"description"` // Human-readable description
	Version     string       `json:"version"`     // Component version
	Schema      ConfigSchema `json:"schema"`      // Schema as static metadata
	Factory     Factory      `json:"-"`           // Factory function (not serializable)
}

// Registry manages component factories and instances.
// It provides thread-safe registration and lookup of both factories
// (for creation) and instances (for discovery and shutdown ordering).
type Registry struct {
	factories map[string]*Registration
	instances map[string]Discoverable
	mu        sync.RWMutex
}

// NewRegistry creates a new empty component registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]*Registration),
		instances: make(map[string]Discoverable),
	}
}

// Register registers a component factory.
// Returns an error if a factory with the same name is already registered.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "name validation")
	}
	if reg.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "factory validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[reg.Name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("factory '%s' is already registered", reg.Name),
			"Registry", "Register", "duplicate factory check")
	}

	r.factories[reg.Name] = &reg
	return nil
}

// Create instantiates a component from a registered factory and tracks the
// instance under instanceName.
func (r *Registry) Create(
	factoryName, instanceName string, rawConfig json.RawMessage, deps Dependencies,
) (Discoverable, error) {
	r.mu.RLock()
	reg, exists := r.factories[factoryName]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no factory registered for '%s'", factoryName),
			"Registry", "Create", "factory lookup")
	}

	comp, err := reg.Factory(rawConfig, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", factoryName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[instanceName]; exists {
		return nil, errors.WrapInvalid(
			fmt.Errorf("instance '%s' already exists", instanceName),
			"Registry", "Create", "duplicate instance check")
	}
	r.instances[instanceName] = comp

	return comp, nil
}

// Instance returns a tracked instance by name.
func (r *Registry) Instance(name string) (Discoverable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	comp, ok := r.instances[name]
	return comp, ok
}

// Remove drops a tracked instance. The caller is responsible for stopping it.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, name)
}

// ListFactories returns the names of all registered factories, sorted.
func (r *Registry) ListFactories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListInstances returns the names of all tracked instances, sorted.
func (r *Registry) ListInstances() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
