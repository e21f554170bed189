package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownAction is returned when a definition lookup misses.
var ErrUnknownAction = errors.New("unknown action")

// Registry is the runtime catalog of executable actions. It combines the
// general tool catalog with subject-native actions registered at startup.
// Subjects stay open for extension: registering a new action is a call,
// not a change to a central interface.
type Registry struct {
	mu        sync.RWMutex
	defs      map[string]ActionDefinition
	callbacks map[string]ActionFunc
}

// New creates a registry pre-populated with the general tool catalog.
func New() *Registry {
	r := &Registry{
		defs:      make(map[string]ActionDefinition),
		callbacks: make(map[string]ActionFunc),
	}
	for _, def := range GeneralTools() {
		r.defs[def.Name] = def
	}
	return r
}

// RegisterSubjectAction adds (or replaces) a subject-native action and its
// callback.
func (r *Registry) RegisterSubjectAction(def ActionDefinition, fn ActionFunc) error {
	if def.Name == "" {
		return fmt.Errorf("register action: name is required")
	}
	if fn == nil {
		return fmt.Errorf("register action %q: callback is required", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
	r.callbacks[def.Name] = fn
	return nil
}

// Unregister removes an action from the catalog. An already validated
// proposal fails its pre-execution re-validation afterward.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.defs, name)
	delete(r.callbacks, name)
}

// Get returns the definition for name, or ErrUnknownAction.
func (r *Registry) Get(name string) (ActionDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return ActionDefinition{}, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	return def, nil
}

// Callback returns the subject callback for name, or nil for tool actions.
func (r *Registry) Callback(name string) ActionFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.callbacks[name]
}

// Names returns all cataloged action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all definitions, sorted by name. Subject actions and
// general tools are returned as one combined catalog.
func (r *Registry) List() []ActionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ActionDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
