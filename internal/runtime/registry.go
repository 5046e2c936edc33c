package runtime

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownRoutine is returned when a routine name is not registered.
	ErrUnknownRoutine = errors.New("unknown routine")
	// ErrDuplicateRoutine is returned when a name is registered twice.
	ErrDuplicateRoutine = errors.New("routine already registered")
)

// Routine kinds, informational only.
const (
	KindAPI = "api"
	KindWeb = "web"
)

// Factory creates a fresh routine instance.
type Factory func() Routine

// Descriptor describes a registered routine.
type Descriptor struct {
	Name        string  `json:"name"`
	Kind        string  `json:"kind"`
	Description string  `json:"description"`
	Factory     Factory `json:"-"`
}

// Registry maps routine names to factories. It is populated at process
// start and read concurrently afterwards.
type Registry struct {
	mu       sync.RWMutex
	routines map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{routines: make(map[string]Descriptor)}
}

// Register adds a routine.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return errors.New("routine name is required")
	}
	if d.Factory == nil {
		return fmt.Errorf("routine %s: factory is required", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.routines[d.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRoutine, d.Name)
	}
	r.routines[d.Name] = d
	return nil
}

// MustRegister is Register that panics, for process-start wiring.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Lookup resolves a routine name.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.routines[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownRoutine, name)
	}
	return d, nil
}

// List returns all routines sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.routines))
	for _, d := range r.routines {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
