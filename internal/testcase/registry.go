package testcase

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDuplicateName is returned when registering a name that is already taken.
	ErrDuplicateName = errors.New("test case already registered")

	// ErrNotFound is returned when creating a test case that was never registered.
	ErrNotFound = errors.New("test case not registered")

	// ErrInvalidRegistration is returned for an empty name or a nil constructor.
	ErrInvalidRegistration = errors.New("invalid test case registration")
)

// Registry maps test case names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates an empty test case registry.
func NewRegistry() *Registry {
	return &Registry{
		ctors: make(map[string]Constructor),
	}
}

// Register adds a constructor under the given name. Registering a name twice
// fails and leaves the first registration in place.
func (r *Registry) Register(name string, ctor Constructor) error {
	if name == "" || ctor == nil {
		return fmt.Errorf("register %q: %w", name, ErrInvalidRegistration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ctors[name]; ok {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateName)
	}
	r.ctors[name] = ctor
	return nil
}

// Create returns a new instance of the named test case. Every call invokes
// the constructor again; instances are never cached.
func (r *Registry) Create(name string) (TestCase, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("there is no test case registered by the name %q: %w", name, ErrNotFound)
	}

	tc := ctor()
	if tc == nil {
		return nil, fmt.Errorf("constructor for %q returned nil: %w", name, ErrInvalidRegistration)
	}
	return tc, nil
}

// Names returns the registered test case names, sorted for a stable API
// response.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
