package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateResolver indicates a resolver name is already registered.
	ErrDuplicateResolver = errors.New("resolver already registered")
	// ErrInvalidResolver indicates a resolver does not satisfy the execution
	// interface its Mode claims.
	ErrInvalidResolver = errors.New("invalid resolver")
)

// Entry pairs a resolver with its registered name.
type Entry struct {
	Name     string
	Resolver Resolver
}

// Registry is the ordered collection of named resolvers. Insertion order is
// execution order: later resolvers see the cumulative output of earlier ones.
type Registry struct {
	entries []Entry
	names   map[string]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{names: map[string]struct{}{}}
}

// Register appends a named resolver. Names are unique; registering a
// duplicate fails.
func (r *Registry) Register(name string, resolver Resolver) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidResolver)
	}
	if resolver == nil {
		return fmt.Errorf("%w: resolver is nil", ErrInvalidResolver)
	}
	switch resolver.Mode() {
	case ModeBatch:
		if _, ok := resolver.(BatchResolver); !ok {
			return fmt.Errorf("%w: %s declares batch mode without BatchResolver", ErrInvalidResolver, name)
		}
	case ModeStream:
		if _, ok := resolver.(StreamResolver); !ok {
			return fmt.Errorf("%w: %s declares stream mode without StreamResolver", ErrInvalidResolver, name)
		}
	default:
		return fmt.Errorf("%w: %s has unknown mode %q", ErrInvalidResolver, name, resolver.Mode())
	}
	if _, exists := r.names[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateResolver, name)
	}
	r.names[name] = struct{}{}
	r.entries = append(r.entries, Entry{Name: name, Resolver: resolver})
	return nil
}

// MustRegister calls Register and panics on error. Intended for wiring.
func (r *Registry) MustRegister(name string, resolver Resolver) {
	if err := r.Register(name, resolver); err != nil {
		panic(err)
	}
}

// Entries returns the resolvers in execution order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of registered resolvers.
func (r *Registry) Len() int {
	return len(r.entries)
}
