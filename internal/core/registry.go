package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Reactor is an asynchronous handler bound to one action name. Reactors
// receive the store but must mutate state only by dispatching the designated
// state-update actions; the store exposes no public mutator.
type Reactor func(ctx context.Context, s *Store, a Action) error

// Registry maps action names to ordered reactor lists. Registration order is
// execution order. A wildcard list runs before the per-name list for every
// dispatch.
type Registry struct {
	mu       sync.RWMutex
	byName   map[ActionName][]Reactor
	wildcard []Reactor
	problems []error
	required []ActionName
	sealed   bool
}

// NewRegistry creates an empty registry. required lists the action names
// that must end up with at least one handler before Validate passes.
func NewRegistry(required ...ActionName) *Registry {
	return &Registry{
		byName:   make(map[ActionName][]Reactor),
		required: required,
	}
}

// Register appends a reactor to the list for name. Registering against an
// unknown action name is recorded and fails Validate.
func (r *Registry) Register(name ActionName, reactor Reactor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		r.problems = append(r.problems, fmt.Errorf("register %q after validation", name))
		return
	}
	if !knownActions[name] {
		r.problems = append(r.problems, fmt.Errorf("%w: %q", ErrUnknownAction, name))
		return
	}
	r.byName[name] = append(r.byName[name], reactor)
}

// RegisterAll appends a reactor to the wildcard list, run for every action.
func (r *Registry) RegisterAll(reactor Reactor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		r.problems = append(r.problems, errors.New("register wildcard after validation"))
		return
	}
	r.wildcard = append(r.wildcard, reactor)
}

// Validate runs the static consistency check once at startup: every
// registration must target a known action name and every required name must
// have at least one handler. A non-nil result is process-fatal.
func (r *Registry) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	problems := r.problems
	for _, name := range r.required {
		if len(r.byName[name]) == 0 {
			problems = append(problems, fmt.Errorf("%w: %q", ErrNoHandlers, name))
		}
	}
	if len(problems) > 0 {
		return errors.Join(problems...)
	}
	r.sealed = true
	return nil
}

// reactorsFor returns the handler chain for one dispatch: wildcard reactors
// first, then the per-name list, each in registration order.
func (r *Registry) reactorsFor(name ActionName) []Reactor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := make([]Reactor, 0, len(r.wildcard)+len(r.byName[name]))
	chain = append(chain, r.wildcard...)
	chain = append(chain, r.byName[name]...)
	return chain
}

var (
	ErrUnknownAction = errors.New("reactor registered for unknown action")
	ErrNoHandlers    = errors.New("no reactors registered for required action")
)
