package servicebus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	cbus "github.com/next-trace/scg-allocation/contract/bus"
	berr "github.com/next-trace/scg-allocation/contract/errors"
)

// Handler is a registered, named handler. Name identifies the handler in logs and metrics.
type Handler[S cbus.Scope] struct {
	Name string
	Call cbus.HandlerFunc[S]
}

type entry[S cbus.Scope] struct {
	kind     cbus.Kind
	handlers []Handler[S]
}

// Registry maps message names to ordered handlers.
// It is populated once during start-up and becomes read-only when sealed.
type Registry[S cbus.Scope] struct {
	mu       sync.RWMutex
	entries  map[string]*entry[S]
	required map[string]struct{}
	sealed   bool
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry[S cbus.Scope]() *Registry[S] {
	return &Registry[S]{
		entries:  make(map[string]*entry[S]),
		required: make(map[string]struct{}),
	}
}

// Register appends handler h for the message named by sample.
// A command accepts a single handler; events accept any number and run in registration order.
func (r *Registry[S]) Register(sample cbus.Message, name string, h cbus.HandlerFunc[S]) error {
	if sample == nil || h == nil {
		return fmt.Errorf("register: nil message or handler: %w", berr.ErrConfiguration)
	}

	key := sample.MessageName()
	kind := cbus.KindOf(sample)

	if kind == cbus.KindUnknown {
		return fmt.Errorf("register %s: neither command nor event: %w", key, berr.ErrConfiguration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register %s: %w", key, berr.ErrRegistrySealed)
	}

	e, ok := r.entries[key]
	if !ok {
		e = &entry[S]{kind: kind}
		r.entries[key] = e
	}

	if e.kind != kind {
		return fmt.Errorf("register %s as %s: already registered as %s: %w", key, kind, e.kind, berr.ErrConfiguration)
	}

	if kind == cbus.KindCommand && len(e.handlers) > 0 {
		return fmt.Errorf("register %s: handler %q already bound: %w", key, e.handlers[0].Name, berr.ErrConfiguration)
	}

	if name == "" {
		name = fmt.Sprintf("%s#%d", key, len(e.handlers))
	}

	e.handlers = append(e.handlers, Handler[S]{Name: name, Call: h})

	return nil
}

// Require declares commands that must have a handler by the time the registry is sealed.
func (r *Registry[S]) Require(cmds ...cbus.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("require: %w", berr.ErrRegistrySealed)
	}

	for _, c := range cmds {
		r.required[c.MessageName()] = struct{}{}
	}

	return nil
}

// Seal validates the registrations and freezes the registry. Sealing twice is a no-op.
func (r *Registry[S]) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil
	}

	missing := make([]string, 0)

	for name := range r.required {
		e, ok := r.entries[name]
		if !ok || len(e.handlers) != 1 {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)

		errs := make([]error, 0, len(missing))
		for _, name := range missing {
			errs = append(errs, fmt.Errorf("command %s has no handler: %w", name, berr.ErrConfiguration))
		}

		return errors.Join(errs...)
	}

	r.sealed = true

	return nil
}

// Sealed reports whether the registry has been frozen.
func (r *Registry[S]) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sealed
}

// HandlersFor returns the handlers registered for m in registration order.
// Unknown events yield an empty slice; an unknown command is a configuration error.
func (r *Registry[S]) HandlersFor(m cbus.Message) ([]Handler[S], error) {
	key := m.MessageName()
	kind := cbus.KindOf(m)

	r.mu.RLock()
	e, ok := r.entries[key]

	var hs []Handler[S]
	if ok {
		hs = append([]Handler[S](nil), e.handlers...)
	}
	r.mu.RUnlock()

	switch {
	case ok && e.kind != kind:
		return nil, fmt.Errorf("handlers for %s %s: registered as %s: %w", kind, key, e.kind, berr.ErrConfiguration)
	case kind == cbus.KindCommand && len(hs) != 1:
		return nil, fmt.Errorf("handlers for command %s: %w", key, errors.Join(berr.ErrConfiguration, berr.ErrHandlerNotFound))
	case kind == cbus.KindUnknown:
		return nil, fmt.Errorf("handlers for %s: neither command nor event: %w", key, berr.ErrConfiguration)
	}

	return hs, nil
}

// BindCommand registers a typed handler for command type C.
// C must be a value type; its zero value names the command.
func BindCommand[C cbus.Command, S cbus.Scope](r *Registry[S], name string, h func(ctx context.Context, c C, s S) error) error {
	var zero C

	return r.Register(zero, name, func(ctx context.Context, m cbus.Message, s S) error {
		c, ok := m.(C)
		if !ok {
			return fmt.Errorf("dispatch %s: got %T: %w", zero.MessageName(), m, berr.ErrConfiguration)
		}

		return h(ctx, c, s)
	})
}

// BindEvent registers a typed handler for event type E. Multiple handlers are allowed.
func BindEvent[E cbus.Event, S cbus.Scope](r *Registry[S], name string, h func(ctx context.Context, e E, s S) error) error {
	var zero E

	return r.Register(zero, name, func(ctx context.Context, m cbus.Message, s S) error {
		e, ok := m.(E)
		if !ok {
			return fmt.Errorf("publish %s: got %T: %w", zero.MessageName(), m, berr.ErrConfiguration)
		}

		return h(ctx, e, s)
	})
}
