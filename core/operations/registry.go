package operations

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"conductor/core/errors"
)

// Handler runs the body of an operation. ctx is cancelled together with the
// operation's cancellation token. A nil result with a nil error reports
// OperationDone without payload.
type Handler interface {
	Handle(ctx context.Context, api *API, kind Kind) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, api *API, kind Kind) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, api *API, kind Kind) (any, error) {
	return f(ctx, api, kind)
}

// Registry maps operation kind names to their handlers.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates a registry with the built-in Cancel handler.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	r.handlers[CancelName] = HandlerFunc(handleCancel)
	return r
}

// Register binds h to the kind name. A name can be registered once.
func (r *Registry) Register(name string, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler for '%s' is nil", name)
	}
	if name == EndName {
		return fmt.Errorf("'%s' is handled by the dispatcher", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler for '%s' already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Unregister removes the handler bound to name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, name)
}

// Lookup returns the handler for name, or a NotYetImplemented error.
func (r *Registry) Lookup(name string) (Handler, error) {
	r.mu.RLock()
	h, exists := r.handlers[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.NewNative(errors.SeverityError, errors.KindNotYetImplemented, "No handler for operation %s", name)
	}
	return h, nil
}

// Names lists registered kind names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
