package gate

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"permguard/internal/permission/registry"
	dErrors "permguard/pkg/domain-errors"
)

type handlerFunc func(ctx context.Context, req any) (any, error)

// Dispatcher routes operations to their handlers. Every dispatch passes
// through the gate; handlers are held unexported so nothing can reach one
// directly.
type Dispatcher struct {
	gate     *Gate
	registry *registry.Registry

	mu       sync.RWMutex
	handlers map[reflect.Type]handlerFunc
}

func NewDispatcher(gate *Gate, reg *registry.Registry) *Dispatcher {
	return &Dispatcher{
		gate:     gate,
		registry: reg,
		handlers: make(map[reflect.Type]handlerFunc),
	}
}

// Handle binds h to operation type Req. Req must be in the registry and may
// be bound once.
func Handle[Req any, Resp any](d *Dispatcher, h func(ctx context.Context, req Req) (Resp, error)) error {
	t := reflect.TypeFor[Req]()
	if _, ok := d.registry.Lookup(t); !ok {
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("%s has no registered permission", t))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.handlers[t]; dup {
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("%s already has a handler", t))
	}
	d.handlers[t] = func(ctx context.Context, req any) (any, error) {
		return h(ctx, req.(Req))
	}
	return nil
}

// Dispatch runs req's handler behind the gate.
func (d *Dispatcher) Dispatch(ctx context.Context, req any) (any, error) {
	t := reflect.TypeOf(req)
	desc, ok := d.registry.Lookup(t)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("%v has no registered permission", t))
	}
	d.mu.RLock()
	h, ok := d.handlers[t]
	d.mu.RUnlock()
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("%s has no handler", t))
	}

	return d.gate.Intercept(ctx, req, desc, func(ctx context.Context) (any, error) {
		return h(ctx, req)
	})
}

// Send is Dispatch with a typed response.
func Send[Resp any](ctx context.Context, d *Dispatcher, req any) (Resp, error) {
	var zero Resp
	resp, err := d.Dispatch(ctx, req)
	if err != nil {
		return zero, err
	}
	if resp == nil {
		return zero, nil
	}
	typed, ok := resp.(Resp)
	if !ok {
		return zero, dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("handler for %T returned %T", req, resp))
	}
	return typed, nil
}
