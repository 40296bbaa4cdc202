// Package registry collects the permission each operation type requires into
// an immutable table built once at process start.
//
// Operation types declare their permission on the zero value:
//
//	type ViewEmployee struct{ EmployeeID id.UserID }
//
//	func (ViewEmployee) RequiredPermission() models.Description { return viewEmployee }
//
//	b := registry.NewBuilder()
//	registry.Register[ViewEmployee](b)
//	reg, err := b.Build()
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"permguard/internal/permission/models"
	dErrors "permguard/pkg/domain-errors"
)

// Protected is implemented by every operation that requires a permission.
// The method must not depend on field values.
type Protected interface {
	RequiredPermission() models.Description
}

// Registry maps operation types to their required permission. It is safe for
// concurrent use and never changes after Build.
type Registry struct {
	byType map[reflect.Type]models.Description
	all    []models.Description
}

// Builder accumulates registrations from package init or main.
type Builder struct {
	mu     sync.Mutex
	byType map[reflect.Type]models.Description
	errs   []error
}

func NewBuilder() *Builder {
	return &Builder{byType: make(map[reflect.Type]models.Description)}
}

// Register records the permission declared by T.
func Register[T Protected](b *Builder) {
	var zero T
	b.add(reflect.TypeOf(zero), zero.RequiredPermission())
}

func (b *Builder) add(t reflect.Type, desc models.Description) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case desc.Resource == "":
		b.errs = append(b.errs, fmt.Errorf("%s: permission resource is empty", t))
		return
	case !desc.Action.IsValid():
		b.errs = append(b.errs, fmt.Errorf("%s: unknown action %q", t, desc.Action))
		return
	}
	for _, c := range desc.DataCategories() {
		if !c.IsValid() {
			b.errs = append(b.errs, fmt.Errorf("%s: unknown data category %q", t, c))
			return
		}
	}
	if _, dup := b.byType[t]; dup {
		b.errs = append(b.errs, fmt.Errorf("%s: registered twice", t))
		return
	}
	b.byType[t] = desc
}

// Build freezes the registrations. Any invalid declaration fails the build.
func (b *Builder) Build() (*Registry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.errs) > 0 {
		return nil, dErrors.Wrap(errors.Join(b.errs...), dErrors.CodeInvariantViolation, "invalid permission registry")
	}

	byType := make(map[reflect.Type]models.Description, len(b.byType))
	seen := make(map[models.PermissionKey]struct{})
	var all []models.Description
	for t, d := range b.byType {
		byType[t] = d
		if _, ok := seen[d.Key()]; !ok {
			seen[d.Key()] = struct{}{}
			all = append(all, d)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Resource != all[j].Resource {
			return all[i].Resource < all[j].Resource
		}
		return all[i].Action < all[j].Action
	})
	return &Registry{byType: byType, all: all}, nil
}

// Lookup returns the permission required by values of type t.
func (r *Registry) Lookup(t reflect.Type) (models.Description, bool) {
	d, ok := r.byType[t]
	return d, ok
}

// For returns the permission required by T.
func For[T any](r *Registry) (models.Description, bool) {
	return r.Lookup(reflect.TypeFor[T]())
}

// Descriptions lists each distinct permission once, sorted by resource then action.
func (r *Registry) Descriptions() []models.Description {
	out := make([]models.Description, len(r.all))
	copy(out, r.all)
	return out
}

// Len returns the number of registered operation types.
func (r *Registry) Len() int { return len(r.byType) }
