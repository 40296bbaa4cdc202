package service

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"permguard/internal/permission/metrics"
	"permguard/internal/permission/models"
	id "permguard/pkg/domain"
	dErrors "permguard/pkg/domain-errors"
	"permguard/pkg/requestcontext"
)

// UserResolver is the slice of Resolver the evaluator needs.
type UserResolver interface {
	ResolveForUser(ctx context.Context, p models.Principal) ([]models.EffectivePermission, error)
}

// Evaluator answers "may this principal perform this operation".
type Evaluator struct {
	resolver   UserResolver
	adminRoles []id.RoleID
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type EvaluatorOption func(e *Evaluator)

// WithAdminRoles sets the roles whose members bypass grant evaluation.
func WithAdminRoles(roles ...id.RoleID) EvaluatorOption {
	return func(e *Evaluator) {
		e.adminRoles = append([]id.RoleID(nil), roles...)
	}
}

func WithEvaluatorLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

func WithEvaluatorMetrics(m *metrics.Metrics) EvaluatorOption {
	return func(e *Evaluator) {
		e.metrics = m
	}
}

func NewEvaluator(resolver UserResolver, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{resolver: resolver}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsAdmin reports whether p belongs to a configured administrator role.
// It reads nothing but its arguments.
func (e *Evaluator) IsAdmin(p models.Principal) bool {
	return p.InAnyRole(e.adminRoles)
}

// HasPermission returns true iff p is an administrator or p's effective set
// grants desc. A failed resolution is returned as an error, never as a
// decision.
func (e *Evaluator) HasPermission(ctx context.Context, p *models.Principal, desc models.Description) (_ bool, err error) {
	if p == nil || p.ID.IsZero() {
		e.metrics.IncrementDecision("unauthenticated")
		return false, dErrors.New(dErrors.CodeUnauthenticated, "authentication required")
	}

	ctx, span := startSpan(ctx, "permission.evaluate")
	span.SetAttributes(
		attribute.String("principal.id", p.ID.String()),
		attribute.String("permission.resource", desc.Resource),
		attribute.String("permission.action", string(desc.Action)),
	)
	defer func() { endSpan(span, err) }()

	if e.IsAdmin(*p) {
		e.metrics.IncrementDecision("admin_bypass")
		span.SetAttributes(attribute.Bool("admin_bypass", true))
		return true, nil
	}

	perms, err := e.resolver.ResolveForUser(ctx, *p)
	if err != nil {
		e.metrics.IncrementDecision("error")
		logWarn(ctx, e.logger, "permission resolution failed",
			"user_id", p.ID, "resource", desc.Resource, "action", desc.Action, "error", err)
		return false, err
	}

	key := desc.Key()
	for _, perm := range perms {
		if perm.Key() == key {
			return e.decide(perm.HasAccess), nil
		}
	}
	return e.decide(false), nil
}

// HasPermissionInContext evaluates for the principal carried by ctx.
func (e *Evaluator) HasPermissionInContext(ctx context.Context, desc models.Description) (bool, error) {
	p, _ := requestcontext.Principal(ctx)
	return e.HasPermission(ctx, p, desc)
}

func (e *Evaluator) decide(granted bool) bool {
	if granted {
		e.metrics.IncrementDecision("granted")
	} else {
		e.metrics.IncrementDecision("denied")
	}
	return granted
}
