// Package gate enforces permissions around every protected operation.
//
// The gate evaluates the caller's principal against the operation's required
// permission, runs the operation only when granted, and records data access
// for operations that expose personal data about a specific user.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"permguard/internal/permission/metrics"
	"permguard/internal/permission/models"
	id "permguard/pkg/domain"
	dErrors "permguard/pkg/domain-errors"
	"permguard/pkg/requestcontext"
)

// ForbiddenMessage is the stable, client-safe denial text.
const ForbiddenMessage = "You do not have permission to access the requested resource."

//go:generate mockgen -source=gate.go -destination=mocks/mocks.go -package=mocks

// Evaluator decides whether a principal holds a permission.
type Evaluator interface {
	HasPermission(ctx context.Context, p *models.Principal, desc models.Description) (bool, error)
}

// DataAccessRecorder logs that a principal saw categories of a user's data.
type DataAccessRecorder interface {
	Register(ctx context.Context, accessedUserID id.UserID, desc models.Description, actor id.UserID) error
}

// DataSubjectScoped is implemented by requests that touch one user's data.
type DataSubjectScoped interface {
	AccessedUserID() id.UserID
}

// Next runs the protected operation.
type Next func(ctx context.Context) (any, error)

// Outcome is the state an intercepted call finished in.
type Outcome int

const (
	// OutcomePending means no decision was reached, e.g. evaluation failed.
	OutcomePending Outcome = iota
	OutcomeGranted
	OutcomeDenied
	OutcomeExecuted
	OutcomeFaulted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeGranted:
		return "granted"
	case OutcomeDenied:
		return "denied"
	case OutcomeExecuted:
		return "executed"
	case OutcomeFaulted:
		return "faulted"
	default:
		return "pending"
	}
}

// ForbiddenError reports a denied permission. It carries CodeForbidden for
// transports that map domain errors.
type ForbiddenError struct {
	Resource string
	Action   models.Action
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s:%s", e.Resource, e.Action)
}

func (e *ForbiddenError) Unwrap() error {
	return dErrors.New(dErrors.CodeForbidden, ForbiddenMessage)
}

// Gate is the interceptor placed in front of every protected operation.
type Gate struct {
	evaluator Evaluator
	recorder  DataAccessRecorder
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(g *Gate)

// WithDataAccessRecorder enables data-access logging for granted operations.
func WithDataAccessRecorder(r DataAccessRecorder) Option {
	return func(g *Gate) {
		g.recorder = r
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

func New(evaluator Evaluator, opts ...Option) *Gate {
	g := &Gate{evaluator: evaluator}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Intercept evaluates desc for the principal in ctx and runs next only when
// granted. A denial returns *ForbiddenError; a failure of next is returned
// unchanged.
func (g *Gate) Intercept(ctx context.Context, req any, desc models.Description, next Next) (any, error) {
	resp, _, err := g.Run(ctx, req, desc, next)
	return resp, err
}

// Run is Intercept that also reports the state the call finished in.
func (g *Gate) Run(ctx context.Context, req any, desc models.Description, next Next) (resp any, outcome Outcome, err error) {
	defer func() { g.metrics.IncrementGateOutcome(outcome.String()) }()

	principal, _ := requestcontext.Principal(ctx)
	allowed, err := g.evaluator.HasPermission(ctx, principal, desc)
	if err != nil {
		return nil, OutcomePending, err
	}
	if !allowed {
		g.logDenied(ctx, principal, desc)
		return nil, OutcomeDenied, &ForbiddenError{Resource: desc.Resource, Action: desc.Action}
	}

	resp, err = next(ctx)
	if err != nil {
		return nil, OutcomeFaulted, err
	}

	if err := g.recordAccess(ctx, req, desc, principalID(principal)); err != nil {
		return nil, OutcomeFaulted, err
	}
	return resp, OutcomeExecuted, nil
}

// recordAccess logs the access when the operation exposes categorised data
// about one user.
func (g *Gate) recordAccess(ctx context.Context, req any, desc models.Description, actor id.UserID) error {
	if g.recorder == nil || !desc.ContainsPersonalData() || !desc.Action.ExposesData() {
		return nil
	}
	scoped, ok := req.(DataSubjectScoped)
	if !ok {
		return nil
	}
	accessed := scoped.AccessedUserID()
	if accessed.IsZero() {
		return nil
	}
	if err := g.recorder.Register(ctx, accessed, desc, actor); err != nil {
		var coded *dErrors.Error
		if !errors.As(err, &coded) {
			err = dErrors.Wrap(err, dErrors.CodeUnavailable, "data access log unavailable")
		}
		if g.logger != nil {
			g.logger.ErrorContext(ctx, "data access logging failed",
				"request_id", requestcontext.RequestID(ctx),
				"accessed_user_id", accessed,
				"actor", actor,
				"resource", desc.Resource,
				"action", desc.Action,
				"error", err,
			)
		}
		return err
	}
	return nil
}

func (g *Gate) logDenied(ctx context.Context, p *models.Principal, desc models.Description) {
	if g.logger == nil {
		return
	}
	g.logger.InfoContext(ctx, "permission_denied",
		"event", "permission_denied",
		"log_type", "audit",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", principalID(p),
		"resource", desc.Resource,
		"action", desc.Action,
	)
}

func principalID(p *models.Principal) id.UserID {
	if p == nil {
		return ""
	}
	return p.ID
}
