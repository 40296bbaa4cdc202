package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"permguard/internal/permission/metrics"
	"permguard/internal/permission/models"
	"permguard/internal/permission/ports"
	id "permguard/pkg/domain"
	dErrors "permguard/pkg/domain-errors"
	"permguard/pkg/platform/sentinel"
	txcontext "permguard/pkg/platform/tx"
	"permguard/pkg/requestcontext"
)

const (
	// maxMutationAttempts is the first try plus one retry on a uniqueness conflict.
	maxMutationAttempts = 2

	// invalidationTimeout bounds post-commit cache work, which runs even when
	// the caller's context is already done.
	invalidationTimeout = 5 * time.Second

	// invalidationBatch is how many cache keys one Delete call carries during
	// role fan-out.
	invalidationBatch = 100

	// invalidationParallelism caps concurrent fan-out deletes.
	invalidationParallelism = 4
)

// Mutator is the only write path for grants. Every change commits together
// with exactly one audit record and then invalidates the affected cache keys.
type Mutator struct {
	tx         ports.StoreTx
	store      ports.Store
	cache      ports.Cache
	membership ports.Membership
	publisher  ports.InvalidationPublisher
	forgetter  Forgetter
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type MutatorOption func(m *Mutator)

// WithMembership enables role fan-out invalidation to member users.
func WithMembership(membership ports.Membership) MutatorOption {
	return func(m *Mutator) {
		m.membership = membership
	}
}

// Forgetter fences in-flight loads for keys about to be invalidated.
type Forgetter interface {
	Forget(keys ...string)
}

// WithForgetter registers the resolver sharing this mutator's cache so loads
// that read the store before a commit cannot refill the cache after it.
func WithForgetter(f Forgetter) MutatorOption {
	return func(m *Mutator) {
		m.forgetter = f
	}
}

// WithInvalidationPublisher broadcasts invalidated keys to other instances.
func WithInvalidationPublisher(p ports.InvalidationPublisher) MutatorOption {
	return func(m *Mutator) {
		m.publisher = p
	}
}

func WithMutatorLogger(logger *slog.Logger) MutatorOption {
	return func(m *Mutator) {
		m.logger = logger
	}
}

func WithMutatorMetrics(mt *metrics.Metrics) MutatorOption {
	return func(m *Mutator) {
		m.metrics = mt
	}
}

func NewMutator(tx ports.StoreTx, store ports.Store, cache ports.Cache, opts ...MutatorOption) *Mutator {
	m := &Mutator{tx: tx, store: store, cache: cache}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetUserPermission sets a user-level grant, which overrides any role grant
// for the same resource and action.
func (m *Mutator) SetUserPermission(ctx context.Context, userID id.UserID, resource string, action models.Action, newValue bool, actor id.UserID) (models.MutationResult, error) {
	return m.set(ctx, models.UserSubject(userID), resource, action, newValue, actor)
}

// SetRolePermission sets a role-level grant.
func (m *Mutator) SetRolePermission(ctx context.Context, roleID id.RoleID, resource string, action models.Action, newValue bool, actor id.UserID) (models.MutationResult, error) {
	return m.set(ctx, models.RoleSubject(roleID), resource, action, newValue, actor)
}

func (m *Mutator) set(ctx context.Context, subject models.Subject, resource string, action models.Action, newValue bool, actor id.UserID) (_ models.MutationResult, err error) {
	if err := subject.Validate(); err != nil {
		return models.MutationResult{}, err
	}
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return models.MutationResult{}, dErrors.New(dErrors.CodeInvariantViolation, "resource is required")
	}
	if !action.IsValid() {
		return models.MutationResult{}, dErrors.New(dErrors.CodeInvariantViolation, "unknown action")
	}
	if actor.IsZero() {
		return models.MutationResult{}, dErrors.New(dErrors.CodeInvariantViolation, "actor is required")
	}

	key := models.PermissionKey{Resource: resource, Action: action}
	ctx, span := startSpan(ctx, "permission.mutate")
	span.SetAttributes(
		attribute.String("subject.kind", string(subject.Kind)),
		attribute.String("subject.id", subject.ID),
		attribute.String("permission.key", key.String()),
		attribute.Bool("permission.value", newValue),
	)
	defer func() { endSpan(span, err) }()

	ctx = txcontext.WithLockKey(ctx, subject.CacheKey()+"|"+key.String())

	var result models.MutationResult
	for attempt := 1; ; attempt++ {
		result, err = m.apply(ctx, subject, key, newValue, actor)
		if err == nil || !errors.Is(err, sentinel.ErrConflict) {
			break
		}
		if attempt >= maxMutationAttempts {
			m.metrics.IncrementMutation(string(subject.Kind), "conflict")
			return models.MutationResult{}, dErrors.Wrap(err, dErrors.CodeConflict, "concurrent permission change, retry later")
		}
		logWarn(ctx, m.logger, "permission mutation conflict, retrying",
			"subject", subject.CacheKey(), "permission", key.String())
	}
	if err != nil {
		m.metrics.IncrementMutation(string(subject.Kind), "error")
		return models.MutationResult{}, storeError(err, "permission store unavailable")
	}

	if !result.Changed {
		m.metrics.IncrementMutation(string(subject.Kind), "noop")
		return result, nil
	}
	m.metrics.IncrementMutation(string(subject.Kind), "changed")

	event := "permission_revoked"
	if newValue {
		event = "permission_granted"
	}
	logAudit(ctx, m.logger, event,
		"subject_kind", subject.Kind,
		"subject_id", subject.ID,
		"resource", resource,
		"action", action,
		"old_value", result.Audit.OldValue,
		"new_value", newValue,
		"first_grant", result.Audit.FirstGrant,
		"actor", actor,
	)

	m.invalidate(ctx, subject)
	return result, nil
}

// apply runs one transaction attempt: look up, compare, replace, audit.
func (m *Mutator) apply(ctx context.Context, subject models.Subject, key models.PermissionKey, newValue bool, actor id.UserID) (models.MutationResult, error) {
	var result models.MutationResult
	err := m.tx.RunInTx(ctx, func(ctx context.Context, store ports.TxStore) error {
		result = models.MutationResult{}
		now := requestcontext.Now(ctx)

		current, err := store.FindRecord(ctx, subject, key)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		if current != nil && current.HasAccess == newValue {
			return nil
		}

		audit := models.AuditRecord{
			ID:        id.NewAuditID(),
			Subject:   subject,
			Resource:  key.Resource,
			Action:    key.Action,
			NewValue:  newValue,
			CreatedAt: now,
			CreatedBy: actor,
		}
		if current == nil {
			audit.OldValue = !newValue
			audit.FirstGrant = true
		} else {
			audit.OldValue = current.HasAccess
			if err := store.DeleteRecord(ctx, current.ID); err != nil {
				if errors.Is(err, sentinel.ErrNotFound) {
					return sentinel.ErrConflict
				}
				return err
			}
		}

		if err := store.InsertRecord(ctx, models.Record{
			ID:        uuid.New(),
			Subject:   subject,
			Resource:  key.Resource,
			Action:    key.Action,
			HasAccess: newValue,
			CreatedAt: now,
			CreatedBy: actor,
		}); err != nil {
			return err
		}
		if err := store.AppendAudit(ctx, audit); err != nil {
			return err
		}

		result = models.MutationResult{Changed: true, Audit: &audit}
		return nil
	})
	if err != nil {
		return models.MutationResult{}, err
	}
	return result, nil
}

// invalidate drops every cache key the change made stale. Failures are
// logged; the committed change stands and the TTL bounds any staleness.
func (m *Mutator) invalidate(ctx context.Context, subject models.Subject) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidationTimeout)
	defer cancel()

	keys := []string{subject.CacheKey()}
	if subject.IsRole() {
		keys = append(keys, m.memberKeys(ctx, id.RoleID(subject.ID))...)
	}

	if m.forgetter != nil {
		m.forgetter.Forget(keys...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(invalidationParallelism)
	for start := 0; start < len(keys); start += invalidationBatch {
		batch := keys[start:min(start+invalidationBatch, len(keys))]
		g.Go(func() error {
			return m.cache.Delete(gctx, batch...)
		})
	}
	if err := g.Wait(); err != nil {
		m.metrics.IncrementInvalidation("error")
		logWarn(ctx, m.logger, "permission cache invalidation failed",
			"subject", subject.CacheKey(), "keys", len(keys), "error", err)
	} else {
		m.metrics.IncrementInvalidation("ok")
	}

	if m.publisher != nil {
		if err := m.publisher.Publish(ctx, keys); err != nil {
			logWarn(ctx, m.logger, "permission invalidation broadcast failed",
				"subject", subject.CacheKey(), "error", err)
		}
	}
}

func (m *Mutator) memberKeys(ctx context.Context, roleID id.RoleID) []string {
	if m.membership == nil {
		logWarn(ctx, m.logger, "no membership directory configured, role members keep cached permissions until TTL",
			"role_id", roleID)
		return nil
	}
	members, err := m.membership.UsersInRole(ctx, roleID)
	if err != nil {
		m.metrics.IncrementInvalidation("error")
		logWarn(ctx, m.logger, "role membership lookup failed", "role_id", roleID, "error", err)
		return nil
	}
	keys := make([]string, 0, len(members))
	for _, u := range members {
		keys = append(keys, models.UserSubject(u).CacheKey())
	}
	return keys
}

// ListAudits returns the newest audit records across all subjects.
func (m *Mutator) ListAudits(ctx context.Context, limit int) ([]models.AuditRecord, error) {
	return m.listAudits(ctx, models.AuditFilter{Limit: limit})
}

// ListAuditsForUser returns the newest audit records of one user.
func (m *Mutator) ListAuditsForUser(ctx context.Context, userID id.UserID, limit int) ([]models.AuditRecord, error) {
	if userID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "user id is required")
	}
	subject := models.UserSubject(userID)
	return m.listAudits(ctx, models.AuditFilter{Subject: &subject, Limit: limit})
}

// ListAuditsForRole returns the newest audit records of one role.
func (m *Mutator) ListAuditsForRole(ctx context.Context, roleID id.RoleID, limit int) ([]models.AuditRecord, error) {
	if roleID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "role id is required")
	}
	subject := models.RoleSubject(roleID)
	return m.listAudits(ctx, models.AuditFilter{Subject: &subject, Limit: limit})
}

func (m *Mutator) listAudits(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	if filter.Limit <= 0 || filter.Limit > models.DefaultAuditLimit {
		filter.Limit = models.DefaultAuditLimit
	}
	audits, err := m.store.ListAudits(ctx, filter)
	if err != nil {
		return nil, storeError(err, "permission store unavailable")
	}
	return audits, nil
}
