// Package dataaccess logs which categories of a user's personal data were
// exposed, to whom, and when, and enforces retention on that log.
package dataaccess

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"permguard/internal/permission/metrics"
	"permguard/internal/permission/models"
	"permguard/internal/permission/ports"
	id "permguard/pkg/domain"
	dErrors "permguard/pkg/domain-errors"
	"permguard/pkg/requestcontext"
)

// Auditor writes and queries the data-access log.
type Auditor struct {
	store   ports.DataAccessStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(a *Auditor)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Auditor) {
		a.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Auditor) {
		a.metrics = m
	}
}

func NewAuditor(store ports.DataAccessStore, opts ...Option) *Auditor {
	a := &Auditor{store: store}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register writes one entry per data category of desc. All entries share a
// fresh access group id and one timestamp and are written as a single batch.
func (a *Auditor) Register(ctx context.Context, accessedUserID id.UserID, desc models.Description, actor id.UserID) error {
	if accessedUserID.IsZero() {
		return dErrors.New(dErrors.CodeInvariantViolation, "accessed user id is required")
	}
	if actor.IsZero() {
		return dErrors.New(dErrors.CodeInvariantViolation, "actor is required")
	}
	categories := desc.DataCategories()
	if len(categories) == 0 {
		return nil
	}

	now := requestcontext.Now(ctx).UTC()
	group := id.NewAccessGroupID()
	entries := make([]models.DataAccessLogEntry, 0, len(categories))
	for _, c := range categories {
		entries = append(entries, models.DataAccessLogEntry{
			ID:               uuid.New(),
			AccessedUserID:   accessedUserID,
			AccessedByUserID: actor,
			Action:           desc.Action,
			DataCategory:     c,
			AccessGroupID:    group,
			CreatedAt:        now,
		})
	}

	if err := a.store.InsertBatch(ctx, entries); err != nil {
		return storeError(err, "data access log unavailable")
	}
	for _, c := range categories {
		a.metrics.AddDataAccessRows(string(c), 1)
	}
	return nil
}

// GetLogs returns entries about userID, newest first. Both dates are
// inclusive: everything from the start of from's day to the end of to's day
// in their own locations.
func (a *Auditor) GetLogs(ctx context.Context, userID id.UserID, from, to time.Time) ([]models.DataAccessLogEntry, error) {
	if userID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "user id is required")
	}
	start := startOfDay(from)
	end := startOfDay(to).AddDate(0, 0, 1)
	if !end.After(start) {
		return nil, dErrors.New(dErrors.CodeValidation, "from must not be after to")
	}

	entries, err := a.store.ListForUser(ctx, userID, start, end)
	if err != nil {
		return nil, storeError(err, "data access log unavailable")
	}
	return entries, nil
}

// AnonymizeOlderThan redacts both user references of category entries
// created before the cutoff. Category, action, group and timestamp stay.
func (a *Auditor) AnonymizeOlderThan(ctx context.Context, category models.DataCategory, before time.Time) (int64, error) {
	if !category.IsValid() {
		return 0, dErrors.New(dErrors.CodeValidation, "unknown data category")
	}
	n, err := a.store.AnonymizeOlderThan(ctx, category, before)
	if err != nil {
		return 0, storeError(err, "data access log unavailable")
	}
	a.metrics.AddRetentionRows(string(category), "anonymize", n)
	a.logRetention(ctx, "data_access_anonymized", category, before, n)
	return n, nil
}

// DeleteOlderThan removes category entries created before the cutoff.
func (a *Auditor) DeleteOlderThan(ctx context.Context, category models.DataCategory, before time.Time) (int64, error) {
	if !category.IsValid() {
		return 0, dErrors.New(dErrors.CodeValidation, "unknown data category")
	}
	n, err := a.store.DeleteOlderThan(ctx, category, before)
	if err != nil {
		return 0, storeError(err, "data access log unavailable")
	}
	a.metrics.AddRetentionRows(string(category), "delete", n)
	a.logRetention(ctx, "data_access_deleted", category, before, n)
	return n, nil
}

func (a *Auditor) logRetention(ctx context.Context, event string, category models.DataCategory, before time.Time, n int64) {
	if a.logger == nil || n == 0 {
		return
	}
	a.logger.InfoContext(ctx, event,
		"event", event,
		"log_type", "audit",
		"data_category", category,
		"before", before,
		"rows", n,
	)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func storeError(err error, msg string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg+": cancelled")
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
}
