// Package ports declares the collaborators the permission services depend on.
// Adapters live in the store, cache and invalidation packages.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"github.com/google/uuid"

	"permguard/internal/permission/models"
	id "permguard/pkg/domain"
)

// Store is the read side of the permission store.
type Store interface {
	// ListForSubjects returns the live records held by the user directly or by
	// any of the roles.
	ListForSubjects(ctx context.Context, userID id.UserID, roles []id.RoleID) ([]models.Record, error)
	// ListBySubject returns the live records of exactly one subject.
	ListBySubject(ctx context.Context, subject models.Subject) ([]models.Record, error)
	// ListAudits returns audit records newest first.
	ListAudits(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error)
}

// TxStore is the write side, only reachable inside RunInTx.
type TxStore interface {
	// FindRecord returns sentinel.ErrNotFound when no live record exists.
	FindRecord(ctx context.Context, subject models.Subject, key models.PermissionKey) (*models.Record, error)
	DeleteRecord(ctx context.Context, recordID uuid.UUID) error
	// InsertRecord returns sentinel.ErrConflict when a live record already
	// exists for the same subject and key.
	InsertRecord(ctx context.Context, record models.Record) error
	AppendAudit(ctx context.Context, audit models.AuditRecord) error
}

// StoreTx runs fn atomically: every write made through the TxStore commits
// or none does.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store TxStore) error) error
}

// Cache holds resolved permission sets by subject cache key.
type Cache interface {
	// Get returns sentinel.ErrCacheMiss when the key is absent or expired.
	Get(ctx context.Context, key string) ([]models.EffectivePermission, error)
	Set(ctx context.Context, key string, perms []models.EffectivePermission, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Membership enumerates the users of a role for cache fan-out.
type Membership interface {
	UsersInRole(ctx context.Context, roleID id.RoleID) ([]id.UserID, error)
}

// InvalidationPublisher tells other instances which cache keys went stale.
type InvalidationPublisher interface {
	Publish(ctx context.Context, keys []string) error
}

// DataAccessStore persists data-access log entries.
type DataAccessStore interface {
	// InsertBatch writes all entries or none.
	InsertBatch(ctx context.Context, entries []models.DataAccessLogEntry) error
	// ListForUser returns entries about userID with from <= CreatedAt < to,
	// newest first.
	ListForUser(ctx context.Context, userID id.UserID, from, to time.Time) ([]models.DataAccessLogEntry, error)
	AnonymizeOlderThan(ctx context.Context, category models.DataCategory, before time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, category models.DataCategory, before time.Time) (int64, error)
}
