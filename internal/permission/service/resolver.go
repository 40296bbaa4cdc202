package service

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"permguard/internal/permission/metrics"
	"permguard/internal/permission/models"
	"permguard/internal/permission/ports"
	id "permguard/pkg/domain"
	dErrors "permguard/pkg/domain-errors"
	"permguard/pkg/platform/sentinel"
)

// DefaultCacheTTL bounds how long a resolved set may be served from cache.
const DefaultCacheTTL = 12 * time.Hour

// generationStripes bounds the invalidation counters. Keys sharing a stripe
// only cost each other an extra store read.
const generationStripes = 256

// generations counts invalidations per key stripe. A load started under one
// generation never fills the cache once the key has moved on.
type generations [generationStripes]atomic.Uint64

func (g *generations) of(key string) *atomic.Uint64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &g[h.Sum32()%generationStripes]
}

// Resolver computes effective permission sets, cache first.
type Resolver struct {
	store   ports.Store
	cache   ports.Cache
	ttl     time.Duration
	flight  singleflight.Group
	gens    generations
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type ResolverOption func(r *Resolver)

func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithResolverMetrics(m *metrics.Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithCacheTTL overrides DefaultCacheTTL. Non-positive values are ignored.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func NewResolver(store ports.Store, cache ports.Cache, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store, cache: cache, ttl: DefaultCacheTTL}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveForUser merges the user's direct grants with those of every role
// the principal carries.
func (r *Resolver) ResolveForUser(ctx context.Context, p models.Principal) ([]models.EffectivePermission, error) {
	if p.ID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "principal id is required")
	}
	roles := slices.Clone(p.Roles)
	return r.resolve(ctx, models.UserSubject(p.ID), func(ctx context.Context) ([]models.Record, error) {
		return r.store.ListForSubjects(ctx, p.ID, roles)
	})
}

// ResolveForRole returns the role's own grants.
func (r *Resolver) ResolveForRole(ctx context.Context, roleID id.RoleID) ([]models.EffectivePermission, error) {
	if roleID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "role id is required")
	}
	subject := models.RoleSubject(roleID)
	return r.resolve(ctx, subject, func(ctx context.Context) ([]models.Record, error) {
		return r.store.ListBySubject(ctx, subject)
	})
}

// ResolveDirect returns only the user's own grants, bypassing the cache.
func (r *Resolver) ResolveDirect(ctx context.Context, userID id.UserID) ([]models.EffectivePermission, error) {
	if userID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "user id is required")
	}
	records, err := r.store.ListBySubject(ctx, models.UserSubject(userID))
	if err != nil {
		return nil, storeError(err, "permission store unavailable")
	}
	return MergeEffective(records), nil
}

func (r *Resolver) resolve(ctx context.Context, subject models.Subject, load func(context.Context) ([]models.Record, error)) (_ []models.EffectivePermission, err error) {
	ctx, span := startSpan(ctx, "permission.resolve")
	span.SetAttributes(
		attribute.String("subject.kind", string(subject.Kind)),
		attribute.String("subject.id", subject.ID),
	)
	defer func() { endSpan(span, err) }()

	if err := ctx.Err(); err != nil {
		return nil, storeError(err, "resolve permissions")
	}

	key := subject.CacheKey()
	cached, err := r.cache.Get(ctx, key)
	switch {
	case err == nil:
		r.metrics.IncrementCacheLookup("hit")
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	case errors.Is(err, sentinel.ErrCacheMiss):
		r.metrics.IncrementCacheLookup("miss")
	default:
		r.metrics.IncrementCacheLookup("error")
		logWarn(ctx, r.logger, "permission cache read failed", "key", key, "error", err)
	}

	perms, err := r.loadShared(ctx, subject, load)
	if err != nil {
		return nil, err
	}
	return slices.Clone(perms), nil
}

// Forget marks keys as invalidated. Loads already in flight for them finish
// for their own callers but neither fill the cache nor serve later callers.
// Invalidators call it before deleting the keys from the cache.
func (r *Resolver) Forget(keys ...string) {
	for _, key := range keys {
		r.gens.of(key).Add(1)
	}
}

// loadShared coalesces concurrent misses on one key and generation. A caller
// whose own context is still live retries alone if the shared load was
// cancelled by another caller.
func (r *Resolver) loadShared(ctx context.Context, subject models.Subject, load func(context.Context) ([]models.Record, error)) ([]models.EffectivePermission, error) {
	key := subject.CacheKey()
	gen := r.gens.of(key).Load()
	ch := r.flight.DoChan(key+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		return r.loadAndCache(ctx, subject, gen, load)
	})

	select {
	case <-ctx.Done():
		return nil, storeError(ctx.Err(), "resolve permissions")
	case res := <-ch:
		if res.Err != nil {
			if dErrors.HasCode(res.Err, dErrors.CodeTimeout) && ctx.Err() == nil {
				return r.loadAndCache(ctx, subject, gen, load)
			}
			return nil, res.Err
		}
		return res.Val.([]models.EffectivePermission), nil
	}
}

func (r *Resolver) loadAndCache(ctx context.Context, subject models.Subject, gen uint64, load func(context.Context) ([]models.Record, error)) ([]models.EffectivePermission, error) {
	start := time.Now()
	records, err := load(ctx)
	if err != nil {
		return nil, storeError(err, "permission store unavailable")
	}
	perms := MergeEffective(records)
	r.metrics.ObserveResolveLatency(string(subject.Kind), time.Since(start))

	// A cancelled read leaves the cache untouched.
	if err := ctx.Err(); err != nil {
		return nil, storeError(err, "resolve permissions")
	}

	key := subject.CacheKey()
	current := r.gens.of(key)
	if current.Load() != gen {
		return perms, nil
	}
	if err := r.cache.Set(ctx, key, perms, r.ttl); err != nil {
		logWarn(ctx, r.logger, "permission cache write failed", "key", key, "error", err)
		return perms, nil
	}
	// An invalidation may have deleted the key while Set was in flight.
	if current.Load() != gen {
		if err := r.cache.Delete(ctx, key); err != nil {
			logWarn(ctx, r.logger, "permission cache rollback failed", "key", key, "error", err)
		}
	}
	return perms, nil
}
