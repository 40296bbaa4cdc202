package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"permguard/internal/permission/models"
	"permguard/internal/permission/ports"
	"permguard/pkg/platform/circuit"
	"permguard/pkg/platform/sentinel"
)

// ResilientCache fronts a shared cache with a circuit breaker. While the
// circuit is open, reads and writes go to a process-local fallback.
// Deletes always reach both caches so no invalidation is lost.
type ResilientCache struct {
	primary  ports.Cache
	fallback ports.Cache
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func NewResilient(primary, fallback ports.Cache, breaker *circuit.Breaker, logger *slog.Logger) *ResilientCache {
	return &ResilientCache{primary: primary, fallback: fallback, breaker: breaker, logger: logger}
}

func (c *ResilientCache) Get(ctx context.Context, key string) ([]models.EffectivePermission, error) {
	if !c.breaker.Allow() {
		return c.fallback.Get(ctx, key)
	}
	perms, err := c.primary.Get(ctx, key)
	if err == nil || errors.Is(err, sentinel.ErrCacheMiss) {
		c.success(ctx)
		return perms, err
	}
	if ctx.Err() != nil {
		return nil, err
	}
	c.failure(ctx, "get", err)
	return c.fallback.Get(ctx, key)
}

func (c *ResilientCache) Set(ctx context.Context, key string, perms []models.EffectivePermission, ttl time.Duration) error {
	if !c.breaker.Allow() {
		return c.fallback.Set(ctx, key, perms, ttl)
	}
	err := c.primary.Set(ctx, key, perms, ttl)
	if err == nil {
		c.success(ctx)
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	c.failure(ctx, "set", err)
	return c.fallback.Set(ctx, key, perms, ttl)
}

func (c *ResilientCache) Delete(ctx context.Context, keys ...string) error {
	localErr := c.fallback.Delete(ctx, keys...)
	err := c.primary.Delete(ctx, keys...)
	switch {
	case err == nil:
		c.success(ctx)
	case ctx.Err() == nil:
		c.failure(ctx, "delete", err)
	}
	return errors.Join(err, localErr)
}

func (c *ResilientCache) success(ctx context.Context) {
	if _, change := c.breaker.RecordSuccess(); change.Closed && c.logger != nil {
		c.logger.InfoContext(ctx, "permission cache circuit closed", "breaker", c.breaker.Name())
	}
}

func (c *ResilientCache) failure(ctx context.Context, op string, err error) {
	_, change := c.breaker.RecordFailure()
	if c.logger == nil {
		return
	}
	if change.Opened {
		c.logger.WarnContext(ctx, "permission cache circuit opened, using local fallback",
			"breaker", c.breaker.Name(), "op", op, "error", err)
		return
	}
	c.logger.DebugContext(ctx, "permission cache call failed", "op", op, "error", err)
}

var _ ports.Cache = (*ResilientCache)(nil)
