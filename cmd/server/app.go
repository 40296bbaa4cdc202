package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/twmb/franz-go/pkg/kgo"

	"permguard/internal/directory"
	"permguard/internal/permission/cache"
	"permguard/internal/permission/dataaccess"
	"permguard/internal/permission/invalidation"
	permmetrics "permguard/internal/permission/metrics"
	"permguard/internal/permission/ports"
	"permguard/internal/permission/service"
	"permguard/internal/permission/store"
	"permguard/internal/platform/config"
	"permguard/internal/platform/logger"
	redisclient "permguard/internal/platform/redis"
	id "permguard/pkg/domain"
	"permguard/pkg/platform/circuit"
)

// app holds the wired permission engine shared by every command.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	db       *sql.DB
	redis    *redisclient.Client
	kafka    *kgo.Client
	memCache *cache.InMemoryCache

	cache     ports.Cache
	metrics   *permmetrics.Metrics
	resolver  *service.Resolver
	evaluator *service.Evaluator
	mutator   *service.Mutator
	auditor   *dataaccess.Auditor
}

type permissionStore interface {
	ports.Store
	ports.StoreTx
}

type appOptions struct {
	requireDB bool
	migrate   bool
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("configuration: %w", err)
	}
	return cfg, logger.New(cfg.Server.LogLevel), nil
}

func openDB(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, logger: log, metrics: permmetrics.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var permStore permissionStore
	var accessStore ports.DataAccessStore
	switch {
	case cfg.DatabaseURL != "":
		if a.db, err = openDB(ctx, cfg.DatabaseURL); err != nil {
			return nil, err
		}
		if opts.migrate {
			if err = store.Migrate(ctx, a.db); err != nil {
				return nil, err
			}
		}
		permStore = store.NewPostgres(a.db)
		accessStore = store.NewPostgresDataAccess(a.db)
	case opts.requireDB:
		return nil, errors.New("DATABASE_URL is required for this command")
	default:
		log.Warn("DATABASE_URL not set, grants and data-access logs are kept in memory")
		permStore = store.NewInMemory()
		accessStore = store.NewInMemoryDataAccess()
	}

	if a.redis, err = redisclient.New(ctx, cfg.Redis); err != nil {
		return nil, err
	}
	a.memCache = cache.NewInMemory()
	a.cache = a.memCache
	if a.redis != nil {
		a.cache = cache.NewResilient(cache.NewRedis(a.redis.Client), a.memCache,
			circuit.New("redis-cache"), log)
	}

	members, err := directory.ParseStatic(cfg.Permissions.RoleMembers)
	if err != nil {
		return nil, err
	}
	if cfg.Permissions.RoleMembersFile != "" {
		fromFile, err := directory.LoadFile(cfg.Permissions.RoleMembersFile)
		if err != nil {
			return nil, err
		}
		members = members.Merge(fromFile)
	}

	adminRoles := make([]id.RoleID, 0, len(cfg.Permissions.AdminRoles))
	for _, r := range cfg.Permissions.AdminRoles {
		adminRoles = append(adminRoles, id.RoleID(r))
	}

	a.resolver = service.NewResolver(permStore, a.cache,
		service.WithCacheTTL(cfg.Permissions.CacheTTL),
		service.WithResolverLogger(log),
		service.WithResolverMetrics(a.metrics),
	)
	a.evaluator = service.NewEvaluator(a.resolver,
		service.WithAdminRoles(adminRoles...),
		service.WithEvaluatorLogger(log),
		service.WithEvaluatorMetrics(a.metrics),
	)

	mutatorOpts := []service.MutatorOption{
		service.WithMembership(members),
		service.WithForgetter(a.resolver),
		service.WithMutatorLogger(log),
		service.WithMutatorMetrics(a.metrics),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		if a.kafka, err = invalidation.NewClient(cfg.Kafka.Brokers, cfg.Kafka.InvalidationTopic); err != nil {
			return nil, err
		}
		if err = invalidation.EnsureTopic(ctx, a.kafka, cfg.Kafka.InvalidationTopic); err != nil {
			return nil, err
		}
		mutatorOpts = append(mutatorOpts, service.WithInvalidationPublisher(
			invalidation.NewPublisher(a.kafka, cfg.Kafka.InvalidationTopic, instanceID())))
	}
	a.mutator = service.NewMutator(permStore, permStore, a.cache, mutatorOpts...)

	a.auditor = dataaccess.NewAuditor(accessStore,
		dataaccess.WithLogger(log),
		dataaccess.WithMetrics(a.metrics),
	)
	return a, nil
}

// Close releases every connection the app opened.
func (a *app) Close() {
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("closing redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("closing database", "error", err)
		}
	}
}

// instanceID identifies this process on the invalidation topic.
var instanceID = sync.OnceValue(func() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", host, os.Getpid())
})
