package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	jwttoken "permguard/internal/jwt_token"
	"permguard/internal/permission/dataaccess"
	"permguard/internal/permission/gate"
	"permguard/internal/permission/handler"
	"permguard/internal/permission/invalidation"
	"permguard/internal/permission/registry"
	"permguard/internal/platform/httpserver"
	httpmetrics "permguard/internal/platform/metrics"
	"permguard/pkg/platform/httputil"
	authmw "permguard/pkg/platform/middleware/auth"
	"permguard/pkg/platform/middleware/ratelimit"
	"permguard/pkg/platform/middleware/request"
	"permguard/pkg/platform/middleware/requesttime"
)

const (
	shutdownTimeout    = 10 * time.Second
	cacheSweepInterval = time.Minute
)

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log, appOptions{migrate: migrate})
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending schema migrations before serving")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	if a.cfg.UsesDevSigningKey() {
		a.logger.Warn("JWT_SIGNING_KEY not set, using the development signing key")
	}

	b := registry.NewBuilder()
	handler.RegisterOperations(b)
	reg, err := b.Build()
	if err != nil {
		return err
	}

	g := gate.New(a.evaluator,
		gate.WithDataAccessRecorder(a.auditor),
		gate.WithLogger(a.logger),
		gate.WithMetrics(a.metrics),
	)
	limiter := ratelimit.New(a.cfg.Server.MutationRate, a.cfg.Server.MutationBurst)
	h, err := handler.New(a.mutator, a.resolver, a.evaluator, a.auditor, reg, gate.NewDispatcher(g, reg), a.logger,
		handler.WithMutationMiddleware(limiter.Middleware))
	if err != nil {
		return err
	}
	jwt := jwttoken.NewJWTService(a.cfg.Server.JWTSigningKey, a.cfg.Server.JWTIssuer)

	r := chi.NewRouter()
	if len(a.cfg.Server.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: a.cfg.Server.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", request.HeaderRequestID},
			ExposedHeaders: []string{request.HeaderRequestID, "Retry-After"},
			MaxAge:         300,
		}))
	}
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(httpmetrics.New().Middleware)
	r.Get("/health", a.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(jwttoken.NewJWTServiceAdapter(jwt), a.logger))
		h.Register(r)
	})

	job, err := a.retentionJob()
	if err != nil {
		return err
	}
	if err := job.Start(ctx); err != nil {
		return err
	}
	defer job.Stop()

	srv := httpserver.New(a.cfg.Server.Addr, otelhttp.NewHandler(r, "permguard"))

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		limiter.Run(ctx)
		return nil
	})
	grp.Go(func() error {
		a.logger.Info("starting permguard", "addr", a.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if a.kafka != nil {
		consumer := invalidation.NewConsumer(a.kafka,
			invalidation.NewHandler(a.cache, instanceID(),
				invalidation.WithForget(a.resolver.Forget),
				invalidation.WithLogger(a.logger),
				invalidation.WithMetrics(a.metrics),
			), a.logger)
		grp.Go(func() error { return consumer.Run(ctx) })
	}

	if a.memCache != nil {
		grp.Go(func() error {
			ticker := time.NewTicker(cacheSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					a.memCache.Sweep()
				}
			}
		})
	}

	return grp.Wait()
}

func (a *app) retentionJob() (*dataaccess.RetentionJob, error) {
	policies, err := dataaccess.ParsePolicies(a.cfg.Retention.Policies)
	if err != nil {
		return nil, err
	}
	return dataaccess.NewRetentionJob(a.auditor, policies,
		dataaccess.WithSchedule(a.cfg.Retention.Schedule),
		dataaccess.WithRetentionLogger(a.logger),
	), nil
}

type healthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis,omitempty"`
	DB     string `json:"database,omitempty"`
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	if a.db != nil {
		resp.DB = "ok"
		if err := a.db.PingContext(ctx); err != nil {
			a.logger.WarnContext(ctx, "database health check failed", slog.Any("error", err))
			resp.DB, resp.Status, status = "unavailable", "degraded", http.StatusServiceUnavailable
		}
	}
	if a.redis != nil {
		resp.Redis = "ok"
		if err := a.redis.Health(ctx); err != nil {
			a.logger.WarnContext(ctx, "redis health check failed", slog.Any("error", err))
			resp.Redis, resp.Status, status = "unavailable", "degraded", http.StatusServiceUnavailable
		}
	}
	httputil.WriteJSON(w, status, resp)
}
