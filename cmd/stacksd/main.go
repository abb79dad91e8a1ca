// Command stacksd runs the dataset management service: a local PostgreSQL
// metadata store with per-user access control, mirrored against an external
// content repository.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/peregrinehq/stacks/pkg/access"
	"github.com/peregrinehq/stacks/pkg/api"
	"github.com/peregrinehq/stacks/pkg/config"
	"github.com/peregrinehq/stacks/pkg/database"
	"github.com/peregrinehq/stacks/pkg/datasets"
	"github.com/peregrinehq/stacks/pkg/documents"
	"github.com/peregrinehq/stacks/pkg/identity"
	"github.com/peregrinehq/stacks/pkg/middleware"
	"github.com/peregrinehq/stacks/pkg/observability"
	"github.com/peregrinehq/stacks/pkg/remote"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stacksd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", cfg.Observability.ServiceVersion).Info("starting stacksd")

	tracerProvider, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.Observability.TracingEnabled,
		Endpoint:       cfg.Observability.TracingEndpoint,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Insecure:       cfg.Observability.TracingInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	// Migration order matters: access_grants and documents reference
	// tables created by the earlier packages.
	if err := identity.RunMigrations(ctx, db); err != nil {
		return err
	}
	if err := datasets.RunMigrations(ctx, db); err != nil {
		return err
	}
	if err := documents.RunMigrations(ctx, db); err != nil {
		return err
	}
	if err := access.RunMigrations(ctx, db); err != nil {
		return err
	}

	idStore := identity.NewStore(db)
	if err := idStore.SeedPermissions(ctx); err != nil {
		return err
	}
	if err := identity.SeedReservedUsers(ctx, idStore); err != nil {
		return err
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	var cache *identity.PermissionCache
	if cfg.Cache.Enabled {
		cache, err = identity.NewPermissionCache(cfg.Cache)
		if err != nil {
			return fmt.Errorf("failed to initialize permission cache: %w", err)
		}
	}

	resolver := identity.NewResolver(idStore, cache, logger, metrics)
	aclStore := access.NewStore(db)
	engine := access.NewEngine(resolver, aclStore, logger, metrics)

	gateway := remote.NewClient(cfg.Remote, metrics)

	dsStore := datasets.NewStore(db)
	docStore := documents.NewStore(db)
	dsManager := datasets.NewManager(db, dsStore, aclStore, engine, gateway, logger, metrics)
	docManager := documents.NewManager(db, docStore, dsStore, aclStore, engine, gateway, logger, metrics)

	server := api.NewServer(api.Deps{
		Datasets:  dsManager,
		Documents: docManager,
		ACL:       aclStore,
		Engine:    engine,
		Identity:  idStore,
		Resolver:  resolver,
		Logger:    logger,
		Metrics:   metrics,
		Limiter:   middleware.NewRateLimiter(nil),
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Probes and metrics listen on their own port so they stay reachable
	// when the API listener is saturated.
	checker := observability.NewHealthChecker(db, cacheRedis(cache), gateway)
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	if cache != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			return cache.Close()
		})
	}
	if tracerProvider != nil {
		shutdown.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
			return observability.ShutdownTracing(shutdownCtx, tracerProvider, logger)
		})
	}

	sampler := observability.NewGaugeSampler(metrics, logger, db, dsStore.Count, docStore.Count, cfg.Observability.GaugeInterval)
	samplerCtx, stopSampler := context.WithCancel(ctx)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		stopSampler()
		return nil
	})

	var group errgroup.Group
	group.Go(func() error {
		sampler.Run(samplerCtx)
		return nil
	})
	group.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.Infof("health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	group.Go(shutdown.WaitForShutdown)

	return group.Wait()
}

func cacheRedis(cache *identity.PermissionCache) *redis.Client {
	if cache == nil {
		return nil
	}
	return cache.RedisClient()
}
