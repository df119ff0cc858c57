// Package gatewayservice wires configuration, storage, the triple-store
// client and the HTTP surface into a runnable gateway.
package gatewayservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencollections/lod-gateway/internal/activity"
	"github.com/opencollections/lod-gateway/internal/api"
	"github.com/opencollections/lod-gateway/internal/config"
	"github.com/opencollections/lod-gateway/internal/graph"
	"github.com/opencollections/lod-gateway/internal/health"
	"github.com/opencollections/lod-gateway/internal/ingest"
	"github.com/opencollections/lod-gateway/internal/logger"
	"github.com/opencollections/lod-gateway/internal/memento"
	"github.com/opencollections/lod-gateway/internal/store"
	"github.com/opencollections/lod-gateway/internal/store/postgres"
	"github.com/opencollections/lod-gateway/internal/store/sqlite"
)

// Run starts the gateway HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("lod-gateway")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := newStore(cfg)
	if err != nil {
		log.Error().Err(err).Msg("relational store unavailable")
		return err
	}
	defer func() { _ = st.Close() }()

	var graphClient *graph.Client
	var graphs ingest.GraphStore
	if cfg.GraphSyncEnabled() {
		graphClient = graph.NewClient(cfg.GraphStoreEndpoint, cfg.GraphBase, log,
			graph.WithRetry(cfg.GraphRetryAttempts, time.Duration(cfg.GraphRetryDelayMS)*time.Millisecond))
		graphs = graphClient
	} else {
		log.Warn().Msg("graph synchronization disabled, no triple store endpoint configured")
	}

	orch := ingest.New(st, graphs, ingest.Config{
		KeepVersions:           cfg.KeepVersions,
		KeepVersionsForDeleted: cfg.KeepVersionsForDeleted,
	}, log)

	svcHealth := startHealthCheckers(ctx, cfg, log, st, graphClient)

	router := api.NewRouter(api.Deps{
		Orchestrator: orch,
		Feed:         activity.NewService(st, cfg.BaseURL, cfg.PageSize),
		TimeMaps:     memento.NewService(st, cfg.BaseURL),
		Store:        st,
		Healthy:      svcHealth.IsHealthy,
	})

	if err := waitUntilHealthy(ctx, cfg, svcHealth); err != nil {
		log.Error().Err(err).Msg("startup health check failed")
		return err
	}

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
			return err
		}
		log.Info().Msg("server exited")
		return nil
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
		return err
	}
}

// newStore opens the configured relational driver and applies the schema.
func newStore(cfg *config.Config) (store.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := postgres.EnsureSchema(db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return postgres.NewWithDB(db), nil
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return sqlite.NewWithDB(db), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER: %s", cfg.DBDriver)
	}
}

// startHealthCheckers starts per-dependency probes plus the aggregator.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store, graphClient *graph.Client) *health.ServiceHealthChecker {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	var checkers []health.Checker

	storeChecker := health.NewPingChecker("store", health.PingFunc(st.Ping), log, probeTimeout)
	go storeChecker.Start(ctx, interval)
	checkers = append(checkers, storeChecker)

	if graphClient != nil {
		graphChecker := health.NewPingChecker("graph-store", graphClient, log, probeTimeout)
		go graphChecker.Start(ctx, interval)
		checkers = append(checkers, graphChecker)
	}

	svcHealth := health.NewServiceHealthChecker(log, checkers...)
	go svcHealth.Start(ctx, interval)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// waitUntilHealthy blocks until the aggregated health flag comes up or
// the startup window expires. Checkers start unhealthy and need one
// probe cycle to flip.
func waitUntilHealthy(ctx context.Context, cfg *config.Config, svcHealth *health.ServiceHealthChecker) error {
	timeoutSeconds := cfg.HealthIntervalSeconds * 2
	if timeoutSeconds < 60 {
		timeoutSeconds = 60
	}
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svcHealth.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("startup aborted: dependencies not healthy within %d seconds", timeoutSeconds)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
