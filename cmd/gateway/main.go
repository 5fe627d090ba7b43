package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/convo-gateway/internal/assistant"
	"github.com/af-corp/convo-gateway/internal/cache"
	"github.com/af-corp/convo-gateway/internal/config"
	"github.com/af-corp/convo-gateway/internal/filter"
	"github.com/af-corp/convo-gateway/internal/filter/injection"
	"github.com/af-corp/convo-gateway/internal/filter/policy"
	"github.com/af-corp/convo-gateway/internal/filter/secrets"
	"github.com/af-corp/convo-gateway/internal/gateway"
	"github.com/af-corp/convo-gateway/internal/telemetry"
	"github.com/af-corp/convo-gateway/internal/upstream"
	"github.com/af-corp/convo-gateway/internal/web"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// Load configuration
	loader := config.NewLoader(*configDir, bootLogger)
	if err := loader.Load(); err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger, logCloser := telemetry.NewLogger(cfg.Telemetry)
	defer logCloser.Close()
	slog.SetDefault(logger)
	loader.SetLogger(logger)

	// OPA policies are compiled once here and again on every config reload.
	policyEval := policy.NewEvaluator(func() config.PolicyFilterConfig { return loader.Config().Filter.Policy })
	if cfg.Filter.Policy.Enabled {
		if err := policyEval.Load(); err != nil {
			logger.Error("failed to load policies", "error", err)
			os.Exit(1)
		}
	}

	loader.OnReload(func() {
		logger.Info("configuration reloaded; server, upstream and cache settings apply on restart")
		if !loader.Config().Filter.Policy.Enabled {
			return
		}
		if err := policyEval.Load(); err != nil {
			logger.Error("policy reload failed, keeping previous policies", "error", err)
		}
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	shutdownTracing, err := telemetry.InitTracing(context.Background(), cfg.Telemetry, version)
	if err != nil {
		logger.Error("failed to initialise tracing", "error", err)
		os.Exit(1)
	}

	metrics := telemetry.NewMetrics()

	// Content filters read their config on every scan, so they follow reloads.
	filterChain := filter.NewChain(
		secrets.NewScanner(func() config.SecretsFilterConfig { return loader.Config().Filter.Secrets }),
		injection.NewScanner(func() config.InjectionFilterConfig { return loader.Config().Filter.Injection }),
		policyEval,
	)
	opts := []assistant.Option{assistant.WithFilters(filterChain)}

	rdb := connectRedis(context.Background(), cfg.Cache, logger)
	if rdb != nil {
		opts = append(opts, assistant.WithCache(cache.NewRedisCache(rdb, cfg.Cache.TTL)))
	}

	client := upstream.NewOpenAIClient(cfg.Upstream, cfg.CircuitBreaker, metrics)
	if cfg.Upstream.AssistantID == "" {
		logger.Warn("no assistant id configured; /process_message will reject requests")
	}
	svc := assistant.NewService(client, loader.Config, metrics, logger, opts...)

	site, err := web.New("Conversation Gateway", version)
	if err != nil {
		logger.Error("failed to load frontend", "error", err)
		os.Exit(1)
	}
	handler := gateway.NewHandler(svc, metrics, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      gateway.NewRouter(handler, site, version, func() string { return client.Breaker().State().String() }),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort),
		Handler: metricsMux,
	}

	// Graceful shutdown
	errCh := make(chan error, 2)
	go func() {
		logger.Info("gateway starting", "addr", srv.Addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()
	go func() {
		logger.Info("metrics listener starting", "addr", metricsSrv.Addr)
		errCh <- metricsSrv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			exitCode = 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		exitCode = 1
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		logger.Warn("metrics listener shutdown failed", "error", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}
	if rdb != nil {
		rdb.Close()
	}
	logger.Info("gateway stopped")

	if exitCode != 0 {
		logCloser.Close()
		os.Exit(exitCode)
	}
}

// connectRedis returns a client for the response cache, or nil when the
// cache is disabled or Redis does not answer a ping.
func connectRedis(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) *redis.Client {
	if !cfg.Enabled {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable (response cache disabled)", "error", err)
		rdb.Close()
		return nil
	}
	logger.Info("redis connected", "addr", cfg.Address)
	return rdb
}
