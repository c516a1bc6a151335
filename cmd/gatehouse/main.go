package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/staykeeper/gatehouse/pkg/api"
	"github.com/staykeeper/gatehouse/pkg/audit"
	"github.com/staykeeper/gatehouse/pkg/auth"
	"github.com/staykeeper/gatehouse/pkg/config"
	"github.com/staykeeper/gatehouse/pkg/observability"
	"github.com/staykeeper/gatehouse/pkg/rbac"
	"github.com/staykeeper/gatehouse/pkg/revocation"
	"github.com/staykeeper/gatehouse/pkg/throttle"
	"github.com/staykeeper/gatehouse/pkg/token"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(observability.ParseLogLevel(cfg.LogLevel), os.Stdout)

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildCredentialStore(cfg)
	if err != nil {
		logger.WithError(err).Error("credential store init failed")
		os.Exit(1)
	}
	defer closeStore()

	revocations, counter, err := buildStores(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("store init failed")
		os.Exit(1)
	}
	defer revocations.Close()

	sink := buildAuditSink(cfg, logger)
	defer sink.Close()

	roleCache := rbac.NewRoleCache(store, cfg.RoleCacheSize, cfg.RoleCacheTTL)

	tokens, err := token.NewService(store, revocations,
		[]byte(cfg.AccessSecret), []byte(cfg.RenewalSecret),
		token.WithIssuer(cfg.Issuer),
		token.WithAudience(cfg.Audience),
		token.WithAccessTTL(cfg.AccessTTL),
		token.WithRenewalTTL(cfg.RenewalTTL),
		token.WithSessionCap(cfg.SessionCap),
		token.WithRotateRenewal(cfg.RefreshRotatesRenewal),
		token.WithRoleLoader(roleCache),
		token.WithAuditSink(sink),
		token.WithMetrics(metrics),
		token.WithServiceLogger(logger),
	)
	if err != nil {
		logger.WithError(err).Error("token service init failed")
		os.Exit(1)
	}

	engine, err := buildThrottleEngine(ctx, cfg, counter, logger, metrics)
	if err != nil {
		logger.WithError(err).Error("throttle init failed")
		os.Exit(1)
	}

	delay := throttle.NewProgressiveDelay(counter, 3, 2*time.Second, 30*time.Second, 15*time.Minute)

	server := api.NewServer(store, tokens, rbac.NewResolver(), engine, sink, logger, metrics, registry,
		api.WithTrustForwardedFor(cfg.TrustForwardedFor),
		api.WithProgressiveDelay(delay),
	)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("gatehouse listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown incomplete")
	}
}

// buildCredentialStore selects postgres when a DSN is configured,
// otherwise the in-memory store for development.
func buildCredentialStore(cfg *config.Config) (auth.CredentialStore, func(), error) {
	if cfg.PostgresDSN == "" {
		return auth.NewMemoryStore(), func() {}, nil
	}
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return auth.NewPostgresStore(db), func() { db.Close() }, nil
}

// buildStores selects Redis for revocations and throttle counters when
// configured. Both come from the same deployment choice: a multi-replica
// deployment needs both shared, a single instance needs neither.
func buildStores(ctx context.Context, cfg *config.Config, logger *observability.Logger) (revocation.Store, throttle.Counter, error) {
	if cfg.RedisURL == "" {
		logger.Warn("no redis configured, revocations and throttle counters are process-local")
		mem := revocation.NewMemoryStore()
		mem.StartJanitor(ctx, time.Minute)
		local := throttle.NewLocalCounter()
		local.StartCleanup(ctx, time.Minute)
		return mem, local, nil
	}

	revocations, err := revocation.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	counter, err := throttle.DialRedisCounter(ctx, cfg.RedisURL)
	if err != nil {
		revocations.Close()
		return nil, nil, err
	}
	return revocations, counter, nil
}

func buildAuditSink(cfg *config.Config, logger *observability.Logger) audit.Sink {
	if cfg.AuditLogPath == "" {
		return audit.NewLogSink(os.Stdout)
	}
	sink, err := audit.NewFileSink(cfg.AuditLogPath)
	if err != nil {
		logger.WithError(err).Warn("audit file unavailable, falling back to stdout")
		return audit.NewLogSink(os.Stdout)
	}
	return sink
}

func buildThrottleEngine(ctx context.Context, cfg *config.Config, counter throttle.Counter, logger *observability.Logger, metrics *observability.Metrics) (*throttle.Engine, error) {
	policies := throttle.DefaultPolicies()
	if cfg.ThrottlePolicyFile != "" {
		loaded, err := throttle.LoadPolicies(cfg.ThrottlePolicyFile)
		if err != nil {
			return nil, err
		}
		policies = loaded
	}

	engine := throttle.NewEngine(counter, policies,
		throttle.WithTrustedNetworks(cfg.TrustedNetworks...),
		throttle.WithEngineLogger(logger),
		throttle.WithEngineMetrics(metrics),
	)

	if cfg.ThrottlePolicyFile != "" {
		if err := throttle.WatchPolicies(ctx, engine, cfg.ThrottlePolicyFile, logger); err != nil {
			logger.WithError(err).Warn("policy hot reload unavailable")
		}
	}
	return engine, nil
}
