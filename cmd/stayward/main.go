// cmd/stayward runs the Stayward HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stayward/stayward/internal/config"
	"github.com/stayward/stayward/internal/governor"
	"github.com/stayward/stayward/internal/handler"
	"github.com/stayward/stayward/internal/health"
	"github.com/stayward/stayward/internal/identity"
	"github.com/stayward/stayward/internal/lockpolicy"
	"github.com/stayward/stayward/internal/petitions"
	"github.com/stayward/stayward/internal/stays"
	"github.com/stayward/stayward/internal/store"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("stayward exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	cfg, found, err := config.Load(config.New())
	if err != nil {
		return err
	}
	if !found {
		logger.Warn("no config file found, using defaults and env vars")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ─────────────────────────────────────────────────────────────
	backend, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer backend.Close()
	logger.Info("storage ready", zap.String("driver", backend.Driver))
	if backend.Driver == config.DriverMemory {
		logger.Warn("memory driver: the audit chain, stays and petitions are lost on restart")
	}

	// ── Identity ─────────────────────────────────────────────────────────────
	key, err := identity.LoadOrCreateKey(cfg.Auth.KeyPath)
	if err != nil {
		return fmt.Errorf("signing key setup failed: %w", err)
	}
	tokens := identity.NewTokenIssuer(key, cfg.IssuerURL(), cfg.Auth.TokenTTL)
	logger.Info("token issuer ready", zap.String("issuer", cfg.IssuerURL()), zap.String("key_path", cfg.Auth.KeyPath))

	var rdb *redis.Client
	if cfg.RateLimit.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		defer rdb.Close()
	}

	app := newApp(ctx, cfg, backend, tokens, rdb, logger)

	if cfg.Audit.VerifyOnStart {
		verifyChain(ctx, app, logger)
	}
	go app.health.Start(ctx)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("stayward HTTP listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP listen: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down stayward...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	logger.Info("stayward stopped")
	return nil
}

type app struct {
	router *gin.Engine
	gov    *governor.Governor
	health *health.Checker
	store  *store.Backend
}

// newApp wires the domain services and the HTTP router. ctx bounds the
// background goroutines started by middleware.
func newApp(ctx context.Context, cfg *config.Config, backend *store.Backend, tokens *identity.TokenIssuer, rdb *redis.Client, logger *zap.Logger) *app {
	// ── Wire up layers ────────────────────────────────────────────────────────
	staySvc := stays.NewService(backend.Stays, logger)
	policy := lockpolicy.New(stays.EntityName, staySvc, lockpolicy.WithThreshold(cfg.Lock.Threshold))

	var wfOpts []petitions.Option
	if cfg.Petitions.ApprovalTTL > 0 {
		wfOpts = append(wfOpts, petitions.WithApprovalTTL(cfg.Petitions.ApprovalTTL))
		logger.Info("petition approvals expire", zap.Duration("approval_ttl", cfg.Petitions.ApprovalTTL))
	}
	wf := petitions.NewWorkflow(backend.Petitions, policy, logger, wfOpts...)

	gov := governor.New(backend.Ledger, logger, governor.WithFailureRecording(cfg.Audit.RecordFailures))
	gov.Govern(policy, wf)

	checker := health.New(health.Config{CheckInterval: time.Minute}, logger)
	checker.SetMetricsRecord(handler.RecordHealthCheck)
	checker.Register("database", backend.Ping)
	if rdb != nil {
		checker.Register("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	checker.Register("audit_chain", func(ctx context.Context) error {
		report, err := backend.Ledger.Verify(ctx)
		if err != nil {
			return err
		}
		handler.RecordIntegrityCheck(report.Valid)
		if !report.Valid {
			return fmt.Errorf("%d of %d entries fail verification", len(report.OffendingIDs), report.Entries)
		}
		return nil
	})

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := cfg.Server.CORSOrigins
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		if rdb != nil {
			router.Use(handler.NewRedisLimiter(rdb, rps, rps*2, logger).Middleware())
			logger.Info("rate limiting via redis", zap.String("addr", cfg.RateLimit.RedisAddr))
		} else {
			router.Use(handler.RateLimiter(ctx, rps, rps*2))
		}
	}

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", checker.Handler())
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	handler.NewAuditHandler(backend.Ledger, gov, tokens, logger).Register(v1)
	handler.NewPetitionHandler(wf, gov, tokens, logger).Register(v1)
	handler.NewStayHandler(staySvc, policy, gov, tokens, logger).Register(v1)

	return &app{router: router, gov: gov, health: checker, store: backend}
}

func verifyChain(ctx context.Context, a *app, logger *zap.Logger) {
	report, err := a.store.Ledger.Verify(ctx)
	if err != nil {
		logger.Error("audit chain verification failed to run", zap.Error(err))
		return
	}
	handler.RecordIntegrityCheck(report.Valid)
	root, _ := a.store.Ledger.Root(ctx)
	if !report.Valid {
		logger.Warn("audit chain integrity check FAILED",
			zap.Int("entries", report.Entries),
			zap.Strings("offending_ids", report.OffendingIDs),
		)
		return
	}
	logger.Info("audit chain verified",
		zap.Int("entries", report.Entries),
		zap.String("root", root),
	)
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
