package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/jmerrifield20/NexusLedger/internal/config"
	"github.com/jmerrifield20/NexusLedger/internal/contract"
	"github.com/jmerrifield20/NexusLedger/internal/contract/samples"
	"github.com/jmerrifield20/NexusLedger/internal/engine"
	"github.com/jmerrifield20/NexusLedger/internal/function"
	ledgerhealth "github.com/jmerrifield20/NexusLedger/internal/health"
	"github.com/jmerrifield20/NexusLedger/internal/identity"
	"github.com/jmerrifield20/NexusLedger/internal/ledger"
	"github.com/jmerrifield20/NexusLedger/internal/proof"
	"github.com/jmerrifield20/NexusLedger/internal/server/handler"
	"github.com/jmerrifield20/NexusLedger/internal/storage"
	"github.com/jmerrifield20/NexusLedger/internal/validation"
)

// grpcService is the name under which the ledger reports serving status.
const grpcService = "nexus.ledger.v1.Ledger"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("ledger server exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	cfg, err := config.Load(os.Getenv("LEDGER_CONFIG"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Storage ──────────────────────────────────────────────────────────────
	backend, err := openBackend(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	store := storage.NewConsensusCommit(backend, logger,
		storage.WithRecoveryExpiration(cfg.Storage.RecoveryExpiration),
		storage.WithReadValidation(cfg.Storage.ReadValidation),
	)
	defer store.Close() //nolint:errcheck

	lm := ledger.NewManager(store, cfg.Ledger.Namespace, logger)

	// ── Identity ─────────────────────────────────────────────────────────────
	keyCache := identity.CacheConfig{Size: cfg.Identity.KeyCacheSize, TTL: cfg.Identity.KeyCacheTTL}

	var certOpts []identity.CertificateOption
	if cfg.Identity.TrustedCABundle != "" {
		bundle, err := os.ReadFile(cfg.Identity.TrustedCABundle)
		if err != nil {
			return fmt.Errorf("read trusted CA bundle: %w", err)
		}
		pool, err := identity.CertPoolFromPEM(bundle)
		if err != nil {
			return err
		}
		certOpts = append(certOpts, identity.WithTrustedRoots(pool))
		logger.Info("certificates pinned to CA bundle", zap.String("path", cfg.Identity.TrustedCABundle))
	}
	certs := identity.NewCertificateManager(store, keyCache, logger, certOpts...)

	var sealer *identity.Sealer
	if cfg.Identity.SecretPassphrase != "" {
		if sealer, err = identity.NewSealerFromPassphrase(cfg.Identity.SecretPassphrase); err != nil {
			return err
		}
	} else {
		logger.Warn("identity.secret_passphrase is empty, HMAC secrets are stored unsealed")
	}
	secrets := identity.NewSecretManager(store, keyCache, sealer, logger)

	method, err := identity.ParseAuthenticationMethod(cfg.Ledger.AuthenticationMethod)
	if err != nil {
		return err
	}
	auditor, err := auditorTrust(cfg.Auditor)
	if err != nil {
		return err
	}
	keys := identity.NewClientKeyValidator(method, certs, secrets, auditor)

	// ── Contracts, functions and proofs ──────────────────────────────────────
	contractCatalog, functionCatalog := samples.Catalogs()
	contracts := contract.NewManager(store, contractCatalog, keys, logger,
		contract.WithValidationCache(cfg.Ledger.ContractCacheSize, cfg.Ledger.ContractCacheTTL),
	)
	functions := function.NewManager(store, functionCatalog, logger)

	proofs := proof.NewComposer(nil)
	if cfg.Proof.Enabled {
		keyPEM, err := os.ReadFile(cfg.Proof.KeyPath)
		if err != nil {
			return fmt.Errorf("read proof signing key: %w", err)
		}
		signer, err := identity.NewDigitalSignatureSigner(keyPEM)
		if err != nil {
			return fmt.Errorf("load proof signing key: %w", err)
		}
		proofs = proof.NewComposer(signer)
	}

	// ── Engine ───────────────────────────────────────────────────────────────
	execOpts := []engine.Option{engine.WithRecoveryHook(handler.RecordRecoveries)}
	if cfg.Ledger.FunctionsEnabled {
		execOpts = append(execOpts, engine.WithFunctions(functions))
	}
	if cfg.Auditor.Enabled {
		execOpts = append(execOpts, engine.WithAuditor())
	}
	executor := engine.NewExecutor(lm, contracts, keys, proofs, logger, execOpts...)

	validator := validation.NewService(lm, contracts, keys, proofs, logger)
	validator.SetParallelism(cfg.Ledger.ValidationParallelism)

	logger.Info("ledger ready",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("namespace", cfg.Ledger.Namespace),
		zap.Stringer("authentication", method),
		zap.Bool("functions", cfg.Ledger.FunctionsEnabled),
		zap.Bool("auditor", cfg.Auditor.Enabled),
		zap.Bool("proofs", proofs.Enabled()),
	)

	// ── Admin tokens ─────────────────────────────────────────────────────────
	var (
		guard       gin.HandlerFunc
		authHandler *handler.AuthHandler
	)
	if cfg.RequiresAdmin() {
		admin, err := identity.NewAdminAuthenticator(cfg.Admin.SecretHash)
		if err != nil {
			return err
		}
		tokens, err := identity.NewTokenIssuer([]byte(cfg.Admin.TokenKey), cfg.Admin.Issuer, cfg.Admin.TokenTTL)
		if err != nil {
			return err
		}
		guard = identity.RequireToken(tokens, identity.ScopeRegister)
		authHandler = handler.NewAuthHandler(admin, tokens, logger)
	} else {
		logger.Warn("admin.secret_hash is empty, key and function registration is open")
	}

	// ── gRPC health ──────────────────────────────────────────────────────────
	grpcServer := grpc.NewServer()
	healthSvc := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSvc)
	healthSvc.SetServingStatus(grpcService, grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	checker := ledgerhealth.New(ledgerhealth.Config{}, logger)
	checker.AddProbe("storage", ledgerhealth.StorageProbe(store))
	checker.SetMetricsRecord(handler.RecordHealthCheck)
	checker.SetStatusHook(func(name string, healthy bool) {
		st := grpc_health_v1.HealthCheckResponse_SERVING
		if !healthy {
			st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		healthSvc.SetServingStatus(grpcService, st)
	})
	go checker.Start(ctx)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := cfg.Server.CORSOrigins
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	maxBody := cfg.Server.MaxBodyBytes
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)
		c.Next()
	})

	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		router.Use(handler.RateLimiter(ctx, rps, rps*2))
	}
	router.Use(requestLogger(logger))

	mountProbes(router, checker, cfg.Metrics.Enabled)

	v1 := router.Group("/api/v1")
	handler.NewRegistrationHandler(certs, secrets, contracts, functions, logger).Register(v1, guard)
	handler.NewExecutionHandler(executor, logger).Register(v1)
	handler.NewLedgerHandler(validator, logger).Register(v1, guard)
	if authHandler != nil {
		authHandler.Register(v1)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("gRPC listen on :%d: %w", cfg.Server.GRPCPort, err)
	}

	// ── Start servers ────────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("ledger gRPC health listening", zap.Int("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Fatal("gRPC serve error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("ledger HTTP listening", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down ledger...")
	cancel()
	healthSvc.Shutdown()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()

	logger.Info("ledger stopped")
	return nil
}

// openBackend opens the configured storage backend.
func openBackend(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.Backend, error) {
	switch cfg.Backend {
	case "leveldb":
		b, err := storage.OpenLevelDB(cfg.LevelDBPath, true)
		if err != nil {
			return nil, fmt.Errorf("open leveldb at %s: %w", cfg.LevelDBPath, err)
		}
		logger.Info("opened leveldb", zap.String("path", cfg.LevelDBPath))
		return b, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		return storage.NewPostgresBackend(pool, logger), nil
	default:
		logger.Warn("using in-memory storage, the ledger is lost on restart")
		return storage.NewMemoryBackend(), nil
	}
}

// auditorTrust loads the auditor key material, or returns nil when the
// deployment has no auditor.
func auditorTrust(cfg config.AuditorConfig) (*identity.AuditorTrust, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	trust := &identity.AuditorTrust{EntityID: cfg.EntityID, KeyVersion: cfg.KeyVersion, Secret: cfg.Secret}
	if cfg.CertPath != "" {
		pem, err := os.ReadFile(cfg.CertPath)
		if err != nil {
			return nil, fmt.Errorf("read auditor certificate: %w", err)
		}
		trust.CertPEM = string(pem)
	}
	return trust, nil
}

// mountProbes registers /healthz and, when enabled, the metrics middleware
// and /metrics. The middleware must be in place before any route it counts.
func mountProbes(router *gin.Engine, checker *ledgerhealth.HealthChecker, metrics bool) {
	if metrics {
		router.Use(handler.PrometheusMiddleware())
		router.GET("/metrics", handler.MetricsHandler())
	}
	router.GET("/healthz", handler.Healthz(checker))
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
