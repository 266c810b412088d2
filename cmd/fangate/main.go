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
	"github.com/jmerrifield20/fangate/internal/captcha"
	"github.com/jmerrifield20/fangate/internal/config"
	"github.com/jmerrifield20/fangate/internal/delivery"
	"github.com/jmerrifield20/fangate/internal/events"
	"github.com/jmerrifield20/fangate/internal/fingerprint"
	"github.com/jmerrifield20/fangate/internal/gatekeeper"
	"github.com/jmerrifield20/fangate/internal/health"
	"github.com/jmerrifield20/fangate/internal/identity"
	"github.com/jmerrifield20/fangate/internal/linkpreview"
	"github.com/jmerrifield20/fangate/internal/ratelimit"
	"github.com/jmerrifield20/fangate/internal/store"
	"github.com/jmerrifield20/fangate/internal/submission/handler"
	"github.com/jmerrifield20/fangate/internal/textrisk"
	"github.com/jmerrifield20/fangate/internal/traces"
	"github.com/jmerrifield20/fangate/internal/trust"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("fangate exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	cfg, err := config.Load(os.Getenv("FANGATE_CONFIG"))
	if err != nil {
		return err
	}
	policies, err := cfg.Policies()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Tracing ──────────────────────────────────────────────────────────────
	shutdownTraces, err := traces.Init(ctx, cfg.Tracing.OTLPEndpoint, version, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	// ── Store ────────────────────────────────────────────────────────────────
	var kv store.Store
	switch cfg.Store.Backend {
	case "redis":
		client, err := store.Connect(cfg.Store.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer client.Close() //nolint:errcheck
		kv = store.NewRedisStore(client, cfg.Store.OpTimeout)
		logger.Info("using redis store")
	default:
		mem := store.NewMemoryStore()
		mem.StartEviction(ctx, time.Minute)
		kv = mem
		logger.Warn("using in-memory store; counters are per-process and lost on restart")
	}

	// ── Pipeline ─────────────────────────────────────────────────────────────
	if cfg.Fingerprint.Secret == "" {
		logger.Warn("fingerprint.secret is empty; fingerprint hashes are unkeyed")
	}
	hasher, err := fingerprint.NewHasher(cfg.Fingerprint.Secret)
	if err != nil {
		return err
	}

	trustCfg, err := cfg.TrustStoreConfig()
	if err != nil {
		return err
	}
	ts := trust.NewStore(kv, hasher, trustCfg, logger)

	limiter := ratelimit.New(kv, hasher, ratelimit.Options{
		GlobalLimit:  cfg.RateLimit.GlobalLimit,
		GlobalWindow: cfg.RateLimit.GlobalWindow,
	})

	var verifier captcha.Verifier
	switch cfg.Captcha.Provider {
	case "turnstile":
		verifier = captcha.NewTurnstileVerifier(cfg.Captcha.Secret, cfg.Captcha.VerifyTimeout)
	default:
		if cfg.Captcha.StaticToken == "" {
			logger.Warn("static captcha provider without static_token; every challenge will fail")
		}
		verifier = captcha.StaticVerifier{Token: cfg.Captcha.StaticToken}
	}
	engine := captcha.NewEngine(kv, ts, hasher, verifier, captcha.Config{
		VelocityWindow:       cfg.Captcha.VelocityWindow,
		VelocityThreshold:    cfg.Captcha.VelocityThreshold,
		FingerprintTTL:       cfg.Captcha.FingerprintTTL,
		FingerprintThreshold: cfg.Captcha.FingerprintThreshold,
	}, logger)

	analyzer, err := newAnalyzer(cfg, logger)
	if err != nil {
		return err
	}

	gk := gatekeeper.New(limiter, engine, analyzer, ts, hasher, logger)

	// ── Database (optional) ──────────────────────────────────────────────────
	var db *pgxpool.Pool
	if cfg.Database.URL != "" {
		db, err = pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()
		if err := db.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
	}

	// ── Events ───────────────────────────────────────────────────────────────
	sinks := events.Multi{events.NewZapSink(logger)}
	var pgSink *events.PostgresSink
	if db != nil {
		pgSink = events.NewPostgresSink(db)
		sinks = append(sinks, pgSink)
	}
	var kafkaSink *events.KafkaSink
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err = events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
		if err != nil {
			return fmt.Errorf("kafka event sink: %w", err)
		}
		sinks = append(sinks, kafkaSink)
	}
	eventLog := events.NewAsync(sinks, cfg.Events.QueueSize, cfg.Events.WriteTimeout, logger)
	gk.SetEventLogger(eventLog)

	// ── Delivery ─────────────────────────────────────────────────────────────
	var writer delivery.Writer = delivery.NewLogWriter(logger)
	var kafkaWriter *delivery.KafkaWriter
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaWriter, err = delivery.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.MessagesTopic, cfg.Kafka.WriteTimeout)
		if err != nil {
			return fmt.Errorf("kafka delivery: %w", err)
		}
		writer = kafkaWriter
		logger.Info("delivering accepted messages to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.MessagesTopic),
		)
	}

	// ── Health ───────────────────────────────────────────────────────────────
	probes := []health.Probe{health.PingProbe("store", true, kv)}
	if db != nil {
		probes = append(probes, health.PingProbe("postgres", false, db))
	}
	checker := health.New(probes, health.Config{
		CheckInterval: cfg.Health.CheckInterval,
		ProbeTimeout:  cfg.Health.ProbeTimeout,
		FailThreshold: cfg.Health.FailThreshold,
	}, logger)
	checker.SetMetricsRecord(handler.RecordHealthCheck)
	healthSrv, setServing := health.NewGRPCServer()
	checker.SetReadinessListener(setServing)
	checker.Start(ctx)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := newRouter(cfg.Server, logger)
	if err != nil {
		return err
	}

	handler.RegisterHealth(router, checker)
	router.GET("/metrics", handler.MetricsHandler())

	// Per-IP request throttling on the public routes only.
	var public []gin.HandlerFunc
	if cfg.Server.RateLimitRPS > 0 {
		throttle := handler.NewThrottle(cfg.Server.RateLimitRPS, cfg.Server.RateLimitRPS*2)
		throttle.StartCleanup(ctx)
		public = append(public, throttle.Middleware())
	}

	v1 := router.Group("/api/v1")
	handler.NewSubmissionHandler(gk, policies, writer, hasher, logger).Register(v1, public...)

	if cfg.LinkPreview.Enabled {
		previews := linkpreview.New(linkpreview.Config{
			Timeout:    cfg.LinkPreview.Timeout,
			MaxBytes:   cfg.LinkPreview.MaxBytes,
			CacheTTL:   cfg.LinkPreview.CacheTTL,
			FailureTTL: cfg.LinkPreview.FailureTTL,
		}, logger)
		previews.SetCache(kv)
		handler.NewPreviewHandler(previews, logger).Register(v1, public...)
	}

	if cfg.Admin.JWTSecret != "" {
		tokens, err := identity.NewAdminTokenIssuer(cfg.Admin.JWTSecret, cfg.Admin.Issuer, 0)
		if err != nil {
			return err
		}
		adminHandler := handler.NewAdminHandler(ts, analyzer, hasher, tokens, logger)
		if pgSink != nil {
			adminHandler.SetEventHistory(pgSink)
		}
		adminHandler.Register(v1)
	} else {
		logger.Info("admin API disabled (admin.jwt_secret not set)")
	}

	// ── gRPC health server ───────────────────────────────────────────────────
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("gRPC listen on :%d: %w", cfg.Server.GRPCPort, err)
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSrv)
	reflection.Register(grpcServer)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Start servers ────────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("fangate gRPC health listening", zap.Int("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Fatal("gRPC serve error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("fangate HTTP listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("version", version),
			zap.String("store", cfg.Store.Backend),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down fangate...")
	healthSrv.Shutdown()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()

	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()
	cancel()

	// Drain queued events before closing the sinks they write to.
	if err := eventLog.Close(shutCtx); err != nil {
		logger.Error("event log drain", zap.Error(err))
	}
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			logger.Error("kafka event sink close", zap.Error(err))
		}
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			logger.Error("kafka delivery close", zap.Error(err))
		}
	}
	if err := shutdownTraces(shutCtx); err != nil {
		logger.Error("tracing shutdown", zap.Error(err))
	}

	logger.Info("fangate stopped")
	return nil
}

// newRouter builds the engine and the middleware shared by every route.
func newRouter(sc config.ServerConfig, logger *zap.Logger) (*gin.Engine, error) {
	router := gin.New()
	// Gin trusts every peer's X-Forwarded-For by default; ClientIP feeds the
	// per-IP limits, so only configured proxies may set it.
	if err := router.SetTrustedProxies(sc.TrustedProxies); err != nil {
		return nil, fmt.Errorf("server.trusted_proxies: %w", err)
	}
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     sc.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: !containsWildcard(sc.CORSOrigins),
		MaxAge:           12 * time.Hour,
	}))
	router.Use(handler.SecurityHeaders())
	router.Use(handler.BodyLimit(sc.BodyLimit))
	router.Use(handler.PrometheusMiddleware())
	router.Use(handler.RequestLogger(logger))
	return router, nil
}

func newAnalyzer(cfg *config.Config, logger *zap.Logger) (*textrisk.Analyzer, error) {
	wl, err := textrisk.LoadWordlist(cfg.TextRisk.WordlistPath)
	if err != nil {
		return nil, fmt.Errorf("load wordlist: %w", err)
	}
	policy, err := cfg.TextRiskPolicy()
	if err != nil {
		return nil, err
	}
	analyzer, err := textrisk.NewAnalyzer(wl, policy, logger)
	if err != nil {
		return nil, err
	}

	var lists textrisk.MultiBlocklist
	if len(cfg.TextRisk.BlockedDomains) > 0 {
		lists = append(lists, textrisk.NewStaticBlocklist(cfg.TextRisk.BlockedDomains))
	}
	if cfg.TextRisk.DNSBLZone != "" {
		lists = append(lists, textrisk.NewDNSBL(cfg.TextRisk.DNSBLZone, cfg.TextRisk.DNSBLTimeout, logger))
	}
	if len(lists) > 0 {
		analyzer.SetBlocklist(lists)
	}
	return analyzer, nil
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

// loggingInterceptor returns a gRPC unary server interceptor that logs each call.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		logger.Debug("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}
