package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/clubify/adminguard/internal/audit"
	"github.com/clubify/adminguard/internal/auth"
	"github.com/clubify/adminguard/internal/config"
	"github.com/clubify/adminguard/internal/middleware"
	"github.com/clubify/adminguard/internal/ratelimit"
	"github.com/clubify/adminguard/internal/server"
	"github.com/clubify/adminguard/internal/session"
	"github.com/clubify/adminguard/internal/store"
	"github.com/clubify/adminguard/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.NewLogger(logLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	cfg, err := config.Load()
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Tracing
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		zapLogger.Fatal("Failed to create trace exporter", zap.Error(err))
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	// Shared cache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	// Audit store
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	if err := db.AutoMigrate(&audit.Entry{}); err != nil {
		zapLogger.Fatal("Failed to migrate audit_logs", zap.Error(err))
	}

	var notifier audit.Notifier
	if cfg.Kafka.Enabled {
		kafkaNotifier := audit.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, zapLogger)
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	}

	auditLogger := audit.NewLogger(db, zapLogger, logger.SecurityChannel(zapLogger), notifier, audit.Config{
		HMACSecret:       cfg.Security.Audit.HMACSecret,
		EmergencyLogPath: cfg.Security.Audit.EmergencyLogPath,
	})

	cacheStore := store.NewRedisStore(redisClient, "adminguard")
	sessions := session.NewManager(
		store.NewMemoryStore(),
		cacheStore,
		zapLogger,
		cfg.Security.SessionTTL,
		cfg.Security.TenantContextTTL,
	)

	resolver := auth.NewJWTResolver(cfg.Security.JWT.Secret)
	limiter := ratelimit.NewLimiter(redisClient, "adminguard:rl", cfg.Security.RateLimitMax, cfg.Security.RateLimitWindow)

	superAdmin := middleware.NewSuperAdmin(
		sessions, auditLogger, limiter, cacheStore, cacheStore, resolver, zapLogger,
		middleware.SuperAdminConfig{
			InactivityTimeout:   cfg.Security.InactivityTimeout,
			FingerprintTTL:      cfg.Security.FingerprintTTL,
			SuspiciousThreshold: cfg.Security.SuspiciousThreshold,
			SuspiciousWindow:    cfg.Security.SuspiciousWindow,
		},
	)

	csrf := middleware.NewCSRF(cacheStore, cacheStore, auditLogger, resolver, zapLogger, middleware.CSRFConfig{
		ProtectedMethods: cfg.Security.CSRF.ProtectedMethods,
		SkipPaths:        cfg.Security.CSRF.SkipPaths,
		SafeContentTypes: cfg.Security.CSRF.SafeContentTypes,
		TokenTTL:         cfg.Security.CSRF.TokenTTL,
		IssuanceLimit:    cfg.Security.CSRF.IssuanceLimit,
		IssuanceWindow:   cfg.Security.CSRF.IssuanceWindow,
	})

	srv := server.New(server.Deps{
		Logger:     zapLogger,
		Sessions:   sessions,
		Audit:      auditLogger,
		Headers:    middleware.SecurityHeaders(cfg.Security),
		Whitelist:  middleware.NewIPWhitelist(cfg.Security.Whitelist, auditLogger, zapLogger),
		CSRF:       csrf,
		SuperAdmin: superAdmin,
	})

	go func() {
		zapLogger.Info("adminguard listening",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))
		if err := srv.Start(cfg.Server.Host, cfg.Server.Port, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout); err != nil {
			zapLogger.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}
