package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	httpadapter "github.com/Houmeecl/xpres-sub000/internal/adapters/http"
	"github.com/Houmeecl/xpres-sub000/internal/adapters/memory"
	pg "github.com/Houmeecl/xpres-sub000/internal/adapters/postgres"
	"github.com/Houmeecl/xpres-sub000/internal/adapters/providers"
	"github.com/Houmeecl/xpres-sub000/internal/config"
	"github.com/Houmeecl/xpres-sub000/internal/domain"
	"github.com/Houmeecl/xpres-sub000/internal/logging"
	"github.com/Houmeecl/xpres-sub000/internal/metrics"
	"github.com/Houmeecl/xpres-sub000/internal/ports"
	auditsvc "github.com/Houmeecl/xpres-sub000/internal/services/audit"
	codesvc "github.com/Houmeecl/xpres-sub000/internal/services/codes"
	sigsvc "github.com/Houmeecl/xpres-sub000/internal/services/signatures"
	"github.com/Houmeecl/xpres-sub000/internal/workers/statuspoller"
)

type store interface {
	ports.DocumentRepository
	ports.SignatureRepository
	ports.CodeRepository
	ports.AuditRepository
	ports.PollRepository
}

func main() {
	cfg, cfgErr := config.Load()
	logger := logging.Must(cfg.Env, cfg.LogLevel, logging.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogFileMaxMB,
		MaxBackups: cfg.LogFileMaxBackups,
		MaxAgeDays: cfg.LogFileMaxAgeDays,
	})
	defer func() { _ = logger.Sync() }()
	if cfgErr != nil {
		logger.Warn("config", zap.Error(cfgErr))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	var (
		repo   store
		pinger httpadapter.Pinger
	)
	switch {
	case cfg.DatabaseURL != "":
		db, err := pg.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		if cfg.RunMigrations {
			results, err := db.Migrate(ctx)
			if err != nil {
				logger.Fatal("migrate", zap.Error(err))
			}
			logger.Info("migrations applied", zap.Int("count", len(results)))
		}
		repo, pinger = db, db
	case cfg.Env == "development":
		logger.Warn("DATABASE_URL not set, using in-memory store")
		repo = memory.New()
	default:
		logger.Fatal("DATABASE_URL is required outside development")
	}

	var tokens providers.TokenCache = providers.NewMemoryTokenCache()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis url", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		tokens = providers.NewRedisTokenCache(rdb, logger)
	}

	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}
	registry := providers.NewRegistry(
		providers.NewDocuSign(cfg.DocuSign, httpClient, tokens, logger),
		providers.NewAdobeSign(cfg.AdobeSign, httpClient, tokens, logger),
		providers.NewEToken(logger),
		providers.NewSimple(),
	)
	for _, p := range []domain.Provider{domain.ProviderDocuSign, domain.ProviderAdobeSign} {
		logger.Info("provider", zap.String("name", string(p)), zap.Bool("configured", registry.Configured(p)))
	}

	audit := auditsvc.New(repo, cfg.AuditFallbackDir, logger, m)
	signatures := sigsvc.New(repo, repo, registry, audit, sigsvc.Options{
		PublicBaseURL:   cfg.PublicBaseURL,
		ProviderTimeout: cfg.ProviderTimeout,
	}, logger, m)
	codes := codesvc.New(repo, repo, repo, audit, codesvc.Options{
		PublicBaseURL: cfg.PublicBaseURL,
		TTLs:          cfg.CodeTTLs,
		QRSize:        cfg.QRSize,
	}, logger, m)

	if cfg.PollWorkers > 0 {
		poller := statuspoller.New(repo, signatures, codes, statuspoller.Options{
			Workers:  cfg.PollWorkers,
			Interval: cfg.PollInterval,
			MinAge:   cfg.PollMinAge,
		}, logger)
		go poller.Run(ctx)
		logger.Info("status pollers started", zap.Int("workers", cfg.PollWorkers))
	}

	srv := httpadapter.New(signatures, codes, audit, pinger, logger, m)
	r := chi.NewRouter()
	r.Mount("/", srv.Routes())

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	logger.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("env", cfg.Env))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}
}
