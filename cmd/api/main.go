package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lumen/backend/internal/config"
	"lumen/backend/internal/db"
	"lumen/backend/internal/httpapi"
	"lumen/backend/internal/logging"
	"lumen/backend/internal/lumen"
	"lumen/backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.ValidateServer(); err != nil {
		logger.Fatal("invalid server config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer database.Close()

	if err := store.NewStore(database).Migrate(ctx); err != nil {
		logger.Fatal("migrate db", zap.Error(err))
	}

	var exporter *store.Exporter
	if cfg.GCSExportBucket != "" {
		objects, err := store.NewGCSObjectStore(ctx, cfg.GCSExportBucket)
		if err != nil {
			logger.Fatal("open gcs export bucket", zap.String("bucket", cfg.GCSExportBucket), zap.Error(err))
		}
		exporter = store.NewExporter(objects, cfg.GCSExportPrefix)
	}

	if cfg.LumenToken == "" {
		logger.Warn("lumen token not configured; research endpoints will return 503")
	}
	querier := lumen.NewRateLimited(lumen.NewClient(cfg, nil), cfg.MinRequestInterval)

	handler := httpapi.NewRouter(cfg, logger, database, querier, exporter)

	srv := &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ResearchTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			zap.String("addr", cfg.ListenAddress()),
			zap.String("lumen_base_url", cfg.LumenBaseURL),
			zap.Int("max_depth", cfg.ResearchMaxDepth),
			zap.Bool("gcs_export", exporter != nil),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
