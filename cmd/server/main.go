// Package main is the entry point for the barcode sequence server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"barcodeseq/internal/config"
	"barcodeseq/internal/domain/allocation"
	"barcodeseq/internal/domain/auth"
	"barcodeseq/internal/domain/settings"
	v1 "barcodeseq/internal/infrastructure/http/v1"
	"barcodeseq/internal/infrastructure/metrics"
	"barcodeseq/internal/infrastructure/mirror"
	"barcodeseq/internal/infrastructure/storage"
	"barcodeseq/internal/infrastructure/storage/file"
	"barcodeseq/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Development: cfg.App.Development(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	log.Infow("starting barcodeseq server", "driver", cfg.Store.Driver)

	// --- Sequence store ---
	handle, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatalw("failed to open sequence store", "driver", cfg.Store.Driver, "error", err)
	}
	defer func() {
		if err := handle.Close(); err != nil {
			log.Warnw("failed to close sequence store", "error", err)
		}
	}()
	log.Infow("sequence store ready", "driver", handle.Driver)

	m := metrics.New()

	// --- Mirror (optional) ---
	dispatcher, err := newDispatcher(ctx, cfg.Mirror, handle, m, log)
	if err != nil {
		log.Fatalw("failed to configure mirror", "kind", cfg.Mirror.Kind, "error", err)
	}

	// --- Allocation engine ---
	admission, err := allocation.NewAdmission(cfg.Allocation.AdmissionRule)
	if err != nil {
		log.Fatalw("invalid admission rule", "error", err)
	}

	engineCfg := allocation.Config{
		Timeout:       cfg.Allocation.Timeout,
		StoreTimeout:  cfg.Allocation.StoreTimeout,
		SweepInterval: cfg.Allocation.SweepInterval,
		MaxQueue:      cfg.Allocation.MaxQueue,
		Admission:     admission,
		Logger:        log,
		Metrics:       m,
	}
	if dispatcher != nil {
		engineCfg.OnCommit = dispatcher.Enqueue
	}
	engine := allocation.New(handle.Store, engineCfg)
	engine.Start()

	// --- Settings ---
	settingsService := settings.NewService(file.NewSettingsStore(cfg.Settings.File), log)

	// --- Router ---
	routerCfg := v1.RouterConfig{
		Logger:      log,
		Allocator:   engine,
		Settings:    settingsService,
		Store:       handle.Store,
		Driver:      handle.Driver,
		Depth:       engine.Depth,
		Info:        handle.Info,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Metrics:     m.Handler(),
	}
	if cfg.Auth.JWTSecret != "" {
		routerCfg.JWTValidator = auth.NewJWTService(auth.DefaultJWTConfig(cfg.Auth.JWTSecret))
		log.Info("bearer authentication enabled")
	} else {
		log.Warn("AUTH_JWT_SECRET not set, API is unauthenticated")
	}
	router := v1.NewRouter(routerCfg)

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Allocation.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.App.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}
	// Queued requests are rejected; the in-flight store write finishes.
	if err := engine.Close(shutdownCtx); err != nil {
		log.Errorw("allocation engine did not drain", "error", err)
	}
	if dispatcher != nil {
		if err := dispatcher.Close(shutdownCtx); err != nil {
			log.Errorw("mirror did not flush", "error", err)
		}
	}

	log.Info("server stopped")
}

func newDispatcher(ctx context.Context, cfg config.MirrorConfig, handle *storage.Handle, m *metrics.Metrics, log *logger.Logger) (*mirror.Dispatcher, error) {
	var (
		sink mirror.Sink
		err  error
	)
	switch cfg.Kind {
	case config.MirrorNone:
		return nil, nil
	case config.MirrorHTTP:
		sink, err = mirror.NewHTTPSink(cfg.URL, cfg.Token)
	case config.MirrorGCS:
		sink, err = mirror.NewGCSSink(ctx, cfg.Bucket, cfg.Object, cfg.CredentialsFile)
	default:
		return nil, fmt.Errorf("unknown mirror kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}

	// Sinks replace the whole remote document, so start from the stored state.
	lister, ok := handle.Lister()
	if !ok {
		_ = sink.Close()
		return nil, fmt.Errorf("store driver %q cannot list sequences for the mirror", handle.Driver)
	}
	recs, err := lister.List(ctx)
	if err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("list sequences: %w", err)
	}

	d := mirror.NewDispatcher(sink, mirror.Config{
		Buffer:   cfg.Buffer,
		OnResult: m.ObserveMirror,
		OnDrop:   m.MirrorDrop,
		Logger:   log,
	})
	d.Seed(recs)
	d.Start()
	log.Infow("mirror enabled", "kind", cfg.Kind, "seeded", len(recs))
	return d, nil
}
