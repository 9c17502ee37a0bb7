package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/grocery-tracker/internal/api"
	"github.com/maltedev/grocery-tracker/internal/browser"
	"github.com/maltedev/grocery-tracker/internal/config"
	"github.com/maltedev/grocery-tracker/internal/extraction"
	"github.com/maltedev/grocery-tracker/internal/jobs"
	"github.com/maltedev/grocery-tracker/internal/orchestrator"
	"github.com/maltedev/grocery-tracker/internal/queue"
	"github.com/maltedev/grocery-tracker/internal/retailer"
	"github.com/maltedev/grocery-tracker/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Starting grocery tracker server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalog, err := config.LoadCatalog(cfg.Extraction.CatalogFile)
	if err != nil {
		logger.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}

	policy, err := extraction.ParseErrorPolicy(cfg.Extraction.ErrorPolicy)
	if err != nil {
		logger.Error("invalid error policy", "error", err)
		os.Exit(1)
	}

	store, err := orchestrator.OpenResults(cfg)
	if err != nil {
		logger.Error("failed to open results file", "error", err)
		os.Exit(1)
	}

	emitter, err := orchestrator.NewEmitter(ctx, cfg, store, logger)
	if err != nil {
		logger.Error("failed to initialize result emitter", "error", err)
		os.Exit(1)
	}
	defer emitter.Close()

	b, err := browser.New(cfg.BrowserOptions(), logger)
	if err != nil {
		logger.Error("failed to initialize browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	orch := orchestrator.New(b, orchestrator.Options{
		Catalog:        catalog,
		Registry:       retailer.DefaultRegistry(cfg.RetailerTimeouts(), logger),
		Diagnostics:    cfg.DiagnosticOptions(),
		ErrorPolicy:    policy,
		RateLimitMin:   cfg.Extraction.RateLimitMin,
		RateLimitMax:   cfg.Extraction.RateLimitMax,
		ScreenshotPath: cfg.Extraction.ScreenshotPath,
		Emitter:        emitter,
	}, logger)

	jobQueue := queue.NewInMemoryQueue()
	jobManager := jobs.NewManager(jobQueue, orch, logger)

	workerDone := make(chan struct{})
	go func() {
		jobManager.StartWorker(ctx)
		close(workerDone)
	}()

	var results api.ResultSource
	if store != nil {
		results = store
	}
	handlers := api.NewHandlers(jobManager, orch, results, logger)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers, api.RouterOptions{}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		jobQueue.Close()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	<-workerDone
	logger.Info("server stopped")
}
