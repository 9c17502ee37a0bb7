package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/grocery-tracker/internal/browser"
	"github.com/maltedev/grocery-tracker/internal/config"
	"github.com/maltedev/grocery-tracker/internal/extraction"
	"github.com/maltedev/grocery-tracker/internal/orchestrator"
	"github.com/maltedev/grocery-tracker/internal/retailer"
	"github.com/maltedev/grocery-tracker/pkg/logger"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code.
func run() int {
	var (
		mode       = flag.String("mode", "extract", "Run mode: extract or diagnose")
		vendor     = flag.String("vendor", retailer.CostcoVendor, "Vendor to extract: costco or safeway")
		quiet      = flag.Bool("quiet", false, "Diagnostics: only log scores and elevated categories")
		screenshot = flag.String("screenshot", "", "Save a screenshot of the last page to this path")
		headed     = flag.Bool("headed", false, "Show the browser window")
		output     = flag.String("output", "log", "Result output: log or json")
	)
	flag.Parse()

	if *mode != "extract" && *mode != "diagnose" {
		log.Printf("Unknown mode %q: expected extract or diagnose", *mode)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Starting grocery tracker", "mode", *mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	catalog, err := config.LoadCatalog(cfg.Extraction.CatalogFile)
	if err != nil {
		logger.Error("Failed to load catalog", "error", err)
		return 1
	}

	policy, err := extraction.ParseErrorPolicy(cfg.Extraction.ErrorPolicy)
	if err != nil {
		logger.Error("Invalid error policy", "error", err)
		return 1
	}

	store, err := orchestrator.OpenResults(cfg)
	if err != nil {
		logger.Error("Failed to open results file", "error", err)
		return 1
	}

	emitter, err := orchestrator.NewEmitter(ctx, cfg, store, logger)
	if err != nil {
		logger.Error("Failed to initialize result emitter", "error", err)
		return 1
	}
	defer emitter.Close()

	browserOpts := cfg.BrowserOptions()
	if *headed {
		browserOpts.Headless = false
	}

	b, err := browser.New(browserOpts, logger)
	if err != nil {
		logger.Error("Failed to initialize browser", "error", err)
		return 1
	}
	defer b.Close()

	screenshotPath := cfg.Extraction.ScreenshotPath
	if *screenshot != "" {
		screenshotPath = *screenshot
	}

	orch := orchestrator.New(b, orchestrator.Options{
		Catalog:        catalog,
		Registry:       retailer.DefaultRegistry(cfg.RetailerTimeouts(), logger),
		Diagnostics:    cfg.DiagnosticOptions(),
		ErrorPolicy:    policy,
		RateLimitMin:   cfg.Extraction.RateLimitMin,
		RateLimitMax:   cfg.Extraction.RateLimitMax,
		ScreenshotPath: screenshotPath,
		Emitter:        emitter,
	}, logger)

	var result any
	switch *mode {
	case "extract":
		report, runErr := orch.RunExtraction(ctx, *vendor)
		if report != nil {
			result = report
		}
		err = runErr
	default:
		report, runErr := orch.RunDiagnostics(ctx, *quiet)
		if report != nil {
			result = report
		}
		err = runErr
	}

	if *output == "json" && result != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(result); encErr != nil {
			logger.Error("Failed to write results", "error", encErr)
		}
	}

	if err != nil {
		logger.Error("Run failed", "mode", *mode, "error", err)
		return 1
	}
	logger.Info("Run complete", "mode", *mode)
	return 0
}
