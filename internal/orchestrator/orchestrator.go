// Package orchestrator runs one extraction or diagnostic pass end to end:
// it opens a page, drives the adapter or diagnostic suite, and hands the
// results to the configured emitter.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/grocery-tracker/internal/browser"
	"github.com/maltedev/grocery-tracker/internal/config"
	"github.com/maltedev/grocery-tracker/internal/diagnostic"
	"github.com/maltedev/grocery-tracker/internal/events"
	"github.com/maltedev/grocery-tracker/internal/extraction"
	"github.com/maltedev/grocery-tracker/internal/models"
	"github.com/maltedev/grocery-tracker/internal/ratelimit"
	"github.com/maltedev/grocery-tracker/internal/retailer"
)

// PageSource opens the page a run owns. *browser.Browser implements it.
type PageSource interface {
	NewPage() (browser.Page, error)
}

type Options struct {
	Catalog        *config.Catalog
	Registry       *retailer.Registry
	Diagnostics    diagnostic.Options
	ErrorPolicy    extraction.ErrorPolicy
	RateLimitMin   time.Duration
	RateLimitMax   time.Duration
	ScreenshotPath string
	Emitter        events.Emitter
}

type Orchestrator struct {
	pages  PageSource
	opts   Options
	logger *slog.Logger
}

func New(pages PageSource, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Catalog == nil {
		opts.Catalog = config.DefaultCatalog()
	}
	if opts.Registry == nil {
		opts.Registry = retailer.DefaultRegistry(retailer.DefaultTimeouts(), logger)
	}
	if opts.Emitter == nil {
		opts.Emitter = events.NewLogEmitter(logger)
	}
	return &Orchestrator{
		pages:  pages,
		opts:   opts,
		logger: logger.With("component", "orchestrator"),
	}
}

// Vendors lists the vendors that have both an adapter and catalog entry.
func (o *Orchestrator) Vendors() []string {
	var vendors []string
	for _, name := range o.opts.Registry.Names() {
		if _, err := o.opts.Catalog.Vendor(name); err == nil {
			vendors = append(vendors, name)
		}
	}
	return vendors
}

// ValidateVendor reports retailer.ErrUnknownVendor or
// config.ErrVendorNotInCatalog before any page is opened.
func (o *Orchestrator) ValidateVendor(vendor string) error {
	if _, err := o.opts.Registry.Get(vendor); err != nil {
		return err
	}
	if _, err := o.opts.Catalog.Vendor(vendor); err != nil {
		return err
	}
	return nil
}

// RunExtraction drives the vendor's catalog on a fresh page. The report is
// returned, possibly partial, alongside any error.
func (o *Orchestrator) RunExtraction(ctx context.Context, vendor string) (*extraction.Report, error) {
	adapter, err := o.opts.Registry.Get(vendor)
	if err != nil {
		return nil, err
	}
	entry, err := o.opts.Catalog.Vendor(adapter.Name())
	if err != nil {
		return nil, err
	}

	page, err := o.openPage()
	if err != nil {
		return nil, err
	}
	defer o.closePage(page)

	limiter := ratelimit.NewAdaptiveRateLimiter(o.opts.RateLimitMin, o.opts.RateLimitMax)
	pipeline := extraction.NewPipeline(adapter, page, extraction.Options{
		StorefrontURL:  entry.StorefrontURL,
		Location:       entry.Location,
		ErrorPolicy:    o.opts.ErrorPolicy,
		Limiter:        limiter,
		Emitter:        o.opts.Emitter,
		ScreenshotPath: o.opts.ScreenshotPath,
	}, o.logger)

	o.logger.Info("extraction started", "vendor", adapter.Name(), "products", len(entry.URLs))
	report, err := pipeline.RunReport(ctx, entry.URLs)
	minDelay, maxDelay := limiter.Delays()
	o.logger.Debug("final navigation delays", "vendor", adapter.Name(), "min", minDelay, "max", maxDelay)
	if err != nil {
		return report, fmt.Errorf("extraction for %s failed: %w", adapter.Name(), err)
	}
	return report, nil
}

// RunDiagnostics runs the diagnostic suite on a fresh page. Only complete
// reports are emitted.
func (o *Orchestrator) RunDiagnostics(ctx context.Context, quiet bool) (*models.DiagnosticReport, error) {
	page, err := o.openPage()
	if err != nil {
		return nil, err
	}
	defer o.closePage(page)

	suite := diagnostic.NewSuite(o.opts.Diagnostics, o.logger)
	report, err := suite.Run(ctx, page, quiet)
	if err != nil {
		return report, fmt.Errorf("diagnostics failed: %w", err)
	}

	if err := o.opts.Emitter.EmitDiagnostic(ctx, report); err != nil {
		o.logger.Warn("failed to emit diagnostic report", "error", err)
	}
	return report, nil
}

func (o *Orchestrator) openPage() (browser.Page, error) {
	if o.pages == nil {
		return nil, errors.New("no page source configured")
	}
	page, err := o.pages.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return page, nil
}

func (o *Orchestrator) closePage(page browser.Page) {
	if page == nil || page.IsClosed() {
		return
	}
	if err := page.Close(); err != nil {
		o.logger.Warn("failed to close page", "error", err)
	}
}
