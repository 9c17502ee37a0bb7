// Package extraction drives one retailer adapter over an ordered list of
// product pages for a single delivery location.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/grocery-tracker/internal/browser"
	"github.com/maltedev/grocery-tracker/internal/models"
	"github.com/maltedev/grocery-tracker/internal/ratelimit"
	"github.com/maltedev/grocery-tracker/internal/retailer"
)

// ErrorPolicy decides what a product level failure does to the run.
type ErrorPolicy int

const (
	// FailFast aborts the run on the first failed product.
	FailFast ErrorPolicy = iota
	// SkipFailed logs the failure and moves on to the next URL.
	SkipFailed
)

func (p ErrorPolicy) String() string {
	switch p {
	case FailFast:
		return "fail_fast"
	case SkipFailed:
		return "skip_failed"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch s {
	case "", "fail_fast", "failfast":
		return FailFast, nil
	case "skip_failed", "skipfailed", "skip":
		return SkipFailed, nil
	default:
		return FailFast, fmt.Errorf("unknown error policy %q", s)
	}
}

// ProductEmitter receives each record as soon as it is extracted.
type ProductEmitter interface {
	EmitProduct(ctx context.Context, record models.ProductRecord) error
}

type Options struct {
	StorefrontURL  string
	Location       models.DeliveryLocation
	ErrorPolicy    ErrorPolicy
	Limiter        ratelimit.RateLimiter
	Emitter        ProductEmitter
	ScreenshotPath string
}

type Failure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Report is the outcome of one run. Records follow input order.
type Report struct {
	Vendor            string                  `json:"vendor"`
	Location          models.DeliveryLocation `json:"location"`
	LocationCommitted bool                    `json:"location_committed"`
	Records           []models.ProductRecord  `json:"records"`
	Failures          []Failure               `json:"failures,omitempty"`
	StartedAt         time.Time               `json:"started_at"`
	FinishedAt        time.Time               `json:"finished_at"`
}

type Pipeline struct {
	adapter retailer.Adapter
	page    browser.Page
	opts    Options
	logger  *slog.Logger
}

func NewPipeline(adapter retailer.Adapter, page browser.Page, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		adapter: adapter,
		page:    page,
		opts:    opts,
		logger:  logger.With("component", "pipeline", "vendor", adapter.Name()),
	}
}

// Run returns one record per URL, in input order. Under SkipFailed the
// failed URLs are left out.
func (p *Pipeline) Run(ctx context.Context, urls []models.ProductURL) ([]models.ProductRecord, error) {
	report, err := p.RunReport(ctx, urls)
	if err != nil {
		return report.Records, err
	}
	return report.Records, nil
}

// RunReport is Run with the location outcome and skipped failures attached.
// On error the report still carries the records extracted so far.
func (p *Pipeline) RunReport(ctx context.Context, urls []models.ProductURL) (*Report, error) {
	report := &Report{
		Vendor:    p.adapter.Name(),
		Location:  p.opts.Location,
		Records:   make([]models.ProductRecord, 0, len(urls)),
		StartedAt: time.Now(),
	}
	defer func() { report.FinishedAt = time.Now() }()

	session := NewSession(p.adapter, p.page, p.logger)

	p.logger.Info("starting extraction run", "products", len(urls), "location", p.opts.Location.String())
	if err := session.OpenStorefront(ctx, p.opts.StorefrontURL); err != nil {
		return report, err
	}

	if err := p.commitLocation(ctx, session); err != nil {
		return report, err
	}
	_, report.LocationCommitted = session.Location()

	for i, url := range urls {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("extraction cancelled before product %d of %d: %w", i+1, len(urls), err)
		}

		record, err := p.extractOne(ctx, session, url)
		p.recordOutcome(err)
		if err != nil {
			if p.opts.ErrorPolicy == SkipFailed && !isFatal(err) {
				p.logger.Error("skipping product", "url", url, "error", err)
				report.Failures = append(report.Failures, Failure{URL: url, Error: err.Error()})
				continue
			}
			return report, fmt.Errorf("failed to extract %s: %w", url, err)
		}

		if issues := record.Validate(); len(issues) > 0 {
			p.logger.Warn("extracted record is incomplete", "url", url, "issues", issues)
		}
		report.Records = append(report.Records, record)
		p.logRecord(record)

		if p.opts.Emitter != nil {
			if err := p.opts.Emitter.EmitProduct(ctx, record); err != nil {
				p.logger.Warn("failed to emit product record", "url", url, "error", err)
			}
		}
	}

	p.screenshot()
	p.logger.Info("extraction run finished",
		"records", len(report.Records),
		"failures", len(report.Failures),
		"location_committed", report.LocationCommitted)
	return report, nil
}

func (p *Pipeline) commitLocation(ctx context.Context, session *Session) error {
	err := session.CommitLocation(ctx, p.opts.Location)
	if err == nil {
		return nil
	}
	if isFatal(err) {
		return err
	}

	if p.adapter.LocationPolicy() == retailer.LocationProceed {
		return session.SkipLocation(p.opts.Location, err)
	}
	return err
}

func (p *Pipeline) extractOne(ctx context.Context, session *Session, url string) (models.ProductRecord, error) {
	if p.opts.Limiter != nil {
		if err := p.opts.Limiter.Wait(ctx); err != nil {
			return models.ProductRecord{}, err
		}
	}

	p.logger.Info("visiting product", "url", url)
	if err := session.VisitProduct(ctx, url); err != nil {
		return models.ProductRecord{}, err
	}
	return session.Extract(ctx)
}

func (p *Pipeline) recordOutcome(err error) {
	feedback, ok := p.opts.Limiter.(ratelimit.Feedback)
	if !ok {
		return
	}
	if err != nil {
		feedback.RecordError()
	} else {
		feedback.RecordSuccess()
	}
}

func (p *Pipeline) logRecord(record models.ProductRecord) {
	attrs := []any{"name", record.Name, "sku", record.SKU, "url", record.URL}
	if record.Price != nil {
		attrs = append(attrs, "price", *record.Price)
	} else {
		attrs = append(attrs, "price", "n/a")
	}
	if record.Availability != nil {
		attrs = append(attrs, "availability", *record.Availability)
	}
	p.logger.Info("extracted product", attrs...)
}

func (p *Pipeline) screenshot() {
	if p.opts.ScreenshotPath == "" || p.page == nil || p.page.IsClosed() {
		return
	}
	if err := p.page.Screenshot(p.opts.ScreenshotPath); err != nil {
		p.logger.Warn("failed to take screenshot", "path", p.opts.ScreenshotPath, "error", err)
		return
	}
	p.logger.Info("saved screenshot", "path", p.opts.ScreenshotPath)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// isFatal reports errors that end a run under every policy.
func isFatal(err error) bool {
	return isContextError(err) || errors.Is(err, browser.ErrInvalidPageHandle)
}
