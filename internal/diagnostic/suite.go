// Package diagnostic measures how detectable the automated browser is: the
// navigator.webdriver flag, the fingerprint scan bot risk score and the
// Cover Your Tracks uniqueness odds. It only measures; nothing here hides
// the browser.
package diagnostic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/grocery-tracker/internal/browser"
	"github.com/maltedev/grocery-tracker/internal/models"
)

var (
	ErrDiagnosticTimeout          = errors.New("diagnostic timed out")
	ErrMalformedDiagnosticPattern = errors.New("malformed diagnostic pattern")
)

const webdriverScript = "navigator.webdriver"

// WebdriverStatus evaluates navigator.webdriver on the current page.
func WebdriverStatus(ctx context.Context, page browser.Page, logger *slog.Logger) (bool, error) {
	if err := browser.CheckPage("webdriver status", page); err != nil {
		return false, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	value, err := page.Evaluate(ctx, webdriverScript)
	if err != nil {
		return false, fmt.Errorf("failed to read navigator.webdriver: %w", err)
	}

	status, _ := value.(bool)
	logger.Info("webdriver status", "navigator.webdriver", status)
	return status, nil
}

type Options struct {
	Fingerprint FingerprintOptions
	Entropy     EntropyOptions
}

// Suite runs every diagnostic in order on one page.
type Suite struct {
	scorer   *FingerprintScorer
	analyzer *EntropyAnalyzer
	logger   *slog.Logger
}

func NewSuite(opts Options, logger *slog.Logger) *Suite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Suite{
		scorer:   NewFingerprintScorer(opts.Fingerprint, logger),
		analyzer: NewEntropyAnalyzer(opts.Entropy, logger),
		logger:   logger.With("component", "diagnostics"),
	}
}

// Run returns the partial report alongside any error.
func (s *Suite) Run(ctx context.Context, page browser.Page, quiet bool) (*models.DiagnosticReport, error) {
	report := &models.DiagnosticReport{RanAt: time.Now()}

	if err := browser.CheckPage("run diagnostics", page); err != nil {
		return report, err
	}

	s.logger.Info("running diagnostics", "quiet", quiet)
	webdriver, err := WebdriverStatus(ctx, page, s.logger)
	if err != nil {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		s.logger.Warn("webdriver probe failed", "error", err)
	} else {
		report.Webdriver = &webdriver
	}

	score, err := s.scorer.Score(ctx, page, quiet)
	if err != nil {
		return report, fmt.Errorf("fingerprint scan failed: %w", err)
	}
	report.Fingerprint = score
	if score.Inconclusive() {
		s.logger.Info("fingerprint score", "score", "inconclusive")
	} else {
		s.logger.Info("fingerprint score", "score", *score.Value)
	}

	entropy, err := s.analyzer.Analyze(ctx, page, quiet)
	if err != nil {
		return report, fmt.Errorf("entropy analysis failed: %w", err)
	}
	report.Entropy = entropy
	if !entropy.OverallMeasured {
		s.logger.Info("entropy", "result", "no uniqueness signal")
	} else {
		s.logger.Info("entropy", "one_in", entropy.OverallUniquenessOdds, "elevated_categories", len(entropy.ElevatedCategories()))
	}
	return report, nil
}
