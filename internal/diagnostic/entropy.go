package diagnostic

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/grocery-tracker/internal/browser"
	"github.com/maltedev/grocery-tracker/internal/models"
)

const (
	CoverYourTracksURL = "https://coveryourtracks.eff.org/"

	// DefaultEntropyWarningThreshold flags a category once one in this many
	// browsers, or fewer, share its value.
	DefaultEntropyWarningThreshold = 1000.0

	// NoSignalUniquenessOdds stands in for the overall odds when the page
	// gives none. It is a sentinel, not a measurement.
	NoSignalUniquenessOdds = 1.0

	maxDescriptionLength = 100
	truncationMarker     = "..."

	defaultStartTimeout  = 30 * time.Second
	defaultStatusTimeout = 60 * time.Second
)

var (
	categoryOddsRe = regexp.MustCompile(`value:\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)
	overallOddsRe  = regexp.MustCompile(`(?i)one in ([0-9][0-9,]*(?:\.[0-9]+)?) browsers`)

	statusRegions = []string{"fp_status", "ad_status", "tracker_status"}
)

type EntropyOptions struct {
	URL              string
	WarningThreshold float64
	StartTimeout     time.Duration
	StatusTimeout    time.Duration
}

// EntropyAnalyzer runs the Cover Your Tracks test and reads the per category
// uniqueness odds.
type EntropyAnalyzer struct {
	url           string
	threshold     float64
	startTimeout  time.Duration
	statusTimeout time.Duration
	logger        *slog.Logger
}

func NewEntropyAnalyzer(opts EntropyOptions, logger *slog.Logger) *EntropyAnalyzer {
	if opts.URL == "" {
		opts.URL = CoverYourTracksURL
	}
	if opts.WarningThreshold <= 0 {
		opts.WarningThreshold = DefaultEntropyWarningThreshold
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = defaultStartTimeout
	}
	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = defaultStatusTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EntropyAnalyzer{
		url:           opts.URL,
		threshold:     opts.WarningThreshold,
		startTimeout:  opts.StartTimeout,
		statusTimeout: opts.StatusTimeout,
		logger:        logger.With("component", "entropy_analyzer"),
	}
}

func (e *EntropyAnalyzer) Threshold() float64 {
	return e.threshold
}

func (e *EntropyAnalyzer) Analyze(ctx context.Context, page browser.Page, quiet bool) (*models.EntropyReport, error) {
	if err := browser.CheckPage("entropy analysis", page); err != nil {
		return nil, err
	}

	e.logger.Info("loading cover your tracks", "url", e.url)
	if err := page.Navigate(ctx, e.url); err != nil {
		return nil, err
	}
	if err := e.startTest(ctx, page); err != nil {
		return nil, err
	}
	if err := e.waitForStatus(ctx, page); err != nil {
		return nil, err
	}

	report := &models.EntropyReport{}
	var err error
	if report.Assessment, err = statusText(page, "fp_status"); err != nil {
		return nil, err
	}
	if report.AdBlockStatus, err = statusText(page, "ad_status"); err != nil {
		return nil, err
	}
	if report.TrackerBlockStatus, err = statusText(page, "tracker_status"); err != nil {
		return nil, err
	}
	e.logger.Info("assessment",
		"assessment", report.Assessment,
		"blocking_tracking_ads", report.AdBlockStatus,
		"blocking_invisible_trackers", report.TrackerBlockStatus)

	if report.Categories, err = e.readCategories(ctx, page, quiet); err != nil {
		return nil, err
	}

	if report.OverallUniquenessOdds, report.OverallMeasured, err = overallOdds(page); err != nil {
		return nil, err
	}
	if report.OverallMeasured {
		e.logger.Info("overall uniqueness", "one_in", report.OverallUniquenessOdds)
	} else {
		e.logger.Info("overall uniqueness not reported, using no-signal sentinel", "one_in", report.OverallUniquenessOdds)
	}
	return report, nil
}

func (e *EntropyAnalyzer) startTest(ctx context.Context, page browser.Page) error {
	link := page.Locate(browser.CSS("a#kcarterlink")).First()
	count, err := link.Count()
	if err != nil {
		return fmt.Errorf("failed to find test link: %w", err)
	}
	if count == 0 {
		link = page.Locate(browser.Role("link", "Test Your Browser")).First()
	}

	visible, err := link.WaitForVisible(ctx, e.startTimeout)
	if err != nil {
		return fmt.Errorf("failed waiting for test link: %w", err)
	}
	if !visible {
		return fmt.Errorf("test link not visible after %s: %w", e.startTimeout, ErrDiagnosticTimeout)
	}

	e.logger.Info("starting browser test")
	if err := link.Click(); err != nil {
		return fmt.Errorf("failed to start browser test: %w", err)
	}
	return nil
}

// waitForStatus waits for text, not visibility: the regions render empty
// before the test finishes.
func (e *EntropyAnalyzer) waitForStatus(ctx context.Context, page browser.Page) error {
	for _, id := range statusRegions {
		ok, err := page.Locate(browser.ID(id)).WaitForNonEmptyText(ctx, e.statusTimeout)
		if err != nil {
			return fmt.Errorf("failed waiting for %s: %w", id, err)
		}
		if !ok {
			return fmt.Errorf("%s still empty after %s: %w", id, e.statusTimeout, ErrDiagnosticTimeout)
		}
	}
	return nil
}

func statusText(page browser.Page, id string) (string, error) {
	region := page.Locate(browser.ID(id))
	span := region.Locate(browser.CSS("span")).First()
	count, err := span.Count()
	if err != nil {
		return "", err
	}
	if count > 0 {
		if text, err := span.Text(); err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text), nil
		}
	}

	text, err := region.First().Text()
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", id, err)
	}
	return strings.TrimSpace(text), nil
}

func (e *EntropyAnalyzer) readCategories(ctx context.Context, page browser.Page, quiet bool) ([]models.EntropyCategory, error) {
	rows := page.Locate(browser.CSS("div.detailed-results")).Locate(browser.CSS(".results-table")).FilterHas(browser.CSS("h4"))

	visible, err := rows.First().WaitForVisible(ctx, e.statusTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for results table: %w", err)
	}
	if !visible {
		return nil, fmt.Errorf("results table not visible after %s: %w", e.statusTimeout, ErrDiagnosticTimeout)
	}

	all, err := rows.All()
	if err != nil {
		return nil, fmt.Errorf("failed to list results table rows: %w", err)
	}

	categories := make([]models.EntropyCategory, 0, len(all))
	for _, row := range all {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		category, err := e.readCategory(row)
		if err != nil {
			return nil, err
		}

		switch {
		case category.Elevated:
			e.logger.Warn("low entropy detected",
				"category", category.Label,
				"one_in", category.UniquenessOdds,
				"description", category.Description)
		case !quiet:
			e.logger.Info("entropy category",
				"category", category.Label,
				"one_in", category.UniquenessOdds,
				"description", category.Description)
		}
		categories = append(categories, category)
	}
	return categories, nil
}

func (e *EntropyAnalyzer) readCategory(row browser.Locator) (models.EntropyCategory, error) {
	label, err := row.Locate(browser.CSS("h4")).First().Text()
	if err != nil {
		return models.EntropyCategory{}, fmt.Errorf("failed to read category label: %w", err)
	}
	label = strings.TrimSpace(label)

	description, err := optionalText(row.Locate(browser.CSS(".default")).First())
	if err != nil {
		return models.EntropyCategory{}, fmt.Errorf("failed to read description for %s: %w", label, err)
	}
	if description == "" {
		e.logger.Debug("category has no description", "category", label)
	}

	odds, err := categoryOdds(row)
	if err != nil {
		return models.EntropyCategory{}, fmt.Errorf("category %s: %w", label, err)
	}

	return models.EntropyCategory{
		Label:          label,
		Description:    TruncateDescription(description),
		UniquenessOdds: odds,
		Elevated:       e.IsElevated(odds),
	}, nil
}

// IsElevated is inclusive: odds equal to the threshold are elevated.
func (e *EntropyAnalyzer) IsElevated(odds float64) bool {
	return odds >= e.threshold
}

// categoryOdds reads "... browsers have this value: <odds>", falling back to
// the layout that puts the bare number in the last column's <em>.
func categoryOdds(row browser.Locator) (float64, error) {
	text, err := optionalText(row.Locate(browser.CSS("div")).Filter("browsers have this value").First())
	if err != nil {
		return 0, err
	}
	if match := categoryOddsRe.FindStringSubmatch(text); match != nil {
		return strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
	}

	text, err = optionalText(row.Locate(browser.CSS(".detailed:last-child > em")).First())
	if err != nil {
		return 0, err
	}
	if text != "" {
		if odds, err := strconv.ParseFloat(strings.ReplaceAll(text, ",", ""), 64); err == nil {
			return odds, nil
		}
	}
	return 0, fmt.Errorf("%w: no uniqueness odds in row", ErrMalformedDiagnosticPattern)
}

func overallOdds(page browser.Page) (float64, bool, error) {
	text, err := optionalText(page.Locate(browser.CSS("div.entropy")).First())
	if err != nil {
		return 0, false, fmt.Errorf("failed to read overall uniqueness: %w", err)
	}
	odds, ok := ParseOverallOdds(text)
	return odds, ok, nil
}

// ParseOverallOdds extracts N from "one in N browsers". Without a match it
// returns NoSignalUniquenessOdds and false.
func ParseOverallOdds(text string) (float64, bool) {
	match := overallOddsRe.FindStringSubmatch(text)
	if match == nil {
		return NoSignalUniquenessOdds, false
	}
	odds, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
	if err != nil {
		return NoSignalUniquenessOdds, false
	}
	return odds, true
}

// TruncateDescription caps descriptions at 100 characters, ending cut ones
// with "...".
func TruncateDescription(description string) string {
	runes := []rune(description)
	if len(runes) <= maxDescriptionLength {
		return description
	}
	keep := maxDescriptionLength - len(truncationMarker)
	return string(runes[:keep]) + truncationMarker
}
