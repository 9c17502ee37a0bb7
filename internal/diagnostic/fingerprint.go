package diagnostic

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/grocery-tracker/internal/browser"
	"github.com/maltedev/grocery-tracker/internal/models"
)

const (
	FingerprintScanURL       = "https://fingerprint-scan.com/"
	defaultScoreTimeout      = 30 * time.Second
	genericBotTestsMarker    = "Generic Bot Tests"
	groupSeparatorClass      = "group-separator"
	fingerprintTableRowsPath = "table#fingerprintTable tr"
)

var (
	botRiskScoreRe  = regexp.MustCompile(`Bot Risk Score:\s*([0-9]+)(?:\s*/\s*([0-9]+))?`)
	fingerprintIDRe = regexp.MustCompile(`Fingerprint ID:\s*(.+)$`)
)

type ScorerState int

const (
	ScorerNotStarted ScorerState = iota
	ScorerPageLoaded
	ScorerScoreRead
	ScorerDone
)

func (s ScorerState) String() string {
	switch s {
	case ScorerNotStarted:
		return "not_started"
	case ScorerPageLoaded:
		return "page_loaded"
	case ScorerScoreRead:
		return "score_read"
	case ScorerDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type FingerprintOptions struct {
	URL          string
	ScoreTimeout time.Duration
}

// FingerprintScorer reads the bot risk score from the fingerprint scan page.
type FingerprintScorer struct {
	url          string
	scoreTimeout time.Duration
	state        ScorerState
	logger       *slog.Logger
}

func NewFingerprintScorer(opts FingerprintOptions, logger *slog.Logger) *FingerprintScorer {
	if opts.URL == "" {
		opts.URL = FingerprintScanURL
	}
	if opts.ScoreTimeout <= 0 {
		opts.ScoreTimeout = defaultScoreTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FingerprintScorer{
		url:          opts.URL,
		scoreTimeout: opts.ScoreTimeout,
		logger:       logger.With("component", "fingerprint_scorer"),
	}
}

// State reports how far the most recent Score call got.
func (f *FingerprintScorer) State() ScorerState {
	return f.state
}

// Score returns an inconclusive score, not an error, when the page never
// shows a score. Outside quiet mode it also collects the generic bot test
// rows and the fingerprint id.
func (f *FingerprintScorer) Score(ctx context.Context, page browser.Page, quiet bool) (*models.FingerprintScore, error) {
	f.state = ScorerNotStarted
	if err := browser.CheckPage("fingerprint score", page); err != nil {
		return nil, err
	}

	f.logger.Info("loading fingerprint scan", "url", f.url)
	if err := page.Navigate(ctx, f.url); err != nil {
		return nil, err
	}
	f.state = ScorerPageLoaded

	score := &models.FingerprintScore{}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scoreLoc := page.Locate(browser.ID("fingerprintScore")).First()
	visible, err := scoreLoc.WaitForVisible(ctx, f.scoreTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for fingerprint score: %w", err)
	}

	if visible {
		text, err := scoreLoc.Text()
		if err != nil {
			return nil, fmt.Errorf("failed to read fingerprint score: %w", err)
		}
		value, err := ParseBotRiskScore(text)
		if err != nil {
			return nil, err
		}
		score.Value = &value
		f.logger.Info("fingerprint score obtained", "score", value)
	} else {
		f.logger.Info("fingerprint score inconclusive", "timeout", f.scoreTimeout)
	}
	f.state = ScorerScoreRead

	if !quiet {
		if err := f.readDetails(ctx, page, score); err != nil {
			return nil, err
		}
	}

	f.state = ScorerDone
	return score, nil
}

// ParseBotRiskScore accepts "Bot Risk Score: 42" and the fractional
// "Bot Risk Score: 21/50", which is scaled to a percentage.
func ParseBotRiskScore(text string) (int, error) {
	match := botRiskScoreRe.FindStringSubmatch(text)
	if match == nil {
		return 0, fmt.Errorf("%w: bot risk score %q", ErrMalformedDiagnosticPattern, text)
	}

	numer, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, fmt.Errorf("%w: bot risk score %q: %v", ErrMalformedDiagnosticPattern, text, err)
	}

	value := numer
	if match[2] != "" {
		denom, err := strconv.Atoi(match[2])
		if err != nil || denom == 0 {
			return 0, fmt.Errorf("%w: bot risk score denominator in %q", ErrMalformedDiagnosticPattern, text)
		}
		value = int(math.Round(float64(numer) / float64(denom) * 100))
	}

	if value < 0 || value > 100 {
		return 0, fmt.Errorf("%w: bot risk score %d out of range", ErrMalformedDiagnosticPattern, value)
	}
	return value, nil
}

func (f *FingerprintScorer) readDetails(ctx context.Context, page browser.Page, score *models.FingerprintScore) error {
	hash := page.Locate(browser.ID("fingerprintHash")).First()
	visible, err := hash.WaitForVisible(ctx, f.scoreTimeout)
	if err != nil {
		return fmt.Errorf("failed waiting for fingerprint id: %w", err)
	}
	if visible {
		text, err := hash.Text()
		if err != nil {
			return fmt.Errorf("failed to read fingerprint id: %w", err)
		}
		if match := fingerprintIDRe.FindStringSubmatch(strings.TrimSpace(text)); match != nil {
			score.FingerprintID = strings.TrimSpace(match[1])
		}
	}
	if score.FingerprintID == "" {
		f.logger.Info("fingerprint id not found")
	} else {
		f.logger.Info("fingerprint id", "id", score.FingerprintID)
	}

	subTests, err := f.genericBotTests(ctx, page)
	if err != nil {
		return err
	}
	score.SubTests = subTests
	return nil
}

// genericBotTests walks the table rows once, in document order, keeping the
// rows after the "Generic Bot Tests" header up to the next group separator.
func (f *FingerprintScorer) genericBotTests(ctx context.Context, page browser.Page) ([]models.SubTest, error) {
	rows, err := page.Locate(browser.CSS(fingerprintTableRowsPath)).All()
	if err != nil {
		return nil, fmt.Errorf("failed to list fingerprint table rows: %w", err)
	}

	var subTests []models.SubTest
	foundHeader := false
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !foundHeader {
			text, err := row.Text()
			if err != nil {
				return nil, fmt.Errorf("failed to read fingerprint table row: %w", err)
			}
			foundHeader = strings.Contains(text, genericBotTestsMarker)
			continue
		}

		separator, err := isGroupSeparator(row)
		if err != nil {
			return nil, err
		}
		if separator {
			break
		}

		name, err := optionalText(row.Locate(browser.CSS(".property-name")).First())
		if err != nil {
			return nil, err
		}
		result, err := optionalText(row.Locate(browser.CSS(".property-value")).First())
		if err != nil {
			return nil, err
		}
		f.logger.Info("generic bot test", "name", name, "result", result)
		subTests = append(subTests, models.SubTest{Name: name, Result: result})
	}
	return subTests, nil
}

func isGroupSeparator(row browser.Locator) (bool, error) {
	count, err := row.Locate(browser.CSS("." + groupSeparatorClass)).Count()
	if err != nil {
		return false, fmt.Errorf("failed to inspect fingerprint table row: %w", err)
	}
	if count > 0 {
		return true, nil
	}
	class, err := row.Attribute("class")
	if err != nil {
		return false, fmt.Errorf("failed to inspect fingerprint table row: %w", err)
	}
	for _, c := range strings.Fields(class) {
		if c == groupSeparatorClass {
			return true, nil
		}
	}
	return false, nil
}

func optionalText(loc browser.Locator) (string, error) {
	count, err := loc.Count()
	if err != nil {
		return "", err
	}
	if count == 0 {
		return "", nil
	}
	text, err := loc.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
