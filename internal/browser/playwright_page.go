package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	navigationTimeout = 60 * time.Second
	textPollInterval  = 250 * time.Millisecond
)

// PlaywrightPage adapts a playwright tab to the Page interface.
type PlaywrightPage struct {
	page   playwright.Page
	logger *slog.Logger
}

func NewPlaywrightPage(page playwright.Page, logger *slog.Logger) *PlaywrightPage {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaywrightPage{
		page:   page,
		logger: logger.With("component", "page"),
	}
}

func (p *PlaywrightPage) Navigate(ctx context.Context, url string) error {
	ms, err := timeoutMillis(ctx, navigationTimeout)
	if err != nil {
		return err
	}

	p.logger.Debug("navigating", "url", url)
	_, err = p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(ms),
	})
	return wrapError(ctx, "failed to navigate to "+url, err)
}

func (p *PlaywrightPage) Locate(sel Selector) Locator {
	return &playwrightLocator{page: p, loc: p.resolve(sel)}
}

func (p *PlaywrightPage) WaitForNetworkSettled(ctx context.Context, timeout time.Duration) error {
	ms, err := timeoutMillis(ctx, timeout)
	if err != nil {
		return err
	}

	err = p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(ms),
	})
	return wrapError(ctx, "failed waiting for network idle", err)
}

func (p *PlaywrightPage) Evaluate(ctx context.Context, script string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := p.page.Evaluate(script)
	if err != nil {
		return nil, wrapError(ctx, "failed to evaluate script", err)
	}
	return result, nil
}

func (p *PlaywrightPage) Screenshot(path string) error {
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to take screenshot: %w", err)
	}
	return nil
}

func (p *PlaywrightPage) IsClosed() bool {
	return p == nil || p.page == nil || p.page.IsClosed()
}

func (p *PlaywrightPage) Close() error {
	if p.IsClosed() {
		return nil
	}
	return p.page.Close()
}

func (p *PlaywrightPage) resolve(sel Selector) playwright.Locator {
	switch sel.Kind {
	case ByID:
		return p.page.Locator("id=" + sel.Value)
	case ByRole:
		opts := playwright.PageGetByRoleOptions{}
		if sel.Name != "" {
			opts.Name = sel.Name
		}
		return p.page.GetByRole(playwright.AriaRole(sel.Value), opts)
	case ByPlaceholder:
		return p.page.GetByPlaceholder(sel.Value)
	case ByLabel:
		return p.page.GetByLabel(sel.Value)
	case ByText:
		return p.page.GetByText(sel.Value)
	default:
		return p.page.Locator(sel.Value)
	}
}

type playwrightLocator struct {
	page *PlaywrightPage
	loc  playwright.Locator
}

func (l *playwrightLocator) wrap(loc playwright.Locator) Locator {
	return &playwrightLocator{page: l.page, loc: loc}
}

func (l *playwrightLocator) Locate(sel Selector) Locator {
	switch sel.Kind {
	case ByID:
		return l.wrap(l.loc.Locator("id=" + sel.Value))
	case ByRole:
		opts := playwright.LocatorGetByRoleOptions{}
		if sel.Name != "" {
			opts.Name = sel.Name
		}
		return l.wrap(l.loc.GetByRole(playwright.AriaRole(sel.Value), opts))
	case ByPlaceholder:
		return l.wrap(l.loc.GetByPlaceholder(sel.Value))
	case ByLabel:
		return l.wrap(l.loc.GetByLabel(sel.Value))
	case ByText:
		return l.wrap(l.loc.GetByText(sel.Value))
	default:
		return l.wrap(l.loc.Locator(sel.Value))
	}
}

func (l *playwrightLocator) Filter(hasText string) Locator {
	return l.wrap(l.loc.Filter(playwright.LocatorFilterOptions{HasText: hasText}))
}

func (l *playwrightLocator) FilterHas(sel Selector) Locator {
	return l.wrap(l.loc.Filter(playwright.LocatorFilterOptions{Has: l.page.resolve(sel)}))
}

func (l *playwrightLocator) Nth(index int) Locator {
	return l.wrap(l.loc.Nth(index))
}

func (l *playwrightLocator) First() Locator {
	return l.wrap(l.loc.First())
}

func (l *playwrightLocator) All() ([]Locator, error) {
	all, err := l.loc.All()
	if err != nil {
		return nil, fmt.Errorf("failed to list elements: %w", err)
	}

	locators := make([]Locator, 0, len(all))
	for _, loc := range all {
		locators = append(locators, l.wrap(loc))
	}
	return locators, nil
}

func (l *playwrightLocator) Count() (int, error) {
	return l.loc.Count()
}

func (l *playwrightLocator) IsVisible() (bool, error) {
	return l.loc.IsVisible()
}

func (l *playwrightLocator) Text() (string, error) {
	text, err := l.loc.InnerText()
	if err != nil {
		return "", wrapError(context.Background(), "failed to read text", err)
	}
	return text, nil
}

func (l *playwrightLocator) Attribute(name string) (string, error) {
	value, err := l.loc.GetAttribute(name)
	if err != nil {
		return "", wrapError(context.Background(), "failed to read attribute "+name, err)
	}
	return value, nil
}

func (l *playwrightLocator) Fill(text string) error {
	return wrapError(context.Background(), "failed to fill", l.loc.Fill(text))
}

func (l *playwrightLocator) Click() error {
	return wrapError(context.Background(), "failed to click", l.loc.Click())
}

func (l *playwrightLocator) WaitForVisible(ctx context.Context, timeout time.Duration) (bool, error) {
	ms, err := timeoutMillis(ctx, timeout)
	if errors.Is(err, ErrTimeout) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = l.loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(ms),
	})
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, playwright.ErrTimeout):
		return false, nil
	default:
		return false, fmt.Errorf("failed waiting for element: %w", err)
	}
}

func (l *playwrightLocator) WaitForNonEmptyText(ctx context.Context, timeout time.Duration) (bool, error) {
	return Poll(ctx, timeout, textPollInterval, func() (bool, error) {
		count, err := l.loc.Count()
		if err != nil || count == 0 {
			return false, nil
		}

		text, err := l.loc.First().InnerText(playwright.LocatorInnerTextOptions{
			Timeout: playwright.Float(float64(textPollInterval.Milliseconds())),
		})
		if err != nil {
			if errors.Is(err, playwright.ErrTimeout) {
				return false, nil
			}
			return false, fmt.Errorf("failed to read text: %w", err)
		}
		return strings.TrimSpace(text) != "", nil
	})
}

func timeoutMillis(ctx context.Context, timeout time.Duration) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	bounded := boundedTimeout(ctx, timeout)
	if bounded <= 0 {
		return 0, ErrTimeout
	}
	if bounded < time.Millisecond {
		bounded = time.Millisecond
	}
	return float64(bounded.Milliseconds()), nil
}

// wrapError maps playwright timeouts onto ErrTimeout so callers never need
// to import the driver to classify failures.
func wrapError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%s: %w: %v", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
