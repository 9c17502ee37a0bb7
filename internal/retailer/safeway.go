package retailer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/maltedev/grocery-tracker/internal/browser"
	"github.com/maltedev/grocery-tracker/internal/models"
)

const (
	SafewayVendor        = "safeway"
	SafewayStorefrontURL = "https://www.safeway.com"

	fulfillmentButtonID = "openFulfillmentModalButton"
)

var safewayPriceRe = regexp.MustCompile(`Your Price:\s+\$(?P<price>[0-9]+\.[0-9]{2})`)

// Safeway drives safeway.com, where the delivery location is a store picked
// from a zip code search.
type Safeway struct {
	timeouts Timeouts
	logger   *slog.Logger
}

func NewSafeway(timeouts Timeouts, logger *slog.Logger) *Safeway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Safeway{
		timeouts: timeouts.withDefaults(),
		logger:   logger.With("component", "retailer", "vendor", SafewayVendor),
	}
}

func (s *Safeway) Name() string                   { return SafewayVendor }
func (s *Safeway) StorefrontURL() string          { return SafewayStorefrontURL }
func (s *Safeway) LocationPolicy() LocationPolicy { return LocationAbort }

func (s *Safeway) NavigateToStorefront(ctx context.Context, page browser.Page, storefrontURL string) error {
	if err := checkpoint(ctx, "navigate to storefront", page); err != nil {
		return err
	}
	if storefrontURL == "" {
		storefrontURL = SafewayStorefrontURL
	}

	s.logger.Info("browsing to storefront", "url", storefrontURL)
	return page.Navigate(ctx, storefrontURL)
}

// locationControl is the fulfillment button; only its inner element reacts
// to clicks.
func (s *Safeway) locationControl(page browser.Page) browser.Locator {
	return page.Locate(browser.Role("button", "")).
		FilterHas(browser.ID(fulfillmentButtonID)).
		Locate(browser.ID(fulfillmentButtonID)).
		First()
}

func (s *Safeway) SetLocation(ctx context.Context, page browser.Page, loc models.DeliveryLocation) error {
	if err := checkpoint(ctx, "set location", page); err != nil {
		return err
	}
	s.logger.Info("setting location", "location", loc.String())

	control := s.locationControl(page)
	visible, err := control.WaitForVisible(ctx, s.timeouts.LocationControl)
	if err != nil {
		return fmt.Errorf("failed waiting for fulfillment control: %w", err)
	}
	if !visible {
		return fmt.Errorf("fulfillment control not visible after %s: %w", s.timeouts.LocationControl, ErrLocationControlNotFound)
	}
	if err := clickStep(ctx, control, "fulfillment control"); err != nil {
		return err
	}

	zipInput := page.Locate(browser.Placeholder("Enter ZIP Code to get started.")).First()
	visible, err = zipInput.WaitForVisible(ctx, s.timeouts.LocationControl)
	if err != nil {
		return fmt.Errorf("failed waiting for zip code input: %w", err)
	}
	if !visible {
		return fmt.Errorf("zip code input not visible: %w", browser.ErrTimeout)
	}
	if err := zipInput.Fill(loc.Zipcode); err != nil {
		return fmt.Errorf("failed to fill zip code: %w", err)
	}
	if err := clickStep(ctx, page.Locate(browser.Label("search Zipcode")).First(), "zip code search"); err != nil {
		return err
	}
	if _, err := clickIfVisible(ctx, button(page, "Load More Stores"), "load more stores"); err != nil {
		return err
	}

	if err := s.selectStore(ctx, page, loc); err != nil {
		return err
	}

	s.logger.Info("waiting for page to update with address")
	visible, err = control.WaitForVisible(ctx, s.timeouts.LocationControl)
	if err != nil {
		return fmt.Errorf("failed waiting for fulfillment control: %w", err)
	}
	if !visible {
		return fmt.Errorf("fulfillment control did not return after store selection: %w", browser.ErrTimeout)
	}
	return page.WaitForNetworkSettled(ctx, s.timeouts.NetworkSettle)
}

// selectStore picks the result whose card mentions the street. Without a
// match it takes the first result, assuming the site lists stores nearest
// first; that ordering has not been confirmed.
func (s *Safeway) selectStore(ctx context.Context, page browser.Page, loc models.DeliveryLocation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	results := page.Locate(browser.CSS("div.card-store.row"))

	if loc.Street != "" {
		target := results.Filter(loc.Street)
		matches, err := target.Count()
		if err != nil {
			return fmt.Errorf("failed to search store results: %w", err)
		}
		if matches > 0 {
			s.logger.Info("found exact store match", "street", loc.Street)
			return clickStep(ctx, target.First().Locate(browser.Role("button", "Select")).First(), "store select")
		}
	}

	total, err := results.Count()
	if err != nil {
		return fmt.Errorf("failed to count store results: %w", err)
	}
	if total == 0 {
		return fmt.Errorf("no stores listed for %s: %w", loc.String(), ErrNoStoreLocationFound)
	}

	first := results.Nth(0)
	substitute, _ := first.Locate(browser.CSS("p.body-m")).Nth(0).Text()
	s.logger.Warn("no exact store match, using first result",
		"street", loc.Street,
		"zipcode", loc.Zipcode,
		"substitute", strings.TrimSpace(substitute))
	return clickStep(ctx, first.Locate(browser.Role("button", "Select")).First(), "store select")
}

func (s *Safeway) heading(page browser.Page) browser.Locator {
	return page.Locate(browser.CSS("div.product-info")).Locate(browser.Role("heading", "")).First()
}

func (s *Safeway) ProductName(ctx context.Context, page browser.Page) (string, error) {
	if err := checkpoint(ctx, "read product name", page); err != nil {
		return "", err
	}

	name, err := s.heading(page).Text()
	if err != nil {
		return "", fmt.Errorf("failed to read product name: %w", err)
	}
	name = strings.TrimSpace(name)
	s.logger.Info("found product name", "name", name)
	return name, nil
}

func (s *Safeway) ProductInventoryNumber(ctx context.Context, page browser.Page) (string, error) {
	if err := checkpoint(ctx, "read inventory number", page); err != nil {
		return "", err
	}

	id, err := s.heading(page).Attribute("id")
	if err != nil {
		return "", fmt.Errorf("failed to read inventory number: %w", err)
	}
	s.logger.Info("found product inventory number", "sku", id)
	return id, nil
}

func (s *Safeway) ProductPrice(ctx context.Context, page browser.Page) (*float64, error) {
	if err := checkpoint(ctx, "read price", page); err != nil {
		return nil, err
	}

	priceLoc := page.Locate(browser.CSS("div.product-details__price-box span.sr-only"))
	count, err := priceLoc.Count()
	if err != nil {
		return nil, fmt.Errorf("failed to check price element: %w", err)
	}
	if count == 0 {
		s.logger.Info("no pricing data on page")
		return nil, nil
	}

	text, err := priceLoc.First().Text()
	if err != nil {
		return nil, fmt.Errorf("failed to read price: %w", err)
	}
	price, err := parsePrice(safewayPriceRe, text)
	if err != nil {
		return nil, err
	}
	s.logger.Info("found product price", "price", *price)
	return price, nil
}

func (s *Safeway) ProductAvailability(ctx context.Context, page browser.Page) (*string, error) {
	if err := checkpoint(ctx, "read availability", page); err != nil {
		return nil, err
	}

	candidates := []browser.Locator{
		page.Locate(browser.CSS("div.product-details__stock-status")).First(),
		page.Locate(browser.CSS("div.product-info")).Locate(browser.Text("Out of stock")).First(),
	}
	for _, candidate := range candidates {
		count, err := candidate.Count()
		if err != nil {
			return nil, fmt.Errorf("failed to check stock status: %w", err)
		}
		if count == 0 {
			continue
		}

		text, err := candidate.Text()
		if err != nil {
			return nil, fmt.Errorf("failed to read availability: %w", err)
		}
		text = strings.TrimSpace(text)
		s.logger.Info("found product availability", "availability", text)
		return stringPtr(text), nil
	}

	s.logger.Info("product availability not shown")
	return nil, nil
}

var _ Adapter = (*Safeway)(nil)
