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
	CostcoVendor        = "costco"
	CostcoStorefrontURL = "https://sameday.costco.com"

	// DefaultZipcode answers the zip gate shown to first-time visitors; the
	// real delivery location is committed afterwards by SetLocation.
	DefaultZipcode = "94041"
)

var costcoPriceRe = regexp.MustCompile(`Current price:\s+\$(?P<price>[0-9]+\.[0-9]{2})`)

// Costco drives the Costco Sameday storefront.
type Costco struct {
	timeouts Timeouts
	logger   *slog.Logger
}

func NewCostco(timeouts Timeouts, logger *slog.Logger) *Costco {
	if logger == nil {
		logger = slog.Default()
	}
	return &Costco{
		timeouts: timeouts.withDefaults(),
		logger:   logger.With("component", "retailer", "vendor", CostcoVendor),
	}
}

func (c *Costco) Name() string                   { return CostcoVendor }
func (c *Costco) StorefrontURL() string          { return CostcoStorefrontURL }
func (c *Costco) LocationPolicy() LocationPolicy { return LocationProceed }

func (c *Costco) NavigateToStorefront(ctx context.Context, page browser.Page, storefrontURL string) error {
	if err := checkpoint(ctx, "navigate to storefront", page); err != nil {
		return err
	}
	if storefrontURL == "" {
		storefrontURL = CostcoStorefrontURL
	}

	c.logger.Info("browsing to storefront", "url", storefrontURL)
	if err := page.Navigate(ctx, storefrontURL); err != nil {
		return err
	}

	zipInput := page.Locate(browser.Placeholder("Enter ZIP Code")).First()
	visible, err := zipInput.IsVisible()
	if err != nil {
		return fmt.Errorf("failed to check zip code gate: %w", err)
	}
	if visible {
		c.logger.Info("zip code landing page detected", "zipcode", DefaultZipcode)
		if err := zipInput.Fill(DefaultZipcode); err != nil {
			return fmt.Errorf("failed to fill zip code gate: %w", err)
		}
		if _, err := clickIfVisible(ctx, button(page, "Start Shopping"), "zip code submit"); err != nil {
			return err
		}
		if err := page.WaitForNetworkSettled(ctx, c.timeouts.NetworkSettle); err != nil {
			return err
		}
	}

	dismissed, err := clickIfVisible(ctx, button(page, "Start Shopping"), "terms of service modal")
	if err != nil {
		return err
	}
	if dismissed {
		c.logger.Info("dismissed terms of service modal")
	}
	return nil
}

func (c *Costco) SetLocation(ctx context.Context, page browser.Page, loc models.DeliveryLocation) error {
	if err := checkpoint(ctx, "set location", page); err != nil {
		return err
	}
	c.logger.Info("setting location", "location", loc.String())

	delivery := button(page, "Delivery")
	visible, err := delivery.WaitForVisible(ctx, c.timeouts.LocationControl)
	if err != nil {
		return fmt.Errorf("failed waiting for delivery address control: %w", err)
	}
	if !visible {
		return fmt.Errorf("delivery address control not visible after %s: %w", c.timeouts.LocationControl, ErrLocationControlNotFound)
	}

	if err := clickStep(ctx, delivery, "delivery address control"); err != nil {
		return err
	}
	if err := clickStep(ctx, button(page, "Edit"), "edit address"); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := page.Locate(browser.ID("streetAddress")).First().Fill(loc.String()); err != nil {
		return fmt.Errorf("failed to fill street address: %w", err)
	}

	suggestion := page.Locate(browser.ID("address-suggestion-list_0")).Locate(browser.Role("button", "")).First()
	if err := clickStep(ctx, suggestion, "first address suggestion"); err != nil {
		return err
	}
	if err := clickStep(ctx, button(page, "Save Address"), "save address"); err != nil {
		return err
	}

	c.logger.Info("waiting for page to update with address")
	return page.WaitForNetworkSettled(ctx, c.timeouts.NetworkSettle)
}

// details is the primary product region; recommendation carousels sit
// outside it.
func (c *Costco) details(page browser.Page) browser.Locator {
	return page.Locate(browser.ID("item_details")).Locate(browser.CSS("div")).Nth(1)
}

func (c *Costco) ProductName(ctx context.Context, page browser.Page) (string, error) {
	if err := checkpoint(ctx, "read product name", page); err != nil {
		return "", err
	}

	name, err := c.details(page).Locate(browser.CSS("h1")).First().Text()
	if err != nil {
		return "", fmt.Errorf("failed to read product name: %w", err)
	}
	name = strings.TrimSpace(name)
	c.logger.Info("found product name", "name", name)
	return name, nil
}

func (c *Costco) ProductInventoryNumber(ctx context.Context, page browser.Page) (string, error) {
	if err := checkpoint(ctx, "read inventory number", page); err != nil {
		return "", err
	}

	text, err := c.details(page).Locate(browser.Text("Item:")).First().Text()
	if err != nil {
		return "", fmt.Errorf("failed to read inventory number: %w", err)
	}
	number := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "Item:"))
	c.logger.Info("found product inventory number", "sku", number)
	return number, nil
}

func (c *Costco) ProductPrice(ctx context.Context, page browser.Page) (*float64, error) {
	if err := checkpoint(ctx, "read price", page); err != nil {
		return nil, err
	}

	priceLoc := c.details(page).Locate(browser.CSS("span:not(.screen-reader-only)")).Filter("Current price").First()
	visible, err := priceLoc.IsVisible()
	if err != nil {
		return nil, fmt.Errorf("failed to check price element: %w", err)
	}
	if !visible {
		c.logger.Info("no pricing data on page")
		return nil, nil
	}

	text, err := priceLoc.Text()
	if err != nil {
		return nil, fmt.Errorf("failed to read price: %w", err)
	}
	price, err := parsePrice(costcoPriceRe, text)
	if err != nil {
		return nil, err
	}
	c.logger.Info("found product price", "price", *price)
	return price, nil
}

func (c *Costco) ProductAvailability(ctx context.Context, page browser.Page) (*string, error) {
	if err := checkpoint(ctx, "read availability", page); err != nil {
		return nil, err
	}

	details := c.details(page)
	outOfStock, err := details.Filter("Out of stock").Count()
	if err != nil {
		return nil, fmt.Errorf("failed to check stock status: %w", err)
	}

	var block browser.Locator
	if outOfStock > 0 {
		status := details.Locate(browser.CSS("div.e-i9gxme")).First()
		count, err := status.Count()
		if err != nil {
			return nil, fmt.Errorf("failed to check stock status: %w", err)
		}
		if count > 0 {
			block = status
		}
	}
	if block == nil {
		notice := details.Locate(browser.CSS("div.e-pftdsf")).First()
		count, err := notice.Count()
		if err != nil {
			return nil, fmt.Errorf("failed to check availability notice: %w", err)
		}
		if count > 0 {
			block = notice
		}
	}

	if block == nil {
		c.logger.Info("product availability not shown")
		return nil, nil
	}

	text, err := block.Text()
	if err != nil {
		return nil, fmt.Errorf("failed to read availability: %w", err)
	}
	text = strings.TrimSpace(text)
	c.logger.Info("found product availability", "availability", text)
	return stringPtr(text), nil
}

var _ Adapter = (*Costco)(nil)
