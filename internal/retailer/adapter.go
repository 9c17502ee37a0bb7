// Package retailer translates each retailer's page layout into the
// storefront, location and product-field operations the extraction pipeline
// drives. Callers must respect the order storefront, location, fields.
package retailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/grocery-tracker/internal/browser"
	"github.com/maltedev/grocery-tracker/internal/models"
)

var (
	ErrLocationControlNotFound = errors.New("location control not found")
	ErrNoStoreLocationFound    = errors.New("no store location found")
	ErrPriceFormat             = errors.New("price not formatted as expected")
	ErrUnknownVendor           = errors.New("unknown vendor")
)

const (
	defaultLocationTimeout = 30 * time.Second
	defaultSettleTimeout   = 30 * time.Second
)

// LocationPolicy decides what the pipeline does when SetLocation fails.
type LocationPolicy int

const (
	// LocationAbort stops the run.
	LocationAbort LocationPolicy = iota
	// LocationProceed logs the failure and extracts against whatever location
	// the site defaulted to.
	LocationProceed
)

func (p LocationPolicy) String() string {
	switch p {
	case LocationAbort:
		return "abort"
	case LocationProceed:
		return "proceed"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

type Adapter interface {
	Name() string
	StorefrontURL() string
	LocationPolicy() LocationPolicy

	// NavigateToStorefront loads storefrontURL, or the vendor default when
	// empty, and dismisses any dialog standing between the visitor and the
	// index.
	NavigateToStorefront(ctx context.Context, page browser.Page, storefrontURL string) error
	SetLocation(ctx context.Context, page browser.Page, loc models.DeliveryLocation) error

	ProductName(ctx context.Context, page browser.Page) (string, error)
	ProductInventoryNumber(ctx context.Context, page browser.Page) (string, error)
	// ProductPrice returns nil, without error, when the page shows no price.
	ProductPrice(ctx context.Context, page browser.Page) (*float64, error)
	// ProductAvailability returns nil when the page carries no stock message.
	ProductAvailability(ctx context.Context, page browser.Page) (*string, error)
}

// Timeouts bounds the waits an adapter performs.
type Timeouts struct {
	LocationControl time.Duration
	NetworkSettle   time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		LocationControl: defaultLocationTimeout,
		NetworkSettle:   defaultSettleTimeout,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	if t.LocationControl <= 0 {
		t.LocationControl = defaultLocationTimeout
	}
	if t.NetworkSettle <= 0 {
		t.NetworkSettle = defaultSettleTimeout
	}
	return t
}

type Factory func(timeouts Timeouts, logger *slog.Logger) Adapter

// Registry maps vendor names to adapter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	timeouts  Timeouts
	logger    *slog.Logger
}

func NewRegistry(timeouts Timeouts, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factories: make(map[string]Factory),
		timeouts:  timeouts.withDefaults(),
		logger:    logger,
	}
}

// DefaultRegistry knows every vendor this package implements.
func DefaultRegistry(timeouts Timeouts, logger *slog.Logger) *Registry {
	r := NewRegistry(timeouts, logger)
	r.Register(CostcoVendor, func(t Timeouts, l *slog.Logger) Adapter { return NewCostco(t, l) })
	r.Register(SafewayVendor, func(t Timeouts, l *slog.Logger) Adapter { return NewSafeway(t, l) })
	return r
}

func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = factory
}

func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVendor, name)
	}
	return factory(r.timeouts, r.logger), nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkpoint runs before every DOM step: a bad handle fails immediately,
// then a cancelled context stops the operation.
func checkpoint(ctx context.Context, op string, page browser.Page) error {
	if err := browser.CheckPage(op, page); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func parsePrice(re *regexp.Regexp, text string) (*float64, error) {
	match := re.FindStringSubmatch(text)
	idx := re.SubexpIndex("price")
	if match == nil || idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrPriceFormat, text)
	}

	value, err := strconv.ParseFloat(match[idx], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrPriceFormat, text, err)
	}
	value = models.RoundCents(value)
	return &value, nil
}

func clickStep(ctx context.Context, loc browser.Locator, what string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := loc.Click(); err != nil {
		return fmt.Errorf("failed to click %s: %w", what, err)
	}
	return nil
}

func clickIfVisible(ctx context.Context, loc browser.Locator, what string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	visible, err := loc.IsVisible()
	if err != nil || !visible {
		return false, err
	}
	return true, clickStep(ctx, loc, what)
}

func button(page browser.Page, hasText string) browser.Locator {
	return page.Locate(browser.Role("button", "")).Filter(hasText).First()
}

func stringPtr(s string) *string {
	return &s
}
