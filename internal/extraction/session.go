package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maltedev/grocery-tracker/internal/browser"
	"github.com/maltedev/grocery-tracker/internal/models"
	"github.com/maltedev/grocery-tracker/internal/retailer"
)

var ErrIllegalSessionState = errors.New("illegal session state")

type State int

const (
	StateNotStarted State = iota
	StateStorefrontReached
	StateLocationCommitted
	StateLocationSkipped
	StateOnProductPage
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStorefrontReached:
		return "storefront_reached"
	case StateLocationCommitted:
		return "location_committed"
	case StateLocationSkipped:
		return "location_skipped"
	case StateOnProductPage:
		return "on_product_page"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session owns one page for one vendor and enforces the call order
// storefront, location, product pages. A failed step leaves the state
// unchanged.
type Session struct {
	adapter   retailer.Adapter
	page      browser.Page
	state     State
	location  models.DeliveryLocation
	committed bool
	current   string
	logger    *slog.Logger
}

func NewSession(adapter retailer.Adapter, page browser.Page, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		adapter: adapter,
		page:    page,
		state:   StateNotStarted,
		logger:  logger.With("component", "session", "vendor", adapter.Name()),
	}
}

func (s *Session) State() State {
	return s.state
}

// Location returns the requested location and whether the site accepted it.
func (s *Session) Location() (models.DeliveryLocation, bool) {
	return s.location, s.committed
}

func (s *Session) OpenStorefront(ctx context.Context, storefrontURL string) error {
	if err := s.require("open storefront", StateNotStarted); err != nil {
		return err
	}
	if err := s.adapter.NavigateToStorefront(ctx, s.page, storefrontURL); err != nil {
		return fmt.Errorf("failed to reach storefront: %w", err)
	}
	s.transition(StateStorefrontReached)
	return nil
}

func (s *Session) CommitLocation(ctx context.Context, loc models.DeliveryLocation) error {
	if err := s.require("commit location", StateStorefrontReached); err != nil {
		return err
	}
	if err := s.adapter.SetLocation(ctx, s.page, loc); err != nil {
		return fmt.Errorf("failed to commit location %s: %w", loc.String(), err)
	}
	s.location = loc
	s.committed = true
	s.transition(StateLocationCommitted)
	return nil
}

// SkipLocation continues without a committed location. Records keep the
// requested location but are marked uncommitted.
func (s *Session) SkipLocation(loc models.DeliveryLocation, reason error) error {
	if err := s.require("skip location", StateStorefrontReached); err != nil {
		return err
	}
	s.logger.Warn("continuing without committed location", "location", loc.String(), "error", reason)
	s.location = loc
	s.committed = false
	s.transition(StateLocationSkipped)
	return nil
}

func (s *Session) VisitProduct(ctx context.Context, url string) error {
	if err := s.require("visit product", StateLocationCommitted, StateLocationSkipped, StateOnProductPage); err != nil {
		return err
	}
	if err := browser.CheckPage("visit product", s.page); err != nil {
		return err
	}
	if err := s.page.Navigate(ctx, url); err != nil {
		return fmt.Errorf("failed to open product page: %w", err)
	}
	s.current = url
	s.transition(StateOnProductPage)
	return nil
}

// Extract reads the four product fields from the current product page.
func (s *Session) Extract(ctx context.Context) (models.ProductRecord, error) {
	if err := s.require("extract product", StateOnProductPage); err != nil {
		return models.ProductRecord{}, err
	}

	record := models.NewProductRecord(s.adapter.Name(), s.current, s.location, s.committed)

	var err error
	if record.Name, err = s.adapter.ProductName(ctx, s.page); err != nil {
		return models.ProductRecord{}, err
	}
	if record.SKU, err = s.adapter.ProductInventoryNumber(ctx, s.page); err != nil {
		return models.ProductRecord{}, err
	}
	if record.Price, err = s.adapter.ProductPrice(ctx, s.page); err != nil {
		return models.ProductRecord{}, err
	}
	if record.Availability, err = s.adapter.ProductAvailability(ctx, s.page); err != nil {
		return models.ProductRecord{}, err
	}
	return record, nil
}

func (s *Session) require(op string, allowed ...State) error {
	for _, state := range allowed {
		if s.state == state {
			return nil
		}
	}
	return fmt.Errorf("cannot %s in state %s: %w", op, s.state, ErrIllegalSessionState)
}

func (s *Session) transition(next State) {
	s.logger.Debug("session transition", "from", s.state.String(), "to", next.String())
	s.state = next
}
