package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidPageHandle = errors.New("invalid page handle")
	ErrTimeout           = errors.New("timed out waiting for page")
)

type SelectorKind int

const (
	ByCSS SelectorKind = iota
	ByID
	ByRole
	ByPlaceholder
	ByLabel
	ByText
)

func (k SelectorKind) String() string {
	switch k {
	case ByCSS:
		return "css"
	case ByID:
		return "id"
	case ByRole:
		return "role"
	case ByPlaceholder:
		return "placeholder"
	case ByLabel:
		return "label"
	case ByText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Selector describes how to find elements. Name is only used by ByRole and
// narrows the match to elements whose accessible name contains it.
type Selector struct {
	Kind  SelectorKind
	Value string
	Name  string
}

func (s Selector) String() string {
	if s.Name != "" {
		return fmt.Sprintf("%s=%s[name=%q]", s.Kind, s.Value, s.Name)
	}
	return fmt.Sprintf("%s=%s", s.Kind, s.Value)
}

func CSS(selector string) Selector { return Selector{Kind: ByCSS, Value: selector} }
func ID(id string) Selector { return Selector{Kind: ByID, Value: id} }
func Placeholder(text string) Selector { return Selector{Kind: ByPlaceholder, Value: text} }
func Label(text string) Selector { return Selector{Kind: ByLabel, Value: text} }
func Text(text string) Selector { return Selector{Kind: ByText, Value: text} }
func Role(role, name string) Selector { return Selector{Kind: ByRole, Value: role, Name: name} }

// Locator is a lazy handle to zero or more elements. Nothing is resolved
// until an action or query method is called.
type Locator interface {
	Locate(sel Selector) Locator
	Filter(hasText string) Locator
	FilterHas(sel Selector) Locator
	Nth(index int) Locator
	First() Locator
	All() ([]Locator, error)

	Count() (int, error)
	IsVisible() (bool, error)
	Text() (string, error)
	Attribute(name string) (string, error)

	Fill(text string) error
	Click() error

	// WaitForVisible reports false, without error, when the timeout elapses.
	WaitForVisible(ctx context.Context, timeout time.Duration) (bool, error)
	// WaitForNonEmptyText reports false, without error, when the timeout
	// elapses before the element renders any text.
	WaitForNonEmptyText(ctx context.Context, timeout time.Duration) (bool, error)
}

// Page is the single stateful browser tab a run owns.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Locate(sel Selector) Locator
	WaitForNetworkSettled(ctx context.Context, timeout time.Duration) error
	Evaluate(ctx context.Context, script string) (any, error)
	Screenshot(path string) error
	IsClosed() bool
	Close() error
}

// CheckPage rejects nil and closed handles before any DOM work starts.
func CheckPage(op string, page Page) error {
	if page == nil || page.IsClosed() {
		return fmt.Errorf("%s: %w", op, ErrInvalidPageHandle)
	}
	return nil
}

// Poll calls check every interval until it reports true, the timeout
// elapses (false, nil) or ctx is done.
func Poll(ctx context.Context, timeout, interval time.Duration, check func() (bool, error)) (bool, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		ok, err := check()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		}
	}
}

// boundedTimeout shortens timeout to the context deadline, if one is closer.
func boundedTimeout(ctx context.Context, timeout time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			if remaining < 0 {
				return 0
			}
			return remaining
		}
	}
	return timeout
}
