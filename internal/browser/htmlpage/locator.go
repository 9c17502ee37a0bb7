package htmlpage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/grocery-tracker/internal/browser"
)

var roleSelectors = map[string]string{
	"button":  `button, [role="button"], input[type="button"], input[type="submit"]`,
	"link":    `a[href], [role="link"]`,
	"heading": `h1, h2, h3, h4, h5, h6, [role="heading"]`,
	"textbox": `input:not([type]), input[type="text"], input[type="search"], textarea, [role="textbox"]`,
	"row":     `tr, [role="row"]`,
	"cell":    `td, [role="cell"]`,
	"dialog":  `dialog, [role="dialog"]`,
}

type locator struct {
	page    *Page
	desc    string
	resolve func() *goquery.Selection
}

func (l *locator) derive(desc string, step func(*goquery.Selection) *goquery.Selection) browser.Locator {
	parent := l.resolve
	return &locator{
		page:    l.page,
		desc:    l.desc + " >> " + desc,
		resolve: func() *goquery.Selection { return step(parent()) },
	}
}

func (l *locator) Locate(sel browser.Selector) browser.Locator {
	return l.derive(sel.String(), func(s *goquery.Selection) *goquery.Selection {
		return s.Find(cssFor(sel)).FilterFunction(matcherFor(sel))
	})
}

func (l *locator) Filter(hasText string) browser.Locator {
	return l.derive(fmt.Sprintf("has-text=%q", hasText), func(s *goquery.Selection) *goquery.Selection {
		return s.FilterFunction(func(_ int, e *goquery.Selection) bool {
			return containsFold(e.Text(), hasText)
		})
	})
}

func (l *locator) FilterHas(sel browser.Selector) browser.Locator {
	return l.derive("has="+sel.String(), func(s *goquery.Selection) *goquery.Selection {
		return s.FilterFunction(func(_ int, e *goquery.Selection) bool {
			return e.Find(cssFor(sel)).FilterFunction(matcherFor(sel)).Length() > 0
		})
	})
}

func (l *locator) Nth(index int) browser.Locator {
	return l.derive(fmt.Sprintf("nth=%d", index), func(s *goquery.Selection) *goquery.Selection {
		return s.Eq(index)
	})
}

func (l *locator) First() browser.Locator {
	return l.Nth(0)
}

func (l *locator) All() ([]browser.Locator, error) {
	count := l.resolve().Length()
	all := make([]browser.Locator, 0, count)
	for i := 0; i < count; i++ {
		all = append(all, l.Nth(i))
	}
	return all, nil
}

func (l *locator) Count() (int, error) {
	return l.resolve().Length(), nil
}

func (l *locator) IsVisible() (bool, error) {
	s := l.resolve().First()
	return s.Length() > 0 && isVisible(s), nil
}

func (l *locator) Text() (string, error) {
	s, err := l.single()
	if err != nil {
		return "", err
	}
	return normalize(s.Text()), nil
}

func (l *locator) Attribute(name string) (string, error) {
	s, err := l.single()
	if err != nil {
		return "", err
	}
	value, _ := s.Attr(name)
	return value, nil
}

func (l *locator) Fill(text string) error {
	s, err := l.single()
	if err != nil {
		return err
	}
	s.SetAttr("value", text)
	l.page.recordFill(describe(s), text)
	return nil
}

func (l *locator) Click() error {
	s, err := l.single()
	if err != nil {
		return err
	}
	if !isVisible(s) {
		return fmt.Errorf("failed to click %s: element not visible: %w", l.desc, browser.ErrTimeout)
	}

	if hook := l.page.recordClick(describe(s)); hook != nil {
		if err := hook(l.page); err != nil {
			return fmt.Errorf("click hook for %s: %w", l.desc, err)
		}
	}
	return nil
}

func (l *locator) WaitForVisible(ctx context.Context, _ time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return l.IsVisible()
}

func (l *locator) WaitForNonEmptyText(ctx context.Context, _ time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s := l.resolve().First()
	return s.Length() > 0 && normalize(s.Text()) != "", nil
}

// single mirrors a driver timing out on a locator that matches nothing.
func (l *locator) single() (*goquery.Selection, error) {
	s := l.resolve().First()
	if s.Length() == 0 {
		return nil, fmt.Errorf("no element matches %s: %w", l.desc, browser.ErrTimeout)
	}
	return s, nil
}

func cssFor(sel browser.Selector) string {
	switch sel.Kind {
	case browser.ByCSS:
		return sel.Value
	case browser.ByID:
		return fmt.Sprintf("[id=%q]", sel.Value)
	case browser.ByRole:
		if css, ok := roleSelectors[strings.ToLower(sel.Value)]; ok {
			return css
		}
		return fmt.Sprintf("[role=%q]", sel.Value)
	case browser.ByPlaceholder:
		return "[placeholder]"
	default:
		return "*"
	}
}

func matcherFor(sel browser.Selector) func(int, *goquery.Selection) bool {
	switch sel.Kind {
	case browser.ByRole:
		return func(_ int, e *goquery.Selection) bool {
			return sel.Name == "" || containsFold(accessibleName(e), sel.Name)
		}
	case browser.ByPlaceholder:
		return func(_ int, e *goquery.Selection) bool {
			placeholder, _ := e.Attr("placeholder")
			return containsFold(placeholder, sel.Value)
		}
	case browser.ByLabel:
		return func(_ int, e *goquery.Selection) bool {
			if label, ok := e.Attr("aria-label"); ok && containsFold(label, sel.Value) {
				return true
			}
			id, ok := e.Attr("id")
			if !ok || id == "" {
				return false
			}
			return e.Closest("html").Find(fmt.Sprintf("label[for=%q]", id)).FilterFunction(func(_ int, lbl *goquery.Selection) bool {
				return containsFold(lbl.Text(), sel.Value)
			}).Length() > 0
		}
	case browser.ByText:
		return func(_ int, e *goquery.Selection) bool {
			if goquery.NodeName(e) == "script" || goquery.NodeName(e) == "style" {
				return false
			}
			return containsFold(ownText(e), sel.Value)
		}
	default:
		return func(int, *goquery.Selection) bool { return true }
	}
}

func accessibleName(e *goquery.Selection) string {
	if label, ok := e.Attr("aria-label"); ok && label != "" {
		return label
	}
	if goquery.NodeName(e) == "input" {
		value, _ := e.Attr("value")
		return value
	}
	return e.Text()
}

func ownText(e *goquery.Selection) string {
	var b strings.Builder
	e.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			b.WriteString(c.Text())
		}
	})
	return b.String()
}

func isVisible(s *goquery.Selection) bool {
	if goquery.NodeName(s) == "input" {
		if t, _ := s.Attr("type"); strings.EqualFold(t, "hidden") {
			return false
		}
	}

	hidden := false
	s.AddSelection(s.Parents()).EachWithBreak(func(_ int, e *goquery.Selection) bool {
		switch goquery.NodeName(e) {
		case "head", "template", "script", "style":
			hidden = true
			return false
		}
		if _, ok := e.Attr("hidden"); ok {
			hidden = true
			return false
		}
		style, _ := e.Attr("style")
		style = strings.ToLower(strings.ReplaceAll(style, " ", ""))
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			hidden = true
			return false
		}
		return true
	})
	return !hidden
}

func describe(e *goquery.Selection) string {
	if id, ok := e.Attr("id"); ok && id != "" {
		return id
	}
	return normalize(e.Text())
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(normalize(haystack)), strings.ToLower(normalize(needle)))
}
