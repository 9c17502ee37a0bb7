// Package htmlpage implements browser.Page over static HTML documents.
// It replays saved pages without a browser: navigation loads a registered
// document, clicks and fills are recorded, and waits resolve immediately
// against the current DOM.
package htmlpage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/grocery-tracker/internal/browser"
)

type Fill struct {
	Target string
	Text   string
}

type ClickHook func(p *Page) error

type Page struct {
	mu          sync.Mutex
	documents   map[string]string
	doc         *goquery.Document
	url         string
	closed      bool
	visited     []string
	clicks      []string
	fills       []Fill
	screenshots []string
	settles     int
	hooks       map[string]ClickHook
	scripts     map[string]any
}

// New returns a page that serves the given url -> HTML documents.
func New(documents map[string]string) *Page {
	docs := make(map[string]string, len(documents))
	for url, html := range documents {
		docs[url] = html
	}
	return &Page{
		documents: docs,
		hooks:     make(map[string]ClickHook),
		scripts:   make(map[string]any),
	}
}

// FromHTML returns a page already showing html, as if navigated to url.
func FromHTML(url, html string) (*Page, error) {
	p := New(map[string]string{url: html})
	if err := p.Navigate(context.Background(), url); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Page) AddDocument(url, html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.documents[url] = html
}

// SetContent replaces the current document without recording a navigation.
func (p *Page) SetContent(html string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}
	p.mu.Lock()
	p.doc = doc
	p.mu.Unlock()
	return nil
}

// OnClick registers a hook run after an element is clicked. target matches
// the element id or, failing that, its normalized text.
func (p *Page) OnClick(target string, hook ClickHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks[target] = hook
}

// SetScriptResult fixes the value Evaluate returns for script.
func (p *Page) SetScriptResult(script string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[script] = value
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Visited() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visited...)
}

func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

func (p *Page) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Fill(nil), p.fills...)
}

func (p *Page) Screenshots() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.screenshots...)
}

func (p *Page) SettleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settles
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	html, ok := p.documents[url]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("failed to navigate to %s: no document registered", url)
	}

	if err := p.SetContent(html); err != nil {
		return err
	}

	p.mu.Lock()
	p.url = url
	p.visited = append(p.visited, url)
	p.mu.Unlock()
	return nil
}

func (p *Page) Locate(sel browser.Selector) browser.Locator {
	return &locator{
		page: p,
		desc: sel.String(),
		resolve: func() *goquery.Selection {
			return p.root().Find(cssFor(sel)).FilterFunction(matcherFor(sel))
		},
	}
}

func (p *Page) WaitForNetworkSettled(ctx context.Context, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.settles++
	p.mu.Unlock()
	return nil
}

func (p *Page) Evaluate(ctx context.Context, script string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	value, ok := p.scripts[script]
	if !ok {
		return nil, fmt.Errorf("failed to evaluate script: no result registered for %q", script)
	}
	return value, nil
}

func (p *Page) Screenshot(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.screenshots = append(p.screenshots, path)
	return nil
}

func (p *Page) IsClosed() bool {
	if p == nil {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// root returns the document selection; an empty selection before the first
// navigation.
func (p *Page) root() *goquery.Selection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return &goquery.Selection{}
	}
	return p.doc.Selection
}

func (p *Page) recordClick(target string) ClickHook {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, target)
	return p.hooks[target]
}

func (p *Page) recordFill(target, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fills = append(p.fills, Fill{Target: target, Text: text})
}

var _ browser.Page = (*Page)(nil)
