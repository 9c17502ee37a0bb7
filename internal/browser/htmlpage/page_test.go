package htmlpage

import (
	"context"
	"testing"
	"time"

	"github.com/maltedev/grocery-tracker/internal/browser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `<html><body>
<header><button aria-label="Delivery to 94041">Delivery</button></header>
<div id="details">
  <h1 id="960012546">Strawberries 2 lb</h1>
  <div class="price">Current price: $7.99</div>
  <div style="display: none" class="price">Current price: $1.00</div>
  <div>Item: <span>1234</span></div>
  <label for="zip">search Zipcode</label>
  <input id="zip" placeholder="Enter ZIP Code to get started.">
  <a href="/test" id="kcarterlink">Test Your Browser</a>
  <ul>
    <li class="card">Store A <button>Select</button></li>
    <li class="card">Store B <button>Select</button></li>
  </ul>
  <div hidden><button>Hidden Action</button></div>
</div>
</body></html>`

func newFixturePage(t *testing.T) *Page {
	t.Helper()
	p, err := FromHTML("https://example.test/item", fixture)
	require.NoError(t, err)
	return p
}

func TestLocateKinds(t *testing.T) {
	p := newFixturePage(t)

	tests := []struct {
		name  string
		sel   browser.Selector
		count int
		text  string
	}{
		{name: "css", sel: browser.CSS("div.price"), count: 2, text: "Current price: $7.99"},
		{name: "id", sel: browser.ID("960012546"), count: 1, text: "Strawberries 2 lb"},
		{name: "role with name", sel: browser.Role("button", "Delivery"), count: 1, text: "Delivery"},
		{name: "role link", sel: browser.Role("link", "Test Your Browser"), count: 1, text: "Test Your Browser"},
		{name: "role heading", sel: browser.Role("heading", ""), count: 1, text: "Strawberries 2 lb"},
		{name: "placeholder", sel: browser.Placeholder("Enter ZIP Code"), count: 1},
		{name: "label", sel: browser.Label("search zipcode"), count: 1},
		{name: "text", sel: browser.Text("Item:"), count: 1, text: "Item: 1234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := p.Locate(tt.sel)
			count, err := loc.Count()
			require.NoError(t, err)
			assert.Equal(t, tt.count, count)

			if tt.text != "" {
				text, err := loc.First().Text()
				require.NoError(t, err)
				assert.Equal(t, tt.text, text)
			}
		})
	}
}

func TestLocatorChaining(t *testing.T) {
	p := newFixturePage(t)

	cards := p.Locate(browser.CSS("li.card"))
	storeB := cards.Filter("store b")
	count, err := storeB.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	all, err := cards.All()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	text, err := cards.Nth(1).Text()
	require.NoError(t, err)
	assert.Equal(t, "Store B Select", text)

	withButton := p.Locate(browser.CSS("header")).FilterHas(browser.Role("button", "Delivery"))
	count, err = withButton.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	id, err := p.Locate(browser.CSS("#details")).Locate(browser.Role("heading", "")).Attribute("id")
	require.NoError(t, err)
	assert.Equal(t, "960012546", id)
}

func TestVisibility(t *testing.T) {
	p := newFixturePage(t)

	visible, err := p.Locate(browser.CSS("div.price")).Nth(1).IsVisible()
	require.NoError(t, err)
	assert.False(t, visible)

	visible, err = p.Locate(browser.Role("button", "Hidden Action")).IsVisible()
	require.NoError(t, err)
	assert.False(t, visible)

	visible, err = p.Locate(browser.CSS("div.missing")).IsVisible()
	require.NoError(t, err)
	assert.False(t, visible)

	ok, err := p.Locate(browser.CSS("h1")).WaitForVisible(context.Background(), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	err = p.Locate(browser.Role("button", "Hidden Action")).Click()
	assert.ErrorIs(t, err, browser.ErrTimeout)
}

func TestMissingElementErrors(t *testing.T) {
	p := newFixturePage(t)

	_, err := p.Locate(browser.CSS("div.nope")).Text()
	assert.ErrorIs(t, err, browser.ErrTimeout)

	err = p.Locate(browser.CSS("div.nope")).Click()
	assert.ErrorIs(t, err, browser.ErrTimeout)
}

func TestClickHooksAndRecording(t *testing.T) {
	p := newFixturePage(t)
	p.OnClick("kcarterlink", func(p *Page) error {
		return p.SetContent(`<div id="fp_status">Strong protection</div>`)
	})

	require.NoError(t, p.Locate(browser.Placeholder("Enter ZIP Code")).Fill("94087"))
	require.NoError(t, p.Locate(browser.Role("link", "Test Your Browser")).Click())

	assert.Equal(t, []string{"kcarterlink"}, p.Clicks())
	assert.Equal(t, []Fill{{Target: "zip", Text: "94087"}}, p.Fills())

	ok, err := p.Locate(browser.ID("fp_status")).WaitForNonEmptyText(context.Background(), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNavigateAndLifecycle(t *testing.T) {
	p := New(map[string]string{"https://a.test/": "<p>a</p>"})

	err := p.Navigate(context.Background(), "https://b.test/")
	assert.Error(t, err)

	require.NoError(t, p.Navigate(context.Background(), "https://a.test/"))
	assert.Equal(t, "https://a.test/", p.URL())
	assert.Equal(t, []string{"https://a.test/"}, p.Visited())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Navigate(ctx, "https://a.test/"), context.Canceled)

	require.NoError(t, p.WaitForNetworkSettled(context.Background(), time.Second))
	assert.Equal(t, 1, p.SettleCount())

	p.SetScriptResult("navigator.webdriver", true)
	value, err := p.Evaluate(context.Background(), "navigator.webdriver")
	require.NoError(t, err)
	assert.Equal(t, true, value)

	require.NoError(t, p.Screenshot("shot.png"))
	assert.Equal(t, []string{"shot.png"}, p.Screenshots())

	assert.False(t, p.IsClosed())
	require.NoError(t, p.Close())
	assert.True(t, p.IsClosed())

	var nilPage *Page
	assert.True(t, nilPage.IsClosed())
}
