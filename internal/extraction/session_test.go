package extraction

import (
	"context"
	"testing"

	"github.com/maltedev/grocery-tracker/internal/browser"
	"github.com/maltedev/grocery-tracker/internal/retailer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionEnforcesCallOrder(t *testing.T) {
	page, urls := newCostcoPage(addressHTML, "Current price: $4.25")
	session := NewSession(retailer.NewCostco(retailer.Timeouts{}, testLogger()), page, testLogger())
	ctx := context.Background()

	assert.Equal(t, StateNotStarted, session.State())

	err := session.VisitProduct(ctx, urls[0])
	assert.ErrorIs(t, err, ErrIllegalSessionState)
	_, err = session.Extract(ctx)
	assert.ErrorIs(t, err, ErrIllegalSessionState)
	err = session.CommitLocation(ctx, testLocation)
	assert.ErrorIs(t, err, ErrIllegalSessionState)

	require.NoError(t, session.OpenStorefront(ctx, storefrontURL))
	assert.Equal(t, StateStorefrontReached, session.State())
	assert.ErrorIs(t, session.OpenStorefront(ctx, storefrontURL), ErrIllegalSessionState)

	_, err = session.Extract(ctx)
	assert.ErrorIs(t, err, ErrIllegalSessionState)

	require.NoError(t, session.CommitLocation(ctx, testLocation))
	assert.Equal(t, StateLocationCommitted, session.State())
	assert.ErrorIs(t, session.SkipLocation(testLocation, nil), ErrIllegalSessionState)

	loc, committed := session.Location()
	assert.Equal(t, testLocation, loc)
	assert.True(t, committed)

	require.NoError(t, session.VisitProduct(ctx, urls[0]))
	assert.Equal(t, StateOnProductPage, session.State())

	record, err := session.Extract(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Product 0", record.Name)
	require.NotNil(t, record.Price)
	assert.Equal(t, 4.25, *record.Price)

	require.NoError(t, session.VisitProduct(ctx, urls[0]))
}

func TestSessionFailedStepKeepsState(t *testing.T) {
	page, _ := newCostcoPage(`<main>no delivery control</main>`)
	session := NewSession(retailer.NewCostco(retailer.Timeouts{}, testLogger()), page, testLogger())
	ctx := context.Background()

	assert.Error(t, session.OpenStorefront(ctx, "https://unknown.test/"))
	assert.Equal(t, StateNotStarted, session.State())

	require.NoError(t, session.OpenStorefront(ctx, storefrontURL))
	err := session.CommitLocation(ctx, testLocation)
	assert.ErrorIs(t, err, retailer.ErrLocationControlNotFound)
	assert.Equal(t, StateStorefrontReached, session.State())

	require.NoError(t, session.SkipLocation(testLocation, err))
	assert.Equal(t, StateLocationSkipped, session.State())
	_, committed := session.Location()
	assert.False(t, committed)
}

func TestSessionRejectsClosedPage(t *testing.T) {
	page, urls := newCostcoPage(addressHTML, "Current price: $1.00")
	session := NewSession(retailer.NewCostco(retailer.Timeouts{}, testLogger()), page, testLogger())
	ctx := context.Background()

	require.NoError(t, session.OpenStorefront(ctx, storefrontURL))
	require.NoError(t, session.CommitLocation(ctx, testLocation))
	require.NoError(t, page.Close())

	assert.ErrorIs(t, session.VisitProduct(ctx, urls[0]), browser.ErrInvalidPageHandle)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "location_skipped", StateLocationSkipped.String())
	assert.Equal(t, "state(9)", State(9).String())
}
