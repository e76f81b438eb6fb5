package instrument

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidebot/pkg/exchange"
	"tidebot/pkg/exchange/sim"
)

func newCatalogWithBTC(t *testing.T, opts ...Option) (*Catalog, *sim.Gateway) {
	t.Helper()
	gw := sim.New()
	gw.SetInstrument(exchange.Instrument{Symbol: "BTCUSDT", TickSize: 0.01, StepSize: 0.00001, MinNotional: 10})
	return NewCatalog(gw, opts...), gw
}

func TestGetFetchesLazilyAndCaches(t *testing.T) {
	catalog, gw := newCatalogWithBTC(t)

	inst, err := catalog.Get(context.Background(), "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, 0.01, inst.TickSize)

	// A changed upstream value must not be visible until invalidation.
	gw.SetInstrument(exchange.Instrument{Symbol: "BTCUSDT", TickSize: 0.1, StepSize: 0.001, MinNotional: 5})
	inst, err = catalog.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.01, inst.TickSize)

	catalog.Invalidate("BTCUSDT")
	inst, err = catalog.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.1, inst.TickSize)
}

func TestGetUnknownSymbol(t *testing.T) {
	catalog, _ := newCatalogWithBTC(t)
	_, err := catalog.Get(context.Background(), "DOGEUSDT")
	assert.ErrorIs(t, err, exchange.ErrMetadataUnavailable)
}

func TestTTLExpiryRefetches(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }

	gw := sim.New()
	gw.SetInstrument(exchange.Instrument{Symbol: "ETHUSDT", TickSize: 0.01, StepSize: 0.0001})
	catalog := NewCatalog(gw, WithTTL(time.Minute), WithClock(clock))

	_, err := catalog.Get(context.Background(), "ETHUSDT")
	require.NoError(t, err)

	gw.SetInstrument(exchange.Instrument{Symbol: "ETHUSDT", TickSize: 0.05, StepSize: 0.0001})
	now = now.Add(2 * time.Minute)

	inst, err := catalog.Get(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.05, inst.TickSize)
}

func TestOverridesTakePrecedenceAndSurviveInvalidation(t *testing.T) {
	catalog, _ := newCatalogWithBTC(t)
	catalog.SetOverride("BTCUSDT", Override{TickSize: 0.5, MinNotional: 25})

	inst, err := catalog.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.5, inst.TickSize)
	assert.Equal(t, 0.00001, inst.StepSize)
	assert.Equal(t, 25.0, inst.MinNotional)

	catalog.InvalidateAll()
	inst, err = catalog.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.5, inst.TickSize)
}
