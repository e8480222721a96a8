package market

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/zanotrade/marketbot/marketbot"
)

func TestCalcDepth(t *testing.T) {
	t.Parallel()

	bids := []Order{
		{Price: 10, BaseVolume: 2}, // 20 quote
		{Price: 9, BaseVolume: 3},  // 27 quote
		{Price: 8, BaseVolume: 5},  // below target, excluded
	}
	asks := []Order{
		{Price: 11, BaseVolume: 1}, // 11 quote
		{Price: 12, BaseVolume: 2}, // 24 quote
		{Price: 15, BaseVolume: 9}, // above target, excluded
	}

	require.InDelta(t, 47, CalcDepth(bids, marketbot.SideBuy, 9), 1e-9)
	require.InDelta(t, 35, CalcDepth(asks, marketbot.SideSell, 12), 1e-9)
	require.Zero(t, CalcDepth(nil, marketbot.SideBuy, 1))
}

func TestDeriveState(t *testing.T) {
	t.Parallel()

	cfg := marketbot.LiveConfig{
		PriceBuyPercent:  10,
		PriceSellPercent: 20,
	}
	bids := []Order{{Price: 95, BaseVolume: 1}, {Price: 89, BaseVolume: 1}}
	asks := []Order{{Price: 110, BaseVolume: 1}, {Price: 125, BaseVolume: 1}}

	state, err := deriveState(cfg, 100, 5, bids, asks)
	require.NoError(t, err)

	want := marketbot.MarketState{
		MarketPrice:    100,
		ReferencePrice: 5,
		BuyPrice:       90,  // -10%
		SellPrice:      120, // +20%
		DepthToBuy:     95,  // only the 95 bid is at or above 90
		DepthToSell:    110, // only the 110 ask is at or below 120
	}
	diff := cmp.Diff(want, state,
		cmpopts.IgnoreFields(marketbot.MarketState{}, "UpdatedAt"),
		cmpopts.EquateApprox(0, 1e-9))
	require.Empty(t, diff)
}

func TestDeriveStateAgainstStablecoin(t *testing.T) {
	t.Parallel()

	cfg := marketbot.LiveConfig{
		PriceBuyPercent:   10,
		PriceSellPercent:  20,
		AgainstStablecoin: true,
	}
	bids := []Order{{Price: 95, BaseVolume: 1}}
	asks := []Order{{Price: 110, BaseVolume: 1}}

	state, err := deriveState(cfg, 100, 5, bids, asks)
	require.NoError(t, err)

	// Everything lands in native-coin terms: divided by the reference price.
	require.InDelta(t, 18, state.BuyPrice, 1e-9)
	require.InDelta(t, 24, state.SellPrice, 1e-9)
	require.InDelta(t, 19, state.DepthToBuy, 1e-9)
	require.InDelta(t, 22, state.DepthToSell, 1e-9)
}

func TestDeriveStateRejectsMissingPrices(t *testing.T) {
	t.Parallel()

	_, err := deriveState(marketbot.LiveConfig{}, 0, 5, nil, nil)
	require.Error(t, err)
	_, err = deriveState(marketbot.LiveConfig{}, 100, 0, nil, nil)
	require.Error(t, err)
}

func TestNewSource(t *testing.T) {
	t.Parallel()

	mexc, err := NewSource(marketbot.LiveConfig{Source: "mexc"})
	require.NoError(t, err)
	require.Equal(t, "mexc", mexc.Name())

	bitcom, err := NewSource(marketbot.LiveConfig{Source: "bitcom"})
	require.NoError(t, err)
	require.Equal(t, "bitcom", bitcom.Name())

	_, err = NewSource(marketbot.LiveConfig{Source: "xeggex"})
	require.Error(t, err)
}

func TestWatcherDrift(t *testing.T) {
	t.Parallel()

	cfg := marketbot.LiveConfig{
		PriceSensitivityPercent: 1,
		DepthSensitivityPercent: 10,
	}
	w := NewWatcher(nil, cfg, nil)
	w.last = marketbot.MarketState{
		BuyPrice: 100, SellPrice: 110, DepthToBuy: 1000, DepthToSell: 2000,
	}
	w.armed = true

	steady := w.last
	require.False(t, w.drifted(steady))

	priceMoved := steady
	priceMoved.BuyPrice = 102
	require.True(t, w.drifted(priceMoved))

	depthMoved := steady
	depthMoved.DepthToSell = 2500
	require.True(t, w.drifted(depthMoved))

	withinBand := steady
	withinBand.BuyPrice = 100.5
	withinBand.DepthToBuy = 1050
	require.False(t, w.drifted(withinBand))
}
