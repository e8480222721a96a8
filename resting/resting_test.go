package resting

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/zanotrade/marketbot/marketbot"
	"github.com/zanotrade/marketbot/storage"
	"github.com/zanotrade/marketbot/venue"
	"github.com/zanotrade/marketbot/wallet"
)

const baseAsset = "aaaa000000000000000000000000000000000000000000000000000000000000"

var testPair = marketbot.Pair{
	ID:            42,
	FirstCurrency: marketbot.Currency{AssetID: baseAsset, Ticker: "TEST"},
}

type stubVenue struct {
	pages   []venue.OrdersPage
	fetches int
	created []venue.CreateOrderData
	deleted []int64
}

func (s *stubVenue) GetUserOrdersPage(context.Context, string, int64) (venue.OrdersPage, error) {
	idx := s.fetches
	if idx >= len(s.pages) {
		idx = len(s.pages) - 1
	}
	s.fetches++
	return s.pages[idx], nil
}

func (s *stubVenue) CreateOrder(_ context.Context, _ string, order venue.CreateOrderData) error {
	s.created = append(s.created, order)
	return nil
}

func (s *stubVenue) DeleteOrder(_ context.Context, _ string, orderID int64) error {
	s.deleted = append(s.deleted, orderID)
	return nil
}

type stubWallet struct{}

func (stubWallet) GetAssetInfo(_ context.Context, assetID string) (wallet.AssetInfo, error) {
	return wallet.AssetInfo{AssetID: assetID, DecimalPoint: 12}, nil
}

type stubRecords struct {
	records map[string]*storage.OrderRecord
	created []storage.OrderRecord
}

func (s *stubRecords) FindByTradeID(_ context.Context, tradeID string) (*storage.OrderRecord, error) {
	if rec, ok := s.records[tradeID]; ok {
		return rec, nil
	}
	return nil, storage.ErrNotFound
}

func (s *stubRecords) Create(_ context.Context, rec storage.OrderRecord) error {
	s.created = append(s.created, rec)
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fixedConfig() marketbot.PairConfig {
	return marketbot.PairConfig{
		PairID: testPair.ID,
		Side:   marketbot.SideBuy,
		Amount: dec("100"),
		Price:  dec("0.5"),
	}
}

func newManager(v *stubVenue, records *stubRecords, cfg marketbot.PairConfig) *Manager {
	return New(Config{
		Venue:   v,
		Wallet:  stubWallet{},
		Records: records,
		Token:   "tok",
		Pair:    testPair,
		PairCfg: cfg,
	})
}

func placed(id int64, cfg marketbot.PairConfig, amount string) marketbot.ObservedOrder {
	return marketbot.ObservedOrder{
		ID: id, Side: cfg.Side, Price: cfg.Price,
		Amount: dec(amount), Remaining: dec(amount),
	}
}

func TestEstablishPlacesAndLocatesOrder(t *testing.T) {
	t.Parallel()

	cfg := fixedConfig()
	v := &stubVenue{pages: []venue.OrdersPage{
		{Orders: nil},
		{Orders: []marketbot.ObservedOrder{placed(9, cfg, "100")}},
	}}

	order, err := newManager(v, &stubRecords{}, cfg).Establish(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(9), order.ID)

	require.Len(t, v.created, 1)
	require.Equal(t, "100", v.created[0].Amount)
	require.Equal(t, "0.5", v.created[0].Price)
	require.Equal(t, marketbot.SideBuy, v.created[0].Type)
	require.Empty(t, v.deleted)
}

func TestEstablishFlushesStaleOrders(t *testing.T) {
	t.Parallel()

	cfg := fixedConfig()
	stale := placed(3, cfg, "17")
	v := &stubVenue{pages: []venue.OrdersPage{
		{Orders: []marketbot.ObservedOrder{stale}},
		{Orders: []marketbot.ObservedOrder{placed(9, cfg, "100")}},
	}}

	_, err := newManager(v, &stubRecords{}, cfg).Establish(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{3}, v.deleted)
}

func TestEstablishCreatesRecordForNewTradeID(t *testing.T) {
	t.Parallel()

	cfg := fixedConfig()
	cfg.TradeID = "alpha"
	v := &stubVenue{pages: []venue.OrdersPage{
		{Orders: nil},
		{Orders: []marketbot.ObservedOrder{placed(9, cfg, "100")}},
	}}
	records := &stubRecords{}

	_, err := newManager(v, records, cfg).Establish(context.Background())
	require.NoError(t, err)

	require.Len(t, records.created, 1)
	rec := records.created[0]
	require.Equal(t, "alpha", rec.TradeID)
	require.True(t, rec.Remaining.Equal(dec("100")))
}

func TestEstablishResumesFromRecordRemaining(t *testing.T) {
	t.Parallel()

	cfg := fixedConfig()
	cfg.TradeID = "alpha"
	v := &stubVenue{pages: []venue.OrdersPage{
		{Orders: nil},
		{Orders: []marketbot.ObservedOrder{placed(9, cfg, "40")}},
	}}
	records := &stubRecords{records: map[string]*storage.OrderRecord{
		"alpha": {TradeID: "alpha", Remaining: dec("40")},
	}}

	_, err := newManager(v, records, cfg).Establish(context.Background())
	require.NoError(t, err)

	require.Len(t, v.created, 1)
	require.Equal(t, "40", v.created[0].Amount, "resumed size comes from the record")
	require.Empty(t, records.created, "existing record is not recreated")
}

func TestEstablishRejectsExhaustedRecord(t *testing.T) {
	t.Parallel()

	cfg := fixedConfig()
	cfg.TradeID = "alpha"
	records := &stubRecords{records: map[string]*storage.OrderRecord{
		"alpha": {TradeID: "alpha", Remaining: dec("0")},
	}}
	v := &stubVenue{pages: []venue.OrdersPage{{}}}

	_, err := newManager(v, records, cfg).Establish(context.Background())
	require.ErrorContains(t, err, "nothing left to trade")
	require.Empty(t, v.created)
}

func TestEstablishDepthCapsLiveOrders(t *testing.T) {
	t.Parallel()

	cfg := fixedConfig()
	cfg.Live = &marketbot.LiveConfig{DepthSensitivityPercent: 10}
	cfg.MarketState = &marketbot.MarketState{DepthToBuy: 36}
	// 36 quote depth, 10% margin off, at price 0.5: (36*0.9)/0.5 = 64.8
	v := &stubVenue{pages: []venue.OrdersPage{
		{Orders: nil},
		{Orders: []marketbot.ObservedOrder{placed(9, cfg, "64.8")}},
	}}

	_, err := newManager(v, &stubRecords{}, cfg).Establish(context.Background())
	require.NoError(t, err)
	require.Len(t, v.created, 1)
	require.Equal(t, "64.8", v.created[0].Amount)
}

func TestEstablishRoundsConfigPrecisionToAsset(t *testing.T) {
	t.Parallel()

	cfg := fixedConfig()
	cfg.Amount = dec("100.1234567890128") // 13 dp against a 12 dp asset
	cfg.Price = dec("0.5000000000000009") // truncates back to 0.5

	echoed := marketbot.ObservedOrder{
		ID: 9, Side: cfg.Side, Price: dec("0.5"),
		Amount: dec("100.123456789012"), Remaining: dec("100.123456789012"),
	}
	v := &stubVenue{pages: []venue.OrdersPage{
		{Orders: nil},
		{Orders: []marketbot.ObservedOrder{echoed}},
	}}

	order, err := newManager(v, &stubRecords{}, cfg).Establish(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(9), order.ID)

	require.Len(t, v.created, 1)
	require.Equal(t, "100.123456789012", v.created[0].Amount)
	require.Equal(t, "0.5", v.created[0].Price)
}

func TestEstablishFailsWhenOrderMissingAfterCreate(t *testing.T) {
	t.Parallel()

	cfg := fixedConfig()
	other := marketbot.ObservedOrder{
		ID: 5, Side: marketbot.SideSell, Price: cfg.Price,
		Amount: dec("100"), Remaining: dec("100"),
	}
	v := &stubVenue{pages: []venue.OrdersPage{
		{Orders: nil},
		{Orders: []marketbot.ObservedOrder{other}},
	}}

	_, err := newManager(v, &stubRecords{}, cfg).Establish(context.Background())
	require.ErrorIs(t, err, marketbot.ErrOrderNotFoundAfterCreation)
}
