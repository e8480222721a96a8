// Package resting places and resumes the bot's own order on the venue: one
// order per pair, sized from what is left to trade and capped by live market
// depth when a pair runs against a price source.
package resting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/zanotrade/marketbot/decimals"
	"github.com/zanotrade/marketbot/marketbot"
	"github.com/zanotrade/marketbot/storage"
	"github.com/zanotrade/marketbot/venue"
	"github.com/zanotrade/marketbot/wallet"
)

type Venue interface {
	GetUserOrdersPage(ctx context.Context, token string, pairID int64) (venue.OrdersPage, error)
	CreateOrder(ctx context.Context, token string, order venue.CreateOrderData) error
	DeleteOrder(ctx context.Context, token string, orderID int64) error
}

type Wallet interface {
	GetAssetInfo(ctx context.Context, assetID string) (wallet.AssetInfo, error)
}

type Records interface {
	FindByTradeID(ctx context.Context, tradeID string) (*storage.OrderRecord, error)
	Create(ctx context.Context, rec storage.OrderRecord) error
}

// Config wires one manager to its collaborators.
type Config struct {
	Venue   Venue
	Wallet  Wallet
	Records Records

	Token   string
	Pair    marketbot.Pair
	PairCfg marketbot.PairConfig
}

// Manager owns the resting-order lifecycle for one pair.
type Manager struct {
	venue   Venue
	wallet  Wallet
	records Records

	token  string
	pair   marketbot.Pair
	cfg    marketbot.PairConfig
	logger *slog.Logger
}

func New(cfg Config) *Manager {
	return &Manager{
		venue:   cfg.Venue,
		wallet:  cfg.Wallet,
		records: cfg.Records,
		token:   cfg.Token,
		pair:    cfg.Pair,
		cfg:     cfg.PairCfg,
		logger:  slog.Default().WithGroup("resting").With("pairId", cfg.Pair.ID),
	}
}

// Establish clears any leftover orders on the pair, places a freshly sized
// one and returns it as the venue reports it. A pair with a trade id resumes
// from its saved record; a record with nothing left to trade is an error,
// the config should drop the trade id or change it.
func (m *Manager) Establish(ctx context.Context) (marketbot.ObservedOrder, error) {
	record, err := m.loadRecord(ctx)
	if err != nil {
		return marketbot.ObservedOrder{}, err
	}
	if record != nil && !record.Remaining.IsPositive() {
		return marketbot.ObservedOrder{}, fmt.Errorf("trade %s has nothing left to trade", m.cfg.TradeID)
	}

	if err := m.flushOrders(ctx); err != nil {
		return marketbot.ObservedOrder{}, err
	}

	amount, err := m.orderSize(ctx, record)
	if err != nil {
		return marketbot.ObservedOrder{}, err
	}
	if !amount.IsPositive() {
		return marketbot.ObservedOrder{}, fmt.Errorf("computed order size %s is not positive", amount.String())
	}

	// Config values may carry more precision than the asset supports; the
	// venue echoes orders back truncated, which would break the relocation
	// match below.
	asset, err := m.wallet.GetAssetInfo(ctx, m.pair.FirstCurrency.AssetID)
	if err != nil {
		return marketbot.ObservedOrder{}, fmt.Errorf("base currency metadata: %w", err)
	}
	amount, err = decimals.RoundForAsset(amount, asset.DecimalPoint)
	if err != nil {
		return marketbot.ObservedOrder{}, err
	}
	price, err := decimals.RoundForAsset(m.cfg.Price, asset.DecimalPoint)
	if err != nil {
		return marketbot.ObservedOrder{}, err
	}

	amountStr := decimals.TrimToWireLength(amount.String(), decimals.DefaultWireLength)
	priceStr := decimals.TrimToWireLength(price.String(), decimals.DefaultWireLength)

	err = m.venue.CreateOrder(ctx, m.token, venue.CreateOrderData{
		PairID: m.pair.ID,
		Type:   m.cfg.Side,
		Amount: amountStr,
		Price:  priceStr,
	})
	if err != nil {
		return marketbot.ObservedOrder{}, fmt.Errorf("create order: %w", err)
	}

	if record == nil && m.cfg.TradeID != "" {
		rec := storage.OrderRecord{
			TradeID:   m.cfg.TradeID,
			PairID:    m.pair.ID,
			Side:      m.cfg.Side,
			Price:     m.cfg.Price,
			Amount:    m.cfg.Amount,
			Remaining: m.cfg.Amount,
		}
		if err := m.records.Create(ctx, rec); err != nil {
			return marketbot.ObservedOrder{}, fmt.Errorf("save order record: %w", err)
		}
	}

	order, err := m.locate(ctx, amountStr, priceStr)
	if err != nil {
		return marketbot.ObservedOrder{}, err
	}

	m.logger.Info("resting order established",
		"orderId", order.ID, "side", order.Side, "amount", amountStr, "price", priceStr)
	return order, nil
}

func (m *Manager) loadRecord(ctx context.Context) (*storage.OrderRecord, error) {
	if m.records == nil || m.cfg.TradeID == "" {
		return nil, nil
	}
	record, err := m.records.FindByTradeID(ctx, m.cfg.TradeID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load order record: %w", err)
	}
	return record, nil
}

// flushOrders cancels whatever the pair still has open from a previous run.
// The venue keeps orders across sessions; resuming through a stale one would
// desync its size from our accounting.
func (m *Manager) flushOrders(ctx context.Context) error {
	page, err := m.venue.GetUserOrdersPage(ctx, m.token, m.pair.ID)
	if err != nil {
		return fmt.Errorf("list existing orders: %w", err)
	}
	for _, order := range page.Orders {
		if err := m.venue.DeleteOrder(ctx, m.token, order.ID); err != nil {
			return fmt.Errorf("cancel stale order %d: %w", order.ID, err)
		}
		m.logger.Info("canceled stale order", "orderId", order.ID)
	}
	return nil
}

// orderSize is min(what is left to trade, what the market can absorb). The
// depth cap only applies to pairs priced from a market snapshot.
func (m *Manager) orderSize(ctx context.Context, record *storage.OrderRecord) (decimal.Decimal, error) {
	size := m.cfg.Amount
	if record != nil {
		size = record.Remaining
	}

	capped, ok, err := m.depthCap(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if ok && capped.LessThan(size) {
		m.logger.Info("depth caps order size",
			"configured", size.String(), "capped", capped.String())
		size = capped
	}
	return size, nil
}

// depthCap converts the counter-side quote-denominated depth into base units
// at the configured price, shaved by the sensitivity margin and truncated to
// the asset's decimal places.
func (m *Manager) depthCap(ctx context.Context) (decimal.Decimal, bool, error) {
	live := m.cfg.Live
	state := m.cfg.MarketState
	if live == nil || state == nil || !m.cfg.Price.IsPositive() {
		return decimal.Decimal{}, false, nil
	}

	depth := state.DepthToBuy
	if m.cfg.Side == marketbot.SideSell {
		depth = state.DepthToSell
	}
	if depth <= 0 {
		return decimal.Decimal{}, false, nil
	}

	margin := decimal.NewFromFloat(100 - live.DepthSensitivityPercent).Div(decimal.NewFromInt(100))
	capped := decimal.NewFromFloat(depth).Mul(margin).Div(m.cfg.Price)

	asset, err := m.wallet.GetAssetInfo(ctx, m.pair.FirstCurrency.AssetID)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("base currency metadata: %w", err)
	}
	capped, err = decimals.RoundForAsset(capped, asset.DecimalPoint)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	return capped, true, nil
}

// locate re-fetches the pair's orders and finds the one just created by its
// exact side, price and amount. The venue assigns the id, so this lookup is
// the only way to learn it.
func (m *Manager) locate(ctx context.Context, amountStr, priceStr string) (marketbot.ObservedOrder, error) {
	page, err := m.venue.GetUserOrdersPage(ctx, m.token, m.pair.ID)
	if err != nil {
		return marketbot.ObservedOrder{}, fmt.Errorf("relocate created order: %w", err)
	}

	wantAmount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return marketbot.ObservedOrder{}, err
	}
	wantPrice, err := decimal.NewFromString(priceStr)
	if err != nil {
		return marketbot.ObservedOrder{}, err
	}

	for _, order := range page.Orders {
		if order.Side == m.cfg.Side && order.Price.Equal(wantPrice) && order.Amount.Equal(wantAmount) {
			return order, nil
		}
	}
	return marketbot.ObservedOrder{}, marketbot.ErrOrderNotFoundAfterCreation
}
