// Package market supplies reference prices and liquidity depth for pairs
// that follow an external exchange instead of a fixed configured price. Two
// sources exist, MEXC and Bit.com; both feed the same derivation: offset the
// exchange's market price by the configured buy/sell percentages, measure
// orderbook depth to those target prices, and express everything in the
// native coin when the pair trades against a stablecoin.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zanotrade/marketbot/marketbot"
)

// Source fetches one market snapshot. Implementations are stateless per
// call; the Poller owns caching.
type Source interface {
	Name() string
	FetchMarketState(ctx context.Context) (marketbot.MarketState, error)
}

// NewSource builds the source named in the pair's live config.
func NewSource(cfg marketbot.LiveConfig) (Source, error) {
	switch cfg.Source {
	case "mexc":
		return NewMexcSource(cfg), nil
	case "bitcom":
		return NewBitComSource(cfg), nil
	default:
		return nil, fmt.Errorf("market: unknown price source %q", cfg.Source)
	}
}

// Order is one orderbook level, volumes in base units.
type Order struct {
	Price      float64
	BaseVolume float64
}

func (o Order) quoteVolume() float64 {
	return o.Price * o.BaseVolume
}

// CalcDepth sums quote-denominated volume at or better than targetPrice:
// bids at or above it for the buy side, asks at or below it for the sell
// side.
func CalcDepth(orders []Order, side marketbot.Side, targetPrice float64) float64 {
	var sum float64
	for _, order := range orders {
		switch {
		case side == marketbot.SideBuy && order.Price >= targetPrice:
			sum += order.quoteVolume()
		case side == marketbot.SideSell && order.Price <= targetPrice:
			sum += order.quoteVolume()
		}
	}
	return sum
}

// deriveState turns a raw exchange snapshot into the MarketState the bot
// trades on. referencePrice is the native coin's own price against the
// stablecoin; when the pair itself is quoted in a stablecoin, prices and
// depths are divided by it so they land in native-coin terms.
func deriveState(cfg marketbot.LiveConfig, marketPrice, referencePrice float64, bids, asks []Order) (marketbot.MarketState, error) {
	if marketPrice <= 0 || referencePrice <= 0 {
		return marketbot.MarketState{}, fmt.Errorf("market: incomplete price data (market %v, reference %v)", marketPrice, referencePrice)
	}

	price := decimal.NewFromFloat(marketPrice)
	onePercent := price.Div(decimal.NewFromInt(100))

	targetBuy, _ := price.Sub(onePercent.Mul(decimal.NewFromFloat(cfg.PriceBuyPercent))).Float64()
	targetSell, _ := price.Add(onePercent.Mul(decimal.NewFromFloat(cfg.PriceSellPercent))).Float64()

	divider := 1.0
	if cfg.AgainstStablecoin {
		divider = referencePrice
	}

	return marketbot.MarketState{
		MarketPrice:    marketPrice,
		ReferencePrice: referencePrice,
		BuyPrice:       targetBuy / divider,
		SellPrice:      targetSell / divider,
		DepthToBuy:     CalcDepth(bids, marketbot.SideBuy, targetBuy) / divider,
		DepthToSell:    CalcDepth(asks, marketbot.SideSell, targetSell) / divider,
		UpdatedAt:      time.Now(),
	}, nil
}
