package marketbot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order on the venue.
//
// It intentionally uses a string alias so values stay comparable and
// marshal into venue payloads without conversion.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Crosses reports whether a counter-offer at tipPrice can settle against a
// resting order of this side at restingPrice. A buy-side resting order
// matches offers priced at or below it, a sell-side one at or above.
func (s Side) Crosses(restingPrice, tipPrice decimal.Decimal) bool {
	if s == SideBuy {
		return restingPrice.GreaterThanOrEqual(tipPrice)
	}
	return restingPrice.LessThanOrEqual(tipPrice)
}

// PairMode distinguishes pairs priced once from config and pairs repriced
// from a live market source.
type PairMode int

const (
	ModeFixed PairMode = iota
	ModeLive
)

// LiveConfig holds the thresholds for pairs whose price follows an external
// market source. Present only when the pair runs in ModeLive.
type LiveConfig struct {
	Source                  string
	PriceInterval           time.Duration
	PriceBuyPercent         float64
	PriceSellPercent        float64
	PriceSensitivityPercent float64
	DepthSensitivityPercent float64
	AgainstStablecoin       bool
	FirstCurrency           string
	SecondCurrency          string
}

// PairConfig is the immutable per-pair configuration an execution context is
// started with. Created once at config parse time and never mutated after a
// context starts; Live-mode restarts derive a fresh copy with an updated
// price instead of touching the original.
type PairConfig struct {
	PairID  int64
	Side    Side
	Amount  decimal.Decimal
	Price   decimal.Decimal
	TradeID string // empty means no persisted order record

	Live        *LiveConfig
	MarketState *MarketState // snapshot taken when a Live pair was priced
}

// Mode reports whether the pair is priced from config or from a market source.
func (c PairConfig) Mode() PairMode {
	if c.Live != nil {
		return ModeLive
	}
	return ModeFixed
}

// WithPrice returns a copy of the config priced from a market snapshot.
func (c PairConfig) WithPrice(price decimal.Decimal, state MarketState) PairConfig {
	out := c
	out.Price = price
	snapshot := state
	out.MarketState = &snapshot
	return out
}

// ObservedOrder is the bot's own resting order as last reported by the venue.
type ObservedOrder struct {
	ID        int64
	Side      Side
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Remaining decimal.Decimal
}

// CounterOffer is another participant's order that can settle against the
// resting order ("apply tip" in venue terms). Fetched fresh every cycle,
// never persisted.
type CounterOffer struct {
	ID          int64
	Side        Side
	Price       decimal.Decimal
	Remaining   decimal.Decimal
	ProposalHex string // set when the counterparty already generated a swap proposal
	Address     string // counterparty wallet address, needed when we initiate
}

// Settleable reports whether the offer carries enough data to drive either
// execution path: accepting an existing proposal or generating our own.
func (o CounterOffer) Settleable() bool {
	return o.ProposalHex != "" || o.Address != ""
}

// Currency describes one leg of a trading pair.
type Currency struct {
	AssetID string
	Ticker  string
}

// Pair is the venue's metadata for a trading pair.
type Pair struct {
	ID             int64
	FirstCurrency  Currency
	SecondCurrency Currency
	Volume         decimal.Decimal
}

// MarketState is a point-in-time snapshot from a reference price source.
// Depth values are denominated in the quote currency.
type MarketState struct {
	MarketPrice    float64
	BuyPrice       float64
	SellPrice      float64
	ReferencePrice float64
	DepthToBuy     float64
	DepthToSell    float64
	UpdatedAt      time.Time
}

// SwapTerms is the engine-computed expectation for one settlement: what we
// send and what we receive, in human units. The wallet scales both legs to
// raw units; validation compares those raw amounts exactly.
type SwapTerms struct {
	DestinationAssetID string
	DestinationAmount  decimal.Decimal
	CurrentAssetID     string
	CurrentAmount      decimal.Decimal
}

// Notifier pushes human-readable settlement notices. Implementations must
// never fail the settlement path; delivery errors are theirs to log.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// NopNotifier discards all notices.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string) {}

var (
	// ErrInsufficientFunds marks the one recoverable execution failure: the
	// counterparty (or our wallet) cannot fund the swap right now.
	ErrInsufficientFunds = errors.New("marketbot: insufficient funds for swap")

	// ErrOrderFinished signals the resting order is gone or fully filled.
	// Terminal for the context's matching responsibility, not an error
	// condition to report.
	ErrOrderFinished = errors.New("marketbot: observed order finished or canceled")

	// ErrOrderNotFoundAfterCreation signals the venue accepted an order
	// creation but the order could not be located afterwards.
	ErrOrderNotFoundAfterCreation = errors.New("marketbot: created order not found on venue")
)

// ValidationError reports a mismatch between the wallet-decoded swap proposal
// and the engine-computed trade terms. Both datasets are carried in full so
// the discrepancy can be audited from logs; it is never retried or coerced.
type ValidationError struct {
	Leg      string // "receiving" or "sending"
	AssetID  string
	Expected string // raw amount computed from the trade
	Reported string // raw amount decoded from the proposal
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("marketbot: %s leg amount mismatch for asset %s: proposal reports %s, trade expects %s",
		e.Leg, e.AssetID, e.Reported, e.Expected)
}
