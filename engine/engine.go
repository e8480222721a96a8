// Package engine drives settlement for one resting order: fetch the pair's
// counter-offers, pick the best crossing one, validate the swap amounts
// against the wallet and execute it, then go around again until nothing
// matchable is left.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zanotrade/marketbot/decimals"
	"github.com/zanotrade/marketbot/marketbot"
	"github.com/zanotrade/marketbot/storage"
	"github.com/zanotrade/marketbot/venue"
	"github.com/zanotrade/marketbot/wallet"
)

// DefaultRetryDelay is the pause after an insufficient-funds failure before
// the next pass over the offer list.
const DefaultRetryDelay = 5 * time.Second

type Venue interface {
	GetUserOrdersPage(ctx context.Context, token string, pairID int64) (venue.OrdersPage, error)
	ApplyOrder(ctx context.Context, token string, data venue.ApplyOrderData) error
	ConfirmTransaction(ctx context.Context, token string, transactionID int64) error
}

type Wallet interface {
	GetAssetInfo(ctx context.Context, assetID string) (wallet.AssetInfo, error)
	ProposeSwap(ctx context.Context, terms marketbot.SwapTerms, destinationAddress string, expiration time.Time) (string, error)
	AcceptProposal(ctx context.Context, hexRawProposal string) error
	InspectProposal(ctx context.Context, hexRawProposal string) (wallet.ProposalInfo, error)
}

// Records is the slice of the order store the engine needs after a
// settlement. A nil Records (pair without a trade id) skips persistence.
type Records interface {
	FindByTradeID(ctx context.Context, tradeID string) (*storage.OrderRecord, error)
	UpdateRemaining(ctx context.Context, tradeID string, remaining decimal.Decimal) error
	AppendApplied(ctx context.Context, tradeID string, offerID int64) error
}

// Config wires one engine to its collaborators. Ignore is shared across all
// pairs; everything else is per-context.
type Config struct {
	Venue    Venue
	Wallet   Wallet
	Records  Records
	Ignore   *IgnoreSet
	Notifier marketbot.Notifier

	Token   string
	Pair    marketbot.Pair
	PairCfg marketbot.PairConfig
	OrderID int64

	RetryDelay time.Duration
}

// Engine is the per-context settlement state machine. One RunCycle at a time;
// the supervisor's cycle queue enforces that.
type Engine struct {
	venue    Venue
	wallet   Wallet
	records  Records
	ignore   *IgnoreSet
	notifier marketbot.Notifier

	token   string
	pair    marketbot.Pair
	cfg     marketbot.PairConfig
	orderID int64

	retryDelay time.Duration
	logger     *slog.Logger
}

func New(cfg Config) *Engine {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = marketbot.NopNotifier{}
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Engine{
		venue:      cfg.Venue,
		wallet:     cfg.Wallet,
		records:    cfg.Records,
		ignore:     cfg.Ignore,
		notifier:   notifier,
		token:      cfg.Token,
		pair:       cfg.Pair,
		cfg:        cfg.PairCfg,
		orderID:    cfg.OrderID,
		retryDelay: retryDelay,
		logger: slog.Default().WithGroup("engine").With(
			"pairId", cfg.Pair.ID, "orderId", cfg.OrderID),
	}
}

// RunCycle works through every currently matchable counter-offer. It returns
// nil when no eligible offer remains, marketbot.ErrOrderFinished when the
// resting order is gone or fully filled, and any other error when a cycle
// failed for a reason the next notification should retry from scratch.
// Insufficient funds never surfaces: the offer is ignored for the session and
// the loop re-enters after a short delay.
func (e *Engine) RunCycle(ctx context.Context) error {
	for {
		page, err := e.venue.GetUserOrdersPage(ctx, e.token, e.pair.ID)
		if err != nil {
			return fmt.Errorf("fetch orders page: %w", err)
		}

		order := findOrder(page.Orders, e.orderID)
		if order == nil || !order.Remaining.IsPositive() {
			return marketbot.ErrOrderFinished
		}

		record, err := e.loadRecord(ctx)
		if err != nil {
			return err
		}

		offer := e.selectOffer(*order, page.ApplyTips, record)
		if offer == nil {
			return nil
		}

		err = e.settle(ctx, *order, *offer)
		switch {
		case err == nil:
			// Drain whatever else is matchable before going idle.
			continue
		case errors.Is(err, marketbot.ErrInsufficientFunds):
			e.ignore.Add(offer.ID)
			e.logger.Warn("offer cannot be funded, ignoring for this session",
				"offerId", offer.ID)
			if err := sleepCtx(ctx, e.retryDelay); err != nil {
				return err
			}
			continue
		default:
			return fmt.Errorf("settle against offer %d: %w", offer.ID, err)
		}
	}
}

func findOrder(orders []marketbot.ObservedOrder, id int64) *marketbot.ObservedOrder {
	for i := range orders {
		if orders[i].ID == id {
			return &orders[i]
		}
	}
	return nil
}

func (e *Engine) loadRecord(ctx context.Context) (*storage.OrderRecord, error) {
	if e.records == nil || e.cfg.TradeID == "" {
		return nil, nil
	}
	record, err := e.records.FindByTradeID(ctx, e.cfg.TradeID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load order record: %w", err)
	}
	return record, nil
}

// selectOffer reduces the apply tips to the single best eligible one. Buy
// resting orders want the lowest price, sell the highest; a tie keeps the
// offer seen first.
func (e *Engine) selectOffer(order marketbot.ObservedOrder, tips []marketbot.CounterOffer, record *storage.OrderRecord) *marketbot.CounterOffer {
	var best *marketbot.CounterOffer
	for i := range tips {
		tip := &tips[i]
		if !tip.Remaining.IsPositive() || !tip.Settleable() {
			continue
		}
		if !order.Side.Crosses(order.Price, tip.Price) {
			continue
		}
		if e.ignore.Contains(tip.ID) {
			continue
		}
		if record != nil && record.Applied(tip.ID) {
			continue
		}
		if best == nil {
			best = tip
			continue
		}
		if order.Side == marketbot.SideBuy && tip.Price.LessThan(best.Price) {
			best = tip
		}
		if order.Side == marketbot.SideSell && tip.Price.GreaterThan(best.Price) {
			best = tip
		}
	}
	return best
}

// swapTerms computes both legs for a fill at the matched offer's price. The
// price-multiplied leg is truncated to its asset's decimal places; the fill
// leg is passed through exact.
func (e *Engine) swapTerms(ctx context.Context, side marketbot.Side, fill, price decimal.Decimal) (marketbot.SwapTerms, error) {
	secondAsset, err := e.wallet.GetAssetInfo(ctx, e.pair.SecondCurrency.AssetID)
	if err != nil {
		return marketbot.SwapTerms{}, fmt.Errorf("second currency metadata: %w", err)
	}

	quoteAmount, err := decimals.RoundForAsset(fill.Mul(price), secondAsset.DecimalPoint)
	if err != nil {
		return marketbot.SwapTerms{}, err
	}

	if side == marketbot.SideBuy {
		// We receive the base asset, pay the quote asset.
		return marketbot.SwapTerms{
			DestinationAssetID: e.pair.FirstCurrency.AssetID,
			DestinationAmount:  fill,
			CurrentAssetID:     e.pair.SecondCurrency.AssetID,
			CurrentAmount:      quoteAmount,
		}, nil
	}
	return marketbot.SwapTerms{
		DestinationAssetID: e.pair.SecondCurrency.AssetID,
		DestinationAmount:  quoteAmount,
		CurrentAssetID:     e.pair.FirstCurrency.AssetID,
		CurrentAmount:      fill,
	}, nil
}

func (e *Engine) settle(ctx context.Context, order marketbot.ObservedOrder, offer marketbot.CounterOffer) error {
	fill := decimal.Min(offer.Remaining, order.Remaining)

	terms, err := e.swapTerms(ctx, order.Side, fill, offer.Price)
	if err != nil {
		return err
	}

	if offer.ProposalHex != "" {
		if err := e.validateProposal(ctx, offer.ProposalHex, terms); err != nil {
			return err
		}
		if err := e.wallet.AcceptProposal(ctx, offer.ProposalHex); err != nil {
			return err
		}
		if err := e.venue.ConfirmTransaction(ctx, e.token, offer.ID); err != nil {
			return fmt.Errorf("confirm transaction for offer %d: %w", offer.ID, err)
		}
	} else {
		hex, err := e.wallet.ProposeSwap(ctx, terms, offer.Address, time.Time{})
		if err != nil {
			return err
		}
		if err := e.venue.ApplyOrder(ctx, e.token, venue.ApplyOrderData{
			ID:             offer.ID,
			HexRawProposal: hex,
		}); err != nil {
			return fmt.Errorf("apply proposal to offer %d: %w", offer.ID, err)
		}
	}

	newRemaining := order.Remaining.Sub(fill)
	if err := e.persistSettlement(ctx, offer.ID, newRemaining); err != nil {
		return err
	}

	e.logger.Info("settled",
		"offerId", offer.ID,
		"fill", fill.String(),
		"price", offer.Price.String(),
		"remaining", newRemaining.String())
	e.notify(ctx, order.Side, fill)
	return nil
}

// validateProposal decodes a counterparty proposal and asserts its raw leg
// amounts exactly equal what the trade terms call for. We finalize, so the
// to_finalizer leg is what we receive and the to_initiator leg what we send.
func (e *Engine) validateProposal(ctx context.Context, proposalHex string, terms marketbot.SwapTerms) error {
	info, err := e.wallet.InspectProposal(ctx, proposalHex)
	if err != nil {
		return err
	}

	destAsset, err := e.wallet.GetAssetInfo(ctx, terms.DestinationAssetID)
	if err != nil {
		return err
	}
	curAsset, err := e.wallet.GetAssetInfo(ctx, terms.CurrentAssetID)
	if err != nil {
		return err
	}

	destRaw, err := decimals.Scale(terms.DestinationAmount, destAsset.DecimalPoint)
	if err != nil {
		return err
	}
	curRaw, err := decimals.Scale(terms.CurrentAmount, curAsset.DecimalPoint)
	if err != nil {
		return err
	}

	if err := matchLeg("receiving", info.ToFinalizer, terms.DestinationAssetID, destRaw); err != nil {
		return err
	}
	return matchLeg("sending", info.ToInitiator, terms.CurrentAssetID, curRaw)
}

func matchLeg(leg string, entries []wallet.ProposalEntry, assetID string, expected decimal.Decimal) error {
	entry, ok := wallet.Leg(entries, assetID)
	if !ok {
		return &marketbot.ValidationError{
			Leg:      leg,
			AssetID:  assetID,
			Expected: expected.String(),
		}
	}
	if entry.Amount.String() != expected.String() {
		return &marketbot.ValidationError{
			Leg:      leg,
			AssetID:  assetID,
			Expected: expected.String(),
			Reported: entry.Amount.String(),
		}
	}
	return nil
}

func (e *Engine) persistSettlement(ctx context.Context, offerID int64, remaining decimal.Decimal) error {
	if e.records == nil || e.cfg.TradeID == "" {
		return nil
	}
	if err := e.records.AppendApplied(ctx, e.cfg.TradeID, offerID); err != nil {
		return fmt.Errorf("record applied offer %d: %w", offerID, err)
	}
	if err := e.records.UpdateRemaining(ctx, e.cfg.TradeID, remaining); err != nil {
		return fmt.Errorf("record remaining: %w", err)
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, side marketbot.Side, fill decimal.Decimal) {
	verb := "Bought"
	if side == marketbot.SideSell {
		verb = "Sold"
	}
	ticker := e.pair.FirstCurrency.Ticker
	if ticker == "" {
		ticker = e.pair.FirstCurrency.AssetID
	}
	e.notifier.Notify(ctx, fmt.Sprintf("%s %s $%s", verb, fill.String(), ticker))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
