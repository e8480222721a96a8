package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/zanotrade/marketbot/engine"
	"github.com/zanotrade/marketbot/market"
	"github.com/zanotrade/marketbot/marketbot"
	"github.com/zanotrade/marketbot/resting"
	"github.com/zanotrade/marketbot/storage"
	"github.com/zanotrade/marketbot/supervisor"
	"github.com/zanotrade/marketbot/venue"
	"github.com/zanotrade/marketbot/venue/ws"
	"github.com/zanotrade/marketbot/wallet"
)

// app holds the process-wide collaborators every pair pipeline shares.
type app struct {
	venue    *venue.Client
	wallet   *wallet.Client
	store    *storage.Storage
	sup      *supervisor.Supervisor
	ignore   *engine.IgnoreSet
	notifier marketbot.Notifier
	token    string
	logger   *slog.Logger

	wg sync.WaitGroup
}

// startPair runs the whole pipeline for one pair: pair metadata, resting
// order, notification socket, settlement worker, watchdog and restart
// checker. It is also the StartFunc a restart re-invokes.
func (a *app) startPair(ctx context.Context, cfg marketbot.PairConfig) error {
	pair, err := a.venue.GetPair(ctx, cfg.PairID)
	if err != nil {
		return fmt.Errorf("pair %d metadata: %w", cfg.PairID, err)
	}

	mgr := resting.New(resting.Config{
		Venue:   a.venue,
		Wallet:  a.wallet,
		Records: a.store,
		Token:   a.token,
		Pair:    pair,
		PairCfg: cfg,
	})
	order, err := mgr.Establish(ctx)
	if err != nil {
		return fmt.Errorf("establish resting order for pair %d: %w", cfg.PairID, err)
	}

	sock, err := ws.Dial(ctx, a.venue.BaseURL())
	if err != nil {
		return err
	}
	contextID := sock.ID()
	if contextID == "" {
		sock.Close()
		return fmt.Errorf("notification socket for pair %d has no session id", cfg.PairID)
	}

	queue := supervisor.NewCycleQueue()
	key := supervisor.CycleKey{PairID: cfg.PairID}
	c := &supervisor.Context{ID: contextID, Cfg: cfg, Socket: sock, Queue: queue}
	a.sup.AddActive(c)

	sock.Start(ws.Handlers{
		OnOrderEvent: func(event string) {
			queue.Add(key)
		},
		OnDisconnect: func(error) {
			a.sup.HandleDisconnect(ctx, contextID)
		},
	})
	if err := sock.JoinTrading(cfg.PairID); err != nil {
		a.sup.Destroy(contextID)
		return fmt.Errorf("join pair %d notifications: %w", cfg.PairID, err)
	}

	eng := engine.New(engine.Config{
		Venue:    a.venue,
		Wallet:   a.wallet,
		Records:  a.store,
		Ignore:   a.ignore,
		Notifier: a.notifier,
		Token:    a.token,
		Pair:     pair,
		PairCfg:  cfg,
		OrderID:  order.ID,
	})

	a.wg.Add(1)
	go supervisor.RunCycleWorker(ctx, &a.wg, queue, eng.RunCycle)
	go a.sup.RunWatchdog(ctx, c, a.venue, a.token, order.ID)
	go a.sup.RunRestartChecker(ctx, c, a.startPair)

	// First pass settles anything already waiting; after that, cycles come
	// from order notifications.
	queue.Add(key)

	a.logger.Info("pair started",
		"pairId", cfg.PairID, "contextId", contextID, "orderId", order.ID)
	return nil
}

// runLivePair keeps one market-priced pair running: a poller feeding the
// source's snapshots and a watcher that reprices and restarts the pair
// whenever the market drifts past the configured sensitivity.
func (a *app) runLivePair(ctx context.Context, cfg marketbot.PairConfig) error {
	source, err := market.NewSource(*cfg.Live)
	if err != nil {
		return err
	}

	poller := market.NewPoller(source, cfg.Live.PriceInterval)
	go poller.Run(ctx)

	watcher := market.NewWatcher(poller, *cfg.Live, func(ctx context.Context, state marketbot.MarketState) {
		price := state.BuyPrice
		if cfg.Side == marketbot.SideSell {
			price = state.SellPrice
		}
		repriced := cfg.WithPrice(decimal.NewFromFloat(price), state)

		a.sup.DestroyByPair(cfg.PairID)
		if err := a.startPair(ctx, repriced); err != nil {
			a.logger.Error("live pair restart failed",
				"pairId", cfg.PairID, "error", err)
		}
	})
	go watcher.Run(ctx)
	return nil
}
