package market

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/zanotrade/marketbot/marketbot"
)

// watchInterval is how often the watcher compares the current snapshot
// against the one it last acted on.
const watchInterval = 1 * time.Second

// Watcher fires a rebuild callback when price or depth drift beyond the
// configured sensitivity since the last rebuild. The first complete snapshot
// always fires, that is what boots Live-mode pairs.
type Watcher struct {
	poller  *Poller
	cfg     marketbot.LiveConfig
	rebuild func(ctx context.Context, state marketbot.MarketState)
	logger  *slog.Logger

	last  marketbot.MarketState
	armed bool
}

func NewWatcher(poller *Poller, cfg marketbot.LiveConfig, rebuild func(ctx context.Context, state marketbot.MarketState)) *Watcher {
	return &Watcher{
		poller:  poller,
		cfg:     cfg,
		rebuild: rebuild,
		logger:  slog.Default().WithGroup("market").With("watcher", cfg.Source),
	}
}

// Run polls until ctx is canceled. Rebuild callbacks run on this goroutine,
// so a rebuild finishes before the next comparison.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		state, ok := w.poller.State()
		if !ok || !complete(state) {
			continue
		}

		if !w.armed {
			w.last = state
			w.armed = true
			w.rebuild(ctx, state)
			continue
		}

		if w.drifted(state) {
			w.last = state
			w.rebuild(ctx, state)
		}
	}
}

func complete(s marketbot.MarketState) bool {
	return s.BuyPrice > 0 && s.SellPrice > 0 && s.DepthToBuy > 0 && s.DepthToSell > 0
}

func (w *Watcher) drifted(state marketbot.MarketState) bool {
	priceDrift := math.Max(
		changePercent(state.BuyPrice, w.last.BuyPrice),
		changePercent(state.SellPrice, w.last.SellPrice),
	)
	depthDrift := math.Max(
		changePercent(state.DepthToBuy, w.last.DepthToBuy),
		changePercent(state.DepthToSell, w.last.DepthToSell),
	)

	if priceDrift <= w.cfg.PriceSensitivityPercent && depthDrift <= w.cfg.DepthSensitivityPercent {
		return false
	}
	w.logger.Info("market drift detected",
		"priceDriftPercent", priceDrift, "depthDriftPercent", depthDrift)
	return true
}

func changePercent(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return math.Abs((current-previous)/previous) * 100
}
