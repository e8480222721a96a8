package market

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zanotrade/marketbot/marketbot"
)

// Poller keeps the latest market snapshot for one source. Fetch failures
// keep the previous snapshot; staleness is the reader's call via UpdatedAt.
type Poller struct {
	source   Source
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	state marketbot.MarketState
	ready bool
}

func NewPoller(source Source, interval time.Duration) *Poller {
	return &Poller{
		source:   source,
		interval: interval,
		logger:   slog.Default().WithGroup("market").With("source", source.Name()),
	}
}

// Run fetches immediately and then on every interval until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	p.fetch(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fetch(ctx)
		}
	}
}

func (p *Poller) fetch(ctx context.Context) {
	state, err := p.source.FetchMarketState(ctx)
	if err != nil {
		p.logger.Warn("market fetch failed", "error", err)
		return
	}

	p.mu.Lock()
	p.state = state
	p.ready = true
	p.mu.Unlock()

	p.logger.Debug("market state updated",
		"buyPrice", state.BuyPrice, "sellPrice", state.SellPrice,
		"depthToBuy", state.DepthToBuy, "depthToSell", state.DepthToSell)
}

// State returns the latest snapshot. ok is false until the first successful
// fetch.
func (p *Poller) State() (state marketbot.MarketState, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.ready
}

// Fresh reports whether the snapshot is recent enough to price new orders.
// The cutoff is three poll intervals, matching how long a context may run
// on a price before it must be considered stale.
func (p *Poller) Fresh(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return false
	}
	return p.state.UpdatedAt.Add(3 * p.interval).After(now)
}
