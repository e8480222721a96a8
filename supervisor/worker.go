package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	mlog "github.com/zanotrade/marketbot/log"
	"github.com/zanotrade/marketbot/marketbot"
)

// cycleTimeout bounds one full settlement pass, wallet calls included.
const cycleTimeout = 5 * time.Minute

// RunCycleWorker drains a context's cycle queue one item at a time, which is
// what serializes notification-triggered and self-continued settlement runs.
// It returns when the queue shuts down or the order finishes.
func RunCycleWorker(ctx context.Context, wg *sync.WaitGroup, q CycleQueue, run func(context.Context) error) {
	defer wg.Done()

	for {
		key, shutdown := q.Get()
		if shutdown {
			return
		}
		reqCtx, cancel := context.WithTimeout(ctx, cycleTimeout)
		finished := processCycle(reqCtx, q, key, run)
		cancel()
		if finished {
			q.ShutDown()
			return
		}
	}
}

// processCycle runs one settlement pass and reports whether the resting
// order is done for good.
func processCycle(ctx context.Context, q CycleQueue, key CycleKey, run func(context.Context) error) bool {
	logger := mlog.LoggerFromContext(ctx).With("pairId", key.PairID)
	defer q.Done(key)

	err := run(ctx)
	q.Forget(key)
	switch {
	case err == nil:
		return false
	case errors.Is(err, marketbot.ErrOrderFinished):
		logger.Info("resting order finished, matching stops")
		return true
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		// The next venue notification re-enters the cycle; retrying here
		// would hammer a failing counterparty or endpoint.
		logger.Error("settlement cycle failed", slog.String("error", err.Error()))
		return false
	}
}
