package venue

import (
	"context"
	"sync"
	"time"
)

const defaultCallSpacing = 200 * time.Millisecond

// callGate spaces venue REST calls so notification bursts and the recursive
// settlement loop cannot hammer the trade server. All per-pair contexts share
// one gate; it must be safe for concurrent use.
type callGate struct {
	mu      sync.Mutex
	spacing time.Duration
	next    time.Time
}

func newCallGate(spacing time.Duration) *callGate {
	if spacing <= 0 {
		spacing = defaultCallSpacing
	}
	return &callGate{spacing: spacing, next: time.Now()}
}

func (g *callGate) wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		wait := time.Until(g.next)
		if wait <= 0 {
			g.next = time.Now().Add(g.spacing)
			g.mu.Unlock()
			return nil
		}
		g.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return ctx.Err()
		}
	}
}
