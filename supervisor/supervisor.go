// Package supervisor keeps one execution context per trading pair alive: it
// owns the active registry, the restart queue, the activity watchdog loops
// and the per-context cycle queue that serializes settlement runs.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"k8s.io/client-go/util/workqueue"

	"github.com/zanotrade/marketbot/marketbot"
)

const (
	// DefaultPingInterval keeps the resting order flagged live on the venue.
	DefaultPingInterval = 15 * time.Second

	// restartCheckInterval is how often a context polls the restart queue.
	restartCheckInterval = 1 * time.Second

	// DefaultDisconnectDelay sits between a socket drop and the queued
	// restart, so a flapping connection does not sponsor a restart storm.
	DefaultDisconnectDelay = 5 * time.Second
)

// CycleKey is comparable, safe to use as a queue key. One key per pair:
// however many notifications arrive while a cycle runs, they coalesce into
// a single queued re-run.
type CycleKey struct {
	PairID int64
}

// CycleQueue is the per-context work queue feeding the settlement engine.
type CycleQueue = workqueue.TypedRateLimitingInterface[CycleKey]

// NewCycleQueue builds the queue a context serializes its cycles through.
func NewCycleQueue() CycleQueue {
	return workqueue.NewTypedRateLimitingQueue(workqueue.DefaultTypedControllerRateLimiter[CycleKey]())
}

// Socket is the slice of the notification connection teardown needs.
type Socket interface {
	Close() error
}

// Context is one live per-pair execution context. Its id is the socket's
// session id, so a restarted pair is a different context.
type Context struct {
	ID     string
	Cfg    marketbot.PairConfig
	Socket Socket
	Queue  CycleQueue
}

// StartFunc re-runs the whole pipeline for a pair, spawning a fresh context.
type StartFunc func(ctx context.Context, cfg marketbot.PairConfig) error

// Pinger is the venue's activity endpoint the watchdog leans on.
type Pinger interface {
	PingActivityChecker(ctx context.Context, token string, orderID int64) error
}

// Supervisor owns the two registries every context shares. Both are guarded
// by one mutex; accesses are short and infrequent.
type Supervisor struct {
	logger *slog.Logger

	pingInterval    time.Duration
	disconnectDelay time.Duration

	mu      sync.Mutex
	active  map[string]*Context
	restart map[string]struct{}
}

// Option adjusts supervisor timing, mainly for tests.
type Option func(*Supervisor)

func WithPingInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.pingInterval = d }
}

func WithDisconnectDelay(d time.Duration) Option {
	return func(s *Supervisor) { s.disconnectDelay = d }
}

func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		logger:          slog.Default().WithGroup("supervisor"),
		pingInterval:    DefaultPingInterval,
		disconnectDelay: DefaultDisconnectDelay,
		active:          make(map[string]*Context),
		restart:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddActive registers a freshly started context.
func (s *Supervisor) AddActive(c *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[c.ID] = c
	s.logger.Info("context active", "contextId", c.ID, "pairId", c.Cfg.PairID)
}

// IsActive reports whether the context is still registered.
func (s *Supervisor) IsActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}

// QueueRestart marks a context for restart. Idempotent: queuing an already
// queued id changes nothing, so each failure restarts its context once.
func (s *Supervisor) QueueRestart(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.restart[id]; ok {
		return
	}
	s.restart[id] = struct{}{}
	s.logger.Info("context queued for restart", "contextId", id)
}

func (s *Supervisor) restartQueued(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.restart[id]; !ok {
		return false
	}
	delete(s.restart, id)
	return true
}

// Destroy removes the context from the registry and tears its resources
// down. Close errors are logged, never propagated; the context is gone
// either way.
func (s *Supervisor) Destroy(id string) {
	s.mu.Lock()
	c, ok := s.active[id]
	if ok {
		delete(s.active, id)
	}
	delete(s.restart, id)
	s.mu.Unlock()
	if !ok {
		return
	}

	if c.Queue != nil {
		c.Queue.ShutDown()
	}
	if c.Socket != nil {
		if err := c.Socket.Close(); err != nil {
			s.logger.Warn("socket close failed during teardown",
				"contextId", id, "error", err)
		}
	}
	s.logger.Info("context destroyed", "contextId", id, "pairId", c.Cfg.PairID)
}

// DestroyAll tears down every active context, for shutdown and for Live-mode
// rebuilds when the market moves.
func (s *Supervisor) DestroyAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Destroy(id)
	}
}

// DestroyByPair tears down whichever context currently runs the pair, for
// Live-mode repricing rebuilds.
func (s *Supervisor) DestroyByPair(pairID int64) {
	s.mu.Lock()
	var ids []string
	for id, c := range s.active {
		if c.Cfg.PairID == pairID {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Destroy(id)
	}
}

// ActiveConfigs snapshots the configs of all live contexts.
func (s *Supervisor) ActiveConfigs() []marketbot.PairConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]marketbot.PairConfig, 0, len(s.active))
	for _, c := range s.active {
		out = append(out, c.Cfg)
	}
	return out
}

// HandleDisconnect reacts to a dropped notification socket: if the context
// is still ours, wait out the delay and queue a restart.
func (s *Supervisor) HandleDisconnect(ctx context.Context, id string) {
	if !s.IsActive(id) {
		return
	}
	s.logger.Warn("notification socket disconnected", "contextId", id)

	timer := time.NewTimer(s.disconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if s.IsActive(id) {
		s.QueueRestart(id)
	}
}

// RunWatchdog pings the venue on a fixed interval to keep the resting order
// flagged live. A failed ping on a still-active context queues a restart and
// ends the loop.
func (s *Supervisor) RunWatchdog(ctx context.Context, c *Context, pinger Pinger, token string, orderID int64) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !s.IsActive(c.ID) {
			return
		}

		if err := pinger.PingActivityChecker(ctx, token, orderID); err != nil {
			s.logger.Warn("activity ping failed", "contextId", c.ID, "error", err)
			if s.IsActive(c.ID) {
				s.QueueRestart(c.ID)
			}
			return
		}
	}
}

// RunRestartChecker polls the restart queue for this context. When queued,
// it destroys the context and invokes start to spawn a replacement, then
// stops; a context destroyed elsewhere just stops.
func (s *Supervisor) RunRestartChecker(ctx context.Context, c *Context, start StartFunc) {
	ticker := time.NewTicker(restartCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !s.IsActive(c.ID) {
			return
		}
		if !s.restartQueued(c.ID) {
			continue
		}

		s.logger.Info("restarting context", "contextId", c.ID, "pairId", c.Cfg.PairID)
		s.Destroy(c.ID)
		if err := start(ctx, c.Cfg); err != nil {
			s.logger.Error("context restart failed",
				"contextId", c.ID, "pairId", c.Cfg.PairID, "error", err)
		}
		return
	}
}
