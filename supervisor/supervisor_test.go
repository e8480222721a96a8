package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zanotrade/marketbot/marketbot"
)

type stubSocket struct {
	mu     sync.Mutex
	closed int
	err    error
}

func (s *stubSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.err
}

func (s *stubSocket) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func newTestContext(id string, pairID int64) (*Context, *stubSocket) {
	sock := &stubSocket{}
	return &Context{
		ID:     id,
		Cfg:    marketbot.PairConfig{PairID: pairID},
		Socket: sock,
		Queue:  NewCycleQueue(),
	}, sock
}

func TestQueueRestartIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New()
	c, _ := newTestContext("sock-1", 1)
	s.AddActive(c)

	s.QueueRestart(c.ID)
	s.QueueRestart(c.ID)
	s.QueueRestart(c.ID)

	require.True(t, s.restartQueued(c.ID), "first check consumes the single entry")
	require.False(t, s.restartQueued(c.ID), "duplicate queuing must not stack entries")
}

func TestDestroyRemovesAndClosesOnce(t *testing.T) {
	t.Parallel()

	s := New()
	c, sock := newTestContext("sock-2", 2)
	s.AddActive(c)
	s.QueueRestart(c.ID)

	s.Destroy(c.ID)

	require.False(t, s.IsActive(c.ID))
	require.Equal(t, 1, sock.closeCount())
	require.False(t, s.restartQueued(c.ID), "destroy clears any pending restart")

	// A second destroy of the same id is a no-op.
	s.Destroy(c.ID)
	require.Equal(t, 1, sock.closeCount())
}

func TestDestroySwallowsCloseErrors(t *testing.T) {
	t.Parallel()

	s := New()
	sock := &stubSocket{err: errors.New("broken pipe")}
	c := &Context{ID: "sock-3", Socket: sock, Queue: NewCycleQueue()}
	s.AddActive(c)

	s.Destroy(c.ID)
	require.False(t, s.IsActive(c.ID))
	require.Equal(t, 1, sock.closeCount())
}

func TestDestroyByPair(t *testing.T) {
	t.Parallel()

	s := New()
	a, _ := newTestContext("sock-a", 10)
	b, sockB := newTestContext("sock-b", 20)
	s.AddActive(a)
	s.AddActive(b)

	s.DestroyByPair(20)

	require.True(t, s.IsActive(a.ID))
	require.False(t, s.IsActive(b.ID))
	require.Equal(t, 1, sockB.closeCount())
}

func TestHandleDisconnectQueuesRestartAfterDelay(t *testing.T) {
	t.Parallel()

	s := New(WithDisconnectDelay(10 * time.Millisecond))
	c, _ := newTestContext("sock-4", 4)
	s.AddActive(c)

	s.HandleDisconnect(context.Background(), c.ID)

	require.True(t, s.restartQueued(c.ID))
}

func TestHandleDisconnectIgnoresDeadContext(t *testing.T) {
	t.Parallel()

	s := New(WithDisconnectDelay(time.Millisecond))
	s.HandleDisconnect(context.Background(), "never-registered")
	require.False(t, s.restartQueued("never-registered"))
}

func TestRestartCheckerRestartsExactlyOnce(t *testing.T) {
	c, _ := newTestContext("sock-5", 5)

	s := New(WithDisconnectDelay(time.Millisecond))
	s.AddActive(c)

	var mu sync.Mutex
	var starts []marketbot.PairConfig
	start := func(_ context.Context, cfg marketbot.PairConfig) error {
		mu.Lock()
		defer mu.Unlock()
		starts = append(starts, cfg)
		return nil
	}

	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		s.RunRestartChecker(ctx, c, start)
		close(done)
	}()

	s.QueueRestart(c.ID)
	s.QueueRestart(c.ID)

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("restart checker did not act on the queued restart")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 1, "one failure, one restart")
	require.Equal(t, int64(5), starts[0].PairID)
	require.False(t, s.IsActive(c.ID), "old context is destroyed before the restart")
}

func TestRestartCheckerStopsWhenContextDestroyedElsewhere(t *testing.T) {
	c, _ := newTestContext("sock-6", 6)

	s := New()
	s.AddActive(c)
	s.Destroy(c.ID)

	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		s.RunRestartChecker(ctx, c, func(context.Context, marketbot.PairConfig) error {
			t.Error("destroyed context must not restart")
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("restart checker did not stop for the destroyed context")
	}
}

type stubPinger struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *stubPinger) PingActivityChecker(context.Context, string, int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func TestWatchdogQueuesRestartOnPingFailure(t *testing.T) {
	t.Parallel()

	c, _ := newTestContext("sock-7", 7)
	s := New(WithPingInterval(5 * time.Millisecond))
	s.AddActive(c)

	pinger := &stubPinger{err: errors.New("venue unreachable")}

	done := make(chan struct{})
	go func() {
		s.RunWatchdog(context.Background(), c, pinger, "token", 99)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop after the failed ping")
	}
	require.True(t, s.restartQueued(c.ID))
}

func TestWatchdogStopsQuietlyWhenContextGone(t *testing.T) {
	t.Parallel()

	c, _ := newTestContext("sock-8", 8)
	s := New(WithPingInterval(5 * time.Millisecond))

	pinger := &stubPinger{}

	done := make(chan struct{})
	go func() {
		s.RunWatchdog(context.Background(), c, pinger, "token", 99)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not notice the missing context")
	}
	require.False(t, s.restartQueued(c.ID))
}
