// Package sqllogger provides a slog.Handler that persists log records
// through a pluggable insert function, normally backed by the bot's sqlite
// storage. Records are queued and written by a single background goroutine
// so logging never blocks the settlement path on database I/O.
package sqllogger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const defaultQueueSize = 256

var (
	ErrQueueFull     = errors.New("sqllogger: queue full")
	ErrHandlerClosed = errors.New("sqllogger: handler closed")
)

// InsertLogEntryParams is one persisted record.
type InsertLogEntryParams struct {
	TimestampMillis int64
	LevelText       string
	Scope           string
	Message         string
	AttrsJSON       []byte
}

// InsertFunc writes one record to the backing store.
type InsertFunc func(context.Context, InsertLogEntryParams) error

// Option configures a Handler.
type Option func(*config)

type config struct {
	minLevel  slog.Level
	queueSize int
	insertFn  InsertFunc
}

// WithMinLevel sets the lowest level that gets persisted.
func WithMinLevel(level slog.Level) Option {
	return func(c *config) { c.minLevel = level }
}

// WithQueueSize bounds the in-flight record queue.
func WithQueueSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.queueSize = size
		}
	}
}

// WithInsertFunc sets the persistence function. Required.
func WithInsertFunc(fn InsertFunc) Option {
	return func(c *config) { c.insertFn = fn }
}

// Handler is the slog.Handler. WithAttrs and WithGroup return clones sharing
// one writer goroutine and queue.
type Handler struct {
	core   *core
	attrs  []slog.Attr
	groups []string
}

type core struct {
	insertFn InsertFunc
	minLevel slog.Level
	queue    chan InsertLogEntryParams
	done     chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// NewHandler builds a Handler and starts its writer goroutine.
func NewHandler(opts ...Option) (*Handler, error) {
	cfg := config{minLevel: slog.LevelInfo, queueSize: defaultQueueSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.insertFn == nil {
		return nil, errors.New("sqllogger: insert function is required")
	}

	c := &core{
		insertFn: cfg.insertFn,
		minLevel: cfg.minLevel,
		queue:    make(chan InsertLogEntryParams, cfg.queueSize),
		done:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()

	return &Handler{core: c}, nil
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return h != nil && h.core != nil && level >= h.core.minLevel
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	if !h.Enabled(ctx, record.Level) {
		return nil
	}
	if h.core.closed.Load() {
		return ErrHandlerClosed
	}
	select {
	case h.core.queue <- h.buildParams(record):
		return nil
	default:
		return ErrQueueFull
	}
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	clone.attrs = append(clone.attrs, attrs...)
	return clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := h.clone()
	clone.groups = append(clone.groups, name)
	return clone
}

func (h *Handler) clone() *Handler {
	return &Handler{
		core:   h.core,
		attrs:  append([]slog.Attr(nil), h.attrs...),
		groups: append([]string(nil), h.groups...),
	}
}

// Close stops the writer after draining queued records, waiting at most
// until ctx is done.
func (h *Handler) Close(ctx context.Context) error {
	if h == nil || h.core == nil {
		return nil
	}
	c := h.core
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)

	drained := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(drained)
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *core) run() {
	defer c.wg.Done()
	for {
		select {
		case params := <-c.queue:
			_ = c.insertFn(context.Background(), params)
		case <-c.done:
			for {
				select {
				case params := <-c.queue:
					_ = c.insertFn(context.Background(), params)
				default:
					return
				}
			}
		}
	}
}

func (h *Handler) buildParams(record slog.Record) InsertLogEntryParams {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	attrs := make(map[string]any, len(h.attrs)+record.NumAttrs())
	for _, attr := range h.attrs {
		addAttr(attrs, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		addAttr(attrs, attr)
		return true
	})

	raw, err := json.Marshal(attrs)
	if err != nil {
		raw = []byte("{}")
	}

	return InsertLogEntryParams{
		TimestampMillis: ts.UTC().UnixMilli(),
		LevelText:       record.Level.String(),
		Scope:           strings.Join(h.groups, "."),
		Message:         record.Message,
		AttrsJSON:       raw,
	}
}

func addAttr(dst map[string]any, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		nested := make(map[string]any)
		for _, member := range attr.Value.Group() {
			addAttr(nested, member)
		}
		if attr.Key == "" {
			for k, v := range nested {
				dst[k] = v
			}
			return
		}
		dst[attr.Key] = nested
		return
	}
	dst[attr.Key] = attr.Value.Any()
}
