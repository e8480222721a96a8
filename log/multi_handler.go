package log

import (
	"context"
	"errors"
	"log/slog"
)

// MultiHandler duplicates every record to each child handler, letting the
// console handler and the sqlite sink observe the same stream.
type MultiHandler struct {
	children []slog.Handler
}

// NewMultiHandler builds a MultiHandler from the non-nil handlers.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	kept := make([]slog.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			kept = append(kept, h)
		}
	}
	return &MultiHandler{children: kept}
}

func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, child := range m.children {
		if child.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle delivers the record to every enabled child. A failing child (the
// sqlite sink with a full queue, say) must not starve the others, so all
// children run and their errors come back joined.
func (m *MultiHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, child := range m.children {
		if !child.Enabled(ctx, record.Level) {
			continue
		}
		if err := child.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	children := make([]slog.Handler, len(m.children))
	for i, child := range m.children {
		children[i] = child.WithAttrs(attrs)
	}
	return &MultiHandler{children: children}
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return m
	}
	children := make([]slog.Handler, len(m.children))
	for i, child := range m.children {
		children[i] = child.WithGroup(name)
	}
	return &MultiHandler{children: children}
}
