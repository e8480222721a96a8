package log

import (
	"context"
	"log/slog"
	"strings"
)

// GroupFilterHandler limits output to records logged under one of the named
// slog groups. Components each log under their own group (engine, venue,
// wallet, supervisor), so operators can scope console output to the parts
// under investigation without losing other levels.
type GroupFilterHandler struct {
	next    slog.Handler
	allowed map[string]struct{}
	path    []string
}

// NewGroupFilterHandler wraps next with group filtering. An empty allow list
// disables filtering and returns next unchanged.
func NewGroupFilterHandler(next slog.Handler, allowedGroups []string) slog.Handler {
	if next == nil || len(allowedGroups) == 0 {
		return next
	}
	allowed := make(map[string]struct{}, len(allowedGroups))
	for _, g := range allowedGroups {
		g = strings.ToLower(strings.TrimSpace(g))
		if g != "" {
			allowed[g] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return next
	}
	return &GroupFilterHandler{next: next, allowed: allowed}
}

func (h *GroupFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *GroupFilterHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, g := range h.path {
		if _, ok := h.allowed[g]; ok {
			return h.next.Handle(ctx, record)
		}
	}
	return nil
}

func (h *GroupFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &GroupFilterHandler{
		next:    h.next.WithAttrs(attrs),
		allowed: h.allowed,
		path:    append([]string(nil), h.path...),
	}
}

func (h *GroupFilterHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &GroupFilterHandler{
		next:    h.next.WithGroup(name),
		allowed: h.allowed,
		path:    append(append([]string(nil), h.path...), strings.ToLower(name)),
	}
}
