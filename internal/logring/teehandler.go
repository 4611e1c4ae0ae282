package logring

import (
	"context"
	"log/slog"
)

// TeeHandler wraps an inner slog.Handler and also writes records to a
// RingBuffer for the console log viewer.
type TeeHandler struct {
	inner  slog.Handler
	ring   *RingBuffer
	attrs  []slog.Attr
	groups []string
}

// NewTeeHandler creates a handler that forwards to inner and captures to ring.
func NewTeeHandler(inner slog.Handler, ring *RingBuffer) *TeeHandler {
	return &TeeHandler{inner: inner, ring: ring}
}

// Enabled delegates to the inner handler.
func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle captures the record in the ring buffer and forwards it.
func (h *TeeHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := Entry{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
	}

	attrs := make(map[string]any)
	prefix := groupPrefix(h.groups)
	for _, a := range h.attrs {
		attrs[prefix+a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[prefix+a.Key] = a.Value.Any()
		return true
	})
	if len(attrs) > 0 {
		entry.Attrs = attrs
	}

	h.ring.Add(entry)
	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a new handler with the given attributes pre-set.
func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TeeHandler{
		inner:  h.inner.WithAttrs(attrs),
		ring:   h.ring,
		attrs:  append(cloneAttrs(h.attrs), attrs...),
		groups: h.groups,
	}
}

// WithGroup returns a new handler with the given group name.
func (h *TeeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &TeeHandler{
		inner:  h.inner.WithGroup(name),
		ring:   h.ring,
		attrs:  cloneAttrs(h.attrs),
		groups: append(append([]string{}, h.groups...), name),
	}
}

func cloneAttrs(attrs []slog.Attr) []slog.Attr {
	if attrs == nil {
		return nil
	}
	c := make([]slog.Attr, len(attrs))
	copy(c, attrs)
	return c
}

func groupPrefix(groups []string) string {
	if len(groups) == 0 {
		return ""
	}
	var p string
	for _, g := range groups {
		p += g + "."
	}
	return p
}
