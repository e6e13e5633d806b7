package logging

import (
	"context"
	"errors"
	"log/slog"
)

// MultiHandler sends each record to the file, OTel and Graylog handlers.
// A failing output does not keep the record from the others; the failures
// are joined and returned to the caller.
type MultiHandler struct {
	outputs []slog.Handler
}

// NewMultiHandler ignores nil handlers so optional outputs can be passed
// unconditionally.
func NewMultiHandler(outputs ...slog.Handler) *MultiHandler {
	m := &MultiHandler{}
	for _, h := range outputs {
		if h != nil {
			m.outputs = append(m.outputs, h)
		}
	}
	return m
}

// Len reports the number of outputs.
func (m *MultiHandler) Len() int { return len(m.outputs) }

func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.outputs {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m.outputs {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return m.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return m
	}
	return m.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (m *MultiHandler) each(fn func(slog.Handler) slog.Handler) *MultiHandler {
	out := make([]slog.Handler, len(m.outputs))
	for i, h := range m.outputs {
		out[i] = fn(h)
	}
	return &MultiHandler{outputs: out}
}
