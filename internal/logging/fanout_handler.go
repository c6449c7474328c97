package logging

import (
	"context"
	"errors"
	"log/slog"
)

// fanoutHandler sends each record to every handler that accepts its level.
type fanoutHandler []slog.Handler

func newFanoutHandler(handlers ...slog.Handler) slog.Handler {
	var live fanoutHandler
	for _, h := range handlers {
		if h != nil {
			live = append(live, h)
		}
	}
	switch len(live) {
	case 0:
		return NoopHandler{}
	case 1:
		return live[0]
	}
	return live
}

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle gives every accepting handler its own clone of the record, since
// handlers may retain it, and joins their errors.
func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, record.Level) {
			errs = append(errs, h.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanoutHandler) derive(fn func(slog.Handler) slog.Handler) fanoutHandler {
	next := make(fanoutHandler, len(f))
	for i, h := range f {
		next[i] = fn(h)
	}
	return next
}

// TeeLogger duplicates log output from base into the provided handlers. The
// orchestrator uses it to capture one job's lines into its own log file.
func TeeLogger(base *slog.Logger, handlers ...slog.Handler) *slog.Logger {
	if base != nil {
		handlers = append([]slog.Handler{base.Handler()}, handlers...)
	}
	return slog.New(newFanoutHandler(handlers...))
}
