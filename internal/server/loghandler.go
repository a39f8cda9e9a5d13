package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/renovox/renovox/internal/session"
)

// Compile-time assertion that LogFanout satisfies slog.Handler.
var _ slog.Handler = (*LogFanout)(nil)

// LogFanout wraps a slog.Handler and mirrors every record to all connected
// sessions as "log" events, so the browser console shows server-side logs.
// Queue pushes never block; sessions that cannot keep up lose log lines.
type LogFanout struct {
	inner    slog.Handler
	registry *session.Registry

	// busy breaks the recursion when pushing a log event itself logs
	// (e.g. the queue-full warning).
	busy *atomic.Bool
}

// NewLogFanout wraps inner with session fan-out.
func NewLogFanout(inner slog.Handler, registry *session.Registry) *LogFanout {
	return &LogFanout{
		inner:    inner,
		registry: registry,
		busy:     &atomic.Bool{},
	}
}

// Enabled implements slog.Handler.
func (l *LogFanout) Enabled(ctx context.Context, level slog.Level) bool {
	return l.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (l *LogFanout) Handle(ctx context.Context, rec slog.Record) error {
	err := l.inner.Handle(ctx, rec)

	if !l.busy.CompareAndSwap(false, true) {
		return err
	}
	defer l.busy.Store(false)

	var msg strings.Builder
	msg.WriteString(rec.Message)
	rec.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&msg, " %s=%v", a.Key, a.Value)
		return true
	})

	ev := session.Event{
		"type":    "log",
		"level":   rec.Level.String(),
		"message": msg.String(),
		"ts":      rec.Time.Format("15:04:05.000"),
	}
	for _, s := range l.registry.Snapshot() {
		s.Push(ev)
	}
	return err
}

// WithAttrs implements slog.Handler. The fan-out state is shared so the
// recursion guard spans derived handlers.
func (l *LogFanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogFanout{inner: l.inner.WithAttrs(attrs), registry: l.registry, busy: l.busy}
}

// WithGroup implements slog.Handler.
func (l *LogFanout) WithGroup(name string) slog.Handler {
	return &LogFanout{inner: l.inner.WithGroup(name), registry: l.registry, busy: l.busy}
}
