// Package notify provides officer notification sinks: a structured-log sink,
// a request-scoped collector returned in HTTP responses, and a fan-out.
package notify

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"checkpoint/internal/processing/ports"
	"checkpoint/pkg/requestcontext"
)

// LogSink writes every notification to the logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(ctx context.Context, n ports.Notification) {
	if s.logger == nil {
		return
	}
	level := slog.LevelInfo
	if n.Kind == ports.NotifyError {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "officer notification",
		"kind", n.Kind,
		"title", n.Title,
		"description", n.Description,
		"request_id", requestcontext.RequestID(ctx),
		"officer_id", requestcontext.OfficerID(ctx),
	)
}

// Collector accumulates notifications raised while handling one request.
type Collector struct {
	mu    sync.Mutex
	items []ports.Notification
}

type collectorKey struct{}

// WithCollector attaches a fresh collector to ctx.
func WithCollector(ctx context.Context) (context.Context, *Collector) {
	c := &Collector{}
	return context.WithValue(ctx, collectorKey{}, c), c
}

// CollectorFrom returns the collector attached to ctx, if any.
func CollectorFrom(ctx context.Context) (*Collector, bool) {
	c, ok := ctx.Value(collectorKey{}).(*Collector)
	return c, ok
}

func (c *Collector) Add(n ports.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, n)
}

// Items returns the notifications collected so far, oldest first.
func (c *Collector) Items() []ports.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		return []ports.Notification{}
	}
	return slices.Clone(c.items)
}

// ContextSink delivers to the collector carried in ctx and drops the
// notification when there is none.
type ContextSink struct{}

func (ContextSink) Notify(ctx context.Context, n ports.Notification) {
	if c, ok := CollectorFrom(ctx); ok {
		c.Add(n)
	}
}

// Fanout delivers each notification to every sink in order.
type Fanout []ports.Notifier

func (f Fanout) Notify(ctx context.Context, n ports.Notification) {
	for _, s := range f {
		if s != nil {
			s.Notify(ctx, n)
		}
	}
}
