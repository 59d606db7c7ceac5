// Package security provides a non-blocking publisher for access failures
// (rejected tokens, capability denials). Emit only enqueues; Run flushes the
// buffer to the audit store in the background.
package security

import (
	"context"
	"log/slog"
	"time"

	audit "checkpoint/pkg/platform/audit"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
)

// Publisher buffers security events and flushes them periodically.
type Publisher struct {
	store    audit.Store
	buffer   *RingBuffer
	logger   *slog.Logger
	interval time.Duration
	batch    int
	now      func() time.Time
}

// Option configures the Publisher.
type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithBufferSize(n int) Option {
	return func(p *Publisher) {
		p.buffer = NewRingBuffer(n)
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:    store,
		buffer:   NewRingBuffer(0),
		logger:   slog.Default(),
		interval: defaultFlushInterval,
		batch:    defaultBatchSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit enqueues the event and returns immediately.
func (p *Publisher) Emit(_ context.Context, event audit.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	p.buffer.Enqueue(event)
}

// Run flushes on every tick until ctx is done, then drains what is left.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Flush(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			p.Flush(ctx)
		}
	}
}

// Flush writes every buffered event. Failed events are dropped and logged.
func (p *Publisher) Flush(ctx context.Context) {
	for {
		batch := p.buffer.DequeueBatch(p.batch)
		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			if err := p.store.Append(ctx, event.ToEvent()); err != nil {
				p.logger.WarnContext(ctx, "security audit dropped",
					"action", event.Action,
					"subject", event.Subject,
					"error", err,
				)
			}
		}
	}
}
