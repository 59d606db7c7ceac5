// Package worker relays committed outbox entries to Kafka. Entries are marked
// published only after the broker acknowledges them, so delivery is
// at-least-once and consumers dedupe on the payload ID.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"checkpoint/internal/platform/kafka"
	"checkpoint/pkg/platform/audit/store/postgres"
)

// Outbox is the relay's view of the outbox table.
type Outbox interface {
	FetchPending(ctx context.Context, limit int) ([]postgres.Entry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// Sink publishes relayed entries.
type Sink interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// Worker polls the outbox and publishes pending entries in batches.
type Worker struct {
	outbox   Outbox
	sink     Sink
	logger   *slog.Logger
	interval time.Duration
	batch    int
}

// Option configures the Worker.
type Option func(*Worker)

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batch = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func NewWorker(outbox Outbox, sink Sink, opts ...Option) *Worker {
	w := &Worker{
		outbox:   outbox,
		sink:     sink,
		logger:   slog.Default(),
		interval: 2 * time.Second,
		batch:    100,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run relays until ctx is cancelled. Relay errors are logged and retried on
// the next tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				n, err := w.RelayOnce(ctx)
				if err != nil {
					w.logger.WarnContext(ctx, "outbox relay failed", "error", err)
					break
				}
				if n < w.batch {
					break
				}
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many entries it relayed.
func (w *Worker) RelayOnce(ctx context.Context) (int, error) {
	entries, err := w.outbox.FetchPending(ctx, w.batch)
	if err != nil || len(entries) == 0 {
		return 0, err
	}

	msgs := make([]kafka.Message, len(entries))
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		msgs[i] = kafka.Message{
			Key:   e.AggregateID,
			Value: e.Payload,
			Headers: map[string]string{
				"event_type": e.EventType,
				"category":   e.Category,
				"event_id":   e.ID.String(),
			},
		}
		ids[i] = e.ID
	}

	if err := w.sink.Publish(ctx, msgs...); err != nil {
		return 0, err
	}
	if err := w.outbox.MarkPublished(ctx, ids); err != nil {
		return 0, err
	}
	w.logger.DebugContext(ctx, "outbox relayed", "count", len(entries))
	return len(entries), nil
}
