// Package ops provides a best-effort, sampled publisher for attempt lifecycle
// events. Tracking never fails the caller.
package ops

import (
	"context"
	"log/slog"
	"time"

	audit "checkpoint/pkg/platform/audit"
	"checkpoint/pkg/platform/circuit"
)

// Tracker emits ops events through a sampler and a circuit breaker so an
// unhealthy audit store is skipped instead of slowing down officers.
type Tracker struct {
	store   audit.Store
	sampler *Sampler
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures the Tracker.
type Option func(*Tracker)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

func WithSampler(s *Sampler) Option {
	return func(t *Tracker) {
		t.sampler = s
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(t *Tracker) {
		t.breaker = b
	}
}

// New creates a tracker that keeps every event until configured otherwise.
func New(store audit.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:   store,
		sampler: NewSampler(1.0),
		breaker: circuit.New("audit-ops", circuit.WithCooldown(time.Minute)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track records an ops event. Errors are logged and counted, never returned.
func (t *Tracker) Track(ctx context.Context, event audit.OpsEvent) {
	if !t.sampler.ShouldSample(event.Action) {
		t.metrics.IncSampled()
		return
	}
	if !t.breaker.Allow() {
		t.metrics.IncCircuitBreakerDropped()
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = t.now()
	}

	if err := t.store.Append(ctx, event.ToEvent()); err != nil {
		_, change := t.breaker.RecordFailure()
		t.metrics.IncPersistFailures()
		if change.Opened {
			t.metrics.SetCircuitBreakerState(true)
		}
		if t.logger != nil {
			t.logger.WarnContext(ctx, "ops audit dropped",
				"action", event.Action,
				"attempt_id", event.Subject,
				"error", err,
			)
		}
		return
	}

	_, change := t.breaker.RecordSuccess()
	if change.Closed {
		t.metrics.SetCircuitBreakerState(false)
	}
	t.metrics.IncTracked()
}
