// Package service hosts the transaction orchestrator: it loads an attempt,
// runs officer commands through the engine, drives the gateways, the record
// store and the attachment store, and feeds their results back in as reply
// commands.
package service

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"checkpoint/internal/processing/engine"
	"checkpoint/internal/processing/metrics"
	"checkpoint/internal/processing/models"
	"checkpoint/internal/processing/ports"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
	"checkpoint/pkg/platform/audit"
	"checkpoint/pkg/platform/sentinel"
	"checkpoint/pkg/platform/tx"
	"checkpoint/pkg/requestcontext"
)

var tracer = otel.Tracer("checkpoint/processing/service")

// DefaultModule is the assessment module requested for live processing.
const DefaultModule = "live_processing"

// Timeouts bound every external call. Expiry surfaces as the failure of the
// corresponding step.
type Timeouts struct {
	Extraction time.Duration
	Analysis   time.Duration
	Save       time.Duration
}

// DefaultTimeouts are used for any zero field passed to WithTimeouts.
var DefaultTimeouts = Timeouts{
	Extraction: 15 * time.Second,
	Analysis:   45 * time.Second,
	Save:       10 * time.Second,
}

// Orchestrator runs the live processing flow for every officer attempt.
type Orchestrator struct {
	attempts    ports.AttemptStore
	extractor   ports.DocumentExtractor
	assessor    ports.RiskAssessor
	records     ports.TransactionStore
	attachments ports.AttachmentStore

	audit    ports.AuditPublisher
	tx       ports.TxRunner
	notifier ports.Notifier
	ops      ports.OpsTracker
	logger   *slog.Logger
	metrics  *metrics.Metrics

	timeouts         Timeouts
	module           string
	now              func() time.Time
	newAttemptID     func() id.AttemptID
	newTransactionID func() id.TransactionID
	newPassengerID   func() id.PassengerID

	locks attemptLocks
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithAuditPublisher sets the fail-closed compliance publisher.
func WithAuditPublisher(p ports.AuditPublisher) Option {
	return func(o *Orchestrator) {
		o.audit = p
	}
}

// WithTxRunner sets the transaction boundary records and compliance events
// are written in.
func WithTxRunner(r ports.TxRunner) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.tx = r
		}
	}
}

func WithNotifier(n ports.Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

func WithOpsTracker(t ports.OpsTracker) Option {
	return func(o *Orchestrator) {
		o.ops = t
	}
}

// WithTimeouts overrides the non-zero fields of DefaultTimeouts.
func WithTimeouts(t Timeouts) Option {
	return func(o *Orchestrator) {
		if t.Extraction > 0 {
			o.timeouts.Extraction = t.Extraction
		}
		if t.Analysis > 0 {
			o.timeouts.Analysis = t.Analysis
		}
		if t.Save > 0 {
			o.timeouts.Save = t.Save
		}
	}
}

// WithModule sets the assessment module name.
func WithModule(module string) Option {
	return func(o *Orchestrator) {
		if module != "" {
			o.module = module
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerators replaces the UUID generators; nil arguments keep the default.
func WithIDGenerators(attempt func() id.AttemptID, transaction func() id.TransactionID, passenger func() id.PassengerID) Option {
	return func(o *Orchestrator) {
		if attempt != nil {
			o.newAttemptID = attempt
		}
		if transaction != nil {
			o.newTransactionID = transaction
		}
		if passenger != nil {
			o.newPassengerID = passenger
		}
	}
}

func New(
	attempts ports.AttemptStore,
	extractor ports.DocumentExtractor,
	assessor ports.RiskAssessor,
	records ports.TransactionStore,
	attachments ports.AttachmentStore,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		attempts:         attempts,
		extractor:        extractor,
		assessor:         assessor,
		records:          records,
		attachments:      attachments,
		tx:               tx.MemoryRunner{},
		notifier:         discardNotifier{},
		logger:           slog.New(slog.DiscardHandler),
		timeouts:         DefaultTimeouts,
		module:           DefaultModule,
		now:              time.Now,
		newAttemptID:     id.NewAttemptID,
		newTransactionID: id.NewTransactionID,
		newPassengerID:   id.NewPassengerID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// StartAttempt creates an empty attempt in the upload stage for officerID.
func (o *Orchestrator) StartAttempt(ctx context.Context, officerID id.OfficerID) (models.Attempt, error) {
	if officerID.IsNil() {
		return models.Attempt{}, dErrors.New(dErrors.CodeUnauthorized, "officer identity is required")
	}
	a := models.NewAttempt(o.newAttemptID(), officerID, o.now())
	if err := o.attempts.Save(ctx, a); err != nil {
		return models.Attempt{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to start attempt")
	}
	o.metrics.IncStage(string(a.Stage))
	o.track(ctx, a, audit.EventAttemptStarted, "")
	o.logger.InfoContext(ctx, "attempt started",
		"attempt_id", a.ID,
		"officer_id", officerID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return a, nil
}

// View projects the attempt onto what the officer sees.
func (o *Orchestrator) View(ctx context.Context, attemptID id.AttemptID) (engine.View, error) {
	a, err := o.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	return engine.CurrentView(a), nil
}

// Attempt returns the current attempt state.
func (o *Orchestrator) Attempt(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
	return o.load(ctx, attemptID)
}

func (o *Orchestrator) ConfirmIdentity(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
	return o.apply(ctx, attemptID, engine.ConfirmIdentity{})
}

func (o *Orchestrator) BackToConfirm(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
	return o.apply(ctx, attemptID, engine.BackToConfirm{})
}

// CancelAttempt discards every attempt-scoped field. Nothing is persisted.
func (o *Orchestrator) CancelAttempt(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
	a, err := o.apply(ctx, attemptID, engine.CancelAttempt{})
	if err != nil {
		return a, err
	}
	o.track(ctx, a, audit.EventAttemptCancelled, "")
	o.notify(ctx, ports.NotifyInfo, "Attempt cancelled", "All captured data for this passenger was discarded.")
	return a, nil
}

func (o *Orchestrator) ClearBiometric(ctx context.Context, attemptID id.AttemptID, kind models.CaptureKind) (models.Attempt, error) {
	return o.apply(ctx, attemptID, engine.ClearBiometric{Kind: kind})
}

func (o *Orchestrator) AcknowledgeAlert(ctx context.Context, attemptID id.AttemptID, alertID string) (models.Attempt, error) {
	return o.apply(ctx, attemptID, engine.AcknowledgeAlert{AlertID: alertID})
}

func (o *Orchestrator) SetFinalDecision(ctx context.Context, attemptID id.AttemptID, decision models.Decision) (models.Attempt, error) {
	return o.apply(ctx, attemptID, engine.SetFinalDecision{Decision: decision})
}

func (o *Orchestrator) SetOfficerNotes(ctx context.Context, attemptID id.AttemptID, notes string) (models.Attempt, error) {
	return o.apply(ctx, attemptID, engine.SetOfficerNotes{Notes: notes})
}

func (o *Orchestrator) SetMergeChoice(ctx context.Context, attemptID id.AttemptID, choice models.MergeChoice) (models.Attempt, error) {
	return o.apply(ctx, attemptID, engine.SetMergeChoice{Choice: choice})
}

// BackToCapture returns to capture for a retake. Acknowledgments are cleared.
func (o *Orchestrator) BackToCapture(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
	return o.apply(ctx, attemptID, engine.BackToCapture{})
}

// ResetAttempt starts the next passenger after a completed attempt.
func (o *Orchestrator) ResetAttempt(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
	a, err := o.apply(ctx, attemptID, engine.ResetAttempt{})
	if err != nil {
		return a, err
	}
	o.track(ctx, a, audit.EventAttemptStarted, "reset")
	return a, nil
}

// apply runs one officer command under the attempt lock.
func (o *Orchestrator) apply(ctx context.Context, attemptID id.AttemptID, cmd engine.Command) (models.Attempt, error) {
	unlock := o.locks.lock(attemptID)
	defer unlock()

	a, err := o.load(ctx, attemptID)
	if err != nil {
		return models.Attempt{}, err
	}
	next, err := engine.Apply(a, cmd)
	if err != nil {
		o.rejected(ctx, a, cmd, err)
		return a, err
	}
	if err := o.save(ctx, a, next); err != nil {
		return a, err
	}
	return next, nil
}

// applyReply feeds a gateway or store result back in. It ignores
// cancellation of ctx so a disconnected client never strands an attempt
// with a pending operation. A stale reply leaves the attempt as it is and
// reports stale=true.
func (o *Orchestrator) applyReply(ctx context.Context, attemptID id.AttemptID, cmd engine.Command) (_ models.Attempt, stale bool, _ error) {
	ctx = context.WithoutCancel(ctx)
	unlock := o.locks.lock(attemptID)
	defer unlock()

	a, err := o.attempts.Get(ctx, attemptID)
	if err != nil {
		return models.Attempt{}, false, o.loadError(attemptID, err)
	}
	next, err := engine.Apply(a, cmd)
	if errors.Is(err, engine.ErrStaleReply) {
		o.logger.InfoContext(ctx, "stale reply discarded",
			"attempt_id", attemptID,
			"reply", cmd.Name(),
			"generation", a.Generation,
			"request_id", requestcontext.RequestID(ctx),
		)
		o.notify(ctx, ports.NotifyInfo, "Result discarded", "The attempt was reset before the result arrived.")
		return a, true, nil
	}
	if err != nil {
		return a, false, err
	}
	if err := o.save(ctx, a, next); err != nil {
		return a, false, err
	}
	return next, false, nil
}

func (o *Orchestrator) save(ctx context.Context, prev, next models.Attempt) error {
	next.UpdatedAt = o.now()
	if err := o.attempts.Save(ctx, next); err != nil {
		o.logger.ErrorContext(ctx, "failed to save attempt",
			"attempt_id", next.ID,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save attempt")
	}
	if next.Stage != prev.Stage || next.Generation != prev.Generation {
		o.metrics.IncStage(string(next.Stage))
	}
	return nil
}

// load fetches an attempt and checks it belongs to the calling officer.
func (o *Orchestrator) load(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
	a, err := o.attempts.Get(ctx, attemptID)
	if err != nil {
		return models.Attempt{}, o.loadError(attemptID, err)
	}
	if caller := requestcontext.OfficerID(ctx); !caller.IsNil() && caller != a.OfficerID {
		return models.Attempt{}, dErrors.New(dErrors.CodeForbidden, "attempt belongs to another officer")
	}
	return a, nil
}

func (o *Orchestrator) loadError(attemptID id.AttemptID, err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "attempt not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load attempt "+attemptID.String())
}

// rejected reports a refused command to the officer.
func (o *Orchestrator) rejected(ctx context.Context, a models.Attempt, cmd engine.Command, err error) {
	code := dErrors.CodeOf(err)
	o.metrics.IncGuardRejection(cmd.Name(), string(code))
	o.logger.InfoContext(ctx, "command refused",
		"attempt_id", a.ID,
		"command", cmd.Name(),
		"stage", a.Stage,
		"code", code,
		"error", err,
	)
	o.notify(ctx, ports.NotifyError, "Action not allowed", describe(err))
}

func (o *Orchestrator) notify(ctx context.Context, kind ports.NotificationKind, title, description string) {
	o.notifier.Notify(ctx, ports.Notification{Kind: kind, Title: title, Description: description})
}

func (o *Orchestrator) track(ctx context.Context, a models.Attempt, action audit.AuditEvent, reason string) {
	if o.ops == nil {
		return
	}
	o.ops.Track(ctx, audit.OpsEvent{
		Timestamp: o.now(),
		OfficerID: a.OfficerID,
		Subject:   a.ID.String(),
		Action:    string(action),
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
	})
}

// describe returns the officer-facing message of a coded error.
func describe(err error) string {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "unexpected error"
}

// attemptLocks serializes state transitions per attempt over a fixed set
// of shards.
type attemptLocks struct {
	shards [64]sync.Mutex
}

func (l *attemptLocks) lock(attemptID id.AttemptID) func() {
	h := fnv.New32a()
	_, _ = h.Write(attemptID[:])
	mu := &l.shards[h.Sum32()%uint32(len(l.shards))]
	mu.Lock()
	return mu.Unlock
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, ports.Notification) {}
