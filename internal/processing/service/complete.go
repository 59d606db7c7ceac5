package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"checkpoint/internal/processing/engine"
	"checkpoint/internal/processing/models"
	"checkpoint/internal/processing/ports"
	"checkpoint/internal/processing/review"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
	"checkpoint/pkg/platform/audit"
	"checkpoint/pkg/platform/sentinel"
	"checkpoint/pkg/requestcontext"
)

// CompleteTransaction persists the officer's decision. On failure the
// attempt stays in review with everything retained.
func (o *Orchestrator) CompleteTransaction(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
	return o.finish(ctx, attemptID, false)
}

// TransferToDutyManager persists a Manual Review / Pending record. It is
// the only exit from review when the visa is invalid.
func (o *Orchestrator) TransferToDutyManager(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
	return o.finish(ctx, attemptID, true)
}

func (o *Orchestrator) finish(ctx context.Context, attemptID id.AttemptID, escalate bool) (models.Attempt, error) {
	name := "processing.CompleteTransaction"
	var begin engine.Command = engine.BeginCompletion{}
	if escalate {
		name = "processing.TransferToDutyManager"
		begin = engine.BeginTransfer{}
	}
	ctx, span := tracer.Start(ctx, name)
	defer span.End()
	span.SetAttributes(attribute.String("attempt_id", attemptID.String()))

	a, err := o.apply(ctx, attemptID, begin)
	if err != nil {
		return a, err
	}

	outcome, saveErr := o.persist(ctx, a, escalate)
	if saveErr != nil {
		span.RecordError(saveErr)
		span.SetStatus(codes.Error, "save failed")
		o.logger.ErrorContext(ctx, "failed to save transaction",
			"attempt_id", attemptID,
			"escalated", escalate,
			"request_id", requestcontext.RequestID(ctx),
			"error", saveErr,
		)
		next, stale, err := o.applyReply(ctx, attemptID, engine.SaveFailed{Generation: a.Generation})
		if err != nil || stale {
			return next, err
		}
		o.notify(ctx, ports.NotifyError, "Transaction not saved", describe(saveErr))
		if dErrors.Is(saveErr, dErrors.CodeValidation) {
			return next, saveErr
		}
		return next, dErrors.Wrap(saveErr, dErrors.CodeSaveFailed, "transaction could not be saved")
	}

	next, stale, err := o.applyReply(ctx, attemptID, engine.SaveSucceeded{Generation: a.Generation, Outcome: outcome})
	if err != nil || stale {
		return next, err
	}
	o.metrics.IncOutcome(string(outcome.Decision), string(outcome.Status))
	span.SetAttributes(
		attribute.String("transaction_id", outcome.TransactionID.String()),
		attribute.String("decision", string(outcome.Decision)),
	)
	o.logger.InfoContext(ctx, "transaction saved",
		"attempt_id", attemptID,
		"transaction_id", outcome.TransactionID,
		"decision", outcome.Decision,
		"status", outcome.Status,
		"escalated", escalate,
		"request_id", requestcontext.RequestID(ctx),
	)
	if escalate {
		o.notify(ctx, ports.NotifySuccess, "Transferred to duty manager", "The transaction is pending manual review.")
	} else {
		o.notify(ctx, ports.NotifySuccess, "Transaction completed", fmt.Sprintf("Passenger %s.", strings.ToLower(string(outcome.Decision))))
	}
	return next, nil
}

// persist stores the attachments, then writes the record, the passenger and
// the compliance event in one transaction.
func (o *Orchestrator) persist(ctx context.Context, a models.Attempt, escalate bool) (models.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Save)
	defer cancel()
	o.metrics.CallStarted()
	defer o.metrics.CallFinished()
	start := time.Now()

	outcome, err := o.persistRecord(ctx, a, escalate)
	o.metrics.ObserveDependency("save", callResult(ctx, err), time.Since(start))
	return outcome, err
}

func (o *Orchestrator) persistRecord(ctx context.Context, a models.Attempt, escalate bool) (models.Outcome, error) {
	attachments, err := o.storeAttachments(ctx, a.Captures)
	if err != nil {
		return models.Outcome{}, err
	}
	imageRefs := make([]string, 0, len(attachments))
	for _, ref := range attachments {
		if ref.Kind.IsBiometric() {
			imageRefs = append(imageRefs, ref.Ref)
		}
	}

	var passenger models.Passenger
	if escalate {
		passenger, err = review.EscalationPassenger(a, imageRefs, o.newPassengerID)
	} else {
		passenger, err = review.ResolvePassenger(a, imageRefs, o.newPassengerID)
	}
	if err != nil {
		return models.Outcome{}, err
	}

	in := review.RecordInput{
		TransactionID: o.newTransactionID(),
		Passenger:     passenger,
		Attachments:   attachments,
		Now:           o.now(),
	}
	record := review.BuildRecord(a, in)
	action := audit.EventTransactionCompleted
	if escalate {
		record = review.BuildEscalationRecord(a, in)
		action = audit.EventTransactionEscalated
	}

	var txID id.TransactionID
	err = o.tx.RunInTx(ctx, func(ctx context.Context) error {
		saved, err := o.records.SaveTransaction(ctx, models.Submission{Record: record, Passenger: passenger})
		txID = saved
		if err != nil {
			return err
		}
		return o.emitCompliance(ctx, record, action)
	})
	if errors.Is(err, sentinel.ErrConflict) && !txID.IsNil() {
		// This generation is already recorded together with its compliance
		// event. Report what was stored, not what this request built.
		return o.storedOutcome(ctx, txID)
	}
	if err != nil {
		return models.Outcome{}, err
	}
	return models.Outcome{
		TransactionID: txID,
		Decision:      record.Decision,
		Status:        record.Status,
		Escalated:     escalate,
	}, nil
}

func (o *Orchestrator) storedOutcome(ctx context.Context, txID id.TransactionID) (models.Outcome, error) {
	stored, err := o.records.FindByID(ctx, txID)
	if err != nil {
		return models.Outcome{}, fmt.Errorf("load recorded transaction %s: %w", txID, err)
	}
	o.logger.InfoContext(ctx, "attempt generation already recorded",
		"attempt_id", stored.AttemptID,
		"generation", stored.Generation,
		"transaction_id", txID,
	)
	return models.Outcome{
		TransactionID: stored.ID,
		Decision:      stored.Decision,
		Status:        stored.Status,
		Escalated:     stored.Decision == models.DecisionManualReview,
	}, nil
}

// storeAttachments uploads every capture concurrently. Results keep the
// order of CaptureBuffer.Kinds.
func (o *Orchestrator) storeAttachments(ctx context.Context, captures models.CaptureBuffer) ([]models.AttachmentRef, error) {
	kinds := captures.Kinds()
	refs := make([]models.AttachmentRef, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		data := captures[kind]
		g.Go(func() error {
			ref, err := o.attachments.Put(gctx, kind, data)
			if err != nil {
				return fmt.Errorf("store %s attachment: %w", kind, err)
			}
			refs[i] = models.AttachmentRef{Kind: kind, Ref: ref}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return refs, nil
}

func (o *Orchestrator) emitCompliance(ctx context.Context, record models.TransactionRecord, action audit.AuditEvent) error {
	if o.audit == nil {
		return nil
	}
	return o.audit.Emit(ctx, audit.ComplianceEvent{
		Timestamp:     record.CreatedAt,
		OfficerID:     record.OfficerID,
		Subject:       record.ID.String(),
		Action:        string(action),
		Decision:      string(record.Decision),
		Status:        string(record.Status),
		SubjectIDHash: hashDocument(record.Identity),
		RequestID:     requestcontext.RequestID(ctx),
		Workstation:   requestcontext.Workstation(ctx),
	})
}

// hashDocument keys the audit trail on the travel document without storing
// its number.
func hashDocument(identity models.ExtractedIdentity) string {
	if identity.DocumentNumber == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(identity.IssuingCountry + ":" + identity.DocumentNumber))
	return hex.EncodeToString(sum[:])
}
