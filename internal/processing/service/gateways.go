package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"checkpoint/internal/processing/engine"
	"checkpoint/internal/processing/models"
	"checkpoint/internal/processing/ports"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
	"checkpoint/pkg/platform/audit"
	"checkpoint/pkg/requestcontext"
)

// SubmitDocumentScan stores the scan and extracts its identity. On failure
// the attempt stays in the upload stage with the scan kept.
func (o *Orchestrator) SubmitDocumentScan(ctx context.Context, attemptID id.AttemptID, image []byte) (models.Attempt, error) {
	ctx, span := tracer.Start(ctx, "processing.SubmitDocumentScan")
	defer span.End()
	span.SetAttributes(attribute.String("attempt_id", attemptID.String()))

	a, err := o.apply(ctx, attemptID, engine.SubmitDocumentScan{Image: image})
	if err != nil {
		return a, err
	}
	generation := a.Generation

	identity, callErr := o.extract(ctx, image)
	if callErr != nil {
		span.RecordError(callErr)
		span.SetStatus(codes.Error, "extraction failed")
		o.logger.WarnContext(ctx, "document extraction failed",
			"attempt_id", attemptID,
			"request_id", requestcontext.RequestID(ctx),
			"error", callErr,
		)
		next, stale, err := o.applyReply(ctx, attemptID, engine.ExtractionFailed{Generation: generation})
		if err != nil || stale {
			return next, err
		}
		o.track(ctx, next, audit.EventExtractionFailed, callErr.Error())
		o.notify(ctx, ports.NotifyError, "Document could not be read", "Rescan the document or try again.")
		return next, dErrors.Wrap(callErr, dErrors.CodeExtractionFailed, "document extraction failed")
	}

	next, stale, err := o.applyReply(ctx, attemptID, engine.ExtractionSucceeded{Generation: generation, Identity: identity})
	if err != nil || stale {
		return next, err
	}
	o.notify(ctx, ports.NotifySuccess, "Document read", "Confirm the extracted identity.")
	return next, nil
}

// StartAnalysis runs the combined identity and risk assessment. On failure
// the attempt returns to capture with its buffers intact.
func (o *Orchestrator) StartAnalysis(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
	ctx, span := tracer.Start(ctx, "processing.StartAnalysis")
	defer span.End()
	span.SetAttributes(attribute.String("attempt_id", attemptID.String()))

	a, err := o.apply(ctx, attemptID, engine.StartAnalysis{})
	if err != nil {
		return a, err
	}
	generation := a.Generation

	assessment, callErr := o.assess(ctx, ports.AssessmentRequest{
		Module:       o.module,
		DocumentScan: a.Captures[models.CaptureDocumentScan],
		LiveFace:     a.Captures[models.CaptureFace],
	})
	if callErr != nil {
		span.RecordError(callErr)
		span.SetStatus(codes.Error, "analysis failed")
		o.logger.WarnContext(ctx, "transaction analysis failed",
			"attempt_id", attemptID,
			"request_id", requestcontext.RequestID(ctx),
			"error", callErr,
		)
		next, stale, err := o.applyReply(ctx, attemptID, engine.AnalysisFailed{Generation: generation})
		if err != nil || stale {
			return next, err
		}
		o.track(ctx, next, audit.EventAnalysisFailed, callErr.Error())
		o.notify(ctx, ports.NotifyError, "Analysis failed", "Captures were kept. Retry the analysis or retake a capture.")
		return next, dErrors.Wrap(callErr, dErrors.CodeAnalysisFailed, "transaction analysis failed")
	}

	next, stale, err := o.applyReply(ctx, attemptID, engine.AnalysisSucceeded{Generation: generation, Assessment: *assessment})
	if err != nil || stale {
		return next, err
	}
	span.SetAttributes(
		attribute.Int("risk_score", assessment.Result.RiskScore),
		attribute.Int("alerts", len(assessment.Result.Alerts)),
	)
	if next.Visa == models.VisaInvalid {
		o.notify(ctx, ports.NotifyError, "Visa invalid", "This passenger cannot be cleared here. Transfer to the duty manager.")
	} else {
		o.notify(ctx, ports.NotifySuccess, "Analysis complete", fmt.Sprintf("Risk score %d with %d alert(s).",
			assessment.Result.RiskScore, len(assessment.Result.Alerts)))
	}
	return next, nil
}

func (o *Orchestrator) extract(ctx context.Context, image []byte) (models.ExtractedIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Extraction)
	defer cancel()
	o.metrics.CallStarted()
	defer o.metrics.CallFinished()

	start := time.Now()
	identity, err := o.extractor.ExtractDocument(ctx, image)
	if err == nil && identity.IsEmpty() {
		err = errors.New("extraction returned no identity fields")
	}
	o.metrics.ObserveDependency("extraction", callResult(ctx, err), time.Since(start))
	return identity, err
}

func (o *Orchestrator) assess(ctx context.Context, req ports.AssessmentRequest) (*models.Assessment, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Analysis)
	defer cancel()
	o.metrics.CallStarted()
	defer o.metrics.CallFinished()

	start := time.Now()
	assessment, err := o.assessor.AssessTransaction(ctx, req)
	if err == nil && assessment == nil {
		err = errors.New("assessment returned no result")
	}
	o.metrics.ObserveDependency("assessment", callResult(ctx, err), time.Since(start))
	return assessment, err
}

func callResult(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
