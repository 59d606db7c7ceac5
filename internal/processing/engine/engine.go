// Package engine is the state machine of the live processing flow.
//
// Apply is a pure reducer: it takes an attempt and a command and returns the
// next attempt or a guard error. It never performs I/O. Calls to gateways and
// stores happen in the service, which feeds their results back in as reply
// commands tagged with the attempt generation they were issued under.
package engine

import (
	"fmt"
	"slices"

	"checkpoint/internal/processing/models"
	"checkpoint/internal/processing/review"
	"checkpoint/internal/processing/workflow"
	dErrors "checkpoint/pkg/domain-errors"
)

// ErrStaleReply is returned when a reply arrives for an earlier generation
// of the attempt (it was cancelled or reset while the call was pending).
var ErrStaleReply = dErrors.New(dErrors.CodeConflict, "stale reply discarded")

// Apply returns the attempt after cmd, or an error leaving the input
// untouched.
func Apply(a models.Attempt, cmd Command) (models.Attempt, error) {
	next := a.Clone()

	switch c := cmd.(type) {
	case ExtractionSucceeded:
		if err := expectReply(next, c.Generation, models.OpExtraction); err != nil {
			return a, err
		}
		identity := c.Identity
		next.Identity = &identity
		next.InFlight = models.OpNone
		next.Stage = models.StageConfirmNewIdentity
		return next, nil

	case ExtractionFailed:
		if err := expectReply(next, c.Generation, models.OpExtraction); err != nil {
			return a, err
		}
		next.InFlight = models.OpNone
		return next, nil

	case AnalysisSucceeded:
		if err := expectReply(next, c.Generation, models.OpAnalysis); err != nil {
			return a, err
		}
		applyAssessment(&next, c.Assessment)
		next.InFlight = models.OpNone
		next.Stage = models.StageReview
		return next, nil

	case AnalysisFailed:
		if err := expectReply(next, c.Generation, models.OpAnalysis); err != nil {
			return a, err
		}
		next.InFlight = models.OpNone
		next.Stage = models.StageCaptureBiometrics
		return next, nil

	case SaveSucceeded:
		if err := expectReply(next, c.Generation, models.OpSave); err != nil {
			return a, err
		}
		if !c.Outcome.Escalated {
			tracker := workflow.New(next.Steps)
			tracker.UpdateStepStatus(models.OfficerReviewStepID, models.StepCompleted)
			next.Steps = tracker.Steps()
		}
		outcome := c.Outcome
		next.Outcome = &outcome
		next.InFlight = models.OpNone
		next.Stage = models.StageCompleted
		return next, nil

	case SaveFailed:
		if err := expectReply(next, c.Generation, models.OpSave); err != nil {
			return a, err
		}
		next.InFlight = models.OpNone
		return next, nil

	case CancelAttempt:
		if next.Stage == models.StageCompleted {
			return a, dErrors.New(dErrors.CodeValidation, "a completed attempt cannot be cancelled, reset it instead")
		}
		if next.InFlight == models.OpSave {
			return a, inFlightError(next, cmd)
		}
		return fresh(next), nil
	}

	// Every remaining command is an officer command, refused while a call is
	// pending.
	if next.InFlight != models.OpNone {
		return a, inFlightError(next, cmd)
	}

	switch c := cmd.(type) {
	case SubmitDocumentScan:
		if err := expectStage(next, cmd, models.StageUploadDocument); err != nil {
			return a, err
		}
		if len(c.Image) == 0 {
			return a, dErrors.New(dErrors.CodeValidation, "document scan image is required")
		}
		next.Captures.Set(models.CaptureDocumentScan, c.Image)
		next.InFlight = models.OpExtraction

	case ConfirmIdentity:
		if err := expectStage(next, cmd, models.StageConfirmNewIdentity); err != nil {
			return a, err
		}
		if !next.Captures.Has(models.CaptureDocumentScan) {
			return a, dErrors.New(dErrors.CodeValidation, "document scan is required before confirmation")
		}
		next.Stage = models.StageCaptureBiometrics

	case BackToConfirm:
		if err := expectStage(next, cmd, models.StageCaptureBiometrics); err != nil {
			return a, err
		}
		next.Stage = models.StageConfirmNewIdentity

	case CaptureBiometric:
		if err := CheckCapture(next, c.Kind); err != nil {
			return a, err
		}
		if len(c.Image) == 0 {
			return a, dErrors.New(dErrors.CodeCameraUnavailable, "captured frame is empty")
		}
		next.Captures.Set(c.Kind, c.Image)

	case ClearBiometric:
		if err := CheckCapture(next, c.Kind); err != nil {
			return a, err
		}
		delete(next.Captures, c.Kind)

	case StartAnalysis:
		if err := expectStage(next, cmd, models.StageCaptureBiometrics); err != nil {
			return a, err
		}
		if missing := missingForAnalysis(next.Captures); len(missing) > 0 {
			return a, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("captures required before analysis: %v", missing))
		}
		next.Stage = models.StageAnalyzing
		next.InFlight = models.OpAnalysis

	case AcknowledgeAlert:
		if err := expectStage(next, cmd, models.StageReview); err != nil {
			return a, err
		}
		if err := review.CheckAcknowledge(next, c.AlertID); err != nil {
			return a, err
		}
		// Repeating an acknowledgment changes nothing, so an explicit
		// rejection made after the flip stands.
		if next.Acknowledged[c.AlertID] {
			return a, nil
		}
		next.Acknowledged[c.AlertID] = true
		next.FinalDecision = review.AutoFlip(next.Assessment, next.Acknowledged, next.FinalDecision)

	case SetFinalDecision:
		if err := expectStage(next, cmd, models.StageReview); err != nil {
			return a, err
		}
		if c.Decision != models.DecisionApproved && c.Decision != models.DecisionRejected {
			return a, dErrors.New(dErrors.CodeValidation, "decision must be Approved or Rejected")
		}
		next.FinalDecision = c.Decision

	case SetOfficerNotes:
		if err := expectStage(next, cmd, models.StageReview); err != nil {
			return a, err
		}
		next.OfficerNotes = c.Notes

	case SetMergeChoice:
		if err := expectStage(next, cmd, models.StageReview); err != nil {
			return a, err
		}
		if next.Matched == nil {
			return a, dErrors.New(dErrors.CodeValidation, "merge choice applies only to an existing passenger")
		}
		if c.Choice != models.MergeUpdateAll && c.Choice != models.MergeUpdateImages {
			return a, dErrors.New(dErrors.CodeValidation, "merge choice must be update_all or update_images")
		}
		next.MergeChoice = c.Choice

	case BeginCompletion:
		if err := expectStage(next, cmd, models.StageReview); err != nil {
			return a, err
		}
		if err := review.CheckCompletion(next); err != nil {
			return a, err
		}
		next.InFlight = models.OpSave

	case BeginTransfer:
		if err := expectStage(next, cmd, models.StageReview); err != nil {
			return a, err
		}
		if err := review.CheckTransfer(next); err != nil {
			return a, err
		}
		next.InFlight = models.OpSave

	case BackToCapture:
		if err := expectStage(next, cmd, models.StageReview); err != nil {
			return a, err
		}
		next.Acknowledged = map[string]bool{}
		next.Stage = models.StageCaptureBiometrics

	case ResetAttempt:
		if err := expectStage(next, cmd, models.StageCompleted); err != nil {
			return a, err
		}
		return fresh(next), nil

	default:
		return a, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown command %T", cmd))
	}

	return next, nil
}

// CheckCapture guards capture and clear for kind. The service calls it
// before acquiring a frame source so a misplaced capture never opens the
// camera.
func CheckCapture(a models.Attempt, kind models.CaptureKind) error {
	if a.InFlight != models.OpNone {
		return inFlightError(a, CaptureBiometric{Kind: kind})
	}
	if err := expectStage(a, CaptureBiometric{Kind: kind}, models.StageCaptureBiometrics); err != nil {
		return err
	}
	if !kind.IsBiometric() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%q is not a biometric capture kind", kind))
	}
	return nil
}

func applyAssessment(a *models.Attempt, as models.Assessment) {
	result := as.Result
	result.Alerts = slices.Clone(as.Result.Alerts)
	a.Assessment = &result

	a.Matched = nil
	if as.Matched != nil {
		m := *as.Matched
		m.ImageRefs = slices.Clone(as.Matched.ImageRefs)
		a.Matched = &m
	}
	a.MergeChoice = models.MergeNone

	identity := as.Identity
	a.Identity = &identity
	a.Visa = as.Visa
	a.Steps = workflow.New(as.Steps).Steps()

	a.Trip = nil
	if as.Trip != nil {
		t := *as.Trip
		a.Trip = &t
	}

	a.Acknowledged = map[string]bool{}
	a.FinalDecision = review.InitialDecision(result)
}

func missingForAnalysis(b models.CaptureBuffer) []models.CaptureKind {
	var missing []models.CaptureKind
	for _, k := range []models.CaptureKind{models.CaptureDocumentScan, models.CaptureFace} {
		if !b.Has(k) {
			missing = append(missing, k)
		}
	}
	return missing
}

// fresh discards every attempt-scoped field and bumps the generation so
// replies to calls issued before the reset are dropped.
func fresh(a models.Attempt) models.Attempt {
	out := models.NewAttempt(a.ID, a.OfficerID, a.CreatedAt)
	out.Generation = a.Generation + 1
	out.UpdatedAt = a.UpdatedAt
	return out
}

func expectStage(a models.Attempt, cmd Command, want models.Stage) error {
	if a.Stage == want {
		return nil
	}
	return dErrors.New(dErrors.CodeValidation,
		fmt.Sprintf("%s requires stage %s, attempt is in %s", cmd.Name(), want, a.Stage))
}

func expectReply(a models.Attempt, generation int, op models.Operation) error {
	if generation != a.Generation || a.InFlight != op {
		return ErrStaleReply
	}
	return nil
}

func inFlightError(a models.Attempt, cmd Command) error {
	return dErrors.New(dErrors.CodeConflict,
		fmt.Sprintf("%s refused: %s is in progress", cmd.Name(), a.InFlight))
}
