package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkpoint/internal/processing/models"
	"checkpoint/internal/processing/review"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
)

var (
	scan = []byte("scan-bytes")
	face = []byte("face-bytes")
	iris = []byte("iris-bytes")

	identity = models.ExtractedIdentity{
		GivenName:      "Ada",
		FamilyName:     "Lovelace",
		DocumentNumber: "P1234567",
		Nationality:    "GBR",
		DateOfBirth:    "1815-12-10",
	}
	expiredVisa = models.Alert{ID: "alert-1-expired-visa", Label: "Expired Visa"}
	watchList   = models.Alert{ID: "alert-2-watch-list-hit", Label: "Watch-list Hit"}
)

func mustApply(t *testing.T, a models.Attempt, cmds ...Command) models.Attempt {
	t.Helper()
	for _, c := range cmds {
		var err error
		a, err = Apply(a, c)
		require.NoError(t, err, "applying %s", c.Name())
	}
	return a
}

func newAttempt() models.Attempt {
	return models.NewAttempt(id.NewAttemptID(), id.OfficerID(uuid.New()), time.Now())
}

// atCapture drives a new attempt to capture_biometrics with a face captured.
func atCapture(t *testing.T) models.Attempt {
	t.Helper()
	a := newAttempt()
	a = mustApply(t, a, SubmitDocumentScan{Image: scan})
	a = mustApply(t, a,
		ExtractionSucceeded{Generation: a.Generation, Identity: identity},
		ConfirmIdentity{},
		CaptureBiometric{Kind: models.CaptureFace, Image: face},
	)
	return a
}

func assessment(visa models.VisaVerdict, alerts ...models.Alert) models.Assessment {
	return models.Assessment{
		Result: models.AssessmentResult{RiskScore: 10, Recommendation: "admit", Alerts: alerts},
		Visa:   visa,
		Steps: []models.WorkflowStep{
			{ID: "document_check", Name: "Document Check", Status: models.StepCompleted},
			{ID: models.OfficerReviewStepID, Name: "Officer Review", Status: models.StepInProgress},
		},
		Identity: identity,
	}
}

// atReview drives a new attempt to review with the given assessment.
func atReview(t *testing.T, as models.Assessment) models.Attempt {
	t.Helper()
	a := mustApply(t, atCapture(t), StartAnalysis{})
	return mustApply(t, a, AnalysisSucceeded{Generation: a.Generation, Assessment: as})
}

func requireCode(t *testing.T, err error, code dErrors.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, dErrors.CodeOf(err), err.Error())
}

func TestDocumentScan(t *testing.T) {
	t.Run("submission stores the scan and waits for extraction", func(t *testing.T) {
		a := mustApply(t, newAttempt(), SubmitDocumentScan{Image: scan})

		assert.Equal(t, models.StageUploadDocument, a.Stage)
		assert.Equal(t, models.OpExtraction, a.InFlight)
		assert.Equal(t, scan, a.Captures[models.CaptureDocumentScan])
	})

	t.Run("empty image is rejected", func(t *testing.T) {
		_, err := Apply(newAttempt(), SubmitDocumentScan{})
		requireCode(t, err, dErrors.CodeValidation)
	})

	t.Run("extraction failure keeps the stage and the buffer", func(t *testing.T) {
		a := mustApply(t, newAttempt(), SubmitDocumentScan{Image: scan})
		a = mustApply(t, a, ExtractionFailed{Generation: a.Generation})

		assert.Equal(t, models.StageUploadDocument, a.Stage)
		assert.Equal(t, models.OpNone, a.InFlight)
		assert.True(t, a.Captures.Has(models.CaptureDocumentScan))
	})

	t.Run("extraction success moves to confirmation", func(t *testing.T) {
		a := mustApply(t, newAttempt(), SubmitDocumentScan{Image: scan})
		a = mustApply(t, a, ExtractionSucceeded{Generation: a.Generation, Identity: identity})

		assert.Equal(t, models.StageConfirmNewIdentity, a.Stage)
		require.NotNil(t, a.Identity)
		assert.Equal(t, identity, *a.Identity)
	})

	t.Run("commands are refused while extraction is pending", func(t *testing.T) {
		a := mustApply(t, newAttempt(), SubmitDocumentScan{Image: scan})

		_, err := Apply(a, SubmitDocumentScan{Image: scan})
		requireCode(t, err, dErrors.CodeConflict)
	})
}

func TestStageTransitions(t *testing.T) {
	t.Run("confirm and back", func(t *testing.T) {
		a := mustApply(t, newAttempt(), SubmitDocumentScan{Image: scan})
		a = mustApply(t, a, ExtractionSucceeded{Generation: a.Generation, Identity: identity}, ConfirmIdentity{})
		assert.Equal(t, models.StageCaptureBiometrics, a.Stage)

		a = mustApply(t, a, BackToConfirm{})
		assert.Equal(t, models.StageConfirmNewIdentity, a.Stage)
	})

	t.Run("commands outside their stage fail validation", func(t *testing.T) {
		_, err := Apply(newAttempt(), ConfirmIdentity{})
		requireCode(t, err, dErrors.CodeValidation)

		_, err = Apply(newAttempt(), StartAnalysis{})
		requireCode(t, err, dErrors.CodeValidation)

		_, err = Apply(newAttempt(), BeginCompletion{})
		requireCode(t, err, dErrors.CodeValidation)

		_, err = Apply(newAttempt(), ResetAttempt{})
		requireCode(t, err, dErrors.CodeValidation)
	})

	t.Run("guard failure leaves the input untouched", func(t *testing.T) {
		a := atCapture(t)
		before := a.Clone()

		_, err := Apply(a, AcknowledgeAlert{AlertID: "x"})

		require.Error(t, err)
		assert.Equal(t, before, a)
	})
}

func TestCancel(t *testing.T) {
	t.Run("resets every attempt-scoped field", func(t *testing.T) {
		a := atReview(t, assessment(models.VisaValid, expiredVisa))
		a = mustApply(t, a, AcknowledgeAlert{AlertID: expiredVisa.ID}, SetOfficerNotes{Notes: "x"})

		c := mustApply(t, a, CancelAttempt{})

		assert.Equal(t, models.StageUploadDocument, c.Stage)
		assert.Empty(t, c.Captures)
		assert.Nil(t, c.Identity)
		assert.Nil(t, c.Assessment)
		assert.Empty(t, c.Acknowledged)
		assert.Empty(t, c.Steps)
		assert.Equal(t, models.DecisionNone, c.FinalDecision)
		assert.Empty(t, c.OfficerNotes)
		assert.Equal(t, a.ID, c.ID)
		assert.Equal(t, a.Generation+1, c.Generation)
	})

	t.Run("drops the reply of a call pending at cancel time", func(t *testing.T) {
		a := mustApply(t, atCapture(t), StartAnalysis{})
		gen := a.Generation
		a = mustApply(t, a, CancelAttempt{})

		_, err := Apply(a, AnalysisSucceeded{Generation: gen, Assessment: assessment(models.VisaValid)})

		assert.ErrorIs(t, err, ErrStaleReply)
	})

	t.Run("refused while a save is pending", func(t *testing.T) {
		a := atReview(t, assessment(models.VisaValid))
		a = mustApply(t, a, SetFinalDecision{Decision: models.DecisionApproved}, BeginCompletion{})

		_, err := Apply(a, CancelAttempt{})
		requireCode(t, err, dErrors.CodeConflict)
	})

	t.Run("refused once completed", func(t *testing.T) {
		a := atReview(t, assessment(models.VisaValid))
		a = mustApply(t, a, SetFinalDecision{Decision: models.DecisionApproved}, BeginCompletion{})
		a = mustApply(t, a, SaveSucceeded{Generation: a.Generation, Outcome: models.Outcome{Decision: models.DecisionApproved}})

		_, err := Apply(a, CancelAttempt{})
		requireCode(t, err, dErrors.CodeValidation)
	})
}

func TestCaptureBuffer(t *testing.T) {
	t.Run("re-capturing overwrites", func(t *testing.T) {
		a := mustApply(t, atCapture(t), CaptureBiometric{Kind: models.CaptureFace, Image: []byte("second")})
		assert.Equal(t, []byte("second"), a.Captures[models.CaptureFace])
	})

	t.Run("document scan is not a biometric kind", func(t *testing.T) {
		_, err := Apply(atCapture(t), CaptureBiometric{Kind: models.CaptureDocumentScan, Image: scan})
		requireCode(t, err, dErrors.CodeValidation)
	})

	t.Run("empty frame is a camera error without mutation", func(t *testing.T) {
		a := atCapture(t)
		_, err := Apply(a, CaptureBiometric{Kind: models.CaptureLeftIris})
		requireCode(t, err, dErrors.CodeCameraUnavailable)
		assert.False(t, a.Captures.Has(models.CaptureLeftIris))
	})

	t.Run("capture then clear removes face and blocks analysis", func(t *testing.T) {
		a := mustApply(t, atCapture(t), ClearBiometric{Kind: models.CaptureFace})

		assert.NotContains(t, a.Captures, models.CaptureFace)
		_, err := Apply(a, StartAnalysis{})
		requireCode(t, err, dErrors.CodeValidation)
	})
}

func TestAnalysis(t *testing.T) {
	t.Run("any alert pre-seeds a rejection", func(t *testing.T) {
		for _, alerts := range [][]models.Alert{{expiredVisa}, {expiredVisa, watchList}} {
			a := atReview(t, assessment(models.VisaValid, alerts...))
			assert.Equal(t, models.DecisionRejected, a.FinalDecision)
		}
	})

	t.Run("success replaces identity, plan and verdict", func(t *testing.T) {
		as := assessment(models.VisaNotRequired)
		as.Identity.GivenName = "Augusta Ada"
		as.Trip = &models.TripContext{Mode: "sea", Carrier: "Stena", VoyageNumber: "SL42"}

		a := atReview(t, as)

		assert.Equal(t, models.StageReview, a.Stage)
		assert.Equal(t, "Augusta Ada", a.Identity.GivenName)
		assert.Equal(t, as.Steps, a.Steps)
		assert.Equal(t, models.VisaNotRequired, a.Visa)
		assert.Equal(t, as.Trip, a.Trip)
	})

	t.Run("failure returns to capture with buffers intact", func(t *testing.T) {
		a := mustApply(t, atCapture(t), CaptureBiometric{Kind: models.CaptureRightIris, Image: iris}, StartAnalysis{})
		assert.Equal(t, models.StageAnalyzing, a.Stage)

		a = mustApply(t, a, AnalysisFailed{Generation: a.Generation})

		assert.Equal(t, models.StageCaptureBiometrics, a.Stage)
		assert.Equal(t, []models.CaptureKind{models.CaptureDocumentScan, models.CaptureFace, models.CaptureRightIris}, a.Captures.Kinds())
		_, err := Apply(a, StartAnalysis{})
		assert.NoError(t, err)
	})
}

func TestAcknowledgeAlert(t *testing.T) {
	t.Run("acknowledgment is monotonic and idempotent", func(t *testing.T) {
		a := atReview(t, assessment(models.VisaValid, expiredVisa, watchList))

		a = mustApply(t, a, AcknowledgeAlert{AlertID: expiredVisa.ID})
		a = mustApply(t, a, AcknowledgeAlert{AlertID: expiredVisa.ID}, SetOfficerNotes{Notes: "checked"})

		assert.True(t, a.Acknowledged[expiredVisa.ID])
		assert.False(t, a.Acknowledged[watchList.ID])
		assert.Equal(t, models.DecisionRejected, a.FinalDecision)
	})

	t.Run("acknowledging every alert flips a rejection in either order", func(t *testing.T) {
		for _, order := range [][]models.Alert{{expiredVisa, watchList}, {watchList, expiredVisa}} {
			a := atReview(t, assessment(models.VisaValid, expiredVisa, watchList))
			a = mustApply(t, a, AcknowledgeAlert{AlertID: order[0].ID})
			assert.Equal(t, models.DecisionRejected, a.FinalDecision)

			a = mustApply(t, a, AcknowledgeAlert{AlertID: order[1].ID})
			assert.Equal(t, models.DecisionApproved, a.FinalDecision)
		}
	})

	t.Run("explicit selection wins after the flip", func(t *testing.T) {
		a := atReview(t, assessment(models.VisaValid, expiredVisa))
		a = mustApply(t, a, AcknowledgeAlert{AlertID: expiredVisa.ID}, SetFinalDecision{Decision: models.DecisionRejected})
		a = mustApply(t, a, AcknowledgeAlert{AlertID: expiredVisa.ID})

		assert.Equal(t, models.DecisionRejected, a.FinalDecision)
	})

	t.Run("identical labels stay distinct", func(t *testing.T) {
		first := models.Alert{ID: "alert-1-document-flag", Label: "Document Flag"}
		second := models.Alert{ID: "alert-2-document-flag", Label: "Document Flag"}
		a := atReview(t, assessment(models.VisaValid, first, second))

		a = mustApply(t, a, AcknowledgeAlert{AlertID: first.ID})

		assert.False(t, a.Acknowledged[second.ID])
		assert.Equal(t, models.DecisionRejected, a.FinalDecision)
	})

	t.Run("back to capture clears acknowledgments and keeps the assessment", func(t *testing.T) {
		a := atReview(t, assessment(models.VisaValid, expiredVisa))
		a = mustApply(t, a, AcknowledgeAlert{AlertID: expiredVisa.ID}, BackToCapture{})

		assert.Equal(t, models.StageCaptureBiometrics, a.Stage)
		assert.Empty(t, a.Acknowledged)
		assert.NotNil(t, a.Assessment)
		assert.True(t, a.Captures.Has(models.CaptureFace))
		assert.True(t, a.Captures.Has(models.CaptureDocumentScan))
	})
}

func TestHardStop(t *testing.T) {
	a := atReview(t, assessment(models.VisaInvalid, expiredVisa))

	t.Run("acknowledgment is refused", func(t *testing.T) {
		_, err := Apply(a, AcknowledgeAlert{AlertID: expiredVisa.ID})
		requireCode(t, err, dErrors.CodeValidation)
	})

	t.Run("completion is refused even with a decision", func(t *testing.T) {
		b := mustApply(t, a, SetFinalDecision{Decision: models.DecisionApproved})
		_, err := Apply(b, BeginCompletion{})
		requireCode(t, err, dErrors.CodeValidation)
	})

	t.Run("transfer ends the attempt as manual review", func(t *testing.T) {
		b := mustApply(t, a, BeginTransfer{})
		b = mustApply(t, b, SaveSucceeded{Generation: b.Generation, Outcome: models.Outcome{
			Decision: models.DecisionManualReview, Status: models.RecordPending, Escalated: true,
		}})

		assert.Equal(t, models.StageCompleted, b.Stage)
		assert.True(t, b.Outcome.Escalated)
		assert.Equal(t, models.RecordPending, b.Outcome.Status)
	})
}

func TestCompletion(t *testing.T) {
	t.Run("clean approve", func(t *testing.T) {
		a := atReview(t, assessment(models.VisaNotRequired))
		assert.Equal(t, models.DecisionNone, a.FinalDecision)

		_, err := Apply(a, BeginCompletion{})
		requireCode(t, err, dErrors.CodeValidation)

		a = mustApply(t, a, SetFinalDecision{Decision: models.DecisionApproved}, BeginCompletion{})
		assert.Equal(t, models.OpSave, a.InFlight)
		assert.Equal(t, models.RecordCompleted, review.StatusFor(a.FinalDecision))

		a = mustApply(t, a, SaveSucceeded{Generation: a.Generation, Outcome: models.Outcome{
			TransactionID: id.NewTransactionID(), Decision: models.DecisionApproved, Status: models.RecordCompleted,
		}})

		assert.Equal(t, models.StageCompleted, a.Stage)
		assert.Equal(t, models.StepCompleted, a.Steps[1].Status)
	})

	t.Run("unacknowledged alerts block completion", func(t *testing.T) {
		a := atReview(t, assessment(models.VisaValid, expiredVisa))
		a = mustApply(t, a, SetFinalDecision{Decision: models.DecisionApproved})

		_, err := Apply(a, BeginCompletion{})
		requireCode(t, err, dErrors.CodeValidation)
	})

	t.Run("matched passenger requires a merge choice", func(t *testing.T) {
		as := assessment(models.VisaValid)
		as.Matched = &models.MatchedIdentity{PassengerID: id.NewPassengerID(), Identity: identity}
		a := atReview(t, as)
		a = mustApply(t, a, SetFinalDecision{Decision: models.DecisionApproved})

		_, err := Apply(a, BeginCompletion{})
		requireCode(t, err, dErrors.CodeValidation)

		a = mustApply(t, a, SetMergeChoice{Choice: models.MergeUpdateImages}, BeginCompletion{})
		assert.Equal(t, models.MergeUpdateImages, a.MergeChoice)
	})

	t.Run("merge choice without a matched passenger is refused", func(t *testing.T) {
		_, err := Apply(atReview(t, assessment(models.VisaValid)), SetMergeChoice{Choice: models.MergeUpdateAll})
		requireCode(t, err, dErrors.CodeValidation)
	})

	t.Run("save failure stays in review", func(t *testing.T) {
		a := atReview(t, assessment(models.VisaValid))
		a = mustApply(t, a, SetFinalDecision{Decision: models.DecisionRejected}, BeginCompletion{})
		a = mustApply(t, a, SaveFailed{Generation: a.Generation})

		assert.Equal(t, models.StageReview, a.Stage)
		assert.Equal(t, models.OpNone, a.InFlight)
		_, err := Apply(a, BeginCompletion{})
		assert.NoError(t, err)
	})

	t.Run("decision must be approve or reject", func(t *testing.T) {
		_, err := Apply(atReview(t, assessment(models.VisaValid)), SetFinalDecision{Decision: models.DecisionManualReview})
		requireCode(t, err, dErrors.CodeValidation)
	})
}

func TestReset(t *testing.T) {
	a := atReview(t, assessment(models.VisaValid))
	a = mustApply(t, a, SetFinalDecision{Decision: models.DecisionApproved}, BeginCompletion{})
	a = mustApply(t, a, SaveSucceeded{Generation: a.Generation, Outcome: models.Outcome{Decision: models.DecisionApproved}})

	r := mustApply(t, a, ResetAttempt{})

	assert.Equal(t, models.StageUploadDocument, r.Stage)
	assert.Nil(t, r.Outcome)
	assert.Equal(t, a.Generation+1, r.Generation)
}

func TestStaleReplies(t *testing.T) {
	t.Run("reply for an operation that is not pending", func(t *testing.T) {
		a := atCapture(t)
		_, err := Apply(a, AnalysisSucceeded{Generation: a.Generation})
		assert.ErrorIs(t, err, ErrStaleReply)
	})

	t.Run("reply from an older generation", func(t *testing.T) {
		a := mustApply(t, newAttempt(), SubmitDocumentScan{Image: scan})
		_, err := Apply(a, ExtractionSucceeded{Generation: a.Generation - 1})
		assert.ErrorIs(t, err, ErrStaleReply)
	})
}
