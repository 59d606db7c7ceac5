package service

//go:generate mockgen -source=../ports/ports.go -destination=../mocks/ports-mocks.go -package=mocks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"checkpoint/internal/processing/adapters/capture"
	"checkpoint/internal/processing/attachments"
	"checkpoint/internal/processing/metrics"
	"checkpoint/internal/processing/mocks"
	"checkpoint/internal/processing/models"
	"checkpoint/internal/processing/notify"
	"checkpoint/internal/processing/ports"
	"checkpoint/internal/processing/session"
	"checkpoint/internal/processing/store"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
	"checkpoint/pkg/platform/audit"
	"checkpoint/pkg/platform/sentinel"
	"checkpoint/pkg/platform/tx"
	"checkpoint/pkg/requestcontext"
	"checkpoint/pkg/testutil"
)

// =============================================================================
// Orchestrator Test Suite
// =============================================================================
// The orchestrator owns the effectful half of the flow: gateway calls outside
// the attempt lock, generation-tagged replies, attachment fan-out and the
// transactional save. Gateways and the record store are mocked; attempts live
// in the in-memory session store so state can be inspected between steps.

type OrchestratorSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	extractor   *mocks.MockDocumentExtractor
	assessor    *mocks.MockRiskAssessor
	records     *mocks.MockTransactionStore
	attachments *mocks.MockAttachmentStore
	audit       *mocks.MockAuditPublisher
	ops         *mocks.MockOpsTracker
	attempts    *session.InMemoryAttemptStore
	svc         *Orchestrator

	officer   id.OfficerID
	now       time.Time
	ctx       context.Context
	collector *notify.Collector
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest()    { s.setup() }
func (s *OrchestratorSuite) SetupSubTest() { s.setup() }

func (s *OrchestratorSuite) setup() {
	s.ctrl = gomock.NewController(s.T())
	s.extractor = mocks.NewMockDocumentExtractor(s.ctrl)
	s.assessor = mocks.NewMockRiskAssessor(s.ctrl)
	s.records = mocks.NewMockTransactionStore(s.ctrl)
	s.attachments = mocks.NewMockAttachmentStore(s.ctrl)
	s.audit = mocks.NewMockAuditPublisher(s.ctrl)
	s.ops = mocks.NewMockOpsTracker(s.ctrl)
	s.ops.EXPECT().Track(gomock.Any(), gomock.Any()).AnyTimes()
	s.attempts = session.NewInMemoryAttemptStore()

	s.officer = id.OfficerID(uuid.New())
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.ctx, s.collector = notify.WithCollector(testutil.OfficerContext(s.officer, s.now))

	s.svc = New(s.attempts, s.extractor, s.assessor, s.records, s.attachments,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(metrics.NewWith(prometheus.NewRegistry())),
		WithAuditPublisher(s.audit),
		WithOpsTracker(s.ops),
		WithNotifier(notify.ContextSink{}),
		WithClock(func() time.Time { return s.now }),
		WithTimeouts(Timeouts{Extraction: 100 * time.Millisecond, Analysis: 100 * time.Millisecond, Save: time.Second}),
	)
}

// =============================================================================
// Fixtures
// =============================================================================

var scannedIdentity = models.ExtractedIdentity{
	GivenName:      "Ada",
	FamilyName:     "Lovelace",
	DocumentNumber: "P1234567",
	Nationality:    "GBR",
	IssuingCountry: "GBR",
	DateOfBirth:    "1815-12-10",
}

func assessment(visa models.VisaVerdict, alerts ...models.Alert) *models.Assessment {
	return &models.Assessment{
		Result: models.AssessmentResult{
			RiskScore:      40,
			Recommendation: "review",
			Alerts:         alerts,
		},
		Visa:     visa,
		Identity: scannedIdentity,
		Steps: []models.WorkflowStep{
			{ID: "document_check", Name: "Document Check", Status: models.StepCompleted},
			{ID: models.OfficerReviewStepID, Name: "Officer Review", Status: models.StepInProgress},
		},
	}
}

func (s *OrchestratorSuite) start() id.AttemptID {
	a, err := s.svc.StartAttempt(s.ctx, s.officer)
	s.Require().NoError(err)
	return a.ID
}

func (s *OrchestratorSuite) atConfirm() id.AttemptID {
	attemptID := s.start()
	s.extractor.EXPECT().ExtractDocument(gomock.Any(), []byte("scan")).Return(scannedIdentity, nil)
	_, err := s.svc.SubmitDocumentScan(s.ctx, attemptID, []byte("scan"))
	s.Require().NoError(err)
	return attemptID
}

func (s *OrchestratorSuite) atCapture() id.AttemptID {
	attemptID := s.atConfirm()
	_, err := s.svc.ConfirmIdentity(s.ctx, attemptID)
	s.Require().NoError(err)
	_, err = s.svc.CaptureBiometric(s.ctx, attemptID, models.CaptureFace, capture.NewFakeFrame(8, 8))
	s.Require().NoError(err)
	return attemptID
}

func (s *OrchestratorSuite) atReview(as *models.Assessment) id.AttemptID {
	attemptID := s.atCapture()
	s.assessor.EXPECT().AssessTransaction(gomock.Any(), gomock.Any()).Return(as, nil)
	a, err := s.svc.StartAnalysis(s.ctx, attemptID)
	s.Require().NoError(err)
	s.Require().Equal(models.StageReview, a.Stage)
	return attemptID
}

func (s *OrchestratorSuite) expectAttachments() {
	s.attachments.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, kind models.CaptureKind, _ []byte) (string, error) {
			return "ref-" + string(kind), nil
		}).AnyTimes()
}

func (s *OrchestratorSuite) requireCode(err error, code dErrors.Code) {
	s.T().Helper()
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), "error: %v", err)
}

func (s *OrchestratorSuite) lastNotification() ports.Notification {
	items := s.collector.Items()
	s.Require().NotEmpty(items)
	return items[len(items)-1]
}

// =============================================================================
// Attempt lifecycle
// =============================================================================

func (s *OrchestratorSuite) TestStartAttempt() {
	s.Run("creates an empty attempt for the officer", func() {
		a, err := s.svc.StartAttempt(s.ctx, s.officer)

		s.Require().NoError(err)
		s.Equal(models.StageUploadDocument, a.Stage)
		s.Equal(s.officer, a.OfficerID)
		stored, err := s.attempts.Get(s.ctx, a.ID)
		s.Require().NoError(err)
		s.Equal(a.ID, stored.ID)
	})

	s.Run("requires an officer", func() {
		_, err := s.svc.StartAttempt(s.ctx, id.OfficerID{})
		s.requireCode(err, dErrors.CodeUnauthorized)
	})
}

func (s *OrchestratorSuite) TestAttemptAccess() {
	s.Run("unknown attempt is not found", func() {
		_, err := s.svc.View(s.ctx, id.NewAttemptID())
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("another officer cannot drive the attempt", func() {
		attemptID := s.start()
		other := requestcontext.WithOfficerID(s.ctx, id.OfficerID(uuid.New()))

		_, err := s.svc.ConfirmIdentity(other, attemptID)

		s.requireCode(err, dErrors.CodeForbidden)
	})
}

// =============================================================================
// Document extraction
// =============================================================================

func (s *OrchestratorSuite) TestSubmitDocumentScan() {
	s.Run("success moves to confirmation with the identity", func() {
		attemptID := s.atConfirm()

		a, err := s.attempts.Get(s.ctx, attemptID)
		s.Require().NoError(err)
		s.Equal(models.StageConfirmNewIdentity, a.Stage)
		s.Equal(scannedIdentity, *a.Identity)
		s.Equal(models.OpNone, a.InFlight)
		s.Equal(ports.NotifySuccess, s.lastNotification().Kind)
	})

	s.Run("failure keeps the stage and the scan", func() {
		attemptID := s.start()
		s.extractor.EXPECT().ExtractDocument(gomock.Any(), gomock.Any()).Return(models.ExtractedIdentity{}, errors.New("gateway down"))

		a, err := s.svc.SubmitDocumentScan(s.ctx, attemptID, []byte("scan"))

		s.requireCode(err, dErrors.CodeExtractionFailed)
		s.Equal(models.StageUploadDocument, a.Stage)
		s.Equal(models.OpNone, a.InFlight)
		s.True(a.Captures.Has(models.CaptureDocumentScan))
		s.Equal(ports.NotifyError, s.lastNotification().Kind)
	})

	s.Run("timeout surfaces as extraction failure", func() {
		attemptID := s.start()
		s.extractor.EXPECT().ExtractDocument(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ []byte) (models.ExtractedIdentity, error) {
				<-ctx.Done()
				return models.ExtractedIdentity{}, ctx.Err()
			})

		_, err := s.svc.SubmitDocumentScan(s.ctx, attemptID, []byte("scan"))

		s.requireCode(err, dErrors.CodeExtractionFailed)
		s.ErrorIs(err, context.DeadlineExceeded)
	})

	s.Run("empty scan is refused without calling the gateway", func() {
		attemptID := s.start()

		_, err := s.svc.SubmitDocumentScan(s.ctx, attemptID, nil)

		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("officer commands are refused while extraction is pending", func() {
		attemptID := s.start()
		s.extractor.EXPECT().ExtractDocument(gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, []byte) (models.ExtractedIdentity, error) {
				_, err := s.svc.SubmitDocumentScan(s.ctx, attemptID, []byte("again"))
				s.requireCode(err, dErrors.CodeConflict)
				return scannedIdentity, nil
			})

		a, err := s.svc.SubmitDocumentScan(s.ctx, attemptID, []byte("scan"))

		s.Require().NoError(err)
		s.Equal(models.StageConfirmNewIdentity, a.Stage)
	})

	s.Run("a reply after cancel is discarded", func() {
		attemptID := s.start()
		s.extractor.EXPECT().ExtractDocument(gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, []byte) (models.ExtractedIdentity, error) {
				_, err := s.svc.CancelAttempt(s.ctx, attemptID)
				s.Require().NoError(err)
				return scannedIdentity, nil
			})

		a, err := s.svc.SubmitDocumentScan(s.ctx, attemptID, []byte("scan"))

		s.Require().NoError(err)
		s.Equal(models.StageUploadDocument, a.Stage)
		s.Nil(a.Identity)
		s.False(a.Captures.Has(models.CaptureDocumentScan))
		s.Equal(1, a.Generation)
	})
}

// =============================================================================
// Biometric capture
// =============================================================================

func (s *OrchestratorSuite) TestCaptureBiometric() {
	s.Run("stores a JPEG frame and releases the source", func() {
		attemptID := s.atConfirm()
		_, err := s.svc.ConfirmIdentity(s.ctx, attemptID)
		s.Require().NoError(err)
		src := capture.NewFakeFrame(16, 16)

		a, err := s.svc.CaptureBiometric(s.ctx, attemptID, models.CaptureLeftIris, src)

		s.Require().NoError(err)
		s.True(a.Captures.Has(models.CaptureLeftIris))
		s.Equal([]byte{0xFF, 0xD8}, a.Captures[models.CaptureLeftIris][:2])
		s.True(src.Balanced())
	})

	s.Run("zero-size frame is camera unavailable and changes nothing", func() {
		attemptID := s.atCapture()
		before, err := s.attempts.Get(s.ctx, attemptID)
		s.Require().NoError(err)
		src := capture.NewFakeFrame(0, 0)

		_, err = s.svc.CaptureBiometric(s.ctx, attemptID, models.CaptureFingerprint, src)

		s.requireCode(err, dErrors.CodeCameraUnavailable)
		after, err := s.attempts.Get(s.ctx, attemptID)
		s.Require().NoError(err)
		s.Equal(before.Captures, after.Captures)
		s.True(src.Balanced())
	})

	s.Run("acquire failure is camera unavailable", func() {
		attemptID := s.atCapture()
		src := &capture.Fake{AcquireErr: errors.New("device busy")}

		_, err := s.svc.CaptureBiometric(s.ctx, attemptID, models.CaptureRightIris, src)

		s.requireCode(err, dErrors.CodeCameraUnavailable)
	})

	s.Run("wrong stage never opens the camera", func() {
		attemptID := s.atConfirm()
		src := capture.NewFakeFrame(8, 8)

		_, err := s.svc.CaptureBiometric(s.ctx, attemptID, models.CaptureFace, src)

		s.requireCode(err, dErrors.CodeValidation)
		s.Zero(src.Acquires())
	})

	s.Run("capture then clear restores the buffer", func() {
		attemptID := s.atCapture()
		before, err := s.attempts.Get(s.ctx, attemptID)
		s.Require().NoError(err)

		_, err = s.svc.CaptureBiometric(s.ctx, attemptID, models.CaptureFingerprint, capture.NewFakeFrame(4, 4))
		s.Require().NoError(err)
		a, err := s.svc.ClearBiometric(s.ctx, attemptID, models.CaptureFingerprint)

		s.Require().NoError(err)
		s.Equal(before.Captures.Kinds(), a.Captures.Kinds())
	})
}

// =============================================================================
// Analysis
// =============================================================================

func (s *OrchestratorSuite) TestStartAnalysis() {
	s.Run("sends scan and face and seeds a rejection when alerts exist", func() {
		attemptID := s.atCapture()
		s.assessor.EXPECT().AssessTransaction(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req ports.AssessmentRequest) (*models.Assessment, error) {
				s.Equal(DefaultModule, req.Module)
				s.Equal([]byte("scan"), req.DocumentScan)
				s.NotEmpty(req.LiveFace)
				return assessment(models.VisaValid, models.Alert{ID: "a1", Label: "Watch-list Hit"}), nil
			})

		a, err := s.svc.StartAnalysis(s.ctx, attemptID)

		s.Require().NoError(err)
		s.Equal(models.StageReview, a.Stage)
		s.Equal(models.DecisionRejected, a.FinalDecision)
	})

	s.Run("failure returns to capture with buffers intact", func() {
		attemptID := s.atCapture()
		s.assessor.EXPECT().AssessTransaction(gomock.Any(), gomock.Any()).Return(nil, errors.New("503"))

		a, err := s.svc.StartAnalysis(s.ctx, attemptID)

		s.requireCode(err, dErrors.CodeAnalysisFailed)
		s.Equal(models.StageCaptureBiometrics, a.Stage)
		s.True(a.Captures.Has(models.CaptureDocumentScan))
		s.True(a.Captures.Has(models.CaptureFace))
		s.Nil(a.Assessment)
	})

	s.Run("missing face is refused", func() {
		attemptID := s.atConfirm()
		_, err := s.svc.ConfirmIdentity(s.ctx, attemptID)
		s.Require().NoError(err)

		_, err = s.svc.StartAnalysis(s.ctx, attemptID)

		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("invalid visa raises an error notification", func() {
		s.atReview(assessment(models.VisaInvalid))
		s.Equal("Visa invalid", s.lastNotification().Title)
	})
}

// =============================================================================
// Completion and transfer
// =============================================================================

func (s *OrchestratorSuite) TestCompleteTransaction() {
	s.Run("clean approve saves a completed record with its compliance event", func() {
		attemptID := s.atReview(assessment(models.VisaValid))
		_, err := s.svc.SetFinalDecision(s.ctx, attemptID, models.DecisionApproved)
		s.Require().NoError(err)
		s.expectAttachments()

		var saved models.Submission
		s.records.EXPECT().SaveTransaction(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, sub models.Submission) (id.TransactionID, error) {
				saved = sub
				return sub.Record.ID, nil
			})
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, e audit.ComplianceEvent) error {
				s.Equal(string(audit.EventTransactionCompleted), e.Action)
				s.Equal(s.officer, e.OfficerID)
				s.NotEmpty(e.SubjectIDHash)
				s.NotContains(e.SubjectIDHash, scannedIdentity.DocumentNumber)
				return nil
			})

		a, err := s.svc.CompleteTransaction(s.ctx, attemptID)

		s.Require().NoError(err)
		s.Equal(models.StageCompleted, a.Stage)
		s.Equal(models.DecisionApproved, a.Outcome.Decision)
		s.Equal(models.RecordCompleted, saved.Record.Status)
		s.Equal(models.DecisionApproved, saved.Record.Decision)
		s.Len(saved.Record.Attachments, 2)
		s.Equal([]string{"ref-face"}, saved.Passenger.ImageRefs)
		s.Equal(models.RiskMedium, saved.Passenger.RiskLevel)
		for _, step := range saved.Record.Steps {
			s.NotEqual(models.PersistedStatus("in-progress"), step.Status)
		}
		for _, step := range a.Steps {
			if step.ID == models.OfficerReviewStepID {
				s.Equal(models.StepCompleted, step.Status)
			}
		}
	})

	s.Run("alert then acknowledge flips to approved and persists it", func() {
		attemptID := s.atReview(assessment(models.VisaValid, models.Alert{ID: "a1", Label: "Watch-list Hit"}))
		a, err := s.svc.AcknowledgeAlert(s.ctx, attemptID, "a1")
		s.Require().NoError(err)
		s.Equal(models.DecisionApproved, a.FinalDecision)
		s.expectAttachments()
		s.records.EXPECT().SaveTransaction(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, sub models.Submission) (id.TransactionID, error) {
				s.Equal([]models.TriggeredRule{{AlertID: "a1", Alert: "Watch-list Hit", Acknowledged: true}}, sub.Record.TriggeredRules)
				return sub.Record.ID, nil
			})
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

		_, err = s.svc.CompleteTransaction(s.ctx, attemptID)

		s.Require().NoError(err)
	})

	s.Run("guard failure writes nothing", func() {
		attemptID := s.atReview(assessment(models.VisaValid, models.Alert{ID: "a1", Label: "Watch-list Hit"}))

		a, err := s.svc.CompleteTransaction(s.ctx, attemptID)

		s.requireCode(err, dErrors.CodeValidation)
		s.Equal(models.StageReview, a.Stage)
		s.Equal(ports.NotifyError, s.lastNotification().Kind)
	})

	s.Run("store failure keeps the review state", func() {
		attemptID := s.atReview(assessment(models.VisaValid))
		_, err := s.svc.SetFinalDecision(s.ctx, attemptID, models.DecisionRejected)
		s.Require().NoError(err)
		_, err = s.svc.SetOfficerNotes(s.ctx, attemptID, "nervous")
		s.Require().NoError(err)
		s.expectAttachments()
		s.records.EXPECT().SaveTransaction(gomock.Any(), gomock.Any()).Return(id.TransactionID{}, sentinel.ErrUnavailable)

		a, err := s.svc.CompleteTransaction(s.ctx, attemptID)

		s.requireCode(err, dErrors.CodeSaveFailed)
		s.Equal(models.StageReview, a.Stage)
		s.Equal(models.OpNone, a.InFlight)
		s.Equal(models.DecisionRejected, a.FinalDecision)
		s.Equal("nervous", a.OfficerNotes)
	})

	s.Run("compliance failure fails the save", func() {
		attemptID := s.atReview(assessment(models.VisaValid))
		_, err := s.svc.SetFinalDecision(s.ctx, attemptID, models.DecisionApproved)
		s.Require().NoError(err)
		s.expectAttachments()
		s.records.EXPECT().SaveTransaction(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, sub models.Submission) (id.TransactionID, error) {
				return sub.Record.ID, nil
			})
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("outbox unavailable"))

		a, err := s.svc.CompleteTransaction(s.ctx, attemptID)

		s.requireCode(err, dErrors.CodeSaveFailed)
		s.Equal(models.StageReview, a.Stage)
	})

	s.Run("an already recorded generation reports the stored outcome", func() {
		attemptID := s.atReview(assessment(models.VisaValid))
		_, err := s.svc.SetFinalDecision(s.ctx, attemptID, models.DecisionApproved)
		s.Require().NoError(err)
		s.expectAttachments()
		existing := id.NewTransactionID()
		s.records.EXPECT().SaveTransaction(gomock.Any(), gomock.Any()).Return(existing, sentinel.ErrConflict)
		s.records.EXPECT().FindByID(gomock.Any(), existing).Return(models.TransactionRecord{
			ID:        existing,
			AttemptID: attemptID,
			Decision:  models.DecisionRejected,
			Status:    models.RecordFailed,
		}, nil)

		a, err := s.svc.CompleteTransaction(s.ctx, attemptID)

		s.Require().NoError(err)
		s.Equal(existing, a.Outcome.TransactionID)
		s.Equal(models.DecisionRejected, a.Outcome.Decision)
		s.Equal(models.RecordFailed, a.Outcome.Status)
	})

	s.Run("an unreadable stored record fails the save", func() {
		attemptID := s.atReview(assessment(models.VisaValid))
		_, err := s.svc.SetFinalDecision(s.ctx, attemptID, models.DecisionApproved)
		s.Require().NoError(err)
		s.expectAttachments()
		existing := id.NewTransactionID()
		s.records.EXPECT().SaveTransaction(gomock.Any(), gomock.Any()).Return(existing, sentinel.ErrConflict)
		s.records.EXPECT().FindByID(gomock.Any(), existing).Return(models.TransactionRecord{}, sentinel.ErrUnavailable)

		a, err := s.svc.CompleteTransaction(s.ctx, attemptID)

		s.requireCode(err, dErrors.CodeSaveFailed)
		s.Equal(models.StageReview, a.Stage)
	})

	s.Run("merge choice is persisted with the matched passenger", func() {
		matchedID := id.NewPassengerID()
		as := assessment(models.VisaValid)
		as.Matched = &models.MatchedIdentity{
			PassengerID: matchedID,
			Identity:    models.ExtractedIdentity{GivenName: "Ada", FamilyName: "Byron", DocumentNumber: "P0000001"},
			RiskLevel:   models.RiskHigh,
		}
		attemptID := s.atReview(as)
		_, err := s.svc.SetFinalDecision(s.ctx, attemptID, models.DecisionApproved)
		s.Require().NoError(err)

		_, err = s.svc.CompleteTransaction(s.ctx, attemptID)
		s.requireCode(err, dErrors.CodeValidation)

		_, err = s.svc.SetMergeChoice(s.ctx, attemptID, models.MergeUpdateImages)
		s.Require().NoError(err)
		s.expectAttachments()
		s.records.EXPECT().SaveTransaction(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, sub models.Submission) (id.TransactionID, error) {
				s.Equal(models.MergeUpdateImages, sub.Record.UpdateChoice)
				s.Equal(matchedID, sub.Passenger.ID)
				s.Equal("Byron", sub.Passenger.Identity.FamilyName)
				s.Equal([]string{"ref-face"}, sub.Passenger.ImageRefs)
				return sub.Record.ID, nil
			})
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

		_, err = s.svc.CompleteTransaction(s.ctx, attemptID)

		s.Require().NoError(err)
	})
}

func (s *OrchestratorSuite) TestTransferToDutyManager() {
	s.Run("hard stop escalates as manual review", func() {
		attemptID := s.atReview(assessment(models.VisaInvalid, models.Alert{ID: "a1", Label: "Expired Visa"}))

		_, err := s.svc.AcknowledgeAlert(s.ctx, attemptID, "a1")
		s.requireCode(err, dErrors.CodeValidation)
		_, err = s.svc.CompleteTransaction(s.ctx, attemptID)
		s.requireCode(err, dErrors.CodeValidation)

		s.expectAttachments()
		s.records.EXPECT().SaveTransaction(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, sub models.Submission) (id.TransactionID, error) {
				s.Equal(models.DecisionManualReview, sub.Record.Decision)
				s.Equal(models.RecordPending, sub.Record.Status)
				s.Equal(models.RiskLow, sub.Passenger.RiskLevel)
				s.False(sub.Passenger.ID.IsNil())
				return sub.Record.ID, nil
			})
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, e audit.ComplianceEvent) error {
				s.Equal(string(audit.EventTransactionEscalated), e.Action)
				return nil
			})

		a, err := s.svc.TransferToDutyManager(s.ctx, attemptID)

		s.Require().NoError(err)
		s.Equal(models.StageCompleted, a.Stage)
		s.True(a.Outcome.Escalated)
		s.Equal(models.RecordPending, a.Outcome.Status)
	})

	s.Run("store failure keeps the review state", func() {
		attemptID := s.atReview(assessment(models.VisaInvalid, models.Alert{ID: "a1", Label: "Expired Visa"}))
		_, err := s.svc.SetOfficerNotes(s.ctx, attemptID, "visa expired last week")
		s.Require().NoError(err)
		s.expectAttachments()
		s.records.EXPECT().SaveTransaction(gomock.Any(), gomock.Any()).Return(id.TransactionID{}, sentinel.ErrUnavailable)

		a, err := s.svc.TransferToDutyManager(s.ctx, attemptID)

		s.requireCode(err, dErrors.CodeSaveFailed)
		s.Equal(models.StageReview, a.Stage)
		s.Equal(models.OpNone, a.InFlight)
		s.Nil(a.Outcome)
		s.Equal("visa expired last week", a.OfficerNotes)
		s.Equal(ports.NotifyError, s.lastNotification().Kind)
		s.Equal("Transaction not saved", s.lastNotification().Title)
	})

	s.Run("matched passenger is reused untouched", func() {
		matchedID := id.NewPassengerID()
		matched := &models.MatchedIdentity{
			PassengerID: matchedID,
			Identity:    models.ExtractedIdentity{GivenName: "Ada", FamilyName: "Byron", DocumentNumber: "P0000001"},
			RiskLevel:   models.RiskHigh,
			ImageRefs:   []string{"blake2b:old"},
		}
		as := assessment(models.VisaInvalid)
		as.Matched = matched
		attemptID := s.atReview(as)
		s.expectAttachments()
		s.records.EXPECT().SaveTransaction(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, sub models.Submission) (id.TransactionID, error) {
				s.Equal(matchedID, sub.Passenger.ID)
				s.Equal(matched.Identity, sub.Passenger.Identity)
				s.Equal(models.RiskHigh, sub.Passenger.RiskLevel)
				s.Equal([]string{"blake2b:old"}, sub.Passenger.ImageRefs)
				s.Equal(matchedID, sub.Record.PassengerID)
				s.Empty(sub.Record.UpdateChoice)
				return sub.Record.ID, nil
			})
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

		a, err := s.svc.TransferToDutyManager(s.ctx, attemptID)

		s.Require().NoError(err)
		s.True(a.Outcome.Escalated)
	})

	s.Run("officer may escalate a valid visa", func() {
		attemptID := s.atReview(assessment(models.VisaValid))
		_, err := s.svc.SetFinalDecision(s.ctx, attemptID, models.DecisionApproved)
		s.Require().NoError(err)
		s.expectAttachments()
		s.records.EXPECT().SaveTransaction(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, sub models.Submission) (id.TransactionID, error) {
				s.Equal(models.DecisionManualReview, sub.Record.Decision)
				s.Equal(models.RecordPending, sub.Record.Status)
				return sub.Record.ID, nil
			})
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

		a, err := s.svc.TransferToDutyManager(s.ctx, attemptID)

		s.Require().NoError(err)
		s.Equal(models.StageCompleted, a.Stage)
		s.Equal(models.DecisionManualReview, a.Outcome.Decision)
		s.True(a.Outcome.Escalated)
		s.Equal("Transferred to duty manager", s.lastNotification().Title)
	})
}

// =============================================================================
// Navigation
// =============================================================================

func (s *OrchestratorSuite) TestNavigation() {
	s.Run("back to capture clears acknowledgments and keeps the rest", func() {
		attemptID := s.atReview(assessment(models.VisaValid, models.Alert{ID: "a1", Label: "Watch-list Hit"}))
		_, err := s.svc.AcknowledgeAlert(s.ctx, attemptID, "a1")
		s.Require().NoError(err)

		a, err := s.svc.BackToCapture(s.ctx, attemptID)

		s.Require().NoError(err)
		s.Equal(models.StageCaptureBiometrics, a.Stage)
		s.Empty(a.Acknowledged)
		s.NotNil(a.Assessment)
		s.True(a.Captures.Has(models.CaptureFace))
	})

	s.Run("back to confirm and forward again", func() {
		attemptID := s.atCapture()

		a, err := s.svc.BackToConfirm(s.ctx, attemptID)
		s.Require().NoError(err)
		s.Equal(models.StageConfirmNewIdentity, a.Stage)

		a, err = s.svc.ConfirmIdentity(s.ctx, attemptID)
		s.Require().NoError(err)
		s.Equal(models.StageCaptureBiometrics, a.Stage)
	})

	s.Run("reset is only allowed after completion", func() {
		attemptID := s.atCapture()
		_, err := s.svc.ResetAttempt(s.ctx, attemptID)
		s.requireCode(err, dErrors.CodeValidation)
	})
}

// =============================================================================
// End-to-end scenario
// =============================================================================

func TestOrchestrator_ClearsPassengerThenStartsNext(t *testing.T) {
	ctrl := gomock.NewController(t)
	extractor := mocks.NewMockDocumentExtractor(ctrl)
	assessor := mocks.NewMockRiskAssessor(ctrl)
	records := mocks.NewMockTransactionStore(ctrl)
	attachments := mocks.NewMockAttachmentStore(ctrl)
	svc := New(session.NewInMemoryAttemptStore(), extractor, assessor, records, attachments)

	officer := id.OfficerID(uuid.New())
	ctx := testutil.OfficerContext(officer, time.Now())
	var attemptID id.AttemptID

	testutil.Given(t, "a passenger with a clean assessment", func(t *testing.T) {
		a, err := svc.StartAttempt(ctx, officer)
		if err != nil {
			t.Fatal(err)
		}
		attemptID = a.ID
		extractor.EXPECT().ExtractDocument(gomock.Any(), gomock.Any()).Return(scannedIdentity, nil)
		assessor.EXPECT().AssessTransaction(gomock.Any(), gomock.Any()).Return(assessment(models.VisaNotRequired), nil)
		steps := []func() (models.Attempt, error){
			func() (models.Attempt, error) { return svc.SubmitDocumentScan(ctx, attemptID, []byte("scan")) },
			func() (models.Attempt, error) { return svc.ConfirmIdentity(ctx, attemptID) },
			func() (models.Attempt, error) {
				return svc.CaptureBiometric(ctx, attemptID, models.CaptureFace, capture.NewFakeFrame(2, 2))
			},
			func() (models.Attempt, error) { return svc.StartAnalysis(ctx, attemptID) },
			func() (models.Attempt, error) { return svc.SetFinalDecision(ctx, attemptID, models.DecisionApproved) },
		}
		for _, step := range steps {
			if _, err := step(); err != nil {
				t.Fatal(err)
			}
		}
	})

	testutil.When(t, "the officer completes the transaction", func(t *testing.T) {
		attachments.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any()).Return("ref", nil).Times(2)
		records.EXPECT().SaveTransaction(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, sub models.Submission) (id.TransactionID, error) {
				return sub.Record.ID, nil
			})
		if _, err := svc.CompleteTransaction(ctx, attemptID); err != nil {
			t.Fatal(err)
		}
	})

	testutil.Then(t, "the next passenger starts from an empty attempt", func(t *testing.T) {
		a, err := svc.ResetAttempt(ctx, attemptID)
		if err != nil {
			t.Fatal(err)
		}
		if a.Stage != models.StageUploadDocument || len(a.Captures) != 0 || a.Outcome != nil {
			t.Fatalf("attempt not reset: %+v", a)
		}
	})
}

func TestOrchestrator_FailedSaveLeavesNoRecord(t *testing.T) {
	ctrl := gomock.NewController(t)
	extractor := mocks.NewMockDocumentExtractor(ctrl)
	assessor := mocks.NewMockRiskAssessor(ctrl)
	publisher := mocks.NewMockAuditPublisher(ctrl)
	records := store.NewInMemoryTransactionStore()
	svc := New(session.NewInMemoryAttemptStore(), extractor, assessor, records, attachments.NewInMemoryStore(),
		WithAuditPublisher(publisher),
		WithTxRunner(tx.MemoryRunner{}),
	)

	officer := id.OfficerID(uuid.New())
	ctx := testutil.OfficerContext(officer, time.Now())
	var attemptID id.AttemptID

	testutil.Given(t, "an approved passenger whose compliance event cannot be written", func(t *testing.T) {
		a, err := svc.StartAttempt(ctx, officer)
		require.NoError(t, err)
		attemptID = a.ID
		extractor.EXPECT().ExtractDocument(gomock.Any(), gomock.Any()).Return(scannedIdentity, nil)
		assessor.EXPECT().AssessTransaction(gomock.Any(), gomock.Any()).Return(assessment(models.VisaNotRequired), nil)
		_, err = svc.SubmitDocumentScan(ctx, attemptID, []byte("scan"))
		require.NoError(t, err)
		_, err = svc.ConfirmIdentity(ctx, attemptID)
		require.NoError(t, err)
		_, err = svc.CaptureBiometric(ctx, attemptID, models.CaptureFace, capture.NewFakeFrame(2, 2))
		require.NoError(t, err)
		_, err = svc.StartAnalysis(ctx, attemptID)
		require.NoError(t, err)
		_, err = svc.SetFinalDecision(ctx, attemptID, models.DecisionApproved)
		require.NoError(t, err)

		publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("outbox unavailable"))
		a, err = svc.CompleteTransaction(ctx, attemptID)
		require.Equal(t, dErrors.CodeSaveFailed, dErrors.CodeOf(err))
		require.Equal(t, models.StageReview, a.Stage)
		require.Equal(t, 0, records.Count(), "failed save must not leave a record")
	})

	testutil.When(t, "the officer rejects instead and completes again", func(t *testing.T) {
		_, err := svc.SetFinalDecision(ctx, attemptID, models.DecisionRejected)
		require.NoError(t, err)
		publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, e audit.ComplianceEvent) error {
				assert.Equal(t, string(models.DecisionRejected), e.Decision)
				return nil
			})
	})

	testutil.Then(t, "the outcome matches the single stored record", func(t *testing.T) {
		a, err := svc.CompleteTransaction(ctx, attemptID)
		require.NoError(t, err)
		require.NotNil(t, a.Outcome)
		assert.Equal(t, models.DecisionRejected, a.Outcome.Decision)
		assert.Equal(t, models.RecordFailed, a.Outcome.Status)
		assert.Equal(t, 1, records.Count())

		stored, err := records.FindByID(ctx, a.Outcome.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, a.Outcome.Decision, stored.Decision)
		assert.Equal(t, a.Outcome.Status, stored.Status)
	})
}
