package engine

import "checkpoint/internal/processing/models"

// Command is an input to the reducer. Officer commands come from the
// transport layer; reply commands carry gateway and store results back in,
// tagged with the generation they were issued under.
type Command interface {
	Name() string
}

type (
	SubmitDocumentScan  struct{ Image []byte }
	ExtractionSucceeded struct {
		Generation int
		Identity   models.ExtractedIdentity
	}
	ExtractionFailed struct{ Generation int }

	ConfirmIdentity struct{}
	BackToConfirm   struct{}
	CancelAttempt   struct{}

	CaptureBiometric struct {
		Kind  models.CaptureKind
		Image []byte
	}
	ClearBiometric struct{ Kind models.CaptureKind }

	StartAnalysis     struct{}
	AnalysisSucceeded struct {
		Generation int
		Assessment models.Assessment
	}
	AnalysisFailed struct{ Generation int }

	AcknowledgeAlert struct{ AlertID string }
	SetFinalDecision struct{ Decision models.Decision }
	SetOfficerNotes  struct{ Notes string }
	SetMergeChoice   struct{ Choice models.MergeChoice }

	BeginCompletion struct{}
	BeginTransfer   struct{}
	SaveSucceeded   struct {
		Generation int
		Outcome    models.Outcome
	}
	SaveFailed struct{ Generation int }

	BackToCapture struct{}
	ResetAttempt  struct{}
)

func (SubmitDocumentScan) Name() string  { return "submit_document_scan" }
func (ExtractionSucceeded) Name() string { return "extraction_succeeded" }
func (ExtractionFailed) Name() string    { return "extraction_failed" }
func (ConfirmIdentity) Name() string     { return "confirm_identity" }
func (BackToConfirm) Name() string       { return "back_to_confirm" }
func (CancelAttempt) Name() string       { return "cancel_attempt" }
func (CaptureBiometric) Name() string    { return "capture_biometric" }
func (ClearBiometric) Name() string      { return "clear_biometric" }
func (StartAnalysis) Name() string       { return "start_analysis" }
func (AnalysisSucceeded) Name() string   { return "analysis_succeeded" }
func (AnalysisFailed) Name() string      { return "analysis_failed" }
func (AcknowledgeAlert) Name() string    { return "acknowledge_alert" }
func (SetFinalDecision) Name() string    { return "set_final_decision" }
func (SetOfficerNotes) Name() string     { return "set_officer_notes" }
func (SetMergeChoice) Name() string      { return "set_merge_choice" }
func (BeginCompletion) Name() string     { return "complete_transaction" }
func (BeginTransfer) Name() string       { return "transfer_to_duty_manager" }
func (SaveSucceeded) Name() string       { return "save_succeeded" }
func (SaveFailed) Name() string          { return "save_failed" }
func (BackToCapture) Name() string       { return "back_to_capture" }
func (ResetAttempt) Name() string        { return "reset_attempt" }
