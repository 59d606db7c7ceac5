// Package models holds the data model of the live processing flow: one
// attempt from document scan through officer review to a persisted record.
package models

import (
	"maps"
	"slices"
	"time"

	id "checkpoint/pkg/domain"
)

// Stage is the active step of an attempt. Exactly one is active at a time.
type Stage string

const (
	StageUploadDocument     Stage = "upload_document"
	StageConfirmNewIdentity Stage = "confirm_new_identity"
	StageCaptureBiometrics  Stage = "capture_biometrics"
	StageAnalyzing          Stage = "analyzing"
	StageReview             Stage = "review"
	StageCompleted          Stage = "completed"
)

// Operation names the gateway or store call an attempt is waiting on.
type Operation string

const (
	OpNone       Operation = ""
	OpExtraction Operation = "extraction"
	OpAnalysis   Operation = "analysis"
	OpSave       Operation = "save"
)

// Decision is the officer's verdict. The zero value means "not chosen yet".
type Decision string

const (
	DecisionNone         Decision = ""
	DecisionApproved     Decision = "Approved"
	DecisionRejected     Decision = "Rejected"
	DecisionManualReview Decision = "Manual Review"
)

// ParseFinalDecision accepts only the two values an officer may pick.
func ParseFinalDecision(s string) (Decision, bool) {
	switch Decision(s) {
	case DecisionApproved, DecisionRejected:
		return Decision(s), true
	}
	return DecisionNone, false
}

// RecordStatus is the persisted status of a transaction record.
type RecordStatus string

const (
	RecordCompleted RecordStatus = "Completed"
	RecordFailed    RecordStatus = "Failed"
	RecordPending   RecordStatus = "Pending"
)

// VisaVerdict is the visa check outcome. VisaInvalid is a hard stop.
type VisaVerdict string

const (
	VisaUnknown     VisaVerdict = ""
	VisaValid       VisaVerdict = "valid"
	VisaInvalid     VisaVerdict = "invalid"
	VisaNotRequired VisaVerdict = "not_required"
)

func ParseVisaVerdict(s string) (VisaVerdict, bool) {
	switch VisaVerdict(s) {
	case VisaValid, VisaInvalid, VisaNotRequired:
		return VisaVerdict(s), true
	}
	return VisaUnknown, false
}

// MergeChoice reconciles a scanned identity with a stored passenger.
type MergeChoice string

const (
	MergeNone         MergeChoice = ""
	MergeUpdateAll    MergeChoice = "update_all"
	MergeUpdateImages MergeChoice = "update_images"
)

func ParseMergeChoice(s string) (MergeChoice, bool) {
	switch MergeChoice(s) {
	case MergeUpdateAll, MergeUpdateImages:
		return MergeChoice(s), true
	}
	return MergeNone, false
}

// RiskLevel is the stored risk classification of a passenger.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ExtractedIdentity is the identity read from a travel document. Dates are
// ISO-8601 calendar dates (YYYY-MM-DD).
type ExtractedIdentity struct {
	GivenName      string `json:"given_name"`
	FamilyName     string `json:"family_name"`
	DocumentNumber string `json:"document_number"`
	Nationality    string `json:"nationality"`
	DateOfBirth    string `json:"date_of_birth"`
	Gender         string `json:"gender"`
	IssuingCountry string `json:"issuing_country"`
	IssueDate      string `json:"issue_date"`
	ExpiryDate     string `json:"expiry_date"`
}

// IsEmpty reports whether the identity carries nothing to build a passenger from.
func (e ExtractedIdentity) IsEmpty() bool {
	return e.DocumentNumber == "" && e.GivenName == "" && e.FamilyName == ""
}

// Alert is a risk condition raised by the assessment gateway. ID is stable
// within an assessment; Label is display text and may repeat.
type Alert struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// AssessmentResult is produced once per analysis and never mutated.
type AssessmentResult struct {
	RiskScore      int     `json:"risk_score"`
	Recommendation string  `json:"recommendation"`
	Summary        string  `json:"summary"`
	Alerts         []Alert `json:"alerts"`
}

// HasAlert reports whether alertID belongs to this assessment.
func (r *AssessmentResult) HasAlert(alertID string) bool {
	if r == nil {
		return false
	}
	return slices.ContainsFunc(r.Alerts, func(a Alert) bool { return a.ID == alertID })
}

// MatchedIdentity is a stored passenger the scanned document correlates with.
type MatchedIdentity struct {
	PassengerID id.PassengerID    `json:"passenger_id"`
	Identity    ExtractedIdentity `json:"identity"`
	RiskLevel   RiskLevel         `json:"risk_level"`
	ImageRefs   []string          `json:"image_refs,omitempty"`
}

// TripContext describes the journey the passenger is crossing on.
type TripContext struct {
	Mode         string `json:"mode"`
	Carrier      string `json:"carrier,omitempty"`
	VoyageNumber string `json:"voyage_number,omitempty"`
	VehiclePlate string `json:"vehicle_plate,omitempty"`
	Origin       string `json:"origin,omitempty"`
	Destination  string `json:"destination,omitempty"`
	ScheduledAt  string `json:"scheduled_at,omitempty"`
}

// Assessment is everything one successful analysis call returns.
type Assessment struct {
	Result   AssessmentResult
	Matched  *MatchedIdentity
	Visa     VisaVerdict
	Steps    []WorkflowStep
	Identity ExtractedIdentity
	Trip     *TripContext
}

// Passenger is the identity record stored alongside a transaction.
type Passenger struct {
	ID        id.PassengerID
	Identity  ExtractedIdentity
	RiskLevel RiskLevel
	ImageRefs []string
}

// TriggeredRule is one alert as it stood when the record was built.
type TriggeredRule struct {
	AlertID      string `json:"alert_id"`
	Alert        string `json:"alert"`
	Acknowledged bool   `json:"acknowledged"`
}

// AttachmentRef points at a stored capture.
type AttachmentRef struct {
	Kind CaptureKind `json:"kind"`
	Ref  string      `json:"ref"`
}

// TransactionRecord is the persisted artifact of a completed or escalated
// attempt. It is created once and never mutated.
type TransactionRecord struct {
	ID             id.TransactionID
	AttemptID      id.AttemptID
	Generation     int
	PassengerID    id.PassengerID
	OfficerID      id.OfficerID
	Identity       ExtractedIdentity
	Decision       Decision
	Status         RecordStatus
	RiskScore      int
	TriggeredRules []TriggeredRule
	OfficerNotes   string
	Steps          []PersistedStep
	Attachments    []AttachmentRef
	UpdateChoice   MergeChoice
	Trip           *TripContext
	CreatedAt      time.Time
}

// Submission is what the record store persists in one write.
type Submission struct {
	Record    TransactionRecord
	Passenger Passenger
}

// Outcome summarizes a finished attempt.
type Outcome struct {
	TransactionID id.TransactionID
	Decision      Decision
	Status        RecordStatus
	Escalated     bool
}

// Attempt is the full state of one run of the processing flow. Every
// attempt-scoped field resets together on cancel and on reset.
type Attempt struct {
	ID            id.AttemptID
	OfficerID     id.OfficerID
	Generation    int
	Stage         Stage
	InFlight      Operation
	Captures      CaptureBuffer
	Identity      *ExtractedIdentity
	Matched       *MatchedIdentity
	MergeChoice   MergeChoice
	Visa          VisaVerdict
	Assessment    *AssessmentResult
	Acknowledged  map[string]bool
	Steps         []WorkflowStep
	FinalDecision Decision
	OfficerNotes  string
	Trip          *TripContext
	Outcome       *Outcome
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewAttempt returns an empty attempt in the upload stage.
func NewAttempt(attemptID id.AttemptID, officerID id.OfficerID, now time.Time) Attempt {
	return Attempt{
		ID:           attemptID,
		OfficerID:    officerID,
		Stage:        StageUploadDocument,
		Captures:     CaptureBuffer{},
		Acknowledged: map[string]bool{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy so reducers never alias the caller's state.
func (a Attempt) Clone() Attempt {
	out := a
	out.Captures = a.Captures.Clone()
	out.Acknowledged = maps.Clone(a.Acknowledged)
	if out.Acknowledged == nil {
		out.Acknowledged = map[string]bool{}
	}
	out.Steps = slices.Clone(a.Steps)
	if a.Identity != nil {
		v := *a.Identity
		out.Identity = &v
	}
	if a.Matched != nil {
		v := *a.Matched
		v.ImageRefs = slices.Clone(a.Matched.ImageRefs)
		out.Matched = &v
	}
	if a.Assessment != nil {
		v := *a.Assessment
		v.Alerts = slices.Clone(a.Assessment.Alerts)
		out.Assessment = &v
	}
	if a.Trip != nil {
		v := *a.Trip
		out.Trip = &v
	}
	if a.Outcome != nil {
		v := *a.Outcome
		out.Outcome = &v
	}
	return out
}
