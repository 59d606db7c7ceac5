package engine

import (
	"checkpoint/internal/processing/models"
	"checkpoint/internal/processing/review"
)

// View is the per-stage projection of an attempt for a rendering layer.
// Exactly one concrete type exists per stage.
type View interface {
	Stage() models.Stage
	isView()
}

type UploadView struct {
	Extracting bool `json:"extracting"`
	ScanStored bool `json:"scan_stored"`
}

type ConfirmView struct {
	Identity models.ExtractedIdentity `json:"identity"`
}

type CaptureView struct {
	Identity   *models.ExtractedIdentity `json:"identity,omitempty"`
	Captured   []models.CaptureKind      `json:"captured"`
	Missing    []models.CaptureKind      `json:"missing"`
	CanAnalyze bool                      `json:"can_analyze"`
}

type AnalyzingView struct {
	Captured []models.CaptureKind `json:"captured"`
}

type AlertView struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	Acknowledged bool   `json:"acknowledged"`
}

type ReviewView struct {
	Identity        *models.ExtractedIdentity `json:"identity,omitempty"`
	Matched         *models.MatchedIdentity   `json:"matched,omitempty"`
	MergeChoice     models.MergeChoice        `json:"merge_choice,omitempty"`
	Visa            models.VisaVerdict        `json:"visa"`
	HardStop        bool                      `json:"hard_stop"`
	RiskScore       int                       `json:"risk_score"`
	Recommendation  string                    `json:"recommendation"`
	Summary         string                    `json:"summary"`
	Alerts          []AlertView               `json:"alerts"`
	AllAcknowledged bool                      `json:"all_acknowledged"`
	FinalDecision   models.Decision           `json:"final_decision"`
	OfficerNotes    string                    `json:"officer_notes"`
	Steps           []models.WorkflowStep     `json:"steps"`
	Trip            *models.TripContext       `json:"trip,omitempty"`
	Saving          bool                      `json:"saving"`
	CanComplete     bool                      `json:"can_complete"`
	Blockers        []string                  `json:"blockers,omitempty"`
}

type CompletedView struct {
	Outcome models.Outcome        `json:"outcome"`
	Steps   []models.WorkflowStep `json:"steps"`
}

func (UploadView) Stage() models.Stage    { return models.StageUploadDocument }
func (ConfirmView) Stage() models.Stage   { return models.StageConfirmNewIdentity }
func (CaptureView) Stage() models.Stage   { return models.StageCaptureBiometrics }
func (AnalyzingView) Stage() models.Stage { return models.StageAnalyzing }
func (ReviewView) Stage() models.Stage    { return models.StageReview }
func (CompletedView) Stage() models.Stage { return models.StageCompleted }

func (UploadView) isView()    {}
func (ConfirmView) isView()   {}
func (CaptureView) isView()   {}
func (AnalyzingView) isView() {}
func (ReviewView) isView()    {}
func (CompletedView) isView() {}

// CurrentView projects the attempt onto the view of its stage.
func CurrentView(a models.Attempt) View {
	switch a.Stage {
	case models.StageConfirmNewIdentity:
		v := ConfirmView{}
		if a.Identity != nil {
			v.Identity = *a.Identity
		}
		return v

	case models.StageCaptureBiometrics:
		missing := missingForAnalysis(a.Captures)
		return CaptureView{
			Identity:   a.Identity,
			Captured:   a.Captures.Kinds(),
			Missing:    missing,
			CanAnalyze: len(missing) == 0 && a.InFlight == models.OpNone,
		}

	case models.StageAnalyzing:
		return AnalyzingView{Captured: a.Captures.Kinds()}

	case models.StageReview:
		return reviewView(a)

	case models.StageCompleted:
		v := CompletedView{Steps: a.Steps}
		if a.Outcome != nil {
			v.Outcome = *a.Outcome
		}
		return v

	default:
		return UploadView{
			Extracting: a.InFlight == models.OpExtraction,
			ScanStored: a.Captures.Has(models.CaptureDocumentScan),
		}
	}
}

func reviewView(a models.Attempt) ReviewView {
	v := ReviewView{
		Identity:        a.Identity,
		Matched:         a.Matched,
		MergeChoice:     a.MergeChoice,
		Visa:            a.Visa,
		HardStop:        review.IsHardStop(a.Visa),
		AllAcknowledged: review.AllAcknowledged(a.Assessment, a.Acknowledged),
		FinalDecision:   a.FinalDecision,
		OfficerNotes:    a.OfficerNotes,
		Steps:           a.Steps,
		Trip:            a.Trip,
		Saving:          a.InFlight == models.OpSave,
		Alerts:          []AlertView{},
	}
	if a.Assessment != nil {
		v.RiskScore = a.Assessment.RiskScore
		v.Recommendation = a.Assessment.Recommendation
		v.Summary = a.Assessment.Summary
		for _, al := range a.Assessment.Alerts {
			v.Alerts = append(v.Alerts, AlertView{ID: al.ID, Label: al.Label, Acknowledged: a.Acknowledged[al.ID]})
		}
	}
	v.Blockers = review.CompletionBlockers(a)
	v.CanComplete = len(v.Blockers) == 0 && !v.Saving
	return v
}
