package review

import (
	"slices"
	"time"

	"checkpoint/internal/processing/models"
	"checkpoint/internal/processing/workflow"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
)

// RiskLevelFor classifies a 0-100 risk score.
func RiskLevelFor(score int) models.RiskLevel {
	switch {
	case score >= 67:
		return models.RiskHigh
	case score >= 34:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// ResolvePassenger decides which passenger record a completed attempt
// writes. With a matched passenger, update_all takes the newly extracted
// fields and update_images keeps the stored ones; both replace the images.
// Without a match a new passenger is created from the extracted identity.
func ResolvePassenger(a models.Attempt, imageRefs []string, newID func() id.PassengerID) (models.Passenger, error) {
	if a.Matched != nil {
		p := models.Passenger{
			ID:        a.Matched.PassengerID,
			Identity:  a.Matched.Identity,
			RiskLevel: a.Matched.RiskLevel,
			ImageRefs: slices.Clone(imageRefs),
		}
		switch a.MergeChoice {
		case models.MergeUpdateAll:
			if a.Identity != nil {
				p.Identity = *a.Identity
			}
		case models.MergeUpdateImages:
		default:
			return models.Passenger{}, dErrors.New(dErrors.CodeValidation, "merge choice is required for an existing passenger")
		}
		return p, nil
	}

	if a.Identity == nil || a.Identity.IsEmpty() {
		return models.Passenger{}, dErrors.New(dErrors.CodeValidation, "no identity data available")
	}
	risk := models.RiskLow
	if a.Assessment != nil {
		risk = RiskLevelFor(a.Assessment.RiskScore)
	}
	return models.Passenger{
		ID:        newID(),
		Identity:  *a.Identity,
		RiskLevel: risk,
		ImageRefs: slices.Clone(imageRefs),
	}, nil
}

// EscalationPassenger returns the passenger an escalated record points at:
// the matched passenger untouched, or a new one synthesized from the
// extracted identity with a fresh ID and low risk.
func EscalationPassenger(a models.Attempt, imageRefs []string, newID func() id.PassengerID) (models.Passenger, error) {
	if a.Matched != nil {
		return models.Passenger{
			ID:        a.Matched.PassengerID,
			Identity:  a.Matched.Identity,
			RiskLevel: a.Matched.RiskLevel,
			ImageRefs: slices.Clone(a.Matched.ImageRefs),
		}, nil
	}
	if a.Identity == nil || a.Identity.IsEmpty() {
		return models.Passenger{}, dErrors.New(dErrors.CodeValidation, "cannot transfer: no identity data available")
	}
	return models.Passenger{
		ID:        newID(),
		Identity:  *a.Identity,
		RiskLevel: models.RiskLow,
		ImageRefs: slices.Clone(imageRefs),
	}, nil
}

// RecordInput carries the effectful values a record needs.
type RecordInput struct {
	TransactionID id.TransactionID
	Passenger     models.Passenger
	Attachments   []models.AttachmentRef
	Now           time.Time
}

// BuildRecord builds the record for a completed attempt. The decision maps
// onto the status and the steps are normalized at build time.
func BuildRecord(a models.Attempt, in RecordInput) models.TransactionRecord {
	return buildRecord(a, in, a.FinalDecision, StatusFor(a.FinalDecision))
}

// BuildEscalationRecord builds the Manual Review / Pending record of a
// transfer to the duty manager.
func BuildEscalationRecord(a models.Attempt, in RecordInput) models.TransactionRecord {
	return buildRecord(a, in, models.DecisionManualReview, models.RecordPending)
}

func buildRecord(a models.Attempt, in RecordInput, decision models.Decision, status models.RecordStatus) models.TransactionRecord {
	identity := in.Passenger.Identity
	if a.Identity != nil {
		identity = *a.Identity
	}
	riskScore := 0
	if a.Assessment != nil {
		riskScore = a.Assessment.RiskScore
	}
	var trip *models.TripContext
	if a.Trip != nil {
		t := *a.Trip
		trip = &t
	}
	return models.TransactionRecord{
		ID:             in.TransactionID,
		AttemptID:      a.ID,
		Generation:     a.Generation,
		PassengerID:    in.Passenger.ID,
		OfficerID:      a.OfficerID,
		Identity:       identity,
		Decision:       decision,
		Status:         status,
		RiskScore:      riskScore,
		TriggeredRules: TriggeredRules(a.Assessment, a.Acknowledged),
		OfficerNotes:   a.OfficerNotes,
		Steps:          workflow.New(a.Steps).Normalized(),
		Attachments:    slices.Clone(in.Attachments),
		UpdateChoice:   a.MergeChoice,
		Trip:           trip,
		CreatedAt:      in.Now,
	}
}
