// Package review holds the pure decision rules of officer review. Nothing
// here performs I/O; every function takes the data it needs and returns a
// verdict.
package review

import (
	"strings"

	"checkpoint/internal/processing/models"
	dErrors "checkpoint/pkg/domain-errors"
)

// IsHardStop reports whether the visa verdict forecloses approve/reject.
func IsHardStop(visa models.VisaVerdict) bool {
	return visa == models.VisaInvalid
}

// InitialDecision is the decision pre-seeded when analysis succeeds. Any
// alert forces an explicit override, never a silent approval.
func InitialDecision(result models.AssessmentResult) models.Decision {
	if len(result.Alerts) > 0 {
		return models.DecisionRejected
	}
	return models.DecisionNone
}

// AllAcknowledged reports whether every alert is acknowledged. An assessment
// without alerts is trivially acknowledged.
func AllAcknowledged(result *models.AssessmentResult, acknowledged map[string]bool) bool {
	if result == nil {
		return true
	}
	for _, a := range result.Alerts {
		if !acknowledged[a.ID] {
			return false
		}
	}
	return true
}

// Unacknowledged returns the alerts still awaiting acknowledgment, in order.
func Unacknowledged(result *models.AssessmentResult, acknowledged map[string]bool) []models.Alert {
	if result == nil {
		return nil
	}
	var out []models.Alert
	for _, a := range result.Alerts {
		if !acknowledged[a.ID] {
			out = append(out, a)
		}
	}
	return out
}

// AutoFlip returns the decision after an acknowledgment. Once every alert is
// cleared a pre-seeded rejection defaults back to approval; any other
// decision is left alone.
func AutoFlip(result *models.AssessmentResult, acknowledged map[string]bool, current models.Decision) models.Decision {
	if current == models.DecisionRejected && AllAcknowledged(result, acknowledged) {
		return models.DecisionApproved
	}
	return current
}

// CheckAcknowledge guards alert acknowledgment.
func CheckAcknowledge(a models.Attempt, alertID string) error {
	// Rule 1: hard stop disables acknowledgment entirely
	if IsHardStop(a.Visa) {
		return dErrors.New(dErrors.CodeValidation, "visa is invalid: alerts cannot be acknowledged, transfer to duty manager")
	}

	// Rule 2: the alert must belong to the current assessment
	if !a.Assessment.HasAlert(alertID) {
		return dErrors.New(dErrors.CodeNotFound, "alert not found: "+alertID)
	}
	return nil
}

// CompletionBlockers lists every missing input that prevents completion, in
// the order an officer should resolve them. Empty means completion may run.
func CompletionBlockers(a models.Attempt) []string {
	var blockers []string

	// Rule 1: hard stop forecloses completion
	if IsHardStop(a.Visa) {
		return []string{"visa is invalid: only transfer to duty manager is allowed"}
	}

	// Rule 2: an explicit decision
	if a.FinalDecision != models.DecisionApproved && a.FinalDecision != models.DecisionRejected {
		blockers = append(blockers, "final decision is required")
	}

	// Rule 3: every alert acknowledged
	if pending := Unacknowledged(a.Assessment, a.Acknowledged); len(pending) > 0 {
		labels := make([]string, 0, len(pending))
		for _, p := range pending {
			labels = append(labels, p.Label)
		}
		blockers = append(blockers, "unacknowledged alerts: "+strings.Join(labels, ", "))
	}

	// Rule 4: a merge choice when the passenger already exists
	if a.Matched != nil && a.MergeChoice == models.MergeNone {
		blockers = append(blockers, "merge choice is required for an existing passenger")
	}

	return blockers
}

// CheckCompletion turns CompletionBlockers into a validation error.
func CheckCompletion(a models.Attempt) error {
	blockers := CompletionBlockers(a)
	if len(blockers) == 0 {
		return nil
	}
	return dErrors.New(dErrors.CodeValidation, "cannot complete transaction: "+strings.Join(blockers, "; "))
}

// CheckTransfer guards escalation. Any visa verdict may be escalated; the
// attempt only needs some identity to build the passenger from.
func CheckTransfer(a models.Attempt) error {
	if a.Matched != nil {
		return nil
	}
	if a.Identity == nil || a.Identity.IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "cannot transfer: no identity data available")
	}
	return nil
}

// StatusFor maps a decision onto the persisted record status.
func StatusFor(decision models.Decision) models.RecordStatus {
	switch decision {
	case models.DecisionApproved:
		return models.RecordCompleted
	case models.DecisionRejected:
		return models.RecordFailed
	default:
		return models.RecordPending
	}
}

// TriggeredRules snapshots the alerts with their acknowledgment flags.
func TriggeredRules(result *models.AssessmentResult, acknowledged map[string]bool) []models.TriggeredRule {
	if result == nil {
		return []models.TriggeredRule{}
	}
	out := make([]models.TriggeredRule, 0, len(result.Alerts))
	for _, a := range result.Alerts {
		out = append(out, models.TriggeredRule{
			AlertID:      a.ID,
			Alert:        a.Label,
			Acknowledged: acknowledged[a.ID],
		})
	}
	return out
}
