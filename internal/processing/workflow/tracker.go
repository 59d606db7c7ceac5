// Package workflow tracks the officer-facing step plan of an attempt.
//
// The tracker does no validation of its own. It holds the ordered plan the
// assessment gateway generated and projects it into the vocabulary stored
// with a transaction record.
package workflow

import (
	"slices"

	"checkpoint/internal/processing/models"
)

// Tracker holds an ordered list of workflow steps.
type Tracker struct {
	steps []models.WorkflowStep
}

// New returns a tracker over a copy of steps.
func New(steps []models.WorkflowStep) *Tracker {
	t := &Tracker{}
	t.Replace(steps)
	return t
}

// Replace swaps the whole plan.
func (t *Tracker) Replace(steps []models.WorkflowStep) {
	t.steps = slices.Clone(steps)
}

// UpdateStepStatus sets the status of the step with the given ID. It reports
// false when no such step exists.
func (t *Tracker) UpdateStepStatus(stepID string, status models.StepStatus) bool {
	for i := range t.steps {
		if t.steps[i].ID == stepID {
			t.steps[i].Status = status
			return true
		}
	}
	return false
}

// Steps returns a copy of the current plan.
func (t *Tracker) Steps() []models.WorkflowStep {
	return slices.Clone(t.steps)
}

// Normalized maps the plan onto the persisted vocabulary. A step still in
// progress is stored as pending.
func (t *Tracker) Normalized() []models.PersistedStep {
	out := make([]models.PersistedStep, 0, len(t.steps))
	for _, s := range t.steps {
		out = append(out, models.PersistedStep{
			ID:     s.ID,
			Name:   s.Name,
			Status: Persist(s.Status),
		})
	}
	return out
}

// Persist maps one live status onto the persisted vocabulary. Unknown
// statuses are stored as pending.
func Persist(status models.StepStatus) models.PersistedStatus {
	switch status {
	case models.StepCompleted:
		return models.PersistedCompleted
	case models.StepFailed:
		return models.PersistedFailed
	case models.StepSkipped:
		return models.PersistedSkipped
	default:
		return models.PersistedPending
	}
}
