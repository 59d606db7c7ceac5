package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"checkpoint/internal/processing/models"
)

func plan() []models.WorkflowStep {
	return []models.WorkflowStep{
		{ID: "document_check", Name: "Document Check", Status: models.StepCompleted},
		{ID: "biometric_match", Name: "Biometric Match", Status: models.StepInProgress},
		{ID: "watchlist", Name: "Watch-list Screening", Status: models.StepSkipped},
		{ID: "visa_check", Name: "Visa Check", Status: models.StepFailed},
		{ID: models.OfficerReviewStepID, Name: "Officer Review", Status: models.StepPending},
	}
}

func TestTracker_UpdateStepStatus(t *testing.T) {
	t.Run("updates a known step", func(t *testing.T) {
		tr := New(plan())

		ok := tr.UpdateStepStatus(models.OfficerReviewStepID, models.StepCompleted)

		assert.True(t, ok)
		assert.Equal(t, models.StepCompleted, tr.Steps()[4].Status)
	})

	t.Run("reports unknown step IDs", func(t *testing.T) {
		tr := New(plan())

		ok := tr.UpdateStepStatus("missing", models.StepCompleted)

		assert.False(t, ok)
		assert.Equal(t, plan(), tr.Steps())
	})
}

func TestTracker_ReplaceDoesNotAliasInput(t *testing.T) {
	steps := plan()
	tr := New(nil)
	tr.Replace(steps)

	steps[0].Status = models.StepFailed
	got := tr.Steps()
	got[1].Status = models.StepFailed

	assert.Equal(t, models.StepCompleted, tr.Steps()[0].Status)
	assert.Equal(t, models.StepInProgress, tr.Steps()[1].Status)
}

func TestTracker_Normalized(t *testing.T) {
	got := New(plan()).Normalized()

	assert.Equal(t, []models.PersistedStep{
		{ID: "document_check", Name: "Document Check", Status: models.PersistedCompleted},
		{ID: "biometric_match", Name: "Biometric Match", Status: models.PersistedPending},
		{ID: "watchlist", Name: "Watch-list Screening", Status: models.PersistedSkipped},
		{ID: "visa_check", Name: "Visa Check", Status: models.PersistedFailed},
		{ID: models.OfficerReviewStepID, Name: "Officer Review", Status: models.PersistedPending},
	}, got)
}

func TestTracker_NormalizedEmpty(t *testing.T) {
	assert.Empty(t, New(nil).Normalized())
}
