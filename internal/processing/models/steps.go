package models

// StepStatus is the live status of a workflow step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in-progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
	StepFailed     StepStatus = "failed"
)

func ParseStepStatus(s string) (StepStatus, bool) {
	switch StepStatus(s) {
	case StepPending, StepInProgress, StepCompleted, StepSkipped, StepFailed:
		return StepStatus(s), true
	}
	return "", false
}

// PersistedStatus is the vocabulary steps are stored with.
type PersistedStatus string

const (
	PersistedPending   PersistedStatus = "Pending"
	PersistedCompleted PersistedStatus = "Completed"
	PersistedFailed    PersistedStatus = "Failed"
	PersistedSkipped   PersistedStatus = "Skipped"
)

// OfficerReviewStepID is the step marked completed when a record is saved.
const OfficerReviewStepID = "officer_review"

type WorkflowStep struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
}

type PersistedStep struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Status PersistedStatus `json:"status"`
}
