package handler

import (
	"strings"

	"checkpoint/internal/processing/models"
	dErrors "checkpoint/pkg/domain-errors"
)

// ImageRequest carries one base64-encoded image.
type ImageRequest struct {
	Image []byte `json:"image" validate:"required"`
}

// DecisionRequest is the body of PUT /processing/attempts/{id}/decision.
type DecisionRequest struct {
	Decision string `json:"decision" validate:"required"`

	parsed models.Decision
}

func (r *DecisionRequest) Normalize() {
	r.Decision = strings.TrimSpace(r.Decision)
}

func (r *DecisionRequest) Validate() error {
	d, ok := models.ParseFinalDecision(r.Decision)
	if !ok {
		return dErrors.New(dErrors.CodeValidation, "decision must be Approved or Rejected")
	}
	r.parsed = d
	return nil
}

// NotesRequest is the body of PUT /processing/attempts/{id}/notes.
type NotesRequest struct {
	Notes string `json:"notes" validate:"max=4000"`
}

func (r *NotesRequest) Normalize() {
	r.Notes = strings.TrimSpace(r.Notes)
}

// MergeChoiceRequest is the body of PUT /processing/attempts/{id}/merge-choice.
type MergeChoiceRequest struct {
	Choice string `json:"choice" validate:"required,oneof=update_all update_images"`
}

func (r *MergeChoiceRequest) Normalize() {
	r.Choice = strings.ToLower(strings.TrimSpace(r.Choice))
}
