package handler

import (
	"checkpoint/internal/processing/engine"
	"checkpoint/internal/processing/models"
	"checkpoint/internal/processing/ports"
	id "checkpoint/pkg/domain"
	"checkpoint/pkg/platform/httputil"
)

// AttemptResponse is returned by every processing endpoint.
type AttemptResponse struct {
	AttemptID     id.AttemptID         `json:"attempt_id"`
	Generation    int                  `json:"generation"`
	Stage         models.Stage         `json:"stage"`
	View          engine.View          `json:"view"`
	Notifications []ports.Notification `json:"notifications"`
}

func toResponse(a models.Attempt, notifications []ports.Notification) AttemptResponse {
	view := engine.CurrentView(a)
	return AttemptResponse{
		AttemptID:     a.ID,
		Generation:    a.Generation,
		Stage:         view.Stage(),
		View:          view,
		Notifications: notifications,
	}
}

type errorResponse struct {
	httputil.ErrorResponse
	Notifications []ports.Notification `json:"notifications"`
}
