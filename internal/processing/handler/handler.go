// Package handler exposes the live processing orchestrator over HTTP.
//
// Every endpoint answers with the attempt's current view and the officer
// notifications raised while the request was handled, including on failure.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"checkpoint/internal/processing/adapters/capture"
	"checkpoint/internal/processing/models"
	"checkpoint/internal/processing/notify"
	"checkpoint/internal/processing/ports"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
	"checkpoint/pkg/platform/httputil"
	"checkpoint/pkg/requestcontext"
)

// Service is the orchestrator surface the handler drives.
type Service interface {
	StartAttempt(ctx context.Context, officerID id.OfficerID) (models.Attempt, error)
	Attempt(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error)
	SubmitDocumentScan(ctx context.Context, attemptID id.AttemptID, image []byte) (models.Attempt, error)
	ConfirmIdentity(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error)
	BackToConfirm(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error)
	CancelAttempt(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error)
	CaptureBiometric(ctx context.Context, attemptID id.AttemptID, kind models.CaptureKind, src ports.FrameSource) (models.Attempt, error)
	ClearBiometric(ctx context.Context, attemptID id.AttemptID, kind models.CaptureKind) (models.Attempt, error)
	StartAnalysis(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error)
	BackToCapture(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error)
	AcknowledgeAlert(ctx context.Context, attemptID id.AttemptID, alertID string) (models.Attempt, error)
	SetFinalDecision(ctx context.Context, attemptID id.AttemptID, decision models.Decision) (models.Attempt, error)
	SetOfficerNotes(ctx context.Context, attemptID id.AttemptID, notes string) (models.Attempt, error)
	SetMergeChoice(ctx context.Context, attemptID id.AttemptID, choice models.MergeChoice) (models.Attempt, error)
	CompleteTransaction(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error)
	TransferToDutyManager(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error)
	ResetAttempt(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error)
}

// Handler wires processing endpoints to the orchestrator.
type Handler struct {
	service        Service
	logger         *slog.Logger
	maxFramePixels int
}

type Option func(*Handler)

// WithMaxFramePixels bounds the dimensions of uploaded capture frames.
func WithMaxFramePixels(n int) Option {
	return func(h *Handler) {
		h.maxFramePixels = n
	}
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{service: service, logger: logger, maxFramePixels: capture.DefaultMaxPixels}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the processing endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/processing/attempts", func(r chi.Router) {
		r.Post("/", h.HandleStart)
		r.Route("/{attemptID}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Post("/document", h.HandleDocument)
			r.Post("/confirm", h.simple(Service.ConfirmIdentity))
			r.Post("/back-to-confirm", h.simple(Service.BackToConfirm))
			r.Post("/cancel", h.simple(Service.CancelAttempt))
			r.Put("/captures/{kind}", h.HandleCapture)
			r.Delete("/captures/{kind}", h.HandleClearCapture)
			r.Post("/analysis", h.simple(Service.StartAnalysis))
			r.Post("/back-to-capture", h.simple(Service.BackToCapture))
			r.Post("/alerts/{alertID}/ack", h.HandleAcknowledge)
			r.Put("/decision", h.HandleDecision)
			r.Put("/notes", h.HandleNotes)
			r.Put("/merge-choice", h.HandleMergeChoice)
			r.Post("/complete", h.simple(Service.CompleteTransaction))
			r.Post("/transfer", h.simple(Service.TransferToDutyManager))
			r.Post("/reset", h.simple(Service.ResetAttempt))
		})
	})
}

// HandleStart handles POST /processing/attempts.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx, collector := notify.WithCollector(r.Context())
	officerID := requestcontext.OfficerID(ctx)
	if officerID.IsNil() {
		h.fail(ctx, w, collector, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	attempt, err := h.service.StartAttempt(ctx, officerID)
	if err != nil {
		h.fail(ctx, w, collector, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(attempt, collector.Items()))
}

// HandleGet handles GET /processing/attempts/{attemptID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
		return h.service.Attempt(ctx, attemptID)
	})
}

// HandleDocument handles POST /processing/attempts/{attemptID}/document.
func (h *Handler) HandleDocument(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[ImageRequest](w, r, h.logger, r.Context(), requestcontext.RequestID(r.Context()))
	if !ok {
		return
	}
	h.run(w, r, func(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
		return h.service.SubmitDocumentScan(ctx, attemptID, req.Image)
	})
}

// HandleCapture handles PUT /processing/attempts/{attemptID}/captures/{kind}.
// The body carries one encoded frame from the workstation device.
func (h *Handler) HandleCapture(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.captureKind(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ImageRequest](w, r, h.logger, r.Context(), requestcontext.RequestID(r.Context()))
	if !ok {
		return
	}
	h.run(w, r, func(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
		return h.service.CaptureBiometric(ctx, attemptID, kind, capture.NewUploaded(req.Image, h.maxFramePixels))
	})
}

// HandleClearCapture handles DELETE /processing/attempts/{attemptID}/captures/{kind}.
func (h *Handler) HandleClearCapture(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.captureKind(w, r)
	if !ok {
		return
	}
	h.run(w, r, func(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
		return h.service.ClearBiometric(ctx, attemptID, kind)
	})
}

// HandleAcknowledge handles POST /processing/attempts/{attemptID}/alerts/{alertID}/ack.
func (h *Handler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")
	h.run(w, r, func(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
		return h.service.AcknowledgeAlert(ctx, attemptID, alertID)
	})
}

// HandleDecision handles PUT /processing/attempts/{attemptID}/decision.
func (h *Handler) HandleDecision(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[DecisionRequest](w, r, h.logger, r.Context(), requestcontext.RequestID(r.Context()))
	if !ok {
		return
	}
	h.run(w, r, func(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
		return h.service.SetFinalDecision(ctx, attemptID, req.parsed)
	})
}

// HandleNotes handles PUT /processing/attempts/{attemptID}/notes.
func (h *Handler) HandleNotes(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[NotesRequest](w, r, h.logger, r.Context(), requestcontext.RequestID(r.Context()))
	if !ok {
		return
	}
	h.run(w, r, func(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
		return h.service.SetOfficerNotes(ctx, attemptID, req.Notes)
	})
}

// HandleMergeChoice handles PUT /processing/attempts/{attemptID}/merge-choice.
func (h *Handler) HandleMergeChoice(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[MergeChoiceRequest](w, r, h.logger, r.Context(), requestcontext.RequestID(r.Context()))
	if !ok {
		return
	}
	h.run(w, r, func(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
		return h.service.SetMergeChoice(ctx, attemptID, models.MergeChoice(req.Choice))
	})
}

// simple adapts a service method that takes only the attempt ID.
func (h *Handler) simple(op func(Service, context.Context, id.AttemptID) (models.Attempt, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.run(w, r, func(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
			return op(h.service, ctx, attemptID)
		})
	}
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request, op func(context.Context, id.AttemptID) (models.Attempt, error)) {
	ctx, collector := notify.WithCollector(r.Context())
	attemptID, err := id.ParseAttemptID(chi.URLParam(r, "attemptID"))
	if err != nil {
		h.fail(ctx, w, collector, err)
		return
	}
	attempt, err := op(ctx, attemptID)
	if err != nil {
		h.fail(ctx, w, collector, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(attempt, collector.Items()))
}

func (h *Handler) captureKind(w http.ResponseWriter, r *http.Request) (models.CaptureKind, bool) {
	kind, ok := models.ParseCaptureKind(chi.URLParam(r, "kind"))
	if !ok || !kind.IsBiometric() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "unknown biometric capture kind"))
		return "", false
	}
	return kind, true
}

// fail writes the error envelope with whatever notifications were raised
// before the failure.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, collector *notify.Collector, err error) {
	status, body := httputil.ErrorBody(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "processing request failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteJSON(w, status, errorResponse{ErrorResponse: body, Notifications: collector.Items()})
}
