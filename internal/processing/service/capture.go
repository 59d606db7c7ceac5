package service

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"

	"checkpoint/internal/processing/engine"
	"checkpoint/internal/processing/models"
	"checkpoint/internal/processing/ports"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
	"checkpoint/pkg/requestcontext"
)

const jpegQuality = 90

// CaptureBiometric reads one frame from src and stores it as kind,
// replacing any earlier capture. The source is released on every path.
func (o *Orchestrator) CaptureBiometric(ctx context.Context, attemptID id.AttemptID, kind models.CaptureKind, src ports.FrameSource) (models.Attempt, error) {
	a, err := o.load(ctx, attemptID)
	if err != nil {
		return models.Attempt{}, err
	}
	if err := engine.CheckCapture(a, kind); err != nil {
		o.rejected(ctx, a, engine.CaptureBiometric{Kind: kind}, err)
		return a, err
	}

	frame, err := o.readFrame(ctx, src)
	if err != nil {
		o.logger.WarnContext(ctx, "camera capture failed",
			"attempt_id", attemptID,
			"kind", kind,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		if dErrors.Is(err, dErrors.CodeValidation) {
			o.notify(ctx, ports.NotifyError, "Frame rejected", describe(err))
			return a, err
		}
		o.notify(ctx, ports.NotifyError, "Camera unavailable", "No frame was captured. Check the device and retry.")
		return a, err
	}
	return o.apply(ctx, attemptID, engine.CaptureBiometric{Kind: kind, Image: frame})
}

func (o *Orchestrator) readFrame(ctx context.Context, src ports.FrameSource) ([]byte, error) {
	if src == nil {
		return nil, dErrors.New(dErrors.CodeCameraUnavailable, "no frame source")
	}
	if err := src.Acquire(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCameraUnavailable, "camera could not be acquired")
	}
	defer func() {
		if relErr := src.Release(); relErr != nil {
			o.logger.WarnContext(ctx, "failed to release frame source", "error", relErr)
		}
	}()

	img, err := src.ReadFrame(ctx)
	if dErrors.Is(err, dErrors.CodeValidation) {
		return nil, err
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCameraUnavailable, "camera returned no frame")
	}
	if img == nil || img.Bounds().Empty() {
		return nil, dErrors.New(dErrors.CodeCameraUnavailable, "camera returned an empty frame")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCameraUnavailable, "frame could not be encoded")
	}
	if buf.Len() == 0 {
		return nil, dErrors.Wrap(errors.New("empty encoding"), dErrors.CodeCameraUnavailable, "frame could not be encoded")
	}
	return buf.Bytes(), nil
}
