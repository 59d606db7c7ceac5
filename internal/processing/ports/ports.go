// Package ports declares what the processing service consumes. Adapters in
// sibling packages implement these; the service depends only on this file.
package ports

import (
	"context"
	"image"

	"checkpoint/internal/processing/models"
	id "checkpoint/pkg/domain"
	audit "checkpoint/pkg/platform/audit"
)

// DocumentExtractor turns a scanned document image into identity fields.
type DocumentExtractor interface {
	ExtractDocument(ctx context.Context, image []byte) (models.ExtractedIdentity, error)
}

// AssessmentRequest is the combined analysis input.
type AssessmentRequest struct {
	Module       string
	DocumentScan []byte
	LiveFace     []byte
}

// RiskAssessor runs the combined identity and risk assessment.
type RiskAssessor interface {
	AssessTransaction(ctx context.Context, req AssessmentRequest) (*models.Assessment, error)
}

// TransactionStore persists a record and the passenger it points at in one
// write. Stores join the transaction carried in ctx when there is one.
//
// A second save for an attempt generation that is already recorded writes
// nothing and returns the stored record's ID wrapped in sentinel.ErrConflict.
type TransactionStore interface {
	SaveTransaction(ctx context.Context, sub models.Submission) (id.TransactionID, error)
	FindByID(ctx context.Context, txID id.TransactionID) (models.TransactionRecord, error)
}

// AttachmentStore stores capture images and hands back a reference.
type AttachmentStore interface {
	Put(ctx context.Context, kind models.CaptureKind, data []byte) (string, error)
}

// AttemptStore holds live attempts between requests.
type AttemptStore interface {
	Get(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error)
	Save(ctx context.Context, attempt models.Attempt) error
}

// FrameSource is a camera or sensor. Callers Acquire before reading and
// always Release afterwards.
type FrameSource interface {
	Acquire(ctx context.Context) error
	ReadFrame(ctx context.Context) (image.Image, error)
	Release() error
}

// NotificationKind is the severity of an officer-facing notification.
type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyError   NotificationKind = "error"
	NotifyInfo    NotificationKind = "info"
)

type Notification struct {
	Kind        NotificationKind `json:"kind"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
}

// Notifier is fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// AuditPublisher emits compliance events fail-closed.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

// OpsTracker records attempt lifecycle events, best effort.
type OpsTracker interface {
	Track(ctx context.Context, event audit.OpsEvent)
}

// TxRunner runs fn inside one storage transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
