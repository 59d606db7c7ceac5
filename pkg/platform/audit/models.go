package audit

import (
	"context"
	"time"

	id "checkpoint/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// Categories drive retention and routing downstream of the outbox.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance:
	// finalized and escalated border-crossing transactions.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring:
	// rejected tokens and capability denials at officer workstations.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for operational visibility.
	// These can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is the transport-agnostic audit record written to stores.
type Event struct {
	Category    EventCategory
	Timestamp   time.Time
	OfficerID   id.OfficerID
	Subject     string
	Action      string
	Decision    string
	Status      string
	Reason      string
	RequestID   string
	ClientIP    string
	Workstation string
	// SubjectIDHash is a SHA-256 hash of the travel document number. Used for
	// traceability without storing raw document numbers in the audit trail.
	SubjectIDHash string
}

// Store persists audit events. Postgres-backed stores write to the outbox and
// join the caller's transaction when one is present in ctx.
type Store interface {
	Append(ctx context.Context, event Event) error
}

type AuditEvent string

const (
	// Transaction events
	EventTransactionCompleted AuditEvent = "transaction_completed"
	EventTransactionEscalated AuditEvent = "transaction_escalated"

	// Attempt lifecycle events
	EventAttemptStarted   AuditEvent = "attempt_started"
	EventAttemptCancelled AuditEvent = "attempt_cancelled"
	EventAnalysisFailed   AuditEvent = "analysis_failed"
	EventExtractionFailed AuditEvent = "extraction_failed"

	// Access events
	EventAuthFailed       AuditEvent = "auth_failed"
	EventCapabilityDenied AuditEvent = "capability_denied"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventTransactionCompleted: CategoryCompliance,
	EventTransactionEscalated: CategoryCompliance,

	EventAuthFailed:       CategorySecurity,
	EventCapabilityDenied: CategorySecurity,

	EventAttemptStarted:   CategoryOperations,
	EventAttemptCancelled: CategoryOperations,
	EventAnalysisFailed:   CategoryOperations,
	EventExtractionFailed: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// -----------------------------------------------------------------------------
// Right-sized event types for the three publishers
// -----------------------------------------------------------------------------

// ComplianceEvent captures a finalized or escalated transaction. Emitted
// fail-closed inside the transaction that saves the record.
type ComplianceEvent struct {
	Timestamp     time.Time    // set automatically if zero
	OfficerID     id.OfficerID // required
	Subject       string       // transaction ID
	Action        string       // transaction_completed | transaction_escalated
	Decision      string       // Approved | Rejected | Manual Review
	Status        string       // Completed | Failed | Pending
	SubjectIDHash string
	RequestID     string
	Workstation   string
}

// Category returns CategoryCompliance (always).
func (e ComplianceEvent) Category() EventCategory { return CategoryCompliance }

// ToEvent converts to the stored Event shape.
func (e ComplianceEvent) ToEvent() Event {
	return Event{
		Category:      CategoryCompliance,
		Timestamp:     e.Timestamp,
		OfficerID:     e.OfficerID,
		Subject:       e.Subject,
		Action:        e.Action,
		Decision:      e.Decision,
		Status:        e.Status,
		SubjectIDHash: e.SubjectIDHash,
		RequestID:     e.RequestID,
		Workstation:   e.Workstation,
	}
}

// SecurityEvent captures access failures. Buffered and flushed asynchronously.
type SecurityEvent struct {
	Timestamp time.Time
	Subject   string // officer ID or "anonymous"
	Action    string
	Reason    string
	IP        string
	RequestID string
	Severity  Severity
}

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Category returns CategorySecurity (always).
func (e SecurityEvent) Category() EventCategory { return CategorySecurity }

// ToEvent converts to the stored Event shape.
func (e SecurityEvent) ToEvent() Event {
	return Event{
		Category:  CategorySecurity,
		Timestamp: e.Timestamp,
		Subject:   e.Subject,
		Action:    e.Action,
		Reason:    e.Reason + severitySuffix(e.Severity),
		RequestID: e.RequestID,
		ClientIP:  e.IP,
	}
}

func severitySuffix(s Severity) string {
	if s == "" {
		return ""
	}
	return " [" + string(s) + "]"
}

// OpsEvent captures attempt lifecycle activity. Sampled, best effort.
type OpsEvent struct {
	Timestamp time.Time
	OfficerID id.OfficerID
	Subject   string // attempt ID
	Action    string
	Reason    string
	RequestID string
}

// Category returns CategoryOperations (always).
func (e OpsEvent) Category() EventCategory { return CategoryOperations }

// ToEvent converts to the stored Event shape.
func (e OpsEvent) ToEvent() Event {
	return Event{
		Category:  CategoryOperations,
		Timestamp: e.Timestamp,
		OfficerID: e.OfficerID,
		Subject:   e.Subject,
		Action:    e.Action,
		Reason:    e.Reason,
		RequestID: e.RequestID,
	}
}
