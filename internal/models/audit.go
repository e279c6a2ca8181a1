package models

import "time"

type AuditEventType string

const (
	AuditResourcesValidated  AuditEventType = "trip.resources_validated"
	AuditTripCreated         AuditEventType = "trip.created"
	AuditInvoiceCreated      AuditEventType = "invoice.created"
	AuditDraftCreated        AuditEventType = "waybill_draft.created"
	AuditTripLinked          AuditEventType = "trip.linked"
	AuditOrchestrationFailed AuditEventType = "trip.orchestration_failed"
	AuditDraftStatusChanged  AuditEventType = "waybill_draft.status_changed"
)

// AuditEvent is append-only; Refs holds associated record ids (trip_id, invoice_id, waybill_draft_id).
type AuditEvent struct {
	ID         string            `json:"id"`
	AccountID  string            `json:"accountId"`
	Type       AuditEventType    `json:"type"`
	Refs       map[string]string `json:"refs"`
	OccurredAt time.Time         `json:"occurredAt"`
	Payload    map[string]any    `json:"payload,omitempty"`
}

// PendingAuditEvent is an audit row claimed by the relay.
type PendingAuditEvent struct {
	Event    AuditEvent
	Attempts int32
}
