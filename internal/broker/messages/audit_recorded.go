package messages

import (
	"time"

	"github.com/BearBump/FreightDesk/internal/models"
)

const TopicTripAudit = "trip.audit"

// AuditRecorded is published by the relay for every audit row, keyed by account id.
type AuditRecorded struct {
	EventID    string                `json:"event_id"`
	AccountID  string                `json:"account_id"`
	Type       models.AuditEventType `json:"type"`
	Refs       map[string]string     `json:"refs"`
	OccurredAt time.Time             `json:"occurred_at"`
	Payload    map[string]any        `json:"payload,omitempty"`

	Attempt int32 `json:"attempt"`
}

func NewAuditRecorded(e models.AuditEvent, attempt int32) AuditRecorded {
	return AuditRecorded{
		EventID:    e.ID,
		AccountID:  e.AccountID,
		Type:       e.Type,
		Refs:       e.Refs,
		OccurredAt: e.OccurredAt,
		Payload:    e.Payload,
		Attempt:    attempt,
	}
}
