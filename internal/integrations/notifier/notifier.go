// Package notifier pushes operator-facing notices (advisories, failed orchestrations) to an external sink.
package notifier

import (
	"context"
	"time"

	"github.com/BearBump/FreightDesk/internal/models"
)

type Kind string

const (
	KindAdvisories          Kind = "trip.advisories"
	KindOrchestrationFailed Kind = "trip.orchestration_failed"
)

type Notification struct {
	Kind       Kind              `json:"kind"`
	AccountID  string            `json:"accountId"`
	TripID     string            `json:"tripId,omitempty"`
	Refs       map[string]string `json:"refs,omitempty"`
	Advisories []models.Advisory `json:"advisories,omitempty"`
	Message    string            `json:"message,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

type Sink interface {
	Notify(ctx context.Context, n Notification) error
}
