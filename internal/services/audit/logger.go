// Package audit records orchestration events. A failed write never fails the caller.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/FreightDesk/internal/account"
	"github.com/BearBump/FreightDesk/internal/metrics"
	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/google/uuid"
)

type Store interface {
	AppendAuditEvent(ctx context.Context, e models.AuditEvent) error
}

type Logger struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Logger {
	return &Logger{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Record appends one event. refs holds associated record ids, payload optional details.
func (l *Logger) Record(ctx context.Context, acct account.Context, typ models.AuditEventType, refs map[string]string, payload map[string]any) {
	e := models.AuditEvent{
		ID:         uuid.NewString(),
		AccountID:  acct.AccountID,
		Type:       typ,
		Refs:       refs,
		OccurredAt: l.now(),
		Payload:    payload,
	}
	if acct.UserID != "" {
		if e.Payload == nil {
			e.Payload = map[string]any{}
		}
		e.Payload["user_id"] = acct.UserID
	}
	if err := l.store.AppendAuditEvent(ctx, e); err != nil {
		metrics.AuditWriteFailures.Inc()
		slog.Warn("audit write failed", "type", typ, "account_id", acct.AccountID, "refs", refs, "err", err)
	}
}

type Recorder interface {
	Record(ctx context.Context, acct account.Context, typ models.AuditEventType, refs map[string]string, payload map[string]any)
}

// Batch collects events during an orchestration so they are written together at the end.
type Batch struct {
	r      Recorder
	acct   account.Context
	events []pending
}

type pending struct {
	typ     models.AuditEventType
	refs    map[string]string
	payload map[string]any
}

func NewBatch(r Recorder, acct account.Context) *Batch {
	return &Batch{r: r, acct: acct}
}

func (b *Batch) Add(typ models.AuditEventType, refs map[string]string, payload map[string]any) {
	b.events = append(b.events, pending{typ: typ, refs: refs, payload: payload})
}

func (b *Batch) Len() int { return len(b.events) }

// Flush writes the collected events in order and empties the batch.
func (b *Batch) Flush(ctx context.Context) {
	for _, e := range b.events {
		b.r.Record(ctx, b.acct, e.typ, e.refs, e.payload)
	}
	b.events = nil
}
