package pgfreight

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type AuditStats struct {
	Pending   int64 `json:"pending"`
	Failing   int64 `json:"failing"`
	Published int64 `json:"published"`
}

// AppendAuditEvent stores an event; it becomes due for the relay immediately.
func (s *Storage) AppendAuditEvent(ctx context.Context, e models.AuditEvent) error {
	refs, err := json.Marshal(nonNilMeta(e.Refs))
	if err != nil {
		return errors.Wrap(err, "marshal refs")
	}
	var payload *string
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return errors.Wrap(err, "marshal payload")
		}
		p := string(b)
		payload = &p
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO audit_events (id, account_id, type, refs, payload, occurred_at, next_attempt_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)
ON CONFLICT (id) DO NOTHING
`, e.ID, e.AccountID, e.Type, string(refs), payload, e.OccurredAt.UTC())
	return errors.Wrap(err, "insert audit event")
}

// ListAuditEvents returns events referencing the given record id, oldest first.
func (s *Storage) ListAuditEvents(ctx context.Context, accountID, refKey, refID string) ([]models.AuditEvent, error) {
	filter, err := json.Marshal(map[string]string{refKey: refID})
	if err != nil {
		return nil, errors.Wrap(err, "marshal filter")
	}
	rows, err := s.db.Query(ctx, `
SELECT id, account_id, type, refs, payload, occurred_at
FROM audit_events
WHERE account_id = $1 AND refs @> $2::jsonb
ORDER BY occurred_at ASC, seq ASC
`, accountID, string(filter))
	if err != nil {
		return nil, errors.Wrap(err, "select audit events")
	}
	defer rows.Close()

	var out []models.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan audit event")
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ClaimDueAuditEvents picks unpublished events whose next attempt is due and leases them,
// so concurrent relays do not pick the same rows. Uses SELECT ... FOR UPDATE SKIP LOCKED.
// An event waits while an older event of the same account is backing off.
func (s *Storage) ClaimDueAuditEvents(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]models.PendingAuditEvent, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT e.id, e.account_id, e.type, e.refs, e.payload, e.occurred_at, e.attempts
FROM audit_events e
WHERE e.published_at IS NULL
  AND e.next_attempt_at <= $1
  AND NOT EXISTS (
    SELECT 1 FROM audit_events b
    WHERE b.account_id = e.account_id
      AND b.published_at IS NULL
      AND b.seq < e.seq
      AND b.next_attempt_at > $1
  )
ORDER BY e.next_attempt_at ASC, e.seq ASC
LIMIT $2
FOR UPDATE OF e SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due audit events")
	}

	var picked []models.PendingAuditEvent
	for rows.Next() {
		var p models.PendingAuditEvent
		var refs, payload []byte
		if err := rows.Scan(
			&p.Event.ID, &p.Event.AccountID, &p.Event.Type, &refs, &payload, &p.Event.OccurredAt, &p.Attempts,
		); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan due audit event")
		}
		if err := decodeAuditJSON(&p.Event, refs, payload); err != nil {
			rows.Close()
			return nil, err
		}
		picked = append(picked, p)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, p := range picked {
		if _, err := tx.Exec(ctx, `UPDATE audit_events SET next_attempt_at = $2 WHERE id = $1`, p.Event.ID, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease audit event")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func (s *Storage) MarkAuditPublished(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE audit_events SET published_at = $2, attempts = attempts + 1, last_error = NULL WHERE id = $1
`, id, at.UTC())
	return errors.Wrap(err, "mark audit event published")
}

func (s *Storage) MarkAuditFailed(ctx context.Context, id, lastErr string, nextAttemptAt time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE audit_events SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3 WHERE id = $1
`, id, lastErr, nextAttemptAt.UTC())
	return errors.Wrap(err, "mark audit event failed")
}

func (s *Storage) AuditStats(ctx context.Context) (AuditStats, error) {
	var st AuditStats
	err := s.db.QueryRow(ctx, `
SELECT
  COUNT(*) FILTER (WHERE published_at IS NULL),
  COUNT(*) FILTER (WHERE published_at IS NULL AND attempts > 0),
  COUNT(*) FILTER (WHERE published_at IS NOT NULL)
FROM audit_events
`).Scan(&st.Pending, &st.Failing, &st.Published)
	return st, errors.Wrap(err, "audit stats")
}

func scanAuditEvent(row pgx.Row) (models.AuditEvent, error) {
	var e models.AuditEvent
	var refs, payload []byte
	if err := row.Scan(&e.ID, &e.AccountID, &e.Type, &refs, &payload, &e.OccurredAt); err != nil {
		return e, err
	}
	return e, decodeAuditJSON(&e, refs, payload)
}

func decodeAuditJSON(e *models.AuditEvent, refs, payload []byte) error {
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &e.Refs); err != nil {
			return errors.Wrap(err, "unmarshal refs")
		}
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return errors.Wrap(err, "unmarshal payload")
		}
	}
	return nil
}
