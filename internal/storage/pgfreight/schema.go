package pgfreight

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS resources (
  account_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  id TEXT NOT NULL,
  state TEXT NOT NULL,
  held_by_trip TEXT NULL,
  available_again_at TIMESTAMPTZ NULL,
  version BIGINT NOT NULL DEFAULT 1,
  profile JSONB NOT NULL DEFAULT '{}'::jsonb,
  updated_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (account_id, kind, id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_resources_held_by_trip ON resources(held_by_trip) WHERE held_by_trip IS NOT NULL`,
		`
CREATE TABLE IF NOT EXISTS trips (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  origin JSONB NULL,
  destination JSONB NULL,
  driver_id TEXT NULL,
  vehicle_id TEXT NULL,
  trailer_id TEXT NULL,
  partner_id TEXT NULL,
  distance_km DOUBLE PRECISION NULL,
  status TEXT NOT NULL,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_trips_account_status ON trips(account_id, status, created_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS invoices (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  trip_id TEXT NOT NULL REFERENCES trips(id),
  emitter JSONB NOT NULL,
  receiver JSONB NOT NULL,
  payment_terms TEXT NOT NULL,
  credit_days INT NOT NULL DEFAULT 0,
  currency TEXT NOT NULL,
  subtotal NUMERIC(14,2) NOT NULL,
  tax_transferred NUMERIC(14,2) NOT NULL,
  tax_withheld NUMERIC(14,2) NOT NULL,
  total NUMERIC(14,2) NOT NULL,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_trip_id ON invoices(trip_id)`,
		`
CREATE TABLE IF NOT EXISTS waybill_drafts (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  trip_id TEXT NOT NULL REFERENCES trips(id),
  invoice_id TEXT NULL REFERENCES invoices(id),
  status TEXT NOT NULL,
  fiscal_folio TEXT NULL,
  document JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_waybill_drafts_trip_id ON waybill_drafts(trip_id)`,
		`
CREATE TABLE IF NOT EXISTS audit_events (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  type TEXT NOT NULL,
  refs JSONB NOT NULL DEFAULT '{}'::jsonb,
  payload JSONB NULL,
  occurred_at TIMESTAMPTZ NOT NULL,
  published_at TIMESTAMPTZ NULL,
  attempts INT NOT NULL DEFAULT 0,
  next_attempt_at TIMESTAMPTZ NOT NULL,
  last_error TEXT NULL,
  seq BIGSERIAL
)`,
		`ALTER TABLE audit_events ADD COLUMN IF NOT EXISTS seq BIGSERIAL`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_pending ON audit_events(next_attempt_at) WHERE published_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_account_seq ON audit_events(account_id, seq) WHERE published_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_refs ON audit_events USING GIN (refs)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
