package pgfreight

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BearBump/FreightDesk/internal/errs"
	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const invoiceColumns = `
  id, account_id, trip_id, emitter, receiver,
  payment_terms, credit_days, currency,
  subtotal, tax_transferred, tax_withheld, total,
  status, created_at`

const draftColumns = `
  id, account_id, trip_id, invoice_id, status, fiscal_folio, document, created_at, updated_at`

func (s *Storage) CreateInvoice(ctx context.Context, inv *models.Invoice) error {
	emitter, err := json.Marshal(inv.Emitter)
	if err != nil {
		return errors.Wrap(err, "marshal emitter")
	}
	receiver, err := json.Marshal(inv.Receiver)
	if err != nil {
		return errors.Wrap(err, "marshal receiver")
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO invoices (
  id, account_id, trip_id, emitter, receiver,
  payment_terms, credit_days, currency,
  subtotal, tax_transferred, tax_withheld, total,
  status, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`, inv.ID, inv.AccountID, inv.TripID, string(emitter), string(receiver),
		inv.PaymentTerms, inv.CreditDays, inv.Currency,
		inv.Subtotal, inv.TaxTransfer, inv.TaxWithheld, inv.Total,
		inv.Status, inv.CreatedAt.UTC())
	return errors.Wrap(err, "insert invoice")
}

func (s *Storage) GetInvoice(ctx context.Context, accountID, id string) (*models.Invoice, error) {
	var inv models.Invoice
	var emitter, receiver []byte
	err := s.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE account_id = $1 AND id = $2`, accountID, id).Scan(
		&inv.ID, &inv.AccountID, &inv.TripID, &emitter, &receiver,
		&inv.PaymentTerms, &inv.CreditDays, &inv.Currency,
		&inv.Subtotal, &inv.TaxTransfer, &inv.TaxWithheld, &inv.Total,
		&inv.Status, &inv.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select invoice")
	}
	if err := json.Unmarshal(emitter, &inv.Emitter); err != nil {
		return nil, errors.Wrap(err, "unmarshal emitter")
	}
	if err := json.Unmarshal(receiver, &inv.Receiver); err != nil {
		return nil, errors.Wrap(err, "unmarshal receiver")
	}
	return &inv, nil
}

func (s *Storage) VoidInvoice(ctx context.Context, accountID, id string) error {
	_, err := s.db.Exec(ctx, `UPDATE invoices SET status = $3 WHERE account_id = $1 AND id = $2`,
		accountID, id, models.InvoiceStatusVoided)
	return errors.Wrap(err, "void invoice")
}

func (s *Storage) CreateWaybillDraft(ctx context.Context, d *models.WaybillDraft) error {
	doc, err := json.Marshal(d.Document)
	if err != nil {
		return errors.Wrap(err, "marshal waybill document")
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO waybill_drafts (id, account_id, trip_id, invoice_id, status, fiscal_folio, document, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
`, d.ID, d.AccountID, d.TripID, d.InvoiceID, d.Status, d.FiscalFolio, string(doc), d.CreatedAt.UTC())
	return errors.Wrap(err, "insert waybill draft")
}

func (s *Storage) GetWaybillDraft(ctx context.Context, accountID, id string) (*models.WaybillDraft, error) {
	row := s.db.QueryRow(ctx, `SELECT `+draftColumns+` FROM waybill_drafts WHERE account_id = $1 AND id = $2`, accountID, id)
	d, err := scanDraft(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select waybill draft")
	}
	return d, nil
}

// UpdateDraftStatus applies a renderer status change. folio is stored when non-nil.
func (s *Storage) UpdateDraftStatus(ctx context.Context, accountID, id string, status models.DraftStatus, folio *string) (*models.WaybillDraft, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	d, err := scanDraft(tx.QueryRow(ctx,
		`SELECT `+draftColumns+` FROM waybill_drafts WHERE account_id = $1 AND id = $2 FOR UPDATE`, accountID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select waybill draft")
	}
	if d.Status == status {
		return d, nil
	}
	if !d.Status.CanTransition(status) {
		return nil, errors.Wrap(errs.ErrInvalidTransition, fmt.Sprintf("%s -> %s", d.Status, status))
	}

	err = tx.QueryRow(ctx, `
UPDATE waybill_drafts
SET status = $3, fiscal_folio = COALESCE($4, fiscal_folio), updated_at = now()
WHERE account_id = $1 AND id = $2
RETURNING status, fiscal_folio, updated_at
`, accountID, id, status, folio).Scan(&d.Status, &d.FiscalFolio, &d.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "update waybill draft status")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return d, nil
}

func scanDraft(row pgx.Row) (*models.WaybillDraft, error) {
	var d models.WaybillDraft
	var doc []byte
	if err := row.Scan(
		&d.ID, &d.AccountID, &d.TripID, &d.InvoiceID, &d.Status, &d.FiscalFolio, &doc, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(doc, &d.Document); err != nil {
		return nil, errors.Wrap(err, "unmarshal waybill document")
	}
	return &d, nil
}
