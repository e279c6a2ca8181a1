// Package orchestrator runs the trip creation saga: validate, reserve, persist the trip,
// derive the pre-invoice and waybill draft, link them and record audit events.
//
// Every step that persists something pushes a compensation. When a later step fails the
// compensations run in reverse and the caller gets a *errs.StageError wrapping the cause.
package orchestrator

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/BearBump/FreightDesk/internal/account"
	"github.com/BearBump/FreightDesk/internal/errs"
	"github.com/BearBump/FreightDesk/internal/metrics"
	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/BearBump/FreightDesk/internal/services/audit"
	"github.com/BearBump/FreightDesk/internal/services/availability"
	"github.com/BearBump/FreightDesk/internal/services/classification"
	"github.com/BearBump/FreightDesk/internal/services/mapper"
	"github.com/google/uuid"
)

type Stage string

const (
	StageValidating        Stage = "validating"
	StageReserving         Stage = "reserving"
	StagePersistingTrip    Stage = "persisting_trip"
	StagePersistingInvoice Stage = "persisting_invoice"
	StageDerivingManifest  Stage = "deriving_manifest"
	StagePersistingDraft   Stage = "persisting_draft"
	StageLinking           Stage = "linking"
	StageAuditing          Stage = "auditing"
	StageDone              Stage = "done"
	StageAborted           Stage = "aborted"
)

type Store interface {
	GetResource(ctx context.Context, accountID string, kind models.ResourceKind, id string) (*models.Resource, error)
	CreateTrip(ctx context.Context, t *models.Trip) error
	SetTripStatus(ctx context.Context, accountID, tripID string, status models.TripStatus, meta map[string]string) error
	MergeTripMetadata(ctx context.Context, accountID, tripID string, meta map[string]string) error
	CreateInvoice(ctx context.Context, inv *models.Invoice) error
	VoidInvoice(ctx context.Context, accountID, id string) error
	CreateWaybillDraft(ctx context.Context, d *models.WaybillDraft) error
	UpdateDraftStatus(ctx context.Context, accountID, id string, status models.DraftStatus, folio *string) (*models.WaybillDraft, error)
}

type Availability interface {
	CheckAll(ctx context.Context, acct account.Context, sel models.Selection, w models.Window) (availability.AvailabilityReport, error)
	Reserve(ctx context.Context, acct account.Context, tripID string, sel models.Selection, report availability.AvailabilityReport) ([]models.ResourceRef, error)
	Release(ctx context.Context, acct account.Context, tripID string, refs []models.ResourceRef) error
}

type Classifier interface {
	Classify(raw string, itemized []models.CargoLineItem) classification.Classification
}

type Config struct {
	// BillableServiceTypes are the service types that get a pre-invoice.
	BillableServiceTypes []string
	Currency             string
	TaxTransferRate      float64
	TaxWithholdingRate   float64
}

func DefaultConfig() Config {
	return Config{
		BillableServiceTypes: []string{"paid-freight"},
		Currency:             "MXN",
		TaxTransferRate:      0.16,
		TaxWithholdingRate:   0.04,
	}
}

// WizardData is the trip-planning input after ingestion.
type WizardData struct {
	Origin      *models.Location
	Destination *models.Location
	Selection   models.Selection
	DistanceKm  *float64

	CargoDescription string
	CargoItems       []models.CargoLineItem
	ServiceType      string

	FreightAmount float64
	PaymentTerms  string

	Personnel []models.PersonnelEntry
	// Advisories raised before orchestration, e.g. by legacy address conversion.
	Advisories []models.Advisory
}

type Result struct {
	TripID     string            `json:"tripId"`
	InvoiceID  *string           `json:"invoiceId,omitempty"`
	DraftID    string            `json:"waybillDraftId"`
	Stage      Stage             `json:"stage"`
	Warnings   []string          `json:"warnings,omitempty"`
	Advisories []models.Advisory `json:"advisories,omitempty"`
}

type Orchestrator struct {
	store      Store
	avail      Availability
	classifier Classifier
	audit      audit.Recorder
	cfg        Config

	now   func() time.Time
	newID func() string
}

func New(store Store, avail Availability, classifier Classifier, rec audit.Recorder, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if len(cfg.BillableServiceTypes) == 0 {
		cfg.BillableServiceTypes = def.BillableServiceTypes
	}
	if cfg.Currency == "" {
		cfg.Currency = def.Currency
	}
	if cfg.TaxTransferRate == 0 {
		cfg.TaxTransferRate = def.TaxTransferRate
	}
	if cfg.TaxWithholdingRate == 0 {
		cfg.TaxWithholdingRate = def.TaxWithholdingRate
	}
	return &Orchestrator{
		store:      store,
		avail:      avail,
		classifier: classifier,
		audit:      rec,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

func (o *Orchestrator) IsBillable(serviceType string) bool {
	for _, t := range o.cfg.BillableServiceTypes {
		if strings.EqualFold(t, strings.TrimSpace(serviceType)) {
			return true
		}
	}
	return false
}

type compensation struct {
	name string
	fn   func(ctx context.Context) error
}

// run holds the state of one orchestration.
type run struct {
	o     *Orchestrator
	acct  account.Context
	wd    WizardData
	stage Stage
	res   Result
	batch *audit.Batch
	comps []compensation

	partner *models.Resource
}

// CreateCompleteTrip runs the saga. On success every record is linked and audited.
func (o *Orchestrator) CreateCompleteTrip(ctx context.Context, acct account.Context, wd WizardData) (Result, error) {
	started := time.Now()
	if err := acct.Validate(); err != nil {
		return Result{}, err
	}

	r := &run{o: o, acct: acct, wd: wd, batch: audit.NewBatch(o.audit, acct)}
	r.res.Advisories = append(r.res.Advisories, wd.Advisories...)

	err := r.execute(ctx)
	metrics.OrchestrationDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.Orchestrations.WithLabelValues("aborted", string(r.stage)).Inc()
		return r.abort(ctx, err)
	}

	r.stage = StageAuditing
	r.batch.Flush(ctx)

	r.stage = StageDone
	r.res.Stage = StageDone
	metrics.Orchestrations.WithLabelValues("done", string(StageDone)).Inc()
	slog.Info("trip orchestrated",
		"account_id", acct.AccountID,
		"trip_id", r.res.TripID,
		"invoice_id", r.res.InvoiceID,
		"waybill_draft_id", r.res.DraftID,
		"advisories", len(r.res.Advisories))
	return r.res, nil
}

func (r *run) execute(ctx context.Context) error {
	// validating
	r.stage = StageValidating
	if r.wd.Origin.IsZero() {
		return &errs.MappingError{Field: "origin", Reason: "location is required"}
	}
	if r.wd.Destination.IsZero() {
		return &errs.MappingError{Field: "destination", Reason: "location is required"}
	}
	window := models.Window{Start: r.wd.Origin.ScheduledAt, End: r.wd.Destination.ScheduledAt}
	report, err := r.o.avail.CheckAll(ctx, r.acct, r.wd.Selection, window)
	if err != nil {
		return err
	}
	if !report.AllAvailable {
		return &errs.ResourceUnavailableError{Conflicts: report.Conflicts(r.wd.Selection)}
	}
	r.res.Warnings = report.Warnings(r.wd.Selection)
	for _, w := range r.res.Warnings {
		r.res.Advisories = append(r.res.Advisories, models.Advisory{Code: models.AdvisoryAvailabilityWarning, Message: w})
	}

	// reserving
	r.stage = StageReserving
	tripID := r.o.newID()
	held, err := r.o.avail.Reserve(ctx, r.acct, tripID, r.wd.Selection, report)
	if err != nil {
		return err
	}
	r.push("release_resources", func(ctx context.Context) error {
		return r.o.avail.Release(ctx, r.acct, tripID, held)
	})
	r.batch.Add(models.AuditResourcesValidated, map[string]string{"trip_id": tripID}, map[string]any{
		"resources": refStrings(r.wd.Selection.Refs()),
		"warnings":  len(r.res.Warnings),
	})

	// persisting_trip
	r.stage = StagePersistingTrip
	trip := r.buildTrip(tripID)
	if err := r.o.store.CreateTrip(ctx, trip); err != nil {
		return errs.Transient("create trip", err)
	}
	r.res.TripID = tripID
	r.push("orphan_trip", func(ctx context.Context) error {
		return r.o.store.SetTripStatus(ctx, r.acct.AccountID, tripID, models.TripStatusOrphaned,
			map[string]string{models.MetaFailedStage: string(r.stage)})
	})
	r.batch.Add(models.AuditTripCreated, map[string]string{"trip_id": tripID}, map[string]any{
		"service_type": r.wd.ServiceType,
	})

	// persisting_invoice
	if r.o.IsBillable(r.wd.ServiceType) {
		r.stage = StagePersistingInvoice
		inv, err := r.createInvoice(ctx, trip)
		if err != nil {
			return err
		}
		r.res.InvoiceID = &inv.ID
		r.push("void_invoice", func(ctx context.Context) error {
			return r.o.store.VoidInvoice(ctx, r.acct.AccountID, inv.ID)
		})
		r.batch.Add(models.AuditInvoiceCreated, map[string]string{"trip_id": tripID, "invoice_id": inv.ID}, map[string]any{
			"total": inv.Total, "currency": inv.Currency,
		})
	}

	// deriving_manifest
	r.stage = StageDerivingManifest
	doc, err := r.deriveManifest(ctx, trip)
	if err != nil {
		return err
	}

	// persisting_draft
	r.stage = StagePersistingDraft
	now := r.o.now()
	draft := &models.WaybillDraft{
		ID:        r.o.newID(),
		AccountID: r.acct.AccountID,
		TripID:    tripID,
		InvoiceID: r.res.InvoiceID,
		Status:    models.DraftStatusDraft,
		Document:  doc,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.o.store.CreateWaybillDraft(ctx, draft); err != nil {
		return errs.Transient("create waybill draft", err)
	}
	r.res.DraftID = draft.ID
	r.push("cancel_draft", func(ctx context.Context) error {
		_, err := r.o.store.UpdateDraftStatus(ctx, r.acct.AccountID, draft.ID, models.DraftStatusCancelled, nil)
		return err
	})
	r.batch.Add(models.AuditDraftCreated, draftRefs(tripID, r.res.InvoiceID, draft.ID), map[string]any{
		"items":      doc.Goods.ItemCount,
		"advisories": len(doc.Advisories),
		"unverified": len(doc.TransportUnit.Unverified),
	})

	// linking
	r.stage = StageLinking
	links := models.TripLinks{InvoiceID: r.res.InvoiceID, WaybillDraftID: draft.ID}
	if err := r.o.LinkTripDocuments(ctx, r.acct, tripID, links); err != nil {
		return err
	}
	r.batch.Add(models.AuditTripLinked, draftRefs(tripID, r.res.InvoiceID, draft.ID), nil)
	return nil
}

// LinkTripDocuments mirrors the downstream ids into the trip metadata. Linking twice is a no-op.
func (o *Orchestrator) LinkTripDocuments(ctx context.Context, acct account.Context, tripID string, links models.TripLinks) error {
	if err := acct.Validate(); err != nil {
		return err
	}
	meta := links.Apply(nil)
	if len(meta) == 0 {
		return nil
	}
	if err := o.store.MergeTripMetadata(ctx, acct.AccountID, tripID, meta); err != nil {
		return errs.Transient("link trip documents", err)
	}
	return nil
}

func (r *run) buildTrip(id string) *models.Trip {
	now := r.o.now()
	meta := map[string]string{models.MetaServiceType: r.wd.ServiceType}
	if d := strings.TrimSpace(r.wd.CargoDescription); d != "" {
		meta[models.MetaCargoDescription] = d
	}
	sel := r.wd.Selection
	return &models.Trip{
		ID:          id,
		AccountID:   r.acct.AccountID,
		Origin:      r.wd.Origin,
		Destination: r.wd.Destination,
		DriverID:    sel.DriverID,
		VehicleID:   sel.VehicleID,
		TrailerID:   sel.TrailerID,
		PartnerID:   sel.PartnerID,
		DistanceKm:  r.wd.DistanceKm,
		Status:      models.TripStatusScheduled,
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (r *run) loadPartner(ctx context.Context) (*models.Resource, error) {
	if r.partner != nil {
		return r.partner, nil
	}
	id := r.wd.Selection.PartnerID
	if id == nil || *id == "" {
		return nil, nil
	}
	p, err := r.o.store.GetResource(ctx, r.acct.AccountID, models.ResourcePartner, *id)
	if err != nil {
		return nil, errs.Transient("get partner", err)
	}
	r.partner = p
	return p, nil
}

func (r *run) createInvoice(ctx context.Context, trip *models.Trip) (*models.Invoice, error) {
	partner, err := r.loadPartner(ctx)
	if err != nil {
		return nil, err
	}
	if partner == nil {
		return nil, &errs.MissingFiscalDataError{Entity: "trip", EntityID: trip.ID, Field: "partnerId"}
	}
	p := partner.Partner
	if p == nil || strings.TrimSpace(p.TaxID) == "" {
		return nil, &errs.MissingFiscalDataError{Entity: "partner", EntityID: partner.ID, Field: "taxId"}
	}
	if strings.TrimSpace(p.TaxRegime) == "" {
		return nil, &errs.MissingFiscalDataError{Entity: "partner", EntityID: partner.ID, Field: "taxRegime"}
	}
	if strings.TrimSpace(r.acct.Emitter.TaxID) == "" {
		return nil, &errs.MissingFiscalDataError{Entity: "account", EntityID: r.acct.AccountID, Field: "emitter.taxId"}
	}

	postal := p.PostalCode
	if postal == "" && p.Address != nil {
		postal = p.Address.PostalCode
		if postal == "" {
			postal = mapper.ParsePostalCode(p.Address.Address)
		}
	}

	subtotal := round2(r.wd.FreightAmount)
	transfer := round2(subtotal * r.o.cfg.TaxTransferRate)
	withheld := round2(subtotal * r.o.cfg.TaxWithholdingRate)

	inv := &models.Invoice{
		ID:        r.o.newID(),
		AccountID: r.acct.AccountID,
		TripID:    trip.ID,
		Emitter:   r.acct.Emitter,
		Receiver: models.FiscalParty{
			TaxID:      p.TaxID,
			Name:       p.Name,
			TaxRegime:  p.TaxRegime,
			PostalCode: postal,
		},
		PaymentTerms: paymentTerms(r.wd.PaymentTerms, p),
		CreditDays:   p.CreditDays,
		Currency:     r.o.cfg.Currency,
		Subtotal:     subtotal,
		TaxTransfer:  transfer,
		TaxWithheld:  withheld,
		Total:        round2(subtotal + transfer - withheld),
		Status:       models.InvoiceStatusDraft,
		CreatedAt:    r.o.now(),
	}
	if err := r.o.store.CreateInvoice(ctx, inv); err != nil {
		return nil, errs.Transient("create invoice", err)
	}
	return inv, nil
}

func (r *run) deriveManifest(ctx context.Context, trip *models.Trip) (models.WaybillDocument, error) {
	cls := r.o.classifier.Classify(r.wd.CargoDescription, r.wd.CargoItems)

	in := mapper.Input{
		Trip:      *trip,
		Cargo:     cls.Items,
		Emitter:   r.acct.Emitter,
		Personnel: r.wd.Personnel,
	}
	var err error
	sel := r.wd.Selection
	if in.Resources.Driver, err = r.optionalResource(ctx, models.ResourceDriver, sel.DriverID); err != nil {
		return models.WaybillDocument{}, err
	}
	if in.Resources.Vehicle, err = r.optionalResource(ctx, models.ResourceVehicle, sel.VehicleID); err != nil {
		return models.WaybillDocument{}, err
	}
	if in.Resources.Trailer, err = r.optionalResource(ctx, models.ResourceTrailer, sel.TrailerID); err != nil {
		return models.WaybillDocument{}, err
	}
	if in.Partner, err = r.loadPartner(ctx); err != nil {
		return models.WaybillDocument{}, err
	}

	doc, mapAdv, err := mapper.Map(in)
	if err != nil {
		return models.WaybillDocument{}, err
	}
	advisories := append(append([]models.Advisory{}, cls.Advisories...), mapAdv...)
	doc.Advisories = advisories
	r.res.Advisories = append(r.res.Advisories, advisories...)
	return doc, nil
}

func (r *run) optionalResource(ctx context.Context, kind models.ResourceKind, id *string) (*models.Resource, error) {
	if id == nil || *id == "" {
		return nil, nil
	}
	res, err := r.o.store.GetResource(ctx, r.acct.AccountID, kind, *id)
	if err != nil {
		return nil, errs.Transient("get "+string(kind), err)
	}
	return res, nil
}

func (r *run) push(name string, fn func(ctx context.Context) error) {
	r.comps = append(r.comps, compensation{name: name, fn: fn})
}

// abort runs compensations in reverse and wraps cause with the failed stage.
func (r *run) abort(ctx context.Context, cause error) (Result, error) {
	failed := r.stage
	// compensations must run even when the request context is already cancelled
	cctx := context.WithoutCancel(ctx)
	for i := len(r.comps) - 1; i >= 0; i-- {
		c := r.comps[i]
		if err := c.fn(cctx); err != nil {
			metrics.CompensationFailures.WithLabelValues(c.name).Inc()
			slog.Error("compensation failed",
				"step", c.name,
				"stage", failed,
				"trip_id", r.res.TripID,
				"err", err)
		}
	}

	if r.res.TripID != "" {
		r.batch.Add(models.AuditOrchestrationFailed, map[string]string{"trip_id": r.res.TripID}, map[string]any{
			"stage": string(failed),
			"error": cause.Error(),
		})
		r.batch.Flush(cctx)
	}

	lvl := slog.LevelError
	if errs.IsValidation(cause) {
		lvl = slog.LevelWarn
	}
	slog.Log(ctx, lvl, "trip orchestration aborted",
		"account_id", r.acct.AccountID,
		"stage", failed,
		"trip_id", r.res.TripID,
		"err", cause)

	r.stage = StageAborted
	res := r.res
	res.Stage = StageAborted
	return res, &errs.StageError{Stage: string(failed), TripID: r.res.TripID, Err: cause}
}

func paymentTerms(requested string, p *models.PartnerProfile) string {
	if s := strings.TrimSpace(requested); s != "" {
		return s
	}
	if p.PaymentTerms != "" {
		return p.PaymentTerms
	}
	if p.CreditDays > 0 {
		return "PPD"
	}
	return "PUE"
}

func draftRefs(tripID string, invoiceID *string, draftID string) map[string]string {
	refs := map[string]string{"trip_id": tripID, "waybill_draft_id": draftID}
	if invoiceID != nil {
		refs["invoice_id"] = *invoiceID
	}
	return refs
}

func refStrings(refs []models.ResourceRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.String())
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
