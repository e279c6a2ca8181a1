package trips_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/FreightDesk/internal/account"
	"github.com/BearBump/FreightDesk/internal/cache"
	"github.com/BearBump/FreightDesk/internal/ingest"
	"github.com/BearBump/FreightDesk/internal/integrations/notifier"
	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/BearBump/FreightDesk/internal/services/availability"
	"github.com/BearBump/FreightDesk/internal/services/classification"
	"github.com/BearBump/FreightDesk/internal/services/orchestrator"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	HeaderAccountID = "X-Account-ID"
	HeaderUserID    = "X-User-ID"
)

type Orchestrator interface {
	CreateCompleteTrip(ctx context.Context, acct account.Context, wd orchestrator.WizardData) (orchestrator.Result, error)
}

type TripService interface {
	UpsertResource(ctx context.Context, acct account.Context, r *models.Resource) (*models.Resource, error)
	GetTrip(ctx context.Context, acct account.Context, id string) (*models.Trip, error)
	ListTrips(ctx context.Context, acct account.Context, status models.TripStatus, limit, offset int) ([]*models.Trip, error)
	GetInvoice(ctx context.Context, acct account.Context, id string) (*models.Invoice, error)
	GetWaybillDraft(ctx context.Context, acct account.Context, id string) (*models.WaybillDraft, error)
	TripAuditTrail(ctx context.Context, acct account.Context, tripID string) ([]models.AuditEvent, error)
}

type AvailabilityChecker interface {
	CheckAll(ctx context.Context, acct account.Context, sel models.Selection, w models.Window) (availability.AvailabilityReport, error)
}

type Classifier interface {
	Classify(raw string, itemized []models.CargoLineItem) classification.Classification
}

// Deps wires the API. Cache, Limiter and Sink are optional.
type Deps struct {
	Orchestrator Orchestrator
	Trips        TripService
	Availability AvailabilityChecker
	Classifier   Classifier

	Cache   cache.BytesCache
	Limiter cache.RateLimiter
	Sink    notifier.Sink

	// Emitter is stamped on every request's account context.
	Emitter models.FiscalParty

	IdempotencyTTL       time.Duration
	CreateTripsPerMinute int64
}

type TripsAPI struct {
	orch     Orchestrator
	trips    TripService
	avail    AvailabilityChecker
	classify Classifier

	cache   cache.BytesCache
	limiter cache.RateLimiter
	sink    notifier.Sink

	emitter        models.FiscalParty
	idempotencyTTL time.Duration
	createPerMin   int64

	now func() time.Time
}

func New(d Deps) *TripsAPI {
	ttl := d.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TripsAPI{
		orch:           d.Orchestrator,
		trips:          d.Trips,
		avail:          d.Availability,
		classify:       d.Classifier,
		cache:          d.Cache,
		limiter:        d.Limiter,
		sink:           d.Sink,
		emitter:        d.Emitter,
		idempotencyTTL: ttl,
		createPerMin:   d.CreateTripsPerMinute,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Routes returns the /v1 router.
func (a *TripsAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observe)

	r.Route("/v1", func(r chi.Router) {
		r.With(a.rateLimit, a.idempotent).Post("/trips", a.CreateTrip)
		r.Get("/trips", a.ListTrips)
		r.Get("/trips/{id}", a.GetTrip)
		r.Get("/trips/{id}/audit", a.GetTripAudit)
		r.Get("/invoices/{id}", a.GetInvoice)
		r.Get("/waybills/{id}", a.GetWaybillDraft)
		r.Put("/resources/{kind}/{id}", a.PutResource)
		r.Post("/availability/check", a.CheckAvailability)
		r.Post("/cargo/classify", a.ClassifyCargo)
	})
	return r
}

func (a *TripsAPI) account(r *http.Request) (account.Context, error) {
	acct, err := account.New(r.Header.Get(HeaderAccountID))
	if err != nil {
		return account.Context{}, err
	}
	acct.UserID = r.Header.Get(HeaderUserID)
	return acct.WithEmitter(a.emitter), nil
}

func (a *TripsAPI) CreateTrip(w http.ResponseWriter, r *http.Request) {
	acct, err := a.account(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req createTripRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	origin, originAdv, err := ingest.DecodeLocation(req.Origin, "origin")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	destination, destAdv, err := ingest.DecodeLocation(req.Destination, "destination")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	wd := orchestrator.WizardData{
		Origin:           origin,
		Destination:      destination,
		Selection:        req.selection(),
		DistanceKm:       req.DistanceKm,
		CargoDescription: req.CargoDescription,
		CargoItems:       req.cargoItems(),
		ServiceType:      req.ServiceType,
		FreightAmount:    req.FreightAmount,
		PaymentTerms:     req.PaymentTerms,
		Personnel:        req.Personnel,
		Advisories:       append(originAdv, destAdv...),
	}

	res, err := a.orch.CreateCompleteTrip(r.Context(), acct, wd)
	if err != nil {
		writeError(w, err)
		return
	}
	a.pushAdvisories(r.Context(), acct, res)
	writeJSON(w, http.StatusCreated, res)
}

// pushAdvisories never fails the request; the trip is already committed.
func (a *TripsAPI) pushAdvisories(ctx context.Context, acct account.Context, res orchestrator.Result) {
	if a.sink == nil || len(res.Advisories) == 0 {
		return
	}
	refs := map[string]string{"trip_id": res.TripID, "waybill_draft_id": res.DraftID}
	if res.InvoiceID != nil {
		refs["invoice_id"] = *res.InvoiceID
	}
	err := a.sink.Notify(context.WithoutCancel(ctx), notifier.Notification{
		Kind:       notifier.KindAdvisories,
		AccountID:  acct.AccountID,
		TripID:     res.TripID,
		Refs:       refs,
		Advisories: res.Advisories,
		OccurredAt: a.now(),
	})
	if err != nil {
		slog.Warn("push advisories", "account_id", acct.AccountID, "trip_id", res.TripID, "err", err)
	}
}

func (a *TripsAPI) GetTrip(w http.ResponseWriter, r *http.Request) {
	acct, err := a.account(r)
	if err != nil {
		writeError(w, err)
		return
	}
	t, err := a.trips.GetTrip(r.Context(), acct, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *TripsAPI) ListTrips(w http.ResponseWriter, r *http.Request) {
	acct, err := a.account(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	status := models.TripStatus(q.Get("status"))
	switch status {
	case "", models.TripStatusScheduled, models.TripStatusInTransit, models.TripStatusCompleted, models.TripStatusOrphaned:
	default:
		writeBadRequest(w, "status must be one of: scheduled in_transit completed orphaned")
		return
	}
	limit, ok := queryInt(w, q.Get("limit"), "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, q.Get("offset"), "offset")
	if !ok {
		return
	}

	ts, err := a.trips.ListTrips(r.Context(), acct, status, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if ts == nil {
		ts = []*models.Trip{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trips": ts})
}

func (a *TripsAPI) GetTripAudit(w http.ResponseWriter, r *http.Request) {
	acct, err := a.account(r)
	if err != nil {
		writeError(w, err)
		return
	}
	evs, err := a.trips.TripAuditTrail(r.Context(), acct, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if evs == nil {
		evs = []models.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

func (a *TripsAPI) GetInvoice(w http.ResponseWriter, r *http.Request) {
	acct, err := a.account(r)
	if err != nil {
		writeError(w, err)
		return
	}
	inv, err := a.trips.GetInvoice(r.Context(), acct, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *TripsAPI) GetWaybillDraft(w http.ResponseWriter, r *http.Request) {
	acct, err := a.account(r)
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := a.trips.GetWaybillDraft(r.Context(), acct, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *TripsAPI) PutResource(w http.ResponseWriter, r *http.Request) {
	acct, err := a.account(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var res models.Resource
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	res.Kind = models.ResourceKind(chi.URLParam(r, "kind"))
	res.ID = chi.URLParam(r, "id")

	out, err := a.trips.UpsertResource(r.Context(), acct, &res)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *TripsAPI) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	acct, err := a.account(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req availabilityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	report, err := a.avail.CheckAll(r.Context(), acct, req.Selection, models.Window{Start: req.Start, End: req.End})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		AllAvailable: report.AllAvailable,
		Conflicts:    report.Conflicts(req.Selection),
		Warnings:     report.Warnings(req.Selection),
	})
}

func (a *TripsAPI) ClassifyCargo(w http.ResponseWriter, r *http.Request) {
	if _, err := a.account(r); err != nil {
		writeError(w, err)
		return
	}
	var req classifyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	c := a.classify.Classify(req.Description, toLineItems(req.Items))
	writeJSON(w, http.StatusOK, classifyResponse{Items: c.Items, Advisories: c.Advisories})
}

func queryInt(w http.ResponseWriter, v, name string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		writeBadRequest(w, name+" must be an integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
