package trips_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/FreightDesk/internal/account"
	"github.com/BearBump/FreightDesk/internal/cache/rediscache"
	"github.com/BearBump/FreightDesk/internal/errs"
	notifierfake "github.com/BearBump/FreightDesk/internal/integrations/notifier/fake"
	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/BearBump/FreightDesk/internal/services/availability"
	"github.com/BearBump/FreightDesk/internal/services/classification"
	"github.com/BearBump/FreightDesk/internal/services/orchestrator"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeOrchestrator struct {
	mu    sync.Mutex
	calls []orchestrator.WizardData
	accts []account.Context
	res   orchestrator.Result
	err   error
}

func (f *fakeOrchestrator) CreateCompleteTrip(_ context.Context, acct account.Context, wd orchestrator.WizardData) (orchestrator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, wd)
	f.accts = append(f.accts, acct)
	return f.res, f.err
}

func (f *fakeOrchestrator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeTrips struct {
	trips     map[string]*models.Trip
	listArgs  []any
	upserted  *models.Resource
	failStore bool
}

func (f *fakeTrips) UpsertResource(_ context.Context, acct account.Context, r *models.Resource) (*models.Resource, error) {
	if !r.Kind.Valid() {
		return nil, &errs.MappingError{Field: "kind", Reason: "unknown resource kind"}
	}
	r.AccountID = acct.AccountID
	f.upserted = r
	return r, nil
}

func (f *fakeTrips) GetTrip(_ context.Context, acct account.Context, id string) (*models.Trip, error) {
	if f.failStore {
		return nil, &errs.TransientStoreError{Op: "get trip", Err: context.DeadlineExceeded}
	}
	t, ok := f.trips[id]
	if !ok || t.AccountID != acct.AccountID {
		return nil, errs.ErrNotFound
	}
	return t, nil
}

func (f *fakeTrips) ListTrips(_ context.Context, _ account.Context, status models.TripStatus, limit, offset int) ([]*models.Trip, error) {
	f.listArgs = []any{status, limit, offset}
	return nil, nil
}

func (f *fakeTrips) GetInvoice(_ context.Context, _ account.Context, id string) (*models.Invoice, error) {
	return &models.Invoice{ID: id, Total: 28000}, nil
}

func (f *fakeTrips) GetWaybillDraft(_ context.Context, _ account.Context, id string) (*models.WaybillDraft, error) {
	return nil, errs.ErrNotFound
}

func (f *fakeTrips) TripAuditTrail(ctx context.Context, acct account.Context, tripID string) ([]models.AuditEvent, error) {
	if _, err := f.GetTrip(ctx, acct, tripID); err != nil {
		return nil, err
	}
	return []models.AuditEvent{{ID: "ev-1", Type: models.AuditTripCreated, Refs: map[string]string{"trip_id": tripID}}}, nil
}

type fakeAvailability struct {
	report availability.AvailabilityReport
}

func (f *fakeAvailability) CheckAll(context.Context, account.Context, models.Selection, models.Window) (availability.AvailabilityReport, error) {
	return f.report, nil
}

type TripsAPISuite struct {
	suite.Suite

	mr    *miniredis.Miniredis
	orch  *fakeOrchestrator
	trips *fakeTrips
	avail *fakeAvailability
	sink  *notifierfake.Sink
	api   *TripsAPI
	srv   *httptest.Server
}

func (s *TripsAPISuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.orch = &fakeOrchestrator{res: orchestrator.Result{TripID: "trip-1", DraftID: "wd-1", Stage: orchestrator.StageDone}}
	s.trips = &fakeTrips{trips: map[string]*models.Trip{
		"trip-1": {ID: "trip-1", AccountID: "acc-1", Status: models.TripStatusScheduled},
	}}
	s.avail = &fakeAvailability{}
	s.sink = notifierfake.New()

	rs, err := classification.DefaultRuleset()
	s.Require().NoError(err)

	s.api = New(Deps{
		Orchestrator:         s.orch,
		Trips:                s.trips,
		Availability:         s.avail,
		Classifier:           classification.NewEngine(rs),
		Cache:                rediscache.New(s.mr.Addr()),
		Limiter:              rediscache.NewRateLimiter(s.mr.Addr()),
		Sink:                 s.sink,
		Emitter:              models.FiscalParty{TaxID: "FDE010101AAA", Name: "Fletes del Este"},
		IdempotencyTTL:       time.Hour,
		CreateTripsPerMinute: 100,
	})
	s.srv = httptest.NewServer(s.api.Routes())
	s.T().Cleanup(s.srv.Close)
}

func (s *TripsAPISuite) do(method, path, acct string, body any, hdr map[string]string) (*http.Response, map[string]any) {
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		s.Require().NoError(err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rdr)
	s.Require().NoError(err)
	if acct != "" {
		req.Header.Set(HeaderAccountID, acct)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func tripBody() map[string]any {
	return map[string]any{
		"origin": map[string]any{
			"address":     "Av. Vallarta 100, Guadalajara",
			"postalCode":  "44100",
			"scheduledAt": "2026-03-01T08:00:00Z",
		},
		"destination": map[string]any{
			"direccion": "Calle 5 de Mayo 20",
			"cp":        "64000",
			"fecha":     "2026-03-02 18:00",
		},
		"driverId":         "drv-1",
		"vehicleId":        "veh-1",
		"cargoDescription": "20 toneladas de aguacate",
		"serviceType":      "own-account",
	}
}

func (s *TripsAPISuite) TestCreateTrip() {
	s.orch.res.Advisories = []models.Advisory{{Code: models.AdvisoryLegacyAddress, Field: "destination", Message: "converted"}}

	resp, out := s.do(http.MethodPost, "/v1/trips", "acc-1", tripBody(), map[string]string{HeaderUserID: "u-7"})
	s.Equal(http.StatusCreated, resp.StatusCode)
	s.Equal("trip-1", out["tripId"])
	s.Equal("done", out["stage"])

	s.Require().Equal(1, s.orch.count())
	wd := s.orch.calls[0]
	s.Equal("Av. Vallarta 100, Guadalajara", wd.Origin.Address)
	s.Equal("64000", wd.Destination.PostalCode)
	s.Equal("drv-1", *wd.Selection.DriverID)
	s.Nil(wd.Selection.PartnerID)
	s.Require().Len(wd.Advisories, 1)
	s.Equal(models.AdvisoryLegacyAddress, wd.Advisories[0].Code)

	acct := s.orch.accts[0]
	s.Equal("acc-1", acct.AccountID)
	s.Equal("u-7", acct.UserID)
	s.Equal("FDE010101AAA", acct.Emitter.TaxID)

	sent := s.sink.Sent()
	s.Require().Len(sent, 1)
	s.Equal("trip-1", sent[0].TripID)
	s.Equal("wd-1", sent[0].Refs["waybill_draft_id"])
}

func (s *TripsAPISuite) TestCreateTripRequiresAccount() {
	resp, out := s.do(http.MethodPost, "/v1/trips", "", tripBody(), nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("account_required", out["code"])
	s.Equal(0, s.orch.count())
}

func (s *TripsAPISuite) TestCreateTripValidation() {
	body := tripBody()
	body["paymentTerms"] = "CASH"
	body["cargoItems"] = []map[string]any{{"description": "pallets", "quantity": 0}}

	resp, out := s.do(http.MethodPost, "/v1/trips", "acc-1", body, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("validation_failed", out["code"])
	fields := out["fields"].(map[string]any)
	s.Contains(fields, "paymentTerms")
	s.Contains(fields, "cargoItems[0].quantity")
	s.Contains(fields, "cargoItems[0].unitOfMeasure")
	s.Equal(0, s.orch.count())
}

func (s *TripsAPISuite) TestCreateTripBadLocation() {
	body := tripBody()
	body["origin"] = map[string]any{"schemaVersion": 9, "address": "x"}

	resp, _ := s.do(http.MethodPost, "/v1/trips", "acc-1", body, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal(0, s.orch.count())
}

func (s *TripsAPISuite) TestCreateTripErrorMapping() {
	held := "trip-0"
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unavailable", &errs.StageError{Stage: "validating", Err: &errs.ResourceUnavailableError{Conflicts: []models.AvailabilityConflict{
			{Kind: models.ResourceVehicle, ResourceID: "veh-1", Reason: models.ConflictUnavailable, State: models.ResourceInUse, ConflictingTripID: &held},
		}}}, http.StatusConflict, "resources_unavailable"},
		{"fiscal", &errs.StageError{Stage: "persisting_invoice", TripID: "trip-9", Err: &errs.MissingFiscalDataError{Entity: "partner", EntityID: "par-1", Field: "taxRegime"}}, http.StatusUnprocessableEntity, "missing_fiscal_data"},
		{"mapping", &errs.StageError{Stage: "validating", Err: &errs.MappingError{Field: "origin", Reason: "required"}}, http.StatusUnprocessableEntity, "mapping_error"},
		{"transient", &errs.StageError{Stage: "persisting_draft", TripID: "trip-9", Err: &errs.TransientStoreError{Op: "create draft", Err: context.DeadlineExceeded}}, http.StatusServiceUnavailable, "store_unavailable"},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.orch.err = tc.err
			resp, out := s.do(http.MethodPost, "/v1/trips", "acc-1", tripBody(), nil)
			s.Equal(tc.status, resp.StatusCode)
			s.Equal(tc.code, out["code"])
			s.NotEmpty(out["stage"])
		})
	}

	s.orch.err = &errs.StageError{Stage: "persisting_invoice", TripID: "trip-9", Err: &errs.MissingFiscalDataError{Entity: "partner", EntityID: "par-1", Field: "taxRegime"}}
	_, out := s.do(http.MethodPost, "/v1/trips", "acc-2", tripBody(), nil)
	s.Equal("trip-9", out["tripId"])
	s.Equal("partner.taxRegime", out["field"])
}

func (s *TripsAPISuite) TestIdempotencyReplaysResponse() {
	hdr := map[string]string{HeaderIdempotencyKey: "req-123"}

	resp1, out1 := s.do(http.MethodPost, "/v1/trips", "acc-1", tripBody(), hdr)
	s.Equal(http.StatusCreated, resp1.StatusCode)

	resp2, out2 := s.do(http.MethodPost, "/v1/trips", "acc-1", tripBody(), hdr)
	s.Equal(http.StatusCreated, resp2.StatusCode)
	s.Equal("true", resp2.Header.Get(HeaderIdempotentReplayed))
	s.Equal(out1, out2)
	s.Equal(1, s.orch.count())

	// keys are scoped per account
	resp3, _ := s.do(http.MethodPost, "/v1/trips", "acc-2", tripBody(), hdr)
	s.Equal(http.StatusCreated, resp3.StatusCode)
	s.Empty(resp3.Header.Get(HeaderIdempotentReplayed))
	s.Equal(2, s.orch.count())
}

func (s *TripsAPISuite) TestIdempotencyInProgress() {
	s.Require().NoError(s.mr.Set("freightdesk:idem:acc-1:busy", idempotencyPendingMarker))

	resp, out := s.do(http.MethodPost, "/v1/trips", "acc-1", tripBody(), map[string]string{HeaderIdempotencyKey: "busy"})
	s.Equal(http.StatusConflict, resp.StatusCode)
	s.Equal("idempotency_in_progress", out["code"])
	s.Equal(0, s.orch.count())
}

func (s *TripsAPISuite) TestIdempotencyServerErrorReleasesKey() {
	hdr := map[string]string{HeaderIdempotencyKey: "retry-me"}
	s.orch.err = &errs.TransientStoreError{Op: "create trip", Err: context.DeadlineExceeded}

	resp, _ := s.do(http.MethodPost, "/v1/trips", "acc-1", tripBody(), hdr)
	s.Equal(http.StatusServiceUnavailable, resp.StatusCode)
	s.False(s.mr.Exists("freightdesk:idem:acc-1:retry-me"))

	s.orch.err = nil
	resp, _ = s.do(http.MethodPost, "/v1/trips", "acc-1", tripBody(), hdr)
	s.Equal(http.StatusCreated, resp.StatusCode)
	s.Equal(2, s.orch.count())
}

func (s *TripsAPISuite) TestCreateTripRateLimited() {
	s.api.createPerMin = 3
	for i := 0; i < 3; i++ {
		resp, _ := s.do(http.MethodPost, "/v1/trips", "acc-1", tripBody(), nil)
		s.Equal(http.StatusCreated, resp.StatusCode)
	}
	resp, out := s.do(http.MethodPost, "/v1/trips", "acc-1", tripBody(), nil)
	s.Equal(http.StatusTooManyRequests, resp.StatusCode)
	s.Equal("rate_limited", out["code"])
	s.Equal("60", resp.Header.Get("Retry-After"))

	resp, _ = s.do(http.MethodPost, "/v1/trips", "acc-2", tripBody(), nil)
	s.Equal(http.StatusCreated, resp.StatusCode)
}

func (s *TripsAPISuite) TestGetTrip() {
	resp, out := s.do(http.MethodGet, "/v1/trips/trip-1", "acc-1", nil, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("trip-1", out["id"])

	resp, out = s.do(http.MethodGet, "/v1/trips/trip-1", "acc-2", nil, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal("not_found", out["code"])

	s.trips.failStore = true
	resp, _ = s.do(http.MethodGet, "/v1/trips/trip-1", "acc-1", nil, nil)
	s.Equal(http.StatusServiceUnavailable, resp.StatusCode)
}

func (s *TripsAPISuite) TestListTrips() {
	resp, out := s.do(http.MethodGet, "/v1/trips?status=orphaned&limit=10&offset=20", "acc-1", nil, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal([]any{}, out["trips"])
	s.Equal([]any{models.TripStatusOrphaned, 10, 20}, s.trips.listArgs)

	resp, _ = s.do(http.MethodGet, "/v1/trips?status=lost", "acc-1", nil, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(http.MethodGet, "/v1/trips?limit=ten", "acc-1", nil, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *TripsAPISuite) TestTripAudit() {
	resp, out := s.do(http.MethodGet, "/v1/trips/trip-1/audit", "acc-1", nil, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Len(out["events"], 1)

	resp, _ = s.do(http.MethodGet, "/v1/trips/missing/audit", "acc-1", nil, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *TripsAPISuite) TestInvoiceAndWaybill() {
	resp, out := s.do(http.MethodGet, "/v1/invoices/inv-1", "acc-1", nil, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("inv-1", out["id"])

	resp, _ = s.do(http.MethodGet, "/v1/waybills/wd-404", "acc-1", nil, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *TripsAPISuite) TestPutResource() {
	body := map[string]any{
		"id":      "ignored",
		"partner": map[string]any{"name": "Agrícola del Sur", "taxId": "ASU990101BBB", "taxRegime": "601"},
	}
	resp, out := s.do(http.MethodPut, "/v1/resources/partner/par-1", "acc-1", body, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("par-1", out["id"])
	s.Equal("acc-1", out["accountId"])
	s.Equal(models.ResourcePartner, s.trips.upserted.Kind)
	s.Equal("601", s.trips.upserted.Partner.TaxRegime)

	resp, out = s.do(http.MethodPut, "/v1/resources/boat/b-1", "acc-1", map[string]any{}, nil)
	s.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	s.Equal("kind", out["field"])
}

func (s *TripsAPISuite) TestCheckAvailability() {
	sel := models.Selection{VehicleID: strPtr("veh-1")}
	ref := models.ResourceRef{Kind: models.ResourceVehicle, ID: "veh-1"}
	s.avail.report = availability.AvailabilityReport{
		PerResource: map[models.ResourceRef]availability.ResourceCheck{
			ref: {Conflicts: []models.AvailabilityConflict{{Kind: models.ResourceVehicle, ResourceID: "veh-1", Reason: models.ConflictUnavailable, State: models.ResourceMaintenance}}},
		},
	}

	body := map[string]any{"selection": sel, "start": "2026-03-01T08:00:00Z", "end": "2026-03-02T18:00:00Z"}
	resp, out := s.do(http.MethodPost, "/v1/availability/check", "acc-1", body, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(false, out["allAvailable"])
	conflicts := out["conflicts"].([]any)
	s.Require().Len(conflicts, 1)
	s.Equal("maintenance", conflicts[0].(map[string]any)["state"])

	body["end"] = "2026-02-28T08:00:00Z"
	resp, out = s.do(http.MethodPost, "/v1/availability/check", "acc-1", body, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Contains(out["fields"], "end")
}

func (s *TripsAPISuite) TestClassifyCargo() {
	resp, out := s.do(http.MethodPost, "/v1/cargo/classify", "acc-1", map[string]any{"description": "20 toneladas de aguacate"}, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	items := out["items"].([]any)
	s.Require().Len(items, 1)
	it := items[0].(map[string]any)
	s.Equal("KGM", it["unitOfMeasure"])
	s.Equal("fresh_produce", it["matchedRule"])
	s.Equal("inferred", it["provenance"])
}

func (s *TripsAPISuite) TestUnknownRoute() {
	resp, _ := s.do(http.MethodGet, "/v1/nope", "acc-1", nil, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestTripsAPISuite(t *testing.T) {
	suite.Run(t, new(TripsAPISuite))
}

func TestClassifyError_Defaults(t *testing.T) {
	status, body := classifyError(account.ErrMissingAccount)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "account_required", body.Code)

	status, body = classifyError(errs.ErrInvalidTransition)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "invalid_transition", body.Code)

	status, _ = classifyError(context.Canceled)
	require.Equal(t, http.StatusServiceUnavailable, status)

	status, body = classifyError(errStr("boom"))
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "internal", body.Code)
	require.True(t, strings.Contains(body.Error, "boom"))
}

type errStr string

func (e errStr) Error() string { return string(e) }

func strPtr(s string) *string { return &s }
