package trips_api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BearBump/FreightDesk/internal/account"
	"github.com/BearBump/FreightDesk/internal/errs"
	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/pkg/errors"
)

type errorResponse struct {
	Error     string                        `json:"error"`
	Code      string                        `json:"code"`
	Field     string                        `json:"field,omitempty"`
	Fields    map[string]string             `json:"fields,omitempty"`
	Stage     string                        `json:"stage,omitempty"`
	TripID    string                        `json:"tripId,omitempty"`
	Conflicts []models.AvailabilityConflict `json:"conflicts,omitempty"`
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: "bad_request"})
}

// writeError maps the pipeline error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status, body := classifyError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "err", err)
	}
	writeJSON(w, status, body)
}

func classifyError(err error) (int, errorResponse) {
	body := errorResponse{Error: err.Error()}

	var se *errs.StageError
	if errors.As(err, &se) {
		body.Stage = se.Stage
		body.TripID = se.TripID
	}

	var (
		ru *errs.ResourceUnavailableError
		mf *errs.MissingFiscalDataError
		me *errs.MappingError
	)
	switch {
	case errors.Is(err, account.ErrMissingAccount):
		body.Code = "account_required"
		return http.StatusBadRequest, body
	case errors.As(err, &ru):
		body.Code = "resources_unavailable"
		body.Conflicts = ru.Conflicts
		return http.StatusConflict, body
	case errors.As(err, &mf):
		body.Code = "missing_fiscal_data"
		body.Field = mf.Entity + "." + mf.Field
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &me):
		body.Code = "mapping_error"
		body.Field = me.Field
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, errs.ErrNotFound):
		body.Code = "not_found"
		return http.StatusNotFound, body
	case errors.Is(err, errs.ErrInvalidTransition):
		body.Code = "invalid_transition"
		return http.StatusConflict, body
	case errs.IsTransient(err):
		body.Code = "store_unavailable"
		return http.StatusServiceUnavailable, body
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		body.Code = "timeout"
		return http.StatusServiceUnavailable, body
	}
	body.Code = "internal"
	return http.StatusInternalServerError, body
}
