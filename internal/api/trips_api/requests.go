package trips_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type createTripRequest struct {
	// Origin and Destination accept both location schemas; see package ingest.
	Origin      json.RawMessage `json:"origin"`
	Destination json.RawMessage `json:"destination"`

	DriverID  *string `json:"driverId"`
	VehicleID *string `json:"vehicleId"`
	TrailerID *string `json:"trailerId"`
	PartnerID *string `json:"partnerId"`

	DistanceKm *float64 `json:"distanceKm" validate:"omitempty,gte=0"`

	CargoDescription string             `json:"cargoDescription" validate:"max=2000"`
	CargoItems       []cargoItemRequest `json:"cargoItems" validate:"omitempty,dive"`
	ServiceType      string             `json:"serviceType" validate:"max=64"`

	FreightAmount float64 `json:"freightAmount" validate:"gte=0"`
	PaymentTerms  string  `json:"paymentTerms" validate:"omitempty,oneof=PUE PPD"`

	Personnel []models.PersonnelEntry `json:"personnel"`
}

type cargoItemRequest struct {
	Description        string  `json:"description" validate:"required,max=1000"`
	Quantity           float64 `json:"quantity" validate:"gt=0"`
	UnitOfMeasure      string  `json:"unitOfMeasure" validate:"required,max=8"`
	ClassificationCode string  `json:"classificationCode" validate:"required,max=16"`
	TariffCode         string  `json:"tariffCode" validate:"max=16"`
	EstimatedWeightKg  float64 `json:"estimatedWeightKg" validate:"gte=0"`
	EstimatedValue     float64 `json:"estimatedValue" validate:"gte=0"`
	Currency           string  `json:"currency" validate:"omitempty,len=3"`
	Hazardous          bool    `json:"hazardous"`
	ProtectedSpecies   bool    `json:"protectedSpecies"`
}

func (r createTripRequest) selection() models.Selection {
	return models.Selection{
		DriverID:  nonEmpty(r.DriverID),
		VehicleID: nonEmpty(r.VehicleID),
		TrailerID: nonEmpty(r.TrailerID),
		PartnerID: nonEmpty(r.PartnerID),
	}
}

func (r createTripRequest) cargoItems() []models.CargoLineItem {
	return toLineItems(r.CargoItems)
}

func toLineItems(in []cargoItemRequest) []models.CargoLineItem {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.CargoLineItem, 0, len(in))
	for _, it := range in {
		out = append(out, models.CargoLineItem{
			Description:        it.Description,
			Quantity:           it.Quantity,
			UnitOfMeasure:      it.UnitOfMeasure,
			ClassificationCode: it.ClassificationCode,
			TariffCode:         it.TariffCode,
			EstimatedWeightKg:  it.EstimatedWeightKg,
			EstimatedValue:     it.EstimatedValue,
			Currency:           it.Currency,
			Hazardous:          it.Hazardous,
			ProtectedSpecies:   it.ProtectedSpecies,
		})
	}
	return out
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

type availabilityRequest struct {
	Selection models.Selection `json:"selection"`
	Start     time.Time        `json:"start" validate:"required"`
	End       time.Time        `json:"end" validate:"required,gtefield=Start"`
}

type availabilityResponse struct {
	AllAvailable bool                          `json:"allAvailable"`
	Conflicts    []models.AvailabilityConflict `json:"conflicts"`
	Warnings     []string                      `json:"warnings"`
}

type classifyRequest struct {
	Description string             `json:"description" validate:"max=2000"`
	Items       []cargoItemRequest `json:"items" validate:"omitempty,dive"`
}

type classifyResponse struct {
	Items      []models.CargoLineItem `json:"items"`
	Advisories []models.Advisory      `json:"advisories"`
}

// decodeAndValidate writes a 400 and returns false when the body is malformed or fails validation.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := make(map[string]string, len(ve))
			for _, fe := range ve {
				fields[fieldPath(fe)] = fieldMessage(fe)
			}
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:  "validation failed",
				Code:   "validation_failed",
				Fields: fields,
			})
			return false
		}
		writeBadRequest(w, err.Error())
		return false
	}
	return true
}

// fieldPath drops the root struct name: "createTripRequest.cargoItems[0].quantity" becomes "cargoItems[0].quantity".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must not be before %s", field, strings.ToLower(fe.Param()))
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
