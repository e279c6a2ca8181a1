// Package errs defines the error taxonomy of the trip pipeline.
//
// Validation errors (ResourceUnavailableError, MissingFiscalDataError, MappingError) are
// caller-correctable and never retried. TransientStoreError marks store I/O failures.
// StageError reports how far an orchestration got before it aborted.
package errs

import (
	"context"
	"fmt"
	"strings"

	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a draft status change is not allowed from its current status.
var ErrInvalidTransition = errors.New("invalid waybill draft status transition")

type ResourceUnavailableError struct {
	Conflicts []models.AvailabilityConflict
}

func (e *ResourceUnavailableError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		s := fmt.Sprintf("%s %s: %s", c.Kind, c.ResourceID, c.Reason)
		if c.State != "" {
			s += fmt.Sprintf(" (state %s)", c.State)
		}
		if c.ConflictingTripID != nil {
			s += fmt.Sprintf(" held by trip %s", *c.ConflictingTripID)
		}
		parts = append(parts, s)
	}
	return "resources unavailable: " + strings.Join(parts, "; ")
}

type MissingFiscalDataError struct {
	Entity   string
	EntityID string
	Field    string
}

func (e *MissingFiscalDataError) Error() string {
	if e.EntityID == "" {
		return fmt.Sprintf("missing fiscal data: %s.%s", e.Entity, e.Field)
	}
	return fmt.Sprintf("missing fiscal data: %s %s has no %s", e.Entity, e.EntityID, e.Field)
}

type MappingError struct {
	Field  string
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("waybill mapping: %s: %s", e.Field, e.Reason)
}

type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// Transient wraps a store failure. Sentinels, context cancellation and already typed errors pass through.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var tse *TransientStoreError
	if errors.As(err, &tse) {
		return err
	}
	return &TransientStoreError{Op: op, Err: err}
}

// StageError is returned when orchestration aborts; TripID is set once the trip was persisted.
type StageError struct {
	Stage  string
	TripID string
	Err    error
}

func (e *StageError) Error() string {
	if e.TripID == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s (trip %s): %v", e.Stage, e.TripID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsValidation reports whether err is caller-correctable.
func IsValidation(err error) bool {
	var ru *ResourceUnavailableError
	var mf *MissingFiscalDataError
	var me *MappingError
	return errors.As(err, &ru) || errors.As(err, &mf) || errors.As(err, &me)
}

func IsTransient(err error) bool {
	var tse *TransientStoreError
	return errors.As(err, &tse)
}
