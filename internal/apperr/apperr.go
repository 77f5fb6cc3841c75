// Package apperr defines the error kinds shared by the dispatch core and the
// outbound status codes they map to.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrRateLimited        = errors.New("rate limited")
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInconsistentState  = errors.New("inconsistent state")
	ErrUnauthorized       = errors.New("unauthorized")

	ErrNoVehicleAvailable = fmt.Errorf("%w: no vehicle available", ErrPreconditionFailed)
)

// Outbound status values.
const (
	StatusSuccess            = "success"
	StatusInvalidData        = "invalid_data"
	StatusRateLimited        = "rate_limited"
	StatusUnauthorized       = "unauthorized"
	StatusNotFound           = "not_found"
	StatusPreconditionFailed = "precondition_failed"
	StatusServerError        = "server_error"
)

// ValidationError reports every field-level violation of a payload.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid data: " + strings.Join(e.Fields, "; ")
}

// NewValidationError builds a ValidationError from field messages.
func NewValidationError(fields ...string) *ValidationError {
	return &ValidationError{Fields: fields}
}

// Fields returns the field messages of a ValidationError in err's chain, or nil.
func Fields(err error) []string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}

// Status maps err to the outbound status string.
func Status(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return StatusSuccess
	case errors.As(err, &ve):
		return StatusInvalidData
	case errors.Is(err, ErrRateLimited):
		return StatusRateLimited
	case errors.Is(err, ErrUnauthorized):
		return StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	case errors.Is(err, ErrPreconditionFailed):
		return StatusPreconditionFailed
	default:
		return StatusServerError
	}
}

// HTTPStatus maps err to an HTTP status code.
func HTTPStatus(err error) int {
	switch Status(err) {
	case StatusSuccess:
		return http.StatusOK
	case StatusInvalidData:
		return http.StatusBadRequest
	case StatusRateLimited:
		return http.StatusTooManyRequests
	case StatusUnauthorized:
		return http.StatusUnauthorized
	case StatusNotFound:
		return http.StatusNotFound
	case StatusPreconditionFailed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
