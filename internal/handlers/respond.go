package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ukydev/hajj-fleet-dispatch/internal/apperr"
)

// errorResponse is the body of every failed API call.
type errorResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError maps err onto its HTTP status. Internal errors are not echoed.
func respondError(w http.ResponseWriter, err error) {
	body := errorResponse{Status: apperr.Status(err), Errors: apperr.Fields(err)}
	if len(body.Errors) == 0 {
		if body.Status == apperr.StatusServerError {
			body.Message = "internal error"
		} else {
			body.Message = err.Error()
		}
	}
	respondJSON(w, apperr.HTTPStatus(err), body)
}

func queryFloat(r *http.Request, key string) (float64, bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, true, apperr.NewValidationError(strconv.Quote(key) + " must be a number")
	}
	return f, true, nil
}

// queryRange reads from/to (RFC 3339); missing bounds default to the last
// window ending now.
func queryRange(r *http.Request, now time.Time, window time.Duration) (time.Time, time.Time, error) {
	from, to := now.Add(-window), now
	var fields []string
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fields = append(fields, `"from" must be a valid ISO 8601 date`)
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fields = append(fields, `"to" must be a valid ISO 8601 date`)
		}
		to = t
	}
	if len(fields) > 0 {
		return time.Time{}, time.Time{}, apperr.NewValidationError(fields...)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, apperr.NewValidationError(`"to" must not be before "from"`)
	}
	return from, to, nil
}
