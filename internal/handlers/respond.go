package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/invitation-api/internal/apperr"
	"github.com/stanstork/invitation-api/internal/models"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error  string             `json:"error"`
	Errors apperr.FieldErrors `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrInvalidToken):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrExpired):
		return http.StatusGone
	case errors.Is(err, apperr.ErrAlreadyUsed),
		errors.Is(err, apperr.ErrInvalidTransition),
		errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrPermissionDenied):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
		writeJSON(w, status, errorResponse{Error: "internal server error"})
		return
	}

	resp := errorResponse{Error: err.Error()}
	if fields, ok := apperr.FieldsOf(err); ok {
		resp.Error = apperr.ErrValidation.Error()
		resp.Errors = fields
	}
	writeJSON(w, status, resp)
}

const maxDurationSeconds = int64(math.MaxInt64 / int64(time.Second))

// validitySeconds converts an invitation validity in seconds. Zero passes
// through so the instance default applies; range checks happen downstream.
func validitySeconds(field string, sec int64) (time.Duration, error) {
	if sec < 0 || sec > int64(models.MaxInviteValidity/time.Second) {
		return 0, apperr.Field(field, "must be between 1 hour and 365 days")
	}
	return time.Duration(sec) * time.Second, nil
}

// periodSeconds converts a seconds count that has no upper bound of its own.
func periodSeconds(field string, sec int64) (time.Duration, error) {
	if sec > maxDurationSeconds || sec < -maxDurationSeconds {
		return 0, apperr.Field(field, "is out of range")
	}
	return time.Duration(sec) * time.Second, nil
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched
// when optional is set.
func decodeJSON(r *http.Request, dst interface{}, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id, err == nil && id > 0
}

// queryID parses an optional positive integer query parameter.
func queryID(r *http.Request, name string) (int64, bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false, apperr.Field(name, "must be a positive integer")
	}
	return id, true, nil
}
