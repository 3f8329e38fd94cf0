package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/kartuli/internal/catalog"
	"github.com/conorfennell/kartuli/internal/progress"
	"github.com/conorfennell/kartuli/internal/session"
	"github.com/conorfennell/kartuli/internal/storage"
)

const maxBodyBytes = 64 << 10

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorResponse struct {
	Error string `json:"error"`
}

// badRequestError marks a request the caller has to fix.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// decode reads a JSON body into dst and validates it.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &badRequestError{fmt.Errorf("invalid request body: %w", err)}
	}
	if err := validate.Struct(dst); err != nil {
		return &badRequestError{err}
	}
	return nil
}

func statusFor(err error) int {
	var bad *badRequestError
	var readErr *progress.ReadError
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, catalog.ErrCourseNotFound),
		errors.Is(err, storage.ErrSourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrUnknownItem):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotStarted),
		errors.Is(err, session.ErrInvalidState),
		errors.Is(err, session.ErrWrongVariant):
		return http.StatusConflict
	case errors.As(err, &readErr):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError maps err onto a status code. Server-side failures are logged
// and their details kept from the caller.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "url", r.URL.String(), "error", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
