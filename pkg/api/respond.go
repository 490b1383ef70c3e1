package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/notifier/pkg/dispatch"
	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/notifications"
	"github.com/dmitrymomot/notifier/pkg/preferences"
	"github.com/dmitrymomot/notifier/pkg/push"
	"github.com/dmitrymomot/notifier/pkg/quiethours"
)

const maxBodyBytes = 1 << 20

var (
	ErrUnauthorized = errors.New("api: missing user identity")
	ErrBadRequest   = errors.New("api: malformed request")
	ErrNotAvailable = errors.New("api: feature not configured")
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotAvailable),
		errors.Is(err, notifications.ErrNotFound),
		errors.Is(err, preferences.ErrNotFound),
		errors.Is(err, push.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, push.ErrEndpointOwnedByAnotherUser):
		return http.StatusConflict
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, dispatch.ErrUnknownEvent),
		errors.Is(err, dispatch.ErrUserIDRequired),
		errors.Is(err, notifications.ErrUserIDRequired),
		errors.Is(err, notifications.ErrInvalidType),
		errors.Is(err, notifications.ErrInvalidPriority),
		errors.Is(err, preferences.ErrUserIDRequired),
		errors.Is(err, preferences.ErrInvalidTimezone),
		errors.Is(err, preferences.ErrInvalidQuietHour),
		errors.Is(err, quiethours.ErrInvalidTimeOfDay),
		errors.Is(err, quiethours.ErrInvalidTimezone),
		errors.Is(err, push.ErrInvalidSubscription):
		return http.StatusBadRequest
	case errors.Is(err, notifications.ErrStoreUnavailable),
		errors.Is(err, preferences.ErrStoreUnavailable),
		errors.Is(err, push.ErrStoreUnavailable),
		errors.Is(err, dispatch.ErrDispatcherClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case status >= http.StatusInternalServerError:
		level := slog.LevelError
		if status == http.StatusServiceUnavailable {
			level = slog.LevelWarn
		}
		a.logger.LogAttrs(r.Context(), level, "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			logger.Error(err),
		)
		// store details stay in the logs
		msg = http.StatusText(status)
	case status == http.StatusNotFound:
		msg = "not found"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// decode reads a JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", ErrBadRequest)
		}
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}
