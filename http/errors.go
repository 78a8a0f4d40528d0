package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"

	"github.com/yourorg/rental-discovery/internal/discovery"
	"github.com/yourorg/rental-discovery/internal/logging"
)

var validate = validator.New()

func writeError(w http.ResponseWriter, req *http.Request, status int, code, detail string) {
	render.Status(req, status)
	render.JSON(w, req, map[string]any{"error": code, "detail": detail})
}

// writeErr maps a domain error to a status and error code.
func writeErr(w http.ResponseWriter, req *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, ErrSessionNotFound):
		status, code = http.StatusNotFound, "session_not_found"
	case errors.Is(err, discovery.ErrUnknownListing):
		status, code = http.StatusNotFound, "unknown_listing"
	case errors.Is(err, discovery.ErrNoAnchor):
		status, code = http.StatusConflict, "no_anchor"
	case errors.Is(err, discovery.ErrInvalidRadius):
		status, code = http.StatusBadRequest, "invalid_radius"
	case errors.Is(err, discovery.ErrInvalidSortKey):
		status, code = http.StatusBadRequest, "invalid_sort"
	case errors.Is(err, discovery.ErrNoCoordinates):
		status, code = http.StatusUnprocessableEntity, "no_coordinates"
	case errors.Is(err, ErrTooManySessions):
		status, code = http.StatusServiceUnavailable, "too_many_sessions"
	case errors.Is(err, discovery.ErrSessionClosed):
		status, code = http.StatusGone, "session_closed"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	}
	if status >= http.StatusInternalServerError {
		logging.Ctx(req.Context()).Error().Err(err).Str("path", req.URL.Path).Msg("request failed")
	}
	writeError(w, req, status, code, err.Error())
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the caller should continue.
func decode(w http.ResponseWriter, req *http.Request, dst any) bool {
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		writeError(w, req, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, req, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}
