package v1

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/goccy/go-json"

	"github.com/yourorg/rental-discovery/internal/canon"
	"github.com/yourorg/rental-discovery/internal/discovery"
	"github.com/yourorg/rental-discovery/mapsapi"
)

type GeocodeDeps struct {
	Geocoder discovery.Geocoder
}

type GeocodeRequest struct {
	Query string `json:"query"`
}

// RegisterGeocode exposes the configured geocoder so clients can preview
// where a location query resolves before anchoring on it.
func RegisterGeocode(r chi.Router, d GeocodeDeps) {
	r.Route("/v1/geocode", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			geocode(w, req, d, req.URL.Query().Get("q"))
		})
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var body GeocodeRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				fail(w, req, http.StatusBadRequest, "invalid_json", err.Error())
				return
			}
			geocode(w, req, d, body.Query)
		})
	})
}

func geocode(w http.ResponseWriter, req *http.Request, d GeocodeDeps, query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		fail(w, req, http.StatusBadRequest, "query_required", "q is required")
		return
	}
	if d.Geocoder == nil {
		fail(w, req, http.StatusNotImplemented, "geocoder_unavailable", "no geocoder configured")
		return
	}
	res, err := d.Geocoder.Geocode(req.Context(), query)
	switch {
	case errors.Is(err, discovery.ErrNotFound):
		fail(w, req, http.StatusNotFound, "not_found", "no match for "+query)
		return
	case errors.Is(err, mapsapi.ErrBreakerOpen), errors.Is(err, mapsapi.ErrQuotaExceeded):
		fail(w, req, http.StatusServiceUnavailable, "upstream_unavailable", err.Error())
		return
	case err != nil:
		fail(w, req, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	render.JSON(w, req, map[string]any{
		"ok":        true,
		"query":     query,
		"query_key": canon.QueryKey(query),
		"result":    res,
	})
}

func fail(w http.ResponseWriter, req *http.Request, status int, code, detail string) {
	render.Status(req, status)
	render.JSON(w, req, map[string]any{"error": code, "detail": detail})
}
