package v1

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/rental-discovery/internal/discovery"
	"github.com/yourorg/rental-discovery/mapsapi"
)

type geocoderFunc func(ctx context.Context, q string) (discovery.GeocodeResult, error)

func (f geocoderFunc) Geocode(ctx context.Context, q string) (discovery.GeocodeResult, error) {
	return f(ctx, q)
}

func serve(t *testing.T, g discovery.Geocoder, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	r := chi.NewRouter()
	RegisterGeocode(r, GeocodeDeps{Geocoder: g})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestGeocodeHandler(t *testing.T) {
	g := geocoderFunc(func(_ context.Context, q string) (discovery.GeocodeResult, error) {
		assert.Equal(t, "Makati", q)
		return discovery.GeocodeResult{FormattedAddress: "Makati City", Coordinates: discovery.Coordinates{Lat: 14.55, Lng: 121.02}}, nil
	})

	rec, body := serve(t, g, httptest.NewRequest(http.MethodGet, "/v1/geocode?q=+Makati+", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "makati", body["query_key"])
	assert.Equal(t, "Makati City", body["result"].(map[string]any)["formatted_address"])

	rec, _ = serve(t, g, httptest.NewRequest(http.MethodPost, "/v1/geocode", strings.NewReader(`{"query":"Makati"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGeocodeHandlerErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"NotFound", discovery.ErrNotFound, http.StatusNotFound, "not_found"},
		{"Breaker", mapsapi.ErrBreakerOpen, http.StatusServiceUnavailable, "upstream_unavailable"},
		{"Other", errors.New("boom"), http.StatusBadGateway, "upstream_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := geocoderFunc(func(context.Context, string) (discovery.GeocodeResult, error) {
				return discovery.GeocodeResult{}, tt.err
			})
			rec, body := serve(t, g, httptest.NewRequest(http.MethodGet, "/v1/geocode?q=x", nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, body["error"])
		})
	}

	rec, body := serve(t, nil, httptest.NewRequest(http.MethodGet, "/v1/geocode?q=", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "query_required", body["error"])

	rec, _ = serve(t, nil, httptest.NewRequest(http.MethodGet, "/v1/geocode?q=x", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
