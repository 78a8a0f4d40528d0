package mapsapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/rental-discovery/internal/discovery"
	"github.com/yourorg/rental-discovery/internal/redisx"
)

const geocodeOK = `{
  "status": "OK",
  "results": [{
    "formatted_address": "Makati, Metro Manila, Philippines",
    "geometry": {"location": {"lat": 14.5547, "lng": "121.0244"}}
  }]
}`

const directionsOK = `{
  "status": "OK",
  "routes": [{
    "overview_polyline": {"points": "abc~d"},
    "legs": [{
      "distance": {"text": "6.4 km", "value": 6400},
      "duration": {"text": "18 mins", "value": 1080}
    }]
  }]
}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient("k3y", WithBaseURL(srv.URL+"/"), WithRetryMax(1), WithTimeout(2*time.Second))
}

func TestGeocode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/geocode/json", r.URL.Path)
		assert.Equal(t, "Makati", r.URL.Query().Get("address"))
		assert.Equal(t, "k3y", r.URL.Query().Get("key"))
		w.Write([]byte(geocodeOK))
	})

	res, err := c.Geocode(context.Background(), "Makati")
	require.NoError(t, err)
	assert.Equal(t, "Makati, Metro Manila, Philippines", res.FormattedAddress)
	assert.InDelta(t, 14.5547, res.Coordinates.Lat, 1e-9)
	assert.InDelta(t, 121.0244, res.Coordinates.Lng, 1e-9)
}

func TestGeocodeStatuses(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"ZeroResults", `{"status":"ZERO_RESULTS","results":[]}`, discovery.ErrNotFound},
		{"Quota", `{"status":"OVER_QUERY_LIMIT"}`, ErrQuotaExceeded},
		{"Denied", `{"status":"REQUEST_DENIED","error_message":"bad key"}`, ErrRequestDenied},
		{"NoValidResult", `{"status":"OK","results":[{"geometry":{"location":{"lat":"x","lng":1}}}]}`, discovery.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			_, err := c.Geocode(context.Background(), "nowhere")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHTTPErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := c.Geocode(context.Background(), "x")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})
	_, err = c.Geocode(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestRoute(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/directions/json", r.URL.Path)
		assert.Equal(t, "14.600000,120.980000", r.URL.Query().Get("origin"))
		assert.Equal(t, "14.650000,120.950000", r.URL.Query().Get("destination"))
		assert.Equal(t, "driving", r.URL.Query().Get("mode"))
		w.Write([]byte(directionsOK))
	})

	rec, err := c.Route(context.Background(),
		discovery.Coordinates{Lat: 14.60, Lng: 120.98},
		discovery.Coordinates{Lat: 14.65, Lng: 120.95})
	require.NoError(t, err)
	assert.Equal(t, "6.4 km · 18 mins drive", rec.Label())
	assert.Equal(t, 6400.0, rec.DistanceMeters)
	assert.Equal(t, "abc~d", rec.Polyline)
}

func TestMapDirectionsMultiLeg(t *testing.T) {
	rec, err := MapDirectionsPayload([]byte(`{"status":"OK","routes":[{"legs":[
		{"distance":{"text":"1 km","value":1000},"duration":{"text":"2 mins","value":120}},
		{"distance":{"text":"2 km","value":"2500"},"duration":{"text":"1 hour","value":3600}}]}]}`))
	require.NoError(t, err)
	assert.Equal(t, "3.5 km", rec.DistanceText)
	assert.Equal(t, "1 hour 2 mins", rec.DurationText)

	_, err = MapDirectionsPayload([]byte(`{"status":"OK","routes":[]}`))
	assert.ErrorIs(t, err, discovery.ErrNotFound)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1 min", formatDuration(10))
	assert.Equal(t, "1 min", formatDuration(60))
	assert.Equal(t, "25 mins", formatDuration(1500))
	assert.Equal(t, "2 hours", formatDuration(7200))
}

func TestRedactKey(t *testing.T) {
	assert.Equal(t, "http://x/geocode/json?address=a&key=REDACTED", redactKey("http://x/geocode/json?address=a&key=secret"))
}

func TestTransportErrorHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewClient("SECRETKEY", WithBaseURL(base), WithRetryMax(0), WithTimeout(time.Second))
	_, err := c.Geocode(context.Background(), "Makati")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRETKEY")
	assert.Contains(t, err.Error(), "key=REDACTED")

	_, err = c.Route(context.Background(), discovery.Coordinates{Lat: 1, Lng: 1}, discovery.Coordinates{Lat: 2, Lng: 2})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRETKEY")
}

func TestRedactErrKeepsChain(t *testing.T) {
	ue := &url.Error{Op: "Get", URL: "http://x/geocode/json?address=a&key=secret", Err: context.DeadlineExceeded}

	direct := redactErr(ue)
	assert.NotContains(t, direct.Error(), "secret")
	assert.ErrorIs(t, direct, context.DeadlineExceeded)

	wrapped := redactErr(fmt.Errorf("geocode: %w", ue))
	assert.Equal(t, `geocode: Get "http://x/geocode/json?address=a&key=REDACTED": context deadline exceeded`, wrapped.Error())
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)

	plain := errors.New("boom")
	assert.Same(t, plain, redactErr(plain))
}

func TestRetryLoggerHidesKey(t *testing.T) {
	var buf bytes.Buffer
	l := retryLogger{zerolog.New(&buf)}
	raw := "http://x/geocode/json?address=a&key=secret"
	u, err := url.Parse(raw)
	require.NoError(t, err)

	l.Warn("request failed",
		"url", raw,
		"target", u,
		"error", &url.Error{Op: "Get", URL: raw, Err: errors.New("connection refused")},
	)
	out := buf.String()
	assert.NotContains(t, out, "secret")
	assert.Contains(t, out, "connection refused")
}

type stubService struct {
	calls   atomic.Int32
	geocode func() (discovery.GeocodeResult, error)
	route   func() (discovery.CommuteRecord, error)
}

func (s *stubService) Geocode(context.Context, string) (discovery.GeocodeResult, error) {
	s.calls.Add(1)
	return s.geocode()
}

func (s *stubService) Route(context.Context, discovery.Coordinates, discovery.Coordinates) (discovery.CommuteRecord, error) {
	s.calls.Add(1)
	return s.route()
}

func TestBreakerOpensOnFailures(t *testing.T) {
	boom := errors.New("boom")
	stub := &stubService{geocode: func() (discovery.GeocodeResult, error) { return discovery.GeocodeResult{}, boom }}
	b := newBreakerClient(stub, "test-open", time.Hour)

	for range 10 {
		_, err := b.Geocode(context.Background(), "x")
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, "open", b.State())

	_, err := b.Geocode(context.Background(), "x")
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, int32(10), stub.calls.Load())
}

func TestBreakerIgnoresNotFound(t *testing.T) {
	stub := &stubService{geocode: func() (discovery.GeocodeResult, error) {
		return discovery.GeocodeResult{}, discovery.ErrNotFound
	}}
	b := newBreakerClient(stub, "test-notfound", time.Hour)
	for range 20 {
		_, err := b.Geocode(context.Background(), "x")
		assert.ErrorIs(t, err, discovery.ErrNotFound)
	}
	assert.Equal(t, "closed", b.State())
}

func TestBreakerPassesResults(t *testing.T) {
	stub := &stubService{route: func() (discovery.CommuteRecord, error) {
		return discovery.CommuteRecord{DistanceText: "1 km"}, nil
	}}
	rec, err := newBreakerClient(stub, "test-pass", time.Hour).Route(context.Background(), discovery.Coordinates{}, discovery.Coordinates{})
	require.NoError(t, err)
	assert.Equal(t, "1 km", rec.DistanceText)
}

type memStore struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redisx.ErrMiss
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key, val string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = val
	m.ttls[key] = ttl
	return nil
}

func (m *memStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
		delete(m.ttls, k)
	}
	return nil
}

var testTTLs = CacheTTLs{Geocode: time.Hour, Miss: time.Minute, Route: 2 * time.Hour}

func TestCachedGeocode(t *testing.T) {
	stub := &stubService{geocode: func() (discovery.GeocodeResult, error) {
		return discovery.GeocodeResult{FormattedAddress: "Makati", Coordinates: discovery.Coordinates{Lat: 14.55, Lng: 121.02}}, nil
	}}
	store := newMemStore()
	c := NewCachedClient(stub, store, testTTLs)

	first, err := c.Geocode(context.Background(), "12 Rizal Avenue, Makati")
	require.NoError(t, err)
	second, err := c.Geocode(context.Background(), "12  rizal ave. makati")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), stub.calls.Load(), "normalized query served from cache")
	assert.Equal(t, time.Hour, store.ttls[geocodeKey("12 Rizal Avenue, Makati")])
}

func TestCachedGeocodeNegative(t *testing.T) {
	stub := &stubService{geocode: func() (discovery.GeocodeResult, error) {
		return discovery.GeocodeResult{}, discovery.ErrNotFound
	}}
	store := newMemStore()
	c := NewCachedClient(stub, store, testTTLs)

	for range 3 {
		_, err := c.Geocode(context.Background(), "atlantis")
		assert.ErrorIs(t, err, discovery.ErrNotFound)
	}
	assert.Equal(t, int32(1), stub.calls.Load())
	assert.Equal(t, time.Minute, store.ttls[geocodeKey("atlantis")])
}

func TestCachedSkipsFailures(t *testing.T) {
	boom := errors.New("boom")
	stub := &stubService{
		geocode: func() (discovery.GeocodeResult, error) { return discovery.GeocodeResult{}, boom },
		route:   func() (discovery.CommuteRecord, error) { return discovery.CommuteRecord{}, boom },
	}
	store := newMemStore()
	c := NewCachedClient(stub, store, testTTLs)

	_, err := c.Geocode(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	_, err = c.Route(context.Background(), discovery.Coordinates{}, discovery.Coordinates{Lat: 1})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, store.data)
}

func TestCachedRoute(t *testing.T) {
	stub := &stubService{route: func() (discovery.CommuteRecord, error) {
		return discovery.CommuteRecord{DistanceText: "6.4 km", DurationText: "18 mins"}, nil
	}}
	c := NewCachedClient(stub, newMemStore(), testTTLs)
	a := discovery.Coordinates{Lat: 14.60, Lng: 120.98}
	b := discovery.Coordinates{Lat: 14.65, Lng: 120.95}

	for range 2 {
		rec, err := c.Route(context.Background(), a, b)
		require.NoError(t, err)
		assert.Equal(t, "6.4 km · 18 mins drive", rec.Label())
	}
	assert.Equal(t, int32(1), stub.calls.Load())

	_, err := c.Route(context.Background(), b, a)
	require.NoError(t, err)
	assert.Equal(t, int32(2), stub.calls.Load(), "direction is part of the key")
}

func TestCachedForgetRoute(t *testing.T) {
	n := 0
	stub := &stubService{route: func() (discovery.CommuteRecord, error) {
		n++
		return discovery.CommuteRecord{DistanceText: fmt.Sprintf("%d km", n), DurationText: "18 mins"}, nil
	}}
	store := newMemStore()
	c := NewCachedClient(stub, store, testTTLs)
	a := discovery.Coordinates{Lat: 14.60, Lng: 120.98}
	b := discovery.Coordinates{Lat: 14.65, Lng: 120.95}

	first, err := c.Route(context.Background(), a, b)
	require.NoError(t, err)
	_, err = c.Route(context.Background(), b, a)
	require.NoError(t, err)

	require.NoError(t, c.ForgetRoute(context.Background(), a, b))
	assert.NotContains(t, store.data, routeKey(a, b))
	assert.Contains(t, store.data, routeKey(b, a), "only the forgotten direction is dropped")

	again, err := c.Route(context.Background(), a, b)
	require.NoError(t, err)
	assert.NotEqual(t, first.DistanceText, again.DistanceText)
	assert.Equal(t, int32(3), stub.calls.Load())
}
