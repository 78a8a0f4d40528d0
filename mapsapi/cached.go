package mapsapi

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/mmcloughlin/geohash"

	"github.com/yourorg/rental-discovery/internal/canon"
	"github.com/yourorg/rental-discovery/internal/discovery"
	"github.com/yourorg/rental-discovery/internal/logging"
	"github.com/yourorg/rental-discovery/internal/metrics"
	"github.com/yourorg/rental-discovery/internal/redisx"
)

// Store is the key/value surface CachedClient needs. *redisx.Client
// implements it.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, val string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

var _ Store = (*redisx.Client)(nil)

// routePrecision is the geohash length used for route keys, about 1.2 m.
const routePrecision = 10

const missMarker = "-"

type CacheTTLs struct {
	Geocode time.Duration
	Miss    time.Duration
	Route   time.Duration
}

// CachedClient serves repeated geocode and route lookups from a shared
// store. Only successes and "no match" geocode answers are cached; cache
// errors fall through to the wrapped service.
type CachedClient struct {
	next  Service
	store Store
	ttl   CacheTTLs
}

func NewCachedClient(next Service, store Store, ttl CacheTTLs) *CachedClient {
	return &CachedClient{next: next, store: store, ttl: ttl}
}

func geocodeKey(query string) string { return "geocode:" + canon.QueryKey(query) }

func routeKey(origin, destination discovery.Coordinates) string {
	return "route:" + geohash.EncodeWithPrecision(origin.Lat, origin.Lng, routePrecision) +
		":" + geohash.EncodeWithPrecision(destination.Lat, destination.Lng, routePrecision)
}

func (c *CachedClient) Geocode(ctx context.Context, query string) (discovery.GeocodeResult, error) {
	key := geocodeKey(query)
	raw, err := c.store.Get(ctx, key)
	switch {
	case err == nil && raw == missMarker:
		metrics.CacheLookups.WithLabelValues("geocode", "negative").Inc()
		return discovery.GeocodeResult{}, discovery.ErrNotFound
	case err == nil:
		var res discovery.GeocodeResult
		if jerr := json.Unmarshal([]byte(raw), &res); jerr == nil {
			metrics.CacheLookups.WithLabelValues("geocode", "hit").Inc()
			return res, nil
		}
	case !errors.Is(err, redisx.ErrMiss):
		logging.Warn().Err(err).Str("key", key).Msg("geocode cache read failed")
	}
	metrics.CacheLookups.WithLabelValues("geocode", "miss").Inc()

	res, err := c.next.Geocode(ctx, query)
	switch {
	case errors.Is(err, discovery.ErrNotFound):
		c.logWrite(c.store.Set(ctx, key, missMarker, c.ttl.Miss), key)
	case err == nil:
		c.logWrite(redisx.SetJSON(ctx, c.store, key, res, c.ttl.Geocode), key)
	}
	return res, err
}

func (c *CachedClient) Route(ctx context.Context, origin, destination discovery.Coordinates) (discovery.CommuteRecord, error) {
	key := routeKey(origin, destination)
	var rec discovery.CommuteRecord
	err := redisx.GetJSON(ctx, c.store, key, &rec)
	if err == nil {
		metrics.CacheLookups.WithLabelValues("route", "hit").Inc()
		return rec, nil
	}
	if !errors.Is(err, redisx.ErrMiss) {
		logging.Warn().Err(err).Str("key", key).Msg("route cache read failed")
	}
	metrics.CacheLookups.WithLabelValues("route", "miss").Inc()

	rec, err = c.next.Route(ctx, origin, destination)
	if err == nil {
		c.logWrite(redisx.SetJSON(ctx, c.store, key, rec, c.ttl.Route), key)
	}
	return rec, err
}

// ForgetRoute drops the shared cached route so the next Route call asks
// the wrapped service.
func (c *CachedClient) ForgetRoute(ctx context.Context, origin, destination discovery.Coordinates) error {
	return c.store.Del(ctx, routeKey(origin, destination))
}

var _ discovery.RouteForgetter = (*CachedClient)(nil)

func (c *CachedClient) logWrite(err error, key string) {
	if err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}
