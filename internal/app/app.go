// Package app builds the collaborators shared by the server and the CLI
// from configuration.
package app

import (
	"context"
	"time"

	"github.com/yourorg/rental-discovery/internal/config"
	"github.com/yourorg/rental-discovery/internal/discovery"
	"github.com/yourorg/rental-discovery/internal/hydrator"
	"github.com/yourorg/rental-discovery/internal/logging"
	"github.com/yourorg/rental-discovery/internal/redisx"
	"github.com/yourorg/rental-discovery/internal/store"
	"github.com/yourorg/rental-discovery/mapsapi"
	"github.com/yourorg/rental-discovery/pricing"
)

// Closer releases a resource opened by this package.
type Closer func() error

func nopCloser() error { return nil }

func Limits(cfg *config.Config) discovery.Limits {
	return discovery.Limits{
		PriceCeiling:  cfg.Session.PriceCeiling,
		RadiusChoices: cfg.Session.RadiusChoices,
	}
}

// ListingSource returns the file source when a snapshot path is set and the
// migrated Postgres store otherwise.
func ListingSource(ctx context.Context, cfg *config.Config) (hydrator.Source, *store.Store, Closer, error) {
	if cfg.Snapshot.Path != "" {
		return hydrator.FileSource{Path: cfg.Snapshot.Path}, nil, nopCloser, nil
	}
	st, err := store.Open(cfg.Database.URL)
	if err != nil {
		return nil, nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := st.Ping(pingCtx); err != nil {
		_ = st.Close()
		return nil, nil, nil, err
	}
	if err := st.Migrate(pingCtx); err != nil {
		_ = st.Close()
		return nil, nil, nil, err
	}
	return hydrator.DBSource{Store: st}, st, st.Close, nil
}

// MapsService stacks the maps client: cache, then circuit breaker, then
// the rate-limited HTTP client. Cache hits never reach the breaker.
func MapsService(ctx context.Context, cfg *config.Config) (mapsapi.Service, Closer) {
	var svc mapsapi.Service = mapsapi.NewClient(cfg.Maps.APIKey,
		mapsapi.WithBaseURL(cfg.Maps.BaseURL),
		mapsapi.WithTimeout(cfg.Maps.Timeout),
		mapsapi.WithRateLimit(cfg.Maps.RatePerSecond, cfg.Maps.Burst),
	)
	if cfg.Maps.BreakerEnabled {
		svc = mapsapi.NewBreakerClient(svc)
	}
	if cfg.Redis.Addr == "" {
		return svc, nopCloser
	}
	rc := redisx.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		// go-redis reconnects on its own; lookups fail through until then.
		logging.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable at startup")
	}
	return mapsapi.NewCachedClient(svc, rc, mapsapi.CacheTTLs{
		Geocode: cfg.Redis.GeocodeTTL,
		Miss:    cfg.Redis.MissTTL,
		Route:   cfg.Redis.RouteTTL,
	}), rc.Close
}

// PriceEstimator returns nil when no pricing service is configured.
func PriceEstimator(cfg *config.Config) discovery.PriceEstimator {
	if cfg.Pricing.URL == "" {
		return nil
	}
	return pricing.NewClient(cfg.Pricing.URL, cfg.Pricing.Timeout)
}
