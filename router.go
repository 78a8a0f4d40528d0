package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpapi "github.com/yourorg/rental-discovery/http"
	httpv1 "github.com/yourorg/rental-discovery/http/v1"
	"github.com/yourorg/rental-discovery/internal/config"
	"github.com/yourorg/rental-discovery/internal/discovery"
	"github.com/yourorg/rental-discovery/internal/events"
	"github.com/yourorg/rental-discovery/internal/logging"
)

type RouterDeps struct {
	Registry *httpapi.Registry
	Broker   *events.Broker
	Reloader httpapi.SnapshotReloader
	Geocoder discovery.Geocoder
	Server   config.ServerConfig
}

func BuildRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware)
	if d.Server.RateLimitReqs > 0 {
		r.Use(httprate.LimitByIP(d.Server.RateLimitReqs, d.Server.RateLimitWindow)) // protect upstream quota
	}
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Handle("/metrics", promhttp.Handler())
	httpapi.RegisterAdmin(r, httpapi.AdminDeps{Reloader: d.Reloader, Registry: d.Registry})
	httpapi.RegisterSessions(r, httpapi.SessionDeps{Registry: d.Registry, Broker: d.Broker})
	httpv1.RegisterGeocode(r, httpv1.GeocodeDeps{Geocoder: d.Geocoder})
	return r
}
