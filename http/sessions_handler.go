package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/yourorg/rental-discovery/internal/discovery"
	"github.com/yourorg/rental-discovery/internal/events"
)

type SessionDeps struct {
	Registry *Registry
	// Broker feeds the websocket event stream; the stream route is absent
	// without one.
	Broker *events.Broker
	// CheckOrigin overrides the same-origin check of the websocket upgrader.
	CheckOrigin func(r *http.Request) bool
}

// AnchorRequest either names a place to geocode (Query) or gives the point
// directly (Lat and Lng).
type AnchorRequest struct {
	Query    string   `json:"query" validate:"required_without_all=Lat Lng,max=300"`
	Address  string   `json:"address" validate:"max=300"`
	Lat      *float64 `json:"lat" validate:"required_with=Lng,omitempty,latitude"`
	Lng      *float64 `json:"lng" validate:"required_with=Lat,omitempty,longitude"`
	RadiusKm float64  `json:"radius_km" validate:"gt=0"`
	Sort     string   `json:"sort"`
}

type RadiusRequest struct {
	RadiusKm float64 `json:"radius_km" validate:"gt=0"`
}

type SortRequest struct {
	Sort string `json:"sort" validate:"required"`
}

func RegisterSessions(r chi.Router, d SessionDeps) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			s, err := d.Registry.Create()
			if err != nil {
				writeErr(w, req, err)
				return
			}
			st, err := s.State(req.Context())
			if err != nil {
				writeErr(w, req, err)
				return
			}
			render.Status(req, http.StatusCreated)
			render.JSON(w, req, map[string]any{"id": s.ID(), "state": st})
		})

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", d.withSession(func(w http.ResponseWriter, req *http.Request, s *discovery.Session) {
				st, err := s.State(req.Context())
				if err != nil {
					writeErr(w, req, err)
					return
				}
				render.JSON(w, req, st)
			}))
			r.Delete("/", func(w http.ResponseWriter, req *http.Request) {
				if err := d.Registry.Delete(chi.URLParam(req, "sessionID")); err != nil {
					writeErr(w, req, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
			if d.Broker != nil {
				r.Get("/events", d.eventsHandler())
			}
			r.Get("/view", d.withSession(func(w http.ResponseWriter, req *http.Request, s *discovery.Session) {
				v, err := s.View(req.Context())
				if err != nil {
					writeErr(w, req, err)
					return
				}
				render.JSON(w, req, v)
			}))

			r.Put("/filters", d.withSession(func(w http.ResponseWriter, req *http.Request, s *discovery.Session) {
				var raw discovery.RawFilter
				if !decode(w, req, &raw) {
					return
				}
				res, err := s.ApplyFilter(req.Context(), discovery.ParseFilter(raw, s.Limits()))
				respondResults(w, req, s, res, err)
			}))
			r.Delete("/filters", d.withSession(func(w http.ResponseWriter, req *http.Request, s *discovery.Session) {
				res, err := s.ClearAll(req.Context())
				respondResults(w, req, s, res, err)
			}))

			r.Post("/anchor", d.withSession(func(w http.ResponseWriter, req *http.Request, s *discovery.Session) {
				var body AnchorRequest
				if !decode(w, req, &body) {
					return
				}
				key := discovery.SortKey(body.Sort)
				if key == "" {
					key = discovery.SortDistance
				}
				if body.Lat != nil && body.Lng != nil {
					res, err := s.SetAnchor(req.Context(), discovery.Anchor{
						Address:     body.Address,
						Coordinates: discovery.Coordinates{Lat: *body.Lat, Lng: *body.Lng},
						RadiusKm:    body.RadiusKm,
						SortKey:     key,
					})
					respondResults(w, req, s, res, err)
					return
				}
				t, err := s.SearchLocation(req.Context(), body.Query, body.RadiusKm, key)
				if err != nil {
					writeErr(w, req, err)
					return
				}
				render.Status(req, http.StatusAccepted)
				render.JSON(w, req, map[string]any{"search": t.Sequence, "query": t.Query})
			}))
			r.Delete("/anchor", d.withSession(func(w http.ResponseWriter, req *http.Request, s *discovery.Session) {
				res, err := s.ClearAnchor(req.Context())
				respondResults(w, req, s, res, err)
			}))

			r.Put("/radius", d.withSession(func(w http.ResponseWriter, req *http.Request, s *discovery.Session) {
				var body RadiusRequest
				if !decode(w, req, &body) {
					return
				}
				res, err := s.SetRadius(req.Context(), body.RadiusKm)
				respondResults(w, req, s, res, err)
			}))
			r.Put("/sort", d.withSession(func(w http.ResponseWriter, req *http.Request, s *discovery.Session) {
				var body SortRequest
				if !decode(w, req, &body) {
					return
				}
				res, err := s.SetSort(req.Context(), discovery.SortKey(body.Sort))
				respondResults(w, req, s, res, err)
			}))

			r.Post("/listings/{listingID}/select", d.withListing(func(w http.ResponseWriter, req *http.Request, s *discovery.Session, id int64) {
				if err := s.SelectListing(req.Context(), id); err != nil {
					writeErr(w, req, err)
					return
				}
				render.Status(req, http.StatusAccepted)
				render.JSON(w, req, map[string]any{"ok": true, "listing_id": id})
			}))
			r.Post("/listings/{listingID}/route/refresh", d.withListing(func(w http.ResponseWriter, req *http.Request, s *discovery.Session, id int64) {
				if err := s.RefreshRoute(req.Context(), id); err != nil {
					writeErr(w, req, err)
					return
				}
				render.Status(req, http.StatusAccepted)
				render.JSON(w, req, map[string]any{"ok": true, "listing_id": id})
			}))
		})
	})
}

type sessionHandler func(w http.ResponseWriter, req *http.Request, s *discovery.Session)

func (d SessionDeps) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		s, err := d.Registry.Get(chi.URLParam(req, "sessionID"))
		if err != nil {
			writeErr(w, req, err)
			return
		}
		h(w, req, s)
	}
}

func (d SessionDeps) withListing(h func(w http.ResponseWriter, req *http.Request, s *discovery.Session, id int64)) http.HandlerFunc {
	return d.withSession(func(w http.ResponseWriter, req *http.Request, s *discovery.Session) {
		id, err := strconv.ParseInt(chi.URLParam(req, "listingID"), 10, 64)
		if err != nil {
			writeError(w, req, http.StatusBadRequest, "invalid_listing_id", err.Error())
			return
		}
		h(w, req, s, id)
	})
}

// respondResults answers a state change with the new result set and the
// full current state, so clients need not follow up with a GET.
func respondResults(w http.ResponseWriter, req *http.Request, s *discovery.Session, res discovery.ResultSet, err error) {
	if err != nil {
		writeErr(w, req, err)
		return
	}
	st, err := s.State(req.Context())
	if err != nil {
		writeErr(w, req, err)
		return
	}
	render.JSON(w, req, map[string]any{"results": res, "state": st})
}
