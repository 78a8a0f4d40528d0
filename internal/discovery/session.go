package discovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourorg/rental-discovery/internal/logging"
	"github.com/yourorg/rental-discovery/internal/metrics"
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrSessionActive  = errors.New("session already running")
	ErrBusy           = errors.New("collaborator queue saturated")
	ErrNoCollaborator = errors.New("collaborator not configured")
)

// Geocoder turns free text into a point.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (GeocodeResult, error)
}

// Router returns the driving route between two points.
type Router interface {
	Route(ctx context.Context, origin, destination Coordinates) (CommuteRecord, error)
}

// RouteForgetter is implemented by Routers that keep routes in a shared
// cache. A refreshed route is forgotten before it is requested again.
type RouteForgetter interface {
	ForgetRoute(ctx context.Context, origin, destination Coordinates) error
}

// PriceEstimator returns a fair-price estimate for a listing.
type PriceEstimator interface {
	Estimate(ctx context.Context, l Listing) (PriceEstimate, error)
}

// Dispatcher runs a call off the session goroutine. It returns false when
// the call was not accepted.
type Dispatcher interface {
	Dispatch(key string, run func(ctx context.Context)) bool
}

type goDispatcher struct{}

func (goDispatcher) Dispatch(_ string, run func(ctx context.Context)) bool {
	go run(context.Background())
	return true
}

type Options struct {
	Limits     Limits
	Geocoder   Geocoder
	Router     Router
	Prices     PriceEstimator
	Dispatcher Dispatcher
	Listener   Listener
	// Timeout bounds every collaborator call. Expiry counts as failure.
	Timeout time.Duration
}

const defaultCallTimeout = 10 * time.Second

// Session owns one Engine. Every read and write of engine state happens on
// the goroutine running Run; callers and collaborator completions reach it
// through the inbox.
type Session struct {
	id     string
	engine *Engine
	opts   Options
	log    zerolog.Logger

	inbox     chan func(*Engine)
	quit      chan struct{}
	done      chan struct{}
	started   atomic.Bool
	closeOnce sync.Once
	lastUsed  atomic.Int64
}

func NewSession(id string, snapshot *Snapshot, opts Options) *Session {
	if opts.Dispatcher == nil {
		opts.Dispatcher = goDispatcher{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultCallTimeout
	}
	if len(opts.Limits.RadiusChoices) == 0 && opts.Limits.PriceCeiling == 0 {
		opts.Limits = DefaultLimits()
	}
	s := &Session{
		id:    id,
		opts:  opts,
		log:   logging.WithComponent("session").With().Str("session", id).Logger(),
		inbox: make(chan func(*Engine), 64),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	s.engine = NewEngine(snapshot, opts.Limits, ListenerFunc(s.forward))
	s.touch()
	return s
}

func (s *Session) ID() string { return s.id }

// Limits returns the bounds the session's engine was built with.
func (s *Session) Limits() Limits { return s.opts.Limits }

// LastUsed is the time of the last caller operation.
func (s *Session) LastUsed() time.Time { return time.Unix(0, s.lastUsed.Load()) }

func (s *Session) touch() { s.lastUsed.Store(time.Now().UnixNano()) }

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run processes the inbox until ctx is cancelled or Close is called.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionActive
	}
	defer close(s.done)
	s.log.Debug().Int("listings", s.engine.Snapshot().Len()).Msg("session loop started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.quit:
			return nil
		case fn := <-s.inbox:
			fn(s.engine)
		}
	}
}

func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
}

// do runs fn on the session goroutine and waits for it.
func (s *Session) do(ctx context.Context, op string, fn func(e *Engine) error) error {
	s.touch()
	errc := make(chan error, 1)
	select {
	case s.inbox <- func(e *Engine) { errc <- fn(e) }:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	var err error
	select {
	case err = <-errc:
	case <-s.done:
		err = ErrSessionClosed
	case <-ctx.Done():
		err = ctx.Err()
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.SessionOperations.WithLabelValues(op, outcome).Inc()
	return err
}

// post queues a completion. It is dropped if the session has ended.
func (s *Session) post(fn func(*Engine)) {
	select {
	case s.inbox <- fn:
	case <-s.done:
	}
}

func (s *Session) forward(ev Event) {
	metrics.EngineEvents.WithLabelValues(string(ev.Kind)).Inc()
	if ev.Kind == EventResults && ev.Results != nil {
		metrics.ResultSetSize.Observe(float64(len(ev.Results.IDs)))
	}
	if s.opts.Listener != nil {
		s.opts.Listener.Handle(ev)
	}
}

// launch runs call off the loop. The closure call returns is applied back on
// the loop; when it reports false the response was stale. fail is applied
// directly when the dispatcher refuses the call. Must run on the loop.
func (s *Session) launch(kind string, call func(ctx context.Context) func(*Engine) bool, fail func(*Engine, error) bool) {
	timeout := s.opts.Timeout
	run := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		apply := call(ctx)
		s.post(func(e *Engine) {
			if !apply(e) {
				metrics.StaleResponses.WithLabelValues(kind).Inc()
				s.log.Debug().Str("kind", kind).Msg("discarded stale response")
			}
		})
	}
	if !s.opts.Dispatcher.Dispatch("", run) {
		s.log.Warn().Str("kind", kind).Msg("collaborator call refused")
		fail(s.engine, ErrBusy)
	}
}

// call runs fn on the session goroutine. The value is only read back when
// the round trip completed without error.
func call[T any](ctx context.Context, s *Session, op string, fn func(e *Engine) (T, error)) (T, error) {
	var out T
	err := s.do(ctx, op, func(e *Engine) (err error) {
		out, err = fn(e)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (s *Session) ApplyFilter(ctx context.Context, f FilterState) (ResultSet, error) {
	return call(ctx, s, "apply_filter", func(e *Engine) (ResultSet, error) {
		return e.ApplyFilter(f), nil
	})
}

// ClearAll resets every filter and the anchor.
func (s *Session) ClearAll(ctx context.Context) (ResultSet, error) {
	return call(ctx, s, "clear_all", func(e *Engine) (ResultSet, error) {
		return e.ClearAll(), nil
	})
}

func (s *Session) ClearAnchor(ctx context.Context) (ResultSet, error) {
	return call(ctx, s, "clear_anchor", func(e *Engine) (ResultSet, error) {
		return e.ClearAnchor(), nil
	})
}

func (s *Session) SetSort(ctx context.Context, key SortKey) (ResultSet, error) {
	return call(ctx, s, "set_sort", func(e *Engine) (ResultSet, error) {
		return e.SetSort(key)
	})
}

func (s *Session) SetRadius(ctx context.Context, km float64) (ResultSet, error) {
	return call(ctx, s, "set_radius", func(e *Engine) (ResultSet, error) {
		return e.SetRadius(km)
	})
}

// SetAnchor anchors on known coordinates without geocoding.
func (s *Session) SetAnchor(ctx context.Context, a Anchor) (ResultSet, error) {
	return call(ctx, s, "set_anchor", func(e *Engine) (ResultSet, error) {
		if err := e.SetAnchor(a); err != nil {
			return ResultSet{}, err
		}
		return e.Results(), nil
	})
}

// SearchLocation starts geocoding query. The anchor changes when the
// geocode completes, which is announced through the listener. An empty
// query clears the anchor instead.
func (s *Session) SearchLocation(ctx context.Context, query string, radiusKm float64, key SortKey) (SearchTicket, error) {
	return call(ctx, s, "search_location", func(e *Engine) (SearchTicket, error) {
		if query == "" {
			e.ClearAnchor()
			return SearchTicket{}, nil
		}
		ticket, err := e.BeginSearch(query, radiusKm, key)
		if err != nil {
			return SearchTicket{}, err
		}
		if s.opts.Geocoder == nil {
			e.FailSearch(ticket, ErrNoCollaborator)
			return ticket, nil
		}
		s.launch("geocode", func(ctx context.Context) func(*Engine) bool {
			start := time.Now()
			res, err := s.opts.Geocoder.Geocode(ctx, ticket.Query)
			metrics.ObserveCollaborator("geocode", start, err)
			if err != nil {
				s.log.Warn().Err(err).Str("query", ticket.Query).Msg("geocode failed")
			}
			return func(e *Engine) bool {
				if err != nil {
					return e.FailSearch(ticket, err)
				}
				return e.CompleteSearch(ticket, res)
			}
		}, func(e *Engine, err error) bool { return e.FailSearch(ticket, err) })
		return ticket, nil
	})
}

// SelectListing selects id, requesting its route and price estimate when
// they are needed.
func (s *Session) SelectListing(ctx context.Context, id int64) error {
	return s.do(ctx, "select_listing", func(e *Engine) error {
		t, err := e.SelectListing(id)
		if err != nil {
			return err
		}
		if t != nil {
			s.requestRoute(e, *t)
		}
		s.requestPrice(e)
		return nil
	})
}

// RefreshRoute drops the cached route of id and fetches it again.
func (s *Session) RefreshRoute(ctx context.Context, id int64) error {
	return s.do(ctx, "refresh_route", func(e *Engine) error {
		t, err := e.RefreshRoute(id)
		if err != nil {
			return err
		}
		s.requestRoute(e, *t)
		return nil
	})
}

func (s *Session) requestRoute(e *Engine, t RouteTicket) {
	if s.opts.Router == nil {
		e.FailRoute(t, ErrNoCollaborator)
		return
	}
	s.launch("route", func(ctx context.Context) func(*Engine) bool {
		if f, ok := s.opts.Router.(RouteForgetter); ok && t.Refresh {
			if err := f.ForgetRoute(ctx, t.Origin, t.Destination); err != nil {
				s.log.Warn().Err(err).Int64("listing", t.ListingID).Msg("forget cached route failed")
			}
		}
		start := time.Now()
		rec, err := s.opts.Router.Route(ctx, t.Origin, t.Destination)
		metrics.ObserveCollaborator("route", start, err)
		if err != nil {
			s.log.Warn().Err(err).Int64("listing", t.ListingID).Msg("route failed")
		}
		return func(e *Engine) bool {
			if err != nil {
				return e.FailRoute(t, err)
			}
			return e.ApplyRoute(t, rec)
		}
	}, func(e *Engine, err error) bool { return e.FailRoute(t, err) })
}

func (s *Session) requestPrice(e *Engine) {
	if s.opts.Prices == nil {
		return
	}
	t, ok := e.PriceTicket()
	if !ok {
		return
	}
	s.launch("price", func(ctx context.Context) func(*Engine) bool {
		start := time.Now()
		est, err := s.opts.Prices.Estimate(ctx, t.Listing)
		metrics.ObserveCollaborator("price", start, err)
		return func(e *Engine) bool {
			if err != nil {
				return e.FailPrice(t, err)
			}
			return e.ApplyPrice(t, est)
		}
	}, func(e *Engine, err error) bool { return e.FailPrice(t, err) })
}

func (s *Session) State(ctx context.Context) (State, error) {
	return call(ctx, s, "state", func(e *Engine) (State, error) {
		return e.State(), nil
	})
}

// View returns the whole current screen as one update.
func (s *Session) View(ctx context.Context) (ViewUpdate, error) {
	return call(ctx, s, "view", func(e *Engine) (ViewUpdate, error) {
		return e.View(), nil
	})
}
