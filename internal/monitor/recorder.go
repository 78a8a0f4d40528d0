// Package monitor watches the event stream of every session and turns it
// into logs and metrics.
package monitor

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/yourorg/rental-discovery/internal/discovery"
	"github.com/yourorg/rental-discovery/internal/events"
	"github.com/yourorg/rental-discovery/internal/logging"
	"github.com/yourorg/rental-discovery/internal/metrics"
)

type Recorder struct {
	broker *events.Broker
	log    zerolog.Logger
}

func NewRecorder(b *events.Broker) *Recorder {
	return &Recorder{broker: b, log: logging.WithComponent("monitor")}
}

// Run consumes events until ctx is done or the broker closes.
func (r *Recorder) Run(ctx context.Context) error {
	ch, cancel := r.broker.Subscribe("", 1024)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			r.record(env)
		}
	}
}

func (r *Recorder) record(env events.Envelope) {
	ev := env.Event
	switch ev.Kind {
	case discovery.EventNotice:
		if ev.Notice == nil {
			return
		}
		metrics.Notices.WithLabelValues(string(ev.Notice.Code)).Inc()
		r.log.Warn().Str("session", env.SessionID).Str("code", string(ev.Notice.Code)).
			Int64("listing", ev.Notice.ListingID).Msg(ev.Notice.Message)
	case discovery.EventRoute:
		if ev.Route == nil {
			return
		}
		metrics.RouteUpdates.WithLabelValues(routeState(ev.Route)).Inc()
	case discovery.EventAnchor:
		e := r.log.Info().Str("session", env.SessionID)
		if ev.Anchor != nil {
			e = e.Str("address", ev.Anchor.Address).Float64("radius_km", ev.Anchor.RadiusKm)
		}
		e.Msg("anchor changed")
	}
}

func routeState(u *discovery.RouteUpdate) string {
	switch {
	case u.Restored:
		return "restored"
	case u.Active:
		return "active"
	default:
		return "cached"
	}
}
