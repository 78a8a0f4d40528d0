package hydrator

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/yourorg/rental-discovery/internal/discovery"
)

// Reloader keeps the snapshot handed to new sessions fresh. Sessions that
// already hold a snapshot keep it.
type Reloader struct {
	Hydrator *Hydrator
	Interval time.Duration

	current atomic.Pointer[discovery.Snapshot]
}

func NewReloader(h *Hydrator, interval time.Duration, initial *discovery.Snapshot) *Reloader {
	r := &Reloader{Hydrator: h, Interval: interval}
	r.current.Store(initial)
	return r
}

func (r *Reloader) Current() *discovery.Snapshot { return r.current.Load() }

// Reload loads a new snapshot. On failure the current one stays in place.
func (r *Reloader) Reload(ctx context.Context) (*discovery.Snapshot, error) {
	snap, err := r.Hydrator.Load(ctx)
	if err != nil {
		return nil, err
	}
	r.current.Store(snap)
	return snap, nil
}

// Run reloads every Interval until ctx is done. A zero interval disables
// periodic reloads.
func (r *Reloader) Run(ctx context.Context) error {
	if r.Interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	r.Hydrator.log.Info().Dur("interval", r.Interval).Msg("snapshot reloader starting")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Reload(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.Hydrator.log.Error().Err(err).Msg("snapshot reload failed; keeping previous snapshot")
			}
		}
	}
}
