// Package hydrator builds discovery snapshots from a listing source.
package hydrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/yourorg/rental-discovery/internal/canon"
	"github.com/yourorg/rental-discovery/internal/discovery"
	"github.com/yourorg/rental-discovery/internal/logging"
	"github.com/yourorg/rental-discovery/internal/metrics"
	"github.com/yourorg/rental-discovery/internal/store"
)

// Source yields raw listing rows.
type Source interface {
	Rows(ctx context.Context) ([]store.ListingRow, error)
}

// FileSource reads a JSON array of listing rows.
type FileSource struct{ Path string }

func (f FileSource) Rows(_ context.Context) ([]store.ListingRow, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	var rows []store.ListingRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Path, err)
	}
	return rows, nil
}

// DBSource reads active listings from Postgres.
type DBSource struct{ Store *store.Store }

func (d DBSource) Rows(ctx context.Context) ([]store.ListingRow, error) {
	return d.Store.LoadListings(ctx)
}

type Hydrator struct {
	Source Source
	log    zerolog.Logger
}

func New(src Source) *Hydrator {
	return &Hydrator{Source: src, log: logging.WithComponent("hydrator")}
}

// Load reads the source and builds a snapshot. Malformed rows and repeated
// ids are skipped with a warning rather than failing the load.
func (h *Hydrator) Load(ctx context.Context) (*discovery.Snapshot, error) {
	if h == nil || h.Source == nil {
		return nil, errors.New("hydrator has no source")
	}
	rows, err := h.Source.Rows(ctx)
	if err != nil {
		metrics.SnapshotLoads.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("read listings: %w", err)
	}

	seen := make(map[int64]struct{}, len(rows))
	listings := make([]discovery.Listing, 0, len(rows))
	skipped := 0
	for _, r := range rows {
		l, err := ToListing(r)
		if err == nil {
			if _, dup := seen[r.ID]; dup {
				err = fmt.Errorf("%w: %d", discovery.ErrDuplicateListing, r.ID)
			}
		}
		if err != nil {
			skipped++
			h.log.Warn().Err(err).Int64("listing", r.ID).Msg("skipping listing")
			continue
		}
		seen[r.ID] = struct{}{}
		listings = append(listings, l)
	}

	snap, err := discovery.NewSnapshot(listings)
	if err != nil {
		metrics.SnapshotLoads.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SnapshotLoads.WithLabelValues("ok").Inc()
	metrics.SnapshotListings.Set(float64(snap.Len()))
	h.log.Info().Int("listings", snap.Len()).Int("skipped", skipped).Msg("snapshot loaded")
	return snap, nil
}

// ToListing validates a row and derives its location tokens from the address.
func ToListing(r store.ListingRow) (discovery.Listing, error) {
	invalid := func(format string, args ...any) (discovery.Listing, error) {
		return discovery.Listing{}, fmt.Errorf("%w: %s", discovery.ErrInvalidListing, fmt.Sprintf(format, args...))
	}
	switch {
	case strings.TrimSpace(r.Title) == "":
		return invalid("empty title")
	case r.Price < 0 || math.IsNaN(r.Price) || math.IsInf(r.Price, 0):
		return invalid("price %v", r.Price)
	case r.Capacity < 1:
		return invalid("capacity %d", r.Capacity)
	case r.TotalUnits < 0 || r.OccupiedUnits < 0:
		return invalid("units %d/%d", r.OccupiedUnits, r.TotalUnits)
	case (r.Lat == nil) != (r.Lng == nil):
		return invalid("partial coordinates")
	}

	l := discovery.Listing{
		ID:            r.ID,
		Title:         strings.TrimSpace(r.Title),
		Address:       strings.TrimSpace(r.Address),
		Description:   r.Description,
		Price:         r.Price,
		Capacity:      r.Capacity,
		Amenities:     r.Amenities,
		TotalUnits:    r.TotalUnits,
		OccupiedUnits: r.OccupiedUnits,
	}
	if r.Lat != nil {
		c := discovery.Coordinates{Lat: *r.Lat, Lng: *r.Lng}
		if !c.Valid() {
			return invalid("coordinates %s", c)
		}
		l.Coordinates = &c
	}
	l.LocationTokens = mergeTokens(canon.Tokens(l.Address), r.LocationTokens)
	return l, nil
}

func mergeTokens(derived, extra []string) []string {
	seen := make(map[string]struct{}, len(derived)+len(extra))
	out := make([]string, 0, len(derived)+len(extra))
	for _, t := range append(derived, extra...) {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
