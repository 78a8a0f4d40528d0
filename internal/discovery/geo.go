package discovery

import (
	"fmt"
	"math"
)

const (
	earthRadiusMeters = 6371000.0

	// radiusToleranceMeters absorbs floating point error at the radius
	// boundary so a listing exactly on the circle stays a candidate.
	radiusToleranceMeters = 1e-3
)

// DistanceMeters returns the great-circle (haversine) distance between a and b.
func DistanceMeters(a, b Coordinates) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180.0 }
	dlat := rad(b.Lat - a.Lat)
	dlng := rad(b.Lng - a.Lng)
	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*math.Sin(dlng/2)*math.Sin(dlng/2)
	if h > 1 {
		h = 1
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// FormatDistance renders a straight-line distance: meters below 1 km,
// kilometers with one decimal from 1 km up.
func FormatDistance(meters float64) string {
	if m := math.Round(meters); m < 1000 {
		return fmt.Sprintf("%d m", int(m))
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}

// WithinRadius reports whether distance falls inside radiusKm, boundary inclusive.
func WithinRadius(distanceMeters, radiusKm float64) bool {
	return distanceMeters <= radiusKm*1000+radiusToleranceMeters
}

// RadiusResult is the output of one anchored search.
type RadiusResult struct {
	IDs       []int64
	Distances map[int64]float64
	Labels    map[int64]string
}

// RadiusSearch returns the listings inside the anchor radius that also pass
// the filter predicate. Listings without valid coordinates are never
// candidates. Distances and fallback labels are recorded for every listing
// with coordinates, candidate or not, so that the labels stay available
// while the radius changes.
func RadiusSearch(s *Snapshot, anchor Anchor, f FilterState) RadiusResult {
	res := RadiusResult{
		Distances: make(map[int64]float64),
		Labels:    make(map[int64]string),
	}
	s.each(func(l *Listing) {
		if !l.HasCoordinates() {
			return
		}
		d := DistanceMeters(anchor.Coordinates, *l.Coordinates)
		res.Distances[l.ID] = d
		res.Labels[l.ID] = FormatDistance(d)
		if WithinRadius(d, anchor.RadiusKm) && Matches(*l, f) {
			res.IDs = append(res.IDs, l.ID)
		}
	})
	return res
}

// FilterAll is the unanchored search: the predicate alone.
func FilterAll(s *Snapshot, f FilterState) []int64 {
	var ids []int64
	s.each(func(l *Listing) {
		if Matches(*l, f) {
			ids = append(ids, l.ID)
		}
	})
	return ids
}

// Bounds is a lat/lng bounding box for viewport fitting.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

func (b *Bounds) extend(c Coordinates) {
	b.South = math.Min(b.South, c.Lat)
	b.North = math.Max(b.North, c.Lat)
	b.West = math.Min(b.West, c.Lng)
	b.East = math.Max(b.East, c.Lng)
}

// boundsOf returns nil when no point is available, so a caller never fits an
// empty viewport.
func boundsOf(points []Coordinates) *Bounds {
	if len(points) == 0 {
		return nil
	}
	b := &Bounds{South: points[0].Lat, North: points[0].Lat, West: points[0].Lng, East: points[0].Lng}
	for _, p := range points[1:] {
		b.extend(p)
	}
	return b
}

// ValidRadius reports whether km is one of the allowed radius choices. An
// empty choice list accepts any positive radius.
func (l Limits) ValidRadius(km float64) bool {
	if km <= 0 || math.IsNaN(km) || math.IsInf(km, 0) {
		return false
	}
	if len(l.RadiusChoices) == 0 {
		return true
	}
	for _, c := range l.RadiusChoices {
		if c == km {
			return true
		}
	}
	return false
}
