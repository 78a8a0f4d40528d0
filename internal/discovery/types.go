package discovery

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var (
	ErrUnknownListing   = errors.New("unknown listing")
	ErrDuplicateListing = errors.New("duplicate listing id")
	ErrInvalidListing   = errors.New("invalid listing")
	ErrNoAnchor         = errors.New("no active anchor")
	ErrInvalidRadius    = errors.New("invalid search radius")
	ErrInvalidSortKey   = errors.New("invalid sort key")
	ErrNoCoordinates    = errors.New("listing has no coordinates")
	ErrNotFound         = errors.New("location not found")
)

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Coordinates) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

func (c Coordinates) String() string { return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng) }

// Listing is one rental record of the session snapshot. It is never mutated
// after the snapshot is built.
type Listing struct {
	ID             int64        `json:"id"`
	Title          string       `json:"title"`
	Address        string       `json:"address"`
	Description    string       `json:"description,omitempty"`
	LocationTokens []string     `json:"location_tokens,omitempty"`
	Coordinates    *Coordinates `json:"coordinates,omitempty"`
	Price          float64      `json:"price"`
	Capacity       int          `json:"capacity"`
	Amenities      []string     `json:"amenities,omitempty"`
	TotalUnits     int          `json:"total_units"`
	OccupiedUnits  int          `json:"occupied_units"`
}

func (l Listing) AvailableUnits() int {
	if n := l.TotalUnits - l.OccupiedUnits; n > 0 {
		return n
	}
	return 0
}

// HasCoordinates reports whether the listing can take part in a radius search.
func (l Listing) HasCoordinates() bool {
	return l.Coordinates != nil && l.Coordinates.Valid()
}

// Snapshot is the immutable listing collection a session browses.
type Snapshot struct {
	listings []Listing
	index    map[int64]int
}

// NewSnapshot copies the given listings, ordered by id.
func NewSnapshot(in []Listing) (*Snapshot, error) {
	listings := make([]Listing, len(in))
	copy(listings, in)
	sort.SliceStable(listings, func(i, j int) bool { return listings[i].ID < listings[j].ID })

	index := make(map[int64]int, len(listings))
	for i := range listings {
		l := &listings[i]
		if _, dup := index[l.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateListing, l.ID)
		}
		if l.Price < 0 || math.IsNaN(l.Price) {
			return nil, fmt.Errorf("%w: listing %d has price %v", ErrInvalidListing, l.ID, l.Price)
		}
		if l.Capacity < 1 {
			return nil, fmt.Errorf("%w: listing %d has capacity %d", ErrInvalidListing, l.ID, l.Capacity)
		}
		l.LocationTokens = cloneStrings(l.LocationTokens)
		l.Amenities = cloneStrings(l.Amenities)
		if l.Coordinates != nil {
			c := *l.Coordinates
			l.Coordinates = &c
		}
		index[l.ID] = i
	}
	return &Snapshot{listings: listings, index: index}, nil
}

func (s *Snapshot) Len() int { return len(s.listings) }

func (s *Snapshot) Get(id int64) (Listing, bool) {
	i, ok := s.index[id]
	if !ok {
		return Listing{}, false
	}
	return s.listings[i], true
}

// Listings returns a copy of the snapshot contents ordered by id.
func (s *Snapshot) Listings() []Listing {
	out := make([]Listing, len(s.listings))
	copy(out, s.listings)
	return out
}

func (s *Snapshot) each(fn func(l *Listing)) {
	for i := range s.listings {
		fn(&s.listings[i])
	}
}

// SortKey selects the result ordering.
type SortKey string

const (
	SortDistance     SortKey = "distance"
	SortPriceAsc     SortKey = "price_asc"
	SortPriceDesc    SortKey = "price_desc"
	SortCapacityAsc  SortKey = "capacity_asc"
	SortCapacityDesc SortKey = "capacity_desc"
	SortNewest       SortKey = "newest"
	SortOldest       SortKey = "oldest"
)

func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case SortDistance, SortPriceAsc, SortPriceDesc, SortCapacityAsc, SortCapacityDesc, SortNewest, SortOldest:
		return k, nil
	case "":
		return SortDistance, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSortKey, s)
	}
}

// Anchor is the geocoded point a radius search is centered on.
type Anchor struct {
	Address     string      `json:"address"`
	Coordinates Coordinates `json:"coordinates"`
	RadiusKm    float64     `json:"radius_km"`
	SortKey     SortKey     `json:"sort_key"`
}

// CommuteRecord is the driving route summary for one listing under the
// current anchor.
type CommuteRecord struct {
	DistanceText    string  `json:"distance_text"`
	DurationText    string  `json:"duration_text"`
	DistanceMeters  float64 `json:"distance_meters,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Polyline        string  `json:"polyline,omitempty"`
}

// Label is the text shown on a result card.
func (r CommuteRecord) Label() string {
	switch {
	case r.DistanceText != "" && r.DurationText != "":
		return r.DistanceText + " · " + r.DurationText + " drive"
	case r.DistanceText != "":
		return r.DistanceText
	default:
		return r.DurationText
	}
}

// ResultSet is the ordered list of visible listing ids. It is always derived
// from the snapshot, filter, anchor, and sort key; it is never patched.
type ResultSet struct {
	IDs        []int64 `json:"ids"`
	Anchored   bool    `json:"anchored"`
	Generation uint64  `json:"generation"`
}

func (r ResultSet) Len() int { return len(r.IDs) }

// GeocodeResult is what a Geocoder returns for a free-text location.
type GeocodeResult struct {
	Coordinates      Coordinates `json:"coordinates"`
	FormattedAddress string      `json:"formatted_address"`
}

// PriceEstimate is the informational output of the price-comparison service.
type PriceEstimate struct {
	ListingID int64    `json:"listing_id"`
	Predicted float64  `json:"predicted"`
	Lower     *float64 `json:"lower,omitempty"`
	Upper     *float64 `json:"upper,omitempty"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
