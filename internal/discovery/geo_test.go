package discovery

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// north returns the point meters due north of c.
func north(c Coordinates, meters float64) Coordinates {
	return Coordinates{Lat: c.Lat + meters/earthRadiusMeters*180/math.Pi, Lng: c.Lng}
}

func coords(lat, lng float64) *Coordinates { return &Coordinates{Lat: lat, Lng: lng} }

func TestDistanceMeters(t *testing.T) {
	a := Coordinates{Lat: 14.60, Lng: 120.98}
	b := Coordinates{Lat: 14.65, Lng: 120.95}

	assert.Equal(t, 0.0, DistanceMeters(a, a))
	assert.InDelta(t, 6400, DistanceMeters(a, b), 100)
	assert.InDelta(t, DistanceMeters(a, b), DistanceMeters(b, a), 1e-9)
	assert.InDelta(t, 5000, DistanceMeters(a, north(a, 5000)), 1e-6)
}

func TestFormatDistance(t *testing.T) {
	tests := []struct {
		meters float64
		want   string
	}{
		{0, "0 m"},
		{850, "850 m"},
		{999.4, "999 m"},
		{999.6, "1.0 km"},
		{1000, "1.0 km"},
		{6432, "6.4 km"},
		{15049, "15.0 km"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDistance(tt.meters), "meters=%v", tt.meters)
	}
}

func TestRadiusBoundaryIsInclusive(t *testing.T) {
	anchor := Coordinates{Lat: 14.60, Lng: 120.98}
	at := north(anchor, 5000)
	beyond := north(anchor, 5001)

	snap, err := NewSnapshot([]Listing{
		{ID: 1, Title: "edge", Price: 1000, Capacity: 1, Coordinates: &at},
		{ID: 2, Title: "outside", Price: 1000, Capacity: 1, Coordinates: &beyond},
	})
	require.NoError(t, err)

	res := RadiusSearch(snap, Anchor{Coordinates: anchor, RadiusKm: 5}, DefaultFilter(DefaultLimits()))
	assert.Equal(t, []int64{1}, res.IDs)
	assert.Contains(t, res.Distances, int64(2), "distances are kept for non-candidates")
	assert.Equal(t, "5.0 km", res.Labels[1])
}

func TestRadiusSearchExcludesMissingCoordinates(t *testing.T) {
	anchor := Coordinates{Lat: 14.60, Lng: 120.98}
	snap, err := NewSnapshot([]Listing{
		{ID: 1, Title: "here", Price: 1000, Capacity: 1, Coordinates: &anchor},
		{ID: 2, Title: "nowhere", Price: 1000, Capacity: 1},
		{ID: 3, Title: "broken", Price: 1000, Capacity: 1, Coordinates: coords(math.NaN(), 0)},
	})
	require.NoError(t, err)
	f := DefaultFilter(DefaultLimits())

	res := RadiusSearch(snap, Anchor{Coordinates: anchor, RadiusKm: 20}, f)
	assert.Equal(t, []int64{1}, res.IDs)
	assert.NotContains(t, res.Labels, int64(2))

	assert.Equal(t, []int64{1, 2, 3}, FilterAll(snap, f), "unanchored search keeps them")
}

func TestRadiusSearchAppliesPredicate(t *testing.T) {
	anchor := Coordinates{Lat: 14.60, Lng: 120.98}
	snap, err := NewSnapshot([]Listing{
		{ID: 1, Title: "cheap", Price: 1000, Capacity: 1, Coordinates: &anchor},
		{ID: 2, Title: "pricey", Price: 9000, Capacity: 1, Coordinates: &anchor},
	})
	require.NoError(t, err)

	f := FilterState{MaxPrice: 5000, MinCapacity: 1}
	res := RadiusSearch(snap, Anchor{Coordinates: anchor, RadiusKm: 2}, f)
	assert.Equal(t, []int64{1}, res.IDs)
}

func TestBoundsOf(t *testing.T) {
	assert.Nil(t, boundsOf(nil))

	b := boundsOf([]Coordinates{{Lat: 14.6, Lng: 120.98}, {Lat: 14.65, Lng: 120.95}})
	require.NotNil(t, b)
	assert.Equal(t, Bounds{South: 14.6, West: 120.95, North: 14.65, East: 120.98}, *b)
}

func TestValidRadius(t *testing.T) {
	limits := DefaultLimits()
	assert.True(t, limits.ValidRadius(5))
	assert.False(t, limits.ValidRadius(3))
	assert.False(t, limits.ValidRadius(0))
	assert.True(t, Limits{}.ValidRadius(3.5))
	assert.False(t, Limits{}.ValidRadius(-1))
}

func TestNewSnapshot(t *testing.T) {
	_, err := NewSnapshot([]Listing{{ID: 1, Capacity: 1}, {ID: 1, Capacity: 1}})
	assert.ErrorIs(t, err, ErrDuplicateListing)

	_, err = NewSnapshot([]Listing{{ID: 1, Capacity: 0}})
	assert.ErrorIs(t, err, ErrInvalidListing)

	_, err = NewSnapshot([]Listing{{ID: 1, Capacity: 1, Price: -1}})
	assert.ErrorIs(t, err, ErrInvalidListing)

	in := []Listing{
		{ID: 3, Capacity: 1, Amenities: []string{"WiFi"}},
		{ID: 1, Capacity: 1},
	}
	snap, err := NewSnapshot(in)
	require.NoError(t, err)
	in[0].Amenities[0] = "changed"

	l, ok := snap.Get(3)
	require.True(t, ok)
	assert.Equal(t, []string{"WiFi"}, l.Amenities)
	assert.Equal(t, int64(1), snap.Listings()[0].ID)
	assert.Equal(t, 2, snap.Len())
}
