package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewSyncApply(t *testing.T) {
	v := NewViewSync()
	a := Card{ID: 1, Title: "A", Price: 5000}
	b := Card{ID: 2, Title: "B", Price: 8000}
	points := map[int64]Coordinates{1: {Lat: 14.60, Lng: 120.98}, 2: {Lat: 14.65, Lng: 120.95}}

	upd := v.Apply([]Card{a, b}, points)
	assert.Equal(t, []int64{1, 2}, upd.Show)
	assert.Empty(t, upd.Hide)
	assert.Len(t, upd.Rerender, 2)
	require.NotNil(t, upd.FitBounds)
	assert.False(t, upd.Empty)

	// unchanged card is left alone, reordering is reported
	b2 := b
	b2.DistanceLabel = "6.4 km"
	upd = v.Apply([]Card{b2, a}, points)
	assert.Empty(t, upd.Show)
	assert.Equal(t, []int64{2, 1}, upd.Order)
	require.Len(t, upd.Rerender, 1)
	assert.Equal(t, int64(2), upd.Rerender[0].ID)

	upd = v.Apply([]Card{a}, points)
	assert.Equal(t, []int64{2}, upd.Hide)
	assert.Empty(t, upd.Rerender)
	assert.Equal(t, []int64{1}, v.Visible())
}

func TestViewSyncEmptyNeverFits(t *testing.T) {
	v := NewViewSync()
	v.Apply([]Card{{ID: 1}}, map[int64]Coordinates{1: {Lat: 1, Lng: 1}})

	upd := v.Apply(nil, nil)
	assert.True(t, upd.Empty)
	assert.Nil(t, upd.FitBounds)
	assert.Equal(t, []int64{1}, upd.Hide)
}

func TestViewSyncNoCoordinatesNoFit(t *testing.T) {
	v := NewViewSync()
	upd := v.Apply([]Card{{ID: 1}}, nil)
	assert.False(t, upd.Empty)
	assert.Nil(t, upd.FitBounds)
}

func TestViewSyncPatch(t *testing.T) {
	v := NewViewSync()
	v.Apply([]Card{{ID: 1, DistanceLabel: "6.4 km"}}, map[int64]Coordinates{1: {Lat: 1, Lng: 1}})

	upd, ok := v.Patch(Card{ID: 1, DistanceLabel: "7.1 km · 18 mins drive", Commute: true})
	require.True(t, ok)
	assert.Nil(t, upd.FitBounds)
	require.Len(t, upd.Rerender, 1)

	c, _ := v.Card(1)
	assert.True(t, c.Commute)

	_, ok = v.Patch(Card{ID: 9})
	assert.False(t, ok)
}
