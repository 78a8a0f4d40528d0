package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommuteCacheGenerations(t *testing.T) {
	c := NewCommuteCache()
	rec := CommuteRecord{DistanceText: "7.1 km", DurationText: "18 mins"}

	assert.True(t, c.Put(0, 1, rec))
	c.SetActive(1)

	c.Reset(1)
	assert.Equal(t, 0, c.Len())
	_, active := c.Active()
	assert.False(t, active)

	assert.False(t, c.Put(0, 2, rec), "stale generation refused")
	_, ok := c.Get(2)
	assert.False(t, ok)

	assert.True(t, c.Put(1, 2, rec))
	got, ok := c.Get(2)
	assert.True(t, ok)
	assert.Equal(t, rec, got)
}

func TestCommuteCacheInvalidate(t *testing.T) {
	c := NewCommuteCache()
	c.Put(0, 1, CommuteRecord{DistanceText: "1 km"})
	c.Put(0, 2, CommuteRecord{DistanceText: "2 km"})
	c.SetActive(2)

	c.Invalidate(1)
	assert.Equal(t, 1, c.Len())
	id, ok := c.Active()
	assert.True(t, ok)
	assert.Equal(t, int64(2), id)

	c.Invalidate(2)
	_, ok = c.Active()
	assert.False(t, ok)
}

func TestCommuteRecordLabel(t *testing.T) {
	assert.Equal(t, "7.1 km · 18 mins drive", CommuteRecord{DistanceText: "7.1 km", DurationText: "18 mins"}.Label())
	assert.Equal(t, "7.1 km", CommuteRecord{DistanceText: "7.1 km"}.Label())
}
