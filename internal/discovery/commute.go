package discovery

// CommuteCache holds driving routes for the current anchor generation only.
// It also tracks the single "active route" being drawn.
type CommuteCache struct {
	generation uint64
	entries    map[int64]CommuteRecord
	active     int64
	hasActive  bool
}

func NewCommuteCache() *CommuteCache {
	return &CommuteCache{entries: make(map[int64]CommuteRecord)}
}

func (c *CommuteCache) Generation() uint64 { return c.generation }

// Reset drops every entry and the active route, and rebinds the cache to gen.
func (c *CommuteCache) Reset(gen uint64) {
	c.generation = gen
	c.entries = make(map[int64]CommuteRecord)
	c.active = 0
	c.hasActive = false
}

// Put stores rec for id if gen is still the cache generation. It reports
// whether the record was written.
func (c *CommuteCache) Put(gen uint64, id int64, rec CommuteRecord) bool {
	if gen != c.generation {
		return false
	}
	c.entries[id] = rec
	return true
}

func (c *CommuteCache) Get(id int64) (CommuteRecord, bool) {
	rec, ok := c.entries[id]
	return rec, ok
}

// Invalidate removes the entry for id, clearing the active marker if it
// pointed at that listing.
func (c *CommuteCache) Invalidate(id int64) {
	delete(c.entries, id)
	if c.hasActive && c.active == id {
		c.hasActive = false
		c.active = 0
	}
}

func (c *CommuteCache) Len() int { return len(c.entries) }

func (c *CommuteCache) SetActive(id int64) {
	c.active = id
	c.hasActive = true
}

func (c *CommuteCache) ClearActive() {
	c.active = 0
	c.hasActive = false
}

func (c *CommuteCache) Active() (int64, bool) { return c.active, c.hasActive }
