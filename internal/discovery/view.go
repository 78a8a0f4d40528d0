package discovery

import "slices"

const amenityPreviewSize = 3

// Card is the rendered content of one result list entry.
type Card struct {
	ID             int64    `json:"id"`
	Title          string   `json:"title"`
	Address        string   `json:"address"`
	Price          float64  `json:"price"`
	AvailableUnits int      `json:"available_units"`
	TotalUnits     int      `json:"total_units"`
	DistanceLabel  string   `json:"distance_label,omitempty"`
	Commute        bool     `json:"commute"`
	AmenityPreview []string `json:"amenity_preview,omitempty"`
}

func (c Card) equal(o Card) bool {
	return c.ID == o.ID && c.Title == o.Title && c.Address == o.Address && c.Price == o.Price &&
		c.AvailableUnits == o.AvailableUnits && c.TotalUnits == o.TotalUnits &&
		c.DistanceLabel == o.DistanceLabel && c.Commute == o.Commute &&
		slices.Equal(c.AmenityPreview, o.AmenityPreview)
}

// Marker is a map pin.
type Marker struct {
	ID          int64       `json:"id"`
	Coordinates Coordinates `json:"coordinates"`
}

// ViewUpdate is the minimal set of changes a presentation adapter applies.
type ViewUpdate struct {
	Show      []int64 `json:"show,omitempty"`
	Hide      []int64 `json:"hide,omitempty"`
	Order     []int64 `json:"order"`
	Rerender  []Card  `json:"rerender,omitempty"`
	FitBounds *Bounds `json:"fit_bounds,omitempty"`
	Empty     bool    `json:"empty"`
}

// ViewSync derives marker visibility and list content from a result set,
// remembering what is already on screen so unchanged cards are left alone.
type ViewSync struct {
	visible map[int64]struct{}
	cards   map[int64]Card
	order   []int64
}

func NewViewSync() *ViewSync {
	return &ViewSync{
		visible: make(map[int64]struct{}),
		cards:   make(map[int64]Card),
	}
}

// Apply reconciles the view with an ordered card list. Bounds are fitted
// only when at least one visible listing has coordinates.
func (v *ViewSync) Apply(cards []Card, points map[int64]Coordinates) ViewUpdate {
	next := make(map[int64]struct{}, len(cards))
	upd := ViewUpdate{Order: make([]int64, 0, len(cards)), Empty: len(cards) == 0}

	var fit []Coordinates
	for _, c := range cards {
		next[c.ID] = struct{}{}
		upd.Order = append(upd.Order, c.ID)
		if _, shown := v.visible[c.ID]; !shown {
			upd.Show = append(upd.Show, c.ID)
		}
		if prev, ok := v.cards[c.ID]; !ok || !prev.equal(c) {
			upd.Rerender = append(upd.Rerender, c)
		}
		if p, ok := points[c.ID]; ok {
			fit = append(fit, p)
		}
	}
	for _, id := range v.order {
		if _, keep := next[id]; !keep {
			upd.Hide = append(upd.Hide, id)
		}
	}

	upd.FitBounds = boundsOf(fit)

	v.visible = next
	v.order = upd.Order
	kept := make(map[int64]Card, len(cards))
	for _, c := range cards {
		kept[c.ID] = c
	}
	v.cards = kept
	return upd
}

// Patch re-renders a single card in place, e.g. when a route arrives. It
// never fits bounds, so a restored route polyline stays on screen. It
// returns false when the listing is not currently visible.
func (v *ViewSync) Patch(c Card) (ViewUpdate, bool) {
	if _, ok := v.visible[c.ID]; !ok {
		return ViewUpdate{}, false
	}
	upd := ViewUpdate{Order: v.order, Empty: len(v.order) == 0}
	if prev, ok := v.cards[c.ID]; !ok || !prev.equal(c) {
		upd.Rerender = []Card{c}
		v.cards[c.ID] = c
	}
	return upd, true
}

// Visible returns the ids currently shown, in list order.
func (v *ViewSync) Visible() []int64 {
	return slices.Clone(v.order)
}

// Card returns the last rendered card for id.
func (v *ViewSync) Card(id int64) (Card, bool) {
	c, ok := v.cards[id]
	return c, ok
}
