package discovery

import (
	"fmt"
	"slices"
)

// RouteTicket identifies an outgoing route request. The generation and
// selection it carries are compared with engine state when the response is
// applied; a mismatch means the response is stale.
type RouteTicket struct {
	ListingID   int64
	Generation  uint64
	Selection   uint64
	Origin      Coordinates
	Destination Coordinates

	// Refresh asks shared caches below the Router to drop the route first.
	Refresh bool
}

// SearchTicket identifies an outgoing geocode request.
type SearchTicket struct {
	Sequence uint64
	Query    string
	RadiusKm float64
	SortKey  SortKey
}

// PriceTicket identifies an outgoing price-comparison request.
type PriceTicket struct {
	Selection uint64
	Listing   Listing
}

// ActiveRoute is the single route currently drawn.
type ActiveRoute struct {
	ListingID int64         `json:"listing_id"`
	Record    CommuteRecord `json:"record"`
}

// State is a read-only copy of everything the UI renders.
type State struct {
	Filter      FilterState  `json:"filter"`
	Anchor      *Anchor      `json:"anchor,omitempty"`
	SortKey     SortKey      `json:"sort_key"`
	Results     ResultSet    `json:"results"`
	Cards       []Card       `json:"cards"`
	Markers     []Marker     `json:"markers"`
	ActiveRoute *ActiveRoute `json:"active_route,omitempty"`
	Selected    *int64       `json:"selected,omitempty"`
	Loading     bool         `json:"loading"`
	Empty       bool         `json:"empty"`
}

// Engine owns all discovery state of one browsing session. It is not safe
// for concurrent use; Session serializes access to it.
type Engine struct {
	snapshot *Snapshot
	limits   Limits
	listener Listener

	filter  FilterState
	anchor  *Anchor
	sortKey SortKey

	// generation changes whenever the anchor identity changes.
	generation uint64
	cache      *CommuteCache
	distances  map[int64]float64
	labels     map[int64]string

	searchSeq    uint64
	loading      bool
	selectionSeq uint64
	selected     int64
	hasSelected  bool

	results ResultSet
	view    *ViewSync
	events  uint64
}

func NewEngine(snapshot *Snapshot, limits Limits, listener Listener) *Engine {
	if listener == nil {
		listener = nopListener{}
	}
	if snapshot == nil {
		snapshot, _ = NewSnapshot(nil)
	}
	e := &Engine{
		snapshot: snapshot,
		limits:   limits,
		listener: listener,
		filter:   DefaultFilter(limits),
		sortKey:  SortDistance,
		cache:    NewCommuteCache(),
		view:     NewViewSync(),
	}
	e.recompute()
	return e
}

func (e *Engine) Snapshot() *Snapshot  { return e.snapshot }
func (e *Engine) Limits() Limits       { return e.limits }
func (e *Engine) Filter() FilterState  { return e.filter }
func (e *Engine) SortKey() SortKey     { return e.sortKey }
func (e *Engine) Generation() uint64   { return e.generation }
func (e *Engine) Cache() *CommuteCache { return e.cache }
func (e *Engine) Results() ResultSet   { return cloneResults(e.results) }
func (e *Engine) Loading() bool        { return e.loading }

// FallbackLabel is the straight-line label of id under the current anchor.
func (e *Engine) FallbackLabel(id int64) string { return e.labels[id] }

// View describes the whole current screen as one update, for a presentation
// adapter that attaches mid-session.
func (e *Engine) View() ViewUpdate {
	order := e.view.Visible()
	upd := ViewUpdate{Show: order, Order: order, Empty: len(order) == 0}
	var points []Coordinates
	for _, id := range order {
		if c, ok := e.view.Card(id); ok {
			upd.Rerender = append(upd.Rerender, c)
		}
		if l, ok := e.snapshot.Get(id); ok && l.HasCoordinates() {
			points = append(points, *l.Coordinates)
		}
	}
	if _, routed := e.cache.Active(); !routed {
		upd.FitBounds = boundsOf(points)
		if upd.FitBounds != nil && e.anchor != nil {
			upd.FitBounds.extend(e.anchor.Coordinates)
		}
	}
	return upd
}

func (e *Engine) Anchor() (Anchor, bool) {
	if e.anchor == nil {
		return Anchor{}, false
	}
	return *e.anchor, true
}

// ApplyFilter replaces the filter state and re-derives the results.
func (e *Engine) ApplyFilter(f FilterState) ResultSet {
	e.filter = f.Normalize(e.limits)
	e.recompute()
	return e.Results()
}

// SetSort changes the ordering key.
func (e *Engine) SetSort(key SortKey) (ResultSet, error) {
	k, err := ParseSortKey(string(key))
	if err != nil {
		return e.Results(), err
	}
	e.sortKey = k
	if e.anchor != nil {
		e.anchor.SortKey = k
	}
	e.recompute()
	return e.Results(), nil
}

// SetRadius changes the radius of the current anchor. The anchor identity
// is unchanged so cached routes survive.
func (e *Engine) SetRadius(km float64) (ResultSet, error) {
	if e.anchor == nil {
		return e.Results(), ErrNoAnchor
	}
	if !e.limits.ValidRadius(km) {
		return e.Results(), fmt.Errorf("%w: %v km", ErrInvalidRadius, km)
	}
	e.anchor.RadiusKm = km
	e.recompute()
	return e.Results(), nil
}

// BeginSearch starts a location search. Any earlier search still in flight
// becomes stale.
func (e *Engine) BeginSearch(query string, radiusKm float64, key SortKey) (SearchTicket, error) {
	if !e.limits.ValidRadius(radiusKm) {
		return SearchTicket{}, fmt.Errorf("%w: %v km", ErrInvalidRadius, radiusKm)
	}
	if key == "" {
		key = SortDistance
	}
	if _, err := ParseSortKey(string(key)); err != nil {
		return SearchTicket{}, err
	}
	e.searchSeq++
	e.setLoading(true)
	return SearchTicket{Sequence: e.searchSeq, Query: query, RadiusKm: radiusKm, SortKey: key}, nil
}

// CompleteSearch applies a successful geocode. It returns false, leaving
// the engine untouched, when the ticket is no longer the latest search.
func (e *Engine) CompleteSearch(t SearchTicket, res GeocodeResult) bool {
	if t.Sequence != e.searchSeq {
		return false
	}
	e.setLoading(false)
	address := res.FormattedAddress
	if address == "" {
		address = t.Query
	}
	a := Anchor{
		Address:     address,
		Coordinates: res.Coordinates,
		RadiusKm:    t.RadiusKm,
		SortKey:     t.SortKey,
	}
	if err := e.checkAnchor(&a); err != nil {
		e.notify(Notice{Code: NoticeGeocodeFailed, Message: err.Error()})
		return true
	}
	e.applyAnchor(a)
	return true
}

// FailSearch reports a geocode failure. The prior anchor state, anchored or
// not, is kept as is.
func (e *Engine) FailSearch(t SearchTicket, err error) bool {
	if t.Sequence != e.searchSeq {
		return false
	}
	e.setLoading(false)
	msg := fmt.Sprintf("could not find %q", t.Query)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	e.notify(Notice{Code: NoticeGeocodeFailed, Message: msg})
	return true
}

// SetAnchor enters or stays in the anchored state. New coordinates start a
// new anchor generation, which empties the commute cache before the new
// results are computed. Pending location searches are abandoned.
func (e *Engine) SetAnchor(a Anchor) error {
	if err := e.checkAnchor(&a); err != nil {
		return err
	}
	e.searchSeq++
	e.setLoading(false)
	e.applyAnchor(a)
	return nil
}

func (e *Engine) checkAnchor(a *Anchor) error {
	if !a.Coordinates.Valid() {
		return fmt.Errorf("invalid anchor coordinates %s", a.Coordinates)
	}
	if !e.limits.ValidRadius(a.RadiusKm) {
		return fmt.Errorf("%w: %v km", ErrInvalidRadius, a.RadiusKm)
	}
	if a.SortKey == "" {
		a.SortKey = SortDistance
	}
	return nil
}

func (e *Engine) applyAnchor(a Anchor) {
	if e.anchor == nil || e.anchor.Coordinates != a.Coordinates {
		e.newGeneration()
	}
	anchor := a
	e.anchor = &anchor
	e.sortKey = a.SortKey
	e.emit(Event{Kind: EventAnchor, Anchor: &anchor})
	e.recompute()
}

// ClearAnchor returns to general filtering. Pending location searches are
// abandoned.
func (e *Engine) ClearAnchor() ResultSet {
	e.searchSeq++
	e.setLoading(false)
	if e.anchor != nil {
		e.anchor = nil
		e.newGeneration()
		e.emit(Event{Kind: EventAnchor})
	}
	e.recompute()
	return e.Results()
}

// ClearAll resets every filter and the anchor.
func (e *Engine) ClearAll() ResultSet {
	e.filter = DefaultFilter(e.limits)
	return e.ClearAnchor()
}

// SelectListing marks id as selected. When anchored and no route is cached
// for it, a ticket for a route request is returned. A cached route is
// restored without a request.
func (e *Engine) SelectListing(id int64) (*RouteTicket, error) {
	l, ok := e.snapshot.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownListing, id)
	}
	e.selectionSeq++
	e.selected = id
	e.hasSelected = true

	if active, ok := e.cache.Active(); ok && active != id {
		e.cache.ClearActive()
		e.emit(Event{Kind: EventRouteCleared, Listing: active})
	}
	if e.anchor == nil {
		return nil, nil
	}
	if !l.HasCoordinates() {
		e.notify(Notice{Code: NoticeNoCoordinates, Message: "listing has no map location", ListingID: id})
		return nil, nil
	}
	if rec, ok := e.cache.Get(id); ok {
		e.cache.SetActive(id)
		upd := e.patchCard(id)
		e.emit(Event{Kind: EventRoute, Route: &RouteUpdate{ListingID: id, Record: rec, Active: true, Restored: true, View: upd}})
		return nil, nil
	}
	return e.ticket(l), nil
}

// RefreshRoute drops the cached route of id and requests it again.
func (e *Engine) RefreshRoute(id int64) (*RouteTicket, error) {
	if e.anchor == nil {
		return nil, ErrNoAnchor
	}
	l, ok := e.snapshot.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownListing, id)
	}
	if !l.HasCoordinates() {
		return nil, fmt.Errorf("%w: %d", ErrNoCoordinates, id)
	}
	if active, ok := e.cache.Active(); ok && active == id {
		e.emit(Event{Kind: EventRouteCleared, Listing: id})
	}
	e.cache.Invalidate(id)
	e.patchCard(id)
	e.selectionSeq++
	e.selected = id
	e.hasSelected = true
	t := e.ticket(l)
	t.Refresh = true
	return t, nil
}

func (e *Engine) ticket(l Listing) *RouteTicket {
	return &RouteTicket{
		ListingID:   l.ID,
		Generation:  e.generation,
		Selection:   e.selectionSeq,
		Origin:      e.anchor.Coordinates,
		Destination: *l.Coordinates,
	}
}

// ApplyRoute stores a route response. Responses issued under an earlier
// anchor generation are discarded without touching the cache or the view.
// A response for an older selection under the same anchor is cached but
// not drawn.
func (e *Engine) ApplyRoute(t RouteTicket, rec CommuteRecord) bool {
	if e.anchor == nil || t.Generation != e.generation {
		return false
	}
	if !e.cache.Put(t.Generation, t.ListingID, rec) {
		return false
	}
	active := t.Selection == e.selectionSeq
	if active {
		e.cache.SetActive(t.ListingID)
	}
	upd := e.patchCard(t.ListingID)
	e.emit(Event{Kind: EventRoute, Route: &RouteUpdate{ListingID: t.ListingID, Record: rec, Active: active, View: upd}})
	return true
}

// FailRoute leaves the straight-line label in place. Nothing is cached, so
// selecting the listing again retries. Failures for a listing no longer
// selected are dropped silently.
func (e *Engine) FailRoute(t RouteTicket, err error) bool {
	if e.anchor == nil || t.Generation != e.generation || t.Selection != e.selectionSeq {
		return false
	}
	msg := "driving route unavailable"
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	e.notify(Notice{Code: NoticeRouteFailed, Message: msg, ListingID: t.ListingID})
	return true
}

// PriceTicket returns a ticket for the current selection.
func (e *Engine) PriceTicket() (PriceTicket, bool) {
	if !e.hasSelected {
		return PriceTicket{}, false
	}
	l, ok := e.snapshot.Get(e.selected)
	if !ok {
		return PriceTicket{}, false
	}
	return PriceTicket{Selection: e.selectionSeq, Listing: l}, true
}

func (e *Engine) ApplyPrice(t PriceTicket, est PriceEstimate) bool {
	if t.Selection != e.selectionSeq {
		return false
	}
	est.ListingID = t.Listing.ID
	e.emit(Event{Kind: EventPrice, Price: &est, Listing: t.Listing.ID})
	return true
}

func (e *Engine) FailPrice(t PriceTicket, err error) bool {
	if t.Selection != e.selectionSeq {
		return false
	}
	e.notify(Notice{Code: NoticePriceFailed, Message: err.Error(), ListingID: t.Listing.ID})
	return true
}

// State returns a copy of the rendered state.
func (e *Engine) State() State {
	st := State{
		Filter:  e.filter,
		SortKey: e.sortKey,
		Results: e.Results(),
		Cards:   make([]Card, 0, len(e.results.IDs)),
		Markers: make([]Marker, 0, len(e.results.IDs)),
		Loading: e.loading,
		Empty:   len(e.results.IDs) == 0 && !e.loading,
	}
	st.Filter.SelectedAmenities = slices.Clone(e.filter.SelectedAmenities)
	if e.anchor != nil {
		a := *e.anchor
		st.Anchor = &a
	}
	for _, id := range e.results.IDs {
		st.Cards = append(st.Cards, e.card(id))
		if l, ok := e.snapshot.Get(id); ok && l.HasCoordinates() {
			st.Markers = append(st.Markers, Marker{ID: id, Coordinates: *l.Coordinates})
		}
	}
	if id, ok := e.cache.Active(); ok {
		rec, _ := e.cache.Get(id)
		st.ActiveRoute = &ActiveRoute{ListingID: id, Record: rec}
	}
	if e.hasSelected {
		sel := e.selected
		st.Selected = &sel
	}
	return st
}

func (e *Engine) newGeneration() {
	e.generation++
	hadActive := false
	var activeID int64
	if id, ok := e.cache.Active(); ok {
		hadActive, activeID = true, id
	}
	e.cache.Reset(e.generation)
	e.distances = nil
	e.labels = nil
	if hadActive {
		e.emit(Event{Kind: EventRouteCleared, Listing: activeID})
	}
}

func (e *Engine) recompute() {
	var ids []int64
	if e.anchor != nil {
		rr := RadiusSearch(e.snapshot, *e.anchor, e.filter)
		ids, e.distances, e.labels = rr.IDs, rr.Distances, rr.Labels
	} else {
		ids = FilterAll(e.snapshot, e.filter)
		e.distances, e.labels = nil, nil
	}
	ordered := Sort(ids, e.sortKey, SortLookup{Snapshot: e.snapshot, Distances: e.distances})
	e.results = ResultSet{IDs: ordered, Anchored: e.anchor != nil, Generation: e.generation}

	cards := make([]Card, 0, len(ordered))
	points := make(map[int64]Coordinates, len(ordered))
	for _, id := range ordered {
		cards = append(cards, e.card(id))
		if l, ok := e.snapshot.Get(id); ok && l.HasCoordinates() {
			points[id] = *l.Coordinates
		}
	}
	upd := e.view.Apply(cards, points)
	if upd.FitBounds != nil && e.anchor != nil {
		upd.FitBounds.extend(e.anchor.Coordinates)
	}

	// An active route whose listing dropped out of view is no longer drawn;
	// one that is still visible keeps the viewport where it is.
	if id, ok := e.cache.Active(); ok {
		if slices.Contains(ordered, id) {
			upd.FitBounds = nil
		} else {
			e.cache.ClearActive()
			e.emit(Event{Kind: EventRouteCleared, Listing: id})
		}
	}

	rs := e.Results()
	e.emit(Event{Kind: EventResults, Results: &rs, View: &upd})
}

func (e *Engine) card(id int64) Card {
	l, _ := e.snapshot.Get(id)
	c := Card{
		ID:             l.ID,
		Title:          l.Title,
		Address:        l.Address,
		Price:          l.Price,
		AvailableUnits: l.AvailableUnits(),
		TotalUnits:     l.TotalUnits,
	}
	if n := min(len(l.Amenities), amenityPreviewSize); n > 0 {
		c.AmenityPreview = slices.Clone(l.Amenities[:n])
	}
	if rec, ok := e.cache.Get(id); ok && e.anchor != nil {
		c.DistanceLabel = rec.Label()
		c.Commute = true
	} else if e.anchor != nil {
		c.DistanceLabel = e.labels[id]
	}
	return c
}

func (e *Engine) patchCard(id int64) *ViewUpdate {
	upd, ok := e.view.Patch(e.card(id))
	if !ok {
		return nil
	}
	return &upd
}

func (e *Engine) setLoading(v bool) {
	if e.loading == v {
		return
	}
	e.loading = v
	e.emit(Event{Kind: EventLoading, Loading: v})
}

func (e *Engine) notify(n Notice) {
	e.emit(Event{Kind: EventNotice, Notice: &n, Listing: n.ListingID})
}

func (e *Engine) emit(ev Event) {
	e.events++
	ev.Sequence = e.events
	e.listener.Handle(ev)
}

func cloneResults(r ResultSet) ResultSet {
	r.IDs = slices.Clone(r.IDs)
	if r.IDs == nil {
		r.IDs = []int64{}
	}
	return r
}
