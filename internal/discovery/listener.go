package discovery

// EventKind names what changed in the engine.
type EventKind string

const (
	EventResults      EventKind = "results_changed"
	EventRoute        EventKind = "route_updated"
	EventRouteCleared EventKind = "route_cleared"
	EventAnchor       EventKind = "anchor_changed"
	EventLoading      EventKind = "loading"
	EventNotice       EventKind = "notice"
	EventPrice        EventKind = "price_estimated"
)

// NoticeCode classifies user-visible, recoverable problems.
type NoticeCode string

const (
	NoticeGeocodeFailed NoticeCode = "geocode_failed"
	NoticeRouteFailed   NoticeCode = "route_failed"
	NoticePriceFailed   NoticeCode = "price_failed"
	NoticeNoCoordinates NoticeCode = "no_coordinates"
)

type Notice struct {
	Code      NoticeCode `json:"code"`
	Message   string     `json:"message"`
	ListingID int64      `json:"listing_id,omitempty"`
}

type RouteUpdate struct {
	ListingID int64         `json:"listing_id"`
	Record    CommuteRecord `json:"record"`
	Active    bool          `json:"active"`
	Restored  bool          `json:"restored"`
	View      *ViewUpdate   `json:"view,omitempty"`
}

// Event is emitted synchronously from the goroutine that owns the engine.
type Event struct {
	Kind     EventKind      `json:"kind"`
	Results  *ResultSet     `json:"results,omitempty"`
	View     *ViewUpdate    `json:"view,omitempty"`
	Route    *RouteUpdate   `json:"route,omitempty"`
	Anchor   *Anchor        `json:"anchor,omitempty"`
	Notice   *Notice        `json:"notice,omitempty"`
	Price    *PriceEstimate `json:"price,omitempty"`
	Loading  bool           `json:"loading,omitempty"`
	Listing  int64          `json:"listing_id,omitempty"`
	Sequence uint64         `json:"sequence"`
}

// Listener consumes engine events. Implementations must not call back into
// the engine.
type Listener interface {
	Handle(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) Handle(e Event) { f(e) }

type nopListener struct{}

func (nopListener) Handle(Event) {}
