package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitDispatcher runs calls on goroutines and lets a test wait until every
// completion has been queued back into the session.
type waitDispatcher struct {
	wg     sync.WaitGroup
	refuse bool
}

func (d *waitDispatcher) Dispatch(_ string, run func(ctx context.Context)) bool {
	if d.refuse {
		return false
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		run(context.Background())
	}()
	return true
}

type fakeGeocoder struct {
	results map[string]GeocodeResult
}

func (g fakeGeocoder) Geocode(_ context.Context, q string) (GeocodeResult, error) {
	if r, ok := g.results[q]; ok {
		return r, nil
	}
	return GeocodeResult{}, ErrNotFound
}

// gatedRouter blocks every call until gate is closed or the call times out.
type gatedRouter struct {
	gate chan struct{}
	rec  CommuteRecord

	mu     sync.Mutex
	forgot []Coordinates
}

func (r *gatedRouter) ForgetRoute(_ context.Context, _, destination Coordinates) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgot = append(r.forgot, destination)
	return nil
}

func (r *gatedRouter) forgotten() []Coordinates {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Coordinates(nil), r.forgot...)
}

func (r *gatedRouter) Route(ctx context.Context, _, _ Coordinates) (CommuteRecord, error) {
	select {
	case <-r.gate:
		return r.rec, nil
	case <-ctx.Done():
		return CommuteRecord{}, ctx.Err()
	}
}

type fakePrices struct{}

func (fakePrices) Estimate(_ context.Context, l Listing) (PriceEstimate, error) {
	return PriceEstimate{ListingID: l.ID, Predicted: l.Price * 1.1}, nil
}

type syncRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *syncRecorder) Handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *syncRecorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *syncRecorder) notices() []NoticeCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []NoticeCode
	for _, e := range r.events {
		if e.Kind == EventNotice {
			out = append(out, e.Notice.Code)
		}
	}
	return out
}

type sessionHarness struct {
	session  *Session
	dispatch *waitDispatcher
	router   *gatedRouter
	events   *syncRecorder
}

func startSession(t *testing.T, timeout time.Duration) *sessionHarness {
	t.Helper()
	snap, err := NewSnapshot([]Listing{
		{ID: 1, Title: "Listing A", Price: 5000, Capacity: 2, Coordinates: &pointA},
		{ID: 2, Title: "Listing B", Price: 8000, Capacity: 4, Coordinates: &pointB},
	})
	require.NoError(t, err)

	h := &sessionHarness{
		dispatch: &waitDispatcher{},
		router:   &gatedRouter{gate: make(chan struct{}), rec: driveB},
		events:   &syncRecorder{},
	}
	h.session = NewSession("test", snap, Options{
		Limits: DefaultLimits(),
		Geocoder: fakeGeocoder{results: map[string]GeocodeResult{
			"Makati":  {Coordinates: pointA, FormattedAddress: "Makati, Metro Manila"},
			"Cebu IT": {Coordinates: pointC, FormattedAddress: "Cebu IT Park"},
		}},
		Router:     h.router,
		Prices:     fakePrices{},
		Dispatcher: h.dispatch,
		Listener:   h.events,
		Timeout:    timeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.session.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.session.Done()
	})
	return h
}

func TestSessionSearchLocation(t *testing.T) {
	h := startSession(t, time.Second)
	ctx := context.Background()

	ticket, err := h.session.SearchLocation(ctx, "Makati", 10, SortDistance)
	require.NoError(t, err)
	assert.NotZero(t, ticket.Sequence)
	h.dispatch.wg.Wait()

	st, err := h.session.State(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.Anchor)
	assert.Equal(t, "Makati, Metro Manila", st.Anchor.Address)
	assert.Equal(t, []int64{1, 2}, st.Results.IDs)
	assert.False(t, st.Loading)

	_, err = h.session.SearchLocation(ctx, "Atlantis", 10, SortDistance)
	require.NoError(t, err)
	h.dispatch.wg.Wait()

	st, err = h.session.State(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.Anchor, "failed geocode keeps the prior anchor")
	assert.Equal(t, pointA, st.Anchor.Coordinates)
	assert.Contains(t, h.events.notices(), NoticeGeocodeFailed)

	_, err = h.session.SearchLocation(ctx, "", 10, SortDistance)
	require.NoError(t, err)
	st, err = h.session.State(ctx)
	require.NoError(t, err)
	assert.Nil(t, st.Anchor, "empty search box clears the anchor")
}

func TestSessionRouteAndPrice(t *testing.T) {
	h := startSession(t, time.Second)
	ctx := context.Background()

	_, err := h.session.SetAnchor(ctx, anchorAt(pointA, 10))
	require.NoError(t, err)
	require.NoError(t, h.session.SelectListing(ctx, 2))
	close(h.router.gate)
	h.dispatch.wg.Wait()

	st, err := h.session.State(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.ActiveRoute)
	assert.Equal(t, int64(2), st.ActiveRoute.ListingID)
	assert.Equal(t, 1, h.events.count(EventRoute))
	assert.Equal(t, 1, h.events.count(EventPrice))
}

func TestSessionRefreshForgetsSharedRoute(t *testing.T) {
	h := startSession(t, time.Second)
	ctx := context.Background()
	close(h.router.gate)

	_, err := h.session.SetAnchor(ctx, anchorAt(pointA, 10))
	require.NoError(t, err)
	require.NoError(t, h.session.SelectListing(ctx, 2))
	h.dispatch.wg.Wait()
	assert.Empty(t, h.router.forgotten(), "plain selection keeps shared routes")

	require.NoError(t, h.session.RefreshRoute(ctx, 2))
	h.dispatch.wg.Wait()
	assert.Equal(t, []Coordinates{pointB}, h.router.forgotten())

	st, err := h.session.State(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.ActiveRoute)
	assert.Equal(t, int64(2), st.ActiveRoute.ListingID)
}

func TestSessionDiscardsRouteAfterAnchorMoves(t *testing.T) {
	h := startSession(t, time.Second)
	ctx := context.Background()

	_, err := h.session.SetAnchor(ctx, anchorAt(pointA, 10))
	require.NoError(t, err)
	require.NoError(t, h.session.SelectListing(ctx, 2))

	_, err = h.session.SetAnchor(ctx, anchorAt(pointC, 10))
	require.NoError(t, err)
	close(h.router.gate)
	h.dispatch.wg.Wait()

	st, err := h.session.State(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.Anchor)
	assert.Equal(t, pointC, st.Anchor.Coordinates)
	assert.Nil(t, st.ActiveRoute)
	assert.Zero(t, h.events.count(EventRoute))
	assert.Empty(t, st.Results.IDs)
	assert.True(t, st.Empty)
}

func TestSessionRouteTimeoutIsFailure(t *testing.T) {
	h := startSession(t, 20*time.Millisecond)
	ctx := context.Background()

	_, err := h.session.SetAnchor(ctx, anchorAt(pointA, 10))
	require.NoError(t, err)
	require.NoError(t, h.session.SelectListing(ctx, 2))
	h.dispatch.wg.Wait()

	st, err := h.session.State(ctx)
	require.NoError(t, err)
	assert.Nil(t, st.ActiveRoute)
	assert.Contains(t, h.events.notices(), NoticeRouteFailed)
	assert.Equal(t, "6.4 km", cardOf(t, st, 2).DistanceLabel)
}

func TestSessionRefusedDispatch(t *testing.T) {
	h := startSession(t, time.Second)
	h.dispatch.refuse = true
	ctx := context.Background()

	_, err := h.session.SearchLocation(ctx, "Makati", 10, SortDistance)
	require.NoError(t, err)

	st, err := h.session.State(ctx)
	require.NoError(t, err)
	assert.Nil(t, st.Anchor)
	assert.False(t, st.Loading)
	assert.Contains(t, h.events.notices(), NoticeGeocodeFailed)
}

func TestSessionOperationsReportErrors(t *testing.T) {
	h := startSession(t, time.Second)
	ctx := context.Background()

	_, err := h.session.SetRadius(ctx, 5)
	assert.ErrorIs(t, err, ErrNoAnchor)

	_, err = h.session.SetSort(ctx, "rating")
	assert.ErrorIs(t, err, ErrInvalidSortKey)

	assert.ErrorIs(t, h.session.SelectListing(ctx, 99), ErrUnknownListing)

	rs, err := h.session.ApplyFilter(ctx, FilterState{MaxPrice: 6000, MinCapacity: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, rs.IDs)

	rs, err = h.session.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, rs.IDs)
}

func TestSessionClose(t *testing.T) {
	h := startSession(t, time.Second)
	_, err := h.session.State(context.Background())
	require.NoError(t, err, "loop is running")

	assert.ErrorIs(t, h.session.Run(context.Background()), ErrSessionActive)

	h.session.Close()
	<-h.session.Done()
	_, err = h.session.State(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}
