package mapsapi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/yourorg/rental-discovery/internal/discovery"
)

// stringNumber accepts string or number JSON and stores it as text. Some
// proxies in front of the maps API quote coordinates.
type stringNumber string

func (s *stringNumber) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = stringNumber(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*s = stringNumber(num.String())
	return nil
}

func (s stringNumber) Float() (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
	return f, err == nil
}

// statusError maps the API's in-body status to an error.
func statusError(status, message string) error {
	switch status {
	case "OK":
		return nil
	case "ZERO_RESULTS", "NOT_FOUND":
		return discovery.ErrNotFound
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT":
		return ErrQuotaExceeded
	case "REQUEST_DENIED":
		return fmt.Errorf("%w: %s", ErrRequestDenied, message)
	default:
		if message != "" {
			return fmt.Errorf("maps api status %s: %s", status, message)
		}
		return fmt.Errorf("maps api status %s", status)
	}
}

func MapGeocodePayload(raw []byte) (discovery.GeocodeResult, error) {
	var root geocodeResponse
	if err := json.Unmarshal(raw, &root); err != nil {
		return discovery.GeocodeResult{}, fmt.Errorf("decode geocode payload: %w", err)
	}
	if err := statusError(root.Status, root.ErrorMessage); err != nil {
		return discovery.GeocodeResult{}, err
	}
	for _, r := range root.Results {
		lat, okLat := r.Geometry.Location.Lat.Float()
		lng, okLng := r.Geometry.Location.Lng.Float()
		c := discovery.Coordinates{Lat: lat, Lng: lng}
		if !okLat || !okLng || !c.Valid() {
			continue
		}
		return discovery.GeocodeResult{Coordinates: c, FormattedAddress: strings.TrimSpace(r.FormattedAddress)}, nil
	}
	return discovery.GeocodeResult{}, discovery.ErrNotFound
}

// MapDirectionsPayload summarizes the first route. Multi-leg routes are
// summed; the texts then come from the API only when there is one leg.
func MapDirectionsPayload(raw []byte) (discovery.CommuteRecord, error) {
	var root directionsResponse
	if err := json.Unmarshal(raw, &root); err != nil {
		return discovery.CommuteRecord{}, fmt.Errorf("decode directions payload: %w", err)
	}
	if err := statusError(root.Status, root.ErrorMessage); err != nil {
		return discovery.CommuteRecord{}, err
	}
	if len(root.Routes) == 0 || len(root.Routes[0].Legs) == 0 {
		return discovery.CommuteRecord{}, discovery.ErrNotFound
	}
	route := root.Routes[0]
	rec := discovery.CommuteRecord{Polyline: route.OverviewPolyline.Points}
	for _, leg := range route.Legs {
		m, _ := leg.Distance.Value.Float()
		s, _ := leg.Duration.Value.Float()
		rec.DistanceMeters += m
		rec.DurationSeconds += s
	}
	if len(route.Legs) == 1 {
		rec.DistanceText = route.Legs[0].Distance.Text
		rec.DurationText = route.Legs[0].Duration.Text
	}
	if rec.DistanceText == "" {
		rec.DistanceText = discovery.FormatDistance(rec.DistanceMeters)
	}
	if rec.DurationText == "" {
		rec.DurationText = formatDuration(rec.DurationSeconds)
	}
	return rec, nil
}

func formatDuration(seconds float64) string {
	mins := int(seconds/60 + 0.5)
	switch {
	case mins < 1:
		return "1 min"
	case mins < 60:
		if mins == 1 {
			return "1 min"
		}
		return fmt.Sprintf("%d mins", mins)
	default:
		h, m := mins/60, mins%60
		hours := "hours"
		if h == 1 {
			hours = "hour"
		}
		if m == 0 {
			return fmt.Sprintf("%d %s", h, hours)
		}
		return fmt.Sprintf("%d %s %d mins", h, hours, m)
	}
}
