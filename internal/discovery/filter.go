package discovery

import (
	"math"
	"strconv"
	"strings"
)

// Limits bound the user-controlled numeric filters.
type Limits struct {
	PriceCeiling  float64
	RadiusChoices []float64
}

// DefaultLimits matches the browsing page sliders.
func DefaultLimits() Limits {
	return Limits{
		PriceCeiling:  100000,
		RadiusChoices: []float64{2, 5, 10, 15, 20},
	}
}

// FilterState holds the current predicate parameters.
type FilterState struct {
	TextQuery         string   `json:"text_query"`
	MinPrice          float64  `json:"min_price"`
	MaxPrice          float64  `json:"max_price"`
	MinCapacity       int      `json:"min_capacity"`
	SelectedAmenities []string `json:"selected_amenities,omitempty"`
}

// DefaultFilter matches every listing whose price is within the ceiling.
func DefaultFilter(limits Limits) FilterState {
	return FilterState{MinPrice: 0, MaxPrice: limits.PriceCeiling, MinCapacity: 1}
}

// Normalize clamps negatives and raises MaxPrice to MinPrice when inverted.
func (f FilterState) Normalize(limits Limits) FilterState {
	out := f
	out.TextQuery = strings.TrimSpace(f.TextQuery)
	if out.MinPrice < 0 || math.IsNaN(out.MinPrice) {
		out.MinPrice = 0
	}
	if math.IsNaN(out.MaxPrice) || out.MaxPrice < 0 {
		out.MaxPrice = limits.PriceCeiling
	}
	if out.MaxPrice < out.MinPrice {
		out.MaxPrice = out.MinPrice
	}
	if out.MinCapacity < 1 {
		out.MinCapacity = 1
	}
	amenities := make([]string, 0, len(f.SelectedAmenities))
	seen := make(map[string]struct{}, len(f.SelectedAmenities))
	for _, a := range f.SelectedAmenities {
		a = strings.TrimSpace(a)
		key := strings.ToLower(a)
		if a == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		amenities = append(amenities, a)
	}
	out.SelectedAmenities = amenities
	return out
}

// RawFilter is the unparsed form input.
type RawFilter struct {
	TextQuery   string   `json:"text_query"`
	MinPrice    string   `json:"min_price"`
	MaxPrice    string   `json:"max_price"`
	MinCapacity string   `json:"min_capacity"`
	Amenities   []string `json:"amenities"`
}

// ParseFilter sanitizes raw input. Non-numeric characters are stripped from
// numeric fields; anything still unparseable falls back to the field default.
func ParseFilter(raw RawFilter, limits Limits) FilterState {
	f := FilterState{
		TextQuery:         raw.TextQuery,
		MinPrice:          SanitizeNumber(raw.MinPrice, 0),
		MaxPrice:          SanitizeNumber(raw.MaxPrice, limits.PriceCeiling),
		MinCapacity:       int(SanitizeNumber(raw.MinCapacity, 1)),
		SelectedAmenities: raw.Amenities,
	}
	return f.Normalize(limits)
}

// SanitizeNumber keeps digits and the first decimal point of s and parses
// the result, returning def when nothing usable remains.
func SanitizeNumber(s string, def float64) float64 {
	var b strings.Builder
	dot := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' && !dot:
			dot = true
			b.WriteRune(r)
		}
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil || math.IsInf(v, 0) {
		return def
	}
	return v
}

// Matches is the visibility predicate: text, amenity, price and capacity
// must all hold.
func Matches(l Listing, f FilterState) bool {
	return TextMatch(l, f.TextQuery) &&
		AmenityMatch(l, f.SelectedAmenities) &&
		PriceMatch(l, f.MinPrice, f.MaxPrice) &&
		CapacityMatch(l, f.MinCapacity)
}

func TextMatch(l Listing, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	fields := []string{l.Title, l.Address, l.Description, FormatPrice(l.Price)}
	for _, s := range fields {
		if strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	for _, tok := range l.LocationTokens {
		if strings.Contains(strings.ToLower(tok), q) {
			return true
		}
	}
	return false
}

// AmenityMatch requires every selected amenity to be a substring of at least
// one listing amenity label. Substring matching lets a short term match
// inside an unrelated longer label ("tv" in "gated community tv room"); that
// false-positive risk is known and kept.
func AmenityMatch(l Listing, selected []string) bool {
	for _, want := range selected {
		w := strings.ToLower(strings.TrimSpace(want))
		if w == "" {
			continue
		}
		found := false
		for _, have := range l.Amenities {
			if strings.Contains(strings.ToLower(have), w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func PriceMatch(l Listing, minPrice, maxPrice float64) bool {
	return l.Price >= minPrice && l.Price <= maxPrice
}

func CapacityMatch(l Listing, minCapacity int) bool {
	return l.Capacity >= minCapacity
}

// FormatPrice renders a price the way the text search sees it: the shortest
// decimal form, "5000" rather than "5000.00".
func FormatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
