package canon

import (
	"regexp"
	"strings"
)

var rePunct = regexp.MustCompile(`[^\p{L}\p{N}\s]`)

// suffixes maps long street suffixes to their short forms.
var suffixes = map[string]string{
	"street":    "st",
	"road":      "rd",
	"avenue":    "ave",
	"boulevard": "blvd",
	"drive":     "dr",
	"lane":      "ln",
	"court":     "ct",
	"circle":    "cir",
	"terrace":   "ter",
	"place":     "pl",
	"parkway":   "pkwy",
	"highway":   "hwy",
	"extension": "ext",
	"barangay":  "brgy",
}

var shortToLong = func() map[string]string {
	m := make(map[string]string, len(suffixes))
	for long, short := range suffixes {
		m[short] = long
	}
	return m
}()

var unitWords = map[string]bool{"apt": true, "unit": true, "ste": true, "suite": true, "rm": true, "room": true, "flr": true, "floor": true}

// Tokens derives the location tokens text search matches against: the
// lowercase words of address with unit designators dropped, each street
// suffix present in both its long and short form.
func Tokens(address string) []string {
	words := strings.Fields(rePunct.ReplaceAllString(strings.ToLower(stripUnit(address)), " "))
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	add := func(w string) {
		if w == "" {
			return
		}
		if _, ok := seen[w]; ok {
			return
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	for _, w := range words {
		add(w)
		if short, ok := suffixes[w]; ok {
			add(short)
		}
		if long, ok := shortToLong[w]; ok {
			add(long)
		}
	}
	return out
}

// QueryKey normalizes free-text location input into a stable cache key, so
// "12 Rizal Avenue, Makati" and "12 rizal ave makati" share an entry.
func QueryKey(q string) string {
	words := strings.Fields(rePunct.ReplaceAllString(strings.ToLower(q), " "))
	for i, w := range words {
		if short, ok := suffixes[w]; ok {
			words[i] = short
		}
	}
	return strings.Join(words, " ")
}

// stripUnit removes a unit designator and everything after it within the
// same comma-separated part, e.g. "12 Rizal Ave Unit 4B, Makati".
func stripUnit(s string) string {
	parts := strings.Split(s, ",")
	for i, p := range parts {
		fields := strings.Fields(p)
		for j, f := range fields {
			lf := strings.ToLower(strings.TrimRight(f, "."))
			if unitWords[lf] || strings.HasPrefix(lf, "#") {
				fields = fields[:j]
				break
			}
		}
		parts[i] = strings.Join(fields, " ")
	}
	return strings.Join(parts, ",")
}
