// Package discovery decides which rental listings a browsing session shows
// and how they are ordered and labelled.
//
// A session starts unanchored: every listing passing the filter predicate
// is visible. Geocoding a location anchors it, restricting results to a
// radius around the point and enabling driving routes to individual
// listings. Routes are cached per anchor; moving the anchor starts a new
// generation and discards everything cached or in flight for the old one.
//
// Engine holds the state and is single-threaded. Session wraps an Engine in
// a goroutine-owned loop and runs collaborator calls off that loop,
// applying their results only while they are still current.
package discovery
