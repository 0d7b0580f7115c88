// Package geo provides distance computation and permissive location parsing
// for request/provider matching. Locations arrive in several historical
// shapes (structured JSON, "lat,lon" text, placeholder strings); everything
// is funneled through Parse before any distance math.
package geo

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const earthRadiusKm = 6371

// LatLng is a WGS84 coordinate pair in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DistanceKm returns the great-circle distance between two points using the
// Haversine formula.
func DistanceKm(a, b LatLng) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// placeholders that historically stood in for "no location".
var placeholders = map[string]struct{}{
	"":              {},
	"{}":            {},
	"not specified": {},
	"null":          {},
}

// Parse normalizes a raw location value into a coordinate pair. The second
// return is false when the value carries no usable location: placeholder
// strings, free-text addresses, and malformed JSON all normalize to
// "no location" rather than an error.
func Parse(raw string) (LatLng, bool) {
	raw = strings.TrimSpace(raw)
	if _, ok := placeholders[strings.ToLower(raw)]; ok {
		return LatLng{}, false
	}

	if strings.HasPrefix(raw, "{") {
		if ll, ok := parseObject(raw); ok {
			return ll, true
		}
		return LatLng{}, false
	}

	// "lat,lon" text form.
	if parts := strings.Split(raw, ","); len(parts) == 2 {
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 == nil && err2 == nil && valid(lat, lon) {
			return LatLng{Lat: lat, Lon: lon}, true
		}
	}

	// Anything else is a free-text address: unmatchable by location.
	return LatLng{}, false
}

// parseObject handles JSON-encoded objects with assorted key spellings and
// number-or-string values.
func parseObject(raw string) (LatLng, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return LatLng{}, false
	}
	lat, okLat := numberField(obj, "lat", "latitude")
	lon, okLon := numberField(obj, "lon", "lng", "longitude")
	if !okLat || !okLon || !valid(lat, lon) {
		return LatLng{}, false
	}
	return LatLng{Lat: lat, Lon: lon}, true
}

func numberField(obj map[string]json.RawMessage, keys ...string) (float64, bool) {
	for _, key := range keys {
		rawVal, ok := obj[key]
		if !ok {
			continue
		}
		var f float64
		if err := json.Unmarshal(rawVal, &f); err == nil {
			return f, true
		}
		var s string
		if err := json.Unmarshal(rawVal, &s); err == nil {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func valid(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
