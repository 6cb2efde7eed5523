// Package geo verifies that an observed position lies within a radius of a registered location.
package geo

import (
	"math"

	"github.com/trezcool/presence/core"
)

// EarthRadius is the mean Earth radius, in meters.
const EarthRadius = 6371000.0

var (
	ErrLocationUnavailable = core.NewVerificationError(
		core.ReasonLocationUnavailable,
		"your position is unavailable: enable location services and try again",
	)
	ErrLocationOutOfRange = core.NewVerificationError(
		core.ReasonLocationOutOfRange,
		"you are too far from the classroom: move closer and try again",
	)
)

// Point is a (latitude, longitude) pair in decimal degrees.
type Point struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

// Valid reports whether p holds finite, in-range coordinates.
func (p Point) Valid() bool {
	return finite(p.Latitude) && finite(p.Longitude) &&
		p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

// Position is a point observed by a positioning device.
// Accuracy is the device-reported radius of uncertainty, in meters; 0 means unknown.
type Position struct {
	Point
	Accuracy float64 `json:"accuracy"`
}

// Result is the outcome of a geofence check.
type Result struct {
	Verified       bool    `json:"verified"`
	DistanceMeters float64 `json:"distanceMeters"`
}

// Haversine returns the great-circle distance between a and b, in meters.
func Haversine(a, b Point) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := lat2 - lat1
	dLng := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// guard against rounding pushing h slightly out of [0, 1]
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadius * math.Asin(math.Sqrt(h))
}

// Verify checks that observed lies within allowedRadius meters of classLocation.
// A missing, zero-accuracy or non-finite position is rejected before any distance is computed.
func Verify(classLocation Point, observed *Position, allowedRadius float64) (Result, error) {
	if observed == nil || !(observed.Accuracy > 0) || !finite(observed.Accuracy) || !observed.Valid() {
		return Result{}, ErrLocationUnavailable
	}
	if !classLocation.Valid() || !finite(allowedRadius) || allowedRadius < 0 {
		return Result{}, core.NewValidationError(
			nil, core.FieldError{Field: "location", Error: "invalid class location or radius"},
		)
	}

	dist := Haversine(classLocation, observed.Point)
	res := Result{Verified: dist <= allowedRadius, DistanceMeters: dist}
	if !res.Verified {
		return res, ErrLocationOutOfRange
	}
	return res, nil
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
