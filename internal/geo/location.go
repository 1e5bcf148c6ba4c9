// Package geo models the outcome of a browser geolocation request: either a position or
// a classified failure. Failures are reported to the user as-is and never retried.
package geo

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnsupported means the client has no geolocation capability.
	ErrUnsupported = errors.New("geolocation is not supported")
	// ErrDenied means the user refused location access.
	ErrDenied = errors.New("location access denied")
	// ErrUnavailable means the device could not determine a position.
	ErrUnavailable = errors.New("position unavailable")
	// ErrTimeout means the position lookup took too long.
	ErrTimeout = errors.New("position lookup timed out")
	// ErrInvalidPosition means the coordinates are out of range.
	ErrInvalidPosition = errors.New("invalid position")
)

// Browser GeolocationPositionError codes, plus 0 for "no geolocation API".
const (
	CodeUnsupported         = 0
	CodePermissionDenied    = 1
	CodePositionUnavailable = 2
	CodeTimeout             = 3
)

// Position is a WGS84 coordinate pair.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks the coordinate ranges.
func (p Position) Validate() error {
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidPosition, p.Latitude)
	}
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidPosition, p.Longitude)
	}
	return nil
}

// Report is what the client sends back after asking the browser for a position:
// either coordinates or an error code.
type Report struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	ErrorCode *int     `json:"error_code,omitempty"`
}

// FromReport converts a Report into a validated Position or a classified error.
func FromReport(r Report) (Position, error) {
	if r.ErrorCode != nil {
		return Position{}, classify(*r.ErrorCode)
	}
	if r.Latitude == nil || r.Longitude == nil {
		return Position{}, fmt.Errorf("%w: latitude and longitude are required", ErrInvalidPosition)
	}

	p := Position{Latitude: *r.Latitude, Longitude: *r.Longitude}
	if err := p.Validate(); err != nil {
		return Position{}, err
	}
	return p, nil
}

func classify(code int) error {
	switch code {
	case CodeUnsupported:
		return ErrUnsupported
	case CodePermissionDenied:
		return ErrDenied
	case CodePositionUnavailable:
		return ErrUnavailable
	case CodeTimeout:
		return ErrTimeout
	default:
		return fmt.Errorf("%w: unknown geolocation error code %d", ErrUnavailable, code)
	}
}

// Message returns the text shown to the user for a geolocation failure.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrUnsupported):
		return "Geolocation is not supported by your browser"
	case errors.Is(err, ErrDenied):
		return "Location access denied. Please enable it in browser settings."
	case errors.Is(err, ErrTimeout):
		return "Finding your location took too long. Please try again."
	case errors.Is(err, ErrInvalidPosition):
		return "The reported location is not valid."
	default:
		return "Your location could not be determined."
	}
}
