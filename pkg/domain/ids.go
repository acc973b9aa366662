package domain

import (
	"strings"

	dErrors "vicinity/pkg/domain-errors"
)

// DeviceID is the opaque identifier a client presents for its device.
// Invariant: non-empty, at most 128 characters, no surrounding whitespace.
//
// Usage: construct via ParseDeviceID at trust boundaries; direct casting
// bypasses validation.
type DeviceID string

// ParseDeviceID constructs a DeviceID from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or oversized.
func ParseDeviceID(s string) (DeviceID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "device_id cannot be empty")
	}
	if len(s) > 128 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "device_id must be at most 128 characters")
	}
	return DeviceID(s), nil
}

// IsNil reports whether the ID carries no value.
func (d DeviceID) IsNil() bool { return d == "" }

// String returns the string representation of the device ID.
func (d DeviceID) String() string { return string(d) }

// ZoneID identifies the neighborhood zone a device verifies residence in.
type ZoneID string

// ParseZoneID constructs a ZoneID from external input.
func ParseZoneID(s string) (ZoneID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "zone_id cannot be empty")
	}
	if len(s) > 64 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "zone_id must be at most 64 characters")
	}
	return ZoneID(s), nil
}

// String returns the string representation of the zone ID.
func (z ZoneID) String() string { return string(z) }

// Geocell is a coarse spatial bucket identifier. It is never a raw
// coordinate pair; clients report only the bucket they currently resolve to.
type Geocell string

// ParseGeocell constructs a Geocell from external input. An empty value is
// valid and means "no location reported"; callers treat it as absent.
func ParseGeocell(s string) (Geocell, error) {
	s = strings.TrimSpace(s)
	if len(s) > 32 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "geocell must be at most 32 characters")
	}
	return Geocell(s), nil
}

// IsZero reports whether no geocell was reported.
func (g Geocell) IsZero() bool { return g == "" }

// String returns the string representation of the geocell.
func (g Geocell) String() string { return string(g) }
