package handler

import (
	"strings"

	"github.com/google/uuid"

	"vicinity/internal/verification/gesture"
	"vicinity/internal/verification/models"
	id "vicinity/pkg/domain"
	dErrors "vicinity/pkg/domain-errors"
)

// maxTracePoints bounds the touch trace a client may submit; real swipes
// sample well under a thousand points.
const maxTracePoints = 2000

// EnrollRequest is the HTTP request body for POST /verification/enroll.
type EnrollRequest struct {
	DeviceID     string `json:"device_id"`
	ZoneID       string `json:"zone_id"`
	Subscription string `json:"subscription"`

	parsedDeviceID id.DeviceID
	parsedZoneID   id.ZoneID
}

// Validate validates and parses the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *EnrollRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	deviceID, err := id.ParseDeviceID(strings.TrimSpace(r.DeviceID))
	if err != nil {
		return err
	}
	r.parsedDeviceID = deviceID

	zoneID, err := id.ParseZoneID(strings.TrimSpace(r.ZoneID))
	if err != nil {
		return err
	}
	r.parsedZoneID = zoneID

	r.Subscription = strings.TrimSpace(r.Subscription)
	if r.Subscription == "" {
		r.Subscription = string(models.SubscriptionPaid)
	}
	if !models.Subscription(r.Subscription).IsValid() {
		return dErrors.New(dErrors.CodeValidation, "subscription must be paid or subsidized")
	}

	return nil
}

// ParsedDeviceID returns the validated device ID.
func (r *EnrollRequest) ParsedDeviceID() id.DeviceID {
	return r.parsedDeviceID
}

// ParsedZoneID returns the validated zone ID.
func (r *EnrollRequest) ParsedZoneID() id.ZoneID {
	return r.parsedZoneID
}

// MovementRequest is the HTTP request body for POST /verification/movement.
type MovementRequest struct {
	DeviceID         string `json:"device_id"`
	MovementDetected bool   `json:"movement_detected"`
	Geocell          string `json:"geocell"`

	parsedDeviceID id.DeviceID
	parsedGeocell  id.Geocell
}

// Validate validates and parses the request. The geocell is optional;
// without it the correlation checks that need location fail open.
func (r *MovementRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	deviceID, err := id.ParseDeviceID(strings.TrimSpace(r.DeviceID))
	if err != nil {
		return err
	}
	r.parsedDeviceID = deviceID

	cell, err := id.ParseGeocell(strings.TrimSpace(r.Geocell))
	if err != nil {
		return err
	}
	r.parsedGeocell = cell

	return nil
}

// ParsedDeviceID returns the validated device ID.
func (r *MovementRequest) ParsedDeviceID() id.DeviceID {
	return r.parsedDeviceID
}

// ParsedGeocell returns the validated geocell, possibly empty.
func (r *MovementRequest) ParsedGeocell() id.Geocell {
	return r.parsedGeocell
}

// NightRequest is the HTTP request body for POST /verification/night.
type NightRequest struct {
	DeviceID string `json:"device_id"`

	parsedDeviceID id.DeviceID
}

// Validate validates and parses the request.
func (r *NightRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	deviceID, err := id.ParseDeviceID(strings.TrimSpace(r.DeviceID))
	if err != nil {
		return err
	}
	r.parsedDeviceID = deviceID
	return nil
}

// ParsedDeviceID returns the validated device ID.
func (r *NightRequest) ParsedDeviceID() id.DeviceID {
	return r.parsedDeviceID
}

// CheckinRequest is the HTTP request body for POST /verification/checkin.
// challenge_id is optional; without it the submission answers the device's
// earliest open challenge.
type CheckinRequest struct {
	DeviceID    string          `json:"device_id"`
	ChallengeID string          `json:"challenge_id"`
	Points      []gesture.Point `json:"points"`
	DurationMs  int             `json:"duration_ms"`

	parsedDeviceID    id.DeviceID
	parsedChallengeID uuid.UUID
}

// Validate validates and parses the request. When duration_ms is omitted it
// is derived from the trace's timestamp span.
func (r *CheckinRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	deviceID, err := id.ParseDeviceID(strings.TrimSpace(r.DeviceID))
	if err != nil {
		return err
	}
	r.parsedDeviceID = deviceID

	r.ChallengeID = strings.TrimSpace(r.ChallengeID)
	if r.ChallengeID != "" {
		challengeID, err := uuid.Parse(r.ChallengeID)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, "challenge_id must be a UUID")
		}
		r.parsedChallengeID = challengeID
	}

	if len(r.Points) > maxTracePoints {
		return dErrors.New(dErrors.CodeValidation, "trace has too many points")
	}
	if r.DurationMs < 0 {
		return dErrors.New(dErrors.CodeValidation, "duration_ms must not be negative")
	}
	if r.DurationMs == 0 && len(r.Points) > 1 {
		span := r.Points[len(r.Points)-1].T - r.Points[0].T
		if span > 0 {
			r.DurationMs = int(span)
		}
	}

	return nil
}

// ParsedDeviceID returns the validated device ID.
func (r *CheckinRequest) ParsedDeviceID() id.DeviceID {
	return r.parsedDeviceID
}

// ParsedChallengeID returns the validated challenge ID, or uuid.Nil when the
// submission targets the next open challenge.
func (r *CheckinRequest) ParsedChallengeID() uuid.UUID {
	return r.parsedChallengeID
}

// ScheduleRequest is the HTTP request body for POST /verification/schedule.
type ScheduleRequest struct {
	DeviceID string `json:"device_id"`
	Count    int    `json:"count"`

	parsedDeviceID id.DeviceID
}

// Validate validates and parses the request. A zero count uses the
// scheduler's default.
func (r *ScheduleRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	deviceID, err := id.ParseDeviceID(strings.TrimSpace(r.DeviceID))
	if err != nil {
		return err
	}
	r.parsedDeviceID = deviceID

	if r.Count < 0 {
		return dErrors.New(dErrors.CodeValidation, "count must not be negative")
	}
	return nil
}

// ParsedDeviceID returns the validated device ID.
func (r *ScheduleRequest) ParsedDeviceID() id.DeviceID {
	return r.parsedDeviceID
}
