package audit

import (
	"time"

	id "vicinity/pkg/domain"
)

// Action names a lifecycle or policy event worth an audit row.
type Action string

const (
	ActionDeviceEnrolled      Action = "device_enrolled"
	ActionDeviceActivated     Action = "device_activated"
	ActionDeviceFrozen        Action = "device_frozen"
	ActionMovementScored      Action = "movement_scored"
	ActionNightConfirmed      Action = "night_confirmed"
	ActionCheckinCompleted    Action = "checkin_completed"
	ActionCheckinFailed       Action = "checkin_failed"
	ActionChallengesScheduled Action = "challenges_scheduled"
	ActionChallengeDispatched Action = "challenge_dispatched"
)

// Event is emitted from domain logic to capture key verification actions.
// Keep it transport-agnostic so sinks can fan out.
type Event struct {
	Timestamp time.Time   `json:"timestamp"`
	DeviceID  id.DeviceID `json:"device_id"`
	ZoneID    id.ZoneID   `json:"zone_id,omitempty"`
	Action    Action      `json:"action"`
	// Status is the lifecycle state after the event, when it changed.
	Status string `json:"status,omitempty"`
	// Reason is the user-visible explanation for policy transitions.
	Reason string `json:"reason,omitempty"`
	// TrustScore accompanies movement_scored and device_frozen events.
	TrustScore float64 `json:"trust_score,omitempty"`
	RequestID  string  `json:"request_id,omitempty"`
}
