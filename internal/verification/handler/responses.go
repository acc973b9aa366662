package handler

import (
	"time"

	"vicinity/internal/verification/models"
	"vicinity/internal/verification/service"
)

// SubjectResponse is the HTTP representation of a device's verification
// record.
type SubjectResponse struct {
	DeviceID              string    `json:"device_id"`
	ZoneID                string    `json:"zone_id"`
	Status                string    `json:"status"`
	Subscription          string    `json:"subscription"`
	VerificationStartedAt time.Time `json:"verification_started_at"`
	NightsConfirmed       int       `json:"nights_confirmed"`
	MovementDaysConfirmed int       `json:"movement_days_confirmed"`
	CheckinsCompleted     int       `json:"checkins_completed"`
	CheckinsRequired      int       `json:"checkins_required"`
}

// FromSubject converts a domain subject to an HTTP response.
func FromSubject(subject *models.DeviceSubject) *SubjectResponse {
	return &SubjectResponse{
		DeviceID:              subject.DeviceID.String(),
		ZoneID:                subject.ZoneID.String(),
		Status:                string(subject.Status),
		Subscription:          string(subject.Subscription),
		VerificationStartedAt: subject.VerificationStartedAt,
		NightsConfirmed:       subject.NightsConfirmed,
		MovementDaysConfirmed: subject.MovementDaysConfirmed,
		CheckinsCompleted:     subject.CheckinsCompleted,
		CheckinsRequired:      subject.CheckinsRequired,
	}
}

// MovementResponse is the HTTP response for POST /verification/movement.
type MovementResponse struct {
	Status                string   `json:"status"`
	TrustScore            float64  `json:"trust_score"`
	Flags                 []string `json:"flags"`
	MovementDaysConfirmed int      `json:"movement_days_confirmed"`
}

// FromMovementResult converts a movement outcome to an HTTP response.
func FromMovementResult(result *service.MovementResult) *MovementResponse {
	flags := make([]string, 0, len(result.Flags))
	for _, f := range result.Flags {
		flags = append(flags, string(f))
	}
	return &MovementResponse{
		Status:                string(result.Status),
		TrustScore:            result.TrustScore,
		Flags:                 flags,
		MovementDaysConfirmed: result.MovementDaysConfirmed,
	}
}

// NightResponse is the HTTP response for POST /verification/night.
type NightResponse struct {
	Status          string `json:"status"`
	NightsConfirmed int    `json:"nights_confirmed"`
}

// FromNightResult converts a night confirmation outcome to an HTTP response.
func FromNightResult(result *service.NightResult) *NightResponse {
	return &NightResponse{
		Status:          string(result.Status),
		NightsConfirmed: result.NightsConfirmed,
	}
}

// CheckinResponse is the HTTP response for POST /verification/checkin.
type CheckinResponse struct {
	ChallengeID       string          `json:"challenge_id"`
	Passed            bool            `json:"passed"`
	Confidence        float64         `json:"confidence"`
	Flags             []string        `json:"flags"`
	Metrics           MetricsResponse `json:"metrics"`
	CheckinsCompleted int             `json:"checkins_completed"`
	Status            string          `json:"status"`
	AlreadyCompleted  bool            `json:"already_completed,omitempty"`
}

// MetricsResponse is the trace-summary portion of a check-in response.
type MetricsResponse struct {
	Straightness  float64 `json:"straightness"`
	SpeedVariance float64 `json:"speed_variance"`
	Jitter        float64 `json:"jitter"`
	DurationMs    int     `json:"duration_ms"`
}

// FromCheckinResult converts a check-in outcome to an HTTP response.
func FromCheckinResult(result *service.CheckinResult) *CheckinResponse {
	flags := make([]string, 0, len(result.Flags))
	for _, f := range result.Flags {
		flags = append(flags, string(f))
	}
	return &CheckinResponse{
		ChallengeID: result.ChallengeID.String(),
		Passed:      result.Passed,
		Confidence:  result.Confidence,
		Flags:       flags,
		Metrics: MetricsResponse{
			Straightness:  result.Metrics.Straightness,
			SpeedVariance: result.Metrics.SpeedVariance,
			Jitter:        result.Metrics.Jitter,
			DurationMs:    result.Metrics.DurationMs,
		},
		CheckinsCompleted: result.CheckinsCompleted,
		Status:            string(result.Status),
		AlreadyCompleted:  result.AlreadyCompleted,
	}
}

// ScheduleResponse is the HTTP response for POST /verification/schedule.
type ScheduleResponse struct {
	Created bool `json:"created"`
}

// SweepResponse is the HTTP response for the sweep endpoints.
type SweepResponse struct {
	Processed int `json:"processed"`
}
