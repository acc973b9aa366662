// Package gate holds the activation policy: the thresholds accumulated
// evidence must clear before a verifying device goes live, and the floor
// below which a single day's score freezes it. Evaluation is pure domain
// logic - no I/O, no side effects.
package gate

import (
	"vicinity/internal/verification/lifecycle"
	"vicinity/internal/verification/models"
)

// Policy is the threshold configuration. Defaults are the empirically chosen
// production constants; tests swap in alternates without touching logic.
type Policy struct {
	// MinNights is the confirmed-night floor for activation.
	MinNights int
	// MinMovementDays is the confirmed-movement-day floor.
	MinMovementDays int
	// MinCheckins is intentionally below the number scheduled: one missed
	// or failed challenge is tolerated.
	MinCheckins int
	// MinAvgTrust is the trailing-average trust floor.
	MinAvgTrust float64
	// TrustWindowDays is the trailing window the average is taken over.
	TrustWindowDays int
	// FreezeBelow is the single-score freeze ceiling. One score under it
	// overrides accumulated good history.
	FreezeBelow float64
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MinNights:       14,
		MinMovementDays: 10,
		MinCheckins:     2,
		MinAvgTrust:     0.70,
		TrustWindowDays: 14,
		FreezeBelow:     0.30,
	}
}

// Evidence is the current counter and score state the gate reads. Counters
// were committed atomically before evaluation; the gate never mutates.
type Evidence struct {
	NightsConfirmed       int
	MovementDaysConfirmed int
	CheckinsCompleted     int
	// AvgTrust is the trailing-window mean. When no scores exist yet the
	// caller passes 1.0: absence of data is not a penalty.
	AvgTrust float64
}

// Evaluate decides whether the evidence clears every activation threshold
// simultaneously and returns the resulting lifecycle decision for the given
// status. Calling it twice with unchanged evidence returns the same
// decision; the verifying-only guard in the state machine prevents duplicate
// side effects.
func Evaluate(p Policy, status models.Status, ev Evidence) lifecycle.Decision {
	if !Satisfied(p, ev) {
		return lifecycle.Decision{Next: status, Changed: false}
	}
	return lifecycle.Transition(status, lifecycle.TriggerGatePassed)
}

// Satisfied reports whether every activation threshold holds at once.
func Satisfied(p Policy, ev Evidence) bool {
	return ev.NightsConfirmed >= p.MinNights &&
		ev.MovementDaysConfirmed >= p.MinMovementDays &&
		ev.CheckinsCompleted >= p.MinCheckins &&
		ev.AvgTrust >= p.MinAvgTrust
}

// ShouldFreeze reports whether a single day's score demands an immediate
// freeze regardless of other counters.
func ShouldFreeze(p Policy, score float64) bool {
	return score < p.FreezeBelow
}
