// Package lifecycle owns the device status state machine. Transition is a
// pure decision: all counter mutation happens before it is evaluated, so the
// same inputs always yield the same result under retry.
package lifecycle

import (
	"vicinity/internal/verification/models"
)

// Trigger is an event that may move a device between lifecycle states.
type Trigger string

const (
	// TriggerGatePassed fires when the activation gate's thresholds are all
	// simultaneously satisfied.
	TriggerGatePassed Trigger = "gate_passed"
	// TriggerFraudDetected fires on a single strong spoofing signal.
	TriggerFraudDetected Trigger = "fraud_detected"
	// TriggerRevoked fires on operator action or badge-scan failure. The
	// engine never originates it; it arrives from outside.
	TriggerRevoked Trigger = "revoked"
)

// SideEffect is an instruction to external collaborators emitted alongside a
// transition. The machine decides; callers execute.
type SideEffect string

const (
	// EffectGrantAccess unlocks the live badge.
	EffectGrantAccess SideEffect = "grant_access"
	// EffectFreezeNotice tells the device owner verification is suspended
	// for suspicious activity.
	EffectFreezeNotice SideEffect = "freeze_notice"
	// EffectRevokeAccess tears the badge down permanently.
	EffectRevokeAccess SideEffect = "revoke_access"
)

// Decision is the outcome of evaluating a trigger against a status.
type Decision struct {
	Next        models.Status
	Changed     bool
	SideEffects []SideEffect
	// Reason is the user-visible explanation for policy transitions.
	Reason string
}

// Transition evaluates (current status, trigger) and returns the decision.
//
// Rules:
//   - verifying -> active only on a passed gate; re-evaluating an already
//     active device is a no-op, never a duplicate side effect.
//   - any non-terminal state -> frozen on fraud. frozen -> active is not
//     automatic: frozen devices never re-attempt the gate inside this
//     engine, an external review process resumes them.
//   - revoked is terminal; nothing leaves it.
func Transition(current models.Status, trigger Trigger) Decision {
	if current == models.StatusRevoked {
		return unchanged(current)
	}

	switch trigger {
	case TriggerGatePassed:
		if current != models.StatusVerifying {
			return unchanged(current)
		}
		return Decision{
			Next:        models.StatusActive,
			Changed:     true,
			SideEffects: []SideEffect{EffectGrantAccess},
		}

	case TriggerFraudDetected:
		if current == models.StatusFrozen {
			return unchanged(current)
		}
		return Decision{
			Next:        models.StatusFrozen,
			Changed:     true,
			SideEffects: []SideEffect{EffectFreezeNotice},
			Reason:      "Suspicious activity detected",
		}

	case TriggerRevoked:
		return Decision{
			Next:        models.StatusRevoked,
			Changed:     true,
			SideEffects: []SideEffect{EffectRevokeAccess},
		}
	}

	return unchanged(current)
}

func unchanged(current models.Status) Decision {
	return Decision{Next: current, Changed: false}
}
