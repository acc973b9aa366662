// Package notify provides the push-transport adapters behind the Notifier
// port. The production transport is external to this service; the log
// notifier records the dispatch so operators can trace delivery handoff.
package notify

import (
	"context"
	"log/slog"

	"vicinity/internal/audit"
	"vicinity/internal/verification/ports"
	id "vicinity/pkg/domain"
)

// Log writes each notification to the structured log. Fire-and-forget per
// the port contract; it never fails.
type Log struct {
	logger *slog.Logger
}

// NewLog constructs a logging notifier.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

// Notify records the dispatch.
func (n *Log) Notify(ctx context.Context, deviceID id.DeviceID, payload ports.NotificationPayload) {
	n.logger.InfoContext(ctx, "notification dispatched",
		"device_id", deviceID,
		"kind", payload.Kind,
		"challenge_id", payload.ChallengeID,
		"expires_at", payload.ExpiresAt,
	)
}

// Audited decorates a notifier with an audit row for each dispatched
// liveness challenge. Lifecycle notifications are audited by the service at
// the transition; this covers the sweep path, which only flows through the
// notifier.
type Audited struct {
	next  ports.Notifier
	audit *audit.Publisher
}

// NewAudited wraps next with challenge-dispatch auditing.
func NewAudited(next ports.Notifier, publisher *audit.Publisher) *Audited {
	return &Audited{next: next, audit: publisher}
}

// Notify forwards the notification and audits challenge dispatches.
func (n *Audited) Notify(ctx context.Context, deviceID id.DeviceID, payload ports.NotificationPayload) {
	n.next.Notify(ctx, deviceID, payload)
	if payload.Kind == "liveness_checkin" && n.audit != nil {
		n.audit.Emit(ctx, audit.Event{
			DeviceID: deviceID,
			Action:   audit.ActionChallengeDispatched,
		})
	}
}
