package audit

import (
	"context"
	"log/slog"
	"time"

	id "vicinity/pkg/domain"
)

// Sink receives audit events. Implementations: InMemorySink for tests and
// development, KafkaSink for production.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Publisher captures structured audit events. Emission is best-effort: an
// audit failure is logged and never fails the triggering operation.
type Publisher struct {
	sink   Sink
	logger *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger for sink failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// NewPublisher constructs a publisher over the given sink.
func NewPublisher(sink Sink, opts ...Option) *Publisher {
	p := &Publisher{sink: sink}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit records one event, stamping the time if the caller did not.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := p.sink.Append(ctx, event); err != nil && p.logger != nil {
		p.logger.ErrorContext(ctx, "audit append failed",
			"action", event.Action,
			"device_id", event.DeviceID,
			"error", err,
		)
	}
}

// Lister is implemented by sinks that support reads (the in-memory sink);
// the Kafka sink does not.
type Lister interface {
	ListByDevice(ctx context.Context, deviceID id.DeviceID) ([]Event, error)
}
