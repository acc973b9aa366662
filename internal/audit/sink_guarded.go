package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"vicinity/pkg/platform/circuit"
	"vicinity/pkg/platform/sentinel"
)

// probeInterval is how many drops an open circuit rides out before letting
// one event through to test whether the sink has recovered.
const probeInterval = 16

// GuardedSink shields a sink behind a circuit breaker so a broker outage
// does not stall every request with per-event append timeouts. While the
// circuit is open, events are dropped without attempting persistence; the
// publisher logs each drop.
type GuardedSink struct {
	primary Sink
	breaker *circuit.Breaker
	logger  *slog.Logger
	dropped atomic.Uint64
}

// NewGuarded wraps the sink with the breaker. A nil breaker gets the
// default thresholds.
func NewGuarded(primary Sink, breaker *circuit.Breaker, logger *slog.Logger) *GuardedSink {
	if breaker == nil {
		breaker = circuit.New("audit-sink")
	}
	return &GuardedSink{primary: primary, breaker: breaker, logger: logger}
}

// Append forwards to the primary sink unless the circuit is open, in which
// case only every probeInterval-th event is attempted.
func (s *GuardedSink) Append(ctx context.Context, event Event) error {
	if s.breaker.IsOpen() && s.dropped.Add(1)%probeInterval != 0 {
		return fmt.Errorf("audit sink %s circuit open: %w", s.breaker.Name(), sentinel.ErrUnavailable)
	}

	if err := s.primary.Append(ctx, event); err != nil {
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.logTransition(ctx, "opened")
		}
		return err
	}

	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logTransition(ctx, "closed")
	}
	return nil
}

func (s *GuardedSink) logTransition(ctx context.Context, to string) {
	if s.logger == nil {
		return
	}
	s.logger.WarnContext(ctx, "audit sink circuit transitioned",
		"breaker", s.breaker.Name(),
		"state", to,
	)
}
