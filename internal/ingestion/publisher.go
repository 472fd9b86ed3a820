package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LendLedger/internal/event"
	"LendLedger/internal/observability"
)

const OutboundStream = "LEND_LEDGER_EVENTS"

// OutboundPublisher publishes committed envelopes to NATS for
// downstream consumers. Subjects follow the pattern
// lend.ledger.events.{event_type}. Publishing is best effort: the
// event log in Postgres is the source of truth, so a failed or
// dropped publish is logged and skipped, never retried at the cost of
// stalling the engine.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan event.Envelope
	logger    zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan event.Envelope, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, env); err != nil {
				op.logger.Warn().
					Err(err).
					Int64("sequence", env.Sequence).
					Msg("outbound publish failed")
			}
		}
	}
}

// outboundJSON is the published wire format.
type outboundJSON struct {
	Sequence  int64           `json:"sequence"`
	EventType string          `json:"event_type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func (op *OutboundPublisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(outboundJSON{
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		Timestamp: env.Timestamp.Format(time.RFC3339Nano),
		Payload:   env.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("lend.ledger.events.%s", env.EventType)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// PublishSink feeds the publisher channel from the engine's fanout.
// Sends never block: when the channel is full the envelope is dropped
// and counted, keeping the best-effort path off the commit path.
type PublishSink struct {
	ch      chan<- event.Envelope
	metrics *observability.Metrics
}

func NewPublishSink(ch chan<- event.Envelope, metrics *observability.Metrics) *PublishSink {
	return &PublishSink{ch: ch, metrics: metrics}
}

func (s *PublishSink) Emit(env event.Envelope) error {
	select {
	case s.ch <- env:
	default:
		if s.metrics != nil {
			s.metrics.PublishDrops.Inc()
		}
	}
	return nil
}
