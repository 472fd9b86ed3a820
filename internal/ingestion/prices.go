package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
)

const (
	PriceStream  = "LEND_PRICES"
	PriceSubject = "lend.prices.>"
)

// PriceSubscriber consumes the JetStream price feed and applies each
// observation to the oracle feed. A malformed message is NAKed and
// redelivered; the feed itself drops observations whose sequence has
// already been passed.
type PriceSubscriber struct {
	js        jetstream.JetStream
	feed      *oracle.Feed
	logger    zerolog.Logger
	metrics   *observability.Metrics
	consumers []jetstream.ConsumeContext
}

func NewPriceSubscriber(
	js jetstream.JetStream,
	feed *oracle.Feed,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *PriceSubscriber {
	return &PriceSubscriber{
		js:      js,
		feed:    feed,
		logger:  logger,
		metrics: metrics,
	}
}

// Subscribe creates the durable JetStream consumer for the price
// subject. Explicit ACK, max_deliver=5, ack_wait=30s.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, PriceStream, jetstream.ConsumerConfig{
		Durable:       "ledger-prices",
		FilterSubject: PriceSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer ledger-prices: %w", err)
	}

	consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
		price, err := ParsePriceUpdate(msg.Data())
		if err != nil {
			ps.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("bad price update")
			msg.Nak()
			return
		}

		ps.feed.Update(price)
		if ps.metrics != nil {
			ps.metrics.OraclePriceUpdates.Inc()
			ps.metrics.OraclePriceValue.Set(price.Value.Float64() / price.Scale.Float64())
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume ledger-prices: %w", err)
	}

	ps.consumers = append(ps.consumers, consumerContext)
	ps.logger.Info().Str("subject", PriceSubject).Msg("subscribed to price feed")
	return nil
}

// Stop gracefully stops all consumers.
func (ps *PriceSubscriber) Stop() {
	for _, cc := range ps.consumers {
		cc.Stop()
	}
	ps.logger.Info().Msg("price subscriber stopped")
}

// EnsureStreams creates the required JetStream streams if they don't
// exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      PriceStream,
			Subjects:  []string{"lend.prices.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      OutboundStream,
			Subjects:  []string{"lend.ledger.events.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
