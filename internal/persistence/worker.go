package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"LendLedger/internal/event"
	"LendLedger/internal/observability"
)

// Record is one unit of durable work: the committed envelope plus the
// post-state projection row for the account it touched.
type Record struct {
	Event   EventRow
	Account *AccountRow
}

// Worker drains the persist channel and batch-writes to Postgres.
// The persist channel uses BLOCKING sends from the engine, so if this
// worker falls behind the engine stalls — guaranteeing no event is
// lost.
type Worker struct {
	writer       *EventLogWriter
	inputChan    <-chan Record
	batchSize    int
	flushTimeout time.Duration
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan Record,
	batchSize int,
	flushTimeout time.Duration,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		logger:       logger,
		metrics:      metrics,
	}
}

// Run starts the worker loop. It batches incoming records and flushes
// either when the batch is full or the flush timeout expires. Blocks
// until ctx is cancelled or the input channel closes.
func (w *Worker) Run(ctx context.Context) error {
	eventBatch := make([]EventRow, 0, w.batchSize)
	accountBatch := make([]AccountRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown. Records still buffered in the channel
			// were acknowledged upstream, so drain them into the batch
			// before the final flush instead of abandoning them.
			eventBatch, accountBatch = w.drain(eventBatch, accountBatch)
			if len(eventBatch) > 0 {
				if err := w.flush(context.Background(), eventBatch, accountBatch); err != nil {
					w.logger.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case rec, ok := <-w.inputChan:
			if !ok {
				// Channel closed — flush and exit
				if len(eventBatch) > 0 {
					if err := w.flush(context.Background(), eventBatch, accountBatch); err != nil {
						w.logger.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			eventBatch = append(eventBatch, rec.Event)
			if rec.Account != nil {
				accountBatch = append(accountBatch, *rec.Account)
			}

			if len(eventBatch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, eventBatch, accountBatch); err != nil {
					w.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				eventBatch = eventBatch[:0]
				accountBatch = accountBatch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(eventBatch) > 0 {
				if err := w.flushWithRetry(ctx, eventBatch, accountBatch); err != nil {
					w.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				eventBatch = eventBatch[:0]
				accountBatch = accountBatch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// drain collects everything buffered in the input channel without
// blocking. Only used on shutdown, after the senders have stopped.
func (w *Worker) drain(events []EventRow, accounts []AccountRow) ([]EventRow, []AccountRow) {
	for {
		select {
		case rec, ok := <-w.inputChan:
			if !ok {
				return events, accounts
			}
			events = append(events, rec.Event)
			if rec.Account != nil {
				accounts = append(accounts, *rec.Account)
			}
		default:
			return events, accounts
		}
	}
}

// flushWithRetry attempts to flush with exponential backoff. The
// worker never drops events — it retries until the write succeeds or
// the context is cancelled, and then tries once more with a background
// context so shutdown does not lose the batch.
func (w *Worker) flushWithRetry(ctx context.Context, events []EventRow, accounts []AccountRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(events)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				finalErr := w.flush(context.Background(), events, accounts)
				if finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, events, accounts)
		if err == nil {
			if attempt > 0 {
				w.logger.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistRetry.Inc()
		}
	}
}

// flush writes events and account upserts in a single transaction.
func (w *Worker) flush(ctx context.Context, events []EventRow, accounts []AccountRow) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEventBatch(ctx, tx, events); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_events").Inc()
		}
		return err
	}

	if err := w.writer.UpsertAccounts(ctx, tx, accounts); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("upsert_accounts").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(events)))
		w.metrics.PersistEventsWritten.Add(float64(len(events)))
		w.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
	}

	return nil
}

// Writer exposes the underlying writer for startup recovery.
func (w *Worker) Writer() *EventLogWriter {
	return w.writer
}

// RecordFromEnvelope converts a committed envelope into durable work.
// The projection row is decoded from the payload's post-state fields.
func RecordFromEnvelope(env event.Envelope) (Record, error) {
	rec := Record{
		Event: EventRow{
			Sequence:  env.Sequence,
			EventType: env.EventType.String(),
			Payload:   env.Payload,
			Timestamp: env.Timestamp,
		},
	}

	var post struct {
		AccountID         string `json:"account_id"`
		CollateralBalance string `json:"collateral_balance"`
		DebtBalance       string `json:"debt_balance"`
	}
	if err := json.Unmarshal(env.Payload, &post); err != nil {
		return Record{}, fmt.Errorf("decode payload for sequence %d: %w", env.Sequence, err)
	}
	if post.AccountID != "" {
		rec.Account = &AccountRow{
			AccountID:  post.AccountID,
			Collateral: post.CollateralBalance,
			Debt:       post.DebtBalance,
			Sequence:   env.Sequence,
			UpdatedAt:  env.Timestamp,
		}
	}
	return rec, nil
}

// ChannelSink bridges the engine's event sink to the persist channel.
// Sends BLOCK when the channel is full: durability backpressure stalls
// the engine instead of dropping events.
type ChannelSink struct {
	ch      chan<- Record
	metrics *observability.Metrics
}

func NewChannelSink(ch chan<- Record, metrics *observability.Metrics) *ChannelSink {
	return &ChannelSink{ch: ch, metrics: metrics}
}

func (s *ChannelSink) Emit(env event.Envelope) error {
	rec, err := RecordFromEnvelope(env)
	if err != nil {
		return err
	}
	select {
	case s.ch <- rec:
	default:
		if s.metrics != nil {
			s.metrics.PersistBackpressure.Inc()
		}
		s.ch <- rec
	}
	return nil
}
