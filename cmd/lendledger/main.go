package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"LendLedger/internal/config"
	"LendLedger/internal/engine"
	"LendLedger/internal/event"
	"LendLedger/internal/ingestion"
	"LendLedger/internal/ledger"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"LendLedger/internal/persistence"
	"LendLedger/internal/query"
	"LendLedger/internal/server"
	"LendLedger/internal/token"
)

func main() {
	logger := observability.NewLogger("main")

	cfg, err := config.Load(".")
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	engineID := uuid.MustParse(cfg.EngineID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	// --- Warm restart: accounts projection + event log tail ---
	accounts, lastSequence, err := persistence.NewRecovery(db).Recover(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("recover ledger state")
	}
	logger.Info().
		Int("accounts", len(accounts)).
		Int64("sequence", lastSequence).
		Msg("ledger state recovered")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Asset ledgers ---
	// In-process stand-ins for external token contracts. The engine
	// owns the mint right on both: it mints debt on borrow, and custody
	// backing for restored collateral below.
	collateralLedger := token.NewMemoryLedger("COLL", engineID)
	debtLedger := token.NewMemoryLedger("DEBT", engineID)

	// Token balances are not part of the event log, so after a restart
	// the custody backing the restored collateral must be
	// reconstructed. Without it conservation checks would fail.
	if err := restoreCustody(collateralLedger, engineID, accounts, logger); err != nil {
		logger.Fatal().Err(err).Msg("restore custody")
	}

	// --- Oracle ---
	feed := oracle.NewFeed()
	if cfg.StaticPriceValue != "" {
		value, err := uint256.FromDecimal(cfg.StaticPriceValue)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse LEND_STATIC_PRICE_VALUE")
		}
		scale, err := uint256.FromDecimal(cfg.StaticPriceScale)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse LEND_STATIC_PRICE_SCALE")
		}
		feed.Update(oracle.Price{Value: value, Scale: scale, Sequence: 0, Timestamp: time.Now().UTC()})
		logger.Info().Str("value", value.Dec()).Str("scale", scale.Dec()).Msg("oracle primed with static price")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		logger.Fatal().Err(err).Msg("ensure nats streams")
	}

	priceSubscriber := ingestion.NewPriceSubscriber(js, feed, observability.NewLogger("prices"), metrics)
	if err := priceSubscriber.Subscribe(ctx); err != nil {
		logger.Fatal().Err(err).Msg("subscribe prices")
	}

	// --- Channels ---
	// The persist channel blocks when full (backpressure stalls the
	// engine, no event loss); the publish channel drops when full.
	persistChan := make(chan persistence.Record, cfg.PersistChanSize)
	publishChan := make(chan event.Envelope, cfg.PublishChanSize)

	sink := event.NewFanoutSink(
		persistence.NewChannelSink(persistChan, metrics),
		ingestion.NewPublishSink(publishChan, metrics),
	)

	// --- Engine ---
	eng, err := engine.New(engine.Config{
		ID:    engineID,
		Store: ledger.NewStore(),
		Params: ledger.Params{
			CollateralRatio:  cfg.CollateralRatio,
			LiquidationBonus: cfg.LiquidationBonus,
		},
		Collateral: collateralLedger,
		Debt:       debtLedger,
		Oracle:     feed,
		Sink:       sink,
		Logger:     observability.NewLogger("engine"),
		Metrics:    engine.PromMetrics{M: metrics},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build engine")
	}
	eng.Restore(accounts, lastSequence)

	// --- Services ---
	queryService := query.NewService(db)
	httpServer := server.New(eng, queryService, healthChecker, metrics, observability.NewLogger("http"))

	// --- Start goroutines ---
	errChan := make(chan error, 4)

	persistWorker := persistence.NewWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, observability.NewLogger("persistence"), metrics)
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(ctx); err != nil {
			errChan <- err
		}
	}()

	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"))
	go func() {
		errChan <- outboundPublisher.Run(ctx)
	}()

	go func() {
		errChan <- httpServer.Run(ctx, cfg.HTTPAddr)
	}()

	go reportChannelDepths(ctx, metrics, persistChan, publishChan)

	healthChecker.SetReady(true)
	logger.Info().
		Str("http", cfg.HTTPAddr).
		Int64("sequence", lastSequence).
		Msg("lendledger ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	healthChecker.SetReady(false)
	cancel()
	priceSubscriber.Stop()

	// The engine has stopped taking requests; closing the channels lets
	// the workers drain and flush whatever is buffered.
	close(persistChan)
	close(publishChan)

	select {
	case <-persistDone:
	case <-time.After(30 * time.Second):
		logger.Error().Msg("persistence worker did not drain in time")
	}

	logger.Info().Msg("shutdown complete")
}

// restoreCustody mints collateral backing into the engine's custody
// account so restored account balances stay conserved against the
// asset ledger.
func restoreCustody(custodial token.AssetLedger, engineID uuid.UUID, accounts []*ledger.Account, logger zerolog.Logger) error {
	total := new(uint256.Int)
	for _, acct := range accounts {
		var overflow bool
		if total, overflow = new(uint256.Int).AddOverflow(total, acct.Collateral); overflow {
			return engine.ErrOverflow
		}
	}
	if total.IsZero() {
		return nil
	}
	if err := custodial.Mint(engineID, engineID, total); err != nil {
		return err
	}
	logger.Info().Str("amount", total.Dec()).Msg("collateral custody restored")
	return nil
}

// reportChannelDepths samples channel occupancy into the gauges every
// few seconds.
func reportChannelDepths(ctx context.Context, metrics *observability.Metrics, persistChan chan persistence.Record, publishChan chan event.Envelope) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
			metrics.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
		}
	}
}
