package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"LendLedger/internal/event"
	"LendLedger/internal/fpmath"
	"LendLedger/internal/ledger"
	"LendLedger/internal/oracle"
	"LendLedger/internal/token"
)

// Engine is the lending ledger core. It owns the account store
// exclusively; every mutation runs under one global lock so the oracle
// read, the balance check, and the balance write see a single price
// snapshot. Token movements go through the asset ledgers; the engine
// holds custody under its own id and the mint right on the debt asset.
type Engine struct {
	mu sync.RWMutex

	id         uuid.UUID
	store      *ledger.Store
	params     ledger.Params
	collateral token.AssetLedger
	debt       token.AssetLedger
	oracle     oracle.PriceOracle
	sink       event.Sink
	validator  *ledger.Validator

	logger  zerolog.Logger
	metrics metricsRecorder
	clock   func() time.Time

	// Last assigned event sequence. Monotonic, starts after replay.
	sequence int64
}

// Config wires an Engine. Metrics and Sink may be nil; Clock defaults
// to UTC wall time.
type Config struct {
	ID         uuid.UUID
	Store      *ledger.Store
	Params     ledger.Params
	Collateral token.AssetLedger
	Debt       token.AssetLedger
	Oracle     oracle.PriceOracle
	Sink       event.Sink
	Logger     zerolog.Logger
	Metrics    metricsRecorder
	Clock      func() time.Time
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		cfg.Store = ledger.NewStore()
	}
	if cfg.Sink == nil {
		cfg.Sink = event.NopSink{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		id:         cfg.ID,
		store:      cfg.Store,
		params:     cfg.Params,
		collateral: cfg.Collateral,
		debt:       cfg.Debt,
		oracle:     cfg.Oracle,
		sink:       cfg.Sink,
		validator:  ledger.NewValidator(),
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		clock:      cfg.Clock,
	}, nil
}

// ID is the engine's token-custody identity. Depositors approve this
// id on the collateral ledger; liquidators approve it on the debt
// ledger.
func (e *Engine) ID() uuid.UUID { return e.id }

func (e *Engine) Params() ledger.Params { return e.params }

// Sequence returns the last committed event sequence.
func (e *Engine) Sequence() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sequence
}

// Restore installs replayed accounts and the last persisted sequence.
// Called once during startup, before the engine serves traffic.
func (e *Engine) Restore(accounts []*ledger.Account, lastSequence int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, acc := range accounts {
		e.store.Restore(acc)
	}
	e.sequence = lastSequence
	e.metrics.RestoredState(e.store.Len(), lastSequence)
}

// Deposit pulls amount of collateral from accountID's token balance
// into engine custody and credits the account. The caller must have
// approved the engine for at least amount beforehand.
func (e *Engine) Deposit(accountID uuid.UUID, amount *uint256.Int) error {
	start := e.clock()
	if amount == nil || amount.IsZero() {
		e.metrics.Rejected("deposit", "invalid_amount")
		return ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.collateral.TransferFrom(e.id, accountID, e.id, amount); err != nil {
		e.metrics.Rejected("deposit", "token")
		return err
	}

	acc := e.store.Get(accountID)
	acc.Collateral.Add(acc.Collateral, amount)

	e.emit(&event.CollateralDeposited{
		AccountID:         accountID,
		Amount:            amount.Dec(),
		CollateralBalance: acc.Collateral.Dec(),
		DebtBalance:       acc.Debt.Dec(),
	})
	e.metrics.Committed("deposit", e.clock().Sub(start), e.sequence)
	e.logger.Info().
		Str("account", accountID.String()).
		Str("amount", amount.Dec()).
		Int64("sequence", e.sequence).
		Msg("collateral deposited")
	return nil
}

// Borrow mints amount of the debt asset to accountID if the account's
// collateral value covers the projected debt at the collateral ratio,
// priced at the current oracle snapshot.
func (e *Engine) Borrow(accountID uuid.UUID, amount *uint256.Int) error {
	start := e.clock()
	if amount == nil || amount.IsZero() {
		e.metrics.Rejected("borrow", "invalid_amount")
		return ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	price, err := e.oracle.LatestPrice()
	if err != nil {
		e.metrics.Rejected("borrow", "oracle")
		return err
	}

	acc := e.store.Get(accountID)

	projected, overflow := new(uint256.Int).AddOverflow(acc.Debt, amount)
	if overflow {
		e.metrics.Rejected("borrow", "overflow")
		return ErrOverflow
	}

	cv, err := fpmath.CollateralValue(acc.Collateral, price.Value, price.Scale)
	if err != nil {
		e.metrics.Rejected("borrow", "overflow")
		return err
	}

	// Cross-multiplied form of cv >= projected * ratio / 100: no
	// truncation on the required side.
	lhs, err := fpmath.Mul(cv, uint256.NewInt(100))
	if err != nil {
		e.metrics.Rejected("borrow", "overflow")
		return err
	}
	rhs, err := fpmath.Mul(projected, uint256.NewInt(e.params.CollateralRatio))
	if err != nil {
		e.metrics.Rejected("borrow", "overflow")
		return err
	}
	if lhs.Lt(rhs) {
		e.metrics.Rejected("borrow", "insufficient_collateral")
		return ErrInsufficientCollateral
	}

	if err := e.debt.Mint(e.id, accountID, amount); err != nil {
		e.metrics.Rejected("borrow", "token")
		return err
	}
	acc.Debt.Set(projected)

	e.emit(&event.Borrowed{
		AccountID:         accountID,
		Amount:            amount.Dec(),
		CollateralBalance: acc.Collateral.Dec(),
		DebtBalance:       acc.Debt.Dec(),
		PriceValue:        price.Value.Dec(),
		PriceScale:        price.Scale.Dec(),
	})
	e.metrics.Committed("borrow", e.clock().Sub(start), e.sequence)
	e.logger.Info().
		Str("account", accountID.String()).
		Str("amount", amount.Dec()).
		Str("price", price.Value.Dec()).
		Int64("sequence", e.sequence).
		Msg("debt borrowed")
	return nil
}

// Liquidate lets liquidatorID repay part of targetID's debt in
// exchange for collateral at the liquidation bonus. The reward is a
// unit-for-unit exchange plus bonus; it is not rescaled by the oracle
// price.
func (e *Engine) Liquidate(liquidatorID, targetID uuid.UUID, repay *uint256.Int) error {
	start := e.clock()
	if repay == nil || repay.IsZero() {
		e.metrics.Rejected("liquidate", "invalid_amount")
		return ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	price, err := e.oracle.LatestPrice()
	if err != nil {
		e.metrics.Rejected("liquidate", "oracle")
		return err
	}

	target := e.store.Get(targetID)

	liquidatable, err := e.isLiquidatable(target, price)
	if err != nil {
		e.metrics.Rejected("liquidate", "overflow")
		return err
	}
	if !liquidatable {
		e.metrics.Rejected("liquidate", "not_liquidatable")
		return ErrNotLiquidatable
	}
	if target.Debt.Lt(repay) {
		e.metrics.Rejected("liquidate", "repay_exceeds_debt")
		return ErrRepayExceedsDebt
	}

	reward, err := fpmath.ScaleByPercent(repay, e.params.LiquidationBonus)
	if err != nil {
		e.metrics.Rejected("liquidate", "overflow")
		return err
	}
	if target.Collateral.Lt(reward) {
		e.metrics.Rejected("liquidate", "reward_exceeds_collateral")
		return ErrInsufficientCollateralForReward
	}

	if err := e.debt.TransferFrom(e.id, liquidatorID, e.id, repay); err != nil {
		e.metrics.Rejected("liquidate", "token")
		return err
	}
	if err := e.collateral.Transfer(e.id, liquidatorID, reward); err != nil {
		// Undo the repay pull so a failed payout commits nothing.
		if undoErr := e.debt.Transfer(e.id, liquidatorID, repay); undoErr != nil {
			e.logger.Error().
				Err(undoErr).
				Str("liquidator", liquidatorID.String()).
				Str("repay", repay.Dec()).
				Msg("failed to refund repay after payout failure")
		}
		e.metrics.Rejected("liquidate", "token")
		return err
	}

	target.Debt.Sub(target.Debt, repay)
	target.Collateral.Sub(target.Collateral, reward)

	e.emit(&event.Liquidated{
		AccountID:         targetID,
		LiquidatorID:      liquidatorID,
		Repaid:            repay.Dec(),
		Reward:            reward.Dec(),
		CollateralBalance: target.Collateral.Dec(),
		DebtBalance:       target.Debt.Dec(),
		PriceValue:        price.Value.Dec(),
		PriceScale:        price.Scale.Dec(),
	})
	e.metrics.Liquidated(repay, reward)
	e.metrics.Committed("liquidate", e.clock().Sub(start), e.sequence)
	e.logger.Info().
		Str("target", targetID.String()).
		Str("liquidator", liquidatorID.String()).
		Str("repaid", repay.Dec()).
		Str("reward", reward.Dec()).
		Int64("sequence", e.sequence).
		Msg("account liquidated")
	return nil
}

// Health returns collateral value * 100 / debt at the current price.
// Zero debt is the max-uint256 sentinel: no liquidation risk.
func (e *Engine) Health(accountID uuid.UUID) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	price, err := e.oracle.LatestPrice()
	if err != nil {
		return nil, err
	}
	acc := e.lookup(accountID)
	return e.healthOf(acc, price)
}

// Borrowable returns how much more debt the account could take on at
// the current price: collateral value * 100 / ratio minus current
// debt, floored at zero.
func (e *Engine) Borrowable(accountID uuid.UUID) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	price, err := e.oracle.LatestPrice()
	if err != nil {
		return nil, err
	}
	return e.borrowableOf(e.lookup(accountID), price)
}

// AccountSummary is a point-in-time view priced at one oracle snapshot.
type AccountSummary struct {
	AccountID       uuid.UUID
	Collateral      *uint256.Int
	Debt            *uint256.Int
	CollateralValue *uint256.Int
	Borrowable      *uint256.Int
	Health          *uint256.Int
	IsLiquidatable  bool
	Price           oracle.Price
}

// Summary composes the read queries under one lock so every field is
// priced at the same snapshot.
func (e *Engine) Summary(accountID uuid.UUID) (AccountSummary, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	price, err := e.oracle.LatestPrice()
	if err != nil {
		return AccountSummary{}, err
	}
	acc := e.lookup(accountID)

	cv, err := fpmath.CollateralValue(acc.Collateral, price.Value, price.Scale)
	if err != nil {
		return AccountSummary{}, err
	}
	health, err := e.healthOf(acc, price)
	if err != nil {
		return AccountSummary{}, err
	}
	borrowable, err := e.borrowableOf(acc, price)
	if err != nil {
		return AccountSummary{}, err
	}
	liquidatable, err := e.isLiquidatable(acc, price)
	if err != nil {
		return AccountSummary{}, err
	}

	return AccountSummary{
		AccountID:       accountID,
		Collateral:      new(uint256.Int).Set(acc.Collateral),
		Debt:            new(uint256.Int).Set(acc.Debt),
		CollateralValue: cv,
		Borrowable:      borrowable,
		Health:          health,
		IsLiquidatable:  liquidatable,
		Price:           price,
	}, nil
}

// CheckConservation audits account collateral totals against engine
// custody in the collateral ledger.
func (e *Engine) CheckConservation() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.validator.ValidateConservation(e.store.Snapshot(), e.collateral.BalanceOf(e.id))
}

// lookup reads without creating; queries must not grow the store.
func (e *Engine) lookup(accountID uuid.UUID) *ledger.Account {
	if acc, ok := e.store.Lookup(accountID); ok {
		return acc
	}
	return ledger.NewAccount(accountID)
}

func (e *Engine) healthOf(acc *ledger.Account, price oracle.Price) (*uint256.Int, error) {
	if !acc.HasDebt() {
		return new(uint256.Int).Set(fpmath.MaxValue), nil
	}
	cv, err := fpmath.CollateralValue(acc.Collateral, price.Value, price.Scale)
	if err != nil {
		return nil, err
	}
	return fpmath.MulDiv(cv, uint256.NewInt(100), acc.Debt)
}

func (e *Engine) isLiquidatable(acc *ledger.Account, price oracle.Price) (bool, error) {
	if !acc.HasDebt() {
		return false, nil
	}
	health, err := e.healthOf(acc, price)
	if err != nil {
		return false, err
	}
	return health.Lt(uint256.NewInt(100)), nil
}

func (e *Engine) borrowableOf(acc *ledger.Account, price oracle.Price) (*uint256.Int, error) {
	cv, err := fpmath.CollateralValue(acc.Collateral, price.Value, price.Scale)
	if err != nil {
		return nil, err
	}
	maxDebt, err := fpmath.MulDiv(cv, uint256.NewInt(100), uint256.NewInt(e.params.CollateralRatio))
	if err != nil {
		return nil, err
	}
	if maxDebt.Lt(acc.Debt) || maxDebt.Eq(acc.Debt) {
		return new(uint256.Int), nil
	}
	return maxDebt.Sub(maxDebt, acc.Debt), nil
}

// emit assigns the next sequence and hands the envelope to the sink.
// State is already committed; a sink failure is logged, not rolled
// back — the durable sink blocks rather than errors under load.
func (e *Engine) emit(payload event.Event) {
	e.sequence++
	env, err := event.Wrap(e.sequence, e.clock(), payload)
	if err != nil {
		e.logger.Error().Err(err).Int64("sequence", e.sequence).Msg("event encode failed")
		return
	}
	if err := e.sink.Emit(env); err != nil {
		e.logger.Error().
			Err(err).
			Int64("sequence", e.sequence).
			Str("event_type", env.EventType.String()).
			Msg("event sink failed")
	}
}
