package engine

import (
	"time"

	"github.com/holiman/uint256"

	"LendLedger/internal/observability"
)

// metricsRecorder decouples the engine from the Prometheus registry so
// tests run without one.
type metricsRecorder interface {
	Committed(op string, dur time.Duration, sequence int64)
	Rejected(op, reason string)
	Liquidated(repay, reward *uint256.Int)
	RestoredState(accounts int, sequence int64)
}

type nopMetrics struct{}

func (nopMetrics) Committed(string, time.Duration, int64)  {}
func (nopMetrics) Rejected(string, string)                 {}
func (nopMetrics) Liquidated(*uint256.Int, *uint256.Int)   {}
func (nopMetrics) RestoredState(int, int64)                {}

// PromMetrics records engine activity into the shared Metrics set.
type PromMetrics struct {
	M *observability.Metrics
}

func (p PromMetrics) Committed(op string, dur time.Duration, sequence int64) {
	p.M.EngineOpsTotal.WithLabelValues(op).Inc()
	p.M.EngineOpDuration.WithLabelValues(op).Observe(dur.Seconds())
	p.M.EngineSequence.Set(float64(sequence))
}

func (p PromMetrics) Rejected(op, reason string) {
	p.M.EngineOpsRejected.WithLabelValues(op, reason).Inc()
}

func (p PromMetrics) Liquidated(repay, reward *uint256.Int) {
	p.M.LiquidationsTotal.Inc()
	p.M.LiquidationRepaid.Add(repay.Float64())
	p.M.LiquidationRewardOut.Add(reward.Float64())
}

func (p PromMetrics) RestoredState(accounts int, sequence int64) {
	p.M.AccountsTracked.Set(float64(accounts))
	p.M.EngineSequence.Set(float64(sequence))
}
