package oracle

import (
	"errors"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

var ErrUnavailable = errors.New("oracle unavailable")

// Price is one observation from the collateral/debt exchange-rate
// feed. Value is Scale-scaled fixed point; the reference feed uses an
// 8-decimal scale.
type Price struct {
	Value     *uint256.Int
	Scale     *uint256.Int
	Sequence  uint64
	Timestamp time.Time
}

// PriceOracle supplies the current exchange rate. The engine reads it
// fresh at the start of every valuation-dependent operation and never
// caches across calls.
type PriceOracle interface {
	LatestPrice() (Price, error)
}

// DefaultScale is 1e8, matching the feed's 8 decimal digits.
func DefaultScale() *uint256.Int {
	return uint256.NewInt(100_000_000)
}

// Feed is a settable in-process oracle. Operationally it is the sink
// of the NATS price subscriber; in tests it is driven directly.
type Feed struct {
	mu    sync.RWMutex
	price Price
	set   bool
}

func NewFeed() *Feed {
	return &Feed{}
}

// NewStatic returns a feed pinned to one value, for deployments
// without a live price stream.
func NewStatic(value, scale *uint256.Int) *Feed {
	f := NewFeed()
	f.Update(Price{
		Value:     value,
		Scale:     scale,
		Timestamp: time.Now().UTC(),
	})
	return f
}

// Update installs a new observation. Out-of-order observations (by
// Sequence) are dropped so a delayed redelivery cannot rewind the
// price.
func (f *Feed) Update(p Price) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set && p.Sequence < f.price.Sequence {
		return
	}
	f.price = Price{
		Value:     new(uint256.Int).Set(p.Value),
		Scale:     new(uint256.Int).Set(p.Scale),
		Sequence:  p.Sequence,
		Timestamp: p.Timestamp,
	}
	f.set = true
}

// LatestPrice returns the current observation. A feed that has never
// been primed, or a zero value or scale, is ErrUnavailable.
func (f *Feed) LatestPrice() (Price, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.set || f.price.Value.IsZero() || f.price.Scale.IsZero() {
		return Price{}, ErrUnavailable
	}
	return Price{
		Value:     new(uint256.Int).Set(f.price.Value),
		Scale:     new(uint256.Int).Set(f.price.Scale),
		Sequence:  f.price.Sequence,
		Timestamp: f.price.Timestamp,
	}, nil
}
