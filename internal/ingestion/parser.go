package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"LendLedger/internal/oracle"
)

// priceUpdateJSON is the wire format published by the price feeder.
// Field names use snake_case to match upstream producers. Value and
// scale are decimal strings; JSON numbers cannot carry the full range.
type priceUpdateJSON struct {
	Value       string `json:"value"`
	Scale       string `json:"scale"`
	Sequence    uint64 `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

// ParsePriceUpdate converts raw NATS bytes into a price observation.
func ParsePriceUpdate(data []byte) (oracle.Price, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return oracle.Price{}, fmt.Errorf("parse PriceUpdate: %w", err)
	}

	value, err := uint256.FromDecimal(j.Value)
	if err != nil {
		return oracle.Price{}, fmt.Errorf("parse price value %q: %w", j.Value, err)
	}

	scale := oracle.DefaultScale()
	if j.Scale != "" {
		scale, err = uint256.FromDecimal(j.Scale)
		if err != nil {
			return oracle.Price{}, fmt.Errorf("parse price scale %q: %w", j.Scale, err)
		}
	}
	if scale.IsZero() {
		return oracle.Price{}, fmt.Errorf("price scale must be non-zero")
	}

	return oracle.Price{
		Value:     value,
		Scale:     scale,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs).UTC(),
	}, nil
}
