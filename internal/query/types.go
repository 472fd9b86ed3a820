package query

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventEntry is one row of the event history. Payload is the stored
// JSON, passed through untouched.
type EventEntry struct {
	Sequence  int64           `json:"sequence"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// AccountRecord is the projected view of one account. Balances are
// decimal strings. AsOfSequence tells the caller how fresh the
// projection is relative to the event log.
type AccountRecord struct {
	AccountID    uuid.UUID `json:"account_id"`
	Collateral   string    `json:"collateral_balance"`
	Debt         string    `json:"debt_balance"`
	Sequence     int64     `json:"sequence"`
	UpdatedAt    time.Time `json:"updated_at"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// IntegrityReport summarizes log and projection consistency checks.
type IntegrityReport struct {
	IsHealthy        bool        `json:"is_healthy"`
	SequenceGaps     []int64     `json:"sequence_gaps,omitempty"`
	OrphanAccounts   []uuid.UUID `json:"orphan_accounts,omitempty"`
	LatestSequence   int64       `json:"latest_sequence"`
	ProjectionLagged bool        `json:"projection_lagged"`
}
