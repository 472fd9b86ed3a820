package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"LendLedger/internal/ledger"
)

// Recovery rebuilds engine state on startup. The accounts projection
// is the fast path; any events past the projection's high-water mark
// (a crash between event insert and projection upsert is possible
// because they land in different batches only on retry) are replayed
// from the log.
type Recovery struct {
	writer *EventLogWriter
}

func NewRecovery(db *sql.DB) *Recovery {
	return &Recovery{writer: NewEventLogWriter(db)}
}

const replayBatch = 1000

// Recover returns the account set and the last persisted sequence.
func (r *Recovery) Recover(ctx context.Context) ([]*ledger.Account, int64, error) {
	rows, err := r.writer.LoadAccounts(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load accounts: %w", err)
	}

	accounts := make(map[uuid.UUID]*ledger.Account, len(rows))
	var projectionSeq int64
	for _, row := range rows {
		acc, err := accountFromRow(row)
		if err != nil {
			return nil, 0, err
		}
		accounts[acc.ID] = acc
		if row.Sequence > projectionSeq {
			projectionSeq = row.Sequence
		}
	}

	lastSeq, err := r.writer.LatestSequence(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("latest sequence: %w", err)
	}

	// Replay the tail the projection has not seen.
	for from := projectionSeq + 1; from <= lastSeq; {
		events, err := r.loadEventsFrom(ctx, from, replayBatch)
		if err != nil {
			return nil, 0, fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(events) == 0 {
			break
		}
		for _, ev := range events {
			if err := applyPostState(accounts, ev); err != nil {
				return nil, 0, err
			}
		}
		from = events[len(events)-1].Sequence + 1
	}

	out := make([]*ledger.Account, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, acc)
	}
	return out, lastSeq, nil
}

func (r *Recovery) loadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := r.writer.db.QueryContext(ctx, `
		SELECT sequence, event_type, payload, timestamp
		FROM ledger_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.Payload, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func accountFromRow(row AccountRow) (*ledger.Account, error) {
	id, err := uuid.Parse(row.AccountID)
	if err != nil {
		return nil, fmt.Errorf("account id %q: %w", row.AccountID, err)
	}
	collateral, err := uint256.FromDecimal(row.Collateral)
	if err != nil {
		return nil, fmt.Errorf("collateral of %s: %w", row.AccountID, err)
	}
	debt, err := uint256.FromDecimal(row.Debt)
	if err != nil {
		return nil, fmt.Errorf("debt of %s: %w", row.AccountID, err)
	}
	return &ledger.Account{ID: id, Collateral: collateral, Debt: debt}, nil
}

// applyPostState overlays one replayed event's post-state balances.
func applyPostState(accounts map[uuid.UUID]*ledger.Account, ev EventRow) error {
	var post struct {
		AccountID         uuid.UUID `json:"account_id"`
		CollateralBalance string    `json:"collateral_balance"`
		DebtBalance       string    `json:"debt_balance"`
	}
	if err := json.Unmarshal(ev.Payload, &post); err != nil {
		return fmt.Errorf("decode replayed event %d: %w", ev.Sequence, err)
	}

	collateral, err := uint256.FromDecimal(post.CollateralBalance)
	if err != nil {
		return fmt.Errorf("replayed event %d collateral: %w", ev.Sequence, err)
	}
	debt, err := uint256.FromDecimal(post.DebtBalance)
	if err != nil {
		return fmt.Errorf("replayed event %d debt: %w", ev.Sequence, err)
	}

	acc, ok := accounts[post.AccountID]
	if !ok {
		acc = ledger.NewAccount(post.AccountID)
		accounts[post.AccountID] = acc
	}
	acc.Collateral.Set(collateral)
	acc.Debt.Set(debt)
	return nil
}
