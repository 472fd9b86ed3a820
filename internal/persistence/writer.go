package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// EventLogWriter writes committed envelopes and the account projection
// to Postgres using multi-row INSERT. Inserts are keyed on sequence so
// replays after a crash are idempotent.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in ledger_log.events
type EventRow struct {
	Sequence  int64
	EventType string
	Payload   []byte // JSON-encoded event payload
	Timestamp time.Time
}

// AccountRow represents a row in ledger_log.accounts. Balances are
// decimal strings; NUMERIC(78,0) holds the full 256-bit range.
type AccountRow struct {
	AccountID  string
	Collateral string
	Debt       string
	Sequence   int64
	UpdatedAt  time.Time
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

func (w *EventLogWriter) DB() *sql.DB { return w.db }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// WriteEventBatch writes a batch of events to ledger_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO ledger_log.events
		(sequence, event_type, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*4)

	for i, e := range events {
		base := i * 4
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4,
		))
		args = append(args, e.Sequence, e.EventType, e.Payload, e.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertAccounts writes post-state account rows. A row only wins if
// its sequence is newer than what the table already holds, so batches
// may carry multiple updates per account in any order.
func (w *EventLogWriter) UpsertAccounts(ctx context.Context, tx execer, accounts []AccountRow) error {
	if len(accounts) == 0 {
		return nil
	}

	query := `INSERT INTO ledger_log.accounts
		(account_id, collateral_balance, debt_balance, sequence, updated_at)
		VALUES `

	values := make([]string, 0, len(accounts))
	args := make([]interface{}, 0, len(accounts)*5)

	for i, a := range accounts {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, a.AccountID, a.Collateral, a.Debt, a.Sequence, a.UpdatedAt)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (account_id) DO UPDATE SET
		collateral_balance = EXCLUDED.collateral_balance,
		debt_balance = EXCLUDED.debt_balance,
		sequence = EXCLUDED.sequence,
		updated_at = EXCLUDED.updated_at
		WHERE EXCLUDED.sequence > ledger_log.accounts.sequence`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LoadAccounts reads the full projection for startup recovery.
func (w *EventLogWriter) LoadAccounts(ctx context.Context) ([]AccountRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT account_id, collateral_balance::text, debt_balance::text, sequence, updated_at
		FROM ledger_log.accounts
		ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccountRow
	for rows.Next() {
		var a AccountRow
		if err := rows.Scan(&a.AccountID, &a.Collateral, &a.Debt, &a.Sequence, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LatestSequence returns the highest persisted event sequence, or 0 on
// an empty log.
func (w *EventLogWriter) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM ledger_log.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}
