package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Service provides read-only access to the event log and the accounts
// projection. Live balances and health come from the engine; this is
// the durable history surface.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetEvents returns event history, newest first, with cursor-based
// pagination: pass the last seen sequence as afterSequence to fetch
// the next page. Optional filters on account and event type.
func (s *Service) GetEvents(
	ctx context.Context,
	accountID *uuid.UUID,
	eventType *string,
	limit int,
	afterSequence *int64,
) ([]EventEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT sequence, event_type, payload, timestamp
		FROM ledger_log.events
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if accountID != nil {
		query += fmt.Sprintf(" AND payload ->> 'account_id' = $%d", argIdx)
		args = append(args, accountID.String())
		argIdx++
	}

	if eventType != nil {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, *eventType)
		argIdx++
	}

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []EventEntry
	for rows.Next() {
		var e EventEntry
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.Payload, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetAccount returns the projected balances for one account, or nil if
// the account has never been touched.
func (s *Service) GetAccount(ctx context.Context, accountID uuid.UUID) (*AccountRecord, error) {
	asOfSeq, err := s.latestSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest sequence: %w", err)
	}

	var rec AccountRecord
	err = s.db.QueryRowContext(ctx, `
		SELECT account_id, collateral_balance::text, debt_balance::text, sequence, updated_at
		FROM ledger_log.accounts
		WHERE account_id = $1
	`, accountID).Scan(&rec.AccountID, &rec.Collateral, &rec.Debt, &rec.Sequence, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.AsOfSequence = asOfSeq
	return &rec, nil
}

// VerifyIntegrity checks log continuity and projection consistency:
// the sequence column must have no gaps, and no projection row may
// point past the end of the log.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	latest, err := s.latestSequence(ctx)
	if err != nil {
		return nil, err
	}
	report.LatestSequence = latest

	// Gap detection: a row whose predecessor sequence is absent.
	rows, err := s.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM ledger_log.events e1
		LEFT JOIN ledger_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 1 AND e2.sequence IS NULL
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.SequenceGaps = append(report.SequenceGaps, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// A projection row ahead of the log means a lost event write.
	orphanRows, err := s.db.QueryContext(ctx, `
		SELECT account_id FROM ledger_log.accounts WHERE sequence > $1
	`, latest)
	if err != nil {
		return nil, err
	}
	defer orphanRows.Close()

	for orphanRows.Next() {
		var id uuid.UUID
		if err := orphanRows.Scan(&id); err != nil {
			return nil, err
		}
		report.OrphanAccounts = append(report.OrphanAccounts, id)
	}
	if err := orphanRows.Err(); err != nil {
		return nil, err
	}

	var maxProjected sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM ledger_log.accounts`).Scan(&maxProjected); err != nil {
		return nil, err
	}
	report.ProjectionLagged = maxProjected.Valid && maxProjected.Int64 < latest

	report.IsHealthy = len(report.SequenceGaps) == 0 && len(report.OrphanAccounts) == 0
	return report, nil
}

func (s *Service) latestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM ledger_log.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}
