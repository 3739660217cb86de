package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

// OutcomeStore persists the append-only settlement history in Postgres.
type OutcomeStore struct {
	pool *pgxpool.Pool
}

// NewOutcomeStore creates an OutcomeStore backed by the given client.
func NewOutcomeStore(c *Client) *OutcomeStore {
	return &OutcomeStore{pool: c.Pool()}
}

// Append inserts one settlement outcome. Outcomes are never updated.
func (s *OutcomeStore) Append(ctx context.Context, out domain.SettlementOutcome) error {
	const q = `
		INSERT INTO settlement_outcomes
			(request_id, kind, pair_key, success, realized_profit,
			 failure_reason, tx_ref, gas_used, submitted_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, q,
		out.RequestID,
		string(out.Kind),
		out.Pair.Key(),
		out.Success,
		out.RealizedProfit,
		string(out.FailureReason),
		out.TxRef,
		int64(out.GasUsed),
		out.SubmittedAt,
		out.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append outcome %s: %w", out.RequestID, err)
	}
	return nil
}

// ListRecent returns the most recently completed outcomes, newest first.
func (s *OutcomeStore) ListRecent(ctx context.Context, limit int) ([]domain.SettlementOutcome, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT request_id, kind, pair_key, success, realized_profit,
		       failure_reason, tx_ref, gas_used, submitted_at, completed_at
		FROM settlement_outcomes
		ORDER BY completed_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent outcomes: %w", err)
	}
	defer rows.Close()

	return scanOutcomes(rows)
}

// ListBefore returns outcomes completed before the cutoff, oldest first, so
// the archiver can page through history in stable order.
func (s *OutcomeStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.SettlementOutcome, error) {
	if limit <= 0 {
		limit = 500
	}
	const q = `
		SELECT request_id, kind, pair_key, success, realized_profit,
		       failure_reason, tx_ref, gas_used, submitted_at, completed_at
		FROM settlement_outcomes
		WHERE completed_at < $1
		ORDER BY completed_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, q, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return scanOutcomes(rows)
}

// DeleteBefore removes outcomes completed before the cutoff and returns the
// number of rows deleted. Called only after the archiver has written them out.
func (s *OutcomeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM settlement_outcomes WHERE completed_at < $1`

	tag, err := s.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete outcomes before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

type outcomeRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanOutcomes(rows outcomeRows) ([]domain.SettlementOutcome, error) {
	var outcomes []domain.SettlementOutcome
	for rows.Next() {
		var (
			out     domain.SettlementOutcome
			kind    string
			pairKey string
			reason  string
			gasUsed int64
		)
		if err := rows.Scan(
			&out.RequestID,
			&kind,
			&pairKey,
			&out.Success,
			&out.RealizedProfit,
			&reason,
			&out.TxRef,
			&gasUsed,
			&out.SubmittedAt,
			&out.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		pair, err := domain.ParsePair(pairKey)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan outcome %s: %w", out.RequestID, err)
		}
		out.Kind = domain.RequestKind(kind)
		out.Pair = pair
		out.FailureReason = domain.FailureReason(reason)
		out.GasUsed = uint64(gasUsed)
		outcomes = append(outcomes, out)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate outcomes: %w", err)
	}
	return outcomes, nil
}

// Compile-time interface check.
var _ domain.OutcomeStore = (*OutcomeStore)(nil)
