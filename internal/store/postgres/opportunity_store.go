package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

// OpportunityStore records detected opportunities for offline analysis.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates an OpportunityStore backed by the given client.
func NewOpportunityStore(c *Client) *OpportunityStore {
	return &OpportunityStore{pool: c.Pool()}
}

// Record upserts one opportunity. Detector IDs are deterministic, so the
// same market state observed twice lands on the same row.
func (s *OpportunityStore) Record(ctx context.Context, opp domain.Opportunity) error {
	const q = `
		INSERT INTO opportunities
			(id, pair_key, buy_venue, sell_venue, buy_price, sell_price,
			 spread_bps, trade_size, notional, gross_profit, fees_cost,
			 gas_cost, net_profit, confidence, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			net_profit  = EXCLUDED.net_profit,
			gas_cost    = EXCLUDED.gas_cost,
			confidence  = EXCLUDED.confidence,
			detected_at = EXCLUDED.detected_at`

	_, err := s.pool.Exec(ctx, q,
		opp.ID,
		opp.Pair.Key(),
		opp.BuyVenue,
		opp.SellVenue,
		opp.BuyPrice,
		opp.SellPrice,
		opp.SpreadBps,
		opp.TradeSize,
		opp.Notional,
		opp.GrossProfit,
		opp.FeesCost,
		opp.GasCost,
		opp.NetProfit,
		opp.Confidence,
		opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// ListRecent returns the most recently detected opportunities, newest first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, pair_key, buy_venue, sell_venue, buy_price, sell_price,
		       spread_bps, trade_size, notional, gross_profit, fees_cost,
		       gas_cost, net_profit, confidence, detected_at
		FROM opportunities
		ORDER BY detected_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()

	var opps []domain.Opportunity
	for rows.Next() {
		var (
			opp     domain.Opportunity
			pairKey string
		)
		if err := rows.Scan(
			&opp.ID,
			&pairKey,
			&opp.BuyVenue,
			&opp.SellVenue,
			&opp.BuyPrice,
			&opp.SellPrice,
			&opp.SpreadBps,
			&opp.TradeSize,
			&opp.Notional,
			&opp.GrossProfit,
			&opp.FeesCost,
			&opp.GasCost,
			&opp.NetProfit,
			&opp.Confidence,
			&opp.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		pair, err := domain.ParsePair(pairKey)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity %s: %w", opp.ID, err)
		}
		opp.Pair = pair
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate opportunities: %w", err)
	}
	return opps, nil
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
