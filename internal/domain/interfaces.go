package domain

import (
	"context"
	"io"
	"time"
)

// SwapResult is the realized outcome of a single venue swap.
type SwapResult struct {
	AmountOut float64
	Success   bool
	TxRef     string
}

// ExchangeAdapter is the capability interface implemented once per venue.
// Quote must be idempotent and side-effect free; Swap submits a standalone
// (non-atomic) swap and is only used outside the flash-loan path.
type ExchangeAdapter interface {
	// Name returns the venue identifier used in quotes and settlement legs.
	Name() string
	// Quote returns the venue's current view of the pair.
	Quote(ctx context.Context, pair Pair) (VenueQuote, error)
	// Swap executes a single swap on this venue.
	Swap(ctx context.Context, tokenIn, tokenOut string, amountIn, minOut float64, deadline time.Time) (SwapResult, error)
	// ImpactCoefficient scales the size/(reserve+size) price-impact
	// approximation for this venue's liquidity shape; concentrated-liquidity
	// venues report a lower coefficient than constant-product pools.
	ImpactCoefficient() float64
}

// SettlementLedger executes a settlement request atomically on-chain:
// borrow, swaps, and repayment all succeed or the whole transaction reverts.
type SettlementLedger interface {
	Execute(ctx context.Context, req SettlementRequest) (LedgerReceipt, error)
}

// PendingTxSource streams unconfirmed transactions from the mempool. The
// returned channel is closed when the context is cancelled or the underlying
// feed drops.
type PendingTxSource interface {
	Subscribe(ctx context.Context) (<-chan PendingTx, error)
}

// GasPricer reports the network's current suggested gas price in wei.
type GasPricer interface {
	SuggestGasPrice(ctx context.Context) (float64, error)
}

// OutcomeStore persists the append-only settlement history.
type OutcomeStore interface {
	Append(ctx context.Context, outcome SettlementOutcome) error
	ListRecent(ctx context.Context, limit int) ([]SettlementOutcome, error)
	// ListBefore returns outcomes completed before the cutoff, oldest first.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]SettlementOutcome, error)
	// DeleteBefore removes archived outcomes and returns the count deleted.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// OpportunityStore records detected opportunities for offline analysis.
type OpportunityStore interface {
	Record(ctx context.Context, opp Opportunity) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
}

// QuoteCache exposes the latest poll cycle's quotes to external readers.
type QuoteCache interface {
	SetQuotes(ctx context.Context, pairKey string, quotes []VenueQuote) error
	GetQuotes(ctx context.Context, pairKey string) ([]VenueQuote, error)
}

// LockManager provides distributed locks so two engine instances never race
// a settlement for the same pair. Acquire returns ErrLockHeld when another
// holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for telemetry events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Write(ctx context.Context, path string, contentType string, body io.Reader) (BlobInfo, error)
}

// BlobReader downloads data from object storage.
type BlobReader interface {
	Read(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}
