package domain

// PendingTx is an unconfirmed third-party transaction observed on the
// pending-transaction feed, reduced to the fields the watcher needs.
type PendingTx struct {
	Hash        string
	From        string
	To          string
	Input       []byte
	ValueWei    float64
	GasPriceWei float64
	// SeenBlock is the chain head height at the moment the transaction was
	// first observed; the watcher uses it for TTL-based eviction.
	SeenBlock uint64
}

// PendingSwap is a pending transaction decoded into swap intent on a tracked
// venue.
type PendingSwap struct {
	TxHash   string
	From     string
	Venue    string
	TokenIn  string
	TokenOut string
	AmountIn float64
	MinOut   float64
	// SeenBlock carries over from the raw PendingTx.
	SeenBlock uint64
}
