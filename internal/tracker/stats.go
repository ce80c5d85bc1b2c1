package tracker

import (
	"time"

	"go.uber.org/zap"
)

// CycleStats accumulates counters across one polling cycle. A single value
// is threaded by pointer through the poller, the lifecycle engine and the
// reconciler, then logged whole at the end of the cycle.
type CycleStats struct {
	Wallets           int
	Transactions      int
	Skipped           int
	Deposits          int
	Withdrawals       int
	InternalTransfers int
	Trades            int
	OffersOpened      int
	PartialFills      int
	OffersFilled      int
	OffersCanceled    int
	InferredFills     int
	Errors            int
	// LastLedger is the highest ledger index seen across the cycle.
	LastLedger uint32
	Duration   time.Duration
}

// Fields renders the counters as structured log fields.
func (s *CycleStats) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("wallets", s.Wallets),
		zap.Int("transactions", s.Transactions),
		zap.Int("skipped", s.Skipped),
		zap.Int("deposits", s.Deposits),
		zap.Int("withdrawals", s.Withdrawals),
		zap.Int("internal_transfers", s.InternalTransfers),
		zap.Int("trades", s.Trades),
		zap.Int("offers_opened", s.OffersOpened),
		zap.Int("partial_fills", s.PartialFills),
		zap.Int("offers_filled", s.OffersFilled),
		zap.Int("offers_canceled", s.OffersCanceled),
		zap.Int("inferred_fills", s.InferredFills),
		zap.Int("errors", s.Errors),
		zap.Uint32("last_ledger", s.LastLedger),
		zap.Duration("duration", s.Duration),
	}
}
