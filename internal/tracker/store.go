package tracker

import (
	"context"
	"errors"
)

// ErrNotFound is returned by store lookups that matched nothing.
var ErrNotFound = errors.New("tracker: not found")

// ErrInvariant wraps violations of lifecycle invariants detected in code.
// These indicate bugs, not data conditions; callers terminate on them.
var ErrInvariant = errors.New("tracker: invariant violation")

// Store is the persistence contract the engine, poller, and reconciler
// write through. Implementations provide their own serialization; the
// tracker itself is single-threaded.
type Store interface {
	Users() UserRepository
	Transactions() TransactionRepository
	Offers() OfferRepository
	Transfers() TransferRepository
	Trades() TradeRepository

	// Transact runs fn against a store view whose writes commit atomically.
	Transact(ctx context.Context, fn func(Store) error) error

	Close() error
}

// UserRepository reads and writes the user -> wallets configuration.
type UserRepository interface {
	GetUsers(ctx context.Context) ([]UserConfig, error)
	PutUsers(ctx context.Context, users []UserConfig) error
}

// TransactionRepository stores normalized raw transactions, upserted by
// hash so replays are no-ops.
type TransactionRepository interface {
	Put(ctx context.Context, rec *TransactionRecord) error

	// LatestLedgerIndex returns the max ledger index over stored
	// transactions where the wallet is source or destination, or 0 when
	// none exist.
	LatestLedgerIndex(ctx context.Context, userID, wallet string) (uint32, error)
}

// OfferRepository keeps live offers (OPEN, PARTIALLY_FILLED) separate from
// the terminal stores. PutOpen upserts by hash; terminal puts are
// append-only upserts and never resurrect a live row.
type OfferRepository interface {
	PutOpen(ctx context.Context, offer *Offer) error
	DeleteOpen(ctx context.Context, hash string) error
	GetOpenBySequence(ctx context.Context, account string, sequence uint32) (*Offer, error)
	ListOpen(ctx context.Context) ([]*Offer, error)

	PutFilled(ctx context.Context, offer *Offer) error
	PutCanceled(ctx context.Context, offer *Offer) error
	GetFilled(ctx context.Context, hash string) (*Offer, error)
	GetCanceled(ctx context.Context, hash string) (*Offer, error)
}

// TransferRepository stores deposit/withdrawal/internal-transfer records,
// upserted by hash.
type TransferRepository interface {
	Put(ctx context.Context, rec *DepositWithdrawal) error
}

// TradeRepository stores maker-side trade slices.
type TradeRepository interface {
	Put(ctx context.Context, trade *Trade) error
	ListByOffer(ctx context.Context, relatedOfferHash string) ([]*Trade, error)
}
