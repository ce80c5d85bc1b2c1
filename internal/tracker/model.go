package tracker

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/LeJamon/goXRPLtracker/internal/xrpl"
)

// Nature is the semantic category assigned to a transaction from the
// perspective of one user's wallet set.
type Nature string

const (
	NatureDeposit          Nature = "deposit"
	NatureWithdrawal       Nature = "withdrawal"
	NatureInternalTransfer Nature = "internal_transfer"
	NatureMarketTrade      Nature = "market_trade"
	NatureOfferOpen        Nature = "offer_open"
	NatureOfferFilled      Nature = "offer_filled"
	NatureOfferCancel      Nature = "offer_cancel"
	NatureOther            Nature = "other"
)

// OfferStatus is the lifecycle state of a tracked offer. Transitions are
// monotonic: OPEN -> PARTIALLY_FILLED -> FILLED, OPEN -> CANCELED, and the
// immediate (none) -> FILLED path. Terminal records never change again.
type OfferStatus string

const (
	StatusOpen            OfferStatus = "OPEN"
	StatusPartiallyFilled OfferStatus = "PARTIALLY_FILLED"
	StatusFilled          OfferStatus = "FILLED"
	StatusCanceled        OfferStatus = "CANCELED"
)

// ResolutionMethod records how a terminal status was established: direct
// means the causing transaction was observed, inferred means the offer
// disappeared from the live offer list with no covering transaction.
type ResolutionMethod string

const (
	ResolutionDirect   ResolutionMethod = "direct"
	ResolutionInferred ResolutionMethod = "inferred"
)

// Delta is one signed per-currency balance movement.
type Delta struct {
	Currency string
	Issuer   string
	Value    decimal.Decimal
}

// Asset returns the delta's asset as a zero amount, for constructing
// magnitudes in the same currency.
func (d Delta) Asset() xrpl.Amount {
	return xrpl.Amount{Currency: d.Currency, Issuer: d.Issuer}
}

// Amount returns the delta's magnitude as an Amount.
func (d Delta) Amount() xrpl.Amount {
	return xrpl.Amount{Currency: d.Currency, Issuer: d.Issuer, Value: d.Value.Abs()}
}

// BalanceChange aggregates one account's signed deltas across all nodes a
// transaction touched.
type BalanceChange struct {
	Account string
	Deltas  []Delta
}

// OfferNode is an offer ledger entry affected by a transaction. TakerGets
// and TakerPays reflect the node's current state (NewFields for created
// nodes, FinalFields otherwise); the Prev amounts are set when the node
// carried PreviousFields for that side.
type OfferNode struct {
	Kind          xrpl.NodeKind
	Account       string
	Sequence      uint32
	PreviousTxnID string
	TakerGets     *xrpl.Amount
	TakerPays     *xrpl.Amount
	PrevTakerGets *xrpl.Amount
	PrevTakerPays *xrpl.Amount
}

// Enriched is a raw transaction augmented with derived facts: the fee,
// per-account balance changes, affected offer nodes, and its nature.
type Enriched struct {
	Tx             *xrpl.Transaction
	FeeNative      decimal.Decimal
	BalanceChanges []BalanceChange
	OfferNodes     []OfferNode
	Nature         Nature

	// MetaMissing is set when metadata was absent or unexpanded; such a
	// transaction is always NatureOther.
	MetaMissing bool
}

// Trade is the maker side of one matched slice of an offer.
type Trade struct {
	Hash                 string
	LedgerIndex          uint32
	Timestamp            time.Time
	TakerAddress         string
	MakerAddress         string
	SoldAmount           xrpl.Amount
	BoughtAmount         xrpl.Amount
	RelatedOfferSequence uint32
	RelatedOfferHash     string
	UserID               string
	FeeNative            decimal.Decimal
}

// Offer is the lifecycle entity, keyed by the creating transaction hash.
type Offer struct {
	Hash               string
	Account            string
	Sequence           uint32
	UserID             string
	Status             OfferStatus
	CreatedLedgerIndex uint32

	// LastCheckedLedger is the most recent ledger at which the offer was
	// confirmed live, either by a touching transaction or by the
	// reconciler's account_offers snapshot.
	LastCheckedLedger uint32

	TakerGets  xrpl.Amount
	TakerPays  xrpl.Amount
	FilledGets *xrpl.Amount
	FilledPays *xrpl.Amount

	CreatedDate         time.Time
	ResolvedDate        *time.Time
	ResolvedLedgerIndex uint32
	CancelTxHash        string

	CreateFeeNative decimal.Decimal
	CancelFeeNative *decimal.Decimal

	ResolutionMethod ResolutionMethod
	Trades           []Trade
}

// Clone returns a deep copy. Stores hand out copies so callers can mutate
// freely before writing back.
func (o *Offer) Clone() *Offer {
	dup := *o
	if o.FilledGets != nil {
		v := *o.FilledGets
		dup.FilledGets = &v
	}
	if o.FilledPays != nil {
		v := *o.FilledPays
		dup.FilledPays = &v
	}
	if o.ResolvedDate != nil {
		v := *o.ResolvedDate
		dup.ResolvedDate = &v
	}
	if o.CancelFeeNative != nil {
		v := *o.CancelFeeNative
		dup.CancelFeeNative = &v
	}
	dup.Trades = append([]Trade(nil), o.Trades...)
	return &dup
}

// DepositWithdrawal is a value transfer record: deposit, withdrawal, or a
// transfer between two wallets of the same user. Immutable after insert.
type DepositWithdrawal struct {
	Hash        string
	LedgerIndex uint32
	Timestamp   time.Time
	FromAddress string
	ToAddress   string
	Amount      xrpl.Amount
	Type        Nature
	UserID      string
	FeeNative   decimal.Decimal
}

// TransactionRecord is the normalized raw-transaction row persisted for
// cursor derivation and audit.
type TransactionRecord struct {
	Hash            string
	UserID          string
	Account         string
	Destination     string
	TransactionType string
	Nature          Nature
	LedgerIndex     uint32
	SourceTag       *uint32
	FeeDrops        int64
	Date            time.Time
	Raw             []byte
}

// UserConfig binds a user id to the wallet addresses it owns.
type UserConfig struct {
	ID      string   `json:"id" mapstructure:"id"`
	Wallets []string `json:"wallets" mapstructure:"wallets"`
}

// WalletSet returns the user's addresses as a membership set.
func (u UserConfig) WalletSet() map[string]bool {
	set := make(map[string]bool, len(u.Wallets))
	for _, w := range u.Wallets {
		set[w] = true
	}
	return set
}
