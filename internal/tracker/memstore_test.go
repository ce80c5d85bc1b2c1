package tracker

import (
	"context"
	"fmt"
	"sort"
)

// memStore is an in-memory Store for tests. It hands out deep copies the
// same way the SQL store materializes fresh rows, so callers never alias
// stored state.
type memStore struct {
	users     []UserConfig
	txs       map[string]*TransactionRecord
	open      map[string]*Offer
	filled    map[string]*Offer
	canceled  map[string]*Offer
	transfers map[string]*DepositWithdrawal
	trades    map[string]*Trade
}

func newMemStore() *memStore {
	return &memStore{
		txs:       make(map[string]*TransactionRecord),
		open:      make(map[string]*Offer),
		filled:    make(map[string]*Offer),
		canceled:  make(map[string]*Offer),
		transfers: make(map[string]*DepositWithdrawal),
		trades:    make(map[string]*Trade),
	}
}

func (m *memStore) Users() UserRepository               { return &memUsers{m} }
func (m *memStore) Transactions() TransactionRepository { return &memTxs{m} }
func (m *memStore) Offers() OfferRepository             { return &memOffers{m} }
func (m *memStore) Transfers() TransferRepository       { return &memTransfers{m} }
func (m *memStore) Trades() TradeRepository             { return &memTrades{m} }
func (m *memStore) Close() error                        { return nil }

func (m *memStore) Transact(ctx context.Context, fn func(Store) error) error {
	return fn(m)
}

type memUsers struct{ s *memStore }

func (r *memUsers) GetUsers(ctx context.Context) ([]UserConfig, error) {
	return append([]UserConfig(nil), r.s.users...), nil
}

func (r *memUsers) PutUsers(ctx context.Context, users []UserConfig) error {
	r.s.users = append([]UserConfig(nil), users...)
	return nil
}

type memTxs struct{ s *memStore }

func (r *memTxs) Put(ctx context.Context, rec *TransactionRecord) error {
	cp := *rec
	r.s.txs[rec.Hash] = &cp
	return nil
}

func (r *memTxs) LatestLedgerIndex(ctx context.Context, userID, wallet string) (uint32, error) {
	var max uint32
	for _, rec := range r.s.txs {
		if rec.UserID != userID {
			continue
		}
		if rec.Account != wallet && rec.Destination != wallet {
			continue
		}
		if rec.LedgerIndex > max {
			max = rec.LedgerIndex
		}
	}
	return max, nil
}

type memOffers struct{ s *memStore }

func (r *memOffers) PutOpen(ctx context.Context, offer *Offer) error {
	r.s.open[offer.Hash] = offer.Clone()
	return nil
}

func (r *memOffers) DeleteOpen(ctx context.Context, hash string) error {
	delete(r.s.open, hash)
	return nil
}

func (r *memOffers) GetOpenBySequence(ctx context.Context, account string, sequence uint32) (*Offer, error) {
	for _, o := range r.s.open {
		if o.Account == account && o.Sequence == sequence {
			return o.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memOffers) ListOpen(ctx context.Context) ([]*Offer, error) {
	out := make([]*Offer, 0, len(r.s.open))
	for _, o := range r.s.open {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out, nil
}

func (r *memOffers) PutFilled(ctx context.Context, offer *Offer) error {
	r.s.filled[offer.Hash] = offer.Clone()
	return nil
}

func (r *memOffers) PutCanceled(ctx context.Context, offer *Offer) error {
	r.s.canceled[offer.Hash] = offer.Clone()
	return nil
}

func (r *memOffers) GetFilled(ctx context.Context, hash string) (*Offer, error) {
	if o, ok := r.s.filled[hash]; ok {
		return o.Clone(), nil
	}
	return nil, ErrNotFound
}

func (r *memOffers) GetCanceled(ctx context.Context, hash string) (*Offer, error) {
	if o, ok := r.s.canceled[hash]; ok {
		return o.Clone(), nil
	}
	return nil, ErrNotFound
}

type memTransfers struct{ s *memStore }

func (r *memTransfers) Put(ctx context.Context, rec *DepositWithdrawal) error {
	cp := *rec
	r.s.transfers[rec.Hash] = &cp
	return nil
}

type memTrades struct{ s *memStore }

func tradeKey(t *Trade) string {
	return fmt.Sprintf("%s|%s|%d", t.Hash, t.MakerAddress, t.RelatedOfferSequence)
}

func (r *memTrades) Put(ctx context.Context, trade *Trade) error {
	cp := *trade
	r.s.trades[tradeKey(trade)] = &cp
	return nil
}

func (r *memTrades) ListByOffer(ctx context.Context, relatedOfferHash string) ([]*Trade, error) {
	var out []*Trade
	for _, t := range r.s.trades {
		if t.RelatedOfferHash == relatedOfferHash {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return tradeKey(out[i]) < tradeKey(out[j]) })
	return out, nil
}
