package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LeJamon/goXRPLtracker/internal/xrpl"
)

func restingOffer(hash, account string, seq, lastChecked uint32) *Offer {
	return &Offer{
		Hash:               hash,
		Account:            account,
		Sequence:           seq,
		UserID:             "david",
		Status:             StatusOpen,
		CreatedLedgerIndex: 900,
		LastCheckedLedger:  lastChecked,
		TakerGets:          xrpl.Amount{Currency: xrpl.NativeCurrency, Value: decimal.RequireFromString("1000")},
		TakerPays:          xrpl.Amount{Currency: "USD", Issuer: addrIssuer, Value: decimal.RequireFromString("500")},
		CreatedDate:        time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		CreateFeeNative:    decimal.New(10, -6),
	}
}

func newTestReconciler(ledger *fakeLedger, store Store, archive Archiver) *Reconciler {
	r := NewReconciler(ledger, store, archive, zap.NewNop())
	r.now = func() time.Time { return time.Date(2024, 6, 25, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestReconcilerInfersFill(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	require.NoError(t, store.Offers().PutOpen(ctx, restingOffer(hashOpen, addrA, 100, 1000)))

	ledger := &fakeLedger{
		accountOffers: func(req *xrpl.AccountOffersRequest) (*xrpl.AccountOffersResponse, error) {
			return &xrpl.AccountOffersResponse{Account: req.Account, LedgerCurrentIndex: 2000}, nil
		},
	}
	stats := &CycleStats{}
	require.NoError(t, newTestReconciler(ledger, store, nil).Run(ctx, stats))

	offer, err := store.Offers().GetFilled(ctx, hashOpen)
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, offer.Status)
	assert.Equal(t, ResolutionInferred, offer.ResolutionMethod)
	require.NotNil(t, offer.FilledGets)
	assert.True(t, offer.FilledGets.Equal(offer.TakerGets), "the whole original counts as filled")
	assert.True(t, offer.FilledPays.Equal(offer.TakerPays))
	assert.Equal(t, uint32(1000), offer.ResolvedLedgerIndex,
		"resolution points at the last ledger the offer was known alive")
	require.NotNil(t, offer.ResolvedDate)

	assert.Empty(t, store.open)
	assert.Equal(t, 1, stats.InferredFills)
}

func TestReconcilerRefreshesLiveOffers(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	require.NoError(t, store.Offers().PutOpen(ctx, restingOffer(hashOpen, addrA, 100, 1000)))

	ledger := &fakeLedger{
		accountOffers: func(req *xrpl.AccountOffersRequest) (*xrpl.AccountOffersResponse, error) {
			return &xrpl.AccountOffersResponse{
				Account:            req.Account,
				Offers:             []xrpl.AccountOffer{{Seq: 100, Flags: 0}},
				LedgerCurrentIndex: 2000,
			}, nil
		},
	}
	stats := &CycleStats{}
	require.NoError(t, newTestReconciler(ledger, store, nil).Run(ctx, stats))

	offer, err := store.Offers().GetOpenBySequence(ctx, addrA, 100)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, offer.Status)
	assert.Equal(t, uint32(2000), offer.LastCheckedLedger)
	assert.Empty(t, store.filled)
	assert.Zero(t, stats.InferredFills)
}

func TestReconcilerFollowsOfferMarkers(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	require.NoError(t, store.Offers().PutOpen(ctx, restingOffer(hashOpen, addrA, 100, 1000)))
	require.NoError(t, store.Offers().PutOpen(ctx, restingOffer(hashMaker, addrA, 101, 1000)))
	require.NoError(t, store.Offers().PutOpen(ctx, restingOffer(hashFill, addrA, 102, 1000)))

	marker := json.RawMessage(`"page2"`)
	ledger := &fakeLedger{
		accountOffers: func(req *xrpl.AccountOffersRequest) (*xrpl.AccountOffersResponse, error) {
			if req.Marker == nil {
				return &xrpl.AccountOffersResponse{
					Account:            req.Account,
					Offers:             []xrpl.AccountOffer{{Seq: 100}},
					LedgerCurrentIndex: 2000,
					Marker:             marker,
				}, nil
			}
			return &xrpl.AccountOffersResponse{
				Account:            req.Account,
				Offers:             []xrpl.AccountOffer{{Seq: 101}},
				LedgerCurrentIndex: 2000,
			}, nil
		},
	}
	stats := &CycleStats{}
	require.NoError(t, newTestReconciler(ledger, store, nil).Run(ctx, stats))

	assert.Equal(t, 2, ledger.accountOffersCalls)
	for _, seq := range []uint32{100, 101} {
		offer, err := store.Offers().GetOpenBySequence(ctx, addrA, seq)
		require.NoError(t, err, "offers on later pages count as live")
		assert.Equal(t, uint32(2000), offer.LastCheckedLedger)
	}
	_, err := store.Offers().GetFilled(ctx, hashFill)
	assert.NoError(t, err, "only the offer on no page resolves")
	assert.Equal(t, 1, stats.InferredFills)
}

func TestReconcilerNeverTouchesTerminalRows(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	// A corrupt open-store row that already carries a terminal status must
	// not transition again.
	stray := restingOffer(hashOpen, addrA, 100, 1000)
	stray.Status = StatusFilled
	store.open[stray.Hash] = stray

	ledger := &fakeLedger{
		accountOffers: func(req *xrpl.AccountOffersRequest) (*xrpl.AccountOffersResponse, error) {
			return &xrpl.AccountOffersResponse{Account: req.Account, LedgerCurrentIndex: 2000}, nil
		},
	}
	stats := &CycleStats{}
	require.NoError(t, newTestReconciler(ledger, store, nil).Run(ctx, stats))

	assert.Empty(t, store.filled)
	assert.Equal(t, uint32(1000), store.open[stray.Hash].LastCheckedLedger)
	assert.Zero(t, stats.InferredFills)
}

func TestReconcilerSkipsFailingAccount(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	require.NoError(t, store.Offers().PutOpen(ctx, restingOffer(hashOpen, addrA, 100, 1000)))
	require.NoError(t, store.Offers().PutOpen(ctx, restingOffer(hashMaker, addrB, 55, 1100)))

	ledger := &fakeLedger{
		accountOffers: func(req *xrpl.AccountOffersRequest) (*xrpl.AccountOffersResponse, error) {
			if req.Account == addrA {
				return nil, errors.New("server busy")
			}
			return &xrpl.AccountOffersResponse{Account: req.Account, LedgerCurrentIndex: 2000}, nil
		},
	}
	stats := &CycleStats{}
	require.NoError(t, newTestReconciler(ledger, store, nil).Run(ctx, stats))

	_, err := store.Offers().GetOpenBySequence(ctx, addrA, 100)
	assert.NoError(t, err, "the failing account's offers are untouched")
	_, err = store.Offers().GetFilled(ctx, hashMaker)
	assert.NoError(t, err, "the reachable account still reconciles")
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.InferredFills)
}

func TestReconcilerAuditsRawPayload(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	require.NoError(t, store.Offers().PutOpen(ctx, restingOffer(hashOpen, addrA, 100, 1000)))

	archive := newFakeArchive()
	raw := []byte(`{"tx":{"TransactionType":"OfferCreate"},"validated":true}`)
	ledger := &fakeLedger{
		accountOffers: func(req *xrpl.AccountOffersRequest) (*xrpl.AccountOffersResponse, error) {
			return &xrpl.AccountOffersResponse{Account: req.Account, LedgerCurrentIndex: 2000}, nil
		},
		tx: func(hash string) (*xrpl.Transaction, error) {
			return &xrpl.Transaction{Hash: hash, LedgerIndex: 900, Raw: raw}, nil
		},
	}
	require.NoError(t, newTestReconciler(ledger, store, archive).Run(ctx, &CycleStats{}))

	assert.Equal(t, 1, ledger.txCalls, "the creating transaction is fetched once")
	assert.Equal(t, raw, archive.entries[hashOpen])
	assert.Equal(t, "david", archive.users[hashOpen])

	// Already archived: no further fetch on the next inference.
	require.NoError(t, store.Offers().PutOpen(ctx, restingOffer(hashOpen, addrA, 100, 1000)))
	require.NoError(t, newTestReconciler(ledger, store, archive).Run(ctx, &CycleStats{}))
	assert.Equal(t, 1, ledger.txCalls)
}
