package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/LeJamon/goXRPLtracker/internal/xrpl"
)

// Reconciler diffs persisted open offers against the live book. An offer
// that vanished without a covering transaction resolves as an inferred fill:
// the ledger keeps no record of why an entry disappeared, so the full
// original amounts are the conservative answer.
//
// It only ever reads OPEN and PARTIALLY_FILLED rows; terminal rows never
// move again.
type Reconciler struct {
	client  LedgerClient
	store   Store
	archive Archiver
	log     *zap.Logger

	now func() time.Time
}

func NewReconciler(client LedgerClient, store Store, archive Archiver, log *zap.Logger) *Reconciler {
	return &Reconciler{
		client:  client,
		store:   store,
		archive: archive,
		log:     log.Named("reconciler"),
		now:     time.Now,
	}
}

// Run reconciles every tracked account once. Per-account failures are
// logged and skipped so one unreachable account cannot stall the rest.
func (r *Reconciler) Run(ctx context.Context, stats *CycleStats) error {
	open, err := r.store.Offers().ListOpen(ctx)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return nil
	}
	byAccount := make(map[string][]*Offer)
	for _, o := range open {
		byAccount[o.Account] = append(byAccount[o.Account], o)
	}
	accounts := make([]string, 0, len(byAccount))
	for account := range byAccount {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.reconcileAccount(ctx, account, byAccount[account], stats); err != nil {
			r.log.Error("account reconciliation failed",
				zap.String("account", account), zap.Error(err))
			stats.Errors++
		}
	}
	return nil
}

func (r *Reconciler) reconcileAccount(ctx context.Context, account string, offers []*Offer, stats *CycleStats) error {
	live, checked, err := r.liveSequences(ctx, account)
	if err != nil {
		return err
	}

	for _, o := range offers {
		if o.Status != StatusOpen && o.Status != StatusPartiallyFilled {
			continue
		}
		if live[o.Sequence] {
			upd := o.Clone()
			upd.LastCheckedLedger = checked
			if err := r.store.Offers().PutOpen(ctx, upd); err != nil {
				return err
			}
			continue
		}
		if err := r.inferFill(ctx, o.Clone(), stats); err != nil {
			return err
		}
	}
	return nil
}

// liveSequences collects the account's full current offer set, following
// pagination markers until the book is exhausted.
func (r *Reconciler) liveSequences(ctx context.Context, account string) (map[uint32]bool, uint32, error) {
	live := make(map[uint32]bool)
	var checked uint32
	req := &xrpl.AccountOffersRequest{Account: account}
	var prevMarker json.RawMessage
	for {
		resp, err := r.client.AccountOffers(ctx, req)
		if err != nil {
			return nil, 0, err
		}
		for _, o := range resp.Offers {
			live[o.Seq] = true
		}
		if idx := resp.EffectiveLedgerIndex(); idx != 0 {
			checked = idx
		}
		if len(resp.Marker) == 0 {
			return live, checked, nil
		}
		if prevMarker != nil && bytes.Equal(prevMarker, resp.Marker) {
			r.log.Warn("account_offers marker did not advance, stopping",
				zap.String("account", account))
			return live, checked, nil
		}
		prevMarker = resp.Marker
		req.Marker = resp.Marker
	}
}

// inferFill resolves an offer that left the book between cycles. The
// resolved ledger index is the last one at which the offer was known to
// rest, not the index of this check.
func (r *Reconciler) inferFill(ctx context.Context, offer *Offer, stats *CycleStats) error {
	r.auditRaw(ctx, offer)
	resolved := r.now().UTC()
	gets := offer.TakerGets
	pays := offer.TakerPays
	offer.Status = StatusFilled
	offer.FilledGets = &gets
	offer.FilledPays = &pays
	offer.ResolvedDate = &resolved
	offer.ResolvedLedgerIndex = offer.LastCheckedLedger
	offer.ResolutionMethod = ResolutionInferred
	err := r.store.Transact(ctx, func(s Store) error {
		if err := s.Offers().PutFilled(ctx, offer); err != nil {
			return err
		}
		return s.Offers().DeleteOpen(ctx, offer.Hash)
	})
	if err != nil {
		return err
	}
	stats.InferredFills++
	r.log.Info("offer resolved by inference",
		zap.String("hash", offer.Hash),
		zap.String("account", offer.Account),
		zap.Uint32("sequence", offer.Sequence),
		zap.Uint32("last_checked_ledger", offer.LastCheckedLedger))
	return nil
}

// auditRaw makes sure the creating transaction's raw payload is retained
// before the offer leaves the open set, fetching it from the ledger when
// the poll path never archived it.
func (r *Reconciler) auditRaw(ctx context.Context, offer *Offer) {
	if r.archive == nil {
		return
	}
	if ok, err := r.archive.Has(ctx, offer.Hash); err != nil || ok {
		return
	}
	tx, err := r.client.Tx(ctx, offer.Hash)
	if err != nil {
		r.log.Debug("creating transaction unavailable for audit",
			zap.String("hash", offer.Hash), zap.Error(err))
		return
	}
	if len(tx.Raw) == 0 {
		return
	}
	if err := r.archive.Archive(ctx, offer.Hash, offer.UserID, tx.LedgerIndex, tx.Raw); err != nil {
		r.log.Warn("archive write failed", zap.String("hash", offer.Hash), zap.Error(err))
	}
}
