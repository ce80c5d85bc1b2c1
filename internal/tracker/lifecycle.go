package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/LeJamon/goXRPLtracker/internal/xrpl"
)

// Engine applies classified transactions to the persisted book state. Every
// write is idempotent: records key on transaction hash, fills are computed
// as absolute diffs rather than increments, and replays of already-resolved
// offers are dropped.
type Engine struct {
	store Store
	log   *zap.Logger
}

func NewEngine(store Store, log *zap.Logger) *Engine {
	return &Engine{store: store, log: log.Named("lifecycle")}
}

// Apply routes one enriched transaction through the state machine for the
// given user.
func (e *Engine) Apply(ctx context.Context, enr *Enriched, user UserConfig, stats *CycleStats) error {
	switch enr.Nature {
	case NatureOfferOpen:
		if err := e.applyOfferOpen(ctx, enr, user, stats); err != nil {
			return err
		}
	case NatureOfferFilled:
		if err := e.applyOfferFilled(ctx, enr, user, stats); err != nil {
			return err
		}
	case NatureOfferCancel:
		return e.applyOfferCancel(ctx, enr, user, stats)
	case NatureDeposit, NatureWithdrawal, NatureInternalTransfer:
		if err := e.applyTransfer(ctx, enr, user, stats); err != nil {
			return err
		}
	}
	// Any successful transaction can consume resting offers owned by the
	// user, whatever its nature for us. Cancels are excluded: their node
	// deletion is the cancel itself, not a fill.
	if enr.succeeded() && enr.Nature != NatureOfferCancel {
		return e.syncOwnOffers(ctx, enr, user, stats)
	}
	return nil
}

// terminalExists reports whether the hash already resolved as filled or
// canceled, which makes any replay of its create a no-op.
func (e *Engine) terminalExists(ctx context.Context, hash string) (bool, error) {
	if _, err := e.store.Offers().GetFilled(ctx, hash); err == nil {
		return true, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if _, err := e.store.Offers().GetCanceled(ctx, hash); err == nil {
		return true, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	return false, nil
}

func (e *Engine) applyOfferOpen(ctx context.Context, enr *Enriched, user UserConfig, stats *CycleStats) error {
	tx := enr.Tx
	terminal, err := e.terminalExists(ctx, tx.Hash)
	if err != nil {
		return err
	}
	if terminal {
		e.log.Debug("offer already resolved, skipping replay", zap.String("hash", tx.Hash))
		return nil
	}
	existing, err := e.store.Offers().GetOpenBySequence(ctx, tx.Account, tx.Sequence)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if existing != nil && existing.Hash != tx.Hash {
		e.log.Warn("duplicate open offer for account sequence",
			zap.String("account", tx.Account),
			zap.Uint32("sequence", tx.Sequence),
			zap.String("hash", tx.Hash),
			zap.String("existing_hash", existing.Hash))
		return nil
	}
	gets, pays, err := offerAmounts(tx)
	if err != nil {
		e.log.Warn("offer create with unreadable amounts",
			zap.String("hash", tx.Hash), zap.Error(err))
		return nil
	}
	offer := &Offer{
		Hash:               tx.Hash,
		Account:            tx.Account,
		Sequence:           tx.Sequence,
		UserID:             user.ID,
		Status:             StatusOpen,
		CreatedLedgerIndex: tx.LedgerIndex,
		LastCheckedLedger:  tx.LedgerIndex,
		TakerGets:          gets,
		TakerPays:          pays,
		CreatedDate:        xrpl.RippleTimeToUTC(tx.Date),
		CreateFeeNative:    enr.FeeNative,
	}
	if err := e.store.Offers().PutOpen(ctx, offer); err != nil {
		return err
	}
	stats.OffersOpened++
	return nil
}

func (e *Engine) applyOfferFilled(ctx context.Context, enr *Enriched, user UserConfig, stats *CycleStats) error {
	tx := enr.Tx
	terminal, err := e.terminalExists(ctx, tx.Hash)
	if err != nil {
		return err
	}
	if terminal {
		e.log.Debug("offer already resolved, skipping replay", zap.String("hash", tx.Hash))
		return nil
	}
	gets, pays, err := offerAmounts(tx)
	if err != nil {
		e.log.Warn("offer create with unreadable amounts",
			zap.String("hash", tx.Hash), zap.Error(err))
		return nil
	}
	filledGets, filledPays := e.immediateFill(enr, gets, pays)
	trades := ExtractTrades(enr)
	if len(trades) == 0 {
		// No counterparty could be read off the metadata; record the
		// user's own side so the fill still carries a trade.
		own := newTrade(enr, tx.Account)
		own.SoldAmount = filledGets
		own.BoughtAmount = filledPays
		own.RelatedOfferSequence = tx.Sequence
		own.RelatedOfferHash = tx.Hash
		trades = []Trade{own}
	}
	for i := range trades {
		trades[i].UserID = user.ID
	}
	resolved := xrpl.RippleTimeToUTC(tx.Date)
	offer := &Offer{
		Hash:                tx.Hash,
		Account:             tx.Account,
		Sequence:            tx.Sequence,
		UserID:              user.ID,
		Status:              StatusFilled,
		CreatedLedgerIndex:  tx.LedgerIndex,
		LastCheckedLedger:   tx.LedgerIndex,
		TakerGets:           gets,
		TakerPays:           pays,
		FilledGets:          &filledGets,
		FilledPays:          &filledPays,
		CreatedDate:         resolved,
		ResolvedDate:        &resolved,
		ResolvedLedgerIndex: tx.LedgerIndex,
		CreateFeeNative:     enr.FeeNative,
		ResolutionMethod:    ResolutionDirect,
		Trades:              trades,
	}
	err = e.store.Transact(ctx, func(s Store) error {
		if err := s.Offers().PutFilled(ctx, offer); err != nil {
			return err
		}
		for i := range trades {
			if err := s.Trades().Put(ctx, &trades[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	stats.OffersFilled++
	stats.Trades += len(trades)
	return nil
}

// immediateFill derives the filled magnitudes of an offer that crossed the
// book on submission from the account's own balance changes. The fee is
// folded out of the native side before taking magnitudes.
func (e *Engine) immediateFill(enr *Enriched, gets, pays xrpl.Amount) (xrpl.Amount, xrpl.Amount) {
	filledGets := gets.Zero()
	filledPays := pays.Zero()
	for _, d := range enr.changesFor(enr.Tx.Account) {
		adj := d.Value
		if d.Currency == xrpl.NativeCurrency {
			adj = adj.Add(enr.FeeNative)
		}
		switch {
		case adj.IsNegative():
			filledGets = xrpl.Amount{Currency: d.Currency, Issuer: d.Issuer, Value: adj.Neg()}
		case adj.IsPositive():
			filledPays = xrpl.Amount{Currency: d.Currency, Issuer: d.Issuer, Value: adj}
		}
	}
	return filledGets, filledPays
}

func (e *Engine) applyOfferCancel(ctx context.Context, enr *Enriched, user UserConfig, stats *CycleStats) error {
	tx := enr.Tx
	if tx.OfferSequence == 0 {
		e.log.Warn("offer cancel without target sequence", zap.String("hash", tx.Hash))
		return nil
	}
	open, err := e.store.Offers().GetOpenBySequence(ctx, tx.Account, tx.OfferSequence)
	if errors.Is(err, ErrNotFound) {
		e.log.Warn("cancel for unknown offer",
			zap.String("account", tx.Account),
			zap.Uint32("offer_sequence", tx.OfferSequence),
			zap.String("hash", tx.Hash))
		return nil
	}
	if err != nil {
		return err
	}
	if tx.LedgerIndex < open.CreatedLedgerIndex {
		return fmt.Errorf("%w: cancel at ledger %d precedes creation at %d for offer %s",
			ErrInvariant, tx.LedgerIndex, open.CreatedLedgerIndex, open.Hash)
	}
	offer := open.Clone()
	resolved := xrpl.RippleTimeToUTC(tx.Date)
	fee := enr.FeeNative
	offer.CancelTxHash = tx.Hash
	offer.CancelFeeNative = &fee
	offer.ResolvedDate = &resolved
	offer.ResolvedLedgerIndex = tx.LedgerIndex
	offer.LastCheckedLedger = tx.LedgerIndex
	offer.ResolutionMethod = ResolutionDirect

	switch open.Status {
	case StatusOpen:
		offer.Status = StatusCanceled
		err = e.store.Transact(ctx, func(s Store) error {
			if err := s.Offers().PutCanceled(ctx, offer); err != nil {
				return err
			}
			return s.Offers().DeleteOpen(ctx, offer.Hash)
		})
		if err != nil {
			return err
		}
		stats.OffersCanceled++
	case StatusPartiallyFilled:
		// Canceling a partially filled offer closes out the remainder;
		// the record resolves as filled with the fills it accumulated.
		offer.Status = StatusFilled
		err = e.store.Transact(ctx, func(s Store) error {
			if err := s.Offers().PutFilled(ctx, offer); err != nil {
				return err
			}
			return s.Offers().DeleteOpen(ctx, offer.Hash)
		})
		if err != nil {
			return err
		}
		stats.OffersFilled++
	default:
		return fmt.Errorf("%w: open store returned status %s for offer %s",
			ErrInvariant, open.Status, open.Hash)
	}
	return nil
}

// syncOwnOffers applies consumption of the user's resting offers by this
// transaction, whoever submitted it.
func (e *Engine) syncOwnOffers(ctx context.Context, enr *Enriched, user UserConfig, stats *CycleStats) error {
	if len(enr.OfferNodes) == 0 {
		return nil
	}
	wallets := user.WalletSet()
	var trades []Trade
	extracted := false
	for i := range enr.OfferNodes {
		node := &enr.OfferNodes[i]
		if node.Kind == xrpl.NodeCreated || !wallets[node.Account] {
			continue
		}
		if node.Account == enr.Tx.Account && node.Sequence == enr.Tx.Sequence {
			// The submitting transaction's own node, already handled by
			// the open/filled paths.
			continue
		}
		open, err := e.store.Offers().GetOpenBySequence(ctx, node.Account, node.Sequence)
		if errors.Is(err, ErrNotFound) {
			e.log.Debug("consumed offer not tracked",
				zap.String("account", node.Account),
				zap.Uint32("sequence", node.Sequence))
			continue
		}
		if err != nil {
			return err
		}
		if !extracted {
			trades = ExtractTrades(enr)
			extracted = true
		}
		if err := e.applyConsumption(ctx, enr, open.Clone(), node, trades, stats); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyConsumption(ctx context.Context, enr *Enriched, offer *Offer, node *OfferNode, trades []Trade, stats *CycleStats) error {
	tx := enr.Tx
	filledGets, err := remainderFill(offer.TakerGets, node.TakerGets)
	if err != nil {
		return fmt.Errorf("%w: offer %s gets: %v", ErrInvariant, offer.Hash, err)
	}
	filledPays, err := remainderFill(offer.TakerPays, node.TakerPays)
	if err != nil {
		return fmt.Errorf("%w: offer %s pays: %v", ErrInvariant, offer.Hash, err)
	}
	offer.FilledGets = &filledGets
	offer.FilledPays = &filledPays
	offer.LastCheckedLedger = tx.LedgerIndex

	var put *Trade
	if tr := tradeFor(trades, offer.Account, offer.Sequence); tr != nil && !hasTrade(offer.Trades, tr) {
		t := *tr
		t.UserID = offer.UserID
		offer.Trades = append(offer.Trades, t)
		put = &t
	}

	if node.Kind == xrpl.NodeDeleted {
		if tx.LedgerIndex < offer.CreatedLedgerIndex {
			return fmt.Errorf("%w: fill at ledger %d precedes creation at %d for offer %s",
				ErrInvariant, tx.LedgerIndex, offer.CreatedLedgerIndex, offer.Hash)
		}
		resolved := xrpl.RippleTimeToUTC(tx.Date)
		offer.Status = StatusFilled
		offer.ResolvedDate = &resolved
		offer.ResolvedLedgerIndex = tx.LedgerIndex
		offer.ResolutionMethod = ResolutionDirect
		err := e.store.Transact(ctx, func(s Store) error {
			if err := s.Offers().PutFilled(ctx, offer); err != nil {
				return err
			}
			if err := s.Offers().DeleteOpen(ctx, offer.Hash); err != nil {
				return err
			}
			if put != nil {
				return s.Trades().Put(ctx, put)
			}
			return nil
		})
		if err != nil {
			return err
		}
		stats.OffersFilled++
		if put != nil {
			stats.Trades++
		}
		return nil
	}

	offer.Status = StatusPartiallyFilled
	err = e.store.Transact(ctx, func(s Store) error {
		if err := s.Offers().PutOpen(ctx, offer); err != nil {
			return err
		}
		if put != nil {
			return s.Trades().Put(ctx, put)
		}
		return nil
	})
	if err != nil {
		return err
	}
	stats.PartialFills++
	if put != nil {
		stats.Trades++
	}
	return nil
}

// remainderFill computes original minus remaining. Fills derived this way
// are absolute, so replaying the same transaction lands on the same values.
func remainderFill(original xrpl.Amount, remaining *xrpl.Amount) (xrpl.Amount, error) {
	rem := original.Zero()
	if remaining != nil {
		rem = *remaining
	}
	filled, err := original.Sub(rem)
	if err != nil {
		return xrpl.Amount{}, err
	}
	if filled.Value.IsNegative() {
		return xrpl.Amount{}, fmt.Errorf("remaining %s exceeds original %s", rem, original)
	}
	return filled, nil
}

func tradeFor(trades []Trade, maker string, sequence uint32) *Trade {
	for i := range trades {
		if trades[i].MakerAddress != maker {
			continue
		}
		if trades[i].RelatedOfferSequence == sequence || trades[i].RelatedOfferSequence == 0 {
			return &trades[i]
		}
	}
	return nil
}

func hasTrade(trades []Trade, tr *Trade) bool {
	for i := range trades {
		if trades[i].Hash == tr.Hash &&
			trades[i].MakerAddress == tr.MakerAddress &&
			trades[i].RelatedOfferSequence == tr.RelatedOfferSequence {
			return true
		}
	}
	return false
}

func (e *Engine) applyTransfer(ctx context.Context, enr *Enriched, user UserConfig, stats *CycleStats) error {
	tx := enr.Tx
	target := tx.Account
	fee := enr.FeeNative
	if enr.Nature == NatureDeposit {
		// The sender paid the fee, not us.
		target = tx.Destination
		fee = decimal.Zero
	}
	amount, ok := transferAmount(enr, target)
	if !ok {
		e.log.Warn("transfer with no usable balance change",
			zap.String("hash", tx.Hash),
			zap.String("nature", string(enr.Nature)))
		return nil
	}
	rec := &DepositWithdrawal{
		Hash:        tx.Hash,
		LedgerIndex: tx.LedgerIndex,
		Timestamp:   xrpl.RippleTimeToUTC(tx.Date),
		FromAddress: tx.Account,
		ToAddress:   tx.Destination,
		Amount:      amount,
		Type:        enr.Nature,
		UserID:      user.ID,
		FeeNative:   fee,
	}
	if err := e.store.Transfers().Put(ctx, rec); err != nil {
		return err
	}
	switch enr.Nature {
	case NatureDeposit:
		stats.Deposits++
	case NatureWithdrawal:
		stats.Withdrawals++
	default:
		stats.InternalTransfers++
	}
	return nil
}

// transferAmount picks the moved value off the target account's balance
// changes. When the target also paid the fee the native magnitude excludes
// it, so a withdrawal of 25 XRP with a 12-drop fee records as 25.
func transferAmount(enr *Enriched, target string) (xrpl.Amount, bool) {
	for _, d := range enr.nonFeeChanges(target) {
		v := d.Value
		if d.Currency == xrpl.NativeCurrency && target == enr.Tx.Account {
			v = v.Add(enr.FeeNative)
		}
		return xrpl.Amount{Currency: d.Currency, Issuer: d.Issuer, Value: v.Abs()}, true
	}
	return xrpl.Amount{}, false
}

func offerAmounts(tx *xrpl.Transaction) (gets, pays xrpl.Amount, err error) {
	gets, err = xrpl.ParseAmount(tx.TakerGets)
	if err != nil {
		return gets, pays, fmt.Errorf("taker gets: %w", err)
	}
	pays, err = xrpl.ParseAmount(tx.TakerPays)
	if err != nil {
		return gets, pays, fmt.Errorf("taker pays: %w", err)
	}
	return gets, pays, nil
}
