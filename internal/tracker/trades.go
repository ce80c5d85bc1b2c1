package tracker

import (
	"sort"

	"github.com/LeJamon/goXRPLtracker/internal/xrpl"
)

// ExtractTrades emits one maker-side trade per counterparty whose balances
// moved against the submitter. The balance-change path is authoritative;
// the offer-node diff path only runs when it produced nothing, so a
// transaction never yields trades from both.
func ExtractTrades(enr *Enriched) []Trade {
	trades := tradesFromBalanceChanges(enr)
	if len(trades) == 0 {
		trades = tradesFromOfferNodes(enr)
	}
	sort.Slice(trades, func(i, j int) bool {
		if trades[i].MakerAddress != trades[j].MakerAddress {
			return trades[i].MakerAddress < trades[j].MakerAddress
		}
		return trades[i].RelatedOfferSequence < trades[j].RelatedOfferSequence
	})
	return trades
}

func tradesFromBalanceChanges(enr *Enriched) []Trade {
	taker := enr.Tx.Account
	var out []Trade
	for _, bc := range enr.BalanceChanges {
		if bc.Account == taker {
			continue
		}
		sold, bought, ok := makerPair(enr, bc)
		if !ok {
			continue
		}
		tr := newTrade(enr, bc.Account)
		tr.SoldAmount = sold
		tr.BoughtAmount = bought
		if node := enr.offerNodeFor(bc.Account); node != nil {
			tr.RelatedOfferSequence = node.Sequence
			tr.RelatedOfferHash = node.PreviousTxnID
		}
		out = append(out, tr)
	}
	return out
}

// makerPair reads one sold/bought pair off an account's balance changes:
// exactly one negative and one positive delta once fee-only native noise is
// dropped. Anything else is not a clean two-sided fill.
func makerPair(enr *Enriched, bc BalanceChange) (sold, bought xrpl.Amount, ok bool) {
	var neg, pos []Delta
	for _, d := range bc.Deltas {
		if enr.feeOnly(bc.Account, d) {
			continue
		}
		switch {
		case d.Value.IsNegative():
			neg = append(neg, d)
		case d.Value.IsPositive():
			pos = append(pos, d)
		}
	}
	if len(neg) != 1 || len(pos) != 1 {
		return sold, bought, false
	}
	// A same-currency pair is rippling through the account (an issuer's
	// books rebalancing across trust lines), not an exchange.
	if neg[0].Currency == pos[0].Currency {
		return sold, bought, false
	}
	sold = neg[0].Amount()
	sold.Value = sold.Value.Abs()
	return sold, pos[0].Amount(), true
}

func tradesFromOfferNodes(enr *Enriched) []Trade {
	var out []Trade
	for i := range enr.OfferNodes {
		n := &enr.OfferNodes[i]
		if n.Kind == xrpl.NodeCreated {
			continue
		}
		sold := consumedSide(n.Kind, n.PrevTakerGets, n.TakerGets)
		bought := consumedSide(n.Kind, n.PrevTakerPays, n.TakerPays)
		if sold.IsZero() && bought.IsZero() {
			continue
		}
		tr := newTrade(enr, n.Account)
		tr.SoldAmount = sold
		tr.BoughtAmount = bought
		tr.RelatedOfferSequence = n.Sequence
		tr.RelatedOfferHash = n.PreviousTxnID
		out = append(out, tr)
	}
	return out
}

// consumedSide derives how much of one offer side a node diff consumed.
// When PreviousFields carried the side the consumed slice is previous minus
// final. Without a previous value a deleted node was consumed down to its
// final remainder, while a modified node did not change that side at all.
func consumedSide(kind xrpl.NodeKind, prev, final *xrpl.Amount) xrpl.Amount {
	switch {
	case prev != nil && final != nil:
		d, err := prev.Sub(*final)
		if err != nil || d.Value.IsNegative() {
			return prev.Zero()
		}
		return d
	case prev != nil:
		return *prev
	case kind == xrpl.NodeDeleted && final != nil:
		return *final
	case final != nil:
		return final.Zero()
	default:
		return xrpl.Amount{}
	}
}

func newTrade(enr *Enriched, maker string) Trade {
	tx := enr.Tx
	return Trade{
		Hash:         tx.Hash,
		LedgerIndex:  tx.LedgerIndex,
		Timestamp:    xrpl.RippleTimeToUTC(tx.Date),
		TakerAddress: tx.Account,
		MakerAddress: maker,
		FeeNative:    enr.FeeNative,
	}
}
