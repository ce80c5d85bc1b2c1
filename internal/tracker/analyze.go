package tracker

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/LeJamon/goXRPLtracker/internal/xrpl"
)

// nativeTolerance is the comparison slack for native amounts: a delta and
// the fee cancel when they agree within one millionth of a whole unit.
var nativeTolerance = decimal.New(1, -6)

var nativeKey = assetKey{currency: xrpl.NativeCurrency}

// Analyze derives the fee, per-account balance changes, and affected offer
// nodes from a transaction's metadata. Absent or unexpanded metadata yields
// empty outputs and NatureOther; it is never an error.
func Analyze(tx *xrpl.Transaction) *Enriched {
	enr := &Enriched{Tx: tx, Nature: NatureOther}
	if fee, err := xrpl.ParseDrops(tx.Fee); err == nil {
		enr.FeeNative = fee
	}
	if tx.Meta == nil {
		enr.MetaMissing = true
		return enr
	}
	acc := newDeltaAccumulator()
	for i := range tx.Meta.AffectedNodes {
		node := &tx.Meta.AffectedNodes[i]
		switch node.LedgerEntryType {
		case "AccountRoot":
			accountRootDelta(acc, node)
		case "RippleState":
			rippleStateDeltas(acc, node)
		case "Offer":
			if on, ok := offerNodeOf(node); ok {
				enr.OfferNodes = append(enr.OfferNodes, on)
			}
		}
	}
	enr.BalanceChanges = acc.flatten()
	return enr
}

type assetKey struct {
	currency string
	issuer   string
}

type deltaAccumulator struct {
	changes map[string]map[assetKey]decimal.Decimal
}

func newDeltaAccumulator() *deltaAccumulator {
	return &deltaAccumulator{changes: make(map[string]map[assetKey]decimal.Decimal)}
}

func (a *deltaAccumulator) add(account string, key assetKey, delta decimal.Decimal) {
	if account == "" || delta.IsZero() {
		return
	}
	byAsset, ok := a.changes[account]
	if !ok {
		byAsset = make(map[assetKey]decimal.Decimal)
		a.changes[account] = byAsset
	}
	byAsset[key] = byAsset[key].Add(delta)
}

// flatten produces a deterministic ordering: accounts ascending, deltas by
// (currency, issuer). Deltas that net to zero are dropped.
func (a *deltaAccumulator) flatten() []BalanceChange {
	accounts := make([]string, 0, len(a.changes))
	for account := range a.changes {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	out := make([]BalanceChange, 0, len(accounts))
	for _, account := range accounts {
		byAsset := a.changes[account]
		keys := make([]assetKey, 0, len(byAsset))
		for key, v := range byAsset {
			if v.IsZero() {
				continue
			}
			keys = append(keys, key)
		}
		if len(keys) == 0 {
			continue
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].currency != keys[j].currency {
				return keys[i].currency < keys[j].currency
			}
			return keys[i].issuer < keys[j].issuer
		})
		bc := BalanceChange{Account: account, Deltas: make([]Delta, 0, len(keys))}
		for _, key := range keys {
			bc.Deltas = append(bc.Deltas, Delta{Currency: key.currency, Issuer: key.issuer, Value: byAsset[key]})
		}
		out = append(out, bc)
	}
	return out
}

func accountRootDelta(acc *deltaAccumulator, node *xrpl.AffectedNode) {
	fields := node.Fields()
	if fields == nil || fields.Account == "" {
		return
	}
	if node.Kind == xrpl.NodeCreated {
		if v, ok := dropsValue(fields.Balance); ok {
			acc.add(fields.Account, nativeKey, v)
		}
		return
	}
	if node.PreviousFields == nil {
		return
	}
	prev, okPrev := dropsValue(node.PreviousFields.Balance)
	cur, okCur := dropsValue(fields.Balance)
	if okPrev && okCur {
		acc.add(fields.Account, nativeKey, cur.Sub(prev))
	}
}

// rippleStateDeltas emits both sides of a trust-line move. The stored
// balance is from the low account's perspective: a positive value means the
// low account holds tokens issued by the high account.
func rippleStateDeltas(acc *deltaAccumulator, node *xrpl.AffectedNode) {
	fields := node.Fields()
	if fields == nil || fields.HighLimit == nil || fields.LowLimit == nil {
		return
	}
	high, low := fields.HighLimit.Issuer, fields.LowLimit.Issuer
	currency, cur, ok := issuedValue(fields.Balance)
	if !ok {
		return
	}
	var delta decimal.Decimal
	if node.Kind == xrpl.NodeCreated {
		delta = cur
	} else {
		if node.PreviousFields == nil {
			return
		}
		_, prev, okPrev := issuedValue(node.PreviousFields.Balance)
		if !okPrev {
			return
		}
		delta = cur.Sub(prev)
	}
	acc.add(low, assetKey{currency: currency, issuer: high}, delta)
	acc.add(high, assetKey{currency: currency, issuer: low}, delta.Neg())
}

func offerNodeOf(node *xrpl.AffectedNode) (OfferNode, bool) {
	fields := node.Fields()
	if fields == nil {
		return OfferNode{}, false
	}
	on := OfferNode{
		Kind:          node.Kind,
		Account:       fields.Account,
		Sequence:      fields.Sequence,
		PreviousTxnID: node.PreviousTxnID,
		TakerGets:     amountPtr(fields.TakerGets),
		TakerPays:     amountPtr(fields.TakerPays),
	}
	if node.PreviousFields != nil {
		on.PrevTakerGets = amountPtr(node.PreviousFields.TakerGets)
		on.PrevTakerPays = amountPtr(node.PreviousFields.TakerPays)
	}
	return on, true
}

func dropsValue(raw json.RawMessage) (decimal.Decimal, bool) {
	if len(raw) == 0 {
		return decimal.Zero, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return decimal.Zero, false
	}
	v, err := xrpl.ParseDrops(s)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}

func issuedValue(raw json.RawMessage) (string, decimal.Decimal, bool) {
	if len(raw) == 0 {
		return "", decimal.Zero, false
	}
	a, err := xrpl.ParseAmount(raw)
	if err != nil {
		return "", decimal.Zero, false
	}
	return a.Currency, a.Value, true
}

func amountPtr(raw json.RawMessage) *xrpl.Amount {
	if len(raw) == 0 {
		return nil
	}
	a, err := xrpl.ParseAmount(raw)
	if err != nil {
		return nil
	}
	return &a
}

// succeeded reports whether the transaction applied with tesSUCCESS.
func (e *Enriched) succeeded() bool {
	return e.Tx.Meta != nil && e.Tx.Meta.TransactionResult == xrpl.TesSuccess
}

// changesFor returns the deltas recorded for account.
func (e *Enriched) changesFor(account string) []Delta {
	for _, bc := range e.BalanceChanges {
		if bc.Account == account {
			return bc.Deltas
		}
	}
	return nil
}

// feeOnly reports whether d is the fee payer's native fee debit and
// nothing else.
func (e *Enriched) feeOnly(account string, d Delta) bool {
	return account == e.Tx.Account &&
		d.Currency == xrpl.NativeCurrency &&
		d.Value.Add(e.FeeNative).Abs().LessThanOrEqual(nativeTolerance)
}

// nonFeeChanges returns account deltas with the fee-only native debit
// filtered out.
func (e *Enriched) nonFeeChanges(account string) []Delta {
	var out []Delta
	for _, d := range e.changesFor(account) {
		if e.feeOnly(account, d) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// currencyCount counts distinct currencies among the account's non-fee
// deltas.
func (e *Enriched) currencyCount(account string) int {
	seen := map[string]bool{}
	for _, d := range e.nonFeeChanges(account) {
		seen[d.Currency] = true
	}
	return len(seen)
}

// hasCreatedOfferFor reports whether the metadata created an offer node
// owned by account.
func (e *Enriched) hasCreatedOfferFor(account string) bool {
	for _, n := range e.OfferNodes {
		if n.Kind == xrpl.NodeCreated && n.Account == account {
			return true
		}
	}
	return false
}

// hasConsumedOffers reports whether any offer node was modified or deleted.
func (e *Enriched) hasConsumedOffers() bool {
	for _, n := range e.OfferNodes {
		if n.Kind != xrpl.NodeCreated {
			return true
		}
	}
	return false
}

// offerNodeFor returns the first modified or deleted offer node owned by
// account.
func (e *Enriched) offerNodeFor(account string) *OfferNode {
	for i := range e.OfferNodes {
		n := &e.OfferNodes[i]
		if n.Kind != xrpl.NodeCreated && n.Account == account {
			return n
		}
	}
	return nil
}
