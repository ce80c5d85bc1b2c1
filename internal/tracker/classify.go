package tracker

// Classify decides a transaction's nature from the perspective of one
// wallet set. It is pure over (enriched transaction, wallets).
//
// Failed transactions burn a fee without taking effect, so anything that is
// not tesSUCCESS is other, whatever its type.
func Classify(enr *Enriched, wallets map[string]bool) Nature {
	if enr.MetaMissing || !enr.succeeded() {
		return NatureOther
	}
	tx := enr.Tx
	switch tx.TransactionType {
	case "Payment":
		fromUs, toUs := wallets[tx.Account], wallets[tx.Destination]
		switch {
		// A self-payment across currencies is still an internal transfer:
		// the cross-user rule wins the tie with the market-trade rule.
		case fromUs && toUs:
			return NatureInternalTransfer
		case fromUs:
			return NatureWithdrawal
		case toUs:
			return NatureDeposit
		}
		if enr.currencyCount(tx.Account) >= 2 || enr.hasConsumedOffers() {
			return NatureMarketTrade
		}
	case "OfferCreate":
		if !wallets[tx.Account] {
			// Someone else's offer. If it consumed resting offers it may
			// have hit ours; the lifecycle sweep handles that.
			if enr.hasConsumedOffers() {
				return NatureMarketTrade
			}
			return NatureOther
		}
		// An immediate fill requires both signals to agree: no offer node
		// was created for the account AND its balances moved beyond the
		// fee. When the signals disagree the offer counts as open and the
		// reconciler closes it on a later cycle if it never rested.
		if !enr.hasCreatedOfferFor(tx.Account) && len(enr.nonFeeChanges(tx.Account)) > 0 {
			return NatureOfferFilled
		}
		return NatureOfferOpen
	case "OfferCancel":
		if wallets[tx.Account] {
			return NatureOfferCancel
		}
	}
	return NatureOther
}
