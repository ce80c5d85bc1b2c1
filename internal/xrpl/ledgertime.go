package xrpl

import (
	"context"
	"fmt"
	"time"
)

// earliestSearchableLedger is the oldest ledger available on full-history
// nodes; the headers before it were lost early in the network's life.
const earliestSearchableLedger = 32570

// LedgerReader is the slice of Client used by close-time search.
type LedgerReader interface {
	Ledger(ctx context.Context, index uint32) (*LedgerResponse, error)
	ValidatedLedger(ctx context.Context) (*LedgerResponse, error)
}

// FindLedgerAt returns the index of the first validated ledger closed at or
// after target. It binary-searches ledger headers by close time.
func FindLedgerAt(ctx context.Context, r LedgerReader, target time.Time) (uint32, error) {
	latest, err := r.ValidatedLedger(ctx)
	if err != nil {
		return 0, err
	}
	want := RippleTime(target)
	if want > latest.Ledger.CloseTime {
		return 0, fmt.Errorf("xrpl: %s is after the latest validated ledger", target.UTC().Format(time.RFC3339))
	}
	lo, hi := uint32(earliestSearchableLedger), latest.LedgerIndex
	if hi < lo {
		return 0, fmt.Errorf("xrpl: validated ledger %d is below the search floor", hi)
	}
	for lo < hi {
		mid := lo + (hi-lo)/2
		resp, err := r.Ledger(ctx, mid)
		if err != nil {
			return 0, err
		}
		if resp.Ledger.CloseTime < want {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}
