package sqldb

import (
	"context"
	"time"

	"github.com/LeJamon/goXRPLtracker/internal/storage/store"
	"github.com/LeJamon/goXRPLtracker/internal/tracker"
)

type tradeRepo struct{ c *conn }

const tradeColumns = `hash, maker_address, related_offer_sequence,
	ledger_index, timestamp_unix, taker_address,
	sold_currency, sold_issuer, sold_value,
	bought_currency, bought_issuer, bought_value,
	related_offer_hash, user_id, fee_native`

// Put upserts by (hash, maker_address, related_offer_sequence): one taker
// transaction can consume several maker offers, so the hash alone is not
// unique.
func (r *tradeRepo) Put(ctx context.Context, trade *tracker.Trade) error {
	query := `
		INSERT INTO trades (` + tradeColumns + `)
		VALUES (` + placeholders(15) + `)
		ON CONFLICT (hash, maker_address, related_offer_sequence) DO UPDATE SET
			ledger_index       = EXCLUDED.ledger_index,
			timestamp_unix     = EXCLUDED.timestamp_unix,
			taker_address      = EXCLUDED.taker_address,
			sold_currency      = EXCLUDED.sold_currency,
			sold_issuer        = EXCLUDED.sold_issuer,
			sold_value         = EXCLUDED.sold_value,
			bought_currency    = EXCLUDED.bought_currency,
			bought_issuer      = EXCLUDED.bought_issuer,
			bought_value       = EXCLUDED.bought_value,
			related_offer_hash = EXCLUDED.related_offer_hash,
			user_id            = EXCLUDED.user_id,
			fee_native         = EXCLUDED.fee_native`

	_, err := r.c.x.ExecContext(ctx, r.c.q(query),
		trade.Hash, trade.MakerAddress, int64(trade.RelatedOfferSequence),
		int64(trade.LedgerIndex), trade.Timestamp.Unix(), trade.TakerAddress,
		trade.SoldAmount.Currency, trade.SoldAmount.Issuer, trade.SoldAmount.Value.String(),
		trade.BoughtAmount.Currency, trade.BoughtAmount.Issuer, trade.BoughtAmount.Value.String(),
		trade.RelatedOfferHash, trade.UserID, trade.FeeNative.String())
	if err != nil {
		return store.NewQueryError("put_trade", "failed to upsert trade "+trade.Hash, err)
	}
	return nil
}

func (r *tradeRepo) ListByOffer(ctx context.Context, relatedOfferHash string) ([]*tracker.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE related_offer_hash = ?
		ORDER BY ledger_index, maker_address, related_offer_sequence`

	rows, err := r.c.x.QueryContext(ctx, r.c.q(query), relatedOfferHash)
	if err != nil {
		return nil, store.NewQueryError("list_trades", "failed to query trades", err)
	}
	defer rows.Close()

	var trades []*tracker.Trade
	for rows.Next() {
		var (
			t                           tracker.Trade
			seq, ledgerIdx, tsUnix      int64
			soldValue, boughtValue, fee string
		)
		err := rows.Scan(
			&t.Hash, &t.MakerAddress, &seq,
			&ledgerIdx, &tsUnix, &t.TakerAddress,
			&t.SoldAmount.Currency, &t.SoldAmount.Issuer, &soldValue,
			&t.BoughtAmount.Currency, &t.BoughtAmount.Issuer, &boughtValue,
			&t.RelatedOfferHash, &t.UserID, &fee)
		if err != nil {
			return nil, store.NewQueryError("list_trades", "failed to scan trade row", err)
		}
		t.RelatedOfferSequence = uint32(seq)
		t.LedgerIndex = uint32(ledgerIdx)
		t.Timestamp = time.Unix(tsUnix, 0).UTC()
		if t.SoldAmount.Value, err = parseDecimal("sold_value", soldValue); err != nil {
			return nil, store.NewQueryError("list_trades", "bad trade row", err)
		}
		if t.BoughtAmount.Value, err = parseDecimal("bought_value", boughtValue); err != nil {
			return nil, store.NewQueryError("list_trades", "bad trade row", err)
		}
		if t.FeeNative, err = parseDecimal("fee_native", fee); err != nil {
			return nil, store.NewQueryError("list_trades", "bad trade row", err)
		}
		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewQueryError("list_trades", "error iterating trade rows", err)
	}
	return trades, nil
}
