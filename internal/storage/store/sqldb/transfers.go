package sqldb

import (
	"context"

	"github.com/LeJamon/goXRPLtracker/internal/storage/store"
	"github.com/LeJamon/goXRPLtracker/internal/tracker"
)

type transferRepo struct{ c *conn }

func (r *transferRepo) Put(ctx context.Context, rec *tracker.DepositWithdrawal) error {
	const query = `
		INSERT INTO transfers
			(hash, ledger_index, timestamp_unix, from_address, to_address,
			 amount_currency, amount_issuer, amount_value, type, user_id, fee_native)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (hash) DO UPDATE SET
			ledger_index    = EXCLUDED.ledger_index,
			timestamp_unix  = EXCLUDED.timestamp_unix,
			from_address    = EXCLUDED.from_address,
			to_address      = EXCLUDED.to_address,
			amount_currency = EXCLUDED.amount_currency,
			amount_issuer   = EXCLUDED.amount_issuer,
			amount_value    = EXCLUDED.amount_value,
			type            = EXCLUDED.type,
			user_id         = EXCLUDED.user_id,
			fee_native      = EXCLUDED.fee_native`

	_, err := r.c.x.ExecContext(ctx, r.c.q(query),
		rec.Hash, int64(rec.LedgerIndex), rec.Timestamp.Unix(),
		rec.FromAddress, rec.ToAddress,
		rec.Amount.Currency, rec.Amount.Issuer, rec.Amount.Value.String(),
		string(rec.Type), rec.UserID, rec.FeeNative.String())
	if err != nil {
		return store.NewQueryError("put_transfer", "failed to upsert transfer "+rec.Hash, err)
	}
	return nil
}
