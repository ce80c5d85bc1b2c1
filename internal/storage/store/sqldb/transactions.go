package sqldb

import (
	"context"

	"github.com/LeJamon/goXRPLtracker/internal/storage/store"
	"github.com/LeJamon/goXRPLtracker/internal/tracker"
)

type txRepo struct{ c *conn }

func (r *txRepo) Put(ctx context.Context, rec *tracker.TransactionRecord) error {
	const query = `
		INSERT INTO transactions
			(hash, user_id, account, destination, transaction_type, nature,
			 ledger_index, source_tag, fee_drops, date_unix, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (hash) DO UPDATE SET
			user_id          = EXCLUDED.user_id,
			account          = EXCLUDED.account,
			destination      = EXCLUDED.destination,
			transaction_type = EXCLUDED.transaction_type,
			nature           = EXCLUDED.nature,
			ledger_index     = EXCLUDED.ledger_index,
			source_tag       = EXCLUDED.source_tag,
			fee_drops        = EXCLUDED.fee_drops,
			date_unix        = EXCLUDED.date_unix,
			raw              = EXCLUDED.raw`

	var sourceTag any
	if rec.SourceTag != nil {
		sourceTag = int64(*rec.SourceTag)
	}
	_, err := r.c.x.ExecContext(ctx, r.c.q(query),
		rec.Hash, rec.UserID, rec.Account, rec.Destination,
		rec.TransactionType, string(rec.Nature),
		int64(rec.LedgerIndex), sourceTag, rec.FeeDrops, rec.Date.Unix(), rec.Raw)
	if err != nil {
		return store.NewQueryError("put_transaction", "failed to upsert transaction", err)
	}
	return nil
}

// LatestLedgerIndex reports the newest ledger the wallet has been seen in,
// on either side of a transaction. Zero means no history.
func (r *txRepo) LatestLedgerIndex(ctx context.Context, userID, wallet string) (uint32, error) {
	const query = `
		SELECT COALESCE(MAX(ledger_index), 0)
		FROM transactions
		WHERE user_id = ? AND (account = ? OR destination = ?)`

	var latest int64
	err := r.c.x.QueryRowContext(ctx, r.c.q(query), userID, wallet, wallet).Scan(&latest)
	if err != nil {
		return 0, store.NewQueryError("latest_ledger_index", "failed to query ledger high-water mark", err)
	}
	return uint32(latest), nil
}
