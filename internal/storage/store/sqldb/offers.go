package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/LeJamon/goXRPLtracker/internal/storage/store"
	"github.com/LeJamon/goXRPLtracker/internal/tracker"
	"github.com/LeJamon/goXRPLtracker/internal/xrpl"
)

type offerRepo struct{ c *conn }

// The three lifecycle tables share one column layout; offerArgs and
// scanOffer must stay in sync with offerColumns.
const offerColumns = `hash, account, sequence, user_id, status,
	created_ledger_index, last_checked_ledger,
	gets_currency, gets_issuer, gets_value,
	pays_currency, pays_issuer, pays_value,
	filled_gets_value, filled_pays_value,
	created_date_unix, resolved_date_unix, resolved_ledger_index,
	cancel_tx_hash, create_fee_native, cancel_fee_native,
	resolution_method, trades`

const offerColumnCount = 23

func offerUpsert(table string) string {
	return `INSERT INTO ` + table + ` (` + offerColumns + `)
		VALUES (` + placeholders(offerColumnCount) + `)
		ON CONFLICT (hash) DO UPDATE SET
			account = EXCLUDED.account,
			sequence = EXCLUDED.sequence,
			user_id = EXCLUDED.user_id,
			status = EXCLUDED.status,
			created_ledger_index = EXCLUDED.created_ledger_index,
			last_checked_ledger = EXCLUDED.last_checked_ledger,
			gets_currency = EXCLUDED.gets_currency,
			gets_issuer = EXCLUDED.gets_issuer,
			gets_value = EXCLUDED.gets_value,
			pays_currency = EXCLUDED.pays_currency,
			pays_issuer = EXCLUDED.pays_issuer,
			pays_value = EXCLUDED.pays_value,
			filled_gets_value = EXCLUDED.filled_gets_value,
			filled_pays_value = EXCLUDED.filled_pays_value,
			created_date_unix = EXCLUDED.created_date_unix,
			resolved_date_unix = EXCLUDED.resolved_date_unix,
			resolved_ledger_index = EXCLUDED.resolved_ledger_index,
			cancel_tx_hash = EXCLUDED.cancel_tx_hash,
			create_fee_native = EXCLUDED.create_fee_native,
			cancel_fee_native = EXCLUDED.cancel_fee_native,
			resolution_method = EXCLUDED.resolution_method,
			trades = EXCLUDED.trades`
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (r *offerRepo) PutOpen(ctx context.Context, offer *tracker.Offer) error {
	return r.upsert(ctx, "open_offers", "put_open_offer", offer)
}

func (r *offerRepo) PutFilled(ctx context.Context, offer *tracker.Offer) error {
	return r.upsert(ctx, "filled_offers", "put_filled_offer", offer)
}

func (r *offerRepo) PutCanceled(ctx context.Context, offer *tracker.Offer) error {
	return r.upsert(ctx, "canceled_offers", "put_canceled_offer", offer)
}

func (r *offerRepo) upsert(ctx context.Context, table, op string, offer *tracker.Offer) error {
	args, err := offerArgs(offer)
	if err != nil {
		return store.NewQueryError(op, "failed to encode offer", err)
	}
	if _, err := r.c.x.ExecContext(ctx, r.c.q(offerUpsert(table)), args...); err != nil {
		return store.NewQueryError(op, "failed to upsert offer "+offer.Hash, err)
	}
	return nil
}

func (r *offerRepo) DeleteOpen(ctx context.Context, hash string) error {
	_, err := r.c.x.ExecContext(ctx, r.c.q(`DELETE FROM open_offers WHERE hash = ?`), hash)
	if err != nil {
		return store.NewQueryError("delete_open_offer", "failed to delete offer "+hash, err)
	}
	return nil
}

func (r *offerRepo) GetOpenBySequence(ctx context.Context, account string, sequence uint32) (*tracker.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM open_offers WHERE account = ? AND sequence = ?`
	row := r.c.x.QueryRowContext(ctx, r.c.q(query), account, int64(sequence))
	offer, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open offer %s/%d: %w", account, sequence, tracker.ErrNotFound)
	}
	if err != nil {
		return nil, store.NewQueryError("get_open_offer", "failed to load open offer", err)
	}
	return offer, nil
}

func (r *offerRepo) ListOpen(ctx context.Context) ([]*tracker.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM open_offers ORDER BY hash`
	rows, err := r.c.x.QueryContext(ctx, query)
	if err != nil {
		return nil, store.NewQueryError("list_open_offers", "failed to query open offers", err)
	}
	defer rows.Close()

	var offers []*tracker.Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, store.NewQueryError("list_open_offers", "failed to scan offer row", err)
		}
		offers = append(offers, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewQueryError("list_open_offers", "error iterating offer rows", err)
	}
	return offers, nil
}

func (r *offerRepo) GetFilled(ctx context.Context, hash string) (*tracker.Offer, error) {
	return r.getByHash(ctx, "filled_offers", "get_filled_offer", hash)
}

func (r *offerRepo) GetCanceled(ctx context.Context, hash string) (*tracker.Offer, error) {
	return r.getByHash(ctx, "canceled_offers", "get_canceled_offer", hash)
}

func (r *offerRepo) getByHash(ctx context.Context, table, op, hash string) (*tracker.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM ` + table + ` WHERE hash = ?`
	row := r.c.x.QueryRowContext(ctx, r.c.q(query), hash)
	offer, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("offer %s: %w", hash, tracker.ErrNotFound)
	}
	if err != nil {
		return nil, store.NewQueryError(op, "failed to load offer "+hash, err)
	}
	return offer, nil
}

func offerArgs(o *tracker.Offer) ([]any, error) {
	trades := []byte("[]")
	if len(o.Trades) > 0 {
		var err error
		if trades, err = json.Marshal(o.Trades); err != nil {
			return nil, err
		}
	}
	var filledGets, filledPays, cancelFee, resolvedUnix any
	if o.FilledGets != nil {
		filledGets = o.FilledGets.Value.String()
	}
	if o.FilledPays != nil {
		filledPays = o.FilledPays.Value.String()
	}
	if o.CancelFeeNative != nil {
		cancelFee = o.CancelFeeNative.String()
	}
	if o.ResolvedDate != nil {
		resolvedUnix = o.ResolvedDate.Unix()
	}
	return []any{
		o.Hash, o.Account, int64(o.Sequence), o.UserID, string(o.Status),
		int64(o.CreatedLedgerIndex), int64(o.LastCheckedLedger),
		o.TakerGets.Currency, o.TakerGets.Issuer, o.TakerGets.Value.String(),
		o.TakerPays.Currency, o.TakerPays.Issuer, o.TakerPays.Value.String(),
		filledGets, filledPays,
		o.CreatedDate.Unix(), resolvedUnix, int64(o.ResolvedLedgerIndex),
		o.CancelTxHash, o.CreateFeeNative.String(), cancelFee,
		string(o.ResolutionMethod), string(trades),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanOffer rebuilds an Offer from one row. Filled amounts store only the
// value; the asset is always the offer's own gets/pays pair.
func scanOffer(row rowScanner) (*tracker.Offer, error) {
	var (
		o                                 tracker.Offer
		seq, createdIdx, checkedIdx       int64
		resolvedIdx, createdUnix          int64
		status, resolution                string
		getsValue, paysValue              string
		createFee, tradesJSON             string
		filledGets, filledPays, cancelFee sql.NullString
		resolvedUnix                      sql.NullInt64
	)
	err := row.Scan(
		&o.Hash, &o.Account, &seq, &o.UserID, &status,
		&createdIdx, &checkedIdx,
		&o.TakerGets.Currency, &o.TakerGets.Issuer, &getsValue,
		&o.TakerPays.Currency, &o.TakerPays.Issuer, &paysValue,
		&filledGets, &filledPays,
		&createdUnix, &resolvedUnix, &resolvedIdx,
		&o.CancelTxHash, &createFee, &cancelFee,
		&resolution, &tradesJSON,
	)
	if err != nil {
		return nil, err
	}

	o.Sequence = uint32(seq)
	o.Status = tracker.OfferStatus(status)
	o.CreatedLedgerIndex = uint32(createdIdx)
	o.LastCheckedLedger = uint32(checkedIdx)
	o.ResolvedLedgerIndex = uint32(resolvedIdx)
	o.CreatedDate = time.Unix(createdUnix, 0).UTC()
	o.ResolutionMethod = tracker.ResolutionMethod(resolution)
	if resolvedUnix.Valid {
		t := time.Unix(resolvedUnix.Int64, 0).UTC()
		o.ResolvedDate = &t
	}

	if o.TakerGets.Value, err = parseDecimal("gets_value", getsValue); err != nil {
		return nil, err
	}
	if o.TakerPays.Value, err = parseDecimal("pays_value", paysValue); err != nil {
		return nil, err
	}
	if o.CreateFeeNative, err = parseDecimal("create_fee_native", createFee); err != nil {
		return nil, err
	}
	if filledGets.Valid {
		v, err := parseDecimal("filled_gets_value", filledGets.String)
		if err != nil {
			return nil, err
		}
		o.FilledGets = &xrpl.Amount{Currency: o.TakerGets.Currency, Issuer: o.TakerGets.Issuer, Value: v}
	}
	if filledPays.Valid {
		v, err := parseDecimal("filled_pays_value", filledPays.String)
		if err != nil {
			return nil, err
		}
		o.FilledPays = &xrpl.Amount{Currency: o.TakerPays.Currency, Issuer: o.TakerPays.Issuer, Value: v}
	}
	if cancelFee.Valid {
		v, err := parseDecimal("cancel_fee_native", cancelFee.String)
		if err != nil {
			return nil, err
		}
		o.CancelFeeNative = &v
	}
	if tradesJSON != "" && tradesJSON != "[]" {
		if err := json.Unmarshal([]byte(tradesJSON), &o.Trades); err != nil {
			return nil, fmt.Errorf("corrupt trades payload for offer %s: %w", o.Hash, err)
		}
	}
	return &o, nil
}

func parseDecimal(column, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("corrupt decimal in %s: %w", column, err)
	}
	return v, nil
}
