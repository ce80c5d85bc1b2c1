package sqldb

import (
	"context"
	"strings"

	"github.com/LeJamon/goXRPLtracker/internal/storage/store"
)

// offerTableBody is shared by the open and terminal offer tables; they
// differ only in name and indexes. Filled sides reuse the original sides'
// assets, so only their values are stored.
const offerTableBody = `(
	hash TEXT PRIMARY KEY,
	account TEXT NOT NULL,
	sequence BIGINT NOT NULL,
	user_id TEXT NOT NULL,
	status TEXT NOT NULL,
	created_ledger_index BIGINT NOT NULL,
	last_checked_ledger BIGINT NOT NULL,
	gets_currency TEXT NOT NULL,
	gets_issuer TEXT NOT NULL DEFAULT '',
	gets_value TEXT NOT NULL,
	pays_currency TEXT NOT NULL,
	pays_issuer TEXT NOT NULL DEFAULT '',
	pays_value TEXT NOT NULL,
	filled_gets_value TEXT,
	filled_pays_value TEXT,
	created_date_unix BIGINT NOT NULL,
	resolved_date_unix BIGINT,
	resolved_ledger_index BIGINT NOT NULL DEFAULT 0,
	cancel_tx_hash TEXT NOT NULL DEFAULT '',
	create_fee_native TEXT NOT NULL,
	cancel_fee_native TEXT,
	resolution_method TEXT NOT NULL DEFAULT '',
	trades TEXT NOT NULL DEFAULT '[]'`

func schemaStatements(blob string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			wallets TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			hash TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			account TEXT NOT NULL,
			destination TEXT NOT NULL DEFAULT '',
			transaction_type TEXT NOT NULL,
			nature TEXT NOT NULL,
			ledger_index BIGINT NOT NULL,
			source_tag BIGINT,
			fee_drops BIGINT NOT NULL,
			date_unix BIGINT NOT NULL,
			raw ` + blob + `
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_ledger ON transactions(ledger_index)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_destination ON transactions(destination)`,

		`CREATE TABLE IF NOT EXISTS open_offers ` + offerTableBody + `,
			UNIQUE (account, sequence)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_open_offers_user ON open_offers(user_id)`,

		`CREATE TABLE IF NOT EXISTS filled_offers ` + offerTableBody + `
		)`,
		`CREATE INDEX IF NOT EXISTS idx_filled_offers_user ON filled_offers(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_filled_offers_account ON filled_offers(account, sequence)`,

		`CREATE TABLE IF NOT EXISTS canceled_offers ` + offerTableBody + `
		)`,
		`CREATE INDEX IF NOT EXISTS idx_canceled_offers_user ON canceled_offers(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_canceled_offers_cancel_tx ON canceled_offers(cancel_tx_hash)`,

		`CREATE TABLE IF NOT EXISTS transfers (
			hash TEXT PRIMARY KEY,
			ledger_index BIGINT NOT NULL,
			timestamp_unix BIGINT NOT NULL,
			from_address TEXT NOT NULL,
			to_address TEXT NOT NULL,
			amount_currency TEXT NOT NULL,
			amount_issuer TEXT NOT NULL DEFAULT '',
			amount_value TEXT NOT NULL,
			type TEXT NOT NULL,
			user_id TEXT NOT NULL,
			fee_native TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_user ON transfers(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_ledger ON transfers(ledger_index)`,

		`CREATE TABLE IF NOT EXISTS trades (
			hash TEXT NOT NULL,
			maker_address TEXT NOT NULL,
			related_offer_sequence BIGINT NOT NULL,
			ledger_index BIGINT NOT NULL,
			timestamp_unix BIGINT NOT NULL,
			taker_address TEXT NOT NULL,
			sold_currency TEXT NOT NULL,
			sold_issuer TEXT NOT NULL DEFAULT '',
			sold_value TEXT NOT NULL,
			bought_currency TEXT NOT NULL,
			bought_issuer TEXT NOT NULL DEFAULT '',
			bought_value TEXT NOT NULL,
			related_offer_hash TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			fee_native TEXT NOT NULL,
			PRIMARY KEY (hash, maker_address, related_offer_sequence)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_related_offer ON trades(related_offer_hash)`,
	}
}

func (d *DB) initSchema(ctx context.Context) error {
	blob := "BYTEA"
	if d.cfg.Driver == store.DriverSQLite {
		blob = "BLOB"
	}
	for _, stmt := range schemaStatements(blob) {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			name := stmt
			if i := strings.Index(name, "("); i > 0 {
				name = strings.TrimSpace(name[:i])
			}
			return store.NewSchemaError("init_schema", name, err)
		}
	}
	return nil
}
