// Package sqldb implements the tracker's storage contract on database/sql,
// against PostgreSQL or SQLite depending on the configured driver.
package sqldb

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/lib/pq" // postgres
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // sqlite

	"github.com/LeJamon/goXRPLtracker/internal/storage/store"
	"github.com/LeJamon/goXRPLtracker/internal/tracker"
)

// DB is the root store handle. It is safe for concurrent use; the pool
// inside database/sql provides the serialization.
type DB struct {
	db  *sql.DB
	cfg *store.Config
	log *zap.Logger
}

var _ tracker.Store = (*DB)(nil)

// Open connects, verifies the connection, and sets up the schema.
func Open(ctx context.Context, cfg *store.Config, log *zap.Logger) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, store.NewConnectionError("open", "failed to open database handle", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DefaultTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, store.NewConnectionError("open", "failed to ping database", err)
	}

	d := &DB{db: sqlDB, cfg: cfg, log: log.Named("store")}
	if err := d.initSchema(pingCtx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	d.log.Info("store opened",
		zap.String("driver", cfg.Driver),
		zap.String("dsn", cfg.Redacted()))
	return d, nil
}

func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	if err != nil {
		return store.NewConnectionError("close", "failed to close database", err)
	}
	return nil
}

func (d *DB) Users() tracker.UserRepository               { return &userRepo{d.conn()} }
func (d *DB) Transactions() tracker.TransactionRepository { return &txRepo{d.conn()} }
func (d *DB) Offers() tracker.OfferRepository             { return &offerRepo{d.conn()} }
func (d *DB) Transfers() tracker.TransferRepository       { return &transferRepo{d.conn()} }
func (d *DB) Trades() tracker.TradeRepository             { return &tradeRepo{d.conn()} }

// Transact runs fn against a view whose writes land in one database
// transaction. A panic inside fn rolls back and re-panics.
func (d *DB) Transact(ctx context.Context, fn func(tracker.Store) error) error {
	if d.db == nil {
		return store.ErrClosed
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return store.NewTransactionError("begin", "failed to begin transaction", err)
	}
	view := &txStore{conn: &conn{x: tx, driver: d.cfg.Driver}}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(view); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			d.log.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return store.NewTransactionError("commit", "failed to commit transaction", err)
	}
	return nil
}

func (d *DB) conn() *conn {
	return &conn{
		x:      d.db,
		driver: d.cfg.Driver,
		begin:  func(ctx context.Context) (*sql.Tx, error) { return d.db.BeginTx(ctx, nil) },
	}
}

// txStore is the Store view handed to Transact callbacks. Its repositories
// share the enclosing sql.Tx; a nested Transact joins it.
type txStore struct {
	conn *conn
}

var _ tracker.Store = (*txStore)(nil)

func (t *txStore) Users() tracker.UserRepository               { return &userRepo{t.conn} }
func (t *txStore) Transactions() tracker.TransactionRepository { return &txRepo{t.conn} }
func (t *txStore) Offers() tracker.OfferRepository             { return &offerRepo{t.conn} }
func (t *txStore) Transfers() tracker.TransferRepository       { return &transferRepo{t.conn} }
func (t *txStore) Trades() tracker.TradeRepository             { return &tradeRepo{t.conn} }

func (t *txStore) Transact(ctx context.Context, fn func(tracker.Store) error) error {
	return fn(t)
}

func (t *txStore) Close() error { return nil }

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// conn bundles an executor with the dialect it speaks. begin is nil when
// the executor already is a transaction.
type conn struct {
	x      executor
	driver string
	begin  func(ctx context.Context) (*sql.Tx, error)
}

// q rewrites ? placeholders into the driver's positional form. Queries in
// this package are written with ?; PostgreSQL needs $N.
func (c *conn) q(query string) string {
	if c.driver != store.DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// atomically runs fn inside a transaction when the conn is not already in
// one, for multi-statement repository operations invoked outside Transact.
func (c *conn) atomically(ctx context.Context, op string, fn func(x executor) error) error {
	if c.begin == nil {
		return fn(c.x)
	}
	tx, err := c.begin(ctx)
	if err != nil {
		return store.NewTransactionError(op, "failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return store.NewTransactionError(op, "failed to commit transaction", err)
	}
	return nil
}
