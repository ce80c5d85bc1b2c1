package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/LeJamon/goXRPLtracker/internal/xrpl"
)

// LedgerClient is the slice of the JSON-RPC surface the tracker consumes.
// *xrpl.Client satisfies it.
type LedgerClient interface {
	AccountTx(ctx context.Context, req *xrpl.AccountTxRequest) (*xrpl.AccountTxResponse, error)
	AccountOffers(ctx context.Context, req *xrpl.AccountOffersRequest) (*xrpl.AccountOffersResponse, error)
	Tx(ctx context.Context, hash string) (*xrpl.Transaction, error)
}

// Archiver retains raw wire payloads for audit. A nil Archiver disables
// archiving.
type Archiver interface {
	Archive(ctx context.Context, hash, userID string, ledgerIndex uint32, raw []byte) error
	Has(ctx context.Context, hash string) (bool, error)
}

// PollerConfig carries the per-wallet pagination knobs.
type PollerConfig struct {
	// FromLedger is the floor for wallets with no persisted history.
	FromLedger uint32
	// PageLimit is the account_tx page size.
	PageLimit int
	// SourceTag marks transactions submitted through the integration.
	SourceTag uint32
	// Retries is the number of repeat attempts per paginated request.
	Retries int
	// RetryBackoff is the first retry delay; it doubles per attempt.
	RetryBackoff time.Duration
}

func (c *PollerConfig) withDefaults() PollerConfig {
	out := *c
	if out.PageLimit <= 0 {
		out.PageLimit = 400
	}
	if out.Retries < 0 {
		out.Retries = 0
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = time.Second
	}
	return out
}

// Poller walks each wallet's transaction history forward from its high-water
// mark and feeds every entry through classification and the lifecycle
// engine. Wallets are processed sequentially; a failed wallet is logged and
// skipped, never aborting the cycle.
type Poller struct {
	client  LedgerClient
	store   Store
	engine  *Engine
	archive Archiver
	cfg     PollerConfig
	log     *zap.Logger

	// seen remembers recently processed hashes, so the boundary entries
	// account_tx replays across pages and cycles are not reprocessed.
	seen *lru.Cache[string, struct{}]

	sleep func(ctx context.Context, d time.Duration) error
}

func NewPoller(client LedgerClient, store Store, engine *Engine, archive Archiver, cfg PollerConfig, log *zap.Logger) *Poller {
	cache, _ := lru.New[string, struct{}](4096)
	return &Poller{
		client:  client,
		store:   store,
		engine:  engine,
		archive: archive,
		cfg:     cfg.withDefaults(),
		log:     log.Named("poller"),
		seen:    cache,
		sleep:   sleepCtx,
	}
}

// PollUser runs one cycle's worth of history collection for every wallet of
// one user.
func (p *Poller) PollUser(ctx context.Context, user UserConfig, stats *CycleStats) error {
	wallets := user.WalletSet()
	for _, wallet := range user.Wallets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !xrpl.IsValidAddress(wallet) {
			p.log.Warn("skipping invalid wallet address",
				zap.String("user", user.ID), zap.String("wallet", wallet))
			continue
		}
		stats.Wallets++
		if err := p.pollWallet(ctx, user, wallet, wallets, stats); err != nil {
			if errors.Is(err, ErrInvariant) {
				// Invariant violations are bugs, not data conditions.
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Error("wallet poll failed",
				zap.String("user", user.ID),
				zap.String("wallet", wallet),
				zap.Error(err))
			stats.Errors++
		}
	}
	return nil
}

func (p *Poller) pollWallet(ctx context.Context, user UserConfig, wallet string, wallets map[string]bool, stats *CycleStats) error {
	from, err := p.startLedger(ctx, user.ID, wallet)
	if err != nil {
		return err
	}
	req := &xrpl.AccountTxRequest{
		Account:        wallet,
		LedgerIndexMin: from,
		LedgerIndexMax: -1,
		Forward:        true,
		Limit:          p.cfg.PageLimit,
	}
	p.log.Debug("polling wallet",
		zap.String("user", user.ID),
		zap.String("wallet", wallet),
		zap.Int64("from_ledger", from))

	var prevMarker json.RawMessage
	for {
		resp, err := p.fetchPage(ctx, req)
		if err != nil {
			return err
		}
		for _, raw := range resp.Transactions {
			if err := p.processEntry(ctx, raw, user, wallets, stats); err != nil {
				return err
			}
		}
		// A page of zero or one entries is the tail of the history: the
		// boundary ledger re-fetches its last transaction every cycle.
		if len(resp.Transactions) < 2 || len(resp.Marker) == 0 {
			return nil
		}
		if prevMarker != nil && bytes.Equal(prevMarker, resp.Marker) {
			p.log.Warn("pagination marker did not advance, stopping",
				zap.String("wallet", wallet))
			return nil
		}
		prevMarker = resp.Marker
		req.Marker = resp.Marker
	}
}

// startLedger re-derives the wallet cursor from persisted state, so an
// interrupted cycle resumes where its last upsert landed.
func (p *Poller) startLedger(ctx context.Context, userID, wallet string) (int64, error) {
	latest, err := p.store.Transactions().LatestLedgerIndex(ctx, userID, wallet)
	if err != nil {
		return 0, err
	}
	if latest > 0 {
		return int64(latest), nil
	}
	if p.cfg.FromLedger > 0 {
		return int64(p.cfg.FromLedger), nil
	}
	// -1 asks the server for the earliest ledger it has.
	return -1, nil
}

func (p *Poller) fetchPage(ctx context.Context, req *xrpl.AccountTxRequest) (*xrpl.AccountTxResponse, error) {
	backoff := p.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= p.cfg.Retries; attempt++ {
		if attempt > 0 {
			p.log.Debug("retrying account_tx",
				zap.String("account", req.Account),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))
			if err := p.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}
		resp, err := p.client.AccountTx(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("account_tx %s: %w", req.Account, lastErr)
}

func (p *Poller) processEntry(ctx context.Context, raw json.RawMessage, user UserConfig, wallets map[string]bool, stats *CycleStats) error {
	tx, err := xrpl.ParseTransactionEntry(raw)
	if err != nil {
		p.log.Warn("undecodable transaction entry", zap.Error(err))
		stats.Skipped++
		return nil
	}
	if tx.Hash == "" {
		stats.Skipped++
		return nil
	}
	if p.seen.Contains(tx.Hash) {
		return nil
	}
	enr := Analyze(tx)
	if enr.MetaMissing {
		// Without metadata nothing can be derived. The raw payload is
		// still kept when the transaction carries our tag.
		if MatchesTag(tx, p.cfg.SourceTag) {
			if err := p.persistRecord(ctx, tx, enr, user); err != nil {
				return err
			}
			p.archiveRaw(ctx, tx, user)
		}
		p.seen.Add(tx.Hash, struct{}{})
		stats.Skipped++
		return nil
	}
	enr.Nature = Classify(enr, wallets)
	if err := p.persistRecord(ctx, tx, enr, user); err != nil {
		return err
	}
	p.archiveRaw(ctx, tx, user)
	if err := p.engine.Apply(ctx, enr, user, stats); err != nil {
		if errors.Is(err, ErrInvariant) {
			return err
		}
		return fmt.Errorf("apply %s: %w", tx.Hash, err)
	}
	p.seen.Add(tx.Hash, struct{}{})
	stats.Transactions++
	if tx.LedgerIndex > stats.LastLedger {
		stats.LastLedger = tx.LedgerIndex
	}
	return nil
}

func (p *Poller) persistRecord(ctx context.Context, tx *xrpl.Transaction, enr *Enriched, user UserConfig) error {
	var feeDrops int64
	if tx.Fee != "" {
		if d, err := strconv.ParseInt(tx.Fee, 10, 64); err == nil {
			feeDrops = d
		}
	}
	rec := &TransactionRecord{
		Hash:            tx.Hash,
		UserID:          user.ID,
		Account:         tx.Account,
		Destination:     tx.Destination,
		TransactionType: tx.TransactionType,
		Nature:          enr.Nature,
		LedgerIndex:     tx.LedgerIndex,
		SourceTag:       tx.SourceTag,
		FeeDrops:        feeDrops,
		Date:            xrpl.RippleTimeToUTC(tx.Date),
		Raw:             tx.Raw,
	}
	return p.store.Transactions().Put(ctx, rec)
}

func (p *Poller) archiveRaw(ctx context.Context, tx *xrpl.Transaction, user UserConfig) {
	if p.archive == nil || len(tx.Raw) == 0 {
		return
	}
	err := p.archive.Archive(ctx, tx.Hash, user.ID, tx.LedgerIndex, tx.Raw)
	if err != nil {
		// Archiving is best-effort; tracking state never depends on it.
		p.log.Warn("archive write failed", zap.String("hash", tx.Hash), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
