package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LeJamon/goXRPLtracker/internal/xrpl"
)

func newTestPoller(store *memStore, client LedgerClient, archive Archiver, cfg PollerConfig) *Poller {
	log := zap.NewNop()
	return NewPoller(client, store, NewEngine(store, log), archive, cfg, log)
}

// wireOpenOffer is an account_tx entry, wire shape, for a resting OfferCreate
// by addrA: sells 1000 XRP for 500 USD, only the fee leaves the account.
func wireOpenOffer(t *testing.T, hash string, ledger uint32) json.RawMessage {
	t.Helper()
	usd := map[string]any{"currency": "USD", "issuer": addrIssuer, "value": "500"}
	return wireEntry(t, map[string]any{
		"TransactionType": "OfferCreate",
		"Account":         addrA,
		"Sequence":        100,
		"Fee":             "10",
		"date":            772200000,
		"hash":            hash,
		"ledger_index":    ledger,
		"TakerGets":       "1000000000",
		"TakerPays":       usd,
	}, []map[string]any{
		wireNode("CreatedNode", "Offer", map[string]any{
			"Account":   addrA,
			"Sequence":  100,
			"TakerGets": "1000000000",
			"TakerPays": usd,
		}, nil, ""),
		wireNode("ModifiedNode", "AccountRoot",
			map[string]any{"Account": addrA, "Balance": "5000000000"},
			map[string]any{"Balance": "5000000010"}, ""),
	}, "tesSUCCESS")
}

// wireSimplePayment is a 5 XRP payment between two untracked accounts, the
// kind of entry that shows up in a wallet's history without concerning it.
func wireSimplePayment(t *testing.T, hash string, from, to string, ledger uint32) json.RawMessage {
	t.Helper()
	return wireEntry(t, map[string]any{
		"TransactionType": "Payment",
		"Account":         from,
		"Destination":     to,
		"Sequence":        7,
		"Fee":             "10",
		"date":            772200000,
		"hash":            hash,
		"ledger_index":    ledger,
		"Amount":          "5000000",
	}, []map[string]any{
		wireNode("ModifiedNode", "AccountRoot",
			map[string]any{"Account": from, "Balance": "8995000000"},
			map[string]any{"Balance": "9000000010"}, ""),
		wireNode("ModifiedNode", "AccountRoot",
			map[string]any{"Account": to, "Balance": "1005000000"},
			map[string]any{"Balance": "1000000000"}, ""),
	}, "tesSUCCESS")
}

// wireMetaMissing is an entry whose metadata arrived as an unexpanded hex
// blob, so nothing can be derived from it.
func wireMetaMissing(t *testing.T, hash string, ledger uint32, extra map[string]any) json.RawMessage {
	t.Helper()
	txFields := map[string]any{
		"TransactionType": "Payment",
		"Account":         addrB,
		"Destination":     addrA,
		"Sequence":        9,
		"Fee":             "10",
		"date":            772200000,
		"hash":            hash,
		"ledger_index":    ledger,
		"Amount":          "5000000",
	}
	for k, v := range extra {
		txFields[k] = v
	}
	b, err := json.Marshal(map[string]any{
		"tx":        txFields,
		"meta":      "201C00000000F8E511006F5618",
		"validated": true,
	})
	require.NoError(t, err)
	return b
}

func TestPollerOpensOfferFromHistory(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	archive := newFakeArchive()
	user := UserConfig{ID: "david", Wallets: []string{addrA}}
	entry := wireOpenOffer(t, hashOpen, 1000)

	var reqs []xrpl.AccountTxRequest
	ledger := &fakeLedger{accountTx: func(req *xrpl.AccountTxRequest) (*xrpl.AccountTxResponse, error) {
		reqs = append(reqs, *req)
		return &xrpl.AccountTxResponse{Transactions: []json.RawMessage{entry}}, nil
	}}
	p := newTestPoller(store, ledger, archive, PollerConfig{FromLedger: 94700993, SourceTag: 19089388})

	stats := &CycleStats{}
	require.NoError(t, p.PollUser(ctx, user, stats))

	require.Len(t, reqs, 1, "a single short page ends the walk")
	assert.Equal(t, addrA, reqs[0].Account)
	assert.True(t, reqs[0].Forward, "history must be walked oldest first")
	assert.Equal(t, int64(94700993), reqs[0].LedgerIndexMin)
	assert.Equal(t, int64(-1), reqs[0].LedgerIndexMax)
	assert.Equal(t, 400, reqs[0].Limit)

	rec := store.txs[hashOpen]
	require.NotNil(t, rec, "the transaction record must be persisted")
	assert.Equal(t, "david", rec.UserID)
	assert.Equal(t, "OfferCreate", rec.TransactionType)
	assert.Equal(t, NatureOfferOpen, rec.Nature)
	assert.Equal(t, uint32(1000), rec.LedgerIndex)
	assert.Equal(t, int64(10), rec.FeeDrops)

	open, err := store.Offers().GetOpenBySequence(ctx, addrA, 100)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, open.Status)

	assert.Equal(t, 1, archive.calls)
	assert.Equal(t, []byte(entry), archive.entries[hashOpen])
	assert.Equal(t, "david", archive.users[hashOpen])

	assert.Equal(t, 1, stats.Wallets)
	assert.Equal(t, 1, stats.Transactions)
	assert.Equal(t, 1, stats.OffersOpened)
	assert.Zero(t, stats.Skipped)
	assert.Zero(t, stats.Errors)
}

func TestPollerStartLedger(t *testing.T) {
	tests := []struct {
		name string
		seed func(s *memStore)
		from uint32
		want int64
	}{
		{
			name: "resumes after the newest persisted transaction",
			seed: func(s *memStore) {
				s.txs[seqHash(900)] = &TransactionRecord{
					Hash: seqHash(900), UserID: "david", Account: addrA, LedgerIndex: 5000,
				}
			},
			from: 94700993,
			want: 5000,
		},
		{
			name: "incoming transactions move the cursor too",
			seed: func(s *memStore) {
				s.txs[seqHash(901)] = &TransactionRecord{
					Hash: seqHash(901), UserID: "david", Account: addrB, Destination: addrA, LedgerIndex: 6000,
				}
			},
			from: 94700993,
			want: 6000,
		},
		{
			name: "empty history falls back to the configured floor",
			from: 94700993,
			want: 94700993,
		},
		{
			name: "no floor asks the server for its earliest ledger",
			from: 0,
			want: -1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			if tt.seed != nil {
				tt.seed(store)
			}
			var got int64
			ledger := &fakeLedger{accountTx: func(req *xrpl.AccountTxRequest) (*xrpl.AccountTxResponse, error) {
				got = req.LedgerIndexMin
				return &xrpl.AccountTxResponse{}, nil
			}}
			p := newTestPoller(store, ledger, nil, PollerConfig{FromLedger: tt.from})

			user := UserConfig{ID: "david", Wallets: []string{addrA}}
			require.NoError(t, p.PollUser(context.Background(), user, &CycleStats{}))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPollerPaginatesWithMarker(t *testing.T) {
	store := newMemStore()
	marker := json.RawMessage(`{"ledger":1001,"seq":5}`)
	pageOne := []json.RawMessage{
		wireSimplePayment(t, seqHash(1), addrB, addrC, 1000),
		wireSimplePayment(t, seqHash(2), addrB, addrC, 1001),
	}
	pageTwo := []json.RawMessage{
		wireSimplePayment(t, seqHash(3), addrB, addrC, 1002),
	}

	var reqs []xrpl.AccountTxRequest
	ledger := &fakeLedger{accountTx: func(req *xrpl.AccountTxRequest) (*xrpl.AccountTxResponse, error) {
		reqs = append(reqs, *req)
		if req.Marker == nil {
			return &xrpl.AccountTxResponse{Transactions: pageOne, Marker: marker}, nil
		}
		return &xrpl.AccountTxResponse{Transactions: pageTwo}, nil
	}}
	p := newTestPoller(store, ledger, nil, PollerConfig{FromLedger: 1000})

	stats := &CycleStats{}
	user := UserConfig{ID: "david", Wallets: []string{addrA}}
	require.NoError(t, p.PollUser(context.Background(), user, stats))

	require.Len(t, reqs, 2)
	assert.Nil(t, reqs[0].Marker)
	assert.Equal(t, marker, reqs[1].Marker, "the marker must be passed through verbatim")

	assert.Equal(t, 3, stats.Transactions)
	for i := 1; i <= 3; i++ {
		assert.Contains(t, store.txs, seqHash(i))
	}
}

func TestPollerStopsOnFullPageWithoutMarker(t *testing.T) {
	store := newMemStore()
	page := []json.RawMessage{
		wireSimplePayment(t, seqHash(1), addrB, addrC, 1000),
		wireSimplePayment(t, seqHash(2), addrB, addrC, 1001),
	}
	ledger := &fakeLedger{accountTx: func(req *xrpl.AccountTxRequest) (*xrpl.AccountTxResponse, error) {
		return &xrpl.AccountTxResponse{Transactions: page}, nil
	}}
	p := newTestPoller(store, ledger, nil, PollerConfig{FromLedger: 1000})

	user := UserConfig{ID: "david", Wallets: []string{addrA}}
	require.NoError(t, p.PollUser(context.Background(), user, &CycleStats{}))
	assert.Equal(t, 1, ledger.accountTxCalls, "a marker-less response is the last page")
}

func TestPollerBreaksOnStalledMarker(t *testing.T) {
	store := newMemStore()
	marker := json.RawMessage(`{"ledger":1001,"seq":5}`)
	page := []json.RawMessage{
		wireSimplePayment(t, seqHash(1), addrB, addrC, 1000),
		wireSimplePayment(t, seqHash(2), addrB, addrC, 1001),
	}
	ledger := &fakeLedger{accountTx: func(req *xrpl.AccountTxRequest) (*xrpl.AccountTxResponse, error) {
		return &xrpl.AccountTxResponse{Transactions: page, Marker: marker}, nil
	}}
	p := newTestPoller(store, ledger, nil, PollerConfig{FromLedger: 1000})

	user := UserConfig{ID: "david", Wallets: []string{addrA}}
	require.NoError(t, p.PollUser(context.Background(), user, &CycleStats{}))

	assert.Equal(t, 2, ledger.accountTxCalls, "a marker that does not advance must stop the walk")
	assert.Len(t, store.txs, 2, "replayed entries are deduplicated, not stored twice")
}

func TestPollerRetriesTransientErrors(t *testing.T) {
	store := newMemStore()
	attempts := 0
	ledger := &fakeLedger{accountTx: func(req *xrpl.AccountTxRequest) (*xrpl.AccountTxResponse, error) {
		attempts++
		if attempts <= 2 {
			return nil, errors.New("connection reset by peer")
		}
		return &xrpl.AccountTxResponse{}, nil
	}}
	p := newTestPoller(store, ledger, nil, PollerConfig{FromLedger: 1000, Retries: 3, RetryBackoff: time.Second})

	var sleeps []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	stats := &CycleStats{}
	user := UserConfig{ID: "david", Wallets: []string{addrA}}
	require.NoError(t, p.PollUser(context.Background(), user, stats))

	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps, "backoff doubles per retry")
	assert.Zero(t, stats.Errors)
}

func TestPollerSkipsWalletAfterRetriesExhausted(t *testing.T) {
	store := newMemStore()
	ledger := &fakeLedger{accountTx: func(req *xrpl.AccountTxRequest) (*xrpl.AccountTxResponse, error) {
		if req.Account == addrA {
			return nil, errors.New("server busy")
		}
		return &xrpl.AccountTxResponse{}, nil
	}}
	p := newTestPoller(store, ledger, nil, PollerConfig{FromLedger: 1000, Retries: 3, RetryBackoff: time.Second})

	var sleeps []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	stats := &CycleStats{}
	user := UserConfig{ID: "david", Wallets: []string{addrA, addrW2}}
	require.NoError(t, p.PollUser(context.Background(), user, stats),
		"one failed wallet must not abort the rest of the cycle")

	assert.Equal(t, 5, ledger.accountTxCalls, "four attempts for the failing wallet, one for the healthy one")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeps)
	assert.Equal(t, 2, stats.Wallets)
	assert.Equal(t, 1, stats.Errors)
}

func TestPollerSkipsInvalidWallet(t *testing.T) {
	store := newMemStore()
	ledger := &fakeLedger{}
	p := newTestPoller(store, ledger, nil, PollerConfig{FromLedger: 1000})

	stats := &CycleStats{}
	user := UserConfig{ID: "david", Wallets: []string{"not-an-address", addrA}}
	require.NoError(t, p.PollUser(context.Background(), user, stats))

	assert.Equal(t, 1, ledger.accountTxCalls, "only the checksum-valid wallet is polled")
	assert.Equal(t, 1, stats.Wallets)
}

func TestPollerKeepsTaggedMalformedEntries(t *testing.T) {
	// hex.EncodeToString([]byte("19089388"))
	const tagAsMemoHex = "3139303839333838"

	tests := []struct {
		name  string
		extra map[string]any
		kept  bool
	}{
		{
			name:  "source tag matches",
			extra: map[string]any{"SourceTag": 19089388},
			kept:  true,
		},
		{
			name: "memo carries the tag",
			extra: map[string]any{"Memos": []map[string]any{
				{"Memo": map[string]any{"MemoData": tagAsMemoHex}},
			}},
			kept: true,
		},
		{
			name: "untagged",
			kept: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			archive := newFakeArchive()
			entry := wireMetaMissing(t, hashFill, 1005, tt.extra)
			ledger := &fakeLedger{accountTx: func(req *xrpl.AccountTxRequest) (*xrpl.AccountTxResponse, error) {
				return &xrpl.AccountTxResponse{Transactions: []json.RawMessage{entry}}, nil
			}}
			p := newTestPoller(store, ledger, archive, PollerConfig{FromLedger: 1000, SourceTag: 19089388})

			stats := &CycleStats{}
			user := UserConfig{ID: "david", Wallets: []string{addrA}}
			require.NoError(t, p.PollUser(context.Background(), user, stats))

			assert.Equal(t, 1, stats.Skipped, "entries without usable metadata never count as processed")
			assert.Zero(t, stats.Transactions)

			rec := store.txs[hashFill]
			if tt.kept {
				require.NotNil(t, rec, "tagged entries are kept for audit")
				assert.Equal(t, NatureOther, rec.Nature)
				assert.Equal(t, 1, archive.calls)
			} else {
				assert.Nil(t, rec)
				assert.Zero(t, archive.calls)
			}
		})
	}
}

func TestPollerSkipsUndecodableEntries(t *testing.T) {
	store := newMemStore()
	noHash := wireEntry(t, map[string]any{
		"TransactionType": "Payment",
		"Account":         addrB,
		"Fee":             "10",
		"ledger_index":    1000,
	}, nil, "tesSUCCESS")
	page := []json.RawMessage{json.RawMessage(`[]`), noHash}
	ledger := &fakeLedger{accountTx: func(req *xrpl.AccountTxRequest) (*xrpl.AccountTxResponse, error) {
		return &xrpl.AccountTxResponse{Transactions: page}, nil
	}}
	p := newTestPoller(store, ledger, nil, PollerConfig{FromLedger: 1000})

	stats := &CycleStats{}
	user := UserConfig{ID: "david", Wallets: []string{addrA}}
	require.NoError(t, p.PollUser(context.Background(), user, stats))

	assert.Equal(t, 2, stats.Skipped)
	assert.Empty(t, store.txs)
}

func TestPollerProcessesEachEntryOnce(t *testing.T) {
	store := newMemStore()
	archive := newFakeArchive()
	entry := wireOpenOffer(t, hashOpen, 1000)
	ledger := &fakeLedger{accountTx: func(req *xrpl.AccountTxRequest) (*xrpl.AccountTxResponse, error) {
		return &xrpl.AccountTxResponse{Transactions: []json.RawMessage{entry}}, nil
	}}
	p := newTestPoller(store, ledger, archive, PollerConfig{FromLedger: 1000})

	user := UserConfig{ID: "david", Wallets: []string{addrA}}
	first := &CycleStats{}
	require.NoError(t, p.PollUser(context.Background(), user, first))
	second := &CycleStats{}
	require.NoError(t, p.PollUser(context.Background(), user, second))

	assert.Equal(t, 1, first.Transactions)
	assert.Zero(t, second.Transactions, "the boundary entry replays every cycle but is processed once")
	assert.Equal(t, 1, archive.calls, "replays are archived once too")
}

// wireBadFill is a payment that modifies addrA's offer 100 to a remaining
// amount LARGER than its original, which no valid ledger can produce.
func wireBadFill(t *testing.T, offerHash, hash string, ledger uint32) json.RawMessage {
	t.Helper()
	usdFinal := map[string]any{"currency": "USD", "issuer": addrIssuer, "value": "750"}
	usdPrev := map[string]any{"currency": "USD", "issuer": addrIssuer, "value": "500"}
	return wireEntry(t, map[string]any{
		"TransactionType": "Payment",
		"Account":         addrB,
		"Destination":     addrC,
		"Sequence":        8,
		"Fee":             "10",
		"date":            772200000,
		"hash":            hash,
		"ledger_index":    ledger,
		"Amount":          "5000000",
	}, []map[string]any{
		wireNode("ModifiedNode", "Offer", map[string]any{
			"Account":   addrA,
			"Sequence":  100,
			"TakerGets": "1500000000",
			"TakerPays": usdFinal,
		}, map[string]any{
			"TakerGets": "1000000000",
			"TakerPays": usdPrev,
		}, offerHash),
	}, "tesSUCCESS")
}

func TestPollerPropagatesInvariantViolations(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	require.NoError(t, store.Offers().PutOpen(ctx, restingOffer(hashOpen, addrA, 100, 998)))

	entry := wireBadFill(t, hashOpen, hashFill, 1005)
	ledger := &fakeLedger{accountTx: func(req *xrpl.AccountTxRequest) (*xrpl.AccountTxResponse, error) {
		return &xrpl.AccountTxResponse{Transactions: []json.RawMessage{entry}}, nil
	}}
	p := newTestPoller(store, ledger, nil, PollerConfig{FromLedger: 1000})

	user := UserConfig{ID: "david", Wallets: []string{addrA}}
	err := p.PollUser(ctx, user, &CycleStats{})
	require.ErrorIs(t, err, ErrInvariant, "impossible fills must surface, not be logged away")
}
