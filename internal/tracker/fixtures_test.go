package tracker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LeJamon/goXRPLtracker/internal/xrpl"
)

// Rippled vector addresses double as test wallets: the poller checksum-
// validates wallet addresses, so fixtures must be genuinely valid.
const (
	addrA      = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh" // tracked wallet (W1)
	addrW2     = "rGWrZyQqhTp9Xu7G5Pkayo7bXjH4k4QYpf" // second wallet, same user
	addrB      = "rrrrrrrrrrrrrrrrrrrrBZbvji"         // external counterparty
	addrC      = "rrrrrrrrrrrrrrrrrrrrrhoLvTp"        // external counterparty
	addrIssuer = "rvYAfWj5gh67oV6fW32ZzP3Aw4Eubs59B"  // token issuer
)

const (
	hashOpen    = "01AC0A3AE536E6A652F025E425E25A0E1A6A6DB1F52176FD66C731BA1C5BE09E"
	hashFill    = "02BD1B4BF647F7B763F136F536F36B1F2B7B7EC2063287FE77D842CB2D6CF1AF"
	hashPartial = "03CE2C5C0758F8C874F247F647F47C2F3C8C8FD3174398FF88E953DC3E7DF2B0"
	hashCancel  = "04DF3D6D1869F9D985F358F758F58D3F4D9D9FE42854A9FF99FA64ED4F8EF3C1"
	hashMaker   = "05EA4E7E297AFAEA96F469F869F69E4F5EAEAFF53965BAFFAAFB75FE5F9FF4D2"
)

func testUser() UserConfig {
	return UserConfig{ID: "david", Wallets: []string{addrA, addrW2}}
}

func drops(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func issued(currency, issuer, value string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{
		"currency": currency, "issuer": issuer, "value": value,
	})
	return b
}

func baseTx(txType, account, hash string, seq, ledger uint32) *xrpl.Transaction {
	return &xrpl.Transaction{
		Hash:            hash,
		LedgerIndex:     ledger,
		Validated:       true,
		Account:         account,
		TransactionType: txType,
		Sequence:        seq,
		Fee:             "10",
		Date:            772200000,
		Meta:            &xrpl.Meta{TransactionResult: xrpl.TesSuccess},
	}
}

func accountRootNode(kind xrpl.NodeKind, account, prevBalance, finalBalance string) xrpl.AffectedNode {
	fields := &xrpl.NodeFields{Account: account, Balance: drops(finalBalance)}
	node := xrpl.AffectedNode{Kind: kind, LedgerEntryType: "AccountRoot"}
	if kind == xrpl.NodeCreated {
		node.NewFields = fields
	} else {
		node.FinalFields = fields
	}
	if prevBalance != "" {
		node.PreviousFields = &xrpl.NodeFields{Balance: drops(prevBalance)}
	}
	return node
}

// trustLineNode builds a RippleState diff. The balance is held from the low
// account's perspective, as on the ledger.
func trustLineNode(kind xrpl.NodeKind, low, high, currency, prevValue, finalValue string) xrpl.AffectedNode {
	fields := &xrpl.NodeFields{
		Balance:   issued(currency, addrC, finalValue),
		HighLimit: &xrpl.LimitField{Currency: currency, Issuer: high, Value: "1000000000"},
		LowLimit:  &xrpl.LimitField{Currency: currency, Issuer: low, Value: "0"},
	}
	node := xrpl.AffectedNode{Kind: kind, LedgerEntryType: "RippleState"}
	if kind == xrpl.NodeCreated {
		node.NewFields = fields
	} else {
		node.FinalFields = fields
	}
	if prevValue != "" {
		node.PreviousFields = &xrpl.NodeFields{Balance: issued(currency, addrC, prevValue)}
	}
	return node
}

func offerEntryNode(kind xrpl.NodeKind, account string, seq uint32, prevTxn string, gets, pays, prevGets, prevPays json.RawMessage) xrpl.AffectedNode {
	fields := &xrpl.NodeFields{Account: account, Sequence: seq, TakerGets: gets, TakerPays: pays}
	node := xrpl.AffectedNode{Kind: kind, LedgerEntryType: "Offer", PreviousTxnID: prevTxn}
	if kind == xrpl.NodeCreated {
		node.NewFields = fields
	} else {
		node.FinalFields = fields
	}
	if prevGets != nil || prevPays != nil {
		node.PreviousFields = &xrpl.NodeFields{TakerGets: prevGets, TakerPays: prevPays}
	}
	return node
}

// openOfferTx is an OfferCreate by A (seq 100) that rests: 1000 native for
// 500 USD, plus the fee debit.
func openOfferTx(hash string, ledger uint32) *xrpl.Transaction {
	tx := baseTx("OfferCreate", addrA, hash, 100, ledger)
	tx.TakerGets = drops("1000000000")
	tx.TakerPays = issued("USD", addrIssuer, "500")
	tx.Meta.AffectedNodes = []xrpl.AffectedNode{
		offerEntryNode(xrpl.NodeCreated, addrA, 100, "",
			drops("1000000000"), issued("USD", addrIssuer, "500"), nil, nil),
		accountRootNode(xrpl.NodeModified, addrA, "5000000010", "5000000000"),
	}
	return tx
}

// immediateFillTx is the same OfferCreate crossing the book instead: no
// created node for A, A pays 1000 native (plus fee) and receives 500 USD
// against B's resting offer.
func immediateFillTx(hash string, ledger uint32) *xrpl.Transaction {
	tx := baseTx("OfferCreate", addrA, hash, 100, ledger)
	tx.TakerGets = drops("1000000000")
	tx.TakerPays = issued("USD", addrIssuer, "500")
	tx.Meta.AffectedNodes = []xrpl.AffectedNode{
		accountRootNode(xrpl.NodeModified, addrA, "6000000010", "5000000000"),
		trustLineNode(xrpl.NodeCreated, addrA, addrIssuer, "USD", "", "500"),
		accountRootNode(xrpl.NodeModified, addrB, "9000000000", "10000000000"),
		trustLineNode(xrpl.NodeModified, addrB, addrIssuer, "USD", "800", "300"),
		offerEntryNode(xrpl.NodeModified, addrB, 55, hashMaker,
			issued("USD", addrIssuer, "300"), drops("600000000"),
			issued("USD", addrIssuer, "800"), drops("1600000000")),
	}
	return tx
}

// partialFillTx is a Payment between two external accounts routed through
// A's resting offer: 400 native leave the offer against 200 USD.
func partialFillTx(hash, offerHash string, ledger uint32) *xrpl.Transaction {
	tx := baseTx("Payment", addrB, hash, 7, ledger)
	tx.Destination = addrC
	tx.Amount = drops("400000000")
	tx.Meta.AffectedNodes = []xrpl.AffectedNode{
		accountRootNode(xrpl.NodeModified, addrB, "3000000010", "3000000000"),
		trustLineNode(xrpl.NodeModified, addrB, addrIssuer, "USD", "700", "500"),
		accountRootNode(xrpl.NodeModified, addrA, "5000000000", "4600000000"),
		trustLineNode(xrpl.NodeModified, addrA, addrIssuer, "USD", "100", "300"),
		accountRootNode(xrpl.NodeModified, addrC, "1000000000", "1400000000"),
		offerEntryNode(xrpl.NodeModified, addrA, 100, offerHash,
			drops("600000000"), issued("USD", addrIssuer, "300"),
			drops("1000000000"), issued("USD", addrIssuer, "500")),
	}
	return tx
}

// cancelTx is an OfferCancel by A targeting sequence 100; the node deletion
// carries the remaining amounts in FinalFields.
func cancelTx(hash string, ledger uint32) *xrpl.Transaction {
	tx := baseTx("OfferCancel", addrA, hash, 120, ledger)
	tx.OfferSequence = 100
	tx.Meta.AffectedNodes = []xrpl.AffectedNode{
		accountRootNode(xrpl.NodeModified, addrA, "4600000010", "4600000000"),
		offerEntryNode(xrpl.NodeDeleted, addrA, 100, hashOpen,
			drops("600000000"), issued("USD", addrIssuer, "300"), nil, nil),
	}
	return tx
}

// paymentTx is a native payment of 5 whole units from one account to
// another, fee paid by the sender.
func paymentTx(hash, from, to string, ledger uint32) *xrpl.Transaction {
	tx := baseTx("Payment", from, hash, 9, ledger)
	tx.Destination = to
	tx.Amount = drops("5000000")
	tx.Meta.AffectedNodes = []xrpl.AffectedNode{
		accountRootNode(xrpl.NodeModified, from, "9000000010", "8995000000"),
		accountRootNode(xrpl.NodeModified, to, "1000000000", "1005000000"),
	}
	return tx
}

type fakeLedger struct {
	accountTx     func(req *xrpl.AccountTxRequest) (*xrpl.AccountTxResponse, error)
	accountOffers func(req *xrpl.AccountOffersRequest) (*xrpl.AccountOffersResponse, error)
	tx            func(hash string) (*xrpl.Transaction, error)

	accountTxCalls     int
	accountOffersCalls int
	txCalls            int
}

func (f *fakeLedger) AccountTx(ctx context.Context, req *xrpl.AccountTxRequest) (*xrpl.AccountTxResponse, error) {
	f.accountTxCalls++
	if f.accountTx == nil {
		return &xrpl.AccountTxResponse{}, nil
	}
	return f.accountTx(req)
}

func (f *fakeLedger) AccountOffers(ctx context.Context, req *xrpl.AccountOffersRequest) (*xrpl.AccountOffersResponse, error) {
	f.accountOffersCalls++
	if f.accountOffers == nil {
		return &xrpl.AccountOffersResponse{}, nil
	}
	return f.accountOffers(req)
}

func (f *fakeLedger) Tx(ctx context.Context, hash string) (*xrpl.Transaction, error) {
	f.txCalls++
	if f.tx == nil {
		return nil, &xrpl.RPCError{Method: "tx", Name: "txnNotFound", Message: "Transaction not found."}
	}
	return f.tx(hash)
}

type fakeArchive struct {
	entries map[string][]byte
	users   map[string]string
	calls   int
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{entries: make(map[string][]byte), users: make(map[string]string)}
}

func (a *fakeArchive) Archive(ctx context.Context, hash, userID string, ledgerIndex uint32, raw []byte) error {
	a.calls++
	a.entries[hash] = append([]byte(nil), raw...)
	a.users[hash] = userID
	return nil
}

func (a *fakeArchive) Has(ctx context.Context, hash string) (bool, error) {
	_, ok := a.entries[hash]
	return ok, nil
}

// wireNode and wireEntry build account_tx entries in genuine wire shape for
// poller tests, which consume raw JSON.
func wireNode(kind, entryType string, fields, prev map[string]any, prevTxn string) map[string]any {
	body := map[string]any{"LedgerEntryType": entryType}
	fieldsKey := "FinalFields"
	if kind == "CreatedNode" {
		fieldsKey = "NewFields"
	}
	body[fieldsKey] = fields
	if prev != nil {
		body["PreviousFields"] = prev
	}
	if prevTxn != "" {
		body["PreviousTxnID"] = prevTxn
	}
	return map[string]any{kind: body}
}

func wireEntry(t *testing.T, txFields map[string]any, nodes []map[string]any, result string) json.RawMessage {
	t.Helper()
	entry := map[string]any{
		"tx": txFields,
		"meta": map[string]any{
			"AffectedNodes":     nodes,
			"TransactionResult": result,
		},
		"validated": true,
	}
	b, err := json.Marshal(entry)
	require.NoError(t, err)
	return b
}
