package xrpl

import (
	"encoding/json"
	"errors"
	"fmt"
)

// NodeKind distinguishes the three wrappers an AffectedNodes entry can carry.
type NodeKind int

const (
	NodeCreated NodeKind = iota
	NodeModified
	NodeDeleted
)

func (k NodeKind) String() string {
	switch k {
	case NodeCreated:
		return "created"
	case NodeModified:
		return "modified"
	case NodeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Ledger object flags on Offer entries.
const (
	LsfPassive = 0x00010000
	LsfSell    = 0x00020000
)

// TesSuccess is the result code of a fully applied transaction. Anything
// else burned a fee but did not take effect.
const TesSuccess = "tesSUCCESS"

// LimitField is a trust-line limit: {currency, issuer, value}.
type LimitField struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

// NodeFields is the subset of ledger-object fields read from
// FinalFields/PreviousFields/NewFields. Balance is raw because AccountRoot
// carries a drops string while RippleState carries an issued-amount object.
type NodeFields struct {
	Account   string          `json:"Account,omitempty"`
	Balance   json.RawMessage `json:"Balance,omitempty"`
	Sequence  uint32          `json:"Sequence,omitempty"`
	TakerGets json.RawMessage `json:"TakerGets,omitempty"`
	TakerPays json.RawMessage `json:"TakerPays,omitempty"`
	HighLimit *LimitField     `json:"HighLimit,omitempty"`
	LowLimit  *LimitField     `json:"LowLimit,omitempty"`
	Flags     uint32          `json:"Flags,omitempty"`
}

// AffectedNode is one metadata node diff with the wrapper kind lifted out.
type AffectedNode struct {
	Kind              NodeKind
	LedgerEntryType   string
	LedgerIndex       string
	PreviousTxnID     string
	PreviousTxnLgrSeq uint32
	FinalFields       *NodeFields
	PreviousFields    *NodeFields
	NewFields         *NodeFields
}

type affectedNodeBody struct {
	LedgerEntryType   string      `json:"LedgerEntryType"`
	LedgerIndex       string      `json:"LedgerIndex"`
	PreviousTxnID     string      `json:"PreviousTxnID"`
	PreviousTxnLgrSeq uint32      `json:"PreviousTxnLgrSeq"`
	FinalFields       *NodeFields `json:"FinalFields"`
	PreviousFields    *NodeFields `json:"PreviousFields"`
	NewFields         *NodeFields `json:"NewFields"`
}

func (n *AffectedNode) UnmarshalJSON(data []byte) error {
	var wrapper struct {
		Created  *affectedNodeBody `json:"CreatedNode"`
		Modified *affectedNodeBody `json:"ModifiedNode"`
		Deleted  *affectedNodeBody `json:"DeletedNode"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	var body *affectedNodeBody
	switch {
	case wrapper.Created != nil:
		n.Kind = NodeCreated
		body = wrapper.Created
	case wrapper.Modified != nil:
		n.Kind = NodeModified
		body = wrapper.Modified
	case wrapper.Deleted != nil:
		n.Kind = NodeDeleted
		body = wrapper.Deleted
	default:
		return errors.New("xrpl: affected node without a known wrapper")
	}
	n.LedgerEntryType = body.LedgerEntryType
	n.LedgerIndex = body.LedgerIndex
	n.PreviousTxnID = body.PreviousTxnID
	n.PreviousTxnLgrSeq = body.PreviousTxnLgrSeq
	n.FinalFields = body.FinalFields
	n.PreviousFields = body.PreviousFields
	n.NewFields = body.NewFields
	return nil
}

// Fields returns the node's current-state fields: NewFields for created
// nodes, FinalFields otherwise.
func (n *AffectedNode) Fields() *NodeFields {
	if n.Kind == NodeCreated {
		return n.NewFields
	}
	return n.FinalFields
}

// Meta is the expanded transaction metadata.
type Meta struct {
	AffectedNodes     []AffectedNode  `json:"AffectedNodes"`
	TransactionIndex  uint32          `json:"TransactionIndex"`
	TransactionResult string          `json:"TransactionResult"`
	DeliveredAmount   json.RawMessage `json:"delivered_amount,omitempty"`
}

// Memo is one entry of the transaction Memos array, hex-encoded on the wire.
type Memo struct {
	MemoData   string `json:"MemoData,omitempty"`
	MemoFormat string `json:"MemoFormat,omitempty"`
	MemoType   string `json:"MemoType,omitempty"`
}

type memoWrapper struct {
	Memo Memo `json:"Memo"`
}

// Transaction is a decoded ledger transaction plus its envelope fields.
// Amount-bearing fields stay raw; ParseAmount decodes them on demand.
type Transaction struct {
	Hash            string
	LedgerIndex     uint32
	Validated       bool
	Account         string
	TransactionType string
	Sequence        uint32
	Fee             string
	Flags           uint32
	Date            int64
	Destination     string
	Amount          json.RawMessage
	TakerGets       json.RawMessage
	TakerPays       json.RawMessage
	OfferSequence   uint32
	SourceTag       *uint32
	DestinationTag  *uint32
	Memos           []Memo

	// Meta is nil when the server returned no metadata or returned it as an
	// unexpanded binary string.
	Meta *Meta

	// Raw is the envelope exactly as returned by the server.
	Raw json.RawMessage
}

type txBody struct {
	Account         string          `json:"Account"`
	TransactionType string          `json:"TransactionType"`
	Sequence        uint32          `json:"Sequence"`
	Fee             string          `json:"Fee"`
	Flags           uint32          `json:"Flags"`
	Date            int64           `json:"date"`
	Destination     string          `json:"Destination"`
	Amount          json.RawMessage `json:"Amount"`
	DeliverMax      json.RawMessage `json:"DeliverMax"`
	TakerGets       json.RawMessage `json:"TakerGets"`
	TakerPays       json.RawMessage `json:"TakerPays"`
	OfferSequence   uint32          `json:"OfferSequence"`
	SourceTag       *uint32         `json:"SourceTag"`
	DestinationTag  *uint32         `json:"DestinationTag"`
	Memos           []memoWrapper   `json:"Memos"`
	Hash            string          `json:"hash"`
	LedgerIndex     uint32          `json:"ledger_index"`
}

// ParseTransactionEntry decodes one account_tx entry (or a tx method result).
// Servers differ on envelope shape across versions: metadata arrives under
// "meta" or "metaData" and may be an unexpanded hex string; the transaction
// body arrives under "tx_json", "tx", or inline; the hash and ledger index
// live at the entry level or inside the body. All variants are accepted.
func ParseTransactionEntry(data []byte) (*Transaction, error) {
	var entry struct {
		Meta        json.RawMessage `json:"meta"`
		MetaData    json.RawMessage `json:"metaData"`
		TxJSON      json.RawMessage `json:"tx_json"`
		Tx          json.RawMessage `json:"tx"`
		Hash        string          `json:"hash"`
		LedgerIndex uint32          `json:"ledger_index"`
		Validated   bool            `json:"validated"`
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("xrpl: decode transaction entry: %w", err)
	}

	bodyRaw := entry.TxJSON
	if bodyRaw == nil {
		bodyRaw = entry.Tx
	}
	if bodyRaw == nil {
		bodyRaw = data
	}
	var body txBody
	if err := json.Unmarshal(bodyRaw, &body); err != nil {
		return nil, fmt.Errorf("xrpl: decode transaction body: %w", err)
	}

	tx := &Transaction{
		Hash:            entry.Hash,
		LedgerIndex:     entry.LedgerIndex,
		Validated:       entry.Validated,
		Account:         body.Account,
		TransactionType: body.TransactionType,
		Sequence:        body.Sequence,
		Fee:             body.Fee,
		Flags:           body.Flags,
		Date:            body.Date,
		Destination:     body.Destination,
		Amount:          body.Amount,
		TakerGets:       body.TakerGets,
		TakerPays:       body.TakerPays,
		OfferSequence:   body.OfferSequence,
		SourceTag:       body.SourceTag,
		DestinationTag:  body.DestinationTag,
		Raw:             append(json.RawMessage(nil), data...),
	}
	if tx.Amount == nil {
		tx.Amount = body.DeliverMax
	}
	if tx.Hash == "" {
		tx.Hash = body.Hash
	}
	if tx.LedgerIndex == 0 {
		tx.LedgerIndex = body.LedgerIndex
	}
	for _, m := range body.Memos {
		tx.Memos = append(tx.Memos, m.Memo)
	}

	metaRaw := entry.Meta
	if metaRaw == nil {
		metaRaw = entry.MetaData
	}
	if len(metaRaw) > 0 && metaRaw[0] == '{' {
		var meta Meta
		if err := json.Unmarshal(metaRaw, &meta); err != nil {
			return nil, fmt.Errorf("xrpl: decode metadata: %w", err)
		}
		tx.Meta = &meta
	}
	return tx, nil
}

// AccountTxRequest asks for an account's transaction history in ascending
// ledger order. A max of -1 means "up to the most recent validated ledger".
type AccountTxRequest struct {
	Account        string          `json:"account"`
	LedgerIndexMin int64           `json:"ledger_index_min"`
	LedgerIndexMax int64           `json:"ledger_index_max"`
	Forward        bool            `json:"forward"`
	Limit          int             `json:"limit,omitempty"`
	Marker         json.RawMessage `json:"marker,omitempty"`
}

// AccountTxResponse keeps entries raw so callers can archive the exact wire
// payload before decoding.
type AccountTxResponse struct {
	Account        string            `json:"account"`
	LedgerIndexMin int64             `json:"ledger_index_min"`
	LedgerIndexMax int64             `json:"ledger_index_max"`
	Limit          int               `json:"limit"`
	Transactions   []json.RawMessage `json:"transactions"`
	Marker         json.RawMessage   `json:"marker,omitempty"`
	Validated      bool              `json:"validated"`
}

// AccountOffer is one live offer from account_offers.
type AccountOffer struct {
	Flags      uint32          `json:"flags"`
	Seq        uint32          `json:"seq"`
	TakerGets  json.RawMessage `json:"taker_gets"`
	TakerPays  json.RawMessage `json:"taker_pays"`
	Quality    string          `json:"quality,omitempty"`
	Expiration uint32          `json:"expiration,omitempty"`
}

type AccountOffersRequest struct {
	Account     string          `json:"account"`
	LedgerIndex string          `json:"ledger_index,omitempty"`
	Limit       int             `json:"limit,omitempty"`
	Marker      json.RawMessage `json:"marker,omitempty"`
}

type AccountOffersResponse struct {
	Account            string          `json:"account"`
	Offers             []AccountOffer  `json:"offers"`
	LedgerCurrentIndex uint32          `json:"ledger_current_index,omitempty"`
	LedgerIndex        uint32          `json:"ledger_index,omitempty"`
	Marker             json.RawMessage `json:"marker,omitempty"`
	Validated          bool            `json:"validated"`
}

// EffectiveLedgerIndex returns whichever ledger index the server reported
// the offer snapshot against.
func (r *AccountOffersResponse) EffectiveLedgerIndex() uint32 {
	if r.LedgerIndex != 0 {
		return r.LedgerIndex
	}
	return r.LedgerCurrentIndex
}

// LedgerResponse carries the header fields used by close-time search.
type LedgerResponse struct {
	Ledger struct {
		CloseTime   int64  `json:"close_time"`
		LedgerIndex string `json:"ledger_index"`
	} `json:"ledger"`
	LedgerIndex uint32 `json:"ledger_index"`
	Validated   bool   `json:"validated"`
}
