package xrpl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// RPCError is a failure reported by the server inside a well-formed
// response, e.g. actNotFound or lgrNotFound.
type RPCError struct {
	Method  string
	Name    string
	Message string
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("xrpl: %s failed: %s (%s)", e.Method, e.Name, e.Message)
	}
	return fmt.Sprintf("xrpl: %s failed: %s", e.Method, e.Name)
}

// Caller performs one JSON-RPC request against a ledger node.
type Caller interface {
	Call(ctx context.Context, method string, params, result any) error
	Close() error
}

// Client wraps a Caller with the typed requests the tracker issues.
type Client struct {
	caller  Caller
	timeout time.Duration

	// OnCall observes every request outcome when set. Wired to metrics.
	OnCall func(method string, err error)
}

// Dial connects to a ledger node. The URL scheme selects the transport:
// http(s) issues single-shot POST requests, ws(s) keeps one persistent
// connection speaking the command protocol.
func Dial(rawurl string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("xrpl: parse rpc url: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var caller Caller
	switch u.Scheme {
	case "http", "https":
		caller = newHTTPCaller(rawurl, timeout)
	case "ws", "wss":
		caller = newWSCaller(rawurl, timeout)
	default:
		return nil, fmt.Errorf("xrpl: unsupported rpc scheme %q", u.Scheme)
	}
	return &Client{caller: caller, timeout: timeout}, nil
}

// NewClient wraps an existing caller. Tests inject scripted callers here.
func NewClient(caller Caller) *Client {
	return &Client{caller: caller, timeout: 30 * time.Second}
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := c.caller.Call(ctx, method, params, result)
	if c.OnCall != nil {
		c.OnCall(method, err)
	}
	return err
}

// AccountTx fetches one page of an account's transaction history.
func (c *Client) AccountTx(ctx context.Context, req *AccountTxRequest) (*AccountTxResponse, error) {
	var resp AccountTxResponse
	if err := c.call(ctx, "account_tx", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AccountOffers fetches one page of an account's live offers.
func (c *Client) AccountOffers(ctx context.Context, req *AccountOffersRequest) (*AccountOffersResponse, error) {
	var resp AccountOffersResponse
	if err := c.call(ctx, "account_offers", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Tx fetches a single transaction with expanded metadata.
func (c *Client) Tx(ctx context.Context, hash string) (*Transaction, error) {
	params := map[string]any{"transaction": hash, "binary": false}
	var raw json.RawMessage
	if err := c.call(ctx, "tx", params, &raw); err != nil {
		return nil, err
	}
	return ParseTransactionEntry(raw)
}

// Ledger fetches a ledger header by index.
func (c *Client) Ledger(ctx context.Context, index uint32) (*LedgerResponse, error) {
	params := map[string]any{"ledger_index": index, "transactions": false, "expand": false}
	var resp LedgerResponse
	if err := c.call(ctx, "ledger", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ValidatedLedger fetches the most recent validated ledger header.
func (c *Client) ValidatedLedger(ctx context.Context) (*LedgerResponse, error) {
	params := map[string]any{"ledger_index": "validated", "transactions": false, "expand": false}
	var resp LedgerResponse
	if err := c.call(ctx, "ledger", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping probes server liveness.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", map[string]any{}, &struct{}{})
}

func (c *Client) Close() error {
	return c.caller.Close()
}

// httpCaller posts {"method": m, "params": [params]} envelopes.
type httpCaller struct {
	url    string
	client *http.Client
}

func newHTTPCaller(url string, timeout time.Duration) *httpCaller {
	return &httpCaller{url: url, client: &http.Client{Timeout: timeout}}
}

type rpcStatus struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

func (h *httpCaller) Call(ctx context.Context, method string, params, result any) error {
	envelope := struct {
		Method string `json:"method"`
		Params []any  `json:"params"`
	}{Method: method}
	if params != nil {
		envelope.Params = []any{params}
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("xrpl: marshal %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("xrpl: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("xrpl: %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("xrpl: %s: unexpected status %s", method, resp.Status)
	}
	var outer struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&outer); err != nil {
		return fmt.Errorf("xrpl: decode %s response: %w", method, err)
	}
	return decodeResult(method, outer.Result, result)
}

func (h *httpCaller) Close() error {
	return nil
}

// decodeResult checks the embedded status and unmarshals the payload.
func decodeResult(method string, raw json.RawMessage, result any) error {
	if len(raw) == 0 {
		return fmt.Errorf("xrpl: %s: empty result", method)
	}
	var status rpcStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return fmt.Errorf("xrpl: decode %s status: %w", method, err)
	}
	if status.Error != "" || (status.Status != "" && status.Status != "success") {
		name := status.Error
		if name == "" {
			name = status.Status
		}
		return &RPCError{Method: method, Name: name, Message: status.ErrorMessage}
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("xrpl: decode %s result: %w", method, err)
	}
	return nil
}
