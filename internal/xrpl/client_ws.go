package xrpl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsCaller speaks the WebSocket command protocol over one persistent
// connection. A mutex serializes callers; the tracker is single-threaded so
// contention never happens in practice.
type wsCaller struct {
	url     string
	timeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
}

func newWSCaller(url string, timeout time.Duration) *wsCaller {
	return &wsCaller{url: url, timeout: timeout}
}

func (w *wsCaller) dial(ctx context.Context) error {
	if w.conn != nil {
		return nil
	}
	dialer := websocket.Dialer{HandshakeTimeout: w.timeout}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("xrpl: dial %s: %w", w.url, err)
	}
	w.conn = conn
	return nil
}

func (w *wsCaller) Call(ctx context.Context, method string, params, result any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// The command protocol flattens parameters into the request frame.
	envelope := map[string]any{}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("xrpl: marshal %s request: %w", method, err)
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return fmt.Errorf("xrpl: flatten %s request: %w", method, err)
		}
	}
	w.nextID++
	id := w.nextID
	envelope["id"] = id
	envelope["command"] = method

	// Nodes drop idle connections between polling cycles, so transport
	// failures get one reconnect before surfacing.
	for attempt := 0; ; attempt++ {
		if err := w.dial(ctx); err != nil {
			return err
		}
		err := w.roundTrip(ctx, method, id, envelope, result)
		if err == nil {
			return nil
		}
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) || attempt > 0 {
			return err
		}
		w.reset()
	}
}

func (w *wsCaller) roundTrip(ctx context.Context, method string, id uint64, envelope map[string]any, result any) error {
	deadline := time.Now().Add(w.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = w.conn.SetWriteDeadline(deadline)
	if err := w.conn.WriteJSON(envelope); err != nil {
		return fmt.Errorf("xrpl: %s write: %w", method, err)
	}
	for {
		_ = w.conn.SetReadDeadline(deadline)
		var frame struct {
			ID           uint64          `json:"id"`
			Type         string          `json:"type"`
			Status       string          `json:"status"`
			Error        string          `json:"error"`
			ErrorMessage string          `json:"error_message"`
			Result       json.RawMessage `json:"result"`
		}
		if err := w.conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("xrpl: %s read: %w", method, err)
		}
		if frame.Type != "" && frame.Type != "response" {
			continue
		}
		if frame.ID != id {
			continue
		}
		if frame.Status != "" && frame.Status != "success" {
			return &RPCError{Method: method, Name: frame.Error, Message: frame.ErrorMessage}
		}
		if result == nil || len(frame.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(frame.Result, result); err != nil {
			return fmt.Errorf("xrpl: decode %s result: %w", method, err)
		}
		return nil
	}
}

func (w *wsCaller) reset() {
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
}

func (w *wsCaller) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}
