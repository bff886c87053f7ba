// Package subtensor reads Bittensor subnet state over the Substrate JSON-RPC API.
package subtensor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vietddude/blockingest/internal/infra/chain"
)

// JSON-RPC error codes that indicate a malformed request rather than an
// endpoint hiccup.
var fatalCodes = map[int]bool{
	-32700: true, // parse error
	-32600: true, // invalid request
	-32601: true, // method not found
	-32602: true, // invalid params
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// client is a minimal JSON-RPC over HTTP client.
type client struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
	nextID     atomic.Int64
}

func newClient(endpoint string, timeout time.Duration) *client {
	return &client{
		endpoint: endpoint,
		timeout:  timeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// call performs one JSON-RPC request under its own timeout and decodes the
// result into out. Errors are wrapped with chain.ErrTransient or chain.ErrFatal.
func (c *client) call(ctx context.Context, method string, params []any, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if params == nil {
		params = []any{}
	}
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      c.nextID.Add(1),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", chain.ErrFatal, method, err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", chain.ErrFatal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Parent cancellation is a shutdown, not a chain failure.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", chain.ErrTransient, method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: read %s response: %v", chain.ErrTransient, method, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: rate limited (429), retry after: %s",
			chain.ErrTransient, resp.Header.Get("Retry-After"))
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: http %d: %s", chain.ErrTransient, resp.StatusCode, truncate(body))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: http %d: %s", chain.ErrFatal, resp.StatusCode, truncate(body))
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("%w: parse %s response: %v", chain.ErrTransient, method, err)
	}

	if rpcResp.Error != nil {
		if fatalCodes[rpcResp.Error.Code] {
			return fmt.Errorf("%w: %s: %v", chain.ErrFatal, method, rpcResp.Error)
		}
		return fmt.Errorf("%w: %s: %v", chain.ErrTransient, method, rpcResp.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("%w: decode %s result: %v", chain.ErrFatal, method, err)
	}
	return nil
}

func (c *client) close() {
	if t, ok := c.httpClient.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}
