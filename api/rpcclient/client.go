// Package rpcclient implements the HTTP transport to the recovery
// authority and maps transport and protocol failures onto the api error
// taxonomy.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/atomic"

	"github.com/candinet/account-recovery-backend/api"
)

// maxResponseSize caps authority response bodies (1MB).
const maxResponseSize = 1024 * 1024

// Client issues JSON-RPC calls against one authority endpoint. The zero
// value is not usable; construct with New.
type Client struct {
	baseURL    string
	httpClient *http.Client
	nextID     atomic.Uint64
}

// New creates a client for the authority at baseURL.
//
// Parameters:
//   - baseURL: The authority's base URL (e.g., "https://recovery.example.org")
//   - timeout: Request timeout duration (optional, default 30 seconds)
func New(baseURL string, timeout ...time.Duration) *Client {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcErrorBody   `json:"error"`
}

// Call invokes one authority method and decodes its result into result
// (which may be nil for methods without a payload).
//
// Failure mapping:
//   - transport errors wrap the cause under api.ErrKindTransport
//   - non-200 statuses map onto their HTTP-derived kinds
//   - authority error codes map onto the domain taxonomy; unrecognized
//     codes surface as api.ErrKindUnknown, never silently dropped
//   - replies that do not match the expected shape fail the whole call
//     with api.ErrKindBadData
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Inc(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("%s: could not marshal request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+api.RPCPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: could not initialize request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", method, api.NewError(api.ErrKindTransport, "authority unreachable"), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%s: %w: %w", method, api.NewError(api.ErrKindTransport, "could not read authority response"), err)
	}

	if resp.StatusCode != http.StatusOK {
		kind := api.KindFromHTTPStatus(resp.StatusCode)
		return fmt.Errorf("%s: %w", method, &api.Error{
			Kind:    kind,
			Message: fmt.Sprintf("authority returned status %d: %s", resp.StatusCode, truncate(respBody)),
		})
	}

	var parsed rpcResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("%s: %w: %w", method, api.NewError(api.ErrKindBadData, "authority response is not valid JSON-RPC"), err)
	}

	if parsed.Error != nil {
		return fmt.Errorf("%s: %w", method, &api.Error{
			Kind:    api.KindFromRPCCode(parsed.Error.Code),
			Code:    parsed.Error.Code,
			Message: parsed.Error.Message,
		})
	}

	if result != nil {
		if len(parsed.Result) == 0 {
			return fmt.Errorf("%s: %w", method, api.NewError(api.ErrKindBadData, "authority response carries no result"))
		}
		if err := json.Unmarshal(parsed.Result, result); err != nil {
			return fmt.Errorf("%s: %w: %w", method, api.NewError(api.ErrKindBadData, "authority result does not match expected shape"), err)
		}
	}

	return nil
}

// truncate keeps error messages readable when the authority returns a
// large non-JSON body.
func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
