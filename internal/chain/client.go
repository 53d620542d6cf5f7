// Package chain provides Solana JSON-RPC interaction for payment
// verification and treasury refunds.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// ErrTransactionNotFound signals the signature is unknown to the cluster.
var ErrTransactionNotFound = errors.New("transaction not found")

// TransferInfo is the distilled result of a transaction lookup: who paid,
// how much landed in the treasury, and whether execution succeeded.
// Confirmations is the slot depth below the cluster tip, best-effort: it
// stays 0 when the current-slot probe fails.
type TransferInfo struct {
	Signature        string
	Sender           string
	AmountToTreasury int64 // lamports credited to the treasury account
	Slot             uint64
	Confirmations    int64
	Failed           bool
	FailureReason    string
}

// Config holds client configuration.
type Config struct {
	RPCURL   string
	Treasury string // treasury account address receiving payments
	Timeout  time.Duration
}

// Client is a minimal Solana JSON-RPC client.
type Client struct {
	rpcURL     string
	treasury   string
	httpClient *http.Client
}

// NewClient creates a Solana RPC client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	if cfg.Treasury == "" {
		return nil, fmt.Errorf("treasury address required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		rpcURL:   cfg.RPCURL,
		treasury: cfg.Treasury,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Call makes a JSON-RPC call to the configured node.
func (c *Client) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// LookupTransaction fetches a confirmed transaction by signature and
// distils the lamport transfer to the treasury account out of the balance
// deltas in the transaction meta.
func (c *Client) LookupTransaction(ctx context.Context, signature string) (TransferInfo, error) {
	result, err := c.Call(ctx, "getTransaction", []any{
		signature,
		map[string]any{"encoding": "json", "commitment": "confirmed", "maxSupportedTransactionVersion": 0},
	})
	if err != nil {
		return TransferInfo{}, fmt.Errorf("getTransaction: %w", err)
	}

	parsed := gjson.ParseBytes(result)
	if !parsed.Exists() || parsed.Type == gjson.Null {
		return TransferInfo{}, ErrTransactionNotFound
	}

	info := TransferInfo{
		Signature: signature,
		Slot:      parsed.Get("slot").Uint(),
	}

	if errField := parsed.Get("meta.err"); errField.Exists() && errField.Type != gjson.Null {
		info.Failed = true
		info.FailureReason = errField.Raw
	}

	keys := parsed.Get("transaction.message.accountKeys").Array()
	if len(keys) > 0 {
		// The fee payer is the first account key and is treated as the sender.
		info.Sender = keys[0].String()
	}

	pre := parsed.Get("meta.preBalances").Array()
	post := parsed.Get("meta.postBalances").Array()
	for i, key := range keys {
		if key.String() != c.treasury {
			continue
		}
		if i < len(pre) && i < len(post) {
			info.AmountToTreasury = post[i].Int() - pre[i].Int()
		}
		break
	}

	if info.Slot > 0 {
		if current, err := c.GetSlot(ctx); err == nil && current >= info.Slot {
			info.Confirmations = int64(current-info.Slot) + 1
		}
	}

	return info, nil
}

// GetSlot returns the cluster's current confirmed slot.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "getSlot", []any{
		map[string]any{"commitment": "confirmed"},
	})
	if err != nil {
		return 0, err
	}
	var slot uint64
	if err := json.Unmarshal(result, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

// Treasury returns the configured treasury account address.
func (c *Client) Treasury() string { return c.treasury }
