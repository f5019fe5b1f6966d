// Package ledger implements the gateway to the external ledger's JSON-RPC
// node: account fetches over HTTP with bounded exponential backoff, and an
// optional websocket change-notification subscriber.
package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/plp-labs/marketsync/internal/domain"
)

const (
	// getMultipleAccountsLimit is the node-side cap on addresses per batch
	// request.
	getMultipleAccountsLimit = 100

	// rpcCodeRateLimited is the JSON-RPC error code some nodes return
	// instead of HTTP 429.
	rpcCodeRateLimited = -32429
)

// ClientConfig holds connection parameters for the RPC client.
type ClientConfig struct {
	RPCURL         string
	Commitment     string // "confirmed" or "finalized"
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Client is a JSON-RPC client for the ledger node. It implements
// domain.LedgerGateway. All transport failures are retried with bounded
// exponential backoff; once retries are exhausted the call fails with
// domain.ErrLedgerUnavailable.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a ledger RPC client. Zero config fields fall back to
// conservative defaults.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.Commitment == "" {
		cfg.Commitment = "confirmed"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: logger.With(slog.String("component", "ledger")),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
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

// rpcContext carries the slot at which the node observed the response.
type rpcContext struct {
	Slot uint64 `json:"slot"`
}

// rpcAccount is the node's encoded account value; Data is a
// [payload, encoding] pair.
type rpcAccount struct {
	Data     [2]string `json:"data"`
	Owner    string    `json:"owner"`
	Lamports uint64    `json:"lamports"`
}

func (a *rpcAccount) toInfo(slot uint64) (domain.AccountInfo, error) {
	raw, err := base64.StdEncoding.DecodeString(a.Data[0])
	if err != nil {
		return domain.AccountInfo{}, fmt.Errorf("ledger: decode account data: %w", err)
	}
	info := domain.AccountInfo{
		Data:     raw,
		Slot:     slot,
		Lamports: a.Lamports,
	}
	if a.Owner != "" {
		owner, err := domain.ParseAddress(a.Owner)
		if err != nil {
			return domain.AccountInfo{}, err
		}
		info.Owner = owner
	}
	return info, nil
}

// call performs one JSON-RPC method call with retries. Transient transport
// failures, HTTP 429/5xx, and node rate-limit errors are retried; anything
// left after the final attempt surfaces as domain.ErrLedgerUnavailable.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("ledger: marshal %s request: %w", method, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryBaseDelay << (attempt - 1)
			if delay > c.cfg.RetryMaxDelay {
				delay = c.cfg.RetryMaxDelay
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("ledger: %s: %w", method, ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = c.callOnce(ctx, method, body, out)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		c.logger.Debug("rpc call retrying",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()),
		)
	}

	return fmt.Errorf("ledger: %s after %d attempts: %v: %w",
		method, c.cfg.MaxRetries+1, lastErr, domain.ErrLedgerUnavailable)
}

func (c *Client) callOnce(ctx context.Context, method string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ledger: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("ledger: %s: %w", method, domain.ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ledger: %s: unexpected status %d: %s", method, resp.StatusCode, string(respBody))
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("ledger: %s: decode response: %w", method, err)
	}
	if envelope.Error != nil {
		if envelope.Error.Code == rpcCodeRateLimited {
			return fmt.Errorf("ledger: %s: %v: %w", method, envelope.Error, domain.ErrRateLimited)
		}
		return fmt.Errorf("ledger: %s: %w", method, envelope.Error)
	}

	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("ledger: %s: decode result: %w", method, err)
	}
	return nil
}

// retryable reports whether an error is worth another attempt.
func retryable(err error) bool {
	if errors.Is(err, domain.ErrRateLimited) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) {
		// Node-side errors other than rate limiting are not transient.
		return false
	}
	// 5xx and malformed responses get another try.
	return true
}

// GetAccount fetches the current bytes of one account. A null value from
// the node means the account does not exist (or was closed) and surfaces
// as domain.ErrNotFound.
func (c *Client) GetAccount(ctx context.Context, addr domain.Address) (domain.AccountInfo, error) {
	var result struct {
		Context rpcContext  `json:"context"`
		Value   *rpcAccount `json:"value"`
	}

	params := []any{
		addr.String(),
		map[string]string{"encoding": "base64", "commitment": c.cfg.Commitment},
	}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return domain.AccountInfo{}, err
	}

	if result.Value == nil {
		return domain.AccountInfo{}, fmt.Errorf("ledger: account %s: %w", addr, domain.ErrNotFound)
	}
	return result.Value.toInfo(result.Context.Slot)
}

// GetAccounts fetches several accounts in one or more batch requests.
// Missing accounts are absent from the returned map.
func (c *Client) GetAccounts(ctx context.Context, addrs []domain.Address) (map[domain.Address]domain.AccountInfo, error) {
	infos := make(map[domain.Address]domain.AccountInfo, len(addrs))

	for start := 0; start < len(addrs); start += getMultipleAccountsLimit {
		end := min(start+getMultipleAccountsLimit, len(addrs))
		chunk := addrs[start:end]

		encoded := make([]string, len(chunk))
		for i, a := range chunk {
			encoded[i] = a.String()
		}

		var result struct {
			Context rpcContext    `json:"context"`
			Value   []*rpcAccount `json:"value"`
		}
		params := []any{
			encoded,
			map[string]string{"encoding": "base64", "commitment": c.cfg.Commitment},
		}
		if err := c.call(ctx, "getMultipleAccounts", params, &result); err != nil {
			return nil, err
		}

		for i, acc := range result.Value {
			if acc == nil || i >= len(chunk) {
				continue
			}
			info, err := acc.toInfo(result.Context.Slot)
			if err != nil {
				return nil, err
			}
			infos[chunk[i]] = info
		}
	}

	return infos, nil
}

// Compile-time interface check.
var _ domain.LedgerGateway = (*Client)(nil)
