package mint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/shopspring/decimal"

	"ms-tokenomy/internal/logger"
)

var (
	// ErrChainRejected means the node definitively refused the transaction.
	// Nothing was broadcast.
	ErrChainRejected = errors.New("chain rejected transaction")
	// ErrChainTimeout means the call timed out with unknown broadcast status.
	// The transaction may or may not be on chain.
	ErrChainTimeout = errors.New("chain call timed out")
)

// ChainClient is the narrow command interface to the blockchain node. The
// coordinator holds one injected instance; there is no package-level client.
type ChainClient interface {
	SubmitMint(ctx context.Context, toAddress string, amount decimal.Decimal) (txHash string, err error)
	SubmitTransfer(ctx context.Context, fromAddress, toAddress string, amount decimal.Decimal) (txHash string, err error)
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
}

// HTTPChainClient talks to the chain gateway's JSON API.
type HTTPChainClient struct {
	BaseURL string
	ChainID string
	Client  *http.Client
	Logger  *logger.Logger
}

func NewHTTPChainClient(baseURL, chainID string, client *http.Client, log *logger.Logger) *HTTPChainClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPChainClient{BaseURL: baseURL, ChainID: chainID, Client: client, Logger: log}
}

type txRequest struct {
	ChainID string `json:"chain_id"`
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
}

type txResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error,omitempty"`
}

func (c *HTTPChainClient) SubmitMint(ctx context.Context, toAddress string, amount decimal.Decimal) (string, error) {
	return c.submit(ctx, "/v1/mint", txRequest{ChainID: c.ChainID, To: toAddress, Amount: amount.String()})
}

func (c *HTTPChainClient) SubmitTransfer(ctx context.Context, fromAddress, toAddress string, amount decimal.Decimal) (string, error) {
	return c.submit(ctx, "/v1/transfer", txRequest{ChainID: c.ChainID, From: fromAddress, To: toAddress, Amount: amount.String()})
}

func (c *HTTPChainClient) submit(ctx context.Context, path string, body txRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chain request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create chain request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		// A timeout is not a rejection: the node may have received and
		// broadcast the transaction before the deadline hit.
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			if c.Logger != nil {
				c.Logger.Error("CHAIN", fmt.Sprintf("%s timed out: %v", path, err))
			}
			return "", ErrChainTimeout
		}
		return "", fmt.Errorf("chain gateway error: %w", err)
	}
	defer resp.Body.Close()

	var result txResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("invalid chain gateway response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if c.Logger != nil {
			c.Logger.Error("CHAIN", fmt.Sprintf("%s rejected with status %d: %s", path, resp.StatusCode, result.Error))
		}
		return "", fmt.Errorf("%w: %s", ErrChainRejected, result.Error)
	}
	if result.TxHash == "" {
		return "", fmt.Errorf("%w: empty tx hash", ErrChainRejected)
	}

	return result.TxHash, nil
}

func (c *HTTPChainClient) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/v1/balance/%s", c.BaseURL, address), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create balance request: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain gateway error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("balance query failed: status %d", resp.StatusCode)
	}

	var result struct {
		Balance string `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, fmt.Errorf("invalid balance response: %w", err)
	}

	balance, err := decimal.NewFromString(result.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid balance value %q: %w", result.Balance, err)
	}
	return balance, nil
}
