// Package blockchain holds the Solana JSON-RPC client, wallet, blockhash
// cache, and error-translation layer shared by the rest of the engine.
package blockchain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pumpfun-trading-bot/internal/endpoint"
)

// RPCClient issues Solana JSON-RPC 2.0 calls through an endpoint pool that
// owns health tracking, rotation, and 429 back-off (internal/endpoint).
type RPCClient struct {
	pool *endpoint.Pool
}

// RPCRequest is the JSON-RPC 2.0 request format.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// RPCResponse is the JSON-RPC 2.0 response format.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error format.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// BlockhashResult is the result of getLatestBlockhash.
type BlockhashResult struct {
	Value struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	} `json:"value"`
}

// BalanceResult is the result of getBalance.
type BalanceResult struct {
	Value uint64 `json:"value"`
}

// SendTxResult is the result of sendTransaction.
type SendTxResult string

// NewRPCClient builds an RPC client over the given endpoint pool.
func NewRPCClient(pool *endpoint.Pool) *RPCClient {
	return &RPCClient{pool: pool}
}

// GetLatestBlockhash fetches the latest blockhash at confirmed commitment.
func (c *RPCClient) GetLatestBlockhash(ctx context.Context) (*BlockhashResult, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getLatestBlockhash",
		Params:  []interface{}{map[string]string{"commitment": "confirmed"}},
	}

	var result BlockhashResult
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBalance fetches the SOL balance for a public key, in lamports.
func (c *RPCClient) GetBalance(ctx context.Context, pubkey string) (uint64, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getBalance",
		Params:  []interface{}{pubkey, map[string]string{"commitment": "confirmed"}},
	}

	var result BalanceResult
	if err := c.call(ctx, req, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

// SendTransaction submits a signed, base64-encoded transaction.
func (c *RPCClient) SendTransaction(ctx context.Context, signedTx string, skipPreflight bool) (string, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sendTransaction",
		Params: []interface{}{
			signedTx,
			map[string]interface{}{
				"encoding":            "base64",
				"skipPreflight":       skipPreflight,
				"preflightCommitment": "processed",
				"maxRetries":          3,
			},
		},
	}

	var result SendTxResult
	if err := c.call(ctx, req, &result); err != nil {
		return "", err
	}
	return string(result), nil
}

// GetTokenAccountBalance fetches an SPL token account's amount and decimals.
func (c *RPCClient) GetTokenAccountBalance(ctx context.Context, tokenAccount string) (uint64, uint8, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTokenAccountBalance",
		Params:  []interface{}{tokenAccount},
	}

	var result struct {
		Value struct {
			Amount   string `json:"amount"`
			Decimals uint8  `json:"decimals"`
		} `json:"value"`
	}

	if err := c.call(ctx, req, &result); err != nil {
		// A token account that does not exist yet also surfaces as an
		// error here; the pipeline's ATA-existence check relies on that.
		return 0, 0, err
	}

	var amount uint64
	fmt.Sscanf(result.Value.Amount, "%d", &amount)
	return amount, result.Value.Decimals, nil
}

// GetAccountInfo fetches raw base64 account data, used to decode the
// bonding-curve account layout.
func (c *RPCClient) GetAccountInfo(ctx context.Context, pubkey, commitment string) ([]byte, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getAccountInfo",
		Params: []interface{}{
			pubkey,
			map[string]string{"encoding": "base64", "commitment": commitment},
		},
	}

	var result struct {
		Value *struct {
			Data []string `json:"data"`
		} `json:"value"`
	}

	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	if result.Value == nil || len(result.Value.Data) == 0 {
		return nil, fmt.Errorf("account not found: %s", pubkey)
	}

	return base64.StdEncoding.DecodeString(result.Value.Data[0])
}

func (c *RPCClient) call(ctx context.Context, req RPCRequest, result interface{}) error {
	return c.pool.Do(func(ep *endpoint.Endpoint) error {
		return c.callURL(ctx, ep.URL, req, result)
	})
}

func (c *RPCClient) callURL(ctx context.Context, url string, rpcReq RPCRequest, result interface{}) error {
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.pool.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("429 too many requests from %s", endpoint.MaskURL(url))
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	return nil
}

// LatencyMs returns estimated latency to RPC, for the health checker.
func (c *RPCClient) LatencyMs(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	start := time.Now()
	_, err := c.GetLatestBlockhash(ctx)
	if err != nil {
		return -1
	}
	return time.Since(start).Milliseconds()
}

// SignatureStatus represents the status of a transaction signature.
type SignatureStatus struct {
	Slot               uint64      `json:"slot"`
	Confirmations      *uint64     `json:"confirmations"`
	Err                interface{} `json:"err"`
	ConfirmationStatus string      `json:"confirmationStatus"`
}

// GetSignatureStatuses checks the status of transaction signatures.
func (c *RPCClient) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getSignatureStatuses",
		Params: []interface{}{
			signatures,
			map[string]bool{"searchTransactionHistory": true},
		},
	}

	var result struct {
		Value []*SignatureStatus `json:"value"`
	}
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// TokenAccountInfo holds token account data.
type TokenAccountInfo struct {
	Address  string
	Mint     string
	Amount   uint64
	Decimals uint8
}

const (
	TokenProgramID     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
)

// GetTokenAccountsByOwner fetches all token accounts for an owner. If mint
// is non-empty, filters by mint; otherwise checks both the Token Program
// and Token-2022 Program.
func (c *RPCClient) GetTokenAccountsByOwner(ctx context.Context, owner, mint string) ([]TokenAccountInfo, error) {
	if mint != "" {
		return c.fetchTokenAccounts(ctx, owner, map[string]string{"mint": mint})
	}

	accounts, err := c.fetchTokenAccounts(ctx, owner, map[string]string{"programId": TokenProgramID})
	if err != nil {
		return nil, err
	}
	accounts2022, err := c.fetchTokenAccounts(ctx, owner, map[string]string{"programId": Token2022ProgramID})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Token-2022 accounts: %w", err)
	}
	return append(accounts, accounts2022...), nil
}

func (c *RPCClient) fetchTokenAccounts(ctx context.Context, owner string, filter map[string]string) ([]TokenAccountInfo, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTokenAccountsByOwner",
		Params: []interface{}{
			owner,
			filter,
			map[string]string{"encoding": "jsonParsed"},
		},
	}

	var result struct {
		Value []struct {
			Pubkey  string `json:"pubkey"`
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							Mint        string `json:"mint"`
							TokenAmount struct {
								Amount   string `json:"amount"`
								Decimals uint8  `json:"decimals"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}

	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}

	accounts := make([]TokenAccountInfo, 0, len(result.Value))
	for _, v := range result.Value {
		var amount uint64
		fmt.Sscanf(v.Account.Data.Parsed.Info.TokenAmount.Amount, "%d", &amount)
		accounts = append(accounts, TokenAccountInfo{
			Address:  v.Pubkey,
			Mint:     v.Account.Data.Parsed.Info.Mint,
			Amount:   amount,
			Decimals: v.Account.Data.Parsed.Info.TokenAmount.Decimals,
		})
	}
	return accounts, nil
}
