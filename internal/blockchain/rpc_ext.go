package blockchain

import (
	"context"
	"encoding/json"
)

// GetAllTokenAccounts fetches all SPL token accounts (Token Program only)
// for an owner; kept for callers that don't need the Token-2022 sweep.
func (c *RPCClient) GetAllTokenAccounts(ctx context.Context, owner string) ([]TokenAccountInfo, error) {
	return c.fetchTokenAccounts(ctx, owner, map[string]string{"programId": TokenProgramID})
}

// GetSignaturesForAddress fetches confirmed signatures for an address,
// newest first, used as the fallback momentum proxy (spec 4.I stage 3,
// 4.G step 4 fallback) and as the "buys since creation" approximation.
func (c *RPCClient) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getSignaturesForAddress",
		Params: []interface{}{
			address,
			map[string]interface{}{"limit": limit, "commitment": "confirmed"},
		},
	}

	var result []SignatureInfo
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// SignatureInfo is one entry of getSignaturesForAddress.
type SignatureInfo struct {
	Signature string      `json:"signature"`
	Slot      uint64      `json:"slot"`
	Err       interface{} `json:"err"`
	BlockTime *int64      `json:"blockTime"`
}

// ParsedTransaction is the subset of getParsedTransaction/getTransaction's
// response the listener and the transaction layer need: account keys,
// instructions (outer and inner), log messages, and pre/post balances for
// balance-delta verification.
type ParsedTransaction struct {
	Slot uint64 `json:"slot"`
	Meta struct {
		Err               interface{}   `json:"err"`
		LogMessages       []string      `json:"logMessages"`
		PreBalances       []uint64      `json:"preBalances"`
		PostBalances      []uint64      `json:"postBalances"`
		PreTokenBalances  []TokenBalance `json:"preTokenBalances"`
		PostTokenBalances []TokenBalance `json:"postTokenBalances"`
		Fee               uint64        `json:"fee"`
		InnerInstructions []struct {
			Index        int                 `json:"index"`
			Instructions []ParsedInstruction `json:"instructions"`
		} `json:"innerInstructions"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			AccountKeys  []string            `json:"accountKeys"`
			Instructions []ParsedInstruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// TokenBalance is one entry of pre/postTokenBalances.
type TokenBalance struct {
	AccountIndex int    `json:"accountIndex"`
	Mint         string `json:"mint"`
	Owner        string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals uint8  `json:"decimals"`
	} `json:"uiTokenAmount"`
}

// ParsedInstruction is one instruction as returned by getParsedTransaction
// with jsonParsed encoding; ProgramID and Accounts are populated for
// "raw" (non-parsed-program) instructions, which is what the bonding-curve
// program always returns since it has no known IDL to the RPC node.
type ParsedInstruction struct {
	ProgramID string   `json:"programId"`
	Accounts  []string `json:"accounts"`
	Data      string   `json:"data"`
}

// GetParsedTransaction fetches a confirmed transaction with jsonParsed
// encoding at max supported version 0.
func (c *RPCClient) GetParsedTransaction(ctx context.Context, signature string) (*ParsedTransaction, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTransaction",
		Params: []interface{}{
			signature,
			map[string]interface{}{
				"encoding":                       "jsonParsed",
				"commitment":                     "confirmed",
				"maxSupportedTransactionVersion": 0,
			},
		},
	}

	var result ParsedTransaction
	raw := json.RawMessage{}
	if err := c.call(ctx, req, &raw); err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// EpochInfo is the result of getEpochInfo, used for transfer-fee epoch math.
type EpochInfo struct {
	Epoch     uint64 `json:"epoch"`
	SlotIndex uint64 `json:"slotIndex"`
}

func (c *RPCClient) GetEpochInfo(ctx context.Context) (*EpochInfo, error) {
	req := RPCRequest{JSONRPC: "2.0", ID: 1, Method: "getEpochInfo"}
	var result EpochInfo
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PrioritizationFee is one entry of getRecentPrioritizationFees.
type PrioritizationFee struct {
	Slot              uint64 `json:"slot"`
	PrioritizationFee uint64 `json:"prioritizationFee"`
}

// GetRecentPrioritizationFees samples recent per-compute-unit fees paid on
// the given accounts (the bonding-curve program address), used by the
// dynamic priority-fee estimator (spec 4.K).
func (c *RPCClient) GetRecentPrioritizationFees(ctx context.Context, accounts []string) ([]PrioritizationFee, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getRecentPrioritizationFees",
		Params:  []interface{}{accounts},
	}

	var result []PrioritizationFee
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	return result, nil
}
