// Package txengine builds, signs, submits, and verifies pump.fun buy/sell
// transactions (spec 4.K), grounded on blockchain.TransactionBuilder's
// compute-budget/blockhash wiring and RovshanMuradov/solana-bot's
// pumpfun.DEX account derivation (creator-vault PDA, buy/sell instruction
// construction).
package txengine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"pumpfun-trading-bot/internal/blockchain"
)

// Lamport-denominated constants used by the outflow guard. ATARentLamports
// is the SPL token account rent-exemption minimum at the current (long
// stable) rent schedule; BaseSignatureFeeLamports is Solana's per-signature
// base fee.
const (
	ATARentLamports          = 2_039_280
	BaseSignatureFeeLamports = 5_000
)

// Engine wires a wallet, an RPC client, and a transaction builder together
// to build, sign, submit, and verify pump.fun buy/sell transactions.
type Engine struct {
	rpc     *blockchain.RPCClient
	builder *blockchain.TransactionBuilder
	wallet  *blockchain.Wallet

	safetyMarginLamports uint64
	maxSendRetries       int
	balanceReadRetries   int
}

// NewEngine constructs a transaction engine.
func NewEngine(rpc *blockchain.RPCClient, builder *blockchain.TransactionBuilder, wallet *blockchain.Wallet, safetyMarginLamports uint64) *Engine {
	return &Engine{
		rpc:                  rpc,
		builder:              builder,
		wallet:               wallet,
		safetyMarginLamports: safetyMarginLamports,
		maxSendRetries:       3,
		balanceReadRetries:   3,
	}
}

// BuyRequest carries everything Buy needs to build, submit, and
// verify one buy-exact-SOL-in transaction.
type BuyRequest struct {
	Accounts        BuyAccounts
	LamportsIn      uint64
	MinTokensOut    uint64
	ATAExists       bool
	PriorityFeeLamports uint64
}

// BuyResult is the measured outcome of a confirmed buy, per the balance
// verification sub-spec (spec 4.K step 4).
type BuyResult struct {
	Signature          string
	ActualTokensReceived uint64
	ActualSOLSpent     uint64
	SlippagePct        float64
	OutflowEstimate    uint64
	// Verified is false when both the direct post-balance read and the
	// parsed-transaction fallback failed after a confirmed send; the
	// amounts above are then the intended/estimated values, not measured
	// ones (spec §7).
	Verified bool
}

// OutflowGuard computes expected_outflow = amount + rent_for_ATA(if
// absent) + base_signature_fee + priority_fee + safety_margin, and returns
// an error if it exceeds the current wallet balance (spec 4.K).
func (e *Engine) OutflowGuard(ctx context.Context, req BuyRequest) (uint64, error) {
	expected := req.LamportsIn + BaseSignatureFeeLamports + req.PriorityFeeLamports + e.safetyMarginLamports
	if !req.ATAExists {
		expected += ATARentLamports
	}

	balance, err := e.rpc.GetBalance(ctx, e.wallet.Address())
	if err != nil {
		return expected, fmt.Errorf("outflow guard: fetch balance: %w", err)
	}
	if balance < expected {
		return expected, fmt.Errorf("outflow guard: wallet balance %d lamports below expected outflow %d lamports", balance, expected)
	}
	return expected, nil
}

// Buy builds, signs, submits, and verifies a buy-exact-SOL-in transaction,
// prepending create-ATA when absent and compute-budget instructions ahead
// of the buy instruction itself.
func (e *Engine) Buy(ctx context.Context, req BuyRequest) (*BuyResult, error) {
	expectedOutflow, err := e.OutflowGuard(ctx, req)
	if err != nil {
		return nil, err
	}

	e.builder.SetPriorityFeeLamports(req.PriorityFeeLamports)
	setLimit, setPrice := e.builder.BuildComputeBudgetInstructions()

	instructions := []blockchain.Instruction{
		{ProgramID: blockchain.ComputeBudgetProgramID, Data: setLimit},
		{ProgramID: blockchain.ComputeBudgetProgramID, Data: setPrice},
	}
	if !req.ATAExists {
		instructions = append(instructions, BuildCreateATAInstruction(e.wallet.Address(), req.Accounts.User, req.Accounts.Mint, req.Accounts.UserATA))
	}
	instructions = append(instructions, BuildBuyInstruction(req.Accounts, req.LamportsIn, req.MinTokensOut))

	preSOL, err := e.rpc.GetBalance(ctx, e.wallet.Address())
	if err != nil {
		return nil, fmt.Errorf("snapshot pre-balance: %w", err)
	}
	preToken := uint64(0)
	if req.ATAExists {
		preToken, _, err = e.rpc.GetTokenAccountBalance(ctx, req.Accounts.UserATA)
		if err != nil {
			preToken = 0
		}
	}

	signature, err := e.sendAndConfirm(ctx, instructions)
	if err != nil {
		return nil, err
	}

	verified := true
	postSOL, postToken, err := e.readPostBalances(ctx, req.Accounts.UserATA)
	if err != nil {
		postSOL, postToken, err = e.fallbackBalancesFromTransaction(ctx, signature, true)
		if err != nil {
			log.Warn().Str("signature", signature).Err(err).
				Msg("balance verification exhausted after send, returning expected values unverified")
			return &BuyResult{
				Signature:            signature,
				ActualTokensReceived: req.MinTokensOut,
				ActualSOLSpent:       req.LamportsIn,
				SlippagePct:          0,
				OutflowEstimate:      expectedOutflow,
				Verified:             false,
			}, nil
		}
	}

	actualTokens := diffUint64(postToken, preToken)
	actualSOLSpent := diffUint64(preSOL, postSOL)

	slippage := slippagePercent(float64(req.LamportsIn), float64(actualSOLSpent))
	if absFloat(slippage) > 5.0 {
		log.Warn().Str("signature", signature).Float64("slippage_pct", slippage).
			Msg("buy slippage exceeded 5% of intended SOL spend")
	}

	if float64(actualSOLSpent) > float64(expectedOutflow)*1.20 {
		log.Warn().Str("signature", signature).Uint64("actual_sol_spent", actualSOLSpent).
			Uint64("outflow_estimate", expectedOutflow).
			Msg("actual outflow exceeded guard estimate by more than 20%, possible concurrent transaction in the balance-delta window")
	}

	return &BuyResult{
		Signature:            signature,
		ActualTokensReceived: actualTokens,
		ActualSOLSpent:       actualSOLSpent,
		SlippagePct:          slippage,
		OutflowEstimate:      expectedOutflow,
		Verified:             verified,
	}, nil
}

// SellRequest carries everything Sell needs.
type SellRequest struct {
	Accounts            SellAccounts
	TokensIn            uint64
	MinSolOut           uint64
	PriorityFeeLamports uint64
}

// SellResult is the measured outcome of a confirmed sell.
type SellResult struct {
	Signature     string
	ActualSOLReceived uint64
	SlippagePct   float64
	// Verified is false when the post-balance-and-fee read failed after a
	// confirmed send; ActualSOLReceived is then the expected (min-sol-out)
	// value, not a measured one (spec §7).
	Verified bool
}

// Sell builds, signs, submits, and verifies a sell-exact-tokens-in
// transaction. The received amount is adjusted by adding back the network
// fee extracted from parsed metadata, since the fee payer's own balance
// delta already reflects it (spec 4.K step 4).
func (e *Engine) Sell(ctx context.Context, req SellRequest) (*SellResult, error) {
	e.builder.SetPriorityFeeLamports(req.PriorityFeeLamports)
	setLimit, setPrice := e.builder.BuildComputeBudgetInstructions()

	instructions := []blockchain.Instruction{
		{ProgramID: blockchain.ComputeBudgetProgramID, Data: setLimit},
		{ProgramID: blockchain.ComputeBudgetProgramID, Data: setPrice},
		BuildSellInstruction(req.Accounts, req.TokensIn, req.MinSolOut),
	}

	preSOL, err := e.rpc.GetBalance(ctx, e.wallet.Address())
	if err != nil {
		return nil, fmt.Errorf("snapshot pre-balance: %w", err)
	}

	signature, err := e.sendAndConfirm(ctx, instructions)
	if err != nil {
		if IsBondingCurveComplete(err) {
			return nil, fmt.Errorf("token graduated off the bonding curve, cannot sell via pump.fun: %w", err)
		}
		return nil, err
	}

	postSOL, fee, err := e.readPostBalanceAndFee(ctx, signature)
	if err != nil {
		log.Warn().Str("signature", signature).Err(err).
			Msg("balance verification exhausted after send, returning expected proceeds unverified")
		return &SellResult{
			Signature:         signature,
			ActualSOLReceived: req.MinSolOut,
			SlippagePct:       0,
			Verified:          false,
		}, nil
	}

	received := diffUint64(postSOL, preSOL) + fee
	slippage := slippagePercent(float64(req.MinSolOut), float64(received))
	if absFloat(slippage) > 5.0 {
		log.Warn().Str("signature", signature).Float64("slippage_pct", slippage).
			Msg("sell slippage exceeded 5% of expected SOL proceeds")
	}

	return &SellResult{
		Signature:         signature,
		ActualSOLReceived: received,
		SlippagePct:       slippage,
		Verified:          true,
	}, nil
}

// sendAndConfirm compiles, signs, and submits instructions against the
// cached blockhash, then polls getSignatureStatuses until confirmed
// commitment or the transaction carries an execution error (spec 4.K steps
// 2-3).
func (e *Engine) sendAndConfirm(ctx context.Context, instructions []blockchain.Instruction) (string, error) {
	blockhash, err := e.builder.GetRecentBlockhash()
	if err != nil {
		return "", fmt.Errorf("fetch blockhash: %w", err)
	}

	message, err := e.builder.CompileMessage(instructions, blockhash)
	if err != nil {
		return "", fmt.Errorf("compile message: %w", err)
	}
	wireTx := e.builder.SignAndSerialize(message)

	var signature string
	var lastErr error
	for attempt := 0; attempt < e.maxSendRetries; attempt++ {
		signature, lastErr = e.rpc.SendTransaction(ctx, wireTx, false)
		if lastErr == nil {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("send transaction: %w", lastErr)
	}

	if err := e.waitForConfirmation(ctx, signature); err != nil {
		return signature, err
	}
	return signature, nil
}

func (e *Engine) waitForConfirmation(ctx context.Context, signature string) error {
	const pollInterval = 2 * time.Second
	const maxPolls = 30

	for i := 0; i < maxPolls; i++ {
		statuses, err := e.rpc.GetSignatureStatuses(ctx, []string{signature})
		if err == nil && len(statuses) == 1 && statuses[0] != nil {
			status := statuses[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed on-chain: %v", signature, status.Err)
			}
			if status.ConfirmationStatus == "confirmed" || status.ConfirmationStatus == "finalized" {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return fmt.Errorf("transaction %s not confirmed after %d polls", signature, maxPolls)
}

func (e *Engine) readPostBalances(ctx context.Context, userATA string) (sol, token uint64, err error) {
	var lastErr error
	for attempt := 0; attempt < e.balanceReadRetries; attempt++ {
		sol, err = e.rpc.GetBalance(ctx, e.wallet.Address())
		if err == nil {
			token, _, err = e.rpc.GetTokenAccountBalance(ctx, userATA)
		}
		if err == nil {
			return sol, token, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		case <-time.After(300 * time.Millisecond):
		}
	}
	return 0, 0, lastErr
}

func (e *Engine) readPostBalanceAndFee(ctx context.Context, signature string) (sol, fee uint64, err error) {
	var lastErr error
	for attempt := 0; attempt < e.balanceReadRetries; attempt++ {
		sol, err = e.rpc.GetBalance(ctx, e.wallet.Address())
		if err == nil {
			tx, txErr := e.rpc.GetParsedTransaction(ctx, signature)
			if txErr == nil && tx != nil {
				return sol, tx.Meta.Fee, nil
			}
			err = txErr
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		case <-time.After(300 * time.Millisecond):
		}
	}
	return 0, 0, lastErr
}

// fallbackBalancesFromTransaction reads the wallet owner's entries in the
// transaction's postBalances and postTokenBalances metadata, used when
// direct balance reads fail after repeated retries. The pre values come
// from Buy's pre-send snapshot; preBalances and preTokenBalances are not
// read, and an owner missing from the metadata yields zero.
func (e *Engine) fallbackBalancesFromTransaction(ctx context.Context, signature string, isBuy bool) (sol, token uint64, err error) {
	tx, err := e.rpc.GetParsedTransaction(ctx, signature)
	if err != nil || tx == nil {
		return 0, 0, fmt.Errorf("fallback: fetch parsed transaction: %w", err)
	}

	owner := e.wallet.Address()
	var ownerIndex = -1
	for i, k := range tx.Transaction.Message.AccountKeys {
		if k == owner {
			ownerIndex = i
			break
		}
	}
	if ownerIndex >= 0 && ownerIndex < len(tx.Meta.PostBalances) {
		sol = tx.Meta.PostBalances[ownerIndex]
	}

	for _, bal := range tx.Meta.PostTokenBalances {
		if bal.Owner == owner {
			var amount uint64
			fmt.Sscanf(bal.UITokenAmount.Amount, "%d", &amount)
			token = amount
			break
		}
	}

	return sol, token, nil
}

func diffUint64(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

func slippagePercent(expected, actual float64) float64 {
	if expected == 0 {
		return 0
	}
	return (actual - expected) / expected * 100
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
