package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"pumpfun-trading-bot/internal/curve"
	"pumpfun-trading-bot/internal/listener"
	"pumpfun-trading-bot/internal/store"
	"pumpfun-trading-bot/internal/txengine"
)

// stageCheapGates implements spec 4.I stage 1: local-state-only checks
// cheap enough to run before any RPC round trip.
func (e *Engine) stageCheapGates(token listener.DetectedToken, poolID string) ([]StageResult, string) {
	var results []StageResult

	seen, err := e.db.HasSeenPool(poolID)
	check := StageResult{Name: "not_seen_pool", Checked: true, Passed: !seen}
	if err == nil && seen {
		check.Detail = "pool already processed"
		results = append(results, check)
		return results, "already_seen"
	}
	results = append(results, check)

	blacklisted := e.blacklist.IsBlacklisted(token.Mint) || e.blacklist.IsBlacklisted(token.Creator)
	check = StageResult{Name: "not_blacklisted", Checked: true, Passed: !blacklisted}
	if blacklisted {
		check.Detail = "mint or creator blacklisted"
		results = append(results, check)
		return results, "blacklisted"
	}
	results = append(results, check)

	held := e.exposure.HasPosition(token.Mint)
	check = StageResult{Name: "not_already_held", Checked: true, Passed: !held}
	if held {
		check.Detail = "position already open for this mint"
		results = append(results, check)
		return results, "already_held"
	}
	results = append(results, check)

	requestedSOL := float64(e.cfg.QuoteAmountLamports) / curve.LamportsPerSOL
	exposureReason := e.exposure.CheckBuy(token.Mint, requestedSOL)
	check = StageResult{Name: "exposure_guards", Checked: true, Passed: exposureReason == ""}
	if exposureReason != "" {
		check.Detail = exposureReason
		results = append(results, check)
		return results, exposureReason
	}
	results = append(results, check)

	return results, ""
}

// stageDeepFilters implements spec 4.I stage 2: one bonding-curve fetch,
// graduation/min-max/score filtering, recorded verbatim into
// filter_results.
func (e *Engine) stageDeepFilters(ctx context.Context, token listener.DetectedToken) (*curve.State, []StageResult, string) {
	start := time.Now()
	var results []StageResult

	data, err := e.rpc.GetAccountInfo(ctx, token.BondingCurvePDA, "confirmed")
	if err != nil {
		results = append(results, StageResult{Name: "fetch_bonding_curve", Checked: true, Passed: false, Detail: err.Error(), DurationMs: elapsedMs(start)})
		return nil, results, "rpc_error"
	}
	state, err := curve.Decode(data)
	if err != nil {
		results = append(results, StageResult{Name: "fetch_bonding_curve", Checked: true, Passed: false, Detail: err.Error(), DurationMs: elapsedMs(start)})
		return nil, results, "decode_error"
	}
	results = append(results, StageResult{Name: "fetch_bonding_curve", Checked: true, Passed: true, DurationMs: elapsedMs(start)})

	graduationCheck := StageResult{Name: "graduation_check", Checked: true, Passed: !state.Complete}
	if state.Complete {
		graduationCheck.Detail = "bonding curve already complete"
		results = append(results, graduationCheck)
		return state, results, "already_graduated"
	}
	results = append(results, graduationCheck)

	solInCurve := curve.SolInCurve(state)
	if e.cfg.EnableMinMax {
		inRange := solInCurve >= e.cfg.MinSolInCurve && solInCurve <= e.cfg.MaxSolInCurve
		rangeCheck := StageResult{
			Name:    "sol_in_curve_range",
			Checked: true,
			Passed:  inRange,
			Detail:  fmt.Sprintf("sol_in_curve=%.4f range=[%.4f,%.4f]", solInCurve, e.cfg.MinSolInCurve, e.cfg.MaxSolInCurve),
		}
		results = append(results, rangeCheck)
		if !inRange {
			return state, results, "sol_in_curve_out_of_range"
		}
	}

	if e.cfg.EnableScore {
		score := scoreToken(state, solInCurve)
		scoreCheck := StageResult{
			Name:    "min_score",
			Checked: true,
			Passed:  score >= e.cfg.MinScoreRequired,
			Detail:  fmt.Sprintf("score=%d required=%d", score, e.cfg.MinScoreRequired),
		}
		results = append(results, scoreCheck)
		if score < e.cfg.MinScoreRequired {
			return state, results, "score_too_low"
		}
	}

	return state, results, ""
}

// scoreToken produces a 0-100 heuristic score from curve reserves. Higher
// real-SOL depth and a larger share of the total token supply no longer in
// the real token reserves (more trading activity already absorbed) score
// higher; this is the pipeline's
// only consumer of the deep-filter score gate, so the exact weights are
// local to this file.
func scoreToken(state *curve.State, solInCurve float64) int {
	score := 0
	switch {
	case solInCurve >= 30:
		score += 50
	case solInCurve >= 10:
		score += 35
	case solInCurve >= 3:
		score += 20
	default:
		score += 5
	}

	if state.VirtualTokenReserves > 0 {
		absorbed := float64(state.TokenTotalSupply-state.RealTokenReserves) / float64(state.TokenTotalSupply)
		score += int(absorbed * 50)
	}

	if score > 100 {
		score = 100
	}
	return score
}

// stageMomentumGate implements spec 4.I stage 3: sleep, re-check buy count
// since creation, accept on threshold or exhausted checks.
//
// Momentum measurement proxy: pump.fun's bonding-curve account exposes no
// "total buys" field, so this counts confirmed signatures against the
// bonding-curve PDA since detection via getSignaturesForAddress, per the
// documented approximation.
func (e *Engine) stageMomentumGate(ctx context.Context, token listener.DetectedToken) string {
	if !e.cfg.MomentumEnabled {
		return ""
	}

	select {
	case <-ctx.Done():
		return "shutdown"
	case <-time.After(time.Duration(e.cfg.MomentumInitialDelayMs) * time.Millisecond):
	}

	for check := 1; check <= e.cfg.MomentumMaxChecks; check++ {
		if e.isShutdown() {
			return "shutdown"
		}

		sigs, err := e.rpc.GetSignaturesForAddress(ctx, token.BondingCurvePDA, 1000)
		totalBuys := 0
		if err == nil {
			totalBuys = len(sigs)
		}

		if totalBuys >= e.cfg.MomentumMinTotalBuys {
			return ""
		}

		if check >= e.cfg.MomentumMaxChecks {
			return ""
		}

		select {
		case <-ctx.Done():
			return "shutdown"
		case <-time.After(time.Duration(e.cfg.MomentumRecheckIntervalMs) * time.Millisecond):
		}
	}

	return ""
}

// stageBuy implements spec 4.I stage 4: build exact buy quote and hand off
// to the transaction layer.
func (e *Engine) stageBuy(ctx context.Context, token listener.DetectedToken, state *curve.State) (string, error) {
	_, minTokensOut, err := curve.BuyQuote(state, e.cfg.QuoteAmountLamports, e.cfg.FeeConfig, 0, e.cfg.BuySlippageBps)
	if err != nil {
		return "", fmt.Errorf("compute buy quote: %w", err)
	}

	intendedSOL := float64(e.cfg.QuoteAmountLamports) / curve.LamportsPerSOL
	tradeID, tradeErr := e.db.RecordTradeIntent(&store.Trade{
		Side:      "buy",
		TokenMint: token.Mint,
		AmountSOL: intendedSOL,
		TS:        time.Now().UnixMilli(),
		PoolID:    token.Signature,
		IntentTS:  time.Now().UnixMilli(),
	})
	if tradeErr != nil {
		log.Error().Err(tradeErr).Str("mint", token.Mint).Msg("failed to record buy trade intent")
	}
	failTrade := func(cause error) {
		if tradeErr == nil {
			if err := e.db.FailTrade(tradeID, cause.Error()); err != nil {
				log.Error().Err(err).Str("mint", token.Mint).Msg("failed to mark trade intent failed")
			}
		}
	}

	priorityFee := txengine.EstimatePriorityFee(ctx, e.rpc, []string{token.BondingCurvePDA}, txengine.FeePolicy{
		UseDynamicFee:  e.cfg.UseDynamicFee,
		Percentile:     e.cfg.FeePercentile,
		MinLamports:    e.cfg.MinFeeLamports,
		MaxLamports:    e.cfg.MaxFeeLamports,
		StaticLamports: e.cfg.StaticFeeLamports,
	})

	accounts, err := txengine.ResolveBuyAccounts(token.Mint, token.BondingCurvePDA, token.AssociatedCurve, creatorBase58(state), e.wallet.Address())
	if err != nil {
		failTrade(err)
		return "", fmt.Errorf("resolve buy accounts: %w", err)
	}

	ataExists := false
	if _, _, balErr := e.rpc.GetTokenAccountBalance(ctx, accounts.UserATA); balErr == nil {
		ataExists = true
	}

	result, err := e.txengine.Buy(ctx, txengine.BuyRequest{
		Accounts:            accounts,
		LamportsIn:          e.cfg.QuoteAmountLamports,
		MinTokensOut:        minTokensOut,
		ATAExists:           ataExists,
		PriorityFeeLamports: priorityFee,
	})
	if err != nil {
		failTrade(err)
		return "", err
	}

	entrySOL := float64(result.ActualSOLSpent) / curve.LamportsPerSOL
	entryPrice := 0.0
	if result.ActualTokensReceived > 0 {
		entryPrice = entrySOL / float64(result.ActualTokensReceived)
	}

	if tradeErr == nil {
		if err := e.db.ConfirmTrade(tradeID, entrySOL, result.ActualTokensReceived, entryPrice, result.Signature, time.Now().UnixMilli()); err != nil {
			log.Error().Err(err).Str("mint", token.Mint).Msg("failed to confirm buy trade")
		}
	}

	e.exposure.RecordOpen(token.Mint, entrySOL, token.Signature)

	if e.audit != nil {
		e.audit.RecordBuy(token.Mint, intendedSOL, entrySOL, minTokensOut, result.ActualTokensReceived, result.Verified)
	}

	if _, err := e.db.InsertPosition(&store.Position{
		TokenMint:       token.Mint,
		BondingCurvePDA: token.BondingCurvePDA,
		AssociatedCurve: token.AssociatedCurve,
		Creator:         creatorBase58(state),
		IntendedSOL:     intendedSOL,
		EntryPrice:      entryPrice,
		AmountToken:     result.ActualTokensReceived,
		AmountSOL:       entrySOL,
		EntryTS:         time.Now().UnixMilli(),
		PoolID:          token.Signature,
		Status:          "open",
	}); err != nil {
		// Position bookkeeping failure doesn't roll back a confirmed buy;
		// the monitor won't track this position, but the audit trail and
		// exposure manager already reflect it.
	}

	return result.Signature, nil
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
