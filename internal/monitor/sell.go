package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"pumpfun-trading-bot/internal/curve"
	"pumpfun-trading-bot/internal/store"
	"pumpfun-trading-bot/internal/txengine"
)

// ExecuteSellWithRetry is the trigger consumer's sell-retry loop (spec
// 4.J): up to RetryMaxAttempts attempts with RetryBackoff between them,
// expanding slippage to RetrySellSlippageBps (>= 50%) on every attempt; on
// final failure the position is closed with reason "sell_abandoned" and
// kept for audit rather than retried forever.
func (m *Monitor) ExecuteSellWithRetry(ctx context.Context, trig Trigger, pos *store.Position) error {
	attempts := m.cfg.RetryMaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := m.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	var lastErr error
retryLoop:
	for attempt := 1; attempt <= attempts; attempt++ {
		receivedSOL, expectedSOL, verified, err := m.attemptSell(ctx, pos)
		if err == nil {
			now := time.Now()
			if closeErr := m.db.ClosePosition(pos.ID, now.UnixMilli(), trig.Kind, receivedSOL); closeErr != nil {
				log.Error().Err(closeErr).Str("mint", pos.TokenMint).Msg("failed to persist position close after confirmed sell")
			}
			m.exposure.RecordClose(pos.TokenMint)
			if m.audit != nil {
				m.audit.RecordSell(pos.TokenMint, expectedSOL, receivedSOL, verified)
			}
			return nil
		}

		if txengine.IsBondingCurveComplete(err) {
			txErr := txengine.ClassifyError(err)
			log.Warn().Str("mint", pos.TokenMint).Str("action", txErr.Action).Msg(txErr.Message)
			now := time.Now()
			if closeErr := m.db.ClosePosition(pos.ID, now.UnixMilli(), "graduated", 0); closeErr != nil {
				log.Error().Err(closeErr).Str("mint", pos.TokenMint).Msg("failed to persist position close after mid-retry graduation")
			}
			m.exposure.RecordClose(pos.TokenMint)
			return fmt.Errorf("position %s graduated off the bonding curve mid-retry, abandoning sell: %w", pos.TokenMint, err)
		}

		lastErr = err
		log.Warn().Err(err).Str("mint", pos.TokenMint).Int("attempt", attempt).Int("max_attempts", attempts).
			Msg("sell attempt failed")

		if attempt < attempts {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break retryLoop
			case <-time.After(backoff):
			}
		}
	}

	now := time.Now()
	if closeErr := m.db.ClosePosition(pos.ID, now.UnixMilli(), "sell_abandoned", 0); closeErr != nil {
		log.Error().Err(closeErr).Str("mint", pos.TokenMint).Msg("failed to persist sell_abandoned close")
	}
	m.exposure.RecordClose(pos.TokenMint)
	return fmt.Errorf("sell abandoned for %s after %d attempts: %w", pos.TokenMint, attempts, lastErr)
}

// attemptSell builds, submits, and verifies one sell-exact-tokens-in
// transaction against freshly re-fetched bonding-curve state, with
// slippage expanded to RetrySellSlippageBps to maximize exit probability.
func (m *Monitor) attemptSell(ctx context.Context, pos *store.Position) (receivedSOL, expectedSOL float64, verified bool, err error) {
	data, err := m.rpc.GetAccountInfo(ctx, pos.BondingCurvePDA, "confirmed")
	if err != nil {
		return 0, 0, false, fmt.Errorf("refetch bonding curve: %w", err)
	}
	state, err := curve.Decode(data)
	if err != nil {
		return 0, 0, false, fmt.Errorf("decode bonding curve: %w", err)
	}

	slippageBps := m.cfg.RetrySellSlippageBps
	if slippageBps < 5000 {
		slippageBps = 5000 // >= 50% floor per spec 4.J
	}

	solOut, minSolOut, err := curve.SellQuote(state, pos.AmountToken, slippageBps)
	if err != nil {
		return 0, 0, false, fmt.Errorf("compute sell quote: %w", err)
	}
	expectedSOL = float64(solOut) / curve.LamportsPerSOL

	accounts, err := txengine.ResolveSellAccounts(pos.TokenMint, pos.BondingCurvePDA, pos.AssociatedCurve, pos.Creator, m.wallet.Address())
	if err != nil {
		return 0, expectedSOL, false, fmt.Errorf("resolve sell accounts: %w", err)
	}

	priorityFee := txengine.EstimatePriorityFee(ctx, m.rpc, []string{pos.BondingCurvePDA}, txengine.FeePolicy{
		UseDynamicFee:  m.cfg.UseDynamicFee,
		Percentile:     m.cfg.FeePercentile,
		MinLamports:    m.cfg.MinFeeLamports,
		MaxLamports:    m.cfg.MaxFeeLamports,
		StaticLamports: m.cfg.StaticFeeLamports,
	})

	tradeID, tradeErr := m.db.RecordTradeIntent(&store.Trade{
		PositionID:  &pos.ID,
		Side:        "sell",
		TokenMint:   pos.TokenMint,
		AmountSOL:   expectedSOL,
		AmountToken: pos.AmountToken,
		TS:          time.Now().UnixMilli(),
		PoolID:      pos.PoolID,
		IntentTS:    time.Now().UnixMilli(),
	})
	if tradeErr != nil {
		log.Error().Err(tradeErr).Str("mint", pos.TokenMint).Msg("failed to record sell trade intent")
	}

	result, err := m.txe.Sell(ctx, txengine.SellRequest{
		Accounts:            accounts,
		TokensIn:            pos.AmountToken,
		MinSolOut:           minSolOut,
		PriorityFeeLamports: priorityFee,
	})
	if err != nil {
		if tradeErr == nil {
			if failErr := m.db.FailTrade(tradeID, err.Error()); failErr != nil {
				log.Error().Err(failErr).Str("mint", pos.TokenMint).Msg("failed to mark sell trade intent failed")
			}
		}
		return 0, expectedSOL, false, err
	}

	receivedSOL = float64(result.ActualSOLReceived) / curve.LamportsPerSOL
	if tradeErr == nil {
		if confirmErr := m.db.ConfirmTrade(tradeID, receivedSOL, pos.AmountToken, 0, result.Signature, time.Now().UnixMilli()); confirmErr != nil {
			log.Error().Err(confirmErr).Str("mint", pos.TokenMint).Msg("failed to confirm sell trade")
		}
	}

	return receivedSOL, expectedSOL, result.Verified, nil
}

// ExecutePartialSell sells a configured fraction of a still-open position
// without closing it, the supplemental partial-profit lever (spec.md's
// distillation has no equivalent; see DESIGN.md). Mirrors the teacher's
// own executePartialSell: cost basis (AmountSOL/IntendedSOL) is left
// untouched, so downstream PnL is still computed against the full
// original position.
func (m *Monitor) ExecutePartialSell(ctx context.Context, pos *store.Position, percent float64) error {
	partialTokens := uint64(float64(pos.AmountToken) * (percent / 100.0))
	if partialTokens == 0 {
		return nil
	}

	data, err := m.rpc.GetAccountInfo(ctx, pos.BondingCurvePDA, "confirmed")
	if err != nil {
		return fmt.Errorf("refetch bonding curve: %w", err)
	}
	state, err := curve.Decode(data)
	if err != nil {
		return fmt.Errorf("decode bonding curve: %w", err)
	}

	slippageBps := m.cfg.SellSlippageBps
	_, minSolOut, err := curve.SellQuote(state, partialTokens, slippageBps)
	if err != nil {
		return fmt.Errorf("compute partial sell quote: %w", err)
	}

	accounts, err := txengine.ResolveSellAccounts(pos.TokenMint, pos.BondingCurvePDA, pos.AssociatedCurve, pos.Creator, m.wallet.Address())
	if err != nil {
		return fmt.Errorf("resolve sell accounts: %w", err)
	}

	priorityFee := txengine.EstimatePriorityFee(ctx, m.rpc, []string{pos.BondingCurvePDA}, txengine.FeePolicy{
		UseDynamicFee:  m.cfg.UseDynamicFee,
		Percentile:     m.cfg.FeePercentile,
		MinLamports:    m.cfg.MinFeeLamports,
		MaxLamports:    m.cfg.MaxFeeLamports,
		StaticLamports: m.cfg.StaticFeeLamports,
	})

	_, err = m.txe.Sell(ctx, txengine.SellRequest{
		Accounts:            accounts,
		TokensIn:            partialTokens,
		MinSolOut:           minSolOut,
		PriorityFeeLamports: priorityFee,
	})
	return err
}
