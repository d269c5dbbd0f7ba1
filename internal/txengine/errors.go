package txengine

import (
	"strings"

	"pumpfun-trading-bot/internal/blockchain"
)

// IsBondingCurveComplete reports whether err signals that the token has
// graduated off the bonding curve (moved to Raydium) and can no longer be
// bought or sold through pump.fun, grounded on the pack's observed
// pump.fun program error patterns.
func IsBondingCurveComplete(err error) bool {
	if err == nil {
		return false
	}
	raw := err.Error()
	return strings.Contains(raw, "BondingCurveComplete") ||
		strings.Contains(raw, "0x1775") ||
		strings.Contains(raw, "6005")
}

// ClassifyError extends the ambient blockchain.ParseTxError translation
// with the pump.fun-specific bonding-curve-complete pattern, since that
// program error is invisible to the generic table.
func ClassifyError(err error) *blockchain.TxError {
	if err == nil {
		return nil
	}
	if IsBondingCurveComplete(err) {
		return &blockchain.TxError{
			Raw:     err.Error(),
			Message: "❌ BONDING CURVE COMPLETE - token graduated to Raydium, cannot trade via pump.fun",
			Action:  "Stop trying to sell through pump.fun; position requires manual handling",
		}
	}
	return blockchain.ParseTxError(err)
}
