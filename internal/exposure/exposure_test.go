package exposure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckBuy_RejectsWhenExposureCapWouldBeExceeded(t *testing.T) {
	m := New(1.0, 100, 0)
	m.SetWalletBalance(10)
	m.RecordOpen("Mint1", 0.9, "Pool1")

	assert.Equal(t, "exposure_cap", m.CheckBuy("Mint2", 0.2))
}

func TestCheckBuy_RejectsWhenHourlyRateLimitReached(t *testing.T) {
	m := New(100, 2, 0)
	m.SetWalletBalance(10)
	m.RecordOpen("Mint1", 0.1, "Pool1")
	m.RecordOpen("Mint2", 0.1, "Pool2")

	assert.Equal(t, "rate_limit", m.CheckBuy("Mint3", 0.1))
}

func TestCheckBuy_RejectsWhenBelowWalletBuffer(t *testing.T) {
	m := New(100, 100, 0.05)
	m.SetWalletBalance(0.1)

	assert.Equal(t, "wallet_buffer", m.CheckBuy("Mint1", 0.1))
}

func TestCheckBuy_RejectsWhenMintHasPendingBuy(t *testing.T) {
	m := New(100, 100, 0)
	m.SetWalletBalance(10)
	m.MarkPending("Mint1")

	assert.Equal(t, "pending_trade", m.CheckBuy("Mint1", 0.1))
}

func TestCheckBuy_PassesWhenAllGuardsSatisfied(t *testing.T) {
	m := New(1.0, 100, 0.01)
	m.SetWalletBalance(10)

	assert.Equal(t, "", m.CheckBuy("Mint1", 0.1))
}

func TestRecordClose_RemovesFromExposure(t *testing.T) {
	m := New(1.0, 100, 0)
	m.SetWalletBalance(10)
	m.RecordOpen("Mint1", 0.5, "Pool1")
	assert.Equal(t, 0.5, m.CurrentExposure())

	m.RecordClose("Mint1")
	assert.Equal(t, 0.0, m.CurrentExposure())
	assert.False(t, m.HasPosition("Mint1"))
}

func TestReleasePending_ClearsPendingMarker(t *testing.T) {
	m := New(100, 100, 0)
	m.SetWalletBalance(10)
	m.MarkPending("Mint1")
	m.ReleasePending("Mint1")

	assert.Equal(t, "", m.CheckBuy("Mint1", 0.1))
}
